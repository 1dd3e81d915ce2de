package pricing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/venue-app/pricingservice/internal/domain"
	"github.com/venue-app/pricingservice/internal/repository/memory"
)

func newQuoteService(t *testing.T) *Service {
	t.Helper()

	dir := memory.NewDirectory()
	dir.PutSubLocation(domain.SubLocationProfile{Chain: chain, Timezone: "UTC"})
	dir.PutSubLocation(domain.SubLocationProfile{
		Chain:    domain.EntityChain{CustomerID: "cust-1", LocationID: "loc-1", SubLocationID: "sub-2"},
		Defaults: domain.DefaultRates{Location: dec(80)},
	})
	dir.PutEvent("sub-1", domain.EventWindow{
		EventID:                  "evt-1",
		Start:                    at(10, 0),
		End:                      at(14, 0),
		GracePeriodBeforeMinutes: 60,
	})

	draft := timing("sub-draft", domain.LevelSubLocation, "sub-1", 99, window("00:00", "00:00", 500))
	draft.ApprovalStatus = domain.StatusDraft
	draft.IsActive = false

	rules := memory.NewRuleStore(
		timing("sub-all-day", domain.LevelSubLocation, "sub-1", 1, window("00:00", "00:00", 100)),
		draft,
		timing("other-sub", domain.LevelSubLocation, "sub-3", 50, window("00:00", "00:00", 999)),
		timing("evt-grace", domain.LevelEvent, "evt-1", 1, window("09:00", "10:00", 0)),
		surgeRule("sub-surge", domain.LevelSubLocation, "sub-1", domain.SurgePriorityOffset+1, 1.5),
	)
	return NewService(NewEngine(nil), rules, dir, nil)
}

func TestService_Quote(t *testing.T) {
	svc := newQuoteService(t)
	noSurge := false

	tests := []struct {
		name    string
		req     QuoteRequest
		prices  []string
		winners []string
		total   string
	}{
		{
			name:    "surge applies by default",
			req:     QuoteRequest{SubLocationID: "sub-1", StartTime: at(15, 0), EndTime: at(17, 0)},
			prices:  []string{"150.00", "150.00"},
			winners: []string{"sub-all-day", "sub-all-day"},
			total:   "300.00",
		},
		{
			name:    "surge can be excluded",
			req:     QuoteRequest{SubLocationID: "sub-1", StartTime: at(15, 0), EndTime: at(17, 0), IncludeSurge: &noSurge},
			prices:  []string{"100.00", "100.00"},
			winners: []string{"sub-all-day", "sub-all-day"},
			total:   "200.00",
		},
		{
			name: "event booking gets the free grace hour",
			req: QuoteRequest{
				SubLocationID: "sub-1", StartTime: at(9, 0), EndTime: at(11, 0),
				EventID: "evt-1", IsEventBooking: true, IncludeSurge: &noSurge,
			},
			prices:  []string{"0.00", "100.00"},
			winners: []string{"evt-grace", "sub-all-day"},
			total:   "100.00",
		},
		{
			name:    "walk-in during grace is not free",
			req:     QuoteRequest{SubLocationID: "sub-1", StartTime: at(9, 0), EndTime: at(10, 0), IncludeSurge: &noSurge},
			prices:  []string{"100.00"},
			winners: []string{"sub-all-day"},
			total:   "100.00",
		},
		{
			name:    "ancestor default without rules",
			req:     QuoteRequest{SubLocationID: "sub-2", StartTime: at(9, 0), EndTime: at(10, 30)},
			prices:  []string{"80.00", "80.00"},
			winners: []string{"", ""},
			total:   "160.00",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			quote, err := svc.Quote(context.Background(), tt.req)
			require.NoError(t, err)
			assert.Equal(t, tt.prices, prices(quote))
			assert.Equal(t, tt.winners, winners(quote))
			assert.Equal(t, tt.total, quote.TotalPrice.StringFixed(2))
			assert.Equal(t, len(tt.prices), quote.TotalHours)
		})
	}
}

func TestService_QuoteOnlyLoadsEligibleChainRules(t *testing.T) {
	svc := newQuoteService(t)

	quote, err := svc.Quote(context.Background(), QuoteRequest{SubLocationID: "sub-1", StartTime: at(15, 0), EndTime: at(16, 0)})
	require.NoError(t, err)

	var seen []string
	for _, c := range quote.DecisionLog[0].Candidates {
		seen = append(seen, c.ID)
	}
	for _, r := range quote.DecisionLog[0].Rejected {
		seen = append(seen, r.RuleID)
	}
	assert.NotContains(t, seen, "sub-draft")
	assert.NotContains(t, seen, "other-sub")
}

func TestService_QuoteErrors(t *testing.T) {
	svc := newQuoteService(t)

	tests := []struct {
		name string
		req  QuoteRequest
		code string
	}{
		{"missing sub-location", QuoteRequest{StartTime: at(9, 0), EndTime: at(10, 0)}, domain.ErrCodeInvalidInput},
		{"inverted range checked before lookup", QuoteRequest{SubLocationID: "nope", StartTime: at(10, 0), EndTime: at(9, 0)}, domain.ErrCodeInvalidInput},
		{"empty range", QuoteRequest{SubLocationID: "sub-1", StartTime: at(10, 0), EndTime: at(10, 0)}, domain.ErrCodeInvalidInput},
		{"unknown timezone", QuoteRequest{SubLocationID: "sub-1", StartTime: at(9, 0), EndTime: at(10, 0), Timezone: "Mars/Olympus"}, domain.ErrCodeInvalidInput},
		{"unknown sub-location", QuoteRequest{SubLocationID: "nope", StartTime: at(9, 0), EndTime: at(10, 0)}, domain.ErrCodeNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Quote(context.Background(), tt.req)
			require.Error(t, err)
			assert.True(t, domain.IsCode(err, tt.code), err.Error())
		})
	}
}
