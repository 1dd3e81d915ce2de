package domain

import (
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var created = time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)

func envelope(id string, spec RuleSpec) PricingRule {
	end := created.AddDate(0, 3, 0)
	return PricingRule{
		ID:                 id,
		Name:               "rule " + id,
		AppliesTo:          AppliesTo{Level: LevelSubLocation, EntityID: "sub-1"},
		Priority:           7,
		ConflictResolution: ConflictHighestPrice,
		EffectiveFrom:      created,
		EffectiveTo:        &end,
		ApprovalStatus:     StatusApproved,
		IsActive:           true,
		CreatedAt:          created,
		UpdatedAt:          created.Add(time.Hour),
		Spec:               spec,
	}
}

func TestPricingRule_JSONKeepsKind(t *testing.T) {
	rules := []PricingRule{
		envelope("timing", TimingSpec{Windows: []TimeWindow{
			{StartTime: "22:00", EndTime: "02:00", Value: 80, DaysOfWeek: []time.Weekday{time.Friday}},
		}}),
		envelope("duration", DurationSpec{Tiers: []DurationTier{
			{MinHours: 0, MaxHours: 4, PricePerHour: 50},
			{MinHours: 4, PricePerHour: 40},
		}}),
		envelope("surge", SurgeSpec{Windows: []TimeWindow{{StartTime: "18:00", EndTime: "24:00", Value: 1.4}}}),
	}
	rules[2].SurgeConfigID = "cfg-1"
	rules[2].EffectiveTo = nil

	for _, rule := range rules {
		t.Run(rule.ID, func(t *testing.T) {
			raw, err := json.Marshal(rule)
			require.NoError(t, err)

			var doc map[string]any
			require.NoError(t, json.Unmarshal(raw, &doc))
			assert.Equal(t, string(rule.Kind()), doc["kind"])

			var decoded PricingRule
			require.NoError(t, json.Unmarshal(raw, &decoded))
			assert.Equal(t, rule, decoded)
		})
	}
}

func TestPricingRule_UnmarshalRejectsUnknownKind(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"unknown kind", `{"id":"r-1","kind":"FLAT_FEE","spec":{}}`},
		{"missing kind", `{"id":"r-1","spec":{"timeWindows":[]}}`},
		{"spec of wrong shape", `{"id":"r-1","kind":"TIMING_BASED","spec":{"timeWindows":"all day"}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var r PricingRule
			assert.Error(t, json.Unmarshal([]byte(tt.body), &r))
		})
	}
}

func TestPricingRule_Validate(t *testing.T) {
	valid := envelope("r-1", TimingSpec{Windows: []TimeWindow{{StartTime: "09:00", EndTime: "17:00", Value: 10}}})
	require.NoError(t, valid.Validate())

	before := created.Add(-time.Hour)
	tests := []struct {
		name   string
		mutate func(*PricingRule)
	}{
		{"no id", func(r *PricingRule) { r.ID = "" }},
		{"unknown level", func(r *PricingRule) { r.AppliesTo.Level = "REGION" }},
		{"inverted range", func(r *PricingRule) { r.EffectiveTo = &before }},
		{"no spec", func(r *PricingRule) { r.Spec = nil }},
		{"no windows", func(r *PricingRule) { r.Spec = TimingSpec{} }},
		{"bad clock", func(r *PricingRule) {
			r.Spec = TimingSpec{Windows: []TimeWindow{{StartTime: "9", EndTime: "17:00"}}}
		}},
		{"no tiers", func(r *PricingRule) { r.Spec = DurationSpec{} }},
		{"inverted tier", func(r *PricingRule) {
			r.Spec = DurationSpec{Tiers: []DurationTier{{MinHours: 4, MaxHours: 2}}}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := valid
			tt.mutate(&r)
			assert.Error(t, r.Validate())
		})
	}
}

func TestParseClock(t *testing.T) {
	tests := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{"00:00", 0, false},
		{"09:30", 570, false},
		{"9:30", 570, false},
		{"23:59", 1439, false},
		{"24:00", 1440, false},
		{"24:01", 0, true},
		{"25:00", 0, true},
		{"12:60", 0, true},
		{"9:5", 0, true},
		{"0930", 0, true},
		{"", 0, true},
		{"ab:cd", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseClock(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			if tt.want < minutesPerDay {
				assert.Equal(t, fmt.Sprintf("%02d:%02d", tt.want/60, tt.want%60), FormatClock(got))
			}
		})
	}
}

func TestTimeWindow_Covers(t *testing.T) {
	// Friday 2025-03-14
	at := func(day, hour, minute int) time.Time {
		return time.Date(2025, 3, day, hour, minute, 0, 0, time.UTC)
	}
	overnightFriday := TimeWindow{StartTime: "22:00", EndTime: "02:00", DaysOfWeek: []time.Weekday{time.Friday}}

	tests := []struct {
		name   string
		window TimeWindow
		at     time.Time
		want   bool
	}{
		{"inside day window", TimeWindow{StartTime: "09:00", EndTime: "17:00"}, at(14, 9, 0), true},
		{"end is exclusive", TimeWindow{StartTime: "09:00", EndTime: "17:00"}, at(14, 17, 0), false},
		{"runs to midnight", TimeWindow{StartTime: "18:00", EndTime: "24:00"}, at(14, 23, 59), true},
		{"equal bounds cover the day", TimeWindow{StartTime: "00:00", EndTime: "00:00"}, at(14, 3, 0), true},
		{"wrap before midnight", overnightFriday, at(14, 23, 0), true},
		{"wrap after midnight uses opening day", overnightFriday, at(15, 1, 0), true},
		{"wrap on the wrong day", overnightFriday, at(14, 1, 0), false},
		{"wrap gap", overnightFriday, at(14, 12, 0), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.window.Covers(tt.at)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := TimeWindow{StartTime: "xx", EndTime: "10:00"}.Covers(at(14, 9, 0))
	assert.Error(t, err)
}

func TestHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, HTTPStatus(NewInvalidInputError("bad", "")))
	assert.Equal(t, http.StatusNotFound, HTTPStatus(NewNotFoundError("rule", "r-1")))
	assert.Equal(t, http.StatusConflict, HTTPStatus(NewInvalidStateError("no", "")))
	assert.Equal(t, http.StatusConflict, HTTPStatus(fmt.Errorf("wrapped: %w", NewAlreadyExistsError("rule", "r-1"))))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(NewInternalError("boom")))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(fmt.Errorf("plain")))
}
