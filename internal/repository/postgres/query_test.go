package postgres

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/venue-app/pricingservice/internal/domain"
	"github.com/venue-app/pricingservice/internal/repository"
)

func TestBuildRuleQuery(t *testing.T) {
	from := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	to := from.Add(2 * time.Hour)

	t.Run("no filter", func(t *testing.T) {
		query, args := buildRuleQuery(repository.RuleFilter{})
		assert.Equal(t, "SELECT doc FROM pricing_rules ORDER BY seq", query)
		assert.Empty(t, args)
	})

	t.Run("pricing candidates", func(t *testing.T) {
		query, args := buildRuleQuery(repository.RuleFilter{
			Targets: []domain.AppliesTo{
				{Level: domain.LevelSubLocation, EntityID: "sub-1"},
				{Level: domain.LevelLocation, EntityID: "loc-1"},
			},
			From:         from,
			To:           to,
			EligibleOnly: true,
		})
		assert.Equal(t, "SELECT doc FROM pricing_rules WHERE "+
			"((level = $1 AND entity_id = $2) OR (level = $3 AND entity_id = $4)) AND "+
			"effective_from <= $5 AND (effective_to IS NULL OR effective_to >= $6) AND "+
			"is_active AND approval_status = $7 ORDER BY seq", query)
		assert.Equal(t, []any{"SUBLOCATION", "sub-1", "LOCATION", "loc-1", to, from, "APPROVED"}, args)
	})

	t.Run("supersession lookup", func(t *testing.T) {
		query, args := buildRuleQuery(repository.RuleFilter{
			SurgeConfigID: "cfg-1",
			Statuses:      []domain.ApprovalStatus{domain.StatusDraft, domain.StatusApproved},
			EndsAfter:     from,
		})
		assert.Equal(t, "SELECT doc FROM pricing_rules WHERE surge_config_id = $1 AND "+
			"approval_status = ANY($2) AND (effective_to IS NULL OR effective_to > $3) ORDER BY seq", query)
		assert.Equal(t, []any{"cfg-1", []string{"DRAFT", "APPROVED"}, from}, args)
	})
}

func TestBuildSurgeConfigQuery(t *testing.T) {
	at := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	query, args := buildSurgeConfigQuery(repository.SurgeConfigFilter{
		Targets:    []domain.AppliesTo{{Level: domain.LevelSubLocation, EntityID: "sub-1"}},
		ActiveOnly: true,
		At:         at,
	})
	assert.Equal(t, "SELECT doc FROM surge_configs WHERE (level = $1 AND entity_id = $2) AND is_active AND "+
		"effective_from <= $3 AND (effective_to IS NULL OR effective_to > $3) ORDER BY seq", query)
	assert.Equal(t, []any{"SUBLOCATION", "sub-1", at}, args)
}

func TestBuildObservationQuery(t *testing.T) {
	since := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	query, args := buildObservationQuery(repository.ObservationFilter{SubLocationID: "sub-1", Since: since})
	assert.Equal(t, "SELECT doc FROM demand_observations WHERE sub_location_id = $1 AND hour_start >= $2 ORDER BY hour_start, seq", query)
	assert.Equal(t, []any{"sub-1", since}, args)
}
