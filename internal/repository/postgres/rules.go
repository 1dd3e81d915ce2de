package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/venue-app/pricingservice/internal/domain"
	"github.com/venue-app/pricingservice/internal/repository"
)

// RuleRepository stores pricing rules as JSONB documents with the filterable
// fields lifted into columns
type RuleRepository struct {
	db *pgxpool.Pool
}

var _ repository.RuleRepository = (*RuleRepository)(nil)

// queryBuilder accumulates WHERE conditions with positional arguments.
type queryBuilder struct {
	conds []string
	args  []any
}

func (b *queryBuilder) arg(v any) string {
	b.args = append(b.args, v)
	return fmt.Sprintf("$%d", len(b.args))
}

func (b *queryBuilder) where(cond string) {
	b.conds = append(b.conds, cond)
}

func (b *queryBuilder) targets(targets []domain.AppliesTo) {
	if len(targets) == 0 {
		return
	}
	parts := make([]string, 0, len(targets))
	for _, t := range targets {
		parts = append(parts, fmt.Sprintf("(level = %s AND entity_id = %s)", b.arg(string(t.Level)), b.arg(t.EntityID)))
	}
	b.where("(" + strings.Join(parts, " OR ") + ")")
}

func (b *queryBuilder) sql(base, order string) string {
	q := base
	if len(b.conds) > 0 {
		q += " WHERE " + strings.Join(b.conds, " AND ")
	}
	return q + " ORDER BY " + order
}

func buildRuleQuery(f repository.RuleFilter) (string, []any) {
	var b queryBuilder
	b.targets(f.Targets)
	if !f.From.IsZero() && !f.To.IsZero() {
		b.where(fmt.Sprintf("effective_from <= %s AND (effective_to IS NULL OR effective_to >= %s)", b.arg(f.To), b.arg(f.From)))
	}
	if f.EligibleOnly {
		b.where(fmt.Sprintf("is_active AND approval_status = %s", b.arg(string(domain.StatusApproved))))
	}
	if f.SurgeConfigID != "" {
		b.where("surge_config_id = " + b.arg(f.SurgeConfigID))
	}
	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, s := range f.Statuses {
			statuses[i] = string(s)
		}
		b.where("approval_status = ANY(" + b.arg(statuses) + ")")
	}
	if !f.EndsAfter.IsZero() {
		b.where(fmt.Sprintf("(effective_to IS NULL OR effective_to > %s)", b.arg(f.EndsAfter)))
	}
	return b.sql("SELECT doc FROM pricing_rules", "seq"), b.args
}

func (r *RuleRepository) Find(ctx context.Context, filter repository.RuleFilter) ([]domain.PricingRule, error) {
	defer observe("rules.find", time.Now())

	query, args := buildRuleQuery(filter)
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query pricing rules: %w", err)
	}
	docs, err := pgx.CollectRows(rows, pgx.RowTo[[]byte])
	if err != nil {
		return nil, fmt.Errorf("failed to read pricing rules: %w", err)
	}

	out := make([]domain.PricingRule, 0, len(docs))
	for _, doc := range docs {
		var rule domain.PricingRule
		if err := json.Unmarshal(doc, &rule); err != nil {
			return nil, fmt.Errorf("failed to decode pricing rule: %w", err)
		}
		out = append(out, rule)
	}
	return out, nil
}

func (r *RuleRepository) Get(ctx context.Context, id string) (domain.PricingRule, error) {
	defer observe("rules.get", time.Now())

	var doc []byte
	err := r.db.QueryRow(ctx, `SELECT doc FROM pricing_rules WHERE id = $1`, id).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.PricingRule{}, repository.ErrNotFound
	}
	if err != nil {
		return domain.PricingRule{}, fmt.Errorf("failed to get pricing rule: %w", err)
	}

	var rule domain.PricingRule
	if err := json.Unmarshal(doc, &rule); err != nil {
		return domain.PricingRule{}, fmt.Errorf("failed to decode pricing rule: %w", err)
	}
	return rule, nil
}

func (r *RuleRepository) InsertOne(ctx context.Context, rule domain.PricingRule) error {
	defer observe("rules.insert", time.Now())

	doc, err := json.Marshal(rule)
	if err != nil {
		return fmt.Errorf("failed to encode pricing rule: %w", err)
	}

	tag, err := r.db.Exec(ctx,
		`INSERT INTO pricing_rules (id, level, entity_id, surge_config_id, approval_status, is_active, effective_from, effective_to, doc)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING`,
		rule.ID,
		string(rule.AppliesTo.Level),
		rule.AppliesTo.EntityID,
		rule.SurgeConfigID,
		string(rule.ApprovalStatus),
		rule.IsActive,
		rule.EffectiveFrom.UTC(),
		rule.EffectiveTo,
		doc,
	)
	if err != nil {
		return fmt.Errorf("failed to insert pricing rule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrAlreadyExists
	}
	return nil
}

// UpdateOne applies the update under a row lock so concurrent transitions
// on the same rule serialize.
func (r *RuleRepository) UpdateOne(ctx context.Context, id string, update repository.RuleUpdate) (domain.PricingRule, error) {
	defer observe("rules.update", time.Now())

	var updated domain.PricingRule
	err := pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		var doc []byte
		err := tx.QueryRow(ctx, `SELECT doc FROM pricing_rules WHERE id = $1 FOR UPDATE`, id).Scan(&doc)
		if errors.Is(err, pgx.ErrNoRows) {
			return repository.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to lock pricing rule: %w", err)
		}

		if err := json.Unmarshal(doc, &updated); err != nil {
			return fmt.Errorf("failed to decode pricing rule: %w", err)
		}
		if err := update.Apply(&updated); err != nil {
			return err
		}
		next, err := json.Marshal(updated)
		if err != nil {
			return fmt.Errorf("failed to encode pricing rule: %w", err)
		}

		_, err = tx.Exec(ctx,
			`UPDATE pricing_rules SET approval_status = $2, is_active = $3, effective_to = $4, doc = $5 WHERE id = $1`,
			id, string(updated.ApprovalStatus), updated.IsActive, updated.EffectiveTo, next)
		if err != nil {
			return fmt.Errorf("failed to update pricing rule: %w", err)
		}
		return nil
	})
	if err != nil {
		return domain.PricingRule{}, err
	}
	return updated, nil
}
