package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/venue-app/pricingservice/internal/domain"
	"github.com/venue-app/pricingservice/internal/repository"
)

// SurgeConfigRepository stores surge configs as JSONB documents
type SurgeConfigRepository struct {
	db *pgxpool.Pool
}

var _ repository.SurgeConfigRepository = (*SurgeConfigRepository)(nil)

func buildSurgeConfigQuery(f repository.SurgeConfigFilter) (string, []any) {
	var b queryBuilder
	b.targets(f.Targets)
	if f.ActiveOnly {
		b.where("is_active")
	}
	if !f.At.IsZero() {
		at := b.arg(f.At)
		b.where(fmt.Sprintf("effective_from <= %s AND (effective_to IS NULL OR effective_to > %s)", at, at))
	}
	return b.sql("SELECT doc FROM surge_configs", "seq"), b.args
}

func (r *SurgeConfigRepository) Find(ctx context.Context, filter repository.SurgeConfigFilter) ([]domain.SurgeConfig, error) {
	defer observe("surge_configs.find", time.Now())

	query, args := buildSurgeConfigQuery(filter)
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query surge configs: %w", err)
	}
	docs, err := pgx.CollectRows(rows, pgx.RowTo[[]byte])
	if err != nil {
		return nil, fmt.Errorf("failed to read surge configs: %w", err)
	}

	out := make([]domain.SurgeConfig, 0, len(docs))
	for _, doc := range docs {
		var cfg domain.SurgeConfig
		if err := json.Unmarshal(doc, &cfg); err != nil {
			return nil, fmt.Errorf("failed to decode surge config: %w", err)
		}
		out = append(out, cfg)
	}
	return out, nil
}

func (r *SurgeConfigRepository) Get(ctx context.Context, id string) (domain.SurgeConfig, error) {
	defer observe("surge_configs.get", time.Now())

	var doc []byte
	err := r.db.QueryRow(ctx, `SELECT doc FROM surge_configs WHERE id = $1`, id).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.SurgeConfig{}, repository.ErrNotFound
	}
	if err != nil {
		return domain.SurgeConfig{}, fmt.Errorf("failed to get surge config: %w", err)
	}

	var cfg domain.SurgeConfig
	if err := json.Unmarshal(doc, &cfg); err != nil {
		return domain.SurgeConfig{}, fmt.Errorf("failed to decode surge config: %w", err)
	}
	return cfg, nil
}

func (r *SurgeConfigRepository) InsertOne(ctx context.Context, cfg domain.SurgeConfig) error {
	defer observe("surge_configs.insert", time.Now())

	doc, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode surge config: %w", err)
	}
	tag, err := r.db.Exec(ctx,
		`INSERT INTO surge_configs (id, level, entity_id, is_active, effective_from, effective_to, doc)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING`,
		cfg.ID, string(cfg.AppliesTo.Level), cfg.AppliesTo.EntityID, cfg.IsActive,
		cfg.EffectiveFrom.UTC(), cfg.EffectiveTo, doc)
	if err != nil {
		return fmt.Errorf("failed to insert surge config: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrAlreadyExists
	}
	return nil
}

func (r *SurgeConfigRepository) UpdateOne(ctx context.Context, id string, update repository.SurgeConfigUpdate) (domain.SurgeConfig, error) {
	defer observe("surge_configs.update", time.Now())

	var updated domain.SurgeConfig
	err := pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		var doc []byte
		err := tx.QueryRow(ctx, `SELECT doc FROM surge_configs WHERE id = $1 FOR UPDATE`, id).Scan(&doc)
		if errors.Is(err, pgx.ErrNoRows) {
			return repository.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to lock surge config: %w", err)
		}
		if err := json.Unmarshal(doc, &updated); err != nil {
			return fmt.Errorf("failed to decode surge config: %w", err)
		}

		update.Apply(&updated)
		next, err := json.Marshal(updated)
		if err != nil {
			return fmt.Errorf("failed to encode surge config: %w", err)
		}
		if _, err := tx.Exec(ctx, `UPDATE surge_configs SET doc = $2 WHERE id = $1`, id, next); err != nil {
			return fmt.Errorf("failed to update surge config: %w", err)
		}
		return nil
	})
	if err != nil {
		return domain.SurgeConfig{}, err
	}
	return updated, nil
}
