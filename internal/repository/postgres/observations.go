package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/venue-app/pricingservice/internal/domain"
	"github.com/venue-app/pricingservice/internal/repository"
)

// ObservationRepository is the append-only demand history table
type ObservationRepository struct {
	db *pgxpool.Pool
}

var _ repository.ObservationRepository = (*ObservationRepository)(nil)

func (r *ObservationRepository) Append(ctx context.Context, obs domain.DemandObservation) error {
	defer observe("observations.append", time.Now())

	doc, err := json.Marshal(obs)
	if err != nil {
		return fmt.Errorf("failed to encode demand observation: %w", err)
	}
	// Redelivered observations keep their first copy.
	_, err = r.db.Exec(ctx,
		`INSERT INTO demand_observations (id, sub_location_id, hour_start, doc)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO NOTHING`,
		obs.ID, obs.SubLocationID, obs.HourStart.UTC(), doc)
	if err != nil {
		return fmt.Errorf("failed to append demand observation: %w", err)
	}
	return nil
}

func buildObservationQuery(f repository.ObservationFilter) (string, []any) {
	var b queryBuilder
	if f.SubLocationID != "" {
		b.where("sub_location_id = " + b.arg(f.SubLocationID))
	}
	if !f.Since.IsZero() {
		b.where("hour_start >= " + b.arg(f.Since))
	}
	if !f.Until.IsZero() {
		b.where("hour_start < " + b.arg(f.Until))
	}
	return b.sql("SELECT doc FROM demand_observations", "hour_start, seq"), b.args
}

func (r *ObservationRepository) Find(ctx context.Context, filter repository.ObservationFilter) ([]domain.DemandObservation, error) {
	defer observe("observations.find", time.Now())

	query, args := buildObservationQuery(filter)
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query demand observations: %w", err)
	}
	docs, err := pgx.CollectRows(rows, pgx.RowTo[[]byte])
	if err != nil {
		return nil, fmt.Errorf("failed to read demand observations: %w", err)
	}

	out := make([]domain.DemandObservation, 0, len(docs))
	for _, doc := range docs {
		var obs domain.DemandObservation
		if err := json.Unmarshal(doc, &obs); err != nil {
			return nil, fmt.Errorf("failed to decode demand observation: %w", err)
		}
		out = append(out, obs)
	}
	return out, nil
}
