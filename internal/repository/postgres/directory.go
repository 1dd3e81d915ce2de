package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/venue-app/pricingservice/internal/domain"
	"github.com/venue-app/pricingservice/internal/repository"
)

// Directory reads the venue catalogue tables
type Directory struct {
	db *pgxpool.Pool
}

var _ repository.EntityDirectory = (*Directory)(nil)

const subLocationQuery = `
SELECT s.id, l.id, c.id,
       COALESCE(s.timezone, l.timezone, ''),
       COALESCE(s.max_capacity, 0),
       s.default_hourly_rate::text,
       l.default_hourly_rate::text,
       c.default_hourly_rate::text
FROM sublocations s
JOIN locations l ON l.id = s.location_id
JOIN customers c ON c.id = l.customer_id
WHERE s.id = $1`

func (d *Directory) SubLocation(ctx context.Context, id string) (domain.SubLocationProfile, error) {
	defer observe("directory.sublocation", time.Now())

	var p domain.SubLocationProfile
	var subRate, locRate, customerRate *string
	err := d.db.QueryRow(ctx, subLocationQuery, id).Scan(
		&p.Chain.SubLocationID,
		&p.Chain.LocationID,
		&p.Chain.CustomerID,
		&p.Timezone,
		&p.Capacity,
		&subRate,
		&locRate,
		&customerRate,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.SubLocationProfile{}, repository.ErrNotFound
	}
	if err != nil {
		return domain.SubLocationProfile{}, fmt.Errorf("failed to load sub-location: %w", err)
	}

	if p.Defaults.SubLocation, err = parseRate(subRate); err != nil {
		return domain.SubLocationProfile{}, err
	}
	if p.Defaults.Location, err = parseRate(locRate); err != nil {
		return domain.SubLocationProfile{}, err
	}
	if p.Defaults.Customer, err = parseRate(customerRate); err != nil {
		return domain.SubLocationProfile{}, err
	}
	return p, nil
}

func parseRate(raw *string) (*decimal.Decimal, error) {
	if raw == nil {
		return nil, nil
	}
	d, err := decimal.NewFromString(*raw)
	if err != nil {
		return nil, fmt.Errorf("invalid default hourly rate %q: %w", *raw, err)
	}
	return &d, nil
}

const eventsQuery = `
SELECT id, start_date, end_date, grace_period_before_minutes, grace_period_after_minutes
FROM events
WHERE sub_location_id = $1
  AND start_date - make_interval(mins => grace_period_before_minutes) < $3
  AND end_date + make_interval(mins => grace_period_after_minutes) > $2
ORDER BY start_date, id`

func (d *Directory) Events(ctx context.Context, subLocationID string, start, end time.Time) ([]domain.EventWindow, error) {
	defer observe("directory.events", time.Now())

	rows, err := d.db.Query(ctx, eventsQuery, subLocationID, start.UTC(), end.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	events, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.EventWindow, error) {
		var e domain.EventWindow
		err := row.Scan(&e.EventID, &e.Start, &e.End, &e.GracePeriodBeforeMinutes, &e.GracePeriodAfterMinutes)
		return e, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read events: %w", err)
	}
	return events, nil
}
