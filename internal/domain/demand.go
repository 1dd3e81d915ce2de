package domain

import (
	"fmt"
	"strings"
	"time"
)

// BookingAction is the lifecycle transition carried by a booking event.
type BookingAction string

const (
	ActionCreated BookingAction = "CREATED"
	ActionUpdated BookingAction = "UPDATED"
	ActionDeleted BookingAction = "DELETED"
)

// BookingEvent is a booking lifecycle message as consumed from the event log.
type BookingEvent struct {
	EventID       string        `json:"eventId"`
	Action        BookingAction `json:"action"`
	SubLocationID string        `json:"subLocationId"`
	LocationID    string        `json:"locationId,omitempty"`
	StartDate     time.Time     `json:"startDate"`
	EndDate       time.Time     `json:"endDate"`
	Attendees     int           `json:"attendees,omitempty"`
	Timestamp     time.Time     `json:"timestamp"`
}

// Validate rejects events the aggregator cannot place in a bucket.
func (e BookingEvent) Validate() error {
	if strings.TrimSpace(e.EventID) == "" {
		return fmt.Errorf("eventId is required")
	}
	if strings.TrimSpace(e.SubLocationID) == "" {
		return fmt.Errorf("subLocationId is required")
	}
	switch e.Action {
	case ActionCreated, ActionUpdated, ActionDeleted:
	default:
		return fmt.Errorf("unknown action %q", e.Action)
	}
	if e.StartDate.IsZero() {
		return fmt.Errorf("startDate is required")
	}
	if e.Action != ActionDeleted && !e.EndDate.After(e.StartDate) {
		return fmt.Errorf("endDate must be after startDate")
	}
	if e.Attendees < 0 {
		return fmt.Errorf("attendees must be non-negative")
	}
	return nil
}

// HourStart is the UTC hour bucket the event belongs to.
func (e BookingEvent) HourStart() time.Time {
	return e.StartDate.UTC().Truncate(time.Hour)
}

// DemandObservation is one smoothed demand reading for a sub-location hour.
// Observations are append-only.
type DemandObservation struct {
	ID                    string    `json:"id"`
	SubLocationID         string    `json:"subLocationId"`
	LocationID            string    `json:"locationId,omitempty"`
	HourStart             time.Time `json:"hourStart"`
	HourEnd               time.Time `json:"hourEnd"`
	BookingsCount         int       `json:"bookingsCount"`
	TotalAttendees        int       `json:"totalAttendees"`
	AvailableCapacity     int       `json:"availableCapacity"`
	DemandPressure        float64   `json:"demandPressure"`
	HistoricalAvgPressure float64   `json:"historicalAvgPressure"`
	PressureDelta         float64   `json:"pressureDelta"`
	EmittedAt             time.Time `json:"emittedAt"`
}
