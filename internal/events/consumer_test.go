package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/venue-app/pricingservice/internal/demand"
	"github.com/venue-app/pricingservice/internal/domain"
	"github.com/venue-app/pricingservice/internal/surge"
)

type fakeSession struct {
	ctx    context.Context
	mu     sync.Mutex
	marked []int64
}

func (s *fakeSession) Claims() map[string][]int32               { return nil }
func (s *fakeSession) MemberID() string                         { return "member-1" }
func (s *fakeSession) GenerationID() int32                      { return 1 }
func (s *fakeSession) MarkOffset(string, int32, int64, string)  {}
func (s *fakeSession) Commit()                                  {}
func (s *fakeSession) ResetOffset(string, int32, int64, string) {}
func (s *fakeSession) Context() context.Context                 { return s.ctx }
func (s *fakeSession) MarkMessage(msg *sarama.ConsumerMessage, _ string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.marked = append(s.marked, msg.Offset)
}

type fakeClaim struct {
	messages chan *sarama.ConsumerMessage
}

func (c *fakeClaim) Topic() string                            { return "booking.lifecycle" }
func (c *fakeClaim) Partition() int32                         { return 0 }
func (c *fakeClaim) InitialOffset() int64                     { return 0 }
func (c *fakeClaim) HighWaterMarkOffset() int64               { return 0 }
func (c *fakeClaim) Messages() <-chan *sarama.ConsumerMessage { return c.messages }

type recordingProcessor struct {
	mu     sync.Mutex
	events []domain.BookingEvent
	fail   int
}

func (p *recordingProcessor) Process(_ context.Context, ev domain.BookingEvent) ([]domain.DemandObservation, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := ev.Validate(); err != nil {
		return nil, demand.ErrMalformedEvent
	}
	if p.fail > 0 {
		p.fail--
		return nil, errors.New("history store unavailable")
	}
	p.events = append(p.events, ev)
	return nil, nil
}

func bookingMessage(t *testing.T, offset int64, ev domain.BookingEvent) *sarama.ConsumerMessage {
	t.Helper()
	raw, err := json.Marshal(ev)
	require.NoError(t, err)
	return &sarama.ConsumerMessage{Topic: "booking.lifecycle", Offset: offset, Key: []byte(ev.SubLocationID), Value: raw}
}

func validBooking(id string) domain.BookingEvent {
	start := time.Date(2025, 3, 10, 18, 0, 0, 0, time.UTC)
	return domain.BookingEvent{
		EventID:       id,
		Action:        domain.ActionCreated,
		SubLocationID: "sub-1",
		StartDate:     start,
		EndDate:       start.Add(time.Hour),
		Attendees:     10,
		Timestamp:     start,
	}
}

func TestConsumeClaim_SkipsMalformedAndContinues(t *testing.T) {
	proc := &recordingProcessor{fail: 1}
	c := NewConsumer(nil, []string{"booking.lifecycle"}, BookingHandler(proc), fastRetry, nil)

	claim := &fakeClaim{messages: make(chan *sarama.ConsumerMessage, 4)}
	claim.messages <- &sarama.ConsumerMessage{Topic: "booking.lifecycle", Offset: 1, Value: []byte("{not json")}
	claim.messages <- bookingMessage(t, 2, domain.BookingEvent{EventID: "b-0", Action: "CANCELLED", SubLocationID: "sub-1"})
	claim.messages <- bookingMessage(t, 3, validBooking("b-1"))
	close(claim.messages)

	sess := &fakeSession{ctx: context.Background()}
	require.NoError(t, c.ConsumeClaim(sess, claim))

	assert.Equal(t, []int64{1, 2, 3}, sess.marked)
	require.Len(t, proc.events, 1, "transient failure retried once")
	assert.Equal(t, "b-1", proc.events[0].EventID)
}

func TestConsumeClaim_StopsOnSessionEnd(t *testing.T) {
	proc := &recordingProcessor{}
	c := NewConsumer(nil, nil, BookingHandler(proc), fastRetry, nil)

	ctx, cancel := context.WithCancel(context.Background())
	claim := &fakeClaim{messages: make(chan *sarama.ConsumerMessage)}
	sess := &fakeSession{ctx: ctx}

	done := make(chan error, 1)
	go func() { done <- c.ConsumeClaim(sess, claim) }()

	claim.messages <- bookingMessage(t, 7, validBooking("b-1"))
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("ConsumeClaim did not return after cancellation")
	}
	assert.Equal(t, []int64{7}, sess.marked, "in-flight message finished before stopping")
}

type recordingUpdater struct {
	got []domain.DemandObservation
}

func (u *recordingUpdater) HandleObservation(_ context.Context, obs domain.DemandObservation) ([]*surge.Outcome, error) {
	u.got = append(u.got, obs)
	return nil, nil
}

func TestObservationHandler(t *testing.T) {
	u := &recordingUpdater{}
	h := ObservationHandler(u)

	raw, err := json.Marshal(observation())
	require.NoError(t, err)
	require.NoError(t, h.Handle(context.Background(), &sarama.ConsumerMessage{Value: raw}))
	require.Len(t, u.got, 1)
	assert.Equal(t, observation(), u.got[0])

	err = h.Handle(context.Background(), &sarama.ConsumerMessage{Value: []byte(`{"bookingsCount": 3}`)})
	assert.ErrorIs(t, err, ErrMalformedMessage)
	err = h.Handle(context.Background(), &sarama.ConsumerMessage{Value: []byte(`[]`)})
	assert.ErrorIs(t, err, ErrMalformedMessage)
	assert.Len(t, u.got, 1)
}
