package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/venue-app/pricingservice/internal/domain"
	"github.com/venue-app/pricingservice/internal/retry"
)

var fastRetry = retry.Config{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, BackoffFactor: 1}

func observation() domain.DemandObservation {
	hour := time.Date(2025, 3, 10, 18, 0, 0, 0, time.UTC)
	return domain.DemandObservation{
		ID:                    "obs-1",
		SubLocationID:         "sub-1",
		HourStart:             hour,
		HourEnd:               hour.Add(time.Hour),
		BookingsCount:         4,
		AvailableCapacity:     50,
		DemandPressure:        8,
		HistoricalAvgPressure: 1,
		PressureDelta:         7,
		EmittedAt:             hour.Add(-time.Hour),
	}
}

func TestKafkaPublisher_PublishObservation(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		var got domain.DemandObservation
		if err := json.Unmarshal(val, &got); err != nil {
			return err
		}
		if got.SubLocationID != "sub-1" || got.BookingsCount != 4 {
			return errors.New("unexpected payload")
		}
		return nil
	})

	p := NewKafkaPublisher(producer, "demand.observations", fastRetry, nil)
	require.NoError(t, p.PublishObservation(context.Background(), observation()))
	require.NoError(t, p.Close())
}

func TestKafkaPublisher_RetriesTransientFailure(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageAndFail(sarama.ErrNotLeaderForPartition)
	producer.ExpectSendMessageAndSucceed()

	p := NewKafkaPublisher(producer, "demand.observations", fastRetry, nil)
	require.NoError(t, p.PublishObservation(context.Background(), observation()))
	require.NoError(t, p.Close())
}

func TestKafkaPublisher_GivesUp(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	for i := 0; i < fastRetry.MaxAttempts; i++ {
		producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)
	}

	p := NewKafkaPublisher(producer, "demand.observations", fastRetry, nil)
	err := p.PublishObservation(context.Background(), observation())
	assert.ErrorIs(t, err, sarama.ErrOutOfBrokers)
	require.NoError(t, p.Close())
}
