package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestKafkaNotifierBookingConfirmed(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	n := NewKafkaNotifier(producer, "prod.", "test", quietLogger())

	bookingID := uuid.New()
	occurred := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	producer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		if msg.Topic != "prod.booking.events.v1" {
			return errors.New("unexpected topic " + msg.Topic)
		}
		key, _ := msg.Key.Encode()
		if string(key) != bookingID.String() {
			return errors.New("unexpected key")
		}
		raw, _ := msg.Value.Encode()
		var evt map[string]interface{}
		if err := json.Unmarshal(raw, &evt); err != nil {
			return err
		}
		if evt["type"] != "booking.confirmed.v1" || evt["specversion"] != "1.0" {
			return errors.New("unexpected envelope")
		}
		data := evt["data"].(map[string]interface{})
		if data["booking_number"] != "TM-20260301-ABCDEF" {
			return errors.New("unexpected data")
		}
		return nil
	})

	err := n.BookingConfirmed(context.Background(), BookingEvent{
		BookingID:     bookingID,
		BookingNumber: "TM-20260301-ABCDEF",
		TotalPrice:    8900,
		Currency:      "USD",
		OccurredAt:    occurred,
	})
	require.NoError(t, err)
	require.NoError(t, n.Close())
}

func TestKafkaNotifierPublishFailure(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	n := NewKafkaNotifier(producer, "", "", quietLogger())

	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	err := n.PayoutProcessed(context.Background(), PayoutEvent{PayoutID: uuid.New(), VendorID: uuid.New(), Amount: 5000})
	assert.ErrorIs(t, err, sarama.ErrOutOfBrokers)
	require.NoError(t, n.Close())
}

func TestTopicFor(t *testing.T) {
	n := NewKafkaNotifier(nil, "", "", quietLogger())
	assert.Equal(t, "booking.events.v1", n.TopicFor(EventBookingCancelled))
	assert.Equal(t, "payout.events.v1", n.TopicFor(EventPayoutProcessed))
}

func TestLogNotifier(t *testing.T) {
	n := NewLogNotifier(quietLogger())
	assert.NoError(t, n.BookingConfirmed(context.Background(), BookingEvent{}))
	assert.NoError(t, n.BookingCancelled(context.Background(), BookingEvent{}))
	assert.NoError(t, n.PayoutProcessed(context.Background(), PayoutEvent{}))
}
