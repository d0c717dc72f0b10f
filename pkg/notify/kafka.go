package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// NewSyncProducer builds an idempotent producer that waits for all in-sync replicas
func NewSyncProducer(brokers []string, clientID string) (sarama.SyncProducer, error) {
	cfg := sarama.NewConfig()
	if clientID != "" {
		cfg.ClientID = clientID
	}
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Idempotent = true
	cfg.Producer.Return.Successes = true
	cfg.Producer.Retry.Max = 5
	cfg.Net.MaxOpenRequests = 1

	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}
	return producer, nil
}

// KafkaNotifier publishes events as CloudEvents JSON, one topic per aggregate
// ("<prefix>booking.events.v1", "<prefix>payout.events.v1"), keyed by aggregate id
type KafkaNotifier struct {
	producer    sarama.SyncProducer
	topicPrefix string
	source      string
	logger      *logrus.Logger
	now         func() time.Time
}

// NewKafkaNotifier creates a new KafkaNotifier
func NewKafkaNotifier(producer sarama.SyncProducer, topicPrefix, source string, logger *logrus.Logger) *KafkaNotifier {
	if source == "" {
		source = "marketplace-backend"
	}
	return &KafkaNotifier{
		producer:    producer,
		topicPrefix: topicPrefix,
		source:      source,
		logger:      logger,
		now:         time.Now,
	}
}

func (n *KafkaNotifier) BookingConfirmed(ctx context.Context, e BookingEvent) error {
	return n.publish(EventBookingConfirmed, e.BookingID.String(), e.OccurredAt, e)
}

func (n *KafkaNotifier) BookingCancelled(ctx context.Context, e BookingEvent) error {
	return n.publish(EventBookingCancelled, e.BookingID.String(), e.OccurredAt, e)
}

func (n *KafkaNotifier) PayoutProcessed(ctx context.Context, e PayoutEvent) error {
	return n.publish(EventPayoutProcessed, e.VendorID.String(), e.OccurredAt, e)
}

// Close flushes and closes the producer
func (n *KafkaNotifier) Close() error {
	if n.producer == nil {
		return nil
	}
	return n.producer.Close()
}

// TopicFor returns the topic an event name is published to
func (n *KafkaNotifier) TopicFor(name string) string {
	base := name
	if idx := strings.IndexRune(name, '.'); idx > 0 {
		base = name[:idx]
	}
	return n.topicPrefix + base + ".events.v1"
}

func (n *KafkaNotifier) publish(name, key string, occurredAt time.Time, data interface{}) error {
	if occurredAt.IsZero() {
		occurredAt = n.now()
	}
	evt := map[string]interface{}{
		"specversion":     "1.0",
		"id":              uuid.NewString(),
		"type":            name + ".v1",
		"source":          n.source,
		"subject":         key,
		"time":            occurredAt.UTC().Format(time.RFC3339Nano),
		"datacontenttype": "application/json",
		"data":            data,
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", name, err)
	}

	topic := n.TopicFor(name)
	msg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(payload),
		Headers: []sarama.RecordHeader{
			{Key: []byte("content-type"), Value: []byte("application/cloudevents+json")},
			{Key: []byte("ce-type"), Value: []byte(name + ".v1")},
		},
	}

	partition, offset, err := n.producer.SendMessage(msg)
	if err != nil {
		n.logger.WithError(err).WithFields(logrus.Fields{
			"event": name,
			"topic": topic,
			"key":   key,
		}).Error("Failed to publish event")
		return fmt.Errorf("failed to publish %s: %w", name, err)
	}

	n.logger.WithFields(logrus.Fields{
		"event":     name,
		"topic":     topic,
		"partition": partition,
		"offset":    offset,
	}).Debug("Event published")
	return nil
}
