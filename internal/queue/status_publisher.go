package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
)

// StatusPublisher emits one event per resolved dispatch attempt: the entry's
// terminal status for that attempt, the provider call id on success, or the
// error kind and message on failure. Events are keyed by owner so a consumer
// sees one owner's attempts in dispatch order. Delivery is best effort; the
// entry row stays the source of truth.
type StatusPublisher struct {
	writer messageWriter
	now    func() time.Time
}

// NewStatusPublisher constructs a status publisher for the given topic.
func NewStatusPublisher(k *Kafka, topic string) *StatusPublisher {
	return &StatusPublisher{writer: k.NewWriter(topic), now: time.Now}
}

// PublishStatus writes msg. The status and attempt number are duplicated into
// headers so consumers can filter without decoding the payload.
func (p *StatusPublisher) PublishStatus(ctx context.Context, msg StatusMessage) error {
	if msg.OccurredAt.IsZero() {
		msg.OccurredAt = p.now().UTC()
	}
	value, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("status publisher: marshal message: %w", err)
	}
	record := kafka.Message{
		Key:   []byte(msg.OwnerID),
		Value: value,
		Time:  msg.OccurredAt,
		Headers: []kafka.Header{
			{Key: "status", Value: []byte(msg.Status)},
			{Key: "attempt", Value: []byte(strconv.Itoa(msg.Attempt))},
		},
	}
	if err := p.writer.WriteMessages(ctx, record); err != nil {
		return fmt.Errorf("status publisher: write message %s: %w", msg.EntryID, err)
	}
	return nil
}

// Close closes the publisher.
func (p *StatusPublisher) Close() error {
	return p.writer.Close()
}
