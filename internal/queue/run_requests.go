package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/acme/outbound-call-queue/internal/domain"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// RunRequestPublisher hands owner runs to queue workers through Kafka.
type RunRequestPublisher struct {
	writer messageWriter
	now    func() time.Time
}

// NewRunRequestPublisher constructs a publisher for the given topic.
func NewRunRequestPublisher(k *Kafka, topic string) *RunRequestPublisher {
	return &RunRequestPublisher{writer: k.NewWriter(topic), now: time.Now}
}

// Trigger publishes a run request keyed by owner id.
func (p *RunRequestPublisher) Trigger(ctx context.Context, ownerID string, reason domain.RunReason) error {
	msg := RunRequest{OwnerID: ownerID, Reason: reason, RequestedAt: p.now().UTC()}
	value, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("run request publisher: marshal message: %w", err)
	}

	record := kafka.Message{
		Key:   []byte(ownerID),
		Value: value,
		Time:  msg.RequestedAt,
	}
	if err := p.writer.WriteMessages(ctx, record); err != nil {
		return fmt.Errorf("run request publisher: write message: %w", err)
	}
	return nil
}

// Close closes the underlying writer.
func (p *RunRequestPublisher) Close() error {
	return p.writer.Close()
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// RunRequestHandler executes one decoded run request.
type RunRequestHandler func(ctx context.Context, req RunRequest) error

// RunRequestConsumer reads run requests and hands each one to a bounded pool
// of handler goroutines, so owners served by one worker run side by side.
// A message is committed once its handler has started.
type RunRequestConsumer struct {
	reader  messageReader
	workers int
	// onError is called from handler goroutines and must be safe for concurrent use.
	onError func(err error)
}

// NewRunRequestConsumer constructs a consumer in the configured group running
// at most workers handlers at once.
func NewRunRequestConsumer(k *Kafka, topic, groupID string, workers int, onError func(error)) *RunRequestConsumer {
	return &RunRequestConsumer{reader: k.NewReader(topic, groupID), workers: workers, onError: onError}
}

// Run blocks until ctx is cancelled and every started handler has returned.
func (c *RunRequestConsumer) Run(ctx context.Context, handle RunRequestHandler) error {
	workers := c.workers
	if workers <= 0 {
		workers = 1
	}
	slots := make(chan struct{}, workers)
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.report(fmt.Errorf("run request consumer: fetch message: %w", err))
			continue
		}

		var req RunRequest
		if err := json.Unmarshal(m.Value, &req); err != nil || req.OwnerID == "" {
			if err == nil {
				err = fmt.Errorf("missing owner_id")
			}
			c.report(fmt.Errorf("run request consumer: decode offset %d: %w", m.Offset, err))
		} else {
			select {
			case slots <- struct{}{}:
			case <-ctx.Done():
				return ctx.Err()
			}
			wg.Add(1)
			go func(req RunRequest) {
				defer wg.Done()
				defer func() { <-slots }()
				if err := handle(ctx, req); err != nil {
					c.report(fmt.Errorf("run request consumer: owner %s: %w", req.OwnerID, err))
				}
			}(req)
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := c.reader.CommitMessages(ctx, m); err != nil {
			c.report(fmt.Errorf("run request consumer: commit: %w", err))
		}
	}
}

// Close closes the underlying reader.
func (c *RunRequestConsumer) Close() error {
	return c.reader.Close()
}

func (c *RunRequestConsumer) report(err error) {
	if c.onError != nil {
		c.onError(err)
	}
}
