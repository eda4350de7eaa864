package kafka

import (
	"context"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Handler returns nil only when the message was processed and its offset may be committed.
type Handler func(ctx context.Context, m kafka.Message) error

type reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer hands every partition to one worker, so offsets of a partition are
// committed in order and never past a message whose handler has not succeeded.
type Consumer struct {
	r          reader
	workers    int
	retryDelay time.Duration
	maxDelay   time.Duration
	log        *zap.Logger
}

func NewConsumer(brokers []string, group, topic string, workers int, log *zap.Logger) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		GroupID:        group,
		Topic:          topic,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0, // manual commit
	})
	if workers <= 0 {
		workers = 1
	}
	return &Consumer{
		r:          r,
		workers:    workers,
		retryDelay: 200 * time.Millisecond,
		maxDelay:   10 * time.Second,
		log:        log.With(zap.String("topic", topic), zap.String("group", group)),
	}
}

func (c *Consumer) Start(ctx context.Context, h Handler) error {
	defer c.r.Close()

	queues := make([]chan kafka.Message, c.workers)
	var wg sync.WaitGroup
	for i := range queues {
		queues[i] = make(chan kafka.Message, 128)
		wg.Add(1)
		go func(q <-chan kafka.Message) {
			defer wg.Done()
			for m := range q {
				if !c.process(ctx, h, m) {
					return
				}
			}
		}(queues[i])
	}
	stop := func() {
		for _, q := range queues {
			close(q)
		}
		wg.Wait()
	}

	for {
		m, err := c.r.FetchMessage(ctx)
		if err != nil {
			stop()
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		select {
		case queues[m.Partition%c.workers] <- m:
		case <-ctx.Done():
			stop()
			return nil
		}
	}
}

// process retries h with backoff until it succeeds, then commits the offset.
// It reports false once ctx is done.
func (c *Consumer) process(ctx context.Context, h Handler, m kafka.Message) bool {
	delay := c.retryDelay
	for attempt := 1; ; attempt++ {
		err := h(ctx, m)
		if err == nil {
			break
		}
		c.log.Warn("handler failed",
			zap.Int("partition", m.Partition),
			zap.Int64("offset", m.Offset),
			zap.Int("attempt", attempt),
			zap.Error(err))
		select {
		case <-ctx.Done():
			return false
		case <-time.After(delay):
		}
		if delay *= 2; delay > c.maxDelay {
			delay = c.maxDelay
		}
	}

	if err := c.r.CommitMessages(ctx, m); err != nil {
		if ctx.Err() != nil {
			return false
		}
		// a later commit on this partition covers it
		c.log.Warn("commit failed", zap.Int("partition", m.Partition), zap.Int64("offset", m.Offset), zap.Error(err))
	}
	return true
}
