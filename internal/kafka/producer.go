package kafka

import (
	"context"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Producer buffers messages in an inbox channel and writes them from a single
// goroutine. Writes are async; delivery failures are logged from the writer's
// completion callback.
type Producer struct {
	w       *kafka.Writer
	inbox   chan kafka.Message
	closeCh chan struct{}
	mu      sync.RWMutex
	closed  bool
	log     *zap.Logger
}

func NewProducer(brokers []string, topic string, buf int, log *zap.Logger) *Producer {
	p := &Producer{
		inbox:   make(chan kafka.Message, buf),
		closeCh: make(chan struct{}),
		log:     log.With(zap.String("topic", topic)),
	}
	p.w = &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Async:        true,
		Completion: func(msgs []kafka.Message, err error) {
			if err != nil {
				p.log.Error("kafka write failed", zap.Int("messages", len(msgs)), zap.Error(err))
			}
		},
	}
	return p
}

func (p *Producer) Start(ctx context.Context) {
	go func() {
		defer close(p.closeCh)
		defer func() {
			if err := p.w.Close(); err != nil {
				p.log.Error("kafka writer close", zap.Error(err))
			}
		}()
		for {
			select {
			case <-ctx.Done():
				p.drain()
				return
			case m, ok := <-p.inbox:
				if !ok {
					return
				}
				p.write(m)
			}
		}
	}()
}

// drain writes whatever is already buffered without waiting for more.
func (p *Producer) drain() {
	for {
		select {
		case m, ok := <-p.inbox:
			if !ok {
				return
			}
			p.write(m)
		default:
			return
		}
	}
}

func (p *Producer) write(m kafka.Message) {
	if err := p.w.WriteMessages(context.Background(), m); err != nil {
		p.log.Error("kafka enqueue failed", zap.Error(err))
	}
}

// Publish queues a message. Messages published after Close, or after the
// writer goroutine has stopped, are dropped and logged.
func (p *Producer) Publish(key, value []byte, headers ...kafka.Header) {
	m := kafka.Message{
		Key:     key,
		Value:   value,
		Time:    time.Now(),
		Headers: headers,
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		p.log.Warn("producer closed, message dropped", zap.ByteString("key", key))
		return
	}
	select {
	case p.inbox <- m:
	case <-p.closeCh:
		p.log.Warn("producer stopped, message dropped", zap.ByteString("key", key))
	}
}

// Close stops accepting messages; the writer goroutine flushes and exits.
func (p *Producer) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		close(p.inbox)
	}
}

// WaitClosed blocks until the writer goroutine is done.
func (p *Producer) WaitClosed() { <-p.closeCh }
