// Package memory keeps published pipeline events in process. It stands in for
// Pub/Sub in tests and in servers running without a project configured.
package memory

import (
	"context"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/agentic-reviewer/internal/pipeline"
)

// Message is one recorded publish.
type Message struct {
	ID      string
	Topic   string
	Payload any
}

// Publisher records payloads. With a limit only the newest limit messages are
// retained; IDs keep counting regardless.
type Publisher struct {
	mu       sync.RWMutex
	limit    int
	seq      int
	messages []Message
	logger   *zap.Logger
}

// New returns an unbounded Publisher.
func New() *Publisher {
	return &Publisher{logger: zap.NewNop()}
}

// NewBounded returns a Publisher that keeps the newest limit messages and logs
// each publish at debug level.
func NewBounded(limit int, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{limit: limit, logger: logger}
}

// Publish records the payload and returns a sequential ID.
func (p *Publisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	p.mu.Lock()
	p.seq++
	id := "memory-" + strconv.Itoa(p.seq)
	p.messages = append(p.messages, Message{ID: id, Topic: topic, Payload: payload})
	if p.limit > 0 && len(p.messages) > p.limit {
		p.messages = append(p.messages[:0:0], p.messages[len(p.messages)-p.limit:]...)
	}
	p.mu.Unlock()

	fields := []zap.Field{zap.String("topic", topic), zap.String("message_id", id)}
	if event, ok := payload.(pipeline.Event); ok {
		fields = append(fields, zap.String("type", event.Type), zap.String("product_id", event.ProductID))
	}
	p.logger.Debug("event published", fields...)
	return id, nil
}

// Messages returns a copy of the retained messages, oldest first.
func (p *Publisher) Messages() []Message {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Message, len(p.messages))
	copy(out, p.messages)
	return out
}

// Topic returns the retained payloads published to topic.
func (p *Publisher) Topic(topic string) []any {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []any
	for _, m := range p.messages {
		if m.Topic == topic {
			out = append(out, m.Payload)
		}
	}
	return out
}

// Events returns the retained pipeline events on topic, skipping other payloads.
func (p *Publisher) Events(topic string) []pipeline.Event {
	var out []pipeline.Event
	for _, raw := range p.Topic(topic) {
		if event, ok := raw.(pipeline.Event); ok {
			out = append(out, event)
		}
	}
	return out
}
