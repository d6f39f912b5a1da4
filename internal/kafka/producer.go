package kafka

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

// Producer writes to whatever topic each message names; one writer serves every topic.
type Producer struct {
	w       *kafka.Writer
	inbox   chan kafka.Message
	closeCh chan struct{}
	name    string
	logger  *slog.Logger

	mu     sync.RWMutex
	closed bool
}

func NewProducer(brokers []string, name string, buf int, logger *slog.Logger) *Producer {
	return &Producer{
		w: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireAll,
			AllowAutoTopicCreation: true,
		},
		inbox:   make(chan kafka.Message, buf),
		closeCh: make(chan struct{}),
		name:    name,
		logger:  logger,
	}
}

func (p *Producer) Start(ctx context.Context) {
	go func() {
		defer close(p.closeCh)
		for {
			select {
			case <-ctx.Done():
				p.drain()
				return
			case m, ok := <-p.inbox:
				if !ok {
					_ = p.w.Close()
					return
				}
				p.write(m)
			}
		}
	}()
}

func (p *Producer) drain() {
	for {
		select {
		case m, ok := <-p.inbox:
			if !ok {
				_ = p.w.Close()
				return
			}
			p.write(m)
		default:
			_ = p.w.Close()
			return
		}
	}
}

func (p *Producer) write(m kafka.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := p.w.WriteMessages(ctx, m); err != nil {
		p.logger.Error("kafka write failed", "topic", m.Topic, "key", string(m.Key), "err", err)
	}
}

// Publish enqueues a message. It gives up when ctx ends instead of blocking the caller.
func (p *Producer) Publish(ctx context.Context, topic string, key, value []byte, headers ...kafka.Header) {
	m := kafka.Message{
		Topic:   topic,
		Key:     key,
		Value:   value,
		Time:    time.Now(),
		Headers: headers,
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		p.logger.Warn("kafka publish after close dropped", "topic", topic, "key", string(key))
		return
	}
	select {
	case p.inbox <- m:
	case <-ctx.Done():
		p.logger.Warn("kafka publish dropped", "topic", topic, "key", string(key), "err", ctx.Err())
	case <-p.closeCh:
		p.logger.Warn("kafka publish dropped, writer stopped", "topic", topic, "key", string(key))
	}
}

// Emit wraps payload in an Envelope (v1) keyed by correlationID and enqueues it.
func (p *Producer) Emit(ctx context.Context, topic, correlationID, eventType string, payload any) {
	ev := Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      p.name,
		TraceID:       middleware.GetReqID(ctx),
		CorrelationID: correlationID,
		Payload:       MustMarshal(payload),
	}
	p.Publish(ctx, topic, []byte(correlationID), MustMarshal(ev),
		kafka.Header{Key: "x-event-type", Value: []byte(eventType)},
		kafka.Header{Key: "x-event-version", Value: []byte(strconv.Itoa(ev.EventVersion))},
	)
}

// Close the inbox so the writer loop flushes what is left and exits. Publish calls
// racing with Close are dropped instead of sending on a closed channel.
func (p *Producer) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	close(p.inbox)
}

// WaitClosed blocks until the writer loop is done.
func (p *Producer) WaitClosed() { <-p.closeCh }
