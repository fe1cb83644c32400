// Package nats publishes run notifications to a NATS subject.
package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
)

// conn is the subset of *nats.Conn the publisher needs.
type conn interface {
	PublishMsg(msg *nats.Msg) error
	FlushTimeout(timeout time.Duration) error
	Drain() error
}

// Publisher sends JSON payloads as NATS messages. Every message carries a Nats-Msg-Id header so a
// JetStream stream bound to the subject can de-duplicate redeliveries.
type Publisher struct {
	conn           conn
	defaultSubject string
	flushTimeout   time.Duration
}

// Connect dials url and returns a Publisher. An empty subject passed to Publish uses subject.
func Connect(url, subject string, opts ...nats.Option) (*Publisher, error) {
	opts = append([]nats.Option{nats.Name("tgv-harvester")}, opts...)
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", url, err)
	}
	return newPublisher(nc, subject), nil
}

func newPublisher(c conn, subject string) *Publisher {
	return &Publisher{conn: c, defaultSubject: subject, flushTimeout: nats.DefaultTimeout}
}

// Publish encodes the payload, injects the trace context into the headers, and waits until the
// server has acknowledged the flush.
func (p *Publisher) Publish(ctx context.Context, subject string, payload any) (string, error) {
	if subject == "" {
		subject = p.defaultSubject
	}
	if subject == "" {
		return "", fmt.Errorf("nats subject is required")
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	id := uuid.NewString()
	msg := nats.NewMsg(subject)
	msg.Data = data
	msg.Header.Set(nats.MsgIdHdr, id)
	otel.GetTextMapPropagator().Inject(ctx, (*headerCarrier)(msg))

	if err := p.conn.PublishMsg(msg); err != nil {
		return "", fmt.Errorf("publish to %s: %w", subject, err)
	}
	timeout := p.flushTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left < timeout {
			timeout = left
		}
	}
	if err := p.conn.FlushTimeout(timeout); err != nil {
		return "", fmt.Errorf("flush %s: %w", subject, err)
	}
	return id, nil
}

// Close drains the connection.
func (p *Publisher) Close() error {
	return p.conn.Drain()
}

// headerCarrier adapts nats.Msg headers for the OTel TextMapCarrier.
type headerCarrier nats.Msg

func (c *headerCarrier) Get(key string) string {
	if c.Header == nil {
		return ""
	}
	return c.Header.Get(key)
}

func (c *headerCarrier) Set(key, val string) {
	if c.Header == nil {
		c.Header = make(nats.Header)
	}
	c.Header.Set(key, val)
}

func (c *headerCarrier) Keys() []string {
	if c.Header == nil {
		return nil
	}
	keys := make([]string, 0, len(c.Header))
	for k := range c.Header {
		keys = append(keys, k)
	}
	return keys
}
