package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	backend "github.com/redis/go-redis/v9"

	"knobd/internal/knob"
)

// Publisher fans committed knob values out over Redis: a PUBLISH per change
// on <prefix><knob id>, plus the latest value stored under <prefix>last:<knob id>
// so bridges that connect late can catch up.
type Publisher struct {
	client  *backend.Client
	prefix  string
	timeout time.Duration
}

type PublisherOption func(*Publisher)

// WithPrefix sets the channel/key prefix.
func WithPrefix(prefix string) PublisherOption {
	return func(p *Publisher) {
		p.prefix = prefix
	}
}

// WithTimeout bounds each Redis round trip.
func WithTimeout(d time.Duration) PublisherOption {
	return func(p *Publisher) {
		p.timeout = d
	}
}

// NewPublisher creates a publisher with its own Redis client.
func NewPublisher(address, password string, db int, opts ...PublisherOption) *Publisher {
	rdb := backend.NewClient(&backend.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})
	return NewPublisherFromClient(rdb, opts...)
}

// NewPublisherFromClient creates a publisher from an existing client.
func NewPublisherFromClient(client *backend.Client, opts ...PublisherOption) *Publisher {
	p := &Publisher{
		client:  client,
		prefix:  defaultRedisChannelPrefix,
		timeout: requestTimeout,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Close releases the underlying client.
func (p *Publisher) Close() error { return p.client.Close() }

// ValueMessage is the JSON payload published for each committed value.
type ValueMessage struct {
	Knob     string     `json:"knob"`
	Kind     string     `json:"kind"` // "commit" or "synced"
	Value    knob.Value `json:"value"`
	Revision uint64     `json:"revision"`
	Step     *knob.Step `json:"step,omitempty"`
	At       time.Time  `json:"at"`
}

// Channel returns the channel a knob's values are published on.
func (p *Publisher) Channel(knobID string) string { return p.prefix + knobID }

func (p *Publisher) lastKey(knobID string) string { return p.prefix + "last:" + knobID }

// valueMessage converts a commit or sync notification. Other notifications
// are not published.
func valueMessage(b Broadcast) (ValueMessage, bool) {
	msg := ValueMessage{Knob: b.Knob, At: b.At.UTC()}
	var step knob.Step
	switch n := b.Note.(type) {
	case knob.Commit:
		msg.Kind = "commit"
		msg.Value = n.Committed.Value
		msg.Revision = n.Committed.Revision
		step = n.Step
	case knob.Synced:
		msg.Kind = "synced"
		msg.Value = n.Committed.Value
		msg.Revision = n.Committed.Revision
		step = n.Step
	default:
		return ValueMessage{}, false
	}
	if step.ID != "" {
		msg.Step = &step
	}
	return msg, true
}

// Publish sends one broadcast. Notifications other than commits and syncs
// are ignored.
func (p *Publisher) Publish(ctx context.Context, b Broadcast) error {
	msg, ok := valueMessage(b)
	if !ok {
		return nil
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal %s message: %w", msg.Kind, err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	pipe := p.client.TxPipeline()
	pipe.Set(ctx, p.lastKey(b.Knob), data, 0)
	pipe.Publish(ctx, p.Channel(b.Knob), data)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis publish %s: %w", p.Channel(b.Knob), err)
	}
	return nil
}

// Last returns the most recently published message for a knob.
func (p *Publisher) Last(ctx context.Context, knobID string) (ValueMessage, bool, error) {
	data, err := p.client.Get(ctx, p.lastKey(knobID)).Bytes()
	if errors.Is(err, backend.Nil) {
		return ValueMessage{}, false, nil
	}
	if err != nil {
		return ValueMessage{}, false, fmt.Errorf("redis get: %w", err)
	}
	var msg ValueMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return ValueMessage{}, false, fmt.Errorf("unmarshal last value: %w", err)
	}
	return msg, true, nil
}

// RunPublisher drains src until ctx is canceled or src is closed. Failures
// are logged; the daemon loop never waits on Redis.
func RunPublisher(ctx context.Context, p *Publisher, src <-chan Broadcast, logger *slog.Logger) {
	if p == nil || src == nil {
		return
	}
	logger.Info("redis publisher starting", "prefix", p.prefix)

	for {
		select {
		case <-ctx.Done():
			logger.Info("redis publisher stopping (context canceled)")
			return
		case b, ok := <-src:
			if !ok {
				logger.Info("redis publisher stopping (source ended)")
				return
			}
			if err := p.Publish(ctx, b); err != nil {
				logger.Warn("redis publish failed", "knob", b.Knob, "error", err)
			}
		}
	}
}
