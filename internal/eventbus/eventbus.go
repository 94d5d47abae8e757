// Package eventbus is the typed publish/subscribe layer (C4), built over
// internal/kv's Redis pub/sub. The envelope shape mirrors the teacher's
// coordinator.WSMessage: a stable id, a type/topic tag, a timestamp and an
// opaque payload map.
package eventbus

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/evalgo/flowcollab/internal/kv"
)

// Envelope is the message shape published and received on every topic.
type Envelope struct {
	ID        string                 `json:"id"`
	Topic     string                 `json:"topic"`
	Timestamp time.Time              `json:"timestamp"`
	Payload   map[string]interface{} `json:"payload"`
}

// NewEnvelope builds an envelope with a fresh id and the current time.
func NewEnvelope(topic string, payload map[string]interface{}) Envelope {
	return Envelope{
		ID:        uuid.NewString(),
		Topic:     topic,
		Timestamp: time.Now(),
		Payload:   payload,
	}
}

// Bus publishes and subscribes to topics over the shared KV store. Ordering
// is per-topic, per-publisher FIFO (inherited from the underlying pub/sub
// transport); delivery is at-most-once, matching the component's design.
type Bus struct {
	store *kv.Store
}

// New wraps an already-connected kv.Store as an event bus.
func New(store *kv.Store) *Bus {
	return &Bus{store: store}
}

// Publish serializes payload into an envelope and publishes it on topic.
func (b *Bus) Publish(ctx context.Context, topic string, payload map[string]interface{}) error {
	env := NewEnvelope(topic, payload)
	return b.store.Publish(ctx, topic, env)
}

// Handler receives one decoded envelope per delivered message.
type Handler func(Envelope)

// Subscription wraps the underlying kv.Subscription with envelope decoding.
type Subscription struct {
	sub    *kv.Subscription
	cancel context.CancelFunc
}

// Close stops delivery and releases the subscription's connection.
func (s *Subscription) Close() error {
	s.cancel()
	return s.sub.Close()
}

// Subscribe joins topic (supports a glob pattern such as "ai:response:*")
// and invokes handler for every envelope received until the context is
// canceled or Close is called. Decoding failures are dropped silently —
// a malformed message must never take down a subscriber.
func (b *Bus) Subscribe(ctx context.Context, pattern string, handler Handler) (*Subscription, error) {
	isGlob := containsGlob(pattern)
	sub, err := b.store.Subscribe(ctx, isGlob, pattern)
	if err != nil {
		return nil, err
	}

	subCtx, cancel := context.WithCancel(ctx)
	go func() {
		for {
			select {
			case msg, ok := <-sub.C:
				if !ok {
					return
				}
				var env Envelope
				if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
					continue
				}
				handler(env)
			case <-subCtx.Done():
				return
			}
		}
	}()

	return &Subscription{sub: sub, cancel: cancel}, nil
}

func containsGlob(pattern string) bool {
	for _, c := range pattern {
		switch c {
		case '*', '?', '[':
			return true
		}
	}
	return false
}

// Topic name builders, kept centralized so callers never hand-format a
// channel string.

func TopicAIRequest(requestID string) string   { return "ai:request:" + requestID }
func TopicAIResponse(requestID string) string  { return "ai:response:" + requestID }
func TopicFlowUpdate(flowID string) string     { return "flow:update:" + flowID }
func TopicFlowGhost(projectID string) string   { return "flow:ghost:" + projectID }
func TopicAIResponseAll() string               { return "ai:response:*" }
func TopicFlowUpdateAll() string               { return "flow:update:*" }
