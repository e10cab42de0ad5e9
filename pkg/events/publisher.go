package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/pitabwire/frame/queue"
	"github.com/rs/xid"
)

const defaultSubscriberBuffer = 64

type subscription struct {
	ch      chan Envelope
	types   []EventType
	dropped uint64
}

func (s *subscription) wants(t EventType) bool {
	return len(s.types) == 0 || slices.Contains(s.types, t)
}

// Publisher delivers events to in-process subscribers and, when a queue
// manager is set, to the frame event queue so other services see them.
type Publisher struct {
	queueMgr queue.Manager
	source   string
	queueRef string

	mu   sync.Mutex
	subs map[string]*subscription
}

// NewPublisher returns a publisher stamping envelopes with source.
// A nil queueMgr keeps delivery local.
func NewPublisher(queueMgr queue.Manager, source string, queueRef string) *Publisher {
	return &Publisher{
		queueMgr: queueMgr,
		source:   source,
		queueRef: queueRef,
		subs:     make(map[string]*subscription),
	}
}

// NewEnvelope encodes data as the payload of a new event.
func NewEnvelope(source string, eventType EventType, sessionID string, data interface{}) (Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s payload: %w", eventType, err)
	}
	return Envelope{
		ID:        xid.New().String(),
		Type:      eventType,
		Source:    source,
		SessionID: sessionID,
		Timestamp: time.Now().UTC(),
		Data:      raw,
	}, nil
}

// Source is the name stamped on every envelope this publisher emits.
func (p *Publisher) Source() string { return p.source }

// Emit wraps data in an Envelope and delivers it.
func (p *Publisher) Emit(ctx context.Context, eventType EventType, sessionID string, data interface{}) error {
	env, err := NewEnvelope(p.source, eventType, sessionID, data)
	if err != nil {
		return err
	}

	p.fanOut(env)

	if p.queueMgr == nil {
		return nil
	}
	if err := p.queueMgr.Publish(ctx, p.queueRef, env); err != nil {
		return fmt.Errorf("publish %s: %w", eventType, err)
	}
	return nil
}

// fanOut never blocks: a full subscriber buffer loses the event.
func (p *Publisher) fanOut(env Envelope) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, sub := range p.subs {
		if !sub.wants(env.Type) {
			continue
		}
		select {
		case sub.ch <- env:
		default:
			sub.dropped++
			slog.Warn("event dropped: subscriber buffer full",
				slog.String("subscriber", id),
				slog.String("event_type", string(env.Type)),
				slog.Uint64("dropped", sub.dropped))
		}
	}
}

// Subscribe registers a local subscriber under id and returns its channel.
// With no types every event is delivered. Subscribing twice with the same id
// closes the earlier channel. Call Unsubscribe to release it.
func (p *Publisher) Subscribe(id string, bufSize int, types ...EventType) <-chan Envelope {
	if bufSize <= 0 {
		bufSize = defaultSubscriberBuffer
	}
	sub := &subscription{ch: make(chan Envelope, bufSize), types: types}

	p.mu.Lock()
	defer p.mu.Unlock()
	if old, ok := p.subs[id]; ok {
		close(old.ch)
	}
	p.subs[id] = sub
	return sub.ch
}

// Unsubscribe removes the subscriber and closes its channel.
func (p *Publisher) Unsubscribe(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if sub, ok := p.subs[id]; ok {
		close(sub.ch)
		delete(p.subs, id)
	}
}

// Dropped reports how many events the subscriber has lost to a full buffer.
func (p *Publisher) Dropped(id string) uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if sub, ok := p.subs[id]; ok {
		return sub.dropped
	}
	return 0
}
