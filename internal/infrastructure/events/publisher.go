package events

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Topic names a notification stream subscribers can attach to. Topics are
// part of the visible contract: every side effect the engine emits flows
// through one of these.
type Topic string

const (
	TopicViolation            Topic = "compliance.violation"
	TopicAuditLogged          Topic = "audit.logged"
	TopicAuditStorageError    Topic = "audit.storage_error"
	TopicConsentRecorded      Topic = "consent.recorded"
	TopicConsentStorageError  Topic = "consent.storage_error"
	TopicRetentionAction      Topic = "retention.action"
	TopicRetentionActionError Topic = "retention.action_error"
)

// Notification is one published message.
type Notification struct {
	Topic     Topic       `json:"topic"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// subscription is one subscriber channel with its topic filter.
type subscription struct {
	topics map[Topic]struct{}
	ch     chan Notification
}

// Publisher fans notifications out to subscriber channels. Publishing never
// blocks: a subscriber that falls behind its buffer loses messages, which is
// counted and logged rather than allowed to stall the business operation.
type Publisher struct {
	logger *zap.Logger
	buffer int

	mu     sync.RWMutex
	subs   map[int]*subscription
	nextID int
	closed bool

	droppedMu sync.Mutex
	dropped   map[Topic]uint64
}

// NewPublisher creates a publisher whose subscriber channels hold buffer
// pending notifications each.
func NewPublisher(logger *zap.Logger, buffer int) *Publisher {
	if buffer <= 0 {
		buffer = 64
	}
	return &Publisher{
		logger:  logger,
		buffer:  buffer,
		subs:    make(map[int]*subscription),
		dropped: make(map[Topic]uint64),
	}
}

// Subscribe registers a channel for the given topics (all topics when none
// are given). The returned cancel func removes the subscription and closes
// the channel.
func (p *Publisher) Subscribe(topics ...Topic) (<-chan Notification, func()) {
	p.mu.Lock()
	defer p.mu.Unlock()

	sub := &subscription{
		ch: make(chan Notification, p.buffer),
	}
	if len(topics) > 0 {
		sub.topics = make(map[Topic]struct{}, len(topics))
		for _, t := range topics {
			sub.topics[t] = struct{}{}
		}
	}

	if p.closed {
		close(sub.ch)
		return sub.ch, func() {}
	}

	id := p.nextID
	p.nextID++
	p.subs[id] = sub

	cancel := func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		if s, ok := p.subs[id]; ok {
			delete(p.subs, id)
			close(s.ch)
		}
	}
	return sub.ch, cancel
}

// Publish delivers a notification to every matching subscriber without
// blocking the caller.
func (p *Publisher) Publish(topic Topic, payload interface{}) {
	n := Notification{
		Topic:     topic,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return
	}

	for _, sub := range p.subs {
		if sub.topics != nil {
			if _, ok := sub.topics[topic]; !ok {
				continue
			}
		}
		select {
		case sub.ch <- n:
		default:
			p.recordDrop(topic)
		}
	}
}

func (p *Publisher) recordDrop(topic Topic) {
	p.droppedMu.Lock()
	p.dropped[topic]++
	count := p.dropped[topic]
	p.droppedMu.Unlock()

	if p.logger != nil {
		p.logger.Warn("dropped notification for slow subscriber",
			zap.String("topic", string(topic)),
			zap.Uint64("dropped_total", count),
		)
	}
}

// Dropped returns how many notifications have been dropped for a topic.
func (p *Publisher) Dropped(topic Topic) uint64 {
	p.droppedMu.Lock()
	defer p.droppedMu.Unlock()
	return p.dropped[topic]
}

// Close closes all subscriber channels. Publish after Close is a no-op.
func (p *Publisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	for id, sub := range p.subs {
		delete(p.subs, id)
		close(sub.ch)
	}
}
