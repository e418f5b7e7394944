package events

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/treumlabs/risk-engine/internal/domain/alert"
)

// AlertPublisher fans alerts out to subscribers. Delivery is
// non-blocking: a subscriber that cannot keep up has alerts dropped
// and counted rather than stalling the alerting engine.
type AlertPublisher struct {
	logger *zap.Logger

	mu     sync.RWMutex
	subs   map[int64]*Subscription
	nextID int64

	dropped atomic.Int64
}

// SubscriptionFilter selects which alerts a subscriber receives. A nil
// Types set means all types; MinSeverity defaults to info.
type SubscriptionFilter struct {
	Types       map[alert.Type]bool
	MinSeverity alert.Severity

	// RateLimit caps deliveries per second per subscriber; zero means
	// unlimited.
	RateLimit rate.Limit
	Burst     int
}

// Subscription is one subscriber's view of the alert stream
type Subscription struct {
	C <-chan alert.Alert

	id      int64
	ch      chan alert.Alert
	filter  SubscriptionFilter
	limiter *rate.Limiter
	pub     *AlertPublisher
	once    sync.Once
}

// Cancel removes the subscription and closes its channel
func (s *Subscription) Cancel() {
	s.once.Do(func() {
		s.pub.mu.Lock()
		delete(s.pub.subs, s.id)
		s.pub.mu.Unlock()
		close(s.ch)
	})
}

// NewAlertPublisher creates an alert publisher
func NewAlertPublisher(logger *zap.Logger) *AlertPublisher {
	return &AlertPublisher{
		logger: logger,
		subs:   make(map[int64]*Subscription),
	}
}

// Subscribe registers a filtered subscriber with the given buffer size
func (p *AlertPublisher) Subscribe(filter SubscriptionFilter, buffer int) *Subscription {
	if buffer <= 0 {
		buffer = 64
	}

	ch := make(chan alert.Alert, buffer)
	sub := &Subscription{
		C:      ch,
		ch:     ch,
		filter: filter,
		pub:    p,
	}
	if filter.RateLimit > 0 {
		burst := filter.Burst
		if burst <= 0 {
			burst = 1
		}
		sub.limiter = rate.NewLimiter(filter.RateLimit, burst)
	}

	p.mu.Lock()
	p.nextID++
	sub.id = p.nextID
	p.subs[sub.id] = sub
	p.mu.Unlock()

	return sub
}

// PublishAlert delivers the alert to every matching subscriber. It
// implements the alerting engine's Publisher interface and never blocks.
func (p *AlertPublisher) PublishAlert(ctx context.Context, a alert.Alert) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	for _, sub := range p.subs {
		if !sub.matches(a) {
			continue
		}
		if sub.limiter != nil && !sub.limiter.Allow() {
			p.noteDrop(a, "rate limited")
			continue
		}
		select {
		case sub.ch <- a:
		default:
			p.noteDrop(a, "subscriber buffer full")
		}
	}
}

func (s *Subscription) matches(a alert.Alert) bool {
	if a.Severity < s.filter.MinSeverity {
		return false
	}
	if len(s.filter.Types) > 0 && !s.filter.Types[a.Type] {
		return false
	}
	return true
}

func (p *AlertPublisher) noteDrop(a alert.Alert, reason string) {
	p.dropped.Add(1)
	p.logger.Warn("alert delivery dropped",
		zap.String("alert_id", a.ID.String()),
		zap.String("severity", a.Severity.String()),
		zap.String("reason", reason),
	)
}

// Dropped returns how many deliveries were dropped since start
func (p *AlertPublisher) Dropped() int64 {
	return p.dropped.Load()
}

// SubscriberCount returns the number of active subscriptions
func (p *AlertPublisher) SubscriberCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.subs)
}

// Close cancels all subscriptions
func (p *AlertPublisher) Close() {
	p.mu.Lock()
	subs := make([]*Subscription, 0, len(p.subs))
	for _, sub := range p.subs {
		subs = append(subs, sub)
	}
	p.mu.Unlock()

	for _, sub := range subs {
		sub.Cancel()
	}
}
