package streaming

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// notificationDelay is the minimum spacing between released notifications of
// one coalescing category.
const notificationDelay = time.Second

// subscriberBuffer bounds the per-viewer broadcast queue; a viewer that falls
// this far behind starts losing messages rather than stalling the session.
const subscriberBuffer = 32

// noticeKind is the coalescing category of a notification.
type noticeKind int

const (
	// noticeImmediate bypasses coalescing entirely.
	noticeImmediate noticeKind = iota
	noticeSeek
	noticeToggle
)

type notice struct {
	msg    string
	origin string
	kind   noticeKind
}

// SessionChannel is the single broadcast fan-out point of one session: every
// subscribed viewer receives outbound messages in the same relative order.
// Chatty notification categories (seek, play/pause toggles) pass through a
// per-category single-slot coalescing queue before being broadcast.
type SessionChannel struct {
	log   *slog.Logger
	delay time.Duration

	mu   sync.Mutex
	subs map[string]chan serverMessage

	notifyCh chan notice
	switched chan struct{}
}

// NewSessionChannel creates a channel and starts its coalescing task, which
// runs until ctx is cancelled. delay <= 0 selects the default one-second
// debounce window.
func NewSessionChannel(ctx context.Context, log *slog.Logger, delay time.Duration) *SessionChannel {
	if delay <= 0 {
		delay = notificationDelay
	}
	c := &SessionChannel{
		log:      log,
		delay:    delay,
		subs:     make(map[string]chan serverMessage),
		notifyCh: make(chan notice, 32),
		switched: make(chan struct{}, 1),
	}
	go c.coalesce(ctx)
	return c
}

// Subscribe registers a viewer and returns its outbound message stream.
func (c *SessionChannel) Subscribe(viewerID string) <-chan serverMessage {
	ch := make(chan serverMessage, subscriberBuffer)
	c.mu.Lock()
	c.subs[viewerID] = ch
	c.mu.Unlock()
	return ch
}

// Unsubscribe removes a viewer's stream.
func (c *SessionChannel) Unsubscribe(viewerID string) {
	c.mu.Lock()
	if ch, ok := c.subs[viewerID]; ok {
		delete(c.subs, viewerID)
		close(ch)
	}
	c.mu.Unlock()
}

// Broadcast delivers msg to every subscriber. Delivery happens under one lock
// so all viewers observe the same ordering; a full subscriber queue drops the
// message for that viewer only.
func (c *SessionChannel) Broadcast(msg serverMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, ch := range c.subs {
		select {
		case ch <- msg:
		default:
			if c.log != nil {
				c.log.Warn("dropping message for slow viewer", slog.String("viewer", id))
			}
		}
	}
}

// SendNotification queues a human-readable notification that bypasses
// coalescing (joins, leaves, recommendations).
func (c *SessionChannel) SendNotification(msg, origin string) {
	c.queueNotice(notice{msg: msg, origin: origin, kind: noticeImmediate})
}

// SendThrottled queues a notification of a coalescing category; within the
// debounce window the newest value wins and earlier unsent values are
// dropped.
func (c *SessionChannel) SendThrottled(msg, origin string, kind noticeKind) {
	c.queueNotice(notice{msg: msg, origin: origin, kind: kind})
}

func (c *SessionChannel) queueNotice(n notice) {
	select {
	case c.notifyCh <- n:
	default:
		if c.log != nil {
			c.log.Warn("notification queue full, dropping notification")
		}
	}
}

// NotifySwitched wakes tasks waiting for the session to move to different
// content (the recommendation loop re-arms on it).
func (c *SessionChannel) NotifySwitched() {
	select {
	case c.switched <- struct{}{}:
	default:
	}
}

// Switched returns the content-switch signal.
func (c *SessionChannel) Switched() <-chan struct{} {
	return c.switched
}

// coalesce is the per-session coalescing task. Immediate notices are
// broadcast as they arrive; seek and toggle notices land in single-slot
// queues that release at most once per delay window.
func (c *SessionChannel) coalesce(ctx context.Context) {
	now := time.Now()
	seekQ := notificationQueue{lastSent: now}
	toggleQ := notificationQueue{lastSent: now}

	timer := time.NewTimer(c.delay)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case n := <-c.notifyCh:
			switch n.kind {
			case noticeSeek:
				seekQ.push(n)
			case noticeToggle:
				toggleQ.push(n)
			default:
				c.Broadcast(notificationMessage(n.msg, n.origin))
				continue
			}
		case <-timer.C:
		}

		now := time.Now()
		if n := seekQ.takeIfDue(c.delay, now); n != nil {
			c.Broadcast(notificationMessage(n.msg, n.origin))
		}
		if n := toggleQ.takeIfDue(c.delay, now); n != nil {
			c.Broadcast(notificationMessage(n.msg, n.origin))
		}

		wait := c.delay
		if d := seekQ.nextDue(c.delay, now); seekQ.pending != nil && d < wait {
			wait = d
		}
		if d := toggleQ.nextDue(c.delay, now); toggleQ.pending != nil && d < wait {
			wait = d
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(wait)
	}
}

// notificationQueue is a single-slot coalescing buffer: pushing overwrites
// any pending unsent value, and a value is released only once the minimum
// delay since the last release has elapsed.
type notificationQueue struct {
	pending  *notice
	lastSent time.Time
}

func (q *notificationQueue) push(n notice) {
	q.pending = &n
}

// takeIfDue releases the pending value if the delay window has passed. The
// release timestamp advances even when nothing is pending, so a value pushed
// right after a release still waits out the full window.
func (q *notificationQueue) takeIfDue(delay time.Duration, now time.Time) *notice {
	if now.Sub(q.lastSent) < delay {
		return nil
	}
	q.lastSent = now
	n := q.pending
	q.pending = nil
	return n
}

// nextDue returns how long until the queue may release again.
func (q *notificationQueue) nextDue(delay time.Duration, now time.Time) time.Duration {
	remaining := delay - now.Sub(q.lastSent)
	if remaining < 0 {
		return 0
	}
	return remaining
}
