package streaming

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"watchstream/internal/platform/metrics"
)

// recommendFraction is how far into the content the "up next" recommendation
// is pushed to viewers.
const recommendFraction = 0.95

// maxRecommendSleep caps the recommendation timer while paused or far from
// the threshold; updates re-arm the timer anyway.
const maxRecommendSleep = 24 * time.Hour

// Session is one shared playback party: a group of viewers watching the same
// content in lockstep. It exclusively owns its segment cache, playlist state,
// playback clock, and viewer set; all mutation funnels through its methods.
type Session struct {
	ID string

	log     *slog.Logger
	lib     Library
	cache   *MediaCache
	channel *SessionChannel
	clock   *TimeKeeper
	metrics *metrics.Metrics

	mu         sync.Mutex
	contentID  int64
	sourcePath string
	state      PlaybackState
	next       *recommendation

	viewersMu sync.Mutex
	viewers   map[string]string // viewer id -> display name
}

// Library is the metadata collaborator a session resolves content through.
type Library interface {
	PlaylistStore
	ContentPath(ctx context.Context, contentID int64) (string, bool, error)
	ContentTitle(ctx context.Context, contentID int64) (string, bool, error)
	NextAfter(ctx context.Context, contentID int64) (NextContent, bool, error)
}

// NextContent identifies the recommended follow-up content.
type NextContent struct {
	ID    int64
	Title string
}

// sessionDeps bundles what a new session needs from the registry.
type sessionDeps struct {
	// lifecycle outlives the creating request; the coalescing task and the
	// recommendation loop run under it until process shutdown.
	lifecycle     context.Context
	lib           Library
	prober        Prober
	newTranscoder func(sessionID string) Transcoder
	scratchRoot   string
	capacity      int
	precompute    int
	targetSeconds float64
	delay         time.Duration
	log           *slog.Logger
	metrics       *metrics.Metrics
}

func newSession(ctx context.Context, id string, contentID int64, deps sessionDeps) (*Session, error) {
	path, ok, err := deps.lib.ContentPath(ctx, contentID)
	if err != nil {
		return nil, fmt.Errorf("resolving content path: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrContentNotFound, contentID)
	}

	scratch := ""
	if deps.scratchRoot != "" {
		scratch = filepath.Join(deps.scratchRoot, id)
	}

	cache, err := NewMediaCache(ctx, CacheConfig{
		SessionID:     id,
		ContentID:     contentID,
		Source:        path,
		Capacity:      deps.capacity,
		Precompute:    deps.precompute,
		TargetSeconds: deps.targetSeconds,
		Prober:        deps.prober,
		Transcoder:    deps.newTranscoder(id),
		Store:         deps.lib,
		ScratchDir:    scratch,
		Log:           deps.log,
		Metrics:       deps.metrics,
	})
	if err != nil {
		return nil, err
	}

	s := &Session{
		ID:         id,
		log:        deps.log,
		lib:        deps.lib,
		cache:      cache,
		channel:    NewSessionChannel(deps.lifecycle, deps.log, deps.delay),
		clock:      NewTimeKeeper(cache.Duration()),
		metrics:    deps.metrics,
		contentID:  contentID,
		sourcePath: path,
		state:      StatePlaying,
		viewers:    make(map[string]string),
	}
	s.next = newRecommendation(s.lib, contentID)

	go s.recommendLoop(deps.lifecycle)
	return s, nil
}

// ContentID returns the currently playing content id.
func (s *Session) ContentID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.contentID
}

// State returns the session-global playback state.
func (s *Session) State() PlaybackState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(state PlaybackState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// Manifest serves the playlist for a stream selection.
func (s *Session) Manifest(ctx context.Context, sel StreamIndices) (string, error) {
	return s.cache.Manifest(ctx, sel)
}

// Segment serves one media segment, transcoding on demand.
func (s *Session) Segment(ctx context.Context, index int, sel StreamIndices) ([]byte, error) {
	return s.cache.Segment(ctx, index, sel)
}

// Reuse redirects the session to different content: the segment cache and
// playlist state are invalidated and rebuilt, the playback clock and the
// recommendation reset. Redirecting to the content already playing is a
// no-op.
func (s *Session) Reuse(ctx context.Context, contentID int64) error {
	path, ok, err := s.lib.ContentPath(ctx, contentID)
	if err != nil {
		return fmt.Errorf("resolving content path: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: %d", ErrContentNotFound, contentID)
	}

	s.mu.Lock()
	same := s.sourcePath == path
	s.mu.Unlock()
	if same {
		return nil
	}

	if err := s.cache.Reuse(ctx, path, contentID); err != nil {
		return err
	}

	s.mu.Lock()
	s.contentID = contentID
	s.sourcePath = path
	s.next = newRecommendation(s.lib, contentID)
	s.mu.Unlock()

	s.clock.Reset(s.cache.Duration())
	return nil
}

// AddViewer registers a connected viewer.
func (s *Session) AddViewer(id, name string) {
	s.viewersMu.Lock()
	s.viewers[id] = name
	s.viewersMu.Unlock()
}

// RemoveViewer drops a viewer and reports how many remain.
func (s *Session) RemoveViewer(id string) int {
	s.viewersMu.Lock()
	defer s.viewersMu.Unlock()
	delete(s.viewers, id)
	return len(s.viewers)
}

// ViewerCount returns the number of connected viewers.
func (s *Session) ViewerCount() int {
	s.viewersMu.Lock()
	defer s.viewersMu.Unlock()
	return len(s.viewers)
}

func (s *Session) hasViewer(id string) bool {
	s.viewersMu.Lock()
	defer s.viewersMu.Unlock()
	_, ok := s.viewers[id]
	return ok
}

// Close releases the session's scratch resources.
func (s *Session) Close() {
	s.cache.Close()
}

// recommendLoop sleeps until the playback estimate crosses the
// recommendation threshold, then broadcasts the lazily resolved "up next"
// value once, and re-arms after the session switches content.
func (s *Session) recommendLoop(ctx context.Context) {
	for {
		if !s.waitForThreshold(ctx) {
			return
		}

		s.mu.Lock()
		next := s.next
		s.mu.Unlock()

		msg, ok, err := next.Get(ctx)
		if err != nil {
			if s.log != nil {
				s.log.Warn("resolving recommendation failed", slog.String("error", err.Error()))
			}
		} else if ok {
			s.channel.SendNotification(msg, "")
		}

		select {
		case <-ctx.Done():
			return
		case <-s.channel.Switched():
		}
	}
}

// waitForThreshold blocks until the estimate reaches the recommendation
// point, re-evaluating on every clock update. It returns false on shutdown.
func (s *Session) waitForThreshold(ctx context.Context) bool {
	for {
		var wait time.Duration
		if s.clock.Playing() {
			remaining := s.clock.RecommendAt() - s.clock.Estimate()
			if remaining <= 0 {
				return true
			}
			wait = time.Duration(remaining * float64(time.Second))
		} else {
			wait = maxRecommendSleep
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return false
		case <-timer.C:
			return true
		case <-s.clock.Updated():
			timer.Stop()
		}
	}
}

// TimeKeeper estimates the current playback position between explicit client
// updates by extrapolating wall-clock time while playing. The estimate is
// best effort; the authoritative position lives on each client's player.
type TimeKeeper struct {
	mu        sync.Mutex
	lastKnown float64
	total     float64
	playing   bool
	updatedAt time.Time

	now     func() time.Time
	updated chan struct{}
}

// NewTimeKeeper returns a running clock over content of the given total
// duration.
func NewTimeKeeper(total float64) *TimeKeeper {
	return &TimeKeeper{
		total:     total,
		playing:   true,
		updatedAt: time.Now(),
		now:       time.Now,
		updated:   make(chan struct{}, 1),
	}
}

// Update records an authoritative position report from a client.
func (t *TimeKeeper) Update(position float64, playing bool) {
	t.mu.Lock()
	t.lastKnown = position
	t.playing = playing
	t.updatedAt = t.now()
	t.mu.Unlock()
	t.signal()
}

// Reset rewinds the clock for new content.
func (t *TimeKeeper) Reset(total float64) {
	t.mu.Lock()
	t.lastKnown = 0
	t.total = total
	t.playing = true
	t.updatedAt = t.now()
	t.mu.Unlock()
	t.signal()
}

// Estimate returns the extrapolated current position, frozen while paused.
func (t *TimeKeeper) Estimate() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.playing {
		return t.lastKnown
	}
	return t.lastKnown + t.now().Sub(t.updatedAt).Seconds()
}

// Playing reports whether the clock is advancing.
func (t *TimeKeeper) Playing() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.playing
}

// Total returns the content duration.
func (t *TimeKeeper) Total() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.total
}

// RecommendAt returns the position at which the next-content recommendation
// should fire.
func (t *TimeKeeper) RecommendAt() float64 {
	return t.Total() * recommendFraction
}

// Updated returns a signal that fires after every Update or Reset.
func (t *TimeKeeper) Updated() <-chan struct{} {
	return t.updated
}

func (t *TimeKeeper) signal() {
	select {
	case t.updated <- struct{}{}:
	default:
	}
}

// recState tracks whether a recommendation value has been computed yet.
type recState int

const (
	recPending recState = iota
	recReady
)

// recommendation is a lazily resolved, memoized "what to watch next" value:
// pending until first accessed, then ready with the computed result.
type recommendation struct {
	mu    sync.Mutex
	state recState
	msg   string
	found bool
	err   error

	lib       Library
	contentID int64
}

func newRecommendation(lib Library, contentID int64) *recommendation {
	return &recommendation{lib: lib, contentID: contentID}
}

// Get resolves the recommendation on first call and returns the memoized
// value afterwards. found is false when the library has no follow-up.
func (r *recommendation) Get(ctx context.Context) (msg string, found bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state == recReady {
		return r.msg, r.found, r.err
	}

	next, ok, err := r.lib.NextAfter(ctx, r.contentID)
	r.state = recReady
	if err != nil {
		r.err = err
		return "", false, err
	}
	if !ok {
		return "", false, nil
	}
	r.msg = fmt.Sprintf("Up next: %s", next.Title)
	r.found = true
	return r.msg, true, nil
}
