package streaming

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"watchstream/internal/platform/metrics"
)

// DefaultCacheCapacity bounds the number of segments one session keeps in
// memory.
const DefaultCacheCapacity = 32

// MediaSegment is one cached, servable chunk of transcoded media. Segments
// for different stream selections are independent cache entries even at the
// same index.
type MediaSegment struct {
	Data        []byte
	Index       int
	StreamIdent string
}

// CacheConfig carries the collaborators a MediaCache needs.
type CacheConfig struct {
	SessionID  string
	ContentID  int64
	Source     string
	Capacity   int
	Precompute int
	// TargetSeconds is the nominal segment length handed to the planner.
	TargetSeconds float64
	Prober        Prober
	Transcoder    Transcoder
	Store         PlaylistStore
	ScratchDir    string
	Log           *slog.Logger
	Metrics       *metrics.Metrics
}

// MediaCache is the per-session segment store: a bounded FIFO of produced
// segments plus the playlist state for the current media source. Eviction is
// by insertion order, not access order; playback is overwhelmingly
// sequential, so insertion recency tracks upcoming need well enough without
// the bookkeeping of an LRU.
//
// The segment store, the source pointer, and the playlist state are locked
// independently so a cache hit never blocks a concurrent miss fill for a
// different index.
type MediaCache struct {
	cfg CacheConfig

	sourceMu sync.Mutex
	source   string

	playlistMu sync.RWMutex
	playlists  *PlaylistSet

	segMu    sync.RWMutex
	segments []MediaSegment
}

// NewMediaCache probes the source, builds its segmentation plan, and returns
// an empty cache over it.
func NewMediaCache(ctx context.Context, cfg CacheConfig) (*MediaCache, error) {
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultCacheCapacity
	}
	if cfg.TargetSeconds <= 0 {
		cfg.TargetSeconds = DefaultSegmentSeconds
	}

	c := &MediaCache{cfg: cfg, source: cfg.Source}
	playlists, err := c.buildPlaylists(ctx, cfg.Source, cfg.ContentID)
	if err != nil {
		return nil, err
	}
	c.playlists = playlists
	return c, nil
}

func (c *MediaCache) buildPlaylists(ctx context.Context, source string, contentID int64) (*PlaylistSet, error) {
	keyframes, err := c.cfg.Prober.KeyframeTimes(ctx, source)
	if err != nil {
		return nil, err
	}
	duration, err := c.cfg.Prober.Duration(ctx, source)
	if err != nil {
		return nil, err
	}

	plan := PlanSegments(keyframes, duration, c.cfg.TargetSeconds)
	return NewPlaylistSet(c.cfg.SessionID, contentID, plan, c.cfg.Precompute, c.cfg.Store), nil
}

// Source returns the current media source path.
func (c *MediaCache) Source() string {
	c.sourceMu.Lock()
	defer c.sourceMu.Unlock()
	return c.source
}

// Reuse points the cache at a different media source: it swaps the source
// pointer, drops every cached segment, and rebuilds the segmentation plan.
// Used when the owning session is redirected to other content.
func (c *MediaCache) Reuse(ctx context.Context, source string, contentID int64) error {
	playlists, err := c.buildPlaylists(ctx, source, contentID)
	if err != nil {
		return err
	}

	c.sourceMu.Lock()
	c.source = source
	c.sourceMu.Unlock()

	c.segMu.Lock()
	c.segments = nil
	c.segMu.Unlock()

	c.playlistMu.Lock()
	c.playlists = playlists
	c.playlistMu.Unlock()

	return nil
}

// Manifest returns the manifest for the given selection.
func (c *MediaCache) Manifest(ctx context.Context, sel StreamIndices) (string, error) {
	c.playlistMu.RLock()
	playlists := c.playlists
	c.playlistMu.RUnlock()
	return playlists.Manifest(ctx, sel)
}

// SegmentCount returns the number of segments in the current plan.
func (c *MediaCache) SegmentCount() int {
	c.playlistMu.RLock()
	defer c.playlistMu.RUnlock()
	return c.playlists.SegmentCount()
}

// Duration returns the media duration of the current plan, already known
// from the probe that built it.
func (c *MediaCache) Duration() float64 {
	c.playlistMu.RLock()
	defer c.playlistMu.RUnlock()
	return c.playlists.MediaTime()
}

// Segment returns the bytes for one segment, producing a batch through the
// transcoder on a cache miss. A failed batch is not cached and does not
// affect other indices.
func (c *MediaCache) Segment(ctx context.Context, index int, sel StreamIndices) ([]byte, error) {
	if seg, ok := c.Lookup(index, sel.Ident); ok {
		if c.cfg.Metrics != nil {
			c.cfg.Metrics.IncCacheHits()
		}
		return seg.Data, nil
	}
	if c.cfg.Metrics != nil {
		c.cfg.Metrics.IncCacheMisses()
	}

	c.playlistMu.RLock()
	win := c.playlists.Window(index)
	c.playlistMu.RUnlock()
	if win == nil {
		return nil, fmt.Errorf("%w: %d", ErrSegmentOutOfRange, index)
	}

	if c.cfg.Metrics != nil {
		c.cfg.Metrics.IncTranscodeRuns()
	}
	produced, err := c.cfg.Transcoder.Transcode(ctx, c.Source(), *win, sel)
	if err != nil {
		if c.cfg.Metrics != nil {
			c.cfg.Metrics.IncTranscodeFailures()
		}
		if errors.Is(err, ErrTranscodeFailed) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrTranscodeFailed, err)
	}
	c.Extend(produced)

	seg, ok := c.Lookup(index, sel.Ident)
	if !ok {
		return nil, fmt.Errorf("%w: no output produced for index %d", ErrTranscodeFailed, index)
	}
	return seg.Data, nil
}

// Lookup returns the cached segment for (index, ident), if present.
func (c *MediaCache) Lookup(index int, ident string) (MediaSegment, bool) {
	c.segMu.RLock()
	defer c.segMu.RUnlock()
	for _, seg := range c.segments {
		if seg.Index == index && seg.StreamIdent == ident {
			return seg, true
		}
	}
	return MediaSegment{}, false
}

// Extend inserts segments not already present and then drops the oldest
// entries (by insertion order) until the cache is back at capacity.
func (c *MediaCache) Extend(segments []MediaSegment) {
	c.segMu.Lock()
	defer c.segMu.Unlock()

	for _, seg := range segments {
		if c.containsLocked(seg.Index, seg.StreamIdent) {
			continue
		}
		c.segments = append(c.segments, seg)
	}

	if overflow := len(c.segments) - c.cfg.Capacity; overflow > 0 {
		c.segments = append([]MediaSegment(nil), c.segments[overflow:]...)
	}
}

func (c *MediaCache) containsLocked(index int, ident string) bool {
	for _, seg := range c.segments {
		if seg.Index == index && seg.StreamIdent == ident {
			return true
		}
	}
	return false
}

// Len returns the number of cached segments.
func (c *MediaCache) Len() int {
	c.segMu.RLock()
	defer c.segMu.RUnlock()
	return len(c.segments)
}

// Close removes the session's scratch directory as a last resort; every
// transcoder invocation already cleans up after itself.
func (c *MediaCache) Close() {
	if c.cfg.ScratchDir == "" {
		return
	}
	if err := os.RemoveAll(c.cfg.ScratchDir); err != nil && c.cfg.Log != nil {
		c.cfg.Log.Error("failed to remove session scratch directory",
			slog.String("dir", c.cfg.ScratchDir),
			slog.String("error", err.Error()),
		)
	}
}
