package streaming

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"watchstream/internal/platform/metrics"
)

// Options configures a session registry.
type Options struct {
	Library Library
	Prober  Prober
	// NewTranscoder builds the per-session transcoder; nil selects ffmpeg
	// with a session-scoped scratch directory under ScratchRoot.
	NewTranscoder func(sessionID string) Transcoder
	ScratchRoot   string
	FFmpegBin     string
	CacheCapacity int
	Precompute    int
	TargetSeconds float64
	// NotificationDelay overrides the coalescing window; zero keeps the
	// one-second default.
	NotificationDelay time.Duration
	Log               *slog.Logger
	Metrics           *metrics.Metrics
}

// SessionInfo is the browsable summary of one active session.
type SessionInfo struct {
	SessionID string `json:"session_id"`
	ContentID int64  `json:"content_id"`
	Viewers   int    `json:"viewers"`
}

// Registry owns all live sessions. Sessions are created on the first viewer
// request for a content id and removed once their last viewer disconnects.
type Registry struct {
	opts Options
	ctx  context.Context

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewRegistry returns an empty registry. Session background tasks are
// spawned against ctx and stop when it is cancelled.
func NewRegistry(ctx context.Context, opts Options) *Registry {
	if opts.NewTranscoder == nil {
		opts.NewTranscoder = func(sessionID string) Transcoder {
			return NewFFmpegTranscoder(opts.FFmpegBin, filepath.Join(opts.ScratchRoot, sessionID), opts.Log)
		}
	}
	return &Registry{
		opts:     opts,
		ctx:      ctx,
		sessions: make(map[string]*Session),
	}
}

// Create builds a new session for a content id under a fresh id. ctx covers
// only the synchronous probe and library work; the session's background tasks
// run under the registry's lifecycle context.
func (r *Registry) Create(ctx context.Context, contentID int64) (*Session, error) {
	id := r.newSessionID()

	session, err := newSession(ctx, id, contentID, sessionDeps{
		lifecycle:     r.ctx,
		lib:           r.opts.Library,
		prober:        r.opts.Prober,
		newTranscoder: r.opts.NewTranscoder,
		scratchRoot:   r.opts.ScratchRoot,
		capacity:      r.opts.CacheCapacity,
		precompute:    r.opts.Precompute,
		targetSeconds: r.opts.TargetSeconds,
		delay:         r.opts.NotificationDelay,
		log:           r.opts.Log,
		metrics:       r.opts.Metrics,
	})
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.sessions[id] = session
	r.mu.Unlock()

	if r.opts.Log != nil {
		r.opts.Log.Info("session created",
			slog.String("session_id", id),
			slog.Int64("content_id", contentID),
		)
	}
	return session, nil
}

// newSessionID draws random ids until one is unused.
func (r *Registry) newSessionID() string {
	for {
		id := uuid.NewString()
		if _, taken := r.Get(id); !taken {
			return id
		}
	}
}

// Get returns a live session by id.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Remove drops a session and releases its resources.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()

	if ok {
		s.Close()
		if r.opts.Log != nil {
			r.opts.Log.Info("session removed", slog.String("session_id", id))
		}
	}
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Snapshot lists the live sessions for the browsing surface.
func (r *Registry) Snapshot() []SessionInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	infos := make([]SessionInfo, 0, len(r.sessions))
	for id, s := range r.sessions {
		infos = append(infos, SessionInfo{
			SessionID: id,
			ContentID: s.ContentID(),
			Viewers:   s.ViewerCount(),
		})
	}
	return infos
}

// Context returns the lifecycle context session tasks run under.
func (r *Registry) Context() context.Context {
	return r.ctx
}
