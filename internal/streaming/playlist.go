package streaming

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
)

// DefaultPrecomputeSegments is how many consecutive segments one transcoder
// batch materializes. Producing a single segment at a time causes more
// artifacting at segment joins and more process spawns.
const DefaultPrecomputeSegments = 4

// PlaylistStore persists synthesized manifests keyed by content id and
// canonical stream selection, so later sessions for the same content skip
// recomputation.
type PlaylistStore interface {
	PersistedPlaylist(ctx context.Context, contentID int64, ident string) (string, bool, error)
	SavePlaylist(ctx context.Context, contentID int64, ident, manifest string) error
}

// Segmentation describes the transcode window for one batch of consecutive
// segments: the seek point, the batch duration, and the split timestamps the
// transcoder must honor so output segments line up with the plan.
type Segmentation struct {
	StartIndex    int
	SegmentCount  int
	StartTime     float64
	Duration      float64
	SegmentTimes  string
	KeyframeTimes string
}

// playlist is one cached manifest for one stream selection.
type playlist struct {
	ident    string
	manifest string
}

// PlaylistSet builds and serves manifests for one session's current content.
// Manifests are computed once per selection, cached in memory for the
// lifetime of the segmentation plan, and persisted through the PlaylistStore.
type PlaylistSet struct {
	sessionID  string
	contentID  int64
	plan       SegmentPlan
	precompute int
	store      PlaylistStore

	mu        sync.Mutex
	playlists []playlist
}

// NewPlaylistSet returns a PlaylistSet over the given segmentation plan.
func NewPlaylistSet(sessionID string, contentID int64, plan SegmentPlan, precompute int, store PlaylistStore) *PlaylistSet {
	if precompute <= 0 {
		precompute = DefaultPrecomputeSegments
	}
	return &PlaylistSet{
		sessionID:  sessionID,
		contentID:  contentID,
		plan:       plan,
		precompute: precompute,
		store:      store,
	}
}

// SegmentCount returns the number of segments in the plan.
func (p *PlaylistSet) SegmentCount() int {
	return len(p.plan.Segments)
}

// MediaTime returns the total media duration the plan covers, in seconds.
func (p *PlaylistSet) MediaTime() float64 {
	return p.plan.MediaTime
}

// Manifest returns the manifest text for the given selection: from the
// in-memory cache, else rewritten from the persistent store, else freshly
// synthesized (and persisted unrewritten for future sessions).
func (p *PlaylistSet) Manifest(ctx context.Context, sel StreamIndices) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, pl := range p.playlists {
		if pl.ident == sel.Ident {
			return pl.manifest, nil
		}
	}

	if p.store != nil {
		stored, ok, err := p.store.PersistedPlaylist(ctx, p.contentID, sel.Ident)
		if err != nil {
			return "", fmt.Errorf("loading persisted playlist: %w", err)
		}
		if ok {
			rewritten := rewriteSessionIDs(stored, p.sessionID)
			p.playlists = append(p.playlists, playlist{ident: sel.Ident, manifest: rewritten})
			return rewritten, nil
		}
	}

	manifest := p.synthesize(sel)
	if p.store != nil {
		// Persisted verbatim; the session prefix is rewritten on reuse.
		if err := p.store.SavePlaylist(ctx, p.contentID, sel.Ident, manifest); err != nil {
			return "", fmt.Errorf("persisting playlist: %w", err)
		}
	}
	p.playlists = append(p.playlists, playlist{ident: sel.Ident, manifest: manifest})
	return manifest, nil
}

// synthesize emits one manifest line per planned segment, with synthetic
// segment filenames of the form {session}.{index}.{selection}.ts.
func (p *PlaylistSet) synthesize(sel StreamIndices) string {
	var b strings.Builder

	b.WriteString("#EXTM3U\n")
	b.WriteString("#EXT-X-VERSION:3\n")
	b.WriteString("#EXT-X-MEDIA-SEQUENCE:0\n")
	b.WriteString("#EXT-X-ALLOW-CACHE:YES\n")
	fmt.Fprintf(&b, "#EXT-X-TARGETDURATION:%d\n", targetDuration(p.plan.MaxDuration))

	for i, seg := range p.plan.Segments {
		fmt.Fprintf(&b, "#EXTINF:%s,\n", fmtSeconds(seg.Duration))
		fmt.Fprintf(&b, "%s.%d.%s.ts\n", p.sessionID, i, sel.Ident)
	}

	b.WriteString("#EXT-X-ENDLIST\n")
	return b.String()
}

// Window returns the transcode segmentation for p.precompute consecutive
// segments starting at startIndex, silently truncated at the end of the plan.
// It returns nil when startIndex is out of range.
func (p *PlaylistSet) Window(startIndex int) *Segmentation {
	if startIndex < 0 || startIndex >= len(p.plan.Segments) {
		return nil
	}

	win := &Segmentation{StartIndex: startIndex, StartTime: -1}
	var segmentTimes, keyframeTimes []string

	lastIndex := startIndex + p.precompute - 1
	for i := startIndex; i <= lastIndex && i < len(p.plan.Segments); i++ {
		seg := p.plan.Segments[i]

		if win.StartTime < 0 {
			win.StartTime = seg.Start
		}

		segmentTimes = append(segmentTimes, fmtSeconds(win.Duration+seg.Duration))
		keyframeTimes = append(keyframeTimes, fmtSeconds(seg.Start))

		win.Duration += seg.Duration
		win.SegmentCount++

		last := i == lastIndex || i == len(p.plan.Segments)-1
		if last {
			keyframeTimes = append(keyframeTimes, fmtSeconds(seg.End()))
		}
	}

	win.SegmentTimes = strings.Join(segmentTimes, ",")
	win.KeyframeTimes = strings.Join(keyframeTimes, ",")
	return win
}

// rewriteSessionIDs replaces the session prefix of every segment filename in
// a stored manifest with the current session's id, leaving timing lines
// untouched.
func rewriteSessionIDs(manifest, sessionID string) string {
	var b strings.Builder
	for _, line := range strings.Split(strings.TrimRight(manifest, "\n"), "\n") {
		if line != "" && !strings.HasPrefix(line, "#") {
			if _, rest, ok := strings.Cut(line, "."); ok {
				fmt.Fprintf(&b, "%s.%s\n", sessionID, rest)
				continue
			}
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return b.String()
}

// targetDuration is the manifest target-duration value: the ceiling of the
// longest segment, at least 1.
func targetDuration(maxSeconds float64) int {
	if maxSeconds <= 0 {
		return 1
	}
	return int(math.Ceil(maxSeconds))
}

// fmtSeconds formats a timestamp with no trailing zeros.
func fmtSeconds(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
