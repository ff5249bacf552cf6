package streaming

import (
	"context"
	"fmt"
	"strings"
	"testing"
)

// manifestMediaLines returns the non-tag lines of a manifest, i.e. the segment
// filenames.
func manifestMediaLines(manifest string) []string {
	var lines []string
	for _, line := range strings.Split(strings.TrimRight(manifest, "\n"), "\n") {
		if line != "" && !strings.HasPrefix(line, "#") {
			lines = append(lines, line)
		}
	}
	return lines
}

// memoryStore is an in-memory PlaylistStore for tests.
type memoryStore struct {
	manifests map[string]string
	saves     int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{manifests: make(map[string]string)}
}

func (m *memoryStore) key(contentID int64, ident string) string {
	return fmt.Sprintf("%d/%s", contentID, ident)
}

func (m *memoryStore) PersistedPlaylist(ctx context.Context, contentID int64, ident string) (string, bool, error) {
	manifest, ok := m.manifests[m.key(contentID, ident)]
	return manifest, ok, nil
}

func (m *memoryStore) SavePlaylist(ctx context.Context, contentID int64, ident, manifest string) error {
	m.saves++
	m.manifests[m.key(contentID, ident)] = manifest
	return nil
}

func testPlan(t *testing.T, mediaSeconds float64) SegmentPlan {
	t.Helper()
	return PlanSegments(keyframesEvery(2, mediaSeconds+1), mediaSeconds, 10)
}

func TestPlaylistSet_synthesizedManifest(t *testing.T) {
	set := NewPlaylistSet("sess", 7, testPlan(t, 60), 4, nil)
	sel := NewStreamIndices([]StreamIndex{StreamVideo, StreamAudio})

	manifest, err := set.Manifest(context.Background(), sel)
	if err != nil {
		t.Fatalf("Manifest: %v", err)
	}

	for _, tag := range []string{
		"#EXTM3U\n",
		"#EXT-X-VERSION:3\n",
		"#EXT-X-MEDIA-SEQUENCE:0\n",
		"#EXT-X-ALLOW-CACHE:YES\n",
		"#EXT-X-TARGETDURATION:10\n",
		"#EXT-X-ENDLIST\n",
	} {
		if !strings.Contains(manifest, tag) {
			t.Errorf("manifest missing %q:\n%s", strings.TrimSpace(tag), manifest)
		}
	}

	lines := manifestMediaLines(manifest)
	if len(lines) != 6 {
		t.Fatalf("expected 6 media lines for 60s of media, got %d", len(lines))
	}
	for i, line := range lines {
		want := fmt.Sprintf("sess.%d.v,a.ts", i)
		if line != want {
			t.Errorf("media line %d = %q, want %q", i, line, want)
		}
	}
	if !strings.Contains(manifest, "#EXTINF:10,\n") {
		t.Errorf("manifest missing EXTINF line:\n%s", manifest)
	}
}

func TestPlaylistSet_cachesPerSelection(t *testing.T) {
	store := newMemoryStore()
	set := NewPlaylistSet("sess", 7, testPlan(t, 60), 4, store)
	sel := NewStreamIndices([]StreamIndex{StreamVideo})

	first, err := set.Manifest(context.Background(), sel)
	if err != nil {
		t.Fatalf("Manifest: %v", err)
	}
	second, err := set.Manifest(context.Background(), sel)
	if err != nil {
		t.Fatalf("Manifest: %v", err)
	}
	if first != second {
		t.Error("same selection returned different manifests")
	}
	if store.saves != 1 {
		t.Errorf("store.saves = %d, want 1", store.saves)
	}
}

func TestPlaylistSet_persistedManifestIsRewritten(t *testing.T) {
	store := newMemoryStore()
	sel := NewStreamIndices([]StreamIndex{StreamVideo, StreamAudio})

	original := NewPlaylistSet("old-session", 7, testPlan(t, 60), 4, store)
	if _, err := original.Manifest(context.Background(), sel); err != nil {
		t.Fatalf("Manifest: %v", err)
	}

	// A later session for the same content reuses the stored manifest with its
	// own session prefix.
	reused := NewPlaylistSet("new-session", 7, testPlan(t, 60), 4, store)
	manifest, err := reused.Manifest(context.Background(), sel)
	if err != nil {
		t.Fatalf("Manifest: %v", err)
	}

	if strings.Contains(manifest, "old-session") {
		t.Errorf("rewritten manifest still references the old session:\n%s", manifest)
	}
	for i, line := range manifestMediaLines(manifest) {
		want := fmt.Sprintf("new-session.%d.v,a.ts", i)
		if line != want {
			t.Errorf("media line %d = %q, want %q", i, line, want)
		}
	}
	if store.saves != 1 {
		t.Errorf("store.saves = %d, want 1 (reuse must not re-persist)", store.saves)
	}
}

func TestPlaylistSet_storedCopyKeepsOriginalSession(t *testing.T) {
	store := newMemoryStore()
	sel := NewStreamIndices([]StreamIndex{StreamVideo})

	set := NewPlaylistSet("sess", 7, testPlan(t, 60), 4, store)
	if _, err := set.Manifest(context.Background(), sel); err != nil {
		t.Fatalf("Manifest: %v", err)
	}

	stored, ok, err := store.PersistedPlaylist(context.Background(), 7, sel.Ident)
	if err != nil || !ok {
		t.Fatalf("PersistedPlaylist: ok=%v err=%v", ok, err)
	}
	if !strings.Contains(stored, "sess.0.v.ts") {
		t.Errorf("stored manifest lost the producing session's filenames:\n%s", stored)
	}
}

func TestPlaylistSet_Window(t *testing.T) {
	set := NewPlaylistSet("sess", 7, testPlan(t, 60), 4, nil)

	win := set.Window(0)
	if win == nil {
		t.Fatal("Window(0) = nil")
	}
	if win.StartIndex != 0 || win.SegmentCount != 4 {
		t.Errorf("window = {start %d count %d}, want {0 4}", win.StartIndex, win.SegmentCount)
	}
	if win.StartTime != 0 || win.Duration != 40 {
		t.Errorf("window = {time %v duration %v}, want {0 40}", win.StartTime, win.Duration)
	}
	if win.SegmentTimes != "10,20,30,40" {
		t.Errorf("SegmentTimes = %q, want %q", win.SegmentTimes, "10,20,30,40")
	}
	if win.KeyframeTimes != "0,10,20,30,40" {
		t.Errorf("KeyframeTimes = %q, want %q", win.KeyframeTimes, "0,10,20,30,40")
	}
}

func TestPlaylistSet_WindowTruncatedAtPlanEnd(t *testing.T) {
	set := NewPlaylistSet("sess", 7, testPlan(t, 60), 4, nil)

	win := set.Window(4)
	if win == nil {
		t.Fatal("Window(4) = nil")
	}
	if win.SegmentCount != 2 {
		t.Errorf("SegmentCount = %d, want 2 (plan has 6 segments)", win.SegmentCount)
	}
	if win.StartTime != 40 || win.Duration != 20 {
		t.Errorf("window = {time %v duration %v}, want {40 20}", win.StartTime, win.Duration)
	}
	if win.KeyframeTimes != "40,50,60" {
		t.Errorf("KeyframeTimes = %q, want %q", win.KeyframeTimes, "40,50,60")
	}
}

func TestPlaylistSet_WindowOutOfRange(t *testing.T) {
	set := NewPlaylistSet("sess", 7, testPlan(t, 60), 4, nil)
	if win := set.Window(-1); win != nil {
		t.Errorf("Window(-1) = %+v, want nil", win)
	}
	if win := set.Window(set.SegmentCount()); win != nil {
		t.Errorf("Window(len) = %+v, want nil", win)
	}
}

func TestTargetDuration(t *testing.T) {
	tests := []struct {
		max  float64
		want int
	}{
		{0, 1},
		{0.5, 1},
		{10, 10},
		{10.01, 11},
	}
	for _, tc := range tests {
		if got := targetDuration(tc.max); got != tc.want {
			t.Errorf("targetDuration(%v) = %d, want %d", tc.max, got, tc.want)
		}
	}
}

func TestFmtSeconds(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{10, "10"},
		{5.5, "5.5"},
		{0, "0"},
		{3.336667, "3.336667"},
	}
	for _, tc := range tests {
		if got := fmtSeconds(tc.in); got != tc.want {
			t.Errorf("fmtSeconds(%v) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
