package streaming

import (
	"context"
	"errors"
	"testing"
)

func TestParseMediaToken_manifest(t *testing.T) {
	tok, err := ParseMediaToken("abc-123.v,a.m3u8")
	if err != nil {
		t.Fatalf("ParseMediaToken: %v", err)
	}
	if tok.Kind != TokenManifest {
		t.Errorf("Kind = %v, want TokenManifest", tok.Kind)
	}
	if tok.SessionID != "abc-123" {
		t.Errorf("SessionID = %q, want %q", tok.SessionID, "abc-123")
	}
	if tok.Selection.Ident != "v,a" {
		t.Errorf("Selection.Ident = %q, want %q", tok.Selection.Ident, "v,a")
	}
}

func TestParseMediaToken_segment(t *testing.T) {
	tok, err := ParseMediaToken("abc-123.14.v,a,2.ts")
	if err != nil {
		t.Fatalf("ParseMediaToken: %v", err)
	}
	if tok.Kind != TokenSegment {
		t.Errorf("Kind = %v, want TokenSegment", tok.Kind)
	}
	if tok.SessionID != "abc-123" {
		t.Errorf("SessionID = %q, want %q", tok.SessionID, "abc-123")
	}
	if tok.Index != 14 {
		t.Errorf("Index = %d, want 14", tok.Index)
	}
	if tok.Selection.Ident != "v,a,2" {
		t.Errorf("Selection.Ident = %q, want %q", tok.Selection.Ident, "v,a,2")
	}
}

func TestParseMediaToken_matchesSynthesizedFilenames(t *testing.T) {
	// Filenames embedded in a synthesized manifest must parse back to the same
	// session, index, and selection.
	plan := PlanSegments([]float64{0, 10}, 20, 10)
	set := NewPlaylistSet("sess", 1, plan, 4, nil)
	sel := NewStreamIndices([]StreamIndex{StreamVideo, StreamAudio})

	manifest, err := set.Manifest(context.Background(), sel)
	if err != nil {
		t.Fatalf("Manifest: %v", err)
	}
	for _, line := range manifestMediaLines(manifest) {
		tok, err := ParseMediaToken(line)
		if err != nil {
			t.Fatalf("ParseMediaToken(%q): %v", line, err)
		}
		if tok.SessionID != "sess" || tok.Selection.Ident != sel.Ident {
			t.Errorf("token %q parsed to session %q selection %q", line, tok.SessionID, tok.Selection.Ident)
		}
	}
}

func TestParseMediaToken_rejectsBadTokens(t *testing.T) {
	bad := []string{
		"",
		"noextension",
		"sess.v,a.mp4",
		".v,a.m3u8",
		"sess.m3u8",
		"sess.x.m3u8",
		"sess.5.ts",
		"sess.-1.v.ts",
		"sess.one.v.ts",
	}
	for _, token := range bad {
		if _, err := ParseMediaToken(token); !errors.Is(err, ErrBadToken) {
			t.Errorf("ParseMediaToken(%q): want ErrBadToken, got %v", token, err)
		}
	}
}
