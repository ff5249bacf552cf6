package streaming

import (
	"fmt"
	"strconv"
	"strings"
)

// TokenKind distinguishes the two media token forms.
type TokenKind int

const (
	TokenManifest TokenKind = iota
	TokenSegment
)

// MediaToken is a parsed stream URL: either
// "{session}.{selection}.m3u8" for a manifest or
// "{session}.{index}.{selection}.ts" for a segment. The filenames embedded in
// synthesized manifests follow the segment form, so segments resolve as
// siblings of their manifest.
type MediaToken struct {
	SessionID string
	Kind      TokenKind
	Index     int
	Selection StreamIndices
}

// ParseMediaToken parses a stream token.
func ParseMediaToken(token string) (MediaToken, error) {
	switch {
	case strings.HasSuffix(token, ".m3u8"):
		rest := strings.TrimSuffix(token, ".m3u8")
		session, selection, ok := strings.Cut(rest, ".")
		if !ok || session == "" {
			return MediaToken{}, fmt.Errorf("%w: %q", ErrBadToken, token)
		}
		sel, err := ParseStreamIndices(selection)
		if err != nil {
			return MediaToken{}, fmt.Errorf("%w: %q", ErrBadToken, token)
		}
		return MediaToken{SessionID: session, Kind: TokenManifest, Selection: sel}, nil

	case strings.HasSuffix(token, ".ts"):
		rest := strings.TrimSuffix(token, ".ts")
		session, rest, ok := strings.Cut(rest, ".")
		if !ok || session == "" {
			return MediaToken{}, fmt.Errorf("%w: %q", ErrBadToken, token)
		}
		indexStr, selection, ok := strings.Cut(rest, ".")
		if !ok {
			return MediaToken{}, fmt.Errorf("%w: %q", ErrBadToken, token)
		}
		index, err := strconv.Atoi(indexStr)
		if err != nil || index < 0 {
			return MediaToken{}, fmt.Errorf("%w: bad segment index in %q", ErrBadToken, token)
		}
		sel, err := ParseStreamIndices(selection)
		if err != nil {
			return MediaToken{}, fmt.Errorf("%w: %q", ErrBadToken, token)
		}
		return MediaToken{SessionID: session, Kind: TokenSegment, Index: index, Selection: sel}, nil

	default:
		return MediaToken{}, fmt.Errorf("%w: %q", ErrBadToken, token)
	}
}
