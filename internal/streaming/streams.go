package streaming

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// StreamIndex selects one track of a media file. Non-negative values select
// an explicit track index; the two negative sentinels select the default
// video or audio track.
type StreamIndex int

const (
	// StreamVideo selects the primary video track.
	StreamVideo StreamIndex = -1
	// StreamAudio selects the default audio track.
	StreamAudio StreamIndex = -2
)

// FFmpegMap returns the -map specifier for this selector.
func (s StreamIndex) FFmpegMap() string {
	switch s {
	case StreamVideo:
		return "0:v:0"
	case StreamAudio:
		return "0:a:0"
	default:
		return fmt.Sprintf("0:%d", int(s))
	}
}

// StreamIndices is a normalized set of track selectors. Ident is the
// canonical string form: "v" first if video is selected, then "a" if audio
// is selected, then the explicit indices in ascending order, comma-joined.
// Equal logical selections always produce equal Idents regardless of input
// order, which is what makes the Ident usable as a cache key.
type StreamIndices struct {
	Ident   string
	Streams []StreamIndex
}

// NewStreamIndices normalizes the given selectors into their canonical form,
// deduplicating and ordering them.
func NewStreamIndices(streams []StreamIndex) StreamIndices {
	var hasVideo, hasAudio bool
	seen := make(map[int]bool)
	var indices []int

	for _, s := range streams {
		switch s {
		case StreamVideo:
			hasVideo = true
		case StreamAudio:
			hasAudio = true
		default:
			if n := int(s); n >= 0 && !seen[n] {
				seen[n] = true
				indices = append(indices, n)
			}
		}
	}
	sort.Ints(indices)

	var parts []string
	var normalized []StreamIndex
	if hasVideo {
		parts = append(parts, "v")
		normalized = append(normalized, StreamVideo)
	}
	if hasAudio {
		parts = append(parts, "a")
		normalized = append(normalized, StreamAudio)
	}
	for _, n := range indices {
		parts = append(parts, strconv.Itoa(n))
		normalized = append(normalized, StreamIndex(n))
	}

	return StreamIndices{
		Ident:   strings.Join(parts, ","),
		Streams: normalized,
	}
}

// ParseStreamIndices parses a comma-separated selection string ("v", "a", or
// a non-negative track index per token). An empty token terminates the list,
// so trailing commas are accepted. Anything else is ErrBadSelection.
func ParseStreamIndices(s string) (StreamIndices, error) {
	var streams []StreamIndex
	for _, token := range strings.Split(s, ",") {
		if token == "" {
			break
		}
		switch token {
		case "v":
			streams = append(streams, StreamVideo)
		case "a":
			streams = append(streams, StreamAudio)
		default:
			n, err := strconv.Atoi(token)
			if err != nil || n < 0 {
				return StreamIndices{}, fmt.Errorf("%w: %q", ErrBadSelection, token)
			}
			streams = append(streams, StreamIndex(n))
		}
	}
	if len(streams) == 0 {
		return StreamIndices{}, fmt.Errorf("%w: empty selection", ErrBadSelection)
	}
	return NewStreamIndices(streams), nil
}
