package streaming

import "errors"

var (
	// ErrProbeFailed is returned when the external probe tool fails or its
	// output cannot be parsed. Fatal for the content item; not retried.
	ErrProbeFailed = errors.New("media probe failed")

	// ErrTranscodeFailed is returned when the external transcoder exits
	// non-zero or produces no output for the requested segment. Surfaced to
	// the client as a missing segment; never cached.
	ErrTranscodeFailed = errors.New("transcode failed")

	// ErrContentNotFound is returned when the library has no entry for the
	// requested content id.
	ErrContentNotFound = errors.New("content not found")

	// ErrBadSelection is returned for a stream selection string that cannot
	// be parsed.
	ErrBadSelection = errors.New("invalid stream selection")

	// ErrBadToken is returned for a media token that does not match either
	// the manifest or the segment form.
	ErrBadToken = errors.New("malformed media token")

	// ErrSegmentOutOfRange is returned for a segment index past the end of
	// the segmentation plan.
	ErrSegmentOutOfRange = errors.New("segment index out of range")
)
