package streaming

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"

	"github.com/google/uuid"
)

// Transcoder materializes one batch of consecutive media segments for a
// stream selection. Implementations invoke an external tool; tests
// substitute a fake.
type Transcoder interface {
	Transcode(ctx context.Context, source string, win Segmentation, sel StreamIndices) ([]MediaSegment, error)
}

// FFmpegTranscoder produces segments by running ffmpeg in copy mode against
// a private scratch directory. Every invocation owns a fresh directory under
// ScratchDir and removes it before returning, so the on-disk footprint is
// empty after each batch.
type FFmpegTranscoder struct {
	Bin        string
	ScratchDir string
	Log        *slog.Logger
}

// NewFFmpegTranscoder returns a Transcoder using the given ffmpeg binary
// ("ffmpeg" if empty) and scratch root.
func NewFFmpegTranscoder(bin, scratchDir string, log *slog.Logger) *FFmpegTranscoder {
	if bin == "" {
		bin = "ffmpeg"
	}
	return &FFmpegTranscoder{Bin: bin, ScratchDir: scratchDir, Log: log}
}

// Transcode implements Transcoder. It seeks to the window's start, copies the
// selected streams without re-encoding, splits the output at the window's
// segment and keyframe timestamps, numbers the files from the window's start
// index, and reads the produced files back into memory.
func (t *FFmpegTranscoder) Transcode(ctx context.Context, source string, win Segmentation, sel StreamIndices) ([]MediaSegment, error) {
	workDir := filepath.Join(t.ScratchDir, uuid.NewString())
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating scratch directory: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(workDir); err != nil && t.Log != nil {
			t.Log.Error("failed to remove scratch directory",
				slog.String("dir", workDir),
				slog.String("error", err.Error()),
			)
		}
	}()

	args := []string{
		"-loglevel", "error",
		"-ss", fmtSeconds(win.StartTime),
		"-t", fmtSeconds(win.Duration),
		"-copyts",
		"-i", source,
	}
	for _, stream := range sel.Streams {
		args = append(args, "-map", stream.FFmpegMap())
	}
	args = append(args,
		"-c", "copy",
		"-f", "segment",
		"-segment_times", win.SegmentTimes,
		"-force_key_frames", win.KeyframeTimes,
		"-segment_start_number", strconv.Itoa(win.StartIndex),
		"-segment_time_delta", "0.5",
		"-hls_flags", "independent_segments",
		"-segment_format", "mpegts",
		"-y",
		"%d.ts",
	)

	cmd := exec.CommandContext(ctx, t.Bin, args...)
	cmd.Dir = workDir

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if t.Log != nil {
			t.Log.Error("ffmpeg failed",
				slog.String("source", source),
				slog.Int("start_index", win.StartIndex),
				slog.String("error", err.Error()),
				slog.String("stderr", firstLine(stderr.String())),
			)
		}
		return nil, fmt.Errorf("%w: %v", ErrTranscodeFailed, err)
	}

	var segments []MediaSegment
	for i := win.StartIndex; i < win.StartIndex+win.SegmentCount; i++ {
		data, err := os.ReadFile(filepath.Join(workDir, strconv.Itoa(i)+".ts"))
		if err != nil {
			// ffmpeg may legitimately produce fewer files at end of content.
			break
		}
		segments = append(segments, MediaSegment{
			Data:        data,
			Index:       i,
			StreamIdent: sel.Ident,
		})
	}

	if len(segments) == 0 {
		return nil, fmt.Errorf("%w: no output produced for index %d", ErrTranscodeFailed, win.StartIndex)
	}
	return segments, nil
}
