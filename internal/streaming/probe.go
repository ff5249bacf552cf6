package streaming

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
)

// Prober extracts timing information from a media file. Implementations run
// an external tool; tests substitute a fake.
type Prober interface {
	// KeyframeTimes returns the presentation timestamps of every keyframe
	// packet in the primary stream, in order.
	KeyframeTimes(ctx context.Context, path string) ([]float64, error)
	// Duration returns the container duration in seconds.
	Duration(ctx context.Context, path string) (float64, error)
}

// FFProber probes media files with ffprobe.
type FFProber struct {
	Bin string
	Log *slog.Logger
}

// NewFFProber returns a Prober using the given ffprobe binary ("ffprobe" if
// empty).
func NewFFProber(bin string, log *slog.Logger) *FFProber {
	if bin == "" {
		bin = "ffprobe"
	}
	return &FFProber{Bin: bin, Log: log}
}

// KeyframeTimes implements Prober. It asks ffprobe for pts_time and flags of
// every packet in stream 0 and keeps the ones flagged as keyframes.
func (p *FFProber) KeyframeTimes(ctx context.Context, path string) ([]float64, error) {
	out, err := p.run(ctx,
		"-select_streams", "0",
		"-show_entries", "packet=pts_time,flags",
		"-of", "csv=print_section=0",
		"-i", path,
	)
	if err != nil {
		return nil, err
	}

	var times []float64
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		pts, flags, ok := strings.Cut(line, ",")
		if !ok || !strings.Contains(flags, "K") {
			continue
		}
		t, err := strconv.ParseFloat(pts, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: bad pts_time %q", ErrProbeFailed, pts)
		}
		times = append(times, t)
	}
	if len(times) == 0 {
		return nil, fmt.Errorf("%w: no keyframes found in %s", ErrProbeFailed, path)
	}
	return times, nil
}

// Duration implements Prober.
func (p *FFProber) Duration(ctx context.Context, path string) (float64, error) {
	out, err := p.run(ctx,
		"-show_entries", "format=duration",
		"-of", "csv=print_section=0",
		"-i", path,
	)
	if err != nil {
		return 0, err
	}

	d, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil {
		return 0, fmt.Errorf("%w: bad duration %q", ErrProbeFailed, strings.TrimSpace(string(out)))
	}
	return d, nil
}

func (p *FFProber) run(ctx context.Context, args ...string) ([]byte, error) {
	full := append([]string{"-loglevel", "error"}, args...)
	cmd := exec.CommandContext(ctx, p.Bin, full...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if p.Log != nil {
			p.Log.Error("ffprobe failed",
				slog.String("error", err.Error()),
				slog.String("stderr", firstLine(stderr.String())),
			)
		}
		return nil, fmt.Errorf("%w: %v", ErrProbeFailed, err)
	}
	return stdout.Bytes(), nil
}

// firstLine trims process output down to something loggable.
func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return s
}
