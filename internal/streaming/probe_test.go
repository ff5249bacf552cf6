package streaming

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

// stubBinary writes an executable shell script standing in for an external
// tool.
func stubBinary(t *testing.T, script string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("stub scripts require a POSIX shell")
	}

	path := filepath.Join(t.TempDir(), "stub")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0o755); err != nil {
		t.Fatalf("writing stub: %v", err)
	}
	return path
}

const ffprobeScript = `case "$*" in
*packet=pts_time,flags*)
	printf '0.000000,K_\n0.416667,__\n2.000000,K_\n\n4.000000,K\n'
	;;
*format=duration*)
	printf '8.5\n'
	;;
esac
`

func TestFFProber_KeyframeTimes(t *testing.T) {
	p := NewFFProber(stubBinary(t, ffprobeScript), nil)

	times, err := p.KeyframeTimes(context.Background(), "in.mkv")
	if err != nil {
		t.Fatalf("KeyframeTimes: %v", err)
	}

	want := []float64{0, 2, 4}
	if len(times) != len(want) {
		t.Fatalf("got %v, want %v", times, want)
	}
	for i := range want {
		if times[i] != want[i] {
			t.Errorf("times[%d] = %v, want %v", i, times[i], want[i])
		}
	}
}

func TestFFProber_Duration(t *testing.T) {
	p := NewFFProber(stubBinary(t, ffprobeScript), nil)

	d, err := p.Duration(context.Background(), "in.mkv")
	if err != nil {
		t.Fatalf("Duration: %v", err)
	}
	if d != 8.5 {
		t.Errorf("Duration = %v, want 8.5", d)
	}
}

func TestFFProber_noKeyframes(t *testing.T) {
	p := NewFFProber(stubBinary(t, `printf '0.000000,__\n'`), nil)

	_, err := p.KeyframeTimes(context.Background(), "in.mkv")
	if !errors.Is(err, ErrProbeFailed) {
		t.Errorf("want ErrProbeFailed, got %v", err)
	}
}

func TestFFProber_commandFailure(t *testing.T) {
	p := NewFFProber(stubBinary(t, `echo 'broken input' >&2; exit 1`), nil)

	if _, err := p.KeyframeTimes(context.Background(), "in.mkv"); !errors.Is(err, ErrProbeFailed) {
		t.Errorf("KeyframeTimes: want ErrProbeFailed, got %v", err)
	}
	if _, err := p.Duration(context.Background(), "in.mkv"); !errors.Is(err, ErrProbeFailed) {
		t.Errorf("Duration: want ErrProbeFailed, got %v", err)
	}
}

func TestFirstLine(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"one line", "one line"},
		{"first\nsecond\n", "first"},
		{"  padded  \n", "padded"},
	}
	for _, tc := range tests {
		if got := firstLine(tc.in); got != tc.want {
			t.Errorf("firstLine(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
