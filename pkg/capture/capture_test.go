package capture

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sandeepts224/AI-multi-model-assistant/pkg/logging"
	"github.com/sandeepts224/AI-multi-model-assistant/pkg/models"
)

type fakeStream struct {
	mu      sync.Mutex
	stops   int
	stopErr error
	reader  io.Reader
}

func (s *fakeStream) Read(p []byte) (int, error) {
	if s.reader == nil {
		return 0, io.EOF
	}
	return s.reader.Read(p)
}

func (s *fakeStream) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stops++
	return s.stopErr
}

func (s *fakeStream) MIMEType() string { return "audio/mp3" }

func (s *fakeStream) stopCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stops
}

func TestManagerAcquireRelease(t *testing.T) {
	t.Parallel()

	audio := &fakeStream{}
	screen := &fakeStream{}
	m := NewManager(
		AcquirerFunc(func(context.Context) (Stream, error) { return audio, nil }),
		AcquirerFunc(func(context.Context) (Stream, error) { return screen, nil }),
		logging.Discard(),
	)

	a, err := m.AcquireAudio(context.Background())
	if err != nil {
		t.Fatalf("acquire audio: %v", err)
	}
	s, err := m.AcquireScreen(context.Background())
	if err != nil {
		t.Fatalf("acquire screen: %v", err)
	}
	if a.State() != Active || s.State() != Active {
		t.Fatalf("expected active handles, got %s and %s", a.State(), s.State())
	}
	if a.Kind != models.MediaAudio || s.Kind != models.MediaScreen {
		t.Fatalf("unexpected kinds %s/%s", a.Kind, s.Kind)
	}

	if err := m.Release(a); err != nil {
		t.Fatalf("release: %v", err)
	}
	if err := m.Release(a); err != nil {
		t.Fatalf("second release should be a no-op, got %v", err)
	}
	if audio.stopCount() != 1 {
		t.Fatalf("expected one stop on the audio stream, got %d", audio.stopCount())
	}
	if a.State() != Stopped {
		t.Fatalf("expected stopped handle, got %s", a.State())
	}

	stats := m.Stats()
	if stats.Acquired != 2 || stats.Released != 1 || stats.Active != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}

	m.ReleaseAll()
	if stats := m.Stats(); stats.Released != 2 || stats.Active != 0 {
		t.Fatalf("expected all released, got %+v", stats)
	}
}

func TestManagerIndependentLifetimes(t *testing.T) {
	t.Parallel()

	m := NewManager(
		AcquirerFunc(func(context.Context) (Stream, error) { return &fakeStream{}, nil }),
		AcquirerFunc(func(context.Context) (Stream, error) { return &fakeStream{}, nil }),
		logging.Discard(),
	)

	screen, err := m.AcquireScreen(context.Background())
	if err != nil {
		t.Fatalf("acquire screen: %v", err)
	}

	for i := 0; i < 3; i++ {
		mic, err := m.AcquireAudio(context.Background())
		if err != nil {
			t.Fatalf("acquire audio cycle %d: %v", i, err)
		}
		if err := m.Release(mic); err != nil {
			t.Fatalf("release audio cycle %d: %v", i, err)
		}
		if screen.State() != Active {
			t.Fatalf("screen handle should stay active across audio cycles")
		}
	}

	if stats := m.Stats(); stats.Acquired != 4 || stats.Released != 3 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestManagerAcquireErrors(t *testing.T) {
	t.Parallel()

	m := NewManager(
		AcquirerFunc(func(context.Context) (Stream, error) { return nil, ErrPermissionDenied }),
		nil,
		logging.Discard(),
	)

	if _, err := m.AcquireAudio(context.Background()); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected permission denied, got %v", err)
	}
	if _, err := m.AcquireScreen(context.Background()); !errors.Is(err, ErrNoAcquirer) {
		t.Fatalf("expected missing acquirer error, got %v", err)
	}
	if stats := m.Stats(); stats.Acquired != 0 {
		t.Fatalf("failed acquisitions must not be counted: %+v", stats)
	}
}

func TestReleaseSurfacesStopError(t *testing.T) {
	t.Parallel()

	stream := &fakeStream{stopErr: errors.New("device busy")}
	m := NewManager(AcquirerFunc(func(context.Context) (Stream, error) { return stream, nil }), nil, logging.Discard())

	h, err := m.AcquireAudio(context.Background())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if err := m.Release(h); err == nil {
		t.Fatal("expected stop error to surface")
	}
	if h.State() != Stopped {
		t.Fatalf("handle must be stopped even when stop fails")
	}
	if stats := m.Stats(); stats.Released != 1 {
		t.Fatalf("release should be counted, got %+v", stats)
	}
}

func TestClassifyStartError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		stderr string
		want   error
	}{
		{"macos permission", "AVFoundation: not authorized to capture audio", ErrPermissionDenied},
		{"permission denied", "/dev/snd: Permission denied", ErrPermissionDenied},
		{"portal cancelled", "Screencast session cancelled by user", ErrUserCancelled},
		{"missing device", "default: No such file or directory", ErrDeviceUnavailable},
		{"empty stderr", "", ErrDeviceUnavailable},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := classifyStartError(errors.New("exit status 1"), tt.stderr)
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestFFmpegArgs(t *testing.T) {
	t.Parallel()

	audio := NewFFmpegAcquirer(models.MediaAudio, FFmpegConfig{})
	args := audio.args()
	if !containsPair(args, "-f", "mp3") || !containsPair(args, "-i", "default") {
		t.Fatalf("unexpected audio args: %v", args)
	}
	if audio.mimeType() != "audio/mp3" {
		t.Fatalf("unexpected audio mime %q", audio.mimeType())
	}

	screen := NewFFmpegAcquirer(models.MediaScreen, FFmpegConfig{FrameRate: 10, InputDevice: ":1.0"})
	args = screen.args()
	if !containsPair(args, "-f", "mpegts") || !containsPair(args, "-framerate", "10") || !containsPair(args, "-i", ":1.0") {
		t.Fatalf("unexpected screen args: %v", args)
	}
	if !containsPair(args, "-f", "x11grab") {
		t.Fatalf("expected default screen input format: %v", args)
	}
}

func TestWavEncodeHeader(t *testing.T) {
	t.Parallel()

	pcm := []byte{1, 2, 3, 4}
	out := wavEncode(pcm, 16000, 1)
	if len(out) != 48 {
		t.Fatalf("expected 48 bytes, got %d", len(out))
	}
	if string(out[0:4]) != "RIFF" || string(out[8:12]) != "WAVE" || string(out[36:40]) != "data" {
		t.Fatalf("malformed header: %q", out[:44])
	}
	if !bytes.Equal(out[44:], pcm) {
		t.Fatalf("payload not preserved")
	}
}

func containsPair(args []string, flag, value string) bool {
	for i := 0; i+1 < len(args); i++ {
		if args[i] == flag && args[i+1] == value {
			return true
		}
	}
	return false
}

// scriptedFFmpeg returns an acquirer whose ffmpeg is a shell script.
func scriptedFFmpeg(t *testing.T, script string, startup time.Duration) *FFmpegAcquirer {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("needs a POSIX shell")
	}
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("needs /bin/sh")
	}

	path := filepath.Join(t.TempDir(), "ffmpeg")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+script+"\n"), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	a := NewFFmpegAcquirer(models.MediaAudio, FFmpegConfig{Command: path})
	a.startup = startup
	return a
}

func TestFFmpegStreamReadsEverythingBeforeExit(t *testing.T) {
	a := scriptedFFmpeg(t, "sleep 0.2\nprintf 'first '\nprintf 'last'", 20*time.Millisecond)

	s, err := a.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	got, err := io.ReadAll(s)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(got) != "first last" {
		t.Fatalf("expected every byte written before exit, got %q", got)
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
}

func TestFFmpegStreamOutlivesAcquireContext(t *testing.T) {
	a := scriptedFFmpeg(t, "printf 'ready'\nsleep 0.3\nprintf ' still running'", 20*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	s, err := a.Acquire(ctx)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	cancel()

	got, err := io.ReadAll(s)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(got) != "ready still running" {
		t.Fatalf("cancelling the acquire context must not end the stream, got %q", got)
	}
	_ = s.Stop()
}

func TestFFmpegAcquireHonoursContextDuringStartup(t *testing.T) {
	a := scriptedFFmpeg(t, "exec sleep 5", time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := a.Acquire(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected context.DeadlineExceeded, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("acquire took %s after its deadline", elapsed)
	}
}

func TestFFmpegEarlyExitIsClassified(t *testing.T) {
	a := scriptedFFmpeg(t, "echo 'pulse: Permission denied' >&2\nexit 1", time.Minute)

	_, err := a.Acquire(context.Background())
	if !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}
	if !strings.Contains(err.Error(), "Permission denied") {
		t.Fatalf("expected stderr in error, got %v", err)
	}
}
