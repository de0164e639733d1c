package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sandeepts224/AI-multi-model-assistant/pkg/models"
)

const (
	mimeMP3    = "audio/mp3"
	mimeMPEGTS = "video/mpeg"
)

// FFmpegConfig describes how ffmpeg reaches a device.
type FFmpegConfig struct {
	Command     string
	InputFormat string
	InputDevice string
	SampleRate  int
	Channels    int
	FrameRate   int
}

// FFmpegAcquirer captures one media kind through an ffmpeg subprocess. Audio
// is encoded as MP3 frames and the screen as MPEG-TS, so any run of
// timeslices is decodable on its own.
type FFmpegAcquirer struct {
	kind    models.MediaKind
	cfg     FFmpegConfig
	startup time.Duration
}

func NewFFmpegAcquirer(kind models.MediaKind, cfg FFmpegConfig) *FFmpegAcquirer {
	if cfg.Command == "" {
		cfg.Command = "ffmpeg"
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}
	if cfg.FrameRate <= 0 {
		cfg.FrameRate = 5
	}
	if cfg.InputFormat == "" {
		if kind == models.MediaScreen {
			cfg.InputFormat = "x11grab"
		} else {
			cfg.InputFormat = "pulse"
		}
	}
	if cfg.InputDevice == "" {
		if kind == models.MediaScreen {
			cfg.InputDevice = ":0.0"
		} else {
			cfg.InputDevice = "default"
		}
	}
	return &FFmpegAcquirer{kind: kind, cfg: cfg, startup: 250 * time.Millisecond}
}

func (a *FFmpegAcquirer) args() []string {
	args := []string{
		"-nostdin",
		"-hide_banner",
		"-loglevel", "warning",
		"-f", a.cfg.InputFormat,
	}

	if a.kind == models.MediaScreen {
		fps := strconv.Itoa(a.cfg.FrameRate)
		return append(args,
			"-framerate", fps,
			"-i", a.cfg.InputDevice,
			"-an",
			"-c:v", "libx264",
			"-preset", "ultrafast",
			"-tune", "zerolatency",
			"-pix_fmt", "yuv420p",
			"-g", strconv.Itoa(a.cfg.FrameRate*2),
			"-f", "mpegts",
			"-",
		)
	}

	return append(args,
		"-i", a.cfg.InputDevice,
		"-vn",
		"-ac", strconv.Itoa(a.cfg.Channels),
		"-ar", strconv.Itoa(a.cfg.SampleRate),
		"-c:a", "libmp3lame",
		"-b:a", "64k",
		"-f", "mp3",
		"-",
	)
}

func (a *FFmpegAcquirer) mimeType() string {
	if a.kind == models.MediaScreen {
		return mimeMPEGTS
	}
	return mimeMP3
}

// Acquire starts ffmpeg and watches it for a short startup window. ctx
// bounds that window only; once returned, the stream runs until Stop.
func (a *FFmpegAcquirer) Acquire(ctx context.Context) (Stream, error) {
	pr, pw, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create ffmpeg stdout pipe: %w", err)
	}

	cmd := exec.Command(a.cfg.Command, a.args()...)
	detach(cmd)
	stderr := &lockedBuffer{}
	cmd.Stdout = pw
	cmd.Stderr = stderr

	err = cmd.Start()
	// The child holds its own copy of the write end, so reads see EOF
	// only after every byte ffmpeg wrote.
	_ = pw.Close()
	if err != nil {
		_ = pr.Close()
		return nil, classifyStartError(err, "")
	}

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
		close(waitErr)
	}()

	select {
	case err := <-waitErr:
		_ = pr.Close()
		if err == nil {
			err = errors.New("ffmpeg exited before capture started")
		}
		return nil, classifyStartError(err, stderr.String())
	case <-ctx.Done():
		_ = cmd.Process.Kill()
		<-waitErr
		_ = pr.Close()
		return nil, ctx.Err()
	case <-time.After(a.startup):
	}

	return &ffmpegStream{
		stdout:   pr,
		stderr:   stderr,
		process:  cmd.Process,
		waitErr:  waitErr,
		mimeType: a.mimeType(),
	}, nil
}

// classifyStartError maps ffmpeg start failures onto the acquisition taxonomy.
func classifyStartError(err error, stderr string) error {
	detail := strings.TrimSpace(stderr)
	if detail == "" && err != nil {
		detail = err.Error()
	}

	if errors.Is(err, exec.ErrNotFound) {
		return fmt.Errorf("%w: ffmpeg not found: %v", ErrDeviceUnavailable, err)
	}

	lower := strings.ToLower(stderr)
	switch {
	case strings.Contains(lower, "permission denied"),
		strings.Contains(lower, "not authorized"),
		strings.Contains(lower, "operation not permitted"):
		return fmt.Errorf("%w: %s", ErrPermissionDenied, detail)
	case strings.Contains(lower, "cancel"):
		return fmt.Errorf("%w: %s", ErrUserCancelled, detail)
	default:
		return fmt.Errorf("%w: %s", ErrDeviceUnavailable, detail)
	}
}

type ffmpegStream struct {
	stdout io.ReadCloser
	stderr *lockedBuffer

	process *os.Process
	waitErr <-chan error

	mimeType string

	stopOnce sync.Once
	stopErr  error
}

func (s *ffmpegStream) Read(p []byte) (int, error) {
	return s.stdout.Read(p)
}

func (s *ffmpegStream) MIMEType() string {
	return s.mimeType
}

func (s *ffmpegStream) Stop() error {
	s.stopOnce.Do(func() {
		if s.process != nil {
			_ = s.process.Signal(os.Interrupt)
		}

		select {
		case err, ok := <-s.waitErr:
			if ok {
				s.stopErr = normalizeStopErr(err)
			}
		case <-time.After(1200 * time.Millisecond):
			if s.process != nil {
				_ = s.process.Kill()
			}
			if err, ok := <-s.waitErr; ok {
				s.stopErr = normalizeStopErr(err)
			}
		}

		if closeErr := s.stdout.Close(); closeErr != nil && !errors.Is(closeErr, os.ErrClosed) && s.stopErr == nil {
			s.stopErr = closeErr
		}

		if s.stopErr != nil {
			if detail := strings.TrimSpace(s.stderr.String()); detail != "" {
				s.stopErr = fmt.Errorf("%w: %s", s.stopErr, detail)
			}
		}
	})
	return s.stopErr
}

func normalizeStopErr(err error) error {
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}
	return err
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
