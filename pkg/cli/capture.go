package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sandeepts224/AI-multi-model-assistant/pkg/capture"
	"github.com/sandeepts224/AI-multi-model-assistant/pkg/config"
	"github.com/sandeepts224/AI-multi-model-assistant/pkg/models"
	"github.com/sandeepts224/AI-multi-model-assistant/pkg/session"
	"github.com/sandeepts224/AI-multi-model-assistant/pkg/sink"
	"github.com/sandeepts224/AI-multi-model-assistant/pkg/transport"
)

type captureOptions struct {
	audio    bool
	screen   bool
	duration time.Duration
	mode     string
	server   string
	mirror   string
	toggle   bool
}

func NewCaptureCmd(deps *Dependencies) *cobra.Command {
	var opts captureOptions

	cmd := &cobra.Command{
		Use:   "capture",
		Short: "Record and stream audio and/or screen for live analysis",
		Long: "Record the microphone and/or the screen, upload each chunk to the analysis server and print\n" +
			"the analysis as it arrives. Ctrl+C stops the recording; --duration stops it automatically.\n" +
			"With --interactive, audio and screen can be started and stopped independently from stdin.",
		RunE: func(cmd *cobra.Command, args []string) error {
			applyCaptureFlags(deps.Config, cmd, opts)
			return runCapture(cmd.Context(), deps, selectKinds(opts.audio, opts.screen), opts.mirror, opts.toggle)
		},
	}

	cmd.Flags().BoolVar(&opts.audio, "audio", false, "Record the microphone")
	cmd.Flags().BoolVar(&opts.screen, "screen", false, "Record the screen")
	cmd.Flags().DurationVarP(&opts.duration, "duration", "d", 0, "Stop automatically after this long (overrides session.max_duration)")
	cmd.Flags().StringVar(&opts.mode, "transport", "", "Chunk transport: ws or http")
	cmd.Flags().StringVar(&opts.server, "server", "", "Analysis server URL")
	cmd.Flags().StringVar(&opts.mirror, "mirror", "", "Also append every result as a JSON line to this file")
	cmd.Flags().BoolVarP(&opts.toggle, "interactive", "i", false, "Read commands from stdin while recording: a toggles audio, s toggles the screen")

	return cmd
}

func applyCaptureFlags(cfg *config.Config, cmd *cobra.Command, opts captureOptions) {
	if cmd.Flags().Changed("duration") {
		cfg.Session.MaxDuration = opts.duration
	}
	if opts.mode != "" {
		cfg.Transport.Mode = opts.mode
	}
	if opts.server != "" {
		cfg.Transport.ServerURL = opts.server
	}
}

// selectKinds records both sources when neither flag is given.
func selectKinds(audio, screen bool) []models.MediaKind {
	if !audio && !screen {
		return []models.MediaKind{models.MediaAudio, models.MediaScreen}
	}
	var kinds []models.MediaKind
	if audio {
		kinds = append(kinds, models.MediaAudio)
	}
	if screen {
		kinds = append(kinds, models.MediaScreen)
	}
	return kinds
}

func newAcquirers(cfg config.CaptureConfig) (audio, screen capture.Acquirer) {
	if cfg.Backend == "portaudio" {
		audio = capture.NewPortAudioAcquirer(cfg.SampleRate, cfg.Channels)
	} else {
		audio = capture.NewFFmpegAcquirer(models.MediaAudio, capture.FFmpegConfig{
			Command:     cfg.FFmpeg,
			InputFormat: cfg.AudioFormat,
			InputDevice: cfg.AudioDevice,
			SampleRate:  cfg.SampleRate,
			Channels:    cfg.Channels,
		})
	}
	screen = capture.NewFFmpegAcquirer(models.MediaScreen, capture.FFmpegConfig{
		Command:     cfg.FFmpeg,
		InputFormat: cfg.ScreenFormat,
		InputDevice: cfg.ScreenDevice,
		FrameRate:   cfg.FrameRate,
	})
	return audio, screen
}

// captureEvents reports session events on the terminal and signals when
// a session ends without a manual stop.
type captureEvents struct {
	session.LogEvents
	out   *Formatter
	ended chan struct{}
}

func newCaptureEvents(logEvents session.LogEvents, out *Formatter) *captureEvents {
	return &captureEvents{LogEvents: logEvents, out: out, ended: make(chan struct{}, 1)}
}

func (e *captureEvents) SessionStateChanged(sessionID string, state session.State) {
	e.LogEvents.SessionStateChanged(sessionID, state)
	if state == session.StateIdle {
		select {
		case e.ended <- struct{}{}:
		default:
		}
	}
}

func (e *captureEvents) ChunkDropped(chunk *models.Chunk, err error) {
	e.LogEvents.ChunkDropped(chunk, err)
	e.out.Warning(fmt.Sprintf("%s chunk %d was not delivered: %v", chunk.Kind.Label(), chunk.Seq, err))
}

func (e *captureEvents) SessionError(sessionID string, err error) {
	e.LogEvents.SessionError(sessionID, err)
	e.out.Error(err.Error())
}

func runCapture(ctx context.Context, deps *Dependencies, kinds []models.MediaKind, mirrorPath string, toggle bool) error {
	cfg := deps.Config
	log := deps.Log
	out := NewFormatter(deps.Out)

	if ctx == nil {
		ctx = context.Background()
	}
	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	sessCfg, err := session.ConfigFrom(cfg)
	if err != nil {
		return err
	}

	audioAcq, screenAcq := newAcquirers(cfg.Capture)
	sources := capture.NewManager(audioAcq, screenAcq, log)
	defer sources.ReleaseAll()

	var analyses atomic.Int64
	results := sink.New()
	results.Register("terminal", out.Result)
	results.Register("count", func(models.AnalysisResult) { analyses.Add(1) })

	if mirrorPath != "" {
		f, err := os.OpenFile(mirrorPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("failed to open mirror file: %w", err)
		}
		defer f.Close()
		mirror := sink.NewJSONLinesMirror(f)
		results.Register("mirror", mirror.Consume)
		defer func() {
			if err := mirror.Err(); err != nil {
				out.Warning(fmt.Sprintf("mirror file incomplete: %v", err))
			}
		}()
	}

	events := newCaptureEvents(session.LogEvents{Log: log}, out)
	dial := func() (transport.Channel, error) {
		return transport.New(cfg.Transport, log)
	}
	controller := session.NewController(sources, dial, results, events, sessCfg, log)

	// ctx, not sigCtx: the capture processes must outlive the interrupt so
	// the trailing chunk can be flushed.
	if err := controller.Start(ctx, kinds...); err != nil {
		return describeStartError(err)
	}

	started := time.Now()
	out.RecordingStarted(kinds, sessCfg.MaxDuration)

	if toggle {
		out.Info("Type a and Enter to toggle audio, s and Enter to toggle the screen")
		// The scanner blocks on stdin, so this goroutine outlives the
		// session and ends with the process.
		go readToggles(sigCtx, deps.In, controller, out)
	}

	select {
	case <-sigCtx.Done():
		stopCtx, cancel := context.WithTimeout(context.Background(), sessCfg.ResultGrace+10*time.Second)
		defer cancel()
		switch err := controller.Stop(stopCtx); {
		case err == nil:
		case errors.Is(err, session.ErrNoActiveSession), errors.Is(err, session.ErrIllegalTransition):
			// The timer or a failed source got there first.
			<-events.ended
		default:
			return err
		}
	case <-events.ended:
	}

	out.RecordingStopped(time.Since(started), int(analyses.Load()))
	return nil
}

func describeStartError(err error) error {
	switch {
	case errors.Is(err, capture.ErrUserCancelled):
		return fmt.Errorf("recording cancelled: %w", err)
	case errors.Is(err, capture.ErrPermissionDenied):
		return fmt.Errorf("permission to capture was denied: %w", err)
	case errors.Is(err, capture.ErrDeviceUnavailable):
		return fmt.Errorf("capture device unavailable: %w", err)
	case errors.Is(err, transport.ErrTransport):
		return fmt.Errorf("could not reach the analysis server: %w", err)
	default:
		return err
	}
}
