package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sandeepts224/AI-multi-model-assistant/pkg/analysis"
	"github.com/sandeepts224/AI-multi-model-assistant/pkg/config"
	"github.com/sandeepts224/AI-multi-model-assistant/pkg/logging"
	"github.com/sandeepts224/AI-multi-model-assistant/pkg/models"
	"github.com/sandeepts224/AI-multi-model-assistant/pkg/storage"
)

type fakeAnalyzer struct {
	analyze func(ctx context.Context, req analysis.Request) (string, error)

	mu    sync.Mutex
	calls []analysis.Request
}

func (f *fakeAnalyzer) Analyze(ctx context.Context, req analysis.Request) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.mu.Unlock()
	if f.analyze != nil {
		return f.analyze(ctx, req)
	}
	return "described " + string(req.Media.Kind), nil
}

func (f *fakeAnalyzer) AnalyzeCombined(ctx context.Context, audio, screen analysis.Media) (string, error) {
	return "combined", nil
}

func (f *fakeAnalyzer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// replies records every reply per chunk id.
type replies struct {
	mu   sync.Mutex
	got  map[string][]models.AnalysisResult
	each chan models.AnalysisResult
}

func newReplies() *replies {
	return &replies{got: make(map[string][]models.AnalysisResult), each: make(chan models.AnalysisResult, 1024)}
}

func (r *replies) reply(result models.AnalysisResult) {
	r.mu.Lock()
	r.got[result.ChunkID] = append(r.got[result.ChunkID], result)
	r.mu.Unlock()
	r.each <- result
}

func (r *replies) wait(t *testing.T) models.AnalysisResult {
	t.Helper()
	select {
	case res := <-r.each:
		return res
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for reply")
		return models.AnalysisResult{}
	}
}

func testConfig() config.PipelineConfig {
	return config.PipelineConfig{
		ValidationWorkers: 1,
		AnalysisWorkers:   2,
		StorageWorkers:    1,
		QueueSize:         8,
		ProcessingTimeout: time.Second,
		MaxChunkBytes:     16,
	}
}

func startManager(t *testing.T, cfg config.PipelineConfig, a analysis.Analyzer, store storage.RecordingStore) *Manager {
	t.Helper()
	m := NewManager(cfg, a, store, logging.Discard())
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(m.Stop)
	return m
}

func TestJobIsAnalyzedAndFeedbackStored(t *testing.T) {
	t.Parallel()

	store := storage.NewMemoryStore()
	rec, _ := store.CreateRecording(&models.Recording{})
	fa := &fakeAnalyzer{}
	m := startManager(t, testConfig(), fa, store)
	r := newReplies()

	job := models.NewAnalysisJob("c1", rec.ID, models.MediaAudio, []byte("audio"))
	job.PreviousAnalysis = "earlier"
	if err := m.SubmitJob(job, r.reply); err != nil {
		t.Fatalf("submit: %v", err)
	}

	res := r.wait(t)
	if res.ChunkID != "c1" || res.Text != "described audio" || res.Degraded {
		t.Fatalf("unexpected result %+v", res)
	}

	fa.mu.Lock()
	req := fa.calls[0]
	fa.mu.Unlock()
	if req.PreviousAnalysis != "earlier" || req.Media.MIMEType != "audio/webm" {
		t.Fatalf("unexpected analyzer request %+v", req)
	}

	got, err := store.GetRecording(rec.ID)
	if err != nil {
		t.Fatalf("get recording: %v", err)
	}
	if got.Feedback.AudioFeedback != "described audio" {
		t.Fatalf("expected audio feedback stored, got %+v", got.Feedback)
	}
}

func TestValidationRejectsBadPayloads(t *testing.T) {
	t.Parallel()

	fa := &fakeAnalyzer{}
	m := startManager(t, testConfig(), fa, nil)
	r := newReplies()

	jobs := []*models.AnalysisJob{
		models.NewAnalysisJob("empty", 0, models.MediaAudio, nil),
		models.NewAnalysisJob("large", 0, models.MediaScreen, []byte(strings.Repeat("x", 17))),
		models.NewAnalysisJob("kind", 0, models.MediaKind("text"), []byte("x")),
	}
	for _, job := range jobs {
		if err := m.SubmitJob(job, r.reply); err != nil {
			t.Fatalf("submit %s: %v", job.ID, err)
		}
	}
	for range jobs {
		res := r.wait(t)
		if !res.Degraded || res.Err == "" {
			t.Fatalf("expected rejected result, got %+v", res)
		}
	}
	if fa.callCount() != 0 {
		t.Fatalf("analyzer should not see rejected jobs, got %d calls", fa.callCount())
	}
	if got := m.Stats().Rejected; got != 3 {
		t.Fatalf("expected 3 rejected, got %d", got)
	}
}

func TestAnalyzerFailureYieldsDegradedResult(t *testing.T) {
	t.Parallel()

	store := storage.NewMemoryStore()
	rec, _ := store.CreateRecording(&models.Recording{})
	fa := &fakeAnalyzer{analyze: func(context.Context, analysis.Request) (string, error) {
		return "", analysis.ErrAnalysisBackend
	}}
	m := startManager(t, testConfig(), fa, store)
	r := newReplies()

	if err := m.SubmitJob(models.NewAnalysisJob("c1", rec.ID, models.MediaScreen, []byte("v")), r.reply); err != nil {
		t.Fatalf("submit: %v", err)
	}

	res := r.wait(t)
	if !res.Degraded || !strings.HasPrefix(res.Text, "failed to analyze: ") {
		t.Fatalf("expected degraded result, got %+v", res)
	}
	got, _ := store.GetRecording(rec.ID)
	if got.Feedback.ScreenFeedback != "" {
		t.Fatalf("degraded text must not be stored, got %q", got.Feedback.ScreenFeedback)
	}
}

func TestAnalysisTimeout(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.ProcessingTimeout = 10 * time.Millisecond
	fa := &fakeAnalyzer{analyze: func(ctx context.Context, _ analysis.Request) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}}
	m := startManager(t, cfg, fa, nil)
	r := newReplies()

	if err := m.SubmitJob(models.NewAnalysisJob("slow", 0, models.MediaAudio, []byte("a")), r.reply); err != nil {
		t.Fatalf("submit: %v", err)
	}
	res := r.wait(t)
	if !res.Degraded || !strings.Contains(res.Err, context.DeadlineExceeded.Error()) {
		t.Fatalf("expected deadline error, got %+v", res)
	}
}

func TestSubmitBeforeStartAndAfterStop(t *testing.T) {
	t.Parallel()

	m := NewManager(testConfig(), &fakeAnalyzer{}, nil, logging.Discard())
	if err := m.SubmitJob(models.NewAnalysisJob("", 0, models.MediaAudio, []byte("a")), nil); !errors.Is(err, ErrShuttingDown) {
		t.Fatalf("expected ErrShuttingDown before start, got %v", err)
	}

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	m.Stop()
	m.Stop()

	if err := m.SubmitJob(models.NewAnalysisJob("", 0, models.MediaAudio, []byte("a")), nil); !errors.Is(err, ErrShuttingDown) {
		t.Fatalf("expected ErrShuttingDown after stop, got %v", err)
	}
}

func TestEveryAcceptedJobRepliesOnceAcrossShutdown(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	fa := &fakeAnalyzer{analyze: func(ctx context.Context, _ analysis.Request) (string, error) {
		select {
		case <-release:
			return "ok", nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}}

	cfg := testConfig()
	cfg.QueueSize = 1
	cfg.AnalysisWorkers = 1
	cfg.ProcessingTimeout = 0
	m := NewManager(cfg, fa, nil, logging.Discard())
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	r := newReplies()

	accepted := 0
	sawFull := false
	for i := 0; i < 200 && !sawFull; i++ {
		job := models.NewAnalysisJob("", 0, models.MediaAudio, []byte("a"))
		switch err := m.SubmitJob(job, r.reply); {
		case err == nil:
			accepted++
		case errors.Is(err, ErrQueueFull):
			sawFull = true
		default:
			t.Fatalf("unexpected submit error: %v", err)
		}
		if !sawFull {
			time.Sleep(time.Millisecond)
		}
	}
	if !sawFull {
		t.Fatal("expected the queue to fill while the analyzer is blocked")
	}

	m.Stop()
	close(release)

	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.got) != accepted {
		t.Fatalf("expected %d replies, got %d", accepted, len(r.got))
	}
	for id, results := range r.got {
		if len(results) != 1 {
			t.Fatalf("chunk %s replied %d times", id, len(results))
		}
	}
}

func TestWorkerPoolSubmitHonoursContext(t *testing.T) {
	t.Parallel()

	wp := NewWorkerPool(1, func(context.Context, *models.PipelineMessage) {})

	// Not started, so the queue fills after two messages.
	for i := 0; i < 2; i++ {
		if !wp.Submit(context.Background(), &models.PipelineMessage{}) {
			t.Fatalf("submit %d should fit in the queue", i)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if wp.Submit(ctx, &models.PipelineMessage{}) {
		t.Fatal("expected submit to fail on a full queue with a cancelled context")
	}
	if left := wp.drain(); len(left) != 2 {
		t.Fatalf("expected 2 drained messages, got %d", len(left))
	}
}
