package cli

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/sandeepts224/AI-multi-model-assistant/pkg/models"
)

// Formatter renders user-facing output. Results arrive from the session's
// result pump while warnings come from sender goroutines, hence the lock.
type Formatter struct {
	mu sync.Mutex
	w  io.Writer
}

func NewFormatter(w io.Writer) *Formatter {
	return &Formatter{w: w}
}

func (f *Formatter) printf(format string, args ...interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fmt.Fprintf(f.w, format, args...)
}

func (f *Formatter) RecordingStarted(kinds []models.MediaKind, maxDuration time.Duration) {
	labels := make([]string, 0, len(kinds))
	for _, k := range kinds {
		labels = append(labels, k.Label())
	}
	limit := ""
	if maxDuration > 0 {
		limit = fmt.Sprintf(", stops after %s", formatDuration(maxDuration))
	}
	f.printf("🔴 Recording %s (Ctrl+C to stop%s)\n", strings.Join(labels, " + "), limit)
}

func (f *Formatter) RecordingStopped(duration time.Duration, results int) {
	f.printf("⏹️  Recording stopped (%s, %d analyses)\n", formatDuration(duration), results)
}

// Result is the terminal consumer of the analysis sink.
func (f *Formatter) Result(res models.AnalysisResult) {
	icon := "🎙️ "
	if res.Kind == models.MediaScreen {
		icon = "🖥️ "
	}
	if res.Degraded {
		f.printf("⚠️  [%s] %s\n", res.Kind.Label(), strings.TrimSpace(res.Text))
		return
	}
	f.printf("%s [%s] %s\n", icon, res.Kind.Label(), strings.TrimSpace(res.Text))
}

func (f *Formatter) ServerListening(addr string) {
	f.printf("🚀 Analysis server listening on %s\n", addr)
}

func (f *Formatter) RecordingListHeader() {
	f.printf("📁 Recordings:\n\n")
}

func (f *Formatter) RecordingListItem(rec *models.Recording) {
	status := ""
	if rec.Feedback.AudioFeedback != "" {
		status += " 🎙️"
	}
	if rec.Feedback.ScreenFeedback != "" {
		status += " 🖥️"
	}
	f.printf("  #%d  %s%s\n", rec.ID, rec.CreatedAt.Local().Format("2006-01-02 15:04"), status)
}

func (f *Formatter) Recording(rec *models.Recording) {
	f.printf("Recording #%d (%s)\n", rec.ID, rec.CreatedAt.Local().Format(time.RFC1123))
	f.printf("\n🎙️  Audio feedback:\n%s\n", orNone(rec.Feedback.AudioFeedback))
	f.printf("\n🖥️  Screen feedback:\n%s\n", orNone(rec.Feedback.ScreenFeedback))
}

func (f *Formatter) Error(msg string) {
	f.printf("❌ %s\n", msg)
}

func (f *Formatter) Info(msg string) {
	f.printf("ℹ️  %s\n", msg)
}

func (f *Formatter) Success(msg string) {
	f.printf("✅ %s\n", msg)
}

func (f *Formatter) Warning(msg string) {
	f.printf("⚠️  %s\n", msg)
}

func orNone(s string) string {
	if strings.TrimSpace(s) == "" {
		return "  (none)"
	}
	return s
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh%02dm%02ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm%02ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
