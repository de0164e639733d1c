package sink

import (
	"bufio"
	"bytes"
	"encoding/json"
	"testing"

	"github.com/sandeepts224/AI-multi-model-assistant/pkg/models"
)

func TestPublishInRegistrationOrder(t *testing.T) {
	t.Parallel()

	s := New()
	var calls []string
	s.Register("ui", func(models.AnalysisResult) { calls = append(calls, "ui") })
	s.Register("mirror", func(models.AnalysisResult) { calls = append(calls, "mirror") })
	s.Register("log", func(models.AnalysisResult) { calls = append(calls, "log") })

	s.Publish(models.AnalysisResult{Kind: models.MediaAudio, Text: "hello"})

	want := []string{"ui", "mirror", "log"}
	if len(calls) != len(want) {
		t.Fatalf("expected %v, got %v", want, calls)
	}
	for i := range want {
		if calls[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, calls)
		}
	}
}

func TestRegisterReplacesSlot(t *testing.T) {
	t.Parallel()

	s := New()
	var stale, fresh, other int
	s.Register("ui", func(models.AnalysisResult) { stale++ })
	s.Register("other", func(models.AnalysisResult) { other++ })
	s.Register("ui", func(models.AnalysisResult) { fresh++ })

	s.Publish(models.AnalysisResult{Text: "x"})

	if stale != 0 || fresh != 1 || other != 1 {
		t.Fatalf("expected remount to replace consumer: stale=%d fresh=%d other=%d", stale, fresh, other)
	}
	if s.Len() != 2 {
		t.Fatalf("expected 2 slots, got %d", s.Len())
	}

	s.Unregister("ui")
	s.Publish(models.AnalysisResult{Text: "y"})
	if fresh != 1 || other != 2 {
		t.Fatalf("unregistered consumer still called: fresh=%d other=%d", fresh, other)
	}
}

func TestJSONLinesMirror(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	mirror := NewJSONLinesMirror(&buf)

	s := New()
	s.Register("mirror", mirror.Consume)
	s.Publish(models.AnalysisResult{ChunkID: "a", Kind: models.MediaAudio, Text: "first"})
	s.Publish(models.AnalysisResult{ChunkID: "b", Kind: models.MediaScreen, Text: "second"})

	if err := mirror.Err(); err != nil {
		t.Fatalf("mirror error: %v", err)
	}

	scanner := bufio.NewScanner(&buf)
	var got []models.AnalysisResult
	for scanner.Scan() {
		var r models.AnalysisResult
		if err := json.Unmarshal(scanner.Bytes(), &r); err != nil {
			t.Fatalf("decode line: %v", err)
		}
		got = append(got, r)
	}
	if len(got) != 2 || got[0].Text != "first" || got[1].Kind != models.MediaScreen {
		t.Fatalf("unexpected mirrored results %+v", got)
	}
}
