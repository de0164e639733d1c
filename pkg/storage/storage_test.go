package storage

import (
	"errors"
	"sync"
	"testing"

	"github.com/sandeepts224/AI-multi-model-assistant/pkg/config"
	"github.com/sandeepts224/AI-multi-model-assistant/pkg/models"
)

func openStores(t *testing.T) map[string]RecordingStore {
	t.Helper()

	stores := map[string]RecordingStore{"memory": NewMemoryStore()}

	disk, err := NewDiskStore(t.TempDir())
	if err != nil {
		t.Fatalf("open badger store: %v", err)
	}
	stores["badger"] = disk

	sqlite, err := NewSQLiteStore(t.TempDir())
	if err != nil {
		t.Fatalf("open sqlite store: %v", err)
	}
	stores["sqlite"] = sqlite

	t.Cleanup(func() {
		for name, s := range stores {
			if err := s.Close(); err != nil {
				t.Errorf("close %s: %v", name, err)
			}
		}
	})
	return stores
}

func TestCreateAndGetRecording(t *testing.T) {
	t.Parallel()

	for name, s := range openStores(t) {
		first, err := s.CreateRecording(&models.Recording{AudioBlob: "a.webm"})
		if err != nil {
			t.Fatalf("%s: create: %v", name, err)
		}
		second, err := s.CreateRecording(&models.Recording{ScreenBlob: "s.webm"})
		if err != nil {
			t.Fatalf("%s: create: %v", name, err)
		}
		if first.ID <= 0 || second.ID <= first.ID {
			t.Fatalf("%s: expected increasing positive ids, got %d and %d", name, first.ID, second.ID)
		}
		if first.CreatedAt.IsZero() {
			t.Fatalf("%s: expected creation time to be set", name)
		}

		got, err := s.GetRecording(first.ID)
		if err != nil {
			t.Fatalf("%s: get: %v", name, err)
		}
		if got.AudioBlob != "a.webm" || got.ID != first.ID {
			t.Fatalf("%s: unexpected recording %+v", name, got)
		}
	}
}

func TestGetMissingRecording(t *testing.T) {
	t.Parallel()

	for name, s := range openStores(t) {
		if _, err := s.GetRecording(42); !errors.Is(err, ErrRecordingNotFound) {
			t.Fatalf("%s: expected ErrRecordingNotFound, got %v", name, err)
		}
		if _, err := s.UpdateFeedback(42, models.Feedback{AudioFeedback: "x"}); !errors.Is(err, ErrRecordingNotFound) {
			t.Fatalf("%s: expected ErrRecordingNotFound on update, got %v", name, err)
		}
	}
}

func TestUpdateFeedbackMerges(t *testing.T) {
	t.Parallel()

	for name, s := range openStores(t) {
		rec, err := s.CreateRecording(&models.Recording{})
		if err != nil {
			t.Fatalf("%s: create: %v", name, err)
		}

		if _, err := s.UpdateFeedback(rec.ID, models.FeedbackFor(models.MediaAudio, "speaker greets")); err != nil {
			t.Fatalf("%s: update audio: %v", name, err)
		}
		updated, err := s.UpdateFeedback(rec.ID, models.FeedbackFor(models.MediaScreen, "settings page"))
		if err != nil {
			t.Fatalf("%s: update screen: %v", name, err)
		}
		if updated.Feedback.AudioFeedback != "speaker greets" || updated.Feedback.ScreenFeedback != "settings page" {
			t.Fatalf("%s: expected merged feedback, got %+v", name, updated.Feedback)
		}

		got, err := s.GetRecording(rec.ID)
		if err != nil {
			t.Fatalf("%s: get: %v", name, err)
		}
		if got.Feedback != updated.Feedback {
			t.Fatalf("%s: stored feedback %+v differs from returned %+v", name, got.Feedback, updated.Feedback)
		}
	}
}

func TestListRecordingsOrdered(t *testing.T) {
	t.Parallel()

	for name, s := range openStores(t) {
		for i := 0; i < 3; i++ {
			if _, err := s.CreateRecording(&models.Recording{}); err != nil {
				t.Fatalf("%s: create: %v", name, err)
			}
		}

		recs, err := s.ListRecordings()
		if err != nil {
			t.Fatalf("%s: list: %v", name, err)
		}
		if len(recs) != 3 {
			t.Fatalf("%s: expected 3 recordings, got %d", name, len(recs))
		}
		for i := 1; i < len(recs); i++ {
			if recs[i].ID <= recs[i-1].ID {
				t.Fatalf("%s: recordings out of order: %d after %d", name, recs[i].ID, recs[i-1].ID)
			}
		}
	}
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	rec, _ := s.CreateRecording(&models.Recording{AudioBlob: "orig"})
	rec.AudioBlob = "mutated"

	got, _ := s.GetRecording(rec.ID)
	if got.AudioBlob != "orig" {
		t.Fatalf("expected stored copy to be unaffected, got %q", got.AudioBlob)
	}
}

func TestConcurrentFeedbackMerges(t *testing.T) {
	t.Parallel()

	for name, s := range openStores(t) {
		rec, err := s.CreateRecording(&models.Recording{})
		if err != nil {
			t.Fatalf("%s: create: %v", name, err)
		}

		var wg sync.WaitGroup
		for i := 0; i < 100; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				kind, text := models.MediaAudio, "audio text"
				if i%2 == 0 {
					kind, text = models.MediaScreen, "screen text"
				}
				if _, err := s.UpdateFeedback(rec.ID, models.FeedbackFor(kind, text)); err != nil {
					t.Errorf("%s: update: %v", name, err)
				}
			}(i)
		}
		wg.Wait()

		got, err := s.GetRecording(rec.ID)
		if err != nil {
			t.Fatalf("%s: get: %v", name, err)
		}
		if got.Feedback.AudioFeedback != "audio text" || got.Feedback.ScreenFeedback != "screen text" {
			t.Fatalf("%s: unexpected feedback %+v", name, got.Feedback)
		}
	}
}

func TestDiskStoreIDsSurviveReopen(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	s, err := NewDiskStore(dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	first, _ := s.CreateRecording(&models.Recording{})
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	s, err = NewDiskStore(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()

	second, err := s.CreateRecording(&models.Recording{})
	if err != nil {
		t.Fatalf("create after reopen: %v", err)
	}
	if second.ID <= first.ID {
		t.Fatalf("expected id after reopen to exceed %d, got %d", first.ID, second.ID)
	}
	if _, err := s.GetRecording(first.ID); err != nil {
		t.Fatalf("expected first recording to persist: %v", err)
	}
}

func TestOpenSelectsDriver(t *testing.T) {
	t.Parallel()

	s, err := Open(config.StorageConfig{Driver: "memory"})
	if err != nil {
		t.Fatalf("open memory: %v", err)
	}
	_ = s.Close()

	if _, err := Open(config.StorageConfig{Driver: "postgres"}); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}
