package storage

import (
	"sort"
	"sync"
	"time"

	"github.com/sandeepts224/AI-multi-model-assistant/pkg/models"
)

type memoryStore struct {
	recordings map[int64]*models.Recording
	nextID     int64
	mu         sync.RWMutex
}

func NewMemoryStore() RecordingStore {
	return &memoryStore{
		recordings: make(map[int64]*models.Recording),
		nextID:     1,
	}
}

func (s *memoryStore) CreateRecording(rec *models.Recording) (*models.Recording, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *rec
	stored.ID = s.nextID
	s.nextID++
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now()
	}
	s.recordings[stored.ID] = &stored

	out := stored
	return &out, nil
}

func (s *memoryStore) GetRecording(id int64) (*models.Recording, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, exists := s.recordings[id]
	if !exists {
		return nil, ErrRecordingNotFound
	}

	out := *rec
	return &out, nil
}

func (s *memoryStore) UpdateFeedback(id int64, feedback models.Feedback) (*models.Recording, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, exists := s.recordings[id]
	if !exists {
		return nil, ErrRecordingNotFound
	}

	rec.Feedback = rec.Feedback.Merge(feedback)
	out := *rec
	return &out, nil
}

func (s *memoryStore) ListRecordings() ([]*models.Recording, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	recs := make([]*models.Recording, 0, len(s.recordings))
	for _, rec := range s.recordings {
		out := *rec
		recs = append(recs, &out)
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].ID < recs[j].ID })
	return recs, nil
}

func (s *memoryStore) Close() error {
	return nil
}
