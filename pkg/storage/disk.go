package storage

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v3"

	"github.com/sandeepts224/AI-multi-model-assistant/pkg/models"
)

var (
	recordingPrefix = []byte("recording:")
	sequenceKey     = []byte("seq:recording")
)

type diskStore struct {
	db  *badger.DB
	seq *badger.Sequence

	// mu serializes feedback merges; concurrent read-modify-write
	// transactions on one key fail with badger.ErrConflict.
	mu sync.Mutex
}

// NewDiskStore opens a badger database under path/badger.
func NewDiskStore(path string) (RecordingStore, error) {
	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	opts := badger.DefaultOptions(filepath.Join(path, "badger"))
	opts.Logger = nil // Disable badger logging

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database: %w", err)
	}

	seq, err := db.GetSequence(sequenceKey, 16)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to open id sequence: %w", err)
	}

	return &diskStore{db: db, seq: seq}, nil
}

func recordingKey(id int64) []byte {
	key := make([]byte, len(recordingPrefix)+8)
	copy(key, recordingPrefix)
	binary.BigEndian.PutUint64(key[len(recordingPrefix):], uint64(id))
	return key
}

func (s *diskStore) CreateRecording(rec *models.Recording) (*models.Recording, error) {
	n, err := s.seq.Next()
	if err != nil {
		return nil, fmt.Errorf("failed to allocate recording id: %w", err)
	}

	stored := *rec
	stored.ID = int64(n) + 1
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now()
	}

	data, err := json.Marshal(&stored)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal recording: %w", err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(recordingKey(stored.ID), data)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to store recording: %w", err)
	}
	return &stored, nil
}

func (s *diskStore) GetRecording(id int64) (*models.Recording, error) {
	var rec models.Recording

	err := s.db.View(func(txn *badger.Txn) error {
		return readRecording(txn, id, &rec)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrRecordingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get recording: %w", err)
	}

	return &rec, nil
}

func (s *diskStore) UpdateFeedback(id int64, feedback models.Feedback) (*models.Recording, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var rec models.Recording
	err := s.db.Update(func(txn *badger.Txn) error {
		if err := readRecording(txn, id, &rec); err != nil {
			return err
		}
		rec.Feedback = rec.Feedback.Merge(feedback)

		data, err := json.Marshal(&rec)
		if err != nil {
			return err
		}
		return txn.Set(recordingKey(id), data)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrRecordingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update feedback: %w", err)
	}

	return &rec, nil
}

func (s *diskStore) ListRecordings() ([]*models.Recording, error) {
	var recs []*models.Recording

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = recordingPrefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var rec models.Recording
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return err
			}
			recs = append(recs, &rec)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list recordings: %w", err)
	}

	return recs, nil
}

func (s *diskStore) Close() error {
	if err := s.seq.Release(); err != nil {
		_ = s.db.Close()
		return fmt.Errorf("failed to release id sequence: %w", err)
	}
	return s.db.Close()
}

func readRecording(txn *badger.Txn, id int64, rec *models.Recording) error {
	item, err := txn.Get(recordingKey(id))
	if err != nil {
		return err
	}

	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, rec)
	})
}
