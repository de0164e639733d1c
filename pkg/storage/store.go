package storage

import (
	"fmt"

	"github.com/sandeepts224/AI-multi-model-assistant/pkg/config"
	"github.com/sandeepts224/AI-multi-model-assistant/pkg/models"
)

var ErrRecordingNotFound = fmt.Errorf("recording not found")

// RecordingStore keeps recording rows keyed by an integer id.
type RecordingStore interface {
	CreateRecording(rec *models.Recording) (*models.Recording, error)
	GetRecording(id int64) (*models.Recording, error)
	// UpdateFeedback merges the non-empty fields of feedback into the row.
	UpdateFeedback(id int64, feedback models.Feedback) (*models.Recording, error)
	ListRecordings() ([]*models.Recording, error)
	Close() error
}

// Open builds the store selected by cfg.Driver.
func Open(cfg config.StorageConfig) (RecordingStore, error) {
	switch cfg.Driver {
	case "memory":
		return NewMemoryStore(), nil
	case "badger":
		return NewDiskStore(cfg.Path)
	case "sqlite":
		return NewSQLiteStore(cfg.Path)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}
