package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/sandeepts224/AI-multi-model-assistant/pkg/models"
)

// dbRecording is the sqlite row for a recording.
type dbRecording struct {
	ID             int64 `gorm:"primaryKey;autoIncrement"`
	AudioBlob      string
	ScreenBlob     string
	AudioFeedback  string
	ScreenFeedback string
	CreatedAt      time.Time `gorm:"index"`
}

func (dbRecording) TableName() string {
	return "recordings"
}

func (r *dbRecording) toModel() *models.Recording {
	return &models.Recording{
		ID:         r.ID,
		AudioBlob:  r.AudioBlob,
		ScreenBlob: r.ScreenBlob,
		Feedback: models.Feedback{
			AudioFeedback:  r.AudioFeedback,
			ScreenFeedback: r.ScreenFeedback,
		},
		CreatedAt: r.CreatedAt,
	}
}

type sqliteStore struct {
	db *gorm.DB
}

// NewSQLiteStore opens path/recordings.db and migrates its schema.
func NewSQLiteStore(path string) (RecordingStore, error) {
	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	db, err := gorm.Open(sqlite.Open(filepath.Join(path, "recordings.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sqlite handle: %w", err)
	}
	// sqlite allows one writer; a single connection queues feedback merges
	// instead of failing them with SQLITE_BUSY.
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&dbRecording{}); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	return &sqliteStore{db: db}, nil
}

func (s *sqliteStore) CreateRecording(rec *models.Recording) (*models.Recording, error) {
	row := &dbRecording{
		AudioBlob:      rec.AudioBlob,
		ScreenBlob:     rec.ScreenBlob,
		AudioFeedback:  rec.Feedback.AudioFeedback,
		ScreenFeedback: rec.Feedback.ScreenFeedback,
		CreatedAt:      rec.CreatedAt,
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now()
	}

	if err := s.db.Create(row).Error; err != nil {
		return nil, fmt.Errorf("failed to store recording: %w", err)
	}
	return row.toModel(), nil
}

func (s *sqliteStore) GetRecording(id int64) (*models.Recording, error) {
	var row dbRecording
	err := s.db.First(&row, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRecordingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get recording: %w", err)
	}
	return row.toModel(), nil
}

func (s *sqliteStore) UpdateFeedback(id int64, feedback models.Feedback) (*models.Recording, error) {
	var row dbRecording

	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&row, id).Error; err != nil {
			return err
		}

		merged := models.Feedback{
			AudioFeedback:  row.AudioFeedback,
			ScreenFeedback: row.ScreenFeedback,
		}.Merge(feedback)
		row.AudioFeedback = merged.AudioFeedback
		row.ScreenFeedback = merged.ScreenFeedback

		return tx.Model(&row).Updates(map[string]interface{}{
			"audio_feedback":  row.AudioFeedback,
			"screen_feedback": row.ScreenFeedback,
		}).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRecordingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update feedback: %w", err)
	}
	return row.toModel(), nil
}

func (s *sqliteStore) ListRecordings() ([]*models.Recording, error) {
	var rows []dbRecording
	if err := s.db.Order("id asc").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list recordings: %w", err)
	}

	recs := make([]*models.Recording, 0, len(rows))
	for i := range rows {
		recs = append(recs, rows[i].toModel())
	}
	return recs, nil
}

func (s *sqliteStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
