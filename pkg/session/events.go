package session

import (
	"github.com/sirupsen/logrus"

	"github.com/sandeepts224/AI-multi-model-assistant/pkg/models"
)

// EventSink receives session lifecycle notifications for the user.
type EventSink interface {
	SessionStateChanged(sessionID string, state State)
	ChunkDropped(chunk *models.Chunk, err error)
	SessionError(sessionID string, err error)
}

// Publisher receives every analysis result. *sink.Sink satisfies it.
type Publisher interface {
	Publish(result models.AnalysisResult)
}

type NopEvents struct{}

func (NopEvents) SessionStateChanged(string, State) {}
func (NopEvents) ChunkDropped(*models.Chunk, error) {}
func (NopEvents) SessionError(string, error)        {}

// LogEvents writes session events to a logger.
type LogEvents struct {
	Log logrus.FieldLogger
}

func (e LogEvents) SessionStateChanged(sessionID string, state State) {
	e.Log.WithFields(logrus.Fields{"session_id": sessionID, "state": state}).Info("Session state changed")
}

func (e LogEvents) ChunkDropped(chunk *models.Chunk, err error) {
	e.Log.WithFields(logrus.Fields{
		"chunk_id":   chunk.ID,
		"media_type": chunk.Kind,
		"seq":        chunk.Seq,
	}).WithError(err).Warn("Chunk dropped")
}

func (e LogEvents) SessionError(sessionID string, err error) {
	e.Log.WithField("session_id", sessionID).WithError(err).Error("Session error")
}
