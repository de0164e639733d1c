package models

import (
	"time"

	"github.com/google/uuid"
)

// MediaKind tags a chunk or result with the capture source it came from.
// Screen captures travel as "video" on the wire.
type MediaKind string

const (
	MediaAudio  MediaKind = "audio"
	MediaScreen MediaKind = "video"
)

func (k MediaKind) Valid() bool {
	return k == MediaAudio || k == MediaScreen
}

// Label is the human name used in prompts and terminal output.
func (k MediaKind) Label() string {
	switch k {
	case MediaAudio:
		return "audio"
	case MediaScreen:
		return "screen"
	default:
		return string(k)
	}
}

// ParseMediaKind accepts the wire names plus "screen".
func ParseMediaKind(s string) (MediaKind, bool) {
	switch s {
	case "audio":
		return MediaAudio, true
	case "video", "screen":
		return MediaScreen, true
	default:
		return "", false
	}
}

// Chunk is the unit handed to the transport: one or more timeslice buffers
// concatenated, plus the analysis context observed before it was sent.
type Chunk struct {
	ID               string    `json:"id"`
	SessionID        string    `json:"session_id"`
	Kind             MediaKind `json:"media_type"`
	Seq              int64     `json:"seq"`
	Payload          []byte    `json:"-"`
	MIMEType         string    `json:"mime_type"`
	PreviousAnalysis string    `json:"previous_analysis"`
	Slices           int       `json:"slices"`
	CreatedAt        time.Time `json:"created_at"`
}

func NewChunk(sessionID string, kind MediaKind, seq int64, payload []byte) *Chunk {
	return &Chunk{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		Kind:      kind,
		Seq:       seq,
		Payload:   payload,
		CreatedAt: time.Now(),
	}
}

func (c *Chunk) Size() int {
	return len(c.Payload)
}

// AnalysisResult is one piece of text returned for a chunk. Degraded results
// carry the backend failure text instead of an analysis.
type AnalysisResult struct {
	ChunkID    string    `json:"chunk_id,omitempty"`
	Kind       MediaKind `json:"media_type"`
	Text       string    `json:"text"`
	Degraded   bool      `json:"degraded,omitempty"`
	Err        string    `json:"error,omitempty"`
	ReceivedAt time.Time `json:"received_at"`
}

// Feedback holds the latest analysis per media kind for a recording row.
type Feedback struct {
	AudioFeedback  string `json:"audioFeedback,omitempty"`
	ScreenFeedback string `json:"screenFeedback,omitempty"`
}

// Merge overlays the non-empty fields of other.
func (f Feedback) Merge(other Feedback) Feedback {
	if other.AudioFeedback != "" {
		f.AudioFeedback = other.AudioFeedback
	}
	if other.ScreenFeedback != "" {
		f.ScreenFeedback = other.ScreenFeedback
	}
	return f
}

// FeedbackFor builds a Feedback carrying text in the slot for kind.
func FeedbackFor(kind MediaKind, text string) Feedback {
	if kind == MediaAudio {
		return Feedback{AudioFeedback: text}
	}
	return Feedback{ScreenFeedback: text}
}

type Recording struct {
	ID         int64     `json:"id"`
	AudioBlob  string    `json:"audioBlob"`
	ScreenBlob string    `json:"screenBlob"`
	Feedback   Feedback  `json:"feedback"`
	CreatedAt  time.Time `json:"createdAt"`
}

type ProcessingStatus string

const (
	StatusPending    ProcessingStatus = "pending"
	StatusValidating ProcessingStatus = "validating"
	StatusAnalyzing  ProcessingStatus = "analyzing"
	StatusStoring    ProcessingStatus = "storing"
	StatusCompleted  ProcessingStatus = "completed"
	StatusFailed     ProcessingStatus = "failed"
)

// AnalysisJob is a chunk received by the server, waiting for analysis.
type AnalysisJob struct {
	ID               string
	RecordingID      int64
	Kind             MediaKind
	Data             []byte
	MIMEType         string
	PreviousAnalysis string
	Timestamp        time.Time
}

func NewAnalysisJob(chunkID string, recordingID int64, kind MediaKind, data []byte) *AnalysisJob {
	if chunkID == "" {
		chunkID = uuid.New().String()
	}
	return &AnalysisJob{
		ID:          chunkID,
		RecordingID: recordingID,
		Kind:        kind,
		Data:        data,
		Timestamp:   time.Now(),
	}
}

type PipelineMessage struct {
	Job    *AnalysisJob
	Status ProcessingStatus
	Result *AnalysisResult
	Error  error
	Stage  string
	// Reply is invoked exactly once, when the message leaves the pipeline.
	Reply func(AnalysisResult)
}
