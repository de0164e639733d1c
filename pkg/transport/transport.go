// Package transport delivers chunks to the analysis server and hands back
// the results it pushes, either over one persistent websocket or as one
// multipart request per chunk.
package transport

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sandeepts224/AI-multi-model-assistant/pkg/config"
	"github.com/sandeepts224/AI-multi-model-assistant/pkg/models"
)

var (
	ErrTransport = errors.New("transport error")
	ErrClosed    = errors.New("channel closed")
)

// Channel is the client side of the chunk transport. Send returns once the
// chunk has been handed to the server; analysis arrives later on Results.
type Channel interface {
	Send(ctx context.Context, chunk *models.Chunk) error
	Results() <-chan models.AnalysisResult
	Close() error
}

const (
	MessageChunk    = "chunk"
	MessageAck      = "ack"
	MessageAnalysis = "analysis"
	MessageSession  = "session"
	MessageError    = "error"
	MessagePing     = "ping"
	MessagePong     = "pong"
)

// Message is the JSON text frame exchanged on /ws/analyze.
type Message struct {
	Type             string           `json:"type"`
	ChunkID          string           `json:"chunkId,omitempty"`
	MediaType        models.MediaKind `json:"mediaType,omitempty"`
	Chunk            string           `json:"chunk,omitempty"`
	PreviousAnalysis string           `json:"previousAnalysis,omitempty"`
	GeminiAnalysis   string           `json:"geminiAnalysis,omitempty"`
	Degraded         bool             `json:"degraded,omitempty"`
	RecordingID      int64            `json:"recordingId,omitempty"`
	Error            string           `json:"error,omitempty"`
}

// EncodeChunk builds the outbound frame for chunk with its payload in base64.
func EncodeChunk(chunk *models.Chunk) Message {
	return Message{
		Type:             MessageChunk,
		ChunkID:          chunk.ID,
		MediaType:        chunk.Kind,
		Chunk:            base64.StdEncoding.EncodeToString(chunk.Payload),
		PreviousAnalysis: chunk.PreviousAnalysis,
	}
}

// Payload decodes the base64 chunk body.
func (m Message) Payload() ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(m.Chunk)
	if err != nil {
		return nil, fmt.Errorf("invalid chunk encoding: %w", err)
	}
	return data, nil
}

// Result converts an analysis or error frame into a result.
func (m Message) Result() models.AnalysisResult {
	return models.AnalysisResult{
		ChunkID:    m.ChunkID,
		Kind:       m.MediaType,
		Text:       m.GeminiAnalysis,
		Degraded:   m.Degraded || m.Error != "",
		Err:        m.Error,
		ReceivedAt: time.Now(),
	}
}

type Options struct {
	ServerURL      string
	MaxRetries     int
	InitialBackoff time.Duration
	WriteTimeout   time.Duration
	HTTPClient     *http.Client
	Log            logrus.FieldLogger
}

func OptionsFromConfig(cfg config.TransportConfig, log logrus.FieldLogger) Options {
	return Options{
		ServerURL:      cfg.ServerURL,
		MaxRetries:     cfg.MaxRetries,
		InitialBackoff: cfg.InitialBackoff,
		WriteTimeout:   cfg.WriteTimeout,
		Log:            log,
	}
}

func (o *Options) setDefaults() {
	if o.ServerURL == "" {
		o.ServerURL = "http://localhost:8000"
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.InitialBackoff <= 0 {
		o.InitialBackoff = 500 * time.Millisecond
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{Timeout: 2 * time.Minute}
	}
	if o.Log == nil {
		o.Log = logrus.StandardLogger()
	}
}

// New builds the channel for the configured mode.
func New(cfg config.TransportConfig, log logrus.FieldLogger) (Channel, error) {
	opts := OptionsFromConfig(cfg, log)
	switch cfg.Mode {
	case "ws", "":
		return NewWebSocketChannel(opts)
	case "http":
		return NewHTTPChannel(opts)
	default:
		return nil, fmt.Errorf("unknown transport mode %q", cfg.Mode)
	}
}

// endpointURL joins the server base with path, switching to the websocket
// scheme when ws is set.
func endpointURL(base, path string, ws bool) (string, error) {
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	if ws {
		if strings.HasPrefix(base, "https://") {
			base = "wss://" + strings.TrimPrefix(base, "https://")
		} else if strings.HasPrefix(base, "http://") {
			base = "ws://" + strings.TrimPrefix(base, "http://")
		}
	}

	u, err := url.Parse(base + path)
	if err != nil {
		return "", fmt.Errorf("invalid server URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("invalid server URL %q", base)
	}
	return u.String(), nil
}
