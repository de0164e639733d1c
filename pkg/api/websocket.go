package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/sandeepts224/AI-multi-model-assistant/pkg/models"
	"github.com/sandeepts224/AI-multi-model-assistant/pkg/transport"
)

const wsWriteTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// wsConn serializes writes; replies arrive from pipeline workers.
type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
	log  logrus.FieldLogger
}

func (c *wsConn) send(msg transport.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()

	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	if err := c.conn.WriteJSON(msg); err != nil {
		c.log.WithError(err).WithField("type", msg.Type).Debug("Failed to write message")
	}
}

// WebSocketHandler serves one recording per connection: every chunk on it
// updates the same recording row.
func (h *Handlers) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	// base64 inflates payloads by a third.
	conn.SetReadLimit(h.cfg.MaxUploadBytes/3*4 + 4096)

	c := &wsConn{conn: conn, log: h.log}

	rec, err := h.store.CreateRecording(&models.Recording{})
	if err != nil {
		h.log.WithError(err).Error("Failed to create recording")
		c.send(transport.Message{Type: transport.MessageError, Error: "failed to create recording"})
		return
	}

	logger := h.log.WithField("recording_id", rec.ID)
	logger.Info("Analysis stream opened")
	c.send(transport.Message{Type: transport.MessageSession, RecordingID: rec.ID})

	var pending sync.WaitGroup
	defer func() {
		pending.Wait()
		logger.Info("Analysis stream closed")
	}()

	for {
		var msg transport.Message
		if err := conn.ReadJSON(&msg); err != nil {
			break
		}

		switch msg.Type {
		case transport.MessageChunk:
			h.handleChunk(c, rec.ID, msg, &pending)
		case transport.MessagePing:
			c.send(transport.Message{Type: transport.MessagePong})
		case transport.MessagePong:
		default:
			c.send(transport.Message{
				Type:  transport.MessageError,
				Error: "Unknown message type",
			})
		}
	}
}

func (h *Handlers) handleChunk(c *wsConn, recordingID int64, msg transport.Message, pending *sync.WaitGroup) {
	if !msg.MediaType.Valid() {
		c.send(transport.Message{
			Type:    transport.MessageError,
			ChunkID: msg.ChunkID,
			Error:   "unsupported mediaType",
		})
		return
	}

	data, err := msg.Payload()
	if err != nil {
		c.send(transport.Message{
			Type:      transport.MessageError,
			ChunkID:   msg.ChunkID,
			MediaType: msg.MediaType,
			Error:     err.Error(),
		})
		return
	}

	job := models.NewAnalysisJob(msg.ChunkID, recordingID, msg.MediaType, data)
	job.PreviousAnalysis = msg.PreviousAnalysis

	h.log.WithFields(logrus.Fields{
		"chunk_id":   job.ID,
		"media_type": job.Kind,
		"bytes":      len(data),
	}).Debug("Chunk received")

	c.send(transport.Message{Type: transport.MessageAck, ChunkID: job.ID, MediaType: job.Kind})

	pending.Add(1)
	err = h.pipeline.SubmitJob(job, func(res models.AnalysisResult) {
		defer pending.Done()
		c.send(transport.Message{
			Type:           transport.MessageAnalysis,
			ChunkID:        job.ID,
			MediaType:      job.Kind,
			GeminiAnalysis: res.Text,
			Degraded:       res.Degraded,
			RecordingID:    recordingID,
			Error:          res.Err,
		})
	})
	if err != nil {
		pending.Done()
		c.send(transport.Message{
			Type:      transport.MessageError,
			ChunkID:   job.ID,
			MediaType: job.Kind,
			Error:     err.Error(),
		})
	}
}
