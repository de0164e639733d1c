package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sandeepts224/AI-multi-model-assistant/pkg/models"
)

// AnalyzeResponse is the JSON body returned by POST /analyze.
type AnalyzeResponse struct {
	Analysis  string           `json:"analysis"`
	MediaType models.MediaKind `json:"mediaType,omitempty"`
	ChunkID   string           `json:"chunkId,omitempty"`
	Degraded  bool             `json:"degraded,omitempty"`
	Error     string           `json:"error,omitempty"`
}

// HTTPChannel uploads each chunk as its own multipart request; the response
// body is the chunk's result.
type HTTPChannel struct {
	url  string
	opts Options
	log  logrus.FieldLogger

	results    chan models.AnalysisResult
	deliveries *deliveryLog
	done       chan struct{}

	mu        sync.RWMutex
	closed    bool
	inflight  sync.WaitGroup
	closeOnce sync.Once
}

func NewHTTPChannel(opts Options) (*HTTPChannel, error) {
	opts.setDefaults()
	endpoint, err := endpointURL(opts.ServerURL, "/analyze", false)
	if err != nil {
		return nil, err
	}

	return &HTTPChannel{
		url:        endpoint,
		opts:       opts,
		log:        opts.Log.WithField("transport", "http"),
		results:    make(chan models.AnalysisResult, 64),
		deliveries: newDeliveryLog(),
		done:       make(chan struct{}),
	}, nil
}

func (c *HTTPChannel) Results() <-chan models.AnalysisResult {
	return c.results
}

func (c *HTTPChannel) Send(ctx context.Context, chunk *models.Chunk) error {
	if chunk == nil {
		return fmt.Errorf("%w: nil chunk", ErrTransport)
	}

	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return fmt.Errorf("%w: %v", ErrTransport, ErrClosed)
	}
	c.inflight.Add(1)
	c.mu.RUnlock()
	defer c.inflight.Done()

	log := c.log.WithFields(logrus.Fields{"chunk_id": chunk.ID, "media_type": chunk.Kind})
	notify := func(err error, wait time.Duration) {
		log.WithError(err).WithField("retry_in", wait).Warn("Chunk upload failed, retrying")
	}

	var (
		resp      AnalyzeResponse
		delivered bool
	)
	err := deliver(ctx, c.deliveries, chunk.ID, c.opts.InitialBackoff, c.opts.MaxRetries, notify, func() error {
		r, err := c.upload(ctx, chunk)
		if err != nil {
			return err
		}
		resp, delivered = r, true
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: upload chunk %s: %v", ErrTransport, chunk.ID, err)
	}
	if !delivered {
		return nil
	}

	if resp.MediaType == "" {
		resp.MediaType = chunk.Kind
	}
	if resp.ChunkID == "" {
		resp.ChunkID = chunk.ID
	}
	c.emit(models.AnalysisResult{
		ChunkID:    resp.ChunkID,
		Kind:       resp.MediaType,
		Text:       resp.Analysis,
		Degraded:   resp.Degraded || resp.Error != "",
		Err:        resp.Error,
		ReceivedAt: time.Now(),
	})

	log.WithField("size", chunk.Size()).Debug("Chunk uploaded")
	return nil
}

func (c *HTTPChannel) upload(ctx context.Context, chunk *models.Chunk) (AnalyzeResponse, error) {
	body, contentType, err := multipartBody(chunk)
	if err != nil {
		return AnalyzeResponse{}, permanent(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, body)
	if err != nil {
		return AnalyzeResponse{}, permanent(err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.opts.HTTPClient.Do(req)
	if err != nil {
		return AnalyzeResponse{}, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return AnalyzeResponse{}, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("server returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return AnalyzeResponse{}, permanent(err)
		}
		return AnalyzeResponse{}, err
	}

	var out AnalyzeResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return AnalyzeResponse{}, permanent(fmt.Errorf("failed to parse response: %w", err))
	}
	return out, nil
}

func multipartBody(chunk *models.Chunk) (*bytes.Buffer, string, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	mimeType := chunk.MIMEType
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s-%d%s"`, chunk.Kind.Label(), chunk.Seq, extensionFor(mimeType)))
	header.Set("Content-Type", mimeType)

	part, err := writer.CreatePart(header)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(chunk.Payload); err != nil {
		return nil, "", fmt.Errorf("failed to write chunk: %w", err)
	}

	fields := [][2]string{
		{"mediaType", string(chunk.Kind)},
		{"previous_analysis", chunk.PreviousAnalysis},
		{"chunk_id", chunk.ID},
	}
	for _, f := range fields {
		if err := writer.WriteField(f[0], f[1]); err != nil {
			return nil, "", fmt.Errorf("failed to write field %s: %w", f[0], err)
		}
	}

	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to close multipart writer: %w", err)
	}
	return &body, writer.FormDataContentType(), nil
}

func extensionFor(mimeType string) string {
	switch mimeType {
	case "audio/mp3", "audio/mpeg":
		return ".mp3"
	case "audio/wav":
		return ".wav"
	case "audio/webm", "video/webm":
		return ".webm"
	case "video/mpeg", "video/mp2t":
		return ".ts"
	default:
		return ".bin"
	}
}

func (c *HTTPChannel) emit(result models.AnalysisResult) {
	select {
	case c.results <- result:
	case <-c.done:
	}
}

// Close waits for in-flight uploads and then closes Results.
func (c *HTTPChannel) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()

		c.inflight.Wait()
		close(c.done)
		close(c.results)
	})
	return nil
}
