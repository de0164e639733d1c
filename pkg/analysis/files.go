package analysis

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"google.golang.org/genai"
)

// UploadFile stores data through the Files API and returns the file as
// first reported, usually still processing.
func (c *GeminiClient) UploadFile(ctx context.Context, data []byte, mimeType, displayName string) (*genai.File, error) {
	f, err := c.client.Files.Upload(ctx, bytes.NewReader(data), &genai.UploadFileConfig{
		MIMEType:    mimeType,
		DisplayName: displayName,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to upload file: %v", ErrAnalysisBackend, err)
	}

	c.log.WithFields(logrus.Fields{
		"file":      f.Name,
		"mime_type": mimeType,
		"size":      len(data),
	}).Debug("File uploaded")
	return f, nil
}

func processing(f *genai.File) bool {
	switch f.State {
	case genai.FileStateProcessing, genai.FileStateUnspecified, "":
		return true
	}
	return false
}

// WaitForFile polls until the file leaves the processing state. It gives up
// after MaxPollAttempts polls with ErrFileProcessingTimeout.
func (c *GeminiClient) WaitForFile(ctx context.Context, f *genai.File) (*genai.File, error) {
	for attempt := 0; processing(f); attempt++ {
		if attempt >= c.cfg.MaxPollAttempts {
			return f, fmt.Errorf("%w: %s after %d polls", ErrFileProcessingTimeout, f.Name, attempt)
		}

		t := time.NewTimer(c.cfg.PollInterval)
		select {
		case <-ctx.Done():
			t.Stop()
			return f, ctx.Err()
		case <-t.C:
		}

		next, err := c.client.Files.Get(ctx, f.Name, nil)
		if err != nil {
			return f, fmt.Errorf("%w: failed to get file %s: %v", ErrAnalysisBackend, f.Name, err)
		}
		f = next
	}

	if f.State != genai.FileStateActive {
		return f, fmt.Errorf("%w: %s is %s", ErrFileProcessingFailed, f.Name, f.State)
	}
	return f, nil
}
