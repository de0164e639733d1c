// Package analysis talks to the generative model that turns media into text.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sandeepts224/AI-multi-model-assistant/pkg/models"
)

var (
	ErrAnalysisBackend       = errors.New("analysis backend error")
	ErrMissingAPIKey         = errors.New("GEMINI_API_KEY is not configured")
	ErrFileProcessingTimeout = errors.New("timed out waiting for uploaded file to be processed")
	ErrFileProcessingFailed  = errors.New("uploaded file failed processing")
)

// Media is one payload to analyze.
type Media struct {
	Kind     models.MediaKind
	Data     []byte
	MIMEType string
}

type Request struct {
	Media            Media
	PreviousAnalysis string
}

// Analyzer describes media with text. Both calls may take several seconds.
type Analyzer interface {
	Analyze(ctx context.Context, req Request) (string, error)
	AnalyzeCombined(ctx context.Context, audio, screen Media) (string, error)
}

const combinedPrompt = "You are a helpful assistant analyzing a conversation from both audio and screen recording. " +
	"First, analyze the audio to understand the user's query. " +
	"Then, analyze the screen recording to identify relevant UI elements and actions. " +
	"Provide a combined analysis summarizing the user's intent and the corresponding on-screen activity."

// ChunkPrompt is the instruction sent with a single chunk.
func ChunkPrompt(kind models.MediaKind, previous string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Describe this %s chunk.", kind)
	b.WriteString("\n\nPrevious analysis: ")
	b.WriteString(strings.TrimSpace(previous))
	return b.String()
}

func CombinedPrompt() string {
	return combinedPrompt
}

// DefaultMIMEType is used when a caller does not say what it uploaded.
func DefaultMIMEType(kind models.MediaKind) string {
	if kind == models.MediaAudio {
		return "audio/webm"
	}
	return "video/webm"
}

// Degraded is the text shown in place of an analysis that failed.
func Degraded(err error) string {
	return "failed to analyze: " + err.Error()
}
