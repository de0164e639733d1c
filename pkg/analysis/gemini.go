package analysis

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"google.golang.org/genai"

	"github.com/sandeepts224/AI-multi-model-assistant/pkg/config"
)

// GeminiClient analyzes media with the Gemini API. Payloads up to
// InlineLimit are sent inline; larger ones go through the Files API first.
type GeminiClient struct {
	cfg    config.GeminiConfig
	client *genai.Client
	log    logrus.FieldLogger
}

func NewGeminiClient(ctx context.Context, cfg config.GeminiConfig, log logrus.FieldLogger) (*GeminiClient, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrMissingAPIKey
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-1.5-flash"
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.MaxPollAttempts <= 0 {
		cfg.MaxPollAttempts = 30
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 90 * time.Second
	}
	if log == nil {
		log = logrus.StandardLogger()
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      cfg.APIKey,
		Backend:     genai.BackendGeminiAPI,
		HTTPClient:  &http.Client{Timeout: cfg.RequestTimeout},
		HTTPOptions: genai.HTTPOptions{BaseURL: cfg.BaseURL},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	return &GeminiClient{
		cfg:    cfg,
		client: client,
		log:    log.WithField("component", "gemini"),
	}, nil
}

func (c *GeminiClient) Analyze(ctx context.Context, req Request) (string, error) {
	media, err := c.mediaPart(ctx, req.Media)
	if err != nil {
		return "", err
	}

	return c.generate(ctx, genai.NewPartFromText(ChunkPrompt(req.Media.Kind, req.PreviousAnalysis)), media)
}

func (c *GeminiClient) AnalyzeCombined(ctx context.Context, audio, screen Media) (string, error) {
	audioPart, err := c.uploadPart(ctx, audio)
	if err != nil {
		return "", err
	}
	screenPart, err := c.uploadPart(ctx, screen)
	if err != nil {
		return "", err
	}

	return c.generate(ctx, genai.NewPartFromText(CombinedPrompt()), audioPart, screenPart)
}

func (c *GeminiClient) mediaPart(ctx context.Context, m Media) (*genai.Part, error) {
	if len(m.Data) == 0 {
		return nil, fmt.Errorf("%w: empty %s payload", ErrAnalysisBackend, m.Kind.Label())
	}
	if c.cfg.InlineLimit > 0 && len(m.Data) > c.cfg.InlineLimit {
		return c.uploadPart(ctx, m)
	}
	return genai.NewPartFromBytes(m.Data, mimeOrDefault(m)), nil
}

func (c *GeminiClient) uploadPart(ctx context.Context, m Media) (*genai.Part, error) {
	if len(m.Data) == 0 {
		return nil, fmt.Errorf("%w: empty %s payload", ErrAnalysisBackend, m.Kind.Label())
	}
	f, err := c.UploadFile(ctx, m.Data, mimeOrDefault(m), m.Kind.Label())
	if err != nil {
		return nil, err
	}
	f, err = c.WaitForFile(ctx, f)
	if err != nil {
		return nil, err
	}
	return genai.NewPartFromURI(f.URI, f.MIMEType), nil
}

func (c *GeminiClient) generate(ctx context.Context, parts ...*genai.Part) (string, error) {
	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}

	resp, err := c.client.Models.GenerateContent(ctx, c.cfg.Model, contents, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrAnalysisBackend, err)
	}
	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		return "", fmt.Errorf("%w: prompt blocked: %s", ErrAnalysisBackend, resp.PromptFeedback.BlockReason)
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", fmt.Errorf("%w: empty response", ErrAnalysisBackend)
	}
	return text, nil
}

func mimeOrDefault(m Media) string {
	if m.MIMEType != "" {
		return m.MIMEType
	}
	return DefaultMIMEType(m.Kind)
}
