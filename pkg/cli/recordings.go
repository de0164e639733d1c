package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/sandeepts224/AI-multi-model-assistant/pkg/models"
)

func NewRecordingsCmd(deps *Dependencies) *cobra.Command {
	var server string
	var limit int

	cmd := &cobra.Command{
		Use:     "recordings",
		Aliases: []string{"ls"},
		Short:   "List recordings kept by the analysis server",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newRecordingsClient(serverURL(deps, server))
			recs, err := client.list(cmd.Context(), limit)
			if err != nil {
				return err
			}

			out := NewFormatter(deps.Out)
			if len(recs) == 0 {
				out.Info("No recordings yet")
				return nil
			}
			out.RecordingListHeader()
			for _, rec := range recs {
				out.RecordingListItem(rec)
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&server, "server", "", "Analysis server URL")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Show at most this many of the newest recordings")

	cmd.AddCommand(newRecordingShowCmd(deps, &server))
	cmd.AddCommand(newRecordingFeedbackCmd(deps, &server))

	return cmd
}

func newRecordingShowCmd(deps *Dependencies, server *string) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show one recording and its feedback",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseRecordingID(args[0])
			if err != nil {
				return err
			}
			rec, err := newRecordingsClient(serverURL(deps, *server)).get(cmd.Context(), id)
			if err != nil {
				return err
			}
			NewFormatter(deps.Out).Recording(rec)
			return nil
		},
	}
}

func newRecordingFeedbackCmd(deps *Dependencies, server *string) *cobra.Command {
	var feedback models.Feedback

	cmd := &cobra.Command{
		Use:   "feedback <id>",
		Short: "Overwrite the audio and/or screen feedback of a recording",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseRecordingID(args[0])
			if err != nil {
				return err
			}
			if feedback.AudioFeedback == "" && feedback.ScreenFeedback == "" {
				return fmt.Errorf("nothing to update: pass --audio and/or --screen")
			}
			rec, err := newRecordingsClient(serverURL(deps, *server)).updateFeedback(cmd.Context(), id, feedback)
			if err != nil {
				return err
			}
			NewFormatter(deps.Out).Success(fmt.Sprintf("Feedback updated for recording #%d", rec.ID))
			return nil
		},
	}

	cmd.Flags().StringVar(&feedback.AudioFeedback, "audio", "", "Audio feedback text")
	cmd.Flags().StringVar(&feedback.ScreenFeedback, "screen", "", "Screen feedback text")

	return cmd
}

func serverURL(deps *Dependencies, flag string) string {
	if flag != "" {
		return flag
	}
	return deps.Config.Transport.ServerURL
}

func parseRecordingID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid recording id %q", s)
	}
	return id, nil
}

// recordingsClient talks to the /api/recordings endpoints.
type recordingsClient struct {
	base string
	http *http.Client
}

func newRecordingsClient(base string) *recordingsClient {
	return &recordingsClient{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *recordingsClient) list(ctx context.Context, limit int) ([]*models.Recording, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var body struct {
		Recordings []*models.Recording `json:"recordings"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/recordings?"+q.Encode(), nil, &body); err != nil {
		return nil, err
	}
	return body.Recordings, nil
}

func (c *recordingsClient) get(ctx context.Context, id int64) (*models.Recording, error) {
	var rec models.Recording
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/recordings/%d", id), nil, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (c *recordingsClient) updateFeedback(ctx context.Context, id int64, feedback models.Feedback) (*models.Recording, error) {
	var rec models.Recording
	if err := c.do(ctx, http.MethodPatch, fmt.Sprintf("/api/recordings/%d/feedback", id), feedback, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (c *recordingsClient) do(ctx context.Context, method, path string, in, out interface{}) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("server error %d: %s", resp.StatusCode, apiErr.Error)
		}
		return fmt.Errorf("server error %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}
