package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/sandeepts224/AI-multi-model-assistant/pkg/analysis"
	"github.com/sandeepts224/AI-multi-model-assistant/pkg/config"
	"github.com/sandeepts224/AI-multi-model-assistant/pkg/models"
	"github.com/sandeepts224/AI-multi-model-assistant/pkg/pipeline"
	"github.com/sandeepts224/AI-multi-model-assistant/pkg/storage"
	"github.com/sandeepts224/AI-multi-model-assistant/pkg/transport"
)

// Submitter accepts analysis jobs; pipeline.Manager is the production one.
type Submitter interface {
	SubmitJob(job *models.AnalysisJob, reply func(models.AnalysisResult)) error
}

type Handlers struct {
	pipeline Submitter
	analyzer analysis.Analyzer
	store    storage.RecordingStore
	cfg      config.ServerConfig
	log      logrus.FieldLogger
}

func NewHandlers(p Submitter, analyzer analysis.Analyzer, store storage.RecordingStore, cfg config.ServerConfig, log logrus.FieldLogger) *Handlers {
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 32 << 20
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Handlers{
		pipeline: p,
		analyzer: analyzer,
		store:    store,
		cfg:      cfg,
		log:      log.WithField("component", "api"),
	}
}

// Router wires every endpoint.
func (h *Handlers) Router() *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/healthz", h.HealthHandler).Methods("GET")
	router.HandleFunc("/analyze", h.UploadHandler).Methods("POST")
	router.HandleFunc("/ws/analyze", h.WebSocketHandler)

	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/analyze", h.AnalyzeHandler).Methods("POST")
	api.HandleFunc("/recordings", h.ListRecordingsHandler).Methods("GET")
	api.HandleFunc("/recordings/{id:[0-9]+}", h.GetRecordingHandler).Methods("GET")
	api.HandleFunc("/recordings/{id:[0-9]+}/feedback", h.UpdateFeedbackHandler).Methods("PATCH")
	return router
}

func (h *Handlers) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// AnalyzeRequest carries base64 encoded recordings.
type AnalyzeRequest struct {
	AudioBlob        string `json:"audioBlob"`
	ScreenBlob       string `json:"screenBlob"`
	PreviousAnalysis string `json:"previousAnalysis"`
}

type AnalyzeResult struct {
	RecordingID      int64  `json:"recordingId"`
	CombinedAnalysis string `json:"combinedAnalysis,omitempty"`
	Analysis         string `json:"analysis,omitempty"`
	MediaType        string `json:"mediaType,omitempty"`
}

// AnalyzeHandler analyzes a whole recording synchronously. With both blobs
// present the model sees them together.
func (h *Handlers) AnalyzeHandler(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxUploadBytes)

	var req AnalyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, statusForBodyError(err), "invalid request body")
		return
	}

	audio, err := decodeBlob(req.AudioBlob)
	if err != nil {
		writeError(w, http.StatusBadRequest, "audioBlob: "+err.Error())
		return
	}
	screen, err := decodeBlob(req.ScreenBlob)
	if err != nil {
		writeError(w, http.StatusBadRequest, "screenBlob: "+err.Error())
		return
	}
	if len(audio) == 0 && len(screen) == 0 {
		writeError(w, http.StatusBadRequest, "audioBlob or screenBlob is required")
		return
	}

	rec, err := h.store.CreateRecording(&models.Recording{
		AudioBlob:  req.AudioBlob,
		ScreenBlob: req.ScreenBlob,
	})
	if err != nil {
		h.log.WithError(err).Error("Failed to create recording")
		writeError(w, http.StatusInternalServerError, "failed to create recording")
		return
	}

	logger := h.log.WithField("recording_id", rec.ID)
	out := AnalyzeResult{RecordingID: rec.ID}

	switch {
	case len(audio) > 0 && len(screen) > 0:
		logger.Info("Combined analysis started")
		text, err := h.analyzer.AnalyzeCombined(r.Context(),
			analysis.Media{Kind: models.MediaAudio, Data: audio, MIMEType: analysis.DefaultMIMEType(models.MediaAudio)},
			analysis.Media{Kind: models.MediaScreen, Data: screen, MIMEType: analysis.DefaultMIMEType(models.MediaScreen)},
		)
		if err != nil {
			logger.WithError(err).Error("Combined analysis failed")
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		out.CombinedAnalysis = text
		_, err = h.store.UpdateFeedback(rec.ID, models.Feedback{AudioFeedback: text, ScreenFeedback: text})
		if err != nil {
			logger.WithError(err).Error("Failed to store feedback")
		}

	default:
		kind, data := models.MediaAudio, audio
		if len(screen) > 0 {
			kind, data = models.MediaScreen, screen
		}
		text, err := h.analyzer.Analyze(r.Context(), analysis.Request{
			Media:            analysis.Media{Kind: kind, Data: data, MIMEType: analysis.DefaultMIMEType(kind)},
			PreviousAnalysis: req.PreviousAnalysis,
		})
		if err != nil {
			logger.WithError(err).Error("Analysis failed")
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		out.Analysis = text
		out.MediaType = string(kind)
		if _, err := h.store.UpdateFeedback(rec.ID, models.FeedbackFor(kind, text)); err != nil {
			logger.WithError(err).Error("Failed to store feedback")
		}
	}

	writeJSON(w, http.StatusOK, out)
}

// UploadHandler takes one multipart chunk, runs it through the pipeline and
// answers with its analysis.
func (h *Handlers) UploadHandler(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, statusForBodyError(err), "failed to parse form")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read file")
		return
	}
	if len(data) == 0 {
		writeError(w, http.StatusBadRequest, "file is empty")
		return
	}

	mimeType := header.Header.Get("Content-Type")
	kind, ok := models.ParseMediaKind(r.FormValue("mediaType"))
	if !ok {
		if r.FormValue("mediaType") != "" {
			writeError(w, http.StatusBadRequest, "unsupported mediaType")
			return
		}
		kind = kindFromMIME(mimeType)
	}

	job := models.NewAnalysisJob(r.FormValue("chunk_id"), 0, kind, data)
	job.PreviousAnalysis = r.FormValue("previous_analysis")
	if mimeType != "application/octet-stream" {
		job.MIMEType = mimeType
	}

	h.log.WithFields(logrus.Fields{
		"chunk_id":   job.ID,
		"media_type": kind,
		"bytes":      len(data),
	}).Debug("Chunk upload received")

	result, err := h.submitAndWait(r.Context(), job)
	if err != nil {
		if errors.Is(err, pipeline.ErrQueueFull) || errors.Is(err, pipeline.ErrShuttingDown) {
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		writeError(w, http.StatusGatewayTimeout, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, transport.AnalyzeResponse{
		Analysis:  result.Text,
		MediaType: kind,
		ChunkID:   job.ID,
		Degraded:  result.Degraded,
		Error:     result.Err,
	})
}

func (h *Handlers) ListRecordingsHandler(w http.ResponseWriter, r *http.Request) {
	recs, err := h.store.ListRecordings()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	limit := len(recs)
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil && parsed > 0 && parsed < limit {
			limit = parsed
		}
	}
	// Newest last; a limit keeps the most recent rows.
	recs = recs[len(recs)-limit:]

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"recordings": recs,
		"count":      len(recs),
	})
}

func (h *Handlers) GetRecordingHandler(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)

	rec, err := h.store.GetRecording(id)
	if err != nil {
		if errors.Is(err, storage.ErrRecordingNotFound) {
			writeError(w, http.StatusNotFound, "recording not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	writeJSON(w, http.StatusOK, rec)
}

func (h *Handlers) UpdateFeedbackHandler(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)

	var feedback models.Feedback
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&feedback); err != nil {
		writeError(w, http.StatusBadRequest, "invalid feedback body")
		return
	}

	rec, err := h.store.UpdateFeedback(id, feedback)
	if err != nil {
		if errors.Is(err, storage.ErrRecordingNotFound) {
			writeError(w, http.StatusNotFound, "recording not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	writeJSON(w, http.StatusOK, rec)
}

// submitAndWait blocks until the pipeline answers or ctx ends.
func (h *Handlers) submitAndWait(ctx context.Context, job *models.AnalysisJob) (models.AnalysisResult, error) {
	done := make(chan models.AnalysisResult, 1)
	if err := h.pipeline.SubmitJob(job, func(res models.AnalysisResult) { done <- res }); err != nil {
		return models.AnalysisResult{}, err
	}

	select {
	case res := <-done:
		return res, nil
	case <-ctx.Done():
		return models.AnalysisResult{}, fmt.Errorf("waiting for analysis: %w", ctx.Err())
	}
}

func decodeBlob(blob string) ([]byte, error) {
	if blob == "" {
		return nil, nil
	}
	// Accept data URLs as produced by FileReader.readAsDataURL.
	if i := strings.Index(blob, ";base64,"); i >= 0 && strings.HasPrefix(blob, "data:") {
		blob = blob[i+len(";base64,"):]
	}
	data, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return nil, fmt.Errorf("invalid base64: %w", err)
	}
	return data, nil
}

func kindFromMIME(mimeType string) models.MediaKind {
	if strings.HasPrefix(mimeType, "audio/") {
		return models.MediaAudio
	}
	return models.MediaScreen
}

func statusForBodyError(err error) int {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return http.StatusRequestEntityTooLarge
	}
	return http.StatusBadRequest
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
