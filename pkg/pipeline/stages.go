package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sandeepts224/AI-multi-model-assistant/pkg/analysis"
	"github.com/sandeepts224/AI-multi-model-assistant/pkg/models"
)

func (m *Manager) validateJob(ctx context.Context, msg *models.PipelineMessage) {
	job := msg.Job

	if !job.Kind.Valid() {
		m.reject(msg, fmt.Errorf("unsupported media type %q", job.Kind))
		return
	}

	if len(job.Data) == 0 {
		m.reject(msg, fmt.Errorf("empty %s chunk", job.Kind.Label()))
		return
	}

	if m.config.MaxChunkBytes > 0 && len(job.Data) > m.config.MaxChunkBytes {
		m.reject(msg, fmt.Errorf("%s chunk too large: %d bytes", job.Kind.Label(), len(job.Data)))
		return
	}

	if job.MIMEType == "" {
		job.MIMEType = analysis.DefaultMIMEType(job.Kind)
	}

	msg.Status = models.StatusAnalyzing
	m.forward(ctx, m.analysisCh, msg)
}

func (m *Manager) analyzeJob(ctx context.Context, msg *models.PipelineMessage) {
	job := msg.Job
	logger := m.jobLogger(job)

	actx := ctx
	if m.config.ProcessingTimeout > 0 {
		var cancel context.CancelFunc
		actx, cancel = context.WithTimeout(ctx, m.config.ProcessingTimeout)
		defer cancel()
	}

	started := time.Now()
	text, err := m.analyzer.Analyze(actx, analysis.Request{
		Media: analysis.Media{
			Kind:     job.Kind,
			Data:     job.Data,
			MIMEType: job.MIMEType,
		},
		PreviousAnalysis: job.PreviousAnalysis,
	})
	if err != nil {
		// The client still gets an answer for this chunk.
		logger.WithError(err).Warn("Analysis failed")
		msg.Status = models.StatusFailed
		msg.Error = err
		m.degraded.Add(1)
		msg.Reply(models.AnalysisResult{
			ChunkID:    job.ID,
			Kind:       job.Kind,
			Text:       analysis.Degraded(err),
			Degraded:   true,
			Err:        err.Error(),
			ReceivedAt: time.Now(),
		})
		return
	}

	logger.WithField("elapsed", time.Since(started).Round(time.Millisecond)).Debug("Analysis finished")

	msg.Result = &models.AnalysisResult{
		ChunkID:    job.ID,
		Kind:       job.Kind,
		Text:       text,
		ReceivedAt: time.Now(),
	}

	if job.RecordingID <= 0 || m.store == nil {
		m.complete(msg)
		return
	}

	msg.Status = models.StatusStoring
	m.forward(ctx, m.storageCh, msg)
}

func (m *Manager) storeResult(ctx context.Context, msg *models.PipelineMessage) {
	job := msg.Job

	_, err := m.store.UpdateFeedback(job.RecordingID, models.FeedbackFor(job.Kind, msg.Result.Text))
	if err != nil {
		// Analysis succeeded, so the text is still returned.
		m.jobLogger(job).WithError(err).WithField("recording_id", job.RecordingID).Error("Failed to store feedback")
	}

	m.complete(msg)
}

func (m *Manager) complete(msg *models.PipelineMessage) {
	msg.Status = models.StatusCompleted
	m.completed.Add(1)
	msg.Reply(*msg.Result)
}

// reject answers a job that never reached the analyzer.
func (m *Manager) reject(msg *models.PipelineMessage, err error) {
	m.jobLogger(msg.Job).WithError(err).Warn("Job rejected")
	m.rejected.Add(1)
	m.fail(msg, err)
}

func (m *Manager) abort(msg *models.PipelineMessage) {
	m.aborted.Add(1)
	m.fail(msg, ErrShuttingDown)
}

func (m *Manager) fail(msg *models.PipelineMessage, err error) {
	msg.Status = models.StatusFailed
	msg.Error = err
	msg.Reply(models.AnalysisResult{
		ChunkID:    msg.Job.ID,
		Kind:       msg.Job.Kind,
		Text:       analysis.Degraded(err),
		Degraded:   true,
		Err:        err.Error(),
		ReceivedAt: time.Now(),
	})
}

func (m *Manager) jobLogger(job *models.AnalysisJob) logrus.FieldLogger {
	return m.log.WithFields(logrus.Fields{
		"chunk_id":   job.ID,
		"media_type": job.Kind,
	})
}
