// Package pipeline runs server-side chunk analysis as a chain of stages,
// each backed by its own worker pool.
package pipeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/sandeepts224/AI-multi-model-assistant/pkg/analysis"
	"github.com/sandeepts224/AI-multi-model-assistant/pkg/config"
	"github.com/sandeepts224/AI-multi-model-assistant/pkg/models"
	"github.com/sandeepts224/AI-multi-model-assistant/pkg/storage"
)

var (
	ErrQueueFull    = errors.New("pipeline queue is full")
	ErrShuttingDown = errors.New("pipeline is shutting down")
)

type Stats struct {
	Submitted int64 `json:"submitted"`
	Completed int64 `json:"completed"`
	Degraded  int64 `json:"degraded"`
	Rejected  int64 `json:"rejected"`
	Aborted   int64 `json:"aborted"`
}

type Manager struct {
	config   config.PipelineConfig
	analyzer analysis.Analyzer
	store    storage.RecordingStore
	log      logrus.FieldLogger

	// Pipeline channels
	ingestionCh  chan *models.PipelineMessage
	validationCh chan *models.PipelineMessage
	analysisCh   chan *models.PipelineMessage
	storageCh    chan *models.PipelineMessage

	// Worker pools
	validationPool *WorkerPool
	analysisPool   *WorkerPool
	storagePool    *WorkerPool

	mu      sync.RWMutex
	running bool

	submitted atomic.Int64
	completed atomic.Int64
	degraded  atomic.Int64
	rejected  atomic.Int64
	aborted   atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewManager(cfg config.PipelineConfig, analyzer analysis.Analyzer, store storage.RecordingStore, log logrus.FieldLogger) *Manager {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Manager{
		config:   cfg,
		analyzer: analyzer,
		store:    store,
		log:      log.WithField("component", "pipeline"),

		ingestionCh:  make(chan *models.PipelineMessage, cfg.QueueSize),
		validationCh: make(chan *models.PipelineMessage, cfg.QueueSize),
		analysisCh:   make(chan *models.PipelineMessage, cfg.QueueSize),
		storageCh:    make(chan *models.PipelineMessage, cfg.QueueSize),
	}
}

func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return errors.New("pipeline already running")
	}

	m.ctx, m.cancel = context.WithCancel(ctx)
	m.log.Info("Starting pipeline")

	m.validationPool = NewWorkerPool(m.config.ValidationWorkers, m.validateJob)
	m.analysisPool = NewWorkerPool(m.config.AnalysisWorkers, m.analyzeJob)
	m.storagePool = NewWorkerPool(m.config.StorageWorkers, m.storeResult)

	m.validationPool.Start(m.ctx)
	m.analysisPool.Start(m.ctx)
	m.storagePool.Start(m.ctx)

	m.wg.Add(4)
	go m.runIngestionStage()
	go m.runStage("validation", m.validationCh, m.validationPool)
	go m.runStage("analysis", m.analysisCh, m.analysisPool)
	go m.runStage("storage", m.storageCh, m.storagePool)

	m.running = true
	return nil
}

// Stop cancels every stage and answers each job still inside the pipeline
// with a shutdown error.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	m.mu.Unlock()

	m.log.Info("Stopping pipeline")
	m.cancel()
	m.wg.Wait()
	m.validationPool.Wait()
	m.analysisPool.Wait()
	m.storagePool.Wait()

	var left []*models.PipelineMessage
	for _, ch := range []chan *models.PipelineMessage{m.ingestionCh, m.validationCh, m.analysisCh, m.storageCh} {
		left = append(left, drainChannel(ch)...)
	}
	left = append(left, m.validationPool.drain()...)
	left = append(left, m.analysisPool.drain()...)
	left = append(left, m.storagePool.drain()...)
	for _, msg := range left {
		m.abort(msg)
	}

	m.log.WithField("aborted", len(left)).Info("Pipeline stopped")
}

// SubmitJob queues job without blocking. reply receives the job's result
// exactly once, whether it completes, degrades or is cut off by Stop.
func (m *Manager) SubmitJob(job *models.AnalysisJob, reply func(models.AnalysisResult)) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	logger := m.log.WithFields(logrus.Fields{"chunk_id": job.ID, "media_type": job.Kind})
	if !m.running {
		logger.Warn("Rejected job, pipeline is not running")
		return ErrShuttingDown
	}

	msg := &models.PipelineMessage{
		Job:    job,
		Status: models.StatusPending,
		Reply:  replyOnce(reply),
	}

	select {
	case m.ingestionCh <- msg:
		m.submitted.Add(1)
		logger.WithField("bytes", len(job.Data)).Debug("Job submitted")
		return nil
	default:
		logger.Warn("Rejected job, pipeline queue is full")
		return ErrQueueFull
	}
}

func (m *Manager) Stats() Stats {
	return Stats{
		Submitted: m.submitted.Load(),
		Completed: m.completed.Load(),
		Degraded:  m.degraded.Load(),
		Rejected:  m.rejected.Load(),
		Aborted:   m.aborted.Load(),
	}
}

func (m *Manager) runIngestionStage() {
	defer m.wg.Done()

	for {
		select {
		case msg := <-m.ingestionCh:
			msg.Status = models.StatusValidating
			msg.Stage = "ingestion"
			m.forward(m.ctx, m.validationCh, msg)

		case <-m.ctx.Done():
			return
		}
	}
}

func (m *Manager) runStage(name string, in <-chan *models.PipelineMessage, pool *WorkerPool) {
	defer m.wg.Done()

	for {
		select {
		case msg := <-in:
			msg.Stage = name
			if !pool.Submit(m.ctx, msg) {
				m.abort(msg)
				return
			}

		case <-m.ctx.Done():
			return
		}
	}
}

func (m *Manager) forward(ctx context.Context, next chan<- *models.PipelineMessage, msg *models.PipelineMessage) {
	select {
	case next <- msg:
	case <-ctx.Done():
		m.abort(msg)
	}
}

func drainChannel(ch chan *models.PipelineMessage) []*models.PipelineMessage {
	var left []*models.PipelineMessage
	for {
		select {
		case msg := <-ch:
			left = append(left, msg)
		default:
			return left
		}
	}
}

func replyOnce(reply func(models.AnalysisResult)) func(models.AnalysisResult) {
	if reply == nil {
		return func(models.AnalysisResult) {}
	}
	var once sync.Once
	return func(result models.AnalysisResult) {
		once.Do(func() { reply(result) })
	}
}
