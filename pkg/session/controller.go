// Package session coordinates capture, chunk recording and transport for
// one recording session at a time.
package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/sandeepts224/AI-multi-model-assistant/pkg/capture"
	"github.com/sandeepts224/AI-multi-model-assistant/pkg/config"
	"github.com/sandeepts224/AI-multi-model-assistant/pkg/models"
	"github.com/sandeepts224/AI-multi-model-assistant/pkg/recorder"
	"github.com/sandeepts224/AI-multi-model-assistant/pkg/transport"
)

// Sources hands out live media handles. *capture.Manager satisfies it.
type Sources interface {
	Acquire(ctx context.Context, kind models.MediaKind) (*capture.Handle, error)
	Release(h *capture.Handle) error
}

// Dialer opens the transport channel for a new session.
type Dialer func() (transport.Channel, error)

type Config struct {
	Timeslice       time.Duration
	AggregateSlices int
	MaxDuration     time.Duration
	ResultGrace     time.Duration
	ContextMode     ContextMode
	MaxContextBytes int
	QueueSize       int
}

func ConfigFrom(cfg *config.Config) (Config, error) {
	mode, err := ParseContextMode(cfg.Session.ContextMode)
	if err != nil {
		return Config{}, err
	}
	return Config{
		Timeslice:       cfg.Recorder.Timeslice,
		AggregateSlices: cfg.Recorder.AggregateSlices(),
		MaxDuration:     cfg.Session.MaxDuration,
		ResultGrace:     cfg.Session.ResultGrace,
		ContextMode:     mode,
		MaxContextBytes: cfg.Session.MaxContextBytes,
	}, nil
}

type Status struct {
	State        State              `json:"state"`
	SessionID    string             `json:"session_id,omitempty"`
	StartedAt    time.Time          `json:"started_at,omitempty"`
	Kinds        []models.MediaKind `json:"kinds,omitempty"`
	ChunksSent   int                `json:"chunks_sent"`
	ChunksFailed int                `json:"chunks_failed"`
	Results      int                `json:"results"`
}

type chunkRecorder interface {
	Stop()
}

type recorderFactory func(src recorder.Source, opts recorder.Options) (chunkRecorder, error)

func attachRecorder(src recorder.Source, opts recorder.Options) (chunkRecorder, error) {
	r, err := recorder.Attach(src, opts)
	if err != nil {
		return nil, err
	}
	return r, nil
}

type timer interface {
	Stop() bool
}

type timerFactory func(d time.Duration, f func()) timer

func afterFunc(d time.Duration, f func()) timer {
	return time.AfterFunc(d, f)
}

// Controller runs the session state machine. Only one session is active
// at a time; all session data lives on the controller instance.
type Controller struct {
	sources Sources
	dial    Dialer
	results Publisher
	events  EventSink
	cfg     Config
	log     logrus.FieldLogger

	newRecorder recorderFactory
	newTimer    timerFactory

	// opMu serializes the lifecycle routines; mu guards state and current.
	opMu    sync.Mutex
	mu      sync.Mutex
	state   State
	current *activeSession

	stopRuns atomic.Int64
}

func NewController(sources Sources, dial Dialer, results Publisher, events EventSink, cfg Config, log logrus.FieldLogger) *Controller {
	if cfg.Timeslice <= 0 {
		cfg.Timeslice = time.Second
	}
	if cfg.ContextMode == "" {
		cfg.ContextMode = ContextLatest
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 16
	}
	if events == nil {
		events = NopEvents{}
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Controller{
		sources:     sources,
		dial:        dial,
		results:     results,
		events:      events,
		cfg:         cfg,
		log:         log,
		newRecorder: attachRecorder,
		newTimer:    afterFunc,
		state:       StateIdle,
	}
}

// Start acquires a source for each kind in order and begins recording.
// If any acquisition fails the ones already made are released and the
// session returns to idle.
func (c *Controller) Start(ctx context.Context, kinds ...models.MediaKind) error {
	kinds, err := normalizeKinds(kinds)
	if err != nil {
		return err
	}

	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return ErrAlreadyRecording
	}
	c.state = StateStarting
	c.mu.Unlock()

	sess := newActiveSession(uuid.New().String(), c.cfg)
	log := c.log.WithField("session_id", sess.id)
	c.events.SessionStateChanged(sess.id, StateStarting)

	handles := make([]*capture.Handle, 0, len(kinds))
	for _, kind := range kinds {
		h, err := c.sources.Acquire(ctx, kind)
		if err != nil {
			c.rollback(sess, handles, nil)
			return fmt.Errorf("failed to acquire %s: %w", kind.Label(), err)
		}
		handles = append(handles, h)
	}

	ch, err := c.dial()
	if err != nil {
		c.rollback(sess, handles, nil)
		return fmt.Errorf("failed to open transport: %w", err)
	}
	sess.channel = ch
	go c.pumpResults(sess)

	for _, h := range handles {
		if err := c.attachKind(sess, h); err != nil {
			c.rollback(sess, handles, ch)
			return err
		}
	}

	c.mu.Lock()
	c.current = sess
	c.state = StateRecording
	c.mu.Unlock()

	if c.cfg.MaxDuration > 0 {
		sess.timer = c.newTimer(c.cfg.MaxDuration, func() { c.expire(sess) })
	}

	log.WithFields(logrus.Fields{
		"kinds":        kinds,
		"max_duration": c.cfg.MaxDuration,
	}).Info("Recording started")
	c.events.SessionStateChanged(sess.id, StateRecording)
	return nil
}

// rollback undoes a partial start: every acquired handle is released and
// the session passes through failed back to idle.
func (c *Controller) rollback(sess *activeSession, handles []*capture.Handle, ch transport.Channel) {
	for _, p := range sess.pipelines() {
		p.rec.Stop()
		close(p.queue)
		<-p.done
	}
	for _, h := range handles {
		if err := c.sources.Release(h); err != nil {
			c.log.WithError(err).Warn("Release during rollback failed")
		}
	}
	if ch != nil {
		_ = ch.Close()
		<-sess.pumpDone
	}

	c.mu.Lock()
	c.state = StateFailed
	c.mu.Unlock()
	c.events.SessionStateChanged(sess.id, StateFailed)

	sess.cancel()
	c.mu.Lock()
	c.state = StateIdle
	c.mu.Unlock()
	c.events.SessionStateChanged(sess.id, StateIdle)
}

// Stop ends the active session: trailing chunks are flushed and sent,
// outstanding results are awaited up to the configured grace, and every
// handle is released.
func (c *Controller) Stop(ctx context.Context) error {
	sess, err := c.claim(nil, StateStopping)
	if err != nil {
		return err
	}

	c.log.WithField("session_id", sess.id).Info("Stopping recording")
	c.runStop(ctx, sess)
	c.finish(sess, nil)
	return nil
}

// expire is the max-duration timer callback.
func (c *Controller) expire(sess *activeSession) {
	if _, err := c.claim(sess, StateStopping); err != nil {
		return
	}

	c.log.WithField("session_id", sess.id).Info("Maximum duration reached, stopping recording")
	c.runStop(context.Background(), sess)
	c.finish(sess, nil)
}

// sourceFailed handles a source that ended while recording.
func (c *Controller) sourceFailed(sess *activeSession, err error) {
	if _, claimErr := c.claim(sess, StateFailed); claimErr != nil {
		c.log.WithError(err).Debug("Source ended after the session left recording")
		return
	}

	c.log.WithField("session_id", sess.id).WithError(err).Warn("Source ended, stopping recording")
	c.runStop(context.Background(), sess)
	c.finish(sess, err)
}

// claim moves the active session out of recording. Exactly one of the
// manual stop, the timer and a source failure wins the claim.
func (c *Controller) claim(want *activeSession, to State) (*activeSession, error) {
	c.mu.Lock()
	if c.current == nil || (want != nil && c.current != want) {
		c.mu.Unlock()
		return nil, ErrNoActiveSession
	}
	if c.state != StateRecording {
		from := c.state
		c.mu.Unlock()
		return nil, checkTransition(from, to)
	}
	c.state = to
	sess := c.current
	c.mu.Unlock()

	c.events.SessionStateChanged(sess.id, to)
	return sess, nil
}

func (c *Controller) runStop(ctx context.Context, sess *activeSession) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	if sess.timer != nil {
		sess.timer.Stop()
	}

	for _, p := range sess.pipelines() {
		c.detachKind(sess, p)
	}

	if !sess.awaitResults(ctx, c.cfg.ResultGrace) {
		c.log.WithFields(logrus.Fields{
			"session_id":  sess.id,
			"outstanding": sess.outstandingCount(),
		}).Warn("Stopped before every result arrived")
	}

	_ = sess.channel.Close()
	<-sess.pumpDone
	c.stopRuns.Add(1)
}

func (c *Controller) finish(sess *activeSession, cause error) {
	sess.cancel()
	if cause != nil {
		c.events.SessionError(sess.id, cause)
	}

	c.mu.Lock()
	from := c.state
	if c.current == sess {
		c.current = nil
	}
	if err := checkTransition(from, StateIdle); err != nil {
		c.log.WithError(err).Error("Unexpected state at end of session")
	}
	c.state = StateIdle
	c.mu.Unlock()

	c.events.SessionStateChanged(sess.id, StateIdle)

	st := sess.stats()
	c.log.WithFields(logrus.Fields{
		"session_id":    sess.id,
		"chunks_sent":   st.sent,
		"chunks_failed": st.failed,
		"results":       st.results,
	}).Info("Recording stopped")
}

// StartKind attaches one more media kind to the running session.
func (c *Controller) StartKind(ctx context.Context, kind models.MediaKind) error {
	if !kind.Valid() {
		return fmt.Errorf("unknown media kind %q", kind)
	}

	c.opMu.Lock()
	defer c.opMu.Unlock()

	sess, err := c.recording()
	if err != nil {
		return err
	}
	if sess.pipeline(kind) != nil {
		return fmt.Errorf("%w: %s", ErrKindActive, kind.Label())
	}

	h, err := c.sources.Acquire(ctx, kind)
	if err != nil {
		return fmt.Errorf("failed to acquire %s: %w", kind.Label(), err)
	}
	if err := c.attachKind(sess, h); err != nil {
		_ = c.sources.Release(h)
		return err
	}

	c.log.WithFields(logrus.Fields{"session_id": sess.id, "media_type": kind}).Info("Media kind attached")
	return nil
}

// StopKind detaches one media kind. Detaching the last kind stops the
// session.
func (c *Controller) StopKind(ctx context.Context, kind models.MediaKind) error {
	c.opMu.Lock()
	sess, err := c.recording()
	if err != nil {
		c.opMu.Unlock()
		return err
	}
	p := sess.pipeline(kind)
	if p == nil {
		c.opMu.Unlock()
		return fmt.Errorf("%w: %s", ErrKindNotActive, kind.Label())
	}
	if len(sess.pipelines()) == 1 {
		c.opMu.Unlock()
		return c.Stop(ctx)
	}

	c.detachKind(sess, p)
	c.opMu.Unlock()

	c.log.WithFields(logrus.Fields{"session_id": sess.id, "media_type": kind}).Info("Media kind detached")
	return nil
}

func (c *Controller) recording() (*activeSession, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return nil, ErrNoActiveSession
	}
	if c.state != StateRecording {
		return nil, fmt.Errorf("%w: session is %s", ErrIllegalTransition, c.state)
	}
	return c.current, nil
}

// attachKind starts the recorder and the sender for one handle.
func (c *Controller) attachKind(sess *activeSession, h *capture.Handle) error {
	p := &kindPipeline{
		kind:   h.Kind,
		handle: h,
		queue:  make(chan *models.Chunk, c.cfg.QueueSize),
		done:   make(chan struct{}),
	}

	rec, err := c.newRecorder(h, recorder.Options{
		SessionID:       sess.id,
		Kind:            h.Kind,
		Timeslice:       c.cfg.Timeslice,
		AggregateSlices: c.cfg.AggregateSlices,
		Context:         sess.contexts.Get,
		Emit:            func(chunk *models.Chunk) { p.queue <- chunk },
		OnError:         func(err error) { go c.sourceFailed(sess, err) },
		Log:             c.log.WithField("session_id", sess.id),
	})
	if err != nil {
		return fmt.Errorf("failed to attach %s recorder: %w", h.Kind.Label(), err)
	}
	p.rec = rec

	go c.runSender(sess, p)
	sess.addPipeline(p)
	return nil
}

// detachKind stops the recorder, which flushes its trailing chunk, releases
// the handle and waits for the sender to drain.
func (c *Controller) detachKind(sess *activeSession, p *kindPipeline) {
	p.rec.Stop()
	if err := c.sources.Release(p.handle); err != nil {
		c.log.WithError(err).WithField("media_type", p.kind).Warn("Failed to release source")
	}
	close(p.queue)
	<-p.done
	sess.removePipeline(p.kind)
}

// runSender sends one kind's chunks strictly in order. The context is read
// again right before each send so it reflects every result seen so far.
func (c *Controller) runSender(sess *activeSession, p *kindPipeline) {
	defer close(p.done)

	for chunk := range p.queue {
		chunk.Seq = sess.nextSeq(p.kind)
		chunk.PreviousAnalysis = sess.contexts.Get(p.kind)
		sess.track(chunk)

		if err := sess.channel.Send(sess.ctx, chunk); err != nil {
			sess.untrack(chunk.ID)
			sess.countFailed()
			c.events.ChunkDropped(chunk, err)
			c.log.WithFields(logrus.Fields{
				"session_id": sess.id,
				"chunk_id":   chunk.ID,
				"media_type": chunk.Kind,
				"seq":        chunk.Seq,
			}).WithError(err).Warn("Chunk send failed, continuing")
			continue
		}
		sess.countSent()
	}
}

func (c *Controller) pumpResults(sess *activeSession) {
	defer close(sess.pumpDone)

	for result := range sess.channel.Results() {
		seq := int64(0)
		if tracked, ok := sess.untrack(result.ChunkID); ok {
			seq = tracked.seq
			if result.Kind == "" {
				result.Kind = tracked.kind
			}
		}

		if !result.Degraded && result.Text != "" && result.Kind.Valid() {
			if !sess.contexts.Update(result.Kind, seq, result.Text) {
				c.log.WithFields(logrus.Fields{
					"session_id": sess.id,
					"chunk_id":   result.ChunkID,
				}).Debug("Stale result kept out of context")
			}
		}
		sess.countResult()

		if c.results != nil {
			c.results.Publish(result)
		}
	}
}

func (c *Controller) Status() Status {
	c.mu.Lock()
	state := c.state
	sess := c.current
	c.mu.Unlock()

	st := Status{State: state}
	if sess == nil {
		return st
	}
	counters := sess.stats()
	st.SessionID = sess.id
	st.StartedAt = sess.startedAt
	st.Kinds = sess.kinds()
	st.ChunksSent = counters.sent
	st.ChunksFailed = counters.failed
	st.Results = counters.results
	return st
}

// Context returns the running analysis context for kind in the active session.
func (c *Controller) Context(kind models.MediaKind) string {
	c.mu.Lock()
	sess := c.current
	c.mu.Unlock()
	if sess == nil {
		return ""
	}
	return sess.contexts.Get(kind)
}

func normalizeKinds(kinds []models.MediaKind) ([]models.MediaKind, error) {
	if len(kinds) == 0 {
		return nil, errors.New("at least one media kind is required")
	}
	seen := make(map[models.MediaKind]bool, len(kinds))
	out := make([]models.MediaKind, 0, len(kinds))
	for _, k := range kinds {
		if !k.Valid() {
			return nil, fmt.Errorf("unknown media kind %q", k)
		}
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, k)
	}
	return out, nil
}

func sortedKinds(m map[models.MediaKind]*kindPipeline) []models.MediaKind {
	kinds := make([]models.MediaKind, 0, len(m))
	for k := range m {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}
