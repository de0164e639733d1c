// Package recorder turns a live source into ordered chunks: the bytes read
// during each timeslice form one raw buffer, and every AggregateSlices
// buffers are concatenated into a chunk.
package recorder

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sandeepts224/AI-multi-model-assistant/pkg/models"
)

var ErrSourceEnded = errors.New("source ended unexpectedly")

// Source is the live media a recorder reads from. *capture.Handle satisfies it.
type Source interface {
	io.Reader
	MIMEType() string
	FinalizeChunk(payload []byte) []byte
}

type Options struct {
	SessionID       string
	Kind            models.MediaKind
	Timeslice       time.Duration
	AggregateSlices int

	// Context returns the running analysis context for the kind; it is read
	// when a chunk is finalized.
	Context func(models.MediaKind) string
	// Emit receives finalized chunks in order.
	Emit func(*models.Chunk)
	// OnError is called once if the source ends while recording.
	OnError func(error)

	Log logrus.FieldLogger
}

type State int

const (
	Recording State = iota
	Stopped
)

func (s State) String() string {
	if s == Recording {
		return "recording"
	}
	return "stopped"
}

type Stats struct {
	Slices int
	Chunks int
	Bytes  int64
}

type ticker interface {
	C() <-chan time.Time
	Stop()
}

type timeTicker struct{ t *time.Ticker }

func (t timeTicker) C() <-chan time.Time { return t.t.C }
func (t timeTicker) Stop()               { t.t.Stop() }

func newTimeTicker(d time.Duration) ticker {
	return timeTicker{t: time.NewTicker(d)}
}

type Recorder struct {
	src  Source
	opts Options
	log  logrus.FieldLogger

	agg aggregator
	seq int64

	reads    chan []byte
	readErr  chan error
	stopCh   chan struct{}
	loopDone chan struct{}

	stopOnce sync.Once
	received atomic.Int64

	mu    sync.Mutex
	state State
	stats Stats
}

// Attach starts recording src.
func Attach(src Source, opts Options) (*Recorder, error) {
	return attach(src, opts, newTimeTicker)
}

func attach(src Source, opts Options, newTicker func(time.Duration) ticker) (*Recorder, error) {
	if src == nil {
		return nil, errors.New("recorder: nil source")
	}
	if opts.Timeslice <= 0 {
		return nil, errors.New("recorder: timeslice must be positive")
	}
	if opts.Emit == nil {
		return nil, errors.New("recorder: emit callback required")
	}
	if opts.AggregateSlices < 0 {
		opts.AggregateSlices = 0
	}
	log := opts.Log
	if log == nil {
		log = logrus.StandardLogger()
	}

	r := &Recorder{
		src:      src,
		opts:     opts,
		log:      log.WithField("media_type", opts.Kind),
		agg:      aggregator{threshold: opts.AggregateSlices},
		reads:    make(chan []byte),
		readErr:  make(chan error, 1),
		stopCh:   make(chan struct{}),
		loopDone: make(chan struct{}),
		state:    Recording,
	}

	t := newTicker(opts.Timeslice)
	go r.readLoop()
	go r.run(t)

	r.log.WithFields(logrus.Fields{
		"timeslice":        opts.Timeslice,
		"aggregate_slices": opts.AggregateSlices,
	}).Debug("Recorder attached")
	return r, nil
}

func (r *Recorder) readLoop() {
	buf := make([]byte, 32*1024)
	for {
		n, err := r.src.Read(buf)
		if n > 0 {
			data := append([]byte(nil), buf[:n]...)
			select {
			case r.reads <- data:
			case <-r.loopDone:
				return
			}
		}
		if err != nil {
			select {
			case r.readErr <- err:
			case <-r.loopDone:
			}
			return
		}
	}
}

func (r *Recorder) run(t ticker) {
	defer t.Stop()

	var pending bytes.Buffer
	for {
		select {
		case data := <-r.reads:
			pending.Write(data)
			r.received.Add(int64(len(data)))

		case <-t.C():
			r.slice(&pending)

		case err := <-r.readErr:
			r.slice(&pending)
			r.setState(Stopped)
			close(r.loopDone)

			r.log.WithError(err).Warn("Source ended while recording")
			if r.opts.OnError != nil {
				r.opts.OnError(fmt.Errorf("%w: %s: %v", ErrSourceEnded, r.opts.Kind.Label(), err))
			}
			return

		case <-r.stopCh:
			r.slice(&pending)
			close(r.loopDone)
			return
		}
	}
}

// slice turns the bytes read since the last tick into one raw buffer.
// Empty intervals produce nothing.
func (r *Recorder) slice(pending *bytes.Buffer) {
	if pending.Len() == 0 {
		return
	}
	buf := append([]byte(nil), pending.Bytes()...)
	pending.Reset()

	r.mu.Lock()
	r.stats.Slices++
	r.mu.Unlock()

	if group := r.agg.push(buf); group != nil {
		r.finalize(group)
	}
}

func (r *Recorder) finalize(group [][]byte) {
	payload := r.src.FinalizeChunk(concat(group))

	r.seq++
	chunk := models.NewChunk(r.opts.SessionID, r.opts.Kind, r.seq, payload)
	chunk.MIMEType = r.src.MIMEType()
	chunk.Slices = len(group)
	if r.opts.Context != nil {
		chunk.PreviousAnalysis = r.opts.Context(r.opts.Kind)
	}

	r.mu.Lock()
	r.stats.Chunks++
	r.stats.Bytes += int64(len(payload))
	r.mu.Unlock()

	r.log.WithFields(logrus.Fields{
		"chunk_id": chunk.ID,
		"seq":      chunk.Seq,
		"slices":   chunk.Slices,
		"size":     chunk.Size(),
	}).Debug("Chunk finalized")

	r.opts.Emit(chunk)
}

// Stop halts slicing and emits the unflushed buffers as one trailing chunk.
// It never emits an empty chunk and is safe to call more than once.
func (r *Recorder) Stop() {
	r.stopOnce.Do(func() {
		select {
		case <-r.loopDone:
		default:
			close(r.stopCh)
			<-r.loopDone
		}

		if group := r.agg.drain(); group != nil {
			r.finalize(group)
		}
		r.setState(Stopped)
	})
}

func (r *Recorder) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Recorder) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

func (r *Recorder) setState(s State) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
}
