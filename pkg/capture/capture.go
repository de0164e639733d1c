// Package capture acquires and releases live media sources. Audio and
// screen handles have independent lifetimes: a screen share may outlive
// several microphone cycles.
package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/sandeepts224/AI-multi-model-assistant/pkg/models"
)

var (
	ErrPermissionDenied  = errors.New("permission denied")
	ErrUserCancelled     = errors.New("user cancelled")
	ErrDeviceUnavailable = errors.New("device unavailable")
	ErrNoAcquirer        = errors.New("no acquirer configured for media kind")
)

// Stream is a live encoded media stream.
type Stream interface {
	io.Reader
	Stop() error
	MIMEType() string
}

// ChunkFinalizer is implemented by streams whose raw bytes need framing
// before a chunk of them is decodable on its own (raw PCM, for example).
type ChunkFinalizer interface {
	FinalizeChunk(payload []byte) []byte
}

// Acquirer opens one kind of source. Implementations may prompt the user.
// ctx bounds the acquisition only: cancelling it after Acquire returns does
// not end the stream, Stop does.
type Acquirer interface {
	Acquire(ctx context.Context) (Stream, error)
}

// AcquirerFunc adapts a function to Acquirer.
type AcquirerFunc func(ctx context.Context) (Stream, error)

func (f AcquirerFunc) Acquire(ctx context.Context) (Stream, error) {
	return f(ctx)
}

type State int

const (
	Unacquired State = iota
	Active
	Stopped
)

func (s State) String() string {
	switch s {
	case Unacquired:
		return "unacquired"
	case Active:
		return "active"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Handle is one acquired source. It moves unacquired -> active -> stopped
// and is never re-activated; a new acquisition yields a new Handle.
type Handle struct {
	ID         string
	Kind       models.MediaKind
	AcquiredAt time.Time

	mu     sync.Mutex
	state  State
	stream Stream
}

func (h *Handle) Read(p []byte) (int, error) {
	return h.stream.Read(p)
}

func (h *Handle) MIMEType() string {
	return h.stream.MIMEType()
}

// FinalizeChunk frames a payload when the underlying stream requires it.
func (h *Handle) FinalizeChunk(payload []byte) []byte {
	if f, ok := h.stream.(ChunkFinalizer); ok {
		return f.FinalizeChunk(payload)
	}
	return payload
}

func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// stop reports whether this call performed the active -> stopped move.
func (h *Handle) stop() (bool, error) {
	h.mu.Lock()
	if h.state != Active {
		h.mu.Unlock()
		return false, nil
	}
	h.state = Stopped
	h.mu.Unlock()

	return true, h.stream.Stop()
}

// Stats counts acquisitions and releases over the manager's lifetime.
type Stats struct {
	Acquired int
	Released int
	Active   int
}

// Manager owns every handle it hands out.
type Manager struct {
	acquirers map[models.MediaKind]Acquirer
	log       logrus.FieldLogger

	mu       sync.Mutex
	acquired int
	released int
	active   map[string]*Handle
}

// NewManager takes the acquirer for each kind; a nil acquirer disables that kind.
func NewManager(audio, screen Acquirer, log logrus.FieldLogger) *Manager {
	acquirers := make(map[models.MediaKind]Acquirer, 2)
	if audio != nil {
		acquirers[models.MediaAudio] = audio
	}
	if screen != nil {
		acquirers[models.MediaScreen] = screen
	}
	return &Manager{
		acquirers: acquirers,
		log:       log,
		active:    make(map[string]*Handle),
	}
}

func (m *Manager) AcquireAudio(ctx context.Context) (*Handle, error) {
	return m.Acquire(ctx, models.MediaAudio)
}

func (m *Manager) AcquireScreen(ctx context.Context) (*Handle, error) {
	return m.Acquire(ctx, models.MediaScreen)
}

func (m *Manager) Acquire(ctx context.Context, kind models.MediaKind) (*Handle, error) {
	acquirer, ok := m.acquirers[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoAcquirer, kind.Label())
	}

	stream, err := acquirer.Acquire(ctx)
	if err != nil {
		m.log.WithError(err).WithField("media_type", kind).Warn("Source acquisition failed")
		return nil, err
	}

	h := &Handle{
		ID:         uuid.New().String(),
		Kind:       kind,
		AcquiredAt: time.Now(),
		state:      Active,
		stream:     stream,
	}

	m.mu.Lock()
	m.acquired++
	m.active[h.ID] = h
	m.mu.Unlock()

	m.log.WithFields(logrus.Fields{"media_type": kind, "handle_id": h.ID}).Info("Source acquired")
	return h, nil
}

// Release stops the handle's tracks. Releasing a stopped handle is a no-op.
func (m *Manager) Release(h *Handle) error {
	if h == nil {
		return nil
	}

	stopped, err := h.stop()
	if !stopped {
		return nil
	}

	m.mu.Lock()
	m.released++
	delete(m.active, h.ID)
	m.mu.Unlock()

	fields := logrus.Fields{"media_type": h.Kind, "handle_id": h.ID}
	if err != nil {
		m.log.WithFields(fields).WithError(err).Warn("Source released with error")
		return fmt.Errorf("failed to stop %s source: %w", h.Kind.Label(), err)
	}
	m.log.WithFields(fields).Info("Source released")
	return nil
}

// ReleaseAll stops every handle still active, used at shutdown.
func (m *Manager) ReleaseAll() {
	m.mu.Lock()
	handles := make([]*Handle, 0, len(m.active))
	for _, h := range m.active {
		handles = append(handles, h)
	}
	m.mu.Unlock()

	for _, h := range handles {
		_ = m.Release(h)
	}
}

func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Stats{Acquired: m.acquired, Released: m.released, Active: len(m.active)}
}
