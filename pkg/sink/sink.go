// Package sink republishes analysis results to registered consumers.
package sink

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/sandeepts224/AI-multi-model-assistant/pkg/models"
)

// Consumer receives every published result.
type Consumer func(models.AnalysisResult)

type slot struct {
	name string
	fn   Consumer
}

// Sink keeps one consumer per named slot. Registering an occupied slot
// replaces its consumer but keeps the slot's original position.
type Sink struct {
	mu    sync.RWMutex
	slots []slot
}

func New() *Sink {
	return &Sink{}
}

func (s *Sink) Register(name string, fn Consumer) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.slots {
		if s.slots[i].name == name {
			s.slots[i].fn = fn
			return
		}
	}
	s.slots = append(s.slots, slot{name: name, fn: fn})
}

func (s *Sink) Unregister(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.slots {
		if s.slots[i].name == name {
			s.slots = append(s.slots[:i], s.slots[i+1:]...)
			return
		}
	}
}

// Publish calls every consumer synchronously, in registration order.
func (s *Sink) Publish(result models.AnalysisResult) {
	s.mu.RLock()
	consumers := make([]Consumer, 0, len(s.slots))
	for _, sl := range s.slots {
		if sl.fn != nil {
			consumers = append(consumers, sl.fn)
		}
	}
	s.mu.RUnlock()

	for _, fn := range consumers {
		fn(result)
	}
}

func (s *Sink) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.slots)
}

// JSONLinesMirror writes each result as one JSON object per line so a
// separate renderer process can follow the same stream.
type JSONLinesMirror struct {
	mu  sync.Mutex
	enc *json.Encoder
	err error
}

func NewJSONLinesMirror(w io.Writer) *JSONLinesMirror {
	return &JSONLinesMirror{enc: json.NewEncoder(w)}
}

func (m *JSONLinesMirror) Consume(result models.AnalysisResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enc.Encode(result); err != nil && m.err == nil {
		m.err = fmt.Errorf("mirror write failed: %w", err)
	}
}

// Err reports the first write failure.
func (m *JSONLinesMirror) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}
