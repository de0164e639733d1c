package session

import (
	"fmt"
	"sync"
	"unicode/utf8"

	"github.com/sandeepts224/AI-multi-model-assistant/pkg/models"
)

type ContextMode string

const (
	// ContextLatest keeps only the most recent analysis per kind.
	ContextLatest ContextMode = "latest"
	// ContextAccumulate appends every analysis, newline separated.
	ContextAccumulate ContextMode = "accumulate"
)

func ParseContextMode(s string) (ContextMode, error) {
	switch ContextMode(s) {
	case ContextLatest, "":
		return ContextLatest, nil
	case ContextAccumulate:
		return ContextAccumulate, nil
	default:
		return "", fmt.Errorf("unknown context mode %q", s)
	}
}

// contextStore holds the running analysis text for each media kind of one
// session.
type contextStore struct {
	mode     ContextMode
	maxBytes int

	mu      sync.Mutex
	values  map[models.MediaKind]string
	lastSeq map[models.MediaKind]int64
}

func newContextStore(mode ContextMode, maxBytes int) *contextStore {
	return &contextStore{
		mode:     mode,
		maxBytes: maxBytes,
		values:   make(map[models.MediaKind]string),
		lastSeq:  make(map[models.MediaKind]int64),
	}
}

func (s *contextStore) Get(kind models.MediaKind) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.values[kind]
}

// Update records text produced for chunk seq. A result for an older chunk
// than the one that last wrote the context is ignored. seq <= 0 marks a
// result that cannot be matched to a chunk and is always applied.
func (s *contextStore) Update(kind models.MediaKind, seq int64, text string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if seq > 0 {
		if seq < s.lastSeq[kind] {
			return false
		}
		s.lastSeq[kind] = seq
	}

	next := text
	if s.mode == ContextAccumulate && s.values[kind] != "" {
		next = s.values[kind] + "\n" + text
	}
	s.values[kind] = tail(next, s.maxBytes)
	return true
}

// tail keeps at most max bytes from the end of s without splitting a rune.
func tail(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	cut := len(s) - max
	for cut < len(s) && !utf8.RuneStart(s[cut]) {
		cut++
	}
	return s[cut:]
}
