package session

import (
	"context"
	"sync"
	"time"

	"github.com/sandeepts224/AI-multi-model-assistant/pkg/capture"
	"github.com/sandeepts224/AI-multi-model-assistant/pkg/models"
	"github.com/sandeepts224/AI-multi-model-assistant/pkg/transport"
)

// kindPipeline is everything attached for one media kind: the handle, its
// recorder and the sender draining the recorder's chunks.
type kindPipeline struct {
	kind   models.MediaKind
	handle *capture.Handle
	rec    chunkRecorder
	queue  chan *models.Chunk
	done   chan struct{}
}

type trackedChunk struct {
	kind models.MediaKind
	seq  int64
}

type counters struct {
	sent    int
	failed  int
	results int
}

type activeSession struct {
	id        string
	startedAt time.Time
	ctx       context.Context
	cancel    context.CancelFunc
	contexts  *contextStore
	channel   transport.Channel
	timer     timer
	pumpDone  chan struct{}

	mu          sync.Mutex
	byKind      map[models.MediaKind]*kindPipeline
	seqs        map[models.MediaKind]int64
	outstanding map[string]trackedChunk
	settled     chan struct{}
	count       counters
}

func newActiveSession(id string, cfg Config) *activeSession {
	ctx, cancel := context.WithCancel(context.Background())
	return &activeSession{
		id:          id,
		startedAt:   time.Now(),
		ctx:         ctx,
		cancel:      cancel,
		contexts:    newContextStore(cfg.ContextMode, cfg.MaxContextBytes),
		pumpDone:    make(chan struct{}),
		byKind:      make(map[models.MediaKind]*kindPipeline),
		seqs:        make(map[models.MediaKind]int64),
		outstanding: make(map[string]trackedChunk),
		settled:     make(chan struct{}, 1),
	}
}

func (s *activeSession) addPipeline(p *kindPipeline) {
	s.mu.Lock()
	s.byKind[p.kind] = p
	s.mu.Unlock()
}

func (s *activeSession) removePipeline(kind models.MediaKind) {
	s.mu.Lock()
	delete(s.byKind, kind)
	s.mu.Unlock()
}

func (s *activeSession) pipeline(kind models.MediaKind) *kindPipeline {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.byKind[kind]
}

func (s *activeSession) pipelines() []*kindPipeline {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*kindPipeline, 0, len(s.byKind))
	for _, k := range sortedKinds(s.byKind) {
		out = append(out, s.byKind[k])
	}
	return out
}

func (s *activeSession) kinds() []models.MediaKind {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedKinds(s.byKind)
}

// nextSeq numbers chunks per kind for the whole session. A recorder counts
// from 1 on every attach, so its own sequence cannot order results once a
// kind has been detached and attached again.
func (s *activeSession) nextSeq(kind models.MediaKind) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seqs[kind]++
	return s.seqs[kind]
}

// track marks a chunk as awaiting its result.
func (s *activeSession) track(chunk *models.Chunk) {
	s.mu.Lock()
	s.outstanding[chunk.ID] = trackedChunk{kind: chunk.Kind, seq: chunk.Seq}
	s.mu.Unlock()
}

func (s *activeSession) untrack(chunkID string) (trackedChunk, bool) {
	s.mu.Lock()
	t, ok := s.outstanding[chunkID]
	if ok {
		delete(s.outstanding, chunkID)
	}
	s.mu.Unlock()

	if ok {
		select {
		case s.settled <- struct{}{}:
		default:
		}
	}
	return t, ok
}

func (s *activeSession) outstandingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.outstanding)
}

// awaitResults waits until every sent chunk has its result, grace has
// elapsed or ctx is done. It reports whether nothing was left outstanding.
func (s *activeSession) awaitResults(ctx context.Context, grace time.Duration) bool {
	if s.outstandingCount() == 0 {
		return true
	}
	if grace <= 0 {
		return false
	}

	deadline := time.NewTimer(grace)
	defer deadline.Stop()
	for s.outstandingCount() > 0 {
		select {
		case <-s.settled:
		case <-deadline.C:
			return false
		case <-ctx.Done():
			return false
		}
	}
	return true
}

func (s *activeSession) countSent() {
	s.mu.Lock()
	s.count.sent++
	s.mu.Unlock()
}

func (s *activeSession) countFailed() {
	s.mu.Lock()
	s.count.failed++
	s.mu.Unlock()
}

func (s *activeSession) countResult() {
	s.mu.Lock()
	s.count.results++
	s.mu.Unlock()
}

func (s *activeSession) stats() counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}
