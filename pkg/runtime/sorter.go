package runtime

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/jsonjet/jsonjet/pkg/document"
	"github.com/jsonjet/jsonjet/pkg/lang"
)

// Sorter corrects small amounts of out-of-order arrival with a bounded
// reordering buffer. Emitted keys are non-decreasing; at most buffer_size
// documents are held; a held document older than max_latency forces
// emission.
type Sorter struct {
	next       Operator
	logger     *zap.Logger
	keyFn      lang.Compiled
	bufSize    int
	maxLatency time.Duration
	now        func() time.Time

	buf     []sortEntry // ascending by key
	lastKey float64
	emitted bool
	dropped int
}

type sortEntry struct {
	key float64
	doc document.Document
	at  time.Time
}

const (
	DefaultSorterBuffer     = 16
	DefaultSorterMaxLatency = time.Second
)

func NewSorter(keyFn lang.Compiled, bufSize int, maxLatency time.Duration, logger *zap.Logger, next Operator) *Sorter {
	if bufSize <= 0 {
		bufSize = DefaultSorterBuffer
	}
	if maxLatency <= 0 {
		maxLatency = DefaultSorterMaxLatency
	}
	return &Sorter{
		next:       next,
		logger:     logger,
		keyFn:      keyFn,
		bufSize:    bufSize,
		maxLatency: maxLatency,
		now:        time.Now,
	}
}

func (s *Sorter) Push(ctx context.Context, doc document.Document) error {
	v, err := s.keyFn(&lang.Scope{Doc: doc})
	if err != nil {
		return fmt.Errorf("sorter: %w", err)
	}
	key, ok := document.AsNumber(v)
	if !ok {
		return fmt.Errorf("sorter: key is not numeric: %v", v)
	}

	// A full buffer gives up its smallest element before the new document
	// is considered, so the late check runs against the advanced watermark.
	if len(s.buf) >= s.bufSize {
		if err := s.emitSmallest(ctx); err != nil {
			return err
		}
	}

	if s.emitted && key < s.lastKey {
		s.dropped++
		s.logger.Warn("sorter: late record dropped",
			zap.Float64("key", key), zap.Float64("watermark", s.lastKey), zap.Int("dropped", s.dropped))
		return nil
	}

	i := sort.Search(len(s.buf), func(i int) bool { return s.buf[i].key > key })
	s.buf = append(s.buf, sortEntry{})
	copy(s.buf[i+1:], s.buf[i:])
	s.buf[i] = sortEntry{key: key, doc: doc, at: s.now()}

	cutoff := s.now().Add(-s.maxLatency)
	for len(s.buf) > 0 && s.oldestAt().Before(cutoff) {
		if err := s.emitSmallest(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (s *Sorter) oldestAt() time.Time {
	oldest := s.buf[0].at
	for _, e := range s.buf[1:] {
		if e.at.Before(oldest) {
			oldest = e.at
		}
	}
	return oldest
}

func (s *Sorter) emitSmallest(ctx context.Context) error {
	e := s.buf[0]
	s.buf = s.buf[1:]
	s.lastKey = e.key
	s.emitted = true
	return s.next.Push(ctx, e.doc)
}

// Flush drains the buffer in key order and forwards the barrier.
func (s *Sorter) Flush(ctx context.Context) error {
	for len(s.buf) > 0 {
		if err := s.emitSmallest(ctx); err != nil {
			return err
		}
	}
	return s.next.Flush(ctx)
}

func (s *Sorter) Finish(ctx context.Context) error {
	for len(s.buf) > 0 {
		if err := s.emitSmallest(ctx); err != nil {
			return err
		}
	}
	return s.next.Finish(ctx)
}
