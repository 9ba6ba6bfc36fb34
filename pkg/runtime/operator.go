// Package runtime implements the operator pipeline: push/flush/finish
// plumbing plus the scan, summarize, sorter and transform operators.
package runtime

import (
	"context"
	"sync"

	"github.com/jsonjet/jsonjet/pkg/document"
)

// Operator is a stateful pipeline node.
//
// Push accepts one upstream document and may produce any number of
// downstream documents before returning. Flush is a barrier: buffered
// results waiting on more input are emitted, then the barrier forwards.
// Finish is terminal: end-of-stream emissions happen, state is released.
// Deliveries downstream keep production order; barriers never overtake
// emissions caused by documents pushed before them.
type Operator interface {
	Push(ctx context.Context, doc document.Document) error
	Flush(ctx context.Context) error
	Finish(ctx context.Context) error
}

// Pipeline is an ordered operator chain ending in exactly one sink. The
// chain itself is single-producer/single-consumer; the mutex serializes
// callers so at most one operation is in flight per pipeline.
type Pipeline struct {
	mu   sync.Mutex
	head Operator
}

// NewPipeline wraps an already-chained operator head.
func NewPipeline(head Operator) *Pipeline {
	return &Pipeline{head: head}
}

func (p *Pipeline) Push(ctx context.Context, doc document.Document) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.head.Push(ctx, doc)
}

func (p *Pipeline) Flush(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.head.Flush(ctx)
}

func (p *Pipeline) Finish(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.head.Finish(ctx)
}

// StreamWriter is how sink operators reach the stream manager without
// depending on it.
type StreamWriter interface {
	Insert(ctx context.Context, stream string, docs ...document.Document) (int, error)
	Flush(ctx context.Context, stream string) error
}
