package runtime

import (
	"context"
	"fmt"

	"github.com/jsonjet/jsonjet/pkg/document"
	"github.com/jsonjet/jsonjet/pkg/lang"
)

// Filter forwards documents whose predicate evaluates truthy.
type Filter struct {
	pred lang.Compiled
	next Operator
}

func NewFilter(pred lang.Compiled, next Operator) *Filter {
	return &Filter{pred: pred, next: next}
}

func (f *Filter) Push(ctx context.Context, doc document.Document) error {
	v, err := f.pred(&lang.Scope{Doc: doc})
	if err != nil {
		return fmt.Errorf("where: %w", err)
	}
	if !document.Truthy(v) {
		return nil
	}
	return f.next.Push(ctx, doc)
}

func (f *Filter) Flush(ctx context.Context) error  { return f.next.Flush(ctx) }
func (f *Filter) Finish(ctx context.Context) error { return f.next.Finish(ctx) }

// Map replaces each document with the transform result. A null result drops
// the document; a non-document result is an error.
type Map struct {
	fn   lang.Compiled
	next Operator
}

func NewMap(fn lang.Compiled, next Operator) *Map {
	return &Map{fn: fn, next: next}
}

func (m *Map) Push(ctx context.Context, doc document.Document) error {
	v, err := m.fn(&lang.Scope{Doc: doc})
	if err != nil {
		return fmt.Errorf("map: %w", err)
	}
	if v == nil {
		return nil
	}
	out, err := toDocument(v)
	if err != nil {
		return fmt.Errorf("map: %w", err)
	}
	return m.next.Push(ctx, out)
}

func (m *Map) Flush(ctx context.Context) error  { return m.next.Flush(ctx) }
func (m *Map) Finish(ctx context.Context) error { return m.next.Finish(ctx) }

// Select projects fields through a compiled object literal; spread and adds
// apply in source order, exclusions strip keys last.
type Select struct {
	build lang.Compiled
	next  Operator
}

func NewSelect(build lang.Compiled, next Operator) *Select {
	return &Select{build: build, next: next}
}

func (s *Select) Push(ctx context.Context, doc document.Document) error {
	v, err := s.build(&lang.Scope{Doc: doc})
	if err != nil {
		return fmt.Errorf("select: %w", err)
	}
	out, err := toDocument(v)
	if err != nil {
		return fmt.Errorf("select: %w", err)
	}
	return s.next.Push(ctx, out)
}

func (s *Select) Flush(ctx context.Context) error  { return s.next.Flush(ctx) }
func (s *Select) Finish(ctx context.Context) error { return s.next.Finish(ctx) }

// InsertInto is the sink forwarding documents into a named stream of the
// manager. An unresolvable target surfaces as a push error; the stream
// manager faults the flow once such errors repeat consecutively.
type InsertInto struct {
	writer StreamWriter
	target string
}

func NewInsertInto(writer StreamWriter, target string) *InsertInto {
	return &InsertInto{writer: writer, target: target}
}

func (i *InsertInto) Push(ctx context.Context, doc document.Document) error {
	_, err := i.writer.Insert(ctx, i.target, doc)
	return err
}

func (i *InsertInto) Flush(ctx context.Context) error {
	return i.writer.Flush(ctx, i.target)
}

func (i *InsertInto) Finish(ctx context.Context) error {
	return i.writer.Flush(ctx, i.target)
}

func toDocument(v any) (document.Document, error) {
	switch t := v.(type) {
	case document.Document:
		return t, nil
	case map[string]any:
		return document.Document(t), nil
	default:
		return nil, fmt.Errorf("expected document, got %T", v)
	}
}
