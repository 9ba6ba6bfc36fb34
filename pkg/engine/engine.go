// Package engine executes Jet statements: parse, bind against the registry
// and the live streams, then run side effects through the stream manager.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jsonjet/jsonjet/pkg/document"
	"github.com/jsonjet/jsonjet/pkg/functions"
	"github.com/jsonjet/jsonjet/pkg/lang"
	"github.com/jsonjet/jsonjet/pkg/stream"
)

// Error kinds. Parse and bind errors fail loudly before any side effect;
// runtime errors per document fail soft inside the flows.
var (
	ErrParse    = errors.New("parse error")
	ErrBind     = errors.New("bind error")
	ErrResource = errors.New("resource error")
)

// Response is the envelope returned by Execute.
type Response struct {
	Success  bool     `json:"success"`
	Results  []any    `json:"results,omitempty"`
	Error    string   `json:"error,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// Options tune runtime bounds.
type Options struct {
	ScanMaxMatches   int
	SorterBuffer     int
	SorterMaxLatency time.Duration
}

// Engine ties the transpiler, the registries and the stream manager
// together.
type Engine struct {
	mgr    *stream.Manager
	reg    *functions.Registry
	logger *zap.Logger
	opts   Options

	mu      sync.RWMutex
	lookups map[string]any
}

func New(mgr *stream.Manager, logger *zap.Logger, opts Options) *Engine {
	e := &Engine{
		mgr:     mgr,
		reg:     functions.NewRegistry(),
		logger:  logger,
		opts:    opts,
		lookups: make(map[string]any),
	}
	e.reg.RegisterScalar("lookup_get", e.lookupGet)
	return e
}

// Manager exposes the stream manager for front-ends.
func (e *Engine) Manager() *stream.Manager { return e.mgr }

// Registry exposes the function registry for callers that add scalars.
func (e *Engine) Registry() *functions.Registry { return e.reg }

// Execute runs a Jet program. Statements execute in order; the first error
// stops execution and is reported in the envelope.
func (e *Engine) Execute(ctx context.Context, source string) *Response {
	prog, err := lang.Parse(source)
	if err != nil {
		return &Response{Error: fmt.Errorf("%w: %v", ErrParse, err).Error()}
	}
	resp := &Response{Success: true}
	for _, stmt := range prog.Statements {
		result, err := e.exec(ctx, stmt)
		if err != nil {
			resp.Success = false
			resp.Error = err.Error()
			return resp
		}
		resp.Results = append(resp.Results, result)
	}
	return resp
}

func (e *Engine) exec(ctx context.Context, stmt *lang.Statement) (any, error) {
	switch {
	case stmt.Create != nil:
		return e.execCreate(stmt.Create)
	case stmt.Delete != nil:
		return e.execDelete(stmt.Delete)
	case stmt.Insert != nil:
		return e.execInsert(ctx, stmt.Insert)
	case stmt.Flush != nil:
		if err := e.mgr.Flush(ctx, stmt.Flush.Stream); err != nil {
			return nil, wrapResource(err)
		}
		return map[string]any{"flushed": stmt.Flush.Stream}, nil
	case stmt.List != nil:
		return e.execList(stmt.List)
	case stmt.Info != nil:
		return e.execInfo(stmt.Info)
	case stmt.Subscribe != nil:
		return e.execSubscribe(stmt.Subscribe)
	case stmt.Unsubscribe != nil:
		if err := e.mgr.Unsubscribe(stmt.Unsubscribe.ID); err != nil {
			return nil, wrapResource(err)
		}
		return map[string]any{"unsubscribed": stmt.Unsubscribe.ID}, nil
	}
	return nil, fmt.Errorf("%w: empty statement", ErrParse)
}

func (e *Engine) execCreate(c *lang.CreateStmt) (any, error) {
	switch {
	case c.Stream != nil:
		ttl, err := ttlOf(c.Stream.TTL)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrParse, err)
		}
		if err := e.mgr.CreateStream(c.Stream.Name, c.OrReplace, ttl); err != nil {
			return nil, wrapResource(err)
		}
		return map[string]any{"created": "stream", "name": c.Stream.Name}, nil

	case c.Flow != nil:
		ttl, err := ttlOf(c.Flow.TTL)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrParse, err)
		}
		if c.OrReplace {
			_ = e.mgr.DeleteFlow(c.Flow.Name)
		}
		pipe, err := e.buildPipeline(c.Flow.Pipe)
		if err != nil {
			return nil, err
		}
		id, err := e.mgr.AttachFlow(c.Flow.Name, c.Flow.Pipe.Source, pipe, ttl)
		if err != nil {
			return nil, wrapResource(err)
		}
		return map[string]any{"created": "flow", "name": c.Flow.Name, "id": id}, nil

	case c.Lookup != nil:
		v, err := e.constEval(c.Lookup.Value)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBind, err)
		}
		e.mu.Lock()
		defer e.mu.Unlock()
		if _, ok := e.lookups[c.Lookup.Name]; ok && !c.OrReplace {
			return nil, fmt.Errorf("%w: lookup %s already exists", ErrResource, c.Lookup.Name)
		}
		e.lookups[c.Lookup.Name] = v
		return map[string]any{"created": "lookup", "name": c.Lookup.Name}, nil
	}
	return nil, fmt.Errorf("%w: empty create", ErrParse)
}

func (e *Engine) execDelete(d *lang.DeleteStmt) (any, error) {
	switch d.Kind {
	case "stream":
		if err := e.mgr.DeleteStream(d.Name); err != nil {
			return nil, wrapResource(err)
		}
	case "flow":
		if err := e.mgr.DeleteFlow(d.Name); err != nil {
			return nil, wrapResource(err)
		}
	case "lookup":
		e.mu.Lock()
		defer e.mu.Unlock()
		if _, ok := e.lookups[d.Name]; !ok {
			return nil, fmt.Errorf("%w: lookup %s not found", ErrResource, d.Name)
		}
		delete(e.lookups, d.Name)
	}
	return map[string]any{"deleted": d.Kind, "name": d.Name}, nil
}

func (e *Engine) execInsert(ctx context.Context, ins *lang.InsertStmt) (any, error) {
	v, err := e.constEval(ins.Value)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBind, err)
	}
	var docs []document.Document
	switch t := v.(type) {
	case document.Document:
		docs = []document.Document{t}
	case []any:
		for _, item := range t {
			doc, ok := item.(document.Document)
			if !ok {
				return nil, fmt.Errorf("%w: insert expects documents, got %T", ErrBind, item)
			}
			docs = append(docs, doc)
		}
	default:
		return nil, fmt.Errorf("%w: insert expects a document or an array of documents", ErrBind)
	}
	count, err := e.mgr.Insert(ctx, ins.Target, docs...)
	if err != nil {
		return nil, wrapResource(err)
	}
	return map[string]any{"count": count}, nil
}

func (e *Engine) execList(l *lang.ListStmt) (any, error) {
	var names []string
	switch l.Kind {
	case "streams":
		names = e.mgr.ListStreams()
	case "flows":
		names = e.mgr.ListFlows()
	case "lookups":
		e.mu.RLock()
		for name := range e.lookups {
			names = append(names, name)
		}
		e.mu.RUnlock()
	}
	sort.Strings(names)
	return names, nil
}

func (e *Engine) execInfo(i *lang.InfoStmt) (any, error) {
	if info, err := e.mgr.Info(i.Name); err == nil {
		return info, nil
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	if v, ok := e.lookups[i.Name]; ok {
		return map[string]any{"kind": "lookup", "name": i.Name, "value": v}, nil
	}
	return nil, fmt.Errorf("%w: %s not found", ErrResource, i.Name)
}

// execSubscribe registers a logging subscriber; front-ends wanting data
// frames subscribe through the manager directly.
func (e *Engine) execSubscribe(s *lang.SubscribeStmt) (any, error) {
	name := s.Stream
	id, err := e.mgr.Subscribe(name, stream.Subscriber{
		OnData: func(_ context.Context, doc document.Document) error {
			e.logger.Info("subscription data", zap.String("stream", name), zap.Any("doc", doc))
			return nil
		},
	})
	if err != nil {
		return nil, wrapResource(err)
	}
	return map[string]any{"subscription_id": id}, nil
}

// constEval compiles and evaluates an expression with no record in scope,
// the path insert literals and lookup bodies take.
func (e *Engine) constEval(expr *lang.Expr) (any, error) {
	c, err := lang.Compile(expr, e.reg)
	if err != nil {
		return nil, err
	}
	return c(&lang.Scope{})
}

func (e *Engine) lookupGet(args []any) (any, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("lookup_get expects 2 arguments, got %d", len(args))
	}
	name, ok := args[0].(string)
	if !ok {
		return nil, fmt.Errorf("lookup_get: name must be a string")
	}
	path, ok := args[1].(string)
	if !ok {
		return nil, fmt.Errorf("lookup_get: path must be a string")
	}
	e.mu.RLock()
	v, ok := e.lookups[name]
	e.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	if path == "" {
		return v, nil
	}
	doc, ok := v.(document.Document)
	if !ok {
		return nil, nil
	}
	out, _ := doc.Get(path)
	return out, nil
}

func ttlOf(tok *string) (time.Duration, error) {
	if tok == nil {
		return 0, nil
	}
	return lang.ParseDuration(*tok)
}

func wrapResource(err error) error {
	if errors.Is(err, stream.ErrStreamNotFound) || errors.Is(err, stream.ErrFlowNotFound) {
		return fmt.Errorf("%w: %v", ErrBind, err)
	}
	return fmt.Errorf("%w: %v", ErrResource, err)
}
