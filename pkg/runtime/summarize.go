package runtime

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/jsonjet/jsonjet/pkg/document"
	"github.com/jsonjet/jsonjet/pkg/functions"
	"github.com/jsonjet/jsonjet/pkg/lang"
)

// GroupField extracts one component of the group key.
type GroupField struct {
	Name string
	Fn   lang.Compiled
}

// Projection binds an output field to an aggregation over an input
// expression. Arg is nil for zero-argument aggregations such as count().
type Projection struct {
	Name    string
	Factory functions.AggFactory
	Arg     lang.Compiled
}

// WindowSpec describes the windowing policy of a summarize operator.
//
// Kinds: "count" (tumbling_window / count_window), "sliding", "hopping"
// (record-count based), "value" (tumbling_window_by), "value_hopping"
// (hopping_window_by) and "session" (session_window). Zero value means no
// window: results close only on flush/finish.
type WindowSpec struct {
	Kind string
	N    int
	Hop  int
	Key  lang.Compiled
	Size float64
	HopV float64
	Gap  float64
}

// SummarizeConfig collects everything the operator needs.
type SummarizeConfig struct {
	GroupBy     []GroupField
	Projections []Projection
	Window      *WindowSpec
	Trigger     Trigger
}

// Summarize performs grouped aggregation with pluggable windowing and
// emission triggers. Group buckets are created lazily on first matching
// document; count, value and session windows destroy them at window close,
// hopping windows keep them.
type Summarize struct {
	next   Operator
	logger *zap.Logger
	cfg    SummarizeConfig

	kind   string
	window Window // count / value / session windows
	late   int

	groups map[string]*sumGroup
	order  []string
}

type sumGroup struct {
	keyVals []any
	aggs    []functions.Aggregation
	rows    []sumRow
	dirty   bool
}

type sumRow struct {
	key  float64
	vals []any
}

func NewSummarize(cfg SummarizeConfig, logger *zap.Logger, next Operator) (*Summarize, error) {
	s := &Summarize{
		next:   next,
		logger: logger,
		cfg:    cfg,
		groups: make(map[string]*sumGroup),
	}
	if cfg.Window == nil {
		return s, nil
	}
	w := cfg.Window
	s.kind = w.Kind
	switch w.Kind {
	case "count":
		if w.N <= 0 {
			return nil, fmt.Errorf("window size must be positive")
		}
		s.window = &countWindow{n: w.N}
	case "sliding":
		if w.N <= 0 {
			return nil, fmt.Errorf("window size must be positive")
		}
	case "hopping":
		if w.N <= 0 || w.Hop <= 0 {
			return nil, fmt.Errorf("window size and hop must be positive")
		}
		s.window = &hoppingWindow{size: w.N, hop: w.Hop}
	case "value":
		s.window = &valueWindow{key: w.Key, size: w.Size, hop: w.Size}
	case "value_hopping":
		s.window = &valueWindow{key: w.Key, size: w.Size, hop: w.HopV}
	case "session":
		s.window = &valueWindow{key: w.Key, hop: w.Gap, session: true}
	default:
		return nil, fmt.Errorf("unknown window kind %q", w.Kind)
	}
	return s, nil
}

func (s *Summarize) Push(ctx context.Context, doc document.Document) error {
	sc := &lang.Scope{Doc: doc}

	if s.window != nil {
		drop, closeFirst, err := s.window.Before(sc)
		if err != nil {
			return fmt.Errorf("summarize: %w", err)
		}
		if drop {
			s.late++
			s.logger.Warn("summarize: late record dropped", zap.Int("dropped", s.late))
			return nil
		}
		if closeFirst {
			if err := s.closeWindow(ctx); err != nil {
				return err
			}
		}
	}

	keyVals := make([]any, len(s.cfg.GroupBy))
	for i, gf := range s.cfg.GroupBy {
		v, err := gf.Fn(sc)
		if err != nil {
			return fmt.Errorf("summarize: group key: %w", err)
		}
		keyVals[i] = v
	}
	key := document.Key(keyVals)

	g, ok := s.groups[key]
	if !ok {
		g = &sumGroup{keyVals: keyVals}
		if !s.buffered() {
			g.aggs = make([]functions.Aggregation, len(s.cfg.Projections))
			for i, p := range s.cfg.Projections {
				g.aggs[i] = p.Factory()
			}
		}
		s.groups[key] = g
		s.order = append(s.order, key)
	}

	vals := make([]any, len(s.cfg.Projections))
	for i, p := range s.cfg.Projections {
		if p.Arg == nil {
			continue
		}
		v, err := p.Arg(sc)
		if err != nil {
			return fmt.Errorf("summarize: %s: %w", p.Name, err)
		}
		vals[i] = v
	}

	if s.buffered() {
		row := sumRow{vals: vals}
		if s.kind == "value_hopping" {
			if vw, ok := s.window.(*valueWindow); ok {
				row.key = vw.lastKey
			}
		}
		g.rows = append(g.rows, row)
		if s.kind != "value_hopping" && len(g.rows) > s.cfg.Window.N {
			g.rows = g.rows[len(g.rows)-s.cfg.Window.N:]
		}
	} else {
		for i, agg := range g.aggs {
			if err := agg.Push(vals[i]); err != nil {
				return fmt.Errorf("summarize: %s: %w", s.cfg.Projections[i].Name, err)
			}
		}
	}
	g.dirty = true

	switch s.kind {
	case "sliding":
		if err := s.emitGroup(ctx, g); err != nil {
			return err
		}
		g.dirty = false
	default:
		if s.window != nil && s.window.After() {
			if err := s.closeWindow(ctx); err != nil {
				return err
			}
		}
	}

	if s.cfg.Trigger != nil {
		fire, err := s.cfg.Trigger.Fire(sc, key)
		if err != nil {
			return fmt.Errorf("summarize: trigger: %w", err)
		}
		if fire {
			if err := s.emitDirty(ctx); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Summarize) buffered() bool {
	return s.kind == "sliding" || s.kind == "hopping" || s.kind == "value_hopping"
}

// closeWindow materializes every group and applies the policy's retention:
// count/value/session windows reset by discarding their buckets, hopping
// windows keep their rows so overlapping contributions survive.
func (s *Summarize) closeWindow(ctx context.Context) error {
	for _, key := range s.order {
		g, ok := s.groups[key]
		if !ok {
			continue
		}
		if err := s.emitGroup(ctx, g); err != nil {
			return err
		}
		g.dirty = false
	}
	switch s.kind {
	case "count", "value", "session":
		s.groups = make(map[string]*sumGroup)
		s.order = nil
	case "value_hopping":
		s.evictStaleRows()
	}
	return nil
}

func (s *Summarize) evictStaleRows() {
	vw, ok := s.window.(*valueWindow)
	if !ok {
		return
	}
	lowest := vw.watermark - s.cfg.Window.Size
	for _, g := range s.groups {
		keep := g.rows[:0]
		for _, r := range g.rows {
			if r.key >= lowest {
				keep = append(keep, r)
			}
		}
		g.rows = keep
	}
}

// emitDirty forwards partial results for groups touched since the previous
// emission and clears their dirty flag, so back-to-back flushes are silent;
// aggregations are not reset.
func (s *Summarize) emitDirty(ctx context.Context) error {
	for _, key := range s.order {
		g, ok := s.groups[key]
		if !ok || !g.dirty {
			continue
		}
		if err := s.emitGroup(ctx, g); err != nil {
			return err
		}
		g.dirty = false
	}
	return nil
}

func (s *Summarize) emitGroup(ctx context.Context, g *sumGroup) error {
	out := document.Document{}
	for i, gf := range s.cfg.GroupBy {
		out[gf.Name] = g.keyVals[i]
	}
	if s.buffered() {
		for i, p := range s.cfg.Projections {
			agg := p.Factory()
			for _, row := range g.rows {
				if s.kind == "value_hopping" && !s.rowInWindow(row) {
					continue
				}
				if err := agg.Push(row.vals[i]); err != nil {
					return fmt.Errorf("summarize: %s: %w", p.Name, err)
				}
			}
			out[p.Name] = agg.Result()
		}
	} else {
		for i, p := range s.cfg.Projections {
			out[p.Name] = g.aggs[i].Result()
		}
	}
	return s.next.Push(ctx, out)
}

// rowInWindow keeps hopping_window_by emissions to the trailing `size`
// range of the watermark.
func (s *Summarize) rowInWindow(row sumRow) bool {
	vw, ok := s.window.(*valueWindow)
	if !ok {
		return true
	}
	return row.key >= vw.watermark-s.cfg.Window.Size
}

// Flush emits open windows and keeps aggregation state: a checkpoint, not a
// terminal.
func (s *Summarize) Flush(ctx context.Context) error {
	if err := s.emitDirty(ctx); err != nil {
		return err
	}
	return s.next.Flush(ctx)
}

// Finish emits, then discards all state.
func (s *Summarize) Finish(ctx context.Context) error {
	if err := s.emitDirty(ctx); err != nil {
		return err
	}
	s.groups = make(map[string]*sumGroup)
	s.order = nil
	return s.next.Finish(ctx)
}
