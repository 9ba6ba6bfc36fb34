package functions

import (
	"fmt"

	"github.com/jsonjet/jsonjet/pkg/document"
)

// Aggregation accumulates pushed values for one group. Reset after Clone
// yields the same state as a fresh instance.
type Aggregation interface {
	Push(v any) error
	Result() any
	Reset()
	Clone() Aggregation
}

// AggFactory builds a fresh aggregation instance.
type AggFactory func() Aggregation

func registerAggregations(r *Registry) {
	r.aggs["sum"] = func() Aggregation { return &sumAgg{} }
	r.aggs["count"] = func() Aggregation { return &countAgg{} }
	r.aggs["avg"] = func() Aggregation { return &avgAgg{} }
	r.aggs["min"] = func() Aggregation { return &extremeAgg{better: func(a, b float64) bool { return a < b }} }
	r.aggs["max"] = func() Aggregation { return &extremeAgg{better: func(a, b float64) bool { return a > b }} }
	r.aggs["first"] = func() Aggregation { return &firstAgg{} }
	r.aggs["last"] = func() Aggregation { return &lastAgg{} }
	r.aggs["collect"] = func() Aggregation { return &collectAgg{} }
}

type sumAgg struct{ total float64 }

func (a *sumAgg) Push(v any) error {
	if v == nil {
		return nil
	}
	f, ok := document.AsNumber(v)
	if !ok {
		return fmt.Errorf("sum: non-numeric value %v", v)
	}
	a.total += f
	return nil
}
func (a *sumAgg) Result() any        { return a.total }
func (a *sumAgg) Reset()             { a.total = 0 }
func (a *sumAgg) Clone() Aggregation { c := *a; return &c }

type countAgg struct{ n float64 }

func (a *countAgg) Push(any) error     { a.n++; return nil }
func (a *countAgg) Result() any        { return a.n }
func (a *countAgg) Reset()             { a.n = 0 }
func (a *countAgg) Clone() Aggregation { c := *a; return &c }

type avgAgg struct {
	total float64
	n     float64
}

func (a *avgAgg) Push(v any) error {
	if v == nil {
		return nil
	}
	f, ok := document.AsNumber(v)
	if !ok {
		return fmt.Errorf("avg: non-numeric value %v", v)
	}
	a.total += f
	a.n++
	return nil
}

func (a *avgAgg) Result() any {
	if a.n == 0 {
		return nil
	}
	return a.total / a.n
}
func (a *avgAgg) Reset()             { a.total, a.n = 0, 0 }
func (a *avgAgg) Clone() Aggregation { c := *a; return &c }

type extremeAgg struct {
	better func(a, b float64) bool
	cur    float64
	seen   bool
}

func (a *extremeAgg) Push(v any) error {
	if v == nil {
		return nil
	}
	f, ok := document.AsNumber(v)
	if !ok {
		return fmt.Errorf("min/max: non-numeric value %v", v)
	}
	if !a.seen || a.better(f, a.cur) {
		a.cur = f
		a.seen = true
	}
	return nil
}

func (a *extremeAgg) Result() any {
	if !a.seen {
		return nil
	}
	return a.cur
}
func (a *extremeAgg) Reset()             { a.seen = false; a.cur = 0 }
func (a *extremeAgg) Clone() Aggregation { c := *a; return &c }

type firstAgg struct {
	v    any
	seen bool
}

func (a *firstAgg) Push(v any) error {
	if !a.seen {
		a.v = v
		a.seen = true
	}
	return nil
}
func (a *firstAgg) Result() any        { return a.v }
func (a *firstAgg) Reset()             { a.v, a.seen = nil, false }
func (a *firstAgg) Clone() Aggregation { c := *a; return &c }

type lastAgg struct{ v any }

func (a *lastAgg) Push(v any) error   { a.v = v; return nil }
func (a *lastAgg) Result() any        { return a.v }
func (a *lastAgg) Reset()             { a.v = nil }
func (a *lastAgg) Clone() Aggregation { c := *a; return &c }

type collectAgg struct{ items []any }

func (a *collectAgg) Push(v any) error { a.items = append(a.items, v); return nil }

func (a *collectAgg) Result() any {
	out := make([]any, len(a.items))
	copy(out, a.items)
	return out
}
func (a *collectAgg) Reset() { a.items = nil }

func (a *collectAgg) Clone() Aggregation {
	c := &collectAgg{items: make([]any, len(a.items))}
	copy(c.items, a.items)
	return c
}
