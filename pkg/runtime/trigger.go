package runtime

import (
	"github.com/jsonjet/jsonjet/pkg/document"
	"github.com/jsonjet/jsonjet/pkg/lang"
)

// Trigger fires interim emissions independently of window closure; fired
// emissions carry current partial results and never reset aggregations.
type Trigger interface {
	Fire(sc *lang.Scope, groupKey string) (bool, error)
}

func NewEmitEvery(n int) Trigger { return &emitEvery{n: n} }

func NewEmitWhen(pred lang.Compiled) Trigger { return &emitWhen{pred: pred} }

func NewEmitOnChange(field lang.Compiled) Trigger { return &emitOnChange{field: field} }

func NewEmitOnGroupChange() Trigger { return &emitOnGroupChange{} }

func NewEmitOnUpdate() Trigger { return emitOnUpdate{} }

// emitEvery fires after every n records.
type emitEvery struct {
	n    int
	seen int
}

func (t *emitEvery) Fire(*lang.Scope, string) (bool, error) {
	t.seen++
	if t.seen >= t.n {
		t.seen = 0
		return true, nil
	}
	return false, nil
}

// emitWhen fires while the predicate evaluates truthy for the record.
type emitWhen struct {
	pred lang.Compiled
}

func (t *emitWhen) Fire(sc *lang.Scope, _ string) (bool, error) {
	v, err := t.pred(sc)
	if err != nil {
		return false, err
	}
	return document.Truthy(v), nil
}

// emitOnChange fires when a watched field changes value between records.
type emitOnChange struct {
	field lang.Compiled
	last  any
	seen  bool
}

func (t *emitOnChange) Fire(sc *lang.Scope, _ string) (bool, error) {
	v, err := t.field(sc)
	if err != nil {
		return false, err
	}
	changed := t.seen && !document.Equal(t.last, v)
	t.last = v
	t.seen = true
	return changed, nil
}

// emitOnGroupChange fires when consecutive records land in different groups.
type emitOnGroupChange struct {
	last string
	seen bool
}

func (t *emitOnGroupChange) Fire(_ *lang.Scope, groupKey string) (bool, error) {
	changed := t.seen && t.last != groupKey
	t.last = groupKey
	t.seen = true
	return changed, nil
}

// emitOnUpdate fires on every record.
type emitOnUpdate struct{}

func (emitOnUpdate) Fire(*lang.Scope, string) (bool, error) { return true, nil }
