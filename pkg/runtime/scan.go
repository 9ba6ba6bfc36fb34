package runtime

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/jsonjet/jsonjet/pkg/document"
	"github.com/jsonjet/jsonjet/pkg/lang"
)

// ScanStep is one state of the scan machine.
type ScanStep struct {
	Name     string
	Optional bool
	Guard    lang.Compiled
	Assigns  []ScanAssign
	Emit     lang.Compiled // nil when the step emits nothing
}

// ScanAssign writes a value into a step-local scope. Scope names the step
// whose scope receives the write; Path is the variable path inside it.
type ScanAssign struct {
	Scope string
	Path  []string
	Value lang.Compiled
}

// Scan runs a multi-step state machine over the record sequence.
//
// Progression rules: active matches see each record newest-first. A match at
// step k first tries to advance into step k+1 (skipping failed optional
// steps); failing that it re-tests step k and re-executes on success. A
// match completes when it advances into the last step from a prior step, so
// a single-step scan acts as a running accumulator and never completes. A
// new match starts from step 0 only when no surviving match progressed on
// the record.
type Scan struct {
	steps      []*ScanStep
	next       Operator
	logger     *zap.Logger
	maxMatches int

	matches []*scanMatch // creation order
	nextID  int
}

type scanMatch struct {
	id      int
	stepIdx int // last executed step
	scopes  map[string]map[string]any
}

func NewScan(steps []*ScanStep, maxMatches int, logger *zap.Logger, next Operator) *Scan {
	if maxMatches <= 0 {
		maxMatches = 1000
	}
	return &Scan{steps: steps, next: next, logger: logger, maxMatches: maxMatches}
}

func (s *Scan) Push(ctx context.Context, doc document.Document) error {
	progressed := false
	for i := len(s.matches) - 1; i >= 0; i-- {
		m := s.matches[i]
		moved, completed, err := s.advance(ctx, m, doc)
		if err != nil {
			return err
		}
		if completed {
			s.matches = append(s.matches[:i], s.matches[i+1:]...)
		} else if moved {
			progressed = true
		}
	}
	if progressed {
		return nil
	}
	return s.tryStart(ctx, doc)
}

// advance offers the record to one match. It returns whether the match
// executed a step and whether it completed.
func (s *Scan) advance(ctx context.Context, m *scanMatch, doc document.Document) (bool, bool, error) {
	for idx := m.stepIdx + 1; idx < len(s.steps); idx++ {
		step := s.steps[idx]
		pass, err := s.guardPasses(step, m, doc)
		if err != nil {
			return false, false, err
		}
		if pass {
			if err := s.execute(ctx, step, m, doc); err != nil {
				return false, false, err
			}
			m.stepIdx = idx
			return true, idx == len(s.steps)-1, nil
		}
		if !step.Optional {
			break
		}
	}
	step := s.steps[m.stepIdx]
	pass, err := s.guardPasses(step, m, doc)
	if err != nil {
		return false, false, err
	}
	if !pass {
		return false, false, nil
	}
	if err := s.execute(ctx, step, m, doc); err != nil {
		return false, false, err
	}
	return true, false, nil
}

func (s *Scan) tryStart(ctx context.Context, doc document.Document) error {
	m := &scanMatch{id: s.nextID, scopes: make(map[string]map[string]any)}
	first := s.steps[0]
	pass, err := s.guardPasses(first, m, doc)
	if err != nil {
		return err
	}
	if !pass {
		return nil
	}
	s.nextID++
	if err := s.execute(ctx, first, m, doc); err != nil {
		return err
	}
	if len(s.matches) >= s.maxMatches {
		evicted := s.matches[0]
		s.matches = s.matches[1:]
		s.logger.Warn("scan: active match cap reached, evicting oldest",
			zap.Int("match_id", evicted.id), zap.Int("cap", s.maxMatches))
	}
	s.matches = append(s.matches, m)
	return nil
}

func (s *Scan) guardPasses(step *ScanStep, m *scanMatch, doc document.Document) (bool, error) {
	v, err := step.Guard(s.scope(m, doc, m.scopes[step.Name]))
	if err != nil {
		return false, fmt.Errorf("scan step %s: %w", step.Name, err)
	}
	return document.Truthy(v), nil
}

// execute runs a step's assignments then its emit. Scope writes are staged
// so an evaluation error leaves the match state unchanged.
func (s *Scan) execute(ctx context.Context, step *ScanStep, m *scanMatch, doc document.Document) error {
	staged := make(map[string]map[string]any, len(m.scopes))
	for name, vars := range m.scopes {
		cp := make(map[string]any, len(vars))
		for k, v := range vars {
			cp[k] = v
		}
		staged[name] = cp
	}
	work := &scanMatch{id: m.id, stepIdx: m.stepIdx, scopes: staged}
	if staged[step.Name] == nil {
		staged[step.Name] = make(map[string]any)
	}
	local := staged[step.Name]

	for _, a := range step.Assigns {
		v, err := a.Value(s.scope(work, doc, local))
		if err != nil {
			return fmt.Errorf("scan step %s: %w", step.Name, err)
		}
		vars, ok := staged[a.Scope]
		if !ok {
			vars = make(map[string]any)
			staged[a.Scope] = vars
		}
		if len(a.Path) == 1 {
			vars[a.Path[0]] = v
		} else {
			document.SetPath(document.Document(vars), a.Path, v)
		}
	}

	var emitted document.Document
	if step.Emit != nil {
		v, err := step.Emit(s.scope(work, doc, local))
		if err != nil {
			return fmt.Errorf("scan step %s emit: %w", step.Name, err)
		}
		out, err := toDocument(v)
		if err != nil {
			return fmt.Errorf("scan step %s emit: %w", step.Name, err)
		}
		emitted = out
	}

	m.scopes = staged
	if emitted != nil {
		return s.next.Push(ctx, emitted)
	}
	return nil
}

func (s *Scan) scope(m *scanMatch, doc document.Document, local map[string]any) *lang.Scope {
	return &lang.Scope{
		Doc:   doc,
		Vars:  map[string]any{"match_id": float64(m.id)},
		Local: local,
		Steps: m.scopes,
	}
}

func (s *Scan) Flush(ctx context.Context) error { return s.next.Flush(ctx) }

func (s *Scan) Finish(ctx context.Context) error {
	s.matches = nil
	return s.next.Finish(ctx)
}
