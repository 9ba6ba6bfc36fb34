package engine

import (
	"fmt"
	"time"

	"github.com/jsonjet/jsonjet/pkg/document"
	"github.com/jsonjet/jsonjet/pkg/lang"
	"github.com/jsonjet/jsonjet/pkg/runtime"
)

// buildPipeline binds a parsed pipeline to live operators, last stage
// first. The source stream must exist and the final stage must be a sink.
func (e *Engine) buildPipeline(p *lang.Pipeline) (*runtime.Pipeline, error) {
	if !e.mgr.HasStream(p.Source) {
		return nil, fmt.Errorf("%w: unknown source stream %q", ErrBind, p.Source)
	}
	if len(p.Ops) == 0 {
		return nil, fmt.Errorf("%w: pipeline needs at least one operator", ErrBind)
	}

	last := p.Ops[len(p.Ops)-1]
	sink, err := e.buildSink(last)
	if err != nil {
		return nil, err
	}

	next := sink
	for i := len(p.Ops) - 2; i >= 0; i-- {
		op, err := e.buildOp(p.Ops[i], next)
		if err != nil {
			return nil, err
		}
		next = op
	}
	return runtime.NewPipeline(next), nil
}

func (e *Engine) buildSink(op *lang.Op) (runtime.Operator, error) {
	if op.Call == nil {
		return nil, fmt.Errorf("%w: pipeline must end in a sink", ErrBind)
	}
	call := op.Call
	switch call.Name {
	case "insert_into":
		target, err := e.argName(call.Name, call.Args, 0)
		if err != nil {
			return nil, err
		}
		return runtime.NewInsertInto(e.mgr, target), nil
	case "write_to_file":
		path, err := e.argString(call.Name, call.Args, 0)
		if err != nil {
			return nil, err
		}
		w, err := runtime.NewWriteFile(path)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrResource, err)
		}
		return w, nil
	case "assert_or_save_expected":
		path, err := e.argString(call.Name, call.Args, 0)
		if err != nil {
			return nil, err
		}
		return runtime.NewAssertExpected(path), nil
	}
	return nil, fmt.Errorf("%w: %q is not a sink", ErrBind, call.Name)
}

func (e *Engine) buildOp(op *lang.Op, next runtime.Operator) (runtime.Operator, error) {
	switch {
	case op.Where != nil:
		pred, err := lang.Compile(op.Where, e.reg)
		if err != nil {
			return nil, fmt.Errorf("%w: where: %v", ErrBind, err)
		}
		return runtime.NewFilter(pred, next), nil

	case op.Select != nil:
		build, err := lang.CompileObject(op.Select, e.reg)
		if err != nil {
			return nil, fmt.Errorf("%w: select: %v", ErrBind, err)
		}
		return runtime.NewSelect(build, next), nil

	case op.Scan != nil:
		return e.buildScan(op.Scan, next)

	case op.Summarize != nil:
		return e.buildSummarize(op.Summarize, next)

	case op.Call != nil:
		return e.buildOpCall(op.Call, next)
	}
	return nil, fmt.Errorf("%w: empty operator", ErrBind)
}

func (e *Engine) buildOpCall(call *lang.OpCall, next runtime.Operator) (runtime.Operator, error) {
	switch call.Name {
	case "map":
		if len(call.Args) != 1 {
			return nil, fmt.Errorf("%w: map expects 1 argument", ErrBind)
		}
		fn, err := lang.Compile(call.Args[0], e.reg)
		if err != nil {
			return nil, fmt.Errorf("%w: map: %v", ErrBind, err)
		}
		return runtime.NewMap(fn, next), nil

	case "sorter":
		if len(call.Args) < 1 || len(call.Args) > 3 {
			return nil, fmt.Errorf("%w: sorter expects 1 to 3 arguments", ErrBind)
		}
		keyFn, err := lang.Compile(call.Args[0], e.reg)
		if err != nil {
			return nil, fmt.Errorf("%w: sorter: %v", ErrBind, err)
		}
		bufSize := e.opts.SorterBuffer
		maxLatency := e.opts.SorterMaxLatency
		if len(call.Args) > 1 {
			n, err := e.argNumber(call.Name, call.Args, 1)
			if err != nil {
				return nil, err
			}
			bufSize = int(n)
		}
		if len(call.Args) > 2 {
			ms, err := e.argNumber(call.Name, call.Args, 2)
			if err != nil {
				return nil, err
			}
			maxLatency = time.Duration(ms) * time.Millisecond
		}
		return runtime.NewSorter(keyFn, bufSize, maxLatency, e.logger, next), nil

	case "insert_into", "write_to_file", "assert_or_save_expected":
		return nil, fmt.Errorf("%w: %s must be the final stage", ErrBind, call.Name)
	}
	return nil, fmt.Errorf("%w: unknown operator %q", ErrBind, call.Name)
}

func (e *Engine) buildScan(scan *lang.ScanOp, next runtime.Operator) (runtime.Operator, error) {
	stepNames := make(map[string]bool, len(scan.Steps))
	for _, st := range scan.Steps {
		if stepNames[st.Name] {
			return nil, fmt.Errorf("%w: scan: duplicate step %q", ErrBind, st.Name)
		}
		stepNames[st.Name] = true
	}

	steps := make([]*runtime.ScanStep, 0, len(scan.Steps))
	for _, st := range scan.Steps {
		guard, err := lang.Compile(st.Guard, e.reg)
		if err != nil {
			return nil, fmt.Errorf("%w: scan step %s: %v", ErrBind, st.Name, err)
		}
		step := &runtime.ScanStep{Name: st.Name, Optional: st.Optional, Guard: guard}
		for _, action := range st.Actions {
			switch {
			case action.Emit != nil:
				if step.Emit != nil {
					return nil, fmt.Errorf("%w: scan step %s: multiple emits", ErrBind, st.Name)
				}
				emit, err := lang.Compile(action.Emit, e.reg)
				if err != nil {
					return nil, fmt.Errorf("%w: scan step %s: %v", ErrBind, st.Name, err)
				}
				step.Emit = emit
			case action.Assign != nil:
				value, err := lang.Compile(action.Assign.Value, e.reg)
				if err != nil {
					return nil, fmt.Errorf("%w: scan step %s: %v", ErrBind, st.Name, err)
				}
				parts := action.Assign.Target.Parts
				assign := runtime.ScanAssign{Scope: st.Name, Path: parts, Value: value}
				if len(parts) > 1 && stepNames[parts[0]] {
					assign.Scope = parts[0]
					assign.Path = parts[1:]
				}
				step.Assigns = append(step.Assigns, assign)
			}
		}
		steps = append(steps, step)
	}
	return runtime.NewScan(steps, e.opts.ScanMaxMatches, e.logger, next), nil
}

func (e *Engine) buildSummarize(sum *lang.SummarizeOp, next runtime.Operator) (runtime.Operator, error) {
	cfg := runtime.SummarizeConfig{}

	for _, entry := range sum.Projections.Entries {
		if entry.Field == nil {
			return nil, fmt.Errorf("%w: summarize projections take field: aggregation(expr) entries", ErrBind)
		}
		call, ok := entry.Field.Value.AsCall()
		if !ok {
			return nil, fmt.Errorf("%w: summarize projection %q must be an aggregation call", ErrBind, entry.Field.Key)
		}
		factory, ok := e.reg.Aggregation(call.Name)
		if !ok {
			return nil, fmt.Errorf("%w: unknown aggregation %q", ErrBind, call.Name)
		}
		proj := runtime.Projection{Name: entry.Field.Key, Factory: factory}
		switch len(call.Args) {
		case 0:
		case 1:
			arg, err := lang.Compile(call.Args[0], e.reg)
			if err != nil {
				return nil, fmt.Errorf("%w: summarize %s: %v", ErrBind, entry.Field.Key, err)
			}
			proj.Arg = arg
		default:
			return nil, fmt.Errorf("%w: aggregation %q takes at most one argument", ErrBind, call.Name)
		}
		cfg.Projections = append(cfg.Projections, proj)
	}

	for _, ref := range sum.By {
		cfg.GroupBy = append(cfg.GroupBy, runtime.GroupField{
			Name: ref.Parts[len(ref.Parts)-1],
			Fn:   lang.CompilePath(ref),
		})
	}

	if sum.Window != nil {
		spec, err := e.windowSpec(sum.Window)
		if err != nil {
			return nil, err
		}
		cfg.Window = spec
	}

	if sum.Trigger != nil {
		trig, err := e.triggerSpec(sum.Trigger)
		if err != nil {
			return nil, err
		}
		cfg.Trigger = trig
	}

	s, err := runtime.NewSummarize(cfg, e.logger, next)
	if err != nil {
		return nil, fmt.Errorf("%w: summarize: %v", ErrBind, err)
	}
	return s, nil
}

func (e *Engine) windowSpec(expr *lang.Expr) (*runtime.WindowSpec, error) {
	call, ok := expr.AsCall()
	if !ok {
		return nil, fmt.Errorf("%w: window must be a window call", ErrBind)
	}
	num := func(i int) (float64, error) { return e.argNumber(call.Name, call.Args, i) }
	key := func(i int) (lang.Compiled, error) {
		fn, err := lang.Compile(call.Args[i], e.reg)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrBind, call.Name, err)
		}
		return fn, nil
	}

	switch call.Name {
	case "tumbling_window", "count_window":
		n, err := num(0)
		if err != nil {
			return nil, err
		}
		return &runtime.WindowSpec{Kind: "count", N: int(n)}, nil
	case "sliding_window":
		n, err := num(0)
		if err != nil {
			return nil, err
		}
		return &runtime.WindowSpec{Kind: "sliding", N: int(n)}, nil
	case "hopping_window":
		size, err := num(0)
		if err != nil {
			return nil, err
		}
		hop, err := num(1)
		if err != nil {
			return nil, err
		}
		return &runtime.WindowSpec{Kind: "hopping", N: int(size), Hop: int(hop)}, nil
	case "tumbling_window_by":
		k, err := key(0)
		if err != nil {
			return nil, err
		}
		size, err := num(1)
		if err != nil {
			return nil, err
		}
		return &runtime.WindowSpec{Kind: "value", Key: k, Size: size}, nil
	case "hopping_window_by":
		k, err := key(0)
		if err != nil {
			return nil, err
		}
		size, err := num(1)
		if err != nil {
			return nil, err
		}
		hop, err := num(2)
		if err != nil {
			return nil, err
		}
		return &runtime.WindowSpec{Kind: "value_hopping", Key: k, Size: size, HopV: hop}, nil
	case "session_window":
		k, err := key(0)
		if err != nil {
			return nil, err
		}
		gap, err := num(1)
		if err != nil {
			return nil, err
		}
		return &runtime.WindowSpec{Kind: "session", Key: k, Gap: gap}, nil
	}
	return nil, fmt.Errorf("%w: unknown window %q", ErrBind, call.Name)
}

func (e *Engine) triggerSpec(expr *lang.Expr) (runtime.Trigger, error) {
	call, ok := expr.AsCall()
	if !ok {
		return nil, fmt.Errorf("%w: emit trigger must be a trigger call", ErrBind)
	}
	switch call.Name {
	case "emit_every":
		n, err := e.argNumber(call.Name, call.Args, 0)
		if err != nil {
			return nil, err
		}
		return runtime.NewEmitEvery(int(n)), nil
	case "emit_when":
		if len(call.Args) != 1 {
			return nil, fmt.Errorf("%w: emit_when expects 1 argument", ErrBind)
		}
		pred, err := lang.Compile(call.Args[0], e.reg)
		if err != nil {
			return nil, fmt.Errorf("%w: emit_when: %v", ErrBind, err)
		}
		return runtime.NewEmitWhen(pred), nil
	case "emit_on_change":
		if len(call.Args) != 1 {
			return nil, fmt.Errorf("%w: emit_on_change expects 1 argument", ErrBind)
		}
		field, err := lang.Compile(call.Args[0], e.reg)
		if err != nil {
			return nil, fmt.Errorf("%w: emit_on_change: %v", ErrBind, err)
		}
		return runtime.NewEmitOnChange(field), nil
	case "emit_on_group_change":
		return runtime.NewEmitOnGroupChange(), nil
	case "emit_on_update":
		return runtime.NewEmitOnUpdate(), nil
	}
	return nil, fmt.Errorf("%w: unknown emit trigger %q", ErrBind, call.Name)
}

// argName accepts a bare identifier or a string literal.
func (e *Engine) argName(name string, args []*lang.Expr, i int) (string, error) {
	if i >= len(args) {
		return "", fmt.Errorf("%w: %s expects an argument", ErrBind, name)
	}
	if ref, ok := args[i].AsPath(); ok && len(ref.Parts) == 1 {
		return ref.Parts[0], nil
	}
	return e.argString(name, args, i)
}

func (e *Engine) argString(name string, args []*lang.Expr, i int) (string, error) {
	if i >= len(args) {
		return "", fmt.Errorf("%w: %s expects an argument", ErrBind, name)
	}
	v, err := e.constEval(args[i])
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrBind, name, err)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%w: %s expects a string, got %v", ErrBind, name, v)
	}
	return s, nil
}

func (e *Engine) argNumber(name string, args []*lang.Expr, i int) (float64, error) {
	if i >= len(args) {
		return 0, fmt.Errorf("%w: %s expects a numeric argument", ErrBind, name)
	}
	v, err := e.constEval(args[i])
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrBind, name, err)
	}
	f, ok := document.AsNumber(v)
	if !ok {
		return 0, fmt.Errorf("%w: %s expects a number, got %v", ErrBind, name, v)
	}
	return f, nil
}
