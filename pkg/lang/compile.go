package lang

import (
	"fmt"
	"math"
	"time"

	"github.com/jsonjet/jsonjet/pkg/document"
	"github.com/jsonjet/jsonjet/pkg/functions"
)

// Scope is what a compiled expression evaluates against: the current record,
// extra bindings (match_id and friends), and scan step scopes. Local is the
// executing step's own scope, letting its variables resolve unqualified.
type Scope struct {
	Doc   document.Document
	Vars  map[string]any
	Local map[string]any
	Steps map[string]map[string]any
}

// Resolve looks up a bare identifier. The local step scope shadows named
// step scopes, which shadow extra bindings, which shadow record fields.
// Unresolved names read as undefined (nil), the safe-access model: missing
// intermediates never fail.
func (s *Scope) Resolve(name string) (any, bool) {
	if s == nil {
		return nil, false
	}
	if s.Local != nil {
		if v, ok := s.Local[name]; ok {
			return v, true
		}
	}
	if s.Steps != nil {
		if m, ok := s.Steps[name]; ok {
			return m, true
		}
	}
	if s.Vars != nil {
		if v, ok := s.Vars[name]; ok {
			return v, true
		}
	}
	if s.Doc != nil {
		if v, ok := s.Doc[name]; ok {
			return v, true
		}
	}
	return nil, false
}

// Compiled is an expression bound to the function registry, ready to
// evaluate against a scope.
type Compiled func(sc *Scope) (any, error)

// Compile binds an expression tree against the registry. Unknown function
// names fail here, before any record flows.
func Compile(e *Expr, reg *functions.Registry) (Compiled, error) {
	if e == nil {
		return nil, fmt.Errorf("empty expression")
	}
	return compileOr(e.Or, reg)
}

// CompileObject binds a bare object literal, the form select clauses take.
func CompileObject(obj *ObjectLit, reg *functions.Registry) (Compiled, error) {
	return compileObject(obj, reg)
}

// CompilePath binds a bare member path, the form group-by keys take.
func CompilePath(ref *PathRef) Compiled {
	return compilePath(ref)
}

func compileOr(e *OrExpr, reg *functions.Registry) (Compiled, error) {
	left, err := compileAnd(e.Left, reg)
	if err != nil {
		return nil, err
	}
	for _, rhs := range e.Rest {
		right, err := compileAnd(rhs.Right, reg)
		if err != nil {
			return nil, err
		}
		l, op := left, rhs.Op
		left = func(sc *Scope) (any, error) {
			lv, err := l(sc)
			if err != nil {
				return nil, err
			}
			if op == "??" {
				if lv != nil {
					return lv, nil
				}
			} else if document.Truthy(lv) {
				return lv, nil
			}
			return right(sc)
		}
	}
	return left, nil
}

func compileAnd(e *AndExpr, reg *functions.Registry) (Compiled, error) {
	left, err := compileCmp(e.Left, reg)
	if err != nil {
		return nil, err
	}
	for _, rhs := range e.Rest {
		right, err := compileCmp(rhs.Right, reg)
		if err != nil {
			return nil, err
		}
		l := left
		left = func(sc *Scope) (any, error) {
			lv, err := l(sc)
			if err != nil {
				return nil, err
			}
			if !document.Truthy(lv) {
				return lv, nil
			}
			return right(sc)
		}
	}
	return left, nil
}

func compileCmp(e *CmpExpr, reg *functions.Registry) (Compiled, error) {
	left, err := compileAdd(e.Left, reg)
	if err != nil {
		return nil, err
	}
	if e.Op == "" {
		return left, nil
	}
	right, err := compileAdd(e.Right, reg)
	if err != nil {
		return nil, err
	}
	op := e.Op
	return func(sc *Scope) (any, error) {
		lv, err := left(sc)
		if err != nil {
			return nil, err
		}
		rv, err := right(sc)
		if err != nil {
			return nil, err
		}
		return compare(op, lv, rv)
	}, nil
}

func compare(op string, lv, rv any) (any, error) {
	switch op {
	case "==":
		return document.Equal(lv, rv), nil
	case "!=":
		return !document.Equal(lv, rv), nil
	}
	if lf, ok := document.AsNumber(lv); ok {
		rf, ok := document.AsNumber(rv)
		if !ok {
			return nil, fmt.Errorf("cannot compare %v with %v", lv, rv)
		}
		switch op {
		case "<":
			return lf < rf, nil
		case ">":
			return lf > rf, nil
		case "<=":
			return lf <= rf, nil
		case ">=":
			return lf >= rf, nil
		}
	}
	ls, lok := lv.(string)
	rs, rok := rv.(string)
	if lok && rok {
		switch op {
		case "<":
			return ls < rs, nil
		case ">":
			return ls > rs, nil
		case "<=":
			return ls <= rs, nil
		case ">=":
			return ls >= rs, nil
		}
	}
	return nil, fmt.Errorf("cannot compare %v with %v", lv, rv)
}

func compileAdd(e *AddExpr, reg *functions.Registry) (Compiled, error) {
	left, err := compileMul(e.Left, reg)
	if err != nil {
		return nil, err
	}
	for _, rhs := range e.Rest {
		right, err := compileMul(rhs.Right, reg)
		if err != nil {
			return nil, err
		}
		l, op := left, rhs.Op
		left = func(sc *Scope) (any, error) {
			lv, err := l(sc)
			if err != nil {
				return nil, err
			}
			rv, err := right(sc)
			if err != nil {
				return nil, err
			}
			return arith(op, lv, rv)
		}
	}
	return left, nil
}

func compileMul(e *MulExpr, reg *functions.Registry) (Compiled, error) {
	left, err := compileUnary(e.Left, reg)
	if err != nil {
		return nil, err
	}
	for _, rhs := range e.Rest {
		right, err := compileUnary(rhs.Right, reg)
		if err != nil {
			return nil, err
		}
		l, op := left, rhs.Op
		left = func(sc *Scope) (any, error) {
			lv, err := l(sc)
			if err != nil {
				return nil, err
			}
			rv, err := right(sc)
			if err != nil {
				return nil, err
			}
			return arith(op, lv, rv)
		}
	}
	return left, nil
}

func arith(op string, lv, rv any) (any, error) {
	if op == "+" {
		if ls, ok := lv.(string); ok {
			return ls + fmt.Sprintf("%v", rv), nil
		}
		if rs, ok := rv.(string); ok {
			return fmt.Sprintf("%v", lv) + rs, nil
		}
	}
	lf, lok := document.AsNumber(lv)
	rf, rok := document.AsNumber(rv)
	if !lok || !rok {
		return nil, fmt.Errorf("non-numeric operands for %s: %v, %v", op, lv, rv)
	}
	switch op {
	case "+":
		return lf + rf, nil
	case "-":
		return lf - rf, nil
	case "*":
		return lf * rf, nil
	case "/":
		if rf == 0 {
			return nil, fmt.Errorf("division by zero")
		}
		return lf / rf, nil
	case "%":
		if rf == 0 {
			return nil, fmt.Errorf("division by zero")
		}
		return math.Mod(lf, rf), nil
	}
	return nil, fmt.Errorf("unknown operator %s", op)
}

func compileUnary(e *UnaryExpr, reg *functions.Registry) (Compiled, error) {
	if e.Op != "" {
		operand, err := compileUnary(e.Operand, reg)
		if err != nil {
			return nil, err
		}
		op := e.Op
		return func(sc *Scope) (any, error) {
			v, err := operand(sc)
			if err != nil {
				return nil, err
			}
			if op == "!" {
				return !document.Truthy(v), nil
			}
			f, ok := document.AsNumber(v)
			if !ok {
				return nil, fmt.Errorf("cannot negate %v", v)
			}
			return -f, nil
		}, nil
	}
	return compilePrimary(e.Primary, reg)
}

func compilePrimary(p *Primary, reg *functions.Registry) (Compiled, error) {
	switch {
	case p.Number != nil:
		n := *p.Number
		return func(*Scope) (any, error) { return n, nil }, nil
	case p.Str != nil:
		s := *p.Str
		return func(*Scope) (any, error) { return s, nil }, nil
	case p.True:
		return func(*Scope) (any, error) { return true, nil }, nil
	case p.False:
		return func(*Scope) (any, error) { return false, nil }, nil
	case p.Null:
		return func(*Scope) (any, error) { return nil, nil }, nil
	case p.Duration != nil:
		d, err := ParseDuration(*p.Duration)
		if err != nil {
			return nil, err
		}
		ms := float64(d / time.Millisecond)
		return func(*Scope) (any, error) { return ms, nil }, nil
	case p.Object != nil:
		return compileObject(p.Object, reg)
	case p.Array != nil:
		return compileArray(p.Array, reg)
	case p.Sub != nil:
		return Compile(p.Sub, reg)
	case p.Call != nil:
		return compileCall(p.Call, reg)
	case p.Path != nil:
		return compilePath(p.Path), nil
	}
	return nil, fmt.Errorf("empty primary")
}

func compilePath(ref *PathRef) Compiled {
	parts := ref.Parts
	return func(sc *Scope) (any, error) {
		head, ok := sc.Resolve(parts[0])
		if !ok {
			return nil, nil
		}
		if len(parts) == 1 {
			return head, nil
		}
		v, _ := document.GetPath(head, parts[1:])
		return v, nil
	}
}

func compileCall(call *FuncCall, reg *functions.Registry) (Compiled, error) {
	fn, ok := reg.Scalar(call.Name)
	if !ok {
		return nil, fmt.Errorf("unknown function %q", call.Name)
	}
	args := make([]Compiled, len(call.Args))
	for i, a := range call.Args {
		c, err := Compile(a, reg)
		if err != nil {
			return nil, err
		}
		args[i] = c
	}
	return func(sc *Scope) (any, error) {
		vals := make([]any, len(args))
		for i, a := range args {
			v, err := a(sc)
			if err != nil {
				return nil, err
			}
			vals[i] = v
		}
		return fn(vals)
	}, nil
}

// compileObject builds a document: spreads and field adds apply in source
// order, exclusions strip keys at the end. When a spread is present, a
// field-add whose value is a bare record field acts as a rename: the source
// key is removed unless another entry re-adds it.
func compileObject(obj *ObjectLit, reg *functions.Registry) (Compiled, error) {
	type entry struct {
		spread  bool
		exclude string
		key     string
		source  string // bare field reference, rename candidate
		value   Compiled
	}
	entries := make([]entry, 0, len(obj.Entries))
	hasSpread := false
	explicit := make(map[string]bool)
	for _, e := range obj.Entries {
		switch {
		case e.Spread:
			hasSpread = true
			entries = append(entries, entry{spread: true})
		case e.Exclude != nil:
			entries = append(entries, entry{exclude: *e.Exclude})
		default:
			c, err := Compile(e.Field.Value, reg)
			if err != nil {
				return nil, err
			}
			ent := entry{key: e.Field.Key, value: c}
			if ref, ok := e.Field.Value.AsPath(); ok && len(ref.Parts) == 1 {
				ent.source = ref.Parts[0]
			}
			explicit[e.Field.Key] = true
			entries = append(entries, ent)
		}
	}
	return func(sc *Scope) (any, error) {
		out := document.Document{}
		var excluded []string
		for _, e := range entries {
			switch {
			case e.spread:
				if sc != nil {
					for k, v := range sc.Doc {
						out[k] = v
					}
				}
			case e.exclude != "":
				excluded = append(excluded, e.exclude)
			default:
				v, err := e.value(sc)
				if err != nil {
					return nil, err
				}
				out[e.key] = v
				if hasSpread && e.source != "" && e.source != e.key && !explicit[e.source] {
					excluded = append(excluded, e.source)
				}
			}
		}
		for _, k := range excluded {
			delete(out, k)
		}
		return out, nil
	}, nil
}

func compileArray(arr *ArrayLit, reg *functions.Registry) (Compiled, error) {
	items := make([]Compiled, len(arr.Items))
	for i, it := range arr.Items {
		c, err := Compile(it, reg)
		if err != nil {
			return nil, err
		}
		items[i] = c
	}
	return func(sc *Scope) (any, error) {
		out := make([]any, len(items))
		for i, it := range items {
			v, err := it(sc)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	}, nil
}
