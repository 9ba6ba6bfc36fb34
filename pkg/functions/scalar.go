// Package functions resolves names to pure scalar functions and to
// aggregation factories. Expression compilation binds against a Registry;
// unknown names are bind-time errors, never parse errors.
package functions

import (
	"fmt"
	"math"
	"strings"

	"github.com/jsonjet/jsonjet/pkg/document"
)

// ScalarFunc is a pure function over already-evaluated arguments.
type ScalarFunc func(args []any) (any, error)

// Registry maps names to scalar functions and aggregation factories.
type Registry struct {
	scalars map[string]ScalarFunc
	aggs    map[string]AggFactory
}

// NewRegistry returns a registry pre-loaded with the builtin functions and
// aggregations.
func NewRegistry() *Registry {
	r := &Registry{
		scalars: make(map[string]ScalarFunc),
		aggs:    make(map[string]AggFactory),
	}
	registerBuiltins(r)
	registerAggregations(r)
	return r
}

// RegisterScalar adds or replaces a scalar function.
func (r *Registry) RegisterScalar(name string, fn ScalarFunc) {
	r.scalars[name] = fn
}

// Scalar resolves a scalar function by name.
func (r *Registry) Scalar(name string) (ScalarFunc, bool) {
	fn, ok := r.scalars[name]
	return fn, ok
}

// Aggregation resolves an aggregation factory by name.
func (r *Registry) Aggregation(name string) (AggFactory, bool) {
	f, ok := r.aggs[name]
	return f, ok
}

func registerBuiltins(r *Registry) {
	r.RegisterScalar("exp", numeric1("exp", math.Exp))
	r.RegisterScalar("log", numeric1("log", math.Log))
	r.RegisterScalar("sqrt", numeric1("sqrt", math.Sqrt))
	r.RegisterScalar("abs", numeric1("abs", math.Abs))
	r.RegisterScalar("floor", numeric1("floor", math.Floor))
	r.RegisterScalar("ceil", numeric1("ceil", math.Ceil))
	r.RegisterScalar("round", numeric1("round", math.Round))

	r.RegisterScalar("pow", func(args []any) (any, error) {
		x, y, err := twoNumbers("pow", args)
		if err != nil {
			return nil, err
		}
		return math.Pow(x, y), nil
	})
	r.RegisterScalar("min", variadicNumeric("min", math.Min))
	r.RegisterScalar("max", variadicNumeric("max", math.Max))

	r.RegisterScalar("len", func(args []any) (any, error) {
		if len(args) != 1 {
			return nil, fmt.Errorf("len expects 1 argument, got %d", len(args))
		}
		switch t := args[0].(type) {
		case nil:
			return nil, nil
		case string:
			return float64(len(t)), nil
		case []any:
			return float64(len(t)), nil
		case document.Document:
			return float64(len(t)), nil
		case map[string]any:
			return float64(len(t)), nil
		}
		return nil, fmt.Errorf("len: unsupported operand %T", args[0])
	})
	r.RegisterScalar("lower", string1("lower", strings.ToLower))
	r.RegisterScalar("upper", string1("upper", strings.ToUpper))
	r.RegisterScalar("concat", func(args []any) (any, error) {
		var sb strings.Builder
		for _, a := range args {
			sb.WriteString(fmt.Sprintf("%v", a))
		}
		return sb.String(), nil
	})
	r.RegisterScalar("coalesce", func(args []any) (any, error) {
		for _, a := range args {
			if a != nil {
				return a, nil
			}
		}
		return nil, nil
	})
}

func numeric1(name string, fn func(float64) float64) ScalarFunc {
	return func(args []any) (any, error) {
		if len(args) != 1 {
			return nil, fmt.Errorf("%s expects 1 argument, got %d", name, len(args))
		}
		x, ok := document.AsNumber(args[0])
		if !ok {
			return nil, fmt.Errorf("%s: non-numeric operand %v", name, args[0])
		}
		return fn(x), nil
	}
}

func string1(name string, fn func(string) string) ScalarFunc {
	return func(args []any) (any, error) {
		if len(args) != 1 {
			return nil, fmt.Errorf("%s expects 1 argument, got %d", name, len(args))
		}
		s, ok := args[0].(string)
		if !ok {
			return nil, fmt.Errorf("%s: non-string operand %v", name, args[0])
		}
		return fn(s), nil
	}
}

func twoNumbers(name string, args []any) (float64, float64, error) {
	if len(args) != 2 {
		return 0, 0, fmt.Errorf("%s expects 2 arguments, got %d", name, len(args))
	}
	x, ok := document.AsNumber(args[0])
	if !ok {
		return 0, 0, fmt.Errorf("%s: non-numeric operand %v", name, args[0])
	}
	y, ok := document.AsNumber(args[1])
	if !ok {
		return 0, 0, fmt.Errorf("%s: non-numeric operand %v", name, args[1])
	}
	return x, y, nil
}

func variadicNumeric(name string, fn func(float64, float64) float64) ScalarFunc {
	return func(args []any) (any, error) {
		if len(args) == 0 {
			return nil, fmt.Errorf("%s expects at least 1 argument", name)
		}
		acc, ok := document.AsNumber(args[0])
		if !ok {
			return nil, fmt.Errorf("%s: non-numeric operand %v", name, args[0])
		}
		for _, a := range args[1:] {
			x, ok := document.AsNumber(a)
			if !ok {
				return nil, fmt.Errorf("%s: non-numeric operand %v", name, a)
			}
			acc = fn(acc, x)
		}
		return acc, nil
	}
}
