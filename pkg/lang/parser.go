package lang

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
)

var (
	jetLexer = lexer.MustSimple([]lexer.SimpleRule{
		{"Comment", `//[^\n]*`},
		{"Duration", `\d+(?:ms|[smh])\b`},
		{"Number", `\d+(?:\.\d+)?(?:[eE][-+]?\d+)?`},
		{"String", `'[^']*'|"[^"]*"`},
		{"Ident", `[a-zA-Z_]\w*`},
		{"Operator", `\.\.\.|=>|\|\||&&|==|!=|<=|>=|\?\?`},
		{"Punct", `[-+*/%(){}\[\],.:;|=<>!]`},
		{"Whitespace", `\s+`},
	})

	parser = participle.MustBuild[Program](
		participle.Lexer(jetLexer),
		participle.Unquote("String"),
		participle.Elide("Whitespace", "Comment"),
		participle.UseLookahead(3),
	)

	exprParser = participle.MustBuild[Expr](
		participle.Lexer(jetLexer),
		participle.Unquote("String"),
		participle.Elide("Whitespace", "Comment"),
		participle.UseLookahead(3),
	)
)

// Parse parses Jet source into a program AST.
func Parse(source string) (*Program, error) {
	prog, err := parser.ParseString("", source)
	if err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	return prog, nil
}

// ParseExpr parses a single Jet expression.
func ParseExpr(source string) (*Expr, error) {
	expr, err := exprParser.ParseString("", source)
	if err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	return expr, nil
}

// ParseDuration converts a duration token (Nms|Ns|Nm|Nh) to a time.Duration.
func ParseDuration(tok string) (time.Duration, error) {
	var unit time.Duration
	var digits string
	switch {
	case strings.HasSuffix(tok, "ms"):
		unit, digits = time.Millisecond, strings.TrimSuffix(tok, "ms")
	case strings.HasSuffix(tok, "s"):
		unit, digits = time.Second, strings.TrimSuffix(tok, "s")
	case strings.HasSuffix(tok, "m"):
		unit, digits = time.Minute, strings.TrimSuffix(tok, "m")
	case strings.HasSuffix(tok, "h"):
		unit, digits = time.Hour, strings.TrimSuffix(tok, "h")
	default:
		return 0, fmt.Errorf("invalid duration %q", tok)
	}
	n, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", tok)
	}
	return time.Duration(n) * unit, nil
}
