package runtime

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jsonjet/jsonjet/pkg/document"
	"github.com/jsonjet/jsonjet/pkg/functions"
	"github.com/jsonjet/jsonjet/pkg/lang"
)

// capture is a test sink recording everything it receives.
type capture struct {
	docs     []document.Document
	flushes  int
	finishes int
}

func (c *capture) Push(_ context.Context, doc document.Document) error {
	c.docs = append(c.docs, doc)
	return nil
}

func (c *capture) Flush(context.Context) error {
	c.flushes++
	return nil
}

func (c *capture) Finish(context.Context) error {
	c.finishes++
	return nil
}

func compile(t *testing.T, src string) lang.Compiled {
	t.Helper()
	expr, err := lang.ParseExpr(src)
	require.NoError(t, err, "parse %q", src)
	fn, err := lang.Compile(expr, functions.NewRegistry())
	require.NoError(t, err, "compile %q", src)
	return fn
}

func aggFactory(t *testing.T, name string) functions.AggFactory {
	t.Helper()
	f, ok := functions.NewRegistry().Aggregation(name)
	require.True(t, ok, "aggregation %q", name)
	return f
}

func pushAll(t *testing.T, op Operator, docs ...document.Document) {
	t.Helper()
	for _, doc := range docs {
		require.NoError(t, op.Push(context.Background(), doc))
	}
}
