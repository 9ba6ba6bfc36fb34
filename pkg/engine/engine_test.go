package engine

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jsonjet/jsonjet/pkg/document"
	"github.com/jsonjet/jsonjet/pkg/stream"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	return New(stream.NewManager(zap.NewNop()), zap.NewNop(), Options{})
}

func run(t *testing.T, e *Engine, src string) *Response {
	t.Helper()
	resp := e.Execute(context.Background(), src)
	require.True(t, resp.Success, "execute %q: %s", src, resp.Error)
	return resp
}

func collect(t *testing.T, e *Engine, streamName string) *[]document.Document {
	t.Helper()
	var got []document.Document
	_, err := e.Manager().Subscribe(streamName, stream.Subscriber{
		OnData: func(_ context.Context, doc document.Document) error {
			got = append(got, doc)
			return nil
		},
	})
	require.NoError(t, err)
	return &got
}

func TestExpMapEndToEnd(t *testing.T) {
	e := newTestEngine(t)
	run(t, e, "create stream n; create stream r")
	got := collect(t, e, "r")
	run(t, e, "create flow f as n | select { x: x, exp_x: exp(x) } | insert_into(r)")
	run(t, e, "insert into n {x: 0}; insert into n {x: 1}; insert into n {x: 2}; flush n")

	require.Len(t, *got, 3)
	assert.Equal(t, 0.0, (*got)[0]["x"])
	assert.Equal(t, 1.0, (*got)[0]["exp_x"])
	assert.InDelta(t, 2.718281828, (*got)[1]["exp_x"].(float64), 1e-6)
	assert.InDelta(t, 7.389056099, (*got)[2]["exp_x"].(float64), 1e-6)
}

func TestCumulativeScanEndToEnd(t *testing.T) {
	e := newTestEngine(t)
	run(t, e, "create stream n; create stream r")
	got := collect(t, e, "r")
	run(t, e, "create flow f as n | scan(step sum: true => sum.total = (sum.total || 0) + x, emit({input: x, cumulative: sum.total})) | insert_into(r)")
	run(t, e, "insert into n [{x:1},{x:2},{x:3},{x:4},{x:5}]")

	require.Len(t, *got, 5)
	want := []float64{1, 3, 6, 10, 15}
	for i, doc := range *got {
		assert.Equal(t, float64(i+1), doc["input"])
		assert.Equal(t, want[i], doc["cumulative"])
	}
}

func TestSummarizeTumblingEndToEnd(t *testing.T) {
	e := newTestEngine(t)
	run(t, e, "create stream sales; create stream out")
	got := collect(t, e, "out")
	run(t, e, "create flow f as sales | summarize {total: sum(amount), cnt: count()} by product over window = tumbling_window(2) | insert_into(out)")
	run(t, e, `insert into sales [
		{product: "laptop", amount: 100},
		{product: "mouse", amount: 10},
		{product: "laptop", amount: 200},
		{product: "keyboard", amount: 50}
	]; flush sales`)

	var total, cnt float64
	for _, doc := range *got {
		total += doc["total"].(float64)
		cnt += doc["cnt"].(float64)
	}
	assert.Equal(t, 360.0, total, "sum across emissions equals sum across inputs")
	assert.Equal(t, 4.0, cnt, "count across emissions equals number of inputs")
}

func TestSorterEndToEnd(t *testing.T) {
	e := newTestEngine(t)
	run(t, e, "create stream in; create stream out")
	got := collect(t, e, "out")
	run(t, e, "create flow f as in | sorter(ts, 3, 1000) | insert_into(out)")
	run(t, e, "insert into in [{ts:100},{ts:300},{ts:200},{ts:400},{ts:150}]; flush in")

	keys := []float64{}
	for _, doc := range *got {
		keys = append(keys, doc["ts"].(float64))
	}
	assert.Equal(t, []float64{100, 200, 300, 400}, keys)
}

func TestSessionScanEndToEnd(t *testing.T) {
	e := newTestEngine(t)
	run(t, e, "create stream events; create stream sessions")
	got := collect(t, e, "sessions")
	run(t, e, `create flow track as events
		| scan(
			step inSession: true => sessionStart = sessionStart ?? Ts, emit({Ts: Ts, sessionStart: sessionStart});
			step endSession: Ts - inSession.sessionStart > 30 => ended = true
		)
		| insert_into(sessions)`)
	run(t, e, "insert into events [{Ts:0},{Ts:1},{Ts:2},{Ts:3},{Ts:32},{Ts:36},{Ts:38},{Ts:41},{Ts:75}]")

	require.Len(t, *got, 9)
	starts := map[float64]int{}
	for _, doc := range *got {
		starts[doc["sessionStart"].(float64)]++
	}
	assert.Equal(t, map[float64]int{0: 4, 32: 4, 75: 1}, starts)
}

func TestSelectExclusionEndToEnd(t *testing.T) {
	e := newTestEngine(t)
	run(t, e, "create stream user_data; create stream out")
	got := collect(t, e, "out")
	run(t, e, "create flow f as user_data | select { ...*, -password, -ssn, safe_age: age } | insert_into(out)")
	run(t, e, `insert into user_data {id: 1, name: "J", password: "p", ssn: "s", age: 25}`)

	require.Len(t, *got, 1)
	assert.Equal(t, document.Document{"id": 1.0, "name": "J", "safe_age": 25.0}, (*got)[0])
}

func TestParseErrorReported(t *testing.T) {
	e := newTestEngine(t)
	resp := e.Execute(context.Background(), "create banana b")
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "parse error")
}

func TestBindErrors(t *testing.T) {
	e := newTestEngine(t)
	run(t, e, "create stream s; create stream out")

	tests := []struct {
		name string
		src  string
	}{
		{"unknown function", "create flow f1 as s | where frobnicate(x) | insert_into(out)"},
		{"unknown source", "create flow f2 as ghost | where x > 1 | insert_into(out)"},
		{"unknown operator", "create flow f3 as s | rotate(x) | insert_into(out)"},
		{"missing sink", "create flow f4 as s | where x > 1"},
		{"unknown aggregation", "create flow f5 as s | summarize {t: median(x)} | insert_into(out)"},
		{"unknown window", "create flow f6 as s | summarize {t: sum(x)} over window = lunar_window(2) | insert_into(out)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := e.Execute(context.Background(), tt.src)
			require.False(t, resp.Success)
			assert.True(t,
				strings.Contains(resp.Error, "bind error") || strings.Contains(resp.Error, "parse error"),
				"got: %s", resp.Error)
		})
	}
}

func TestResourceErrors(t *testing.T) {
	e := newTestEngine(t)
	run(t, e, "create stream s")

	resp := e.Execute(context.Background(), "create stream s")
	require.False(t, resp.Success)
	assert.Contains(t, resp.Error, "resource error")

	run(t, e, "create or replace stream s")
}

func TestDeleteStreamDetachesFlow(t *testing.T) {
	e := newTestEngine(t)
	run(t, e, "create stream in; create stream out; create flow f as in | where x > 0 | insert_into(out)")

	resp := run(t, e, "list flows")
	assert.Equal(t, []string{"f"}, resp.Results[0])

	run(t, e, "delete stream in")
	resp = run(t, e, "list flows")
	assert.Empty(t, resp.Results[0])
}

func TestLookupLifecycle(t *testing.T) {
	e := newTestEngine(t)
	run(t, e, `create lookup rates as {usd: 2, eur: 3}`)

	resp := e.Execute(context.Background(), `create lookup rates as {usd: 9}`)
	assert.False(t, resp.Success, "duplicate lookup without replace")

	run(t, e, `create or replace lookup rates as {usd: 2, eur: 3}`)

	run(t, e, "create stream in; create stream out")
	got := collect(t, e, "out")
	run(t, e, `create flow f as in | select { amount: amount * lookup_get("rates", "usd") } | insert_into(out)`)
	run(t, e, "insert into in {amount: 10}")

	require.Len(t, *got, 1)
	assert.Equal(t, 20.0, (*got)[0]["amount"])

	run(t, e, "delete lookup rates")
	resp = run(t, e, "list lookups")
	assert.Empty(t, resp.Results[0])
}

func TestListAndInfo(t *testing.T) {
	e := newTestEngine(t)
	run(t, e, "create stream b; create stream a")

	resp := run(t, e, "list streams")
	assert.Equal(t, []string{"a", "b"}, resp.Results[0])

	resp = run(t, e, "info a")
	info := resp.Results[0].(map[string]any)
	assert.Equal(t, "stream", info["kind"])

	bad := e.Execute(context.Background(), "info ghost")
	assert.False(t, bad.Success)
}

func TestSubscribeStatement(t *testing.T) {
	e := newTestEngine(t)
	run(t, e, "create stream s")

	resp := run(t, e, "subscribe s")
	result := resp.Results[0].(map[string]any)
	id, ok := result["subscription_id"].(string)
	require.True(t, ok)
	require.NotEmpty(t, id)

	run(t, e, `unsubscribe "`+id+`"`)
}

func TestInsertCount(t *testing.T) {
	e := newTestEngine(t)
	run(t, e, "create stream s")

	resp := run(t, e, "insert into s [{x:1},{x:2},{x:3}]")
	result := resp.Results[0].(map[string]any)
	assert.Equal(t, 3, result["count"])
}

func TestFlowTTLStatement(t *testing.T) {
	e := newTestEngine(t)
	run(t, e, "create stream in; create stream out; create flow f ttl(1h) as in | where x > 0 | insert_into(out)")

	resp := run(t, e, "info f")
	info := resp.Results[0].(map[string]any)
	assert.Equal(t, "flow", info["kind"])
	assert.Equal(t, "1h0m0s", info["ttl"])
}

func TestEmitTriggerEndToEnd(t *testing.T) {
	e := newTestEngine(t)
	run(t, e, "create stream s; create stream out")
	got := collect(t, e, "out")
	run(t, e, "create flow f as s | summarize {total: sum(x)} emit emit_on_update() | insert_into(out)")
	run(t, e, "insert into s [{x:1},{x:2},{x:3}]")

	require.Len(t, *got, 3)
	assert.Equal(t, 6.0, (*got)[2]["total"], "running partials without reset")
}
