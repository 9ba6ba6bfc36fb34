package lang

import (
	"testing"
)

func TestParseCreateStream(t *testing.T) {
	prog, err := Parse("create stream sensors; create or replace stream sensors")
	if err != nil {
		t.Fatalf("Failed to parse: %v", err)
	}

	if len(prog.Statements) != 2 {
		t.Fatalf("Expected 2 statements, got %d", len(prog.Statements))
	}

	first := prog.Statements[0].Create
	if first == nil || first.Stream == nil {
		t.Fatal("Expected create stream statement")
	}
	if first.Stream.Name != "sensors" {
		t.Errorf("Expected stream sensors, got %s", first.Stream.Name)
	}
	if first.OrReplace {
		t.Error("Expected plain create")
	}

	second := prog.Statements[1].Create
	if second == nil || !second.OrReplace {
		t.Error("Expected create or replace")
	}
}

func TestParseCreateFlowWithTTL(t *testing.T) {
	prog, err := Parse("create flow f ttl(5m) as sensors | where x > 2 | insert_into(out)")
	if err != nil {
		t.Fatalf("Failed to parse: %v", err)
	}

	flow := prog.Statements[0].Create.Flow
	if flow == nil {
		t.Fatal("Expected create flow statement")
	}
	if flow.TTL == nil || *flow.TTL != "5m" {
		t.Error("Expected ttl(5m)")
	}
	if flow.Pipe.Source != "sensors" {
		t.Errorf("Expected source sensors, got %s", flow.Pipe.Source)
	}
	if len(flow.Pipe.Ops) != 2 {
		t.Fatalf("Expected 2 ops, got %d", len(flow.Pipe.Ops))
	}
	if flow.Pipe.Ops[0].Where == nil {
		t.Error("Expected where op")
	}
	if flow.Pipe.Ops[1].Call == nil || flow.Pipe.Ops[1].Call.Name != "insert_into" {
		t.Error("Expected insert_into sink")
	}
}

func TestParseInsert(t *testing.T) {
	prog, err := Parse(`insert into sensors {x: 1, name: "a"}`)
	if err != nil {
		t.Fatalf("Failed to parse: %v", err)
	}

	ins := prog.Statements[0].Insert
	if ins == nil {
		t.Fatal("Expected insert statement")
	}
	if ins.Target != "sensors" {
		t.Errorf("Expected target sensors, got %s", ins.Target)
	}

	prog, err = Parse(`insert into sensors [{x: 1}, {x: 2}]`)
	if err != nil {
		t.Fatalf("Failed to parse batch: %v", err)
	}
	if prog.Statements[0].Insert == nil {
		t.Fatal("Expected batch insert statement")
	}
}

func TestParseScan(t *testing.T) {
	prog, err := Parse("create flow f as n | scan(step sum: true => sum.total = (sum.total || 0) + x, emit({input: x, cumulative: sum.total})) | insert_into(r)")
	if err != nil {
		t.Fatalf("Failed to parse: %v", err)
	}

	ops := prog.Statements[0].Create.Flow.Pipe.Ops
	scan := ops[0].Scan
	if scan == nil {
		t.Fatal("Expected scan op")
	}
	if len(scan.Steps) != 1 {
		t.Fatalf("Expected 1 step, got %d", len(scan.Steps))
	}
	step := scan.Steps[0]
	if step.Name != "sum" {
		t.Errorf("Expected step sum, got %s", step.Name)
	}
	if len(step.Actions) != 2 {
		t.Fatalf("Expected 2 actions, got %d", len(step.Actions))
	}
	if step.Actions[0].Assign == nil {
		t.Error("Expected first action to be an assignment")
	}
	if step.Actions[1].Emit == nil {
		t.Error("Expected second action to be an emit")
	}
}

func TestParseMultiStepScan(t *testing.T) {
	prog, err := Parse("create flow f as n | scan(step a: x > 0 => a.v = x; optional step b: x > 1 => b.v = x; step c: x > 2 => emit({v: a.v})) | insert_into(r)")
	if err != nil {
		t.Fatalf("Failed to parse: %v", err)
	}

	scan := prog.Statements[0].Create.Flow.Pipe.Ops[0].Scan
	if len(scan.Steps) != 3 {
		t.Fatalf("Expected 3 steps, got %d", len(scan.Steps))
	}
	if !scan.Steps[1].Optional {
		t.Error("Expected step b to be optional")
	}
	if scan.Steps[0].Optional || scan.Steps[2].Optional {
		t.Error("Steps a and c should not be optional")
	}
}

func TestParseSummarize(t *testing.T) {
	prog, err := Parse("create flow f as sales | summarize {total: sum(amount), cnt: count()} by product over window = tumbling_window(2) emit emit_every(5) | insert_into(out)")
	if err != nil {
		t.Fatalf("Failed to parse: %v", err)
	}

	sum := prog.Statements[0].Create.Flow.Pipe.Ops[0].Summarize
	if sum == nil {
		t.Fatal("Expected summarize op")
	}
	if len(sum.Projections.Entries) != 2 {
		t.Errorf("Expected 2 projections, got %d", len(sum.Projections.Entries))
	}
	if len(sum.By) != 1 || sum.By[0].Parts[0] != "product" {
		t.Error("Expected by product")
	}
	if sum.Window == nil {
		t.Fatal("Expected window clause")
	}
	call, ok := sum.Window.AsCall()
	if !ok || call.Name != "tumbling_window" {
		t.Error("Expected tumbling_window call")
	}
	if sum.Trigger == nil {
		t.Fatal("Expected emit trigger")
	}
	trig, ok := sum.Trigger.AsCall()
	if !ok || trig.Name != "emit_every" {
		t.Error("Expected emit_every trigger")
	}
}

func TestParseSelectWithSpreadAndExclusion(t *testing.T) {
	prog, err := Parse("create flow f as u | select { ...*, -password, safe_age: age } | insert_into(out)")
	if err != nil {
		t.Fatalf("Failed to parse: %v", err)
	}

	sel := prog.Statements[0].Create.Flow.Pipe.Ops[0].Select
	if sel == nil {
		t.Fatal("Expected select op")
	}
	if len(sel.Entries) != 3 {
		t.Fatalf("Expected 3 entries, got %d", len(sel.Entries))
	}
	if !sel.Entries[0].Spread {
		t.Error("Expected spread entry")
	}
	if sel.Entries[1].Exclude == nil || *sel.Entries[1].Exclude != "password" {
		t.Error("Expected -password exclusion")
	}
	if sel.Entries[2].Field == nil || sel.Entries[2].Field.Key != "safe_age" {
		t.Error("Expected safe_age field")
	}
}

func TestParseManagementStatements(t *testing.T) {
	src := `delete stream s; flush s; list streams; info s; subscribe s; unsubscribe "abc-123"; create lookup rates as {usd: 1.1}`
	prog, err := Parse(src)
	if err != nil {
		t.Fatalf("Failed to parse: %v", err)
	}
	if len(prog.Statements) != 7 {
		t.Fatalf("Expected 7 statements, got %d", len(prog.Statements))
	}
	if prog.Statements[0].Delete == nil || prog.Statements[0].Delete.Kind != "stream" {
		t.Error("Expected delete stream")
	}
	if prog.Statements[2].List == nil || prog.Statements[2].List.Kind != "streams" {
		t.Error("Expected list streams")
	}
	if prog.Statements[5].Unsubscribe == nil || prog.Statements[5].Unsubscribe.ID != "abc-123" {
		t.Error("Expected unsubscribe with id")
	}
	if prog.Statements[6].Create.Lookup == nil {
		t.Error("Expected create lookup")
	}
}

func TestParseComments(t *testing.T) {
	prog, err := Parse("// leading comment\ncreate stream s // trailing\n")
	if err != nil {
		t.Fatalf("Failed to parse: %v", err)
	}
	if len(prog.Statements) != 1 {
		t.Fatalf("Expected 1 statement, got %d", len(prog.Statements))
	}
}

func TestParseError(t *testing.T) {
	_, err := Parse("create banana s")
	if err == nil {
		t.Fatal("Expected parse error")
	}
}

func TestParseDurationTokens(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"500ms", "500ms"},
		{"30s", "30s"},
		{"5m", "5m0s"},
		{"2h", "2h0m0s"},
	}
	for _, tt := range tests {
		d, err := ParseDuration(tt.in)
		if err != nil {
			t.Fatalf("ParseDuration(%q): %v", tt.in, err)
		}
		if d.String() != tt.want {
			t.Errorf("ParseDuration(%q) = %s, want %s", tt.in, d, tt.want)
		}
	}

	if _, err := ParseDuration("5x"); err == nil {
		t.Error("Expected error for bad unit")
	}
}
