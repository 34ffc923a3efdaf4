package effects

import (
	"encoding/json"
	"testing"

	"github.com/hatlesswizard/ucg/pkg/cstevent"
	"github.com/hatlesswizard/ucg/pkg/langadapter"
	"github.com/hatlesswizard/ucg/pkg/provenance"
	"github.com/hatlesswizard/ucg/pkg/rows"
)

func tmpl() provenance.Template {
	return provenance.NewTemplate("t.py", "deadbeef", "python", "grammar-1", "run-1", "eff-1", nil)
}

func ev(kind cstevent.EventKind, typ string, start, end uint32) cstevent.Event {
	return cstevent.Event{Kind: kind, Type: typ, Text: typ, ByteStart: start, ByteEnd: end, LineStart: 1, LineEnd: 1}
}

func tok(typ, text string, start, end uint32) cstevent.Event {
	return cstevent.Event{Kind: cstevent.Token, Type: typ, Text: text, ByteStart: start, ByteEnd: end, LineStart: 1, LineEnd: 1}
}

func newBuilder(sinks *SinkTable, frameworks *FrameworkTable) *Builder {
	adapter := langadapter.NewRegistry().Get("python")
	return New(adapter, tmpl(), []byte("salt"), "t.py", "deadbeef", DefaultLimits(), sinks, frameworks)
}

func attrTier(t *testing.T, attrsJSON string) int {
	t.Helper()
	var m map[string]interface{}
	if err := json.Unmarshal([]byte(attrsJSON), &m); err != nil {
		t.Fatalf("invalid attrs_json %q: %v", attrsJSON, err)
	}
	tier, _ := m["tier"].(float64)
	return int(tier)
}

// @app.route("/x")
func TestDecoratorEmitsStructuralTierRow(t *testing.T) {
	b := newBuilder(nil, NewFrameworkTable())
	events := []cstevent.Event{
		ev(cstevent.Enter, "decorator", 0, 20),
		tok("identifier", "app", 1, 4),
		tok("identifier", "route", 5, 10),
		ev(cstevent.Enter, "call", 10, 20),
		tok("string", "\"/x\"", 11, 15),
		ev(cstevent.Exit, "call", 10, 20),
		ev(cstevent.Exit, "decorator", 0, 20),
	}
	res := b.Run(events)

	if len(res.Rows) == 0 {
		t.Fatal("expected at least one effect row")
	}
	var carrier *rows.EffectRow
	for i := range res.Rows {
		if res.Rows[i].Kind == rows.EffectDecorator {
			carrier = &res.Rows[i]
		}
	}
	if carrier == nil {
		t.Fatalf("expected a decorator effect row, got: %+v", res.Rows)
	}
	if carrier.Carrier != "app.route" {
		t.Errorf("expected carrier app.route, got %q", carrier.Carrier)
	}
	if attrTier(t, carrier.AttrsJSON) != TierStructural {
		t.Errorf("expected tier %d, got attrs %q", TierStructural, carrier.AttrsJSON)
	}
	var attrs map[string]interface{}
	json.Unmarshal([]byte(carrier.AttrsJSON), &attrs)
	if attrs["framework"] != "flask" {
		t.Errorf("expected framework flask in attrs, got %+v", attrs)
	}
	if res.InfoOnlyTierTwo {
		t.Error("a structural-tier row should not be reported as tier-two-only")
	}
}

// os.system(cmd) is both an env-lookup-shaped prefix check miss and a known
// command-injection sink; it should classify as a plain call enriched with
// sink metadata, not as env_lookup (os.getenv/os.environ only).
func TestCallEnrichesWithSinkMetadata(t *testing.T) {
	b := newBuilder(NewSinkTable(), nil)
	events := []cstevent.Event{
		ev(cstevent.Enter, "call", 0, 15),
		tok("identifier", "os", 0, 2),
		tok("identifier", "system", 3, 9),
		ev(cstevent.Exit, "call", 0, 15),
	}
	res := b.Run(events)

	if len(res.Rows) != 1 {
		t.Fatalf("expected exactly one effect row, got %d: %+v", len(res.Rows), res.Rows)
	}
	row := res.Rows[0]
	if row.Kind != rows.EffectCall {
		t.Errorf("expected a plain call row, got %q", row.Kind)
	}
	if row.Carrier != "os.system" {
		t.Errorf("expected carrier os.system, got %q", row.Carrier)
	}
	var attrs map[string]interface{}
	json.Unmarshal([]byte(row.AttrsJSON), &attrs)
	vulnTypes, _ := attrs["vuln_types"].([]interface{})
	if len(vulnTypes) == 0 || vulnTypes[0] != "command_injection" {
		t.Errorf("expected vuln_types [command_injection], got %+v", attrs["vuln_types"])
	}
	if attrs["severity"] != "critical" {
		t.Errorf("expected severity critical, got %+v", attrs["severity"])
	}
}

// os.environ.get("HOME") is reclassified to env_lookup and the carrier
// normalized to the bare os.environ prefix, per spec.md §4.6.
func TestEnvLookupReclassifiesAndNormalizesCarrier(t *testing.T) {
	b := newBuilder(nil, nil)
	events := []cstevent.Event{
		ev(cstevent.Enter, "call", 0, 25),
		tok("identifier", "os", 0, 2),
		tok("identifier", "environ", 3, 10),
		tok("identifier", "get", 11, 14),
		ev(cstevent.Exit, "call", 0, 25),
	}
	res := b.Run(events)

	if len(res.Rows) != 1 {
		t.Fatalf("expected exactly one effect row, got %d", len(res.Rows))
	}
	row := res.Rows[0]
	if row.Kind != rows.EffectEnvLookup {
		t.Errorf("expected env_lookup, got %q", row.Kind)
	}
	if row.Carrier != "os.environ" {
		t.Errorf("expected normalized carrier os.environ, got %q", row.Carrier)
	}
}

// A SELECT string literal classifies as sql_like at baseline tier.
func TestStringLiteralClassifiesSQLLike(t *testing.T) {
	b := newBuilder(nil, nil)
	events := []cstevent.Event{
		tok("string", "SELECT * FROM users WHERE id = ?", 0, 34),
	}
	res := b.Run(events)

	if len(res.Rows) != 1 {
		t.Fatalf("expected exactly one effect row, got %d", len(res.Rows))
	}
	if res.Rows[0].Kind != rows.EffectSQLLike {
		t.Errorf("expected sql_like, got %q", res.Rows[0].Kind)
	}
	if attrTier(t, res.Rows[0].AttrsJSON) != TierBaselineLiteral {
		t.Errorf("expected baseline tier, got attrs %q", res.Rows[0].AttrsJSON)
	}
	if !res.InfoOnlyTierTwo {
		t.Error("a file producing only tier-2 rows should report InfoOnlyTierTwo")
	}
}

// A route-shaped string literal ("/users/{id}") classifies as route_like.
func TestStringLiteralClassifiesRouteLike(t *testing.T) {
	b := newBuilder(nil, nil)
	events := []cstevent.Event{
		tok("string", "\"/users/{id}\"", 0, 13),
	}
	res := b.Run(events)

	if len(res.Rows) != 1 {
		t.Fatalf("expected exactly one effect row, got %d", len(res.Rows))
	}
	if res.Rows[0].Kind != rows.EffectRouteLike {
		t.Errorf("expected route_like, got %q", res.Rows[0].Kind)
	}
}

// An ordinary, non-SQL, non-route string literal stays string_literal.
func TestStringLiteralDefaultsToPlain(t *testing.T) {
	b := newBuilder(nil, nil)
	events := []cstevent.Event{
		tok("string", "\"hello world\"", 0, 13),
	}
	res := b.Run(events)

	if len(res.Rows) != 1 {
		t.Fatalf("expected exactly one effect row, got %d", len(res.Rows))
	}
	if res.Rows[0].Kind != rows.EffectStringLiteral {
		t.Errorf("expected string_literal, got %q", res.Rows[0].Kind)
	}
}

// raise ValueError("boom") emits a structural-tier throw_like row.
func TestThrowEmitsThrowLikeRow(t *testing.T) {
	b := newBuilder(nil, nil)
	events := []cstevent.Event{
		ev(cstevent.Enter, "raise_statement", 0, 25),
		tok("identifier", "ValueError", 6, 16),
		ev(cstevent.Enter, "call", 16, 25),
		tok("string", "\"boom\"", 17, 23),
		ev(cstevent.Exit, "call", 16, 25),
		ev(cstevent.Exit, "raise_statement", 0, 25),
	}
	res := b.Run(events)

	var throwRow *rows.EffectRow
	for i := range res.Rows {
		if res.Rows[i].Kind == rows.EffectThrowLike {
			throwRow = &res.Rows[i]
		}
	}
	if throwRow == nil {
		t.Fatalf("expected a throw_like row, got: %+v", res.Rows)
	}
	if throwRow.Carrier != "ValueError" {
		t.Errorf("expected carrier ValueError, got %q", throwRow.Carrier)
	}
}

func TestIsSQLLikeAndRouteLikeClassifiers(t *testing.T) {
	if !IsSQLLike("select * from t") {
		t.Error("expected a SELECT statement to be sql-like")
	}
	if !IsSQLLike("SELECT a FROM b JOIN c ON b.id = c.id") {
		t.Error("expected a statement containing JOIN to be sql-like")
	}
	if IsSQLLike("hello world") {
		t.Error("expected a plain string not to be sql-like")
	}
	if !IsRouteLike("/users/{id}") {
		t.Error("expected /users/{id} to be route-like")
	}
	if !IsRouteLike("/a/b") {
		t.Error("expected a multi-segment path to be route-like")
	}
	if IsRouteLike("not a route") {
		t.Error("expected a non-path string not to be route-like")
	}
}
