// Package effects implements the heuristic effect-carrier builder of spec.md
// §4.6: decorators, calls (with qualified-name reconstruction), env lookups,
// SQL/route-like string literals, and throw/raise sites. It streams the same
// CST event sequence the other builders see and maintains a bounded token
// window the way the Normalizer's qualified-name reconstruction does
// (pkg/normalizer/constructs.go), rather than a second copy of that state
// machine.
package effects

import (
	"encoding/json"
	"strings"

	"github.com/hatlesswizard/ucg/pkg/cstevent"
	"github.com/hatlesswizard/ucg/pkg/langadapter"
	"github.com/hatlesswizard/ucg/pkg/provenance"
	"github.com/hatlesswizard/ucg/pkg/rows"
)

// Limits bounds the token window kept while a construct is open.
type Limits struct {
	MaxWindowTokens   int
	MaxStringLiteral  int // only strings at or below this length are classified
}

// DefaultLimits mirrors the other builders' conservative resource bounds.
func DefaultLimits() Limits {
	return Limits{MaxWindowTokens: 32, MaxStringLiteral: 4096}
}

// Tier labels the confidence of an extraction, per spec.md §4.6.
const (
	TierStructural     = 0 // decorator/throw: the construct itself is unambiguous
	TierQualifiedName  = 1 // call/env_lookup: qualified-name heuristic
	TierBaselineLiteral = 2 // string_literal/sql_like/route_like: cheap classifiers only
)

type openConstruct struct {
	kind          string // "decorator", "call", "throw"
	byteStart     uint32
	byteEnd       uint32
	lineStart     uint32
	lineEnd       uint32
	qualifiedParts []string
}

// Builder is single-file, single-use, mirroring the other builders.
type Builder struct {
	adapter    *langadapter.Adapter
	tmpl       provenance.Template
	salt       []byte
	path       string
	blobSHA    string
	limits     Limits
	sinks      *SinkTable
	frameworks *FrameworkTable

	pendStack []*openConstruct

	tierTwoOnly bool
	sawAnyRow   bool

	rows []rows.EffectRow
}

// New constructs an Effects Builder for one file. sinks/frameworks may be nil
// (the enrichment passes are optional per SPEC_FULL.md's SUPPLEMENTED FEATURES).
func New(adapter *langadapter.Adapter, tmpl provenance.Template, salt []byte, path, blobSHA string, limits Limits, sinks *SinkTable, frameworks *FrameworkTable) *Builder {
	return &Builder{
		adapter: adapter, tmpl: tmpl, salt: salt, path: path, blobSHA: blobSHA,
		limits: limits, sinks: sinks, frameworks: frameworks, tierTwoOnly: true,
	}
}

// Result is what Run returns. InfoOnlyTierTwo is set when every emitted row
// was tier 2, per spec.md §4.6 "A file producing only tier-2 rows emits an
// informational anomaly."
type Result struct {
	Rows            []rows.EffectRow
	InfoOnlyTierTwo bool
}

// Run streams already-validated events through the builder.
func (b *Builder) Run(events []cstevent.Event) Result {
	for _, ev := range events {
		switch ev.Kind {
		case cstevent.Enter:
			b.onEnter(ev)
		case cstevent.Token:
			b.onToken(ev)
		case cstevent.Exit:
			b.onExit(ev)
		}
	}
	return Result{Rows: b.rows, InfoOnlyTierTwo: b.sawAnyRow && b.tierTwoOnly}
}

func (b *Builder) onEnter(ev cstevent.Event) {
	switch {
	case b.adapter.IsDecorator(ev.Type):
		b.push("decorator", ev)
	case b.adapter.IsCall(ev.Type):
		b.push("call", ev)
	case b.adapter.IsThrow(ev.Type):
		b.push("throw", ev)
	}
}

func (b *Builder) push(kind string, ev cstevent.Event) {
	b.pendStack = append(b.pendStack, &openConstruct{kind: kind, byteStart: ev.ByteStart, lineStart: ev.LineStart})
}

func (b *Builder) top() *openConstruct {
	if len(b.pendStack) == 0 {
		return nil
	}
	return b.pendStack[len(b.pendStack)-1]
}

func (b *Builder) onToken(ev cstevent.Event) {
	if oc := b.top(); oc != nil && b.adapter.IsIdentifierToken(ev.Type) && len(oc.qualifiedParts) < b.limits.MaxWindowTokens {
		oc.qualifiedParts = append(oc.qualifiedParts, ev.Text)
	}

	if b.adapter.IsStringToken(ev.Type) {
		b.classifyStringLiteral(ev)
	}
}

func (b *Builder) onExit(ev cstevent.Event) {
	if len(b.pendStack) == 0 {
		return
	}
	// The construct on top of the stack owns this EXIT only if it was pushed
	// for exactly this purpose; since decorator/call/throw never nest their
	// own kind as a direct ancestor boundary in the event contract used here,
	// popping unconditionally on any EXIT while one is open mirrors the
	// Normalizer's pendStack discipline closely enough for these leaf-ish
	// constructs (they don't themselves contain another call/decorator/throw
	// construct that would need its own EXIT consumed first... when they do,
	// e.g. a call inside a call's arguments, the inner one is pushed later
	// and therefore popped first, which is correct stack order).
	oc := b.pendStack[len(b.pendStack)-1]
	b.pendStack = b.pendStack[:len(b.pendStack)-1]
	oc.byteEnd = ev.ByteEnd
	oc.lineEnd = ev.LineEnd

	switch oc.kind {
	case "decorator":
		b.finalizeDecorator(oc)
	case "call":
		b.finalizeCall(oc)
	case "throw":
		b.finalizeThrow(oc)
	}
}

func qualifiedName(oc *openConstruct) string { return strings.Join(oc.qualifiedParts, ".") }

func (b *Builder) emit(row rows.EffectRow) {
	b.rows = append(b.rows, row)
	b.sawAnyRow = true
	tier := tierOf(row.AttrsJSON)
	if tier != TierBaselineLiteral {
		b.tierTwoOnly = false
	}
}

func tierOf(attrsJSON string) int {
	var m struct {
		Tier int `json:"tier"`
	}
	if err := json.Unmarshal([]byte(attrsJSON), &m); err != nil {
		return TierBaselineLiteral
	}
	return m.Tier
}

func attrsWithTier(tier int, extra map[string]interface{}) string {
	m := map[string]interface{}{"tier": tier}
	for k, v := range extra {
		m[k] = v
	}
	b, _ := json.Marshal(m)
	return string(b)
}

func (b *Builder) finalizeDecorator(oc *openConstruct) {
	carrier := qualifiedName(oc)
	attrs := attrsWithTier(TierStructural, b.frameworkAttrs(carrier))
	id := provenance.StableID(b.salt, "effect:decorator", b.path, b.blobSHA, bytesKey(oc.byteStart))
	b.emit(rows.EffectRow{
		ID: id, Kind: rows.EffectDecorator, Carrier: carrier, AttrsJSON: attrs,
		Prov: b.tmpl.WithSpan(oc.byteStart, oc.byteEnd, oc.lineStart, oc.lineEnd),
	})
}

// finalizeCall reclassifies env-lookup call shapes (os.environ, os.getenv,
// process.env) to EffectEnvLookup, per spec.md §4.6, and enriches known sinks
// / framework entry points into attrs per SPEC_FULL.md's SUPPLEMENTED FEATURES.
func (b *Builder) finalizeCall(oc *openConstruct) {
	carrier := qualifiedName(oc)
	if carrier == "" {
		return
	}
	kind := rows.EffectCall
	if isEnvLookup(carrier) {
		kind = rows.EffectEnvLookup
		carrier = normalizeEnvCarrier(carrier)
	}

	extra := b.frameworkAttrs(carrier)
	if b.sinks != nil {
		if s := b.sinks.Lookup(b.adapter.Language(), carrier); s != nil {
			extra["vuln_types"] = s.VulnTypes
			extra["severity"] = s.Severity
			if s.CWE != "" {
				extra["cwe"] = s.CWE
			}
			if kind == rows.EffectCall && containsVulnType(s.VulnTypes, "sql_injection") {
				kind = rows.EffectSQLLike
			}
		}
	}

	id := provenance.StableID(b.salt, "effect:"+string(kind), b.path, b.blobSHA, bytesKey(oc.byteStart))
	b.emit(rows.EffectRow{
		ID: id, Kind: kind, Carrier: carrier,
		ArgsJSON:  "[]",
		AttrsJSON: attrsWithTier(TierQualifiedName, extra),
		Prov:      b.tmpl.WithSpan(oc.byteStart, oc.byteEnd, oc.lineStart, oc.lineEnd),
	})
}

func (b *Builder) finalizeThrow(oc *openConstruct) {
	carrier := qualifiedName(oc)
	id := provenance.StableID(b.salt, "effect:throw", b.path, b.blobSHA, bytesKey(oc.byteStart))
	b.emit(rows.EffectRow{
		ID: id, Kind: rows.EffectThrowLike, Carrier: carrier,
		AttrsJSON: attrsWithTier(TierStructural, nil),
		Prov:      b.tmpl.WithSpan(oc.byteStart, oc.byteEnd, oc.lineStart, oc.lineEnd),
	})
}

func (b *Builder) frameworkAttrs(carrier string) map[string]interface{} {
	if b.frameworks == nil || carrier == "" {
		return map[string]interface{}{}
	}
	if fw := b.frameworks.Lookup(b.adapter.Language(), carrier); fw != "" {
		return map[string]interface{}{"framework": fw}
	}
	return map[string]interface{}{}
}

// classifyStringLiteral emits a string_literal EffectRow and, when the cheap
// classifiers fire, reclassifies to sql_like/route_like, per spec.md §4.6.
func (b *Builder) classifyStringLiteral(ev cstevent.Event) {
	if ev.ByteEnd-ev.ByteStart > uint32(b.limits.MaxStringLiteral) {
		return
	}
	text := strings.Trim(strings.TrimSpace(ev.Text), "\"'`")
	kind := rows.EffectStringLiteral
	switch {
	case IsSQLLike(text):
		kind = rows.EffectSQLLike
	case IsRouteLike(text):
		kind = rows.EffectRouteLike
	}
	id := provenance.StableID(b.salt, "effect:string", b.path, b.blobSHA, bytesKey(ev.ByteStart))
	b.emit(rows.EffectRow{
		ID: id, Kind: kind, Carrier: "",
		AttrsJSON: attrsWithTier(TierBaselineLiteral, nil),
		Prov:      b.tmpl.WithSpan(ev.ByteStart, ev.ByteEnd, ev.LineStart, ev.LineEnd),
	})
}

func isEnvLookup(carrier string) bool {
	return strings.HasPrefix(carrier, "os.environ") ||
		strings.HasPrefix(carrier, "os.getenv") ||
		strings.HasPrefix(carrier, "process.env")
}

func normalizeEnvCarrier(carrier string) string {
	switch {
	case strings.HasPrefix(carrier, "os.environ"):
		return "os.environ"
	case strings.HasPrefix(carrier, "os.getenv"):
		return "os.getenv"
	default:
		return "process.env"
	}
}

func containsVulnType(types []string, want string) bool {
	for _, t := range types {
		if t == want {
			return true
		}
	}
	return false
}

func bytesKey(v uint32) string {
	if v == 0 {
		return "0"
	}
	digits := [10]byte{}
	i := len(digits)
	for v > 0 {
		i--
		digits[i] = byte('0' + v%10)
		v /= 10
	}
	return string(digits[i:])
}

// IsSQLLike classifies a literal's text per spec.md §4.6: begins with
// select/insert/update/delete/with, or contains " join ". Exported so other
// builders (and tests) can reuse the same classifier.
func IsSQLLike(text string) bool {
	t := strings.ToLower(strings.TrimSpace(text))
	for _, kw := range []string{"select", "insert", "update", "delete", "with"} {
		if strings.HasPrefix(t, kw) {
			return true
		}
	}
	return strings.Contains(t, " join ")
}

// IsRouteLike classifies a literal's text per spec.md §4.6: begins with "/"
// and contains "{", ":", or has >= 2 slashes.
func IsRouteLike(text string) bool {
	t := strings.TrimSpace(text)
	if !strings.HasPrefix(t, "/") {
		return false
	}
	if strings.ContainsAny(t, "{:") {
		return true
	}
	return strings.Count(t, "/") >= 2
}
