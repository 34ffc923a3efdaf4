// Package dfg implements the SSA-lite data-flow builder of spec.md §4.4, the
// hardest subsystem in the pipeline: per-scope variable versioning, DEF_USE
// wiring, and direct-alias hint detection, built the way the teacher's
// stateful AST walkers (pkg/semantic/tracer/vartracer.go) track variable
// state across a tree without a type system, adapted here to a bounded
// stack walk over the flat CST event stream instead of a recursive
// *sitter.Node visitor.
package dfg

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hatlesswizard/ucg/pkg/anomaly"
	"github.com/hatlesswizard/ucg/pkg/cstevent"
	"github.com/hatlesswizard/ucg/pkg/langadapter"
	"github.com/hatlesswizard/ucg/pkg/provenance"
	"github.com/hatlesswizard/ucg/pkg/rows"
)

// Limits bounds per-scope def/use counts and whether literal nodes are
// emitted at all, per spec.md §4.4 "Limits" and "Literals (optional,
// bounded by config)".
type Limits struct {
	MaxDefsPerScope int
	MaxUsesPerScope int
	EmitLiterals    bool
}

// DefaultLimits mirrors the Normalizer's conservative resource bounds.
func DefaultLimits() Limits {
	return Limits{MaxDefsPerScope: 16384, MaxUsesPerScope: 16384, EmitLiterals: true}
}

// varState is one name's current SSA-lite state within a scope.
type varState struct {
	version   int
	defNodeID string
}

// scope is one function's variable environment (enterFunction is the only
// place a scope is opened). find walks
// outward through parent until a scope defines the name, mirroring the
// teacher's findScopeNode lexical-ancestor walk.
type scope struct {
	id        string
	vars      map[string]*varState
	parent    *scope
	defCount  int
	useCount  int
	overflowed bool
}

func newScope(id string, parent *scope) *scope {
	return &scope{id: id, vars: make(map[string]*varState), parent: parent}
}

func (s *scope) find(name string) (*varState, *scope) {
	for cur := s; cur != nil; cur = cur.parent {
		if v, ok := cur.vars[name]; ok {
			return v, cur
		}
	}
	return nil, nil
}

// ident is an identifier-like token captured during an open assignment,
// carrying enough position information to build a deterministic DFG node ID.
type ident struct {
	name      string
	byteStart uint32
	lineStart uint32
}

// qualFrame accumulates the identifier tokens seen while one dotted/member
// access node (e.g. Python's attribute for "self.foo") is open, so the whole
// dotted name can be resolved as a single identifier once the node closes,
// mirroring pkg/normalizer's qualifiedParts token-window join. Real
// tree-sitter output never hands a builder one token for "self.foo" — the
// node's leaf children are separate "self" and "foo" identifier tokens — so
// without this join DFG would bind them as two unrelated names instead of
// the one name spec.md §8 scenario (d) requires.
type qualFrame struct {
	parts     []string
	byteStart uint32
	lineStart uint32
}

// assignFrame is the "current_assignment" record of spec.md §4.4, one per
// currently-open assignment construct (a stack rather than a single record
// so nested assignment expressions, e.g. `a = b = 1`, still behave sanely).
type assignFrame struct {
	operatorSeen    bool
	lhs             []ident
	rhs             []ident
	assignTargetDep int // >0 while inside a nested is_assign_target subtree
	literals        []ident
	anchor          uint32
	anchorLine      uint32
}

// AliasHint is the lightweight record DFG hands to the Symbols builder,
// per the GLOSSARY: a direct binary `lhs = rhs` where both sides are single
// identifiers.
type AliasHint struct {
	LHSName string
	RHSName string
	ScopeID string
}

// Builder is single-file, single-use, mirroring normalizer.Normalizer.
type Builder struct {
	adapter *langadapter.Adapter
	tmpl    provenance.Template
	sink    *anomaly.Sink
	salt    []byte
	path    string
	blobSHA string
	limits  Limits

	scopeStack  []*scope
	assignStack []*assignFrame
	qualStack   []*qualFrame
	paramDepth  int

	nodes []rows.DFGNodeRow
	edges []rows.DFGEdgeRow
	hints []AliasHint
}

// New constructs a DFG Builder for one file.
func New(adapter *langadapter.Adapter, tmpl provenance.Template, sink *anomaly.Sink, salt []byte, path, blobSHA string, limits Limits) *Builder {
	return &Builder{adapter: adapter, tmpl: tmpl, sink: sink, salt: salt, path: path, blobSHA: blobSHA, limits: limits}
}

// Result is what Run returns. AliasHints feed the Symbols/Aliases builder
// per spec.md §4.5's cross-builder coordination.
type Result struct {
	Nodes      []rows.DFGNodeRow
	Edges      []rows.DFGEdgeRow
	AliasHints []AliasHint
}

// Run streams already-validated events through the builder.
func (b *Builder) Run(events []cstevent.Event, now int64) Result {
	for _, ev := range events {
		switch ev.Kind {
		case cstevent.Enter:
			b.onEnter(ev, now)
		case cstevent.Token:
			b.onToken(ev, now)
		case cstevent.Exit:
			b.onExit(ev, now)
		}
	}
	return Result{Nodes: b.nodes, Edges: b.edges, AliasHints: b.hints}
}

func (b *Builder) topScope() *scope {
	if len(b.scopeStack) == 0 {
		return nil
	}
	return b.scopeStack[len(b.scopeStack)-1]
}

func (b *Builder) topAssign() *assignFrame {
	if len(b.assignStack) == 0 {
		return nil
	}
	return b.assignStack[len(b.assignStack)-1]
}

func (b *Builder) onEnter(ev cstevent.Event, now int64) {
	switch {
	case b.adapter.IsFunction(ev.Type):
		b.enterFunction(ev)
	case b.adapter.IsParamList(ev.Type):
		b.paramDepth++
	case b.adapter.IsAssign(ev.Type):
		b.assignStack = append(b.assignStack, &assignFrame{anchor: ev.ByteStart, anchorLine: ev.LineStart})
	case b.adapter.IsAssignTarget(ev.Type):
		if af := b.topAssign(); af != nil {
			af.assignTargetDep++
		}
	case b.adapter.IsQualifiedName(ev.Type):
		b.qualStack = append(b.qualStack, &qualFrame{byteStart: ev.ByteStart, lineStart: ev.LineStart})
	}
}

func (b *Builder) onExit(ev cstevent.Event, now int64) {
	switch {
	case b.adapter.IsFunction(ev.Type):
		b.exitFunction()
	case b.adapter.IsParamList(ev.Type):
		if b.paramDepth > 0 {
			b.paramDepth--
		}
	case b.adapter.IsAssignTarget(ev.Type):
		if af := b.topAssign(); af != nil && af.assignTargetDep > 0 {
			af.assignTargetDep--
		}
	case b.adapter.IsQualifiedName(ev.Type):
		b.exitQualified(ev, now)
	case b.adapter.IsAssign(ev.Type):
		b.exitAssign(now)
	}
}

func (b *Builder) enterFunction(ev cstevent.Event) {
	id := provenance.ScopeID(b.salt, b.path, b.blobSHA, ev.ByteStart)
	s := newScope(id, b.topScope())
	b.scopeStack = append(b.scopeStack, s)
}

func (b *Builder) exitFunction() {
	if len(b.scopeStack) == 0 {
		return
	}
	b.scopeStack = b.scopeStack[:len(b.scopeStack)-1]
}

func (b *Builder) onToken(ev cstevent.Event, now int64) {
	s := b.topScope()
	if s == nil {
		return // identifiers outside any function scope are not traced (module-level is out of scope for SSA-lite)
	}

	// While a dotted/member-access node (e.g. "self.foo") is open, every
	// leaf token underneath it feeds the join in progress instead of being
	// resolved as its own standalone identifier; resolveIdentifier only
	// runs once, from exitQualified, against the whole joined name.
	if len(b.qualStack) > 0 {
		b.feedQualified(ev)
		return
	}

	if b.paramDepth > 0 {
		if b.adapter.IsIdentifierToken(ev.Type) {
			b.resolveIdentifier(ev.Text, ev.ByteStart, ev.ByteEnd, ev.LineStart, ev.LineEnd, now)
		}
		return
	}

	if af := b.topAssign(); af != nil {
		if !af.operatorSeen && b.adapter.IsAssignmentOperator(ev.Type) {
			af.operatorSeen = true
			return
		}
		if b.adapter.IsIdentifierToken(ev.Type) {
			b.resolveIdentifier(ev.Text, ev.ByteStart, ev.ByteEnd, ev.LineStart, ev.LineEnd, now)
			return
		}
		if b.limits.EmitLiterals && b.adapter.IsStringToken(ev.Type) {
			af.literals = append(af.literals, ident{name: ev.Text, byteStart: ev.ByteStart, lineStart: ev.LineStart})
		}
		return
	}

	if b.adapter.IsIdentifierToken(ev.Type) {
		b.resolveIdentifier(ev.Text, ev.ByteStart, ev.ByteEnd, ev.LineStart, ev.LineEnd, now)
		return
	}

	if b.limits.EmitLiterals && b.adapter.IsStringToken(ev.Type) {
		b.emitBareLiteral(s, ev, now)
	}
}

// feedQualified appends an identifier leaf to the innermost open qualFrame;
// separators ("." and the like) are dropped since the join re-adds them.
func (b *Builder) feedQualified(ev cstevent.Event) {
	if !b.adapter.IsIdentifierToken(ev.Type) {
		return
	}
	top := b.qualStack[len(b.qualStack)-1]
	top.parts = append(top.parts, ev.Text)
}

// exitQualified closes the innermost qualFrame. A nested dotted name (e.g.
// the "a.b" in "a.b.c") folds its joined text into the parent frame as one
// part rather than resolving early; only the outermost node's close
// resolves the fully joined name as a single identifier.
func (b *Builder) exitQualified(ev cstevent.Event, now int64) {
	if len(b.qualStack) == 0 {
		return
	}
	top := b.qualStack[len(b.qualStack)-1]
	b.qualStack = b.qualStack[:len(b.qualStack)-1]
	name := strings.Join(top.parts, ".")
	if name == "" {
		return
	}
	if len(b.qualStack) > 0 {
		parent := b.qualStack[len(b.qualStack)-1]
		parent.parts = append(parent.parts, name)
		return
	}
	b.resolveIdentifier(name, top.byteStart, ev.ByteEnd, top.lineStart, ev.LineEnd, now)
}

// resolveIdentifier routes one resolved identifier-like name (a bare token
// or a joined dotted name) to wherever a plain identifier token would have
// gone: a parameter binding, an open assignment's LHS/RHS, or a bare use.
func (b *Builder) resolveIdentifier(name string, byteStart, byteEnd, lineStart, lineEnd uint32, now int64) {
	s := b.topScope()
	if s == nil {
		return
	}
	if b.paramDepth > 0 {
		b.emitParam(s, name, byteStart, byteEnd, lineStart, lineEnd, now)
		return
	}
	if af := b.topAssign(); af != nil {
		id := ident{name: name, byteStart: byteStart, lineStart: lineStart}
		if !af.operatorSeen || af.assignTargetDep > 0 {
			af.lhs = append(af.lhs, id)
		} else {
			af.rhs = append(af.rhs, id)
		}
		return
	}
	b.emitUseIfResolved(s, name, byteStart, lineStart, now)
}

func (b *Builder) emitParam(s *scope, name string, byteStart, byteEnd, lineStart, lineEnd uint32, now int64) {
	boundsEv := cstevent.Event{ByteStart: byteStart, ByteEnd: byteEnd, LineStart: lineStart, LineEnd: lineEnd}
	if !b.checkDefBudget(s, boundsEv, now) {
		return
	}
	id := provenance.SSADefID(b.salt, b.path, b.blobSHA, s.id, name, 0)
	row := rows.DFGNodeRow{
		ID:      id,
		FuncID:  s.id,
		Kind:    rows.DFGParam,
		Name:    name,
		Version: intPtr(0),
		Path:    b.path,
		Lang:    b.adapter.Language(),
		Prov:    b.tmpl.WithSpan(byteStart, byteEnd, lineStart, lineEnd),
	}
	b.nodes = append(b.nodes, row)
	s.vars[name] = &varState{version: 0, defNodeID: id}
}

// emitUseIfResolved looks the name up the scope chain and always emits a
// VAR_USE node for it, per spec.md §4.4's "Failure semantics": an unresolved
// name still emits the VAR_USE but no DEF_USE edge (implicit reference to a
// binding this file never saw, e.g. an attribute defined in another method
// or an outer import). When resolved, the use also carries the version
// current right now and a DEF_USE edge from the recorded defining node.
func (b *Builder) emitUseIfResolved(s *scope, name string, byteStart, lineStart uint32, now int64) string {
	if !b.checkUseBudget(s, byteStart, lineStart, now) {
		return ""
	}
	state, owner := s.find(name)
	funcID := s.id
	var version *int
	if owner != nil {
		funcID = owner.id
		version = intPtr(state.version)
	}
	id := provenance.SSAUseID(b.salt, b.path, b.blobSHA, funcID, name, versionOrUnresolved(version), byteStart)
	row := rows.DFGNodeRow{
		ID:      id,
		FuncID:  funcID,
		Kind:    rows.DFGVarUse,
		Name:    name,
		Version: version,
		Path:    b.path,
		Lang:    b.adapter.Language(),
		Prov:    b.tmpl.WithSpan(byteStart, byteStart, lineStart, lineStart),
	}
	b.nodes = append(b.nodes, row)
	if owner == nil {
		return id
	}
	edgeID := provenance.EdgeID(b.salt, b.path, b.blobSHA, "dfg:"+string(rows.DFGDefUse), state.defNodeID, id, byteStart)
	b.edges = append(b.edges, rows.DFGEdgeRow{
		ID:     edgeID,
		FuncID: owner.id,
		Kind:   rows.DFGDefUse,
		SrcID:  state.defNodeID,
		DstID:  id,
		Prov:   b.tmpl.WithSpan(byteStart, byteStart, lineStart, lineStart),
	})
	return id
}

// versionOrUnresolved gives SSAUseID a stable placeholder version for a
// name that resolved to no binding, so two distinct unresolved uses of the
// same name at different byte offsets still get distinct IDs while an
// unresolved use never collides with a resolved version 0.
func versionOrUnresolved(version *int) int {
	if version == nil {
		return -1
	}
	return *version
}

func (b *Builder) emitBareLiteral(s *scope, ev cstevent.Event, now int64) {
	id := provenance.StableID(b.salt, "dfg_literal", b.path, b.blobSHA, s.id, fmt.Sprintf("%d", ev.ByteStart))
	b.nodes = append(b.nodes, rows.DFGNodeRow{
		ID:     id,
		FuncID: s.id,
		Kind:   rows.DFGLiteral,
		Path:   b.path,
		Lang:   b.adapter.Language(),
		Prov:   b.tmpl.WithSpan(ev.ByteStart, ev.ByteEnd, ev.LineStart, ev.LineEnd),
	})
}

// exitAssign processes a completed assignment in the strict order spec.md
// §4.4 requires: every RHS use is resolved (and emitted) against the scope
// state as it stood *before* this assignment's own defs are applied, only
// then are LHS versions incremented and VAR_DEF nodes emitted, and finally
// an alias_hint is produced when exactly one identifier participated on
// each side.
func (b *Builder) exitAssign(now int64) {
	if len(b.assignStack) == 0 {
		return
	}
	af := b.assignStack[len(b.assignStack)-1]
	b.assignStack = b.assignStack[:len(b.assignStack)-1]

	s := b.topScope()
	if s == nil {
		return
	}

	for _, rhs := range af.rhs {
		b.emitUseIfResolved(s, rhs.name, rhs.byteStart, rhs.lineStart, now)
	}

	var lastDefID string
	for _, lhs := range af.lhs {
		if !b.checkDefBudget(s, cstevent.Event{ByteStart: lhs.byteStart, ByteEnd: lhs.byteStart, LineStart: lhs.lineStart, LineEnd: lhs.lineStart}, now) {
			continue
		}
		prev, owner := s.find(lhs.name)
		version := 0
		if owner == s && prev != nil {
			version = prev.version + 1
		} else if prev != nil {
			// Shadowing an outer-scope name: start a fresh local version
			// sequence, since SSA versions are tracked per (scope_id, name).
			version = 0
		}
		id := provenance.SSADefID(b.salt, b.path, b.blobSHA, s.id, lhs.name, version)
		row := rows.DFGNodeRow{
			ID:      id,
			FuncID:  s.id,
			Kind:    rows.DFGVarDef,
			Name:    lhs.name,
			Version: intPtr(version),
			Path:    b.path,
			Lang:    b.adapter.Language(),
			Prov:    b.tmpl.WithSpan(lhs.byteStart, lhs.byteStart, lhs.lineStart, lhs.lineStart),
		}
		b.nodes = append(b.nodes, row)
		s.vars[lhs.name] = &varState{version: version, defNodeID: id}
		lastDefID = id
	}

	if b.limits.EmitLiterals && lastDefID != "" {
		for _, lit := range af.literals {
			litID := provenance.StableID(b.salt, "dfg_literal", b.path, b.blobSHA, s.id, fmt.Sprintf("%d", lit.byteStart))
			b.nodes = append(b.nodes, rows.DFGNodeRow{
				ID:     litID,
				FuncID: s.id,
				Kind:   rows.DFGLiteral,
				Path:   b.path,
				Lang:   b.adapter.Language(),
				Prov:   b.tmpl.WithSpan(lit.byteStart, lit.byteStart, lit.lineStart, lit.lineStart),
			})
			edgeID := provenance.EdgeID(b.salt, b.path, b.blobSHA, "dfg:"+string(rows.DFGConstPart), litID, lastDefID, lit.byteStart)
			b.edges = append(b.edges, rows.DFGEdgeRow{
				ID:     edgeID,
				FuncID: s.id,
				Kind:   rows.DFGConstPart,
				SrcID:  litID,
				DstID:  lastDefID,
				Prov:   b.tmpl.WithSpan(lit.byteStart, lit.byteStart, lit.lineStart, lit.lineStart),
			})
		}
	}

	if len(af.lhs) == 1 && len(af.rhs) == 1 {
		b.hints = append(b.hints, AliasHint{LHSName: af.lhs[0].name, RHSName: af.rhs[0].name, ScopeID: s.id})
	}
}

func (b *Builder) checkDefBudget(s *scope, ev cstevent.Event, now int64) bool {
	if s.overflowed {
		return false
	}
	s.defCount++
	if s.defCount > b.limits.MaxDefsPerScope {
		b.overflow(s, ev, now, "def")
		return false
	}
	return true
}

func (b *Builder) checkUseBudget(s *scope, byteStart, lineStart uint32, now int64) bool {
	if s.overflowed {
		return false
	}
	s.useCount++
	if s.useCount > b.limits.MaxUsesPerScope {
		b.overflow(s, cstevent.Event{ByteStart: byteStart, ByteEnd: byteStart, LineStart: lineStart, LineEnd: lineStart}, now, "use")
		return false
	}
	return true
}

func (b *Builder) overflow(s *scope, ev cstevent.Event, now int64, what string) {
	s.overflowed = true
	if b.sink == nil {
		return
	}
	start, end := ev.ByteStart, ev.ByteEnd
	attrs, _ := json.Marshal(map[string]string{"scope_id": s.id, "kind": what})
	b.sink.Record(rows.AnomalyRow{
		Path:      b.path,
		BlobSHA:   b.blobSHA,
		Kind:      rows.AnomalyMemoryLimit,
		Severity:  rows.SevError,
		Detail:    fmt.Sprintf("dfg: per-scope %s cap exceeded: %s", what, string(attrs)),
		SpanStart: &start,
		SpanEnd:   &end,
	}, now)
}

func intPtr(v int) *int { return &v }
