// Package symbols implements the Symbols/Aliases builder of spec.md §4.5: it
// streams the same event sequence the other builders see, emits a SymbolRow
// for every declared binding, and reconciles DFG alias hints against the
// symbols declared so far in the file to produce AliasRows. The bookkeeping
// (per-scope name -> latest symbol id, visibility by naming convention) is
// grounded on the teacher's callgraph.Manager node/edge bookkeeping
// (pkg/semantic/callgraph/manager.go), adapted from a cross-file call graph
// to a single-file symbol table.
package symbols

import (
	"encoding/json"
	"strings"

	"github.com/hatlesswizard/ucg/pkg/anomaly"
	"github.com/hatlesswizard/ucg/pkg/cstevent"
	"github.com/hatlesswizard/ucg/pkg/dfg"
	"github.com/hatlesswizard/ucg/pkg/langadapter"
	"github.com/hatlesswizard/ucg/pkg/provenance"
	"github.com/hatlesswizard/ucg/pkg/rows"
)

// Limits bounds the per-file symbol count.
type Limits struct {
	MaxSymbols int
}

// DefaultLimits mirrors the other builders' conservative resource bounds.
func DefaultLimits() Limits {
	return Limits{MaxSymbols: 65536}
}

// scopeFrame is one open MODULE/CLASS/FUNCTION scope's symbol table. Names
// map to the most recently emitted SymbolRow for that name in this scope,
// so a later assignment to the same name updates the lookup without
// duplicating history (spec.md doesn't version symbols the way DFG versions
// values).
type scopeFrame struct {
	id      string
	kind    rows.SymbolKind
	names   map[string]string // name -> symbol id
	parent  *scopeFrame
}

func newScopeFrame(id string, kind rows.SymbolKind, parent *scopeFrame) *scopeFrame {
	return &scopeFrame{id: id, kind: kind, names: make(map[string]string), parent: parent}
}

func (s *scopeFrame) find(name string) (string, bool) {
	for cur := s; cur != nil; cur = cur.parent {
		if id, ok := cur.names[name]; ok {
			return id, true
		}
	}
	return "", false
}

// Builder is the per-file symbols builder. Its paramDepth tracks whether we
// are currently inside a parameter list, used exactly like the DFG builder's
// paramDepth.
type Builder struct {
	adapter *langadapter.Adapter
	tmpl    provenance.Template
	sink    *anomaly.Sink
	salt    []byte
	path    string
	blobSHA string
	limits  Limits

	scopeStack []*scopeFrame
	allFrames  []*scopeFrame
	paramDepth int

	inAssign       bool
	assignLHSNames []string
	assignAnchor   cstevent.Event

	inImport   bool
	inExport   bool
	spanStart  uint32

	symCount int

	moduleScopeID string

	symbols []rows.SymbolRow
	aliases []rows.AliasRow
}

// New constructs a Symbols Builder for one file.
func New(adapter *langadapter.Adapter, tmpl provenance.Template, sink *anomaly.Sink, salt []byte, path, blobSHA string, limits Limits) *Builder {
	return &Builder{adapter: adapter, tmpl: tmpl, sink: sink, salt: salt, path: path, blobSHA: blobSHA, limits: limits}
}

// Result is what Run returns.
type Result struct {
	Symbols []rows.SymbolRow
	Aliases []rows.AliasRow
}

// Run streams the file's events plus the alias hints DFG produced for the
// same file, per spec.md §4.5 "Consumes the same event stream plus the
// DFG's alias_hints list for that file."
func (b *Builder) Run(events []cstevent.Event, hints []dfg.AliasHint, now int64) Result {
	b.emitModuleSymbol()
	for _, ev := range events {
		switch ev.Kind {
		case cstevent.Enter:
			b.onEnter(ev)
		case cstevent.Token:
			b.onToken(ev)
		case cstevent.Exit:
			b.onExit(ev, now)
		}
	}
	b.resolveAliasHints(hints)
	return Result{Symbols: b.symbols, Aliases: b.aliases}
}

func (b *Builder) topScope() *scopeFrame {
	if len(b.scopeStack) == 0 {
		return nil
	}
	return b.scopeStack[len(b.scopeStack)-1]
}

func (b *Builder) visibility(name string) rows.Visibility {
	if strings.HasPrefix(name, "_") {
		return rows.VisPrivate
	}
	return rows.VisPublic
}

func (b *Builder) emitModuleSymbol() {
	id := provenance.StableID(b.salt, "symbol:module", b.path, b.blobSHA, b.path)
	b.moduleScopeID = id
	root := newScopeFrame(id, rows.SymModule, nil)
	b.scopeStack = append(b.scopeStack, root)
	b.allFrames = append(b.allFrames, root)
	b.symbols = append(b.symbols, rows.SymbolRow{
		ID:         id,
		ScopeID:    id,
		Name:       b.path,
		Kind:       rows.SymModule,
		Visibility: rows.VisPublic,
		Prov:       b.tmpl.WithSpan(0, 0, 1, 1),
	})
}

func (b *Builder) onEnter(ev cstevent.Event) {
	switch {
	case b.adapter.IsClass(ev.Type):
		b.openScope(ev, rows.SymClass)
	case b.adapter.IsFunction(ev.Type):
		kind := rows.SymFunction
		if parent := b.topScope(); parent != nil && parent.kind == rows.SymClass {
			kind = rows.SymMethod
		}
		b.openScope(ev, kind)
	case b.adapter.IsParamList(ev.Type):
		b.paramDepth++
	case b.adapter.IsAssign(ev.Type):
		b.inAssign = true
		b.assignLHSNames = nil
		b.assignAnchor = ev
	case b.adapter.IsImport(ev.Type):
		b.inImport = true
		b.spanStart = ev.ByteStart
	case b.adapter.IsExport(ev.Type):
		b.inExport = true
		b.spanStart = ev.ByteStart
	}
}

func (b *Builder) onExit(ev cstevent.Event, now int64) {
	switch {
	case b.adapter.IsClass(ev.Type), b.adapter.IsFunction(ev.Type):
		b.closeScope()
	case b.adapter.IsParamList(ev.Type):
		if b.paramDepth > 0 {
			b.paramDepth--
		}
	case b.adapter.IsAssign(ev.Type):
		b.exitAssign(ev, now)
	case b.adapter.IsImport(ev.Type):
		b.inImport = false
		b.emitImportSymbol(ev)
	case b.adapter.IsExport(ev.Type):
		b.inExport = false
		b.emitExportSymbol(ev)
	}
}

func (b *Builder) onToken(ev cstevent.Event) {
	if b.paramDepth > 0 {
		if b.adapter.IsIdentifierToken(ev.Type) {
			b.emitParamSymbol(ev)
		}
		return
	}
	if b.inAssign && b.adapter.IsIdentifierToken(ev.Type) {
		// Every identifier before the assignment operator is a candidate
		// binding name; we don't distinguish lhs/rhs at the token level
		// here the way DFG does, but we only ever promote the *first*
		// identifier of the assignment to a binding, matching the common
		// `name = expr` shape. The rest of the tokens are still walked so
		// IsAssignmentOperator detection elsewhere in the pipeline (DFG)
		// governs semantics; this builder only needs the target name.
		if len(b.assignLHSNames) == 0 {
			b.assignLHSNames = append(b.assignLHSNames, ev.Text)
		}
	}
}

func (b *Builder) openScope(ev cstevent.Event, kind rows.SymbolKind) {
	id := provenance.ScopeID(b.salt, b.path, b.blobSHA, ev.ByteStart)
	parent := b.topScope()
	frame := newScopeFrame(id, kind, parent)
	b.scopeStack = append(b.scopeStack, frame)
	b.allFrames = append(b.allFrames, frame)

	if !b.checkBudget(ev, 0) {
		return
	}
	sym := rows.SymbolRow{
		ID:         id,
		ScopeID:    parentScopeID(parent, b.moduleScopeID),
		Name:       "", // node name is carried by the Normalizer's NodeRow; this table only tracks the binding
		Kind:       kind,
		Visibility: rows.VisPublic,
		Prov:       b.tmpl.WithSpan(ev.ByteStart, ev.ByteEnd, ev.LineStart, ev.LineEnd),
	}
	b.symbols = append(b.symbols, sym)
	if parent != nil {
		parent.names["#scope:"+id] = id
	}
}

func parentScopeID(parent *scopeFrame, moduleID string) string {
	if parent == nil {
		return moduleID
	}
	return parent.id
}

func (b *Builder) closeScope() {
	if len(b.scopeStack) <= 1 {
		return // never pop the module scope
	}
	b.scopeStack = b.scopeStack[:len(b.scopeStack)-1]
}

func (b *Builder) emitParamSymbol(ev cstevent.Event) {
	s := b.topScope()
	if s == nil || !b.checkBudget(ev, 0) {
		return
	}
	id := provenance.StableID(b.salt, "symbol:param", b.path, b.blobSHA, s.id, ev.Text, itoaU(ev.ByteStart))
	b.symbols = append(b.symbols, rows.SymbolRow{
		ID:         id,
		ScopeID:    s.id,
		Name:       ev.Text,
		Kind:       rows.SymParam,
		Visibility: b.visibility(ev.Text),
		Prov:       b.tmpl.WithSpan(ev.ByteStart, ev.ByteEnd, ev.LineStart, ev.LineEnd),
	})
	s.names[ev.Text] = id
}

func (b *Builder) exitAssign(ev cstevent.Event, now int64) {
	b.inAssign = false
	if len(b.assignLHSNames) == 0 {
		return
	}
	name := b.assignLHSNames[0]
	s := b.topScope()
	if s == nil || !b.checkBudget(ev, now) {
		return
	}
	id := provenance.StableID(b.salt, "symbol:variable", b.path, b.blobSHA, s.id, name, itoaU(b.assignAnchor.ByteStart))
	b.symbols = append(b.symbols, rows.SymbolRow{
		ID:         id,
		ScopeID:    s.id,
		Name:       name,
		Kind:       rows.SymVariable,
		Visibility: b.visibility(name),
		Prov:       b.tmpl.WithSpan(b.assignAnchor.ByteStart, ev.ByteEnd, b.assignAnchor.LineStart, ev.LineEnd),
	})
	s.names[name] = id
}

// emitImportSymbol does not attempt to recover the imported name: distinct
// import styles (named, wildcard, aliased) vary too much across languages to
// reconstruct reliably from a token window, so only the import's existence
// and span are recorded, mirroring the teacher's conservative fallback when
// a construct resists structural classification.
func (b *Builder) emitImportSymbol(ev cstevent.Event) {
	s := b.topScope()
	if s == nil || !b.checkBudget(ev, 0) {
		return
	}
	id := provenance.StableID(b.salt, "symbol:import", b.path, b.blobSHA, s.id, itoaU(b.spanStart))
	b.symbols = append(b.symbols, rows.SymbolRow{
		ID:         id,
		ScopeID:    s.id,
		Kind:       rows.SymImport,
		Visibility: rows.VisPublic,
		IsDynamic:  false,
		Prov:       b.tmpl.WithSpan(b.spanStart, ev.ByteEnd, 1, ev.LineEnd),
	})
}

func (b *Builder) emitExportSymbol(ev cstevent.Event) {
	s := b.topScope()
	if s == nil || !b.checkBudget(ev, 0) {
		return
	}
	id := provenance.StableID(b.salt, "symbol:export", b.path, b.blobSHA, s.id, itoaU(b.spanStart))
	b.symbols = append(b.symbols, rows.SymbolRow{
		ID:         id,
		ScopeID:    s.id,
		Kind:       rows.SymExport,
		Visibility: rows.VisPublic,
		Prov:       b.tmpl.WithSpan(b.spanStart, ev.ByteEnd, 1, ev.LineEnd),
	})
}

// resolveAliasHints matches each DFG alias_hint against the symbols this
// builder has accumulated, per spec.md §4.5 "assign alias when an
// alias_hint matches an LHS binding in the same scope with a known RHS
// symbol". Hints whose RHS name never resolved to a symbol become
// `dynamic` aliases rather than being dropped, so every hint still leaves
// a trace in the output.
func (b *Builder) resolveAliasHints(hints []dfg.AliasHint) {
	byScope := make(map[string]*scopeFrame, len(b.scopeStack))
	b.indexScopes(byScope)

	for _, h := range hints {
		frame := byScope[h.ScopeID]
		if frame == nil {
			continue
		}
		lhsID, lhsOK := frame.find(h.LHSName)
		rhsID, rhsOK := frame.find(h.RHSName)
		if !lhsOK {
			continue
		}
		if rhsOK {
			aliasID := provenance.StableID(b.salt, "alias:assign", b.path, b.blobSHA, lhsID, rhsID)
			b.aliases = append(b.aliases, rows.AliasRow{
				ID:             aliasID,
				AliasKind:      rows.AliasAssign,
				AliasID:        lhsID,
				TargetSymbolID: rhsID,
				AliasName:      h.LHSName,
				Prov:           b.tmpl.WithSpan(0, 0, 1, 1),
			})
			continue
		}
		reason, _ := json.Marshal(map[string]string{"reason": "rhs name unresolved in this file"})
		aliasID := provenance.StableID(b.salt, "alias:dynamic", b.path, b.blobSHA, lhsID, h.RHSName)
		b.aliases = append(b.aliases, rows.AliasRow{
			ID:        aliasID,
			AliasKind: rows.AliasDynamic,
			AliasID:   lhsID,
			AliasName: h.LHSName,
			AttrsJSON: string(reason),
			Prov:      b.tmpl.WithSpan(0, 0, 1, 1),
		})
	}
}

// indexScopes is only ever called after Run has finished walking the file,
// so b.scopeStack no longer reflects the live nesting; instead it builds a
// scope_id -> frame index from b.allFrames, which openScope appends to and
// closeScope never trims.
func (b *Builder) indexScopes(out map[string]*scopeFrame) {
	for _, f := range b.allFrames {
		out[f.id] = f
	}
}

func (b *Builder) checkBudget(ev cstevent.Event, now int64) bool {
	b.symCount++
	if b.symCount <= b.limits.MaxSymbols {
		return true
	}
	if b.sink == nil {
		return false
	}
	start, end := ev.ByteStart, ev.ByteEnd
	b.sink.Record(rows.AnomalyRow{
		Path:      b.path,
		BlobSHA:   b.blobSHA,
		Kind:      rows.AnomalyMemoryLimit,
		Severity:  rows.SevError,
		Detail:    "symbols: per-file symbol cap exceeded",
		SpanStart: &start,
		SpanEnd:   &end,
	}, now)
	return false
}

func itoaU(v uint32) string {
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
