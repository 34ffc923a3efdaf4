// Package normalizer implements the structural builder of spec.md §4.2: it
// streams CST events into NodeRow/EdgeRow tuples, maintaining a scope stack
// and a pending-construct stack the way the teacher's AST walkers
// (pkg/ast/extractor.go, pkg/semantic/analyzer/interface.go) maintain explicit
// traversal state instead of relying on recursion, so memory is bounded and a
// pathological file can be aborted early.
package normalizer

import (
	"encoding/json"
	"fmt"

	"github.com/hatlesswizard/ucg/pkg/anomaly"
	"github.com/hatlesswizard/ucg/pkg/cstevent"
	"github.com/hatlesswizard/ucg/pkg/langadapter"
	"github.com/hatlesswizard/ucg/pkg/provenance"
	"github.com/hatlesswizard/ucg/pkg/rows"
)

// Limits bounds the Normalizer's stacks, per spec.md §4.2 "Failure recovery".
type Limits struct {
	MaxScopeDepth        int
	MaxPendingConstructs int
	// NameProximityBytes bounds how far past a construct's start a TOKEN may
	// land and still be eligible to fill that construct's name.
	NameProximityBytes uint32
}

// DefaultLimits mirrors the conservative defaults the teacher's Cache type
// uses for its own resource bounds (pkg/parser/cache.go).
func DefaultLimits() Limits {
	return Limits{MaxScopeDepth: 512, MaxPendingConstructs: 8192, NameProximityBytes: 64}
}

type scopeFrame struct {
	id        string
	kind      rows.NodeKind
	byteStart uint32
	name      string
}

type pendingConstruct struct {
	nodeType   string
	byteStart  uint32
	byteEnd    uint32
	lineStart  uint32
	lineEnd    uint32
	wantsName  bool
	nameFilled bool
	name       string
	isScope    bool
	scopeID    string
	scopeKind  rows.NodeKind
	isCall     bool
	isImport   bool
	isExport   bool
	isDecorator bool
	qualifiedParts []string // identifier-dot sequence seen inside this construct
}

// Normalizer is single-file, single-use: construct one per file, call Run
// once, and read Nodes/Edges/Anomalies off the result.
type Normalizer struct {
	adapter *langadapter.Adapter
	tmpl    provenance.Template
	sink    *anomaly.Sink
	salt    []byte
	path    string
	blobSHA string
	limits  Limits

	scopeStack []*scopeFrame
	pendStack  []*pendingConstruct

	// pendingDecorators awaits the next scope to open so it can receive a
	// DECORATES edge, per spec.md §4.2 "Decorators".
	pendingDecorators []rows.NodeRow

	fileNodeID string

	nodes []rows.NodeRow
	edges []rows.EdgeRow

	aborted bool
}

// New constructs a Normalizer for one file.
func New(adapter *langadapter.Adapter, tmpl provenance.Template, sink *anomaly.Sink, salt []byte, path, blobSHA string, limits Limits) *Normalizer {
	return &Normalizer{
		adapter: adapter,
		tmpl:    tmpl,
		sink:    sink,
		salt:    salt,
		path:    path,
		blobSHA: blobSHA,
		limits:  limits,
	}
}

// Result is what Run returns.
type Result struct {
	Nodes []rows.NodeRow
	Edges []rows.EdgeRow
}

// Run streams events through the Normalizer and returns the emitted rows.
// events is assumed already validated (cstevent.Validate) by the caller.
func (n *Normalizer) Run(events []cstevent.Event, fileSize uint32, now int64) Result {
	n.emitFileNode(fileSize)

	for _, ev := range events {
		if n.aborted {
			break
		}
		switch ev.Kind {
		case cstevent.Enter:
			n.onEnter(ev)
		case cstevent.Token:
			n.onToken(ev)
		case cstevent.Exit:
			n.onExit(ev)
		}
	}

	if !n.aborted {
		n.synthesizeUnclosed(fileSize)
	}

	return Result{Nodes: n.nodes, Edges: n.edges}
}

func (n *Normalizer) emitFileNode(fileSize uint32) {
	id := provenance.ScopeID(n.salt, n.path, n.blobSHA, 0)
	n.fileNodeID = id
	row := rows.NodeRow{
		ID:   id,
		Kind: rows.NodeFile,
		Name: n.path,
		Path: n.path,
		Lang: n.adapter.Language(),
		Prov: n.tmpl.WithSpan(0, fileSize, 1, 1),
	}
	n.nodes = append(n.nodes, row)
	n.scopeStack = append(n.scopeStack, &scopeFrame{id: id, kind: rows.NodeFile, byteStart: 0})
}

func (n *Normalizer) onEnter(ev cstevent.Event) {
	if len(n.pendStack) >= n.limits.MaxPendingConstructs || len(n.scopeStack) >= n.limits.MaxScopeDepth {
		n.abort(ev, "pending-construct or scope-depth limit exceeded")
		return
	}

	pc := &pendingConstruct{
		nodeType:  ev.Type,
		byteStart: ev.ByteStart,
		lineStart: ev.LineStart,
	}

	switch {
	case n.adapter.IsModule(ev.Type):
		pc.isScope = true
		pc.scopeKind = rows.NodeModule
	case n.adapter.IsClass(ev.Type):
		pc.isScope = true
		pc.scopeKind = rows.NodeClass
		pc.wantsName = true
	case n.adapter.IsFunction(ev.Type):
		pc.isScope = true
		pc.scopeKind = rows.NodeFunction
		pc.wantsName = true
	case n.adapter.IsCall(ev.Type):
		pc.isCall = true
		pc.wantsName = true
	case n.adapter.IsImport(ev.Type):
		pc.isImport = true
	case n.adapter.IsExport(ev.Type):
		pc.isExport = true
	case n.adapter.IsDecorator(ev.Type):
		pc.isDecorator = true
		pc.wantsName = true
	}

	if pc.isScope {
		id := provenance.ScopeID(n.salt, n.path, n.blobSHA, ev.ByteStart)
		pc.scopeID = id
		n.scopeStack = append(n.scopeStack, &scopeFrame{id: id, kind: pc.scopeKind, byteStart: ev.ByteStart})
		n.drainPendingDecorators(id)
	}

	n.pendStack = append(n.pendStack, pc)
}

// onToken fills the name of whichever pending construct is entitled to claim
// this token. Per spec.md §4.2's tie-break rule, when more than one open
// construct still wants a name, the construct lowest on the pending stack
// (pushed earliest — i.e. the outermost of the contending constructs) wins.
// Each named, import or export construct the walk passes on its way to the
// claimant (all of them, when none claims) also records the identifier in
// its qualified-name window.
func (n *Normalizer) onToken(ev cstevent.Event) {
	isIdent := n.adapter.IsIdentifierToken(ev.Type)

	for _, pc := range n.pendStack {
		if !pc.wantsName && !pc.isImport && !pc.isExport {
			continue
		}
		if isIdent {
			// Qualified-name reconstruction window: accumulate every
			// identifier-dot token seen while this construct is open so call
			// callees and decorator carriers can be rebuilt best-effort.
			pc.qualifiedParts = append(pc.qualifiedParts, ev.Text)
		}
		if pc.wantsName && !pc.nameFilled && isIdent && withinProximity(pc.byteStart, ev.ByteStart, n.limits.NameProximityBytes) {
			pc.name = ev.Text
			pc.nameFilled = true
			break // lowest (outermost, first-pushed-and-still-open) unnamed construct wins the claim
		}
	}
}

func withinProximity(constructStart, tokenStart, proximity uint32) bool {
	if tokenStart < constructStart {
		return false
	}
	return tokenStart-constructStart <= proximity
}

func (n *Normalizer) onExit(ev cstevent.Event) {
	if len(n.pendStack) == 0 {
		return
	}
	pc := n.pendStack[len(n.pendStack)-1]
	n.pendStack = n.pendStack[:len(n.pendStack)-1]
	pc.byteEnd = ev.ByteEnd
	pc.lineEnd = ev.LineEnd

	switch {
	case pc.isScope:
		n.finalizeScope(pc)
	case pc.isDecorator:
		n.finalizeDecorator(pc)
	case pc.isImport:
		n.finalizeImport(pc)
	case pc.isExport:
		n.finalizeExport(pc)
	case pc.isCall:
		n.finalizeCall(pc)
	}
}

func (n *Normalizer) finalizeScope(pc *pendingConstruct) {
	if len(n.scopeStack) == 0 {
		return
	}
	frame := n.scopeStack[len(n.scopeStack)-1]
	n.scopeStack = n.scopeStack[:len(n.scopeStack)-1]
	parent := n.scopeStack[len(n.scopeStack)-1]

	frame.name = pc.name
	row := rows.NodeRow{
		ID:   frame.id,
		Kind: frame.kind,
		Name: pc.name,
		Path: n.path,
		Lang: n.adapter.Language(),
		Prov: n.tmpl.WithSpan(pc.byteStart, pc.byteEnd, pc.lineStart, pc.lineEnd),
	}
	n.nodes = append(n.nodes, row)
	n.emitEdge(rows.EdgeDefines, parent.id, frame.id, pc.byteStart)
}

func (n *Normalizer) enclosingFunctionOrFile() string {
	for i := len(n.scopeStack) - 1; i >= 0; i-- {
		if n.scopeStack[i].kind == rows.NodeFunction {
			return n.scopeStack[i].id
		}
	}
	return n.fileNodeID
}

func (n *Normalizer) emitEdge(kind rows.EdgeKind, src, dst string, anchor uint32) {
	id := provenance.EdgeID(n.salt, n.path, n.blobSHA, string(kind), src, dst, anchor)
	n.edges = append(n.edges, rows.EdgeRow{
		ID:    id,
		Kind:  kind,
		SrcID: src,
		DstID: dst,
		Path:  n.path,
		Lang:  n.adapter.Language(),
		Prov:  n.tmpl.WithSpan(anchor, anchor, 1, 1),
	})
}

func (n *Normalizer) abort(ev cstevent.Event, detail string) {
	n.aborted = true
	if n.sink == nil {
		return
	}
	start, end := ev.ByteStart, ev.ByteEnd
	n.sink.Record(rows.AnomalyRow{
		Path:      n.path,
		BlobSHA:   n.blobSHA,
		Kind:      rowsMemoryLimit(),
		Severity:  "error",
		Detail:    fmt.Sprintf("normalizer: %s", detail),
		SpanStart: &start,
		SpanEnd:   &end,
	}, 0)
}

// synthesizeUnclosed closes any scope still open at EOF, per spec.md §4.2
// "if the stream ends with open scopes, synthesize EXIT spans at file size
// and emit synthetic NodeRow/DEFINES edges with an attribute synthetic=true."
func (n *Normalizer) synthesizeUnclosed(fileSize uint32) {
	// Any construct left on pendStack never reached EXIT; treat it the same
	// way as a scope that needs a synthetic close.
	for len(n.pendStack) > 0 {
		pc := n.pendStack[len(n.pendStack)-1]
		n.pendStack = n.pendStack[:len(n.pendStack)-1]
		if !pc.isScope {
			continue
		}
		pc.byteEnd = fileSize
		pc.lineEnd = pc.lineStart
		n.finalizeScopeSynthetic(pc)
	}
}

func (n *Normalizer) finalizeScopeSynthetic(pc *pendingConstruct) {
	if len(n.scopeStack) == 0 {
		return
	}
	frame := n.scopeStack[len(n.scopeStack)-1]
	n.scopeStack = n.scopeStack[:len(n.scopeStack)-1]
	if len(n.scopeStack) == 0 {
		return
	}
	parent := n.scopeStack[len(n.scopeStack)-1]

	attrs, _ := json.Marshal(map[string]bool{"synthetic": true})
	row := rows.NodeRow{
		ID:        frame.id,
		Kind:      frame.kind,
		Name:      pc.name,
		Path:      n.path,
		Lang:      n.adapter.Language(),
		AttrsJSON: string(attrs),
		Prov:      n.tmpl.WithSpan(pc.byteStart, pc.byteEnd, pc.lineStart, pc.lineEnd),
	}
	n.nodes = append(n.nodes, row)
	n.emitEdge(rows.EdgeDefines, parent.id, frame.id, pc.byteStart)
}

// rowsMemoryLimit avoids importing rows twice under two names; kept as a
// helper so callers read like the rest of the anomaly taxonomy.
func rowsMemoryLimit() rows.AnomalyKind { return rows.AnomalyMemoryLimit }
