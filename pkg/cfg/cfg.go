// Package cfg implements the per-function control-flow graph builder of
// spec.md §4.3: it streams the same CST event sequence the Normalizer sees
// and produces CFGBlockRow/CFGEdgeRow tuples, opening a new function's graph
// on ENTER of a function node and closing it on the matching EXIT, the same
// explicit-stack discipline the teacher's AST walkers use (pkg/ast/extractor.go)
// rather than recursing into nested constructs.
package cfg

import (
	"encoding/json"
	"fmt"

	"github.com/hatlesswizard/ucg/pkg/anomaly"
	"github.com/hatlesswizard/ucg/pkg/cstevent"
	"github.com/hatlesswizard/ucg/pkg/langadapter"
	"github.com/hatlesswizard/ucg/pkg/provenance"
	"github.com/hatlesswizard/ucg/pkg/rows"
)

// Limits bounds the per-function block count, per spec.md §4.3 "Guardrails".
type Limits struct {
	MaxBlocksPerFunction int
}

// DefaultLimits mirrors the Normalizer's conservative resource bounds.
func DefaultLimits() Limits {
	return Limits{MaxBlocksPerFunction: 4096}
}

// branchKind tags what kind of control construct opened a branchFrame.
type branchKind int

const (
	branchIf branchKind = iota
	branchLoop
	branchTry
)

// branchFrame tracks the open control construct's CFG state while its
// nested events are being processed.
type branchFrame struct {
	kind      branchKind
	predicate string // if/switch/while/for: the predicate block ID
	trueArm   string // if/switch: the eagerly-created true arm; while/for: loop body
	tryBody   string // try: the body block active when the try was entered

	guard *guardCollector // if/while/for: guard-token collection in progress, nil once closed
}

// funcGraph is the open CFG state for one function.
type funcGraph struct {
	funcID    string
	entryID   string
	exitID    string
	current   string
	nextIndex int

	blocks []rows.CFGBlockRow
	edges  []rows.CFGEdgeRow

	branchStack []*branchFrame

	aborted bool
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

	funcStack []*funcGraph

	blocks []rows.CFGBlockRow
	edges  []rows.CFGEdgeRow
}

// New constructs a CFG Builder for one file.
func New(adapter *langadapter.Adapter, tmpl provenance.Template, sink *anomaly.Sink, salt []byte, path, blobSHA string, limits Limits) *Builder {
	return &Builder{adapter: adapter, tmpl: tmpl, sink: sink, salt: salt, path: path, blobSHA: blobSHA, limits: limits}
}

// Result is what Run returns.
type Result struct {
	Blocks []rows.CFGBlockRow
	Edges  []rows.CFGEdgeRow
}

// Run streams already-validated events through the builder.
func (b *Builder) Run(events []cstevent.Event, now int64) Result {
	for _, ev := range events {
		switch ev.Kind {
		case cstevent.Enter:
			b.onEnter(ev, now)
		case cstevent.Token:
			b.onToken(ev)
		case cstevent.Exit:
			b.onExit(ev, now)
		}
	}
	// EOF: any function still open gets a synthesized EXIT connection, per
	// spec.md §4.3 "Unfinished functions at EOF get synthesized EXITs and a
	// NEXT edge from the then-current block."
	for len(b.funcStack) > 0 {
		fg := b.funcStack[len(b.funcStack)-1]
		b.funcStack = b.funcStack[:len(b.funcStack)-1]
		b.finishFunction(fg)
	}
	return Result{Blocks: b.blocks, Edges: b.edges}
}

func (b *Builder) top() *funcGraph {
	if len(b.funcStack) == 0 {
		return nil
	}
	return b.funcStack[len(b.funcStack)-1]
}

func (b *Builder) onEnter(ev cstevent.Event, now int64) {
	switch {
	case b.adapter.IsFunction(ev.Type):
		b.openFunction(ev, now)
	case b.adapter.IsIf(ev.Type), b.adapter.IsSwitch(ev.Type):
		b.enterBranch(ev, now)
	case b.adapter.IsWhile(ev.Type), b.adapter.IsFor(ev.Type):
		b.enterLoop(ev, now)
	case b.adapter.IsTry(ev.Type):
		b.enterTry(ev, now)
	}
}

func (b *Builder) onExit(ev cstevent.Event, now int64) {
	switch {
	case b.adapter.IsFunction(ev.Type):
		b.closeFunction(ev)
	case b.adapter.IsReturn(ev.Type):
		b.exitReturn(ev, now)
	case b.adapter.IsThrow(ev.Type):
		b.exitThrow(ev, now)
	case b.adapter.IsIf(ev.Type), b.adapter.IsSwitch(ev.Type):
		b.exitBranch(ev, now)
	case b.adapter.IsWhile(ev.Type), b.adapter.IsFor(ev.Type):
		b.exitLoop(ev, now)
	case b.adapter.IsTry(ev.Type):
		b.exitTry(ev, now)
	}
}

// onToken feeds the innermost open branch's guard collector, if any is still
// accepting tokens. See condition.go.
func (b *Builder) onToken(ev cstevent.Event) {
	fg := b.top()
	if fg == nil || len(fg.branchStack) == 0 {
		return
	}
	frame := fg.branchStack[len(fg.branchStack)-1]
	if frame.guard != nil {
		frame.guard.feed(b.adapter, ev)
	}
}

func (b *Builder) openFunction(ev cstevent.Event, now int64) {
	funcID := provenance.ScopeID(b.salt, b.path, b.blobSHA, ev.ByteStart)
	fg := &funcGraph{funcID: funcID}
	entry := b.newBlock(fg, rows.CFGEntry, "entry", ev, now)
	exit := b.newBlock(fg, rows.CFGExit, "exit", ev, now)
	fg.entryID = entry
	fg.exitID = exit
	fg.current = entry
	b.funcStack = append(b.funcStack, fg)
}

func (b *Builder) closeFunction(ev cstevent.Event) {
	if len(b.funcStack) == 0 {
		return
	}
	fg := b.funcStack[len(b.funcStack)-1]
	b.funcStack = b.funcStack[:len(b.funcStack)-1]
	b.finishFunction(fg)
}

// finishFunction wires any still-live current block into EXIT and flushes
// the function's blocks/edges into the builder's output.
func (b *Builder) finishFunction(fg *funcGraph) {
	if fg.current != fg.exitID && fg.current != "" {
		b.edge(fg, rows.CFGNext, fg.current, fg.exitID, 0)
	}
	b.blocks = append(b.blocks, fg.blocks...)
	b.edges = append(b.edges, fg.edges...)
}

func (b *Builder) newBlock(fg *funcGraph, kind rows.CFGBlockKind, tag string, ev cstevent.Event, now int64) string {
	if fg.nextIndex >= b.limits.MaxBlocksPerFunction {
		b.recordOverflow(fg, ev, now)
		return fg.exitID
	}
	index := fg.nextIndex
	fg.nextIndex++
	id := provenance.CFGBlockID(b.salt, b.path, b.blobSHA, fg.funcID, index, tag)
	row := rows.CFGBlockRow{
		ID:     id,
		FuncID: fg.funcID,
		Kind:   kind,
		Index:  index,
		Path:   b.path,
		Lang:   b.adapter.Language(),
		Prov:   b.tmpl.WithSpan(ev.ByteStart, ev.ByteStart, ev.LineStart, ev.LineStart),
	}
	fg.blocks = append(fg.blocks, row)
	return id
}

func (b *Builder) edge(fg *funcGraph, kind rows.CFGEdgeKind, src, dst string, anchor uint32) {
	id := provenance.CFGEdgeID(b.salt, b.path, b.blobSHA, fg.funcID, string(kind), src, dst)
	fg.edges = append(fg.edges, rows.CFGEdgeRow{
		ID:         id,
		FuncID:     fg.funcID,
		Kind:       kind,
		SrcBlockID: src,
		DstBlockID: dst,
		Prov:       b.tmpl.WithSpan(anchor, anchor, 1, 1),
	})
}

// continueTo connects fg.current to next with a NEXT edge unless current has
// already terminated (reached EXIT via a RETURN/EXCEPTION edge), then makes
// next the new current block.
func (b *Builder) continueTo(fg *funcGraph, next string) {
	if fg.current != fg.exitID && fg.current != "" {
		b.edge(fg, rows.CFGNext, fg.current, next, 0)
	}
	fg.current = next
}

func (b *Builder) enterBranch(ev cstevent.Event, now int64) {
	fg := b.top()
	if fg == nil {
		return
	}
	predicate := b.newBlock(fg, rows.CFGPredicate, "predicate", ev, now)
	predicateIdx := len(fg.blocks) - 1
	b.continueTo(fg, predicate)
	trueArm := b.newBlock(fg, rows.CFGBody, "true_arm", ev, now)
	b.edge(fg, rows.CFGTrue, predicate, trueArm, ev.ByteStart)
	fg.current = trueArm
	fg.branchStack = append(fg.branchStack, &branchFrame{
		kind: branchIf, predicate: predicate, trueArm: trueArm,
		guard: newGuardCollector(predicateIdx),
	})
}

// exitBranch creates the false arm, which doubles as the merge/continuation
// block per spec.md §4.3: if the true arm already reached EXIT (terminated
// by a return/throw), no merge edge is needed; otherwise the true arm's live
// tail is folded into the false arm via a NEXT edge. This is a deliberate
// simplification of explicit else/alternative clauses, since the event
// contract carries no consequence/alternative role distinction.
func (b *Builder) exitBranch(ev cstevent.Event, now int64) {
	fg := b.top()
	if fg == nil || len(fg.branchStack) == 0 {
		return
	}
	frame := fg.branchStack[len(fg.branchStack)-1]
	fg.branchStack = fg.branchStack[:len(fg.branchStack)-1]
	b.closeGuard(fg, frame)

	falseArm := b.newBlock(fg, rows.CFGBody, "false_arm", ev, now)
	b.edge(fg, rows.CFGFalse, frame.predicate, falseArm, ev.ByteStart)
	if fg.current != fg.exitID {
		b.edge(fg, rows.CFGNext, fg.current, falseArm, ev.ByteStart)
	}
	fg.current = falseArm
}

func (b *Builder) enterLoop(ev cstevent.Event, now int64) {
	fg := b.top()
	if fg == nil {
		return
	}
	predicate := b.newBlock(fg, rows.CFGPredicate, "loop_predicate", ev, now)
	predicateIdx := len(fg.blocks) - 1
	b.continueTo(fg, predicate)
	body := b.newBlock(fg, rows.CFGBody, "loop_body", ev, now)
	b.edge(fg, rows.CFGTrue, predicate, body, ev.ByteStart)
	fg.current = body
	fg.branchStack = append(fg.branchStack, &branchFrame{
		kind: branchLoop, predicate: predicate, trueArm: body,
		guard: newGuardCollector(predicateIdx),
	})
}

func (b *Builder) exitLoop(ev cstevent.Event, now int64) {
	fg := b.top()
	if fg == nil || len(fg.branchStack) == 0 {
		return
	}
	frame := fg.branchStack[len(fg.branchStack)-1]
	fg.branchStack = fg.branchStack[:len(fg.branchStack)-1]
	b.closeGuard(fg, frame)

	if fg.current != fg.exitID {
		b.edge(fg, rows.CFGNext, fg.current, frame.predicate, ev.ByteStart) // back-edge
	}
	after := b.newBlock(fg, rows.CFGBody, "after_loop", ev, now)
	b.edge(fg, rows.CFGFalse, frame.predicate, after, ev.ByteStart)
	fg.current = after
}

func (b *Builder) enterTry(ev cstevent.Event, now int64) {
	fg := b.top()
	if fg == nil {
		return
	}
	tryBody := b.newBlock(fg, rows.CFGBody, "try_body", ev, now)
	b.continueTo(fg, tryBody)
	fg.branchStack = append(fg.branchStack, &branchFrame{kind: branchTry, tryBody: tryBody})
}

func (b *Builder) exitTry(ev cstevent.Event, now int64) {
	fg := b.top()
	if fg == nil || len(fg.branchStack) == 0 {
		return
	}
	frame := fg.branchStack[len(fg.branchStack)-1]
	fg.branchStack = fg.branchStack[:len(fg.branchStack)-1]

	handler := b.newBlock(fg, rows.CFGHandler, "handler", ev, now)
	b.edge(fg, rows.CFGException, frame.tryBody, handler, ev.ByteStart)
	after := b.newBlock(fg, rows.CFGBody, "after_try", ev, now)
	b.edge(fg, rows.CFGNext, handler, after, ev.ByteStart)
	if fg.current != fg.exitID {
		b.edge(fg, rows.CFGNext, fg.current, after, ev.ByteStart)
	}
	fg.current = after
}

func (b *Builder) exitReturn(ev cstevent.Event, now int64) {
	fg := b.top()
	if fg == nil || fg.current == fg.exitID {
		return
	}
	b.edge(fg, rows.CFGReturn, fg.current, fg.exitID, ev.ByteStart)
	fg.current = fg.exitID
}

func (b *Builder) exitThrow(ev cstevent.Event, now int64) {
	fg := b.top()
	if fg == nil || fg.current == fg.exitID {
		return
	}
	b.edge(fg, rows.CFGException, fg.current, fg.exitID, ev.ByteStart)
	fg.current = fg.exitID
}

// recordOverflow emits a MEMORY_LIMIT anomaly and freezes current at the
// function's existing EXIT block so subsequent events for this function stop
// allocating new blocks. No separate overflow block is created.
func (b *Builder) recordOverflow(fg *funcGraph, ev cstevent.Event, now int64) {
	if fg.aborted {
		return
	}
	fg.aborted = true
	fg.current = fg.exitID
	if b.sink == nil {
		return
	}
	start, end := ev.ByteStart, ev.ByteEnd
	attrs, _ := json.Marshal(map[string]string{"func_id": fg.funcID})
	b.sink.Record(rows.AnomalyRow{
		Path:      b.path,
		BlobSHA:   b.blobSHA,
		Kind:      rows.AnomalyMemoryLimit,
		Severity:  rows.SevError,
		Detail:    fmt.Sprintf("cfg: per-function block cap exceeded: %s", string(attrs)),
		SpanStart: &start,
		SpanEnd:   &end,
	}, now)
}
