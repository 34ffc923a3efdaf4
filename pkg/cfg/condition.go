package cfg

import (
	"encoding/json"

	"github.com/hatlesswizard/ucg/pkg/cstevent"
	"github.com/hatlesswizard/ucg/pkg/langadapter"
	"github.com/hatlesswizard/ucg/pkg/rows"
)

// maxGuardTokens bounds how many tokens after a predicate's own ENTER event
// are considered part of its guard expression, per the simplification noted
// on guardCollector below.
const maxGuardTokens = 24

// guardCollector accumulates a cheap summary of an if/while/for predicate's
// condition — the variables it reads and whether it is negated — from the
// token stream alone. This adapts the teacher's condition extractor
// (pkg/semantic/condition/extractor.go), which works over raw source text
// lines with regexes to classify a condition and list the variables it
// references, into a bounded token window over identifier text instead of a
// full-text regex pass; it is strictly less precise than the teacher's
// extractor (it cannot classify null-check vs. length-check vs. comparison,
// and it has no language-aware keyword filter), but recovers the same two
// facts spec.md asks the CFG to carry: which names a branch's predicate
// depends on, and whether the branch reads as negated.
type guardCollector struct {
	blockIdx   int // index into funcGraph.blocks of the predicate block
	vars       []string
	seen       map[string]bool
	negated    bool
	tokensLeft int
}

func newGuardCollector(blockIdx int) *guardCollector {
	return &guardCollector{blockIdx: blockIdx, seen: make(map[string]bool), tokensLeft: maxGuardTokens}
}

func (g *guardCollector) feed(adapter *langadapter.Adapter, ev cstevent.Event) {
	if g.tokensLeft <= 0 {
		return
	}
	g.tokensLeft--
	switch {
	case ev.Text == "!" || ev.Text == "not":
		g.negated = true
	case adapter.IsIdentifierToken(ev.Type):
		if !g.seen[ev.Text] {
			g.seen[ev.Text] = true
			g.vars = append(g.vars, ev.Text)
		}
	}
}

type guardAttrs struct {
	GuardExpression string   `json:"guard_expression"`
	GuardVars       []string `json:"guard_vars"`
	Negated         bool     `json:"negated"`
}

// closeGuard finalizes frame's guard collector, if any, and patches the
// owning predicate block's AttrsJSON in place. Blocks are appended to
// fg.blocks by value (newBlock), so the patch happens by index rather than
// through a pointer.
func (b *Builder) closeGuard(fg *funcGraph, frame *branchFrame) {
	g := frame.guard
	frame.guard = nil
	if g == nil || len(g.vars) == 0 || g.blockIdx < 0 || g.blockIdx >= len(fg.blocks) {
		return
	}
	expr := joinGuardVars(g.vars)
	if g.negated {
		expr = "!" + expr
	}
	attrs, err := json.Marshal(guardAttrs{GuardExpression: expr, GuardVars: g.vars, Negated: g.negated})
	if err != nil {
		return
	}
	row := fg.blocks[g.blockIdx]
	if row.Kind != rows.CFGPredicate {
		return
	}
	row.AttrsJSON = string(attrs)
	fg.blocks[g.blockIdx] = row
}

func joinGuardVars(vars []string) string {
	out := vars[0]
	for _, v := range vars[1:] {
		out += " && " + v
	}
	return out
}
