package cfg

import (
	"testing"

	"github.com/hatlesswizard/ucg/pkg/anomaly"
	"github.com/hatlesswizard/ucg/pkg/cstevent"
	"github.com/hatlesswizard/ucg/pkg/langadapter"
	"github.com/hatlesswizard/ucg/pkg/provenance"
	"github.com/hatlesswizard/ucg/pkg/rows"
)

func tmpl() provenance.Template {
	return provenance.NewTemplate("t.py", "deadbeef", "python", "grammar-1", "run-1", "cfg-1", nil)
}

func ev(kind cstevent.EventKind, typ string, start, end uint32) cstevent.Event {
	return cstevent.Event{Kind: kind, Type: typ, Text: typ, ByteStart: start, ByteEnd: end, LineStart: 1, LineEnd: 1}
}

func tok(typ, text string, start, end uint32) cstevent.Event {
	return cstevent.Event{Kind: cstevent.Token, Type: typ, Text: text, ByteStart: start, ByteEnd: end, LineStart: 1, LineEnd: 1}
}

// k(c):
//     if c:
//         return 1
//     return 2
func ifMergeEvents() []cstevent.Event {
	return []cstevent.Event{
		ev(cstevent.Enter, "function_definition", 0, 60),
		ev(cstevent.Enter, "parameters", 5, 8),
		tok("identifier", "c", 6, 7),
		ev(cstevent.Exit, "parameters", 5, 8),
		ev(cstevent.Enter, "if_statement", 14, 40),
		tok("identifier", "c", 17, 18),
		ev(cstevent.Enter, "return_statement", 25, 34),
		ev(cstevent.Exit, "return_statement", 25, 34),
		ev(cstevent.Exit, "if_statement", 14, 40),
		ev(cstevent.Enter, "return_statement", 41, 50),
		ev(cstevent.Exit, "return_statement", 41, 50),
		ev(cstevent.Exit, "function_definition", 0, 60),
	}
}

func TestCFGIfMerge(t *testing.T) {
	adapter := langadapter.NewRegistry().Get("python")
	b := New(adapter, tmpl(), anomaly.NewSink(anomaly.NewMetrics(), nil), []byte("salt"), "t.py", "deadbeef", DefaultLimits())

	res := b.Run(ifMergeEvents(), 0)

	var predicates, bodies, entries, exits int
	for _, blk := range res.Blocks {
		switch blk.Kind {
		case rows.CFGPredicate:
			predicates++
		case rows.CFGBody:
			bodies++
		case rows.CFGEntry:
			entries++
		case rows.CFGExit:
			exits++
		}
	}
	if predicates != 1 {
		t.Errorf("expected exactly 1 predicate block, got %d", predicates)
	}
	if bodies != 2 {
		t.Errorf("expected exactly 2 body arms, got %d", bodies)
	}
	if entries != 1 || exits != 1 {
		t.Errorf("expected exactly 1 entry and 1 exit block, got entries=%d exits=%d", entries, exits)
	}

	var trueEdges, falseEdges, returnEdges int
	exitID := ""
	for _, blk := range res.Blocks {
		if blk.Kind == rows.CFGExit {
			exitID = blk.ID
		}
	}
	for _, e := range res.Edges {
		switch e.Kind {
		case rows.CFGTrue:
			trueEdges++
		case rows.CFGFalse:
			falseEdges++
		case rows.CFGReturn:
			returnEdges++
			if e.DstBlockID != exitID {
				t.Errorf("RETURN edge must target EXIT, got dst=%s want=%s", e.DstBlockID, exitID)
			}
		}
	}
	if trueEdges != 1 {
		t.Errorf("expected exactly 1 TRUE edge, got %d", trueEdges)
	}
	if falseEdges != 1 {
		t.Errorf("expected exactly 1 FALSE edge, got %d", falseEdges)
	}
	if returnEdges != 2 {
		t.Errorf("expected exactly 2 RETURN edges (one per arm), got %d", returnEdges)
	}
}

// h(): pass  -- trivial function, no control constructs, no return.
func TestCFGTrivialFunctionReachesExit(t *testing.T) {
	adapter := langadapter.NewRegistry().Get("python")
	b := New(adapter, tmpl(), anomaly.NewSink(anomaly.NewMetrics(), nil), []byte("salt"), "t.py", "deadbeef", DefaultLimits())

	events := []cstevent.Event{
		ev(cstevent.Enter, "function_definition", 0, 20),
		ev(cstevent.Enter, "parameters", 5, 7),
		ev(cstevent.Exit, "parameters", 5, 7),
		ev(cstevent.Exit, "function_definition", 0, 20),
	}
	res := b.Run(events, 0)

	var entryID, exitID string
	for _, blk := range res.Blocks {
		switch blk.Kind {
		case rows.CFGEntry:
			entryID = blk.ID
		case rows.CFGExit:
			exitID = blk.ID
		}
	}
	found := false
	for _, e := range res.Edges {
		if e.Kind == rows.CFGNext && e.SrcBlockID == entryID && e.DstBlockID == exitID {
			found = true
		}
	}
	if !found {
		t.Error("expected a NEXT edge directly from ENTRY to EXIT for a function with no control flow")
	}
}

// Functions left open at EOF still get a synthesized EXIT connection.
func TestCFGUnfinishedFunctionAtEOF(t *testing.T) {
	adapter := langadapter.NewRegistry().Get("python")
	b := New(adapter, tmpl(), anomaly.NewSink(anomaly.NewMetrics(), nil), []byte("salt"), "t.py", "deadbeef", DefaultLimits())

	events := []cstevent.Event{
		ev(cstevent.Enter, "function_definition", 0, 20),
	}
	res := b.Run(events, 0)

	if len(res.Blocks) != 2 {
		t.Fatalf("expected entry+exit blocks to be synthesized, got %d blocks", len(res.Blocks))
	}
	if len(res.Edges) != 1 || res.Edges[0].Kind != rows.CFGNext {
		t.Fatalf("expected a single synthesized NEXT edge, got %+v", res.Edges)
	}
}
