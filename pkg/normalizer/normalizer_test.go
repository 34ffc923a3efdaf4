package normalizer

import (
	"testing"

	"github.com/hatlesswizard/ucg/pkg/anomaly"
	"github.com/hatlesswizard/ucg/pkg/cstevent"
	"github.com/hatlesswizard/ucg/pkg/langadapter"
	"github.com/hatlesswizard/ucg/pkg/provenance"
	"github.com/hatlesswizard/ucg/pkg/rows"
)

func tmpl() provenance.Template {
	return provenance.NewTemplate("t.py", "deadbeef", "python", "grammar-1", "run-1", "norm-1", nil)
}

func ev(kind cstevent.EventKind, typ string, start, end uint32) cstevent.Event {
	return cstevent.Event{Kind: kind, Type: typ, Text: typ, ByteStart: start, ByteEnd: end, LineStart: 1, LineEnd: 1}
}

func tok(typ, text string, start, end uint32) cstevent.Event {
	return cstevent.Event{Kind: cstevent.Token, Type: typ, Text: text, ByteStart: start, ByteEnd: end, LineStart: 1, LineEnd: 1}
}

func newNormalizer() *Normalizer {
	adapter := langadapter.NewRegistry().Get("python")
	return New(adapter, tmpl(), anomaly.NewSink(anomaly.NewMetrics(), nil), []byte("salt"), "t.py", "deadbeef", DefaultLimits())
}

func findNode(nodes []rows.NodeRow, kind rows.NodeKind, name string) (rows.NodeRow, bool) {
	for _, n := range nodes {
		if n.Kind == kind && n.Name == name {
			return n, true
		}
	}
	return rows.NodeRow{}, false
}

// class C:
//     def m(self): pass
func TestScopeClosureEmitsDefinesFromParent(t *testing.T) {
	n := newNormalizer()
	events := []cstevent.Event{
		ev(cstevent.Enter, "class_definition", 0, 40),
		tok("identifier", "C", 6, 7),
		ev(cstevent.Enter, "function_definition", 12, 38),
		tok("identifier", "m", 16, 17),
		ev(cstevent.Enter, "parameters", 17, 23),
		tok("identifier", "self", 18, 22),
		ev(cstevent.Exit, "parameters", 17, 23),
		ev(cstevent.Exit, "function_definition", 12, 38),
		ev(cstevent.Exit, "class_definition", 0, 40),
	}
	res := n.Run(events, 40, 0)

	classNode, ok := findNode(res.Nodes, rows.NodeClass, "C")
	if !ok {
		t.Fatal("expected a CLASS node named C")
	}
	funcNode, ok := findNode(res.Nodes, rows.NodeFunction, "m")
	if !ok {
		t.Fatal("expected a FUNCTION node named m")
	}

	fileNode, ok := findNode(res.Nodes, rows.NodeFile, "t.py")
	if !ok {
		t.Fatal("expected a FILE node")
	}

	seen := make(map[[2]string]bool)
	for _, e := range res.Edges {
		if e.Kind == rows.EdgeDefines {
			seen[[2]string{e.SrcID, e.DstID}] = true
		}
	}
	if !seen[[2]string{fileNode.ID, classNode.ID}] {
		t.Error("missing DEFINES edge from file to class")
	}
	if !seen[[2]string{classNode.ID, funcNode.ID}] {
		t.Error("missing DEFINES edge from class to function")
	}
}

// @router.post("/x")
// def h(): pass
//
// spec.md §8(e): an EFFECT_CARRIER node for the decorator with carrier
// "router.post", and a DECORATES edge from that node to the FUNCTION node.
func TestDecoratorWiresDecoratesEdgeToNextScope(t *testing.T) {
	n := newNormalizer()
	events := []cstevent.Event{
		ev(cstevent.Enter, "decorator", 0, 19),
		tok("identifier", "router", 1, 7),
		tok("identifier", "post", 8, 12),
		ev(cstevent.Enter, "call", 7, 19),
		tok("string", "\"/x\"", 13, 18),
		ev(cstevent.Exit, "call", 7, 19),
		ev(cstevent.Exit, "decorator", 0, 19),
		ev(cstevent.Enter, "function_definition", 20, 40),
		tok("identifier", "h", 24, 25),
		ev(cstevent.Enter, "parameters", 25, 27),
		ev(cstevent.Exit, "parameters", 25, 27),
		ev(cstevent.Exit, "function_definition", 20, 40),
	}
	res := n.Run(events, 40, 0)

	carrier, ok := findNode(res.Nodes, rows.NodeEffectCarrier, "router.post")
	if !ok {
		t.Fatalf("expected an EFFECT_CARRIER node named router.post, got nodes: %+v", res.Nodes)
	}
	funcNode, ok := findNode(res.Nodes, rows.NodeFunction, "h")
	if !ok {
		t.Fatal("expected a FUNCTION node named h")
	}

	found := false
	for _, e := range res.Edges {
		if e.Kind == rows.EdgeDecorates && e.SrcID == carrier.ID && e.DstID == funcNode.ID {
			found = true
		}
	}
	if !found {
		t.Error("expected a DECORATES edge from the decorator carrier to the function")
	}
}

// import foo as bar
func TestImportAliasExtractsBoundName(t *testing.T) {
	n := newNormalizer()
	events := []cstevent.Event{
		ev(cstevent.Enter, "import_statement", 0, 18),
		tok("identifier", "foo", 7, 10),
		tok("as", "as", 11, 13),
		tok("identifier", "bar", 14, 17),
		ev(cstevent.Exit, "import_statement", 0, 18),
	}
	res := n.Run(events, 18, 0)

	sym, ok := findNode(res.Nodes, rows.NodeSymbol, "bar")
	if !ok {
		t.Fatalf("expected a SYMBOL node named bar, got nodes: %+v", res.Nodes)
	}
	fileNode, _ := findNode(res.Nodes, rows.NodeFile, "t.py")

	found := false
	for _, e := range res.Edges {
		if e.Kind == rows.EdgeImports && e.SrcID == fileNode.ID && e.DstID == sym.ID {
			found = true
		}
	}
	if !found {
		t.Error("expected an IMPORTS edge from the file node to the bound symbol")
	}
}

// def f():
//     foo()
//
// A plain call's callee is a FUNCTION node's CALLS edge (or FILE's, when
// there is no enclosing function).
func TestCallEmitsCallsEdgeFromEnclosingFunction(t *testing.T) {
	n := newNormalizer()
	events := []cstevent.Event{
		ev(cstevent.Enter, "function_definition", 0, 30),
		tok("identifier", "f", 4, 5),
		ev(cstevent.Enter, "parameters", 5, 7),
		ev(cstevent.Exit, "parameters", 5, 7),
		ev(cstevent.Enter, "call", 12, 17),
		tok("identifier", "foo", 12, 15),
		ev(cstevent.Exit, "call", 12, 17),
		ev(cstevent.Exit, "function_definition", 0, 30),
	}
	res := n.Run(events, 30, 0)

	funcNode, ok := findNode(res.Nodes, rows.NodeFunction, "f")
	if !ok {
		t.Fatal("expected a FUNCTION node named f")
	}
	calleeSym, ok := findNode(res.Nodes, rows.NodeSymbol, "foo")
	if !ok {
		t.Fatalf("expected a SYMBOL node named foo, got nodes: %+v", res.Nodes)
	}

	found := false
	for _, e := range res.Edges {
		if e.Kind == rows.EdgeCalls && e.SrcID == funcNode.ID && e.DstID == calleeSym.ID {
			found = true
		}
	}
	if !found {
		t.Error("expected a CALLS edge from the enclosing function to the callee symbol")
	}
}

// An unclosed function at EOF gets a synthetic DEFINES edge and a
// synthetic=true attribute, per spec.md §4.2 "Failure recovery".
func TestUnclosedScopeSynthesizesClosure(t *testing.T) {
	n := newNormalizer()
	events := []cstevent.Event{
		ev(cstevent.Enter, "function_definition", 0, 20),
		tok("identifier", "f", 4, 5),
	}
	res := n.Run(events, 20, 0)

	funcNode, ok := findNode(res.Nodes, rows.NodeFunction, "f")
	if !ok {
		t.Fatal("expected a synthesized FUNCTION node named f")
	}
	if funcNode.AttrsJSON == "" {
		t.Error("expected synthetic=true in attrs_json for an unclosed scope")
	}
}
