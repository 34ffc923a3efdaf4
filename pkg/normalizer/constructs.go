package normalizer

import (
	"strconv"
	"strings"

	"github.com/hatlesswizard/ucg/pkg/provenance"
	"github.com/hatlesswizard/ucg/pkg/rows"
)

// qualifiedName reconstructs the best-effort dotted name for a call callee or
// decorator carrier from every identifier token seen while the construct was
// open (spec.md §4.2's "trailing token window for qualified-name
// reconstruction"). qualifiedParts is a superset of pc.name — the same first
// token that fills pc.name is also its first element — so the join always
// carries at least as much as pc.name and recovers the "router.post" shape
// scenario (e) expects instead of just its first segment.
func qualifiedName(pc *pendingConstruct) string {
	if len(pc.qualifiedParts) > 0 {
		return strings.Join(pc.qualifiedParts, ".")
	}
	return pc.name
}

// finalizeDecorator emits the EFFECT_CARRIER node for a decorator and
// buffers it until the next scope opens, where drainPendingDecorators wires
// its DECORATES edge, per spec.md §4.2.
func (n *Normalizer) finalizeDecorator(pc *pendingConstruct) {
	id := provenance.StableID(n.salt, "effect_carrier", n.path, n.blobSHA, "decorator", bytesKey(pc.byteStart))
	row := rows.NodeRow{
		ID:   id,
		Kind: rows.NodeEffectCarrier,
		Name: qualifiedName(pc),
		Path: n.path,
		Lang: n.adapter.Language(),
		Prov: n.tmpl.WithSpan(pc.byteStart, pc.byteEnd, pc.lineStart, pc.lineEnd),
	}
	n.nodes = append(n.nodes, row)

	// The decorated scope's ENTER always comes after this decorator's EXIT
	// ("@deco\ndef f()"), so there is never an already-open target scope to
	// wire immediately; buffer and let drainPendingDecorators wire it when
	// the next scope opens.
	n.pendingDecorators = append(n.pendingDecorators, row)
}

// drainPendingDecorators wires any buffered decorators to a newly-opened
// scope and clears the buffer. Called from onEnter right after a scope is
// pushed.
func (n *Normalizer) drainPendingDecorators(scopeID string) {
	for _, d := range n.pendingDecorators {
		n.emitEdge(rows.EdgeDecorates, d.ID, scopeID, d.Prov.ByteStart)
	}
	n.pendingDecorators = n.pendingDecorators[:0]
}

// finalizeImport extracts imported name(s) via conservative text slicing and
// emits SYMBOL nodes plus IMPORTS edges from the file node, per spec.md §4.2.
func (n *Normalizer) finalizeImport(pc *pendingConstruct) {
	names := importNamesFromQualified(pc.qualifiedParts)
	if len(names) == 0 && pc.name != "" {
		names = []string{pc.name}
	}
	for _, name := range names {
		id := provenance.StableID(n.salt, "symbol", n.path, n.blobSHA, "import", name, bytesKey(pc.byteStart))
		row := rows.NodeRow{
			ID:   id,
			Kind: rows.NodeSymbol,
			Name: name,
			Path: n.path,
			Lang: n.adapter.Language(),
			Prov: n.tmpl.WithSpan(pc.byteStart, pc.byteEnd, pc.lineStart, pc.lineEnd),
		}
		n.nodes = append(n.nodes, row)
		n.emitEdge(rows.EdgeImports, n.fileNodeID, id, pc.byteStart)
	}
}

// finalizeExport mirrors finalizeImport for export constructs.
func (n *Normalizer) finalizeExport(pc *pendingConstruct) {
	names := importNamesFromQualified(pc.qualifiedParts)
	if len(names) == 0 && pc.name != "" {
		names = []string{pc.name}
	}
	for _, name := range names {
		id := provenance.StableID(n.salt, "symbol", n.path, n.blobSHA, "export", name, bytesKey(pc.byteStart))
		row := rows.NodeRow{
			ID:   id,
			Kind: rows.NodeSymbol,
			Name: name,
			Path: n.path,
			Lang: n.adapter.Language(),
			Prov: n.tmpl.WithSpan(pc.byteStart, pc.byteEnd, pc.lineStart, pc.lineEnd),
		}
		n.nodes = append(n.nodes, row)
		n.emitEdge(rows.EdgeExports, n.fileNodeID, id, pc.byteStart)
	}
}

// importNamesFromQualified turns the identifier-dot token window collected
// while an import/export construct was open into bound names: every entry
// that follows an "as" entry, or else the last entry alone. onToken records
// identifier tokens only, never the "as" keyword, so the result is the single
// last identifier: Y for "import X as Y", and only B for "from M import A, B".
func importNamesFromQualified(parts []string) []string {
	if len(parts) == 0 {
		return nil
	}
	var names []string
	for i, p := range parts {
		if p == "as" && i+1 < len(parts) {
			names = append(names, parts[i+1])
		}
	}
	if len(names) == 0 {
		names = append(names, parts[len(parts)-1])
	}
	return names
}

// finalizeCall emits a SYMBOL node for the callee and a CALLS edge from the
// nearest enclosing FUNCTION scope (or FILE), per spec.md §4.2.
func (n *Normalizer) finalizeCall(pc *pendingConstruct) {
	callee := qualifiedName(pc)
	if callee == "" {
		return
	}
	id := provenance.StableID(n.salt, "symbol", n.path, n.blobSHA, "call", callee, bytesKey(pc.byteStart))
	row := rows.NodeRow{
		ID:   id,
		Kind: rows.NodeSymbol,
		Name: callee,
		Path: n.path,
		Lang: n.adapter.Language(),
		AttrsJSON: `{"args_model_stub":[]}`,
		Prov: n.tmpl.WithSpan(pc.byteStart, pc.byteEnd, pc.lineStart, pc.lineEnd),
	}
	n.nodes = append(n.nodes, row)
	caller := n.enclosingFunctionOrFile()
	n.emitEdge(rows.EdgeCalls, caller, id, pc.byteStart)
}

func bytesKey(v uint32) string {
	return strconv.FormatUint(uint64(v), 10)
}
