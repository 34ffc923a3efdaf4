package tsdriver

import (
	sitter "github.com/smacker/go-tree-sitter"

	"github.com/hatlesswizard/ucg/pkg/cstevent"
)

// walker turns a parsed tree into the flat Enter/Token/Exit stream, using an
// explicit frame stack rather than recursion, the same discipline every
// builder downstream (normalizer, dfg, cfg, symbols, effects) uses to stay
// memory-bounded and to abort early without unwinding a Go call stack.
type walker struct {
	source []byte
	limits Limits

	events    []cstevent.Event
	truncated bool
}

// frame is one pending node on the walk stack. childIdx tracks how many of
// the node's children have already been pushed, so revisiting the frame
// after a child returns resumes where it left off instead of restarting.
type frame struct {
	node     *sitter.Node
	childIdx int
	depth    int
}

func (w *walker) walk(root *sitter.Node) ([]cstevent.Event, bool) {
	if root == nil {
		return nil, false
	}
	stack := []frame{{node: root, depth: 0}}

	for len(stack) > 0 {
		if w.limits.MaxEvents > 0 && len(w.events) >= w.limits.MaxEvents {
			w.truncated = true
			break
		}

		top := &stack[len(stack)-1]
		node := top.node

		if top.childIdx == 0 {
			w.emitEnterOrToken(node)
		}

		if w.limits.MaxDepth > 0 && top.depth >= w.limits.MaxDepth {
			// Depth ceiling reached: treat the remainder of this subtree as
			// an opaque leaf rather than recursing further. Only interior
			// nodes got an ENTER above and need the matching EXIT; a leaf
			// already emitted its own TOKEN and has nothing to close.
			if top.childIdx == 0 && node.ChildCount() > 0 {
				w.emitExit(node)
			}
			stack = stack[:len(stack)-1]
			continue
		}

		childCount := int(node.ChildCount())
		if top.childIdx < childCount {
			child := node.Child(top.childIdx)
			top.childIdx++
			if child != nil {
				stack = append(stack, frame{node: child, depth: top.depth + 1})
			}
			continue
		}

		if childCount > 0 {
			w.emitExit(node)
		}
		stack = stack[:len(stack)-1]
	}

	return w.events, w.truncated
}

// emitEnterOrToken emits an ENTER for an interior node (one with children)
// or a TOKEN for a leaf, and for leaves also captures the literal source
// text, per the cstevent.Event Type/Text convention.
func (w *walker) emitEnterOrToken(node *sitter.Node) {
	start, end := node.StartByte(), node.EndByte()
	lineStart, lineEnd := node.StartPoint().Row+1, node.EndPoint().Row+1

	if node.ChildCount() == 0 {
		text := ""
		if int(end) <= len(w.source) && start <= end {
			text = string(w.source[start:end])
		}
		w.events = append(w.events, cstevent.Event{
			Kind: cstevent.Token, Type: node.Type(), Text: text,
			ByteStart: start, ByteEnd: end, LineStart: lineStart, LineEnd: lineEnd,
		})
		return
	}

	w.events = append(w.events, cstevent.Event{
		Kind: cstevent.Enter, Type: node.Type(),
		ByteStart: start, ByteEnd: end, LineStart: lineStart, LineEnd: lineEnd,
	})
}

func (w *walker) emitExit(node *sitter.Node) {
	w.events = append(w.events, cstevent.Event{
		Kind: cstevent.Exit, Type: node.Type(),
		ByteStart: node.StartByte(), ByteEnd: node.EndByte(),
		LineStart: node.StartPoint().Row + 1, LineEnd: node.EndPoint().Row + 1,
	})
}
