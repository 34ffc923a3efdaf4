// Package cstevent defines the CST event contract of spec.md §6: the sole
// input to every builder. Parser drivers (language-specific, external to this
// module's hard engineering) produce a ParseStream; this package owns nothing
// but the contract types and the validation the registry enforces on them.
package cstevent

// EventKind distinguishes the three event shapes a driver may emit.
type EventKind int

const (
	Enter EventKind = iota
	Exit
	Token
)

func (k EventKind) String() string {
	switch k {
	case Enter:
		return "enter"
	case Exit:
		return "exit"
	case Token:
		return "token"
	default:
		return "unknown"
	}
}

// Event is one streamed record describing the start, end, or token within a
// concrete syntax tree node. Type is the raw, language-specific node-type
// string (e.g. "function_declaration", "identifier") — builders never
// interpret it directly; they go through a langadapter.Adapter.
//
// Text is only populated for Token-kind events. Anonymous/fixed-text nodes
// (operators, punctuation, keywords) have Text equal to Type, since
// tree-sitter's node type for those leaves already is their literal spelling;
// Type stays the grammar category for named, content-varying leaves
// (identifier, string, number) and Text carries what the leaf actually says.
// Builders classify on Type (via a langadapter.Adapter) and, once a token is
// classified as identifier- or string-like, read the name or literal value
// out of Text.
type Event struct {
	Kind      EventKind
	Type      string
	Text      string
	ByteStart uint32
	ByteEnd   uint32
	LineStart uint32 // 1-based
	LineEnd   uint32
}

// Valid enforces the registry invariants from spec.md §6: non-negative spans
// (guaranteed by the uint32 type), end >= start, and a non-empty type.
func (e Event) Valid() bool {
	return e.Type != "" && e.ByteEnd >= e.ByteStart && e.LineEnd >= e.LineStart
}

// FileMeta describes the file being parsed, per spec.md §6.
type FileMeta struct {
	Path               string
	RealPath           string
	BlobSHA            string // BLAKE2b-256 or equivalent
	SizeBytes          int64
	MtimeNanos         int64
	RunID              string
	ConfigHash         string
	IsText             bool
	Encoding           string
	EncodingConfidence float64
	Language           string
	Flags              map[string]bool
}

// DriverInfo identifies the parser/grammar that produced a ParseStream.
// GrammarSHA is mixed into every provenance record derived from this stream.
type DriverInfo struct {
	Language    string
	GrammarName string
	GrammarSHA  string
	Version     string
}

// ParseStream is the output of a parser driver's Parse call: file metadata,
// driver identity, an overall ok flag, an optional error, and the event
// sequence itself. Drivers must be re-entrant for distinct files and
// deterministic for identical bytes.
type ParseStream struct {
	Meta   FileMeta
	Driver DriverInfo
	OK     bool
	Err    string
	Events []Event
}

// Driver is the external interface a language-specific parser implements.
// Everything downstream of this module (discovery, classification, the
// driver itself) is out of scope per spec.md §1; this interface is the only
// contract this module depends on.
type Driver interface {
	Parse(meta FileMeta) (ParseStream, error)
}

// Validate filters a raw event slice down to those that satisfy Event.Valid,
// returning the count of events dropped. This is the "event validation
// failure skips that event" behavior from spec.md §7.
func Validate(events []Event) (valid []Event, dropped int) {
	valid = make([]Event, 0, len(events))
	for _, e := range events {
		if e.Valid() {
			valid = append(valid, e)
		} else {
			dropped++
		}
	}
	return valid, dropped
}
