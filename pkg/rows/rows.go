// Package rows defines the typed row tuples every builder emits, per the data
// model in spec.md §3. Each row embeds a Provenance. attrs_json fields are a
// schema-less sidecar for non-indexed hints only (spec.md §9) — callers
// should prefer a typed field whenever the schema names one.
package rows

import "github.com/hatlesswizard/ucg/pkg/provenance"

// NodeKind enumerates NodeRow.Kind.
type NodeKind string

const (
	NodeFile          NodeKind = "file"
	NodeModule        NodeKind = "module"
	NodeClass         NodeKind = "class"
	NodeFunction      NodeKind = "function"
	NodeBlock         NodeKind = "block"
	NodeSymbol        NodeKind = "symbol"
	NodeLiteral       NodeKind = "literal"
	NodeEffectCarrier NodeKind = "effect_carrier"
	NodeImport        NodeKind = "import"
	NodeExport        NodeKind = "export"
)

// NodeRow is a structural node: file, scope, symbol, literal, or effect
// carrier.
type NodeRow struct {
	ID         string
	Kind       NodeKind
	Name       string
	Path       string
	Lang       string
	AttrsJSON  string
	Prov       provenance.Provenance
}

// EdgeKind enumerates EdgeRow.Kind.
type EdgeKind string

const (
	EdgeDefines    EdgeKind = "defines"
	EdgeDeclares   EdgeKind = "declares"
	EdgeImports    EdgeKind = "imports"
	EdgeExports    EdgeKind = "exports"
	EdgeExtends    EdgeKind = "extends"
	EdgeImplements EdgeKind = "implements"
	EdgeCalls      EdgeKind = "calls"
	EdgeReads      EdgeKind = "reads"
	EdgeWrites     EdgeKind = "writes"
	EdgeThrows     EdgeKind = "throws"
	EdgeAliases    EdgeKind = "aliases"
	EdgeDecorates  EdgeKind = "decorates"
)

// EdgeRow is a structural edge between two NodeRows.
type EdgeRow struct {
	ID        string
	Kind      EdgeKind
	SrcID     string
	DstID     string
	Path      string
	Lang      string
	AttrsJSON string
	Prov      provenance.Provenance
}

// CFGBlockKind enumerates CFGBlockRow.Kind.
type CFGBlockKind string

const (
	CFGEntry     CFGBlockKind = "entry"
	CFGPredicate CFGBlockKind = "predicate"
	CFGBody      CFGBlockKind = "body"
	CFGHandler   CFGBlockKind = "handler"
	CFGExit      CFGBlockKind = "exit"
)

// CFGBlockRow is one basic block of a function's control flow graph.
type CFGBlockRow struct {
	ID        string
	FuncID    string
	Kind      CFGBlockKind
	Index     int // stable per function, monotonically increasing
	Path      string
	Lang      string
	AttrsJSON string
	Prov      provenance.Provenance
}

// CFGEdgeKind enumerates CFGEdgeRow.Kind.
type CFGEdgeKind string

const (
	CFGNext      CFGEdgeKind = "next"
	CFGTrue      CFGEdgeKind = "true"
	CFGFalse     CFGEdgeKind = "false"
	CFGException CFGEdgeKind = "exception"
	CFGReturn    CFGEdgeKind = "return"
)

// CFGEdgeRow is a typed transition between two CFGBlockRows.
type CFGEdgeRow struct {
	ID          string
	FuncID      string
	Kind        CFGEdgeKind
	SrcBlockID  string
	DstBlockID  string
	Prov        provenance.Provenance
}

// DFGNodeKind enumerates DFGNodeRow.Kind.
type DFGNodeKind string

const (
	DFGParam   DFGNodeKind = "param"
	DFGVarDef  DFGNodeKind = "var_def"
	DFGVarUse  DFGNodeKind = "var_use"
	DFGLiteral DFGNodeKind = "literal"
)

// DFGNodeRow is one SSA-lite data-flow node.
type DFGNodeRow struct {
	ID        string
	FuncID    string // enclosing scope id
	Kind      DFGNodeKind
	Name      string
	Version   *int // non-nil for def/use
	Path      string
	Lang      string
	AttrsJSON string
	Prov      provenance.Provenance
}

// DFGEdgeKind enumerates DFGEdgeRow.Kind.
type DFGEdgeKind string

const (
	DFGDefUse    DFGEdgeKind = "def_use"
	DFGConstPart DFGEdgeKind = "const_part"
	DFGArgToParam DFGEdgeKind = "arg_to_param"
)

// DFGEdgeRow connects two DFGNodeRows.
type DFGEdgeRow struct {
	ID     string
	FuncID string
	Kind   DFGEdgeKind
	SrcID  string
	DstID  string
	Prov   provenance.Provenance
}

// SymbolKind enumerates SymbolRow.Kind.
type SymbolKind string

const (
	SymModule   SymbolKind = "module"
	SymClass    SymbolKind = "class"
	SymFunction SymbolKind = "function"
	SymMethod   SymbolKind = "method"
	SymVariable SymbolKind = "variable"
	SymParam    SymbolKind = "param"
	SymImport   SymbolKind = "import"
	SymExport   SymbolKind = "export"
)

// Visibility enumerates SymbolRow.Visibility.
type Visibility string

const (
	VisPublic   Visibility = "public"
	VisPrivate  Visibility = "private"
	VisInternal Visibility = "internal"
)

// SymbolRow is a declared binding.
type SymbolRow struct {
	ID         string
	ScopeID    string
	Name       string
	Kind       SymbolKind
	Visibility Visibility
	IsDynamic  bool
	AttrsJSON  string
	Prov       provenance.Provenance
}

// AliasKind enumerates AliasRow.AliasKind.
type AliasKind string

const (
	AliasImport      AliasKind = "import"
	AliasReexport    AliasKind = "reexport"
	AliasAssign      AliasKind = "assign"
	AliasStarImport  AliasKind = "star_import"
	AliasDynamic     AliasKind = "dynamic"
)

// AliasRow is an alias relationship between two SymbolRows.
type AliasRow struct {
	ID              string
	AliasKind       AliasKind
	AliasID         string // symbol binding being aliased
	TargetSymbolID  string // empty if unresolved
	AliasName       string
	AttrsJSON       string
	Prov            provenance.Provenance
}

// EffectKind enumerates EffectRow.Kind.
type EffectKind string

const (
	EffectDecorator     EffectKind = "decorator"
	EffectCall          EffectKind = "call"
	EffectStringLiteral EffectKind = "string_literal"
	EffectSQLLike       EffectKind = "sql_like"
	EffectRouteLike     EffectKind = "route_like"
	EffectEnvLookup     EffectKind = "env_lookup"
	EffectThrowLike     EffectKind = "throw_like"
	EffectAnnotation    EffectKind = "annotation"
	EffectUnknown       EffectKind = "unknown"
)

// EffectRow is one heuristically-extracted effect carrier.
type EffectRow struct {
	ID        string
	Kind      EffectKind
	Carrier   string // normalized handle, e.g. a qualified call name
	ArgsJSON  string
	AttrsJSON string // includes "tier": 0|1|2
	Prov      provenance.Provenance
}

// Severity enumerates AnomalyRow.Severity.
type Severity string

const (
	SevInfo  Severity = "info"
	SevWarn  Severity = "warn"
	SevError Severity = "error"
)

// AnomalyKind enumerates the taxonomy in spec.md §6.
type AnomalyKind string

const (
	AnomalyParseFailed       AnomalyKind = "PARSE_FAILED"
	AnomalyEncodingError     AnomalyKind = "ENCODING_ERROR"
	AnomalyTimeout           AnomalyKind = "TIMEOUT"
	AnomalyMemoryLimit       AnomalyKind = "MEMORY_LIMIT"
	AnomalyLangUnknown       AnomalyKind = "LANG_UNKNOWN"
	AnomalyMinified          AnomalyKind = "MINIFIED"
	AnomalyTooLarge          AnomalyKind = "TOO_LARGE"
	AnomalyBinaryFile        AnomalyKind = "BINARY_FILE"
	AnomalyPermissionDenied  AnomalyKind = "PERMISSION_DENIED"
	AnomalyIOError           AnomalyKind = "IO_ERROR"
	AnomalySymlinkOutOfRoot  AnomalyKind = "SYMLINK_OUT_OF_ROOT"
	AnomalySymlinkCycle      AnomalyKind = "SYMLINK_CYCLE"
	AnomalyGeneratedCode     AnomalyKind = "GENERATED_CODE"
	AnomalySkippedByRule     AnomalyKind = "SKIPPED_BY_RULE"
	AnomalyDynamicImport     AnomalyKind = "DYNAMIC_IMPORT"
	AnomalyEvalUsage         AnomalyKind = "EVAL_USAGE"
	AnomalyUnknownFlow       AnomalyKind = "UNKNOWN_FLOW"
	AnomalyUnknown           AnomalyKind = "UNKNOWN"
)

// AnomalyRow is a typed failure/warning record.
type AnomalyRow struct {
	Path      string
	BlobSHA   string
	Kind      AnomalyKind
	Severity  Severity
	Detail    string
	SpanStart *uint32
	SpanEnd   *uint32
	Timestamp int64 // unix nanos, stamped by the caller (this package never calls time.Now)
}
