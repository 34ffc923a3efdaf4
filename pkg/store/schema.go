// Package store implements the transactional, columnar output layer of
// spec.md §9: rows are staged in memory, flushed to Parquet files compressed
// with zstd, and the whole staging directory is published atomically only
// once every table has been verified. This mirrors the teacher's general
// discipline of never leaving partially-written state visible to callers
// (pkg/parser/cache.go closes every evicted tree explicitly; nothing here is
// grounded on a teacher *store*, since the teacher has none — the shape is
// adapted from the retrieval pack's storage example,
// other_examples/e502fde6_mvp-joe-canopy__internal-store-store.go.go, scaled
// up from a single sqlite3 handle to a multi-table Parquet writer).
package store

// SchemaVersion is stamped onto every row this package writes, per spec.md
// §9 ("every table carries a schema_version column").
const SchemaVersion = 1

// Parquet-tagged row shapes. Each embeds the provenance fields flattened,
// since parquet-go (and Parquet generally) has no notion of the nested
// provenance.Provenance struct as a first-class embedded type across every
// table — flattening keeps every table independently readable by a plain SQL
// engine without requiring struct-aware tooling.

type NodeRowPQ struct {
	SchemaVersion int    `parquet:"schema_version"`
	ID            string `parquet:"id"`
	Kind          string `parquet:"kind"`
	Name          string `parquet:"name"`
	Path          string `parquet:"path"`
	Lang          string `parquet:"lang"`
	AttrsJSON     string `parquet:"attrs_json"`
	ByteStart     int64  `parquet:"byte_start"`
	ByteEnd       int64  `parquet:"byte_end"`
	LineStart     int64  `parquet:"line_start"`
	LineEnd       int64  `parquet:"line_end"`
	BlobSHA       string `parquet:"blob_sha"`
	RunID         string `parquet:"run_id"`
	ConfigHash    string `parquet:"config_hash"`
	GrammarSHA    string `parquet:"grammar_sha"`
}

type EdgeRowPQ struct {
	SchemaVersion int    `parquet:"schema_version"`
	ID            string `parquet:"id"`
	Kind          string `parquet:"kind"`
	SrcID         string `parquet:"src_id"`
	DstID         string `parquet:"dst_id"`
	Path          string `parquet:"path"`
	Lang          string `parquet:"lang"`
	AttrsJSON     string `parquet:"attrs_json"`
	ByteStart     int64  `parquet:"byte_start"`
	ByteEnd       int64  `parquet:"byte_end"`
	BlobSHA       string `parquet:"blob_sha"`
	RunID         string `parquet:"run_id"`
	ConfigHash    string `parquet:"config_hash"`
}

type CFGBlockRowPQ struct {
	SchemaVersion int    `parquet:"schema_version"`
	ID            string `parquet:"id"`
	FuncID        string `parquet:"func_id"`
	Kind          string `parquet:"kind"`
	Idx           int64  `parquet:"idx"`
	Path          string `parquet:"path"`
	Lang          string `parquet:"lang"`
	AttrsJSON     string `parquet:"attrs_json"`
	ByteStart     int64  `parquet:"byte_start"`
	RunID         string `parquet:"run_id"`
	BlobSHA       string `parquet:"blob_sha"`
}

type CFGEdgeRowPQ struct {
	SchemaVersion int    `parquet:"schema_version"`
	ID            string `parquet:"id"`
	FuncID        string `parquet:"func_id"`
	Kind          string `parquet:"kind"`
	SrcBlockID    string `parquet:"src_block_id"`
	DstBlockID    string `parquet:"dst_block_id"`
	RunID         string `parquet:"run_id"`
	Path          string `parquet:"path"`
	BlobSHA       string `parquet:"blob_sha"`
}

type DFGNodeRowPQ struct {
	SchemaVersion int    `parquet:"schema_version"`
	ID            string `parquet:"id"`
	FuncID        string `parquet:"func_id"`
	Kind          string `parquet:"kind"`
	Name          string `parquet:"name"`
	Version       int64  `parquet:"version"` // -1 when unset
	Path          string `parquet:"path"`
	Lang          string `parquet:"lang"`
	AttrsJSON     string `parquet:"attrs_json"`
	ByteStart     int64  `parquet:"byte_start"`
	RunID         string `parquet:"run_id"`
	BlobSHA       string `parquet:"blob_sha"`
}

type DFGEdgeRowPQ struct {
	SchemaVersion int    `parquet:"schema_version"`
	ID            string `parquet:"id"`
	FuncID        string `parquet:"func_id"`
	Kind          string `parquet:"kind"`
	SrcID         string `parquet:"src_id"`
	DstID         string `parquet:"dst_id"`
	RunID         string `parquet:"run_id"`
	Path          string `parquet:"path"`
	BlobSHA       string `parquet:"blob_sha"`
}

type SymbolRowPQ struct {
	SchemaVersion int    `parquet:"schema_version"`
	ID            string `parquet:"id"`
	ScopeID       string `parquet:"scope_id"`
	Name          string `parquet:"name"`
	Kind          string `parquet:"kind"`
	Visibility    string `parquet:"visibility"`
	IsDynamic     bool   `parquet:"is_dynamic"`
	AttrsJSON     string `parquet:"attrs_json"`
	ByteStart     int64  `parquet:"byte_start"`
	Path          string `parquet:"path"`
	Lang          string `parquet:"lang"`
	RunID         string `parquet:"run_id"`
	BlobSHA       string `parquet:"blob_sha"`
}

type AliasRowPQ struct {
	SchemaVersion  int    `parquet:"schema_version"`
	ID             string `parquet:"id"`
	AliasKind      string `parquet:"alias_kind"`
	AliasID        string `parquet:"alias_id"`
	TargetSymbolID string `parquet:"target_symbol_id"`
	AliasName      string `parquet:"alias_name"`
	AttrsJSON      string `parquet:"attrs_json"`
	ByteStart      int64  `parquet:"byte_start"`
	Path           string `parquet:"path"`
	RunID          string `parquet:"run_id"`
	BlobSHA        string `parquet:"blob_sha"`
}

type EffectRowPQ struct {
	SchemaVersion int    `parquet:"schema_version"`
	ID            string `parquet:"id"`
	Kind          string `parquet:"kind"`
	Carrier       string `parquet:"carrier"`
	ArgsJSON      string `parquet:"args_json"`
	AttrsJSON     string `parquet:"attrs_json"`
	ByteStart     int64  `parquet:"byte_start"`
	ByteEnd       int64  `parquet:"byte_end"`
	Path          string `parquet:"path"`
	Lang          string `parquet:"lang"`
	RunID         string `parquet:"run_id"`
	BlobSHA       string `parquet:"blob_sha"`
}

type AnomalyRowPQ struct {
	SchemaVersion int    `parquet:"schema_version"`
	Seq           int64  `parquet:"seq"`
	Path          string `parquet:"path"`
	BlobSHA       string `parquet:"blob_sha"`
	Kind          string `parquet:"kind"`
	Severity      string `parquet:"severity"`
	Detail        string `parquet:"detail"`
	SpanStart     int64  `parquet:"span_start"` // -1 when unset
	SpanEnd       int64  `parquet:"span_end"`   // -1 when unset
	Timestamp     int64  `parquet:"timestamp"`
	RunID         string `parquet:"run_id"`
}

// ProvenanceV2RowPQ is the optional, feature-flagged sidecar table of
// spec.md §9's provenance_v2, sharing IDs with a baseline table's rows
// instead of duplicating their columns.
type ProvenanceV2RowPQ struct {
	SchemaVersion    int    `parquet:"schema_version"`
	RowID            string `parquet:"row_id"` // baseline table's ID this annotates
	EnricherVersions string `parquet:"enricher_versions"` // JSON map
	ConfidenceJSON   string `parquet:"confidence_json"`
	RunID            string `parquet:"run_id"`
}

func i64(v uint32) int64 { return int64(v) }

func versionOrNeg1(v *int) int64 {
	if v == nil {
		return -1
	}
	return int64(*v)
}

func spanOrNeg1(v *uint32) int64 {
	if v == nil {
		return -1
	}
	return int64(*v)
}
