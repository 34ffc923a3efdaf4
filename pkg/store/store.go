package store

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/minio/highwayhash"
	"golang.org/x/crypto/blake2b"

	"github.com/hatlesswizard/ucg/pkg/anomaly"
	"github.com/hatlesswizard/ucg/pkg/provenance"
	"github.com/hatlesswizard/ucg/pkg/rows"
	"github.com/hatlesswizard/ucg/pkg/ucgconfig"
)

// Store stages rows in memory per table and flushes each table to its own
// sequence of zstd-compressed Parquet files once it crosses cfg.RollRows,
// per spec.md §9. Nothing is visible under cfg.OutputDir until Finalize
// publishes the whole staging directory atomically.
type Store struct {
	cfg    ucgconfig.Config
	runID  string
	sink   *anomaly.Sink
	metrics *anomaly.Metrics

	stagingDir string

	seq map[string]int

	nodes     []NodeRowPQ
	edges     []EdgeRowPQ
	cfgBlocks []CFGBlockRowPQ
	cfgEdges  []CFGEdgeRowPQ
	dfgNodes  []DFGNodeRowPQ
	dfgEdges  []DFGEdgeRowPQ
	symbols   []SymbolRowPQ
	aliases   []AliasRowPQ
	effects   []EffectRowPQ
	anomalies []AnomalyRowPQ
	provV2    []ProvenanceV2RowPQ

	anomalySeq int64

	files            []TableFile
	txLog            []txLogEntry
	hashKey          [32]byte
	stagedBytes      int64
	rowsSeenForBytes int // sampled every ~1000 rows, per spec.md §9
}

// txLogEntry records one Parquet file write for the transaction log sidecar.
type txLogEntry struct {
	Table    string `json:"table"`
	Path     string `json:"path"`
	RowCount int    `json:"row_count"`
	ByteSize int64  `json:"byte_size"`
	Checksum string `json:"checksum_highwayhash64"`
}

// New creates a Store and its staging directory alongside cfg.OutputDir
// (output_dir + ".staging-" + runID), so Finalize's publish step is a same-
// filesystem rename rather than a cross-device copy.
func New(cfg ucgconfig.Config, runID string, sink *anomaly.Sink, metrics *anomaly.Metrics) (*Store, error) {
	staging := cfg.OutputDir + ".staging-" + runID
	if err := os.MkdirAll(staging, 0o755); err != nil {
		return nil, fmt.Errorf("store: create staging dir %s: %w", staging, err)
	}
	return &Store{
		cfg: cfg, runID: runID, sink: sink, metrics: metrics,
		stagingDir: staging,
		seq:        make(map[string]int),
		hashKey:    blake2b.Sum256([]byte(cfg.Salt)),
	}, nil
}

func (s *Store) checksum(data []byte) string {
	h, err := highwayhash.New64(s.hashKey[:])
	if err != nil {
		return ""
	}
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// AppendNodes stages NodeRows, rolling to a new file when the buffer crosses
// cfg.RollRows.
func (s *Store) AppendNodes(in []rows.NodeRow) error {
	for _, r := range in {
		s.nodes = append(s.nodes, fromNode(r))
		s.noteRow("nodes")
	}
	if len(s.nodes) >= s.cfg.RollRows {
		return s.rollNodes()
	}
	return s.checkBudget()
}

func (s *Store) AppendEdges(in []rows.EdgeRow) error {
	for _, r := range in {
		s.edges = append(s.edges, fromEdge(r))
		s.noteRow("edges")
	}
	if len(s.edges) >= s.cfg.RollRows {
		return s.rollEdges()
	}
	return s.checkBudget()
}

func (s *Store) AppendCFG(blocks []rows.CFGBlockRow, edges []rows.CFGEdgeRow) error {
	for _, r := range blocks {
		s.cfgBlocks = append(s.cfgBlocks, fromCFGBlock(r))
		s.noteRow("cfg_blocks")
	}
	for _, r := range edges {
		s.cfgEdges = append(s.cfgEdges, fromCFGEdge(r))
		s.noteRow("cfg_edges")
	}
	if len(s.cfgBlocks) >= s.cfg.RollRows {
		if err := s.rollCFGBlocks(); err != nil {
			return err
		}
	}
	if len(s.cfgEdges) >= s.cfg.RollRows {
		if err := s.rollCFGEdges(); err != nil {
			return err
		}
	}
	return s.checkBudget()
}

func (s *Store) AppendDFG(nodes []rows.DFGNodeRow, edges []rows.DFGEdgeRow) error {
	for _, r := range nodes {
		s.dfgNodes = append(s.dfgNodes, fromDFGNode(r))
		s.noteRow("dfg_nodes")
	}
	for _, r := range edges {
		s.dfgEdges = append(s.dfgEdges, fromDFGEdge(r))
		s.noteRow("dfg_edges")
	}
	if len(s.dfgNodes) >= s.cfg.RollRows {
		if err := s.rollDFGNodes(); err != nil {
			return err
		}
	}
	if len(s.dfgEdges) >= s.cfg.RollRows {
		if err := s.rollDFGEdges(); err != nil {
			return err
		}
	}
	return s.checkBudget()
}

func (s *Store) AppendSymbols(syms []rows.SymbolRow, aliases []rows.AliasRow) error {
	for _, r := range syms {
		s.symbols = append(s.symbols, fromSymbol(r))
		s.noteRow("symbols")
	}
	for _, r := range aliases {
		s.aliases = append(s.aliases, fromAlias(r))
		s.noteRow("aliases")
	}
	if len(s.symbols) >= s.cfg.RollRows {
		if err := s.rollSymbols(); err != nil {
			return err
		}
	}
	if len(s.aliases) >= s.cfg.RollRows {
		if err := s.rollAliases(); err != nil {
			return err
		}
	}
	return s.checkBudget()
}

func (s *Store) AppendEffects(in []rows.EffectRow) error {
	for _, r := range in {
		s.effects = append(s.effects, fromEffect(r))
		s.noteRow("effects")
	}
	if len(s.effects) >= s.cfg.RollRows {
		return s.rollEffects()
	}
	return s.checkBudget()
}

// AppendAnomalies stages AnomalyRows. Anomalies have no row-level Provenance,
// so run_id is stamped here from the Store's own run context.
func (s *Store) AppendAnomalies(in []rows.AnomalyRow) error {
	for _, r := range in {
		s.anomalySeq++
		s.anomalies = append(s.anomalies, fromAnomaly(r, s.anomalySeq, s.runID))
		s.noteRow("anomalies")
	}
	if len(s.anomalies) >= s.cfg.RollRows {
		return s.rollAnomalies()
	}
	return s.checkBudget()
}

// AppendProvenanceV2 stages one provenance_v2 sidecar row for rowID, keyed to
// share that ID with whichever baseline table rowID came from. Callers
// should only invoke this when cfg.ProvenanceV2 is enabled.
func (s *Store) AppendProvenanceV2(rowID string, p provenance.Provenance) error {
	if !s.cfg.ProvenanceV2 {
		return nil
	}
	s.provV2 = append(s.provV2, provenanceV2Row(rowID, p))
	s.noteRow("provenance_v2")
	if len(s.provV2) >= s.cfg.RollRows {
		return s.rollProvenanceV2()
	}
	return s.checkBudget()
}

func (s *Store) noteRow(table string) {
	if s.metrics != nil {
		s.metrics.RowEmitted(table)
	}
	s.rowsSeenForBytes++
}

// checkBudget samples the staged byte estimate every ~1000 rows, per
// spec.md §9's adaptive flush triggers, rather than computing an exact
// running size on every single append.
func (s *Store) checkBudget() error {
	if s.rowsSeenForBytes < 1000 {
		return nil
	}
	s.rowsSeenForBytes = 0
	if s.cfg.MaxStoreBytes <= 0 {
		return nil
	}
	if s.stagedBytes > s.cfg.MaxStoreBytes {
		return s.abortOverLimit()
	}
	return nil
}

func (s *Store) abortOverLimit() error {
	if s.sink != nil {
		start := uint32(0)
		s.sink.Record(rows.AnomalyRow{
			Kind: rows.AnomalyMemoryLimit, Severity: rows.SevError,
			Detail:    fmt.Sprintf("store: staged bytes %d exceeded max_store_bytes %d", s.stagedBytes, s.cfg.MaxStoreBytes),
			SpanStart: &start, SpanEnd: &start,
		}, 0)
	}
	_ = os.RemoveAll(s.stagingDir)
	return fmt.Errorf("store: max_store_bytes exceeded (%d > %d), run aborted", s.stagedBytes, s.cfg.MaxStoreBytes)
}

// roll helpers: one per table, flushing the current buffer to a new Parquet
// file, verifying its row count by reopening it, recording the transaction
// log entry, then clearing the in-memory buffer.

func (s *Store) rollNodes() error {
	path, n, sz, err := flushTable(s.stagingDir, "nodes", s.nextSeq("nodes"), s.nodes)
	if err != nil {
		return err
	}
	if err := s.commitFlush("nodes", path, n, sz); err != nil {
		return err
	}
	s.nodes = nil
	return nil
}

func (s *Store) rollEdges() error {
	path, n, sz, err := flushTable(s.stagingDir, "edges", s.nextSeq("edges"), s.edges)
	if err != nil {
		return err
	}
	if err := s.commitFlush("edges", path, n, sz); err != nil {
		return err
	}
	s.edges = nil
	return nil
}

func (s *Store) rollCFGBlocks() error {
	path, n, sz, err := flushTable(s.stagingDir, "cfg_blocks", s.nextSeq("cfg_blocks"), s.cfgBlocks)
	if err != nil {
		return err
	}
	if err := s.commitFlush("cfg_blocks", path, n, sz); err != nil {
		return err
	}
	s.cfgBlocks = nil
	return nil
}

func (s *Store) rollCFGEdges() error {
	path, n, sz, err := flushTable(s.stagingDir, "cfg_edges", s.nextSeq("cfg_edges"), s.cfgEdges)
	if err != nil {
		return err
	}
	if err := s.commitFlush("cfg_edges", path, n, sz); err != nil {
		return err
	}
	s.cfgEdges = nil
	return nil
}

func (s *Store) rollDFGNodes() error {
	path, n, sz, err := flushTable(s.stagingDir, "dfg_nodes", s.nextSeq("dfg_nodes"), s.dfgNodes)
	if err != nil {
		return err
	}
	if err := s.commitFlush("dfg_nodes", path, n, sz); err != nil {
		return err
	}
	s.dfgNodes = nil
	return nil
}

func (s *Store) rollDFGEdges() error {
	path, n, sz, err := flushTable(s.stagingDir, "dfg_edges", s.nextSeq("dfg_edges"), s.dfgEdges)
	if err != nil {
		return err
	}
	if err := s.commitFlush("dfg_edges", path, n, sz); err != nil {
		return err
	}
	s.dfgEdges = nil
	return nil
}

func (s *Store) rollSymbols() error {
	path, n, sz, err := flushTable(s.stagingDir, "symbols", s.nextSeq("symbols"), s.symbols)
	if err != nil {
		return err
	}
	if err := s.commitFlush("symbols", path, n, sz); err != nil {
		return err
	}
	s.symbols = nil
	return nil
}

func (s *Store) rollAliases() error {
	path, n, sz, err := flushTable(s.stagingDir, "aliases", s.nextSeq("aliases"), s.aliases)
	if err != nil {
		return err
	}
	if err := s.commitFlush("aliases", path, n, sz); err != nil {
		return err
	}
	s.aliases = nil
	return nil
}

func (s *Store) rollEffects() error {
	path, n, sz, err := flushTable(s.stagingDir, "effects", s.nextSeq("effects"), s.effects)
	if err != nil {
		return err
	}
	if err := s.commitFlush("effects", path, n, sz); err != nil {
		return err
	}
	s.effects = nil
	return nil
}

func (s *Store) rollAnomalies() error {
	path, n, sz, err := flushTable(s.stagingDir, "anomalies", s.nextSeq("anomalies"), s.anomalies)
	if err != nil {
		return err
	}
	if err := s.commitFlush("anomalies", path, n, sz); err != nil {
		return err
	}
	s.anomalies = nil
	return nil
}

func (s *Store) rollProvenanceV2() error {
	path, n, sz, err := flushTable(s.stagingDir, "provenance_v2", s.nextSeq("provenance_v2"), s.provV2)
	if err != nil {
		return err
	}
	if err := s.commitFlush("provenance_v2", path, n, sz); err != nil {
		return err
	}
	s.provV2 = nil
	return nil
}

func (s *Store) nextSeq(table string) int {
	v := s.seq[table]
	s.seq[table] = v + 1
	return v
}

// commitFlush verifies the just-written file's row count, computes its
// checksum, and records it in the transaction log.
func (s *Store) commitFlush(table, path string, rowCount int, byteSize int64) error {
	if path == "" {
		return nil // empty buffer, nothing written
	}
	if err := verifyRowCount(path, rowCount); err != nil {
		_ = os.Remove(path)
		return err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("store: reading back %s for checksum: %w", path, err)
	}
	checksum := s.checksum(data)
	s.files = append(s.files, TableFile{Table: table, Path: path, RowCount: rowCount, ByteSize: byteSize, Checksum: checksum})
	s.txLog = append(s.txLog, txLogEntry{Table: table, Path: path, RowCount: rowCount, ByteSize: byteSize, Checksum: checksum})
	s.stagedBytes += byteSize
	if s.metrics != nil {
		s.metrics.FlushObserved(byteSize)
	}
	return nil
}

// Flush rolls every non-empty buffer to disk immediately, without publishing.
// The orchestrator calls this every cfg.FlushEveryNFiles processed files so a
// long run's memory stays bounded between Finalize calls.
func (s *Store) Flush() error {
	return s.flushAll()
}

// flushAll rolls every non-empty buffer, used by Finalize.
func (s *Store) flushAll() error {
	type rollFn func() error
	rolls := []rollFn{
		s.rollNodes, s.rollEdges, s.rollCFGBlocks, s.rollCFGEdges,
		s.rollDFGNodes, s.rollDFGEdges, s.rollSymbols, s.rollAliases,
		s.rollEffects, s.rollAnomalies,
	}
	if s.cfg.ProvenanceV2 {
		rolls = append(rolls, s.rollProvenanceV2)
	}
	for _, fn := range rolls {
		if err := fn(); err != nil {
			return err
		}
	}
	return nil
}

// Finalize flushes remaining buffers, writes the sidecar manifests, checks
// the idempotent-finalize guard against catalogIndex (if non-nil), and
// atomically publishes the staging directory to cfg.OutputDir — moving any
// pre-existing output aside to a ".bak" suffix first, per spec.md §9.
func (s *Store) Finalize(configHash string, publishedAt int64, catalogIndex *CatalogIndex) error {
	if err := s.flushAll(); err != nil {
		return err
	}

	if catalogIndex != nil {
		already, err := catalogIndex.AlreadyPublished(s.runID)
		if err != nil {
			return err
		}
		if already {
			return fmt.Errorf("store: run %s already published, refusing to finalize again", s.runID)
		}
	}

	if err := s.writeTxLog(); err != nil {
		return err
	}
	if err := s.writeSchemaSQL(); err != nil {
		return err
	}
	if err := s.writeCatalogJSON(); err != nil {
		return err
	}
	if err := s.writeRunReceipt(configHash, publishedAt); err != nil {
		return err
	}

	if err := s.publish(); err != nil {
		return err
	}

	if catalogIndex != nil {
		if err := catalogIndex.RecordRun(s.runID, configHash, s.cfg.OutputDir, publishedAt, s.files); err != nil {
			return err
		}
	}
	return nil
}

// publish renames the staging directory into place. If cfg.OutputDir
// already exists, it is first moved aside to "<output_dir>.bak" so a crash
// mid-publish never leaves the world with no usable output directory at all.
func (s *Store) publish() error {
	if _, err := os.Stat(s.cfg.OutputDir); err == nil {
		bak := s.cfg.OutputDir + ".bak"
		_ = os.RemoveAll(bak)
		if err := os.Rename(s.cfg.OutputDir, bak); err != nil {
			return fmt.Errorf("store: moving existing output aside: %w", err)
		}
	}
	if err := os.Rename(s.stagingDir, s.cfg.OutputDir); err != nil {
		return fmt.Errorf("store: publishing staging dir: %w", err)
	}
	return nil
}

func (s *Store) writeTxLog() error {
	b, err := json.MarshalIndent(s.txLog, "", "  ")
	if err != nil {
		return fmt.Errorf("store: marshal tx log: %w", err)
	}
	return os.WriteFile(filepath.Join(s.stagingDir, "transaction_log.json"), b, 0o644)
}

type catalogTable struct {
	Name  string      `json:"name"`
	Files []TableFile `json:"files"`
}

func (s *Store) writeCatalogJSON() error {
	byTable := make(map[string][]TableFile)
	order := []string{}
	for _, f := range s.files {
		if _, ok := byTable[f.Table]; !ok {
			order = append(order, f.Table)
		}
		byTable[f.Table] = append(byTable[f.Table], f)
	}
	tables := make([]catalogTable, 0, len(order))
	for _, name := range order {
		tables = append(tables, catalogTable{Name: name, Files: byTable[name]})
	}
	b, err := json.MarshalIndent(struct {
		RunID  string          `json:"run_id"`
		Tables []catalogTable `json:"tables"`
	}{RunID: s.runID, Tables: tables}, "", "  ")
	if err != nil {
		return fmt.Errorf("store: marshal catalog.json: %w", err)
	}
	return os.WriteFile(filepath.Join(s.stagingDir, "catalog.json"), b, 0o644)
}

func (s *Store) writeRunReceipt(configHash string, publishedAt int64) error {
	var rowTotal int64
	for _, f := range s.files {
		rowTotal += int64(f.RowCount)
	}
	receipt := struct {
		RunID        string `json:"run_id"`
		ConfigHash   string `json:"config_hash"`
		SchemaVer    int    `json:"schema_version"`
		PublishedAt  int64  `json:"published_at"`
		RowTotal     int64  `json:"row_total"`
		FileTotal    int    `json:"file_total"`
		AnomalyTotal int64  `json:"anomaly_total"`
	}{
		RunID: s.runID, ConfigHash: configHash, SchemaVer: SchemaVersion,
		PublishedAt: publishedAt, RowTotal: rowTotal, FileTotal: len(s.files),
		AnomalyTotal: s.anomalySeq,
	}
	b, err := json.MarshalIndent(receipt, "", "  ")
	if err != nil {
		return fmt.Errorf("store: marshal run_receipt.json: %w", err)
	}
	return os.WriteFile(filepath.Join(s.stagingDir, "run_receipt.json"), b, 0o644)
}

func (s *Store) writeSchemaSQL() error {
	return os.WriteFile(filepath.Join(s.stagingDir, "schema.sql"), []byte(schemaSQL), 0o644)
}

const schemaSQL = `
-- Read-only SQL sidecar describing the columns every Parquet file in this
-- run's tables carries, for engines that want a DDL reference rather than
-- introspecting the Parquet footers directly.

CREATE TABLE nodes (
  schema_version INTEGER, id TEXT, kind TEXT, name TEXT, path TEXT, lang TEXT,
  attrs_json TEXT, byte_start BIGINT, byte_end BIGINT, line_start BIGINT,
  line_end BIGINT, blob_sha TEXT, run_id TEXT, config_hash TEXT, grammar_sha TEXT
);

CREATE TABLE edges (
  schema_version INTEGER, id TEXT, kind TEXT, src_id TEXT, dst_id TEXT,
  path TEXT, lang TEXT, attrs_json TEXT, byte_start BIGINT, byte_end BIGINT,
  blob_sha TEXT, run_id TEXT, config_hash TEXT
);

CREATE TABLE cfg_blocks (
  schema_version INTEGER, id TEXT, func_id TEXT, kind TEXT, idx BIGINT,
  path TEXT, lang TEXT, attrs_json TEXT, byte_start BIGINT, run_id TEXT, blob_sha TEXT
);

CREATE TABLE cfg_edges (
  schema_version INTEGER, id TEXT, func_id TEXT, kind TEXT, src_block_id TEXT,
  dst_block_id TEXT, run_id TEXT, path TEXT, blob_sha TEXT
);

CREATE TABLE dfg_nodes (
  schema_version INTEGER, id TEXT, func_id TEXT, kind TEXT, name TEXT,
  version BIGINT, path TEXT, lang TEXT, attrs_json TEXT, byte_start BIGINT,
  run_id TEXT, blob_sha TEXT
);

CREATE TABLE dfg_edges (
  schema_version INTEGER, id TEXT, func_id TEXT, kind TEXT, src_id TEXT,
  dst_id TEXT, run_id TEXT, path TEXT, blob_sha TEXT
);

CREATE TABLE symbols (
  schema_version INTEGER, id TEXT, scope_id TEXT, name TEXT, kind TEXT,
  visibility TEXT, is_dynamic BOOLEAN, attrs_json TEXT, byte_start BIGINT,
  path TEXT, lang TEXT, run_id TEXT, blob_sha TEXT
);

CREATE TABLE aliases (
  schema_version INTEGER, id TEXT, alias_kind TEXT, alias_id TEXT,
  target_symbol_id TEXT, alias_name TEXT, attrs_json TEXT, byte_start BIGINT,
  path TEXT, run_id TEXT, blob_sha TEXT
);

CREATE TABLE effects (
  schema_version INTEGER, id TEXT, kind TEXT, carrier TEXT, args_json TEXT,
  attrs_json TEXT, byte_start BIGINT, byte_end BIGINT, path TEXT, lang TEXT,
  run_id TEXT, blob_sha TEXT
);

CREATE TABLE anomalies (
  schema_version INTEGER, seq BIGINT, path TEXT, blob_sha TEXT, kind TEXT,
  severity TEXT, detail TEXT, span_start BIGINT, span_end BIGINT,
  timestamp BIGINT, run_id TEXT
);

CREATE TABLE provenance_v2 (
  schema_version INTEGER, row_id TEXT, enricher_versions TEXT,
  confidence_json TEXT, run_id TEXT
);
`
