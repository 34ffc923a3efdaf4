// Package provenance defines the immutable origin record attached to every row
// the UCG pipeline emits, and the content-addressed ID scheme built on top of it.
package provenance

import (
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

// Provenance bundles the origin of a single emitted row: where it came from,
// what produced it, and how confident the producer was. It is immutable once
// constructed — builders fill in a template once per file and copy it onto
// every row, never mutating a Provenance after it is handed to a Row.
type Provenance struct {
	Path      string // repo-relative file path
	BlobSHA   string // content hash of the file, hex-encoded BLAKE2b-256
	Language  string
	GrammarSHA string // grammar_sha from the DriverInfo that parsed this file
	RunID     string
	ConfigHash string

	ByteStart uint32
	ByteEnd   uint32
	LineStart uint32 // 1-based
	LineEnd   uint32

	// EnricherVersions maps enricher name (e.g. "normalizer", "dfg") to the
	// version string of the logic that produced the row.
	EnricherVersions map[string]string

	// Confidence maps a heuristic key (e.g. "callee_name", "sink_match") to a
	// string or numeric confidence value. Left as interface{} deliberately —
	// this is the one place the row model is allowed to be loosely typed,
	// per the schema's attrs_json sidecar convention.
	Confidence map[string]interface{}
}

// Valid reports whether p satisfies the invariants of spec.md §8.2: every
// emitted row must carry a non-empty path/blob_sha/run_id/config_hash/grammar_sha
// and spans with end >= start.
func (p Provenance) Valid() bool {
	if p.Path == "" || p.BlobSHA == "" || p.RunID == "" || p.ConfigHash == "" || p.GrammarSHA == "" {
		return false
	}
	if p.ByteEnd < p.ByteStart {
		return false
	}
	if p.LineEnd < p.LineStart {
		return false
	}
	return true
}

// Template is the per-file skeleton a builder clones for every row it emits;
// only the span and (optionally) confidence differ row to row.
type Template struct {
	base Provenance
}

// NewTemplate builds a per-file provenance template. Callers fill ByteStart
// etc. per row via WithSpan.
func NewTemplate(path, blobSHA, language, grammarSHA, runID, configHash string, enricherVersions map[string]string) Template {
	versions := make(map[string]string, len(enricherVersions))
	for k, v := range enricherVersions {
		versions[k] = v
	}
	return Template{base: Provenance{
		Path:             path,
		BlobSHA:          blobSHA,
		Language:         language,
		GrammarSHA:       grammarSHA,
		RunID:            runID,
		ConfigHash:       configHash,
		EnricherVersions: versions,
	}}
}

// WithSpan returns a Provenance for one row at the given byte/line span. The
// confidence map, if any, should be set by the caller on the returned value.
func (t Template) WithSpan(byteStart, byteEnd, lineStart, lineEnd uint32) Provenance {
	p := t.base
	p.ByteStart, p.ByteEnd = byteStart, byteEnd
	p.LineStart, p.LineEnd = lineStart, lineEnd
	p.Confidence = nil
	return p
}

// BlobSHA computes the BLAKE2b-256 content hash spec.md §6 names for
// FileMeta.blob_sha, hex-encoded.
func BlobSHA(content []byte) (string, error) {
	sum := blake2b.Sum256(content)
	return hex.EncodeToString(sum[:]), nil
}

// idDigestSize is 160 bits, per spec.md §3 ("Stable IDs").
const idDigestSize = 20

// StableID computes the content-addressed 160-bit ID described in spec.md §3:
// a digest over (salt, kind-tag, path, blob_sha, structural-key). Identical
// input bytes, config_hash and grammar_sha always yield identical IDs because
// every input to this function is itself deterministic per run.
func StableID(salt []byte, kindTag, path, blobSHA string, structuralKey ...string) string {
	h, err := blake2b.New(idDigestSize, salt)
	if err != nil {
		// blake2b.New only fails for out-of-range size/key; idDigestSize and
		// salt length are both controlled by this package, so this is
		// unreachable in practice. Fall back to an unkeyed hash rather than
		// panic, to keep ID generation total.
		h, _ = blake2b.New(idDigestSize, nil)
	}
	_, _ = h.Write([]byte(kindTag))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(path))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(blobSHA))
	for _, part := range structuralKey {
		_, _ = h.Write([]byte{0})
		_, _ = h.Write([]byte(part))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// ScopeID builds the stable ID for a MODULE/CLASS/FUNCTION scope node, keyed
// on its byte_start so it is stable without depending on traversal order.
func ScopeID(salt []byte, path, blobSHA string, byteStart uint32) string {
	return StableID(salt, "scope", path, blobSHA, fmt.Sprintf("%d", byteStart))
}

// SSADefID builds the stable ID for a versioned VAR_DEF/PARAM node.
func SSADefID(salt []byte, path, blobSHA, scopeID, name string, version int) string {
	return StableID(salt, "ssa_def", path, blobSHA, scopeID, name, fmt.Sprintf("%d", version))
}

// SSAUseID builds the stable ID for a VAR_USE node, additionally keyed on the
// use's own byte_start to distinguish multiple uses of the same version.
func SSAUseID(salt []byte, path, blobSHA, scopeID, name string, version int, useByteStart uint32) string {
	return StableID(salt, "ssa_use", path, blobSHA, scopeID, name, fmt.Sprintf("%d", version), fmt.Sprintf("%d", useByteStart))
}

// EdgeID builds the stable ID for an edge: both endpoints plus kind plus the
// anchor byte (the byte_start of whichever event produced the edge).
func EdgeID(salt []byte, path, blobSHA, kind, srcID, dstID string, anchorByte uint32) string {
	return StableID(salt, "edge:"+kind, path, blobSHA, srcID, dstID, fmt.Sprintf("%d", anchorByte))
}

// CFGBlockID builds the stable ID for a CFG basic block: keyed on its
// owning function plus its monotonic index plus a construct-specific tag,
// per spec.md §4.3 ("IDs include func_id + index + a construct-specific tag").
func CFGBlockID(salt []byte, path, blobSHA, funcID string, index int, tag string) string {
	return StableID(salt, "cfg_block", path, blobSHA, funcID, fmt.Sprintf("%d", index), tag)
}

// CFGEdgeID builds the stable ID for a CFG edge.
func CFGEdgeID(salt []byte, path, blobSHA, funcID, kind, srcBlockID, dstBlockID string) string {
	return StableID(salt, "cfg_edge:"+kind, path, blobSHA, funcID, srcBlockID, dstBlockID)
}
