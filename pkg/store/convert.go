package store

import (
	"encoding/json"

	"github.com/hatlesswizard/ucg/pkg/provenance"
	"github.com/hatlesswizard/ucg/pkg/rows"
)

func fromNode(r rows.NodeRow) NodeRowPQ {
	return NodeRowPQ{
		SchemaVersion: SchemaVersion, ID: r.ID, Kind: string(r.Kind), Name: r.Name,
		Path: r.Path, Lang: r.Lang, AttrsJSON: r.AttrsJSON,
		ByteStart: i64(r.Prov.ByteStart), ByteEnd: i64(r.Prov.ByteEnd),
		LineStart: i64(r.Prov.LineStart), LineEnd: i64(r.Prov.LineEnd),
		BlobSHA: r.Prov.BlobSHA, RunID: r.Prov.RunID, ConfigHash: r.Prov.ConfigHash,
		GrammarSHA: r.Prov.GrammarSHA,
	}
}

func fromEdge(r rows.EdgeRow) EdgeRowPQ {
	return EdgeRowPQ{
		SchemaVersion: SchemaVersion, ID: r.ID, Kind: string(r.Kind), SrcID: r.SrcID, DstID: r.DstID,
		Path: r.Path, Lang: r.Lang, AttrsJSON: r.AttrsJSON,
		ByteStart: i64(r.Prov.ByteStart), ByteEnd: i64(r.Prov.ByteEnd),
		BlobSHA: r.Prov.BlobSHA, RunID: r.Prov.RunID, ConfigHash: r.Prov.ConfigHash,
	}
}

func fromCFGBlock(r rows.CFGBlockRow) CFGBlockRowPQ {
	return CFGBlockRowPQ{
		SchemaVersion: SchemaVersion, ID: r.ID, FuncID: r.FuncID, Kind: string(r.Kind),
		Idx: int64(r.Index), Path: r.Path, Lang: r.Lang, AttrsJSON: r.AttrsJSON,
		ByteStart: i64(r.Prov.ByteStart), RunID: r.Prov.RunID, BlobSHA: r.Prov.BlobSHA,
	}
}

func fromCFGEdge(r rows.CFGEdgeRow) CFGEdgeRowPQ {
	return CFGEdgeRowPQ{
		SchemaVersion: SchemaVersion, ID: r.ID, FuncID: r.FuncID, Kind: string(r.Kind),
		SrcBlockID: r.SrcBlockID, DstBlockID: r.DstBlockID,
		RunID: r.Prov.RunID, Path: r.Prov.Path, BlobSHA: r.Prov.BlobSHA,
	}
}

func fromDFGNode(r rows.DFGNodeRow) DFGNodeRowPQ {
	return DFGNodeRowPQ{
		SchemaVersion: SchemaVersion, ID: r.ID, FuncID: r.FuncID, Kind: string(r.Kind),
		Name: r.Name, Version: versionOrNeg1(r.Version), Path: r.Path, Lang: r.Lang,
		AttrsJSON: r.AttrsJSON, ByteStart: i64(r.Prov.ByteStart),
		RunID: r.Prov.RunID, BlobSHA: r.Prov.BlobSHA,
	}
}

func fromDFGEdge(r rows.DFGEdgeRow) DFGEdgeRowPQ {
	return DFGEdgeRowPQ{
		SchemaVersion: SchemaVersion, ID: r.ID, FuncID: r.FuncID, Kind: string(r.Kind),
		SrcID: r.SrcID, DstID: r.DstID,
		RunID: r.Prov.RunID, Path: r.Prov.Path, BlobSHA: r.Prov.BlobSHA,
	}
}

func fromSymbol(r rows.SymbolRow) SymbolRowPQ {
	return SymbolRowPQ{
		SchemaVersion: SchemaVersion, ID: r.ID, ScopeID: r.ScopeID, Name: r.Name,
		Kind: string(r.Kind), Visibility: string(r.Visibility), IsDynamic: r.IsDynamic,
		AttrsJSON: r.AttrsJSON, ByteStart: i64(r.Prov.ByteStart),
		Path: r.Prov.Path, Lang: r.Prov.Language, RunID: r.Prov.RunID, BlobSHA: r.Prov.BlobSHA,
	}
}

func fromAlias(r rows.AliasRow) AliasRowPQ {
	return AliasRowPQ{
		SchemaVersion: SchemaVersion, ID: r.ID, AliasKind: string(r.AliasKind),
		AliasID: r.AliasID, TargetSymbolID: r.TargetSymbolID, AliasName: r.AliasName,
		AttrsJSON: r.AttrsJSON, ByteStart: i64(r.Prov.ByteStart),
		Path: r.Prov.Path, RunID: r.Prov.RunID, BlobSHA: r.Prov.BlobSHA,
	}
}

func fromEffect(r rows.EffectRow) EffectRowPQ {
	return EffectRowPQ{
		SchemaVersion: SchemaVersion, ID: r.ID, Kind: string(r.Kind), Carrier: r.Carrier,
		ArgsJSON: r.ArgsJSON, AttrsJSON: r.AttrsJSON,
		ByteStart: i64(r.Prov.ByteStart), ByteEnd: i64(r.Prov.ByteEnd),
		Path: r.Prov.Path, Lang: r.Prov.Language, RunID: r.Prov.RunID, BlobSHA: r.Prov.BlobSHA,
	}
}

func fromAnomaly(r rows.AnomalyRow, seq int64, runID string) AnomalyRowPQ {
	return AnomalyRowPQ{
		SchemaVersion: SchemaVersion, Seq: seq, Path: r.Path, BlobSHA: r.BlobSHA,
		Kind: string(r.Kind), Severity: string(r.Severity), Detail: r.Detail,
		SpanStart: spanOrNeg1(r.SpanStart), SpanEnd: spanOrNeg1(r.SpanEnd),
		Timestamp: r.Timestamp, RunID: runID,
	}
}

// provenanceV2Row builds the optional sidecar row for one baseline row,
// keyed by that row's own ID, per spec.md §9's provenance_v2 (shares IDs
// with baseline tables rather than duplicating their columns).
func provenanceV2Row(rowID string, p provenance.Provenance) ProvenanceV2RowPQ {
	return ProvenanceV2RowPQ{
		SchemaVersion:    SchemaVersion,
		RowID:            rowID,
		EnricherVersions: marshalVersions(p.EnricherVersions),
		ConfidenceJSON:   marshalConfidence(p.Confidence),
		RunID:            p.RunID,
	}
}

func marshalVersions(m map[string]string) string {
	b, err := json.Marshal(m)
	if err != nil {
		return "{}"
	}
	return string(b)
}

func marshalConfidence(m map[string]interface{}) string {
	if m == nil {
		return "{}"
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "{}"
	}
	return string(b)
}
