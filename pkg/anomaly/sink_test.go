package anomaly

import (
	"sync"
	"testing"

	"github.com/hatlesswizard/ucg/pkg/rows"
)

func TestSinkRecordAndSnapshot(t *testing.T) {
	s := NewSink(NewMetrics(), nil)
	s.Record(rows.AnomalyRow{Path: "a.py", Kind: rows.AnomalyTimeout, Severity: rows.SevWarn, Detail: "slow"}, 100)
	s.Record(rows.AnomalyRow{Path: "b.py", Kind: rows.AnomalyIOError, Severity: rows.SevError, Detail: "boom"}, 200)

	if s.Count() != 2 {
		t.Fatalf("expected 2 recorded anomalies, got %d", s.Count())
	}
	snap := s.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("expected snapshot of length 2, got %d", len(snap))
	}
	if snap[0].Timestamp != 100 || snap[1].Timestamp != 200 {
		t.Errorf("expected Record to stamp the caller-supplied timestamp, got %+v", snap)
	}

	// Snapshot is a copy: mutating it must not affect the sink's own state.
	snap[0].Path = "mutated"
	if s.Snapshot()[0].Path == "mutated" {
		t.Error("expected Snapshot to return an independent copy")
	}
}

func TestSinkRecordIsConcurrencySafe(t *testing.T) {
	s := NewSink(NewMetrics(), nil)
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s.Record(rows.AnomalyRow{Path: "f.py", Kind: rows.AnomalyUnknown, Severity: rows.SevInfo}, int64(i))
		}(i)
	}
	wg.Wait()
	if s.Count() != 100 {
		t.Fatalf("expected 100 recorded anomalies from concurrent callers, got %d", s.Count())
	}
}

func TestMetricsObserveDoesNotPanicAcrossSeverities(t *testing.T) {
	m := NewMetrics()
	for _, sev := range []rows.Severity{rows.SevInfo, rows.SevWarn, rows.SevError} {
		m.Observe(rows.AnomalyRow{Kind: rows.AnomalyUnknown, Severity: sev})
	}
	m.FileDiscovered()
	m.FileParsed(1024)
	m.RowEmitted("nodes")
	m.FlushObserved(4096)

	mf, err := m.Registry().Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	if len(mf) == 0 {
		t.Fatal("expected at least one registered metric family")
	}
}
