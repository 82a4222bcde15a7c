package latency

import (
	"bytes"
	"encoding/csv"
	"testing"
	"time"
)

func TestTrackerAggregatesWithinMinMaxSum(t *testing.T) {
	tr := newTracker("test.agg", false, 0)

	for i := 0; i < 5; i++ {
		token := tr.Start()
		time.Sleep(time.Millisecond)
		tr.End(token)
	}

	m := tr.Metrics()
	if m.Count != 5 {
		t.Fatalf("want count 5, got %d", m.Count)
	}
	avg := m.SumNS / int64(m.Count)
	if m.MinNS > avg || avg > m.MaxNS {
		t.Fatalf("want min <= avg <= max, got min=%d avg=%d max=%d", m.MinNS, avg, m.MaxNS)
	}
	if len(m.Samples) != 0 {
		t.Fatalf("want no stored samples when storeSamples is false, got %d", len(m.Samples))
	}
}

func TestTrackerEndWithUnknownTokenIsNoOp(t *testing.T) {
	tr := newTracker("test.unknown", false, 0)
	tr.End(9999)

	m := tr.Metrics()
	if m.Count != 0 {
		t.Fatalf("want count 0 after ending an unstarted token, got %d", m.Count)
	}
}

func TestScopeEndIsIdempotent(t *testing.T) {
	tr := newTracker("test.scope", false, 0)
	scope := tr.Begin()
	scope.End()
	scope.End()

	m := tr.Metrics()
	if m.Count != 1 {
		t.Fatalf("want exactly one recorded measurement, got %d", m.Count)
	}
}

func TestPercentileWithSamplesDisabledReturnsZero(t *testing.T) {
	tr := newTracker("test.nosamples", false, 0)
	token := tr.Start()
	tr.End(token)

	if p := tr.Percentile(99); p != 0 {
		t.Fatalf("want 0 when sample storage is disabled, got %v", p)
	}
}

func TestPercentileWithEmptyBufferReturnsZero(t *testing.T) {
	tr := newTracker("test.empty", true, 10)

	if p := tr.Percentile(50); p != 0 {
		t.Fatalf("want 0 for an empty sample buffer, got %v", p)
	}
}

func TestPercentileInterpolatesAcrossSamples(t *testing.T) {
	tr := newTracker("test.percentile", true, 10)
	tr.mu.Lock()
	tr.samples = []int64{10, 20, 30, 40, 50}
	tr.mu.Unlock()

	if p := tr.Percentile(0); p != 10 {
		t.Fatalf("want min at p0, got %v", p)
	}
	if p := tr.Percentile(100); p != 50 {
		t.Fatalf("want max at p100, got %v", p)
	}
	if p := tr.Percentile(50); p != 30 {
		t.Fatalf("want median at p50, got %v", p)
	}
}

func TestTrackerResetClearsAggregatesAndSamples(t *testing.T) {
	tr := newTracker("test.reset", true, 10)
	token := tr.Start()
	tr.End(token)

	tr.Reset()

	m := tr.Metrics()
	if m.Count != 0 || m.SumNS != 0 || len(m.Samples) != 0 {
		t.Fatalf("want zeroed aggregates after reset, got %+v", m)
	}
}

func TestRegistryGetTrackerReturnsSameInstanceForName(t *testing.T) {
	r := NewRegistry()
	a := r.GetTracker("dup", false, 0)
	b := r.GetTracker("dup", true, 500)

	if a != b {
		t.Fatalf("want GetTracker to return the same tracker for a repeated name")
	}
	if b.storeSamples {
		t.Fatalf("want the first call's settings to stick, got storeSamples=true on the second call's args")
	}
}

func TestRegistryResetAllZeroesEveryTracker(t *testing.T) {
	r := NewRegistry()
	t1 := r.GetTracker("one", false, 0)
	t2 := r.GetTracker("two", false, 0)
	t1.End(t1.Start())
	t2.End(t2.Start())

	r.ResetAll()

	if t1.Metrics().Count != 0 || t2.Metrics().Count != 0 {
		t.Fatalf("want every tracker reset, got t1=%+v t2=%+v", t1.Metrics(), t2.Metrics())
	}
}

func TestExportCSVWritesHeaderAndOneRowPerTracker(t *testing.T) {
	r := NewRegistry()
	withSamples := r.GetTracker("with_samples", true, 10)
	withSamples.End(withSamples.Start())
	noSamples := r.GetTracker("no_samples", false, 0)
	noSamples.End(noSamples.Start())

	var buf bytes.Buffer
	if err := r.ExportCSV(&buf); err != nil {
		t.Fatalf("ExportCSV: %v", err)
	}

	rows, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("parse csv: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("want header + 2 rows, got %d rows", len(rows))
	}
	wantHeader := []string{"name", "count", "min_ns", "max_ns", "avg_ns", "avg_us", "avg_ms", "p50_ns", "p90_ns", "p99_ns"}
	for i, col := range wantHeader {
		if rows[0][i] != col {
			t.Fatalf("want header column %d to be %q, got %q", i, col, rows[0][i])
		}
	}

	byName := map[string][]string{}
	for _, row := range rows[1:] {
		byName[row[0]] = row
	}
	if byName["no_samples"][7] != "N/A" {
		t.Fatalf("want N/A percentile columns when samples are disabled, got %+v", byName["no_samples"])
	}
	if byName["with_samples"][7] == "N/A" {
		t.Fatalf("want numeric percentile columns when samples are enabled, got %+v", byName["with_samples"])
	}
}
