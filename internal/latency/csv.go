package latency

import (
	"encoding/csv"
	"fmt"
	"io"
	"sort"
)

var csvHeader = []string{
	"name", "count", "min_ns", "max_ns",
	"avg_ns", "avg_us", "avg_ms",
	"p50_ns", "p90_ns", "p99_ns",
}

// ExportCSV writes one row per registered tracker to w, in a
// deterministic (name-sorted) order.
func (r *Registry) ExportCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}

	trackers := r.All()
	names := make([]string, 0, len(trackers))
	for name := range trackers {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		t := trackers[name]
		if err := cw.Write(csvRow(t)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func csvRow(t *Tracker) []string {
	m := t.Metrics()
	avgNS := m.AverageNS()

	row := []string{
		m.Name,
		fmt.Sprintf("%d", m.Count),
		fmt.Sprintf("%d", m.MinNS),
		fmt.Sprintf("%d", m.MaxNS),
		fmt.Sprintf("%.2f", avgNS),
		fmt.Sprintf("%.2f", avgNS/1e3),
		fmt.Sprintf("%.2f", avgNS/1e6),
	}

	if !t.SamplesEnabled() {
		return append(row, "N/A", "N/A", "N/A")
	}
	return append(row,
		fmt.Sprintf("%.2f", t.Percentile(50)),
		fmt.Sprintf("%.2f", t.Percentile(90)),
		fmt.Sprintf("%.2f", t.Percentile(99)),
	)
}
