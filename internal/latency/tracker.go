package latency

import (
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Metric is the point-in-time snapshot of a Tracker's aggregates.
type Metric struct {
	Name    string
	Count   uint64
	MinNS   int64
	MaxNS   int64
	SumNS   int64
	Samples []int64 // nanoseconds; empty when sample storage is disabled
}

// AverageNS returns sum/count, or 0 for an empty tracker.
func (m Metric) AverageNS() float64 {
	if m.Count == 0 {
		return 0
	}
	return float64(m.SumNS) / float64(m.Count)
}

// Tracker is a single named latency histogram. Start/End pairs are
// matched by token; percentile queries sort a copy of the sample
// buffer and linearly interpolate.
type Tracker struct {
	name         string
	storeSamples bool
	maxSamples   int

	mu      sync.Mutex
	count   uint64
	minNS   int64
	maxNS   int64
	sumNS   int64
	samples []int64

	nextToken uint64
	starts    sync.Map // uint64 -> time.Time
}

func newTracker(name string, storeSamples bool, maxSamples int) *Tracker {
	if maxSamples <= 0 {
		maxSamples = 1000
	}
	return &Tracker{
		name:         name,
		storeSamples: storeSamples,
		maxSamples:   maxSamples,
		minNS:        math.MaxInt64,
		maxNS:        math.MinInt64,
	}
}

// Start begins timing an operation and returns an opaque token to pass
// to End. Safe for concurrent callers.
func (t *Tracker) Start() uint64 {
	token := atomic.AddUint64(&t.nextToken, 1)
	t.starts.Store(token, time.Now())
	return token
}

// End closes out a Start token, folding the elapsed delta into the
// tracker's aggregates. A token with no matching Start (already ended,
// or from a different tracker) is a silent no-op.
func (t *Tracker) End(token uint64) {
	v, ok := t.starts.LoadAndDelete(token)
	if !ok {
		return
	}
	started := v.(time.Time)
	delta := time.Since(started).Nanoseconds()

	t.mu.Lock()
	defer t.mu.Unlock()
	t.count++
	t.sumNS += delta
	if delta < t.minNS {
		t.minNS = delta
	}
	if delta > t.maxNS {
		t.maxNS = delta
	}
	if t.storeSamples && len(t.samples) < t.maxSamples {
		t.samples = append(t.samples, delta)
	}
}

// Scope is a scoped measurement returned by Begin; callers defer its
// End method.
type Scope struct {
	tracker *Tracker
	token   uint64
	ended   bool
}

// Begin starts a scoped measurement. End is safe to call multiple
// times; only the first call is honored, so a deferred End after an
// explicit early End remains harmless.
func (t *Tracker) Begin() *Scope {
	return &Scope{tracker: t, token: t.Start()}
}

// End closes the scope. Safe on all exit paths: normal return, error
// return, or panic unwind via defer.
func (s *Scope) End() {
	if s.ended {
		return
	}
	s.ended = true
	s.tracker.End(s.token)
}

// Metrics returns a snapshot of the tracker's current aggregates.
func (t *Tracker) Metrics() Metric {
	t.mu.Lock()
	defer t.mu.Unlock()
	m := Metric{Name: t.name, Count: t.count, SumNS: t.sumNS}
	if t.count > 0 {
		m.MinNS, m.MaxNS = t.minNS, t.maxNS
	}
	if t.storeSamples {
		m.Samples = append([]int64(nil), t.samples...)
	}
	return m
}

// Reset zeros the aggregates and clears stored samples, keeping the
// tracker registered under its name.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.count = 0
	t.sumNS = 0
	t.minNS = math.MaxInt64
	t.maxNS = math.MinInt64
	t.samples = nil
}

// Percentile returns the linearly-interpolated latency, in nanoseconds,
// at the given percentile (0-100) over the stored sample buffer. With
// sample storage disabled or an empty buffer, it returns 0.
func (t *Tracker) Percentile(p float64) float64 {
	t.mu.Lock()
	samples := append([]int64(nil), t.samples...)
	t.mu.Unlock()

	if len(samples) == 0 {
		return 0
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })

	if p <= 0 {
		return float64(samples[0])
	}
	if p >= 100 {
		return float64(samples[len(samples)-1])
	}

	rank := (p / 100) * float64(len(samples)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return float64(samples[lo])
	}
	frac := rank - float64(lo)
	return float64(samples[lo])*(1-frac) + float64(samples[hi])*frac
}

// SamplesEnabled reports whether this tracker stores individual
// samples, which gates whether Percentile can return a real value.
func (t *Tracker) SamplesEnabled() bool {
	return t.storeSamples
}
