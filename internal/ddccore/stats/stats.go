// Package stats implements the diagnostics counters:
// a per-retry-class histogram of how many tries each exchange needed,
// plus named function timing, both readable without ever blocking a
// concurrent writer: reading statistics must never stall an in-flight
// exchange.
package stats

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/ddcctl-project/ddcctl/internal/ddccore/retry"
)

// histogramSize covers every possible try count (1..MaxMaxTries) plus
// a slot 0 for "not applicable" bookkeeping.
const histogramSize = retry.MaxMaxTries + 2

// ClassStats is the lock-free counter set for one retry.Class.
type ClassStats struct {
	attempts  atomic.Uint64
	successes atomic.Uint64
	failures  atomic.Uint64
	// triesHistogram[n] counts exchanges that succeeded (or gave up)
	// after exactly n tries.
	triesHistogram [histogramSize]atomic.Uint64
}

// RecordSuccess records an exchange that succeeded after tries
// attempts.
func (c *ClassStats) RecordSuccess(tries int) {
	c.attempts.Add(uint64(tries))
	c.successes.Add(1)
	c.bump(tries)
}

// RecordFailure records an exchange that exhausted its retry budget
// after tries attempts.
func (c *ClassStats) RecordFailure(tries int) {
	c.attempts.Add(uint64(tries))
	c.failures.Add(1)
	c.bump(tries)
}

func (c *ClassStats) bump(tries int) {
	if tries < 0 {
		tries = 0
	}
	if tries >= histogramSize {
		tries = histogramSize - 1
	}
	c.triesHistogram[tries].Add(1)
}

// Seed adds previously persisted counts onto a freshly constructed
// ClassStats, letting a caller restore a display's history from a
// prior run without replaying its try-count histogram (which is not
// persisted).
func (c *ClassStats) Seed(attempts, successes, failures uint64) {
	c.attempts.Add(attempts)
	c.successes.Add(successes)
	c.failures.Add(failures)
}

// Snapshot is a point-in-time, race-free copy of a ClassStats.
type Snapshot struct {
	Attempts  uint64
	Successes uint64
	Failures  uint64
	Histogram [histogramSize]uint64
}

// Snapshot copies the current counter values. Safe to call
// concurrently with any Record* call; never blocks a writer.
func (c *ClassStats) Snapshot() Snapshot {
	var s Snapshot
	s.Attempts = c.attempts.Load()
	s.Successes = c.successes.Load()
	s.Failures = c.failures.Load()
	for i := range c.triesHistogram {
		s.Histogram[i] = c.triesHistogram[i].Load()
	}
	return s
}

// Registry holds one ClassStats per retry.Class and a table of
// arbitrarily-named function timers, grounded the way ddcutil's
// internal performance stats track named call sites.
type Registry struct {
	classes [4]ClassStats // indexed by retry.Class
	funcs   sync.Map       // string -> *FuncStats
}

// NewRegistry returns an empty, ready-to-use Registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Class returns the counters for class, creating none — the array is
// preallocated for all four classes.
func (r *Registry) Class(class retry.Class) *ClassStats {
	return &r.classes[class]
}

// FuncStats accumulates call count and total elapsed time for one
// named function.
type FuncStats struct {
	calls   atomic.Uint64
	elapsed atomic.Int64 // nanoseconds
}

// FuncSnapshot is a race-free copy of FuncStats.
type FuncSnapshot struct {
	Calls        uint64
	TotalElapsed time.Duration
}

// Snapshot copies the current counter values.
func (f *FuncStats) Snapshot() FuncSnapshot {
	return FuncSnapshot{
		Calls:        f.calls.Load(),
		TotalElapsed: time.Duration(f.elapsed.Load()),
	}
}

// Profile runs fn, recording its call count and elapsed time under
// name, and returns whatever fn returns.
func (r *Registry) Profile(name string, fn func() error) error {
	start := time.Now()
	err := fn()
	elapsed := time.Since(start)

	v, _ := r.funcs.LoadOrStore(name, &FuncStats{})
	fs := v.(*FuncStats)
	fs.calls.Add(1)
	fs.elapsed.Add(int64(elapsed))

	return err
}

// FuncSnapshot returns a snapshot of the named function's counters,
// or the zero value if name was never profiled.
func (r *Registry) FuncSnapshot(name string) FuncSnapshot {
	v, ok := r.funcs.Load(name)
	if !ok {
		return FuncSnapshot{}
	}
	return v.(*FuncStats).Snapshot()
}

// FuncNames returns every name passed to Profile so far, in no
// particular order.
func (r *Registry) FuncNames() []string {
	var names []string
	r.funcs.Range(func(k, _ any) bool {
		names = append(names, k.(string))
		return true
	})
	return names
}
