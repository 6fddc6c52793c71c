// Copyright 2017 Fortio Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package stats

import (
	"flag"
	"sort"
	"sync"
	"time"

	"fortio.org/dflag"
	"fortio.org/log"
	"fortio.org/sets"
	"github.com/vuswarm/vuswarm/reqevent"
)

// DefaultMaxErrorKeys is MAX_ERROR_KEYS from the data model: the bound on
// the number of distinct error-signature strings tracked before overflow
// folds into the OTHER bucket.
const DefaultMaxErrorKeys = 200

// otherKey is the bucket unknown error strings fold into once the cap is reached.
const otherKey = "OTHER"

// Aggregator is a process-wide, thread-safe accumulator of Request events.
// It is owned by one Runner and threaded into every Session; tests construct
// their own private instance (see New), there is no package-level singleton.
type Aggregator struct {
	startTime time.Time

	mu       sync.RWMutex // guards lastTime, interval, names
	lastTime time.Time
	interval map[string]*liveEntry
	names    sets.Set[string] // distinct names seen so far this interval, used to pre-size Read's returned slice

	cumMu      sync.Mutex // guards cumulative, separate from the interval map's lock
	cumulative map[string]Entry

	errMu        sync.Mutex // the spec's "separate small critical section"
	errCounter   map[string]int64
	maxErrorKeys *dflag.DynInt64Value
}

// New creates a fresh Aggregator. flagSet lets callers (tests, or a second
// Runner in the same process) use a private flag.FlagSet instead of
// flag.CommandLine so the MAX_ERROR_KEYS dynamic flag doesn't collide across
// independent runs in the same process.
func New(flagSet *flag.FlagSet) *Aggregator {
	if flagSet == nil {
		flagSet = flag.NewFlagSet("vuswarm-stats", flag.ContinueOnError)
	}
	now := time.Now()
	return &Aggregator{
		startTime:  now,
		lastTime:   now,
		interval:   make(map[string]*liveEntry),
		names:      sets.New[string](),
		cumulative: make(map[string]Entry),
		errCounter: make(map[string]int64),
		maxErrorKeys: dflag.DynInt64(flagSet, "max-error-keys", DefaultMaxErrorKeys,
			"Maximum number of distinct error signatures to track before folding into "+otherKey),
	}
}

// Record ingests one Request event. Safe for concurrent use by many workers.
// No per-event lock is taken on the shared map structure beyond what's needed
// to find-or-create this name's entry; the increments themselves are guarded
// by that single name's own mutex (see liveEntry).
func (a *Aggregator) Record(ev reqevent.Event) {
	le := a.entryFor(ev.Name)
	le.record(ev.TTLB.Seconds(), ev.Failed())
	if ev.Failed() {
		a.RecordError(ev.Err.Signature())
	}
}

func (a *Aggregator) entryFor(name string) *liveEntry {
	a.mu.RLock()
	le, ok := a.interval[name]
	a.mu.RUnlock()
	if ok {
		return le
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if le, ok = a.interval[name]; ok {
		return le
	}
	le = &liveEntry{}
	a.interval[name] = le
	a.names.Add(name)
	return le
}

// RecordError increments the bounded error-signature counter, folding
// overflow keys into OTHER once maxErrorKeys distinct keys are tracked.
func (a *Aggregator) RecordError(signature string) {
	a.errMu.Lock()
	defer a.errMu.Unlock()
	key := signature
	if _, known := a.errCounter[key]; !known && int64(len(a.errCounter)) >= a.maxErrorKeys.Get() {
		if key != otherKey && a.errCounter[otherKey] == 0 {
			log.Warnf("error-signature cap (%d) reached, folding further distinct errors into %q", a.maxErrorKeys.Get(), otherKey)
		}
		key = otherKey
	}
	a.errCounter[key]++
}

// Read rolls the current interval into a snapshot, merges it into the
// cumulative aggregate, and resets the interval for the next tick - "each
// read returns counts since the previous read" (delta temporality).
func (a *Aggregator) Read() (names []string, entries map[string]Entry, start, end time.Time) {
	a.mu.Lock()
	start = a.lastTime
	end = time.Now()
	a.lastTime = end
	live := a.interval
	nameHint := len(a.names)
	a.interval = make(map[string]*liveEntry)
	a.names = sets.New[string]()
	a.mu.Unlock()

	entries = make(map[string]Entry, len(live))
	names = make([]string, 0, nameHint)
	for name, le := range live {
		snap := le.snapshot()
		entries[name] = snap
		names = append(names, name)
	}
	sort.Strings(names)

	a.cumMu.Lock()
	for _, name := range names {
		e := a.cumulative[name]
		e.merge(entries[name])
		a.cumulative[name] = e
	}
	a.cumMu.Unlock()
	return names, entries, start, end
}

// Summary returns the cumulative per-name entries accumulated since New(),
// along with the run's start time and now - used for the final "Summary" table.
// Events of the current, not yet Read interval are included without resetting it.
func (a *Aggregator) Summary() (names []string, entries map[string]Entry, start, end time.Time) {
	a.cumMu.Lock()
	entries = make(map[string]Entry, len(a.cumulative))
	for name, e := range a.cumulative {
		entries[name] = e
	}
	a.cumMu.Unlock()
	a.mu.RLock()
	for name, le := range a.interval {
		e := entries[name]
		e.merge(le.snapshot())
		entries[name] = e
	}
	a.mu.RUnlock()
	names = make([]string, 0, len(entries))
	for name := range entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, entries, a.startTime, time.Now()
}

// ErrorSignature is one row of the bounded error-signature table.
type ErrorSignature struct {
	Message string
	Count   int64
}

// ErrorSignatures returns the error-signature histogram sorted by count
// descending, as used by the final error table.
func (a *Aggregator) ErrorSignatures() []ErrorSignature {
	a.errMu.Lock()
	defer a.errMu.Unlock()
	out := make([]ErrorSignature, 0, len(a.errCounter))
	for msg, count := range a.errCounter {
		out = append(out, ErrorSignature{Message: msg, Count: count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Message < out[j].Message
	})
	return out
}

// HasErrors reports whether any error signature has been recorded.
func (a *Aggregator) HasErrors() bool {
	a.errMu.Lock()
	defer a.errMu.Unlock()
	return len(a.errCounter) > 0
}

// StartTime returns when this Aggregator was created (the run's start, for rate()).
func (a *Aggregator) StartTime() time.Time {
	return a.startTime
}

// Total sums entries into a single Entry, matching the Total row contract.
func Total(entries map[string]Entry) Entry {
	var total Entry
	for _, e := range entries {
		total.merge(e)
	}
	return total
}
