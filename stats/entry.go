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

// Package stats is the concurrent statistics aggregator: it ingests Request
// events from every worker and produces bounded interval and cumulative
// summaries. The Counter/merge shape is adapted from fortio's stats.Counter -
// count/sum/max bookkeeping - trimmed of the percentile histogram buckets
// that a single fixed-QPS benchmark run needs but a per-name VU table does
// not (see DESIGN.md).
package stats // import "github.com/vuswarm/vuswarm/stats"

import (
	"sync"
	"time"
)

// Entry is one immutable snapshot of a Per-name entry: count, error_count,
// sum_ttlb, max_ttlb, as named in the data model.
type Entry struct {
	Count      int64
	ErrorCount int64
	SumTTLB    float64 // seconds
	MaxTTLB    float64 // seconds
}

// Avg returns the mean ttlb in seconds, 0 if Count is 0.
func (e Entry) Avg() float64 {
	if e.Count == 0 {
		return 0
	}
	return e.SumTTLB / float64(e.Count)
}

// ErrorPercentage returns the error rate as a 0-100 percentage.
func (e Entry) ErrorPercentage() float64 {
	if e.Count == 0 {
		return 0
	}
	return 100. * float64(e.ErrorCount) / float64(e.Count)
}

// Rate returns count per second over [start, end].
func (e Entry) Rate(start, end time.Time) float64 {
	d := end.Sub(start).Seconds()
	if d <= 0 {
		return 0
	}
	return float64(e.Count) / d
}

// merge adds o into e in place (e += o), matching the teacher's Counter.Transfer
// intent but without clearing the source (the caller owns that).
func (e *Entry) merge(o Entry) {
	e.Count += o.Count
	e.ErrorCount += o.ErrorCount
	e.SumTTLB += o.SumTTLB
	if o.MaxTTLB > e.MaxTTLB {
		e.MaxTTLB = o.MaxTTLB
	}
}

// liveEntry is the mutable, lock-striped accumulator backing one name in the
// current interval. Each name gets its own mutex so that concurrent VUs
// recording under different names never contend with one another - only
// same-name VUs (typically parameterized requests sharing a rename) do.
type liveEntry struct {
	mu sync.Mutex
	e  Entry
}

func (l *liveEntry) record(ttlb float64, failed bool) {
	l.mu.Lock()
	l.e.Count++
	if failed {
		l.e.ErrorCount++
	}
	l.e.SumTTLB += ttlb
	if ttlb > l.e.MaxTTLB {
		l.e.MaxTTLB = ttlb
	}
	l.mu.Unlock()
}

func (l *liveEntry) snapshot() Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.e
}
