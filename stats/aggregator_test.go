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
	"fmt"
	"testing"
	"time"

	"fortio.org/assert"
	"github.com/vuswarm/vuswarm/reqevent"
)

func okEvent(name string, ttlb time.Duration) reqevent.Event {
	return reqevent.Event{Name: name, TTFB: ttlb, TTLB: ttlb}
}

func failEvent(name string, ttlb time.Duration, sig string) reqevent.Event {
	return reqevent.Event{Name: name, TTFB: ttlb, TTLB: ttlb, Err: &reqevent.Error{Kind: reqevent.KindOther, Message: sig}}
}

func TestRecordAndRead(t *testing.T) {
	a := New(nil)
	a.Record(okEvent("/", 10*time.Millisecond))
	a.Record(okEvent("/", 20*time.Millisecond))
	a.Record(failEvent("/", 30*time.Millisecond, "boom"))

	names, entries, _, _ := a.Read()
	assert.Equal(t, []string{"/"}, names)
	e := entries["/"]
	assert.Equal(t, int64(3), e.Count)
	assert.Equal(t, int64(1), e.ErrorCount)
	assert.True(t, e.ErrorCount <= e.Count, "error_count must never exceed count")
	assert.Equal(t, 0.03, e.MaxTTLB)

	// delta temporality: a second immediate read sees nothing new.
	names2, entries2, _, _ := a.Read()
	assert.Equal(t, 0, len(names2))
	assert.Equal(t, 0, len(entries2))

	// but the cumulative view retains everything.
	sumNames, sumEntries, _, _ := a.Summary()
	assert.Equal(t, []string{"/"}, sumNames)
	assert.Equal(t, int64(3), sumEntries["/"].Count)
}

func TestMaxTTLBNeverShrinks(t *testing.T) {
	a := New(nil)
	a.Record(okEvent("/", 50*time.Millisecond))
	a.Record(okEvent("/", 5*time.Millisecond))
	_, entries, _, _ := a.Read()
	assert.Equal(t, 0.05, entries["/"].MaxTTLB, "max_ttlb must be the max of all recorded ttlb, not the last one")
}

func TestErrorSignatureOverflow(t *testing.T) {
	a := New(nil)
	for i := 0; i < 300; i++ {
		a.RecordError(fmt.Sprintf("error-%d", i))
	}
	sigs := a.ErrorSignatures()
	assert.Equal(t, DefaultMaxErrorKeys+1, len(sigs), "expect MAX_ERROR_KEYS distinct keys plus OTHER")
	var otherCount int64
	for _, s := range sigs {
		if s.Message == otherKey {
			otherCount = s.Count
		}
	}
	assert.Equal(t, int64(300-DefaultMaxErrorKeys), otherCount, "OTHER must hold exactly the overflow count")
}

func TestRate(t *testing.T) {
	start := time.Now().Add(-10 * time.Second)
	end := start.Add(10 * time.Second)
	e := Entry{Count: 100}
	assert.Equal(t, 10.0, e.Rate(start, end))
}

func TestTotalAggregatesAllNames(t *testing.T) {
	a := New(nil)
	a.Record(okEvent("/a", 10*time.Millisecond))
	a.Record(okEvent("/b", 20*time.Millisecond))
	a.Record(failEvent("/b", 5*time.Millisecond, "x"))
	_, entries, _, _ := a.Read()
	total := Total(entries)
	assert.Equal(t, int64(3), total.Count)
	assert.Equal(t, int64(1), total.ErrorCount)
}
