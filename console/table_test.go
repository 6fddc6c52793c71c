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

package console

import (
	"bytes"
	"strings"
	"testing"

	"fortio.org/assert"
	"github.com/vuswarm/vuswarm/reqevent"
	"github.com/vuswarm/vuswarm/stats"
)

func TestPrintSummaryZeroTotal(t *testing.T) {
	var buf bytes.Buffer
	agg := stats.New(nil)
	p := NewPrinter(&buf, agg)
	p.PrintSummary()
	out := buf.String()
	assert.True(t, strings.Contains(out, "Summary"))
	for _, line := range strings.Split(out, "\n") {
		if strings.HasPrefix(line, "Total") {
			fields := strings.Fields(line)
			assert.Equal(t, 2, len(fields), "zero-count Total row must show only the zero literal, rest blank")
			assert.Equal(t, "Total", fields[0])
			assert.Equal(t, "0", fields[1])
			return
		}
	}
	t.Fatal("no Total row found in zero-count summary")
}

func TestPrintSummaryWithErrors(t *testing.T) {
	var buf bytes.Buffer
	agg := stats.New(nil)
	agg.Record(reqevent.Event{Name: "/404", TTLB: 0, Err: &reqevent.Error{Kind: reqevent.KindStatus, StatusCode: 404, Message: "Not Found"}})
	p := NewPrinter(&buf, agg)
	p.PrintSummary()
	out := buf.String()
	assert.True(t, strings.Contains(out, "/404"))
	assert.True(t, strings.Contains(out, "404, Not Found"), "error table must show the 404-prefixed signature")
}

func TestTruncateName(t *testing.T) {
	short := "short"
	assert.Equal(t, short, truncateName(short))
	long := strings.Repeat("x", 40)
	truncated := truncateName(long)
	assert.True(t, len([]rune(truncated)) <= maxNameWidth)
}
