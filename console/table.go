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

// Package console renders the Stats aggregator's interval and cumulative
// views to a terminal. Column layout follows fortio's stats.Counter.Print /
// HistogramData.Print convention of hand-formatted fmt.Fprintf rows rather
// than text/tabwriter - this corpus never reaches for a table library, so
// none is introduced here either (see DESIGN.md).
package console // import "github.com/vuswarm/vuswarm/console"

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/fatih/color"
	"github.com/vuswarm/vuswarm/stats"
)

const maxNameWidth = 30

// Printer renders an Aggregator's views to out. One Printer per Runner.
type Printer struct {
	out   io.Writer
	agg   *stats.Aggregator
	color bool
}

// NewPrinter builds a Printer writing to out. Color is enabled unless
// color.NoColor is set; that auto-detection inspects os.Stdout, not out.
func NewPrinter(out io.Writer, agg *stats.Aggregator) *Printer {
	return &Printer{out: out, agg: agg, color: !color.NoColor}
}

// PrintInterval renders the current-interval table: "the periodic 2-second
// live table."
func (p *Printer) PrintInterval() {
	names, entries, start, end := p.agg.Read()
	p.printTable("", names, entries, start, end)
}

// PrintSummary renders the cumulative table titled "Summary", followed by
// the bounded error-signature table when it is non-empty.
func (p *Printer) PrintSummary() {
	names, entries, start, end := p.agg.Summary()
	p.printTable("Summary", names, entries, start, end)
	if p.agg.HasErrors() {
		p.printErrors()
	}
}

func (p *Printer) printTable(title string, names []string, entries map[string]stats.Entry, start, end time.Time) {
	if title != "" {
		fmt.Fprintf(p.out, "%s\n", title)
	}
	fmt.Fprintf(p.out, "%-30s %10s %18s %10s %10s %12s\n", "Name", "Count", "Failures", "Avg", "Max", "Rate")

	total := stats.Total(entries)
	if total.Count == 0 {
		fmt.Fprintf(p.out, "%-30s %10s %18s %10s %10s %12s\n", "Total", "0", "", "", "", "")
		return
	}

	sort.Strings(names)
	for _, name := range names {
		p.printRow(truncateName(name), entries[name], start, end)
	}
	p.printRow("Total", total, start, end)
}

func (p *Printer) printRow(name string, e stats.Entry, start, end time.Time) {
	failCol := fmt.Sprintf("%d (%.1f%%)", e.ErrorCount, e.ErrorPercentage())
	if p.color && e.ErrorCount > 0 {
		failCol = color.RedString("%s", failCol)
	}
	fmt.Fprintf(p.out, "%-30s %10d %18s %9.1fms %9.1fms %10.2f/s\n",
		name, e.Count, failCol, e.Avg()*1000, e.MaxTTLB*1000, e.Rate(start, end))
}

func (p *Printer) printErrors() {
	fmt.Fprintf(p.out, "%10s  %s\n", "Count", "Error")
	for _, sig := range p.agg.ErrorSignatures() {
		fmt.Fprintf(p.out, "%10d  %s\n", sig.Count, sig.Message)
	}
}

func truncateName(name string) string {
	if len(name) <= maxNameWidth {
		return name
	}
	return name[:maxNameWidth-1] + "…"
}
