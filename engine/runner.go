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

package engine

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sync"
	"time"

	"fortio.org/log"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/vuswarm/vuswarm/console"
	"github.com/vuswarm/vuswarm/stats"
	"github.com/vuswarm/vuswarm/vuhttp"
)

// State is one of the Runner's four lifecycle states.
type State int

const (
	StateIdle State = iota
	StateRunning
	StateDraining
	StateDone
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateDone:
		return "done"
	default:
		return "unknown"
	}
}

// printInterval is the periodic live-table cadence.
const printInterval = 2 * time.Second

// Options configures a Runner. Zero-valued Workers/SpawnRate get the
// documented defaults applied by Normalize.
type Options struct {
	// Users is the total VU count to run (N in the even-distribution rule).
	Users int
	// Duration is the optional run length; zero means run until SIGINT or
	// external Stop().
	Duration time.Duration
	// Workers overrides the default worker count (max(cpu_count/2, 1)).
	Workers int
	// SpawnRate, if > 0, ramps VUs in at this many per second instead of
	// launching all Users immediately.
	SpawnRate float64
	// NewUser builds one User per VU, given the owning Worker's transport -
	// see NewHTTPUser for the common case. Every Worker calls this once
	// against its own *http.Transport, so VUs on different workers build
	// sessions against different connection pools.
	NewUser NewUserFactory
	// Transport configures the *http.Transport each Worker builds.
	Transport vuhttp.TransportConfig
	// Out receives the periodic and summary tables; defaults to os.Stdout.
	Out *os.File
}

// Normalize fills in zero-valued fields with their documented defaults -
// "Determine default worker count: max(cpu_count / 2, 1)".
func (o *Options) Normalize() {
	if o.Users <= 0 {
		o.Users = 1
	}
	if o.Workers <= 0 {
		o.Workers = defaultWorkerCount()
	}
	if o.Out == nil {
		o.Out = os.Stdout
	}
}

// defaultWorkerCount reflects "the workload is I/O-bound and additional
// loops contend rather than accelerate": half the detected (cgroup-aware)
// CPU count, floor 1. gopsutil's cpu.Counts is used instead of
// runtime.NumCPU so a container's cgroup quota is honored rather than the
// host's full core count; automaxprocs (wired in cmd/vuswarm) keeps
// GOMAXPROCS itself consistent with the same quota.
func defaultWorkerCount() int {
	n, err := cpu.Counts(true)
	if err != nil || n <= 0 {
		log.Warnf("could not detect cpu count (%v), defaulting to 1 worker", err)
		return 1
	}
	w := n / 2
	if w < 1 {
		w = 1
	}
	return w
}

// Runner owns the global lifecycle: spawns workers, distributes VUs,
// enforces duration, handles interrupt signals, drives periodic table
// printing, collects final summary.
type Runner struct {
	opts    Options
	agg     *stats.Aggregator
	running *runningFlag
	workers []*Worker

	mu    sync.Mutex
	state State
}

// NewRunner builds a Runner against agg (callers own agg so it can also be
// threaded into test assertions); opts is normalized in place.
func NewRunner(opts Options, agg *stats.Aggregator) *Runner {
	opts.Normalize()
	return &Runner{opts: opts, agg: agg, running: newRunningFlag(), state: StateIdle}
}

// State reports the Runner's current lifecycle state.
func (r *Runner) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Runner) setState(s State) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
}

// Stop triggers shutdown exactly like a first SIGINT: running flips false,
// VUs exit after their current iteration. Safe to call more than once and
// from any goroutine.
func (r *Runner) Stop() {
	r.running.stop()
}

// Run drives one complete test: idle -> running -> draining -> done. It
// blocks until every worker has joined (or duration/SIGINT triggers
// shutdown) and returns the engine-internal errors gathered from workers,
// never scenario-level failures - "only configuration failures and
// unrecoverable engine-internal failures surface to the caller."
func (r *Runner) Run(ctx context.Context) error {
	r.setState(StateRunning)
	defer r.setState(StateDone)

	counts := evenDistribution(r.opts.Users, r.opts.Workers)
	r.workers = make([]*Worker, len(counts))
	for i := range r.workers {
		r.workers[i] = NewWorker(i, r.opts.Transport, r.opts.NewUser, r.running, r.agg)
	}

	stopSig := r.installSignalHandler()
	defer stopSig()

	var timer *time.Timer
	if r.opts.Duration > 0 {
		timer = time.NewTimer(r.opts.Duration)
		defer timer.Stop()
	}

	printer := console.NewPrinter(r.opts.Out, r.agg)
	ticker := time.NewTicker(printInterval)
	defer ticker.Stop()

	spawnDone := make(chan struct{})
	go func() {
		defer close(spawnDone)
		r.spawn(ctx, counts)
	}()

	firstTick := true
	joined := make(chan struct{})
	go func() {
		<-spawnDone // no Wait may see a worker before its VUs are launched
		for _, w := range r.workers {
			w.Wait()
		}
		close(joined)
	}()

loop:
	for {
		var timerC <-chan time.Time
		if timer != nil {
			timerC = timer.C
		}
		select {
		case <-ticker.C:
			if firstTick {
				// "skip the very first tick to allow data to accumulate"
				firstTick = false
				continue
			}
			printer.PrintInterval()
		case <-timerC:
			log.Infof("duration elapsed, shutting down")
			r.setState(StateDraining)
			r.running.stop()
		case <-joined:
			break loop
		}
	}
	<-spawnDone
	r.setState(StateDraining)

	var errs []error
	for _, w := range r.workers {
		errs = append(errs, w.Wait()...)
	}
	printer.PrintSummary()

	return errors.Join(errs...)
}

// spawn dispatches VUs to workers: all at once if no spawn rate is set,
// otherwise via a token-bucket ramp releasing SpawnRate VUs/sec
// round-robin across workers, accumulating fractional budget per tick so
// non-integer rates are honored over time.
func (r *Runner) spawn(ctx context.Context, counts []int) {
	if r.opts.SpawnRate <= 0 {
		for i, w := range r.workers {
			w.LaunchMore(ctx, counts[i])
		}
		return
	}

	remaining := make([]int, len(counts))
	copy(remaining, counts)
	total := 0
	for _, c := range counts {
		total += c
	}

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	budget := 0.0
	next := 0
	for total > 0 {
		if r.running.stopped() {
			return
		}
		budget += r.opts.SpawnRate
		for budget >= 1 && total > 0 {
			// round-robin to the next worker that still has quota left
			for remaining[next] == 0 {
				next = (next + 1) % len(remaining)
			}
			r.workers[next].LaunchMore(ctx, 1)
			remaining[next]--
			total--
			budget--
			next = (next + 1) % len(remaining)
		}
		if total == 0 {
			return
		}
		select {
		case <-ticker.C:
		case <-r.running.done:
			return
		}
	}
}

// evenDistribution splits n users across w workers: every worker gets
// floor(n/w), the first n mod w workers get one extra.
func evenDistribution(n, w int) []int {
	if w <= 0 {
		w = 1
	}
	base := n / w
	extra := n % w
	counts := make([]int, w)
	for i := range counts {
		counts[i] = base
		if i < extra {
			counts[i]++
		}
	}
	return counts
}

// installSignalHandler wires the two-state SIGINT handler: first delivery
// flips running, lets the summary print as usual and restores the default
// handler, so a second ^C kills the process outright.
func (r *Runner) installSignalHandler() func() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	done := make(chan struct{})
	go func() {
		select {
		case <-sigCh:
			log.Infof("interrupt received, shutting down (press again to force quit)")
			r.setState(StateDraining)
			r.running.stop()
			signal.Stop(sigCh)
			signal.Reset(os.Interrupt)
		case <-done:
		}
	}()
	return func() {
		close(done)
		signal.Stop(sigCh)
	}
}
