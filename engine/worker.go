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
	"fmt"
	"net/http"
	"sync"

	"github.com/vuswarm/vuswarm/stats"
	"github.com/vuswarm/vuswarm/vuhttp"
)

// Worker owns one *http.Transport - the CPU-partitioning unit the redesign
// guidance keeps from the source's OS-thread model even after collapsing
// VUs to goroutines - and launches VUs onto it on demand, either all at
// once or incrementally under the Runner's spawn-rate ramp.
type Worker struct {
	id        int
	transport http.RoundTripper
	newUser   NewUserFunc
	running   *runningFlag
	agg       *stats.Aggregator

	wg      sync.WaitGroup
	errMu   sync.Mutex
	errs    []error
	started int
}

// NewWorker builds a worker bound to a fresh transport built from cfg, then
// asks newUserFactory to build the NewUserFunc every VU launched on this
// worker will use - so sessions those VUs build are wired against this
// worker's own transport, not some pool shared by every worker.
func NewWorker(id int, cfg vuhttp.TransportConfig, newUserFactory NewUserFactory, running *runningFlag, agg *stats.Aggregator) *Worker {
	transport := vuhttp.NewTransport(cfg)
	return &Worker{
		id:        id,
		transport: transport,
		newUser:   newUserFactory(transport),
		running:   running,
		agg:       agg,
	}
}

// Transport exposes the worker's shared *http.Transport, for a NewUserFunc
// that needs to build its Session against this specific worker's pool.
func (w *Worker) Transport() http.RoundTripper { return w.transport }

// LaunchMore starts k additional VUs as goroutines - the launch_more(k) the
// spawn-rate ramp dispatches onto each worker in round-robin. It is not safe
// for concurrent calls, nor to call concurrently with Wait; the Runner calls
// it from one goroutine and calls Wait only after spawning has finished.
func (w *Worker) LaunchMore(ctx context.Context, k int) {
	for i := 0; i < k; i++ {
		w.wg.Add(1)
		id := w.started
		w.started++
		go func() {
			defer w.wg.Done()
			v := &vu{id: id, newUser: w.newUser, running: w.running, agg: w.agg}
			if err := v.run(ctx); err != nil {
				w.errMu.Lock()
				w.errs = append(w.errs, fmt.Errorf("worker %d: %w", w.id, err))
				w.errMu.Unlock()
			}
		}()
	}
}

// Wait blocks until every VU launched on this worker has returned, then
// returns whatever engine-internal errors they reported - "gather worker
// results tolerantly: one worker's crash must not cancel siblings".
func (w *Worker) Wait() []error {
	w.wg.Wait()
	w.errMu.Lock()
	defer w.errMu.Unlock()
	return w.errs
}
