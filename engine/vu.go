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
	"fmt"
	"runtime/debug"

	"fortio.org/log"
	"github.com/vuswarm/vuswarm/stats"
	"github.com/vuswarm/vuswarm/vuhttp"
)

// runningFlag is the Runner's single-writer, many-reader shutdown signal -
// "running: single writer (Runner / signal handler); many readers; atomic
// visibility required". Backed by a channel close rather than an atomic
// bool so VUs can select on it instead of polling.
type runningFlag struct {
	done chan struct{}
}

func newRunningFlag() *runningFlag {
	return &runningFlag{done: make(chan struct{})}
}

// stop flips the flag false->true (never back), safe to call more than
// once.
func (f *runningFlag) stop() {
	select {
	case <-f.done:
		// already stopped
	default:
		close(f.done)
	}
}

func (f *runningFlag) stopped() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// vu runs one User's loop: "Invoke the scenario with the session. Catch
// expected failures ... Catch unexpected exceptions ... Stop when running
// is false." It owns no resources beyond what User.Setup hands back; the
// Session itself is built against a Worker-owned transport.
type vu struct {
	id      int
	newUser NewUserFunc
	running *runningFlag
	agg     *stats.Aggregator
}

// run is the VU's whole lifetime: Setup once, iterate until shutdown,
// Teardown once. Returns nil once running is stopped, and an error only on
// an engine-internal problem (Setup failure); scenario-level failures never
// escape this function, per the
// propagation policy in the error handling design.
func (v *vu) run(ctx context.Context) error {
	user := v.newUser()
	session, err := user.Setup(ctx)
	if err != nil {
		return fmt.Errorf("vu %d: setup failed: %w", v.id, err)
	}
	defer user.Teardown(ctx, session)

	for !v.running.stopped() {
		v.runIteration(ctx, user, session)
	}
	return nil
}

// runIteration runs exactly one scenario pass and classifies whatever comes
// back, recovering from panics the way the source prints a traceback and
// continues - "the test must not die because one VU's scenario had a bug".
func (v *vu) runIteration(ctx context.Context, user User, session *vuhttp.Session) {
	defer func() {
		if r := recover(); r != nil {
			msg := fmt.Sprintf("panic: %v", r)
			log.Errf("vu %d scenario panicked: %s\n%s", v.id, msg, debug.Stack())
			v.agg.RecordError(msg)
		}
	}()

	err := user.Run(ctx, session)
	if err == nil {
		return
	}
	if isRecoverable(err) {
		// Already recorded as a Request event by the Session; nothing more
		// to do, the VU keeps running.
		return
	}
	// Unexpected scenario bug: record the string form and keep going.
	log.Warnf("vu %d: unexpected scenario error: %v", v.id, err)
	v.agg.RecordError(err.Error())
}

// isRecoverable reports whether err is one of the "swallowed inside user
// loop" classes: status errors, assertions, timeouts, connect failures -
// every failure kind the instrumented session already turned into a
// Request event on the aggregator.
func isRecoverable(err error) bool {
	var statusErr *vuhttp.StatusError
	var assertErr *vuhttp.AssertionError
	var timeoutErr *vuhttp.TimeoutError
	var connectErr *vuhttp.ConnectError
	return errors.As(err, &statusErr) ||
		errors.As(err, &assertErr) ||
		errors.As(err, &timeoutErr) ||
		errors.As(err, &connectErr)
}
