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

// Package engine is the load-generation engine: Worker/VU supervision and
// spawn-rate control, collapsing the source spec's two-level OS-thread plus
// cooperative-event-loop model into one goroutine per VU, per the redesign
// guidance for goroutine-style languages. The Worker boundary survives only
// as the owner of one *http.Transport, partitioning the HTTP connection pool
// the way fortio's periodic.RunnerOptions partitions NumThreads.
package engine // import "github.com/vuswarm/vuswarm/engine"

import (
	"context"
	"net/http"

	"github.com/vuswarm/vuswarm/vuhttp"
)

// Scenario is the simplest scenario contract: a callable taking the VU's
// session and running one iteration. Returning a non-nil error that isn't
// already a recorded vuhttp failure is an "unexpected scenario bug" per the
// error taxonomy - see vu.runIteration.
type Scenario func(ctx context.Context, session *vuhttp.Session) error

// User is the richer scenario contract - a stateful object with its own
// setup/teardown wrapping every iteration, used for resources that outlive
// one HTTP call (e.g. a browser page, a websocket connection held open
// across iterations). NewUser constructs one instance per VU.
type User interface {
	// Setup runs once when the VU starts, before the first iteration, and
	// returns the session the VU's iterations will share. Implementations
	// that only need a plain HTTP session can use NewHTTPUser.
	Setup(ctx context.Context) (*vuhttp.Session, error)
	// Run executes one iteration against the session returned by Setup.
	Run(ctx context.Context, session *vuhttp.Session) error
	// Teardown runs once when the VU stops, however its iterations exited.
	// It is not called when Setup returns an error.
	Teardown(ctx context.Context, session *vuhttp.Session)
}

// NewUserFunc constructs one User per VU; implementations typically close
// over a Runner reference the way the source's User class takes an optional
// runner in its constructor.
type NewUserFunc func() User

// NewUserFactory builds the NewUserFunc a Worker hands to each of its VUs,
// given that worker's own *http.Transport - the hook that lets every
// session a worker's VUs build actually share that worker's connection
// pool instead of some pool built independently of the Worker.
type NewUserFactory func(transport http.RoundTripper) NewUserFunc

// httpUser is the default HTTP-backed user class: it owns the session it
// builds in Setup and simply forwards each iteration to a Scenario.
type httpUser struct {
	newSession func(ctx context.Context) (*vuhttp.Session, error)
	scenario   Scenario
}

// NewHTTPUser adapts a plain Scenario callable into a User whose Setup opens
// one Session (via newSession) for the VU's whole lifetime and whose
// Teardown is a no-op - the common case where a scenario needs nothing
// beyond the instrumented session itself.
func NewHTTPUser(newSession func(ctx context.Context) (*vuhttp.Session, error), scenario Scenario) NewUserFunc {
	return func() User {
		return &httpUser{newSession: newSession, scenario: scenario}
	}
}

func (h *httpUser) Setup(ctx context.Context) (*vuhttp.Session, error) {
	return h.newSession(ctx)
}

func (h *httpUser) Run(ctx context.Context, session *vuhttp.Session) error {
	return h.scenario(ctx, session)
}

func (h *httpUser) Teardown(_ context.Context, _ *vuhttp.Session) {}
