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

// Command vuswarm runs a Go-native load-testing scenario against an HTTP
// target, following the flag surface described in the external interface
// (-u/--users, -d/--duration, --event-loops). Its positional argument is the
// target base URL for the built-in scenario, not a scenario file.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"fortio.org/cli"
	"fortio.org/duration"
	"fortio.org/log"
	"github.com/google/uuid"
	"github.com/vuswarm/vuswarm/engine"
	"github.com/vuswarm/vuswarm/stats"
	"github.com/vuswarm/vuswarm/version"
	"github.com/vuswarm/vuswarm/vuhttp"
	"go.uber.org/automaxprocs/maxprocs"
)

var (
	usersFlag      = flag.Int("u", 1, "Number of virtual `users` to run concurrently")
	durationFlag   = flag.String("d", "", "Test `duration`, e.g. 30s, 5m, or empty to run until ^C")
	workersFlag    = flag.Int("event-loops", 0, "Override the default worker/event-loop `count` (default max(cpu/2,1))")
	spawnRateFlag  = flag.Float64("spawn-rate", 0, "Ramp up `N` users/second instead of launching them all at once")
	http2Flag      = flag.Bool("http2", false, "Use HTTP/2 (h2/h2c) instead of HTTP/1.1 for the scenario's requests")
	insecureFlag   = flag.Bool("k", false, "Skip TLS certificate verification")
	requestTimeout = flag.Duration("timeout", 30*time.Second, "Per-request `timeout`")
	assertStatus   = flag.Int("assert-status", 0, "If non-zero, the scenario's GET asserts the response has this status")
	versionFlag    = flag.Bool("version", false, "Print the vuswarm version and exit")
)

func init() {
	flag.IntVar(usersFlag, "users", 1, "Long form of -u")
	flag.StringVar(durationFlag, "duration", "", "Long form of -d")
}

func main() {
	os.Exit(Main())
}

// Main runs one full CLI invocation and returns the process exit code -
// split out from main() so tests can drive it through
// fortio.org/testscript's RunMain instead of spawning the real binary.
func Main() int {
	cli.ProgramName = "vuswarm"
	cli.ArgsHelp = "target-url\nthe base URL the built-in scenario issues a GET / against."
	cli.MinArgs = 0 // -version alone needs no target-url; enforced below instead.
	cli.MaxArgs = 1
	cli.Main()

	if *versionFlag {
		fmt.Println(version.Full())
		return 0
	}
	if flag.NArg() < 1 {
		cli.ErrUsage("missing required target-url argument")
	}

	if _, err := maxprocs.Set(maxprocs.Logger(log.Infof)); err != nil {
		log.Warnf("could not adjust GOMAXPROCS: %v", err)
	}

	target := flag.Arg(0)
	dur, err := parseDuration(*durationFlag)
	if err != nil {
		cli.ErrUsage("invalid -d value %q: %v", *durationFlag, err)
	}

	agg := stats.New(flag.CommandLine)
	runID := uuid.New()

	opts := engine.Options{
		Users:     *usersFlag,
		Duration:  dur,
		Workers:   *workersFlag,
		SpawnRate: *spawnRateFlag,
		Transport: vuhttp.TransportConfig{
			HTTP2:              *http2Flag,
			InsecureSkipVerify: *insecureFlag,
			DialTimeout:        10 * time.Second,
		},
		Out: os.Stdout,
	}
	opts.NewUser = func(transport http.RoundTripper) engine.NewUserFunc {
		return engine.NewHTTPUser(sessionFactory(target, transport, runID, agg), defaultScenario())
	}

	runner := engine.NewRunner(opts, agg)
	if err := runner.Run(context.Background()); err != nil {
		log.Errf("load test finished with worker errors: %v", err)
		return 1
	}
	return 0
}

// sessionFactory builds one vuhttp.Session per VU against transport - the
// *http.Transport of whichever Worker is calling the engine.NewUserFactory
// this closure is wrapped in, so every VU on a worker shares that worker's
// own connection pool instead of some pool built independently of the
// Worker. Every session built from one run shares the same RunID, stamped
// once at process start.
func sessionFactory(target string, transport http.RoundTripper, runID uuid.UUID, agg *stats.Aggregator) func(context.Context) (*vuhttp.Session, error) {
	return func(ctx context.Context) (*vuhttp.Session, error) {
		return vuhttp.NewSession(target, transport, *requestTimeout, agg, runID), nil
	}
}

// defaultScenario is the built-in smoke-test scenario used when no external
// scenario-script loader is wired in (scenario discovery is out of scope,
// see spec section 1): one GET / per iteration, optionally asserting a
// status code.
func defaultScenario() engine.Scenario {
	return func(ctx context.Context, session *vuhttp.Session) error {
		opts := []vuhttp.Option{}
		if *assertStatus != 0 {
			return session.Get(ctx, "/", func(r *vuhttp.Response) error {
				return vuhttp.Assert(r.StatusCode == *assertStatus, "expected status %d, got %d", *assertStatus, r.StatusCode)
			}, opts...)
		}
		return session.Get(ctx, "/", func(r *vuhttp.Response) error { return nil }, opts...)
	}
}

func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	return duration.Parse(s)
}
