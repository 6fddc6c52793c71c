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
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"fortio.org/assert"
	"github.com/vuswarm/vuswarm/stats"
	"github.com/vuswarm/vuswarm/vuhttp"
)

func TestEvenDistribution(t *testing.T) {
	for _, tc := range []struct{ n, w int }{{10, 3}, {1, 1}, {0, 4}, {7, 7}, {100, 9}} {
		counts := evenDistribution(tc.n, tc.w)
		sum := 0
		minC, maxC := counts[0], counts[0]
		for _, c := range counts {
			sum += c
			if c < minC {
				minC = c
			}
			if c > maxC {
				maxC = c
			}
		}
		assert.Equal(t, tc.n, sum, "distribution must sum to the requested user count")
		assert.True(t, maxC-minC <= 1, "even distribution must not differ by more than one")
	}
}

func TestIsRecoverable(t *testing.T) {
	assert.True(t, isRecoverable(&vuhttp.StatusError{Code: 500}))
	assert.True(t, isRecoverable(&vuhttp.AssertionError{Msg: "nope"}))
	assert.True(t, isRecoverable(&vuhttp.TimeoutError{}))
	assert.True(t, isRecoverable(&vuhttp.ConnectError{}))
	assert.False(t, isRecoverable(errUnexpected{}))
}

type errUnexpected struct{}

func (errUnexpected) Error() string { return "totally unexpected scenario bug" }

func TestRunningFlagMonotone(t *testing.T) {
	f := newRunningFlag()
	assert.False(t, f.stopped())
	f.stop()
	assert.True(t, f.stopped())
	f.stop() // calling twice must not panic
	assert.True(t, f.stopped())
}

func TestVULoopStopsWhenRunningFlips(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	agg := stats.New(nil)
	var iterations int64
	running := newRunningFlag()

	newUser := NewHTTPUser(
		func(ctx context.Context) (*vuhttp.Session, error) {
			return vuhttp.NewSession(srv.URL, http.DefaultTransport, 0, agg, [16]byte{}), nil
		},
		func(ctx context.Context, session *vuhttp.Session) error {
			atomic.AddInt64(&iterations, 1)
			return session.Get(ctx, "/", func(r *vuhttp.Response) error { return nil })
		},
	)

	v := &vu{id: 0, newUser: newUser, running: running, agg: agg}
	done := make(chan struct{})
	go func() {
		_ = v.run(context.Background())
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	running.stop()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("vu did not stop after running flag flipped")
	}
	assert.True(t, atomic.LoadInt64(&iterations) > 0, "vu should have run at least one iteration")
}
