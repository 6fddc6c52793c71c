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

package vuhttp

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"fortio.org/assert"
	"github.com/google/uuid"
	"github.com/vuswarm/vuswarm/reqevent"
)

// recordingSink captures every event handed to it, for assertions.
type recordingSink struct {
	mu     sync.Mutex
	events []reqevent.Event
}

func (s *recordingSink) Record(ev reqevent.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *recordingSink) last() reqevent.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.events[len(s.events)-1]
}

func newTestSession(t *testing.T, handler http.HandlerFunc) (*Session, *recordingSink, func()) {
	t.Helper()
	srv := httptest.NewServer(handler)
	sink := &recordingSink{}
	sess := NewSession(srv.URL, http.DefaultTransport, 0, sink, uuid.New())
	return sess, sink, srv.Close
}

func TestHappyPath(t *testing.T) {
	sess, sink, closeSrv := newTestSession(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	defer closeSrv()

	err := sess.Get(context.Background(), "/", func(r *Response) error { return nil })
	assert.NoError(t, err)
	ev := sink.last()
	assert.False(t, ev.Failed())
	assert.Equal(t, "", ev.ErrorType())
}

func TestRenamePropagatesOnSuccessAndFailure(t *testing.T) {
	sess, sink, closeSrv := newTestSession(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/bad" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	defer closeSrv()

	err := sess.Get(context.Background(), "/", func(r *Response) error { return nil }, Name("renamed"))
	assert.NoError(t, err)
	assert.Equal(t, "renamed", sink.last().Name)

	err = sess.Get(context.Background(), "/bad", func(r *Response) error { return nil }, Name("renamed"))
	assert.NoError(t, err, "a status error synthesized at scope exit is recorded, not returned")
	assert.True(t, sink.last().Failed())
	assert.Equal(t, "renamed", sink.last().Name)
}

func TestExplicitErrorMessage(t *testing.T) {
	sess, sink, closeSrv := newTestSession(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	defer closeSrv()

	err := sess.Get(context.Background(), "/", func(r *Response) error {
		r.SetError("Oh no")
		return nil
	}, Name("renamed"))
	assert.NoError(t, err, "an explicit message does not become a Go error return")
	ev := sink.last()
	assert.True(t, ev.Failed())
	assert.Equal(t, "Oh no", ev.Err.Message)
}

func TestForceSuccessOverridesBadStatus(t *testing.T) {
	sess, sink, closeSrv := newTestSession(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	defer closeSrv()

	err := sess.Get(context.Background(), "/", func(r *Response) error {
		r.SetSuccess()
		return nil
	})
	assert.NoError(t, err)
	assert.False(t, sink.last().Failed(), "SetSuccess must override a 500 status")
}

func TestAssertionOverridesStatus(t *testing.T) {
	reached := false
	sess, sink, closeSrv := newTestSession(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	defer closeSrv()

	err := sess.Get(context.Background(), "/", func(r *Response) error {
		if err := Assert(r.StatusCode == http.StatusOK, "expected 200 got %d", r.StatusCode); err != nil {
			return err
		}
		reached = true // unreached line, per the spec scenario
		return nil
	})
	assert.Error(t, err)
	assert.False(t, reached)
	ev := sink.last()
	assert.Equal(t, reqevent.KindAssertion, ev.Err.Kind, "an assertion failure must win over the synthesized status error")
}

func TestRaiseForStatusSkipsScope(t *testing.T) {
	scopeCalled := false
	sess, sink, closeSrv := newTestSession(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	defer closeSrv()

	err := sess.Get(context.Background(), "/", func(r *Response) error {
		scopeCalled = true
		return nil
	}, RaiseForStatus())
	assert.Error(t, err)
	assert.False(t, scopeCalled, "raise_for_status must classify before invoking the scope")
	assert.Equal(t, reqevent.KindStatus, sink.last().Err.Kind)
}

func TestHardConnectFailureIsClassified(t *testing.T) {
	sink := &recordingSink{}
	// An address nothing listens on.
	sess := NewSession("http://127.0.0.1:1", http.DefaultTransport, 0, sink, uuid.New())
	err := sess.Get(context.Background(), "/", func(r *Response) error { return nil })
	assert.Error(t, err)
	var connErr *ConnectError
	assert.True(t, errors.As(err, &connErr), "must classify as a connect error")
	ev := sink.last()
	assert.Equal(t, reqevent.KindConnect, ev.Err.Kind)
}

func TestUUIDTemplateSubstitution(t *testing.T) {
	var gotPath string
	sess, _, closeSrv := newTestSession(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
	})
	defer closeSrv()

	err := sess.Get(context.Background(), "/items/{uuid}", func(r *Response) error { return nil })
	assert.NoError(t, err)
	assert.True(t, gotPath != "/items/{uuid}", "the uuid token must be substituted before the request is sent")
}
