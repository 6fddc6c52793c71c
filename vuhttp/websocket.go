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
	"fmt"
	"strings"
	"time"

	"github.com/vuswarm/vuswarm/reqevent"
	"golang.org/x/net/websocket"
)

// WebsocketScope receives an open *websocket.Conn. Every frame it sends or
// receives is its own responsibility to time; unlike the HTTP verbs, there
// is no single request/response pair for the engine to measure, so
// Websocket only records one event for the connect/upgrade itself. A
// scenario that wants per-message timing records its own synthetic events
// through Session.Sink().Record, naming them distinctly from the connect
// event so they aggregate as their own rows.
type WebsocketScope func(*websocket.Conn) error

// Websocket opens a WebSocket connection to rawURL (ws:// or wss://,
// or a path relative to the session's base URL with http(s) swapped for
// ws(s)) and hands it to scope. The connect+handshake is timed and
// recorded as one event; scope's returned error is recorded as a failure on
// that same event (KindAssertion for an *AssertionError, KindOther for any
// other error), the same classification as the HTTP verbs' scope function.
//
// There is no websocket client in the example corpus to generalize from;
// golang.org/x/net is already a wired dependency (see the HTTP/2 opt-in
// transport) and provides the only WebSocket client in reach of this
// module's stack.
func (s *Session) Websocket(rawURL string, scope WebsocketScope, opts ...Option) error {
	var cfg config
	for _, o := range opts {
		o(&cfg)
	}
	target := wsURL(s.resolve(rawURL))
	name := cfg.name
	if name == "" {
		name = target
	}

	t0 := time.Now()
	conn, err := websocket.Dial(target, "", originFor(target))
	if err != nil {
		elapsed := time.Since(t0)
		s.emit(name, elapsed, elapsed, &reqevent.Error{Kind: reqevent.KindConnect, ClassName: fmt.Sprintf("%T", err), Message: err.Error()})
		return &ConnectError{URL: target, Err: err}
	}
	ttfb := time.Since(t0)
	defer conn.Close()

	scopeErr := scope(conn)
	ttlb := time.Since(t0)

	var errInfo *reqevent.Error
	if scopeErr != nil {
		errInfo = errorFromScope(scopeErr)
	}
	s.emit(name, ttfb, ttlb, errInfo)
	return scopeErr
}

func wsURL(target string) string {
	switch {
	case strings.HasPrefix(target, "https://"):
		return "wss://" + strings.TrimPrefix(target, "https://")
	case strings.HasPrefix(target, "http://"):
		return "ws://" + strings.TrimPrefix(target, "http://")
	default:
		return target
	}
}

// originFor derives an acceptable Origin header value from the target URL,
// since websocket.Dial requires one.
func originFor(target string) string {
	scheme := "http://"
	rest := target
	if strings.HasPrefix(target, "wss://") {
		scheme = "https://"
		rest = strings.TrimPrefix(target, "wss://")
	} else if strings.HasPrefix(target, "ws://") {
		rest = strings.TrimPrefix(target, "ws://")
	}
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		rest = rest[:i]
	}
	return scheme + rest
}
