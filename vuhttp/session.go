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

// Package vuhttp is the instrumented HTTP session: every verb call is
// timed, optionally renamed, classified success/failure per the
// error-priority contract, and submitted to a reqevent.Sink. Adapted from
// fortio's fhttp.Client (NewStdClient in particular, for the net/http
// wrapping and transport setup) generalized from "one client per benchmark
// thread" to "one client per VU, scoped to that VU's lifetime".
package vuhttp // import "github.com/vuswarm/vuswarm/vuhttp"

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"fortio.org/log"
	"github.com/google/uuid"
	"github.com/vuswarm/vuswarm/reqevent"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// uuidToken is replaced with a fresh google/uuid value per call, in the URL
// path, query, or body - adapted from fhttp.Client's {uuid} token handling.
const uuidToken = "{uuid}"

var tracer = otel.Tracer("github.com/vuswarm/vuswarm/vuhttp")

// Session wraps one *http.Client scoped to the lifetime of one user loop -
// per the data model, "Sessions: owned exclusively by the user loop that
// opened them." It is never shared across VUs; the *http.Transport it's
// built from may be (see engine.Worker, which owns one Transport per worker
// for CPU-partitioning of the connection pool).
type Session struct {
	baseURL string
	client  *http.Client
	sink    reqevent.Sink
	runID   uuid.UUID
}

// NewSession builds an instrumented session against baseURL, recording
// every request to sink. transport is typically shared across the VUs of
// one engine.Worker.
func NewSession(baseURL string, transport http.RoundTripper, timeout time.Duration, sink reqevent.Sink, runID uuid.UUID) *Session {
	return &Session{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{Transport: transport, Timeout: timeout},
		sink:    sink,
		runID:   runID,
	}
}

// Sink exposes the underlying reqevent.Sink, for scenarios that need to
// record synthetic events directly (e.g. one event per WebSocket frame,
// see Websocket).
func (s *Session) Sink() reqevent.Sink { return s.sink }

// config is the per-call state built up by Option functions.
type config struct {
	name           string
	body           []byte
	contentType    string
	raiseForStatus bool
	bodyWriter     io.Writer
}

// Option customizes one verb call.
type Option func(*config)

// Name renames the emitted event (and any active tracing span) to name
// instead of the request URL - useful for grouping parameterized URLs.
func Name(name string) Option {
	return func(c *config) { c.name = name }
}

// Body sets a request payload (for POST/PUT/PATCH). The literal token
// {uuid} anywhere in it is replaced with a fresh UUID per call.
func Body(contentType string, body []byte) Option {
	return func(c *config) {
		c.contentType = contentType
		c.body = body
	}
}

// RaiseForStatus makes a >=400 response classify and propagate as a
// StatusError immediately, without invoking the scope function - matching
// aiohttp's raise_for_status=True semantics (section 4.1 step 2). Off by
// default: the default (false) lets the scope function run and potentially
// override the classification (e.g. by asserting or by calling SetSuccess).
func RaiseForStatus() Option {
	return func(c *config) { c.raiseForStatus = true }
}

// WriteBodyTo streams the response body to w instead of discarding it. The
// body of a response rejected by RaiseForStatus is still discarded.
func WriteBodyTo(w io.Writer) Option {
	return func(c *config) { c.bodyWriter = w }
}

// Scope is the scenario's callback, invoked once the response has arrived
// and its body has been fully read and closed (it is not invoked for a
// response rejected by RaiseForStatus). Returning a non-nil
// error is the Go stand-in for "an exception raised inside the scope" -
// section 4.1's highest-priority error classification - and propagates
// unchanged to the verb call's own return value.
type Scope func(*Response) error

func (s *Session) do(ctx context.Context, method, rawURL string, opts []Option, scope Scope) error {
	var cfg config
	for _, o := range opts {
		o(&cfg)
	}
	target := s.resolve(rawURL)
	target, body := applyUUIDTemplate(target, cfg.body)
	name := cfg.name
	if name == "" {
		name = target
	}

	ctx, span := tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("http.method", method),
		attribute.String("http.url", target),
	))
	defer span.End()

	req, err := http.NewRequestWithContext(ctx, method, target, bytes.NewReader(body))
	if err != nil {
		// Malformed URL etc.: same bucket as a connect failure, there's no
		// response to speak of either way.
		return s.recordConnectFailure(target, name, time.Now(), err, span)
	}
	if cfg.contentType != "" {
		req.Header.Set("Content-Type", cfg.contentType)
	}

	t0 := time.Now()
	resp, err := s.client.Do(req)
	if err != nil {
		if isTimeout(err) {
			return s.recordTimeout(target, name, t0, err, span)
		}
		return s.recordConnectFailure(target, name, t0, err, span)
	}
	ttfb := time.Since(t0)

	if cfg.raiseForStatus && resp.StatusCode >= 400 {
		drain(resp.Body)
		resp.Body.Close()
		ttlb := time.Since(t0)
		sErr := &StatusError{URL: target, Code: resp.StatusCode, Status: resp.Status}
		s.emit(name, ttfb, ttlb, &reqevent.Error{Kind: reqevent.KindStatus, StatusCode: resp.StatusCode, Message: resp.Status})
		span.SetStatus(codes.Error, sErr.Error())
		return sErr
	}

	dst := cfg.bodyWriter
	if dst == nil {
		dst = io.Discard
	}
	_, _ = io.Copy(dst, resp.Body) // the body read is mandatory: ttlb must cover bytes-to-userland
	resp.Body.Close()
	ttlb := time.Since(t0)

	r := &Response{Response: resp, Name: name}
	scopeErr := scope(r)

	errInfo, propagate := classify(scopeErr, r)
	s.emit(name, ttfb, ttlb, errInfo)
	if errInfo != nil && errInfo.Failed() {
		span.SetStatus(codes.Error, errInfo.Error())
	}
	return propagate
}

// classify applies the error-priority rule from section 4.1: exception from
// the scope wins, then an explicit caller-set value, then the synthesized
// status error, then success.
func classify(scopeErr error, r *Response) (*reqevent.Error, error) {
	if scopeErr != nil {
		return errorFromScope(scopeErr), scopeErr
	}
	if r.Message != nil {
		return &reqevent.Error{Kind: reqevent.KindMessage, Message: *r.Message}, nil
	}
	if r.forceSuccess != nil && *r.forceSuccess {
		return &reqevent.Error{Kind: reqevent.KindSuccessOverride}, nil
	}
	if r.StatusCode >= 400 {
		return &reqevent.Error{Kind: reqevent.KindStatus, StatusCode: r.StatusCode, Message: r.Status}, nil
	}
	return nil, nil
}

func errorFromScope(err error) *reqevent.Error {
	var ae *AssertionError
	if errors.As(err, &ae) {
		return &reqevent.Error{Kind: reqevent.KindAssertion, ClassName: "AssertionError", Message: ae.Error()}
	}
	return &reqevent.Error{Kind: reqevent.KindOther, ClassName: fmt.Sprintf("%T", err), Message: err.Error()}
}

func (s *Session) recordConnectFailure(target, name string, t0 time.Time, err error, span trace.Span) error {
	elapsed := time.Since(t0)
	cErr := &ConnectError{URL: target, Err: err}
	s.emit(name, elapsed, elapsed, &reqevent.Error{Kind: reqevent.KindConnect, ClassName: fmt.Sprintf("%T", err), Message: cErr.Error()})
	span.RecordError(err)
	span.SetStatus(codes.Error, cErr.Error())
	return cErr
}

func (s *Session) recordTimeout(target, name string, t0 time.Time, err error, span trace.Span) error {
	elapsed := time.Since(t0)
	tErr := &TimeoutError{URL: target, Err: err}
	s.emit(name, elapsed, elapsed, &reqevent.Error{Kind: reqevent.KindTimeout, ClassName: fmt.Sprintf("%T", err), Message: tErr.Error()})
	span.RecordError(err)
	span.SetStatus(codes.Error, tErr.Error())
	return tErr
}

func (s *Session) emit(name string, ttfb, ttlb time.Duration, errInfo *reqevent.Error) {
	s.sink.Record(reqevent.Event{Name: name, TTFB: ttfb, TTLB: ttlb, Err: errInfo, RunID: s.runID})
}

func (s *Session) resolve(rawURL string) string {
	if strings.HasPrefix(rawURL, "http://") || strings.HasPrefix(rawURL, "https://") {
		return rawURL
	}
	if s.baseURL == "" {
		return rawURL
	}
	if strings.HasPrefix(rawURL, "/") {
		return s.baseURL + rawURL
	}
	return s.baseURL + "/" + rawURL
}

func applyUUIDTemplate(target string, body []byte) (string, []byte) {
	if strings.Contains(target, uuidToken) {
		for strings.Contains(target, uuidToken) {
			target = strings.Replace(target, uuidToken, uuid.NewString(), 1)
		}
	}
	if bytes.Contains(body, []byte(uuidToken)) {
		s := string(body)
		for strings.Contains(s, uuidToken) {
			s = strings.Replace(s, uuidToken, uuid.NewString(), 1)
		}
		body = []byte(s)
	}
	return target, body
}

func isTimeout(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

func drain(r io.Reader) {
	_, err := io.Copy(io.Discard, r)
	if err != nil {
		log.Debugf("error draining response body: %v", err)
	}
}

// Get issues a GET request. The URL may be relative to the session's base URL.
func (s *Session) Get(ctx context.Context, rawURL string, scope Scope, opts ...Option) error {
	return s.do(ctx, http.MethodGet, rawURL, opts, scope)
}

// Post issues a POST request, see Body to attach a payload.
func (s *Session) Post(ctx context.Context, rawURL string, scope Scope, opts ...Option) error {
	return s.do(ctx, http.MethodPost, rawURL, opts, scope)
}

// Put issues a PUT request.
func (s *Session) Put(ctx context.Context, rawURL string, scope Scope, opts ...Option) error {
	return s.do(ctx, http.MethodPut, rawURL, opts, scope)
}

// Patch issues a PATCH request.
func (s *Session) Patch(ctx context.Context, rawURL string, scope Scope, opts ...Option) error {
	return s.do(ctx, http.MethodPatch, rawURL, opts, scope)
}

// Delete issues a DELETE request.
func (s *Session) Delete(ctx context.Context, rawURL string, scope Scope, opts ...Option) error {
	return s.do(ctx, http.MethodDelete, rawURL, opts, scope)
}

// Head issues a HEAD request.
func (s *Session) Head(ctx context.Context, rawURL string, scope Scope, opts ...Option) error {
	return s.do(ctx, http.MethodHead, rawURL, opts, scope)
}

// Options issues an OPTIONS request.
func (s *Session) Options(ctx context.Context, rawURL string, scope Scope, opts ...Option) error {
	return s.do(ctx, http.MethodOptions, rawURL, opts, scope)
}

// ResolveURL exposes the base-URL join logic so a scenario building raw
// requests (e.g. for Websocket) gets the same relative-URL handling.
func (s *Session) ResolveURL(rawURL string) string {
	return s.resolve(rawURL)
}
