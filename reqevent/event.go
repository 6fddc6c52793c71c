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

// Package reqevent defines the immutable Request event emitted by an
// instrumented session for every completed HTTP interaction, along with
// the tagged error union that classifies it.
package reqevent // import "github.com/vuswarm/vuswarm/reqevent"

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Kind is the discriminant of the tagged error union attached to an Event.
// Exactly one of these applies to any given Event, chosen by the error
// priority rule: Assertion > SuccessOverride/Message > Connect/Status/Timeout > None.
type Kind int

const (
	// KindNone means the request succeeded and no error was recorded.
	KindNone Kind = iota
	// KindSuccessOverride means the scenario explicitly forced success
	// (e.g. set error=false) even though the response status looked bad.
	KindSuccessOverride
	// KindMessage is a scenario-supplied human string, e.g. resp.Error = "Oh no".
	KindMessage
	// KindConnect is a DNS/socket/TLS failure, classified before a status code exists.
	KindConnect
	// KindStatus is a response with status >= 400, rejected by RaiseForStatus or synthesized at scope exit.
	KindStatus
	// KindTimeout is a request that did not complete before its deadline.
	KindTimeout
	// KindAssertion is an exception (e.g. a failed assertion) raised inside the scenario's scope.
	KindAssertion
	// KindOther is any other unexpected exception raised inside the scenario's scope.
	KindOther
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindSuccessOverride:
		return "success_override"
	case KindMessage:
		return "message"
	case KindConnect:
		return "connect"
	case KindStatus:
		return "status"
	case KindTimeout:
		return "timeout"
	case KindAssertion:
		return "assertion"
	case KindOther:
		return "other"
	default:
		return "unknown"
	}
}

// Error is the tagged union of what can go wrong with one request, or nil for success.
type Error struct {
	Kind       Kind
	StatusCode int    // valid when Kind == KindStatus
	ClassName  string // Go type name of the underlying error/panic, when known
	Message    string
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Kind == KindStatus {
		return fmt.Sprintf("%d, %s", e.StatusCode, e.Message)
	}
	return e.Message
}

// Failed reports whether this error represents an actual failure to be
// counted against error_count. A nil Error, or one with KindSuccessOverride,
// is not a failure.
func (e *Error) Failed() bool {
	return e != nil && e.Kind != KindSuccessOverride
}

// Signature is the string used as the key into the bounded error-signature
// histogram (see stats.Aggregator.RecordError).
func (e *Error) Signature() string {
	if e == nil {
		return ""
	}
	if e.Kind == KindStatus {
		return fmt.Sprintf("%d, %s", e.StatusCode, e.Message)
	}
	return e.Message
}

// Event is one completed HTTP interaction, ready for ingestion by a Sink.
// Immutable once constructed.
type Event struct {
	Name  string
	TTFB  time.Duration
	TTLB  time.Duration
	Err   *Error // nil on success
	RunID uuid.UUID
}

// Failed reports whether this event should count as an error_count increment.
func (e Event) Failed() bool {
	return e.Err.Failed()
}

// ErrorType returns the {name, error.type?} tag the aggregator groups on,
// empty string for a successful event.
func (e Event) ErrorType() string {
	if !e.Failed() {
		return ""
	}
	return e.Err.Kind.String()
}

func (e Event) String() string {
	if e.Err == nil {
		return fmt.Sprintf("%s ttfb=%v ttlb=%v ok", e.Name, e.TTFB, e.TTLB)
	}
	return fmt.Sprintf("%s ttfb=%v ttlb=%v err=%s", e.Name, e.TTFB, e.TTLB, e.Err.Error())
}

// Sink is anything that can ingest a completed Request event - implemented by stats.Aggregator.
type Sink interface {
	Record(Event)
}
