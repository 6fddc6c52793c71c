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

import "fmt"

// ConnectError is a DNS/socket/TLS failure - classified before any response exists.
type ConnectError struct {
	URL string
	Err error
}

func (e *ConnectError) Error() string { return fmt.Sprintf("connect to %s: %v", e.URL, e.Err) }
func (e *ConnectError) Unwrap() error { return e.Err }

// TimeoutError is a request that did not complete before its deadline.
type TimeoutError struct {
	URL string
	Err error
}

func (e *TimeoutError) Error() string { return fmt.Sprintf("timeout for %s: %v", e.URL, e.Err) }
func (e *TimeoutError) Unwrap() error { return e.Err }

// StatusError is returned for a >=400 response when the caller passed
// RaiseForStatus. The default >=400 synthesis at scope exit only records the
// failure on the event; it does not return a StatusError.
type StatusError struct {
	URL    string
	Code   int
	Status string
}

func (e *StatusError) Error() string { return fmt.Sprintf("%s: %s", e.URL, e.Status) }

// AssertionError is raised by Assert() inside a scenario's scope, and always
// wins the error-priority contest over any previously recorded error.
type AssertionError struct {
	Msg string
}

func (e *AssertionError) Error() string { return e.Msg }

// Assert returns an *AssertionError when cond is false, nil otherwise - the
// idiomatic Go stand-in for the "assertion raised inside the scope" case in
// section 4.1: a scenario does `if err := vuhttp.Assert(...); err != nil { return err }`.
func Assert(cond bool, format string, args ...any) error {
	if cond {
		return nil
	}
	return &AssertionError{Msg: fmt.Sprintf(format, args...)}
}
