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

import "net/http"

// Response is handed to the scenario's scope function. It wraps the
// standard *http.Response (its body already drained and closed by the
// Session verb method) plus the two fields a scenario can set to take over
// error classification, per the error-priority contract in section 4.1:
//   - Message wins over a synthesized status error and is always a failure.
//   - forceSuccess (set by SetSuccess) wins over a synthesized status error and is never a failure.
// Neither overrides an actual error returned from the scope function itself -
// that always wins (see section 4.1's "exception raised inside user's scope").
type Response struct {
	*http.Response
	Name         string
	Message      *string
	forceSuccess *bool
}

// SetError records an explicit human-readable error for this request,
// e.g. resp.SetError("Oh no") - always classified as a failure regardless
// of status code.
func (r *Response) SetError(msg string) {
	r.Message = &msg
}

// SetSuccess forces this request to be classified as a success even if the
// response status is >= 400 - the contract a scenario uses to declare a 4xx
// semantically acceptable.
func (r *Response) SetSuccess() {
	t := true
	r.forceSuccess = &t
}
