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

package main

import (
	"os"
	"testing"

	"fortio.org/testscript"
)

func TestMain(m *testing.M) {
	// Runs the cli_test.txtar scripts, re-executing this test binary as the
	// "vuswarm" command for each one.
	os.Exit(testscript.RunMain(m, map[string]func() int{
		"vuswarm": Main,
	}))
}

func TestCLI(t *testing.T) {
	testscript.Run(t, testscript.Params{Dir: "./"})
}
