//
// Copyright 2024 Nestybox, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//

// Command interceptctl is the operator/admin CLI for a running agent's
// registry (SPEC_FULL.md §5). It is new tooling: spec.md's only
// operator-facing surface for C6 is the raw IPC transaction codes in
// §6, with no CLI of its own. This is a separate tool from the
// injector (cmd/injector), whose argv-only interface stays minimal per
// spec.md's explicit non-goal on injector CLI parsing.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
