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

// Package intercept implements C6: the registry of (target, interceptor)
// pairs and the PRE/POST dispatch protocol driven against a registered
// interceptor (spec §4.4, §6).
package intercept

// Transaction codes accepted by the registry object itself (spec §6).
const (
	CodeRegister                = 1
	CodeUnregister              = 2
	CodeRegisterPropertyService = 3
)

// Transaction codes the dispatcher sends to a registered interceptor.
const (
	CodePreTransact          = 1
	CodePostTransact         = 2
	CodeInterceptorReplaced  = 3
)

// Verdict is the first word of an interceptor's PRE_TRANSACT/POST_TRANSACT reply.
type Verdict int32

const (
	// VerdictSkip declines interception; the caller dispatches to the
	// original target as if nothing were registered.
	VerdictSkip Verdict = 1
	// VerdictContinue proceeds with the (possibly PRE-observed) request unchanged.
	VerdictContinue Verdict = 2
	// VerdictOverrideReply (valid in both PRE and POST) supplies a
	// replacement status + reply body and skips (PRE) or replaces
	// (POST) the original target's own reply.
	VerdictOverrideReply Verdict = 3
	// VerdictOverrideData (PRE only) supplies a replacement request body.
	VerdictOverrideData Verdict = 4
)

// Status mirrors the small subset of Binder status_t codes this
// package produces or consumes.
type Status int32

const (
	StatusOK                 Status = 0
	StatusUnknownTransaction Status = -74
	StatusBadValue           Status = -22
)
