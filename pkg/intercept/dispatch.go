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

package intercept

import (
	"github.com/nestybox/sysbox-ipc-interceptor/pkg/binder"
	"github.com/nestybox/sysbox-ipc-interceptor/pkg/object"
)

// HandleIntercept drives the PRE/POST protocol (spec §4.4) against
// target's registered interceptor. It returns handled=false whenever
// the caller (the synthetic stub, C5) should transact with target
// itself as if no interception were registered at all: no interceptor
// found, PRE verdict SKIP, or any marshaling/transact/read failure
// talking to the interceptor (spec §4.4 "Failure semantics" — a buggy
// interceptor degrades to a transparent passthrough, never a visible
// error).
//
// callerUID/callerPID identify the original transaction's sender, not
// the dispatcher's own identity.
func (r *Registry) HandleIntercept(
	target *object.LocalObject,
	code uint32,
	data []byte,
	flags object.Flags,
	callerUID, callerPID int32,
) (handled bool, status int32, reply []byte) {

	key := object.Weaken(target)
	interceptor, ok := r.interceptorFor(key)
	if !ok {
		log.WithField("code", code).Debug("no intercept item found")
		return false, 0, nil
	}

	targetID := r.objects.Put(target)

	pre := binder.NewParcel()
	pre.WriteUint64(targetID)
	pre.WriteUint32(code)
	pre.WriteUint32(uint32(flags))
	pre.WriteInt32(callerUID)
	pre.WriteInt32(callerPID)
	pre.WriteFramedBytes(data)

	preReplyStatus, preReplyBytes, err := interceptor.Transact(CodePreTransact, pre.Bytes(), 0)
	if err != nil || preReplyStatus != int32(StatusOK) {
		log.WithError(err).Warn("PRE_TRANSACT failed, declining interception")
		return false, 0, nil
	}

	preReply := binder.NewParcelFrom(preReplyBytes)
	preVerdict, err := preReply.ReadInt32()
	if err != nil {
		log.WithError(err).Warn("PRE_TRANSACT reply malformed, declining interception")
		return false, 0, nil
	}

	var realData []byte
	switch Verdict(preVerdict) {
	case VerdictSkip:
		return false, 0, nil

	case VerdictOverrideReply:
		overrideStatus, err := preReply.ReadInt32()
		if err != nil {
			return false, 0, nil
		}
		overrideReply, err := preReply.ReadFramedBytes()
		if err != nil {
			return false, 0, nil
		}
		// The original target's onTransact is never entered (spec §8
		// testable property 3); there is consequently no POST phase.
		return true, overrideStatus, overrideReply

	case VerdictOverrideData:
		overrideData, err := preReply.ReadFramedBytes()
		if err != nil {
			return false, 0, nil
		}
		realData = overrideData

	default: // VerdictContinue, or any other value
		realData = data
	}

	result, targetReply, err := target.Transact(code, realData, flags)
	if err != nil {
		log.WithError(err).Warn("original target transact failed during interception")
	}

	post := binder.NewParcel()
	post.WriteUint64(targetID)
	post.WriteUint32(code)
	post.WriteUint32(uint32(flags))
	post.WriteInt32(callerUID)
	post.WriteInt32(callerPID)
	post.WriteInt32(result)
	post.WriteFramedBytes(data) // the original, pre-override request
	post.WriteFramedBytes(targetReply)

	postReplyStatus, postReplyBytes, err := interceptor.Transact(CodePostTransact, post.Bytes(), 0)
	if err != nil || postReplyStatus != int32(StatusOK) {
		log.WithError(err).Warn("POST_TRANSACT failed, declining interception")
		return false, 0, nil
	}

	postReply := binder.NewParcelFrom(postReplyBytes)
	postVerdict, err := postReply.ReadInt32()
	if err != nil {
		log.WithError(err).Warn("POST_TRANSACT reply malformed, declining interception")
		return false, 0, nil
	}

	if Verdict(postVerdict) == VerdictOverrideReply {
		overrideStatus, err := postReply.ReadInt32()
		if err != nil {
			return false, 0, nil
		}
		overrideReply, err := postReply.ReadFramedBytes()
		if err != nil {
			return false, 0, nil
		}
		return true, overrideStatus, overrideReply
	}

	return true, result, targetReply
}
