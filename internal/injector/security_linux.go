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

package injector

import "golang.org/x/sys/unix"

// TagSecurityContext best-effort tags path with an SELinux security
// context, mirroring the original's setfilecon call before the agent
// library is opened. Only the file is tagged; no socket creation
// context is set. A SELinux-less kernel (or a non-Android Linux
// target, the common case here) may reject the xattr; the caller logs
// that failure at debug level and carries on, never failing the
// injection.
func TagSecurityContext(path, context string) error {
	return unix.Setxattr(path, "security.selinux", []byte(context), 0)
}
