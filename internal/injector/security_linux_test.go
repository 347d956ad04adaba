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

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestTagSecurityContextOnNonSELinuxFilesystemDoesNotPanic covers the
// call on a kernel without SELinux, where the security.selinux xattr
// may be rejected: whatever error it returns, the call must not panic,
// so callers can safely treat it as best-effort.
func TestTagSecurityContextOnNonSELinuxFilesystemDoesNotPanic(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "taglib-*.so")
	require.NoError(t, err)
	f.Close()

	require.NotPanics(t, func() {
		_ = TagSecurityContext(f.Name(), "u:object_r:system_file:s0")
	})
}
