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

package procmap

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	appFs = afero.NewMemMapFs()
	m.Run()
}

const sampleMaps = `00400000-00452000 r-xp 00000000 08:02 173521      /bin/cat
00651000-00652000 rw-p 00051000 08:02 173521      /bin/cat
7f1a2b000000-7f1a2b021000 r-xp 00000000 08:01 131082      /system/lib64/libc.so
7f1a2b021000-7f1a2b023000 rw-p 00021000 08:01 131082      /system/lib64/libc.so
7fff12340000-7fff12361000 rw-p 00000000 00:00 0           [stack]
7f1a2c000000-7f1a2c021000 rw-p 00000000 00:00 0
`

func writeMaps(t *testing.T, path, contents string) {
	t.Helper()
	require.NoError(t, afero.WriteFile(appFs, path, []byte(contents), 0o644))
}

func TestForPIDParsesEntries(t *testing.T) {
	writeMaps(t, "/proc/1234/maps", sampleMaps)

	entries, err := ForPID(1234)
	require.NoError(t, err)
	require.Len(t, entries, 6)

	first := entries[0]
	require.Equal(t, uint64(0x400000), first.Start)
	require.Equal(t, uint64(0x452000), first.End)
	require.True(t, first.Perms.Read)
	require.True(t, first.Perms.Exec)
	require.False(t, first.Perms.Write)
	require.Equal(t, "08:02", first.Dev)
	require.Equal(t, uint64(173521), first.Inode)
	require.Equal(t, "/bin/cat", first.Path)

	stack := entries[4]
	require.Equal(t, "[stack]", stack.Path)

	anon := entries[5]
	require.Equal(t, "", anon.Path)
	require.Equal(t, uint64(0), anon.Inode)
}

func TestSelfReadsProcSelfMaps(t *testing.T) {
	writeMaps(t, "/proc/self/maps", sampleMaps)

	entries, err := Self()
	require.NoError(t, err)
	require.Len(t, entries, 6)
}

func TestFindLibrary(t *testing.T) {
	writeMaps(t, "/proc/1234/maps", sampleMaps)
	entries, err := ForPID(1234)
	require.NoError(t, err)

	e, ok := FindLibrary(entries, "libc.so")
	require.True(t, ok)
	require.Equal(t, uint64(0x7f1a2b000000), e.Start)

	_, ok = FindLibrary(entries, "libssl.so")
	require.False(t, ok)
}

func TestParseLineRejectsMalformed(t *testing.T) {
	writeMaps(t, "/proc/9/maps", "not-a-valid-line\n")
	_, err := ForPID(9)
	require.Error(t, err)
}

func TestEntrySize(t *testing.T) {
	e := Entry{Start: 0x1000, End: 0x3000}
	require.Equal(t, uint64(0x2000), e.Size())
}
