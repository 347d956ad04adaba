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

package object

import "sync"

// Table gives IBinder values a stable numeric handle so they can be
// carried as "strong(x)" references inside a Parcel, the same way the
// real Binder driver hands out a 32-bit handle for every object that
// crosses a process boundary. Same-process callers that already hold
// a Go value never need the table; it exists only at the edges
// (wire-level REGISTER/REGISTER_PROPERTY_SERVICE calls, PRE/POST
// messages to a genuinely remote interceptor).
type Table struct {
	mu     sync.Mutex
	nextID uint64
	byID   map[uint64]IBinder
}

// NewTable creates an empty object table.
func NewTable() *Table {
	return &Table{byID: make(map[uint64]IBinder)}
}

// Put assigns obj a handle, reusing the existing one if obj was
// already in the table.
func (t *Table) Put(obj IBinder) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, o := range t.byID {
		if o == obj {
			return id
		}
	}
	t.nextID++
	id := t.nextID
	t.byID[id] = obj
	return id
}

// Get resolves a handle back to its object.
func (t *Table) Get(id uint64) (IBinder, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	obj, ok := t.byID[id]
	return obj, ok
}

// Drop removes a handle, e.g. after UNREGISTER.
func (t *Table) Drop(id uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.byID, id)
}
