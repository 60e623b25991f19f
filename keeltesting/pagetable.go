// Copyright 2026 The Keel Authors.
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

package keeltesting

import (
	"sync"

	"github.com/keelkernel/keel"
)

// PageTable is a software keel.AddressSpace: a plain Go map from virtual
// to physical page number, with no real MMU behind it. SwitchTo just
// records which PageTable is "current" on the (single, simulated) CPU,
// so a test can assert the driver loop switched to the right task's
// address space before entering it.
type PageTable struct {
	mu      sync.Mutex
	entries map[keel.VPN]pageEntry
}

type pageEntry struct {
	ppn   keel.PPN
	flags keel.MapFlags
}

// NewPageTable returns an empty address space.
func NewPageTable() *PageTable {
	return &PageTable{entries: make(map[keel.VPN]pageEntry)}
}

func (pt *PageTable) Map(vpn keel.VPN, ppn keel.PPN, flags keel.MapFlags) error {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	pt.entries[vpn] = pageEntry{ppn: ppn, flags: flags}
	return nil
}

func (pt *PageTable) Unmap(vpn keel.VPN) error {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	delete(pt.entries, vpn)
	return nil
}

func (pt *PageTable) Translate(vaddr uintptr) (uintptr, keel.MapFlags, bool) {
	vpn := keel.VPN(vaddr / keel.PageSize)
	off := vaddr % keel.PageSize

	pt.mu.Lock()
	e, ok := pt.entries[vpn]
	pt.mu.Unlock()
	if !ok {
		return 0, 0, false
	}
	return uintptr(e.ppn)*keel.PageSize + off, e.flags, true
}

func (pt *PageTable) SwitchTo() {
	currentMu.Lock()
	current = pt
	currentMu.Unlock()
}

var (
	currentMu sync.Mutex
	current   *PageTable
)

// Current returns whichever PageTable last called SwitchTo, or nil
// before any task has run. Tests use it to assert the driver loop
// switched address spaces before entering user mode.
func Current() *PageTable {
	currentMu.Lock()
	defer currentMu.Unlock()
	return current
}
