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

package keel

import "fmt"

// dispatchTrap implements spec.md §4.D's policy for everything that
// isn't a syscall (the driver loop handles TrapSyscall itself, inline,
// since that path needs to call back into Dispatch and store its result
// in the trap frame; the kernel core does not advance TrapFrame.IP past
// the syscall instruction).
func (k *Kernel) dispatchTrap(t *Task, outcome TrapOutcome) {
	switch outcome.Kind {
	case TrapPageFault:
		t.setFault(outcome.FaultAddr, outcome.FaultIP, outcome.FaultReason)

	case TrapIllegal:
		k.errorf("task %d (%s): illegal instruction at ip=%#x", t.id, t.name, t.trap.IP)
		panic(fmt.Sprintf("keel: illegal instruction in task %d (%s)", t.id, t.name))

	case TrapSyscall:
		// Handled by the driver loop, not here.

	default:
		k.debugf("task %d (%s): ignoring trap kind %v", t.id, t.name, outcome.Kind)
	}
}
