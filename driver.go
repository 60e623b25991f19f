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

import "context"

// run is the per-task async driver of spec.md §4.H: enter user mode,
// service a syscall trap if that's why we returned, then service any
// deferred page fault via the pager protocol, then loop. It is started
// as its own goroutine by Kernel.spawn — the idiomatic Go rendering of
// the original's hand-rolled future poll loop (see SPEC_FULL.md §1).
func (t *Task) run(ctx context.Context) {
	defer t.kernel.freeOwnedFrames(t)
	defer func() {
		if r := recover(); r != nil {
			t.kernel.fatal(t, r)
		}
	}()

	for {
		if t.isDestroyed() {
			return
		}

		t.mu.Lock()
		runnable := t.state == StateRunnable
		t.mu.Unlock()

		if !runnable {
			select {
			case <-t.resume:
			case <-ctx.Done():
				return
			}
			continue
		}

		t.addr.SwitchTo()
		outcome := t.hal.EnterUserMode(&t.trap)

		if outcome.Kind == TrapSyscall {
			ret := t.kernel.Dispatch(t.id, outcome.SyscallNum, outcome.Args)
			t.trap.SetReturn(ret)
		} else {
			t.kernel.dispatchTrap(t, outcome)
		}

		t.kernel.servicePageFault(t)
	}
}
