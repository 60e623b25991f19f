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

import (
	"fmt"

	"github.com/keelkernel/keel/keelabi"
)

// servicePageFault implements spec.md §4.G: if t has a deferred fault,
// synthesize a PageFault IPC to its pager, block t until the pager
// replies, and either clear the fault (letting the driver loop re-enter
// user mode, re-executing the faulting instruction) or terminate t.
//
// It is called from the task driver loop after every return from user
// mode, syscall or not; it returns at once when no fault is recorded.
func (k *Kernel) servicePageFault(t *Task) {
	fault := t.takeFault()
	if fault == nil {
		return
	}

	if !isUserAddr(fault.IP) {
		k.errorf("task %d (%s): page fault at kernel-range ip %#x, no user handler possible", t.id, t.name, fault.IP)
		panic(fmt.Errorf("keel: kernel-range page fault in task %d", t.id))
	}

	if t.pager == nil {
		k.errorf("task %d (%s): page fault with no pager configured", t.id, t.name)
		panic(fmt.Errorf("keel: page fault in pagerless task %d", t.id))
	}

	content := keelabi.PageFault{
		TID:    t.id,
		UAddr:  fault.UAddr,
		IP:     fault.IP,
		Reason: fault.Reason,
	}

	k.debugf("task %d: page fault uaddr=%#x ip=%#x reason=%#x, forwarding to pager %d", t.id, fault.UAddr, fault.IP, fault.Reason, t.pager.id)

	if errno := k.send(t, t.pager.id, content, true, false); errno != 0 {
		k.terminateForBadPager(t, errno)
		return
	}

	reply, errno := k.recv(t, t.pager.id, false)
	if errno != 0 {
		k.terminateForBadPager(t, errno)
		return
	}

	if _, ok := reply.Content.(keelabi.PageFaultReply); !ok {
		k.errorf("task %d (%s): pager %d replied with %T, expected PageFaultReply", t.id, t.name, t.pager.id, reply.Content)
		k.Destroy(t)
		return
	}
}

func (k *Kernel) terminateForBadPager(t *Task, errno keelabi.Errno) {
	k.errorf("task %d (%s): pager round trip with %d failed: %v", t.id, t.name, t.pager.id, errno)
	k.Destroy(t)
}
