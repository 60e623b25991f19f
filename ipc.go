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
	"github.com/keelkernel/keel/keelabi"
)

// lockPair acquires both tasks' mutexes in ascending tid order, per the
// concurrency model's rule for any IPC transition touching two tasks
// (spec.md §5), and returns a func that releases both. a and b may be
// the same task only when this is called on behalf of the kernel itself
// (never for user Send/Recv, which reject dst == self up front).
func lockPair(a, b *Task) func() {
	if a.id == b.id {
		a.mu.Lock()
		return a.mu.Unlock
	}
	first, second := a, b
	if b.id < a.id {
		first, second = b, a
	}
	first.mu.Lock()
	second.mu.Lock()
	return func() {
		second.mu.Unlock()
		first.mu.Unlock()
	}
}

func containsTID(list []TaskID, tid TaskID) bool {
	for _, x := range list {
		if x == tid {
			return true
		}
	}
	return false
}

// send implements spec.md §4.F Send(dst, msg, flags). self is the task
// originating the send (for the pager protocol this is the faulting
// task, not the kernel's own driver goroutine; kernelSource selects the
// FROM_KERNEL source tag instead of self.id).
func (k *Kernel) send(self *Task, dstID TaskID, content keelabi.MessageContent, kernelSource, nonBlock bool) keelabi.Errno {
	if dstID == self.id {
		return keelabi.InvalidArg
	}
	dst := k.lookup(dstID)
	if dst == nil {
		return keelabi.InvalidTask
	}

	unlock := lockPair(self, dst)
	ready := dst.state == StateBlocked && dst.waitFor.active && (dst.waitFor.any || dst.waitFor.tid == self.id)

	if !ready {
		if nonBlock {
			unlock()
			return keelabi.WouldBlock
		}

		// Deadlock check: dst is already waiting to send to self, i.e. dst's
		// tid is sitting in self's own sender queue.
		if containsTID(self.senderQueue, dstID) {
			unlock()
			return keelabi.DeadLock
		}

		dst.senderQueue = append(dst.senderQueue, self.id)
		self.state = StateBlocked
		unlock()

		if !self.awaitResume() {
			return keelabi.Aborted
		}

		self.mu.Lock()
		aborted := self.pending.PopSpecific(NotifyTag{Fixed: TagAborted})
		self.mu.Unlock()
		if aborted {
			return keelabi.Aborted
		}

		// The receiver set wait-for = self.id before waking us (Recv step 3);
		// proceed to step 5 of Send.
		unlock = lockPair(self, dst)
	}

	src := self.id
	if kernelSource {
		src = FromKernel
	}
	dst.mailbox = &keelabi.Message{Source: src, Content: content}
	dst.waitFor = waitSpec{}
	dst.state = StateRunnable
	unlock()
	dst.wake()
	return 0
}

// recv implements spec.md §4.F Recv(src, msg_out, flags).
func (k *Kernel) recv(self *Task, srcID TaskID, nonBlock bool) (keelabi.Message, keelabi.Errno) {
	self.mu.Lock()
	if srcID == IPCAny && !self.pending.IsEmpty() {
		bits := self.pending.Drain()
		self.mu.Unlock()
		return keelabi.Message{Source: FromKernel, Content: keelabi.NotifyField{Bits: uint64(bits)}}, 0
	}

	if nonBlock {
		self.mu.Unlock()
		return keelabi.Message{}, keelabi.WouldBlock
	}

	idx := -1
	for i, tid := range self.senderQueue {
		if srcID == IPCAny || tid == srcID {
			idx = i
			break
		}
	}

	if idx >= 0 {
		woken := self.senderQueue[idx]
		self.senderQueue = append(self.senderQueue[:idx:idx], self.senderQueue[idx+1:]...)
		self.waitFor = waitSpec{active: true, tid: woken}
		self.state = StateBlocked
		self.mu.Unlock()

		if sender := k.lookup(woken); sender != nil {
			sender.mu.Lock()
			sender.state = StateRunnable
			sender.mu.Unlock()
			sender.wake()
		}
	} else {
		self.waitFor = waitSpec{active: true, any: srcID == IPCAny, tid: srcID}
		self.state = StateBlocked
		self.mu.Unlock()
	}

	if !self.awaitResume() {
		return keelabi.Message{}, keelabi.Aborted
	}

	self.mu.Lock()
	self.waitFor = waitSpec{}
	msg := self.mailbox
	self.mailbox = nil
	if msg == nil {
		aborted := self.pending.PopSpecific(NotifyTag{Fixed: TagAborted})
		self.mu.Unlock()
		if aborted {
			return keelabi.Message{}, keelabi.Aborted
		}
		// Should be unreachable: a wake with neither a mailbox message nor
		// ABORTED pending means something resumed us without delivering
		// anything it promised.
		return keelabi.Message{}, keelabi.Unexpected
	}
	self.mu.Unlock()
	return *msg, 0
}

// ipc implements spec.md §4.F IPC(dst, src, msg, flags): conditional
// Send then conditional Recv. msg is both input (Send content) and
// output (Recv result).
func (k *Kernel) ipc(self *Task, dst, src TaskID, out *keelabi.Message, flags keelabi.IPCFlags) keelabi.Errno {
	kernelSource := flags&keelabi.Kernel != 0
	nonBlock := flags&keelabi.NonBlock != 0

	if flags&keelabi.Send != 0 {
		if out == nil {
			return keelabi.InvalidArg
		}
		if errno := k.send(self, dst, out.Content, kernelSource, nonBlock); errno != 0 {
			return errno
		}
	}

	if flags&keelabi.Recv != 0 {
		msg, errno := k.recv(self, src, nonBlock)
		if errno != 0 {
			return errno
		}
		if out != nil {
			*out = msg
		}
	}

	return 0
}
