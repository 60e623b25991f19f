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

	"github.com/jacobsa/syncutil"
	"github.com/jacobsa/timeutil"
	"github.com/keelkernel/keel/keelabi"
)

// TaskID is re-exported at the package root so callers don't need a
// second import for the common case, the way fuse.InodeID re-exports
// fuseops types.
type TaskID = keelabi.TaskID

const (
	IPCAny     = keelabi.IPCAny
	FromKernel = keelabi.FromKernel
	RootTaskID = keelabi.RootServerID
)

// TaskState is one of {Unused, Runnable, Blocked}, spec.md §3.
type TaskState int

const (
	StateUnused TaskState = iota
	StateRunnable
	StateBlocked
)

func (s TaskState) String() string {
	switch s {
	case StateUnused:
		return "unused"
	case StateRunnable:
		return "runnable"
	case StateBlocked:
		return "blocked"
	default:
		return fmt.Sprintf("TaskState(%d)", int(s))
	}
}

// FaultInfo is the deferred-fault triple of spec.md §3.
type FaultInfo struct {
	UAddr  uintptr
	IP     uintptr
	Reason keelabi.FaultReason
}

// waitSpec records what a Blocked task is waiting for: a specific sender
// (Any == false) or IPC_ANY (Any == true). The zero value means "not
// waiting" and is only meaningful while state == StateBlocked.
type waitSpec struct {
	active bool
	any    bool
	tid    TaskID
}

// Task is the kernel's central entity, spec.md §3. One goroutine (see
// driver.go) drives a Task through user mode, syscalls and page faults;
// every other mutable field is guarded by mu, a
// github.com/jacobsa/syncutil.InvariantMutex the way memFS guards its
// inode table in the teacher's samples/memfs/fs.go, so a misbehaving
// caller panics immediately instead of corrupting state silently.
type Task struct {
	// Constant for the task's lifetime.
	id      TaskID
	name    string
	kernel  *Kernel
	pager   *Task
	addr    AddressSpace
	hal     Hal
	clock   timeutil.Clock
	resume  chan struct{}
	trap    TrapFrame

	mu syncutil.InvariantMutex

	// GUARDED_BY(mu)
	state TaskState
	// GUARDED_BY(mu)
	waitFor waitSpec
	// GUARDED_BY(mu)
	mailbox *keelabi.Message
	// GUARDED_BY(mu)
	senderQueue []TaskID
	// GUARDED_BY(mu)
	pending NotifyBits
	// GUARDED_BY(mu)
	deferredFault *FaultInfo
	// GUARDED_BY(mu)
	timeoutDeadline int64
	// GUARDED_BY(mu)
	destroyed bool
	// GUARDED_BY(mu)
	frames []ownedFrame
}

// ownedFrame pairs a frame this task owns with where (if anywhere) it is
// currently mapped in t.addr, so freeOwnedFrames can unmap it before
// returning it to the pool (spec.md §3 invariant 5). Frames from
// alloc_memory are unmapped until a later VMMap, so mapped is false for
// those until tracking catches up with an actual mapping.
type ownedFrame struct {
	frame  Frame
	vpn    VPN
	mapped bool
}

// ID returns the task's identity.
func (t *Task) ID() TaskID { return t.id }

// Name returns the task's human-readable name.
func (t *Task) Name() string { return t.name }

// Pager returns the task servicing this task's page faults, or nil for
// the root server.
func (t *Task) Pager() *Task { return t.pager }

func (t *Task) checkInvariants() {
	// Invariant 1: a Blocked task has either a wait-for target or a
	// non-empty pending set, at the moment it is unblocked. We can only
	// check the weaker "currently blocked implies one of the two is set
	// OR it is about to transition" shape here, since this runs on every
	// Unlock including ones that leave the task freshly Blocked with
	// neither yet (the caller is mid-transition). So this checks the
	// cheaper, always-true shape instead: wait-for is only ever set while
	// Blocked.
	if t.waitFor.active && t.state != StateBlocked {
		panic(fmt.Sprintf("task %d: wait-for set while state=%s", t.id, t.state))
	}
	// Invariant 2 (half): a task never waits to send to itself and is
	// never queued behind itself.
	for _, s := range t.senderQueue {
		if s == t.id {
			panic(fmt.Sprintf("task %d: appears in its own sender queue", t.id))
		}
	}
}

// newTask allocates a Task in state Unused; the caller (Kernel.spawn)
// installs the entry point / stack and transitions it to Runnable.
func newTask(id TaskID, name string, k *Kernel, pager *Task, addr AddressSpace, hal Hal, clock timeutil.Clock) *Task {
	t := &Task{
		id:     id,
		name:   name,
		kernel: k,
		pager:  pager,
		addr:   addr,
		hal:    hal,
		clock:  clock,
		resume: make(chan struct{}, 1),
		state:  StateUnused,
	}
	t.mu = syncutil.NewInvariantMutex(t.checkInvariants)
	return t
}

// wake nudges the task's driver goroutine; it is always called with
// t.mu unlocked (no lock is ever held across this call) and is safe to
// call from any goroutine, any number of times, before the driver has
// even started.
func (t *Task) wake() {
	select {
	case t.resume <- struct{}{}:
	default:
	}
}

// awaitResume blocks the calling goroutine (always the task's own driver
// goroutine, synchronously running Send/Recv on its behalf) until
// something calls wake, or the kernel is shutting down. It must be
// called with t.mu unlocked. It reports false if the kernel's context
// was done first, so a blocking Send/Recv started before a plain
// Shutdown (no Destroy) unwinds instead of leaking the driver goroutine
// forever.
func (t *Task) awaitResume() bool {
	select {
	case <-t.resume:
		return true
	case <-t.kernel.ctx.Done():
		return false
	}
}

// Notify implements spec.md §4.B Task.notify: if the task is Blocked
// waiting for IPC_ANY, synthesize a NotifyField message combining
// pending with bits and resume it immediately; otherwise OR bits into
// pending. This is the general notification path (TIMER, IRQ, ASYNC,
// and the Notify syscall) — it never overtakes a targeted receive,
// unlike abortTask below.
func (t *Task) Notify(bits NotifyBits) {
	t.mu.Lock()
	if t.state == StateBlocked && t.waitFor.active && t.waitFor.any {
		merged := t.pending.Drain()
		merged.OrAssign(bits)
		t.mailbox = &keelabi.Message{
			Source:  FromKernel,
			Content: keelabi.NotifyField{Bits: uint64(merged)},
		}
		t.waitFor = waitSpec{}
		t.state = StateRunnable
		t.mu.Unlock()
		t.wake()
		return
	}
	t.pending.OrAssign(bits)
	t.mu.Unlock()
}

// abortTask unconditionally sets the ABORTED bit and unblocks the task
// regardless of what it is waiting for. This is the one case where a
// notification overtakes a targeted wait (spec.md §4.F abort semantics);
// it is used only by Kernel.Destroy, on a peer's sender-queue entries and
// on tasks specifically wait-for'ing the destroyed task.
func (t *Task) abortTask() {
	t.mu.Lock()
	t.pending.OrAssign(AbortedBits)
	t.waitFor = waitSpec{}
	wasBlocked := t.state == StateBlocked
	t.state = StateRunnable
	t.mu.Unlock()
	if wasBlocked {
		t.wake()
	}
}

// setFault implements spec.md §4.B Task.set_fault: it never blocks, and
// enriches reason with PRESENT (if uaddr already translates) and USER
// (if ip is a user-range address).
func (t *Task) setFault(uaddr, ip uintptr, reason keelabi.FaultReason) {
	if _, _, ok := t.addr.Translate(uaddr); ok {
		reason |= keelabi.FaultPresent
	}
	if isUserAddr(ip) {
		reason |= keelabi.FaultUser
	}
	t.mu.Lock()
	t.deferredFault = &FaultInfo{UAddr: uaddr, IP: ip, Reason: reason}
	t.mu.Unlock()
}

// takeFault clears and returns the deferred fault, if any.
func (t *Task) takeFault() *FaultInfo {
	t.mu.Lock()
	defer t.mu.Unlock()
	f := t.deferredFault
	t.deferredFault = nil
	return f
}

// checkTimeout implements spec.md §4.B Task.check_timeout.
func (t *Task) checkTimeout(nowNS int64) {
	t.mu.Lock()
	deadline := t.timeoutDeadline
	if deadline == 0 || nowNS < deadline {
		t.mu.Unlock()
		return
	}
	t.timeoutDeadline = 0
	t.mu.Unlock()
	t.Notify(TimerBits)
}

// armTimeout arms the timeout deadline used by the Time(ms) syscall.
func (t *Task) armTimeout(deadlineNS int64) {
	t.mu.Lock()
	t.timeoutDeadline = deadlineNS
	t.mu.Unlock()
}

// isDestroyed reports the sticky destroyed flag.
func (t *Task) isDestroyed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.destroyed
}

// addOwnedFrames records frames this task now owns but that are not
// currently mapped into its address space (spec.md §3 invariant 5);
// alloc_memory uses this, since the region it hands back is mapped in
// later, if at all, via a separate VMMap call.
func (t *Task) addOwnedFrames(frames []Frame) {
	t.mu.Lock()
	for _, f := range frames {
		t.frames = append(t.frames, ownedFrame{frame: f})
	}
	t.mu.Unlock()
}

// addOwnedMappedFrames records frames this task owns and has already
// mapped into its own address space at the given vpns, so
// freeOwnedFrames can unmap each one before it is returned to the pool.
// Kernel.spawn uses this for the initial user stack.
func (t *Task) addOwnedMappedFrames(frames []Frame, vpns []VPN) {
	t.mu.Lock()
	for i, f := range frames {
		t.frames = append(t.frames, ownedFrame{frame: f, vpn: vpns[i], mapped: true})
	}
	t.mu.Unlock()
}

// isUserAddr reports whether ip lies in user address space, as opposed
// to kernel range. keeltesting and any real Hal agree on a single split
// point; this package only needs "is it user" for fault enrichment and
// for the pager protocol's kernel-range-ip panic check, so a single
// package-level split constant is enough.
func isUserAddr(addr uintptr) bool {
	return addr < kernelSpaceBase
}

// kernelSpaceBase is the lowest address considered kernel range. Tasks
// run entirely below it; a fault or syscall return address at or above
// it can only mean a misconfigured task or a kernel bug, never a normal
// user page fault.
const kernelSpaceBase = uintptr(1) << 63

// USERStackTop and USERStackPages are the fixed user-stack geometry of
// spec.md §4.B: 20 pages mapped downward from a fixed top address.
const (
	PageSize       = 4096
	USERStackPages = 20
	USERStackTop   = kernelSpaceBase - PageSize
)
