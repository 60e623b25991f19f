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
	"context"
	"time"

	"github.com/jacobsa/reqtrace"
	"github.com/keelkernel/keel/keelabi"
)

// ipcSpanName labels an IPC reqtrace span the way fuseops/common_op.go
// labels an op span: by what kind of call this is, for grouping in a
// trace report.
func ipcSpanName(flags keelabi.IPCFlags) string {
	switch {
	case flags&keelabi.Call == keelabi.Call:
		return "IPC.Call"
	case flags&keelabi.Send != 0:
		return "IPC.Send"
	case flags&keelabi.Recv != 0:
		return "IPC.Recv"
	default:
		return "IPC"
	}
}

// Dispatch is the numeric syscall ABI entry point (spec.md §6): decode
// num/args the way a trap frame would carry them, call the typed method
// that does the real work, and return a single signed result the way
// every syscall must (spec.md §7). It exists for ABI fidelity and for
// cmd/keelboot, which exercises the numeric surface end to end; nothing
// in this package requires going through it (SPEC_FULL.md §1).
func (k *Kernel) Dispatch(tid TaskID, num keelabi.SysCall, args [6]uintptr) int64 {
	switch num {
	case keelabi.SysIPC:
		return k.dispatchIPC(tid, args)

	case keelabi.SysNotify:
		return int64(k.Notify(tid, TaskID(args[0]), NotifyBits(args[1])))

	case keelabi.SysSerialWrite:
		n, errno := k.dispatchSerialWrite(tid, args)
		if errno != 0 {
			return int64(errno)
		}
		return int64(n)

	case keelabi.SysSerialRead:
		n, errno := k.dispatchSerialRead(tid, args)
		if errno != 0 {
			return int64(errno)
		}
		return int64(n)

	case keelabi.SysTaskCreate:
		newID, errno := k.dispatchTaskCreate(tid, args)
		if errno != 0 {
			return int64(errno)
		}
		return int64(newID)

	case keelabi.SysTaskDestroy:
		return int64(k.TaskDestroy(tid, TaskID(args[0])))

	case keelabi.SysTaskExit:
		k.TaskExit(tid)
		return 0

	case keelabi.SysTaskSelf:
		return int64(k.TaskSelf(tid))

	case keelabi.SysPMAlloc:
		base, errno := k.PMAlloc(tid, TaskID(args[0]), int(args[1]), keelabi.PMAllocFlags(args[2]))
		if errno != 0 {
			return int64(errno)
		}
		return int64(base)

	case keelabi.SysVMMap:
		errno := k.VMMap(tid, TaskID(args[0]), args[1], args[2], MapFlags(args[3]))
		return int64(errno)

	case keelabi.SysVMUnmap:
		errno := k.VMUnmap(tid, TaskID(args[0]), args[1])
		return int64(errno)

	case keelabi.SysIrqListen:
		return int64(k.IrqListen(tid, uint32(args[0])))

	case keelabi.SysIrqUnlisten:
		return int64(k.IrqUnlisten(tid, uint32(args[0])))

	case keelabi.SysTime:
		return int64(k.Time(tid, uint64(args[0])))

	case keelabi.SysUPTime:
		return k.UPTime(tid)

	case keelabi.SysHinaVM:
		return int64(keelabi.NotSupported)

	case keelabi.SysShutdown:
		k.Shutdown()
		return 0

	case keelabi.SysTransVAddr:
		paddr, errno := k.TransVAddr(tid, args[0])
		if errno != 0 {
			return int64(errno)
		}
		return int64(paddr)

	default:
		return int64(keelabi.InvalidSyscall)
	}
}

// dispatchIPC decodes IPC(dst, src, msg_ptr, flags) from the register
// vector, round-tripping the message through PhysicalMemory per
// spec.md §6's fixed Message layout.
func (k *Kernel) dispatchIPC(tid TaskID, args [6]uintptr) int64 {
	self := k.lookup(tid)
	if self == nil || k.cfg.Memory == nil {
		return int64(keelabi.NotSupported)
	}
	dst := TaskID(args[0])
	src := TaskID(args[1])
	msgPtr := args[2]
	flags := keelabi.IPCFlags(args[3])

	var out keelabi.Message
	if flags&keelabi.Send != 0 {
		var buf [keelabi.WireMessageSize]byte
		if err := k.readUser(self, msgPtr, buf[:]); err != nil {
			return int64(keelabi.InvalidUaddr)
		}
		msg, err := keelabi.DecodeMessage(buf)
		if err != nil {
			return int64(keelabi.InvalidArg)
		}
		out = msg
	}

	errno := k.IPC(tid, dst, src, &out, flags)
	if errno != 0 {
		return int64(errno)
	}

	if flags&keelabi.Recv != 0 {
		buf, err := keelabi.EncodeMessage(out)
		if err != nil {
			return int64(keelabi.InvalidArg)
		}
		if err := k.writeUser(self, msgPtr, buf[:]); err != nil {
			return int64(keelabi.InvalidUaddr)
		}
	}
	return 0
}

func (k *Kernel) dispatchSerialWrite(tid TaskID, args [6]uintptr) (int, keelabi.Errno) {
	self := k.lookup(tid)
	if self == nil || k.cfg.Memory == nil {
		return 0, keelabi.NotSupported
	}
	buf := make([]byte, args[1])
	if err := k.readUser(self, args[0], buf); err != nil {
		return 0, keelabi.InvalidUaddr
	}
	return k.SerialWrite(tid, buf)
}

func (k *Kernel) dispatchSerialRead(tid TaskID, args [6]uintptr) (int, keelabi.Errno) {
	self := k.lookup(tid)
	if self == nil || k.cfg.Memory == nil {
		return 0, keelabi.NotSupported
	}
	buf := make([]byte, args[1])
	n, errno := k.SerialRead(context.Background(), tid, buf)
	if errno != 0 {
		return 0, errno
	}
	if err := k.writeUser(self, args[0], buf[:n]); err != nil {
		return 0, keelabi.InvalidUaddr
	}
	return n, 0
}

func (k *Kernel) dispatchTaskCreate(tid TaskID, args [6]uintptr) (TaskID, keelabi.Errno) {
	self := k.lookup(tid)
	if self == nil || k.cfg.Memory == nil {
		return 0, keelabi.NotSupported
	}
	nameBuf := make([]byte, keelabi.NameLen)
	if err := k.readUser(self, args[0], nameBuf); err != nil {
		return 0, keelabi.InvalidUaddr
	}
	name := cStringFromBytes(nameBuf)
	return k.TaskCreate(tid, name, args[1], TaskID(args[2]))
}

// readUser / writeUser copy bytes between a task's user address space
// and a Go slice, one mapped page at a time, via t.addr.Translate and
// k.cfg.Memory. This is what gives the numeric Dispatch ABI's pointer
// arguments real meaning; the typed *Kernel methods never need it since
// Go callers already pass real []byte/string values directly.
func (k *Kernel) readUser(t *Task, uaddr uintptr, dst []byte) error {
	return k.copyUser(t, uaddr, dst, false)
}

func (k *Kernel) writeUser(t *Task, uaddr uintptr, src []byte) error {
	return k.copyUser(t, uaddr, src, true)
}

func (k *Kernel) copyUser(t *Task, uaddr uintptr, buf []byte, write bool) error {
	for off := 0; off < len(buf); {
		va := uaddr + uintptr(off)
		paddr, _, ok := t.addr.Translate(va)
		if !ok {
			return keelabi.InvalidUaddr
		}
		n := PageSize - int(va%PageSize)
		if n > len(buf)-off {
			n = len(buf) - off
		}
		var err error
		if write {
			_, err = k.cfg.Memory.WriteAt(paddr, buf[off:off+n])
		} else {
			_, err = k.cfg.Memory.ReadAt(paddr, buf[off:off+n])
		}
		if err != nil {
			return keelabi.InvalidUaddr
		}
		off += n
	}
	return nil
}

func cStringFromBytes(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

////////////////////////////////////////////////////////////////////////
// Typed syscall surface
////////////////////////////////////////////////////////////////////////

// IPC is the typed rendering of spec.md §4.F's IPC(dst, src, msg, flags).
// selfID is the task on whose behalf this runs, normally the calling
// task itself. It rejects the Kernel flag; the pager protocol (pager.go)
// does not go through IPC but calls send/recv directly with the
// faulting task as self.
func (k *Kernel) IPC(selfID, dst, src TaskID, msg *keelabi.Message, flags keelabi.IPCFlags) keelabi.Errno {
	if flags&keelabi.Kernel != 0 {
		return keelabi.InvalidArg
	}
	self := k.lookup(selfID)
	if self == nil {
		return keelabi.InvalidTask
	}

	_, report := reqtrace.StartSpan(context.Background(), ipcSpanName(flags))
	errno := k.ipc(self, dst, src, msg, flags)
	if errno != 0 {
		report(errno)
	} else {
		report(nil)
	}
	return errno
}

// Notify posts bits to target's pending set, synthesizing delivery if
// target is blocked on IPC_ANY (spec.md §4.B). Per DESIGN.md's
// resolution of the Notify open question, a caller may only target
// itself or a task it is the pager of.
func (k *Kernel) Notify(callerID, targetID TaskID, bits NotifyBits) keelabi.Errno {
	caller := k.lookup(callerID)
	if caller == nil {
		return keelabi.InvalidTask
	}
	target := caller
	if targetID != callerID {
		target = k.lookup(targetID)
		if target == nil {
			return keelabi.InvalidTask
		}
		if target.pager == nil || target.pager.id != callerID {
			return keelabi.NotAllowed
		}
	}
	target.Notify(bits)
	return 0
}

// SerialWrite writes buf to the console, per spec.md §4.E.
func (k *Kernel) SerialWrite(callerID TaskID, buf []byte) (int, keelabi.Errno) {
	if k.lookup(callerID) == nil {
		return 0, keelabi.InvalidTask
	}
	if k.cfg.Console == nil {
		return 0, keelabi.NotSupported
	}
	n, err := k.cfg.Console.Write(buf)
	if err != nil {
		return n, keelabi.Unexpected
	}
	return n, 0
}

// SerialRead blocks, cooperatively yielding, until buf is full or ctx is
// done, per spec.md §4.E. A partial read (ctx done after some bytes)
// returns what was read with no error.
func (k *Kernel) SerialRead(ctx context.Context, callerID TaskID, buf []byte) (int, keelabi.Errno) {
	if k.lookup(callerID) == nil {
		return 0, keelabi.InvalidTask
	}
	if k.cfg.Console == nil {
		return 0, keelabi.NotSupported
	}
	n := 0
	for n < len(buf) {
		b, err := k.cfg.Console.ReadByte(ctx)
		if err != nil {
			if n > 0 {
				return n, 0
			}
			return 0, keelabi.TryAgain
		}
		buf[n] = b
		n++
	}
	return n, 0
}

// TaskCreate is the typed rendering of spec.md §4.E TaskCreate(name_ptr,
// entry, pager).
func (k *Kernel) TaskCreate(callerID TaskID, name string, entry uintptr, pagerID TaskID) (TaskID, keelabi.Errno) {
	if k.lookup(callerID) == nil {
		return 0, keelabi.InvalidTask
	}
	pager := k.lookup(pagerID)
	if pager == nil {
		return 0, keelabi.InvalidTask
	}
	t, err := k.spawn(name, entry, pager)
	if err != nil {
		if errno, ok := err.(keelabi.Errno); ok {
			return 0, errno
		}
		return 0, keelabi.Unexpected
	}
	return t.id, 0
}

// TaskDestroy destroys target, per spec.md §4.E.
func (k *Kernel) TaskDestroy(callerID, targetID TaskID) keelabi.Errno {
	if k.lookup(callerID) == nil {
		return keelabi.InvalidTask
	}
	target := k.lookup(targetID)
	if target == nil {
		return keelabi.InvalidTask
	}
	k.Destroy(target)
	return 0
}

// TaskExit destroys the calling task.
func (k *Kernel) TaskExit(callerID TaskID) {
	if t := k.lookup(callerID); t != nil {
		k.Destroy(t)
	}
}

// TaskSelf returns the caller's own id.
func (k *Kernel) TaskSelf(callerID TaskID) TaskID {
	return callerID
}

// PMAlloc is the typed rendering of spec.md §4.E PMAlloc(dst_tid, size,
// flags).
func (k *Kernel) PMAlloc(callerID, dstID TaskID, size int, flags keelabi.PMAllocFlags) (uintptr, keelabi.Errno) {
	caller := k.lookup(callerID)
	if caller == nil {
		return 0, keelabi.InvalidTask
	}
	dst := caller
	if dstID != callerID {
		dst = k.lookup(dstID)
		if dst == nil {
			return 0, keelabi.InvalidTask
		}
	}
	return k.allocMemory(caller, dst, size, flags)
}

// VMMap is the typed rendering of spec.md §4.E VMMap(dst_tid, uaddr,
// paddr, attrs).
func (k *Kernel) VMMap(callerID, dstID TaskID, uaddr, paddr uintptr, attrs MapFlags) keelabi.Errno {
	caller := k.lookup(callerID)
	if caller == nil {
		return keelabi.InvalidTask
	}
	dst := caller
	if dstID != callerID {
		dst = k.lookup(dstID)
		if dst == nil {
			return keelabi.InvalidTask
		}
	}
	if errno := k.checkCrossTask(caller, dst); errno != 0 {
		return errno
	}
	if err := dst.addr.Map(VPN(uaddr/PageSize), PPN(paddr/PageSize), attrs); err != nil {
		return keelabi.InvalidPaddr
	}
	return 0
}

// VMUnmap is the typed rendering of spec.md §4.E VMUnmap(dst_tid, uaddr).
func (k *Kernel) VMUnmap(callerID, dstID TaskID, uaddr uintptr) keelabi.Errno {
	caller := k.lookup(callerID)
	if caller == nil {
		return keelabi.InvalidTask
	}
	dst := caller
	if dstID != callerID {
		dst = k.lookup(dstID)
		if dst == nil {
			return keelabi.InvalidTask
		}
	}
	if errno := k.checkCrossTask(caller, dst); errno != 0 {
		return errno
	}
	if err := dst.addr.Unmap(VPN(uaddr / PageSize)); err != nil {
		return keelabi.InvalidUaddr
	}
	return 0
}

// IrqListen registers callerID as the sole listener of line, per
// DESIGN.md's resolution of the IrqListen open question.
func (k *Kernel) IrqListen(callerID TaskID, line uint32) keelabi.Errno {
	if k.lookup(callerID) == nil {
		return keelabi.InvalidTask
	}
	k.irqMu.Lock()
	defer k.irqMu.Unlock()
	if _, exists := k.irqs[line]; exists {
		return keelabi.AlreadyUsed
	}
	k.irqs[line] = callerID
	return 0
}

// IrqUnlisten removes callerID's registration of line.
func (k *Kernel) IrqUnlisten(callerID TaskID, line uint32) keelabi.Errno {
	k.irqMu.Lock()
	defer k.irqMu.Unlock()
	owner, exists := k.irqs[line]
	if !exists {
		return keelabi.NotFound
	}
	if owner != callerID {
		return keelabi.NotAllowed
	}
	delete(k.irqs, line)
	return 0
}

// FireIRQ delivers an IRQ notification to whatever task is currently
// listening on line, if any. It is how a Hal implementation (or a test)
// simulates a hardware interrupt landing.
func (k *Kernel) FireIRQ(line uint32) {
	k.irqMu.Lock()
	tid, ok := k.irqs[line]
	k.irqMu.Unlock()
	if !ok {
		return
	}
	if t := k.lookup(tid); t != nil {
		t.Notify(IRQBits)
	}
}

// Time arms callerID's timeout deadline at now + ms, per spec.md §4.E.
func (k *Kernel) Time(callerID TaskID, ms uint64) keelabi.Errno {
	t := k.lookup(callerID)
	if t == nil {
		return keelabi.InvalidTask
	}
	deadline := k.cfg.Clock.Now().Add(time.Duration(ms) * time.Millisecond).UnixNano()
	t.armTimeout(deadline)
	return 0
}

// UPTime returns milliseconds since boot.
func (k *Kernel) UPTime(callerID TaskID) int64 {
	return k.cfg.Clock.Now().Sub(k.bootTime).Milliseconds()
}

// TransVAddr translates uaddr in callerID's address space, per spec.md
// §4.E TransVAddr(uaddr).
func (k *Kernel) TransVAddr(callerID TaskID, uaddr uintptr) (uintptr, keelabi.Errno) {
	t := k.lookup(callerID)
	if t == nil {
		return 0, keelabi.InvalidTask
	}
	paddr, _, ok := t.addr.Translate(uaddr)
	if !ok {
		return 0, keelabi.InvalidUaddr
	}
	return paddr, 0
}

// ScanTimeouts is the typed rendering of spec.md §4.D's "Timer: iterate
// every live task, call check_timeout()". A real Hal's timer interrupt
// calls this; timeutil.SimulatedClock-based tests call it directly so
// timer scenarios (spec.md §8 scenario 4) are deterministic instead of
// sleeping wall-clock milliseconds.
func (k *Kernel) ScanTimeouts() {
	now := k.cfg.Clock.Now().UnixNano()
	k.tasksMu.RLock()
	tasks := make([]*Task, 0, len(k.tasks))
	for _, t := range k.tasks {
		tasks = append(tasks, t)
	}
	k.tasksMu.RUnlock()

	for _, t := range tasks {
		t.checkTimeout(now)
	}
}

// RunTimerLoop starts a background goroutine that calls ScanTimeouts
// every interval until the kernel is shut down, for the non-simulated
// case.
func (k *Kernel) RunTimerLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-k.ctx.Done():
				return
			case <-ticker.C:
				k.ScanTimeouts()
				k.cfg.Hal.AckTimer()
			}
		}
	}()
}
