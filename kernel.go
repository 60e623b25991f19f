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
	"fmt"
	"log"
	"math/bits"
	"sync"
	"time"

	"github.com/jacobsa/timeutil"
	"github.com/keelkernel/keel/keelabi"
)

// KernelConfig is the dependency bundle a Kernel is built from, mirroring
// fuse.MountConfig: the capability contracts of §6 FULL plus the root
// server's identity all arrive through it, with documented defaults.
type KernelConfig struct {
	// Clock supplies Kernel.UPTime and the deadlines armed by Time(ms).
	// Defaults to timeutil.RealClock() if nil.
	Clock timeutil.Clock

	// Frames is the global physical frame authority (spec.md §4.C).
	// Required.
	Frames FrameAllocator

	// Memory is the byte-addressable physical memory view Dispatch uses
	// to marshal pointer-bearing syscall arguments. Required only if the
	// numeric Dispatch ABI is used; the typed *Kernel methods never touch
	// it.
	Memory PhysicalMemory

	// NewAddressSpace constructs a fresh, empty AddressSpace for a new
	// task. Required.
	NewAddressSpace func() AddressSpace

	// Hal enters user mode and acknowledges the timer interrupt. A single
	// instance is shared across every task; AddressSpace.SwitchTo (called
	// by the driver loop before EnterUserMode) is what makes it run the
	// right task's page table. Required.
	Hal Hal

	// Console backs the SerialWrite/SerialRead syscalls. Neither the
	// serial console nor its wire format is specified by spec.md §1; nil
	// makes both syscalls return NotSupported.
	Console Console

	// RootName is the task name given to the embedded root server.
	// Defaults to "root".
	RootName string

	// RootEntry seeds the root server's trap frame when RootImage is
	// nil. Ignored if RootImage is set, since the image's own entry
	// point is used instead.
	RootEntry uintptr

	// RootImage, if set, supplies the root server's PT_LOAD segments and
	// entry point (keelutil.ELFRootImage is the reference
	// implementation, built on an embedded ELF binary). New maps every
	// segment into the root task's address space before starting it.
	// If nil, the root task starts with an empty address space at
	// RootEntry — useful for keeltesting.ProgramHal-driven tests that
	// never touch user memory.
	RootImage RootImage

	// OnFatal, if set, is invoked (in addition to the shutdown it
	// triggers) when a task's driver goroutine panics on a condition
	// with nowhere higher to propagate to, such as an illegal
	// instruction trap. Defaults to nil, which just logs and shuts
	// down.
	OnFatal func(error)
}

// Kernel owns the task table and exposes the typed syscall surface. It
// is the keel analogue of fuse.Connection: one long-lived object per
// booted system.
type Kernel struct {
	cfg KernelConfig

	debugLogger *log.Logger
	errorLogger *log.Logger

	tasksMu sync.RWMutex
	tasks   map[TaskID]*Task // GUARDED_BY(tasksMu)
	nextID  TaskID           // GUARDED_BY(tasksMu)

	irqMu   sync.Mutex
	irqs    map[uint32]TaskID // GUARDED_BY(irqMu)

	ctx    context.Context
	cancel context.CancelFunc

	bootTime time.Time
}

// New boots a kernel: it allocates and spawns the root server task
// (reserved id 1, no pager) and returns once that task's driver
// goroutine has been started. It does not block waiting for the root
// server to do anything.
func New(cfg KernelConfig) (*Kernel, error) {
	if cfg.Frames == nil {
		return nil, fmt.Errorf("keel: KernelConfig.Frames is required")
	}
	if cfg.NewAddressSpace == nil {
		return nil, fmt.Errorf("keel: KernelConfig.NewAddressSpace is required")
	}
	if cfg.Hal == nil {
		return nil, fmt.Errorf("keel: KernelConfig.Hal is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock()
	}
	if cfg.RootName == "" {
		cfg.RootName = "root"
	}

	ctx, cancel := context.WithCancel(context.Background())
	k := &Kernel{
		cfg:         cfg,
		tasks:       make(map[TaskID]*Task),
		nextID:      RootTaskID,
		irqs:        make(map[uint32]TaskID),
		ctx:         ctx,
		cancel:      cancel,
		debugLogger: newDiscardLogger("keel: "),
		errorLogger: newDiscardLogger("keel: "),
		bootTime:    cfg.Clock.Now(),
	}

	entry := cfg.RootEntry
	if cfg.RootImage != nil {
		entry = cfg.RootImage.EntryPoint()
	}

	root, err := k.spawn(cfg.RootName, entry, nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("keel: spawning root server: %w", err)
	}

	if cfg.RootImage != nil {
		if err := k.loadRootImage(root, cfg.RootImage); err != nil {
			cancel()
			return nil, fmt.Errorf("keel: loading root server image: %w", err)
		}
	}

	return k, nil
}

// loadRootImage maps every PT_LOAD segment of img into t's address
// space. The segment's physical frames are already allocated and
// populated (keelutil.ELFRootImage does that at parse time); this just
// wires them into the page table the root task's driver loop will
// switch to.
func (k *Kernel) loadRootImage(t *Task, img RootImage) error {
	segments, err := img.Segments()
	if err != nil {
		return err
	}
	for _, seg := range segments {
		for p := 0; p < seg.Pages; p++ {
			vpn := VPN(seg.VAddr/PageSize + uintptr(p))
			ppn := PPN(seg.PAddr/PageSize + uintptr(p))
			if err := t.addr.Map(vpn, ppn, seg.Flags); err != nil {
				return fmt.Errorf("mapping segment page %d at vaddr %#x: %w", p, seg.VAddr, err)
			}
		}
	}
	return nil
}

// Shutdown stops every task driver goroutine. It does not free frames
// synchronously; each driver's deferred cleanup runs as it observes
// ctx.Done().
func (k *Kernel) Shutdown() {
	k.cancel()
}

func (k *Kernel) lookup(tid TaskID) *Task {
	k.tasksMu.RLock()
	defer k.tasksMu.RUnlock()
	return k.tasks[tid]
}

// spawn implements spec.md §4.B Task.new: allocate an id, a page table,
// a user stack, install the trap frame's entry point/stack pointer, and
// start the task's driver goroutine.
func (k *Kernel) spawn(name string, entry uintptr, pager *Task) (*Task, error) {
	if name == "" {
		return nil, keelabi.InvalidArg
	}

	k.tasksMu.Lock()
	id := k.nextID
	k.nextID++
	if _, exists := k.tasks[id]; exists {
		k.tasksMu.Unlock()
		return nil, keelabi.TooManyTasks
	}
	k.tasksMu.Unlock()

	addr := k.cfg.NewAddressSpace()
	t := newTask(id, name, k, pager, addr, k.cfg.Hal, k.cfg.Clock)

	frames, err := k.cfg.Frames.AllocFrames(USERStackPages)
	if err != nil {
		return nil, keelabi.NoMemory
	}
	vpns := make([]VPN, len(frames))
	for i, f := range frames {
		vpn := VPN((USERStackTop / PageSize) - uintptr(i))
		if err := addr.Map(vpn, f.PPN, MapFlags(keelabi.FaultRead|keelabi.FaultWrite)); err != nil {
			return nil, keelabi.NoMemory
		}
		vpns[i] = vpn
	}
	t.addOwnedMappedFrames(frames, vpns)

	t.trap.IP = entry
	t.trap.SP = USERStackTop

	if pb, ok := k.cfg.Hal.(ProgramBinder); ok {
		pb.BindProgram(&t.trap, name)
	}

	k.tasksMu.Lock()
	k.tasks[id] = t
	k.tasksMu.Unlock()

	t.mu.Lock()
	t.state = StateRunnable
	t.mu.Unlock()

	go t.run(k.ctx)

	k.debugf("spawned task %d (%s), pager=%v, entry=%#x", id, name, pagerID(pager), entry)
	return t, nil
}

// fatal handles a condition a task's driver goroutine panicked on because
// there was nowhere higher in the kernel to propagate it to (an
// illegal-instruction trap, or a page fault at a kernel-range ip or in a
// task with no pager, see servicePageFault). A kernel has no
// caller to return an error to, so this logs the condition, invokes
// cfg.OnFatal if configured, and shuts the whole kernel down — mirroring
// the teacher's own use of panic for "this must never happen" conditions
// in recordCancelFunc/finishOp.
func (k *Kernel) fatal(t *Task, r interface{}) {
	k.errorLogger.Printf("fatal: task %d (%s): %v", t.id, t.name, r)
	if k.cfg.OnFatal != nil {
		k.cfg.OnFatal(fmt.Errorf("keel: fatal in task %d (%s): %v", t.id, t.name, r))
	}
	k.Shutdown()
}

func pagerID(pager *Task) interface{} {
	if pager == nil {
		return "none"
	}
	return pager.ID()
}

// Destroy implements spec.md §3's destruction lifecycle and §4.F's
// abort semantics: every sender queued behind t and every task
// specifically wait-for'ing t observes Aborted within one scheduling
// round.
func (k *Kernel) Destroy(t *Task) {
	t.mu.Lock()
	if t.destroyed {
		t.mu.Unlock()
		return
	}
	t.destroyed = true
	queue := t.senderQueue
	t.senderQueue = nil
	t.mu.Unlock()

	for _, sid := range queue {
		if s := k.lookup(sid); s != nil {
			s.abortTask()
		}
	}

	var waiters []*Task
	k.tasksMu.RLock()
	for _, other := range k.tasks {
		if other.id == t.id {
			continue
		}
		other.mu.Lock()
		waitingOnT := other.state == StateBlocked && other.waitFor.active && !other.waitFor.any && other.waitFor.tid == t.id
		other.mu.Unlock()
		if waitingOnT {
			waiters = append(waiters, other)
		}
	}
	k.tasksMu.RUnlock()

	for _, w := range waiters {
		w.abortTask()
	}

	k.tasksMu.Lock()
	delete(k.tasks, t.id)
	k.tasksMu.Unlock()

	// Reclaim t's frames here rather than leaving it solely to t.run's
	// deferred cleanup: a driver parked inside Hal.EnterUserMode (the
	// normal state for every task driven through the typed *Kernel
	// surface) never observes this t.wake() as a loop-exiting condition
	// on its own, since EnterUserMode isn't selecting on t.resume. Calling
	// freeOwnedFrames from both here and t.run's defer is safe: it drains
	// t.frames to nil under lock, so whichever runs second finds nothing
	// left to free.
	k.freeOwnedFrames(t)

	t.wake()
	k.debugf("destroyed task %d (%s)", t.id, t.name)
}

// freeOwnedFrames returns every frame t owns to the global pool, after
// unmapping each one that is currently mapped into t's address space
// (spec.md §3 invariant 5). Called from Destroy and, idempotently, from
// t.run's deferred cleanup as the driver goroutine exits.
func (k *Kernel) freeOwnedFrames(t *Task) {
	t.mu.Lock()
	frames := t.frames
	t.frames = nil
	t.mu.Unlock()

	for _, of := range frames {
		if of.mapped {
			t.addr.Unmap(of.vpn)
		}
		k.cfg.Frames.FreeFrame(of.frame)
	}
}

// allocMemory implements spec.md §4.C's alloc_memory layering: a
// contiguous physical region, optionally zeroed, added to dst's owned
// set and returned as its physical base address. It is not mapped into
// dst's address space; that takes a separate VMMap.
func (k *Kernel) allocMemory(caller, dst *Task, size int, flags keelabi.PMAllocFlags) (uintptr, keelabi.Errno) {
	if dst.id != caller.id && (dst.pager == nil || dst.pager.id != caller.id) {
		return 0, keelabi.InvalidTask
	}
	if size <= 0 {
		return 0, keelabi.InvalidArg
	}

	pages := (size + PageSize - 1) / PageSize
	alloc := pages
	if flags&keelabi.PMAligned != 0 {
		pages = alignPages(pages)
		alloc = 2*pages - 1 // room for an aligned run of pages frames
	}

	// Always a single AllocFrames call, even when PMZeroed is set: the
	// region alloc_memory hands back must be contiguous, and AllocZeroed
	// only ever allocates (and zeroes) one frame at a time, which doesn't
	// guarantee the frames it returns across several calls are adjacent.
	frames, err := k.cfg.Frames.AllocFrames(alloc)
	if err == nil && alloc > pages && len(frames) == alloc {
		start := 0
		for start < pages-1 && frames[start].Base%(uintptr(pages)*PageSize) != 0 {
			start++
		}
		for i, f := range frames {
			if i < start || i >= start+pages {
				k.cfg.Frames.FreeFrame(f)
			}
		}
		frames = frames[start : start+pages]
	}
	if err == nil && flags&keelabi.PMZeroed != 0 {
		for _, f := range frames {
			if zerr := k.cfg.Frames.ZeroFrame(f); zerr != nil {
				err = zerr
				break
			}
		}
	}
	if err != nil || len(frames) != pages {
		for _, f := range frames {
			k.cfg.Frames.FreeFrame(f)
		}
		return 0, keelabi.NoMemory
	}

	base := frames[0].Base
	dst.addOwnedFrames(frames)
	return base, 0
}

// alignPages rounds pages up to the next power of two, per spec.md §9's
// resolution of the PMAllocFlags::Aligned open question.
func alignPages(pages int) int {
	if pages <= 1 {
		return 1
	}
	return 1 << bits.Len(uint(pages-1))
}

// checkCrossTask implements the cross-task rule shared by VMMap and
// VMUnmap: the target's pager must be the caller, unless the caller is
// the target itself.
func (k *Kernel) checkCrossTask(caller, dst *Task) keelabi.Errno {
	if dst.id == caller.id {
		return 0
	}
	if dst.pager != nil && dst.pager.id == caller.id {
		return 0
	}
	return keelabi.InvalidTask
}
