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

	"github.com/keelkernel/keel/keelabi"
)

// Console backs SerialWrite/SerialRead. spec.md §1 explicitly leaves the
// serial console unspecified ("not specified" alongside the logger and
// heap allocator), so this shape is this module's own choice rather than
// something grounded on a spec.md clause; keeltesting provides a
// channel-backed reference implementation.
type Console interface {
	Write(p []byte) (int, error)

	// ReadByte blocks until a byte is available or ctx is done, matching
	// spec.md §4.E's "blocks polling the console ... must yield
	// cooperatively" requirement for SerialRead.
	ReadByte(ctx context.Context) (byte, error)
}

// VPN and PPN are virtual and physical page numbers; both are plain page
// indices (address >> page shift), not byte addresses.
type VPN uintptr
type PPN uintptr

// Frame is a single physical page owned by exactly one task at a time
// (spec.md §3 invariant 5).
type Frame struct {
	PPN  PPN
	Base uintptr
}

// MapFlags mirrors the reason/attrs bits a caller hands to VMMap: this
// package never interprets them beyond passing them through to the
// AddressSpace implementation.
type MapFlags uintptr

// FrameAllocator is the physical frame authority of spec.md §4.C,
// consumed by the kernel core and implemented outside it (keeltesting
// supplies a freelist-backed reference implementation).
type FrameAllocator interface {
	AllocFrames(n int) ([]Frame, error)
	AllocZeroed() (Frame, error)

	// ZeroFrame zeroes the backing bytes of an already-allocated frame in
	// place. allocMemory uses it to zero a multi-frame contiguous region
	// obtained from a single AllocFrames call, since AllocZeroed only
	// allocates (and zeroes) one frame at a time and so can't promise
	// contiguity across several calls.
	ZeroFrame(f Frame) error

	FreeFrame(f Frame)
}

// AddressSpace is a single task's page table, per spec.md §4.C.
type AddressSpace interface {
	Map(vpn VPN, ppn PPN, flags MapFlags) error
	Unmap(vpn VPN) error
	Translate(vaddr uintptr) (paddr uintptr, flags MapFlags, ok bool)
	SwitchTo()
}

// PhysicalMemory is the byte-addressable view of physical memory that the
// numeric Dispatch ABI needs in order to read/write the buffers a
// syscall's pointer arguments refer to (the message struct for IPC, the
// buffers for SerialWrite/SerialRead, the name buffer for TaskCreate).
// It is not one of the four interfaces spec.md §6 names, but without it
// Dispatch would have nothing to marshal through; keeltesting's FramePool
// implements it directly over the byte slices it already owns.
type PhysicalMemory interface {
	ReadAt(paddr uintptr, p []byte) (int, error)
	WriteAt(paddr uintptr, p []byte) (int, error)
}

// TrapKind classifies why Hal.EnterUserMode returned control to the
// kernel, per spec.md §4.D.
type TrapKind int

const (
	TrapSyscall TrapKind = iota
	TrapPageFault
	TrapIllegal
	TrapOther
)

// TrapOutcome is produced by Hal.EnterUserMode and consumed by
// dispatchTrap.
type TrapOutcome struct {
	Kind TrapKind

	// Valid when Kind == TrapSyscall.
	SyscallNum keelabi.SysCall
	Args       [6]uintptr

	// Valid when Kind == TrapPageFault. Reason carries only READ/WRITE/EXEC;
	// Task.setFault enriches it with PRESENT/USER before recording it.
	FaultAddr   uintptr
	FaultIP     uintptr
	FaultReason keelabi.FaultReason
}

// TrapFrame is the saved user register state of spec.md §3. Hal owns its
// layout; the kernel core only ever sets the instruction pointer / stack
// pointer at task creation and the return value after a syscall.
type TrapFrame struct {
	IP uintptr
	SP uintptr

	// Ret is where Dispatch's return value is placed before the next
	// EnterUserMode so the user task's syscall wrapper observes it.
	Ret int64
}

// SetReturn records a syscall's return value, mirroring
// TrapFrameArgs::RET being set after dispatch in the task driver loop.
func (tf *TrapFrame) SetReturn(v int64) {
	tf.Ret = v
}

// Hal is the hardware abstraction consumed by the kernel core: entering
// user mode and acknowledging the timer interrupt. Trap entry, the MMU,
// and the timer device itself are external collaborators (spec.md §1);
// keeltesting.ProgramHal is a reference implementation usable without
// real hardware.
type Hal interface {
	// EnterUserMode runs t until it traps back into the kernel, using tf
	// as the saved/restored register state, and reports why.
	EnterUserMode(tf *TrapFrame) TrapOutcome

	// AckTimer acknowledges the hardware timer interrupt that triggered a
	// timeout scan.
	AckTimer()
}

// LoadSegment is one PT_LOAD segment of the embedded root server image,
// already relocated to the physical base it was copied to (spec.md §6
// "Embedded payload").
type LoadSegment struct {
	VAddr uintptr
	PAddr uintptr
	Pages int
	Flags MapFlags
}

// ProgramBinder is an optional Hal extension: a Hal implementation that
// wants to associate a per-task driving closure with a task before its
// driver goroutine starts can implement it. Kernel.spawn calls
// BindProgram (if the configured Hal implements it) with the new task's
// trap frame and name, before the task is marked Runnable, so there is
// no race between binding and the driver's first EnterUserMode call.
// keeltesting.ProgramHal implements this; it is not required by any
// Hal.
type ProgramBinder interface {
	BindProgram(tf *TrapFrame, name string)
}

// RootImage supplies the embedded root server ELF's LOAD segments and
// entry point; keelutil.ELFRootImage implements it over stdlib debug/elf
// for samples that embed a real binary via go:embed.
type RootImage interface {
	Segments() ([]LoadSegment, error)
	EntryPoint() uintptr
}
