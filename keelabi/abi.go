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

// Package keelabi defines the wire-stable contract between the kernel
// and its user tasks: syscall numbers, error codes, IPC flag bits,
// reserved task ids, page-fault reason bits, and the Message envelope.
//
// Nothing in this package may block or allocate in a way that depends on
// kernel internals; it exists so that the kernel core (package keel) and
// any out-of-tree user-space client can agree on these values without
// importing each other.
package keelabi

import "fmt"

// TaskID identifies a task. Id 0 means "any" in a Recv, and the maximum
// value means "from the kernel" as a message source. Id 1 is reserved
// for the root server.
type TaskID uint64

const (
	// IPCAny matches any sender in a Recv.
	IPCAny TaskID = 0

	// RootServerID is the bootstrap task embedded in the kernel image.
	// It has no pager and is the pager of every task it spawns.
	RootServerID TaskID = 1

	// FromKernel is the message source used when the kernel originates
	// an IPC on a task's behalf (the pager protocol).
	FromKernel TaskID = ^TaskID(0)
)

// SysCall is a syscall number, as placed in the trap frame by the user
// task before trapping into the kernel. Numbering is part of the ABI and
// must not change.
type SysCall uintptr

const (
	SysIPC            SysCall = 1
	SysNotify         SysCall = 2
	SysSerialWrite    SysCall = 3
	SysSerialRead     SysCall = 4
	SysTaskCreate     SysCall = 5
	SysTaskDestroy    SysCall = 6
	SysTaskExit       SysCall = 7
	SysTaskSelf       SysCall = 8
	SysPMAlloc        SysCall = 9
	SysVMMap          SysCall = 10
	SysVMUnmap        SysCall = 11
	SysIrqListen      SysCall = 12
	SysIrqUnlisten    SysCall = 13
	SysTime           SysCall = 14
	SysUPTime         SysCall = 15
	SysHinaVM      SysCall = 16
	SysShutdown    SysCall = 17
	SysTransVAddr  SysCall = 18
)

// Errno is the single error currency that crosses the syscall boundary:
// every syscall returns either a non-negative result or a negative Errno
// (see spec §7). Positive and zero values are never a valid Errno.
type Errno int64

const (
	NoMemory       Errno = -1
	NoResources    Errno = -2
	AlreadyExists  Errno = -3
	AlreadyUsed    Errno = -4
	AlreadyDone    Errno = -5
	StillUsed      Errno = -6
	NotFound       Errno = -7
	NotAllowed     Errno = -8
	NotSupported   Errno = -9
	Unexpected     Errno = -10
	InvalidArg     Errno = -11
	InvalidTask    Errno = -12
	InvalidSyscall Errno = -13
	InvalidPaddr   Errno = -14
	InvalidUaddr   Errno = -15
	TooManyTasks   Errno = -16
	TooLarge       Errno = -17
	TooSmall       Errno = -18
	WouldBlock     Errno = -19
	TryAgain       Errno = -20
	Aborted        Errno = -21
	Empty          Errno = -22
	NotEmpty       Errno = -23
	DeadLock       Errno = -24
)

var errnoNames = map[Errno]string{
	NoMemory:       "no memory",
	NoResources:    "no resources",
	AlreadyExists:  "already exists",
	AlreadyUsed:    "already used",
	AlreadyDone:    "already done",
	StillUsed:      "still used",
	NotFound:       "not found",
	NotAllowed:     "not allowed",
	NotSupported:   "not supported",
	Unexpected:     "unexpected",
	InvalidArg:     "invalid argument",
	InvalidTask:    "invalid task",
	InvalidSyscall: "invalid syscall",
	InvalidPaddr:   "invalid physical address",
	InvalidUaddr:   "invalid user address",
	TooManyTasks:   "too many tasks",
	TooLarge:       "too large",
	TooSmall:       "too small",
	WouldBlock:     "would block",
	TryAgain:       "try again",
	Aborted:        "aborted",
	Empty:          "empty",
	NotEmpty:       "not empty",
	DeadLock:       "deadlock",
}

// Error implements the error interface so an Errno can be returned from
// Go APIs above the syscall boundary (construction, HAL wiring) and
// still compose with fmt.Errorf("%w", ...) / errors.Is.
func (e Errno) Error() string {
	if name, ok := errnoNames[e]; ok {
		return name
	}
	return fmt.Sprintf("errno %d", int64(e))
}

// IPCFlags are the bits occupying bits 16..19 of the IPC syscall's flags
// word.
type IPCFlags uintptr

const (
	Send     IPCFlags = 1 << 16
	Recv     IPCFlags = 1 << 17
	NonBlock IPCFlags = 1 << 18
	Kernel   IPCFlags = 1 << 19
	Call              = Send | Recv
)

// FaultReason are the page-fault reason bits recorded by the trap
// demultiplexer and carried in a PageFault message.
type FaultReason uintptr

const (
	FaultRead    FaultReason = 1 << 0
	FaultWrite   FaultReason = 1 << 1
	FaultExec    FaultReason = 1 << 2
	FaultUser    FaultReason = 1 << 3
	FaultPresent FaultReason = 1 << 4
)

// PMAllocFlags are the flags accepted by the PMAlloc syscall.
type PMAllocFlags uintptr

const (
	PMUninitialized PMAllocFlags = 1 << 0
	PMZeroed        PMAllocFlags = 1 << 1
	PMAligned       PMAllocFlags = 1 << 2
)

// NameLen bounds the name buffer used by the supplemental service
// registry messages (see MessageContent below); it mirrors the 64-byte
// name buffer of the original implementation's ServiceRegister/Lookup
// messages (original_source/crates/syscall_consts/src/lib.rs).
const NameLen = 64

// MessageContent is a closed tagged union for the variants the kernel
// core itself must know about (PageFault / PageFaultReply / NotifyField)
// plus a handful of opaque higher-level protocol variants supplemented
// from the original implementation's dropped service-registry protocol
// (see SPEC_FULL.md §8). The kernel treats anything outside PageFault /
// PageFaultReply / NotifyField as opaque payload it never inspects.
type MessageContent interface {
	isMessageContent()
}

// PageFault is synthesized by the kernel and delivered to a task's pager
// when that task faults on an unmapped user address.
type PageFault struct {
	TID    TaskID
	UAddr  uintptr
	IP     uintptr
	Reason FaultReason
}

// PageFaultReply is the only content a pager may answer a PageFault
// with; anything else terminates (destroys) the faulting task.
type PageFaultReply struct{}

// NotifyField carries a drained notification bitset, delivered when a
// Recv(..., src=IPCAny) observes pending notifications instead of a
// targeted sender.
type NotifyField struct {
	Bits uint64
}

// Ping / PingReply exist only so tests and samples (see
// SPEC_FULL.md §8 scenario 1) have a minimal opaque payload to
// rendezvous with, mirroring the original's PingMsg/PingReplyMsg.
type Ping struct{ Value uint64 }
type PingReply struct{ Value uint64 }

// ServiceRegister / ServiceRegisterReply / ServiceLookup /
// ServiceLookupReply supplement the distillation with the original
// implementation's service-registry protocol (dropped by spec.md's
// distillation but present in original_source; see SPEC_FULL.md §8).
// The kernel never interprets these; they exist purely so
// keel/samples/nameserver has a payload to carry over plain IPC.
type ServiceRegister struct{ Name [NameLen]byte }
type ServiceRegisterReply struct{}
type ServiceLookup struct{ Name [NameLen]byte }
type ServiceLookupReply struct{ TID TaskID }

func (PageFault) isMessageContent()            {}
func (PageFaultReply) isMessageContent()       {}
func (NotifyField) isMessageContent()          {}
func (Ping) isMessageContent()                 {}
func (PingReply) isMessageContent()            {}
func (ServiceRegister) isMessageContent()      {}
func (ServiceRegisterReply) isMessageContent() {}
func (ServiceLookup) isMessageContent()        {}
func (ServiceLookupReply) isMessageContent()   {}

// Message is the fixed-shape envelope delivered through a task's
// mailbox: a source task id (or FromKernel) plus one MessageContent
// variant.
type Message struct {
	Source  TaskID
	Content MessageContent
}
