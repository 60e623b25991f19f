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

package keel_test

import (
	"testing"
	"time"

	"github.com/keelkernel/keel"
	"github.com/keelkernel/keel/keelabi"
	"github.com/keelkernel/keel/keeltesting"
	"github.com/kylelemons/godebug/pretty"
)

// TestPageFaultRoundTrip is spec.md §8 scenario 6: a task reads an
// unmapped user address, the kernel forwards a PageFault to its pager,
// and a successful VMMap + PageFaultReply lets the faulting task's
// driver loop re-enter user mode.
func TestPageFaultRoundTrip(t *testing.T) {
	k, hal, frames := newTestKernel(t)
	pager := spawnTask(t, k, "pager", keel.RootTaskID)

	const (
		faultAddr = uintptr(0x10000000)
		faultIP   = uintptr(0x1000)
	)
	hal.Register("faulting", keeltesting.Steps(keel.TrapOutcome{
		Kind:        keel.TrapPageFault,
		FaultAddr:   faultAddr,
		FaultIP:     faultIP,
		FaultReason: keelabi.FaultRead,
	}))
	faulting, errno := k.TaskCreate(keel.RootTaskID, "faulting", faultIP, pager)
	if errno != 0 {
		t.Fatalf("TaskCreate(faulting): %v", errno)
	}

	var fault keelabi.Message
	if errno := k.IPC(pager, keel.IPCAny, faulting, &fault, keelabi.Recv); errno != 0 {
		t.Fatalf("pager recv: %v", errno)
	}
	if fault.Source != keel.FromKernel {
		t.Errorf("fault.Source = %v, want FromKernel", fault.Source)
	}
	pf, ok := fault.Content.(keelabi.PageFault)
	if !ok {
		t.Fatalf("fault.Content = %#v, want PageFault", fault.Content)
	}
	wantPF := keelabi.PageFault{
		TID:    faulting,
		UAddr:  faultAddr,
		IP:     faultIP,
		Reason: keelabi.FaultRead | keelabi.FaultUser,
	}
	if diff := pretty.Compare(wantPF, pf); diff != "" {
		t.Fatalf("PageFault mismatch (-want +got):\n%s", diff)
	}
	if pf.Reason&keelabi.FaultPresent != 0 {
		t.Errorf("PageFault.Reason = %#x, PRESENT should be clear for an unmapped address", pf.Reason)
	}

	frame, err := frames.AllocZeroed()
	if err != nil {
		t.Fatalf("AllocZeroed: %v", err)
	}
	if errno := k.VMMap(pager, faulting, faultAddr, frame.Base, keel.MapFlags(keelabi.FaultRead|keelabi.FaultWrite)); errno != 0 {
		t.Fatalf("VMMap: %v", errno)
	}

	reply := keelabi.Message{Content: keelabi.PageFaultReply{}}
	if errno := k.IPC(pager, faulting, 0, &reply, keelabi.Send); errno != 0 {
		t.Fatalf("pager reply: %v", errno)
	}

	// The faulting task's driver loop should now observe the resolved
	// mapping on its next EnterUserMode call.
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if paddr, errno := k.TransVAddr(faulting, faultAddr); errno == 0 && paddr == frame.Base {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("faulting task's address never translated to the pager-supplied frame")
}

// TestPageFaultBadPagerReplyTerminates checks that a pager reply other
// than PageFaultReply terminates the faulting task, per spec.md §8's
// invariant list.
func TestPageFaultBadPagerReplyTerminates(t *testing.T) {
	k, hal, _ := newTestKernel(t)
	pager := spawnTask(t, k, "pager2", keel.RootTaskID)

	const faultAddr = uintptr(0x20000000)
	hal.Register("faulting2", keeltesting.Steps(keel.TrapOutcome{
		Kind:        keel.TrapPageFault,
		FaultAddr:   faultAddr,
		FaultIP:     0x1000,
		FaultReason: keelabi.FaultRead,
	}))
	faulting, errno := k.TaskCreate(keel.RootTaskID, "faulting2", 0x1000, pager)
	if errno != 0 {
		t.Fatalf("TaskCreate(faulting2): %v", errno)
	}

	var fault keelabi.Message
	if errno := k.IPC(pager, keel.IPCAny, faulting, &fault, keelabi.Recv); errno != 0 {
		t.Fatalf("pager recv: %v", errno)
	}

	reply := keelabi.Message{Content: keelabi.Ping{Value: 0}}
	if errno := k.IPC(pager, faulting, 0, &reply, keelabi.Send); errno != 0 {
		t.Fatalf("pager reply: %v", errno)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if _, errno := k.TransVAddr(faulting, faultAddr); errno == keelabi.InvalidTask {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("faulting task was never terminated for a non-PageFaultReply pager reply")
}
