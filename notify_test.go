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
)

// TestNotifyRestrictedToSelfOrPagerOfTarget exercises DESIGN.md's
// resolution of the Notify open question: a caller may only target
// itself or a task it pages.
func TestNotifyRestrictedToSelfOrPagerOfTarget(t *testing.T) {
	k, _, _ := newTestKernel(t)
	a := spawnTask(t, k, "a", keel.RootTaskID)
	b := spawnTask(t, k, "b", keel.RootTaskID)

	if errno := k.Notify(a, a, keel.TimerBits); errno != 0 {
		t.Errorf("self-notify: got %v, want success", errno)
	}
	if errno := k.Notify(keel.RootTaskID, a, keel.TimerBits); errno != 0 {
		t.Errorf("pager-of-target notify: got %v, want success", errno)
	}
	if errno := k.Notify(a, b, keel.TimerBits); errno != keelabi.NotAllowed {
		t.Errorf("unrelated-task notify: got %v, want NotAllowed", errno)
	}
}

// TestNotifyNeverOvertakesTargetedReceive exercises the asymmetry
// spec.md §9 calls out: a notification never preempts a Recv blocked on
// a specific source, only one blocked on IPC_ANY.
func TestNotifyNeverOvertakesTargetedReceive(t *testing.T) {
	k, _, _ := newTestKernel(t)
	a := spawnTask(t, k, "a", keel.RootTaskID)
	b := spawnTask(t, k, "b", keel.RootTaskID)

	done := make(chan keelabi.Errno, 1)
	go func() {
		var msg keelabi.Message
		done <- k.IPC(a, 0, b, &msg, keelabi.Recv)
	}()

	time.Sleep(20 * time.Millisecond)

	if errno := k.Notify(keel.RootTaskID, a, keel.TimerBits); errno != 0 {
		t.Fatalf("Notify: %v", errno)
	}

	select {
	case errno := <-done:
		t.Fatalf("targeted recv returned (%v) before its specific sender sent anything", errno)
	case <-time.After(50 * time.Millisecond):
		// Expected: still blocked.
	}

	msg := keelabi.Message{Content: keelabi.Ping{Value: 9}}
	if errno := k.IPC(b, a, 0, &msg, keelabi.Send); errno != 0 {
		t.Fatalf("B send: %v", errno)
	}

	select {
	case errno := <-done:
		if errno != 0 {
			t.Fatalf("A's recv: %v", errno)
		}
	case <-time.After(time.Second):
		t.Fatal("A's targeted recv never completed after its sender sent")
	}
}

// TestNotifyFusesWithAnyReceive confirms a Recv(IPC_ANY) already blocked
// is woken immediately by a Notify, unlike the targeted case above.
func TestNotifyFusesWithAnyReceive(t *testing.T) {
	k, _, _ := newTestKernel(t)
	a := spawnTask(t, k, "a", keel.RootTaskID)

	done := make(chan keelabi.Message, 1)
	go func() {
		var msg keelabi.Message
		k.IPC(a, keel.IPCAny, keel.IPCAny, &msg, keelabi.Recv)
		done <- msg
	}()

	time.Sleep(20 * time.Millisecond)

	if errno := k.Notify(keel.RootTaskID, a, keel.IRQBits); errno != 0 {
		t.Fatalf("Notify: %v", errno)
	}

	select {
	case msg := <-done:
		nf, ok := msg.Content.(keelabi.NotifyField)
		if !ok || keel.NotifyBits(nf.Bits)&keel.IRQBits == 0 {
			t.Fatalf("Content = %#v, want NotifyField with IRQBits set", msg.Content)
		}
	case <-time.After(time.Second):
		t.Fatal("any-receive was not woken by Notify")
	}
}

// TestIrqListenOwnership exercises the sole-owner-per-line registration.
func TestIrqListenOwnership(t *testing.T) {
	k, _, _ := newTestKernel(t)
	a := spawnTask(t, k, "a", keel.RootTaskID)
	b := spawnTask(t, k, "b", keel.RootTaskID)

	if errno := k.IrqListen(a, 7); errno != 0 {
		t.Fatalf("first IrqListen: %v", errno)
	}
	if errno := k.IrqListen(b, 7); errno != keelabi.AlreadyUsed {
		t.Fatalf("second IrqListen on same line: got %v, want AlreadyUsed", errno)
	}
	if errno := k.IrqUnlisten(b, 7); errno != keelabi.NotAllowed {
		t.Fatalf("IrqUnlisten by non-owner: got %v, want NotAllowed", errno)
	}
	if errno := k.IrqUnlisten(a, 7); errno != 0 {
		t.Fatalf("IrqUnlisten by owner: %v", errno)
	}
	if errno := k.IrqListen(b, 7); errno != 0 {
		t.Fatalf("IrqListen after unlisten: %v", errno)
	}
}

// TestFireIRQDeliversNotification confirms FireIRQ reaches whoever
// currently owns the line.
func TestFireIRQDeliversNotification(t *testing.T) {
	k, _, _ := newTestKernel(t)
	a := spawnTask(t, k, "a", keel.RootTaskID)

	if errno := k.IrqListen(a, 3); errno != 0 {
		t.Fatalf("IrqListen: %v", errno)
	}

	done := make(chan keelabi.Message, 1)
	go func() {
		var msg keelabi.Message
		k.IPC(a, keel.IPCAny, keel.IPCAny, &msg, keelabi.Recv)
		done <- msg
	}()

	time.Sleep(20 * time.Millisecond)
	k.FireIRQ(3)

	select {
	case msg := <-done:
		nf, ok := msg.Content.(keelabi.NotifyField)
		if !ok || keel.NotifyBits(nf.Bits)&keel.IRQBits == 0 {
			t.Fatalf("Content = %#v, want NotifyField with IRQBits set", msg.Content)
		}
	case <-time.After(time.Second):
		t.Fatal("FireIRQ did not reach the listening task")
	}
}
