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

	"github.com/keelkernel/keel"
	"github.com/keelkernel/keel/keelabi"
)

// TestPMAllocAlignedRoundsUpToPowerOfTwo exercises DESIGN.md's
// resolution of the PMAllocFlags::Aligned open question.
func TestPMAllocAlignedRoundsUpToPowerOfTwo(t *testing.T) {
	k, _, _ := newTestKernel(t)
	a := spawnTask(t, k, "a", keel.RootTaskID)

	cases := []struct {
		sizeBytes  int
		wantFrames uintptr
	}{
		{sizeBytes: keel.PageSize, wantFrames: 1},
		{sizeBytes: keel.PageSize + 1, wantFrames: 2},
		{sizeBytes: 3 * keel.PageSize, wantFrames: 4},
		{sizeBytes: 5 * keel.PageSize, wantFrames: 8},
	}

	var lastBase uintptr
	for _, c := range cases {
		base, errno := k.PMAlloc(a, a, c.sizeBytes, keelabi.PMAligned)
		if errno != 0 {
			t.Fatalf("PMAlloc(%d, Aligned): %v", c.sizeBytes, errno)
		}
		if base%(c.wantFrames*keel.PageSize) != 0 {
			t.Errorf("PMAlloc(%d, Aligned) = %#x, not aligned to %d pages", c.sizeBytes, base, c.wantFrames)
		}
		lastBase = base
	}
	_ = lastBase
}

// TestHinaVMNotSupported exercises spec.md §9's resolution of the
// HinaVM open question, via the numeric Dispatch ABI (HinaVM has no
// typed rendering since it does nothing).
func TestHinaVMNotSupported(t *testing.T) {
	k, _, _ := newTestKernel(t)
	a := spawnTask(t, k, "a", keel.RootTaskID)

	ret := k.Dispatch(a, keelabi.SysHinaVM, [6]uintptr{})
	if keelabi.Errno(ret) != keelabi.NotSupported {
		t.Fatalf("Dispatch(SysHinaVM) = %d, want NotSupported", ret)
	}
}

// TestTaskDestroyFreesOwnedFrames confirms a destroyed task's frames
// return to the pool, per spec.md §3 invariant 5.
func TestTaskDestroyFreesOwnedFrames(t *testing.T) {
	k, _, frames := newTestKernel(t)
	a := spawnTask(t, k, "a", keel.RootTaskID)

	before := frames.FreeCount()
	if before == 0 {
		t.Fatal("pool reports zero capacity")
	}

	const size = 4 * keel.PageSize
	if _, errno := k.PMAlloc(a, a, size, 0); errno != 0 {
		t.Fatalf("PMAlloc: %v", errno)
	}
	if got := frames.FreeCount(); got != before-size/keel.PageSize {
		t.Fatalf("pool has %d free frames after PMAlloc, want %d", got, before-size/keel.PageSize)
	}

	if errno := k.TaskDestroy(keel.RootTaskID, a); errno != 0 {
		t.Fatalf("TaskDestroy: %v", errno)
	}

	// Destroy returns every frame a owns: the 4 just allocated above, plus
	// the USERStackPages frames spawnTask gave it for its user stack
	// before this test ever sampled the pool.
	want := before + keel.USERStackPages
	if after := frames.FreeCount(); after != want {
		t.Fatalf("pool has %d free frames after destroy, want %d (frames leaked)", after, want)
	}
}
