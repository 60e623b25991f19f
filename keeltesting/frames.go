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

// Package keeltesting provides in-memory reference implementations of
// keel's Hal, AddressSpace, FrameAllocator, PhysicalMemory and Console
// contracts, so the kernel core can be exercised without real hardware.
// It mirrors the teacher's fusetesting package and the SimulatedClock
// helper in samples/testing.go.
package keeltesting

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/keelkernel/keel"
)

// FramePool is a fixed-size simulated physical memory: a contiguous
// byte slice carved into keel.PageSize frames, with a freelist-backed
// FrameAllocator and a PhysicalMemory view directly over the same
// bytes. One mutex guards a plain Go slice standing in for a real
// resource, the way samples/memfs/mem_fs.go guards its inode store.
type FramePool struct {
	mu      sync.Mutex
	mem     []byte
	free    []bool // true = free, indexed by PPN
	mmapped bool
}

// NewFramePool allocates a simulated physical memory of the given page
// count, every frame initially free, backed by a plain Go byte slice.
func NewFramePool(pages int) *FramePool {
	free := make([]bool, pages)
	for i := range free {
		free[i] = true
	}
	return &FramePool{
		mem:  make([]byte, pages*keel.PageSize),
		free: free,
	}
}

// NewMmapFramePool is like NewFramePool, except the backing bytes are a
// real, page-aligned anonymous mapping obtained through
// golang.org/x/sys/unix.Mmap rather than a Go-heap slice, so a sample
// that wants frame addresses to be genuine (page-aligned, independently
// addressable) memory rather than offsets into a Go slice can use it.
// Callers should call Close when done to munmap it.
func NewMmapFramePool(pages int) (*FramePool, error) {
	mem, err := unix.Mmap(-1, 0, pages*keel.PageSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("keeltesting: mmap %d pages: %w", pages, err)
	}
	free := make([]bool, pages)
	for i := range free {
		free[i] = true
	}
	return &FramePool{mem: mem, free: free, mmapped: true}, nil
}

// Close unmaps the pool's backing memory if it was obtained via
// NewMmapFramePool; it is a no-op otherwise.
func (p *FramePool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.mmapped {
		return nil
	}
	mem := p.mem
	p.mem = nil
	return unix.Munmap(mem)
}

func (p *FramePool) frame(ppn keel.PPN) keel.Frame {
	return keel.Frame{PPN: ppn, Base: uintptr(ppn) * keel.PageSize}
}

// AllocFrames finds n contiguous free frames by first-fit, so the base
// address a caller like PMAlloc hands back is usable as a single
// contiguous region.
func (p *FramePool) AllocFrames(n int) ([]keel.Frame, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	run, start := 0, -1
	for i, isFree := range p.free {
		if !isFree {
			run = 0
			continue
		}
		if run == 0 {
			start = i
		}
		run++
		if run == n {
			frames := make([]keel.Frame, n)
			for j := 0; j < n; j++ {
				p.free[start+j] = false
				frames[j] = p.frame(keel.PPN(start + j))
			}
			return frames, nil
		}
	}
	return nil, fmt.Errorf("keeltesting: out of simulated physical memory (%d frames requested)", n)
}

// AllocZeroed allocates a single frame and zeroes its backing bytes.
func (p *FramePool) AllocZeroed() (keel.Frame, error) {
	frames, err := p.AllocFrames(1)
	if err != nil {
		return keel.Frame{}, err
	}
	p.zero(frames[0])
	return frames[0], nil
}

// ZeroFrame implements keel.FrameAllocator.
func (p *FramePool) ZeroFrame(f keel.Frame) error {
	p.zero(f)
	return nil
}

func (p *FramePool) zero(f keel.Frame) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := uintptr(0); i < keel.PageSize; i++ {
		p.mem[f.Base+i] = 0
	}
}

// FreeFrame returns f to the pool.
func (p *FramePool) FreeFrame(f keel.Frame) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.free[f.PPN] = true
}

// ReadAt and WriteAt implement keel.PhysicalMemory directly over the
// pool's backing bytes, letting Dispatch's numeric ABI marshal syscall
// pointer arguments without any real MMU.
func (p *FramePool) ReadAt(paddr uintptr, b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if paddr+uintptr(len(b)) > uintptr(len(p.mem)) {
		return 0, fmt.Errorf("keeltesting: read past simulated physical memory at %#x", paddr)
	}
	return copy(b, p.mem[paddr:]), nil
}

func (p *FramePool) WriteAt(paddr uintptr, b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if paddr+uintptr(len(b)) > uintptr(len(p.mem)) {
		return 0, fmt.Errorf("keeltesting: write past simulated physical memory at %#x", paddr)
	}
	return copy(p.mem[paddr:], b), nil
}

// Pages reports the pool's total capacity, in pages.
func (p *FramePool) Pages() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.free)
}

// FreeCount reports how many frames are currently unallocated.
func (p *FramePool) FreeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, isFree := range p.free {
		if isFree {
			n++
		}
	}
	return n
}
