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

package keelutil

import (
	"bytes"
	"debug/elf"
	"fmt"
	"io"

	"github.com/keelkernel/keel"
	"github.com/keelkernel/keel/keelabi"
)

// ELFRootImage parses an embedded root server binary and copies its
// PT_LOAD segments into freshly allocated physical frames, satisfying
// keel.RootImage. A real boot path obtains elfBytes via go:embed; the
// kernel core never sees the ELF format itself, only the resulting
// LoadSegment values (spec.md §6's RootImage contract).
type ELFRootImage struct {
	entry    uintptr
	segments []keel.LoadSegment
}

var _ keel.RootImage = (*ELFRootImage)(nil)

// NewELFRootImage parses elfBytes, and for every PT_LOAD program header
// allocates enough frames to hold it, zero-fills any bss tail
// (Memsz > Filesz), and copies the segment's file contents in. It is
// meant to run once at boot, before Kernel.New, since it is the only
// place in this module that touches debug/elf — keeping ELF parsing
// out of the kernel core per SPEC_FULL.md's domain-stack split.
func NewELFRootImage(elfBytes []byte, frames keel.FrameAllocator, mem keel.PhysicalMemory) (*ELFRootImage, error) {
	f, err := elf.NewFile(bytes.NewReader(elfBytes))
	if err != nil {
		return nil, fmt.Errorf("keelutil: parsing root server elf: %w", err)
	}
	defer f.Close()

	img := &ELFRootImage{entry: uintptr(f.Entry)}

	for _, prog := range f.Progs {
		if prog.Type != elf.PT_LOAD || prog.Memsz == 0 {
			continue
		}

		pages := int((prog.Memsz + keel.PageSize - 1) / keel.PageSize)
		data := make([]byte, pages*keel.PageSize)
		if prog.Filesz > 0 {
			if _, err := io.ReadFull(prog.Open(), data[:prog.Filesz]); err != nil {
				return nil, fmt.Errorf("keelutil: reading PT_LOAD segment at vaddr %#x: %w", prog.Vaddr, err)
			}
		}

		segFrames, err := frames.AllocFrames(pages)
		if err != nil {
			return nil, fmt.Errorf("keelutil: allocating %d frames for segment at vaddr %#x: %w", pages, prog.Vaddr, err)
		}
		base := segFrames[0].Base
		if _, err := mem.WriteAt(base, data); err != nil {
			return nil, fmt.Errorf("keelutil: copying segment at vaddr %#x into physical memory: %w", prog.Vaddr, err)
		}

		img.segments = append(img.segments, keel.LoadSegment{
			VAddr: uintptr(prog.Vaddr),
			PAddr: base,
			Pages: pages,
			Flags: elfFlags(prog.Flags),
		})
	}

	return img, nil
}

func elfFlags(f elf.ProgFlag) keel.MapFlags {
	var flags keelabi.FaultReason
	if f&elf.PF_R != 0 {
		flags |= keelabi.FaultRead
	}
	if f&elf.PF_W != 0 {
		flags |= keelabi.FaultWrite
	}
	if f&elf.PF_X != 0 {
		flags |= keelabi.FaultExec
	}
	return keel.MapFlags(flags)
}

// Segments implements keel.RootImage.
func (img *ELFRootImage) Segments() ([]keel.LoadSegment, error) {
	return img.segments, nil
}

// EntryPoint implements keel.RootImage.
func (img *ELFRootImage) EntryPoint() uintptr {
	return img.entry
}
