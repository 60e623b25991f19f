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

package keeltesting

import (
	"sync"

	"github.com/keelkernel/keel"
)

// ProgramFunc plays the role of a tiny user-mode program: each call
// corresponds to one Hal.EnterUserMode invocation (i.e. one trap), and
// the function decides what that trap is, typically by closing over its
// own step counter. It is the keeltesting equivalent of samples/hello_fs.go
// standing in for a real file system: something simple enough to drive the
// kernel core end to end without real user-mode code.
type ProgramFunc func(tf *keel.TrapFrame) keel.TrapOutcome

// ProgramHal is a keel.Hal whose "user mode" is actually a Go closure
// registered ahead of time per task name. It implements
// keel.ProgramBinder so Kernel.spawn can associate a freshly created
// task's trap frame with its program before the task's driver goroutine
// starts, avoiding any race between registration and first use.
//
// A task with no registered program just parks: EnterUserMode blocks
// forever, which is the right behavior for tests that drive a task's
// syscalls directly via the typed *Kernel methods instead of through a
// program (see ipc_test.go).
type ProgramHal struct {
	mu      sync.Mutex
	byName  map[string]ProgramFunc
	byFrame map[*keel.TrapFrame]ProgramFunc
	irqAcks int
}

// NewProgramHal returns a ProgramHal with no programs registered.
func NewProgramHal() *ProgramHal {
	return &ProgramHal{
		byName:  make(map[string]ProgramFunc),
		byFrame: make(map[*keel.TrapFrame]ProgramFunc),
	}
}

// Register associates name (a task's spawn-time name) with fn. It must
// be called before the task with that name is spawned.
func (h *ProgramHal) Register(name string, fn ProgramFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.byName[name] = fn
}

// BindProgram implements keel.ProgramBinder.
func (h *ProgramHal) BindProgram(tf *keel.TrapFrame, name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if fn, ok := h.byName[name]; ok {
		h.byFrame[tf] = fn
	}
}

// EnterUserMode implements keel.Hal.
func (h *ProgramHal) EnterUserMode(tf *keel.TrapFrame) keel.TrapOutcome {
	h.mu.Lock()
	fn := h.byFrame[tf]
	h.mu.Unlock()
	if fn == nil {
		<-make(chan struct{}) // no program registered: park forever
	}
	return fn(tf)
}

// AckTimer implements keel.Hal.
func (h *ProgramHal) AckTimer() {
	h.mu.Lock()
	h.irqAcks++
	h.mu.Unlock()
}

// TimerAcks reports how many times AckTimer has been called, for tests
// asserting RunTimerLoop actually drives the Hal.
func (h *ProgramHal) TimerAcks() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.irqAcks
}

// Steps builds a ProgramFunc that returns each outcome in order, one
// per call, then parks forever once exhausted — the common shape for a
// sample or test task whose entire "program" is a short fixed script of
// syscalls and faults.
func Steps(outcomes ...keel.TrapOutcome) ProgramFunc {
	i := 0
	return func(tf *keel.TrapFrame) keel.TrapOutcome {
		if i >= len(outcomes) {
			<-make(chan struct{})
		}
		o := outcomes[i]
		i++
		return o
	}
}
