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

// Package keel implements the core of a capability-style microkernel:
// the Task object, its synchronous rendezvous IPC engine, the unified
// notification bitset, and the page-fault-forwarding pager protocol.
//
// The primary elements of interest are:
//
//   - Kernel, which owns the task table and exposes the typed syscall
//     surface (IPC, TaskCreate, PMAlloc, ...).
//
//   - Task, the schedulable unit: one goroutine drives it through
//     Kernel.spawn, cooperatively blocking on IPC, notifications, and
//     page faults exactly as spec.md describes.
//
//   - The Hal / FrameAllocator / AddressSpace / RootImage interfaces in
//     hal.go, the capability contracts through which this package
//     consumes hardware, physical memory, and the embedded root server
//     image; package keeltesting supplies reference implementations of
//     Hal, FrameAllocator and AddressSpace for tests and samples, and
//     package keelutil supplies ELFRootImage for RootImage.
package keel
