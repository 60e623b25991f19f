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

import "github.com/keelkernel/keel/keelabi"

// Errno re-exports keelabi's errno type and constants at the package
// root, the way fuse/errors.go re-exported bazilfuse's errno constants
// under the fuse package so callers didn't need a second import.
type Errno = keelabi.Errno

const (
	NoMemory       = keelabi.NoMemory
	NoResources    = keelabi.NoResources
	AlreadyExists  = keelabi.AlreadyExists
	AlreadyUsed    = keelabi.AlreadyUsed
	AlreadyDone    = keelabi.AlreadyDone
	StillUsed      = keelabi.StillUsed
	NotFound       = keelabi.NotFound
	NotAllowed     = keelabi.NotAllowed
	NotSupported   = keelabi.NotSupported
	Unexpected     = keelabi.Unexpected
	InvalidArg     = keelabi.InvalidArg
	InvalidTask    = keelabi.InvalidTask
	InvalidSyscall = keelabi.InvalidSyscall
	InvalidPaddr   = keelabi.InvalidPaddr
	InvalidUaddr   = keelabi.InvalidUaddr
	TooManyTasks   = keelabi.TooManyTasks
	TooLarge       = keelabi.TooLarge
	TooSmall       = keelabi.TooSmall
	WouldBlock     = keelabi.WouldBlock
	TryAgain       = keelabi.TryAgain
	Aborted        = keelabi.Aborted
	Empty          = keelabi.Empty
	NotEmpty       = keelabi.NotEmpty
	DeadLock       = keelabi.DeadLock
)
