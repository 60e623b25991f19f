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

// keelboot is a demo entry point, the keel analogue of
// samples/mount_hello/mount.go: it boots a kernel instance backed by
// keeltesting's software doubles, spawns the pingpong and nameserver
// sample servers as tasks of their own, and drives a couple of client
// calls against them so a reader can see the whole stack — Dispatch,
// rendezvous IPC, the sample protocols — wired together end to end.
//
// It has no real hardware HAL to boot against (spec.md §1 leaves MMU,
// trap entry, and the timer device as external collaborators); real
// deployments supply their own Hal/FrameAllocator/AddressSpace and an
// embedded keelutil.ELFRootImage in KernelConfig.RootImage instead.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/jacobsa/timeutil"
	"github.com/keelkernel/keel"
	"github.com/keelkernel/keel/keelabi"
	"github.com/keelkernel/keel/keeltesting"
	"github.com/keelkernel/keel/samples/nameserver"
	"github.com/keelkernel/keel/samples/pingpong"
)

var fFrames = flag.Int("frames", 4096, "Size of the simulated physical memory, in pages.")
var fDebug = flag.Bool("debug", false, "Enable debug logging.")
var fPingValue = flag.Uint64("ping", 7, "Value to send the pingpong sample server.")
var fServiceName = flag.String("service_name", "echo", "Name the pingpong server registers itself under.")

func main() {
	flag.Parse()

	hal := keeltesting.NewProgramHal()
	frames := keeltesting.NewFramePool(*fFrames)

	cfg := keel.KernelConfig{
		Clock:           timeutil.RealClock(),
		Frames:          frames,
		Memory:          frames,
		NewAddressSpace: func() keel.AddressSpace { return keeltesting.NewPageTable() },
		Hal:             hal,
		Console:         keeltesting.NewConsole(),
		RootName:        "root",
	}

	k, err := keel.New(cfg)
	if err != nil {
		log.Fatalf("keel.New: %v", err)
	}
	defer k.Shutdown()

	if *fDebug {
		k.EnableDebugLogging(os.Stderr)
	}
	k.EnableErrorLogging(os.Stderr)

	go k.RunTimerLoop(10 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := run(ctx, k); err != nil {
		log.Fatalf("run: %v", err)
	}
}

// run spawns the sample servers under the root task and exercises
// their client surfaces, the way a real root server would bring up its
// name registry and first services before handing off to user tasks.
func run(ctx context.Context, k *keel.Kernel) error {
	registryTID, errno := k.TaskCreate(keel.RootTaskID, "nameserver", 0, keel.RootTaskID)
	if errno != 0 {
		return fmt.Errorf("spawning nameserver: %w", errno)
	}
	go func() {
		if err := nameserver.Serve(ctx, k, registryTID); err != nil && ctx.Err() == nil {
			log.Printf("nameserver: %v", err)
		}
	}()

	echoTID, errno := k.TaskCreate(keel.RootTaskID, "pingpong", 0, keel.RootTaskID)
	if errno != 0 {
		return fmt.Errorf("spawning pingpong: %w", errno)
	}
	go func() {
		if err := pingpong.Serve(ctx, k, echoTID); err != nil && ctx.Err() == nil {
			log.Printf("pingpong: %v", err)
		}
	}()

	clientTID, errno := k.TaskCreate(keel.RootTaskID, "client", 0, keel.RootTaskID)
	if errno != 0 {
		return fmt.Errorf("spawning client: %w", errno)
	}

	// Exercise the numeric Dispatch ABI directly once, the same path a
	// trap handler would use, rather than only ever going through the
	// typed *Kernel methods.
	if self := keelabi.TaskID(k.Dispatch(clientTID, keelabi.SysTaskSelf, [6]uintptr{})); self != clientTID {
		return fmt.Errorf("Dispatch(SysTaskSelf) = %d, want %d", self, clientTID)
	}

	if err := nameserver.Register(k, echoTID, registryTID, *fServiceName); err != nil {
		return fmt.Errorf("registering pingpong server: %w", err)
	}

	resolved, err := nameserver.Lookup(k, clientTID, registryTID, *fServiceName)
	if err != nil {
		return fmt.Errorf("looking up %q: %w", *fServiceName, err)
	}
	if resolved != echoTID {
		return fmt.Errorf("nameserver resolved %q to task %d, want %d", *fServiceName, resolved, echoTID)
	}

	echoed, err := pingpong.Ping(k, clientTID, resolved, *fPingValue)
	if err != nil {
		return fmt.Errorf("pinging %q: %w", *fServiceName, err)
	}
	if echoed != *fPingValue {
		return fmt.Errorf("pingpong echoed %d, want %d", echoed, *fPingValue)
	}

	fmt.Printf("keelboot: registry resolved %q to task %d, echo round-trip of %d succeeded\n",
		*fServiceName, resolved, echoed)
	return nil
}
