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

package nameserver_test

import (
	"context"
	"testing"

	"github.com/jacobsa/timeutil"
	"github.com/keelkernel/keel"
	"github.com/keelkernel/keel/keeltesting"
	"github.com/keelkernel/keel/samples/nameserver"
)

func TestRegisterAndLookup(t *testing.T) {
	hal := keeltesting.NewProgramHal()
	frames := keeltesting.NewFramePool(256)
	k, err := keel.New(keel.KernelConfig{
		Clock:           timeutil.RealClock(),
		Frames:          frames,
		Memory:          frames,
		NewAddressSpace: func() keel.AddressSpace { return keeltesting.NewPageTable() },
		Hal:             hal,
	})
	if err != nil {
		t.Fatalf("keel.New: %v", err)
	}
	t.Cleanup(k.Shutdown)

	registry, errno := k.TaskCreate(keel.RootTaskID, "nameserver", 0, keel.RootTaskID)
	if errno != 0 {
		t.Fatalf("TaskCreate(nameserver): %v", errno)
	}
	owner, errno := k.TaskCreate(keel.RootTaskID, "owner", 0, keel.RootTaskID)
	if errno != 0 {
		t.Fatalf("TaskCreate(owner): %v", errno)
	}
	client, errno := k.TaskCreate(keel.RootTaskID, "client", 0, keel.RootTaskID)
	if errno != 0 {
		t.Fatalf("TaskCreate(client): %v", errno)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go nameserver.Serve(ctx, k, registry)

	if err := nameserver.Register(k, owner, registry, "widget"); err != nil {
		t.Fatalf("Register: %v", err)
	}

	resolved, err := nameserver.Lookup(k, client, registry, "widget")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if resolved != owner {
		t.Fatalf("Lookup(widget) = %d, want %d", resolved, owner)
	}

	missing, err := nameserver.Lookup(k, client, registry, "unregistered")
	if err != nil {
		t.Fatalf("Lookup(unregistered): %v", err)
	}
	if missing != 0 {
		t.Fatalf("Lookup(unregistered) = %d, want 0", missing)
	}
}
