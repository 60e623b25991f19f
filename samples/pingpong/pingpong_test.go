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

package pingpong_test

import (
	"context"
	"testing"

	"github.com/jacobsa/timeutil"
	"github.com/keelkernel/keel"
	"github.com/keelkernel/keel/keeltesting"
	"github.com/keelkernel/keel/samples/pingpong"
)

func TestPingRoundTrip(t *testing.T) {
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

	server, errno := k.TaskCreate(keel.RootTaskID, "echo", 0, keel.RootTaskID)
	if errno != 0 {
		t.Fatalf("TaskCreate(echo): %v", errno)
	}
	client, errno := k.TaskCreate(keel.RootTaskID, "client", 0, keel.RootTaskID)
	if errno != 0 {
		t.Fatalf("TaskCreate(client): %v", errno)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go pingpong.Serve(ctx, k, server)

	got, err := pingpong.Ping(k, client, server, 123)
	if err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if got != 123 {
		t.Fatalf("Ping = %d, want 123", got)
	}
}
