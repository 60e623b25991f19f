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

// Package pingpong is the minimal sample spec.md §8 scenario 1 is
// modeled on: a server task that echoes back whatever value a Ping
// carries, and a client helper that calls it. It exists purely as a
// demonstration of the typed *Kernel IPC surface end to end, the way
// samples/hellofs demonstrates the teacher's op-dispatch surface.
package pingpong

import (
	"context"
	"fmt"

	"github.com/keelkernel/keel"
	"github.com/keelkernel/keel/keelabi"
)

// Serve runs the echo server as task self until ctx is done or the
// kernel reports the task has been destroyed.
func Serve(ctx context.Context, k *keel.Kernel, self keel.TaskID) error {
	for {
		var msg keelabi.Message
		errno := k.IPC(self, keel.IPCAny, keel.IPCAny, &msg, keelabi.Recv)
		if errno != 0 {
			return fmt.Errorf("pingpong: recv: %w", errno)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		ping, ok := msg.Content.(keelabi.Ping)
		if !ok {
			continue
		}

		reply := keelabi.Message{Content: keelabi.PingReply{Value: ping.Value}}
		if errno := k.IPC(self, msg.Source, 0, &reply, keelabi.Send); errno != 0 {
			return fmt.Errorf("pingpong: reply: %w", errno)
		}
	}
}

// Ping calls server with value and returns whatever it echoes back.
func Ping(k *keel.Kernel, self, server keel.TaskID, value uint64) (uint64, error) {
	msg := keelabi.Message{Content: keelabi.Ping{Value: value}}
	if errno := k.IPC(self, server, server, &msg, keelabi.Call); errno != 0 {
		return 0, fmt.Errorf("pingpong: call: %w", errno)
	}
	reply, ok := msg.Content.(keelabi.PingReply)
	if !ok {
		return 0, fmt.Errorf("pingpong: unexpected reply %#v", msg.Content)
	}
	return reply.Value, nil
}
