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

// Package nameserver is a sample root-server-side name registry, built
// entirely on plain rendezvous IPC: it supplements the distillation's
// dropped ServiceRegisterMsg/ServiceLookupMsg protocol (see
// SPEC_FULL.md §8 and original_source/crates/syscall_consts/src/lib.rs)
// without requiring any kernel change, since the kernel treats
// ServiceRegister/ServiceLookup as opaque payload exactly like Ping.
//
// It mirrors samples/hellofs standing in for a real file system: a
// minimal, self-contained task body driven by the same typed *Kernel
// surface the core's own tests use (see ipc_test.go), rather than a
// full simulated user-mode program round-tripping through Dispatch.
package nameserver

import (
	"context"
	"fmt"
	"sync"

	"github.com/keelkernel/keel"
	"github.com/keelkernel/keel/keelabi"
)

func nameFromBuf(buf [keelabi.NameLen]byte) string {
	n := 0
	for n < len(buf) && buf[n] != 0 {
		n++
	}
	return string(buf[:n])
}

func bufFromName(name string) ([keelabi.NameLen]byte, error) {
	var buf [keelabi.NameLen]byte
	if len(name) >= keelabi.NameLen {
		return buf, fmt.Errorf("nameserver: name %q too long for %d-byte buffer", name, keelabi.NameLen)
	}
	copy(buf[:], name)
	return buf, nil
}

// Serve runs the registry's receive loop as task self until ctx is
// done: every ServiceRegister records the sender's id under the given
// name, and every ServiceLookup replies with whatever id (if any) is
// currently registered under that name. It is meant to be run in its
// own goroutine, one per registry task.
func Serve(ctx context.Context, k *keel.Kernel, self keel.TaskID) error {
	registry := make(map[string]keel.TaskID)
	var mu sync.Mutex

	for {
		var msg keelabi.Message
		errno := k.IPC(self, keel.IPCAny, keel.IPCAny, &msg, keelabi.Recv)
		if errno != 0 {
			return fmt.Errorf("nameserver: recv: %w", errno)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		switch req := msg.Content.(type) {
		case keelabi.ServiceRegister:
			mu.Lock()
			registry[nameFromBuf(req.Name)] = msg.Source
			mu.Unlock()
			reply := keelabi.Message{Content: keelabi.ServiceRegisterReply{}}
			if errno := k.IPC(self, msg.Source, 0, &reply, keelabi.Send); errno != 0 {
				return fmt.Errorf("nameserver: reply to register: %w", errno)
			}

		case keelabi.ServiceLookup:
			mu.Lock()
			tid := registry[nameFromBuf(req.Name)]
			mu.Unlock()
			reply := keelabi.Message{Content: keelabi.ServiceLookupReply{TID: tid}}
			if errno := k.IPC(self, msg.Source, 0, &reply, keelabi.Send); errno != 0 {
				return fmt.Errorf("nameserver: reply to lookup: %w", errno)
			}

		default:
			// Unknown request shape; drop it rather than wedge the loop.
		}
	}
}

// Register calls the registry task server, blocking until it
// acknowledges name as belonging to self.
func Register(k *keel.Kernel, self, server keel.TaskID, name string) error {
	buf, err := bufFromName(name)
	if err != nil {
		return err
	}
	msg := keelabi.Message{Content: keelabi.ServiceRegister{Name: buf}}
	if errno := k.IPC(self, server, server, &msg, keelabi.Call); errno != 0 {
		return fmt.Errorf("nameserver: register %q: %w", name, errno)
	}
	if _, ok := msg.Content.(keelabi.ServiceRegisterReply); !ok {
		return fmt.Errorf("nameserver: register %q: unexpected reply %#v", name, msg.Content)
	}
	return nil
}

// Lookup calls the registry task server and returns the task id
// currently registered under name, or 0 if none is registered
// (ServiceLookupReply.TID's zero value).
func Lookup(k *keel.Kernel, self, server keel.TaskID, name string) (keel.TaskID, error) {
	buf, err := bufFromName(name)
	if err != nil {
		return 0, err
	}
	msg := keelabi.Message{Content: keelabi.ServiceLookup{Name: buf}}
	if errno := k.IPC(self, server, server, &msg, keelabi.Call); errno != 0 {
		return 0, fmt.Errorf("nameserver: lookup %q: %w", name, errno)
	}
	reply, ok := msg.Content.(keelabi.ServiceLookupReply)
	if !ok {
		return 0, fmt.Errorf("nameserver: lookup %q: unexpected reply %#v", name, msg.Content)
	}
	return reply.TID, nil
}
