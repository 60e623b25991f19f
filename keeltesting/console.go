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
	"bytes"
	"context"
	"sync"
)

// Console is a channel-backed keel.Console: writes accumulate into an
// in-memory buffer a test can inspect, and reads are fed a byte at a
// time through a channel a test (or sample) feeds explicitly, mirroring
// how samples/testing.go hands tests a fake clock instead of wall time.
type Console struct {
	mu  sync.Mutex
	out bytes.Buffer
	in  chan byte
}

// NewConsole returns an empty Console.
func NewConsole() *Console {
	return &Console{in: make(chan byte, 256)}
}

// Write implements keel.Console.
func (c *Console) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.out.Write(p)
}

// ReadByte implements keel.Console: it blocks until Feed supplies a byte
// or ctx is done.
func (c *Console) ReadByte(ctx context.Context) (byte, error) {
	select {
	case b := <-c.in:
		return b, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Feed makes p available to future ReadByte calls, one byte at a time,
// in order.
func (c *Console) Feed(p []byte) {
	for _, b := range p {
		c.in <- b
	}
}

// Written returns everything written so far.
func (c *Console) Written() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]byte(nil), c.out.Bytes()...)
}
