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

// Package keelutil provides default/no-op helper implementations of
// keel's capability interfaces for embedders who don't care about one
// of them, mirroring fuseutil.NotImplementedFileSystem, plus an ELF
// loader for the embedded root server image.
package keelutil

import (
	"context"
	"errors"

	"github.com/keelkernel/keel"
)

// DiscardConsole is a keel.Console that discards every write and never
// yields a byte to read, the way embedders who don't want a serial
// console at all would wire one in. Embed this, or use it directly as
// KernelConfig.Console, to get a console that behaves like /dev/null on
// one side and blocks forever on the other.
type DiscardConsole struct{}

var _ keel.Console = DiscardConsole{}

func (DiscardConsole) Write(p []byte) (int, error) {
	return len(p), nil
}

func (DiscardConsole) ReadByte(ctx context.Context) (byte, error) {
	<-ctx.Done()
	return 0, errors.New("keelutil: DiscardConsole never has input")
}
