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

import (
	"io"
	"io/ioutil"
	"log"
)

// newDiscardLogger returns a logger writing to ioutil.Discard, used as
// the default debugLogger/errorLogger on a Kernel until the embedder
// opts in with EnableDebugLogging/EnableErrorLogging.
func newDiscardLogger(prefix string) *log.Logger {
	const flags = log.Ldate | log.Ltime | log.Lmicroseconds | log.Lshortfile
	return log.New(ioutil.Discard, prefix, flags)
}

// EnableDebugLogging directs the kernel's debug log (IPC transitions,
// notifications, pager round trips) to w.
func (k *Kernel) EnableDebugLogging(w io.Writer) {
	const flags = log.Ldate | log.Ltime | log.Lmicroseconds | log.Lshortfile
	k.debugLogger = log.New(w, "keel: ", flags)
}

// EnableErrorLogging directs the kernel's error log (fatal task
// terminations, misconfiguration) to w.
func (k *Kernel) EnableErrorLogging(w io.Writer) {
	const flags = log.Ldate | log.Ltime | log.Lmicroseconds | log.Lshortfile
	k.errorLogger = log.New(w, "keel: ", flags)
}

func (k *Kernel) debugf(format string, v ...interface{}) {
	if k.debugLogger == nil {
		return
	}
	k.debugLogger.Printf(format, v...)
}

func (k *Kernel) errorf(format string, v ...interface{}) {
	if k.errorLogger == nil {
		return
	}
	k.errorLogger.Printf(format, v...)
}
