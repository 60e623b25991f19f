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

package keelabi

import "encoding/binary"

// WireMessageSize is the fixed byte size of a Message as it crosses the
// numeric syscall ABI (spec.md §6 "Message layout ... compatibility ...
// required"). The kernel core itself never needs this — the typed
// *Kernel methods pass Message values directly — but Dispatch, the
// numeric entry point, has to read/write it out of a task's address
// space, so the layout has to be fixed and public.
const WireMessageSize = 40

// Wire tags for the content variants the numeric ABI can carry. Only the
// closed set the kernel core itself understands (PageFault,
// PageFaultReply, NotifyField) plus the minimal opaque payloads used by
// samples (Ping/PingReply) round-trip through Dispatch; anything else
// sent via the numeric ABI is rejected with InvalidArg, while the typed
// *Kernel.IPC method accepts any MessageContent.
const (
	wireTagPageFault = iota
	wireTagPageFaultReply
	wireTagNotifyField
	wireTagPing
	wireTagPingReply
)

// EncodeMessage marshals msg into the fixed WireMessageSize layout:
// [0:8) source, [8:12) tag, [12:16) padding, [16:40) three 8-byte
// payload words, variant-dependent.
func EncodeMessage(msg Message) ([WireMessageSize]byte, error) {
	var buf [WireMessageSize]byte
	binary.LittleEndian.PutUint64(buf[0:8], uint64(msg.Source))

	switch c := msg.Content.(type) {
	case PageFault:
		binary.LittleEndian.PutUint32(buf[8:12], wireTagPageFault)
		binary.LittleEndian.PutUint64(buf[16:24], uint64(c.TID))
		binary.LittleEndian.PutUint64(buf[24:32], uint64(c.UAddr))
		binary.LittleEndian.PutUint64(buf[32:40], uint64(c.IP)|uint64(c.Reason)<<56)
	case PageFaultReply:
		binary.LittleEndian.PutUint32(buf[8:12], wireTagPageFaultReply)
	case NotifyField:
		binary.LittleEndian.PutUint32(buf[8:12], wireTagNotifyField)
		binary.LittleEndian.PutUint64(buf[16:24], c.Bits)
	case Ping:
		binary.LittleEndian.PutUint32(buf[8:12], wireTagPing)
		binary.LittleEndian.PutUint64(buf[16:24], c.Value)
	case PingReply:
		binary.LittleEndian.PutUint32(buf[8:12], wireTagPingReply)
		binary.LittleEndian.PutUint64(buf[16:24], c.Value)
	default:
		return buf, NotSupported
	}

	return buf, nil
}

// DecodeMessage is EncodeMessage's inverse.
func DecodeMessage(buf [WireMessageSize]byte) (Message, error) {
	msg := Message{Source: TaskID(binary.LittleEndian.Uint64(buf[0:8]))}
	tag := binary.LittleEndian.Uint32(buf[8:12])

	switch tag {
	case wireTagPageFault:
		word := binary.LittleEndian.Uint64(buf[32:40])
		msg.Content = PageFault{
			TID:    TaskID(binary.LittleEndian.Uint64(buf[16:24])),
			UAddr:  uintptr(binary.LittleEndian.Uint64(buf[24:32])),
			IP:     uintptr(word & (1<<56 - 1)),
			Reason: FaultReason(word >> 56),
		}
	case wireTagPageFaultReply:
		msg.Content = PageFaultReply{}
	case wireTagNotifyField:
		msg.Content = NotifyField{Bits: binary.LittleEndian.Uint64(buf[16:24])}
	case wireTagPing:
		msg.Content = Ping{Value: binary.LittleEndian.Uint64(buf[16:24])}
	case wireTagPingReply:
		msg.Content = PingReply{Value: binary.LittleEndian.Uint64(buf[16:24])}
	default:
		return Message{}, NotSupported
	}

	return msg, nil
}
