// Copyright 2023 Michael Stapelberg and contributors
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

package fci

import "fmt"

// Marker bytes. A token whose first byte is one of these is two bytes
// long; any other first byte is a single verbatim token. The encoder
// never emits a marker value as a verbatim byte (that is what the
// escape token is for), so the first byte alone identifies the token.
const (
	markerLongRun   = 0xC3 // long run, or escape of bit pattern 11000011
	markerDualLit   = 0x3D // dual run starting lit, or escape of 00111101
	markerDualUnlit = 0x65 // dual run starting unlit, or escape of 01100101
)

// Branch thresholds.
const (
	longRunMin = 17  // break-even against verbatim packing
	longRunMax = 143 // 127 + 16, the longest run a payload byte can express
	dualRunMax = 16  // per-run cap; also the combined-length threshold
)

func isMarker(b byte) bool {
	return b == markerLongRun || b == markerDualLit || b == markerDualUnlit
}

// A Token is one self-delimiting unit of the encoded stream.
type Token interface {
	// Bits returns the number of pixel bits the token expands to.
	Bits() int

	appendWire(dst []byte) []byte
}

// A LongRun is a run of longRunMin to longRunMax identical bits.
type LongRun struct {
	Bit uint8
	Len int
}

func (t LongRun) Bits() int { return t.Len }

func (t LongRun) appendWire(dst []byte) []byte {
	return append(dst, markerLongRun, t.Bit<<7|byte(t.Len-16)&0x7f)
}

func (t LongRun) String() string {
	return fmt.Sprintf("longrun(bit=%d len=%d)", t.Bit, t.Len)
}

// A DualRun is a run of 2 to 16 identical bits followed by a run of 1
// to 16 opposite bits, more than 16 bits combined.
type DualRun struct {
	Bit    uint8 // value of the first run
	Len    int
	OppLen int
}

func (t DualRun) Bits() int { return t.Len + t.OppLen }

func (t DualRun) appendWire(dst []byte) []byte {
	marker := byte(markerDualUnlit)
	if t.Bit == 1 {
		marker = markerDualLit
	}
	return append(dst, marker, byte(t.Len-1)<<4|byte(t.OppLen-1))
}

func (t DualRun) String() string {
	return fmt.Sprintf("dualrun(bit=%d len=%d+%d)", t.Bit, t.Len, t.OppLen)
}

// An Escape represents 8 literal bits whose packed value would collide
// with a marker byte. On the wire it is the marker followed by a zero
// byte, a payload no run token uses.
type Escape struct {
	Marker byte
}

func (t Escape) Bits() int { return 8 }

func (t Escape) appendWire(dst []byte) []byte {
	return append(dst, t.Marker, 0x00)
}

func (t Escape) String() string {
	return fmt.Sprintf("escape(%#02x)", t.Marker)
}

// A Verbatim is up to 8 literal bits packed into one byte, most
// significant bit first. N < 8 only occurs for the final token of a
// stream; the unused low bits are zero.
type Verbatim struct {
	Byte byte
	N    int
}

func (t Verbatim) Bits() int { return t.N }

func (t Verbatim) appendWire(dst []byte) []byte {
	return append(dst, t.Byte)
}

func (t Verbatim) String() string {
	return fmt.Sprintf("verbatim(%#02x n=%d)", t.Byte, t.N)
}
