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

package bitmap

import (
	"image/color"
	"testing"
)

func TestSetBit(t *testing.T) {
	m := New(10, 3)
	if got, want := m.Len(), 30; got != want {
		t.Fatalf("unexpected pixel count: got %v, want %v", got, want)
	}
	// Bit 9 is pixel (9, 0), bit 10 wraps to pixel (0, 1): rows are not
	// byte-aligned.
	m.SetBit(9, 1)
	m.SetBit(10, 1)
	if got, want := m.At(9, 0), color.Color(color.Gray{0xff}); got != want {
		t.Errorf("At(9, 0): got %v, want %v", got, want)
	}
	if got, want := m.At(0, 1), color.Color(color.Gray{0xff}); got != want {
		t.Errorf("At(0, 1): got %v, want %v", got, want)
	}
	if got, want := m.At(1, 1), color.Color(color.Gray{0x00}); got != want {
		t.Errorf("At(1, 1): got %v, want %v", got, want)
	}
	m.SetBit(9, 0)
	if got, want := m.Bit(9), uint8(0); got != want {
		t.Errorf("Bit(9) after clearing: got %v, want %v", got, want)
	}
}

func TestParse(t *testing.T) {
	m, err := Parse("#..\n.#.\n..#\n")
	if err != nil {
		t.Fatal(err)
	}
	if got, want := m.W, 3; got != want {
		t.Fatalf("unexpected width: got %v, want %v", got, want)
	}
	if got, want := m.H, 3; got != want {
		t.Fatalf("unexpected height: got %v, want %v", got, want)
	}
	for i, want := range []uint8{
		1, 0, 0,
		0, 1, 0,
		0, 0, 1,
	} {
		if got := m.Bit(i); got != want {
			t.Errorf("Bit(%d): got %v, want %v", i, got, want)
		}
	}
	if got, want := m.String(), "#  \n # \n  #\n"; got != want {
		t.Errorf("String: got %q, want %q", got, want)
	}
}

func TestParseErrors(t *testing.T) {
	for _, s := range []string{
		"",
		"##\n#\n",
		"#?\n",
	} {
		if _, err := Parse(s); err == nil {
			t.Errorf("Parse(%q): got nil, want error", s)
		}
	}
}

func TestLitRatio(t *testing.T) {
	m, err := Parse("##..\n....\n")
	if err != nil {
		t.Fatal(err)
	}
	if got, want := m.LitRatio(), 0.25; got != want {
		t.Errorf("LitRatio: got %v, want %v", got, want)
	}
}
