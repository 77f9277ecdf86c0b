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

// Package serialdisplay implements a sink for displays attached over a
// serial port, e.g. a microcontroller board wired to the same machine.
// Frames are written length-prefixed (two bytes, big endian) so the firmware
// knows where one FCI stream ends and the next begins.
package serialdisplay

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/stapelberg/img2oled"
	"github.com/stapelberg/img2oled/internal/display"
	serial "github.com/tarm/goserial"
)

const defaultBaud = 115200

type Display struct {
	cfg display.Config

	// mu serializes pushes: the port is opened per push, and concurrent
	// opens of the same device fail on some platforms.
	mu sync.Mutex
}

func New(cfg display.Config) *Display {
	return &Display{cfg: cfg}
}

// implements img2oled.Display
func (d *Display) Metadata() img2oled.DisplayMetadata {
	return img2oled.DisplayMetadata{
		Id:     "serial!" + d.cfg.Name,
		Name:   d.cfg.Name,
		Width:  d.cfg.Width,
		Height: d.cfg.Height,
		Dither: d.cfg.Dither,
		Invert: d.cfg.Invert,
	}
}

// implements img2oled.Display
func (d *Display) CanPush(r *img2oled.PushRequest) error {
	if r.Display == "" && d.cfg.Default {
		return nil
	}
	if r.Display != d.cfg.Name {
		return fmt.Errorf("push request is for display %q, not %q", r.Display, d.cfg.Name)
	}
	return nil
}

// implements img2oled.Display
func (d *Display) Push(fci []byte) error {
	if len(fci) > 0xffff {
		return fmt.Errorf("frame too large for the length prefix: %d bytes", len(fci))
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	baud := d.cfg.Baud
	if baud == 0 {
		baud = defaultBaud
	}
	port, err := serial.OpenPort(&serial.Config{
		Name: d.cfg.SerialPort,
		Baud: baud,
	})
	if err != nil {
		return fmt.Errorf("opening %s: %v", d.cfg.SerialPort, err)
	}
	defer port.Close()

	var prefix [2]byte
	binary.BigEndian.PutUint16(prefix[:], uint16(len(fci)))
	if _, err := port.Write(prefix[:]); err != nil {
		return err
	}
	if _, err := port.Write(fci); err != nil {
		return err
	}
	return nil
}

// RegistryFinder returns the configured serial displays from the registry.
type RegistryFinder struct {
	reg *display.Registry

	mu       sync.Mutex
	displays map[string]*Display // keyed by display name, to keep the per-display push lock
}

func FinderFor(reg *display.Registry) *RegistryFinder {
	return &RegistryFinder{
		reg:      reg,
		displays: make(map[string]*Display),
	}
}

// implements img2oled.DisplayFinder
func (f *RegistryFinder) CurrentDisplays() []img2oled.Display {
	f.mu.Lock()
	defer f.mu.Unlock()
	var displays []img2oled.Display
	for _, cfg := range f.reg.Configs() {
		if cfg.SerialPort == "" {
			continue // handled by the mqttdisplay sink
		}
		d, ok := f.displays[cfg.Name]
		if !ok || d.cfg != cfg {
			d = New(cfg)
			f.displays[cfg.Name] = d
		}
		displays = append(displays, d)
	}
	return displays
}
