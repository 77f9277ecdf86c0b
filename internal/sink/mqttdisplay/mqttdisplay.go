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

// Package mqttdisplay implements a sink that publishes encoded frames to
// MQTT-connected displays, and a finder that discovers displays which
// announce themselves with a retained status message.
package mqttdisplay

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/stapelberg/img2oled"
	"github.com/stapelberg/img2oled/internal/display"
	"github.com/stapelberg/img2oled/internal/mayqtt"
)

type Display struct {
	cfg display.Config
}

func New(cfg display.Config) *Display {
	return &Display{cfg: cfg}
}

// implements img2oled.Display
func (d *Display) Metadata() img2oled.DisplayMetadata {
	return img2oled.DisplayMetadata{
		Id:     "mqtt!" + d.cfg.Name,
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
	ok := mayqtt.Publish(mayqtt.PublishRequest{
		Topic: d.cfg.FrameTopic(),
		// Retained, so that a display which (re-)connects later still
		// receives the most recent frame.
		Retained: true,
		Payload:  fci,
	})
	if !ok {
		return fmt.Errorf("MQTT broker not connected, frame for %q dropped", d.cfg.Name)
	}
	return nil
}

// RegistryFinder returns the configured MQTT displays from the registry.
type RegistryFinder struct {
	reg *display.Registry
}

func FinderFor(reg *display.Registry) *RegistryFinder {
	return &RegistryFinder{reg: reg}
}

// implements img2oled.DisplayFinder
func (f *RegistryFinder) CurrentDisplays() []img2oled.Display {
	var displays []img2oled.Display
	for _, cfg := range f.reg.Configs() {
		if cfg.SerialPort != "" {
			continue // handled by the serialdisplay sink
		}
		displays = append(displays, New(cfg))
	}
	return displays
}

// statusMessage is the JSON payload a self-announcing display publishes
// (retained) to img2oled/display/<name>/status.
type statusMessage struct {
	Width  int  `json:"width"`
	Height int  `json:"height"`
	Dither bool `json:"dither"`
}

// DiscoveryFinder discovers displays that announce themselves over MQTT,
// e.g. FreakWAN nodes publishing a retained status message on boot.
type DiscoveryFinder struct {
	mu        sync.Mutex
	announced map[string]display.Config // keyed by display name
}

func Discover() *DiscoveryFinder {
	f := &DiscoveryFinder{
		announced: make(map[string]display.Config),
	}
	mayqtt.Subscribe("img2oled/display/+/status", func(topic string, payload []byte) {
		parts := strings.Split(topic, "/")
		if len(parts) != 4 {
			return
		}
		name := parts[2]
		f.mu.Lock()
		defer f.mu.Unlock()
		if len(payload) == 0 {
			// An empty retained message clears the announcement.
			delete(f.announced, name)
			return
		}
		var status statusMessage
		if err := json.Unmarshal(payload, &status); err != nil {
			log.Printf("ignoring malformed status message on %s: %v", topic, err)
			return
		}
		f.announced[name] = display.Config{
			Name:   name,
			Width:  status.Width,
			Height: status.Height,
			Dither: status.Dither,
		}
	})
	return f
}

// implements img2oled.DisplayFinder
func (f *DiscoveryFinder) CurrentDisplays() []img2oled.Display {
	f.mu.Lock()
	defer f.mu.Unlock()
	displays := make([]img2oled.Display, 0, len(f.announced))
	for _, cfg := range f.announced {
		displays = append(displays, New(cfg))
	}
	return displays
}
