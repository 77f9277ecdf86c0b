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

// Package display implements a mutex-protected registry of configured
// displays that is persisted to disk (displays.json in the state
// directory).
package display

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/renameio"
)

// Config describes one configured display. A display is reached either over
// MQTT (Topic non-empty) or over a serial port (SerialPort non-empty).
type Config struct {
	Name   string `json:"name"`
	Width  int    `json:"width"`
	Height int    `json:"height"`

	// Topic is the MQTT topic to publish encoded frames to. If empty, it
	// defaults to img2oled/display/<name>/frame.
	Topic string `json:"topic,omitempty"`

	SerialPort string `json:"serial_port,omitempty"`
	Baud       int    `json:"baud,omitempty"`

	Dither bool `json:"dither,omitempty"`
	Invert bool `json:"invert,omitempty"`

	// Default marks the display which push requests without an explicit
	// display name go to.
	Default bool `json:"default,omitempty"`
}

// FrameTopic returns the MQTT topic encoded frames are published to.
func (c Config) FrameTopic() string {
	if c.Topic != "" {
		return c.Topic
	}
	return "img2oled/display/" + c.Name + "/frame"
}

type Registry struct {
	path string

	mu      sync.Mutex
	configs []Config
}

func NewRegistry(stateDir string) *Registry {
	return &Registry{
		path: filepath.Join(stateDir, "displays.json"),
	}
}

// Load reads displays.json. A missing file is not an error: the registry
// starts empty and the web interface offers the first-run setup page.
func (r *Registry) Load() error {
	b, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return json.Unmarshal(b, &r.configs)
}

// save must be called with r.mu held.
func (r *Registry) save() error {
	b, err := json.MarshalIndent(r.configs, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(r.path), 0755); err != nil {
		return err
	}
	return renameio.WriteFile(r.path, b, 0600)
}

// Configs returns a copy of all configured displays.
func (r *Registry) Configs() []Config {
	r.mu.Lock()
	defer r.mu.Unlock()
	configs := make([]Config, len(r.configs))
	copy(configs, r.configs)
	return configs
}

func (r *Registry) ByName(name string) (Config, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.configs {
		if c.Name == name {
			return c, true
		}
	}
	return Config{}, false
}

// Default returns the display marked as default, falling back to the first
// configured display.
func (r *Registry) Default() (Config, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.configs {
		if c.Default {
			return c, true
		}
	}
	if len(r.configs) > 0 {
		return r.configs[0], true
	}
	return Config{}, false
}

// Upsert adds the display, or replaces the configuration of the same name.
func (r *Registry) Upsert(c Config) error {
	if c.Name == "" {
		return fmt.Errorf("display name must not be empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	replaced := false
	for idx, existing := range r.configs {
		if existing.Name == c.Name {
			r.configs[idx] = c
			replaced = true
			break
		}
	}
	if !replaced {
		r.configs = append(r.configs, c)
	}
	return r.save()
}

func (r *Registry) Delete(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for idx, c := range r.configs {
		if c.Name == name {
			r.configs = append(r.configs[:idx], r.configs[idx+1:]...)
			return r.save()
		}
	}
	return fmt.Errorf("display %q not found", name)
}

// SetDefault marks the specified display as default, clearing the flag on
// all others.
func (r *Registry) SetDefault(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	found := false
	for idx := range r.configs {
		isDefault := r.configs[idx].Name == name
		r.configs[idx].Default = isDefault
		if isDefault {
			found = true
		}
	}
	if !found {
		return fmt.Errorf("display %q not found", name)
	}
	return r.save()
}
