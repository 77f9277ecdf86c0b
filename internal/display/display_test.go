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

package display_test

import (
	"testing"

	"github.com/stapelberg/img2oled/internal/display"
)

func TestRegistryPersistence(t *testing.T) {
	stateDir := t.TempDir()
	registry := display.NewRegistry(stateDir)
	if err := registry.Load(); err != nil {
		t.Fatalf("loading an empty registry: %v", err)
	}
	if err := registry.Upsert(display.Config{
		Name:   "kitchen",
		Width:  128,
		Height: 64,
		Dither: true,
	}); err != nil {
		t.Fatal(err)
	}
	if err := registry.Upsert(display.Config{
		Name:       "workbench",
		Width:      128,
		Height:     32,
		SerialPort: "/dev/ttyUSB0",
		Baud:       115200,
	}); err != nil {
		t.Fatal(err)
	}
	if err := registry.SetDefault("workbench"); err != nil {
		t.Fatal(err)
	}

	// A fresh registry must read back the same state.
	reloaded := display.NewRegistry(stateDir)
	if err := reloaded.Load(); err != nil {
		t.Fatal(err)
	}
	if got, want := len(reloaded.Configs()), 2; got != want {
		t.Fatalf("unexpected number of displays: got %d, want %d", got, want)
	}
	def, ok := reloaded.Default()
	if !ok {
		t.Fatal("no default display found")
	}
	if got, want := def.Name, "workbench"; got != want {
		t.Fatalf("unexpected default display: got %q, want %q", got, want)
	}
	kitchen, ok := reloaded.ByName("kitchen")
	if !ok {
		t.Fatal("display kitchen not found")
	}
	if got, want := kitchen.FrameTopic(), "img2oled/display/kitchen/frame"; got != want {
		t.Fatalf("unexpected frame topic: got %q, want %q", got, want)
	}

	if err := reloaded.Delete("kitchen"); err != nil {
		t.Fatal(err)
	}
	if _, ok := reloaded.ByName("kitchen"); ok {
		t.Fatal("display kitchen still present after Delete")
	}
}

func TestDefaultFallsBackToFirst(t *testing.T) {
	registry := display.NewRegistry(t.TempDir())
	if _, ok := registry.Default(); ok {
		t.Fatal("empty registry unexpectedly has a default display")
	}
	if err := registry.Upsert(display.Config{Name: "only", Width: 128, Height: 64}); err != nil {
		t.Fatal(err)
	}
	def, ok := registry.Default()
	if !ok {
		t.Fatal("no default display found")
	}
	if got, want := def.Name, "only"; got != want {
		t.Fatalf("unexpected default display: got %q, want %q", got, want)
	}
}
