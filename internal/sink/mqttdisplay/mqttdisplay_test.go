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

package mqttdisplay_test

import (
	"testing"

	"github.com/stapelberg/img2oled"
	"github.com/stapelberg/img2oled/internal/display"
	"github.com/stapelberg/img2oled/internal/sink/mqttdisplay"
)

func TestCanPush(t *testing.T) {
	for _, test := range []struct {
		num       int
		cfg       display.Config
		req       img2oled.PushRequest
		wantAllow bool
	}{
		{
			num:       1,
			cfg:       display.Config{Name: "kitchen"},
			req:       img2oled.PushRequest{Display: "kitchen"},
			wantAllow: true,
		},
		{
			num:       2,
			cfg:       display.Config{Name: "kitchen"},
			req:       img2oled.PushRequest{Display: "workbench"},
			wantAllow: false,
		},
		{
			num:       3,
			cfg:       display.Config{Name: "kitchen", Default: true},
			req:       img2oled.PushRequest{},
			wantAllow: true,
		},
		{
			num:       4,
			cfg:       display.Config{Name: "kitchen"},
			req:       img2oled.PushRequest{},
			wantAllow: false,
		},
	} {
		d := mqttdisplay.New(test.cfg)
		err := d.CanPush(&test.req)
		if got, want := err == nil, test.wantAllow; got != want {
			t.Errorf("test %d: CanPush = %v, want allowed=%v", test.num, err, want)
		}
	}
}

func TestRegistryFinderSkipsSerialDisplays(t *testing.T) {
	reg := display.NewRegistry(t.TempDir())
	if err := reg.Upsert(display.Config{Name: "kitchen", Width: 128, Height: 64}); err != nil {
		t.Fatal(err)
	}
	if err := reg.Upsert(display.Config{Name: "workbench", Width: 128, Height: 32, SerialPort: "/dev/ttyUSB0"}); err != nil {
		t.Fatal(err)
	}
	displays := mqttdisplay.FinderFor(reg).CurrentDisplays()
	if got, want := len(displays), 1; got != want {
		t.Fatalf("unexpected number of MQTT displays: got %d, want %d", got, want)
	}
	if got, want := displays[0].Metadata().Id, "mqtt!kitchen"; got != want {
		t.Fatalf("unexpected display id: got %q, want %q", got, want)
	}
}
