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

// Package img2oled contains domain types for img2oled, like target displays
// or push requests.
package img2oled

import (
	"github.com/stapelberg/img2oled/internal/ingest"
)

// A PushRequest is received via MQTT, HTTP or the web interface.
type PushRequest struct {
	// Display names the target display. The empty string selects the
	// default display.
	Display string `json:"display"`

	// Source selects where the image comes from: "airscan" scans a page
	// from a network scanner, "job" re-sends a previously stored job.
	Source string `json:"source"`

	// Job is a job id, consulted when Source == "job".
	Job string `json:"job"`
}

type DisplayFinder interface {
	CurrentDisplays() []Display
}

// A Display is a specific device showing 1-bpp frames, e.g. a FreakWAN node
// with an SSD1306 OLED that announced itself over MQTT, or a board wired up
// to a serial port.
type Display interface {
	Metadata() DisplayMetadata

	// CanPush returns nil if this display can show the specified push
	// request, or an error describing what prevents it from doing so.
	CanPush(*PushRequest) error

	// Push delivers one encoded frame to the display.
	Push(fci []byte) error
}

type DisplayMetadata struct {
	Id     string
	Name   string
	Width  int
	Height int

	// Dither selects Floyd-Steinberg dithering instead of plain
	// thresholding when converting for this display.
	Dither bool
	Invert bool
}

type ScanSourceFinder interface {
	CurrentScanSources() []ScanSource
}

// A ScanSource is a physical image source, e.g. a Brother printer/scanner
// that was discovered via AirScan.
type ScanSource interface {
	Metadata() ScanSourceMetadata

	// CanProcess returns nil if this source can produce an image for the
	// specified push request, or an error describing what prevents it
	// from doing so.
	CanProcess(*PushRequest) error

	// ScanTo scans into the supplied ingester and returns the job id.
	ScanTo(*ingest.Ingester) (string, error)
}

type ScanSourceMetadata struct {
	Id      string
	Name    string
	IconURL string
}
