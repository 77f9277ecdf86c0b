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

// Package airscan implements a scan source from AirScan devices discovered
// on the local network: put a photo or sketch on the flatbed, push it to an
// OLED display.
package airscan

import (
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/brutella/dnssd"
	"github.com/stapelberg/airscan"
	"github.com/stapelberg/airscan/preset"
	"github.com/stapelberg/img2oled"
	"github.com/stapelberg/img2oled/internal/ingest"
	"github.com/stapelberg/img2oled/internal/mayqtt"
	"golang.org/x/net/context"
	"golang.org/x/net/trace"

	// We request a jpeg image from the scanner, so make sure the image package
	// can decode jpeg images in later processing stages.
	_ "image/jpeg"
)

type AirscanSource struct {
	mu      sync.Mutex
	client  *airscan.Client
	name    string
	host    string
	iconURL string
}

func (a *AirscanSource) Transport() http.RoundTripper {
	return a.client.HTTPClient.(*http.Client).Transport
}

// implements img2oled.ScanSource
func (a *AirscanSource) Metadata() img2oled.ScanSourceMetadata {
	return img2oled.ScanSourceMetadata{
		Id:      "airscan!" + a.host,
		Name:    a.name,
		IconURL: a.iconURL,
	}
}

// implements img2oled.ScanSource
func (a *AirscanSource) CanProcess(r *img2oled.PushRequest) error {
	if r.Source != "airscan" {
		return fmt.Errorf("requested source is not airscan")
	}
	return nil // any!
}

// implements img2oled.ScanSource
func (a *AirscanSource) ScanTo(ingester *ingest.Ingester) (string, error) {
	tr := trace.New("AirScan", "ScanTo")
	defer tr.Finish()
	start := time.Now()
	defer func() {
		tr.LazyPrintf("scan done in %v", time.Since(start))
	}()
	mayqtt.Publishf("scanning...")

	a.mu.Lock()
	defer a.mu.Unlock()
	return scan1(tr, a.client, ingester)
}

func scan1(tr trace.Trace, cl *airscan.Client, ingester *ingest.Ingester) (string, error) {
	status, err := cl.ScannerStatus()
	if err != nil {
		return "", err
	}
	tr.LazyPrintf("status: %+v", status)
	if got, want := status.State, "Idle"; got != want {
		return "", fmt.Errorf("scanner not ready: in state %q, want %q", got, want)
	}

	// The display is 1-bpp anyway, so only request what we really need:
	// grayscale at 300 dpi, flatbed. An ADF batch scan makes little sense
	// for a single display frame.
	settings := preset.GrayscaleA4ADF()
	settings.InputSource = "Platen"
	scan, err := cl.Scan(settings)
	if err != nil {
		return "", err
	}
	defer func() {
		tr.LazyPrintf("Deleting ScanJob %s", scan)
		if err := scan.Close(); err != nil {
			log.Printf("error deleting AirScan job (probably harmless): %v", err)
		}
	}()
	tr.LazyPrintf("ScanJob created: %s", scan)

	ingestJob, err := ingester.NewJob()
	if err != nil {
		return "", err
	}

	for scan.ScanPage() {
		b, err := io.ReadAll(scan.CurrentPage())
		if err != nil {
			return "", err
		}
		if err := ingestJob.AddFrame(b); err != nil {
			return "", err
		}
	}
	if err := scan.Err(); err != nil {
		return "", err
	}

	return ingestJob.Ingest()
}

type AirscanSourceFinder struct {
	mu      sync.Mutex
	sources map[string]*AirscanSource
}

// implements img2oled.ScanSourceFinder
func (a *AirscanSourceFinder) CurrentScanSources() []img2oled.ScanSource {
	a.mu.Lock()
	defer a.mu.Unlock()
	sources := make([]img2oled.ScanSource, 0, len(a.sources))
	for _, source := range a.sources {
		sources = append(sources, source)
	}
	return sources
}

func SourceFinder() img2oled.ScanSourceFinder {
	tr := trace.New("AirScan", "DNSSD")

	log.Printf("Searching for AirScan scanners via DNSSD")
	tr.LazyPrintf("Searching for AirScan scanners via DNSSD")
	sourceFinder := &AirscanSourceFinder{
		sources: make(map[string]*AirscanSource),
	}

	addFn := func(srv dnssd.Service) {
		tr.LazyPrintf("DNSSD service discovered: %v", srv)

		// miekg/dns escapes characters in DNS labels, which as per RFC1034 and
		// RFC1035 does not actually permit whitespace. The purpose of escaping
		// originally appears to be to use these labels in a DNS master file,
		// but for our UI, the backslashes look just wrong.
		unescapedName := strings.ReplaceAll(srv.Name, "\\", "")

		sourceFinder.mu.Lock()
		defer sourceFinder.mu.Unlock()
		sourceFinder.sources[srv.Host] = &AirscanSource{
			client:  airscan.NewClientForService(&srv),
			name:    unescapedName,
			host:    srv.Host,
			iconURL: srv.Text["representation"],
		}
	}
	rmvFn := func(srv dnssd.Service) {
		tr.LazyPrintf("DNSSD service disappeared: %v", srv)
		sourceFinder.mu.Lock()
		defer sourceFinder.mu.Unlock()
		delete(sourceFinder.sources, srv.Host)
	}
	go func() {
		defer tr.Finish()
		const service = "_uscan._tcp.local." // AirScan DNSSD service name
		// addFn and rmvFn are always called (sequentially) from the same goroutine,
		// i.e. no locking is required.
		if err := dnssd.LookupType(context.Background(), service, addFn, rmvFn); err != nil {
			log.Printf("DNSSD init failed: %v", err)
			return
		}
	}()
	return sourceFinder
}
