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

// Program img2oled converts images into run-length encoded 1-bpp frames and
// delivers them to small OLED displays, e.g. FreakWAN nodes reachable over
// MQTT, or boards attached to a serial port.
package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"image/png"
	"log"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/stapelberg/img2oled"
	"github.com/stapelberg/img2oled/internal/convert"
	"github.com/stapelberg/img2oled/internal/display"
	"github.com/stapelberg/img2oled/internal/fci"
	"github.com/stapelberg/img2oled/internal/frame"
	"github.com/stapelberg/img2oled/internal/httpingest"
	"github.com/stapelberg/img2oled/internal/ingest"
	"github.com/stapelberg/img2oled/internal/jobqueue"
	"github.com/stapelberg/img2oled/internal/mayqtt"
	"github.com/stapelberg/img2oled/internal/sink/mqttdisplay"
	"github.com/stapelberg/img2oled/internal/sink/serialdisplay"
	"github.com/stapelberg/img2oled/internal/source/airscan"
	"github.com/stapelberg/img2oled/internal/turbojpeg"
	"github.com/stapelberg/img2oled/internal/webui"
	"golang.org/x/crypto/acme/autocert"
	"golang.org/x/net/trace"
	"golang.org/x/sync/errgroup"

	_ "net/http/pprof"
)

func framesOf(j *ingest.Job) []*frame.Frame {
	frames := make([]*frame.Frame, len(j.Frames))
	for idx, b := range j.Frames {
		frames[idx] = frame.FromBytes(b)
	}
	return frames
}

func currentDisplays(displayFinders []img2oled.DisplayFinder) []img2oled.Display {
	var displays []img2oled.Display
	for _, finder := range displayFinders {
		displays = append(displays, finder.CurrentDisplays()...)
	}
	return displays
}

// displayFor resolves the push request to one display: the named one, or the
// default display for requests without an explicit name.
func displayFor(ctx context.Context, displayFinders []img2oled.DisplayFinder, req *img2oled.PushRequest) (img2oled.Display, error) {
	tr, _ := trace.FromContext(ctx)
	for _, d := range currentDisplays(displayFinders) {
		if err := d.CanPush(req); err != nil {
			tr.LazyPrintf("skipping display: %v", err)
			continue
		}
		return d, nil
	}
	if req.Display == "" {
		return nil, fmt.Errorf("no default display configured")
	}
	return nil, fmt.Errorf("display %q not found", req.Display)
}

// convertJob encodes each non-blank frame of the job for the display:
// frame%d.fci (the encoded stream), preview%d.png (the binarized bitmap) and
// thumb%d.jpg (the original, JPEG-compressed for the web interface).
func convertJob(ctx context.Context, meta img2oled.DisplayMetadata, j *jobqueue.Job) error {
	tr, _ := trace.FromContext(ctx)
	for idx, f := range j.Frames() {
		num := idx + 1

		blank, err := f.Blank()
		if err != nil {
			return err
		}
		if blank {
			tr.LazyPrintf("skipping blank frame %d", num)
			continue
		}

		img, err := f.Image()
		if err != nil {
			return err
		}
		bm, err := convert.ToBitmap(img, convert.Options{
			Width:  meta.Width,
			Height: meta.Height,
			Fit:    convert.Letterbox,
			Dither: meta.Dither,
			Invert: meta.Invert,
		})
		if err != nil {
			return err
		}

		var buf bytes.Buffer
		if err := fci.Encode(&buf, bm); err != nil {
			return err
		}
		tr.LazyPrintf("frame %d encoded to %d bytes", num, buf.Len())
		if err := j.AddDerivedFile(fmt.Sprintf("frame%d.fci", num), buf.Bytes()); err != nil {
			return err
		}

		var preview bytes.Buffer
		if err := png.Encode(&preview, bm); err != nil {
			return err
		}
		if err := j.AddDerivedFile(fmt.Sprintf("preview%d.png", num), preview.Bytes()); err != nil {
			return err
		}

		var thumb bytes.Buffer
		if err := turbojpeg.EncodeImage(&thumb, img, 75); err != nil {
			return err
		}
		if err := j.AddDerivedFile(fmt.Sprintf("thumb%d.jpg", num), thumb.Bytes()); err != nil {
			return err
		}
	}
	return nil
}

func processJob(ctx context.Context, displayFinders []img2oled.DisplayFinder, req *img2oled.PushRequest, j *jobqueue.Job) (err error) {
	tr := trace.New("ProcessJob", "job id "+j.Id())
	defer tr.Finish()
	ctx = trace.NewContext(ctx, tr)

	tr.LazyPrintf("Processing job %v (state %v)", j.Id(), j.State())
	defer func() {
		tr.LazyPrintf("-> return err=%v", err)
		if err != nil {
			tr.SetError()
		}
	}()
	tr.LazyPrintf("job markers: %+v", j.Markers)

	d, err := displayFor(ctx, displayFinders, req)
	if err != nil {
		return err
	}
	meta := d.Metadata()
	tr.LazyPrintf("converting for display %s (%dx%d)", meta.Name, meta.Width, meta.Height)

	if !j.Markers.Converted {
		mayqtt.Publishf("converting %d frames", len(j.Frames()))
		if err := convertJob(ctx, meta, j); err != nil {
			return err
		}
		if err := j.CommitMarker("convert"); err != nil {
			return err
		}
		tr.LazyPrintf("job markers now: %+v", j.Markers)
	}

	pushed := 0
	for num := 1; num <= len(j.Frames()); num++ {
		encoded, err := j.ReadDerivedFile(fmt.Sprintf("frame%d.fci", num))
		if err != nil {
			if os.IsNotExist(err) {
				continue // blank frame, skipped during conversion
			}
			return err
		}
		if err := d.Push(encoded); err != nil {
			return fmt.Errorf("pushing frame %d: %v", num, err)
		}
		pushed++
	}
	if err := j.CommitMarker("publish"); err != nil {
		return err
	}
	tr.LazyPrintf("job markers now: %+v", j.Markers)

	mayqtt.Publishf("pushed %d frames to %s", pushed, meta.Name)
	return nil
}

func dispatchScan(ingester *ingest.Ingester, finders []img2oled.ScanSourceFinder, req *img2oled.PushRequest) error {
	tr := trace.New("img2oled", "DispatchScan")
	defer tr.Finish()

	for _, finder := range finders {
		srcs := finder.CurrentScanSources()
		tr.LazyPrintf("finder discovered %d scan sources", len(srcs))
		for _, src := range srcs {
			if err := src.CanProcess(req); err != nil {
				tr.LazyPrintf("skipping source: %v", err)
				continue
			}
			tr.LazyPrintf("scanning from source")
			if _, err := src.ScanTo(ingester); err != nil {
				return fmt.Errorf("scan failed: %v", err)
			}
			return nil
		}
	}
	return fmt.Errorf("no scan source found")
}

func logic() error {
	stateDir := flag.String("state_dir",
		"/perm/img2oled-state",
		"Directory containing state such as session data and the configured displays. If wiped, displays need to be configured again.")

	framesDir := flag.String("frames_dir",
		"/perm/frames",
		"Directory in which ingested frames and their encoded derivatives are stored, one directory per job.")

	httpListenAddr := flag.String("http_listen_address",
		"localhost:7121",
		"[host]:port to listen on for HTTP requests")

	httpsListenAddr := flag.String("https_listen_address",
		":https",
		"[host]:port to listen on for HTTPS requests. This is a no-op unless -tls_autocert_hosts is non-empty.")

	autocertHostList := flag.String("tls_autocert_hosts",
		"",
		"If non-empty, a comma-separated list of hostnames to obtain TLS certificates for. If non-empty, a TLS listener will be enabled on -https_listen_address")

	mqttBroker := flag.String("mqtt_broker",
		"tcp://dr.lan:1883",
		"MQTT broker to receive push requests from and publish encoded frames to")

	flag.Parse()

	log.Printf("img2oled starting")

	registry := display.NewRegistry(*stateDir)
	if err := registry.Load(); err != nil {
		return err
	}

	pushRequests := make(chan *img2oled.PushRequest, 1)
	// makes mayqtt.Publishf() work as a side effect:
	mayqtt.MQTT(*mqttBroker, pushRequests)

	queue := &jobqueue.Queue{Dir: *framesDir}

	displayFinders := []img2oled.DisplayFinder{
		mqttdisplay.FinderFor(registry),
		serialdisplay.FinderFor(registry),
		mqttdisplay.Discover(),
	}

	// We have one sequential job queue runner: conversion is quick, and
	// serializing pushes keeps frames from interleaving on the displays.
	type workJob struct {
		req *img2oled.PushRequest
		job *jobqueue.Job
	}
	workJobs := make(chan workJob)
	eg, ctx := errgroup.WithContext(context.Background())
	eg.Go(func() error {
		for workJob := range workJobs {
			if err := processJob(ctx, displayFinders, workJob.req, workJob.job); err != nil {
				log.Printf("job %v failed: %v", workJob.job.Id(), err)
			}
		}
		return nil
	})

	ingesterFor := func(req *img2oled.PushRequest) *ingest.Ingester {
		return &ingest.Ingester{
			IngestCallback: func(j *ingest.Job) (string, error) {
				// Persist the job into the reliable job queue (on persistent
				// storage) and let the queue worker take it from here.

				log.Printf("ingest(%d frames)", len(j.Frames))
				job, err := queue.AddJob(framesOf(j))
				if err != nil {
					return "", err
				}
				log.Printf("enqueuing job %v", job.Id())
				workJobs <- workJob{
					req: req,
					job: job,
				}
				log.Printf("job %v enqueued!", job.Id())
				return job.Id(), nil
			},
		}
	}

	var finders []img2oled.ScanSourceFinder
	finders = append(finders, airscan.SourceFinder())

	var listenURLs []string

	type serveFunc struct {
		serve    func() error
		shutdown func() error
	}
	var serveFuncs []serveFunc

	if *autocertHostList != "" {
		// Start HTTPS listener with autocert
		var hosts []string
		for _, host := range strings.Split(*autocertHostList, ",") {
			host = strings.TrimSpace(host)
			if host == "" {
				continue
			}
			hosts = append(hosts, host)
		}

		m := &autocert.Manager{
			Cache:      autocert.DirCache(filepath.Join(*stateDir, "autocert")),
			Prompt:     autocert.AcceptTOS,
			HostPolicy: autocert.HostWhitelist(hosts...),
		}
		s := &http.Server{
			Addr:      *httpsListenAddr,
			TLSConfig: m.TLSConfig(),
		}
		for _, host := range hosts {
			log.Printf("listening on https://%s", host)
			listenURLs = append(listenURLs, "https://"+host)
		}

		ln, err := net.Listen("tcp", s.Addr)
		if err != nil {
			return err
		}
		serveFuncs = append(serveFuncs, serveFunc{
			serve: func() error {
				defer ln.Close()

				return s.ServeTLS(ln, "", "")
			},
			shutdown: func() error {
				timeout, canc := context.WithTimeout(context.Background(), 250*time.Millisecond)
				defer canc()
				return s.Shutdown(timeout)
			},
		})
	}

	// HTTP listener (local network)
	ln, err := net.Listen("tcp", *httpListenAddr)
	if err != nil {
		return err
	}
	addr := ln.Addr().String()
	if host, port, err := net.SplitHostPort(addr); err == nil {
		if ip := net.ParseIP(host); ip != nil && ip.IsLoopback() {
			addr = "localhost"
			if port != "" {
				addr += ":" + port
			}
		}
	} else if strings.HasPrefix(addr, "[::]") {
		host, _ := os.Hostname()
		if host == "" {
			host = "localhost"
		}
		addr = host + strings.TrimPrefix(addr, "[::]")
	}
	log.Printf("listening on http://%s", addr)
	listenURLs = append(listenURLs, "http://"+addr)
	serveFuncs = append(serveFuncs, serveFunc{
		serve: func() error {
			return http.Serve(ln, nil)
		},
		shutdown: func() error {
			// TODO: Shutdown()
			return nil
		},
	})

	push := func(req *img2oled.PushRequest) error {
		switch req.Source {
		case "job":
			job, err := queue.JobById(req.Job)
			if err != nil {
				return err
			}
			workJobs <- workJob{req: req, job: job}
			return nil
		default:
			return dispatchScan(ingesterFor(req), finders, req)
		}
	}

	webuiHandler, err := webui.Init(&webui.Config{
		Registry:       registry,
		Queue:          queue,
		FramesDir:      *framesDir,
		StateDir:       *stateDir,
		Finders:        finders,
		DisplayFinders: displayFinders,
		Ingester:       ingesterFor(&img2oled.PushRequest{}),
		Push:           push,
		ListenURLs:     listenURLs,
	})
	if err != nil {
		return err
	}

	go func() {
		// start after a brief delay to not slow down startup
		time.Sleep(5 * time.Second)
		// Try to resume incomplete jobs:
		for {
			jobs, err := queue.Jobs()
			if err != nil && !os.IsNotExist(err) {
				log.Print(err)
			}
			for _, job := range jobs {
				if job.State() != jobqueue.InProgress {
					continue
				}
				log.Printf("enqueuing unfinished job %s", job.Id())
				workJobs <- workJob{
					req: &img2oled.PushRequest{},
					job: job,
				}
			}
			log.Printf("waiting 1 hour before retrying any unfinished jobs")
			time.Sleep(1 * time.Hour)
		}
	}()

	// Impulse/Trigger: MQTT
	{
		go func() {
			for req := range pushRequests {
				if err := push(req); err != nil {
					log.Printf("push request failed: %v", err)
				}
			}
		}()
	}

	// Impulse/Trigger: HTTP API
	{
		serveMux := httpingest.ServeMux(ingesterFor(&img2oled.PushRequest{}))
		http.Handle("/api/", http.StripPrefix("/api", serveMux))
	}

	// Web user interface (can trigger scans and pushes, too)
	http.Handle("/", webuiHandler)

	// for /debug/requests:
	trace.AuthRequest = func(req *http.Request) (bool, bool) {
		// RemoteAddr is commonly in the form "IP" or "IP:port".
		// If it is in the form "IP:port", split off the port.
		host, _, err := net.SplitHostPort(req.RemoteAddr)
		if err != nil {
			host = req.RemoteAddr
		}
		ip := net.ParseIP(host)
		if ip == nil {
			return false, false
		}
		if ip.IsPrivate() {
			return true, true
		}
		return false, false
	}

	for _, sf := range serveFuncs {
		sf := sf // copy
		eg.Go(func() error {
			errC := make(chan error)
			go func() {
				errC <- sf.serve()
			}()
			select {
			case err := <-errC:
				return err
			case <-ctx.Done():
				if err := sf.shutdown(); err != nil {
					log.Printf("shutting down listener: %v", err)
				}
				return ctx.Err()
			}
		})
	}

	return eg.Wait()
}

func main() {
	gokrazyInit()
	if err := logic(); err != nil {
		log.Fatal(err)
	}
}
