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

// Package webui implements the img2oled web user interface using
// materializecss.com: manage displays, upload frames, trigger scans, and
// inspect recent conversion jobs.
package webui

import (
	"html/template"
	"net/http"
	"net/http/pprof"
	"os"
	"path/filepath"

	gorilla_context "github.com/gorilla/context"
	"github.com/gorilla/securecookie"
	"github.com/gorilla/sessions"
	"github.com/stapelberg/img2oled"
	"github.com/stapelberg/img2oled/internal/display"
	"github.com/stapelberg/img2oled/internal/httperr"
	"github.com/stapelberg/img2oled/internal/ingest"
	"github.com/stapelberg/img2oled/internal/jobqueue"
	"golang.org/x/net/trace"
)

func loadSessionStore(stateDir string) (sessions.Store, error) {
	cookieSecretPath := filepath.Join(stateDir, "cookies.key")
	secret, err := os.ReadFile(cookieSecretPath)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
		if err := os.MkdirAll(filepath.Dir(cookieSecretPath), 0755); err != nil {
			return nil, err
		}
		// NOTE: Not much thought went into chosing 32 bytes as the length of
		// cookie keys. In case there are any arguments for a different number,
		// I’m happy to be convinced.
		secret = securecookie.GenerateRandomKey(32)
		if err := os.WriteFile(cookieSecretPath, secret, 0600); err != nil {
			return nil, err
		}
	}

	sessionsPath := filepath.Join(stateDir, "sessions")
	if err := os.MkdirAll(sessionsPath, 0700); err != nil {
		return nil, err
	}
	return sessions.NewFilesystemStore(sessionsPath, secret), nil
}

type Config struct {
	Registry       *display.Registry
	Queue          *jobqueue.Queue
	FramesDir      string
	StateDir       string
	Finders        []img2oled.ScanSourceFinder
	DisplayFinders []img2oled.DisplayFinder
	Ingester       *ingest.Ingester

	// Push hands a push request to the daemon's dispatcher.
	Push func(*img2oled.PushRequest) error

	ListenURLs []string
}

func Init(cfg *Config) (http.Handler, error) {
	store, err := loadSessionStore(cfg.StateDir)
	if err != nil {
		return nil, err
	}

	tmpl, err := template.ParseFS(assetsDir, "assets/*.tmpl")
	if err != nil {
		return nil, err
	}

	ui := &UI{
		registry:       cfg.Registry,
		queue:          cfg.Queue,
		store:          store,
		tmpl:           tmpl,
		framesDir:      cfg.FramesDir,
		stateDir:       cfg.StateDir,
		finders:        cfg.Finders,
		displayFinders: cfg.DisplayFinders,
		ingester:       cfg.Ingester,
		push:           cfg.Push,
		listenURLs:     cfg.ListenURLs,
	}
	mux := http.NewServeMux()
	mux.Handle("/constants.js", httperr.Handle(ui.constantsHandler))
	mux.Handle("/assets/", http.FileServer(http.FS(assetsDir)))
	mux.HandleFunc("/frames_dir/", ui.framesDirHandler)
	mux.Handle("/storedisplay", httperr.Handle(ui.storeDisplayHandler))
	mux.Handle("/deletedisplay", httperr.Handle(ui.deleteDisplayHandler))
	mux.Handle("/storedefaultdisplay", httperr.Handle(ui.storeDefaultDisplayHandler))
	mux.Handle("/upload", httperr.Handle(ui.uploadHandler))
	mux.Handle("/push", httperr.Handle(ui.pushHandler))
	mux.Handle("/startscan/", httperr.Handle(ui.startScanHandler))
	mux.Handle("/scanicon/", http.StripPrefix("/scanicon/", httperr.Handle(ui.scanIconHandler)))
	mux.Handle("/chart.png", httperr.Handle(ui.chartHandler))
	mux.Handle("/archive.tar.zst", httperr.Handle(ui.archiveHandler))
	mux.HandleFunc("/", ui.indexHandler)

	mux.HandleFunc("/debug/requests", trace.Traces)

	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	return gorilla_context.ClearHandler(mux), nil
}

type UI struct {
	registry       *display.Registry
	queue          *jobqueue.Queue
	store          sessions.Store
	tmpl           *template.Template
	framesDir      string
	stateDir       string
	finders        []img2oled.ScanSourceFinder
	displayFinders []img2oled.DisplayFinder
	ingester       *ingest.Ingester
	push           func(*img2oled.PushRequest) error
	listenURLs     []string
}
