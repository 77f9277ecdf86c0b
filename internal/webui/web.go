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

package webui

import (
	"bytes"
	"embed"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httputil"
	"net/url"
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/gorilla/securecookie"
	"github.com/stapelberg/img2oled"
	"github.com/stapelberg/img2oled/internal/display"
	"github.com/stapelberg/img2oled/internal/httperr"
	"github.com/stapelberg/img2oled/internal/jobqueue"
	"github.com/stapelberg/img2oled/internal/source/airscan"
)

const sessionCookieName = "img2oled"

// shiftPath from
// https://blog.merovius.de/2017/06/18/how-not-to-use-an-http-router.html:

// shiftPath splits off the first component of p, which will be cleaned of
// relative components before processing. head will never contain a slash and
// tail will always be a rooted path without trailing slash.
func shiftPath(p string) (head, tail string) {
	p = path.Clean("/" + p)
	i := strings.Index(p[1:], "/") + 1
	if i <= 0 {
		return p[1:], "/"
	}
	return p[1:i], p[i:]
}

func genXSRFToken() string {
	return base64.StdEncoding.EncodeToString(securecookie.GenerateRandomKey(32))
}

func (ui *UI) xsrfToken(w http.ResponseWriter, r *http.Request) (string, error) {
	session, err := ui.store.Get(r, sessionCookieName)
	if err != nil {
		return "", err
	}
	xsrftoken, ok := session.Values["xsrftoken"].(string)
	if !ok {
		xsrftoken = genXSRFToken()
		session.Values["xsrftoken"] = xsrftoken
		if err := session.Save(r, w); err != nil {
			return "", err
		}
	}
	return xsrftoken, nil
}

// requireXSRF verifies that the request is a POST carrying the session's
// XSRF token.
func (ui *UI) requireXSRF(w http.ResponseWriter, r *http.Request) error {
	if r.Method != "POST" {
		return httperr.Error(
			http.StatusMethodNotAllowed,
			fmt.Errorf("unexpected HTTP method: got %v, want POST", r.Method))
	}
	session, err := ui.store.Get(r, sessionCookieName)
	if err != nil {
		return err
	}
	xsrftoken, ok := session.Values["xsrftoken"].(string)
	if !ok {
		return httperr.Error(
			http.StatusForbidden,
			fmt.Errorf("no XSRF token in session"))
	}
	got := r.FormValue("xsrftoken")
	if got == "" {
		got = r.Header.Get("X-XSRF-Token")
	}
	if got != xsrftoken {
		return httperr.Error(
			http.StatusForbidden,
			fmt.Errorf("XSRF token mismatch"))
	}
	return nil
}

func (ui *UI) constantsHandler(w http.ResponseWriter, r *http.Request) error {
	xsrftoken, err := ui.xsrfToken(w, r)
	if err != nil {
		return err
	}
	w.Header().Set("Content-Type", "text/javascript")
	fmt.Fprintf(w, "var XSRFToken = %q;\n", xsrftoken)
	return nil
}

// currentDisplays flattens all display finders.
func (ui *UI) currentDisplays() []img2oled.Display {
	var displays []img2oled.Display
	for _, finder := range ui.displayFinders {
		displays = append(displays, finder.CurrentDisplays()...)
	}
	return displays
}

type jobView struct {
	Id         string
	State      string
	PreviewURL string
	ThumbURL   string
	Ratio      string
}

// fciRatio returns encoded size over packed 1-bpp size for the job's first
// frame, formatted for display, or "" if the job has no encoded frame yet.
func fciRatio(job *jobqueue.Job) string {
	b, err := job.ReadDerivedFile("frame1.fci")
	if err != nil || len(b) < 5 {
		return ""
	}
	w, h := int(b[3]), int(b[4])
	if w == 0 || h == 0 {
		return ""
	}
	packed := (w*h + 7) / 8
	return fmt.Sprintf("%.0f%%", float64(len(b))/float64(packed)*100)
}

func (ui *UI) indexHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	if len(ui.registry.Configs()) == 0 {
		ui.setupHandler(w, r)
		return
	}

	xsrftoken, err := ui.xsrfToken(w, r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	jobs, err := ui.queue.Jobs()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	var keys []string
	for key := range jobs {
		keys = append(keys, key)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(keys)))
	const maxJobs = 20
	if len(keys) > maxJobs {
		keys = keys[:maxJobs]
	}
	jobViews := make([]jobView, 0, len(keys))
	for _, key := range keys {
		job := jobs[key]
		jobViews = append(jobViews, jobView{
			Id:         key,
			State:      job.State().String(),
			PreviewURL: "/frames_dir/" + key + "/preview1.png",
			ThumbURL:   "/frames_dir/" + key + "/thumb1.jpg",
			Ratio:      fciRatio(job),
		})
	}

	var defaultName string
	if def, ok := ui.registry.Default(); ok {
		defaultName = def.Name
	}

	type displayView struct {
		img2oled.DisplayMetadata
		Configured bool
		Default    bool
	}
	var displayViews []displayView
	configured := make(map[string]bool)
	for _, cfg := range ui.registry.Configs() {
		configured[cfg.Name] = true
	}
	for _, d := range ui.currentDisplays() {
		md := d.Metadata()
		displayViews = append(displayViews, displayView{
			DisplayMetadata: md,
			Configured:      configured[md.Name],
			Default:         md.Name == defaultName,
		})
	}
	sort.Slice(displayViews, func(i, j int) bool {
		return displayViews[i].Id < displayViews[j].Id
	})

	var scanSources []img2oled.ScanSourceMetadata
	for _, finder := range ui.finders {
		srcs := finder.CurrentScanSources()
		for _, src := range srcs {
			metadata := src.Metadata()

			if metadata.IconURL != "" && !strings.HasPrefix(metadata.IconURL, "/") {
				if u, err := url.Parse(metadata.IconURL); err == nil {
					u.Host = r.Host
					u.Path = "/scanicon/" + metadata.Id + "/" + path.Base(u.Path)
					metadata.IconURL = u.String()
				}
			}

			scanSources = append(scanSources, metadata)
		}
	}

	var buf bytes.Buffer
	err = ui.tmpl.ExecuteTemplate(&buf, "Index.html.tmpl", map[string]interface{}{
		"xsrftoken":   xsrftoken,
		"displays":    displayViews,
		"defaultname": defaultName,
		"jobs":        jobViews,
		"scansources": scanSources,
		"listenurls":  ui.listenURLs,
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	io.Copy(w, &buf)
}

func (ui *UI) framesDirHandler(w http.ResponseWriter, r *http.Request) {
	http.StripPrefix("/frames_dir/", http.FileServer(http.Dir(ui.framesDir))).ServeHTTP(w, r)
}

func (ui *UI) storeDisplayHandler(w http.ResponseWriter, r *http.Request) error {
	if err := ui.requireXSRF(w, r); err != nil {
		return err
	}
	atoiDefault := func(s string, def int) int {
		if s == "" {
			return def
		}
		v, err := strconv.Atoi(s)
		if err != nil {
			return def
		}
		return v
	}
	cfg := display.Config{
		Name:       r.FormValue("name"),
		Width:      atoiDefault(r.FormValue("width"), 128),
		Height:     atoiDefault(r.FormValue("height"), 64),
		Topic:      r.FormValue("topic"),
		SerialPort: r.FormValue("serial_port"),
		Baud:       atoiDefault(r.FormValue("baud"), 0),
		Dither:     r.FormValue("dither") == "on",
		Invert:     r.FormValue("invert") == "on",
	}
	if cfg.Width < 1 || cfg.Width > 255 || cfg.Height < 1 || cfg.Height > 255 {
		return httperr.Error(
			http.StatusBadRequest,
			fmt.Errorf("display dimensions %dx%d outside the supported 1..255 domain", cfg.Width, cfg.Height))
	}
	if err := ui.registry.Upsert(cfg); err != nil {
		return httperr.Error(http.StatusBadRequest, err)
	}
	if r.FormValue("default") == "on" {
		if err := ui.registry.SetDefault(cfg.Name); err != nil {
			return err
		}
	}
	http.Redirect(w, r, "/", http.StatusFound)
	return nil
}

func (ui *UI) deleteDisplayHandler(w http.ResponseWriter, r *http.Request) error {
	if err := ui.requireXSRF(w, r); err != nil {
		return err
	}
	if err := ui.registry.Delete(r.FormValue("name")); err != nil {
		return httperr.Error(http.StatusNotFound, err)
	}
	http.Redirect(w, r, "/", http.StatusFound)
	return nil
}

func (ui *UI) storeDefaultDisplayHandler(w http.ResponseWriter, r *http.Request) error {
	if err := ui.requireXSRF(w, r); err != nil {
		return err
	}
	if err := ui.registry.SetDefault(r.FormValue("name")); err != nil {
		return httperr.Error(http.StatusNotFound, err)
	}
	http.Redirect(w, r, "/", http.StatusFound)
	return nil
}

func (ui *UI) uploadHandler(w http.ResponseWriter, r *http.Request) error {
	if err := ui.requireXSRF(w, r); err != nil {
		return err
	}
	file, _, err := r.FormFile("frame")
	if err != nil {
		return httperr.Error(
			http.StatusBadRequest,
			fmt.Errorf("form file %q: %v", "frame", err))
	}
	defer file.Close()
	b, err := io.ReadAll(file)
	if err != nil {
		return err
	}

	job, err := ui.ingester.NewJob()
	if err != nil {
		return err
	}
	if err := job.AddFrame(b); err != nil {
		return err
	}
	jobId, err := job.Ingest()
	if err != nil {
		return err
	}
	http.Redirect(w, r, "/?job="+url.QueryEscape(jobId), http.StatusFound)
	return nil
}

func (ui *UI) pushHandler(w http.ResponseWriter, r *http.Request) error {
	if err := ui.requireXSRF(w, r); err != nil {
		return err
	}
	req := &img2oled.PushRequest{
		Display: r.FormValue("display"),
		Source:  r.FormValue("source"),
		Job:     r.FormValue("job"),
	}
	if req.Source == "" {
		req.Source = "job"
	}
	if err := ui.push(req); err != nil {
		return err
	}
	http.Redirect(w, r, "/", http.StatusFound)
	return nil
}

func (ui *UI) startScanHandler(w http.ResponseWriter, r *http.Request) error {
	if err := ui.requireXSRF(w, r); err != nil {
		return err
	}

	srcId := path.Base(r.URL.Path)
	scanSource := ui.getScanSource(srcId)
	if scanSource == nil {
		return httperr.Error(
			http.StatusNotFound,
			fmt.Errorf("scan source %q not found", srcId))
	}

	jobId, err := scanSource.ScanTo(ui.ingester)
	if err != nil {
		return err
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(&struct {
		Name string
	}{
		Name: jobId,
	}); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
	return nil
}

func (ui *UI) getScanSource(srcId string) img2oled.ScanSource {
	for _, finder := range ui.finders {
		srcs := finder.CurrentScanSources()
		for _, src := range srcs {
			if src.Metadata().Id == srcId {
				return src
			}
		}
	}
	return nil
}

func (ui *UI) scanIconHandler(w http.ResponseWriter, r *http.Request) error {
	var srcId string
	srcId, r.URL.Path = shiftPath(r.URL.Path)
	scanSource := ui.getScanSource(srcId)
	if scanSource == nil {
		return httperr.Error(
			http.StatusNotFound,
			fmt.Errorf("scan source %q not found", srcId))
	}
	airscanSource, ok := scanSource.(*airscan.AirscanSource)
	if !ok {
		return httperr.Error(
			http.StatusBadRequest,
			fmt.Errorf("scan source is of type %T, not airscan", scanSource))
	}

	// Remove the .local. avahi suffix to go through local DNS, as there is no
	// avahi on gokrazy (yet?).
	iconURL := strings.ReplaceAll(scanSource.Metadata().IconURL, ".local.", "")
	u, err := url.Parse(iconURL)
	if err != nil {
		return err
	}
	u.Path = path.Dir(u.Path)
	reverseProxy := httputil.NewSingleHostReverseProxy(u)
	reverseProxy.Transport = airscanSource.Transport()
	reverseProxy.ServeHTTP(w, r)
	return nil
}

//go:embed assets/*
var assetsDir embed.FS
