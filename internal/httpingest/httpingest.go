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

// Package httpingest implements an HTTP API around the ingest API, plus a
// one-shot conversion endpoint.
//
// # Example Usage
//
// You can use this API with curl on the command line like so:
//
//	jobid=$(curl -s -X CREATE http://localhost:7121/api/ingestjob | jq -r .job)
//	curl --request POST --data-binary "@frame.png" http://localhost:7121/api/job/$jobid/addframe
//	curl --request POST http://localhost:7121/api/job/$jobid/ingest
//
// Or convert a single image without storing a job:
//
//	curl --request POST --data-binary "@frame.png" \
//	  "http://localhost:7121/api/convert?width=128&height=64&dither=1" > frame.fci
package httpingest

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/stapelberg/img2oled/internal/convert"
	"github.com/stapelberg/img2oled/internal/fci"
	"github.com/stapelberg/img2oled/internal/httperr"
	"github.com/stapelberg/img2oled/internal/ingest"
)

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

type jobHandler struct {
	job *ingest.Job
}

func (h *jobHandler) ServeHTTPError(w http.ResponseWriter, r *http.Request) error {
	var verb string
	verb, r.URL.Path = shiftPath(r.URL.Path)
	switch verb {
	case "addframe":
		if got := r.Method; got != "PUT" && got != "POST" {
			return httperr.Error(
				http.StatusMethodNotAllowed,
				fmt.Errorf("unexpected HTTP method: got %v, want PUT or POST", got))
		}

		b, err := io.ReadAll(r.Body)
		if err != nil {
			return err
		}
		return h.job.AddFrame(b)

	case "ingest":
		jobId, err := h.job.Ingest()
		if err != nil {
			return err
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"job":"%s"}`, jobId)
		return nil
	}
	return httperr.Error(
		http.StatusNotFound,
		fmt.Errorf("verb %q not found", verb))
}

// optionsFromQuery parses conversion options from URL query parameters:
// width, height, dither, invert, caption, fit (stretch or letterbox).
func optionsFromQuery(r *http.Request) (convert.Options, error) {
	o := convert.Options{
		// dimensions of the common SSD1306 OLED modules
		Width:  128,
		Height: 64,
	}
	q := r.URL.Query()
	if v := q.Get("width"); v != "" {
		width, err := strconv.Atoi(v)
		if err != nil {
			return o, fmt.Errorf("invalid width: %v", err)
		}
		o.Width = width
	}
	if v := q.Get("height"); v != "" {
		height, err := strconv.Atoi(v)
		if err != nil {
			return o, fmt.Errorf("invalid height: %v", err)
		}
		o.Height = height
	}
	o.Dither = q.Get("dither") == "1" || q.Get("dither") == "true"
	o.Invert = q.Get("invert") == "1" || q.Get("invert") == "true"
	o.Caption = q.Get("caption")
	if v := q.Get("fit"); v == "letterbox" {
		o.Fit = convert.Letterbox
	}
	return o, nil
}

func convertHandler(w http.ResponseWriter, r *http.Request) error {
	if got, want := r.Method, "POST"; got != want {
		return httperr.Error(
			http.StatusMethodNotAllowed,
			fmt.Errorf("unexpected HTTP method: got %v, want %v", got, want))
	}
	o, err := optionsFromQuery(r)
	if err != nil {
		return httperr.Error(http.StatusBadRequest, err)
	}
	b, err := io.ReadAll(r.Body)
	if err != nil {
		return err
	}
	m, err := convert.FromBytes(b, o)
	if err != nil {
		var dimErr *fci.UnsupportedDimensionsError
		if errors.As(err, &dimErr) {
			return httperr.Error(http.StatusUnprocessableEntity, err)
		}
		return httperr.Error(http.StatusBadRequest, err)
	}
	var buf bytes.Buffer
	if err := fci.Encode(&buf, m); err != nil {
		return err
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	_, err = w.Write(buf.Bytes())
	return err
}

func ServeMux(ingester *ingest.Ingester) *http.ServeMux {
	var (
		// TODO: switch to an LRU cache so that we can bound the number of
		// concurrent requests and turn a runaway job request loop into a
		// non-event.
		currentJobsMu sync.Mutex
		currentJobs   = make(map[string]*ingest.Job)
	)
	getJob := func(jobId string) *ingest.Job {
		currentJobsMu.Lock()
		defer currentJobsMu.Unlock()
		return currentJobs[jobId]
	}
	serveMux := http.NewServeMux()

	serveMux.Handle("/ingestjob", httperr.Handle(func(w http.ResponseWriter, r *http.Request) error {
		if got, want := r.Method, "CREATE"; got != want {
			return httperr.Error(
				http.StatusMethodNotAllowed,
				fmt.Errorf("unexpected HTTP method: got %v, want %v", got, want))
		}

		job, err := ingester.NewJob()
		if err != nil {
			return err
		}

		jobId := uuid.NewString()

		currentJobsMu.Lock()
		defer currentJobsMu.Unlock()
		currentJobs[jobId] = job
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"job":"%s"}`, jobId)
		return nil
	}))

	serveMux.Handle("/job/", httperr.Handle(func(w http.ResponseWriter, r *http.Request) error {
		var jobId string
		jobId, r.URL.Path = shiftPath(strings.TrimPrefix(r.URL.Path, "/job/"))
		job := getJob(jobId)
		if job == nil {
			return httperr.Error(
				http.StatusNotFound,
				fmt.Errorf("job not found"))
		}
		hdl := jobHandler{job: job}
		httpHdl := httperr.Handle(hdl.ServeHTTPError)
		httpHdl.ServeHTTP(w, r)
		return nil
	}))

	serveMux.Handle("/convert", httperr.Handle(convertHandler))

	return serveMux
}
