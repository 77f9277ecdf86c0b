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

package httpingest_test

import (
	"bytes"
	"encoding/json"
	"image"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stapelberg/img2oled/internal/fci"
	"github.com/stapelberg/img2oled/internal/httpingest"
	"github.com/stapelberg/img2oled/internal/ingest"
)

func testPNG(t *testing.T, w, h int, luma uint8) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = luma
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestIngestFlow(t *testing.T) {
	var ingested [][]byte
	ingester := &ingest.Ingester{
		IngestCallback: func(j *ingest.Job) (string, error) {
			for _, f := range j.Frames {
				ingested = append(ingested, f)
			}
			return "job-on-disk", nil
		},
	}
	srv := httptest.NewServer(httpingest.ServeMux(ingester))
	defer srv.Close()

	req, err := http.NewRequest("CREATE", srv.URL+"/ingestjob", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := resp.StatusCode, http.StatusOK; got != want {
		t.Fatalf("unexpected status code: got %v, want %v", got, want)
	}
	var createReply struct {
		Job string `json:"job"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&createReply); err != nil {
		t.Fatal(err)
	}
	if createReply.Job == "" {
		t.Fatal("CREATE /ingestjob returned an empty job id")
	}

	frame := testPNG(t, 8, 8, 0xff)
	resp, err = srv.Client().Post(srv.URL+"/job/"+createReply.Job+"/addframe", "image/png", bytes.NewReader(frame))
	if err != nil {
		t.Fatal(err)
	}
	if got, want := resp.StatusCode, http.StatusOK; got != want {
		t.Fatalf("unexpected status code: got %v, want %v", got, want)
	}

	resp, err = srv.Client().Post(srv.URL+"/job/"+createReply.Job+"/ingest", "", nil)
	if err != nil {
		t.Fatal(err)
	}
	var ingestReply struct {
		Job string `json:"job"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&ingestReply); err != nil {
		t.Fatal(err)
	}
	if got, want := ingestReply.Job, "job-on-disk"; got != want {
		t.Fatalf("unexpected job id: got %q, want %q", got, want)
	}
	if got, want := len(ingested), 1; got != want {
		t.Fatalf("unexpected number of ingested frames: got %d, want %d", got, want)
	}
	if !bytes.Equal(ingested[0], frame) {
		t.Fatalf("ingested frame does not match the uploaded frame")
	}
}

func TestConvert(t *testing.T) {
	srv := httptest.NewServer(httpingest.ServeMux(&ingest.Ingester{}))
	defer srv.Close()

	body := testPNG(t, 64, 32, 0xff)
	resp, err := srv.Client().Post(srv.URL+"/convert?width=32&height=16", "image/png", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	if got, want := resp.StatusCode, http.StatusOK; got != want {
		b, _ := io.ReadAll(resp.Body)
		t.Fatalf("unexpected status code: got %v, want %v (body: %q)", got, want, b)
	}
	m, err := fci.Decode(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := m.W, 32; got != want {
		t.Errorf("decoded width: got %d, want %d", got, want)
	}
	if got, want := m.H, 16; got != want {
		t.Errorf("decoded height: got %d, want %d", got, want)
	}
	// All-white input must decode to an all-lit bitmap.
	if got, want := m.LitRatio(), 1.0; got != want {
		t.Errorf("lit ratio: got %f, want %f", got, want)
	}
}

func TestConvertRejectsOversizedDimensions(t *testing.T) {
	srv := httptest.NewServer(httpingest.ServeMux(&ingest.Ingester{}))
	defer srv.Close()

	body := testPNG(t, 8, 8, 0xff)
	resp, err := srv.Client().Post(srv.URL+"/convert?width=256&height=64", "image/png", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	if got, want := resp.StatusCode, http.StatusUnprocessableEntity; got != want {
		t.Fatalf("unexpected status code: got %v, want %v", got, want)
	}
}
