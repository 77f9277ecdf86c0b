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

// Program oled-push stages one or more image files as a job with a running
// img2oled daemon, which converts them and pushes them to the default
// display.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
)

var img2oledAddress = flag.String("img2oled_address",
	"localhost:7121",
	"host:port on which img2oled is reachable")

func apiRequest(method, url string, body io.Reader) ([]byte, error) {
	req, err := http.NewRequest(method, url, body)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if got, want := resp.StatusCode, http.StatusOK; got != want {
		return nil, fmt.Errorf("%s %s: unexpected HTTP status: got %v, want %v (%s)",
			method, url, resp.Status, want, bytes.TrimSpace(b))
	}
	return b, nil
}

func push() error {
	base := "http://" + *img2oledAddress + "/api"

	b, err := apiRequest("CREATE", base+"/ingestjob", nil)
	if err != nil {
		return err
	}
	var created struct {
		Job string `json:"job"`
	}
	if err := json.Unmarshal(b, &created); err != nil {
		return fmt.Errorf("parsing ingestjob response: %v", err)
	}

	for _, fn := range flag.Args() {
		frame, err := os.ReadFile(fn)
		if err != nil {
			return err
		}
		url := base + "/job/" + created.Job + "/addframe"
		if _, err := apiRequest("POST", url, bytes.NewReader(frame)); err != nil {
			return err
		}
		log.Printf("staged %s (%d bytes)", fn, len(frame))
	}

	b, err = apiRequest("POST", base+"/job/"+created.Job+"/ingest", nil)
	if err != nil {
		return err
	}
	var ingested struct {
		Job string `json:"job"`
	}
	if err := json.Unmarshal(b, &ingested); err != nil {
		return fmt.Errorf("parsing ingest response: %v", err)
	}
	log.Printf("job %s ingested", ingested.Job)
	return nil
}

func main() {
	flag.Parse()

	if flag.NArg() < 1 {
		log.Fatal("Syntax: oled-push [flags] <image file>...")
	}

	if err := push(); err != nil {
		log.Fatal(err)
	}
}
