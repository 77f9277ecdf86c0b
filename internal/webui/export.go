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
	"archive/tar"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"sort"

	"github.com/klauspost/compress/zstd"
	chart "github.com/wcharczuk/go-chart/v2"
)

// chartHandler renders a bar chart of the compression ratio (encoded FCI
// bytes over packed 1-bpp bytes) of the most recent jobs.
func (ui *UI) chartHandler(w http.ResponseWriter, r *http.Request) error {
	jobs, err := ui.queue.Jobs()
	if err != nil {
		return err
	}
	var keys []string
	for key := range jobs {
		keys = append(keys, key)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(keys)))
	const maxBars = 12
	if len(keys) > maxBars {
		keys = keys[:maxBars]
	}

	var bars []chart.Value
	for _, key := range keys {
		b, err := jobs[key].ReadDerivedFile("frame1.fci")
		if err != nil || len(b) < 5 {
			continue
		}
		width, height := int(b[3]), int(b[4])
		if width == 0 || height == 0 {
			continue
		}
		packed := (width*height + 7) / 8
		bars = append(bars, chart.Value{
			// keys are RFC3339 timestamps; the time of day is enough of a
			// label for a dozen recent jobs.
			Label: key[11:19],
			Value: float64(len(b)) / float64(packed) * 100,
		})
	}
	if len(bars) == 0 {
		http.Error(w, "no encoded jobs yet", http.StatusNotFound)
		return nil
	}

	graph := chart.BarChart{
		Title:  "encoded size in % of packed 1-bpp size",
		Height: 300,
		YAxis: chart.YAxis{
			Range: &chart.ContinuousRange{Min: 0, Max: 120},
		},
		Bars: bars,
	}
	w.Header().Set("Content-Type", "image/png")
	return graph.Render(chart.PNG, w)
}

// archiveHandler streams all stored jobs as a zstd-compressed tarball.
func (ui *UI) archiveHandler(w http.ResponseWriter, r *http.Request) error {
	w.Header().Set("Content-Type", "application/zstd")
	w.Header().Set("Content-Disposition", `attachment; filename="img2oled-frames.tar.zst"`)

	zw, err := zstd.NewWriter(w)
	if err != nil {
		return err
	}
	tw := tar.NewWriter(zw)

	err = filepath.WalkDir(ui.framesDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(ui.framesDir, path)
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = rel
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		if _, err := io.Copy(tw, f); err != nil {
			return fmt.Errorf("archiving %s: %v", rel, err)
		}
		return nil
	})
	if err != nil {
		zw.Close()
		return err
	}
	if err := tw.Close(); err != nil {
		zw.Close()
		return err
	}
	return zw.Close()
}
