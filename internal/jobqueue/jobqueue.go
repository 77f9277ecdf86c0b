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

// Package jobqueue implements a reliable conversion job queue that is
// persisted to the file system: one directory per job, original frames as
// frame%d.img, derived files (encoded frames, previews, thumbnails) written
// atomically, and COMPLETE.<step> marker files from which the job state is
// re-derived after a restart.
package jobqueue

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/stapelberg/img2oled/internal/atomic/write"
	"github.com/stapelberg/img2oled/internal/frame"
)

type Queue struct {
	Dir string
}

type State int

func (s State) String() string {
	switch s {
	case Canceled:
		return "Canceled"
	case InProgress:
		return "InProgress"
	case Done:
		return "Done"
	default:
		return "<unknown>"
	}
}

const (
	Canceled State = iota
	InProgress
	Done
)

type CompletionMarkers struct {
	Converted bool
	Published bool
}

type Job struct {
	id       string
	dir      string
	state    State
	curframe int
	frames   []*frame.Frame
	Markers  CompletionMarkers
}

func (q *Queue) AddJob(frames []*frame.Frame) (*Job, error) {
	id := time.Now().Format(time.RFC3339)
	dir := filepath.Join(q.Dir, id)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	job := &Job{id: id, dir: dir}
	for _, f := range frames {
		if err := job.addFrame(f); err != nil {
			return nil, err
		}
	}
	if err := job.commit(); err != nil {
		return nil, err
	}

	return job, nil
}

func (q *Queue) Jobs() (map[string]*Job, error) {
	entries, err := os.ReadDir(q.Dir)
	if err != nil {
		return nil, err
	}
	jobs := make(map[string]*Job)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		job, err := q.JobById(entry.Name())
		if err != nil {
			return nil, err
		}
		jobs[job.Id()] = job
	}
	return jobs, nil
}

func (q *Queue) JobById(id string) (*Job, error) {
	dir := filepath.Join(q.Dir, id)
	job := &Job{
		id:  id,
		dir: dir,
	}
	if err := job.readStateFromDir(); err != nil {
		return nil, err
	}

	// load frames back into memory unless the job was canceled
	if job.state != Canceled {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return nil, err
		}
		for _, entry := range entries {
			if filepath.Ext(entry.Name()) != ".img" {
				continue
			}
			info, err := entry.Info()
			if err != nil {
				return nil, err
			}
			if info.Size() == 0 {
				continue
			}
			b, err := os.ReadFile(filepath.Join(dir, entry.Name()))
			if err != nil {
				return nil, err
			}
			job.frames = append(job.frames, frame.FromBytes(b))
		}
	}
	return job, nil
}

func (j *Job) readStateFromDir() error {
	entries, err := os.ReadDir(j.dir)
	if err != nil {
		return err
	}
	j.state = Canceled // zero value
	j.Markers = CompletionMarkers{}
	for _, entry := range entries {
		switch entry.Name() {
		case "COMPLETE.ingest":
			j.state = InProgress
		case "COMPLETE.convert":
			j.Markers.Converted = true
		case "COMPLETE.publish":
			j.Markers.Published = true
		}
	}
	if j.Markers.Published {
		j.state = Done
	}
	return nil
}

func (j *Job) Id() string {
	return j.id
}

func (j *Job) State() State {
	return j.state
}

func (j *Job) Frames() []*frame.Frame {
	return j.frames
}

func (j *Job) addFrame(f *frame.Frame) error {
	j.curframe++
	fn := filepath.Join(j.dir, fmt.Sprintf("frame%d.img", j.curframe))
	if err := os.WriteFile(fn, f.Bytes(), 0600); err != nil {
		return err
	}
	j.frames = append(j.frames, f)
	return nil
}

func (j *Job) Filenames() ([]string, error) {
	entries, err := os.ReadDir(j.dir)
	if err != nil {
		return nil, err
	}
	filenames := make([]string, 0, len(entries))
	for _, entry := range entries {
		filenames = append(filenames, filepath.Join(j.dir, entry.Name()))
	}
	return filenames, nil
}

// AddDerivedFile atomically creates or replaces a file derived from the
// job's original frames, e.g. frame%d.fci or preview%d.png. A conversion
// interrupted by a crash is re-run from the originals, so readers never see
// a partially written derived file.
func (j *Job) AddDerivedFile(name string, contents []byte) error {
	return write.WriteFile(filepath.Join(j.dir, name), contents, 0600)
}

// ReadDerivedFile reads a file previously stored with AddDerivedFile.
func (j *Job) ReadDerivedFile(name string) ([]byte, error) {
	return os.ReadFile(filepath.Join(j.dir, name))
}

func (j *Job) CommitMarker(name string) error {
	if err := os.WriteFile(filepath.Join(j.dir, "COMPLETE."+name), nil, 0600); err != nil {
		return err
	}
	return j.readStateFromDir()
}

func (j *Job) commit() error {
	if err := j.CommitMarker("ingest"); err != nil {
		return err
	}

	j.state = InProgress
	return nil
}
