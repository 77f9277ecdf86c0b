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

package jobqueue_test

import (
	"bytes"
	"testing"

	"github.com/stapelberg/img2oled/internal/frame"
	"github.com/stapelberg/img2oled/internal/jobqueue"
)

func TestJobQueue(t *testing.T) {
	dir := t.TempDir()
	jobId := func() string {
		defaultQueue := &jobqueue.Queue{
			Dir: dir,
		}

		b := []byte("hello world")
		job, err := defaultQueue.AddJob([]*frame.Frame{frame.FromBytes(b)})
		if err != nil {
			t.Fatal(err)
		}
		return job.Id()
	}()
	freshQueue := &jobqueue.Queue{
		Dir: dir,
	}
	job, err := freshQueue.JobById(jobId)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := job.State(), jobqueue.InProgress; got != want {
		t.Fatalf("unexpected job state: got %v, want %v", got, want)
	}
	if got, want := len(job.Frames()), 1; got != want {
		t.Fatalf("unexpected number of frames: got %v, want %v", got, want)
	}
	if got, want := job.Frames()[0].Bytes(), []byte("hello world"); !bytes.Equal(got, want) {
		t.Fatalf("unexpected frame contents: got %q, want %q", got, want)
	}
}

func TestMarkers(t *testing.T) {
	dir := t.TempDir()
	queue := &jobqueue.Queue{Dir: dir}
	job, err := queue.AddJob([]*frame.Frame{frame.FromBytes([]byte("x"))})
	if err != nil {
		t.Fatal(err)
	}
	if err := job.CommitMarker("convert"); err != nil {
		t.Fatal(err)
	}
	if got, want := job.Markers.Converted, true; got != want {
		t.Fatalf("Markers.Converted: got %v, want %v", got, want)
	}
	if got, want := job.State(), jobqueue.InProgress; got != want {
		t.Fatalf("unexpected job state: got %v, want %v", got, want)
	}
	if err := job.CommitMarker("publish"); err != nil {
		t.Fatal(err)
	}

	// A fresh queue must re-derive the state from the marker files.
	reloaded, err := (&jobqueue.Queue{Dir: dir}).JobById(job.Id())
	if err != nil {
		t.Fatal(err)
	}
	if got, want := reloaded.State(), jobqueue.Done; got != want {
		t.Fatalf("unexpected job state after reload: got %v, want %v", got, want)
	}
}

func TestDerivedFiles(t *testing.T) {
	dir := t.TempDir()
	queue := &jobqueue.Queue{Dir: dir}
	job, err := queue.AddJob([]*frame.Frame{frame.FromBytes([]byte("x"))})
	if err != nil {
		t.Fatal(err)
	}
	contents := []byte{0xc3, 0x81}
	if err := job.AddDerivedFile("frame1.fci", contents); err != nil {
		t.Fatal(err)
	}
	got, err := job.ReadDerivedFile("frame1.fci")
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, contents) {
		t.Fatalf("unexpected derived file contents: got %x, want %x", got, contents)
	}
}
