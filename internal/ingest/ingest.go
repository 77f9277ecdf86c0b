// Package ingest decouples frame producers (HTTP uploads, scanners) from the
// daemon's persistent job queue: producers stage frames into a Job and hand
// the whole job over in one Ingest call.
package ingest

type Frame []byte

type Ingester struct {
	IngestCallback func(*Job) (string, error)
}

type Job struct {
	ingester *Ingester
	Frames   []Frame
}

func (i *Ingester) NewJob() (*Job, error) {
	return &Job{ingester: i}, nil
}

func (j *Job) AddFrame(frame Frame) error {
	// NOTE: For large jobs, we’d need to spill frames to disk to not exhaust
	// memory. For now, we just assume small-enough jobs, and/or enough RAM.
	j.Frames = append(j.Frames, frame)
	return nil
}

// Ingest hands the job to the ingester's callback and returns the id under
// which the job was persisted.
func (j *Job) Ingest() (string, error) {
	return j.ingester.IngestCallback(j)
}
