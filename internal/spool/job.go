package spool

import (
	"errors"
	"fmt"
	"os"
)

// Stage is a point in the life of a print job.
type Stage string

// Job stages in pipeline order. A job ends in StageDelivered or StageFailed.
const (
	StageReceived       Stage = "received"
	StageConverted      Stage = "converted"
	StagePageNormalized Stage = "page_normalized"
	StageDelivered      Stage = "delivered"
	StageFailed         Stage = "failed"
)

// Sentinel errors wrapped by StageError.
var (
	ErrDeviceNotFound     = errors.New("device not found")
	ErrDeviceDisconnected = errors.New("device is disconnected")
	ErrConversion         = errors.New("conversion failed")
	ErrNormalize          = errors.New("page normalization failed")
	ErrTransport          = errors.New("transport failed")
)

// StageError reports the stage a job failed in.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Reason returns the machine-readable failure reason for err.
func Reason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrDeviceNotFound):
		return "device_not_found"
	case errors.Is(err, ErrDeviceDisconnected):
		return "device_disconnected"
	case errors.Is(err, ErrConversion):
		return "conversion_failed"
	case errors.Is(err, ErrNormalize):
		return "normalize_failed"
	case errors.Is(err, ErrTransport):
		return "transport_failed"
	default:
		return "internal_error"
	}
}

// Job is a single print request. It is owned by the pipeline run that
// processes it and never persisted.
type Job struct {
	ID        string
	DeviceID  string
	Path      string
	MediaType string
	// Temporary marks Path as an artifact produced by the pipeline.
	Temporary bool
	Stage     Stage
	Converted bool
	Pages     int
	BytesSent int64

	// artifacts lists every file the pipeline created for this job.
	artifacts []string
}

// NewJob returns a job in StageReceived.
func NewJob(id, deviceID, path, mediaType string) *Job {
	return &Job{
		ID:        id,
		DeviceID:  deviceID,
		Path:      path,
		MediaType: mediaType,
		Stage:     StageReceived,
	}
}

// adopt makes path the current artifact and schedules it for removal.
func (j *Job) adopt(path, mediaType string) {
	j.Path = path
	j.MediaType = mediaType
	j.Temporary = true
	j.artifacts = append(j.artifacts, path)
}

// track schedules path for removal without making it the current artifact.
func (j *Job) track(path string) {
	j.artifacts = append(j.artifacts, path)
}

// cleanup removes every artifact and work directory the pipeline created.
// Failures are returned per path so the caller can log them.
func (j *Job) cleanup() map[string]error {
	var failed map[string]error
	for _, p := range j.artifacts {
		if err := os.RemoveAll(p); err != nil {
			if failed == nil {
				failed = make(map[string]error)
			}
			failed[p] = err
		}
	}
	j.artifacts = nil
	return failed
}
