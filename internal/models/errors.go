package models

import "errors"

var (
	// ErrNotFound is returned by stores when a job, summary or log stream does not exist.
	ErrNotFound = errors.New("not found")

	// ErrJobFinished is returned when a status write targets a job that already
	// reached completed or failed.
	ErrJobFinished = errors.New("job already finished")
)
