package service

import (
	"errors"
	"fmt"

	"github.com/voxqueue/tts/internal/model"
)

var (
	ErrJobNotFound       = errors.New("job not found")
	ErrJobNotCompleted   = errors.New("job not completed")
	ErrQueueFull         = errors.New("queue is full")
	ErrSynthesisTimeout  = errors.New("synthesis timed out")
	ErrSynthesisFailed   = errors.New("synthesis failed")
	ErrBrokerUnavailable = errors.New("broker unavailable")
	ErrSyncCapacity      = errors.New("too many synchronous requests in flight")
	ErrSampleNotFound    = errors.New("voice sample not found")
)

// ValidationError is a client error raised before anything is enqueued
type ValidationError struct {
	Code    string
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// JobError reports a submitted job that ended without audio, either by timing
// out or with a worker error record
type JobError struct {
	JobID   string
	Code    string
	Message string
	Err     error
}

func (e *JobError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("job %s: %v", e.JobID, e.Err)
	}
	return fmt.Sprintf("job %s: %v: [%s] %s", e.JobID, e.Err, e.Code, e.Message)
}

func (e *JobError) Unwrap() error { return e.Err }

// NotCompletedError is returned when audio is requested for an unfinished or failed job
type NotCompletedError struct {
	Status model.JobStatus
}

func (e *NotCompletedError) Error() string {
	return fmt.Sprintf("job not completed (status %s)", e.Status)
}

func (e *NotCompletedError) Is(target error) bool { return target == ErrJobNotCompleted }

// QueueFullError is returned when a tier queue is at its configured bound
type QueueFullError struct {
	Tier model.Tier
}

func (e *QueueFullError) Error() string {
	return fmt.Sprintf("%s queue is full", e.Tier)
}

func (e *QueueFullError) Is(target error) bool { return target == ErrQueueFull }
