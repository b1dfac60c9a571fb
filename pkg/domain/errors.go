package domain

import "errors"

// ErrThreadNotFound is returned when a thread ID has no checkpoint in the saver.
var ErrThreadNotFound = errors.New("thread not found")

// ErrThreadCompleted is returned when resuming a thread that already reached the end.
var ErrThreadCompleted = errors.New("thread already completed")

// ErrResumeConflict is returned when a resume is replayed with a different value than the one recorded.
var ErrResumeConflict = errors.New("resume value conflicts with recorded resume")

// ErrStepLimit is returned when a single call executes more nodes than allowed.
var ErrStepLimit = errors.New("step limit exceeded")

// ErrNoModel is returned when a flow needs a language model and none is configured.
var ErrNoModel = errors.New("no language model configured")

// ErrEmptyResponse is returned by language model clients when the model produced no text.
var ErrEmptyResponse = errors.New("empty model response")

// ErrEntityNotFound is returned when a name does not match any entity of the knowledge memory.
var ErrEntityNotFound = errors.New("entity not found")
