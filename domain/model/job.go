package model

import "time"

type BackoffType string

const (
	BackoffFixed       BackoffType = "fixed"
	BackoffExponential BackoffType = "exponential"
)

type Backoff struct {
	Type  BackoffType   `json:"type"`
	Delay time.Duration `json:"delay"`
}

// Next returns the delay before the given (1-based) retry.
func (b Backoff) Next(attempt int) time.Duration {
	if b.Delay <= 0 {
		return 0
	}
	if b.Type != BackoffExponential || attempt <= 1 {
		return b.Delay
	}
	d := b.Delay
	for i := 1; i < attempt; i++ {
		d *= 2
		if d > time.Hour {
			return time.Hour
		}
	}
	return d
}

// JobOptions is the per-job policy. Zero fields fall back to queue defaults.
type JobOptions struct {
	Attempts         int           `json:"attempts"`
	Backoff          Backoff       `json:"backoff"`
	Timeout          time.Duration `json:"timeout"`
	Delay            time.Duration `json:"delay"`
	RemoveOnComplete *bool         `json:"remove_on_complete,omitempty"`
	RemoveOnFail     *bool         `json:"remove_on_fail,omitempty"`
}

type JobState string

const (
	JobWaiting   JobState = "waiting"
	JobDelayed   JobState = "delayed"
	JobActive    JobState = "active"
	JobCompleted JobState = "completed"
	JobFailed    JobState = "failed"
)

// Job is one dispatch of a publish task. ID equals the task id so duplicate enqueues collapse.
type Job struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Data         []byte     `json:"data"`
	Options      JobOptions `json:"options"`
	State        JobState   `json:"state"`
	AttemptsMade int        `json:"attempts_made"`
	LastError    string     `json:"last_error,omitempty"`
	// Reclaimed is set when the job came back after a worker lost it (visibility deadline passed).
	Reclaimed bool      `json:"reclaimed"`
	CreatedAt time.Time `json:"created_at"`
}

// LastAttempt reports whether the current attempt is the final one allowed.
func (j *Job) LastAttempt() bool {
	return j.AttemptsMade+1 >= j.Options.Attempts
}
