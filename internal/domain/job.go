package domain

import "time"

// JobStatus enumerates job lifecycle states. A job starts in
// JobStatusStarted and transitions exactly once into a terminal state.
type JobStatus string

const (
	JobStatusStarted   JobStatus = "started"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// JobResult references the artifact produced by a completed job. Either URL
// points at the artifact hosted by the configured store, or Data carries the
// whole document inline as a data URL for client-side download.
type JobResult struct {
	URL      string `json:"url,omitempty"`
	Data     string `json:"data,omitempty"`
	Filename string `json:"filename"`
	Pages    int    `json:"pages"`
}

// Job tracks one asynchronous book-generation request from submission to a
// terminal state. It is mutated in place by the pipeline through the registry
// and read concurrently by status polls.
type Job struct {
	ID             string     `json:"id"`
	Title          string     `json:"title"`
	Status         JobStatus  `json:"status"`
	Progress       int        `json:"progress"`
	CurrentPhase   string     `json:"currentPhase"`
	TotalSteps     int        `json:"totalSteps"`
	CompletedSteps int        `json:"completedSteps"`
	StartTime      time.Time  `json:"startTime"`
	EndTime        *time.Time `json:"endTime,omitempty"`
	Error          string     `json:"error,omitempty"`
	Result         *JobResult `json:"result,omitempty"`
}

// Terminal reports whether the job has reached a final state.
func (j *Job) Terminal() bool {
	return j.Status == JobStatusCompleted || j.Status == JobStatusFailed
}
