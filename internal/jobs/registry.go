package jobs

import (
	"sync"
	"time"

	"storybook/internal/domain"
)

// DefaultRetention is how long a terminal job record stays queryable after
// its end time before a status read evicts it.
const DefaultRetention = time.Hour

// Update carries the partial fields merged into a job record. Nil fields are
// left untouched.
type Update struct {
	Progress       *int
	CurrentPhase   *string
	TotalSteps     *int
	CompletedSteps *int
}

// Int returns a pointer to v for use in an Update.
func Int(v int) *int { return &v }

// String returns a pointer to v for use in an Update.
func String(v string) *string { return &v }

// Registry tracks in-flight and recently finished jobs in process memory.
// Records are owned exclusively by the registry; callers only ever see
// copies. Persistence across restarts is deliberately out of scope.
type Registry struct {
	mu        sync.Mutex
	jobs      map[string]*domain.Job
	retention time.Duration
	now       func() time.Time
}

// NewRegistry constructs an empty registry with the default retention window.
func NewRegistry() *Registry {
	return &Registry{
		jobs:      make(map[string]*domain.Job),
		retention: DefaultRetention,
		now:       time.Now,
	}
}

// Create inserts a fresh record for id with zeroed progress fields. Creating
// an id that already exists is a no-op; callers are expected not to
// double-create.
func (r *Registry) Create(id, title string) *domain.Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.jobs[id]; ok {
		return snapshot(existing)
	}
	job := &domain.Job{
		ID:        id,
		Title:     title,
		Status:    domain.JobStatusStarted,
		StartTime: r.now(),
	}
	r.jobs[id] = job
	return snapshot(job)
}

// Update merges the given fields into the record for id. Absent ids are
// ignored.
func (r *Registry) Update(id string, u Update) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return
	}
	if u.Progress != nil {
		job.Progress = *u.Progress
	}
	if u.CurrentPhase != nil {
		job.CurrentPhase = *u.CurrentPhase
	}
	if u.TotalSteps != nil {
		job.TotalSteps = *u.TotalSteps
	}
	if u.CompletedSteps != nil {
		job.CompletedSteps = *u.CompletedSteps
	}
}

// Complete marks the job as finished with the given result and stamps the
// end time.
func (r *Registry) Complete(id string, result *domain.JobResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return
	}
	end := r.now()
	job.Status = domain.JobStatusCompleted
	job.Progress = 100
	job.EndTime = &end
	job.Result = result
}

// Fail marks the job as failed with the given error message and stamps the
// end time.
func (r *Registry) Fail(id, msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return
	}
	end := r.now()
	job.Status = domain.JobStatusFailed
	job.EndTime = &end
	job.Error = msg
}

// Get returns a copy of the record for id, or domain.ErrNotFound when the id
// is unknown or its terminal record has outlived the retention window. In
// the latter case the record is evicted as a side effect of this read; there
// is no background sweep, so a job nobody polls after completion stays
// resident.
func (r *Registry) Get(id string) (*domain.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if job.Terminal() && job.EndTime != nil && r.now().After(job.EndTime.Add(r.retention)) {
		delete(r.jobs, id)
		return nil, domain.ErrNotFound
	}
	return snapshot(job), nil
}

func snapshot(job *domain.Job) *domain.Job {
	out := *job
	if job.EndTime != nil {
		end := *job.EndTime
		out.EndTime = &end
	}
	if job.Result != nil {
		result := *job.Result
		out.Result = &result
	}
	return &out
}
