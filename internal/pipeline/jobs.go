// Package pipeline runs document batches in the background: a bounded
// queue feeds worker goroutines, and a job store tracks progress so
// clients can poll instead of holding a request open.
package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type JobKind string

const (
	JobProcess JobKind = "process"
	JobFAQ     JobKind = "faq"
)

type JobStatus string

const (
	StatusRunning   JobStatus = "running"
	StatusDone      JobStatus = "done"
	StatusError     JobStatus = "error"
	StatusCancelled JobStatus = "cancelled"
)

// Job is the polled view of a batch. Done counts completed page
// operations across all documents in the batch; DocPages holds the page
// count frozen per document at submit time.
type Job struct {
	ID        string         `json:"id"`
	Kind      JobKind        `json:"kind"`
	Status    JobStatus      `json:"status"`
	DocIDs    []string       `json:"doc_ids"`
	DocPages  map[string]int `json:"doc_pages"`
	Done      int            `json:"done"`
	Total     int            `json:"total"`
	Error     string         `json:"error,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

func (j Job) terminal() bool {
	return j.Status == StatusDone || j.Status == StatusError || j.Status == StatusCancelled
}

type jobEntry struct {
	job    Job
	cancel context.CancelFunc
}

// JobStore keeps jobs in memory. Terminal jobs stay visible for the TTL
// so a client that polls late still sees the outcome.
type JobStore struct {
	mu   sync.Mutex
	jobs map[string]*jobEntry
	ttl  time.Duration
}

func NewJobStore(ttl time.Duration) *JobStore {
	return &JobStore{jobs: make(map[string]*jobEntry), ttl: ttl}
}

func (s *JobStore) Create(kind JobKind, docIDs []string, docPages map[string]int, total int, cancel context.CancelFunc) Job {
	now := time.Now().UTC()
	job := Job{
		ID:        uuid.NewString(),
		Kind:      kind,
		Status:    StatusRunning,
		DocIDs:    docIDs,
		DocPages:  docPages,
		Total:     total,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.mu.Lock()
	s.jobs[job.ID] = &jobEntry{job: job, cancel: cancel}
	s.mu.Unlock()
	return job
}

func (s *JobStore) Get(id string) (Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.jobs[id]
	if !ok {
		return Job{}, false
	}
	return e.job, true
}

func (s *JobStore) List() []Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Job, 0, len(s.jobs))
	for _, e := range s.jobs {
		out = append(out, e.job)
	}
	return out
}

// Cancel stops a running job. Terminal jobs are left untouched and the
// call reports whether a cancellation was actually issued.
func (s *JobStore) Cancel(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.jobs[id]
	if !ok || e.job.terminal() {
		return false
	}
	e.job.Status = StatusCancelled
	e.job.UpdatedAt = time.Now().UTC()
	if e.cancel != nil {
		e.cancel()
	}
	return true
}

func (s *JobStore) update(id string, fn func(*Job)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.jobs[id]
	if !ok {
		return
	}
	fn(&e.job)
	e.job.UpdatedAt = time.Now().UTC()
}

func (s *JobStore) advance(id string) {
	s.update(id, func(j *Job) { j.Done++ })
}

func (s *JobStore) finish(id string, err error) {
	s.update(id, func(j *Job) {
		if j.Status == StatusCancelled {
			return
		}
		if err != nil {
			j.Status = StatusError
			j.Error = err.Error()
			return
		}
		j.Status = StatusDone
	})
}

// StartSweeper purges terminal jobs older than the TTL until ctx ends.
func (s *JobStore) StartSweeper(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.sweep(time.Now())
			}
		}
	}()
}

func (s *JobStore) sweep(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, e := range s.jobs {
		if e.job.terminal() && now.Sub(e.job.UpdatedAt) > s.ttl {
			delete(s.jobs, id)
		}
	}
}
