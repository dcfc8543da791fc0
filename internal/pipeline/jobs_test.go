package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestJobStoreLifecycle(t *testing.T) {
	s := NewJobStore(time.Hour)
	job := s.Create(JobProcess, []string{"d1"}, map[string]int{"d1": 3}, 3, nil)
	if job.Status != StatusRunning {
		t.Fatalf("status = %s", job.Status)
	}

	s.advance(job.ID)
	s.advance(job.ID)
	got, ok := s.Get(job.ID)
	if !ok || got.Done != 2 {
		t.Fatalf("done = %d, ok %v", got.Done, ok)
	}

	s.finish(job.ID, nil)
	got, _ = s.Get(job.ID)
	if got.Status != StatusDone {
		t.Errorf("status = %s, want done", got.Status)
	}
}

func TestJobStoreFinishWithError(t *testing.T) {
	s := NewJobStore(time.Hour)
	job := s.Create(JobFAQ, []string{"d1"}, nil, 1, nil)
	s.finish(job.ID, errors.New("boom"))
	got, _ := s.Get(job.ID)
	if got.Status != StatusError || got.Error != "boom" {
		t.Errorf("got %+v", got)
	}
}

func TestJobStoreCancel(t *testing.T) {
	s := NewJobStore(time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	job := s.Create(JobProcess, []string{"d1"}, nil, 1, cancel)

	if !s.Cancel(job.ID) {
		t.Fatal("Cancel returned false for running job")
	}
	if ctx.Err() == nil {
		t.Error("job context not cancelled")
	}
	got, _ := s.Get(job.ID)
	if got.Status != StatusCancelled {
		t.Errorf("status = %s", got.Status)
	}

	// finish after cancel must not overwrite the status
	s.finish(job.ID, nil)
	got, _ = s.Get(job.ID)
	if got.Status != StatusCancelled {
		t.Errorf("status after finish = %s, want cancelled", got.Status)
	}

	if s.Cancel(job.ID) {
		t.Error("Cancel returned true for terminal job")
	}
}

func TestJobStoreSweep(t *testing.T) {
	s := NewJobStore(time.Minute)
	done := s.Create(JobProcess, []string{"d1"}, nil, 1, nil)
	s.finish(done.ID, nil)
	running := s.Create(JobProcess, []string{"d2"}, nil, 1, nil)

	s.sweep(time.Now().Add(2 * time.Minute))

	if _, ok := s.Get(done.ID); ok {
		t.Error("terminal job survived the sweep")
	}
	if _, ok := s.Get(running.ID); !ok {
		t.Error("running job was swept")
	}
}
