package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/opsdesk/pamphletd/internal/gigachat"
	"github.com/opsdesk/pamphletd/internal/store"
	"github.com/opsdesk/pamphletd/internal/synth"
)

var (
	ErrQueueFull     = errors.New("job queue is full")
	ErrNotExtracted  = errors.New("document has no extracted pages yet")
	ErrNoInstruction = errors.New("page has no instruction yet")
)

// Options carries the tunables the workers need.
type Options struct {
	Workers         int
	QueueSize       int
	JobTTL          time.Duration
	FAQContextChars int
	FAQOutputTokens int
}

type task struct {
	jobID  string
	kind   JobKind
	docIDs []string
	ctx    context.Context
}

// Orchestrator owns the queue, the workers and the job store. Documents
// inside one job run sequentially; concurrency comes from running
// independent jobs on separate workers.
type Orchestrator struct {
	store *store.Store
	llm   synth.LLM
	usage *gigachat.UsageLedger
	jobs  *JobStore
	opts  Options
	queue chan task
	log   *slog.Logger
	wg    sync.WaitGroup
}

func NewOrchestrator(st *store.Store, llm synth.LLM, usage *gigachat.UsageLedger, opts Options, log *slog.Logger) *Orchestrator {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.QueueSize < 1 {
		opts.QueueSize = 16
	}
	if opts.JobTTL <= 0 {
		opts.JobTTL = 24 * time.Hour
	}
	if usage == nil {
		usage = gigachat.NewUsageLedger()
	}
	return &Orchestrator{
		store: st,
		llm:   llm,
		usage: usage,
		jobs:  NewJobStore(opts.JobTTL),
		opts:  opts,
		queue: make(chan task, opts.QueueSize),
		log:   log,
	}
}

// Start launches the workers and the job sweeper. It returns immediately;
// workers drain until ctx is cancelled.
func (o *Orchestrator) Start(ctx context.Context) {
	o.jobs.StartSweeper(ctx)
	for i := 0; i < o.opts.Workers; i++ {
		o.wg.Add(1)
		go func(n int) {
			defer o.wg.Done()
			o.runWorker(ctx, n)
		}(i)
	}
}

// Wait blocks until all workers have exited.
func (o *Orchestrator) Wait() { o.wg.Wait() }

func (o *Orchestrator) runWorker(ctx context.Context, n int) {
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-o.queue:
			o.log.Info("job started", "worker", n, "job_id", t.jobID, "kind", t.kind, "docs", len(t.docIDs))
			err := o.runJob(t)
			o.jobs.finish(t.jobID, err)
			if err != nil {
				o.log.Error("job failed", "worker", n, "job_id", t.jobID, "error", err)
			} else {
				o.log.Info("job finished", "worker", n, "job_id", t.jobID)
			}
		}
	}
}

// Submit validates the batch, freezes per-document page counts and
// enqueues the job. Every document must already have its pages extracted
// so progress totals are known up front.
func (o *Orchestrator) Submit(ctx context.Context, kind JobKind, docIDs []string) (Job, error) {
	if len(docIDs) == 0 {
		return Job{}, fmt.Errorf("no documents in batch")
	}
	docPages := make(map[string]int, len(docIDs))
	total := 0
	for _, id := range docIDs {
		meta, err := o.store.ReadMeta(id)
		if err != nil {
			return Job{}, fmt.Errorf("document %s: %w", id, err)
		}
		if meta.Pages == 0 {
			return Job{}, fmt.Errorf("document %s: %w", id, ErrNotExtracted)
		}
		docPages[id] = meta.Pages
		total += meta.Pages
	}

	jobCtx, cancel := context.WithCancel(ctx)
	job := o.jobs.Create(kind, docIDs, docPages, total, cancel)

	select {
	case o.queue <- task{jobID: job.ID, kind: kind, docIDs: docIDs, ctx: jobCtx}:
		return job, nil
	default:
		o.jobs.finish(job.ID, ErrQueueFull)
		cancel()
		return Job{}, ErrQueueFull
	}
}

func (o *Orchestrator) Job(id string) (Job, bool) { return o.jobs.Get(id) }

func (o *Orchestrator) Jobs() []Job { return o.jobs.List() }

func (o *Orchestrator) Cancel(id string) bool { return o.jobs.Cancel(id) }
