package scrape

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/kalambet/scrapejobs/internal/export"
	"github.com/kalambet/scrapejobs/internal/storage"
)

// Messages recorded on failed jobs.
const (
	ErrMsgNoResults = "No tweets collected"
	ErrMsgCancelled = "scrape cancelled"
)

// Options tunes a Runner.
type Options struct {
	OutputDir     string
	PageDelay     time.Duration
	MaxEmptyPages int
	MaxConcurrent int
}

// Runner executes jobs in the background, one goroutine per job, with at
// most MaxConcurrent scraping at once. It is the only writer for the jobs it
// starts and makes exactly one terminal transition per job.
type Runner struct {
	store  storage.Store
	source Source
	opts   Options
	sem    *semaphore.Weighted
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *slog.Logger
}

// NewRunner creates a Runner. Cancelling ctx stops every job it started.
func NewRunner(ctx context.Context, store storage.Store, source Source, opts Options) *Runner {
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 1
	}
	if opts.MaxEmptyPages <= 0 {
		opts.MaxEmptyPages = 3
	}
	if opts.OutputDir == "" {
		opts.OutputDir = "scraped_data"
	}
	ctx, cancel := context.WithCancel(ctx)
	return &Runner{
		store:  store,
		source: source,
		opts:   opts,
		sem:    semaphore.NewWeighted(int64(opts.MaxConcurrent)),
		ctx:    ctx,
		cancel: cancel,
		logger: slog.Default(),
	}
}

// Start schedules job and returns immediately. The job stays pending until
// a slot is free.
func (r *Runner) Start(job storage.Job) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.sem.Acquire(r.ctx, 1); err != nil {
			r.fail(job.ID, ErrMsgCancelled)
			return
		}
		defer r.sem.Release(1)
		r.run(job)
	}()
}

// Stop cancels all jobs and waits for them to record their terminal state.
func (r *Runner) Stop() {
	r.cancel()
	r.wg.Wait()
}

// Wait blocks until every started job has finished.
func (r *Runner) Wait() {
	r.wg.Wait()
}

func (r *Runner) run(job storage.Job) {
	log := r.logger.With("job_id", job.ID)

	if err := r.store.MarkRunning(r.ctx, job.ID); err != nil {
		if errors.Is(err, storage.ErrInvalidTransition) {
			log.Warn("job no longer pending, skipping", "error", err)
			return
		}
		r.failWith(job.ID, err)
		return
	}
	log.Info("scrape started", "target", job.Target)

	out, err := export.Create(r.opts.OutputDir, job.ID)
	if err != nil {
		r.failWith(job.ID, err)
		return
	}

	n, err := r.collect(r.ctx, job, out)
	if err != nil {
		out.Close()
		r.failWith(job.ID, err)
		return
	}
	if n == 0 {
		if err := out.Remove(); err != nil {
			log.Warn("removing empty export", "error", err)
		}
		r.fail(job.ID, ErrMsgNoResults)
		return
	}
	if err := out.Close(); err != nil {
		r.failWith(job.ID, err)
		return
	}

	if err := r.store.Complete(context.WithoutCancel(r.ctx), job.ID, out.Name()); err != nil {
		log.Error("completing job", "error", err)
		return
	}
	log.Info("scrape completed", "count", n, "filename", out.Name())
}

// collect pages through the source until the target is reached, the listing
// runs out or too many pages in a row bring nothing new. It returns the
// number of records stored.
func (r *Runner) collect(ctx context.Context, job storage.Job, out *export.CSVFile) (int, error) {
	q := QueryFromParams(job.Params)
	target := job.Target
	seen := make(map[string]struct{})
	cursor := ""
	empty := 0

	for page := 0; ; page++ {
		if page > 0 {
			if err := sleep(ctx, r.opts.PageDelay); err != nil {
				return len(seen), err
			}
		}

		p, err := r.source.Fetch(ctx, q, cursor)
		if err != nil {
			return len(seen), err
		}

		fresh := make([]storage.Result, 0, len(p.Records))
		for _, rec := range p.Records {
			if rec.ID == "" {
				continue
			}
			if _, dup := seen[rec.ID]; dup {
				continue
			}
			if target > 0 && len(seen) >= target {
				break
			}
			seen[rec.ID] = struct{}{}
			fresh = append(fresh, rec)
		}

		if len(fresh) == 0 {
			empty++
		} else {
			empty = 0
			if err := r.store.AppendResults(ctx, job.ID, fresh); err != nil {
				return len(seen), err
			}
			if err := out.Write(fresh); err != nil {
				return len(seen), err
			}
		}
		if err := r.store.SetProgress(ctx, job.ID, len(seen), target); err != nil {
			return len(seen), err
		}
		r.logger.Debug("page scraped", "job_id", job.ID, "page", page, "new", len(fresh), "total", len(seen))

		switch {
		case target > 0 && len(seen) >= target:
			return len(seen), nil
		case p.Next == "" || p.Next == cursor:
			return len(seen), nil
		case empty >= r.opts.MaxEmptyPages:
			return len(seen), nil
		}
		cursor = p.Next
	}
}

func (r *Runner) failWith(id string, err error) {
	msg := err.Error()
	if r.ctx.Err() != nil {
		msg = ErrMsgCancelled
	}
	r.fail(id, msg)
}

func (r *Runner) fail(id, msg string) {
	if err := r.store.Fail(context.WithoutCancel(r.ctx), id, msg); err != nil {
		r.logger.Error("marking job failed", "job_id", id, "error", err)
		return
	}
	r.logger.Warn("scrape failed", "job_id", id, "error", msg)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
