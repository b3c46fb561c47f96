// Package poller drives a scrape job from submission to a terminal state by
// polling the status and results endpoints on a fixed interval.
package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kalambet/scrapejobs/internal/api"
	"github.com/kalambet/scrapejobs/internal/storage"
)

// ErrBusy is returned when Run or Watch is called while a previous
// submission is still being polled.
var ErrBusy = errors.New("poll loop already active")

type State int

const (
	Idle State = iota
	Submitting
	Polling
	Succeeded
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Submitting:
		return "submitting"
	case Polling:
		return "polling"
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// JobFailedError is returned when the server reports the job as failed.
type JobFailedError struct {
	JobID   string
	Message string
}

func (e *JobFailedError) Error() string {
	return fmt.Sprintf("job %s failed: %s", e.JobID, e.Message)
}

// Client is the subset of the API the loop talks to.
type Client interface {
	Submit(ctx context.Context, req api.ScrapeRequest) (api.ScrapeResponse, error)
	Status(ctx context.Context, id string) (api.StatusResponse, error)
	Results(ctx context.Context, id string, since int) (api.ResultsResponse, error)
}

// Renderer receives every user-visible event of one submission.
type Renderer interface {
	Ack(jobID, message string)
	Progress(st api.StatusResponse)
	// Records is called with newly received records; start is the index of
	// the first one in the job's result sequence.
	Records(records []storage.Result, start int)
	Completed(filename string, count int)
	Failed(err error)
}

// Ticker is the timer driving the loop.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type timeTicker struct{ t *time.Ticker }

func (t timeTicker) C() <-chan time.Time { return t.t.C }
func (t timeTicker) Stop()               { t.t.Stop() }

func newTimeTicker(d time.Duration) Ticker {
	return timeTicker{t: time.NewTicker(d)}
}

// Summary describes a successfully completed job.
type Summary struct {
	JobID    string
	Filename string
	Count    int
}

type Loop struct {
	client    Client
	renderer  Renderer
	interval  time.Duration
	newTicker func(time.Duration) Ticker
	logger    *slog.Logger

	mu     sync.Mutex
	state  State
	jobID  string
	cursor int
}

// New creates a loop polling every interval.
func New(client Client, renderer Renderer, interval time.Duration) *Loop {
	return &Loop{
		client:    client,
		renderer:  renderer,
		interval:  interval,
		newTicker: newTimeTicker,
		logger:    slog.Default(),
	}
}

// State returns the current state of the loop.
func (l *Loop) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// JobID returns the id of the job being (or last) polled.
func (l *Loop) JobID() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.jobID
}

// Run validates req locally, submits it and polls the new job until it
// reaches a terminal state. An invalid request returns an
// *api.ValidationError and leaves the loop Idle without contacting the
// server.
func (l *Loop) Run(ctx context.Context, req api.ScrapeRequest) (Summary, error) {
	if err := l.begin(Idle); err != nil {
		return Summary{}, err
	}
	if err := req.Validate(); err != nil {
		return Summary{}, err
	}

	l.setState(Submitting)
	ack, err := l.client.Submit(ctx, req)
	if err != nil {
		err = fmt.Errorf("submitting scrape: %w", err)
		l.setState(Failed)
		l.renderer.Failed(err)
		return Summary{}, err
	}

	l.mu.Lock()
	l.jobID = ack.JobID
	l.state = Polling
	l.mu.Unlock()
	l.renderer.Ack(ack.JobID, ack.Message)

	return l.poll(ctx, ack.JobID)
}

// Watch polls an already submitted job until it reaches a terminal state.
func (l *Loop) Watch(ctx context.Context, jobID string) (Summary, error) {
	if err := l.begin(Polling); err != nil {
		return Summary{}, err
	}
	l.mu.Lock()
	l.jobID = jobID
	l.mu.Unlock()
	return l.poll(ctx, jobID)
}

// begin resets per-submission state. A loop in a terminal state is reusable.
func (l *Loop) begin(next State) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == Submitting || l.state == Polling {
		return ErrBusy
	}
	l.state = next
	l.jobID = ""
	l.cursor = 0
	return nil
}

func (l *Loop) setState(s State) {
	l.mu.Lock()
	l.state = s
	l.mu.Unlock()
}

func (l *Loop) poll(ctx context.Context, jobID string) (Summary, error) {
	ticker := l.newTicker(l.interval)
	var stopOnce sync.Once
	stop := func() { stopOnce.Do(ticker.Stop) }
	defer stop()

	fail := func(err error) (Summary, error) {
		stop()
		l.setState(Failed)
		l.renderer.Failed(err)
		return Summary{}, err
	}

	for {
		select {
		case <-ctx.Done():
			return fail(ctx.Err())
		case <-ticker.C():
		}

		sum, done, err := l.tick(ctx, jobID)
		if err != nil {
			if ctx.Err() != nil {
				return fail(ctx.Err())
			}
			return fail(err)
		}
		if done {
			stop()
			l.setState(Succeeded)
			l.renderer.Completed(sum.Filename, sum.Count)
			return sum, nil
		}
	}
}

// tick performs one status fetch followed by one results fetch.
func (l *Loop) tick(ctx context.Context, jobID string) (Summary, bool, error) {
	st, err := l.client.Status(ctx, jobID)
	if err != nil {
		return Summary{}, false, fmt.Errorf("fetching status: %w", err)
	}
	l.logger.Debug("poll", "job_id", jobID, "status", st.Status, "progress", st.Progress, "cursor", l.cursor)

	switch st.Status {
	case string(storage.StatusFailed):
		return Summary{}, false, &JobFailedError{JobID: jobID, Message: st.Error}
	case string(storage.StatusPending), string(storage.StatusRunning), string(storage.StatusCompleted):
	default:
		return Summary{}, false, fmt.Errorf("unexpected job status %q", st.Status)
	}

	l.renderer.Progress(st)
	if err := l.fetchResults(ctx, jobID); err != nil {
		return Summary{}, false, err
	}

	if st.Status != string(storage.StatusCompleted) {
		return Summary{}, false, nil
	}
	return Summary{JobID: jobID, Filename: st.Filename, Count: l.cursor}, true, nil
}

func (l *Loop) fetchResults(ctx context.Context, jobID string) error {
	resp, err := l.client.Results(ctx, jobID, l.cursor)
	if err != nil {
		return fmt.Errorf("fetching results: %w", err)
	}
	if len(resp.Tweets) > 0 {
		l.renderer.Records(resp.Tweets, l.cursor)
		l.cursor += len(resp.Tweets)
	}
	return nil
}
