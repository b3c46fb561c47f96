package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/kalambet/scrapejobs/internal/storage"
)

// recordingRunner remembers started jobs without running them.
type recordingRunner struct {
	mu   sync.Mutex
	jobs []storage.Job
}

func (r *recordingRunner) Start(job storage.Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs = append(r.jobs, job)
}

func (r *recordingRunner) started() []storage.Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]storage.Job(nil), r.jobs...)
}

func newTestDeps(t *testing.T) (Deps, *storage.MemoryStore, *recordingRunner) {
	t.Helper()
	store := storage.NewMemoryStore()
	runner := &recordingRunner{}
	return Deps{Store: store, Runner: runner, DefaultCount: 50}, store, runner
}

func doRequest(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(bytes.NewReader(rec.Body.Bytes())).Decode(v); err != nil {
		t.Fatalf("decoding response %q: %v", rec.Body.String(), err)
	}
}

func TestScrapeAcceptsStringCount(t *testing.T) {
	deps, _, runner := newTestDeps(t)
	h := NewHandler(deps)

	rec := doRequest(t, h, http.MethodPost, "/scrape", `{"keyword":"test","num_tweets":"10"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var resp ScrapeResponse
	decodeBody(t, rec, &resp)
	if resp.JobID == "" {
		t.Fatal("expected job_id")
	}
	if resp.Message != MsgScrapeStarted {
		t.Errorf("message = %q", resp.Message)
	}

	started := runner.started()
	if len(started) != 1 || started[0].ID != resp.JobID {
		t.Fatalf("runner started %+v", started)
	}
	if started[0].Target != 10 || started[0].Params.SearchMode != "top" {
		t.Errorf("job params = %+v target %d", started[0].Params, started[0].Target)
	}

	status := doRequest(t, h, http.MethodGet, "/status/"+resp.JobID, "")
	if status.Code != http.StatusOK {
		t.Fatalf("status code = %d", status.Code)
	}
	var sr StatusResponse
	decodeBody(t, status, &sr)
	if sr.Status != "pending" && sr.Status != "running" {
		t.Errorf("status = %q, want pending or running", sr.Status)
	}
	if sr.JobID != resp.JobID || sr.Target != 10 {
		t.Errorf("status response = %+v", sr)
	}
}

func TestScrapeDefaultsCount(t *testing.T) {
	deps, _, runner := newTestDeps(t)
	rec := doRequest(t, NewHandler(deps), http.MethodPost, "/scrape", `{"hashtag":"golang"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if got := runner.started()[0].Target; got != 50 {
		t.Errorf("target = %d, want default 50", got)
	}
}

func TestScrapeBlankCountUsesDefault(t *testing.T) {
	deps, _, runner := newTestDeps(t)
	rec := doRequest(t, NewHandler(deps), http.MethodPost, "/scrape", `{"keyword":"go","num_tweets":""}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if got := runner.started()[0].Target; got != 50 {
		t.Errorf("target = %d, want default 50", got)
	}
}

func TestScrapeValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"all empty", `{}`, MsgNoSearchParams},
		{"whitespace only", `{"keyword":"  ","hashtag":" ","username":"","tweet_url":"\t"}`, MsgNoSearchParams},
		{"zero count", `{"keyword":"go","num_tweets":0}`, MsgBadCount},
		{"negative count", `{"keyword":"go","num_tweets":"-5"}`, MsgBadCount},
		{"non numeric count", `{"keyword":"go","num_tweets":"lots"}`, MsgBadCount},
		{"fractional count", `{"keyword":"go","num_tweets":2.5}`, MsgBadCount},
		{"bad mode", `{"keyword":"go","search_mode":"random"}`, MsgBadMode},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			deps, store, runner := newTestDeps(t)
			rec := doRequest(t, NewHandler(deps), http.MethodPost, "/scrape", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", rec.Code)
			}
			var resp ErrorResponse
			decodeBody(t, rec, &resp)
			if resp.Error != tt.want {
				t.Errorf("error = %q, want %q", resp.Error, tt.want)
			}
			if store.Len() != 0 {
				t.Errorf("store size = %d, want 0", store.Len())
			}
			if len(runner.started()) != 0 {
				t.Error("runner started on invalid request")
			}
		})
	}
}

func TestScrapeMalformedBody(t *testing.T) {
	deps, store, _ := newTestDeps(t)
	rec := doRequest(t, NewHandler(deps), http.MethodPost, "/scrape", `{"keyword":`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if store.Len() != 0 {
		t.Errorf("store size = %d, want 0", store.Len())
	}
}

func TestStatusUnknownJob(t *testing.T) {
	deps, _, _ := newTestDeps(t)
	rec := doRequest(t, NewHandler(deps), http.MethodGet, "/status/does-not-exist", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	var resp ErrorResponse
	decodeBody(t, rec, &resp)
	if resp.Error != MsgJobNotFound {
		t.Errorf("error = %q", resp.Error)
	}
}

func TestStatusTerminalFields(t *testing.T) {
	deps, store, _ := newTestDeps(t)
	ctx := context.Background()
	done, _ := store.Create(ctx, storage.Params{Keyword: "a", Count: 2})
	store.AppendResults(ctx, done.ID, []storage.Result{{ID: "1"}})
	store.Complete(ctx, done.ID, "out.csv")
	failed, _ := store.Create(ctx, storage.Params{Keyword: "b"})
	store.Fail(ctx, failed.ID, "No tweets collected")

	h := NewHandler(deps)

	var sr StatusResponse
	decodeBody(t, doRequest(t, h, http.MethodGet, "/status/"+done.ID, ""), &sr)
	if sr.Status != "completed" || sr.Filename != "out.csv" || sr.Error != "" || sr.Count != 1 {
		t.Errorf("completed status = %+v", sr)
	}

	rec := doRequest(t, h, http.MethodGet, "/status/"+failed.ID, "")
	var raw map[string]any
	decodeBody(t, rec, &raw)
	if raw["status"] != "failed" || raw["error"] != "No tweets collected" {
		t.Errorf("failed status = %v", raw)
	}
	if _, ok := raw["filename"]; ok {
		t.Error("filename present on failed job")
	}
}

func TestTweetsIncremental(t *testing.T) {
	deps, store, _ := newTestDeps(t)
	ctx := context.Background()
	job, _ := store.Create(ctx, storage.Params{Keyword: "a", Count: 10})
	store.MarkRunning(ctx, job.ID)
	store.AppendResults(ctx, job.ID, []storage.Result{{ID: "1"}, {ID: "2"}, {ID: "3"}})

	h := NewHandler(deps)

	var all ResultsResponse
	decodeBody(t, doRequest(t, h, http.MethodGet, "/tweets/"+job.ID, ""), &all)
	if len(all.Tweets) != 3 || all.Count != 3 || all.Next != 3 || all.Status != "running" {
		t.Errorf("full resend = %+v", all)
	}

	var tail ResultsResponse
	decodeBody(t, doRequest(t, h, http.MethodGet, "/tweets/"+job.ID+"?since=2", ""), &tail)
	if len(tail.Tweets) != 1 || tail.Tweets[0].ID != "3" || tail.Count != 3 {
		t.Errorf("since=2 = %+v", tail)
	}

	var past ResultsResponse
	rec := doRequest(t, h, http.MethodGet, "/tweets/"+job.ID+"?since=9", "")
	decodeBody(t, rec, &past)
	if past.Tweets == nil || len(past.Tweets) != 0 || past.Count != 3 {
		t.Errorf("since=9 = %+v", past)
	}
	if !strings.Contains(rec.Body.String(), `"tweets":[]`) {
		t.Errorf("expected empty array, got %s", rec.Body.String())
	}

	var invalid ResultsResponse
	decodeBody(t, doRequest(t, h, http.MethodGet, "/tweets/"+job.ID+"?since=abc", ""), &invalid)
	if len(invalid.Tweets) != 3 {
		t.Errorf("invalid since should resend everything, got %d", len(invalid.Tweets))
	}
}

func TestTweetsUnknownJob(t *testing.T) {
	deps, _, _ := newTestDeps(t)
	rec := doRequest(t, NewHandler(deps), http.MethodGet, "/tweets/nope", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestHealth(t *testing.T) {
	deps, _, _ := newTestDeps(t)
	rec := doRequest(t, NewHandler(deps), http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"ok"`) {
		t.Errorf("health = %d %s", rec.Code, rec.Body.String())
	}
}
