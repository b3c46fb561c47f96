package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kalambet/scrapejobs/internal/api"
	"github.com/kalambet/scrapejobs/internal/storage"
)

type noopRunner struct{}

func (noopRunner) Start(storage.Job) {}

func newTestServer(t *testing.T) (*Client, *storage.MemoryStore) {
	t.Helper()
	store := storage.NewMemoryStore()
	srv := httptest.NewServer(api.NewHandler(api.Deps{Store: store, Runner: noopRunner{}, DefaultCount: 50}))
	t.Cleanup(srv.Close)
	return New(srv.URL, 5*time.Second), store
}

func TestSubmitStatusResults(t *testing.T) {
	c, store := newTestServer(t)
	ctx := context.Background()

	ack, err := c.Submit(ctx, api.ScrapeRequest{Keyword: "go"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if ack.JobID == "" || ack.Message != api.MsgScrapeStarted {
		t.Fatalf("ack = %+v", ack)
	}

	store.MarkRunning(ctx, ack.JobID)
	store.AppendResults(ctx, ack.JobID, []storage.Result{{ID: "1"}, {ID: "2"}})
	store.SetProgress(ctx, ack.JobID, 2, 50)

	st, err := c.Status(ctx, ack.JobID)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st.Status != "running" || st.Current != 2 || st.Progress != 4 {
		t.Errorf("status = %+v", st)
	}

	res, err := c.Results(ctx, ack.JobID, 1)
	if err != nil {
		t.Fatalf("Results: %v", err)
	}
	if len(res.Tweets) != 1 || res.Tweets[0].ID != "2" || res.Next != 2 {
		t.Errorf("results = %+v", res)
	}

	if err := c.Health(ctx); err != nil {
		t.Errorf("Health: %v", err)
	}
}

func TestSubmitValidationError(t *testing.T) {
	c, _ := newTestServer(t)

	_, err := c.Submit(context.Background(), api.ScrapeRequest{})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error = %v, want *APIError", err)
	}
	if apiErr.StatusCode != http.StatusBadRequest || apiErr.Message != api.MsgNoSearchParams {
		t.Errorf("apiErr = %+v", apiErr)
	}
	if errors.Is(err, ErrNotFound) {
		t.Error("400 must not match ErrNotFound")
	}
}

func TestStatusNotFound(t *testing.T) {
	c, _ := newTestServer(t)

	_, err := c.Status(context.Background(), "does-not-exist")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Message != api.MsgJobNotFound {
		t.Errorf("message = %v", err)
	}
}

func TestNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := New(url, time.Second).Status(context.Background(), "x")
	var netErr *NetworkError
	if !errors.As(err, &netErr) {
		t.Fatalf("error = %v, want *NetworkError", err)
	}
}

func TestNonJSONErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := New(srv.URL, time.Second).Results(context.Background(), "x", 0)
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusBadGateway || apiErr.Message != "bad gateway" {
		t.Errorf("error = %v", err)
	}
}

func TestSubmitSendsStringableCount(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		json.NewEncoder(w).Encode(api.ScrapeResponse{JobID: "j"})
	}))
	defer srv.Close()

	n := api.NumTweets(10)
	if _, err := New(srv.URL, time.Second).Submit(context.Background(), api.ScrapeRequest{Keyword: "go", NumTweets: &n}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if got["num_tweets"] != float64(10) || got["keyword"] != "go" {
		t.Errorf("request body = %v", got)
	}
}
