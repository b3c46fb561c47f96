package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
)

// runStoreContract exercises the behaviour every Store backend must share.
func runStoreContract(t *testing.T, open func(t *testing.T) Store) {
	t.Run("CreateStartsPending", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()

		job, err := s.Create(ctx, Params{Keyword: "test", Count: 10})
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		if job.ID == "" {
			t.Fatal("expected non-empty job id")
		}

		got, err := s.Get(ctx, job.ID)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got.Status != StatusPending {
			t.Errorf("Status = %q, want pending", got.Status)
		}
		if got.Target != 10 || got.Count != 0 || got.Progress != 0 {
			t.Errorf("unexpected snapshot: %+v", got)
		}
		if got.Filename != "" || got.Error != "" {
			t.Errorf("filename/error set on pending job: %+v", got)
		}
	})

	t.Run("IDsAreUnique", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		seen := make(map[string]bool)
		for i := 0; i < 20; i++ {
			job, err := s.Create(ctx, Params{Keyword: "k"})
			if err != nil {
				t.Fatalf("Create: %v", err)
			}
			if seen[job.ID] {
				t.Fatalf("duplicate id %s", job.ID)
			}
			seen[job.ID] = true
		}
	})

	t.Run("UnknownIDNotFound", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()

		if _, err := s.Get(ctx, "does-not-exist"); !errors.Is(err, ErrNotFound) {
			t.Errorf("Get error = %v, want ErrNotFound", err)
		}
		if _, _, err := s.Results(ctx, "does-not-exist", 0); !errors.Is(err, ErrNotFound) {
			t.Errorf("Results error = %v, want ErrNotFound", err)
		}
		if err := s.Complete(ctx, "does-not-exist", "x.csv"); !errors.Is(err, ErrNotFound) {
			t.Errorf("Complete error = %v, want ErrNotFound", err)
		}
		if err := s.Fail(ctx, "does-not-exist", "boom"); !errors.Is(err, ErrNotFound) {
			t.Errorf("Fail error = %v, want ErrNotFound", err)
		}
	})

	t.Run("ResultsAppendInOrder", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		job, _ := s.Create(ctx, Params{Keyword: "k"})

		if err := s.AppendResults(ctx, job.ID, []Result{{ID: "a"}, {ID: "b"}}); err != nil {
			t.Fatalf("AppendResults: %v", err)
		}
		if err := s.AppendResults(ctx, job.ID, []Result{{ID: "c"}}); err != nil {
			t.Fatalf("AppendResults: %v", err)
		}

		all, total, err := s.Results(ctx, job.ID, 0)
		if err != nil {
			t.Fatalf("Results: %v", err)
		}
		if total != 3 || len(all) != 3 {
			t.Fatalf("got %d records, total %d; want 3", len(all), total)
		}
		for i, want := range []string{"a", "b", "c"} {
			if all[i].ID != want {
				t.Errorf("record %d = %q, want %q", i, all[i].ID, want)
			}
		}

		tail, total, err := s.Results(ctx, job.ID, 2)
		if err != nil {
			t.Fatalf("Results(from=2): %v", err)
		}
		if total != 3 || len(tail) != 1 || tail[0].ID != "c" {
			t.Errorf("Results(from=2) = %+v total %d", tail, total)
		}

		past, total, err := s.Results(ctx, job.ID, 10)
		if err != nil {
			t.Fatalf("Results(from=10): %v", err)
		}
		if total != 3 || len(past) != 0 {
			t.Errorf("Results(from=10) = %+v total %d", past, total)
		}

		got, _ := s.Get(ctx, job.ID)
		if got.Count != 3 {
			t.Errorf("Count = %d, want 3", got.Count)
		}
	})

	t.Run("ResultFieldsRoundTrip", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		job, _ := s.Create(ctx, Params{Keyword: "k"})
		want := Result{
			ID: "42", Username: "gopher", DisplayName: "The Gopher", Text: "hello",
			Timestamp: "2026-01-01T00:00:00Z", Likes: 3, Retweets: 2, Replies: 1,
			Hashtags: Tags{"#go"}, Mentions: Tags{"@rob", "@ken"}, Kind: KindQuote,
			URL: "https://x.com/gopher/status/42",
		}
		if err := s.AppendResults(ctx, job.ID, []Result{want}); err != nil {
			t.Fatalf("AppendResults: %v", err)
		}
		got, _, err := s.Results(ctx, job.ID, 0)
		if err != nil {
			t.Fatalf("Results: %v", err)
		}
		if len(got) != 1 {
			t.Fatalf("got %d records", len(got))
		}
		r := got[0]
		if r.ID != want.ID || r.Username != want.Username || r.Likes != 3 || r.Kind != KindQuote ||
			r.Mentions.String() != "@rob, @ken" || r.URL != want.URL {
			t.Errorf("round trip = %+v", r)
		}
	})

	t.Run("ProgressClampedAndMonotonic", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		job, _ := s.Create(ctx, Params{Keyword: "k", Count: 10})
		s.MarkRunning(ctx, job.ID)

		steps := []struct{ current, target, wantCurrent, wantProgress int }{
			{3, 10, 3, 30},
			{2, 10, 3, 30},
			{15, 10, 10, 100},
			{5, 10, 10, 100},
		}
		for _, step := range steps {
			if err := s.SetProgress(ctx, job.ID, step.current, step.target); err != nil {
				t.Fatalf("SetProgress(%d,%d): %v", step.current, step.target, err)
			}
			got, _ := s.Get(ctx, job.ID)
			if got.Current != step.wantCurrent || got.Progress != step.wantProgress {
				t.Errorf("after SetProgress(%d,%d): current=%d progress=%d, want %d/%d",
					step.current, step.target, got.Current, got.Progress, step.wantCurrent, step.wantProgress)
			}
			if got.Progress < 0 || got.Progress > 100 {
				t.Errorf("progress out of range: %d", got.Progress)
			}
			if got.Target > 0 && got.Current > got.Target {
				t.Errorf("current %d exceeds target %d", got.Current, got.Target)
			}
		}
	})

	t.Run("UnboundedTargetLeavesProgress", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		job, _ := s.Create(ctx, Params{Keyword: "k"})
		if err := s.SetProgress(ctx, job.ID, 7, 0); err != nil {
			t.Fatalf("SetProgress: %v", err)
		}
		got, _ := s.Get(ctx, job.ID)
		if got.Progress != 0 || got.Current != 7 {
			t.Errorf("progress=%d current=%d, want 0/7", got.Progress, got.Current)
		}
	})

	t.Run("TerminalSnapshotIsStable", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		job, _ := s.Create(ctx, Params{Keyword: "k"})
		s.MarkRunning(ctx, job.ID)
		s.AppendResults(ctx, job.ID, []Result{{ID: "1"}})
		if err := s.Complete(ctx, job.ID, "out.csv"); err != nil {
			t.Fatalf("Complete: %v", err)
		}

		first, _ := s.Get(ctx, job.ID)

		if err := s.Complete(ctx, job.ID, "other.csv"); !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("second Complete error = %v, want ErrInvalidTransition", err)
		}
		if err := s.Fail(ctx, job.ID, "late"); !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("Fail after Complete error = %v, want ErrInvalidTransition", err)
		}
		if err := s.AppendResults(ctx, job.ID, []Result{{ID: "2"}}); !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("AppendResults after Complete error = %v, want ErrInvalidTransition", err)
		}
		if err := s.SetProgress(ctx, job.ID, 1, 1); !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("SetProgress after Complete error = %v, want ErrInvalidTransition", err)
		}

		for i := 0; i < 3; i++ {
			got, err := s.Get(ctx, job.ID)
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			if got.Status != StatusCompleted || got.Filename != "out.csv" || got.Error != "" || got.Count != first.Count {
				t.Errorf("snapshot changed: %+v", got)
			}
		}
	})

	t.Run("FailSetsErrorOnly", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		job, _ := s.Create(ctx, Params{Keyword: "k"})
		if err := s.Fail(ctx, job.ID, "No tweets collected"); err != nil {
			t.Fatalf("Fail from pending: %v", err)
		}
		got, _ := s.Get(ctx, job.ID)
		if got.Status != StatusFailed || got.Error != "No tweets collected" || got.Filename != "" {
			t.Errorf("failed snapshot = %+v", got)
		}
		if err := s.MarkRunning(ctx, job.ID); !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("MarkRunning after Fail error = %v, want ErrInvalidTransition", err)
		}
	})

	t.Run("TerminalValuesRequired", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		job, _ := s.Create(ctx, Params{Keyword: "k"})
		s.MarkRunning(ctx, job.ID)

		if err := s.Complete(ctx, job.ID, ""); !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("Complete with empty filename error = %v, want ErrInvalidTransition", err)
		}
		if err := s.Fail(ctx, job.ID, " "); !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("Fail with blank message error = %v, want ErrInvalidTransition", err)
		}
		got, _ := s.Get(ctx, job.ID)
		if got.Status != StatusRunning || got.Filename != "" || got.Error != "" {
			t.Errorf("job changed after rejected transitions: %+v", got)
		}

		if err := s.Complete(ctx, job.ID, "out.csv"); err != nil {
			t.Fatalf("Complete: %v", err)
		}
	})

	t.Run("ShrinkingTargetRejected", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		job, _ := s.Create(ctx, Params{Keyword: "k", Count: 5})
		s.MarkRunning(ctx, job.ID)

		if err := s.SetProgress(ctx, job.ID, 5, 5); err != nil {
			t.Fatalf("SetProgress(5,5): %v", err)
		}
		if err := s.SetProgress(ctx, job.ID, 5, 2); !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("SetProgress(5,2) error = %v, want ErrInvalidTransition", err)
		}
		got, _ := s.Get(ctx, job.ID)
		if got.Current != 5 || got.Target != 5 || got.Progress != 100 {
			t.Errorf("current=%d target=%d progress=%d, want 5/5/100", got.Current, got.Target, got.Progress)
		}

		if err := s.SetProgress(ctx, job.ID, 5, 8); err != nil {
			t.Fatalf("SetProgress(5,8): %v", err)
		}
		got, _ = s.Get(ctx, job.ID)
		if got.Current > got.Target {
			t.Errorf("current %d exceeds target %d", got.Current, got.Target)
		}
	})

	t.Run("MarkRunningOnlyFromPending", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		job, _ := s.Create(ctx, Params{Keyword: "k"})
		if err := s.MarkRunning(ctx, job.ID); err != nil {
			t.Fatalf("MarkRunning: %v", err)
		}
		if err := s.MarkRunning(ctx, job.ID); !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("second MarkRunning error = %v, want ErrInvalidTransition", err)
		}
	})

	t.Run("ConcurrentReadsSeeGrowingPrefix", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		job, _ := s.Create(ctx, Params{Keyword: "k"})
		s.MarkRunning(ctx, job.ID)

		const batches = 25
		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < batches; i++ {
				batch := []Result{{ID: fmt.Sprintf("%d-a", i)}, {ID: fmt.Sprintf("%d-b", i)}}
				if err := s.AppendResults(ctx, job.ID, batch); err != nil {
					t.Errorf("AppendResults: %v", err)
					return
				}
			}
		}()

		last := 0
		for i := 0; i < 50; i++ {
			records, total, err := s.Results(ctx, job.ID, 0)
			if err != nil {
				t.Fatalf("Results: %v", err)
			}
			if len(records) != total {
				t.Fatalf("torn read: %d records, total %d", len(records), total)
			}
			if total%2 != 0 {
				t.Fatalf("observed half an append: total %d", total)
			}
			if total < last {
				t.Fatalf("results shrank from %d to %d", last, total)
			}
			last = total
		}
		wg.Wait()

		_, total, _ := s.Results(ctx, job.ID, 0)
		if total != 2*batches {
			t.Errorf("total = %d, want %d", total, 2*batches)
		}
	})
}
