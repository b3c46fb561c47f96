package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNotFound is returned when a requested job does not exist.
var ErrNotFound = errors.New("not found")

// ErrInvalidTransition is returned when a mutation targets a job that is
// already completed or failed, or when a status change skips a state.
var ErrInvalidTransition = errors.New("invalid status transition")

type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether no further transitions are possible from s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Kind classifies a scraped post.
type Kind string

const (
	KindOriginal Kind = "original"
	KindReply    Kind = "reply"
	KindRepost   Kind = "repost"
	KindQuote    Kind = "quote"
)

// Params are the search parameters a job was submitted with.
type Params struct {
	Keyword    string `json:"keyword,omitempty"`
	Hashtag    string `json:"hashtag,omitempty"`
	Username   string `json:"username,omitempty"`
	TweetURL   string `json:"tweet_url,omitempty"`
	SearchMode string `json:"search_mode,omitempty"`
	Count      int    `json:"num_tweets"`
}

// Job is a point-in-time snapshot of one submitted scrape.
type Job struct {
	ID        string
	Status    Status
	Progress  int
	Current   int
	Target    int // 0 means unbounded
	Count     int // number of accumulated results
	Filename  string
	Error     string
	Params    Params
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Result is one scraped post. Only ID is required.
type Result struct {
	ID          string `json:"tweet_id"`
	Username    string `json:"username,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
	Text        string `json:"text,omitempty"`
	Timestamp   string `json:"timestamp,omitempty"`
	Likes       int    `json:"likes"`
	Retweets    int    `json:"retweets"`
	Replies     int    `json:"replies"`
	Hashtags    Tags   `json:"hashtags,omitempty"`
	Mentions    Tags   `json:"mentions,omitempty"`
	Kind        Kind   `json:"tweet_type,omitempty"`
	URL         string `json:"tweet_url,omitempty"`
}

// Tags is a set of hashtags or mentions. On the wire it is a single
// ", "-separated string; decoding also accepts a JSON array.
type Tags []string

const tagSeparator = ", "

func (t Tags) String() string {
	return strings.Join(t, tagSeparator)
}

func (t Tags) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

func (t *Tags) UnmarshalJSON(data []byte) error {
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		*t = list
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*t = ParseTags(s)
	return nil
}

// ParseTags splits a comma-separated tag string, dropping empty entries.
func ParseTags(s string) Tags {
	var out Tags
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// computeProgress applies the clamping rules shared by every backend.
// It never lets current or progress go backwards, so a target below the
// recorded current is rejected.
func computeProgress(job *Job, current, target int) error {
	if target < 0 {
		target = 0
	}
	if target > 0 && target < job.Current {
		return fmt.Errorf("job %s: target %d below current %d: %w", job.ID, target, job.Current, ErrInvalidTransition)
	}
	job.Target = target
	if target > 0 && current > target {
		current = target
	}
	if current > job.Current {
		job.Current = current
	}
	if target <= 0 {
		return nil
	}
	p := 100 * job.Current / target
	if p < 0 {
		p = 0
	}
	if p > 100 {
		p = 100
	}
	if p > job.Progress {
		job.Progress = p
	}
	return nil
}

// completeJob moves job to completed. A completed job always names its file.
func completeJob(job *Job, filename string) error {
	if strings.TrimSpace(filename) == "" {
		return fmt.Errorf("job %s: completing without a filename: %w", job.ID, ErrInvalidTransition)
	}
	job.Status = StatusCompleted
	job.Filename = filename
	return nil
}

// failJob moves job to failed. A failed job always carries a message.
func failJob(job *Job, message string) error {
	if strings.TrimSpace(message) == "" {
		return fmt.Errorf("job %s: failing without an error message: %w", job.ID, ErrInvalidTransition)
	}
	job.Status = StatusFailed
	job.Error = message
	return nil
}
