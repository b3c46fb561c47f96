package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/kalambet/scrapejobs/internal/storage"
)

// User-facing validation messages.
const (
	MsgNoSearchParams = "Please provide at least one search parameter"
	MsgBadCount       = "num_tweets must be a positive integer"
	MsgBadMode        = "search_mode must be one of top, live, people"
)

// MsgScrapeStarted acknowledges a successful submission.
const MsgScrapeStarted = "Scrape started. Data will be saved as a CSV file on the server."

// MsgJobNotFound is returned for unknown job ids.
const MsgJobNotFound = "Job not found"

// ValidationError is returned when a scrape request is rejected before any
// job is created.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// NumTweets is a requested result count. It decodes from a JSON number or a
// numeric string such as "10".
type NumTweets int

func (n *NumTweets) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	s := string(data)
	if len(data) > 0 && data[0] == '"' {
		if err := json.Unmarshal(data, &s); err != nil {
			return &ValidationError{Message: MsgBadCount}
		}
		s = strings.TrimSpace(s)
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return &ValidationError{Message: MsgBadCount}
	}
	*n = NumTweets(v)
	return nil
}

// ScrapeRequest is the body of POST /scrape.
type ScrapeRequest struct {
	Keyword    string     `json:"keyword" validate:"required_without_all=Hashtag Username TweetURL"`
	Hashtag    string     `json:"hashtag,omitempty"`
	Username   string     `json:"username,omitempty"`
	TweetURL   string     `json:"tweet_url,omitempty"`
	NumTweets  *NumTweets `json:"num_tweets,omitempty" validate:"omitempty,gt=0"`
	SearchMode string     `json:"search_mode,omitempty" validate:"omitempty,oneof=top live people"`
}

// UnmarshalJSON treats a null or blank num_tweets the same as an omitted
// one, so the server default applies.
func (r *ScrapeRequest) UnmarshalJSON(data []byte) error {
	type plain ScrapeRequest
	aux := struct {
		*plain
		NumTweets json.RawMessage `json:"num_tweets,omitempty"`
	}{plain: (*plain)(r)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	r.NumTweets = nil
	raw := bytes.TrimSpace(aux.NumTweets)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	var s string
	if json.Unmarshal(raw, &s) == nil && strings.TrimSpace(s) == "" {
		return nil
	}
	var n NumTweets
	if err := n.UnmarshalJSON(raw); err != nil {
		return err
	}
	r.NumTweets = &n
	return nil
}

var validate = validator.New()

// Validate trims the search fields and checks the request. It returns a
// *ValidationError describing the first problem found.
func (r *ScrapeRequest) Validate() error {
	r.Keyword = strings.TrimSpace(r.Keyword)
	r.Hashtag = strings.TrimSpace(r.Hashtag)
	r.Username = strings.TrimSpace(r.Username)
	r.TweetURL = strings.TrimSpace(r.TweetURL)
	r.SearchMode = strings.ToLower(strings.TrimSpace(r.SearchMode))

	err := validate.Struct(r)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err
	}
	switch verrs[0].Field() {
	case "NumTweets":
		return &ValidationError{Message: MsgBadCount}
	case "SearchMode":
		return &ValidationError{Message: MsgBadMode}
	default:
		return &ValidationError{Message: MsgNoSearchParams}
	}
}

// Params converts a validated request into job parameters, applying
// defaultCount when num_tweets was omitted.
func (r *ScrapeRequest) Params(defaultCount int) storage.Params {
	count := defaultCount
	if r.NumTweets != nil {
		count = int(*r.NumTweets)
	}
	mode := r.SearchMode
	if mode == "" {
		mode = "top"
	}
	return storage.Params{
		Keyword:    r.Keyword,
		Hashtag:    r.Hashtag,
		Username:   r.Username,
		TweetURL:   r.TweetURL,
		SearchMode: mode,
		Count:      count,
	}
}

// ScrapeResponse acknowledges a submitted job.
type ScrapeResponse struct {
	Message string `json:"message"`
	JobID   string `json:"job_id"`
}

// StatusResponse is the body of GET /status/{job_id}.
type StatusResponse struct {
	JobID     string    `json:"job_id"`
	Status    string    `json:"status"`
	Progress  int       `json:"progress"`
	Current   int       `json:"current"`
	Target    int       `json:"target"`
	Count     int       `json:"count"`
	Filename  string    `json:"filename,omitempty"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewStatusResponse builds the wire form of a job snapshot.
func NewStatusResponse(job storage.Job) StatusResponse {
	return StatusResponse{
		JobID:     job.ID,
		Status:    string(job.Status),
		Progress:  job.Progress,
		Current:   job.Current,
		Target:    job.Target,
		Count:     job.Count,
		Filename:  job.Filename,
		Error:     job.Error,
		CreatedAt: job.CreatedAt,
		UpdatedAt: job.UpdatedAt,
	}
}

// ResultsResponse is the body of GET /tweets/{job_id}. Next is the cursor to
// pass as since on the following request.
type ResultsResponse struct {
	Tweets []storage.Result `json:"tweets"`
	Count  int              `json:"count"`
	Next   int              `json:"next"`
	Status string           `json:"status"`
}

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error string `json:"error"`
}
