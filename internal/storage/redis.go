package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// maxWatchRetries bounds optimistic-lock retries for a single mutation.
const maxWatchRetries = 10

// RedisStore keeps each job as a JSON document under prefix+id and its
// results as a list under prefix+id+":results". Both keys carry the same TTL,
// refreshed on every mutation, so Redis handles retention on its own.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	now    func() time.Time
}

// redisJob is the stored form of a Job. Count is derived from the list length.
type redisJob struct {
	ID        string    `json:"id"`
	Status    Status    `json:"status"`
	Progress  int       `json:"progress"`
	Current   int       `json:"current"`
	Target    int       `json:"target"`
	Filename  string    `json:"filename,omitempty"`
	Error     string    `json:"error,omitempty"`
	Params    Params    `json:"params"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (r redisJob) job() Job {
	return Job{
		ID: r.ID, Status: r.Status, Progress: r.Progress, Current: r.Current,
		Target: r.Target, Filename: r.Filename, Error: r.Error, Params: r.Params,
		CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt,
	}
}

func newRedisJob(j Job) redisJob {
	return redisJob{
		ID: j.ID, Status: j.Status, Progress: j.Progress, Current: j.Current,
		Target: j.Target, Filename: j.Filename, Error: j.Error, Params: j.Params,
		CreatedAt: j.CreatedAt, UpdatedAt: j.UpdatedAt,
	}
}

// NewRedisStore initializes a Redis-backed Store. A zero ttl disables expiry.
func NewRedisStore(addr, prefix string, ttl time.Duration) *RedisStore {
	return &RedisStore{
		client: redis.NewClient(&redis.Options{Addr: addr}),
		prefix: prefix,
		ttl:    ttl,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Ping checks that the server is reachable.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) jobKey(id string) string     { return s.prefix + id }
func (s *RedisStore) resultsKey(id string) string { return s.prefix + id + ":results" }

func (s *RedisStore) Create(ctx context.Context, params Params) (Job, error) {
	now := s.now()
	job := Job{
		ID:        uuid.New().String(),
		Status:    StatusPending,
		Target:    params.Count,
		Params:    params,
		CreatedAt: now,
		UpdatedAt: now,
	}
	payload, err := json.Marshal(newRedisJob(job))
	if err != nil {
		return Job{}, err
	}
	ok, err := s.client.SetNX(ctx, s.jobKey(job.ID), payload, s.ttl).Result()
	if err != nil {
		return Job{}, fmt.Errorf("creating job: %w", err)
	}
	if !ok {
		return Job{}, fmt.Errorf("job id collision: %s", job.ID)
	}
	return job, nil
}

func decodeRedisJob(val string) (Job, error) {
	var rj redisJob
	if err := json.Unmarshal([]byte(val), &rj); err != nil {
		return Job{}, fmt.Errorf("decoding job: %w", err)
	}
	return rj.job(), nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (Job, error) {
	var getCmd *redis.StringCmd
	var lenCmd *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		getCmd = pipe.Get(ctx, s.jobKey(id))
		lenCmd = pipe.LLen(ctx, s.resultsKey(id))
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return Job{}, err
	}
	val, err := getCmd.Result()
	if errors.Is(err, redis.Nil) {
		return Job{}, ErrNotFound
	}
	if err != nil {
		return Job{}, err
	}
	job, err := decodeRedisJob(val)
	if err != nil {
		return Job{}, err
	}
	job.Count = int(lenCmd.Val())
	return job, nil
}

func (s *RedisStore) Results(ctx context.Context, id string, from int) ([]Result, int, error) {
	if from < 0 {
		from = 0
	}
	var existsCmd, lenCmd *redis.IntCmd
	var rangeCmd *redis.StringSliceCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		existsCmd = pipe.Exists(ctx, s.jobKey(id))
		lenCmd = pipe.LLen(ctx, s.resultsKey(id))
		rangeCmd = pipe.LRange(ctx, s.resultsKey(id), int64(from), -1)
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	if existsCmd.Val() == 0 {
		return nil, 0, ErrNotFound
	}

	out := make([]Result, 0, len(rangeCmd.Val()))
	for _, raw := range rangeCmd.Val() {
		var r Result
		if err := json.Unmarshal([]byte(raw), &r); err != nil {
			return nil, 0, fmt.Errorf("decoding result: %w", err)
		}
		out = append(out, r)
	}
	return out, int(lenCmd.Val()), nil
}

// mutate applies fn under WATCH on the job key, retrying when another
// client modified the job between the read and the EXEC.
func (s *RedisStore) mutate(ctx context.Context, id string, fn func(job *Job, pipe redis.Pipeliner) error) error {
	key := s.jobKey(id)
	txf := func(tx *redis.Tx) error {
		val, err := tx.Get(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		job, err := decodeRedisJob(val)
		if err != nil {
			return err
		}
		if job.Status.Terminal() {
			return fmt.Errorf("job %s is %s: %w", id, job.Status, ErrInvalidTransition)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if err := fn(&job, pipe); err != nil {
				return err
			}
			job.UpdatedAt = s.now()
			payload, err := json.Marshal(newRedisJob(job))
			if err != nil {
				return err
			}
			pipe.Set(ctx, key, payload, s.ttl)
			if s.ttl > 0 {
				pipe.Expire(ctx, s.resultsKey(id), s.ttl)
			}
			return nil
		})
		return err
	}

	for i := 0; i < maxWatchRetries; i++ {
		err := s.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("updating job %s: too much contention", id)
}

func (s *RedisStore) AppendResults(ctx context.Context, id string, records []Result) error {
	if len(records) == 0 {
		return s.mutate(ctx, id, func(*Job, redis.Pipeliner) error { return nil })
	}
	values := make([]any, 0, len(records))
	for _, r := range records {
		payload, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("encoding result %s: %w", r.ID, err)
		}
		values = append(values, payload)
	}
	return s.mutate(ctx, id, func(_ *Job, pipe redis.Pipeliner) error {
		pipe.RPush(ctx, s.resultsKey(id), values...)
		return nil
	})
}

func (s *RedisStore) SetProgress(ctx context.Context, id string, current, target int) error {
	return s.mutate(ctx, id, func(job *Job, _ redis.Pipeliner) error {
		return computeProgress(job, current, target)
	})
}

func (s *RedisStore) MarkRunning(ctx context.Context, id string) error {
	return s.mutate(ctx, id, func(job *Job, _ redis.Pipeliner) error {
		if job.Status != StatusPending {
			return fmt.Errorf("job %s is %s: %w", id, job.Status, ErrInvalidTransition)
		}
		job.Status = StatusRunning
		return nil
	})
}

func (s *RedisStore) Complete(ctx context.Context, id string, filename string) error {
	return s.mutate(ctx, id, func(job *Job, _ redis.Pipeliner) error {
		return completeJob(job, filename)
	})
}

func (s *RedisStore) Fail(ctx context.Context, id string, message string) error {
	return s.mutate(ctx, id, func(job *Job, _ redis.Pipeliner) error {
		return failJob(job, message)
	})
}
