package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/voxqueue/tts/internal/model"
)

// pushScript enqueues a job only while the queue is below its bound and writes
// the pending status in the same step, so a job is never visible without one.
//
// KEYS[1] queue, KEYS[2] status
// ARGV[1] job json, ARGV[2] max length (0 = unbounded), ARGV[3] status json, ARGV[4] status ttl ms
var pushScript = redis.NewScript(`
local max = tonumber(ARGV[2])
if max > 0 and redis.call('LLEN', KEYS[1]) >= max then
	return -1
end
local n = redis.call('LPUSH', KEYS[1], ARGV[1])
redis.call('SET', KEYS[2], ARGV[3], 'PX', ARGV[4])
return n - 1
`)

// Options tunes the rolling metrics and the worker registry
type Options struct {
	MetricsWindow         int
	DefaultGenerationTime map[model.Tier]float64
	RegistryRetention     time.Duration

	// WaitClient serves WaitDone. Each waiter holds one of its connections for
	// the whole wait, so it should not share a pool with the main client.
	WaitClient *redis.Client
}

func (o *Options) setDefaults() {
	if o.MetricsWindow <= 0 {
		o.MetricsWindow = 50
	}
	if o.DefaultGenerationTime == nil {
		o.DefaultGenerationTime = map[model.Tier]float64{
			model.TierHigh: 3.0,
			model.TierFast: 1.5,
		}
	}
	if o.RegistryRetention <= 0 {
		o.RegistryRetention = 10 * time.Minute
	}
}

// RedisBroker implements Broker on top of redis lists and TTL keys
type RedisBroker struct {
	rdb  *redis.Client
	wait *redis.Client
	opts Options
}

var _ Broker = (*RedisBroker)(nil)

func NewRedisBroker(rdb *redis.Client, opts Options) *RedisBroker {
	opts.setDefaults()
	wait := opts.WaitClient
	if wait == nil {
		wait = rdb
	}
	return &RedisBroker{rdb: rdb, wait: wait, opts: opts}
}

func (b *RedisBroker) Ping(ctx context.Context) error {
	return b.rdb.Ping(ctx).Err()
}

func (b *RedisBroker) Close() error {
	err := b.rdb.Close()
	if b.wait != b.rdb {
		if werr := b.wait.Close(); err == nil {
			err = werr
		}
	}
	return err
}

func (b *RedisBroker) Push(ctx context.Context, job *model.Job, maxLen int, statusTTL time.Duration) (int, error) {
	if statusTTL <= 0 {
		return 0, fmt.Errorf("push job %s: status ttl must be positive", job.ID)
	}
	jobData, err := json.Marshal(job)
	if err != nil {
		return 0, fmt.Errorf("marshal job: %w", err)
	}
	statusData, err := json.Marshal(model.StatusRecord{
		JobID:     job.ID,
		Status:    model.JobStatusPending,
		Tier:      job.Tier,
		UpdatedAt: time.Now().UTC(),
	})
	if err != nil {
		return 0, fmt.Errorf("marshal status: %w", err)
	}

	ahead, err := pushScript.Run(ctx, b.rdb,
		[]string{QueueKey(job.Tier), statusKey(job.ID)},
		string(jobData), maxLen, string(statusData), statusTTL.Milliseconds(),
	).Int()
	if err != nil {
		return 0, fmt.Errorf("push job %s: %w", job.ID, err)
	}
	if ahead < 0 {
		return 0, ErrQueueFull
	}
	return ahead, nil
}

func (b *RedisBroker) BlockingPop(ctx context.Context, tier model.Tier, timeout time.Duration) (*model.Job, error) {
	res, err := b.rdb.BRPop(ctx, timeout, QueueKey(tier)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	// res is [key, value]
	var job model.Job
	if err := json.Unmarshal([]byte(res[1]), &job); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedJob, err)
	}
	if job.ID == "" {
		return nil, fmt.Errorf("%w: missing job id", ErrMalformedJob)
	}
	return &job, nil
}

// SetStatus replaces a status record only while it still exists; Push is the
// only writer that creates one. It returns false when the record has expired.
func (b *RedisBroker) SetStatus(ctx context.Context, rec model.StatusRecord, ttl time.Duration) (bool, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return false, err
	}
	return b.rdb.SetXX(ctx, statusKey(rec.JobID), data, ttl).Result()
}

func (b *RedisBroker) GetStatus(ctx context.Context, jobID string) (*model.StatusRecord, error) {
	var rec model.StatusRecord
	if err := b.getJSON(ctx, statusKey(jobID), &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (b *RedisBroker) SetResult(ctx context.Context, res *model.Result, ttl time.Duration) error {
	data, err := json.Marshal(res)
	if err != nil {
		return err
	}
	status, err := json.Marshal(model.StatusRecord{
		JobID:     res.JobID,
		Status:    model.JobStatusCompleted,
		Tier:      res.Tier,
		WorkerID:  res.WorkerID,
		UpdatedAt: res.CompletedAt,
	})
	if err != nil {
		return err
	}

	_, err = b.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, resultKey(res.JobID), data, ttl)
		pipe.Set(ctx, audioKey(res.JobID), res.Audio, ttl)
		pipe.Set(ctx, statusKey(res.JobID), status, ttl)
		b.signalDone(ctx, pipe, res.JobID, ttl)
		return nil
	})
	return err
}

func (b *RedisBroker) GetResult(ctx context.Context, jobID string) (*model.Result, error) {
	var res model.Result
	if err := b.getJSON(ctx, resultKey(jobID), &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (b *RedisBroker) GetAudio(ctx context.Context, jobID string) ([]byte, error) {
	data, err := b.rdb.Get(ctx, audioKey(jobID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	return data, err
}

func (b *RedisBroker) SetError(ctx context.Context, rec *model.ErrorRecord, ttl time.Duration) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	status, err := json.Marshal(model.StatusRecord{
		JobID:     rec.JobID,
		Status:    model.JobStatusError,
		Tier:      rec.Tier,
		WorkerID:  rec.WorkerID,
		UpdatedAt: rec.CompletedAt,
	})
	if err != nil {
		return err
	}

	_, err = b.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, errorKey(rec.JobID), data, ttl)
		pipe.Set(ctx, statusKey(rec.JobID), status, ttl)
		b.signalDone(ctx, pipe, rec.JobID, ttl)
		return nil
	})
	return err
}

func (b *RedisBroker) GetError(ctx context.Context, jobID string) (*model.ErrorRecord, error) {
	var rec model.ErrorRecord
	if err := b.getJSON(ctx, errorKey(jobID), &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (b *RedisBroker) signalDone(ctx context.Context, pipe redis.Pipeliner, jobID string, ttl time.Duration) {
	pipe.LPush(ctx, doneKey(jobID), "1")
	pipe.Expire(ctx, doneKey(jobID), ttl)
}

func (b *RedisBroker) WaitDone(ctx context.Context, jobID string, timeout time.Duration) (bool, error) {
	_, err := b.wait.BLPop(ctx, timeout, doneKey(jobID)).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (b *RedisBroker) QueueLength(ctx context.Context, tier model.Tier) (int64, error) {
	return b.rdb.LLen(ctx, QueueKey(tier)).Result()
}

func (b *RedisBroker) QueuePosition(ctx context.Context, tier model.Tier, jobID string) (int, error) {
	items, err := b.rdb.LRange(ctx, QueueKey(tier), 0, -1).Result()
	if err != nil {
		return -1, err
	}

	// Workers pop from the tail, so the last element is served next
	for i := len(items) - 1; i >= 0; i-- {
		var ref struct {
			ID string `json:"jobId"`
		}
		if err := json.Unmarshal([]byte(items[i]), &ref); err != nil {
			continue
		}
		if ref.ID == jobID {
			return len(items) - 1 - i, nil
		}
	}
	return -1, nil
}

func (b *RedisBroker) getJSON(ctx context.Context, key string, v interface{}) error {
	data, err := b.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}
