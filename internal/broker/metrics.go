package broker

import (
	"context"
	"errors"
	"strconv"

	"github.com/redis/go-redis/v9"
	"github.com/voxqueue/tts/internal/model"
)

const (
	counterSubmitted = "jobs_submitted"
	counterCompleted = "jobs_completed"
	counterFailed    = "jobs_failed"
)

func counterField(name string, tier model.Tier) string {
	return name + ":" + string(tier)
}

func (b *RedisBroker) RecordSubmitted(ctx context.Context, tier model.Tier) error {
	return b.rdb.HIncrBy(ctx, metricsKey, counterField(counterSubmitted, tier), 1).Err()
}

// RecordCompleted bumps the completed counter and appends to the rolling generation-time window
func (b *RedisBroker) RecordCompleted(ctx context.Context, tier model.Tier, generationTime float64) error {
	_, err := b.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HIncrBy(ctx, metricsKey, counterField(counterCompleted, tier), 1)
		pipe.LPush(ctx, genTimesKey(tier), strconv.FormatFloat(generationTime, 'f', 4, 64))
		pipe.LTrim(ctx, genTimesKey(tier), 0, int64(b.opts.MetricsWindow-1))
		return nil
	})
	return err
}

func (b *RedisBroker) RecordFailed(ctx context.Context, tier model.Tier) error {
	return b.rdb.HIncrBy(ctx, metricsKey, counterField(counterFailed, tier), 1).Err()
}

// TierMetrics averages the rolling window, falling back to the configured default when empty
func (b *RedisBroker) TierMetrics(ctx context.Context, tier model.Tier) (model.TierMetrics, error) {
	m := model.TierMetrics{AvgGenerationTime: b.opts.DefaultGenerationTime[tier]}

	samples, err := b.rdb.LRange(ctx, genTimesKey(tier), 0, -1).Result()
	if err != nil {
		return m, err
	}
	var sum float64
	for _, s := range samples {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			continue
		}
		sum += v
		m.Samples++
	}
	if m.Samples > 0 {
		m.AvgGenerationTime = sum / float64(m.Samples)
	}

	vals, err := b.rdb.HMGet(ctx, metricsKey,
		counterField(counterCompleted, tier),
		counterField(counterFailed, tier),
	).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return m, err
	}
	if len(vals) == 2 {
		m.Completed = parseCounter(vals[0])
		m.Failed = parseCounter(vals[1])
	}
	return m, nil
}

func (b *RedisBroker) Counters(ctx context.Context) (map[string]int64, error) {
	raw, err := b.rdb.HGetAll(ctx, metricsKey).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(raw))
	for k, v := range raw {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			continue
		}
		out[k] = n
	}
	return out, nil
}

func parseCounter(v interface{}) int64 {
	s, ok := v.(string)
	if !ok {
		return 0
	}
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}
