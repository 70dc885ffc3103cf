package broker

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/voxqueue/tts/internal/model"
)

// SetHeartbeat refreshes the worker's liveness key and its registry entry
func (b *RedisBroker) SetHeartbeat(ctx context.Context, hb model.Heartbeat, ttl time.Duration) error {
	if hb.LastSeenAt.IsZero() {
		hb.LastSeenAt = time.Now().UTC()
	}
	data, err := json.Marshal(hb)
	if err != nil {
		return err
	}

	_, err = b.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, workerKey(hb.WorkerID), data, ttl)
		pipe.ZAdd(ctx, workersKey, redis.Z{
			Score:  float64(hb.LastSeenAt.Unix()),
			Member: hb.WorkerID,
		})
		return nil
	})
	return err
}

func (b *RedisBroker) DeleteHeartbeat(ctx context.Context, workerID string) error {
	_, err := b.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, workerKey(workerID))
		pipe.ZRem(ctx, workersKey, workerID)
		return nil
	})
	return err
}

func (b *RedisBroker) ListLiveHeartbeats(ctx context.Context, tier model.Tier) ([]model.Heartbeat, error) {
	if err := b.pruneRegistry(ctx); err != nil {
		return nil, err
	}
	ids, err := b.rdb.ZRange(ctx, workersKey, 0, -1).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = workerKey(id)
	}
	values, err := b.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	live := make([]model.Heartbeat, 0, len(values))
	for _, v := range values {
		// expired keys come back as nil
		s, ok := v.(string)
		if !ok {
			continue
		}
		var hb model.Heartbeat
		if err := json.Unmarshal([]byte(s), &hb); err != nil {
			continue
		}
		if tier != "" && hb.Tier != tier {
			continue
		}
		live = append(live, hb)
	}
	return live, nil
}

func (b *RedisBroker) KnownWorkers(ctx context.Context) (int, error) {
	if err := b.pruneRegistry(ctx); err != nil {
		return 0, err
	}
	n, err := b.rdb.ZCard(ctx, workersKey).Result()
	return int(n), err
}

func (b *RedisBroker) pruneRegistry(ctx context.Context) error {
	cutoff := time.Now().Add(-b.opts.RegistryRetention).Unix()
	return b.rdb.ZRemRangeByScore(ctx, workersKey, "-inf", "("+strconv.FormatInt(cutoff, 10)).Err()
}
