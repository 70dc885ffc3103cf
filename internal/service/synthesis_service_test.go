package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/voxqueue/tts/internal/broker"
	"github.com/voxqueue/tts/internal/config"
	"github.com/voxqueue/tts/internal/model"
	"github.com/voxqueue/tts/internal/telemetry"
	"github.com/voxqueue/tts/pkg/response"
)

type testEnv struct {
	mr      *miniredis.Miniredis
	broker  *broker.RedisBroker
	service *SynthesisService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	b := broker.NewRedisBroker(rdb, broker.Options{})
	metrics, err := telemetry.NewMetrics()
	require.NoError(t, err)

	svc := NewSynthesisService(b, validator.New(), Options{
		MaxTextLength:  50,
		DefaultTier:    model.TierHigh,
		DefaultTimeout: 5 * time.Second,
		MaxTimeout:     30 * time.Second,
		ResultTTL:      time.Minute,
		MaxQueueLength: map[model.Tier]int{model.TierHigh: 2, model.TierFast: 0},
	}, metrics)

	return &testEnv{mr: mr, broker: b, service: svc}
}

func (e *testEnv) queueLength(t *testing.T, tier model.Tier) int64 {
	t.Helper()
	n, err := e.broker.QueueLength(context.Background(), tier)
	require.NoError(t, err)
	return n
}

// complete plays the worker's part for the next job on tier
func (e *testEnv) complete(t *testing.T, tier model.Tier, audio []byte) *model.Job {
	t.Helper()
	ctx := context.Background()
	job, err := e.broker.BlockingPop(ctx, tier, time.Second)
	require.NoError(t, err)
	require.NotNil(t, job)
	require.NoError(t, e.broker.SetResult(ctx, &model.Result{
		JobID:          job.ID,
		Status:         model.JobStatusCompleted,
		Tier:           tier,
		GenerationTime: 0.42,
		AudioDuration:  1.5,
		QueueWait:      0.1,
		Chunks:         1,
		WorkerID:       "w1",
		CompletedAt:    time.Now().UTC(),
		Audio:          audio,
	}, time.Minute))
	return job
}

func (e *testEnv) fail(t *testing.T, tier model.Tier, code, msg string) *model.Job {
	t.Helper()
	ctx := context.Background()
	job, err := e.broker.BlockingPop(ctx, tier, time.Second)
	require.NoError(t, err)
	require.NotNil(t, job)
	require.NoError(t, e.broker.SetError(ctx, &model.ErrorRecord{
		JobID:       job.ID,
		Status:      model.JobStatusError,
		Tier:        tier,
		ErrorCode:   code,
		Message:     msg,
		CompletedAt: time.Now().UTC(),
	}, time.Minute))
	return job
}

func requireValidationCode(t *testing.T, err error, code, field string) {
	t.Helper()
	var verr *ValidationError
	require.True(t, errors.As(err, &verr), "expected ValidationError, got %v", err)
	assert.Equal(t, code, verr.Code)
	if field != "" {
		assert.Equal(t, field, verr.Field)
	}
}

func TestSubmitRejectsInvalidRequests(t *testing.T) {
	tests := []struct {
		name  string
		req   model.SynthesizeRequest
		code  string
		field string
	}{
		{"empty text", model.SynthesizeRequest{Text: ""}, response.CodeTextEmpty, "text"},
		{"whitespace text", model.SynthesizeRequest{Text: "  \n\t "}, response.CodeTextEmpty, "text"},
		{"text too long", model.SynthesizeRequest{Text: strings.Repeat("a", 51)}, response.CodeTextTooLong, "text"},
		{"audio without text", model.SynthesizeRequest{Text: "Hi", ReferenceAudio: []byte("RIFF")}, response.CodeReferencePairMismatch, ""},
		{"text without audio", model.SynthesizeRequest{Text: "Hi", ReferenceText: "words"}, response.CodeReferencePairMismatch, ""},
		{"bad gender", model.SynthesizeRequest{Text: "Hi", Gender: "robot"}, response.CodeInvalidVoiceParam, "gender"},
		{"bad style", model.SynthesizeRequest{Text: "Hi", Style: "opera"}, response.CodeInvalidVoiceParam, "style"},
		{"bad quality", model.SynthesizeRequest{Text: "Hi", Quality: "ultra"}, response.CodeValidationError, "quality"},
		{"speed too low", model.SynthesizeRequest{Text: "Hi", Speed: 0.1}, response.CodeValidationError, "speed"},
		{"timeout over max", model.SynthesizeRequest{Text: "Hi", Timeout: 31}, response.CodeValidationError, "timeout"},
		{"bad callback", model.SynthesizeRequest{Text: "Hi", CallbackURL: "not a url"}, response.CodeValidationError, "callbackUrl"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			req := tt.req

			_, err := env.service.SubmitAsync(context.Background(), &req)
			requireValidationCode(t, err, tt.code, tt.field)

			_, err = env.service.SubmitSync(context.Background(), &req)
			requireValidationCode(t, err, tt.code, tt.field)

			assert.Zero(t, env.queueLength(t, model.TierHigh))
			assert.Zero(t, env.queueLength(t, model.TierFast))
		})
	}
}

func TestSubmitAcceptsAutoVoiceAndMultibyteText(t *testing.T) {
	env := newTestEnv(t)

	// 50 runes, more than 50 bytes
	text := strings.Repeat("ế", 50)
	resp, err := env.service.SubmitAsync(context.Background(), &model.SynthesizeRequest{
		Text:    text,
		Gender:  model.VoiceAuto,
		Emotion: "happy",
	})
	require.NoError(t, err)

	job, err := env.broker.BlockingPop(context.Background(), model.TierHigh, time.Second)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, resp.JobID, job.ID)
	assert.Empty(t, job.Voice.Gender)
	assert.Equal(t, "happy", job.Voice.Emotion)
	assert.Equal(t, 1.0, job.Speed)
	assert.Equal(t, 5, job.TimeoutSeconds)
}

func TestSubmitAsync(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	first, err := env.service.SubmitAsync(ctx, &model.SynthesizeRequest{Text: "Hello", Quality: model.TierFast})
	require.NoError(t, err)
	assert.NotEmpty(t, first.JobID)
	assert.Equal(t, model.JobStatusPending, first.Status)
	assert.Equal(t, 0, first.QueuePosition)
	// default fast generation time with no samples and no workers
	assert.InDelta(t, 1.5, first.EstimatedWaitSeconds, 0.001)

	second, err := env.service.SubmitAsync(ctx, &model.SynthesizeRequest{Text: "Again", Quality: model.TierFast})
	require.NoError(t, err)
	assert.Equal(t, 1, second.QueuePosition)
	assert.InDelta(t, 3.0, second.EstimatedWaitSeconds, 0.001)
	assert.NotEqual(t, first.JobID, second.JobID)

	status, err := env.service.GetJob(ctx, second.JobID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusPending, status.Status)
	require.NotNil(t, status.QueuePosition)
	assert.Equal(t, 1, *status.QueuePosition)

	counters, err := env.broker.Counters(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), counters["jobs_submitted:fast"])
}

func TestEstimatedWaitSpreadsOverLiveWorkers(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	for _, id := range []string{"w1", "w2"} {
		require.NoError(t, env.broker.SetHeartbeat(ctx, model.Heartbeat{WorkerID: id, Tier: model.TierHigh}, time.Minute))
	}
	for i := 0; i < 4; i++ {
		require.NoError(t, env.broker.RecordCompleted(ctx, model.TierHigh, 2.0))
	}

	_, err := env.service.SubmitAsync(ctx, &model.SynthesizeRequest{Text: "one"})
	require.NoError(t, err)
	resp, err := env.service.SubmitAsync(ctx, &model.SynthesizeRequest{Text: "two"})
	require.NoError(t, err)

	// (1+1) x 2.0s / 2 workers
	assert.InDelta(t, 2.0, resp.EstimatedWaitSeconds, 0.001)
}

func TestSubmitRejectsWhenQueueFull(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := env.service.SubmitAsync(ctx, &model.SynthesizeRequest{Text: "Hello"})
		require.NoError(t, err)
	}

	_, err := env.service.SubmitAsync(ctx, &model.SynthesizeRequest{Text: "Hello"})
	assert.ErrorIs(t, err, ErrQueueFull)
	_, err = env.service.SubmitSync(ctx, &model.SynthesizeRequest{Text: "Hello"})
	assert.ErrorIs(t, err, ErrQueueFull)
	assert.Equal(t, int64(2), env.queueLength(t, model.TierHigh))

	// the fast queue is unbounded
	_, err = env.service.SubmitAsync(ctx, &model.SynthesizeRequest{Text: "Hello", Quality: model.TierFast})
	assert.NoError(t, err)
}

func TestSubmitSyncCompletes(t *testing.T) {
	env := newTestEnv(t)
	audio := []byte("RIFF....WAVE")

	go env.complete(t, model.TierFast, audio)

	res, err := env.service.SubmitSync(context.Background(), &model.SynthesizeRequest{Text: "Hello", Quality: model.TierFast})
	require.NoError(t, err)
	assert.NotEmpty(t, res.JobID)
	assert.Equal(t, audio, res.Audio)
	assert.Equal(t, 0.42, res.GenerationTime)
	assert.Equal(t, 1.5, res.AudioDuration)
	assert.Equal(t, 0, res.QueuePosition)
}

func TestSubmitSyncReportsWorkerError(t *testing.T) {
	env := newTestEnv(t)

	go env.fail(t, model.TierHigh, model.ErrorCodeEngine, "cuda out of memory")

	_, err := env.service.SubmitSync(context.Background(), &model.SynthesizeRequest{Text: "Hello"})
	require.ErrorIs(t, err, ErrSynthesisFailed)

	var jerr *JobError
	require.True(t, errors.As(err, &jerr))
	assert.Equal(t, model.ErrorCodeEngine, jerr.Code)
	assert.Equal(t, "cuda out of memory", jerr.Message)
	assert.NotEmpty(t, jerr.JobID)
}

func TestSubmitSyncTimesOutWithoutRetractingJob(t *testing.T) {
	env := newTestEnv(t)

	start := time.Now()
	_, err := env.service.SubmitSync(context.Background(), &model.SynthesizeRequest{Text: "Hello", Timeout: 1})
	require.ErrorIs(t, err, ErrSynthesisTimeout)
	assert.Less(t, time.Since(start), 5*time.Second)

	var jerr *JobError
	require.True(t, errors.As(err, &jerr))
	assert.Equal(t, int64(1), env.queueLength(t, model.TierHigh))

	status, err := env.service.GetJob(context.Background(), jerr.JobID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusPending, status.Status)
}

func TestSyncWaitersDoNotStarveOtherCalls(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), PoolSize: 2, PoolTimeout: 500 * time.Millisecond})
	waitRdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), PoolSize: 3})
	t.Cleanup(func() {
		rdb.Close()
		waitRdb.Close()
	})

	b := broker.NewRedisBroker(rdb, broker.Options{WaitClient: waitRdb})
	metrics, err := telemetry.NewMetrics()
	require.NoError(t, err)
	svc := NewSynthesisService(b, validator.New(), Options{
		MaxTextLength:  50,
		DefaultTier:    model.TierHigh,
		DefaultTimeout: 5 * time.Second,
		MaxTimeout:     30 * time.Second,
		ResultTTL:      time.Minute,
		MaxSyncWaiters: 3,
	}, metrics)
	env := &testEnv{mr: mr, broker: b, service: svc}
	ctx := context.Background()

	errs := make(chan error, 3)
	for i := 0; i < 3; i++ {
		go func() {
			_, err := svc.SubmitSync(ctx, &model.SynthesizeRequest{Text: "Hello", Quality: model.TierFast, Timeout: 10})
			errs <- err
		}()
	}
	require.Eventually(t, func() bool {
		n, err := b.QueueLength(ctx, model.TierFast)
		return err == nil && n == 3
	}, 2*time.Second, 20*time.Millisecond)
	// let the waiters park on their done keys
	time.Sleep(200 * time.Millisecond)

	_, err = svc.Health(ctx)
	require.NoError(t, err)
	_, err = svc.SubmitAsync(ctx, &model.SynthesizeRequest{Text: "Hello"})
	require.NoError(t, err)

	_, err = svc.SubmitSync(ctx, &model.SynthesizeRequest{Text: "Hello", Quality: model.TierFast})
	require.ErrorIs(t, err, ErrSyncCapacity)
	assert.Equal(t, int64(3), env.queueLength(t, model.TierFast))

	for i := 0; i < 3; i++ {
		env.complete(t, model.TierFast, []byte("wav"))
	}
	for i := 0; i < 3; i++ {
		select {
		case err := <-errs:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("synchronous waiter never returned")
		}
	}
}

func TestOptionsFromConfig(t *testing.T) {
	cfg := &config.Config{
		Text:  config.TextConfig{MaxLength: 500},
		Queue: config.QueueConfig{MaxLengthHigh: 10, MaxLengthFast: 20},
		Job: config.JobConfig{
			DefaultTier:    "fast",
			DefaultTimeout: 30 * time.Second,
			MaxSyncWaiters: 7,
		},
		Worker: config.WorkerConfig{Tier: "high"},
	}

	opts := OptionsFromConfig(cfg)
	assert.Equal(t, model.TierFast, opts.DefaultTier)
	assert.Equal(t, 7, opts.MaxSyncWaiters)
	assert.Equal(t, 10, opts.MaxQueueLength[model.TierHigh])
	assert.Equal(t, 20, opts.MaxQueueLength[model.TierFast])
}

func TestGetJobLifecycle(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.service.GetJob(ctx, "missing")
	assert.ErrorIs(t, err, ErrJobNotFound)

	submitted, err := env.service.SubmitAsync(ctx, &model.SynthesizeRequest{Text: "Hello"})
	require.NoError(t, err)

	_, err = env.service.GetAudio(ctx, submitted.JobID)
	require.ErrorIs(t, err, ErrJobNotCompleted)
	var nc *NotCompletedError
	require.True(t, errors.As(err, &nc))
	assert.Equal(t, model.JobStatusPending, nc.Status)

	env.complete(t, model.TierHigh, []byte("wav"))

	status, err := env.service.GetJob(ctx, submitted.JobID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCompleted, status.Status)
	assert.Equal(t, "/job/"+submitted.JobID+"/audio", status.AudioURL)
	assert.Nil(t, status.QueuePosition)
	require.NotNil(t, status.GenerationTime)
	assert.Equal(t, 0.42, *status.GenerationTime)

	audio, err := env.service.GetAudio(ctx, submitted.JobID)
	require.NoError(t, err)
	assert.Equal(t, []byte("wav"), audio)

	// transient records expire
	env.mr.FastForward(2 * time.Minute)
	_, err = env.service.GetJob(ctx, submitted.JobID)
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestGetJobError(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	submitted, err := env.service.SubmitAsync(ctx, &model.SynthesizeRequest{Text: "Hello"})
	require.NoError(t, err)
	env.fail(t, model.TierHigh, model.ErrorCodeEmptyAudio, "chunk 1/1 produced no audio")

	status, err := env.service.GetJob(ctx, submitted.JobID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusError, status.Status)
	require.NotNil(t, status.Error)
	assert.Equal(t, model.ErrorCodeEmptyAudio, status.Error.Code)
	assert.Empty(t, status.AudioURL)

	_, err = env.service.GetAudio(ctx, submitted.JobID)
	assert.ErrorIs(t, err, ErrJobNotCompleted)
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	health, err := env.service.Health(ctx)
	require.NoError(t, err)
	assert.Equal(t, "degraded", health.Status)
	assert.Zero(t, health.Workers.Active)
	assert.Equal(t, int64(0), health.QueueSize[model.TierHigh])
	assert.Equal(t, 3.0, health.Metrics[model.TierHigh].AvgGenerationTime)

	require.NoError(t, env.broker.SetHeartbeat(ctx, model.Heartbeat{WorkerID: "w1", Tier: model.TierFast}, 10*time.Second))
	_, err = env.service.SubmitAsync(ctx, &model.SynthesizeRequest{Text: "Hello"})
	require.NoError(t, err)

	health, err = env.service.Health(ctx)
	require.NoError(t, err)
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, 1, health.Workers.Active)
	assert.Equal(t, 1, health.Workers.Total)
	assert.Equal(t, []string{"w1"}, health.Workers.ByTier[model.TierFast])
	assert.Empty(t, health.Workers.ByTier[model.TierHigh])
	assert.Equal(t, int64(1), health.QueueSize[model.TierHigh])

	// an expired heartbeat leaves the active count but stays in the registry
	env.mr.FastForward(11 * time.Second)
	health, err = env.service.Health(ctx)
	require.NoError(t, err)
	assert.Zero(t, health.Workers.Active)
	assert.Equal(t, 1, health.Workers.Total)
}

func TestBrokerUnavailable(t *testing.T) {
	env := newTestEnv(t)
	env.mr.Close()
	ctx := context.Background()

	_, err := env.service.Health(ctx)
	assert.ErrorIs(t, err, ErrBrokerUnavailable)

	_, err = env.service.SubmitAsync(ctx, &model.SynthesizeRequest{Text: "Hello"})
	assert.ErrorIs(t, err, ErrBrokerUnavailable)

	_, err = env.service.GetJob(ctx, "any")
	assert.ErrorIs(t, err, ErrBrokerUnavailable)
}

func TestListVoices(t *testing.T) {
	env := newTestEnv(t)

	voices := env.service.ListVoices()
	assert.Contains(t, voices.Gender, model.GenderFemale)
	assert.Contains(t, voices.Area, model.AreaCentral)
	assert.Len(t, voices.Emotion, 7)
	assert.Contains(t, voices.Style, model.StyleAudiobook)
	assert.Equal(t, []model.Tier{model.TierHigh, model.TierFast}, voices.Quality)
}
