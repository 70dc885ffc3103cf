package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/voxqueue/tts/internal/audio"
	"github.com/voxqueue/tts/internal/broker"
	"github.com/voxqueue/tts/internal/callback"
	"github.com/voxqueue/tts/internal/client"
	"github.com/voxqueue/tts/internal/engine"
	"github.com/voxqueue/tts/internal/logger"
	"github.com/voxqueue/tts/internal/model"
	"github.com/voxqueue/tts/internal/telemetry"
)

// Config holds the per-process settings of a worker
type Config struct {
	ID                string
	Tier              model.Tier
	HeartbeatInterval time.Duration
	HeartbeatTTL      time.Duration
	PollInterval      time.Duration
	ResultTTL         time.Duration
	Crossfade         time.Duration
	Chunker           audio.Chunker
}

// Worker owns one engine and processes one job at a time from its tier queue
type Worker struct {
	cfg       Config
	broker    broker.Broker
	engine    engine.Engine
	archiver  client.Archiver
	callbacks callback.Enqueuer
	metrics   *telemetry.Metrics

	mu         sync.RWMutex
	state      model.WorkerState
	currentJob string
	startedAt  time.Time

	processed int64
	draining  atomic.Bool

	// newBackOff is swapped in tests
	newBackOff func() backoff.BackOff
}

type Option func(*Worker)

// WithArchiver copies finished audio to object storage
func WithArchiver(a client.Archiver) Option {
	return func(w *Worker) { w.archiver = a }
}

// WithCallbacks schedules webhook delivery for jobs that carry a callback URL
func WithCallbacks(e callback.Enqueuer) Option {
	return func(w *Worker) { w.callbacks = e }
}

func WithMetrics(m *telemetry.Metrics) Option {
	return func(w *Worker) { w.metrics = m }
}

func New(cfg Config, b broker.Broker, e engine.Engine, opts ...Option) (*Worker, error) {
	if cfg.ID == "" {
		return nil, errors.New("worker id is required")
	}
	if !cfg.Tier.IsValid() {
		return nil, fmt.Errorf("invalid tier %q", cfg.Tier)
	}
	if cfg.HeartbeatTTL <= cfg.HeartbeatInterval {
		return nil, fmt.Errorf("heartbeat ttl %s must exceed interval %s", cfg.HeartbeatTTL, cfg.HeartbeatInterval)
	}

	w := &Worker{
		cfg:    cfg,
		broker: b,
		engine: e,
		state:  model.WorkerStateStarting,
		newBackOff: func() backoff.BackOff {
			eb := backoff.NewExponentialBackOff()
			eb.InitialInterval = 500 * time.Millisecond
			eb.MaxInterval = 30 * time.Second
			return eb
		},
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.metrics == nil {
		m, err := telemetry.NewMetrics()
		if err != nil {
			return nil, err
		}
		w.metrics = m
	}
	return w, nil
}

// State returns the current lifecycle state
func (w *Worker) State() model.WorkerState {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.state
}

func (w *Worker) setState(s model.WorkerState) {
	w.mu.Lock()
	prev := w.state
	w.state = s
	w.mu.Unlock()
	if prev != s {
		logger.Infof("Worker %s: %s -> %s", w.cfg.ID, prev, s)
	}
}

func (w *Worker) beginJob(jobID string) {
	w.mu.Lock()
	w.currentJob = jobID
	w.mu.Unlock()
	w.setState(model.WorkerStateProcessing)
}

func (w *Worker) endJob() {
	atomic.AddInt64(&w.processed, 1)
	w.mu.Lock()
	w.currentJob = ""
	w.mu.Unlock()
	if w.draining.Load() {
		w.setState(model.WorkerStateDraining)
		return
	}
	w.setState(model.WorkerStateIdle)
}

// markDraining stops further dequeues. An in-flight job keeps the Processing
// state until it finishes.
func (w *Worker) markDraining() {
	w.draining.Store(true)
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state == model.WorkerStateIdle {
		w.state = model.WorkerStateDraining
		logger.Infof("Worker %s: %s -> %s", w.cfg.ID, model.WorkerStateIdle, model.WorkerStateDraining)
	}
}

// Run loads the engine and serves the tier queue until ctx is cancelled. A job
// already dequeued when ctx ends is always finished before Run returns.
func (w *Worker) Run(ctx context.Context) error {
	w.mu.Lock()
	w.startedAt = time.Now().UTC()
	w.mu.Unlock()
	w.setState(model.WorkerStateStarting)

	if err := w.waitForBroker(ctx); err != nil {
		w.setState(model.WorkerStateStopped)
		return fmt.Errorf("connect to broker: %w", err)
	}

	loadStart := time.Now()
	if err := w.engine.Load(ctx); err != nil {
		w.setState(model.WorkerStateStopped)
		return fmt.Errorf("load engine: %w", err)
	}
	logger.Infof("Worker %s loaded engine in %s", w.cfg.ID, time.Since(loadStart).Round(time.Millisecond))

	w.setState(model.WorkerStateIdle)
	w.beat()

	hbCtx, stopHeartbeat := context.WithCancel(context.Background())
	hbDone := make(chan struct{})
	go func() {
		defer close(hbDone)
		w.heartbeatLoop(hbCtx)
	}()

	go func() {
		<-ctx.Done()
		w.markDraining()
	}()

	popBackOff := w.newBackOff()
	for ctx.Err() == nil {
		w.beat()

		// The pop is not tied to ctx so a job taken off the queue is never dropped mid-reply
		job, err := w.broker.BlockingPop(context.Background(), w.cfg.Tier, w.cfg.PollInterval)
		if err != nil {
			if errors.Is(err, broker.ErrMalformedJob) {
				logger.Errorf("Worker %s discarded job: %v", w.cfg.ID, err)
				continue
			}
			// Errors such as WRONGTYPE come back instantly while Ping still succeeds
			next := popBackOff.NextBackOff()
			if next == backoff.Stop {
				next = w.cfg.PollInterval
			}
			logger.Warnf("Worker %s pop failed (retry in %s): %v", w.cfg.ID, next.Round(time.Millisecond), err)
			if !sleepCtx(ctx, next) {
				break
			}
			if err := w.waitForBroker(ctx); err != nil {
				break
			}
			continue
		}
		popBackOff.Reset()
		if job == nil {
			continue
		}

		w.process(job)
	}

	w.setState(model.WorkerStateDraining)
	stopHeartbeat()
	<-hbDone

	cleanupCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := w.broker.DeleteHeartbeat(cleanupCtx, w.cfg.ID); err != nil {
		logger.Warnf("Worker %s failed to delete heartbeat: %v", w.cfg.ID, err)
	}
	if err := w.engine.Close(); err != nil {
		logger.Warnf("Worker %s failed to close engine: %v", w.cfg.ID, err)
	}
	w.setState(model.WorkerStateStopped)
	return nil
}

func (w *Worker) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.beat()
		}
	}
}

// Heartbeat snapshots the worker for the liveness record
func (w *Worker) Heartbeat() model.Heartbeat {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return model.Heartbeat{
		WorkerID:      w.cfg.ID,
		Tier:          w.cfg.Tier,
		State:         w.state,
		CurrentJobID:  w.currentJob,
		JobsProcessed: atomic.LoadInt64(&w.processed),
		StartedAt:     w.startedAt,
		LastSeenAt:    time.Now().UTC(),
	}
}

func (w *Worker) beat() {
	ctx, cancel := context.WithTimeout(context.Background(), w.cfg.HeartbeatInterval)
	defer cancel()
	if err := w.broker.SetHeartbeat(ctx, w.Heartbeat(), w.cfg.HeartbeatTTL); err != nil {
		logger.Warnf("Worker %s heartbeat failed: %v", w.cfg.ID, err)
	}
}

// sleepCtx waits for d and reports false if ctx ended first
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// waitForBroker retries Ping with exponential backoff until it succeeds or ctx ends
func (w *Worker) waitForBroker(ctx context.Context) error {
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return struct{}{}, w.broker.Ping(pingCtx)
	},
		backoff.WithBackOff(w.newBackOff()),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			logger.Warnf("Worker %s waiting for broker (retry in %s): %v", w.cfg.ID, next.Round(time.Millisecond), err)
		}),
	)
	return err
}
