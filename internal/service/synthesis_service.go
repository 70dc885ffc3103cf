package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"reflect"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/voxqueue/tts/internal/broker"
	"github.com/voxqueue/tts/internal/config"
	"github.com/voxqueue/tts/internal/logger"
	"github.com/voxqueue/tts/internal/model"
	"github.com/voxqueue/tts/internal/telemetry"
	"github.com/voxqueue/tts/pkg/response"
)

const healthTimeout = 2 * time.Second

// Options are the gateway limits applied to every submission
type Options struct {
	MaxTextLength  int
	DefaultTier    model.Tier
	DefaultTimeout time.Duration
	MaxTimeout     time.Duration
	ResultTTL      time.Duration
	MaxQueueLength map[model.Tier]int
	MaxSyncWaiters int
}

// OptionsFromConfig maps the loaded configuration onto service options
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		MaxTextLength:  cfg.Text.MaxLength,
		DefaultTier:    model.Tier(cfg.Job.DefaultTier),
		DefaultTimeout: cfg.Job.DefaultTimeout,
		MaxTimeout:     cfg.Job.MaxTimeout,
		ResultTTL:      cfg.Job.ResultTTL,
		MaxQueueLength: map[model.Tier]int{
			model.TierHigh: cfg.Queue.MaxLength(string(model.TierHigh)),
			model.TierFast: cfg.Queue.MaxLength(string(model.TierFast)),
		},
		MaxSyncWaiters: cfg.Job.MaxSyncWaiters,
	}
}

// SyncResult is the outcome of a synchronous submission that completed
type SyncResult struct {
	JobID          string
	Audio          []byte
	GenerationTime float64
	AudioDuration  float64
	QueueWait      float64
	QueuePosition  int
}

// SynthesisService validates requests, enqueues jobs and reads their results back
type SynthesisService struct {
	broker    broker.Broker
	validator *validator.Validate
	opts      Options
	metrics   *telemetry.Metrics

	// one slot per blocked SubmitSync; nil when unbounded
	waiters chan struct{}
}

func NewSynthesisService(b broker.Broker, v *validator.Validate, opts Options, metrics *telemetry.Metrics) *SynthesisService {
	if !opts.DefaultTier.IsValid() {
		opts.DefaultTier = model.TierHigh
	}
	v.RegisterTagNameFunc(jsonFieldName)
	s := &SynthesisService{
		broker:    b,
		validator: v,
		opts:      opts,
		metrics:   metrics,
	}
	if opts.MaxSyncWaiters > 0 {
		s.waiters = make(chan struct{}, opts.MaxSyncWaiters)
	}
	return s
}

// SubmitSync enqueues a job and blocks until it finishes or its timeout elapses.
// A timed-out job stays queued; its result simply expires unread.
func (s *SynthesisService) SubmitSync(ctx context.Context, req *model.SynthesizeRequest) (*SyncResult, error) {
	job, err := s.buildJob(ctx, req)
	if err != nil {
		return nil, err
	}
	if !s.acquireWaiter() {
		s.metrics.JobRejected(ctx, response.CodeQueueFull)
		logger.Warnf("Rejected synchronous job: %d waiters already blocked", s.opts.MaxSyncWaiters)
		return nil, ErrSyncCapacity
	}
	defer s.releaseWaiter()

	position, err := s.enqueue(ctx, job)
	if err != nil {
		return nil, err
	}

	waitStart := time.Now()
	done, err := s.broker.WaitDone(ctx, job.ID, time.Duration(job.TimeoutSeconds)*time.Second)
	if err != nil {
		return nil, fmt.Errorf("%w: wait for job %s: %v", ErrBrokerUnavailable, job.ID, err)
	}
	if !done {
		s.metrics.SyncWaited(ctx, "timeout", time.Since(waitStart).Seconds())
		logger.Warnf("Job %s: synchronous wait timed out after %ds", job.ID, job.TimeoutSeconds)
		return nil, &JobError{JobID: job.ID, Err: ErrSynthesisTimeout}
	}

	status, err := s.broker.GetStatus(ctx, job.ID)
	if err != nil {
		return nil, s.lookupError(job.ID, err)
	}
	if status.Status == model.JobStatusError {
		s.metrics.SyncWaited(ctx, string(model.JobStatusError), time.Since(waitStart).Seconds())
		return nil, s.failedJob(ctx, job.ID)
	}

	res, err := s.broker.GetResult(ctx, job.ID)
	if err != nil {
		return nil, s.lookupError(job.ID, err)
	}
	audio, err := s.broker.GetAudio(ctx, job.ID)
	if err != nil {
		return nil, s.lookupError(job.ID, err)
	}
	s.metrics.SyncWaited(ctx, string(model.JobStatusCompleted), time.Since(waitStart).Seconds())

	return &SyncResult{
		JobID:          job.ID,
		Audio:          audio,
		GenerationTime: res.GenerationTime,
		AudioDuration:  res.AudioDuration,
		QueueWait:      res.QueueWait,
		QueuePosition:  position,
	}, nil
}

// SubmitAsync enqueues a job and returns its handle immediately
func (s *SynthesisService) SubmitAsync(ctx context.Context, req *model.SynthesizeRequest) (*model.SynthesizeAsyncResponse, error) {
	job, err := s.buildJob(ctx, req)
	if err != nil {
		return nil, err
	}
	position, err := s.enqueue(ctx, job)
	if err != nil {
		return nil, err
	}

	return &model.SynthesizeAsyncResponse{
		JobID:                job.ID,
		Status:               model.JobStatusPending,
		QueuePosition:        position,
		EstimatedWaitSeconds: s.estimatedWait(ctx, job.Tier, position),
		CreatedAt:            job.CreatedAt,
	}, nil
}

// GetJob returns the status projection of a job, with its result or error once resolved
func (s *SynthesisService) GetJob(ctx context.Context, jobID string) (*model.JobStatusResponse, error) {
	status, err := s.broker.GetStatus(ctx, jobID)
	if err != nil {
		return nil, s.lookupError(jobID, err)
	}

	resp := &model.JobStatusResponse{
		JobID:  jobID,
		Status: status.Status,
	}

	switch status.Status {
	case model.JobStatusPending:
		pos, err := s.broker.QueuePosition(ctx, status.Tier, jobID)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBrokerUnavailable, err)
		}
		if pos >= 0 {
			resp.QueuePosition = &pos
		}

	case model.JobStatusCompleted:
		res, err := s.broker.GetResult(ctx, jobID)
		if err != nil {
			return nil, s.lookupError(jobID, err)
		}
		resp.AudioURL = AudioURL(jobID)
		resp.ArchiveURL = res.ArchiveURL
		resp.GenerationTime = &res.GenerationTime
		resp.AudioDuration = &res.AudioDuration

	case model.JobStatusError:
		rec, err := s.broker.GetError(ctx, jobID)
		if err != nil {
			return nil, s.lookupError(jobID, err)
		}
		resp.Error = &model.JobError{Code: rec.ErrorCode, Message: rec.Message}
	}

	return resp, nil
}

// GetAudio returns the WAV bytes of a completed job
func (s *SynthesisService) GetAudio(ctx context.Context, jobID string) ([]byte, error) {
	status, err := s.broker.GetStatus(ctx, jobID)
	if err != nil {
		return nil, s.lookupError(jobID, err)
	}
	if status.Status != model.JobStatusCompleted {
		return nil, &NotCompletedError{Status: status.Status}
	}

	audio, err := s.broker.GetAudio(ctx, jobID)
	if err != nil {
		return nil, s.lookupError(jobID, err)
	}
	return audio, nil
}

// Health aggregates queue depth, live heartbeats and rolling metrics. It returns
// ErrBrokerUnavailable when the broker cannot be reached.
func (s *SynthesisService) Health(ctx context.Context) (*model.HealthResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()

	if err := s.broker.Ping(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBrokerUnavailable, err)
	}

	resp := &model.HealthResponse{
		Status:    "healthy",
		QueueSize: make(map[model.Tier]int64, len(model.ValidTiers)),
		Metrics:   make(map[model.Tier]model.TierMetrics, len(model.ValidTiers)),
		Workers: model.WorkersSummary{
			ByTier: make(map[model.Tier][]string, len(model.ValidTiers)),
		},
	}

	for _, tier := range model.ValidTiers {
		n, err := s.broker.QueueLength(ctx, tier)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBrokerUnavailable, err)
		}
		resp.QueueSize[tier] = n

		m, err := s.broker.TierMetrics(ctx, tier)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBrokerUnavailable, err)
		}
		resp.Metrics[tier] = m
		resp.Workers.ByTier[tier] = []string{}
	}

	live, err := s.broker.ListLiveHeartbeats(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBrokerUnavailable, err)
	}
	for _, hb := range live {
		resp.Workers.ByTier[hb.Tier] = append(resp.Workers.ByTier[hb.Tier], hb.WorkerID)
	}
	resp.Workers.Active = len(live)

	known, err := s.broker.KnownWorkers(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBrokerUnavailable, err)
	}
	resp.Workers.Total = max(known, resp.Workers.Active)

	if counters, err := s.broker.Counters(ctx); err == nil {
		resp.Counters = counters
	}

	if resp.Workers.Active == 0 {
		resp.Status = "degraded"
	}
	return resp, nil
}

// ListVoices returns the static voice catalog
func (s *SynthesisService) ListVoices() *model.VoicesResponse {
	return &model.VoicesResponse{
		Gender:  model.ValidGenders,
		Area:    model.ValidAreas,
		Emotion: model.ValidEmotions,
		Style:   model.ValidStyles,
		Quality: model.ValidTiers,
	}
}

// AudioURL is the gateway path serving a completed job's audio
func AudioURL(jobID string) string {
	return fmt.Sprintf("/job/%s/audio", jobID)
}

// validate checks a request without touching the broker
func (s *SynthesisService) validate(req *model.SynthesizeRequest) error {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return &ValidationError{Code: response.CodeTextEmpty, Field: "text", Message: "text must not be empty"}
	}
	if n := utf8.RuneCountInString(text); n > s.opts.MaxTextLength {
		return &ValidationError{
			Code:    response.CodeTextTooLong,
			Field:   "text",
			Message: fmt.Sprintf("text is %d characters, maximum is %d", n, s.opts.MaxTextLength),
		}
	}

	if (len(req.ReferenceAudio) > 0) != (req.ReferenceText != "") {
		return &ValidationError{
			Code:    response.CodeReferencePairMismatch,
			Field:   "referenceAudio",
			Message: "referenceAudio and referenceText must be provided together",
		}
	}

	voice := req.Voice()
	if err := s.validator.Struct(&voice); err != nil {
		return toValidationError(err, response.CodeInvalidVoiceParam)
	}
	if err := s.validator.Struct(req); err != nil {
		return toValidationError(err, response.CodeValidationError)
	}

	if req.Timeout > 0 && time.Duration(req.Timeout)*time.Second > s.opts.MaxTimeout {
		return &ValidationError{
			Code:    response.CodeValidationError,
			Field:   "timeout",
			Message: fmt.Sprintf("timeout must not exceed %d seconds", int(s.opts.MaxTimeout.Seconds())),
		}
	}
	return nil
}

func (s *SynthesisService) buildJob(ctx context.Context, req *model.SynthesizeRequest) (*model.Job, error) {
	if err := s.validate(req); err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			s.metrics.JobRejected(ctx, verr.Code)
		}
		return nil, err
	}

	speed := req.Speed
	if speed == 0 {
		speed = 1.0
	}
	tier := req.Quality
	if tier == "" {
		tier = s.opts.DefaultTier
	}
	timeout := s.opts.DefaultTimeout
	if req.Timeout > 0 {
		timeout = time.Duration(req.Timeout) * time.Second
	}

	return &model.Job{
		ID:             uuid.New().String(),
		Text:           strings.TrimSpace(req.Text),
		Voice:          req.Voice().Normalized(),
		Speed:          speed,
		Tier:           tier,
		ReferenceAudio: req.ReferenceAudio,
		ReferenceText:  req.ReferenceText,
		TrimAudioTo:    req.TrimAudioTo,
		CallbackURL:    req.CallbackURL,
		CreatedAt:      time.Now().UTC(),
		TimeoutSeconds: int(math.Ceil(timeout.Seconds())),
	}, nil
}

func (s *SynthesisService) acquireWaiter() bool {
	if s.waiters == nil {
		return true
	}
	select {
	case s.waiters <- struct{}{}:
		return true
	default:
		return false
	}
}

func (s *SynthesisService) releaseWaiter() {
	if s.waiters != nil {
		<-s.waiters
	}
}

func (s *SynthesisService) enqueue(ctx context.Context, job *model.Job) (int, error) {
	statusTTL := s.opts.ResultTTL + time.Duration(job.TimeoutSeconds)*time.Second
	position, err := s.broker.Push(ctx, job, s.opts.MaxQueueLength[job.Tier], statusTTL)
	if errors.Is(err, broker.ErrQueueFull) {
		s.metrics.JobRejected(ctx, response.CodeQueueFull)
		logger.Warnf("Rejected job: %s queue is full", job.Tier)
		return 0, &QueueFullError{Tier: job.Tier}
	}
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrBrokerUnavailable, err)
	}

	if err := s.broker.RecordSubmitted(ctx, job.Tier); err != nil {
		logger.Warnf("Job %s: failed to record submission: %v", job.ID, err)
	}
	s.metrics.JobSubmitted(ctx, string(job.Tier))
	logger.Infof("Job %s enqueued (tier=%s, position=%d, chars=%d, timeout=%ds)",
		job.ID, job.Tier, position, utf8.RuneCountInString(job.Text), job.TimeoutSeconds)
	return position, nil
}

// estimatedWait is (position+1) x rolling average generation time, spread over the tier's live workers
func (s *SynthesisService) estimatedWait(ctx context.Context, tier model.Tier, position int) float64 {
	m, err := s.broker.TierMetrics(ctx, tier)
	if err != nil {
		logger.Warnf("Failed to read %s metrics: %v", tier, err)
	}
	workers := 1
	if live, err := s.broker.ListLiveHeartbeats(ctx, tier); err == nil && len(live) > 1 {
		workers = len(live)
	}
	wait := float64(position+1) * m.AvgGenerationTime / float64(workers)
	return math.Round(wait*100) / 100
}

func (s *SynthesisService) failedJob(ctx context.Context, jobID string) error {
	rec, err := s.broker.GetError(ctx, jobID)
	if err != nil {
		return s.lookupError(jobID, err)
	}
	return &JobError{JobID: jobID, Code: rec.ErrorCode, Message: rec.Message, Err: ErrSynthesisFailed}
}

func (s *SynthesisService) lookupError(jobID string, err error) error {
	if errors.Is(err, broker.ErrNotFound) {
		return ErrJobNotFound
	}
	return fmt.Errorf("%w: job %s: %v", ErrBrokerUnavailable, jobID, err)
}

func toValidationError(err error, code string) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return &ValidationError{Code: code, Message: err.Error()}
	}
	fe := verrs[0]
	msg := fmt.Sprintf("failed on %q", fe.Tag())
	if fe.Param() != "" {
		msg = fmt.Sprintf("must satisfy %s=%s", fe.Tag(), fe.Param())
	}
	return &ValidationError{Code: code, Field: fe.Field(), Message: msg}
}

func jsonFieldName(f reflect.StructField) string {
	name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
	if name == "-" || name == "" {
		return f.Name
	}
	return name
}
