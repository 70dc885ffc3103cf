package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/voxqueue/tts/internal/audio"
	"github.com/voxqueue/tts/internal/logger"
	"github.com/voxqueue/tts/internal/model"
	"github.com/voxqueue/tts/pkg/response"
)

const (
	samplesKey        = "tts:samples"
	sampleAudioPrefix = "tts:sample:audio:"

	defaultMaxSamples = 3
)

func sampleAudioKey(id string) string { return sampleAudioPrefix + id }

// VoiceSampleService keeps a small library of cloning references in redis.
// Samples do not expire.
type VoiceSampleService struct {
	redis      *redis.Client
	validator  *validator.Validate
	maxDefault int
}

// NewVoiceSampleService keeps at most maxDefault unnamed samples
func NewVoiceSampleService(redisClient *redis.Client, v *validator.Validate, maxDefault int) *VoiceSampleService {
	if maxDefault <= 0 {
		maxDefault = defaultMaxSamples
	}
	v.RegisterTagNameFunc(jsonFieldName)
	return &VoiceSampleService{
		redis:      redisClient,
		validator:  v,
		maxDefault: maxDefault,
	}
}

// Create stores the silence-trimmed audio as a new sample. Saving an unnamed
// sample evicts the oldest unnamed ones beyond the limit.
func (s *VoiceSampleService) Create(ctx context.Context, req *model.VoiceSampleCreateRequest) (*model.VoiceSample, error) {
	req.ReferenceText = strings.TrimSpace(req.ReferenceText)
	if err := s.validator.Struct(req); err != nil {
		return nil, toValidationError(err, response.CodeValidationError)
	}

	clip, err := audio.DecodeWAV(req.Audio)
	if err != nil {
		return nil, &ValidationError{Code: response.CodeValidationError, Field: "audio", Message: fmt.Sprintf("Invalid audio data: %v", err)}
	}
	trimmed := clip.TrimSilence(audio.SilenceThreshold)
	if len(trimmed.Samples) == 0 {
		return nil, &ValidationError{Code: response.CodeValidationError, Field: "audio", Message: "Audio is silent"}
	}
	wav, err := audio.EncodeWAV(trimmed)
	if err != nil {
		return nil, fmt.Errorf("encode sample: %w", err)
	}

	name := strings.TrimSpace(req.Name)
	sample := model.VoiceSample{
		ID:            uuid.New().String()[:8],
		Name:          name,
		ReferenceText: req.ReferenceText,
		CreatedAt:     time.Now().UTC(),
		IsNamed:       name != "",
	}
	data, err := json.Marshal(sample)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal sample: %w", err)
	}

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, samplesKey, sample.ID, data)
		pipe.Set(ctx, sampleAudioKey(sample.ID), wav, 0)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: save sample: %v", ErrBrokerUnavailable, err)
	}
	logger.Infof("Voice sample %s saved (named=%t, %s after trim)", sample.ID, sample.IsNamed, trimmed.Duration().Round(time.Millisecond))

	if !sample.IsNamed {
		if err := s.evictDefaults(ctx); err != nil {
			logger.Warnf("Failed to evict old voice samples: %v", err)
		}
	}
	return &sample, nil
}

// List returns named samples first, newest first within each group
func (s *VoiceSampleService) List(ctx context.Context) (*model.VoiceSampleListResponse, error) {
	samples, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	sort.Slice(samples, func(i, j int) bool {
		if samples[i].IsNamed != samples[j].IsNamed {
			return samples[i].IsNamed
		}
		return samples[i].CreatedAt.After(samples[j].CreatedAt)
	})
	return &model.VoiceSampleListResponse{Samples: samples}, nil
}

func (s *VoiceSampleService) GetAudio(ctx context.Context, id string) (*model.VoiceSampleAudioResponse, error) {
	data, err := s.redis.HGet(ctx, samplesKey, id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrSampleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBrokerUnavailable, err)
	}
	var sample model.VoiceSample
	if err := json.Unmarshal(data, &sample); err != nil {
		return nil, fmt.Errorf("decode sample %s: %w", id, err)
	}

	wav, err := s.redis.Get(ctx, sampleAudioKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrSampleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBrokerUnavailable, err)
	}
	return &model.VoiceSampleAudioResponse{Audio: wav, ReferenceText: sample.ReferenceText}, nil
}

func (s *VoiceSampleService) Delete(ctx context.Context, id string) error {
	removed, err := s.redis.HDel(ctx, samplesKey, id).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBrokerUnavailable, err)
	}
	if removed == 0 {
		return ErrSampleNotFound
	}
	if err := s.redis.Del(ctx, sampleAudioKey(id)).Err(); err != nil {
		logger.Warnf("Voice sample %s: failed to delete audio: %v", id, err)
	}
	logger.Infof("Voice sample %s deleted", id)
	return nil
}

func (s *VoiceSampleService) load(ctx context.Context) ([]model.VoiceSample, error) {
	all, err := s.redis.HGetAll(ctx, samplesKey).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBrokerUnavailable, err)
	}
	samples := make([]model.VoiceSample, 0, len(all))
	for id, data := range all {
		var sample model.VoiceSample
		if err := json.Unmarshal([]byte(data), &sample); err != nil {
			logger.Warnf("Skipping unreadable voice sample %s: %v", id, err)
			continue
		}
		samples = append(samples, sample)
	}
	return samples, nil
}

func (s *VoiceSampleService) evictDefaults(ctx context.Context) error {
	samples, err := s.load(ctx)
	if err != nil {
		return err
	}
	var unnamed []model.VoiceSample
	for _, sample := range samples {
		if !sample.IsNamed {
			unnamed = append(unnamed, sample)
		}
	}
	if len(unnamed) <= s.maxDefault {
		return nil
	}

	sort.Slice(unnamed, func(i, j int) bool { return unnamed[i].CreatedAt.Before(unnamed[j].CreatedAt) })
	for _, old := range unnamed[:len(unnamed)-s.maxDefault] {
		_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HDel(ctx, samplesKey, old.ID)
			pipe.Del(ctx, sampleAudioKey(old.ID))
			return nil
		})
		if err != nil {
			return err
		}
		logger.Infof("Voice sample %s evicted", old.ID)
	}
	return nil
}
