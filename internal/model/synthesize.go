package model

import "time"

// SynthesizeRequest represents the request body of both submit endpoints
type SynthesizeRequest struct {
	Text           string  `json:"text"`
	Gender         string  `json:"gender,omitempty"`
	Area           string  `json:"area,omitempty"`
	Emotion        string  `json:"emotion,omitempty"`
	Style          string  `json:"style,omitempty"`
	Speed          float64 `json:"speed" validate:"omitempty,min=0.5,max=2"`
	Quality        Tier    `json:"quality" validate:"omitempty,oneof=high fast"`
	ReferenceAudio []byte  `json:"referenceAudio,omitempty"`
	ReferenceText  string  `json:"referenceText,omitempty"`
	TrimAudioTo    float64 `json:"trimAudioTo,omitempty" validate:"omitempty,min=1,max=60"`
	Timeout        int     `json:"timeout,omitempty" validate:"omitempty,min=1"`
	CallbackURL    string  `json:"callbackUrl,omitempty" validate:"omitempty,url"`
}

// Voice returns the voice selectors of the request
func (r *SynthesizeRequest) Voice() VoiceParams {
	return VoiceParams{
		Gender:  r.Gender,
		Area:    r.Area,
		Emotion: r.Emotion,
		Style:   r.Style,
	}
}

// SynthesizeAsyncResponse is returned by POST /synthesize/async
type SynthesizeAsyncResponse struct {
	JobID                string    `json:"jobId"`
	Status               JobStatus `json:"status"`
	QueuePosition        int       `json:"queuePosition"`
	EstimatedWaitSeconds float64   `json:"estimatedWaitSeconds"`
	CreatedAt            time.Time `json:"createdAt"`
}

// JobStatusResponse is returned by GET /job/:jobId
type JobStatusResponse struct {
	JobID          string    `json:"jobId"`
	Status         JobStatus `json:"status"`
	QueuePosition  *int      `json:"queuePosition,omitempty"`
	AudioURL       string    `json:"audioUrl,omitempty"`
	ArchiveURL     string    `json:"archiveUrl,omitempty"`
	GenerationTime *float64  `json:"generationTime,omitempty"`
	AudioDuration  *float64  `json:"audioDuration,omitempty"`
	Error          *JobError `json:"error,omitempty"`
}

// JobError describes a failed job
type JobError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// HealthResponse is returned by GET /health
type HealthResponse struct {
	Status    string               `json:"status"`
	QueueSize map[Tier]int64       `json:"queueSize"`
	Workers   WorkersSummary       `json:"workers"`
	Metrics   map[Tier]TierMetrics `json:"metrics"`
	Counters  map[string]int64     `json:"counters,omitempty"`
}

// WorkersSummary aggregates live heartbeats
type WorkersSummary struct {
	Active int               `json:"active"`
	Total  int               `json:"total"`
	ByTier map[Tier][]string `json:"byTier"`
}

// TierMetrics holds rolling per-tier numbers
type TierMetrics struct {
	AvgGenerationTime float64 `json:"avgGenerationTime"`
	Samples           int     `json:"samples"`
	Completed         int64   `json:"completed"`
	Failed            int64   `json:"failed"`
}

// VoicesResponse is the static catalog returned by GET /voices
type VoicesResponse struct {
	Gender  []Gender  `json:"gender"`
	Area    []Area    `json:"area"`
	Emotion []Emotion `json:"emotion"`
	Style   []Style   `json:"style"`
	Quality []Tier    `json:"quality"`
}
