package model

import "time"

// VoiceParams selects the synthetic voice. Empty or "auto" leaves the choice to the engine.
type VoiceParams struct {
	Gender  string `json:"gender,omitempty" validate:"omitempty,oneof=auto male female"`
	Area    string `json:"area,omitempty" validate:"omitempty,oneof=auto northern southern central"`
	Emotion string `json:"emotion,omitempty" validate:"omitempty,oneof=auto neutral serious monotone sad surprised happy angry"`
	Style   string `json:"style,omitempty" validate:"omitempty,oneof=auto story news audiobook interview review"`
}

// Normalized returns a copy with "auto" collapsed to the empty string
func (v VoiceParams) Normalized() VoiceParams {
	norm := func(s string) string {
		if s == VoiceAuto {
			return ""
		}
		return s
	}
	return VoiceParams{
		Gender:  norm(v.Gender),
		Area:    norm(v.Area),
		Emotion: norm(v.Emotion),
		Style:   norm(v.Style),
	}
}

// Job is one synthesis request. It is immutable once enqueued.
type Job struct {
	ID             string      `json:"jobId"`
	Text           string      `json:"text"`
	Voice          VoiceParams `json:"voice"`
	Speed          float64     `json:"speed"`
	Tier           Tier        `json:"tier"`
	ReferenceAudio []byte      `json:"referenceAudio,omitempty"`
	ReferenceText  string      `json:"referenceText,omitempty"`
	TrimAudioTo    float64     `json:"trimAudioTo,omitempty"`
	CallbackURL    string      `json:"callbackUrl,omitempty"`
	CreatedAt      time.Time   `json:"createdAt"`
	TimeoutSeconds int         `json:"timeoutSeconds"`
}

// HasReference reports whether the job carries a voice-cloning reference pair
func (j *Job) HasReference() bool {
	return len(j.ReferenceAudio) > 0 && j.ReferenceText != ""
}

// Result is the transient handoff record of a completed job.
// Audio is stored under its own key and never serialized with the metadata.
type Result struct {
	JobID          string    `json:"jobId"`
	Status         JobStatus `json:"status"`
	Tier           Tier      `json:"tier"`
	GenerationTime float64   `json:"generationTime"`
	AudioDuration  float64   `json:"audioDuration"`
	QueueWait      float64   `json:"queueWait"`
	Chunks         int       `json:"chunks"`
	SampleRate     int       `json:"sampleRate"`
	WorkerID       string    `json:"workerId"`
	ArchiveURL     string    `json:"archiveUrl,omitempty"`
	CompletedAt    time.Time `json:"completedAt"`
	Audio          []byte    `json:"-"`
}

// ErrorRecord is the transient record of a failed job
type ErrorRecord struct {
	JobID       string    `json:"jobId"`
	Status      JobStatus `json:"status"`
	Tier        Tier      `json:"tier"`
	ErrorCode   string    `json:"errorCode"`
	Message     string    `json:"message"`
	WorkerID    string    `json:"workerId,omitempty"`
	CompletedAt time.Time `json:"completedAt"`
}

// StatusRecord is the lightweight lifecycle projection pollers read
type StatusRecord struct {
	JobID     string    `json:"jobId"`
	Status    JobStatus `json:"status"`
	Tier      Tier      `json:"tier"`
	WorkerID  string    `json:"workerId,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Heartbeat is a worker liveness record
type Heartbeat struct {
	WorkerID      string      `json:"workerId"`
	Tier          Tier        `json:"tier"`
	State         WorkerState `json:"state"`
	CurrentJobID  string      `json:"currentJobId,omitempty"`
	JobsProcessed int64       `json:"jobsProcessed"`
	StartedAt     time.Time   `json:"startedAt"`
	LastSeenAt    time.Time   `json:"lastSeenAt"`
}

// JobEvent is published on every worker-side lifecycle transition
type JobEvent struct {
	JobID     string    `json:"jobId"`
	Status    JobStatus `json:"status"`
	ErrorCode string    `json:"errorCode,omitempty"`
	Message   string    `json:"message,omitempty"`
	At        time.Time `json:"at"`
}

// Worker-side error codes stored in ErrorRecord.ErrorCode
const (
	ErrorCodeEngine     = "ENGINE_ERROR"
	ErrorCodeEmptyAudio = "EMPTY_AUDIO"
	ErrorCodeStitch     = "STITCH_FAILED"
	ErrorCodeInvalidJob = "INVALID_JOB"
	ErrorCodeInternal   = "INTERNAL_ERROR"
)
