package model

import "time"

// VoiceSample is a saved cloning reference. Named samples stay until deleted;
// unnamed ones are evicted oldest first.
type VoiceSample struct {
	ID            string    `json:"id"`
	Name          string    `json:"name,omitempty"`
	ReferenceText string    `json:"referenceText"`
	CreatedAt     time.Time `json:"createdAt"`
	IsNamed       bool      `json:"isNamed"`
}

// VoiceSampleCreateRequest is the body of POST /voice-samples. Audio is a
// base64 WAV.
type VoiceSampleCreateRequest struct {
	Audio         []byte `json:"audio" validate:"required"`
	ReferenceText string `json:"referenceText" validate:"required"`
	Name          string `json:"name,omitempty" validate:"max=100"`
}

type VoiceSampleListResponse struct {
	Samples []VoiceSample `json:"samples"`
}

// VoiceSampleAudioResponse carries a sample in the shape a synthesize request takes it
type VoiceSampleAudioResponse struct {
	Audio         []byte `json:"audio"`
	ReferenceText string `json:"referenceText"`
}

type VoiceSampleDeleteResponse struct {
	Status string `json:"status"`
	ID     string `json:"id"`
}
