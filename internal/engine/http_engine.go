package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/voxqueue/tts/internal/audio"
)

// HTTPEngine drives a model server running beside the worker. The sidecar
// answers POST /synthesize with a WAV body.
type HTTPEngine struct {
	httpClient *http.Client
	baseURL    string
}

// synthesizeRequest is the sidecar wire format
type synthesizeRequest struct {
	Text           string  `json:"text"`
	Gender         string  `json:"gender,omitempty"`
	Area           string  `json:"area,omitempty"`
	Emotion        string  `json:"emotion,omitempty"`
	Group          string  `json:"group,omitempty"`
	Speed          float64 `json:"speed"`
	Quality        string  `json:"quality"`
	NFESteps       int     `json:"nfe_steps"`
	ReferenceAudio []byte  `json:"reference_audio,omitempty"`
	ReferenceText  string  `json:"reference_text,omitempty"`
}

func NewHTTPEngine(baseURL string, timeout time.Duration) *HTTPEngine {
	return &HTTPEngine{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
	}
}

// Load waits for the sidecar to report healthy
func (e *HTTPEngine) Load(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("engine unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

func (e *HTTPEngine) Synthesize(ctx context.Context, r Request) (*audio.Clip, error) {
	voice := r.Voice.Normalized()
	body, err := json.Marshal(synthesizeRequest{
		Text:           r.Text,
		Gender:         voice.Gender,
		Area:           voice.Area,
		Emotion:        voice.Emotion,
		Group:          voice.Style,
		Speed:          r.Speed,
		Quality:        string(r.Tier),
		NFESteps:       r.Tier.Steps(),
		ReferenceAudio: r.ReferenceAudio,
		ReferenceText:  r.ReferenceText,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/synthesize", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/wav")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("engine error (status %d): %s", resp.StatusCode, string(respBody))
	}

	clip, err := audio.DecodeWAV(respBody)
	if err != nil {
		return nil, fmt.Errorf("engine returned unreadable audio: %w", err)
	}
	return clip, nil
}

func (e *HTTPEngine) Close() error {
	e.httpClient.CloseIdleConnections()
	return nil
}
