package handler

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/voxqueue/tts/internal/audio"
	"github.com/voxqueue/tts/internal/model"
)

func sampleBody(t *testing.T, name string) string {
	t.Helper()
	samples := make([]float32, 12000)
	for i := 4000; i < len(samples); i++ {
		samples[i] = 0.25
	}
	wav, err := audio.EncodeWAV(&audio.Clip{Samples: samples, SampleRate: 8000})
	if err != nil {
		t.Fatalf("failed to encode wav: %v", err)
	}
	body, err := json.Marshal(model.VoiceSampleCreateRequest{Audio: wav, ReferenceText: "hello there", Name: name})
	if err != nil {
		t.Fatalf("failed to marshal body: %v", err)
	}
	return string(body)
}

func TestVoiceSamples_Lifecycle(t *testing.T) {
	ta := setupApp(t, 0)

	resp, err := doRequest(ta.app, http.MethodPost, "/voice-samples", sampleBody(t, "Narrator"), nil)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusOK)
	created := parseJSON(t, resp)
	id, _ := created["id"].(string)
	if len(id) != 8 {
		t.Fatalf("expected an 8 character id, got %q", id)
	}
	if created["isNamed"] != true {
		t.Errorf("expected isNamed true, got %v", created["isNamed"])
	}

	resp, err = doRequest(ta.app, http.MethodGet, "/voice-samples", "", nil)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusOK)
	list, _ := parseJSON(t, resp)["samples"].([]interface{})
	if len(list) != 1 {
		t.Fatalf("expected 1 sample, got %d", len(list))
	}

	resp, err = doRequest(ta.app, http.MethodGet, "/voice-samples/"+id+"/audio", "", nil)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusOK)
	stored := parseJSON(t, resp)
	if stored["referenceText"] != "hello there" {
		t.Errorf("expected reference text, got %v", stored["referenceText"])
	}
	raw, err := base64.StdEncoding.DecodeString(stored["audio"].(string))
	if err != nil {
		t.Fatalf("audio is not base64: %v", err)
	}
	clip, err := audio.DecodeWAV(raw)
	if err != nil {
		t.Fatalf("audio is not wav: %v", err)
	}
	// the leading half second of silence is gone
	if got := clip.Duration().Seconds(); got < 0.99 || got > 1.01 {
		t.Errorf("expected ~1s of audio, got %.3fs", got)
	}

	resp, err = doRequest(ta.app, http.MethodDelete, "/voice-samples/"+id, "", nil)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusOK)
	if deleted := parseJSON(t, resp); deleted["status"] != "deleted" || deleted["id"] != id {
		t.Errorf("unexpected delete response %v", deleted)
	}

	resp, err = doRequest(ta.app, http.MethodGet, "/voice-samples/"+id+"/audio", "", nil)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusNotFound)
	if code := errorCode(t, resp); code != "NOT_FOUND" {
		t.Errorf("expected NOT_FOUND, got %s", code)
	}
}

func TestVoiceSamples_EvictsUnnamed(t *testing.T) {
	ta := setupApp(t, 0)

	for i := 0; i < 3; i++ {
		resp, err := doRequest(ta.app, http.MethodPost, "/voice-samples", sampleBody(t, ""), nil)
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		assertStatus(t, resp, http.StatusOK)
		resp.Body.Close()
	}

	resp, err := doRequest(ta.app, http.MethodGet, "/voice-samples", "", nil)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	list, _ := parseJSON(t, resp)["samples"].([]interface{})
	// setupApp keeps two unnamed samples
	if len(list) != 2 {
		t.Errorf("expected 2 samples after eviction, got %d", len(list))
	}
}

func TestVoiceSamples_InvalidAudio(t *testing.T) {
	ta := setupApp(t, 0)

	resp, err := doRequest(ta.app, http.MethodPost, "/voice-samples", `{"audio":"bm90IGEgd2F2","referenceText":"words"}`, nil)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusBadRequest)
	if code := errorCode(t, resp); code != "VALIDATION_ERROR" {
		t.Errorf("expected VALIDATION_ERROR, got %s", code)
	}
}
