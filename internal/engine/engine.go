package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/voxqueue/tts/internal/audio"
	"github.com/voxqueue/tts/internal/config"
	"github.com/voxqueue/tts/internal/model"
)

// Request is one synthesis call for a single chunk of text
type Request struct {
	Text           string
	Voice          model.VoiceParams
	Speed          float64
	Tier           model.Tier
	ReferenceAudio []byte
	ReferenceText  string
}

// Engine is a loaded inference model. Implementations are not safe for
// concurrent Synthesize calls; wrap with Exclusive when sharing.
type Engine interface {
	Load(ctx context.Context) error
	Synthesize(ctx context.Context, req Request) (*audio.Clip, error)
	Close() error
}

// New builds the engine selected by cfg.Mode
func New(cfg config.EngineConfig) (Engine, error) {
	switch cfg.Mode {
	case "http":
		return NewHTTPEngine(cfg.URL, cfg.Timeout), nil
	case "tone", "":
		return NewToneEngine(), nil
	default:
		return nil, fmt.Errorf("unknown engine mode %q", cfg.Mode)
	}
}

type exclusive struct {
	mu    sync.Mutex
	inner Engine
}

// Exclusive serializes every call into e
func Exclusive(e Engine) Engine {
	return &exclusive{inner: e}
}

func (x *exclusive) Load(ctx context.Context) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.inner.Load(ctx)
}

func (x *exclusive) Synthesize(ctx context.Context, req Request) (*audio.Clip, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.inner.Synthesize(ctx, req)
}

func (x *exclusive) Close() error {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.inner.Close()
}
