package handler

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"github.com/voxqueue/tts/internal/audio"
	"github.com/voxqueue/tts/internal/broker"
	"github.com/voxqueue/tts/internal/engine"
	"github.com/voxqueue/tts/internal/middleware"
	"github.com/voxqueue/tts/internal/model"
	"github.com/voxqueue/tts/internal/service"
	"github.com/voxqueue/tts/internal/telemetry"
	"github.com/voxqueue/tts/internal/worker"
)

// testApp holds all components needed for testing
type testApp struct {
	app    *fiber.App
	mr     *miniredis.Miniredis
	broker *broker.RedisBroker
}

// setupApp creates a Fiber app wired like cmd/gateway against an in-process redis.
// rateLimit 0 disables the submit limiter.
func setupApp(t *testing.T, rateLimit int) *testApp {
	t.Helper()

	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { redisClient.Close() })

	b := broker.NewRedisBroker(redisClient, broker.Options{})
	metrics, err := telemetry.NewMetrics()
	if err != nil {
		t.Fatalf("failed to create metrics: %v", err)
	}

	svc := service.NewSynthesisService(b, validator.New(), service.Options{
		MaxTextLength:  200,
		DefaultTier:    model.TierFast,
		DefaultTimeout: 10 * time.Second,
		MaxTimeout:     30 * time.Second,
		ResultTTL:      time.Minute,
		MaxQueueLength: map[model.Tier]int{model.TierHigh: 1, model.TierFast: 10},
		MaxSyncWaiters: 1,
	}, metrics)

	app := fiber.New(fiber.Config{
		BodyLimit: 50 * 1024 * 1024,
	})
	Register(app,
		NewSynthesizeHandler(svc),
		NewJobHandler(svc),
		NewVoiceSampleHandler(service.NewVoiceSampleService(redisClient, validator.New(), 2)),
		NewSystemHandler(svc, "voxqueue-tts", "test"),
		middleware.NewRateLimiter(redisClient).SynthesizeLimit(rateLimit),
	)

	return &testApp{app: app, mr: mr, broker: b}
}

// startWorker runs a fast-tier worker backed by the tone engine until the test ends
func (ta *testApp) startWorker(t *testing.T) {
	t.Helper()

	w, err := worker.New(worker.Config{
		ID:                "test-worker",
		Tier:              model.TierFast,
		HeartbeatInterval: time.Second,
		HeartbeatTTL:      3 * time.Second,
		PollInterval:      time.Second,
		ResultTTL:         time.Minute,
		Crossfade:         50 * time.Millisecond,
		Chunker:           audio.Chunker{MaxDuration: 15 * time.Second, CharsPerSecond: 14},
	}, ta.broker, engine.NewToneEngine())
	if err != nil {
		t.Fatalf("failed to create worker: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := w.Run(ctx); err != nil {
			t.Errorf("worker stopped with error: %v", err)
		}
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	deadline := time.Now().Add(2 * time.Second)
	for w.State() != model.WorkerStateIdle {
		if time.Now().After(deadline) {
			t.Fatal("worker did not become idle")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// doRequest is a helper to perform HTTP requests against the test app.
func doRequest(app *fiber.App, method, path string, body string, headers map[string]string) (*http.Response, error) {
	var bodyReader io.Reader
	if body != "" {
		bodyReader = strings.NewReader(body)
	}

	req, err := http.NewRequest(method, path, bodyReader)
	if err != nil {
		return nil, err
	}

	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	return app.Test(req, -1)
}

// readBody reads and returns the response body as a string.
func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	return string(b)
}

// parseJSON parses response body into a map.
func parseJSON(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	body := readBody(t, resp)
	var result map[string]interface{}
	if err := json.Unmarshal([]byte(body), &result); err != nil {
		t.Fatalf("failed to parse JSON: %v\nbody: %s", err, body)
	}
	return result
}

// errorCode extracts error.code from an error envelope.
func errorCode(t *testing.T, resp *http.Response) string {
	t.Helper()
	result := parseJSON(t, resp)
	errObj, ok := result["error"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected error envelope, got %v", result)
	}
	code, _ := errObj["code"].(string)
	return code
}

// assertStatus checks the HTTP status code.
func assertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("expected status %d, got %d", expected, resp.StatusCode)
	}
}
