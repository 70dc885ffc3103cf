package callback

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hibiken/asynq"
	"github.com/voxqueue/tts/internal/logger"
)

// Deliverer posts notifications to callback URLs
type Deliverer struct {
	httpClient *http.Client
}

func NewDeliverer(timeout time.Duration) *Deliverer {
	return &Deliverer{httpClient: &http.Client{Timeout: timeout}}
}

// ProcessTask handles callback:deliver tasks. Client errors other than
// 408 and 429 are not retried.
func (d *Deliverer) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var p Payload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("failed to unmarshal callback payload: %v: %w", err, asynq.SkipRetry)
	}

	body, err := json.Marshal(p.Notification)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %v: %w", err, asynq.SkipRetry)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create callback request: %v: %w", err, asynq.SkipRetry)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Job-Id", p.Notification.JobID)

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("callback for job %s failed: %w", p.Notification.JobID, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		logger.Infof("Delivered %s callback for job %s", p.Notification.Status, p.Notification.JobID)
		return nil
	case resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("callback for job %s throttled: status %d", p.Notification.JobID, resp.StatusCode)
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return fmt.Errorf("callback for job %s rejected: status %d: %w", p.Notification.JobID, resp.StatusCode, asynq.SkipRetry)
	default:
		return fmt.Errorf("callback for job %s failed: status %d", p.Notification.JobID, resp.StatusCode)
	}
}
