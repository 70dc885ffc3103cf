package broker

import (
	"context"
	"errors"
	"time"

	"github.com/voxqueue/tts/internal/model"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrQueueFull    = errors.New("queue is full")
	ErrMalformedJob = errors.New("malformed job payload")
)

// Broker is the shared queue and transient record store between gateway and workers.
// Push and BlockingPop together deliver each job to at most one caller.
type Broker interface {
	// Push enqueues job on its tier queue and marks it pending. It returns the number
	// of jobs ahead of it, or ErrQueueFull when maxLen > 0 and the queue is at capacity.
	Push(ctx context.Context, job *model.Job, maxLen int, statusTTL time.Duration) (int, error)
	// BlockingPop waits up to timeout for the oldest job of tier. A nil job with nil
	// error means the wait elapsed.
	BlockingPop(ctx context.Context, tier model.Tier, timeout time.Duration) (*model.Job, error)

	// SetStatus overwrites an existing status only; false means it had expired.
	SetStatus(ctx context.Context, rec model.StatusRecord, ttl time.Duration) (bool, error)
	GetStatus(ctx context.Context, jobID string) (*model.StatusRecord, error)

	// SetResult stores the result, its audio and the completed status, then wakes any waiter.
	SetResult(ctx context.Context, res *model.Result, ttl time.Duration) error
	GetResult(ctx context.Context, jobID string) (*model.Result, error)
	GetAudio(ctx context.Context, jobID string) ([]byte, error)

	// SetError stores the error record and the error status, then wakes any waiter.
	SetError(ctx context.Context, rec *model.ErrorRecord, ttl time.Duration) error
	GetError(ctx context.Context, jobID string) (*model.ErrorRecord, error)

	// WaitDone blocks until the job reaches a terminal state or timeout elapses.
	WaitDone(ctx context.Context, jobID string, timeout time.Duration) (bool, error)

	SetHeartbeat(ctx context.Context, hb model.Heartbeat, ttl time.Duration) error
	DeleteHeartbeat(ctx context.Context, workerID string) error
	// ListLiveHeartbeats returns workers whose heartbeat has not expired. An empty tier lists all.
	ListLiveHeartbeats(ctx context.Context, tier model.Tier) ([]model.Heartbeat, error)
	// KnownWorkers counts workers seen within the registry retention window.
	KnownWorkers(ctx context.Context) (int, error)

	QueueLength(ctx context.Context, tier model.Tier) (int64, error)
	// QueuePosition returns the number of jobs ahead of jobID, or -1 if it is not queued.
	QueuePosition(ctx context.Context, tier model.Tier, jobID string) (int, error)

	RecordSubmitted(ctx context.Context, tier model.Tier) error
	RecordCompleted(ctx context.Context, tier model.Tier, generationTime float64) error
	RecordFailed(ctx context.Context, tier model.Tier) error
	TierMetrics(ctx context.Context, tier model.Tier) (model.TierMetrics, error)
	Counters(ctx context.Context) (map[string]int64, error)

	PublishEvent(ctx context.Context, ev model.JobEvent) error
	SubscribeEvents(ctx context.Context) (*EventStream, error)

	Ping(ctx context.Context) error
	Close() error
}

// Key layout
const (
	keyPrefix      = "tts:"
	queuePrefix    = keyPrefix + "jobs:"
	statusPrefix   = keyPrefix + "status:"
	resultPrefix   = keyPrefix + "result:"
	audioPrefix    = keyPrefix + "audio:"
	errorPrefix    = keyPrefix + "error:"
	donePrefix     = keyPrefix + "done:"
	workerPrefix   = keyPrefix + "worker:"
	genTimesPrefix = keyPrefix + "gentimes:"
	workersKey     = keyPrefix + "workers"
	metricsKey     = keyPrefix + "metrics"
	eventsChannel  = keyPrefix + "events"
)

func QueueKey(tier model.Tier) string { return queuePrefix + string(tier) }
func statusKey(jobID string) string { return statusPrefix + jobID }
func resultKey(jobID string) string { return resultPrefix + jobID }
func audioKey(jobID string) string { return audioPrefix + jobID }
func errorKey(jobID string) string { return errorPrefix + jobID }
func doneKey(jobID string) string { return donePrefix + jobID }
func workerKey(workerID string) string { return workerPrefix + workerID }
func genTimesKey(tier model.Tier) string { return genTimesPrefix + string(tier) }
