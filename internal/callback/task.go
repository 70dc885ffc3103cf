package callback

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/voxqueue/tts/internal/model"
)

const (
	TaskTypeDeliver = "callback:deliver"
	Queue           = "callbacks"
)

// Notification is the JSON body posted to a job's callback URL
type Notification struct {
	JobID          string          `json:"jobId"`
	Status         model.JobStatus `json:"status"`
	ErrorCode      string          `json:"errorCode,omitempty"`
	Message        string          `json:"message,omitempty"`
	AudioURL       string          `json:"audioUrl,omitempty"`
	ArchiveURL     string          `json:"archiveUrl,omitempty"`
	GenerationTime float64         `json:"generationTime,omitempty"`
	AudioDuration  float64         `json:"audioDuration,omitempty"`
	CompletedAt    time.Time       `json:"completedAt"`
}

// Payload is the asynq task payload
type Payload struct {
	URL          string       `json:"url"`
	Notification Notification `json:"notification"`
}

// CompletedNotification describes a finished job
func CompletedNotification(res *model.Result) Notification {
	return Notification{
		JobID:          res.JobID,
		Status:         model.JobStatusCompleted,
		AudioURL:       fmt.Sprintf("/job/%s/audio", res.JobID),
		ArchiveURL:     res.ArchiveURL,
		GenerationTime: res.GenerationTime,
		AudioDuration:  res.AudioDuration,
		CompletedAt:    res.CompletedAt,
	}
}

// FailedNotification describes a job that ended in error
func FailedNotification(rec *model.ErrorRecord) Notification {
	return Notification{
		JobID:       rec.JobID,
		Status:      model.JobStatusError,
		ErrorCode:   rec.ErrorCode,
		Message:     rec.Message,
		CompletedAt: rec.CompletedAt,
	}
}

func newDeliverTask(p Payload) (*asynq.Task, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeDeliver, data), nil
}
