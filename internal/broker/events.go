package broker

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"github.com/voxqueue/tts/internal/logger"
	"github.com/voxqueue/tts/internal/model"
)

// EventStream delivers job lifecycle events published by workers
type EventStream struct {
	pubsub *redis.PubSub
	events chan model.JobEvent
}

// Events is closed once the stream is closed
func (s *EventStream) Events() <-chan model.JobEvent {
	return s.events
}

func (s *EventStream) Close() error {
	return s.pubsub.Close()
}

func (b *RedisBroker) PublishEvent(ctx context.Context, ev model.JobEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return b.rdb.Publish(ctx, eventsChannel, data).Err()
}

func (b *RedisBroker) SubscribeEvents(ctx context.Context) (*EventStream, error) {
	pubsub := b.rdb.Subscribe(ctx, eventsChannel)
	// Wait for confirmation so no event published after return is missed
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, err
	}

	s := &EventStream{
		pubsub: pubsub,
		events: make(chan model.JobEvent, 64),
	}
	go func() {
		defer close(s.events)
		for msg := range pubsub.Channel() {
			var ev model.JobEvent
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				logger.Warnf("Dropping malformed job event: %v", err)
				continue
			}
			select {
			case s.events <- ev:
			default:
				logger.Warnf("Event buffer full, dropping %s event for job %s", ev.Status, ev.JobID)
			}
		}
	}()
	return s, nil
}
