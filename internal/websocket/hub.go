package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/voxqueue/tts/internal/broker"
	"github.com/voxqueue/tts/internal/logger"
	"github.com/voxqueue/tts/internal/model"
	"github.com/voxqueue/tts/internal/service"
	"github.com/voxqueue/tts/pkg/response"
)

const (
	pingInterval = 30 * time.Second

	// how long a client gets to answer our close frame before the read side gives up
	closeGracePeriod = 5 * time.Second
)

// JobSource provides the current state of a job for the snapshot sent on connect
type JobSource interface {
	GetJob(ctx context.Context, jobID string) (*model.JobStatusResponse, error)
}

// Client represents a WebSocket client
type Client struct {
	JobID string
	Conn  *websocket.Conn
	Send  chan []byte
}

// Hub maintains active WebSocket connections
type Hub struct {
	source JobSource

	// Clients grouped by job ID
	clients map[string]map[*Client]bool

	// Register requests
	register chan *Client

	// Unregister requests
	unregister chan *Client

	// Broadcast messages to job subscribers
	broadcast chan *BroadcastMessage

	// Closed when Run returns
	stopped chan struct{}

	mu sync.RWMutex
}

// BroadcastMessage represents a message to broadcast. Subscribers are dropped
// after a Terminal message, which closes their sockets.
type BroadcastMessage struct {
	JobID    string
	Message  []byte
	Terminal bool
}

// NewHub creates a new Hub
func NewHub(source JobSource) *Hub {
	return &Hub{
		source:     source,
		clients:    make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *BroadcastMessage, 256),
		stopped:    make(chan struct{}),
	}
}

// Run starts the hub's main loop
func (h *Hub) Run(ctx context.Context) {
	defer close(h.stopped)
	for {
		select {
		case <-ctx.Done():
			return

		case client := <-h.register:
			h.mu.Lock()
			if h.clients[client.JobID] == nil {
				h.clients[client.JobID] = make(map[*Client]bool)
			}
			h.clients[client.JobID][client] = true
			h.mu.Unlock()
			logger.Debugf("Client registered for job %s", client.JobID)

		case client := <-h.unregister:
			h.mu.Lock()
			h.remove(client)
			h.mu.Unlock()
			logger.Debugf("Client unregistered from job %s", client.JobID)

		case msg := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients[msg.JobID] {
				select {
				case client.Send <- msg.Message:
					if msg.Terminal {
						h.remove(client)
					}
				default:
					// slow consumer
					h.remove(client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// remove drops a client and closes its send channel. Callers hold h.mu.
func (h *Hub) remove(client *Client) {
	clients, ok := h.clients[client.JobID]
	if !ok {
		return
	}
	if _, ok := clients[client]; !ok {
		return
	}
	delete(clients, client)
	close(client.Send)
	if len(clients) == 0 {
		delete(h.clients, client.JobID)
	}
}

// Register adds a new client
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.stopped:
	}
}

// Unregister removes a client
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.stopped:
	}
}

// Subscribers returns the number of clients watching jobID
func (h *Hub) Subscribers(jobID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[jobID])
}

// Relay forwards broker job events to subscribers until ctx ends or the stream closes
func (h *Hub) Relay(ctx context.Context, stream *broker.EventStream) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-stream.Events():
			if !ok {
				logger.Warnf("Job event stream closed")
				return
			}
			h.BroadcastEvent(ev)
		}
	}
}

// BroadcastEvent sends the message matching a lifecycle event to all job subscribers
func (h *Hub) BroadcastEvent(ev model.JobEvent) {
	data, err := json.Marshal(eventMessage(ev))
	if err != nil {
		logger.Errorf("Failed to marshal %s message for job %s: %v", ev.Status, ev.JobID, err)
		return
	}

	select {
	case h.broadcast <- &BroadcastMessage{JobID: ev.JobID, Message: data, Terminal: ev.Status.IsTerminal()}:
	default:
		logger.Warnf("Broadcast buffer full, dropping %s event for job %s", ev.Status, ev.JobID)
	}
}

func eventMessage(ev model.JobEvent) interface{} {
	switch ev.Status {
	case model.JobStatusCompleted:
		return model.WSCompleteMessage{
			Type:     model.WSMessageTypeComplete,
			JobID:    ev.JobID,
			AudioURL: service.AudioURL(ev.JobID),
		}
	case model.JobStatusError:
		return model.WSErrorMessage{
			Type:  model.WSMessageTypeError,
			JobID: ev.JobID,
			Error: model.WSError{Code: ev.ErrorCode, Message: ev.Message},
		}
	default:
		return model.WSStatusMessage{
			Type:   model.WSMessageTypeStatus,
			JobID:  ev.JobID,
			Status: ev.Status,
		}
	}
}

// snapshotMessage describes the job as it stands when a client connects. The
// second return is false when nothing more will follow.
func snapshotMessage(jobID string, job *model.JobStatusResponse, err error) (interface{}, bool) {
	if err != nil {
		code, msg := response.CodeServiceError, "Failed to read job"
		if errors.Is(err, service.ErrJobNotFound) {
			code, msg = response.CodeNotFound, "Job not found or expired"
		}
		return model.WSErrorMessage{
			Type:  model.WSMessageTypeError,
			JobID: jobID,
			Error: model.WSError{Code: code, Message: msg},
		}, false
	}

	ev := model.JobEvent{JobID: jobID, Status: job.Status}
	if job.Error != nil {
		ev.ErrorCode = job.Error.Code
		ev.Message = job.Error.Message
	}
	return eventMessage(ev), !job.Status.IsTerminal()
}

// HandleConnection handles a WebSocket connection. The client is registered
// before the snapshot is read so no event in between is lost.
func (h *Hub) HandleConnection(c *websocket.Conn, jobID string) {
	client := &Client{
		JobID: jobID,
		Conn:  c,
		Send:  make(chan []byte, 256),
	}

	h.Register(client)
	defer h.Unregister(client)

	job, err := h.source.GetJob(context.Background(), jobID)
	snapshot, live := snapshotMessage(jobID, job, err)
	if data, err := json.Marshal(snapshot); err == nil {
		if err := c.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}
	if !live {
		c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		return
	}

	// The writer must be gone before the handler returns and fiber releases c
	done := make(chan struct{})
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		writePump(c, client.Send, done)
	}()
	defer func() {
		close(done)
		<-writerDone
	}()

	// Reader loop
	for {
		_, message, err := c.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Warnf("WebSocket error for job %s: %v", jobID, err)
			}
			break
		}

		// Handle client messages (ping/pong)
		var msg model.WSMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}

		if msg.Type == model.WSMessageTypePing {
			pong, _ := json.Marshal(model.WSMessage{Type: model.WSMessageTypePong})
			h.deliver(client, pong)
		}
	}
}

// frameConn is the part of a websocket connection the writer needs
type frameConn interface {
	WriteMessage(messageType int, data []byte) error
	SetReadDeadline(t time.Time) error
}

// writePump writes queued messages and keep-alive pings until done closes. When
// the hub closes send, after a terminal event or a dropped slow consumer, it
// sends a close frame and bounds the reader's wait for the client's reply.
func writePump(conn frameConn, send <-chan []byte, done <-chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return

		case message, ok := <-send:
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				conn.SetReadDeadline(time.Now().Add(closeGracePeriod))
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			// Send ping for keep-alive
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// deliver queues data for one client if it is still registered
func (h *Hub) deliver(client *Client, data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if !h.clients[client.JobID][client] {
		return
	}
	select {
	case client.Send <- data:
	default:
	}
}
