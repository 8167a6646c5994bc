package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"inference-ops-service/pkg/events"
	"inference-ops-service/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const streamBuffer = 256

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// subscribe forwards matching bus events to a buffered channel. Events are
// dropped when the reader falls behind, since bus handlers must not block.
func (s *Server) subscribe(match func(events.Event) bool) (<-chan events.Event, func()) {
	ch := make(chan events.Event, streamBuffer)
	unsubscribe := s.deps.Bus.Subscribe(func(evt events.Event) {
		if match != nil && !match(evt) {
			return
		}
		select {
		case ch <- evt:
		default:
			logger.Warn("Dropping event for slow stream subscriber", zap.String("type", string(evt.Type)))
		}
	})
	return ch, unsubscribe
}

// handleWebSocketEvents pushes every bus event as JSON. ?resourceId= narrows
// the stream to one endpoint or execution.
func (s *Server) handleWebSocketEvents(c *gin.Context) {
	resourceID := c.Query("resourceId")
	var match func(events.Event) bool
	if resourceID != "" {
		match = func(evt events.Event) bool { return evt.ResourceID == resourceID }
	}

	// subscribe before the handshake completes so nothing published right after is missed
	ch, unsubscribe := s.subscribe(match)
	defer unsubscribe()

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Error("Failed to upgrade WebSocket connection for events", logger.Err(err))
		return
	}
	defer conn.Close()

	logger.Info("WebSocket event stream started", zap.String("resource_id", resourceID))

	// the read loop only notices the client going away
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-closed:
			logger.Info("WebSocket event stream closed", zap.String("resource_id", resourceID))
			return
		case <-ticker.C:
			if err := conn.WriteMessage(websocket.PingMessage, []byte{}); err != nil {
				logger.Error("WebSocket ping failed", logger.Err(err))
				return
			}
		case evt := <-ch:
			if err := conn.WriteJSON(evt); err != nil {
				logger.Error("Failed to write event to WebSocket", logger.Err(err))
				return
			}
		}
	}
}

// handleStreamExecution streams the events of one rollback execution via SSE
// until the execution reaches a terminal state or the client disconnects.
func (s *Server) handleStreamExecution(c *gin.Context) {
	executionID := c.Param("executionId")

	ch, unsubscribe := s.subscribe(func(evt events.Event) bool { return evt.ResourceID == executionID })
	defer unsubscribe()

	exec, err := s.deps.Executor.GetRollbackExecution(executionID)
	if err != nil {
		respondError(c, err, http.StatusInternalServerError, "Rollback execution not found")
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache, no-store, must-revalidate")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Streaming not supported"})
		return
	}

	c.Status(http.StatusOK)
	writeSSE(c, "execution", exec)
	flusher.Flush()
	if exec.Status.Terminal() {
		return
	}

	heartbeat := time.NewTicker(5 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-c.Request.Context().Done():
			return

		case <-heartbeat.C:
			writeSSE(c, "heartbeat", gin.H{"time": time.Now().Unix()})
			flusher.Flush()

		case evt := <-ch:
			writeSSE(c, string(evt.Type), evt)
			flusher.Flush()

			switch evt.Type {
			case events.RollbackCompleted, events.RollbackFailed, events.RollbackCancelled:
				return
			}
		}
	}
}

func writeSSE(c *gin.Context, event string, v interface{}) {
	fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", event, mustMarshal(v))
}

func mustMarshal(v interface{}) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(b)
}
