package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/san-kum/driver-safety/server/models"
	"github.com/san-kum/driver-safety/server/processor"
	"go.uber.org/zap"
)

const (
	MessageFrame    = "frame"
	MessageReset    = "reset"
	MessagePing     = "ping"
	MessagePong     = "pong"
	MessageAnalysis = "analysis"
	MessageAudio    = "audio"
	MessageAlarm    = "alarm"
	MessageError    = "error"
)

var _ processor.ResetSink = (*WebSocketHandler)(nil)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

// WebSocketHandler streams results to every connected dashboard and accepts
// frames and reset commands from them.
type WebSocketHandler struct {
	processor *processor.FrameProcessor
	logger    *zap.Logger
	upgrader  websocket.Upgrader

	mutex   sync.RWMutex
	clients map[string]*wsClient
}

type wsClient struct {
	id    string
	conn  *websocket.Conn
	mutex sync.Mutex
}

type ClientMessage struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

type ServerMessage struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

func NewWebSocketHandler(processor *processor.FrameProcessor, allowedOrigins []string, logger *zap.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		processor: processor,
		logger:    logger,
		clients:   make(map[string]*wsClient),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || len(allowedOrigins) == 0 ||
					slices.Contains(allowedOrigins, "*") || slices.Contains(allowedOrigins, origin)
			},
		},
	}
}

func (h *WebSocketHandler) HandleWebSocket(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade websocket connection", zap.Error(err))
		return
	}

	client := &wsClient{id: uuid.NewString(), conn: conn}
	h.register(client)
	defer h.unregister(client)

	h.logger.Info("WebSocket client connected",
		zap.String("client_id", client.id),
		zap.String("client_ip", c.ClientIP()))

	conn.SetReadLimit(2 * 1024 * 1024)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	done := make(chan struct{})
	defer close(done)
	go h.pingRoutine(client, done)

	for {
		var message ClientMessage
		if err := conn.ReadJSON(&message); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Error("WebSocket read failed", zap.String("client_id", client.id), zap.Error(err))
			}
			return
		}
		h.handleMessage(client, &message)
	}
}

// handleMessage runs on the connection's read goroutine, so a client's
// frames reach the pipeline in the order they were sent.
func (h *WebSocketHandler) handleMessage(client *wsClient, message *ClientMessage) {
	switch message.Type {
	case MessageFrame:
		h.processFrame(client, message)
	case MessageReset:
		h.processor.ResetStatistics()
		h.PublishReset(h.processor.Summary())
	case MessagePing:
		h.send(client, MessagePong, map[string]any{"timestamp": time.Now().Unix()})
	default:
		h.logger.Warn("Unknown message type received", zap.String("type", message.Type))
		h.sendError(client, "Unknown message type: "+message.Type)
	}
}

func (h *WebSocketHandler) processFrame(client *wsClient, message *ClientMessage) {
	var observation models.FrameObservation
	if err := json.Unmarshal(message.Data, &observation); err != nil {
		h.logger.Warn("Invalid frame payload", zap.String("client_id", client.id), zap.Error(err))
		h.sendError(client, "Invalid frame payload")
		return
	}

	if observation.Timestamp == 0 {
		observation.Timestamp = message.Timestamp
	}

	result, err := h.processor.Submit(context.Background(), &observation)
	if err != nil {
		h.logger.Error("Frame processing failed", zap.String("client_id", client.id), zap.Error(err))
		h.sendError(client, "Frame processing failed: "+err.Error())
		return
	}

	h.Publish(*result)
}

// Publish sends the analysis plus any audio cues and alarm edges of one
// frame to every client.
func (h *WebSocketHandler) Publish(result models.FrameResult) {
	h.Broadcast(MessageAnalysis, result)

	for _, trigger := range result.Audio.Triggers {
		h.Broadcast(MessageAudio, trigger)
	}

	for _, event := range result.Audio.Events {
		h.Broadcast(MessageAlarm, event)
	}
}

// PublishReset tells every client that the session was reset.
func (h *WebSocketHandler) PublishReset(summary models.SessionSummary) {
	h.Broadcast(MessageReset, summary)
}

func (h *WebSocketHandler) Broadcast(messageType string, data any) {
	h.mutex.RLock()
	clients := make([]*wsClient, 0, len(h.clients))
	for _, client := range h.clients {
		clients = append(clients, client)
	}
	h.mutex.RUnlock()

	for _, client := range clients {
		h.send(client, messageType, data)
	}
}

func (h *WebSocketHandler) ClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

func (h *WebSocketHandler) register(client *wsClient) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.clients[client.id] = client
}

func (h *WebSocketHandler) unregister(client *wsClient) {
	h.mutex.Lock()
	delete(h.clients, client.id)
	h.mutex.Unlock()

	client.conn.Close()
	h.logger.Info("WebSocket client disconnected", zap.String("client_id", client.id))
}

// CloseAll disconnects every client. Used at shutdown.
func (h *WebSocketHandler) CloseAll() {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	for _, client := range h.clients {
		client.mutex.Lock()
		client.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(writeWait))
		client.mutex.Unlock()
	}
}

func (h *WebSocketHandler) send(client *wsClient, messageType string, data any) {
	client.mutex.Lock()
	defer client.mutex.Unlock()

	client.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := client.conn.WriteJSON(ServerMessage{Type: messageType, Data: data}); err != nil {
		h.logger.Error("Failed to send WebSocket message",
			zap.String("client_id", client.id),
			zap.String("type", messageType),
			zap.Error(err))
	}
}

func (h *WebSocketHandler) sendError(client *wsClient, errorMsg string) {
	h.send(client, MessageError, map[string]any{
		"message":   errorMsg,
		"timestamp": time.Now().Unix(),
	})
}

func (h *WebSocketHandler) pingRoutine(client *wsClient, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			client.mutex.Lock()
			err := client.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			client.mutex.Unlock()
			if err != nil {
				h.logger.Error("Failed to send ping", zap.String("client_id", client.id), zap.Error(err))
				return
			}
		case <-done:
			return
		}
	}
}
