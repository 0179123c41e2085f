package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/san-kum/driver-safety/server/cache"
	"github.com/san-kum/driver-safety/server/config"
	"github.com/san-kum/driver-safety/server/landmarks/landmarkstest"
	"github.com/san-kum/driver-safety/server/models"
	"github.com/san-kum/driver-safety/server/processor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type recordingBroadcaster struct {
	mutex     sync.Mutex
	published []models.FrameResult
	messages  []string
}

func (b *recordingBroadcaster) Publish(result models.FrameResult) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	b.published = append(b.published, result)
}

func (b *recordingBroadcaster) Broadcast(messageType string, data any) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	b.messages = append(b.messages, messageType)
}

func (b *recordingBroadcaster) ClientCount() int { return 3 }

func testConfig() *config.Config {
	return &config.Config{
		Detection: config.DefaultDetectionConfig(),
		Phone:     config.DefaultPhoneConfig(),
		Alert:     config.DefaultAlertConfig(),
	}
}

func newTestProcessor(t *testing.T, cfg *config.Config) *processor.FrameProcessor {
	t.Helper()

	resultCache := cache.NewMemoryCache(10, time.Minute, zap.NewNop())
	fp := processor.NewFrameProcessor(cfg, resultCache, time.Now, zap.NewNop())
	t.Cleanup(func() {
		fp.Shutdown()
		resultCache.Close()
	})
	return fp
}

func newTestRouter(t *testing.T) (*gin.Engine, *recordingBroadcaster) {
	t.Helper()

	cfg := testConfig()
	broadcaster := &recordingBroadcaster{}
	h := NewStreamHandler(newTestProcessor(t, cfg), broadcaster, cfg, zap.NewNop())

	router := gin.New()
	router.POST("/frames", h.ProcessFrame)
	router.GET("/status", h.GetStatus)
	router.GET("/stats", h.GetStats)
	router.GET("/summary", h.GetSummary)
	router.GET("/config", h.GetConfig)
	router.POST("/reset", h.Reset)

	return router, broadcaster
}

func closedEyesFrame() models.FrameObservation {
	box := landmarkstest.FaceBox
	return models.FrameObservation{
		Width:  640,
		Height: 480,
		Face: &models.FaceObservation{
			Landmarks: landmarkstest.Face(landmarkstest.ClosedEAR, landmarkstest.RestMAR),
			BBox:      &box,
		},
	}
}

func postFrame(t *testing.T, router *gin.Engine, obs models.FrameObservation) *httptest.ResponseRecorder {
	t.Helper()

	body, err := json.Marshal(obs)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/frames", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func get(router *gin.Engine, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestProcessFrameEndpoint(t *testing.T) {
	router, broadcaster := newTestRouter(t)

	var result models.FrameResult
	for i := 0; i < 30; i++ {
		w := postFrame(t, router, closedEyesFrame())
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	}

	assert.Equal(t, int64(30), result.Sequence)
	assert.True(t, result.Drowsiness.EyesClosed)
	assert.InDelta(t, 2.5, result.Drowsiness.Score, 1e-9)
	assert.Len(t, broadcaster.published, 30)
}

func TestProcessFrameRejectsBadPayloads(t *testing.T) {
	router, broadcaster := newTestRouter(t)

	tests := []struct {
		name string
		body string
	}{
		{name: "not json", body: `{"width":`},
		{name: "wrong types", body: `{"width":"wide"}`},
		{name: "negative size", body: `{"width":-1,"height":480}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/frames", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}

	assert.Empty(t, broadcaster.published)
}

func TestGetStatus(t *testing.T) {
	router, _ := newTestRouter(t)

	w := get(router, "/status")
	assert.Equal(t, http.StatusNotFound, w.Code)

	require.Equal(t, http.StatusOK, postFrame(t, router, closedEyesFrame()).Code)

	w = get(router, "/status")
	require.Equal(t, http.StatusOK, w.Code)

	var latest models.FrameResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &latest))
	assert.Equal(t, int64(1), latest.Sequence)
	assert.True(t, latest.Drowsiness.FaceDetected)
}

func TestResetEndpoint(t *testing.T) {
	router, broadcaster := newTestRouter(t)

	for i := 0; i < 31; i++ {
		postFrame(t, router, closedEyesFrame())
	}

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/reset", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Status  string                `json:"status"`
		Summary models.SessionSummary `json:"summary"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "reset", body.Status)
	assert.Equal(t, 0.0, body.Summary.CurrentScore)
	assert.Equal(t, models.TierNormal, body.Summary.CurrentTier)
	assert.Equal(t, []string{MessageReset}, broadcaster.messages)

	assert.Equal(t, http.StatusNotFound, get(router, "/status").Code)
}

func TestStatsSummaryAndConfig(t *testing.T) {
	router, _ := newTestRouter(t)

	postFrame(t, router, closedEyesFrame())
	req := httptest.NewRequest(http.MethodPost, "/frames", strings.NewReader(`{`))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	w = get(router, "/stats")
	require.Equal(t, http.StatusOK, w.Code)

	var stats struct {
		System    SystemStats              `json:"system"`
		Processor processor.ProcessorStats `json:"processor"`
		Metrics   map[string]float64       `json:"metrics"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Equal(t, int64(2), stats.System.TotalFrames)
	assert.Equal(t, int64(1), stats.System.ProcessedError)
	assert.Equal(t, 3, stats.System.ActiveClients)
	assert.Equal(t, int64(1), stats.Processor.TotalProcessed)
	assert.InDelta(t, 50.0, stats.Metrics["success_rate"], 1e-9)

	w = get(router, "/summary")
	require.Equal(t, http.StatusOK, w.Code)
	var summary models.SessionSummary
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &summary))
	assert.Equal(t, int64(1), summary.TotalFrames)

	w = get(router, "/config")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"detection"`)
	assert.Contains(t, w.Body.String(), `"phone"`)
	assert.Contains(t, w.Body.String(), `"alert"`)
}

func TestStatusForError(t *testing.T) {
	assert.Equal(t, http.StatusServiceUnavailable, statusForError(models.ErrQueueFull))
	assert.Equal(t, http.StatusGatewayTimeout, statusForError(models.ErrTimeout))
	assert.Equal(t, http.StatusInternalServerError, statusForError(assert.AnError))
}

func dialTestSocket(t *testing.T) (*websocket.Conn, *WebSocketHandler) {
	t.Helper()

	fp := newTestProcessor(t, testConfig())
	h := NewWebSocketHandler(fp, nil, zap.NewNop())

	router := gin.New()
	router.GET("/ws", h.HandleWebSocket)
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return conn, h
}

func readMessage(t *testing.T, conn *websocket.Conn) map[string]json.RawMessage {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var message map[string]json.RawMessage
	require.NoError(t, conn.ReadJSON(&message))
	return message
}

func messageType(t *testing.T, message map[string]json.RawMessage) string {
	t.Helper()

	var kind string
	require.NoError(t, json.Unmarshal(message["type"], &kind))
	return kind
}

func TestWebSocketPing(t *testing.T) {
	conn, _ := dialTestSocket(t)

	require.NoError(t, conn.WriteJSON(ClientMessage{Type: MessagePing}))
	assert.Equal(t, MessagePong, messageType(t, readMessage(t, conn)))

	require.NoError(t, conn.WriteJSON(ClientMessage{Type: "launch"}))
	assert.Equal(t, MessageError, messageType(t, readMessage(t, conn)))
}

func TestWebSocketFrame(t *testing.T) {
	conn, h := dialTestSocket(t)

	data, err := json.Marshal(closedEyesFrame())
	require.NoError(t, err)

	require.NoError(t, conn.WriteJSON(ClientMessage{Type: MessageFrame, Data: data, Timestamp: 1234}))

	message := readMessage(t, conn)
	require.Equal(t, MessageAnalysis, messageType(t, message))

	var result models.FrameResult
	require.NoError(t, json.Unmarshal(message["data"], &result))
	assert.Equal(t, int64(1), result.Sequence)
	assert.Equal(t, int64(1234), result.Timestamp)
	assert.True(t, result.Drowsiness.FaceDetected)
	assert.Equal(t, 1, h.ClientCount())

	require.NoError(t, conn.WriteJSON(ClientMessage{Type: MessageFrame, Data: json.RawMessage(`"nope"`)}))
	assert.Equal(t, MessageError, messageType(t, readMessage(t, conn)))

	require.NoError(t, conn.WriteJSON(ClientMessage{Type: MessageReset}))
	assert.Equal(t, MessageReset, messageType(t, readMessage(t, conn)))
}

func TestResetSessionBroadcasts(t *testing.T) {
	cfg := testConfig()
	broadcaster := &recordingBroadcaster{}
	fp := newTestProcessor(t, cfg)
	h := NewStreamHandler(fp, broadcaster, cfg, zap.NewNop())

	for i := 0; i < 40; i++ {
		obs := closedEyesFrame()
		fp.ProcessFrame(&obs)
	}
	require.Greater(t, fp.Summary().CurrentScore, 0.0)

	summary := h.ResetSession()
	assert.Equal(t, 0.0, summary.CurrentScore)
	assert.Equal(t, models.TierNormal, summary.CurrentTier)
	assert.Equal(t, []string{MessageReset}, broadcaster.messages)
}
