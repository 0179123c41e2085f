package landmarks

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/san-kum/driver-safety/server/config"
	"github.com/san-kum/driver-safety/server/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testSourceConfig() config.SourceConfig {
	return config.SourceConfig{
		Timeout:    time.Second,
		MaxRetries: 1,
		RetryDelay: time.Millisecond,
	}
}

func normalizedFace() []models.Point {
	points := make([]models.Point, models.FaceLandmarkCount)
	for i := range points {
		points[i] = models.Point{X: 0.5, Y: 0.5}
	}
	points[0] = models.Point{X: 0.25, Y: 0.75}
	return points
}

func TestClientNext(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/observations/next", r.URL.Path)
		assert.Equal(t, http.MethodGet, r.Method)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(DetectionResponse{
			Timestamp: 42,
			Width:     640,
			Height:    480,
			Face:      &DetectedFace{Landmarks: normalizedFace(), Score: 0.9},
			Hands: []DetectedHand{
				{Landmarks: []models.Point{{X: 0.5, Y: 0.25}}, Handedness: "Right"},
			},
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, testSourceConfig(), zap.NewNop())

	obs, err := client.Next(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(42), obs.Timestamp)
	require.NotNil(t, obs.Face)
	assert.Len(t, obs.Face.Landmarks, models.FaceLandmarkCount)
	assert.Equal(t, models.Point{X: 160, Y: 360}, obs.Face.Landmarks[0])
	assert.Equal(t, models.Point{X: 320, Y: 240}, obs.Face.Landmarks[1])
	require.Len(t, obs.Hands, 1)
	assert.Equal(t, models.Point{X: 320, Y: 120}, obs.Hands[0][0])
}

func TestClientNoFrame(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	client := NewClient(server.URL, testSourceConfig(), zap.NewNop())

	_, err := client.Next(context.Background())
	assert.ErrorIs(t, err, models.ErrNoFrame)
	assert.Equal(t, int32(1), calls.Load(), "an empty frame is not retried")
}

func TestClientRetriesThenSkips(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "camera busy", http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewClient(server.URL, testSourceConfig(), zap.NewNop())

	_, err := client.Next(context.Background())
	require.ErrorIs(t, err, models.ErrNoFrame)
	assert.Contains(t, err.Error(), "camera busy")
	assert.Equal(t, int32(2), calls.Load())
}

func TestClientRecoversOnRetry(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		json.NewEncoder(w).Encode(DetectionResponse{Timestamp: 9, Width: 10, Height: 10})
	}))
	defer server.Close()

	client := NewClient(server.URL, testSourceConfig(), zap.NewNop())

	obs, err := client.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(9), obs.Timestamp)
	assert.Nil(t, obs.Face)
}

func TestClientHealthCheck(t *testing.T) {
	var healthy atomic.Bool
	healthy.Store(true)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		if !healthy.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewClient(server.URL, testSourceConfig(), zap.NewNop())
	assert.NoError(t, client.HealthCheck(context.Background()))

	healthy.Store(false)
	assert.ErrorContains(t, client.HealthCheck(context.Background()), "503")
}

func TestConvertDetection(t *testing.T) {
	short := normalizedFace()[:100]

	obs := ConvertDetection(&DetectionResponse{
		Width:  100,
		Height: 50,
		Face:   &DetectedFace{Landmarks: short},
		Hands: []DetectedHand{
			{Landmarks: nil},
			{Landmarks: []models.Point{{X: 1, Y: 1}}},
		},
	})

	assert.Nil(t, obs.Face, "a partial face mesh is treated as no face")
	require.Len(t, obs.Hands, 1)
	assert.Equal(t, models.Point{X: 100, Y: 50}, obs.Hands[0][0])
}

func TestClientSkipsResponseWithoutFrameSize(t *testing.T) {
	tests := []struct {
		name   string
		width  int
		height int
	}{
		{name: "missing both", width: 0, height: 0},
		{name: "missing height", width: 640, height: 0},
		{name: "negative width", width: -1, height: 480},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				json.NewEncoder(w).Encode(DetectionResponse{
					Width:  tt.width,
					Height: tt.height,
					Face:   &DetectedFace{Landmarks: normalizedFace()},
				})
			}))
			defer server.Close()

			client := NewClient(server.URL, testSourceConfig(), zap.NewNop())

			obs, err := client.Next(context.Background())
			assert.ErrorIs(t, err, models.ErrNoFrame)
			assert.Nil(t, obs.Face)
			assert.Equal(t, int32(1), calls.Load(), "a skipped frame is not retried")
		})
	}
}
