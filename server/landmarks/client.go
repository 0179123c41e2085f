// Package landmarks provides frame sources that feed landmark observations
// into the monitor: an HTTP client for an external face and hand landmark
// service, and a replay reader for recorded sessions.
package landmarks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/san-kum/driver-safety/server/config"
	"github.com/san-kum/driver-safety/server/models"
	"go.uber.org/zap"
)

type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
	config     *ClientConfig
}

type ClientConfig struct {
	Timeout             time.Duration
	MaxRetries          int
	RetryDelay          time.Duration
	HealthCheckInterval time.Duration
}

// DetectionResponse is the landmark service payload. Coordinates are
// normalized to [0,1] and scaled to the frame size on conversion.
type DetectionResponse struct {
	Timestamp int64          `json:"timestamp"`
	Width     int            `json:"width"`
	Height    int            `json:"height"`
	Face      *DetectedFace  `json:"face,omitempty"`
	Hands     []DetectedHand `json:"hands,omitempty"`
	Model     string         `json:"model,omitempty"`
	Latency   float64        `json:"latency_ms,omitempty"`
}

type DetectedFace struct {
	Landmarks []models.Point `json:"landmarks"`
	Score     float64        `json:"score"`
}

type DetectedHand struct {
	Landmarks  []models.Point `json:"landmarks"`
	Handedness string         `json:"handedness,omitempty"`
	Score      float64        `json:"score"`
}

func NewClient(baseURL string, cfg config.SourceConfig, logger *zap.Logger) *Client {
	clientConfig := &ClientConfig{
		Timeout:             cfg.Timeout,
		MaxRetries:          cfg.MaxRetries,
		RetryDelay:          cfg.RetryDelay,
		HealthCheckInterval: cfg.HealthCheckInterval,
	}

	return &Client{
		baseURL: baseURL,
		logger:  logger,
		config:  clientConfig,
		httpClient: &http.Client{
			Timeout: clientConfig.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:       10,
				IdleConnTimeout:    30 * time.Second,
				DisableCompression: true,
			},
		},
	}
}

// Next fetches the detections for the next camera frame. A frame the service
// could not produce is reported as models.ErrNoFrame so the loop skips it.
func (c *Client) Next(ctx context.Context) (models.FrameObservation, error) {
	var lastErr error
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			c.logger.Warn("Retrying landmark request",
				zap.Int("attempt", attempt),
				zap.Error(lastErr))

			select {
			case <-ctx.Done():
				return models.FrameObservation{}, ctx.Err()
			case <-time.After(c.config.RetryDelay * time.Duration(attempt)):
			}
		}

		obs, err := c.fetchNext(ctx)
		if err == nil {
			return obs, nil
		}
		if errors.Is(err, models.ErrNoFrame) || ctx.Err() != nil {
			return models.FrameObservation{}, err
		}
		lastErr = err
	}

	c.logger.Error("Landmark service unavailable, skipping frame",
		zap.Int("attempts", c.config.MaxRetries+1),
		zap.Error(lastErr))

	return models.FrameObservation{}, fmt.Errorf("%w: %v", models.ErrNoFrame, lastErr)
}

func (c *Client) fetchNext(ctx context.Context) (models.FrameObservation, error) {
	url := fmt.Sprintf("%s/observations/next", c.baseURL)
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return models.FrameObservation{}, fmt.Errorf("failed to create request: %w", err)
	}

	request.Header.Set("Accept", "application/json")
	request.Header.Set("User-Agent", "driver-safety-monitor/1.0")

	response, err := c.httpClient.Do(request)
	if err != nil {
		return models.FrameObservation{}, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer response.Body.Close()

	if response.StatusCode == http.StatusNoContent {
		return models.FrameObservation{}, models.ErrNoFrame
	}

	if response.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(response.Body)
		return models.FrameObservation{}, fmt.Errorf("landmark service error (status %d): %s",
			response.StatusCode, string(bodyBytes))
	}

	var detection DetectionResponse
	if err := json.NewDecoder(response.Body).Decode(&detection); err != nil {
		return models.FrameObservation{}, fmt.Errorf("failed to decode response: %w", err)
	}

	// Normalized points cannot be placed without the frame size.
	if detection.Width <= 0 || detection.Height <= 0 {
		c.logger.Warn("Landmark response without frame size, skipping frame",
			zap.Int("width", detection.Width),
			zap.Int("height", detection.Height))
		return models.FrameObservation{}, fmt.Errorf("%w: invalid frame size %dx%d",
			models.ErrNoFrame, detection.Width, detection.Height)
	}

	return ConvertDetection(&detection), nil
}

// ConvertDetection scales normalized landmarks to pixel coordinates. A face
// with the wrong number of points is dropped and handled as absent.
func ConvertDetection(detection *DetectionResponse) models.FrameObservation {
	width := float64(detection.Width)
	height := float64(detection.Height)

	obs := models.FrameObservation{
		Timestamp: detection.Timestamp,
		Width:     detection.Width,
		Height:    detection.Height,
	}

	if detection.Face != nil && len(detection.Face.Landmarks) == models.FaceLandmarkCount {
		obs.Face = &models.FaceObservation{
			Landmarks: models.LandmarkSet(detection.Face.Landmarks).Scale(width, height),
		}
	}

	for _, hand := range detection.Hands {
		if len(hand.Landmarks) == 0 {
			continue
		}
		obs.Hands = append(obs.Hands, models.LandmarkSet(hand.Landmarks).Scale(width, height))
	}

	return obs
}

func (c *Client) HealthCheck(ctx context.Context) error {
	url := fmt.Sprintf("%s/health", c.baseURL)

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create health request: %w", err)
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return fmt.Errorf("landmark service unhealthy (status %d)", response.StatusCode)
	}

	return nil
}

// StartHealthChecker polls the service until ctx is cancelled.
func (c *Client) StartHealthChecker(ctx context.Context) {
	if c.config.HealthCheckInterval <= 0 {
		return
	}

	ticker := time.NewTicker(c.config.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.HealthCheck(ctx); err != nil {
				c.logger.Error("Landmark service health check failed", zap.Error(err))
			} else {
				c.logger.Debug("Landmark service health check passed")
			}
		}
	}
}
