package handlers

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/san-kum/driver-safety/server/cache"
	"github.com/san-kum/driver-safety/server/config"
	"github.com/san-kum/driver-safety/server/models"
	"github.com/san-kum/driver-safety/server/processor"
	"go.uber.org/zap"
)

// Broadcaster fans results and control events out to connected clients.
type Broadcaster interface {
	processor.ResultSink
	Broadcast(messageType string, data any)
	ClientCount() int
}

type StreamHandler struct {
	processor   *processor.FrameProcessor
	broadcaster Broadcaster
	config      *config.Config
	logger      *zap.Logger

	statsMutex sync.Mutex
	stats      *SystemStats
}

type SystemStats struct {
	TotalFrames    int64     `json:"total_frames"`
	ProcessedOK    int64     `json:"processed_ok"`
	ProcessedError int64     `json:"processed_error"`
	AvgProcessTime float64   `json:"avg_process_time_ms"`
	LastUpdated    time.Time `json:"last_updated"`
	ActiveClients  int       `json:"active_clients"`
}

func NewStreamHandler(processor *processor.FrameProcessor, broadcaster Broadcaster, cfg *config.Config, logger *zap.Logger) *StreamHandler {
	return &StreamHandler{
		processor:   processor,
		broadcaster: broadcaster,
		config:      cfg,
		logger:      logger,
		stats: &SystemStats{
			LastUpdated: time.Now(),
		},
	}
}

// ProcessFrame accepts one frame of landmark observations and returns the
// combined analysis.
func (h *StreamHandler) ProcessFrame(c *gin.Context) {
	startTime := time.Now()

	var observation models.FrameObservation
	if err := c.ShouldBindJSON(&observation); err != nil {
		h.logger.Warn("Invalid frame payload", zap.Error(err), zap.String("client_ip", c.ClientIP()))
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid frame payload"})
		h.recordFrame(false, 0)
		return
	}

	if observation.Width < 0 || observation.Height < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Frame dimensions must not be negative"})
		h.recordFrame(false, 0)
		return
	}

	result, err := h.processor.Submit(c.Request.Context(), &observation)
	if err != nil {
		h.logger.Error("Frame processing failed",
			zap.Error(err),
			zap.String("client_ip", c.ClientIP()))
		c.JSON(statusForError(err), gin.H{"error": err.Error()})
		h.recordFrame(false, 0)
		return
	}

	h.recordFrame(true, time.Since(startTime))

	if h.broadcaster != nil {
		h.broadcaster.Publish(*result)
	}

	c.JSON(http.StatusOK, result)
}

// GetStatus returns the most recent frame result.
func (h *StreamHandler) GetStatus(c *gin.Context) {
	result, err := h.processor.LatestResult(c.Request.Context())
	if err != nil {
		if errors.Is(err, cache.ErrCacheMiss) {
			c.JSON(http.StatusNotFound, gin.H{"error": "No frame processed yet"})
			return
		}
		h.logger.Error("Failed to read latest result", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read latest result"})
		return
	}

	c.JSON(http.StatusOK, result)
}

func (h *StreamHandler) GetStats(c *gin.Context) {
	h.statsMutex.Lock()
	h.stats.LastUpdated = time.Now()
	if h.broadcaster != nil {
		h.stats.ActiveClients = h.broadcaster.ClientCount()
	}
	system := *h.stats
	h.statsMutex.Unlock()

	var successRate, errorRate float64
	if system.TotalFrames > 0 {
		successRate = float64(system.ProcessedOK) / float64(system.TotalFrames) * 100
		errorRate = float64(system.ProcessedError) / float64(system.TotalFrames) * 100
	}

	processorStats := h.processor.GetStats()

	response := gin.H{
		"system":    system,
		"processor": processorStats,
		"queue":     h.processor.GetQueueStats(),
		"metrics": gin.H{
			"success_rate":   successRate,
			"error_rate":     errorRate,
			"uptime_seconds": time.Since(processorStats.StartTime).Seconds(),
		},
	}

	if cacheStats, err := h.processor.GetCacheStats(c.Request.Context()); err == nil {
		response["cache"] = cacheStats
	}

	c.JSON(http.StatusOK, response)
}

func (h *StreamHandler) GetSummary(c *gin.Context) {
	c.JSON(http.StatusOK, h.processor.Summary())
}

// Reset clears both state machines and the alert state, then tells every
// connected client.
func (h *StreamHandler) Reset(c *gin.Context) {
	summary := h.ResetSession()

	c.JSON(http.StatusOK, gin.H{
		"status":  "reset",
		"summary": summary,
	})
}

// ResetSession resets the processor and broadcasts the fresh summary. It is
// the reset path for callers outside the frame loop.
func (h *StreamHandler) ResetSession() models.SessionSummary {
	h.processor.ResetStatistics()
	summary := h.processor.Summary()

	if h.broadcaster != nil {
		h.broadcaster.Broadcast(MessageReset, summary)
	}
	return summary
}

func (h *StreamHandler) GetConfig(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"detection": h.config.Detection,
		"phone":     h.config.Phone,
		"alert":     h.config.Alert,
	})
}

func (h *StreamHandler) recordFrame(ok bool, duration time.Duration) {
	h.statsMutex.Lock()
	defer h.statsMutex.Unlock()

	h.stats.TotalFrames++
	if !ok {
		h.stats.ProcessedError++
		return
	}
	h.stats.ProcessedOK++

	currentTime := float64(duration.Microseconds()) / 1000.0
	if h.stats.AvgProcessTime == 0 {
		h.stats.AvgProcessTime = currentTime
	} else {
		alpha := 0.1
		h.stats.AvgProcessTime = alpha*currentTime + (1-alpha)*h.stats.AvgProcessTime
	}
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, models.ErrQueueFull):
		return http.StatusServiceUnavailable
	case errors.Is(err, models.ErrTimeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
