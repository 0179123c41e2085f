package processor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/san-kum/driver-safety/server/alerts"
	"github.com/san-kum/driver-safety/server/cache"
	"github.com/san-kum/driver-safety/server/config"
	"github.com/san-kum/driver-safety/server/drowsiness"
	"github.com/san-kum/driver-safety/server/geometry"
	"github.com/san-kum/driver-safety/server/models"
	"github.com/san-kum/driver-safety/server/phone"
	"go.uber.org/zap"
)

// faceBoxPadding is added around the landmark extent when the detector did
// not supply a face bounding box.
const faceBoxPadding = 10

// FrameProcessor owns the per-frame pipeline: geometry, the drowsiness and
// phone state machines, and alert arbitration. Frames are applied one at a
// time; resets only happen between frames.
type FrameProcessor struct {
	logger    *zap.Logger
	config    *ProcessorConfig
	detection config.DetectionConfig
	cache     cache.Cache
	queue     *ProcessingQueue
	clock     func() time.Time

	mutex      sync.Mutex
	sessionID  string
	startTime  time.Time
	sequence   int64
	drowsiness *drowsiness.Detector
	phone      *phone.Detector
	arbitrator *alerts.Arbitrator
	fps        *FPSCounter

	statsMutex sync.RWMutex
	stats      *ProcessorStats

	ctx    context.Context
	cancel context.CancelFunc
}

type ProcessorStats struct {
	StartTime       time.Time `json:"start_time"`
	TotalProcessed  int64     `json:"total_processed"`
	SkippedFrames   int64     `json:"skipped_frames"`
	FailedProcessed int64     `json:"failed_processed"`
	AverageLatency  float64   `json:"average_latency_ms"`
	FPS             float64   `json:"fps"`
	QueueSize       int       `json:"queue_size"`
	AudioMode       string    `json:"audio_mode"`
}

type ProcessorConfig struct {
	MaxQueueSize      int           `json:"max_queue_size"`
	ProcessingTimeout time.Duration `json:"processing_timeout"`
	HandDetection     bool          `json:"hand_detection"`
	FPSWindow         int           `json:"fps_window"`
}

func NewFrameProcessor(cfg *config.Config, resultCache cache.Cache, clock func() time.Time, logger *zap.Logger) *FrameProcessor {
	if clock == nil {
		clock = time.Now
	}

	processorConfig := &ProcessorConfig{
		MaxQueueSize:      100,
		ProcessingTimeout: 5 * time.Second,
		HandDetection:     cfg.Phone.Enabled,
		FPSWindow:         30,
	}

	ctx, cancel := context.WithCancel(context.Background())

	fp := &FrameProcessor{
		logger:     logger,
		config:     processorConfig,
		detection:  cfg.Detection,
		cache:      resultCache,
		clock:      clock,
		sessionID:  uuid.NewString(),
		startTime:  clock(),
		drowsiness: drowsiness.NewDetector(cfg.Detection, logger),
		phone:      phone.NewDetector(cfg.Phone, logger),
		arbitrator: alerts.NewArbitrator(cfg.Alert, cfg.Detection, clock, logger),
		fps:        NewFPSCounter(processorConfig.FPSWindow),
		stats:      &ProcessorStats{StartTime: clock()},
		ctx:        ctx,
		cancel:     cancel,
	}

	// One worker keeps frames from every transport in arrival order.
	fp.queue = NewProcessingQueue(processorConfig.MaxQueueSize, 1, fp.processQueued)

	logger.Info("Frame processor started", zap.String("session_id", fp.sessionID))

	return fp
}

// ProcessFrame runs the full pipeline for one frame and returns the combined result.
func (fp *FrameProcessor) ProcessFrame(obs *models.FrameObservation) models.FrameResult {
	fp.mutex.Lock()
	defer fp.mutex.Unlock()

	start := time.Now()
	now := fp.clock()
	fp.sequence++

	var landmarks models.LandmarkSet
	var faceBox *models.BBox
	if obs.Face != nil && obs.Face.Landmarks.Valid(models.FaceLandmarkCount) {
		landmarks = obs.Face.Landmarks
		faceBox = resolveFaceBox(obs)
	}

	drowsinessResult := fp.drowsiness.Update(landmarks)

	var hands []models.LandmarkSet
	if fp.config.HandDetection {
		hands = obs.Hands
	}
	phoneResult := fp.phone.Update(hands, faceBox)

	visual := fp.arbitrator.Visual(drowsinessResult, phoneResult)
	audio := fp.arbitrator.Audio(drowsinessResult, phoneResult)

	fp.fps.Tick(now)

	timestamp := obs.Timestamp
	if timestamp == 0 {
		timestamp = now.UnixMilli()
	}

	result := models.FrameResult{
		SessionID:      fp.sessionID,
		Sequence:       fp.sequence,
		Timestamp:      timestamp,
		Drowsiness:     drowsinessResult,
		Phone:          phoneResult,
		Visual:         visual,
		Audio:          audio,
		ProcessingTime: float64(time.Since(start).Microseconds()) / 1000.0,
	}

	fp.recordFrame(time.Since(start), audio.Mode)
	fp.storeLatest(result)

	return result
}

func resolveFaceBox(obs *models.FrameObservation) *models.BBox {
	if obs.Face.BBox != nil {
		box := *obs.Face.BBox
		return &box
	}

	box, ok := geometry.BoundsOf(obs.Face.Landmarks, faceBoxPadding, float64(obs.Width), float64(obs.Height))
	if !ok {
		return nil
	}
	return &box
}

// Submit queues a frame and waits for its result, the processing timeout or
// ctx, whichever comes first.
func (fp *FrameProcessor) Submit(ctx context.Context, obs *models.FrameObservation) (*models.FrameResult, error) {
	resultChan := make(chan *ProcessingResult, 1)

	item := &QueueItem{
		Observation: obs,
		ResultChan:  resultChan,
		StartTime:   time.Now(),
	}

	if !fp.queue.Enqueue(item) {
		fp.recordFailure()
		return nil, models.ErrQueueFull
	}

	select {
	case result := <-resultChan:
		if result.Error != nil {
			fp.recordFailure()
			return nil, result.Error
		}
		return result.Result, nil

	case <-time.After(fp.config.ProcessingTimeout):
		fp.recordFailure()
		return nil, models.ErrTimeout

	case <-ctx.Done():
		fp.recordFailure()
		return nil, fmt.Errorf("%w: %w", models.ErrTimeout, ctx.Err())
	}
}

func (fp *FrameProcessor) processQueued(item *QueueItem) {
	defer func() {
		if r := recover(); r != nil {
			fp.logger.Error("Frame processing panic", zap.Any("panic", r))
			item.ResultChan <- &ProcessingResult{
				Error: fmt.Errorf("processing failed: %v", r),
			}
		}
	}()

	result := fp.ProcessFrame(item.Observation)
	item.ResultChan <- &ProcessingResult{Result: &result}
}

// RecordSkipped notes a frame that could not be acquired. No detector state changes.
func (fp *FrameProcessor) RecordSkipped() {
	fp.statsMutex.Lock()
	defer fp.statsMutex.Unlock()
	fp.stats.SkippedFrames++
}

// ResetStatistics returns both state machines and the arbitrator to their
// initial state. It waits for any in-flight frame to finish first.
func (fp *FrameProcessor) ResetStatistics() {
	fp.mutex.Lock()
	defer fp.mutex.Unlock()

	fp.drowsiness.Reset()
	fp.phone.Reset()
	fp.arbitrator.Reset()

	if fp.cache != nil {
		if err := fp.cache.Delete(fp.ctx, fp.latestKey()); err != nil {
			fp.logger.Warn("Failed to clear cached result", zap.Error(err))
		}
	}

	fp.logger.Info("All statistics reset", zap.String("session_id", fp.sessionID))
}

// Summary reports the session totals.
func (fp *FrameProcessor) Summary() models.SessionSummary {
	fp.mutex.Lock()
	defer fp.mutex.Unlock()

	d := fp.drowsiness.State()
	p := fp.phone.State()

	return models.SessionSummary{
		SessionID:          fp.sessionID,
		StartTime:          fp.startTime,
		TotalFrames:        fp.fps.Frames(),
		TotalEyeClosures:   d.TotalEyeClosures,
		TotalYawns:         d.TotalYawns,
		TotalPhoneSessions: p.TotalSessions,
		LongestPhoneFrames: p.LongestDuration,
		CurrentScore:       d.Score,
		CurrentTier:        d.Tier,
	}
}

// LatestResult returns the most recent frame result without waiting on the pipeline.
func (fp *FrameProcessor) LatestResult(ctx context.Context) (*models.FrameResult, error) {
	if fp.cache == nil {
		return nil, cache.ErrCacheMiss
	}

	var result models.FrameResult
	if err := fp.cache.Get(ctx, fp.latestKey(), &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (fp *FrameProcessor) storeLatest(result models.FrameResult) {
	if fp.cache == nil {
		return
	}
	// The latest result stays until the next frame or a reset, however long
	// the driver is idle.
	if err := fp.cache.SetWithTTL(fp.ctx, fp.latestKey(), result, 0); err != nil {
		fp.logger.Warn("Failed to cache result", zap.Error(err))
	}
}

func (fp *FrameProcessor) latestKey() string {
	return cache.GenerateCacheKey("latest", fp.sessionID)
}

func (fp *FrameProcessor) SessionID() string {
	return fp.sessionID
}

// DetectionConfig returns the thresholds the state machines run with.
func (fp *FrameProcessor) DetectionConfig() config.DetectionConfig {
	return fp.detection
}

func (fp *FrameProcessor) GetStats() *ProcessorStats {
	fp.mutex.Lock()
	fps := fp.fps.FPS()
	fp.mutex.Unlock()

	fp.statsMutex.RLock()
	defer fp.statsMutex.RUnlock()

	stats := *fp.stats
	stats.FPS = fps
	stats.QueueSize = fp.queue.Size()
	return &stats
}

func (fp *FrameProcessor) GetCacheStats(ctx context.Context) (*cache.CacheStats, error) {
	if fp.cache == nil {
		return nil, cache.ErrCacheMiss
	}
	return fp.cache.GetStats(ctx)
}

func (fp *FrameProcessor) GetQueueStats() QueueStats {
	return fp.queue.GetQueueStats()
}

func (fp *FrameProcessor) recordFrame(latency time.Duration, audioMode string) {
	fp.statsMutex.Lock()
	defer fp.statsMutex.Unlock()

	fp.stats.TotalProcessed++
	fp.stats.AudioMode = audioMode

	currentLatency := float64(latency.Microseconds()) / 1000.0
	if fp.stats.AverageLatency == 0 {
		fp.stats.AverageLatency = currentLatency
	} else {
		alpha := 0.1
		fp.stats.AverageLatency = alpha*currentLatency + (1-alpha)*fp.stats.AverageLatency
	}
}

func (fp *FrameProcessor) recordFailure() {
	fp.statsMutex.Lock()
	defer fp.statsMutex.Unlock()
	fp.stats.FailedProcessed++
}

// Shutdown stops the queue and logs the session summary.
func (fp *FrameProcessor) Shutdown() error {
	fp.logger.Info("Shutting down frame processor...")

	if err := fp.queue.Shutdown(10 * time.Second); err != nil {
		fp.logger.Error("Failed to shutdown queue", zap.Error(err))
		fp.cancel()
		return err
	}

	summary := fp.Summary()
	fp.logger.Info("Session summary",
		zap.String("session_id", summary.SessionID),
		zap.Int("total_eye_closures", summary.TotalEyeClosures),
		zap.Int("total_yawns", summary.TotalYawns),
		zap.Int("total_phone_sessions", summary.TotalPhoneSessions),
		zap.Int("longest_phone_frames", summary.LongestPhoneFrames),
		zap.Int64("total_frames", summary.TotalFrames))

	fp.cancel()
	fp.logger.Info("Frame processor shutdown complete")
	return nil
}
