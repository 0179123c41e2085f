// Package drowsiness turns per-frame eye and mouth ratios into debounced
// eye-closure and yawn events, a bounded drowsiness score and an alert tier.
package drowsiness

import (
	"math"

	"github.com/san-kum/driver-safety/server/config"
	"github.com/san-kum/driver-safety/server/geometry"
	"github.com/san-kum/driver-safety/server/models"
	"go.uber.org/zap"
)

// Face mesh indices for the six-point eye contours and the mouth subset.
var (
	LeftEyeIndices  = []int{33, 160, 158, 133, 153, 144}
	RightEyeIndices = []int{362, 385, 387, 263, 373, 380}
	MouthIndices    = []int{61, 291, 0, 17, 269, 405, 146, 91, 181, 84, 17, 314, 405, 321, 375, 291}
)

// State is the part of the detector that persists across frames.
type State struct {
	EyeClosedFrames  int              `json:"eye_closed_frames"`
	YawnFrames       int              `json:"yawn_frames"`
	Score            float64          `json:"score"`
	Tier             models.AlertTier `json:"tier"`
	TotalEyeClosures int              `json:"total_eye_closures"`
	TotalYawns       int              `json:"total_yawns"`
	AbsentFrames     int              `json:"absent_frames"`
	FaceDetected     bool             `json:"face_detected"`
}

// Detector is not safe for concurrent use; the caller serializes frames.
type Detector struct {
	config config.DetectionConfig
	logger *zap.Logger
	state  State
}

func NewDetector(cfg config.DetectionConfig, logger *zap.Logger) *Detector {
	d := &Detector{
		config: cfg,
		logger: logger,
		state:  State{Tier: models.TierNormal},
	}

	logger.Info("Drowsiness detector initialized",
		zap.Float64("ear_threshold", cfg.EARThreshold),
		zap.Int("ear_consec_frames", cfg.EARConsecFrames),
		zap.Float64("mar_threshold", cfg.MARThreshold),
		zap.Int("mar_consec_frames", cfg.MARConsecFrames))

	return d
}

// Update advances the state machine by one frame. A face that is nil or does
// not carry the full landmark set is treated as absent.
func (d *Detector) Update(face models.LandmarkSet) models.DrowsinessResult {
	if !face.Valid(models.FaceLandmarkCount) {
		return d.updateAbsent()
	}

	d.state.FaceDetected = true
	d.state.AbsentFrames = 0

	leftEye := face.Select(LeftEyeIndices)
	rightEye := face.Select(RightEyeIndices)
	mouth := face.Select(MouthIndices)

	ear, ok := averageEAR(geometry.EyeAspectRatio(leftEye), geometry.EyeAspectRatio(rightEye))
	mar := geometry.MouthAspectRatio(mouth)

	var eyesClosed, yawning bool
	if ok {
		eyesClosed = d.updateEyes(ear)
		yawning = d.updateYawn(ear, mar)
	} else {
		// Collapsed eye contours say nothing about the eyes. Counting them as
		// closed would raise the score on garbage input.
		d.state.EyeClosedFrames = 0
		d.state.YawnFrames = 0
	}

	// Increase and decay never apply in the same frame.
	if !eyesClosed && !yawning {
		d.state.Score = d.clamp(d.state.Score - d.config.ScoreDecay)
	}

	d.state.Tier = d.config.TierFor(d.state.Score)

	return models.DrowsinessResult{
		EAR:              ear,
		MAR:              mar,
		EyesClosed:       eyesClosed,
		Yawning:          yawning,
		Score:            d.state.Score,
		Tier:             d.state.Tier,
		FaceDetected:     true,
		EyeClosedFrames:  d.state.EyeClosedFrames,
		YawnFrames:       d.state.YawnFrames,
		TotalEyeClosures: d.state.TotalEyeClosures,
		TotalYawns:       d.state.TotalYawns,
		LeftEye:          leftEye,
		RightEye:         rightEye,
		Mouth:            mouth,
	}
}

// averageEAR skips an eye whose ratio could not be computed. It reports
// false when neither eye is usable.
func averageEAR(left, right float64) (float64, bool) {
	switch {
	case left > 0 && right > 0:
		return (left + right) / 2.0, true
	case left > 0:
		return left, true
	case right > 0:
		return right, true
	default:
		return 0, false
	}
}

func (d *Detector) updateEyes(ear float64) bool {
	if ear < d.config.EARThreshold {
		d.state.EyeClosedFrames++
		if d.state.EyeClosedFrames >= d.config.EARConsecFrames {
			d.state.Score = d.clamp(d.state.Score + d.config.ScoreIncEyes)
			return true
		}
		return false
	}

	if d.state.EyeClosedFrames >= d.config.EARConsecFrames {
		d.state.TotalEyeClosures++
		d.logger.Warn("Prolonged eye closure detected",
			zap.Int("frames", d.state.EyeClosedFrames),
			zap.Int("total", d.state.TotalEyeClosures))
	}
	d.state.EyeClosedFrames = 0
	return false
}

// A yawn needs open eyes as well as a wide mouth, which filters out
// squinting and speech.
func (d *Detector) updateYawn(ear, mar float64) bool {
	if mar > d.config.MARThreshold && ear > d.config.EARThreshold {
		d.state.YawnFrames++
		if d.state.YawnFrames >= d.config.MARConsecFrames {
			d.state.Score = d.clamp(d.state.Score + d.config.ScoreIncYawn)
			return true
		}
		return false
	}

	if d.state.YawnFrames >= d.config.MARConsecFrames {
		d.state.TotalYawns++
		d.logger.Warn("Yawn detected",
			zap.Int("frames", d.state.YawnFrames),
			zap.Int("total", d.state.TotalYawns))
	}
	d.state.YawnFrames = 0
	return false
}

func (d *Detector) updateAbsent() models.DrowsinessResult {
	d.state.FaceDetected = false
	d.state.AbsentFrames++

	// Within the grace window a dropped frame keeps the in-progress counts.
	if d.state.AbsentFrames > d.config.AbsentGrace {
		d.state.Score = d.clamp(d.state.Score - d.config.AbsentDecay)
		d.state.Tier = models.TierNormal
		d.state.EyeClosedFrames = 0
		d.state.YawnFrames = 0
	}

	return models.DrowsinessResult{
		Score:            d.state.Score,
		Tier:             d.state.Tier,
		TotalEyeClosures: d.state.TotalEyeClosures,
		TotalYawns:       d.state.TotalYawns,
	}
}

func (d *Detector) clamp(score float64) float64 {
	return math.Max(0, math.Min(d.config.ScoreMax, score))
}

// State returns a copy of the persisted state.
func (d *Detector) State() State {
	return d.state
}

// Reset returns the detector to a fresh session. The score always starts at 0.
func (d *Detector) Reset() {
	d.state = State{Tier: models.TierNormal}
	d.logger.Info("Drowsiness detector reset")
}
