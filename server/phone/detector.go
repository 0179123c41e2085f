// Package phone detects a phone held to the ear from hand landmarks and the
// face bounding box, with a multi-second dwell before a session is confirmed.
package phone

import (
	"fmt"
	"math"

	"github.com/san-kum/driver-safety/server/config"
	"github.com/san-kum/driver-safety/server/geometry"
	"github.com/san-kum/driver-safety/server/models"
	"go.uber.org/zap"
)

// farAway is the proximity ratio reported when it cannot be computed.
const farAway = 999.0

type State struct {
	ConsecFrames    int  `json:"consec_frames"`
	Active          bool `json:"active"`
	CurrentDuration int  `json:"current_duration"`
	LongestDuration int  `json:"longest_duration"`
	TotalSessions   int  `json:"total_sessions"`
}

// Detector is not safe for concurrent use; the caller serializes frames.
type Detector struct {
	config config.PhoneConfig
	logger *zap.Logger
	state  State
}

func NewDetector(cfg config.PhoneConfig, logger *zap.Logger) *Detector {
	logger.Info("Phone detector initialized",
		zap.Float64("threshold", cfg.DetectionThreshold),
		zap.Int("consec_frames", cfg.ConsecFrames))

	return &Detector{
		config: cfg,
		logger: logger,
	}
}

// Update advances the detector by one frame. faceBox may be nil when no face
// was found, in which case no hand can score.
func (d *Detector) Update(hands []models.LandmarkSet, faceBox *models.BBox) models.PhoneResult {
	if len(hands) == 0 {
		d.endSession()
		return d.result(0, nil)
	}

	best := 0.0
	var reasons []string
	for _, hand := range hands {
		// A partial hand is noise from the detector, not a hand.
		if !hand.Valid(models.HandLandmarkCount) {
			continue
		}

		confidence, handReasons := d.ScoreHand(hand, faceBox)
		reasons = append(reasons, handReasons...)
		if confidence > best {
			best = confidence
		}
	}

	if best >= d.config.DetectionThreshold {
		d.state.ConsecFrames++
		if d.state.ConsecFrames >= d.config.ConsecFrames {
			if !d.state.Active {
				d.logger.Warn("Phone usage confirmed", zap.Int("dwell_frames", d.state.ConsecFrames))
			}
			d.state.Active = true
			d.state.CurrentDuration++
			if d.state.CurrentDuration > d.state.LongestDuration {
				d.state.LongestDuration = d.state.CurrentDuration
			}
		}
	} else {
		d.endSession()
	}

	return d.result(best, reasons)
}

// ScoreHand sums the weights of the heuristics that fire for one hand.
func (d *Detector) ScoreHand(hand models.LandmarkSet, faceBox *models.BBox) (float64, []string) {
	confidence := 0.0
	var reasons []string

	ratio := ProximityRatio(hand, faceBox)
	if ratio < d.config.ProximityRatio {
		confidence += d.config.ProximityWeight
		reasons = append(reasons, fmt.Sprintf("Hand very close (dist: %.2f)", ratio))
	}

	if AtEarPosition(hand, faceBox, d.config.EarTolerance) {
		confidence += d.config.EarPositionWeight
		reasons = append(reasons, "Hand at ear position")
	}

	return math.Min(1.0, confidence), reasons
}

// endSession counts a session that reached the dwell requirement, then clears
// the per-session counters.
func (d *Detector) endSession() {
	if d.state.ConsecFrames >= d.config.ConsecFrames {
		d.state.TotalSessions++
		d.logger.Warn("Phone usage ended",
			zap.Int("total_sessions", d.state.TotalSessions),
			zap.Float64("duration_seconds", float64(d.state.CurrentDuration)/d.config.NominalFPS))
	}

	d.state.ConsecFrames = 0
	d.state.CurrentDuration = 0
	d.state.Active = false
}

func (d *Detector) result(confidence float64, reasons []string) models.PhoneResult {
	return models.PhoneResult{
		Detected:        d.state.Active,
		Confidence:      confidence,
		Counter:         d.state.ConsecFrames,
		TotalSessions:   d.state.TotalSessions,
		CurrentDuration: d.state.CurrentDuration,
		LongestDuration: d.state.LongestDuration,
		Reasons:         reasons,
	}
}

func (d *Detector) State() State {
	return d.state
}

func (d *Detector) Reset() {
	d.state = State{}
	d.logger.Info("Phone detector reset")
}

// ProximityRatio is the distance from the closest hand point to any face box
// edge, divided by the larger face dimension. 0 means touching an edge.
func ProximityRatio(hand models.LandmarkSet, faceBox *models.BBox) float64 {
	if len(hand) == 0 || faceBox == nil {
		return farAway
	}

	faceSize := math.Max(faceBox.Width(), faceBox.Height())
	if faceSize <= 0 {
		return farAway
	}

	minDist := math.Inf(1)
	for _, p := range hand {
		dist := math.Min(
			math.Min(math.Abs(p.X-faceBox.X1), math.Abs(p.X-faceBox.X2)),
			math.Min(math.Abs(p.Y-faceBox.Y1), math.Abs(p.Y-faceBox.Y2)),
		)
		minDist = math.Min(minDist, dist)
	}

	return minDist / faceSize
}

// AtEarPosition reports whether the hand centre is level with the face centre
// (within tolerance of face height) and beside the face rather than in front.
func AtEarPosition(hand models.LandmarkSet, faceBox *models.BBox, tolerance float64) bool {
	if len(hand) == 0 || faceBox == nil {
		return false
	}

	center := geometry.Centroid(hand)
	faceCenter := faceBox.Center()

	atEarHeight := math.Abs(center.Y-faceCenter.Y) < faceBox.Height()*tolerance
	besideFace := center.X < faceBox.X1 || center.X > faceBox.X2

	return atEarHeight && besideFace
}
