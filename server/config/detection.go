package config

import (
	"fmt"
	"time"

	"github.com/san-kum/driver-safety/server/models"
)

// DetectionConfig holds the drowsiness tunables. It is built once at startup
// and handed to the detector by value.
type DetectionConfig struct {
	EARThreshold    float64 `json:"ear_threshold"`
	EARConsecFrames int     `json:"ear_consec_frames"`
	MARThreshold    float64 `json:"mar_threshold"`
	MARConsecFrames int     `json:"mar_consec_frames"`

	ScoreIncEyes float64 `json:"score_inc_eyes"`
	ScoreIncYawn float64 `json:"score_inc_yawn"`
	ScoreDecay   float64 `json:"score_decay"`
	ScoreMax     float64 `json:"score_max"`

	WarningThreshold float64 `json:"warning_threshold"`
	DangerThreshold  float64 `json:"danger_threshold"`

	// Frames without a face that are tolerated before the score decays.
	AbsentGrace int     `json:"absent_grace"`
	AbsentDecay float64 `json:"absent_decay"`
}

type PhoneConfig struct {
	Enabled            bool    `json:"enabled"`
	DetectionThreshold float64 `json:"detection_threshold"`
	ConsecFrames       int     `json:"consec_frames"`

	ProximityWeight   float64 `json:"proximity_weight"`
	EarPositionWeight float64 `json:"ear_position_weight"`

	// Hand counts as close when its nearest point is within this fraction of
	// the face size from a face edge.
	ProximityRatio float64 `json:"proximity_ratio"`
	// Allowed vertical offset of the hand centre from the face centre, as a
	// fraction of face height.
	EarTolerance float64 `json:"ear_tolerance"`
	NominalFPS   float64 `json:"nominal_fps"`
}

type AlertConfig struct {
	AudioEnabled        bool          `json:"audio_enabled"`
	ContinuousEnabled   bool          `json:"continuous_enabled"`
	ContinuousThreshold float64       `json:"continuous_threshold"`
	Cooldown            time.Duration `json:"cooldown"`
	AlarmInterval       time.Duration `json:"alarm_interval"`
	PhoneCooldown       time.Duration `json:"phone_cooldown"`
	ShowNormalBanner    bool          `json:"show_normal_banner"`
}

func DefaultDetectionConfig() DetectionConfig {
	return DetectionConfig{
		EARThreshold:     0.21,
		EARConsecFrames:  30,
		MARThreshold:     0.75,
		MARConsecFrames:  20,
		ScoreIncEyes:     2.5,
		ScoreIncYawn:     1.5,
		ScoreDecay:       3.0,
		ScoreMax:         100,
		WarningThreshold: 35,
		DangerThreshold:  65,
		AbsentGrace:      3,
		AbsentDecay:      10.0,
	}
}

func DefaultPhoneConfig() PhoneConfig {
	return PhoneConfig{
		Enabled:            true,
		DetectionThreshold: 0.6,
		ConsecFrames:       150, // 5 seconds at 30 FPS
		ProximityWeight:    0.6,
		EarPositionWeight:  0.4,
		ProximityRatio:     0.3,
		EarTolerance:       0.3,
		NominalFPS:         30,
	}
}

func DefaultAlertConfig() AlertConfig {
	return AlertConfig{
		AudioEnabled:        true,
		ContinuousEnabled:   true,
		ContinuousThreshold: 70,
		Cooldown:            time.Second,
		AlarmInterval:       500 * time.Millisecond,
		PhoneCooldown:       time.Second,
		ShowNormalBanner:    true,
	}
}

// TierFor maps a score onto the alert tier.
func (c DetectionConfig) TierFor(score float64) models.AlertTier {
	switch {
	case score >= c.DangerThreshold:
		return models.TierDanger
	case score >= c.WarningThreshold:
		return models.TierWarning
	default:
		return models.TierNormal
	}
}

func (c DetectionConfig) Validate() []string {
	var errors []string

	if c.ScoreMax <= 0 {
		errors = append(errors, "SCORE_MAX must be positive")
	}
	if !(0 < c.WarningThreshold && c.WarningThreshold < c.DangerThreshold && c.DangerThreshold <= c.ScoreMax) {
		errors = append(errors, fmt.Sprintf("thresholds must satisfy 0 < WARNING_THRESH (%.1f) < DANGER_THRESH (%.1f) <= SCORE_MAX (%.1f)",
			c.WarningThreshold, c.DangerThreshold, c.ScoreMax))
	}
	if c.EARThreshold <= 0 {
		errors = append(errors, "EAR_THRESHOLD must be positive")
	}
	if c.MARThreshold <= 0 {
		errors = append(errors, "MAR_THRESHOLD must be positive")
	}
	if c.EARConsecFrames < 1 || c.MARConsecFrames < 1 {
		errors = append(errors, "EAR_CONSEC_FRAMES and MAR_CONSEC_FRAMES must be at least 1")
	}
	if c.ScoreIncEyes < 0 || c.ScoreIncYawn < 0 || c.ScoreDecay < 0 || c.AbsentDecay < 0 {
		errors = append(errors, "score increments and decays must not be negative")
	}
	if c.AbsentGrace < 0 {
		errors = append(errors, "ABSENT_GRACE_FRAMES must not be negative")
	}

	return errors
}

func (c PhoneConfig) Validate() []string {
	var errors []string

	if c.DetectionThreshold < 0 || c.DetectionThreshold > 1 {
		errors = append(errors, "PHONE_DETECTION_THRESHOLD must be within [0, 1]")
	}
	if c.ConsecFrames < 1 {
		errors = append(errors, "PHONE_CONSEC_FRAMES must be at least 1")
	}
	if c.ProximityWeight < 0 || c.EarPositionWeight < 0 {
		errors = append(errors, "phone heuristic weights must not be negative")
	}
	if c.ProximityWeight+c.EarPositionWeight > 1.0+1e-9 {
		errors = append(errors, "phone heuristic weights must sum to at most 1.0")
	}
	if c.ProximityRatio <= 0 || c.EarTolerance <= 0 {
		errors = append(errors, "phone proximity ratio and ear tolerance must be positive")
	}
	if c.NominalFPS <= 0 {
		errors = append(errors, "PHONE_NOMINAL_FPS must be positive")
	}

	return errors
}

func (c AlertConfig) Validate(scoreMax float64) []string {
	var errors []string

	if c.ContinuousThreshold < 0 || c.ContinuousThreshold > scoreMax {
		errors = append(errors, "CONTINUOUS_ALARM_THRESHOLD must be within [0, SCORE_MAX]")
	}
	if c.Cooldown <= 0 {
		errors = append(errors, "AUDIO_ALERT_COOLDOWN must be positive")
	}
	if c.AlarmInterval <= 0 || c.PhoneCooldown <= 0 {
		errors = append(errors, "alarm interval and phone cooldown must be positive")
	}

	return errors
}
