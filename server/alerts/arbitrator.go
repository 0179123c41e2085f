// Package alerts combines drowsiness and phone results into what the driver
// sees and hears. Visual decisions are pure; audio decisions are gated by
// cooldown timers and the continuous alarm state.
package alerts

import (
	"fmt"
	"math"
	"time"

	"github.com/san-kum/driver-safety/server/config"
	"github.com/san-kum/driver-safety/server/models"
	"go.uber.org/zap"
)

type Mode string

const (
	ModeIdle            Mode = "idle"
	ModeCooldown        Mode = "cooldown"
	ModeContinuousAlarm Mode = "continuous_alarm"
)

const (
	MessageDanger  = "!!! DROWSINESS ALERT! TAKE A BREAK !!!"
	MessageWarning = "! Warning: Stay Alert !"
	MessageActive  = "ALERT - Driver Monitoring Active"
	MessageNormal  = "Status: Normal"
	MessagePhone   = "PHONE USAGE DETECTED! FOCUS ON DRIVING LEAVE THE PHONE!"
)

type Arbitrator struct {
	config    config.AlertConfig
	detection config.DetectionConfig
	clock     func() time.Time
	logger    *zap.Logger

	lastAudioFire   time.Time
	lastPhoneFire   time.Time
	continuousAlarm bool
	alarmStart      time.Time
}

// NewArbitrator creates an arbitrator. A nil clock uses time.Now.
func NewArbitrator(cfg config.AlertConfig, detection config.DetectionConfig, clock func() time.Time, logger *zap.Logger) *Arbitrator {
	if clock == nil {
		clock = time.Now
	}

	return &Arbitrator{
		config:    cfg,
		detection: detection,
		clock:     clock,
		logger:    logger,
	}
}

// Visual decides banners and indicators for one frame. The phone banner is
// listed first and sits on top; the drowsiness banner is still shown under it.
func (a *Arbitrator) Visual(d models.DrowsinessResult, p models.PhoneResult) models.VisualDecision {
	var banners []models.Banner

	if p.Detected {
		banners = append(banners, models.Banner{Kind: models.BannerPhone, Message: MessagePhone})
	}

	if banner, ok := a.drowsinessBanner(d); ok {
		banners = append(banners, banner)
	}

	return models.VisualDecision{
		Banners:    banners,
		Indicators: indicators(d, p),
		ScoreBar:   a.scoreBar(d.Score),
	}
}

func (a *Arbitrator) drowsinessBanner(d models.DrowsinessResult) (models.Banner, bool) {
	switch d.Tier {
	case models.TierDanger:
		return models.Banner{Kind: models.BannerDanger, Message: MessageDanger}, true
	case models.TierWarning:
		return models.Banner{Kind: models.BannerWarning, Message: MessageWarning}, true
	}

	// No banner at all without a face, so the driver can tell tracking is lost.
	if !d.FaceDetected {
		return models.Banner{}, false
	}

	if a.config.ShowNormalBanner {
		return models.Banner{Kind: models.BannerNormal, Message: MessageActive}, true
	}
	return models.Banner{Kind: models.BannerNormal, Message: MessageNormal}, true
}

func indicators(d models.DrowsinessResult, p models.PhoneResult) models.StatusIndicators {
	ind := models.StatusIndicators{
		FaceDetected:    d.FaceDetected,
		EAR:             d.EAR,
		MAR:             d.MAR,
		PhoneStatus:     "NOT DETECTED",
		PhoneConfidence: p.Confidence,
	}

	if d.FaceDetected {
		ind.EyeStatus = "OPEN"
		if d.EyesClosed {
			ind.EyeStatus = "CLOSED"
		}
		ind.MouthStatus = "NORMAL"
		if d.Yawning {
			ind.MouthStatus = "YAWNING"
		}
	}

	if p.Detected {
		ind.PhoneStatus = "DETECTED"
	}

	return ind
}

func (a *Arbitrator) scoreBar(score float64) models.ScoreBar {
	fill := 0.0
	if a.detection.ScoreMax > 0 {
		fill = math.Max(0, math.Min(1, score/a.detection.ScoreMax))
	}

	return models.ScoreBar{
		Fill:  fill,
		Tier:  a.detection.TierFor(score),
		Label: fmt.Sprintf("Drowsiness: %d%%", int(score)),
	}
}

// Audio decides which sounds fire this frame and updates the gating state.
// The continuous alarm state and its edges follow the score even when audio
// is disabled; only the sounds are muted.
func (a *Arbitrator) Audio(d models.DrowsinessResult, p models.PhoneResult) models.AudioDecision {
	now := a.clock()
	decision := models.AudioDecision{}

	a.drowsinessAudio(now, d, &decision)
	if a.config.AudioEnabled && p.Detected {
		a.phoneAudio(now, &decision)
	}

	decision.Mode = string(a.modeAt(now))
	return decision
}

func (a *Arbitrator) drowsinessAudio(now time.Time, d models.DrowsinessResult, decision *models.AudioDecision) {
	if a.config.ContinuousEnabled && d.Score >= a.config.ContinuousThreshold {
		if !a.continuousAlarm {
			a.continuousAlarm = true
			a.alarmStart = now
			decision.Events = append(decision.Events, models.AlarmEvent{Type: models.AlarmStarted, Score: d.Score, At: now})
			a.logger.Error("Continuous alarm activated", zap.Float64("score", d.Score))
		}

		if a.config.AudioEnabled && now.Sub(a.lastAudioFire) >= a.config.AlarmInterval {
			decision.Triggers = append(decision.Triggers, models.AudioTrigger{
				Sound:  models.SoundAlarm,
				Tier:   d.Tier,
				Reason: "continuous alarm",
				At:     now,
			})
			a.lastAudioFire = now
		}
		return
	}

	if a.continuousAlarm {
		a.continuousAlarm = false
		decision.Events = append(decision.Events, models.AlarmEvent{Type: models.AlarmStopped, Score: d.Score, At: now})
		a.logger.Info("Continuous alarm deactivated",
			zap.Float64("score", d.Score),
			zap.Duration("active_for", now.Sub(a.alarmStart)))
	}

	if !a.config.AudioEnabled || (d.Tier != models.TierWarning && d.Tier != models.TierDanger) {
		return
	}

	if now.Sub(a.lastAudioFire) < a.config.Cooldown {
		return
	}

	decision.Triggers = append(decision.Triggers, models.AudioTrigger{
		Sound:  models.SoundBeep,
		Tier:   d.Tier,
		Reason: fmt.Sprintf("%s alert", d.Tier),
		At:     now,
	})
	a.lastAudioFire = now
	a.logger.Info("Drowsiness beep played", zap.String("tier", string(d.Tier)))
}

// phoneAudio runs on its own clock so that it can sound alongside a
// drowsiness beep. It is gated like a max-severity event.
func (a *Arbitrator) phoneAudio(now time.Time, decision *models.AudioDecision) {
	if now.Sub(a.lastPhoneFire) < a.config.PhoneCooldown {
		return
	}

	decision.Triggers = append(decision.Triggers, models.AudioTrigger{
		Sound:  models.SoundPhone,
		Tier:   models.TierDanger,
		Reason: "phone usage",
		At:     now,
	})
	a.lastPhoneFire = now
	a.logger.Warn("Phone alert played")
}

func (a *Arbitrator) modeAt(now time.Time) Mode {
	if a.continuousAlarm {
		return ModeContinuousAlarm
	}
	if !a.lastAudioFire.IsZero() && now.Sub(a.lastAudioFire) < a.config.Cooldown {
		return ModeCooldown
	}
	return ModeIdle
}

// Mode reports the audio gating state at the current clock time.
func (a *Arbitrator) Mode() Mode {
	return a.modeAt(a.clock())
}

func (a *Arbitrator) ContinuousAlarmActive() bool {
	return a.continuousAlarm
}

// Reset clears timers and the continuous alarm. Only an explicit user reset
// calls this; detections never do.
func (a *Arbitrator) Reset() {
	a.lastAudioFire = time.Time{}
	a.lastPhoneFire = time.Time{}
	a.continuousAlarm = false
	a.alarmStart = time.Time{}
	a.logger.Info("Alert arbitrator reset")
}
