package models

import "time"

type AlertTier string

const (
	TierNormal  AlertTier = "NORMAL"
	TierWarning AlertTier = "WARNING"
	TierDanger  AlertTier = "DANGER"
)

// Severity orders tiers so they can be compared.
func (t AlertTier) Severity() int {
	switch t {
	case TierWarning:
		return 1
	case TierDanger:
		return 2
	default:
		return 0
	}
}

type DrowsinessResult struct {
	EAR              float64   `json:"ear"`
	MAR              float64   `json:"mar"`
	EyesClosed       bool      `json:"eyes_closed"`
	Yawning          bool      `json:"yawning"`
	Score            float64   `json:"score"`
	Tier             AlertTier `json:"tier"`
	FaceDetected     bool      `json:"face_detected"`
	EyeClosedFrames  int       `json:"eye_closed_frames"`
	YawnFrames       int       `json:"yawn_frames"`
	TotalEyeClosures int       `json:"total_eye_closures"`
	TotalYawns       int       `json:"total_yawns"`
	LeftEye          []Point   `json:"left_eye,omitempty"`
	RightEye         []Point   `json:"right_eye,omitempty"`
	Mouth            []Point   `json:"mouth,omitempty"`
}

type PhoneResult struct {
	Detected        bool     `json:"detected"`
	Confidence      float64  `json:"confidence"`
	Counter         int      `json:"counter"`
	TotalSessions   int      `json:"total_sessions"`
	CurrentDuration int      `json:"current_duration"`
	LongestDuration int      `json:"longest_duration"`
	Reasons         []string `json:"reasons,omitempty"`
}

type BannerKind string

const (
	BannerPhone   BannerKind = "phone"
	BannerDanger  BannerKind = "danger"
	BannerWarning BannerKind = "warning"
	BannerNormal  BannerKind = "normal"
)

type Banner struct {
	Kind    BannerKind `json:"kind"`
	Message string     `json:"message"`
}

type StatusIndicators struct {
	FaceDetected    bool    `json:"face_detected"`
	EyeStatus       string  `json:"eye_status"`
	MouthStatus     string  `json:"mouth_status"`
	EAR             float64 `json:"ear"`
	MAR             float64 `json:"mar"`
	PhoneStatus     string  `json:"phone_status"`
	PhoneConfidence float64 `json:"phone_confidence"`
}

type ScoreBar struct {
	Fill  float64   `json:"fill"`
	Tier  AlertTier `json:"tier"`
	Label string    `json:"label"`
}

// VisualDecision tells a renderer what to draw. Banners are ordered top-most first.
type VisualDecision struct {
	Banners    []Banner         `json:"banners"`
	Indicators StatusIndicators `json:"indicators"`
	ScoreBar   ScoreBar         `json:"score_bar"`
}

type SoundKind string

const (
	SoundBeep  SoundKind = "beep"
	SoundAlarm SoundKind = "alarm"
	SoundPhone SoundKind = "phone"
)

type AudioTrigger struct {
	Sound  SoundKind `json:"sound"`
	Tier   AlertTier `json:"tier"`
	Reason string    `json:"reason"`
	At     time.Time `json:"at"`
}

type AlarmEventType string

const (
	AlarmStarted AlarmEventType = "alarm_started"
	AlarmStopped AlarmEventType = "alarm_stopped"
)

type AlarmEvent struct {
	Type  AlarmEventType `json:"type"`
	Score float64        `json:"score"`
	At    time.Time      `json:"at"`
}

type AudioDecision struct {
	Mode     string         `json:"mode"`
	Triggers []AudioTrigger `json:"triggers,omitempty"`
	Events   []AlarmEvent   `json:"events,omitempty"`
}

type FrameResult struct {
	SessionID      string           `json:"session_id"`
	Sequence       int64            `json:"sequence"`
	Timestamp      int64            `json:"timestamp"`
	Drowsiness     DrowsinessResult `json:"drowsiness"`
	Phone          PhoneResult      `json:"phone"`
	Visual         VisualDecision   `json:"visual"`
	Audio          AudioDecision    `json:"audio"`
	ProcessingTime float64          `json:"processing_time_ms"`
}

type SessionSummary struct {
	SessionID          string    `json:"session_id"`
	StartTime          time.Time `json:"start_time"`
	TotalFrames        int64     `json:"total_frames"`
	TotalEyeClosures   int       `json:"total_eye_closures"`
	TotalYawns         int       `json:"total_yawns"`
	TotalPhoneSessions int       `json:"total_phone_sessions"`
	LongestPhoneFrames int       `json:"longest_phone_frames"`
	CurrentScore       float64   `json:"current_score"`
	CurrentTier        AlertTier `json:"current_tier"`
}
