package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/san-kum/driver-safety/server/models"
	"go.uber.org/zap"
)

type Config struct {
	Server    ServerConfig    `json:"server"`
	Security  SecurityConfig  `json:"security"`
	Logging   LoggingConfig   `json:"logging"`
	Detection DetectionConfig `json:"detection"`
	Phone     PhoneConfig     `json:"phone"`
	Alert     AlertConfig     `json:"alert"`
	Source    SourceConfig    `json:"source"`
}

type ServerConfig struct {
	Host         string        `json:"host"`
	Port         int           `json:"port"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	IdleTimeout  time.Duration `json:"idle_timeout"`
	Environment  string        `json:"environment"`
}

type SecurityConfig struct {
	AllowedOrigins []string `json:"allowed_origins"`
	RateLimitRPS   int      `json:"rate_limit_rps"`
	RateLimitBurst int      `json:"rate_limit_burst"`
	MaxRequestSize int64    `json:"max_request_size"`
	RequireAuth    bool     `json:"require_auth"`
	AuthSecret     string   `json:"-"`
}

type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

type SourceConfig struct {
	ReplayFile          string        `json:"replay_file"`
	DetectorURL         string        `json:"detector_url"`
	Timeout             time.Duration `json:"timeout"`
	MaxRetries          int           `json:"max_retries"`
	RetryDelay          time.Duration `json:"retry_delay"`
	HealthCheckInterval time.Duration `json:"health_check_interval"`
	TargetFPS           int           `json:"target_fps"`
}

func LoadConfig() *Config {
	// A missing .env file is fine, the process environment is used as is.
	_ = godotenv.Load()

	detection := DefaultDetectionConfig()
	phone := DefaultPhoneConfig()
	alert := DefaultAlertConfig()

	config := &Config{
		Server: ServerConfig{
			Host:         getEnv("SERVER_HOST", "0.0.0.0"),
			Port:         getEnvAsInt("SERVER_PORT", 8080),
			ReadTimeout:  getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout: getEnvAsDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:  getEnvAsDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			Environment:  getEnv("ENVIRONMENT", "development"),
		},
		Security: SecurityConfig{
			AllowedOrigins: getEnvAsStringSlice("ALLOWED_ORIGINS", []string{"*"}),
			RateLimitRPS:   getEnvAsInt("RATE_LIMIT_RPS", 60),
			RateLimitBurst: getEnvAsInt("RATE_LIMIT_BURST", 120),
			MaxRequestSize: getEnvAsInt64("MAX_REQUEST_SIZE", 2*1024*1024),
			RequireAuth:    getEnvAsBool("REQUIRE_AUTH", false),
			AuthSecret:     getEnv("AUTH_SECRET", ""),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Detection: DetectionConfig{
			EARThreshold:     getEnvAsFloat("EAR_THRESHOLD", detection.EARThreshold),
			EARConsecFrames:  getEnvAsInt("EAR_CONSEC_FRAMES", detection.EARConsecFrames),
			MARThreshold:     getEnvAsFloat("MAR_THRESHOLD", detection.MARThreshold),
			MARConsecFrames:  getEnvAsInt("MAR_CONSEC_FRAMES", detection.MARConsecFrames),
			ScoreIncEyes:     getEnvAsFloat("SCORE_INC_EYES", detection.ScoreIncEyes),
			ScoreIncYawn:     getEnvAsFloat("SCORE_INC_YAWN", detection.ScoreIncYawn),
			ScoreDecay:       getEnvAsFloat("SCORE_DECAY", detection.ScoreDecay),
			ScoreMax:         getEnvAsFloat("SCORE_MAX", detection.ScoreMax),
			WarningThreshold: getEnvAsFloat("WARNING_THRESH", detection.WarningThreshold),
			DangerThreshold:  getEnvAsFloat("DANGER_THRESH", detection.DangerThreshold),
			AbsentGrace:      getEnvAsInt("ABSENT_GRACE_FRAMES", detection.AbsentGrace),
			AbsentDecay:      getEnvAsFloat("ABSENT_DECAY", detection.AbsentDecay),
		},
		Phone: PhoneConfig{
			Enabled:            getEnvAsBool("ENABLE_HAND_DETECTION", phone.Enabled),
			DetectionThreshold: getEnvAsFloat("PHONE_DETECTION_THRESHOLD", phone.DetectionThreshold),
			ConsecFrames:       getEnvAsInt("PHONE_CONSEC_FRAMES", phone.ConsecFrames),
			ProximityWeight:    getEnvAsFloat("PHONE_PROXIMITY_WEIGHT", phone.ProximityWeight),
			EarPositionWeight:  getEnvAsFloat("PHONE_EAR_POSITION_WEIGHT", phone.EarPositionWeight),
			ProximityRatio:     getEnvAsFloat("PHONE_PROXIMITY_RATIO", phone.ProximityRatio),
			EarTolerance:       getEnvAsFloat("PHONE_EAR_TOLERANCE", phone.EarTolerance),
			NominalFPS:         getEnvAsFloat("PHONE_NOMINAL_FPS", phone.NominalFPS),
		},
		Alert: AlertConfig{
			AudioEnabled:        getEnvAsBool("ENABLE_AUDIO_ALERTS", alert.AudioEnabled),
			ContinuousEnabled:   getEnvAsBool("CONTINUOUS_ALARM_ENABLED", alert.ContinuousEnabled),
			ContinuousThreshold: getEnvAsFloat("CONTINUOUS_ALARM_THRESHOLD", alert.ContinuousThreshold),
			Cooldown:            getEnvAsSeconds("AUDIO_ALERT_COOLDOWN", alert.Cooldown),
			AlarmInterval:       getEnvAsSeconds("CONTINUOUS_ALARM_INTERVAL", alert.AlarmInterval),
			PhoneCooldown:       getEnvAsSeconds("PHONE_ALERT_COOLDOWN", alert.PhoneCooldown),
			ShowNormalBanner:    getEnvAsBool("SHOW_NORMAL_BANNER", alert.ShowNormalBanner),
		},
		Source: SourceConfig{
			ReplayFile:          getEnv("SOURCE_REPLAY_FILE", ""),
			DetectorURL:         getEnv("SOURCE_DETECTOR_URL", ""),
			Timeout:             getEnvAsDuration("SOURCE_TIMEOUT", 2*time.Second),
			MaxRetries:          getEnvAsInt("SOURCE_MAX_RETRIES", 3),
			RetryDelay:          getEnvAsDuration("SOURCE_RETRY_DELAY", 100*time.Millisecond),
			HealthCheckInterval: getEnvAsDuration("SOURCE_HEALTH_CHECK_INTERVAL", 30*time.Second),
			TargetFPS:           getEnvAsInt("TARGET_FPS", 30),
		},
	}

	return config
}

// ValidateConfig checks every section and reports all problems at once.
// Any error here is fatal at startup.
func (c *Config) ValidateConfig(logger *zap.Logger) error {
	var errors []string

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errors = append(errors, "server port must be between 1 and 65535")
	}

	if c.Security.MaxRequestSize <= 0 {
		errors = append(errors, "max request size must be positive")
	}

	if c.Security.RateLimitRPS <= 0 || c.Security.RateLimitBurst <= 0 {
		errors = append(errors, "rate limit rps and burst must be positive")
	}

	if c.Source.ReplayFile != "" && c.Source.DetectorURL != "" {
		errors = append(errors, "only one of SOURCE_REPLAY_FILE and SOURCE_DETECTOR_URL may be set")
	}

	if c.Source.TargetFPS < 0 {
		errors = append(errors, "target fps must not be negative")
	}

	errors = append(errors, c.Detection.Validate()...)
	errors = append(errors, c.Phone.Validate()...)
	errors = append(errors, c.Alert.Validate(c.Detection.ScoreMax)...)

	if c.Server.Environment == "production" && !c.Security.RequireAuth {
		logger.Warn("Control endpoints are not authenticated in production")
	}

	if !c.Alert.AudioEnabled {
		logger.Warn("Audio alerts disabled")
	}

	if len(errors) > 0 {
		return fmt.Errorf("%w: %s", models.ErrInvalidConfig, strings.Join(errors, ", "))
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getEnvAsSeconds accepts either a Go duration ("750ms") or plain seconds ("1.0").
func getEnvAsSeconds(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if seconds, err := strconv.ParseFloat(value, 64); err == nil {
		return time.Duration(seconds * float64(time.Second))
	}
	return getEnvAsDuration(key, defaultValue)
}

func getEnvAsStringSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		return strings.Split(value, ",")
	}
	return defaultValue
}
