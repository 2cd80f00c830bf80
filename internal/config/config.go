package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// Config carries the full runtime configuration. Environment variables win
// over the YAML file; the file holds the structured defaults (STUN set,
// tracker tuning) that do not fit a flat env key.
type Config struct {
	Environment    string
	ServerHost     string
	ServerPort     int
	AllowedOrigins []string

	DB       DBConfig
	Redis    RedisConfig
	NATS     NATSConfig
	Models   ModelConfig
	Pipeline PipelineConfig
	Tracker  TrackerConfig
	WebRTC   WebRTCConfig
	Hub      HubConfig
	Telegram TelegramConfig
	Limits   LimitsConfig

	JWTSecret      string
	FrameStoreRoot string
}

type DBConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	SSLMode  string
}

func (c DBConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode)
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type NATSConfig struct {
	URL     string
	Subject string
}

type ModelConfig struct {
	YOLOPath    string
	PosePath    string
	AnomalyPath string
	Device      string
	// ONNX runtime shared library; empty means the platform default lookup.
	RuntimeLibPath string
}

type PipelineConfig struct {
	PersonConfidence float64 `yaml:"person_confidence"`
	AnomalyThreshold float64 `yaml:"anomaly_threshold"`
	SequenceLength   int     `yaml:"sequence_length"`
	HighCut          float64 `yaml:"high_cut"`
	MediumCut        float64 `yaml:"medium_cut"`
	InferenceWorkers int     `yaml:"inference_workers"`
}

type TrackerConfig struct {
	IoUThreshold float64 `yaml:"iou_threshold"`
	MaxAge       int     `yaml:"max_age"`
}

type WebRTCConfig struct {
	STUNServers     []string `yaml:"stun_servers"`
	SignalTimeout   int      `yaml:"signal_timeout_seconds"`
	KeyframePeriod  int      `yaml:"keyframe_period_seconds"`
	DisconnectGrace int      `yaml:"disconnect_grace_seconds"`
}

type HubConfig struct {
	PingInterval     int `yaml:"ping_interval_seconds"`
	HeartbeatTimeout int `yaml:"heartbeat_timeout_seconds"`
	MailboxSize      int `yaml:"mailbox_size"`
}

type LimitsConfig struct {
	// OfferRate/OfferWindowSeconds bound POST /offer per user (or IP).
	OfferRate          int    `yaml:"offer_rate"`
	OfferWindowSeconds int    `yaml:"offer_window_seconds"`
	IPHashSalt         string `yaml:"-"`
}

type TelegramConfig struct {
	BotToken        string
	APIBaseURL      string
	CooldownSeconds int `yaml:"cooldown_seconds"`
}

// fileConfig is the subset that lives in config/default.yaml.
type fileConfig struct {
	Pipeline PipelineConfig `yaml:"pipeline"`
	Tracker  TrackerConfig  `yaml:"tracker"`
	WebRTC   WebRTCConfig   `yaml:"webrtc"`
	Hub      HubConfig      `yaml:"hub"`
	Telegram struct {
		CooldownSeconds int `yaml:"cooldown_seconds"`
	} `yaml:"telegram"`
	Limits LimitsConfig `yaml:"limits"`
}

// Load builds the configuration from the optional YAML file pointed at by
// CONFIG_PATH (default config/default.yaml) and the environment.
func Load() (*Config, error) {
	cfg := &Config{
		Environment:    getEnv("ENVIRONMENT", EnvDevelopment),
		ServerHost:     getEnv("SERVER_HOST", "0.0.0.0"),
		ServerPort:     getEnvInt("SERVER_PORT", 8000),
		AllowedOrigins: splitList(os.Getenv("ALLOWED_ORIGINS")),
		DB: DBConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: os.Getenv("DB_PASSWORD"),
			Name:     getEnv("DB_NAME", "visionguard"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		NATS: NATSConfig{
			URL:     getEnv("NATS_URL", ""),
			Subject: getEnv("NATS_SUBJECT_PREFIX", "anomalies"),
		},
		Models: ModelConfig{
			YOLOPath:       getEnv("YOLO_MODEL_PATH", "models/yolov8n.onnx"),
			PosePath:       getEnv("POSE_MODEL_PATH", "models/yolov8n-pose.onnx"),
			AnomalyPath:    getEnv("ANOMALY_MODEL_PATH", "models/stg_nf.onnx"),
			Device:         getEnv("DEVICE", "cpu"),
			RuntimeLibPath: os.Getenv("ONNXRUNTIME_LIB_PATH"),
		},
		Pipeline: PipelineConfig{
			PersonConfidence: 0.45,
			AnomalyThreshold: 0.0,
			SequenceLength:   24,
			HighCut:          3.0,
			MediumCut:        2.0,
			InferenceWorkers: 4,
		},
		Tracker: TrackerConfig{
			IoUThreshold: 0.3,
			MaxAge:       30,
		},
		WebRTC: WebRTCConfig{
			STUNServers:     []string{"stun:stun.l.google.com:19302", "stun:stun1.l.google.com:19302"},
			SignalTimeout:   10,
			KeyframePeriod:  3,
			DisconnectGrace: 15,
		},
		Hub: HubConfig{
			PingInterval:     30,
			HeartbeatTimeout: 60,
			MailboxSize:      16,
		},
		Telegram: TelegramConfig{
			BotToken:        os.Getenv("TELEGRAM_BOT_TOKEN"),
			APIBaseURL:      getEnv("TELEGRAM_API_BASE_URL", "https://api.telegram.org"),
			CooldownSeconds: 30,
		},
		Limits: LimitsConfig{
			OfferRate:          30,
			OfferWindowSeconds: 60,
			IPHashSalt:         getEnv("RATE_LIMIT_SALT", "visionguard"),
		},
		JWTSecret:      getEnv("JWT_SECRET", "dev_secret_do_not_use"),
		FrameStoreRoot: getEnv("FRAME_STORE_ROOT", "."),
	}

	path := getEnv("CONFIG_PATH", "config/default.yaml")
	if raw, err := os.ReadFile(path); err == nil {
		var fc fileConfig
		if err := yaml.Unmarshal(raw, &fc); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		applyFile(cfg, &fc)
	}

	// Env overrides for the tunable pipeline knobs.
	cfg.Pipeline.PersonConfidence = getEnvFloat("PERSON_DETECTION_CONFIDENCE", cfg.Pipeline.PersonConfidence)
	cfg.Pipeline.AnomalyThreshold = getEnvFloat("ANOMALY_THRESHOLD", cfg.Pipeline.AnomalyThreshold)
	cfg.Pipeline.SequenceLength = getEnvInt("SEQUENCE_LENGTH", cfg.Pipeline.SequenceLength)

	if cfg.Environment == EnvProduction && len(cfg.AllowedOrigins) == 0 {
		return nil, fmt.Errorf("ALLOWED_ORIGINS is required when ENVIRONMENT=production")
	}
	if cfg.Pipeline.SequenceLength <= 0 {
		return nil, fmt.Errorf("SEQUENCE_LENGTH must be positive, got %d", cfg.Pipeline.SequenceLength)
	}

	return cfg, nil
}

func applyFile(cfg *Config, fc *fileConfig) {
	if fc.Pipeline.PersonConfidence > 0 {
		cfg.Pipeline.PersonConfidence = fc.Pipeline.PersonConfidence
	}
	if fc.Pipeline.SequenceLength > 0 {
		cfg.Pipeline.SequenceLength = fc.Pipeline.SequenceLength
	}
	if fc.Pipeline.HighCut > 0 {
		cfg.Pipeline.HighCut = fc.Pipeline.HighCut
	}
	if fc.Pipeline.MediumCut > 0 {
		cfg.Pipeline.MediumCut = fc.Pipeline.MediumCut
	}
	if fc.Pipeline.InferenceWorkers > 0 {
		cfg.Pipeline.InferenceWorkers = fc.Pipeline.InferenceWorkers
	}
	if fc.Tracker.IoUThreshold > 0 {
		cfg.Tracker.IoUThreshold = fc.Tracker.IoUThreshold
	}
	if fc.Tracker.MaxAge > 0 {
		cfg.Tracker.MaxAge = fc.Tracker.MaxAge
	}
	if len(fc.WebRTC.STUNServers) > 0 {
		cfg.WebRTC.STUNServers = fc.WebRTC.STUNServers
	}
	if fc.WebRTC.SignalTimeout > 0 {
		cfg.WebRTC.SignalTimeout = fc.WebRTC.SignalTimeout
	}
	if fc.WebRTC.KeyframePeriod > 0 {
		cfg.WebRTC.KeyframePeriod = fc.WebRTC.KeyframePeriod
	}
	if fc.WebRTC.DisconnectGrace > 0 {
		cfg.WebRTC.DisconnectGrace = fc.WebRTC.DisconnectGrace
	}
	if fc.Hub.PingInterval > 0 {
		cfg.Hub.PingInterval = fc.Hub.PingInterval
	}
	if fc.Hub.HeartbeatTimeout > 0 {
		cfg.Hub.HeartbeatTimeout = fc.Hub.HeartbeatTimeout
	}
	if fc.Hub.MailboxSize > 0 {
		cfg.Hub.MailboxSize = fc.Hub.MailboxSize
	}
	if fc.Telegram.CooldownSeconds > 0 {
		cfg.Telegram.CooldownSeconds = fc.Telegram.CooldownSeconds
	}
	if fc.Limits.OfferRate > 0 {
		cfg.Limits.OfferRate = fc.Limits.OfferRate
	}
	if fc.Limits.OfferWindowSeconds > 0 {
		cfg.Limits.OfferWindowSeconds = fc.Limits.OfferWindowSeconds
	}
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}
