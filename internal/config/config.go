/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Database backend selection.
type DatabaseBackend string

const (
	DatabasePostgres DatabaseBackend = "postgres"
	DatabaseMySQL    DatabaseBackend = "mysql"
	DatabaseSQLite   DatabaseBackend = "sqlite"
)

// Event bus backend selection.
type EventBusBackend string

const (
	EventBusMemory EventBusBackend = "memory"
	EventBusRedis  EventBusBackend = "redis"
	EventBusNATS   EventBusBackend = "nats"
)

// Config covers process level configuration read from environment variables.
type Config struct {
	Environment string
	HTTPBind    string
	HTTPPort    int
	InstanceID  string
	MaxSessions int

	// Position store. An empty DSN disables resume.
	DBBackend DatabaseBackend
	DBDSN     string

	// Media resolution
	MediaRoot        string
	HTTPFetchTimeout time.Duration
	GStreamerBin     string

	// S3 Object Storage configuration
	S3AccessKeyID     string
	S3SecretAccessKey string
	S3Region          string
	S3Endpoint        string // For S3-compatible services (MinIO, Spaces, etc.)
	S3UsePathStyle    bool   // Required for MinIO

	// Tracing configuration
	TracingEnabled    bool
	OTLPEndpoint      string
	TracingSampleRate float64

	// Event distribution
	EventBus      EventBusBackend
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	NATSURL       string

	// Redis read-through cache in front of the position store.
	PositionCacheEnabled bool
	PositionCacheTTL     time.Duration

	// In-memory log tail served at /api/v1/logs.
	LogBufferSize int

	// Engine tunables
	AudioQueueFrames       int
	VideoQueueFrames       int
	BufferingWatermark     time.Duration
	VideoWatermarkFrames   int
	StallTimeout           time.Duration // 0 disables stall escalation
	LateFrameThreshold     time.Duration
	LivenessCeiling        time.Duration
	CycleBudget            time.Duration
	PositionUpdateInterval time.Duration
	InitialVolume          float64

	ConfigFile        string
	LegacyEnvWarnings []string
}

// engineFile is the YAML overlay for engine tunables. Environment variables
// still take precedence over it.
type engineFile struct {
	Engine struct {
		AudioQueueFrames       *int           `yaml:"audio_queue_frames"`
		VideoQueueFrames       *int           `yaml:"video_queue_frames"`
		BufferingWatermark     *time.Duration `yaml:"buffering_watermark"`
		VideoWatermarkFrames   *int           `yaml:"video_watermark_frames"`
		StallTimeout           *time.Duration `yaml:"stall_timeout"`
		LateFrameThreshold     *time.Duration `yaml:"late_frame_threshold"`
		LivenessCeiling        *time.Duration `yaml:"liveness_ceiling"`
		CycleBudget            *time.Duration `yaml:"cycle_budget"`
		PositionUpdateInterval *time.Duration `yaml:"position_update_interval"`
		InitialVolume          *float64       `yaml:"initial_volume"`
	} `yaml:"engine"`
}

func engineDefaults() Config {
	return Config{
		AudioQueueFrames:       64,
		VideoQueueFrames:       8,
		BufferingWatermark:     500 * time.Millisecond,
		VideoWatermarkFrames:   3,
		LateFrameThreshold:     50 * time.Millisecond,
		LivenessCeiling:        40 * time.Millisecond,
		CycleBudget:            10 * time.Millisecond,
		PositionUpdateInterval: 250 * time.Millisecond,
		InitialVolume:          1,
	}
}

// Load reads environment variables, applies defaults, and validates the result.
func Load() (*Config, error) {
	def := engineDefaults()
	configFile := getEnvAny([]string{"GRIMNIR_PLAYBACK_CONFIG"}, "")
	if configFile != "" {
		if err := applyEngineFile(configFile, &def); err != nil {
			return nil, err
		}
	}

	cfg := &Config{
		Environment: getEnvAny([]string{"GRIMNIR_ENV"}, "development"),
		HTTPBind:    getEnvAny([]string{"GRIMNIR_HTTP_BIND"}, "0.0.0.0"),
		HTTPPort:    getEnvIntAny([]string{"GRIMNIR_HTTP_PORT"}, 8090),
		InstanceID:  getEnvAny([]string{"GRIMNIR_INSTANCE_ID", "HOSTNAME"}, ""),
		MaxSessions: getEnvIntAny([]string{"GRIMNIR_MAX_SESSIONS"}, 64),

		DBBackend: DatabaseBackend(getEnvAny([]string{"GRIMNIR_DB_BACKEND"}, string(DatabaseSQLite))),
		DBDSN:     getEnvAny([]string{"GRIMNIR_DB_DSN"}, ""),

		MediaRoot:        getEnvAny([]string{"GRIMNIR_MEDIA_ROOT"}, "./media"),
		HTTPFetchTimeout: getEnvDurationAny([]string{"GRIMNIR_HTTP_FETCH_TIMEOUT_MS"}, 30*time.Second),
		GStreamerBin:     getEnvAny([]string{"GRIMNIR_GSTREAMER_BIN"}, "gst-launch-1.0"),

		// S3 Object Storage configuration
		S3AccessKeyID:     getEnvAny([]string{"GRIMNIR_S3_ACCESS_KEY_ID", "AWS_ACCESS_KEY_ID"}, ""),
		S3SecretAccessKey: getEnvAny([]string{"GRIMNIR_S3_SECRET_ACCESS_KEY", "AWS_SECRET_ACCESS_KEY"}, ""),
		S3Region:          getEnvAny([]string{"GRIMNIR_S3_REGION", "AWS_REGION"}, "us-east-1"),
		S3Endpoint:        getEnvAny([]string{"GRIMNIR_S3_ENDPOINT", "S3_ENDPOINT"}, ""),
		S3UsePathStyle:    getEnvBoolAny([]string{"GRIMNIR_S3_USE_PATH_STYLE", "S3_USE_PATH_STYLE"}, false),

		// Tracing configuration
		TracingEnabled:    getEnvBoolAny([]string{"GRIMNIR_TRACING_ENABLED"}, false),
		OTLPEndpoint:      getEnvAny([]string{"GRIMNIR_OTLP_ENDPOINT"}, "localhost:4317"),
		TracingSampleRate: getEnvFloatAny([]string{"GRIMNIR_TRACING_SAMPLE_RATE"}, 1.0),

		EventBus:      EventBusBackend(strings.ToLower(getEnvAny([]string{"GRIMNIR_EVENT_BUS"}, string(EventBusMemory)))),
		RedisAddr:     getEnvAny([]string{"GRIMNIR_REDIS_ADDR"}, "localhost:6379"),
		RedisPassword: getEnvAny([]string{"GRIMNIR_REDIS_PASSWORD"}, ""),
		RedisDB:       getEnvIntAny([]string{"GRIMNIR_REDIS_DB"}, 0),
		NATSURL:       getEnvAny([]string{"GRIMNIR_NATS_URL"}, "nats://localhost:4222"),

		PositionCacheEnabled: getEnvBoolAny([]string{"GRIMNIR_POSITION_CACHE"}, false),
		PositionCacheTTL:     getEnvDurationAny([]string{"GRIMNIR_POSITION_CACHE_TTL_MS"}, time.Hour),
		LogBufferSize:        getEnvIntAny([]string{"GRIMNIR_LOG_BUFFER_SIZE"}, 2000),

		AudioQueueFrames:       getEnvIntAny([]string{"GRIMNIR_AUDIO_QUEUE_FRAMES"}, def.AudioQueueFrames),
		VideoQueueFrames:       getEnvIntAny([]string{"GRIMNIR_VIDEO_QUEUE_FRAMES"}, def.VideoQueueFrames),
		BufferingWatermark:     getEnvDurationAny([]string{"GRIMNIR_BUFFERING_WATERMARK_MS"}, def.BufferingWatermark),
		VideoWatermarkFrames:   getEnvIntAny([]string{"GRIMNIR_VIDEO_WATERMARK_FRAMES"}, def.VideoWatermarkFrames),
		StallTimeout:           getEnvDurationAny([]string{"GRIMNIR_STALL_TIMEOUT_MS"}, def.StallTimeout),
		LateFrameThreshold:     getEnvDurationAny([]string{"GRIMNIR_LATE_FRAME_THRESHOLD_MS"}, def.LateFrameThreshold),
		LivenessCeiling:        getEnvDurationAny([]string{"GRIMNIR_LIVENESS_CEILING_MS"}, def.LivenessCeiling),
		CycleBudget:            getEnvDurationAny([]string{"GRIMNIR_CYCLE_BUDGET_MS"}, def.CycleBudget),
		PositionUpdateInterval: getEnvDurationAny([]string{"GRIMNIR_POSITION_UPDATE_INTERVAL_MS"}, def.PositionUpdateInterval),
		InitialVolume:          getEnvFloatAny([]string{"GRIMNIR_INITIAL_VOLUME"}, def.InitialVolume),

		ConfigFile: configFile,
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg.LegacyEnvWarnings = detectLegacyEnvWarnings()

	return cfg, nil
}

func (c *Config) validate() error {
	switch c.DBBackend {
	case DatabasePostgres, DatabaseMySQL, DatabaseSQLite:
	default:
		return fmt.Errorf("unsupported database backend %q", c.DBBackend)
	}

	switch c.EventBus {
	case EventBusMemory, EventBusRedis, EventBusNATS:
	default:
		return fmt.Errorf("unsupported event bus %q", c.EventBus)
	}

	if c.AudioQueueFrames <= 0 || c.VideoQueueFrames <= 0 {
		return fmt.Errorf("queue lengths must be positive (audio=%d video=%d)", c.AudioQueueFrames, c.VideoQueueFrames)
	}
	if c.BufferingWatermark <= 0 {
		return fmt.Errorf("GRIMNIR_BUFFERING_WATERMARK_MS must be positive")
	}
	if c.StallTimeout < 0 {
		return fmt.Errorf("GRIMNIR_STALL_TIMEOUT_MS must not be negative")
	}
	if c.LivenessCeiling <= 0 || c.CycleBudget <= 0 {
		return fmt.Errorf("liveness ceiling and cycle budget must be positive")
	}
	if c.InitialVolume < 0 || c.InitialVolume > 1 {
		return fmt.Errorf("GRIMNIR_INITIAL_VOLUME must be within [0,1], got %v", c.InitialVolume)
	}
	if c.LogBufferSize < 0 {
		return fmt.Errorf("GRIMNIR_LOG_BUFFER_SIZE must not be negative")
	}
	if c.TracingSampleRate < 0 || c.TracingSampleRate > 1 {
		return fmt.Errorf("GRIMNIR_TRACING_SAMPLE_RATE must be within [0,1], got %v", c.TracingSampleRate)
	}

	if strings.EqualFold(c.Environment, "production") {
		if c.EventBus == EventBusRedis && c.RedisAddr == "" {
			return fmt.Errorf("GRIMNIR_REDIS_ADDR must be provided for the redis event bus in production")
		}
		if c.EventBus == EventBusNATS && c.NATSURL == "" {
			return fmt.Errorf("GRIMNIR_NATS_URL must be provided for the nats event bus in production")
		}
		if c.DBBackend != DatabaseSQLite && c.DBDSN == "" {
			return fmt.Errorf("GRIMNIR_DB_DSN must be provided for %s in production", c.DBBackend)
		}
	}
	return nil
}

func applyEngineFile(path string, def *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	var f engineFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	e := f.Engine
	setIf(&def.AudioQueueFrames, e.AudioQueueFrames)
	setIf(&def.VideoQueueFrames, e.VideoQueueFrames)
	setIf(&def.BufferingWatermark, e.BufferingWatermark)
	setIf(&def.VideoWatermarkFrames, e.VideoWatermarkFrames)
	setIf(&def.StallTimeout, e.StallTimeout)
	setIf(&def.LateFrameThreshold, e.LateFrameThreshold)
	setIf(&def.LivenessCeiling, e.LivenessCeiling)
	setIf(&def.CycleBudget, e.CycleBudget)
	setIf(&def.PositionUpdateInterval, e.PositionUpdateInterval)
	setIf(&def.InitialVolume, e.InitialVolume)
	return nil
}

func setIf[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}

func detectLegacyEnvWarnings() []string {
	legacy := map[string]string{
		"ENVIRONMENT":         "use GRIMNIR_ENV",
		"EVENT_BUS":           "use GRIMNIR_EVENT_BUS",
		"TRACING_ENABLED":     "use GRIMNIR_TRACING_ENABLED",
		"OTLP_ENDPOINT":       "use GRIMNIR_OTLP_ENDPOINT",
		"TRACING_SAMPLE_RATE": "use GRIMNIR_TRACING_SAMPLE_RATE",
		"GRIMNIR_WATERMARK":   "use GRIMNIR_BUFFERING_WATERMARK_MS",
	}

	warnings := make([]string, 0, len(legacy))
	for key, recommendation := range legacy {
		if os.Getenv(key) != "" {
			warnings = append(warnings, fmt.Sprintf("legacy env key %s is set; %s", key, recommendation))
		}
	}
	return warnings
}

// ListenAddr returns the HTTP listen address.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.HTTPBind, c.HTTPPort)
}

// PersistenceEnabled reports whether a position store is configured.
func (c *Config) PersistenceEnabled() bool {
	return c != nil && c.DBDSN != ""
}

// getEnvAny returns the first non-empty environment variable value from keys, or def if none set.
func getEnvAny(keys []string, def string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return def
}

// getEnvIntAny returns the first set integer environment variable value from keys, or def.
func getEnvIntAny(keys []string, def int) int {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				return parsed
			}
		}
	}
	return def
}

// getEnvBoolAny returns the first set boolean environment variable value from keys, or def.
func getEnvBoolAny(keys []string, def bool) bool {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			v = strings.ToLower(strings.TrimSpace(v))
			if v == "true" || v == "1" || v == "yes" {
				return true
			}
			if v == "false" || v == "0" || v == "no" {
				return false
			}
		}
	}
	return def
}

// getEnvFloatAny returns the first set float environment variable value from keys, or def.
func getEnvFloatAny(keys []string, def float64) float64 {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.ParseFloat(v, 64); err == nil {
				return parsed
			}
		}
	}
	return def
}

// getEnvDurationAny reads a duration as integer milliseconds or a Go
// duration string ("750ms", "2s").
func getEnvDurationAny(keys []string, def time.Duration) time.Duration {
	for _, k := range keys {
		v := strings.TrimSpace(os.Getenv(k))
		if v == "" {
			continue
		}
		if ms, err := strconv.Atoi(v); err == nil {
			return time.Duration(ms) * time.Millisecond
		}
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
