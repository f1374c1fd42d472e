// Package config loads runtime configuration from the environment, with a
// .env file picked up by the CLI entry point. The agent can additionally
// read a per-room YAML file; explicit file values win over the environment.
package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Agent    AgentConfig
	Matcher  MatcherConfig
	Debounce DebounceConfig
	Delivery DeliveryConfig
}

type ServerConfig struct {
	Host     string
	Port     int
	APIToken string // empty disables agent authentication
}

type DatabaseConfig struct {
	URL          string // PostgreSQL connection URL
	MaxOpenConns int    // Maximum open connections (default 25)
	MaxIdleConns int    // Maximum idle connections (default 5)
}

type AgentConfig struct {
	RoomID        string
	LedgerURL     string // base URL of the central server
	DetectorURL   string // base URL of the room's face detector sidecar
	OutboxPath    string // SQLite file holding the durable delivery queue
	RosterRefresh time.Duration
	// MinDetectionScore filters out low-confidence detections before any
	// identity matching happens.
	MinDetectionScore float64
}

type MatcherConfig struct {
	Threshold    float64 // minimum cosine similarity to accept a match
	EmbeddingDim int     // expected face embedding dimension
}

type DebounceConfig struct {
	Cooldown time.Duration
	// ClusterSimilarity groups unknown sightings into one suppression
	// window when their embeddings are at least this similar.
	ClusterSimilarity float64
}

type DeliveryConfig struct {
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

// envFloat reads an environment variable as a float, falling back on the
// default when unset or invalid.
func envFloat(key string, defaultVal float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return defaultVal
}

// envDuration reads an environment variable as a Go duration string.
func envDuration(key string, defaultVal time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(s); err == nil && d > 0 {
		return d
	}
	return defaultVal
}

func envString(key, defaultVal string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return defaultVal
}

func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Host:     envString("WEB_HOST", "0.0.0.0"),
			Port:     envInt("WEB_PORT", 8080),
			APIToken: os.Getenv("API_TOKEN"),
		},
		Database: DatabaseConfig{
			URL:          os.Getenv("DATABASE_URL"),
			MaxOpenConns: envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns: envInt("DATABASE_MAX_IDLE_CONNS", 5),
		},
		Agent: AgentConfig{
			RoomID:            os.Getenv("ROOM_ID"),
			LedgerURL:         envString("LEDGER_URL", "http://localhost:8080"),
			DetectorURL:       envString("DETECTOR_URL", "http://localhost:8000"),
			OutboxPath:        envString("OUTBOX_PATH", "classtrack-outbox.db"),
			RosterRefresh:     envDuration("ROSTER_REFRESH", 5*time.Minute),
			MinDetectionScore: envFloat("MIN_DETECTION_CONFIDENCE", 0.6),
		},
		Matcher: MatcherConfig{
			Threshold:    envFloat("MATCH_THRESHOLD", 0.8),
			EmbeddingDim: envInt("EMBEDDING_DIM", 128),
		},
		Debounce: DebounceConfig{
			Cooldown:          envDuration("DEBOUNCE_COOLDOWN", 5*time.Minute),
			ClusterSimilarity: envFloat("UNKNOWN_CLUSTER_SIMILARITY", 0.92),
		},
		Delivery: DeliveryConfig{
			BaseDelay: envDuration("DELIVERY_BASE_DELAY", time.Second),
			MaxDelay:  envDuration("DELIVERY_MAX_DELAY", 5*time.Minute),
		},
	}
}
