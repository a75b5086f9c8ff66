package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds the server configuration, loaded from environment variables.
type Config struct {
	Port     string `envconfig:"SERVER_PORT" default:"8080"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	// Redis: the shared ledger store and pub/sub transport.
	RedisAddr     string `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`

	// RabbitMQ: optional external content feed. Empty disables the feed.
	RabbitMQURL string `envconfig:"RABBITMQ_URL"`

	// JWT secret for the identity collaborator's bearer tokens.
	JWTSecret string `envconfig:"JWT_SECRET" required:"true"`

	// Story engine tuning.
	DefaultInstanceID string        `envconfig:"DEFAULT_INSTANCE_ID" default:"main"`
	VotingWindow      time.Duration `envconfig:"VOTING_WINDOW" default:"1h"`
	MaxPathLength     int           `envconfig:"MAX_PATH_LENGTH" default:"12"`
	TieBreakSeed      int64         `envconfig:"TIE_BREAK_SEED" default:"0"`

	// Voting read cache staleness bound.
	VoteCacheTTL     time.Duration `envconfig:"VOTE_CACHE_TTL" default:"15s"`
	VoteCacheEntries int           `envconfig:"VOTE_CACHE_ENTRIES" default:"1024"`

	// Realtime fan-out bounds.
	ThrottleWindow   time.Duration `envconfig:"THROTTLE_WINDOW" default:"1s"`
	ThrottleCapacity int           `envconfig:"THROTTLE_CAPACITY" default:"256"`
	BatchMaxItems    int           `envconfig:"BATCH_MAX_ITEMS" default:"20"`
	BatchDelay       time.Duration `envconfig:"BATCH_DELAY" default:"250ms"`
	BatchCapacity    int           `envconfig:"BATCH_CAPACITY" default:"256"`

	// Scheduled jobs.
	ResolveInterval     time.Duration `envconfig:"RESOLVE_INTERVAL" default:"1h"`
	MaintenanceInterval time.Duration `envconfig:"MAINTENANCE_INTERVAL" default:"24h"`
	VoteRetentionTTL    time.Duration `envconfig:"VOTE_RETENTION_TTL" default:"168h"`

	// CORS allowed origins, comma separated. Empty allows all.
	CORSOrigins []string `envconfig:"CORS_ORIGINS"`
}

// Load reads the configuration from the environment.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return &cfg, nil
}
