package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config is the process configuration, loaded from the environment and Docker secrets.
type Config struct {
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	LogEncoding string `envconfig:"LOG_ENCODING" default:"json"`
	HTTPPort    string `envconfig:"HTTP_PORT" default:"8090"`
	Env         string `envconfig:"ENV" default:"production"`

	ServiceName string `envconfig:"SERVICE_NAME" default:"adventure-bot"`

	// LogSampleInitial of 0 disables sampling.
	LogSampleInitial    int `envconfig:"LOG_SAMPLE_INITIAL" default:"100"`
	LogSampleThereafter int `envconfig:"LOG_SAMPLE_THEREAFTER" default:"100"`

	CORSAllowedOrigins []string      `envconfig:"CORS_ALLOWED_ORIGINS"`
	APIRateLimit       uint          `envconfig:"API_RATE_LIMIT" default:"120"`
	APIRateWindow      time.Duration `envconfig:"API_RATE_WINDOW" default:"1m"`

	DBHost              string        `envconfig:"DB_HOST" default:"localhost"`
	DBPort              string        `envconfig:"DB_PORT" default:"5432"`
	DBUser              string        `envconfig:"DB_USER" default:"postgres"`
	DBName              string        `envconfig:"DB_NAME" default:"adventures"`
	DBSSLMode           string        `envconfig:"DB_SSL_MODE" default:"disable"`
	DBMaxConns          int32         `envconfig:"DB_MAX_CONNECTIONS" default:"10"`
	DBMinConns          int32         `envconfig:"DB_MIN_CONNECTIONS" default:"1"`
	DBIdleTimeout       time.Duration `envconfig:"DB_MAX_IDLE" default:"5m"`
	DBAcquireTimeout    time.Duration `envconfig:"DB_ACQUIRE_TIMEOUT" default:"5s"`
	DBConnectRetries    int           `envconfig:"DB_CONNECT_RETRIES" default:"5"`
	DBConnectBackoff    time.Duration `envconfig:"DB_CONNECT_BACKOFF" default:"1s"`
	DBOperationTimeout  time.Duration `envconfig:"DB_OPERATION_TIMEOUT" default:"90s"`
	DBHeartbeatInterval time.Duration `envconfig:"DB_HEARTBEAT_INTERVAL" default:"10s"`
	TxMaxRetries        int           `envconfig:"TX_MAX_RETRIES" default:"3"`
	TxRetryBackoff      time.Duration `envconfig:"TX_RETRY_BACKOFF" default:"50ms"`
	DBPassword          string        `ignored:"true"`

	CacheBackend string        `envconfig:"CACHE_BACKEND" default:"memory"`
	CacheSize    int           `envconfig:"CACHE_SIZE" default:"1024"`
	CacheTTL     time.Duration `envconfig:"CACHE_TTL" default:"30m"`
	RedisURL     string        `envconfig:"REDIS_URL" default:"redis://localhost:6379/0"`

	// Empty disables event publishing.
	RabbitMQURL    string `envconfig:"RABBITMQ_URL"`
	EventsExchange string `envconfig:"EVENTS_EXCHANGE" default:"adventure_events"`

	AIBaseURL string        `envconfig:"AI_BASE_URL" default:"https://api.openai.com/v1"`
	AIModel   string        `envconfig:"AI_MODEL" default:"gpt-4o-mini"`
	AITimeout time.Duration `envconfig:"AI_TIMEOUT" default:"60s"`
	AIAPIKey  string        `ignored:"true"`

	PartyDefaultMaxSize      int    `envconfig:"PARTY_DEFAULT_MAX_SIZE" default:"4"`
	PartyDefaultMinSize      int    `envconfig:"PARTY_DEFAULT_MIN_SIZE" default:"1"`
	PartyAutoStartWhenFull   bool   `envconfig:"PARTY_AUTO_START_WHEN_FULL" default:"false"`
	AdventureRecentEvents    int    `envconfig:"ADVENTURE_RECENT_EVENTS" default:"5"`
	AdventureRecentDecisions int    `envconfig:"ADVENTURE_RECENT_DECISIONS" default:"3"`
	AdventureDefaultTheme    string `envconfig:"ADVENTURE_DEFAULT_THEME" default:"classic fantasy"`

	InterServiceSecret string `ignored:"true"`
}

// GetDSN returns the PostgreSQL connection URL.
func (c *Config) GetDSN() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.DBUser, c.DBPassword),
		Host:     c.DBHost + ":" + c.DBPort,
		Path:     "/" + c.DBName,
		RawQuery: "sslmode=" + url.QueryEscape(c.DBSSLMode),
	}
	return u.String()
}

// Load reads the environment and the db_password, ai_api_key and inter_service_secret secrets.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	var err error
	if cfg.DBPassword, err = ReadSecret("db_password", "DB_PASSWORD"); err != nil {
		return nil, err
	}
	if cfg.AIAPIKey, err = ReadSecret("ai_api_key", "AI_API_KEY"); err != nil {
		return nil, err
	}
	if cfg.InterServiceSecret, err = ReadSecret("inter_service_secret", "INTER_SERVICE_SECRET"); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field constraints envconfig cannot express.
func (c *Config) Validate() error {
	if c.PartyDefaultMaxSize < 1 {
		return fmt.Errorf("PARTY_DEFAULT_MAX_SIZE must be at least 1")
	}
	if c.PartyDefaultMinSize < 1 || c.PartyDefaultMinSize > c.PartyDefaultMaxSize {
		return fmt.Errorf("PARTY_DEFAULT_MIN_SIZE must be within [1, %d]", c.PartyDefaultMaxSize)
	}
	if c.AdventureRecentEvents < 1 {
		return fmt.Errorf("ADVENTURE_RECENT_EVENTS must be at least 1")
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNECTIONS must not exceed DB_MAX_CONNECTIONS")
	}
	switch c.CacheBackend {
	case "memory", "redis":
	default:
		return fmt.Errorf("CACHE_BACKEND must be memory or redis, got %q", c.CacheBackend)
	}
	return nil
}
