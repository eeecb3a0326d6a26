package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// ErrConfig is returned when the environment describes an invalid runtime.
var ErrConfig = errors.New("invalid config")

// Store backends.
const (
	StoreMemory    = "memory"
	StorePostgres  = "postgres"
	StoreFirestore = "firestore"
)

// envPrefix is prepended to every key: HTTP_ADDR is read from DOCRELAY_HTTP_ADDR.
const envPrefix = "DOCRELAY"

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr  string `envconfig:"HTTP_ADDR" default:"0.0.0.0:8080"`
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"json"`

	ReadHeaderTimeout time.Duration `envconfig:"HTTP_READ_HEADER_TIMEOUT" default:"5s"`
	ReadTimeout       time.Duration `envconfig:"HTTP_READ_TIMEOUT" default:"15s"`
	WriteTimeout      time.Duration `envconfig:"HTTP_WRITE_TIMEOUT" default:"15s"`
	IdleTimeout       time.Duration `envconfig:"HTTP_IDLE_TIMEOUT" default:"60s"`
	MaxHeaderBytes    int           `envconfig:"HTTP_MAX_HEADER_BYTES" default:"1048576"`
	ShutdownTimeout   time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`

	// Store selects where the session record lives: memory, postgres or firestore.
	Store string `envconfig:"STORE" default:"memory"`

	DatabaseURL    string `envconfig:"DATABASE_URL"`
	DBMaxConns     int32  `envconfig:"DB_MAX_CONNS" default:"10"`
	DBMinConns     int32  `envconfig:"DB_MIN_CONNS" default:"0"`
	PostgresSchema string `envconfig:"POSTGRES_SCHEMA" default:"docrelay"`

	FirestoreProject    string `envconfig:"FIRESTORE_PROJECT"`
	FirestoreCollection string `envconfig:"FIRESTORE_COLLECTION" default:"docrelay_sessions"`

	RevalidateInterval time.Duration `envconfig:"REVALIDATE_INTERVAL" default:"5m"`

	OAuthClientID     string `envconfig:"OAUTH_CLIENT_ID"`
	OAuthClientSecret string `envconfig:"OAUTH_CLIENT_SECRET"`
	OAuthRefreshToken string `envconfig:"OAUTH_REFRESH_TOKEN"`
	OAuthScope        string `envconfig:"OAUTH_SCOPE" default:"https://www.googleapis.com/auth/documents.readonly"`
	// OAuthAudience is the client id tokens must be issued to. Defaults to OAuthClientID.
	OAuthAudience string        `envconfig:"OAUTH_AUDIENCE"`
	RevokeURL     string        `envconfig:"OAUTH_REVOKE_URL" default:"https://oauth2.googleapis.com/revoke"`
	RevokeTimeout time.Duration `envconfig:"OAUTH_REVOKE_TIMEOUT" default:"5s"`

	// DocsEndpoint overrides the Google Docs API base URL (tests, proxies).
	DocsEndpoint string `envconfig:"DOCS_ENDPOINT"`

	WSAllowedOrigins []string `envconfig:"WS_ALLOWED_ORIGINS" default:"chrome-extension://*,http://localhost,http://127.0.0.1"`
	WSOriginRequired bool     `envconfig:"WS_ORIGIN_REQUIRED" default:"true"`
	WSSendQueueSize  int      `envconfig:"WS_SEND_QUEUE_SIZE" default:"256"`

	// Security policy:
	// If true, DOCRELAY_TOKEN_HMAC_KEY MUST be set (>= 32 bytes) and snapshot fingerprints are HMAC-based.
	RequireTokenHMAC bool `envconfig:"REQUIRE_TOKEN_HMAC" default:"false"`
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	c.Store = strings.ToLower(strings.TrimSpace(c.Store))

	switch c.Store {
	case StoreMemory:
	case StorePostgres:
		if strings.TrimSpace(c.DatabaseURL) == "" {
			return fmt.Errorf("%w: DOCRELAY_STORE=postgres requires DOCRELAY_DATABASE_URL", ErrConfig)
		}
	case StoreFirestore:
		if strings.TrimSpace(c.FirestoreProject) == "" {
			return fmt.Errorf("%w: DOCRELAY_STORE=firestore requires DOCRELAY_FIRESTORE_PROJECT", ErrConfig)
		}
	default:
		return fmt.Errorf("%w: unknown DOCRELAY_STORE %q", ErrConfig, c.Store)
	}

	switch strings.ToLower(strings.TrimSpace(c.LogFormat)) {
	case "json", "pretty", "text":
	default:
		return fmt.Errorf("%w: unknown DOCRELAY_LOG_FORMAT %q", ErrConfig, c.LogFormat)
	}

	if c.RevalidateInterval <= 0 {
		return fmt.Errorf("%w: DOCRELAY_REVALIDATE_INTERVAL must be positive", ErrConfig)
	}
	if strings.TrimSpace(c.OAuthScope) == "" {
		return fmt.Errorf("%w: DOCRELAY_OAUTH_SCOPE is empty", ErrConfig)
	}
	if c.OAuthAudience == "" {
		c.OAuthAudience = c.OAuthClientID
	}

	origins := c.WSAllowedOrigins[:0]
	for _, o := range c.WSAllowedOrigins {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	c.WSAllowedOrigins = origins

	return nil
}
