package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	EnvPrefix = "STORESYNC"

	AppEnvDev  = "development"
	AppEnvProd = "production"

	EnvAppEnv   = "STORESYNC_APP_ENV"
	EnvPort     = "STORESYNC_APP_PORT"
	EnvDBDSN    = "STORESYNC_DB_DSN"
	EnvDBHost   = "STORESYNC_DB_HOST"
	EnvDBUser   = "STORESYNC_DB_USER"
	EnvDBName   = "STORESYNC_DB_NAME"
	EnvRedisURL = "STORESYNC_REDIS_URL"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Stores       StoresConfig
	Redis        RedisConfig
	Drain        DrainConfig
	Mirror       MirrorConfig
	FeatureFlags FeatureFlagsConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.Stores.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env  string `envconfig:"STORESYNC_APP_ENV" required:"true"`
	Port string `envconfig:"STORESYNC_APP_PORT" required:"true"`

	// MetricsPort is where the workers expose /metrics; the API serves its
	// metrics on the main port instead.
	MetricsPort  string `envconfig:"STORESYNC_METRICS_PORT" default:"9091"`
	LogLevel     string `envconfig:"STORESYNC_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"STORESYNC_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"STORESYNC_SERVICE_KIND" default:"api"`

	// StoreID binds the API's POS and mirror-trigger routes to one store.
	// Optional when exactly one store is configured.
	StoreID string `envconfig:"STORESYNC_SERVICE_STORE_ID"`
}

// DBConfig points at the central database that owns the order ledger and the
// stock mirror.
type DBConfig struct {
	DSN    string `envconfig:"STORESYNC_DB_DSN"`
	Driver string `envconfig:"STORESYNC_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"STORESYNC_DB_HOST"`
	LegacyPort     int    `envconfig:"STORESYNC_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"STORESYNC_DB_USER"`
	LegacyPassword string `envconfig:"STORESYNC_DB_PASSWORD"`
	LegacyName     string `envconfig:"STORESYNC_DB_NAME"`
	LegacySSLMode  string `envconfig:"STORESYNC_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"STORESYNC_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"STORESYNC_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"STORESYNC_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"STORESYNC_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

// StoreDSNMap maps store ids to their local database DSNs. Supplied as
// STORESYNC_STORE_DSNS="store-001=postgres://...,store-002=postgres://..."
// because DSNs themselves contain colons.
type StoreDSNMap map[string]string

// Decode implements envconfig.Decoder.
func (m *StoreDSNMap) Decode(value string) error {
	parsed := StoreDSNMap{}
	for _, pair := range strings.Split(value, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		storeID, dsn, found := strings.Cut(pair, "=")
		if !found {
			return fmt.Errorf("store DSN entry %q must look like store-id=dsn", pair)
		}
		parsed[strings.TrimSpace(storeID)] = strings.TrimSpace(dsn)
	}
	*m = parsed
	return nil
}

// StoresConfig maps each synchronized store to the DSN of its local database.
type StoresConfig struct {
	DSNs StoreDSNMap `envconfig:"STORESYNC_STORE_DSNS" required:"true"`
}

func (s StoresConfig) validate() error {
	if len(s.DSNs) == 0 {
		return fmt.Errorf("at least one store DSN is required")
	}
	for storeID, dsn := range s.DSNs {
		if storeID == "" || dsn == "" {
			return fmt.Errorf("store DSN map entries need both a store id and a DSN")
		}
	}
	return nil
}

// BoundStoreID resolves which store the API binary serves POS routes for.
func (c *Config) BoundStoreID() (string, error) {
	if c.Service.StoreID != "" {
		if _, ok := c.Stores.DSNs[c.Service.StoreID]; !ok {
			return "", fmt.Errorf("store %q has no configured DSN", c.Service.StoreID)
		}
		return c.Service.StoreID, nil
	}
	if len(c.Stores.DSNs) == 1 {
		for id := range c.Stores.DSNs {
			return id, nil
		}
	}
	return "", fmt.Errorf("STORESYNC_SERVICE_STORE_ID is required when multiple stores are configured")
}

// IDs returns the configured store identifiers.
func (s StoresConfig) IDs() []string {
	ids := make([]string, 0, len(s.DSNs))
	for id := range s.DSNs {
		ids = append(ids, id)
	}
	return ids
}

type RedisConfig struct {
	URL          string        `envconfig:"STORESYNC_REDIS_URL" required:"true"`
	Password     string        `envconfig:"STORESYNC_REDIS_PASSWORD"`
	DB           int           `envconfig:"STORESYNC_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"STORESYNC_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"STORESYNC_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"STORESYNC_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"STORESYNC_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"STORESYNC_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// DrainConfig tunes the outbox drain poller.
type DrainConfig struct {
	PollInterval time.Duration `envconfig:"STORESYNC_DRAIN_POLL_INTERVAL" default:"3s"`
	BatchSize    int           `envconfig:"STORESYNC_DRAIN_BATCH_SIZE" default:"20"`
	MaxAttempts  int           `envconfig:"STORESYNC_DRAIN_MAX_ATTEMPTS" default:"10"`
	LockTTL      time.Duration `envconfig:"STORESYNC_DRAIN_LOCK_TTL" default:"1m"`
}

// MirrorConfig tunes the stock mirror pull poller.
type MirrorConfig struct {
	PollInterval time.Duration `envconfig:"STORESYNC_MIRROR_POLL_INTERVAL" default:"5s"`
	LockTTL      time.Duration `envconfig:"STORESYNC_MIRROR_LOCK_TTL" default:"1m"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"STORESYNC_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"STORESYNC_AUTO_MIGRATE" default:"false"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
