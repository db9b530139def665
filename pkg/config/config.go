package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App          AppConfig
	DB           DBConfig
	FeatureFlags FeatureFlagsConfig
	Stripe       StripeConfig
	Webhook      WebhookConfig
	Redis        RedisConfig
	Reconcile    ReconcileConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(cfg.FeatureFlags.UseSQLite); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"SUBSYNC_APP_ENV" required:"true"`
	Port         string `envconfig:"SUBSYNC_APP_PORT" default:"8080"`
	LogLevel     string `envconfig:"SUBSYNC_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"SUBSYNC_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN    string `envconfig:"SUBSYNC_DB_DSN"`
	Driver string `envconfig:"SUBSYNC_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"SUBSYNC_DB_HOST"`
	LegacyPort     int    `envconfig:"SUBSYNC_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"SUBSYNC_DB_USER"`
	LegacyPassword string `envconfig:"SUBSYNC_DB_PASSWORD"`
	LegacyName     string `envconfig:"SUBSYNC_DB_NAME"`
	LegacySSLMode  string `envconfig:"SUBSYNC_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"SUBSYNC_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"SUBSYNC_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"SUBSYNC_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"SUBSYNC_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"SUBSYNC_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"SUBSYNC_AUTO_MIGRATE" default:"false"`
}

type StripeConfig struct {
	APIKey                   string `envconfig:"SUBSYNC_STRIPE_API_KEY"`
	WebhookSecret            string `envconfig:"SUBSYNC_STRIPE_WEBHOOK_SECRET"`
	Env                      string `envconfig:"SUBSYNC_STRIPE_ENV" default:"test"`
	IgnoreAPIVersionMismatch bool   `envconfig:"SUBSYNC_STRIPE_IGNORE_API_VERSION_MISMATCH" default:"true"`
}

// Environment returns the normalized Stripe environment (test/live).
func (s StripeConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "test"
	}
	return env
}

type WebhookConfig struct {
	MaxBodyBytes int64 `envconfig:"SUBSYNC_WEBHOOK_MAX_BODY_BYTES" default:"1048576"`
	// TolerateMissing turns update/delete/payment events for unknown
	// subscriptions into logged no-ops instead of 400s.
	TolerateMissing bool `envconfig:"SUBSYNC_WEBHOOK_TOLERATE_MISSING" default:"false"`
}

type RedisConfig struct {
	URL          string        `envconfig:"SUBSYNC_REDIS_URL"`
	Address      string        `envconfig:"SUBSYNC_REDIS_ADDR"`
	Password     string        `envconfig:"SUBSYNC_REDIS_PASSWORD"`
	DB           int           `envconfig:"SUBSYNC_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"SUBSYNC_REDIS_POOL_SIZE" default:"5"`
	DialTimeout  time.Duration `envconfig:"SUBSYNC_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"SUBSYNC_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"SUBSYNC_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// ReconcileConfig drives the reconcile worker, which re-reads stale
// subscriptions from Stripe in case a webhook delivery was missed.
type ReconcileConfig struct {
	Interval   time.Duration `envconfig:"SUBSYNC_RECONCILE_INTERVAL" default:"1h"`
	BatchSize  int           `envconfig:"SUBSYNC_RECONCILE_BATCH_SIZE" default:"250"`
	StaleAfter time.Duration `envconfig:"SUBSYNC_RECONCILE_STALE_AFTER" default:"24h"`
	LockTTL    time.Duration `envconfig:"SUBSYNC_RECONCILE_LOCK_TTL" default:"55m"`
}

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// sqliteDefaultDSN is used when SQLite is enabled and no DSN is configured.
const sqliteDefaultDSN = "file:subsync.db?cache=shared&_foreign_keys=on"

func (db *DBConfig) ensureDSN(useSQLite bool) error {
	if useSQLite {
		db.Driver = DriverSQLite
	}
	if db.DSN != "" {
		return nil
	}
	if useSQLite {
		db.DSN = sqliteDefaultDSN
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
