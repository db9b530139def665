package config

// EnvPrefix is handed to envconfig. Fields resolve through their explicit
// envconfig tags.
const EnvPrefix = "SUBSYNC"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	EnvAppEnv       = "SUBSYNC_APP_ENV"
	EnvPort         = "SUBSYNC_APP_PORT"
	EnvLogLevel     = "SUBSYNC_LOG_LEVEL"
	EnvLogWarnStack = "SUBSYNC_LOG_WARN_STACK"

	EnvDBDSN      = "SUBSYNC_DB_DSN"
	EnvDBHost     = "SUBSYNC_DB_HOST"
	EnvDBPort     = "SUBSYNC_DB_PORT"
	EnvDBUser     = "SUBSYNC_DB_USER"
	EnvDBPassword = "SUBSYNC_DB_PASSWORD"
	EnvDBName     = "SUBSYNC_DB_NAME"
	EnvDBSSLMode  = "SUBSYNC_DB_SSLMODE"

	EnvUseSQLite   = "SUBSYNC_USE_SQLITE"
	EnvAutoMigrate = "SUBSYNC_AUTO_MIGRATE"

	EnvStripeAPIKey                   = "SUBSYNC_STRIPE_API_KEY"
	EnvStripeWebhookSecret            = "SUBSYNC_STRIPE_WEBHOOK_SECRET"
	EnvStripeEnv                      = "SUBSYNC_STRIPE_ENV"
	EnvStripeIgnoreAPIVersionMismatch = "SUBSYNC_STRIPE_IGNORE_API_VERSION_MISMATCH"

	EnvWebhookMaxBodyBytes    = "SUBSYNC_WEBHOOK_MAX_BODY_BYTES"
	EnvWebhookTolerateMissing = "SUBSYNC_WEBHOOK_TOLERATE_MISSING"

	EnvRedisURL  = "SUBSYNC_REDIS_URL"
	EnvRedisAddr = "SUBSYNC_REDIS_ADDR"

	EnvReconcileInterval   = "SUBSYNC_RECONCILE_INTERVAL"
	EnvReconcileBatchSize  = "SUBSYNC_RECONCILE_BATCH_SIZE"
	EnvReconcileStaleAfter = "SUBSYNC_RECONCILE_STALE_AFTER"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
