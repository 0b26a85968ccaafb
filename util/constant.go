package util

// Environment variables consulted for flag defaults.
const (
	EnvPattern           = "MEMCLOAD_PATTERN"
	EnvConfigPath        = "MEMCLOAD_CONFIG"
	EnvLogFile           = "MEMCLOAD_LOG"
	EnvWorkers           = "MEMCLOAD_WORKERS"
	EnvWriteMode         = "MEMCLOAD_MODE"
	EnvDryRun            = "MEMCLOAD_DRY"
	EnvIdfaAddr          = "MEMCLOAD_IDFA"
	EnvGaidAddr          = "MEMCLOAD_GAID"
	EnvAdidAddr          = "MEMCLOAD_ADID"
	EnvDvidAddr          = "MEMCLOAD_DVID"
	EnvMetricsAddr       = "MEMCLOAD_METRICS_ADDR"
	EnvPushGateway       = "MEMCLOAD_PUSHGATEWAY"
	EnvDotenvFile        = "MEMCLOAD_ENV_FILE"
	EnvRunID             = "MEMCLOAD_RUN_ID"
	EnvDeadLetterBrokers = "MEMCLOAD_DEADLETTER_BROKERS"
)

const (
	ProfileDir     = "MEMCLOAD_PROFILE_DIR"
	ProfileCapture = "MEMCLOAD_PROFILE"
)

const (
	DefaultEnvFile    = ".env"
	DefaultProfileDir = "profiles"
	DefaultPattern    = "/data/appsinstalled/*.tsv.gz"
	DefaultIdfaAddr   = "127.0.0.1:33013"
	DefaultGaidAddr   = "127.0.0.1:33014"
	DefaultAdidAddr   = "127.0.0.1:33015"
	DefaultDvidAddr   = "127.0.0.1:33016"
)

const (
	DateLayout = "2006-01-02"
)
