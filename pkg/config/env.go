package config

// EnvPrefix is the envconfig prefix shared by every binary.
const EnvPrefix = "lotopoints"

const (
	AppEnvDev  = "development"
	AppEnvProd = "production"
)

// Environment variable names referenced outside struct tags.
const (
	EnvAppEnv   = "LOTOPOINTS_APP_ENV"
	EnvPort     = "LOTOPOINTS_APP_PORT"
	EnvDBDSN    = "LOTOPOINTS_DB_DSN"
	EnvDBHost   = "LOTOPOINTS_DB_HOST"
	EnvDBUser   = "LOTOPOINTS_DB_USER"
	EnvDBName   = "LOTOPOINTS_DB_NAME"
	EnvRedisURL = "LOTOPOINTS_REDIS_URL"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
