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
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	Idempotency  IdempotencyConfig
	Transfer     TransferConfig
	Settlement   SettlementConfig
	FeatureFlags FeatureFlagsConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Audit        AuditConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"LOTOPOINTS_APP_ENV" required:"true"`
	Port         string `envconfig:"LOTOPOINTS_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"LOTOPOINTS_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"LOTOPOINTS_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"LOTOPOINTS_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"LOTOPOINTS_DB_DSN"`
	Driver string `envconfig:"LOTOPOINTS_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"LOTOPOINTS_DB_HOST"`
	LegacyPort     int    `envconfig:"LOTOPOINTS_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"LOTOPOINTS_DB_USER"`
	LegacyPassword string `envconfig:"LOTOPOINTS_DB_PASSWORD"`
	LegacyName     string `envconfig:"LOTOPOINTS_DB_NAME"`
	LegacySSLMode  string `envconfig:"LOTOPOINTS_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"LOTOPOINTS_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"LOTOPOINTS_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"LOTOPOINTS_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"LOTOPOINTS_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"LOTOPOINTS_REDIS_URL" required:"true"`
	Address      string        `envconfig:"LOTOPOINTS_REDIS_ADDR"`
	Password     string        `envconfig:"LOTOPOINTS_REDIS_PASSWORD"`
	DB           int           `envconfig:"LOTOPOINTS_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"LOTOPOINTS_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"LOTOPOINTS_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"LOTOPOINTS_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"LOTOPOINTS_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"LOTOPOINTS_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// IdempotencyConfig bounds the exclusive lock and outcome cache used to
// deduplicate mutating financial requests.
type IdempotencyConfig struct {
	LockTTL    time.Duration `envconfig:"LOTOPOINTS_IDEMPOTENCY_LOCK_TTL" default:"30s"`
	OutcomeTTL time.Duration `envconfig:"LOTOPOINTS_IDEMPOTENCY_OUTCOME_TTL" default:"168h"`
}

// TransferConfig controls the retry budget for transient storage conflicts.
type TransferConfig struct {
	MaxAttempts    int           `envconfig:"LOTOPOINTS_TRANSFER_MAX_ATTEMPTS" default:"3"`
	RetryBaseDelay time.Duration `envconfig:"LOTOPOINTS_TRANSFER_RETRY_BASE_DELAY" default:"50ms"`
}

type SettlementConfig struct {
	BatchSize   int `envconfig:"LOTOPOINTS_SETTLEMENT_BATCH_SIZE" default:"200"`
	SpreadCount int `envconfig:"LOTOPOINTS_SETTLEMENT_SPREAD_COUNT" default:"27"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"LOTOPOINTS_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"LOTOPOINTS_AUTO_MIGRATE" default:"false"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"LOTOPOINTS_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"LOTOPOINTS_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"LOTOPOINTS_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	AuditTopic        string `envconfig:"LOTOPOINTS_PUBSUB_AUDIT_TOPIC" default:"lp-audit-events"`
	AuditSubscription string `envconfig:"LOTOPOINTS_PUBSUB_AUDIT_SUBSCRIPTION"`
}

type AuditConfig struct {
	BatchSize      int `envconfig:"LOTOPOINTS_AUDIT_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"LOTOPOINTS_AUDIT_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"LOTOPOINTS_AUDIT_MAX_ATTEMPTS" default:"10"`
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
