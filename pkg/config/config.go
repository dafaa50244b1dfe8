package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	EnvPrefix = "FANOUT"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvAppEnv   = "FANOUT_APP_ENV"
	EnvPort     = "FANOUT_APP_PORT"
	EnvDBDSN    = "FANOUT_DB_DSN"
	EnvDBHost   = "FANOUT_DB_HOST"
	EnvDBUser   = "FANOUT_DB_USER"
	EnvDBName   = "FANOUT_DB_NAME"
	EnvRedisURL = "FANOUT_REDIS_URL"

	EnvDigestSchedule    = "FANOUT_DIGEST_SCHEDULE"
	EnvDigestConcurrency = "FANOUT_DIGEST_CONCURRENCY"
	EnvDedupExempt       = "FANOUT_DEDUP_EXEMPT_TEMPLATES"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}

type Config struct {
	App          AppConfig
	DB           DBConfig
	Redis        RedisConfig
	FeatureFlags FeatureFlagsConfig
	Eventing     EventingConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	MailQueue    MailQueueConfig
	Digest       DigestConfig
	Fanout       FanoutConfig
	Retention    RetentionConfig
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
	Env          string `envconfig:"FANOUT_APP_ENV" required:"true"`
	Port         string `envconfig:"FANOUT_APP_PORT" default:"8080"`
	LogLevel     string `envconfig:"FANOUT_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"FANOUT_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN    string `envconfig:"FANOUT_DB_DSN"`
	Driver string `envconfig:"FANOUT_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"FANOUT_DB_HOST"`
	LegacyPort     int    `envconfig:"FANOUT_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"FANOUT_DB_USER"`
	LegacyPassword string `envconfig:"FANOUT_DB_PASSWORD"`
	LegacyName     string `envconfig:"FANOUT_DB_NAME"`
	LegacySSLMode  string `envconfig:"FANOUT_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"FANOUT_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"FANOUT_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"FANOUT_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"FANOUT_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

// UsesSQLite reports whether the sqlite dialector should be used.
func (db DBConfig) UsesSQLite() bool {
	return strings.EqualFold(db.Driver, "sqlite")
}

type RedisConfig struct {
	URL          string        `envconfig:"FANOUT_REDIS_URL" required:"true"`
	Address      string        `envconfig:"FANOUT_REDIS_ADDR"`
	Password     string        `envconfig:"FANOUT_REDIS_PASSWORD"`
	DB           int           `envconfig:"FANOUT_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"FANOUT_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"FANOUT_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"FANOUT_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"FANOUT_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"FANOUT_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"FANOUT_AUTO_MIGRATE" default:"false"`
}

type EventingConfig struct {
	IdempotencyTTL time.Duration `envconfig:"FANOUT_EVENTING_IDEMPOTENCY_TTL" default:"720h"`
}

type GCPConfig struct {
	ProjectID string `envconfig:"FANOUT_GCP_PROJECT_ID"`
}

type PubSubConfig struct {
	EntityEventsSubscription string `envconfig:"FANOUT_PUBSUB_ENTITY_EVENTS_SUBSCRIPTION" default:"fanout-entity-events"`
	MaxOutstandingMessages   int    `envconfig:"FANOUT_PUBSUB_MAX_OUTSTANDING_MESSAGES" default:"100"`
	NumGoroutines            int    `envconfig:"FANOUT_PUBSUB_NUM_GOROUTINES" default:"2"`
}

type MailQueueConfig struct {
	Queue     string        `envconfig:"FANOUT_MAIL_QUEUE" default:"digest_email"`
	MaxRetry  int           `envconfig:"FANOUT_MAIL_MAX_RETRY" default:"5"`
	Timeout   time.Duration `envconfig:"FANOUT_MAIL_TIMEOUT" default:"2m"`
	Retention time.Duration `envconfig:"FANOUT_MAIL_RETENTION" default:"168h"`
	// Concurrency bounds the mail-worker's asynq server.
	Concurrency int `envconfig:"FANOUT_MAIL_CONCURRENCY" default:"10"`
}

type DigestConfig struct {
	// Schedule accepts a cron expression ("*/5 * * * *", "@every 1m") for the sweep cadence.
	Schedule         string        `envconfig:"FANOUT_DIGEST_SCHEDULE" default:"@every 1m"`
	Concurrency      int           `envconfig:"FANOUT_DIGEST_CONCURRENCY" default:"8"`
	RecipientTimeout time.Duration `envconfig:"FANOUT_DIGEST_RECIPIENT_TIMEOUT" default:"30s"`
	ClaimTTL         time.Duration `envconfig:"FANOUT_DIGEST_CLAIM_TTL" default:"5m"`
	MaxAttempts      int           `envconfig:"FANOUT_DIGEST_MAX_ATTEMPTS" default:"5"`
	BatchSize        int           `envconfig:"FANOUT_DIGEST_BATCH_SIZE" default:"500"`
	DefaultFrequency string        `envconfig:"FANOUT_DIGEST_DEFAULT_FREQUENCY" default:"immediately"`
}

type FanoutConfig struct {
	DedupExemptTemplates []string `envconfig:"FANOUT_DEDUP_EXEMPT_TEMPLATES"`
	ResolverPageSize     int      `envconfig:"FANOUT_RESOLVER_PAGE_SIZE" default:"200"`
}

type RetentionConfig struct {
	ActivityDays int `envconfig:"FANOUT_ACTIVITY_RETENTION_DAYS" default:"180"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}
	if db.UsesSQLite() {
		return fmt.Errorf("%s is required for the sqlite driver", EnvDBDSN)
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
