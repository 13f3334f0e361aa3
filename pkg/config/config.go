package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App           AppConfig
	Service       ServiceConfig
	DB            DBConfig
	Redis         RedisConfig
	FeatureFlags  FeatureFlagsConfig
	GCP           GCPConfig
	PubSub        PubSubConfig
	Outbox        OutboxConfig
	Saga          SagaConfig
	Consumers     ConsumersConfig
	Collaborators CollaboratorsConfig
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
	Env          string `envconfig:"BOOKING_APP_ENV" required:"true"`
	Port         string `envconfig:"BOOKING_APP_PORT" default:"8080"`
	LogLevel     string `envconfig:"BOOKING_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"BOOKING_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"BOOKING_SERVICE_KIND" default:"saga-worker"`
}

type DBConfig struct {
	DSN    string `envconfig:"BOOKING_DB_DSN"`
	Driver string `envconfig:"BOOKING_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"BOOKING_DB_HOST"`
	LegacyPort     int    `envconfig:"BOOKING_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"BOOKING_DB_USER"`
	LegacyPassword string `envconfig:"BOOKING_DB_PASSWORD"`
	LegacyName     string `envconfig:"BOOKING_DB_NAME"`
	LegacySSLMode  string `envconfig:"BOOKING_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"BOOKING_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"BOOKING_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"BOOKING_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"BOOKING_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"BOOKING_REDIS_URL" required:"true"`
	Address      string        `envconfig:"BOOKING_REDIS_ADDR"`
	Password     string        `envconfig:"BOOKING_REDIS_PASSWORD"`
	DB           int           `envconfig:"BOOKING_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"BOOKING_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"BOOKING_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"BOOKING_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"BOOKING_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"BOOKING_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"BOOKING_AUTO_MIGRATE" default:"false"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"BOOKING_GCP_PROJECT_ID" required:"true"`
	CredentialsJSON        string `envconfig:"BOOKING_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"BOOKING_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	SagaTopic            string `envconfig:"BOOKING_PUBSUB_SAGA_TOPIC" required:"true"`
	SagaSubscription     string `envconfig:"BOOKING_PUBSUB_SAGA_SUBSCRIPTION" required:"true"`
	NotificationTopic    string `envconfig:"BOOKING_PUBSUB_NOTIFICATION_TOPIC" default:"appointment-notification-events"`
	PaymentsSubscription string `envconfig:"BOOKING_PUBSUB_PAYMENTS_SUBSCRIPTION" required:"true"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"BOOKING_OUTBOX_PUBLISH_BATCH_SIZE" default:"100"`
	PollIntervalMS int `envconfig:"BOOKING_OUTBOX_PUBLISH_POLL_MS" default:"5000"`
	MaxAttempts    int `envconfig:"BOOKING_OUTBOX_MAX_ATTEMPTS" default:"5"`
	RetentionDays  int `envconfig:"BOOKING_OUTBOX_RETENTION_DAYS" default:"7"`
}

type SagaConfig struct {
	ReservationTTL   time.Duration `envconfig:"BOOKING_SAGA_RESERVATION_TTL" default:"10m"`
	PendingTimeout   time.Duration `envconfig:"BOOKING_SAGA_PENDING_TIMEOUT" default:"15m"`
	SweepInterval    time.Duration `envconfig:"BOOKING_SAGA_SWEEP_INTERVAL" default:"5m"`
	IdempotencyTTL   time.Duration `envconfig:"BOOKING_SAGA_IDEMPOTENCY_TTL" default:"720h"`
	CASRetryAttempts int           `envconfig:"BOOKING_SAGA_CAS_RETRY_ATTEMPTS" default:"3"`
}

type ConsumersConfig struct {
	Concurrency int `envconfig:"BOOKING_CONSUMER_CONCURRENCY" default:"3"`
}

type CollaboratorsConfig struct {
	IdentityBaseURL string        `envconfig:"BOOKING_IDENTITY_BASE_URL" required:"true"`
	MedicalBaseURL  string        `envconfig:"BOOKING_MEDICAL_BASE_URL" required:"true"`
	BillingBaseURL  string        `envconfig:"BOOKING_BILLING_BASE_URL" required:"true"`
	RequestTimeout  time.Duration `envconfig:"BOOKING_COLLABORATOR_TIMEOUT" default:"10s"`
	RetryAttempts   int           `envconfig:"BOOKING_COLLABORATOR_RETRY_ATTEMPTS" default:"3"`
	RetryBaseDelay  time.Duration `envconfig:"BOOKING_COLLABORATOR_RETRY_BASE_DELAY" default:"1s"`
	RetryMultiplier int           `envconfig:"BOOKING_COLLABORATOR_RETRY_MULTIPLIER" default:"2"`
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
