package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	EnvPrefix = "ORDERS"

	AppEnvDev  = "development"
	AppEnvProd = "production"

	EnvAppEnv   = "ORDERS_APP_ENV"
	EnvLogLevel = "ORDERS_LOG_LEVEL"

	EnvDBDSN    = "ORDERS_DB_DSN"
	EnvDBDriver = "ORDERS_DB_DRIVER"
	EnvDBHost   = "ORDERS_DB_HOST"
	EnvDBUser   = "ORDERS_DB_USER"
	EnvDBName   = "ORDERS_DB_NAME"

	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}

type Config struct {
	App          AppConfig
	DB           DBConfig
	FeatureFlags FeatureFlagsConfig
	Refunds      RefundsConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if cfg.FeatureFlags.UseSQLite {
		cfg.DB.Driver = DriverSQLite
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"ORDERS_APP_ENV" required:"true"`
	LogLevel     string `envconfig:"ORDERS_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"ORDERS_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN    string `envconfig:"ORDERS_DB_DSN"`
	Driver string `envconfig:"ORDERS_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"ORDERS_DB_HOST"`
	LegacyPort     int    `envconfig:"ORDERS_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"ORDERS_DB_USER"`
	LegacyPassword string `envconfig:"ORDERS_DB_PASSWORD"`
	LegacyName     string `envconfig:"ORDERS_DB_NAME"`
	LegacySSLMode  string `envconfig:"ORDERS_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"ORDERS_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"ORDERS_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"ORDERS_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"ORDERS_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

func (db DBConfig) IsSQLite() bool {
	return strings.EqualFold(db.Driver, DriverSQLite)
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"ORDERS_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"ORDERS_AUTO_MIGRATE" default:"false"`
}

type RefundsConfig struct {
	// MaxAdmissionRetries bounds how many times a refund attempt is
	// replayed after losing an optimistic-version race.
	MaxAdmissionRetries int `envconfig:"ORDERS_REFUND_MAX_ADMISSION_RETRIES" default:"3"`
}

func (db *DBConfig) ensureDSN() error {
	if db.IsSQLite() {
		if db.DSN == "" {
			db.DSN = "file::memory:?cache=shared"
		}
		return nil
	}

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
