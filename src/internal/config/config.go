package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

const (
	DefaultPath = "src/internal/config/cfg.yml"

	EnvironmentProduction = "production"

	DriverMongo    = "mongodb"
	DriverPostgres = "postgres"

	// MinSecretLength is the minimum session secret size in bytes.
	MinSecretLength = 32
)

type Configuration struct {
	Logs     LogsSettings    `mapstructure:"logs"`
	App      Application     `mapstructure:"app"`
	Database Database        `mapstructure:"database"`
	Queue    QueueConfig     `mapstructure:"queue"`
	Redis    Redis           `mapstructure:"redis"`
	Server   ServerSettings  `mapstructure:"server"`
	Session  SessionSettings `mapstructure:"session"`
	SAML     SAMLSettings    `mapstructure:"saml"`
}

type LogsSettings struct {
	Level            string `mapstructure:"level"`
	Path             string `mapstructure:"log-path"`
	EnableJSONOutput bool   `mapstructure:"enable-json-output"`
}

type Application struct {
	Name        string `mapstructure:"name"`
	Timeout     int    `mapstructure:"timeout"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

type Database struct {
	Driver         string `mapstructure:"driver"`
	Url            string `mapstructure:"url"`
	DbName         string `mapstructure:"dbname"`
	UserCollection string `mapstructure:"user-collection"`
	Timeout        int    `mapstructure:"timeout"`
}

type QueueConfig struct {
	RabbitMQ RabbitMQConfig `mapstructure:"rabbitmq"`
}

type RabbitMQConfig struct {
	Url          string `mapstructure:"url"`
	Exchange     string `mapstructure:"exchange"`
	ExchangeType string `mapstructure:"exchange-type"`
	RoutingKey   string `mapstructure:"routing-key"`
	Durable      bool   `mapstructure:"durable"`
	AutoDelete   bool   `mapstructure:"auto-delete"`
	Internal     bool   `mapstructure:"internal"`
	NoWait       bool   `mapstructure:"no-wait"`
}

type Redis struct {
	Url       string `mapstructure:"url"`
	Password  string `mapstructure:"password"`
	Db        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key-prefix"`
	PoolSize  int    `mapstructure:"pool-size"`
}

type ServerSettings struct {
	Port           string   `mapstructure:"port"`
	Mode           string   `mapstructure:"mode"`
	ReadTimeout    int      `mapstructure:"read-timeout"`
	WriteTimeout   int      `mapstructure:"write-timeout"`
	IdleTimeout    int      `mapstructure:"idle-timeout"`
	TrustedProxies []string `mapstructure:"trusted-proxies"`
}

type SessionSettings struct {
	Secret               string        `mapstructure:"secret"`
	CookieName           string        `mapstructure:"cookie-name"`
	InactivityTimeout    time.Duration `mapstructure:"inactivity-timeout"`
	MaxAge               time.Duration `mapstructure:"max-age"`
	MaxAgeNonProduction  time.Duration `mapstructure:"max-age-non-production"`
	RegenerationInterval time.Duration `mapstructure:"regeneration-interval"`
	MaxExtension         time.Duration `mapstructure:"max-extension"`
	StoreTimeout         time.Duration `mapstructure:"store-timeout"`
	SweepInterval        time.Duration `mapstructure:"sweep-interval"`
}

type SAMLSettings struct {
	EntryPoint      string        `mapstructure:"entry-point"`
	Issuer          string        `mapstructure:"issuer"`
	IdpIssuer       string        `mapstructure:"idp-issuer"`
	CallbackUrl     string        `mapstructure:"callback-url"`
	Audience        string        `mapstructure:"audience"`
	Certificate     string        `mapstructure:"certificate"`
	ClockSkew       time.Duration `mapstructure:"clock-skew"`
	SuccessRedirect string        `mapstructure:"success-redirect"`
	FailureRedirect string        `mapstructure:"failure-redirect"`
}

var (
	ErrWeakSessionSecret = errors.New("config: session secret must be at least 32 bytes")
	ErrMissingCookieName = errors.New("config: session cookie-name must be set")
	ErrUnknownDriver     = errors.New("config: database driver must be mongodb or postgres")
)

// Load reads the YAML file at path, applies environment overrides and validates the result.
func Load(path string) (*Configuration, error) {
	cfg, err := read(path)
	if err != nil {
		return nil, err
	}
	logrus.WithField("path", path).Info("Configuration loaded")

	applyEnv(cfg)
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Configuration) {
	overrides := []struct {
		env   string
		field *string
	}{
		{"APP_ENV", &cfg.App.Environment},
		{"SESSION_SECRET", &cfg.Session.Secret},
		{"REDIS_URL", &cfg.Redis.Url},
		{"MONGODB_URL", &cfg.Database.Url},
		{"DATABASE_URL", &cfg.Database.Url},
		{"DB_DRIVER", &cfg.Database.Driver},
		{"DB_NAME", &cfg.Database.DbName},
		{"RABBITMQ_URL", &cfg.Queue.RabbitMQ.Url},
		{"SAML_ENTRY_POINT", &cfg.SAML.EntryPoint},
		{"SAML_ISSUER", &cfg.SAML.Issuer},
		{"SAML_IDP_ISSUER", &cfg.SAML.IdpIssuer},
		{"SAML_CALLBACK_URL", &cfg.SAML.CallbackUrl},
		{"SAML_CERT", &cfg.SAML.Certificate},
	}
	for _, o := range overrides {
		if v := os.Getenv(o.env); v != "" {
			*o.field = v
		}
	}

	redisDB := os.Getenv("REDIS_DB")
	if redisDB != "" {
		if db, err := strconv.Atoi(redisDB); err == nil {
			cfg.Redis.Db = db
		}
	}
}

func (c *Configuration) applyDefaults() {
	if c.Session.CookieName == "" {
		c.Session.CookieName = "timesheet.sid"
	}
	if c.Session.StoreTimeout <= 0 {
		c.Session.StoreTimeout = 5 * time.Second
	}
	if c.Session.SweepInterval <= 0 {
		c.Session.SweepInterval = 10 * time.Minute
	}
	if c.SAML.SuccessRedirect == "" {
		c.SAML.SuccessRedirect = "/"
	}
	if c.SAML.FailureRedirect == "" {
		c.SAML.FailureRedirect = "/auth/error"
	}
	if c.Database.Driver == "" {
		c.Database.Driver = DriverMongo
	}
	if c.App.Timeout <= 0 {
		c.App.Timeout = 10
	}
}

// Validate rejects configurations the service must not start with.
func (c *Configuration) Validate() error {
	if len(c.Session.Secret) < MinSecretLength {
		return ErrWeakSessionSecret
	}
	if c.Session.CookieName == "" {
		return ErrMissingCookieName
	}

	durations := map[string]time.Duration{
		"inactivity-timeout":     c.Session.InactivityTimeout,
		"max-age":                c.Session.MaxAge,
		"max-age-non-production": c.Session.MaxAgeNonProduction,
		"regeneration-interval":  c.Session.RegenerationInterval,
		"max-extension":          c.Session.MaxExtension,
	}
	for name, d := range durations {
		if d <= 0 {
			return fmt.Errorf("config: session %s must be positive", name)
		}
	}

	if c.SAML.ClockSkew < 0 {
		return errors.New("config: saml clock-skew must not be negative")
	}

	if c.SAML.EntryPoint == "" || c.SAML.CallbackUrl == "" || c.SAML.Certificate == "" {
		return errors.New("config: saml entry-point, callback-url and certificate must be set")
	}

	switch c.Database.Driver {
	case DriverMongo, DriverPostgres:
	default:
		return ErrUnknownDriver
	}
	return nil
}

func (c *Configuration) IsProduction() bool {
	return strings.EqualFold(c.App.Environment, EnvironmentProduction)
}

// MaxSessionAge returns the absolute session lifetime for the running environment.
func (c *Configuration) MaxSessionAge() time.Duration {
	if c.IsProduction() {
		return c.Session.MaxAge
	}
	return c.Session.MaxAgeNonProduction
}

// RequestTimeout bounds handler work that is not already bounded by the session store timeout.
func (c *Configuration) RequestTimeout() time.Duration {
	return time.Duration(c.App.Timeout) * time.Second
}

func read(path string) (*Configuration, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yml")
	v.AutomaticEnv()
	// An explicit zero disables the allowance, so this cannot live in applyDefaults.
	v.SetDefault("saml.clock-skew", "5s")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	var config Configuration
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("config: unmarshalling %s: %w", path, err)
	}

	return &config, nil
}
