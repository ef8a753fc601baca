// Package config loads client settings from an optional .env file and the
// process environment.
package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/Pkv562/UNITE/pkg/featureflag"
	"github.com/Pkv562/UNITE/pkg/gateway"
	"github.com/Pkv562/UNITE/pkg/hardening"
	"github.com/Pkv562/UNITE/pkg/statebus"
	"github.com/Pkv562/UNITE/pkg/store"
	"github.com/Pkv562/UNITE/pkg/telemetry"
)

type Config struct {
	// Environment names the deployment (UNITE_ENV); production-like values
	// turn on Validate's hardening checks.
	Environment    string
	APIURL         string
	PublicOrigin   string
	AuthToken      string
	SessionToken   string
	SignInPath     string
	RequestTimeout time.Duration
	HTTPRetries    int
	RetryDelay     time.Duration
	CacheTTL       time.Duration

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisTLS      bool

	// Flags holds build-time flag defaults; unset flags are absent.
	Flags map[featureflag.Flag]bool

	EventsWSURL  string
	KafkaBrokers []string
	KafkaTopic   string
	KafkaGroupID string

	Telemetry telemetry.Config
}

// Load reads the given .env files (or ./.env when none are named) without
// overriding variables already set, then builds the config from the
// environment. A missing default .env is not an error.
func Load(serviceName string, files ...string) (Config, error) {
	if err := godotenv.Load(files...); err != nil {
		if len(files) > 0 || !errors.Is(err, fs.ErrNotExist) {
			return Config{}, err
		}
	}
	return FromEnv(serviceName, os.LookupEnv), nil
}

// FromEnv builds the config from lookup alone.
func FromEnv(serviceName string, lookup func(string) (string, bool)) Config {
	e := envReader(lookup)
	return Config{
		Environment:    e.str("UNITE_ENV", "development"),
		APIURL:         e.str("UNITE_API_URL", ""),
		PublicOrigin:   e.str("UNITE_PUBLIC_ORIGIN", ""),
		AuthToken:      e.str("UNITE_AUTH_TOKEN", ""),
		SessionToken:   e.str("UNITE_SESSION_TOKEN", ""),
		SignInPath:     e.str("UNITE_SIGN_IN_PATH", gateway.DefaultSignInPath),
		RequestTimeout: e.millis("UNITE_REQUEST_TIMEOUT_MS", 0),
		HTTPRetries:    e.int("UNITE_HTTP_RETRIES", 0),
		RetryDelay:     e.millis("UNITE_HTTP_RETRY_DELAY_MS", 200),
		CacheTTL:       time.Duration(e.int("UNITE_CACHE_TTL_SEC", int(store.DefaultTTL/time.Second))) * time.Second,
		RedisAddr:      e.str("UNITE_REDIS_ADDR", ""),
		RedisPassword:  e.str("UNITE_REDIS_PASSWORD", ""),
		RedisDB:        e.int("UNITE_REDIS_DB", 0),
		RedisTLS:       e.bool("UNITE_REDIS_TLS", false),
		Flags:          featureflag.EnvDefaults(lookup),
		EventsWSURL:    e.str("UNITE_EVENTS_WS_URL", ""),
		KafkaBrokers:   statebus.ParseBrokers(e.str("UNITE_KAFKA_BROKERS", "")),
		KafkaTopic:     e.str("UNITE_KAFKA_TOPIC", statebus.DefaultKafkaTopic),
		KafkaGroupID:   e.str("UNITE_KAFKA_GROUP_ID", statebus.DefaultKafkaGroupID),
		Telemetry:      telemetry.ConfigFromEnv(serviceName, lookup),
	}
}

// BaseURL applies the override > origin > local development order.
func (c Config) BaseURL() string {
	return gateway.ResolveBaseURL(c.APIURL, c.PublicOrigin)
}

// Validate refuses insecure settings in production-like environments.
func (c Config) Validate(serviceName string) error {
	return hardening.ValidateProduction(hardening.Options{
		Service:     serviceName,
		Environment: c.Environment,
		APIURL:      c.BaseURL(),
		RedisAddr:   c.RedisAddr,
		RedisTLS:    c.RedisTLS,
	})
}

func (c Config) Gateway() gateway.Config {
	return gateway.Config{
		BaseURL:    c.APIURL,
		Origin:     c.PublicOrigin,
		SignInPath: c.SignInPath,
		Timeout:    c.RequestTimeout,
		Retries:    c.HTTPRetries,
		RetryDelay: c.RetryDelay,
	}
}

func (c Config) Redis() store.RedisConfig {
	return store.RedisConfig{Addr: c.RedisAddr, Password: c.RedisPassword, DB: c.RedisDB, TLS: c.RedisTLS}
}

func (c Config) Kafka() statebus.KafkaConfig {
	return statebus.KafkaConfig{Brokers: c.KafkaBrokers, Topic: c.KafkaTopic, GroupID: c.KafkaGroupID}
}

type envReader func(string) (string, bool)

func (e envReader) str(k, def string) string {
	if e == nil {
		return def
	}
	if v, ok := e(k); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return def
}

func (e envReader) int(k string, def int) int {
	if v := e.str(k, ""); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func (e envReader) millis(k string, def int) time.Duration {
	return time.Millisecond * time.Duration(e.int(k, def))
}

func (e envReader) bool(k string, def bool) bool {
	if v := e.str(k, ""); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}
