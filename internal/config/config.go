// Package config loads process settings from the environment. An optional
// .env file in the working directory is read first; real environment
// variables win over it.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	HTTPAddr      string
	GRPCAddr      string
	PGDSN         string
	AutoMigrate   bool
	AuthSecret    string
	SessionTTL    time.Duration
	PublicBaseURL string

	StripeSecretKey     string
	StripeWebhookSecret string
	ServiceFeeCents     int64
	ServiceFeeCurrency  string

	KafkaBrokers []string
	KafkaTopic   string

	SuperAdminEmail    string
	SuperAdminPassword string

	RateBurst  int
	RatePerSec float64
}

// StripeEnabled reports whether checkout can reach the provider.
func (c Config) StripeEnabled() bool {
	return c.StripeSecretKey != "" && c.StripeWebhookSecret != ""
}

// Load reads .env (when present) and then the environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	return FromLookup(os.LookupEnv)
}

// FromLookup builds a Config from an arbitrary variable source.
func FromLookup(lookup func(string) (string, bool)) (Config, error) {
	get := func(key, def string) string {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
		return def
	}

	cfg := Config{
		HTTPAddr:            get("ETIAS_HTTP_ADDR", ":8080"),
		GRPCAddr:            get("ETIAS_GRPC_ADDR", ":9090"),
		PGDSN:               get("ETIAS_PG_DSN", ""),
		AuthSecret:          get("ETIAS_AUTH_SECRET", ""),
		PublicBaseURL:       strings.TrimRight(get("ETIAS_PUBLIC_BASE_URL", "http://localhost:3000"), "/"),
		StripeSecretKey:     get("STRIPE_SECRET_KEY", ""),
		StripeWebhookSecret: get("STRIPE_WEBHOOK_SECRET", ""),
		ServiceFeeCurrency:  strings.ToLower(get("ETIAS_SERVICE_FEE_CURRENCY", "eur")),
		KafkaTopic:          get("ETIAS_KAFKA_TOPIC", "etias.notifications"),
		SuperAdminEmail:     get("ETIAS_SUPERADMIN_EMAIL", ""),
		SuperAdminPassword:  get("ETIAS_SUPERADMIN_PASSWORD", ""),
	}

	var errs []error
	var err error
	if cfg.AutoMigrate, err = strconv.ParseBool(get("ETIAS_AUTO_MIGRATE", "true")); err != nil {
		errs = append(errs, fmt.Errorf("ETIAS_AUTO_MIGRATE: %w", err))
	}
	if cfg.SessionTTL, err = time.ParseDuration(get("ETIAS_SESSION_TTL", "168h")); err != nil {
		errs = append(errs, fmt.Errorf("ETIAS_SESSION_TTL: %w", err))
	} else if cfg.SessionTTL <= 0 {
		errs = append(errs, errors.New("ETIAS_SESSION_TTL: must be positive"))
	}
	if cfg.ServiceFeeCents, err = strconv.ParseInt(get("ETIAS_SERVICE_FEE_CENTS", "1900"), 10, 64); err != nil {
		errs = append(errs, fmt.Errorf("ETIAS_SERVICE_FEE_CENTS: %w", err))
	} else if cfg.ServiceFeeCents <= 0 {
		errs = append(errs, errors.New("ETIAS_SERVICE_FEE_CENTS: must be positive"))
	}
	if len(cfg.ServiceFeeCurrency) != 3 {
		errs = append(errs, fmt.Errorf("ETIAS_SERVICE_FEE_CURRENCY: %q is not a 3-letter code", cfg.ServiceFeeCurrency))
	}
	if cfg.RateBurst, err = strconv.Atoi(get("ETIAS_RATE_BURST", "60")); err != nil {
		errs = append(errs, fmt.Errorf("ETIAS_RATE_BURST: %w", err))
	}
	if cfg.RatePerSec, err = strconv.ParseFloat(get("ETIAS_RATE_PER_SEC", "20"), 64); err != nil {
		errs = append(errs, fmt.Errorf("ETIAS_RATE_PER_SEC: %w", err))
	}
	if u, perr := url.Parse(cfg.PublicBaseURL); perr != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("ETIAS_PUBLIC_BASE_URL: %q is not an absolute URL", cfg.PublicBaseURL))
	}
	if cfg.AuthSecret == "" {
		errs = append(errs, errors.New("ETIAS_AUTH_SECRET is required"))
	}
	if (cfg.SuperAdminEmail == "") != (cfg.SuperAdminPassword == "") {
		errs = append(errs, errors.New("ETIAS_SUPERADMIN_EMAIL and ETIAS_SUPERADMIN_PASSWORD must be set together"))
	}

	for _, b := range strings.Split(get("ETIAS_KAFKA_BROKERS", ""), ",") {
		if b = strings.TrimSpace(b); b != "" {
			cfg.KafkaBrokers = append(cfg.KafkaBrokers, b)
		}
	}

	if len(errs) > 0 {
		return Config{}, errors.Join(errs...)
	}
	return cfg, nil
}
