package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Anonymous identity modes.
const (
	AnonIdentityAddress = "address"
	AnonIdentityToken   = "token"
)

// Config holds everything the server reads from the environment.
type Config struct {
	Port           string
	DatabaseURL    string
	AppURL         string
	CORSOrigin     string
	TrustedProxies []string
	LogLevel       string

	AuthJWTSecret    string
	VoterTokenSecret string
	AddressHashSalt  string
	AnonIdentity     string
	AnonDedupe       bool
	AdminToken       string

	RedisURL string

	ReconcileInterval time.Duration

	// Requests per second and burst for write endpoints, per client IP.
	RateLimitRPS   float64
	RateLimitBurst int
}

// Load reads the configuration from environment variables. Call
// godotenv.Load before this if a .env file should be honoured.
func Load() (Config, error) {
	cfg := Config{
		Port:             getenv("PORT", "8080"),
		DatabaseURL:      getenv("DATABASE_URL", "sqlite://pollwave.db"),
		AppURL:           strings.TrimRight(getenv("APP_URL", "http://localhost:8080"), "/"),
		CORSOrigin:       getenv("CORS_ORIGIN", "*"),
		LogLevel:         getenv("LOG_LEVEL", "info"),
		AuthJWTSecret:    os.Getenv("AUTH_JWT_SECRET"),
		VoterTokenSecret: os.Getenv("VOTER_TOKEN_SECRET"),
		AddressHashSalt:  os.Getenv("ADDRESS_HASH_SALT"),
		AnonIdentity:     getenv("ANON_IDENTITY", AnonIdentityAddress),
		AdminToken:       os.Getenv("X_ADMIN_TOKEN"),
		RedisURL:         os.Getenv("REDIS_URL"),
	}

	if proxies := os.Getenv("TRUSTED_PROXIES"); proxies != "" {
		for _, p := range strings.Split(proxies, ",") {
			if p = strings.TrimSpace(p); p != "" {
				cfg.TrustedProxies = append(cfg.TrustedProxies, p)
			}
		}
	}

	var err error
	if cfg.AnonDedupe, err = strconv.ParseBool(getenv("ANON_DEDUPE", "true")); err != nil {
		return Config{}, errors.New("invalid ANON_DEDUPE env variable")
	}
	if cfg.ReconcileInterval, err = time.ParseDuration(getenv("ANALYTICS_RECONCILE_INTERVAL", "5m")); err != nil {
		return Config{}, errors.New("invalid ANALYTICS_RECONCILE_INTERVAL env variable")
	}
	if cfg.RateLimitRPS, err = strconv.ParseFloat(getenv("RATE_LIMIT_RPS", "0.5"), 64); err != nil {
		return Config{}, errors.New("invalid RATE_LIMIT_RPS env variable")
	}
	if cfg.RateLimitBurst, err = strconv.Atoi(getenv("RATE_LIMIT_BURST", "5")); err != nil {
		return Config{}, errors.New("invalid RATE_LIMIT_BURST env variable")
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the combinations that cannot be expressed by defaults.
func (c Config) Validate() error {
	if c.AuthJWTSecret == "" {
		return errors.New("AUTH_JWT_SECRET required")
	}
	switch c.AnonIdentity {
	case AnonIdentityAddress:
		if c.AddressHashSalt == "" {
			return errors.New("ADDRESS_HASH_SALT required when ANON_IDENTITY=address")
		}
	case AnonIdentityToken:
		if c.VoterTokenSecret == "" {
			return errors.New("VOTER_TOKEN_SECRET required when ANON_IDENTITY=token")
		}
	default:
		return fmt.Errorf("invalid ANON_IDENTITY %q (want address or token)", c.AnonIdentity)
	}
	if c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0 {
		return errors.New("rate limit settings must be positive")
	}
	return nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
