package config

import (
	"os"
	"strconv"
	"time"

	base "github.com/paulinevos/joindin-api/libs/config"
)

type DBConfig struct {
	Host     string
	Port     int
	Name     string
	User     string
	Password string
	SSLMode  string
}

type RateLimitRedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

type RateLimitConfig struct {
	LoginLimit int
	Window     time.Duration
	Redis      RateLimitRedisConfig
}

type SMTPConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	FromEmail    string
	ContactEmail string
	WebBaseURL   string
}

type Config struct {
	App            base.AppConfig
	BcryptCost     int
	AccessTokenTTL time.Duration
	EmailTokenTTL  time.Duration
	ResetTokenTTL  time.Duration
	AutoVerify     bool
	DB             DBConfig
	RateLimit      RateLimitConfig
	SMTP           SMTPConfig
}

func Load() (*Config, error) {
	appCfg, err := base.Load(os.Getenv("JOINDIN_CONFIG"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		App:            *appCfg,
		BcryptCost:     envInt("JOINDIN_BCRYPT_COST", 10),
		AccessTokenTTL: envDuration("JOINDIN_ACCESS_TOKEN_TTL", 24*time.Hour),
		EmailTokenTTL:  envDuration("JOINDIN_EMAIL_TOKEN_TTL", 24*time.Hour),
		ResetTokenTTL:  envDuration("JOINDIN_RESET_TOKEN_TTL", time.Hour),
		AutoVerify:     envBool("JOINDIN_ALLOW_AUTO_VERIFY_USERS", false),
		DB: DBConfig{
			Host:     envString("POSTGRES_HOST", "localhost"),
			Port:     envInt("POSTGRES_PORT", 5432),
			Name:     envString("POSTGRES_DB", "joindin"),
			User:     envString("POSTGRES_USER", "joindin"),
			Password: envString("POSTGRES_PASSWORD", "joindin"),
			SSLMode:  envString("POSTGRES_SSLMODE", "disable"),
		},
		RateLimit: RateLimitConfig{
			LoginLimit: envInt("JOINDIN_LOGIN_RATE_LIMIT", 10),
			Window:     envDuration("JOINDIN_LOGIN_RATE_WINDOW", time.Minute),
			Redis: RateLimitRedisConfig{
				Addr:     envString("JOINDIN_RATE_LIMIT_REDIS_ADDR", ""),
				Password: envString("JOINDIN_RATE_LIMIT_REDIS_PASSWORD", ""),
				DB:       envInt("JOINDIN_RATE_LIMIT_REDIS_DB", 0),
				Prefix:   envString("JOINDIN_RATE_LIMIT_REDIS_PREFIX", "joindin:auth:rl:"),
			},
		},
		SMTP: SMTPConfig{
			Host:         envString("JOINDIN_SMTP_HOST", ""),
			Port:         envInt("JOINDIN_SMTP_PORT", 587),
			User:         envString("JOINDIN_SMTP_USER", ""),
			Password:     envString("JOINDIN_SMTP_PASSWORD", ""),
			FromEmail:    envString("JOINDIN_EMAIL_FROM", "noreply@joind.in"),
			ContactEmail: envString("JOINDIN_EMAIL_CONTACT", "feedback@joind.in"),
			WebBaseURL:   envString("JOINDIN_WEB_BASE_URL", "https://joind.in"),
		},
	}

	return cfg, nil
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
