package config

import (
	"errors"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Env string

const (
	EnvDevelopment Env = "development"
	EnvProduction  Env = "production"
)

type Config struct {
	Env       Env
	Server    ServerConfig
	Database  DatabaseConfig
	JWT       JWTConfig
	Email     EmailConfig
	RateLimit RateLimitConfig
}

type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	BodyLimit    int64
	// TrustProxy lets X-Forwarded-For and X-Real-IP replace the socket
	// address. Only enable it behind a proxy that overwrites those headers.
	TrustProxy bool
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Database     string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

type JWTConfig struct {
	Secret          string
	ExpiresIn       time.Duration
	CookieExpiresIn time.Duration
}

type EmailConfig struct {
	AWSRegion string
	FromEmail string
	FromName  string
}

type RateLimitConfig struct {
	Max    int
	Window time.Duration
}

// Load reads config.env (when present) and then the process environment.
// Variables already set in the environment win over the file.
func Load() *Config {
	return LoadFile(getEnv("CONFIG_FILE", "config.env"))
}

func LoadFile(path string) *Config {
	_ = godotenv.Load(path)

	return &Config{
		Env: parseEnv(getEnv("APP_ENV", string(EnvProduction))),
		Server: ServerConfig{
			Host:         getEnv("SERVER_HOST", "0.0.0.0"),
			Port:         getEnvAsInt("PORT", 3000),
			ReadTimeout:  time.Duration(getEnvAsInt("SERVER_READ_TIMEOUT", 30)) * time.Second,
			WriteTimeout: time.Duration(getEnvAsInt("SERVER_WRITE_TIMEOUT", 30)) * time.Second,
			BodyLimit:    int64(getEnvAsInt("SERVER_BODY_LIMIT", 10*1024)),
			TrustProxy:   getEnvAsBool("TRUST_PROXY", false),
		},
		Database: DatabaseConfig{
			Host:         getEnv("DB_HOST", "localhost"),
			Port:         getEnvAsInt("DB_PORT", 5432),
			User:         getEnv("DB_USER", "postgres"),
			Password:     getEnv("DB_PASSWORD", "postgres"),
			Database:     getEnv("DB_NAME", "natours"),
			SSLMode:      getEnv("DB_SSL_MODE", "disable"),
			MaxOpenConns: getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns: getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
		},
		JWT: JWTConfig{
			Secret:          getEnv("JWT_SECRET", ""),
			ExpiresIn:       getEnvAsDuration("JWT_EXPIRES_IN", 90*24*time.Hour),
			CookieExpiresIn: time.Duration(getEnvAsInt("JWT_COOKIE_EXPIRES_IN", 90)) * 24 * time.Hour,
		},
		Email: EmailConfig{
			AWSRegion: getEnv("AWS_REGION", "us-east-1"),
			FromEmail: getEnv("EMAIL_FROM", ""),
			FromName:  getEnv("EMAIL_FROM_NAME", "Natours"),
		},
		RateLimit: RateLimitConfig{
			Max:    getEnvAsInt("RATE_LIMIT_MAX", 100),
			Window: getEnvAsDuration("RATE_LIMIT_WINDOW", time.Hour),
		},
	}
}

// devJWTSecret signs tokens in development when JWT_SECRET is unset.
const devJWTSecret = "natours-development-secret"

var ErrMissingJWTSecret = errors.New("JWT_SECRET must be set in production")

// Validate rejects configurations the server must not start with. In
// development an empty JWT secret is replaced with a fixed local one.
func (c *Config) Validate() error {
	if c.JWT.Secret == "" {
		if !c.IsDevelopment() {
			return ErrMissingJWTSecret
		}
		c.JWT.Secret = devJWTSecret
	}
	return nil
}

func (c *Config) IsDevelopment() bool {
	return c.Env == EnvDevelopment
}

func (c *DatabaseConfig) DSN() string {
	return "host=" + c.Host +
		" port=" + strconv.Itoa(c.Port) +
		" user=" + c.User +
		" password=" + c.Password +
		" dbname=" + c.Database +
		" sslmode=" + c.SSLMode
}

func parseEnv(value string) Env {
	if Env(value) == EnvDevelopment {
		return EnvDevelopment
	}
	return EnvProduction
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
