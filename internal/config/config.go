package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	StoreMemory = "memory"
	StoreFile   = "file"
	StoreRedis  = "redis"
)

// ClientConfig drives cmd/authclient.
type ClientConfig struct {
	APIBaseURL       string
	RequestTimeout   time.Duration
	CredentialStore  string
	CredentialFile   string
	RedisURL         string
	RedisNamespace   string
	RTL              bool
	OTPCooldown      time.Duration
	GoogleClientID   string
	LogLevel         string
	ExpirySkew       time.Duration
	IdentityPollWait time.Duration
}

// ServerConfig drives cmd/stubapi.
type ServerConfig struct {
	ServerPort         string
	ServerReadTimeout  time.Duration
	ServerWriteTimeout time.Duration
	ServerIdleTimeout  time.Duration
	RequestTimeout     time.Duration
	JWTSecret          string
	JWTAccessTTL       time.Duration
	JWTRefreshTTL      time.Duration
	OTPTTL             time.Duration
	FixedOTP           string
	RequireLoginOTP    bool
	CORSOrigins        []string
	RateLimitRPM       int
	AuthRateLimitRPM   int
	DatabaseURL        string
	DBMaxConns         int32
	DBMinConns         int32
}

func LoadClient() (*ClientConfig, error) {
	_ = godotenv.Load()

	cfg := &ClientConfig{
		APIBaseURL:       strings.TrimRight(getEnv("API_BASE_URL", "http://localhost:8080/api/v1"), "/"),
		RequestTimeout:   getDuration("API_REQUEST_TIMEOUT", 15*time.Second),
		CredentialStore:  strings.ToLower(getEnv("CREDENTIAL_STORE", StoreFile)),
		CredentialFile:   getEnv("CREDENTIAL_FILE", "./state/credentials.json"),
		RedisURL:         getEnv("REDIS_URL", "redis://localhost:6379/0"),
		RedisNamespace:   getEnv("REDIS_NAMESPACE", "marketplace:client"),
		RTL:              getBool("UI_RTL", false),
		OTPCooldown:      getDuration("OTP_COOLDOWN", 60*time.Second),
		GoogleClientID:   strings.TrimSpace(os.Getenv("GOOGLE_CLIENT_ID")),
		LogLevel:         strings.ToLower(getEnv("LOG_LEVEL", "info")),
		ExpirySkew:       getDuration("TOKEN_EXPIRY_SKEW", 30*time.Second),
		IdentityPollWait: getDuration("IDENTITY_POLL_WAIT", 100*time.Millisecond),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *ClientConfig) Validate() error {
	if c.APIBaseURL == "" {
		return fmt.Errorf("API_BASE_URL cannot be empty")
	}

	if c.RequestTimeout <= 0 {
		return fmt.Errorf("API_REQUEST_TIMEOUT must be positive")
	}

	switch c.CredentialStore {
	case StoreMemory:
	case StoreFile:
		if strings.TrimSpace(c.CredentialFile) == "" {
			return fmt.Errorf("CREDENTIAL_FILE cannot be empty when CREDENTIAL_STORE=file")
		}
	case StoreRedis:
		if strings.TrimSpace(c.RedisURL) == "" {
			return fmt.Errorf("REDIS_URL cannot be empty when CREDENTIAL_STORE=redis")
		}
	default:
		return fmt.Errorf("CREDENTIAL_STORE must be one of memory, file, redis")
	}

	if c.OTPCooldown < time.Second {
		return fmt.Errorf("OTP_COOLDOWN must be at least 1s")
	}

	return nil
}

func LoadServer() (*ServerConfig, error) {
	_ = godotenv.Load()

	cfg := &ServerConfig{
		ServerPort:         getEnv("SERVER_PORT", "8080"),
		ServerReadTimeout:  getDuration("SERVER_READ_TIMEOUT", 15*time.Second),
		ServerWriteTimeout: getDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
		ServerIdleTimeout:  getDuration("SERVER_IDLE_TIMEOUT", 120*time.Second),
		RequestTimeout:     getDuration("REQUEST_TIMEOUT", 30*time.Second),
		JWTSecret:          strings.TrimSpace(os.Getenv("JWT_SECRET")),
		JWTAccessTTL:       getDuration("JWT_ACCESS_TTL", 15*time.Minute),
		JWTRefreshTTL:      getDuration("JWT_REFRESH_TTL", 168*time.Hour),
		OTPTTL:             getDuration("OTP_TTL", 10*time.Minute),
		FixedOTP:           strings.TrimSpace(os.Getenv("STUB_FIXED_OTP")),
		RequireLoginOTP:    getBool("STUB_REQUIRE_LOGIN_OTP", false),
		CORSOrigins:        splitCSV(getEnv("CORS_ORIGINS", "*")),
		RateLimitRPM:       getInt("RATE_LIMIT_RPM", 100),
		AuthRateLimitRPM:   getInt("AUTH_RATE_LIMIT_RPM", 10),
		DatabaseURL:        strings.TrimSpace(os.Getenv("DATABASE_URL")),
		DBMaxConns:         int32(getInt("DB_MAX_CONNS", 10)),
		DBMinConns:         int32(getInt("DB_MIN_CONNS", 1)),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *ServerConfig) Validate() error {
	if strings.TrimSpace(c.JWTSecret) == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}

	if c.ServerPort == "" {
		return fmt.Errorf("SERVER_PORT cannot be empty")
	}

	if c.RequestTimeout <= 0 {
		return fmt.Errorf("REQUEST_TIMEOUT must be positive")
	}

	if c.JWTAccessTTL <= 0 || c.JWTRefreshTTL <= 0 {
		return fmt.Errorf("JWT_ACCESS_TTL and JWT_REFRESH_TTL must be positive")
	}

	if c.OTPTTL <= 0 {
		return fmt.Errorf("OTP_TTL must be positive")
	}

	if c.FixedOTP != "" && len(c.FixedOTP) != 6 {
		return fmt.Errorf("STUB_FIXED_OTP must be 6 digits")
	}

	if c.DatabaseURL != "" && c.DBMaxConns < c.DBMinConns {
		return fmt.Errorf("DB_MAX_CONNS must be >= DB_MIN_CONNS")
	}

	return nil
}

func getEnv(key string, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}

	return v
}

func getInt(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}

	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}

	return v
}

func getBool(key string, fallback bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}

	v, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}

	return v
}

func getDuration(key string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}

	v, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return v
}

func splitCSV(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		out = append(out, trimmed)
	}

	return out
}
