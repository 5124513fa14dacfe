package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Store backends.
const (
	StoreRedis  = "redis"
	StoreMemory = "memory"
)

const redacted = "***REDACTED***"

type Config struct {
	ListenPort      string        // ex: ":8080"
	ShutdownTimeout time.Duration // ex: 5s

	LogLevel  string // "debug" | "info" | "warn" | "error"
	PrettyLog bool   // true => zap dev (color), false => zap prod (JSON)

	Endpoint      string        // path of the connector endpoint (default: /connector)
	Store         string        // "redis" | "memory"
	StorageKey    string        // key encrypting secrets at rest (required for redis)
	ClientTimeout time.Duration // timeout of outbound signed requests (default: 10s)

	// Redis
	RedisAddr             string        // ex: "localhost:6379"
	RedisUser             string        // optional
	RedisPassword         string        // optional
	RedisPasswordRequired bool          // true => require password, false => allow empty password
	RedisDB               int           // Redis DB number
	RedisDT               time.Duration // Redis dial timeout (ex: 5s)
	RedisRT               time.Duration // Redis read timeout (ex: 3s)
	RedisWT               time.Duration // Redis write timeout (ex: 3s)
	RedisMaxWait          time.Duration // max wait between retries (ex: 10s)
	RedisPingTimeout      time.Duration // timeout for each ping attempt (ex: 5s)
	RedisPoolSize         int           // Redis connection pool size
	RedisConnectTimeout   time.Duration // Total time to retry connecting (ex: 30s)
	RedisRetryInterval    time.Duration // Initial wait between retries (ex: 2s, grows exponentially)
	RedisWarnThreshold    int           // warn after this many attempts

	AllowedHosts []string // optional, restrict the connector and peer endpoints to specific Host headers
	AllowedCIDRS []string // optional, restrict health endpoints to specific IPs/CIDRs
	TrustProxy   bool     // true => trust X-Forwarded-For headers (e.g. cloudflared)

	// Rate limiting of the connector endpoint
	RateBurst     int // tokens per client IP
	RateRefillMin int // tokens refilled per minute
}

func Load() *Config {
	cfg := &Config{
		// Server settings
		ListenPort:      getenv("REALMLINK_LISTEN_PORT", ":8080"),
		ShutdownTimeout: mustDuration("REALMLINK_SHUTDOWN_TIMEOUT", 5*time.Second),

		// Logging
		LogLevel:  getenv("REALMLINK_LOG_LEVEL", "info"),
		PrettyLog: mustBool("REALMLINK_PRETTY_LOG", false),

		// Registry
		Endpoint:      getenv("REALMLINK_ENDPOINT", "/connector"),
		Store:         strings.ToLower(getenv("REALMLINK_STORE", StoreRedis)),
		ClientTimeout: mustDuration("REALMLINK_CLIENT_TIMEOUT", 10*time.Second),

		// Access restrictions
		AllowedHosts: splitAndTrim(getenv("REALMLINK_ALLOWED_HOSTS", "")),
		AllowedCIDRS: parseAllowedIPs(getenv("REALMLINK_ALLOWED_CIDRS", "")),
		TrustProxy:   mustBool("REALMLINK_TRUST_PROXY", false),

		RateBurst:     getenvInt("REALMLINK_RATE_BURST", 20),
		RateRefillMin: getenvInt("REALMLINK_RATE_PER_MIN", 60),
	}

	switch cfg.Store {
	case StoreMemory:
	case StoreRedis:
		cfg.StorageKey = requireEnv("REALMLINK_STORAGE_KEY")

		cfg.RedisAddr = requireEnv("REALMLINK_REDIS_ADDR")
		cfg.RedisUser = getenv("REALMLINK_REDIS_USERNAME", "default")
		cfg.RedisPasswordRequired = mustBool("REALMLINK_REDIS_PASSWORD_REQUIRED", true)
		cfg.RedisPassword = getenv("REALMLINK_REDIS_PASSWORD", "")
		cfg.RedisDB = getenvInt("REALMLINK_REDIS_DB", 0)
		cfg.RedisDT = mustDuration("REALMLINK_REDIS_DIAL_TIMEOUT", 5*time.Second)
		cfg.RedisRT = mustDuration("REALMLINK_REDIS_READ_TIMEOUT", 3*time.Second)
		cfg.RedisWT = mustDuration("REALMLINK_REDIS_WRITE_TIMEOUT", 3*time.Second)
		cfg.RedisMaxWait = mustDuration("REALMLINK_REDIS_MAX_WAIT", 10*time.Second)
		cfg.RedisPingTimeout = mustDuration("REALMLINK_REDIS_PING_TIMEOUT", 5*time.Second)
		cfg.RedisPoolSize = getenvInt("REALMLINK_REDIS_POOL_SIZE", 10)
		cfg.RedisConnectTimeout = mustDuration("REALMLINK_REDIS_CONNECT_TIMEOUT", 30*time.Second)
		cfg.RedisRetryInterval = mustDuration("REALMLINK_REDIS_RETRY_INTERVAL", 2*time.Second)
		cfg.RedisWarnThreshold = getenvInt("REALMLINK_REDIS_WARN_THRESHOLD", 3)

		// Validate Redis password configuration
		if cfg.RedisPasswordRequired && cfg.RedisPassword == "" {
			panic("❌ FATAL: REALMLINK_REDIS_PASSWORD is required when REALMLINK_REDIS_PASSWORD_REQUIRED=true")
		}
	default:
		panic(fmt.Sprintf("❌ FATAL: Unknown REALMLINK_STORE %q (want %q or %q)", cfg.Store, StoreRedis, StoreMemory))
	}

	if !strings.HasPrefix(cfg.Endpoint, "/") {
		cfg.Endpoint = "/" + cfg.Endpoint
	}

	return cfg
}

// Redacted returns a copy safe to log.
func (c *Config) Redacted() Config {
	cp := *c
	if cp.RedisPassword != "" {
		cp.RedisPassword = redacted
	}
	if cp.RedisUser != "" {
		cp.RedisUser = redacted
	}
	if cp.StorageKey != "" {
		cp.StorageKey = redacted
	}
	return cp
}

// helpers
func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func requireEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		panic(fmt.Sprintf("❌ FATAL: Required environment variable %s is not set", key))
	}
	return v
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func mustBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return def
}

func mustDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func parseAllowedIPs(allowed string) []string {
	if allowed == "" {
		return nil
	}
	ips := make([]string, 0, 4)
	for _, ip := range splitAndTrim(allowed) {
		if ip != "" {
			ips = append(ips, ip)
		}
	}
	return ips
}

func splitAndTrim(s string) []string {
	if s == "" {
		return nil
	}
	raw := strings.Split(s, ",")
	parts := make([]string, 0, len(raw))
	for _, part := range raw {
		trimmed := strings.TrimSpace(part)
		// Remove surrounding quotes if present
		trimmed = strings.Trim(trimmed, `"'`)
		if trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}
