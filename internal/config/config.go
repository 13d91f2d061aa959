package config

import (
	"net"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	HTTPAddr        string
	HTTPSAddr       string
	TLSSelfSigned   bool
	ShutdownTimeout time.Duration

	DBDriver         string
	SQLitePath       string
	PostgresUser     string
	PostgresPassword string
	PostgresHost     string
	PostgresPort     string
	PostgresDatabase string
	PostgresSSLMode  string

	StorageBackend string
	S3Region       string
	S3Endpoint     string
	S3AccessKey    string
	S3SecretKey    string
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioSecure    bool

	AllowedBuckets     []string
	RequireOwnerPrefix bool

	GeoIPDBPath       string
	GeoIPHTTPEndpoint string
	GeoIPTimeout      time.Duration

	// Forwarding headers are honored only from these peers.
	TrustedProxies []*net.IPNet

	JWTSecret         string
	RateLimit         int
	RateLimitWindow   time.Duration
	RequestLogPersist bool
	LogLevel          string
}

func Load() *Config {
	cfg := &Config{
		HTTPAddr:        getEnv("HTTP_ADDR", ":8080"),
		HTTPSAddr:       getEnv("HTTPS_ADDR", ":8443"),
		TLSSelfSigned:   getEnvBool("TLS_SELF_SIGNED", false),
		ShutdownTimeout: getEnvDuration("SHUTDOWN_TIMEOUT", 10*time.Second),

		DBDriver:         getEnv("DB_DRIVER", "postgres"),
		SQLitePath:       getEnv("SQLITE_PATH", "sharelink.db"),
		PostgresUser:     getEnv("POSTGRES_USER", "sharelink"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", "password"),
		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresDatabase: getEnv("POSTGRES_DATABASE", "sharelink"),
		PostgresSSLMode:  getEnv("POSTGRES_SSL_MODE", "disable"),

		StorageBackend: getEnv("STORAGE_BACKEND", "s3"),
		S3Region:       getEnv("AWS_REGION", "us-east-1"),
		S3Endpoint:     getEnv("S3_ENDPOINT", ""),
		S3AccessKey:    getEnv("AWS_ACCESS_KEY_ID", ""),
		S3SecretKey:    getEnv("AWS_SECRET_ACCESS_KEY", ""),
		MinioEndpoint:  getEnv("MINIO_ENDPOINT", "localhost:9000"),
		MinioAccessKey: getEnv("MINIO_ACCESS_KEY", ""),
		MinioSecretKey: getEnv("MINIO_SECRET_KEY", ""),
		MinioSecure:    getEnvBool("MINIO_SECURE", false),

		AllowedBuckets:     getEnvList("SHARE_ALLOWED_BUCKETS"),
		RequireOwnerPrefix: getEnvBool("SHARE_REQUIRE_OWNER_PREFIX", true),

		GeoIPDBPath:       getEnv("GEOIP_DB_PATH", ""),
		GeoIPHTTPEndpoint: getEnv("GEOIP_HTTP_ENDPOINT", ""),
		GeoIPTimeout:      getEnvDuration("GEOIP_TIMEOUT", 500*time.Millisecond),

		TrustedProxies: getEnvCIDRs("TRUSTED_PROXIES"),

		JWTSecret:         mustGetEnv("JWT_SECRET"),
		RateLimit:         getEnvInt("RATE_LIMIT", 60),
		RateLimitWindow:   getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
		RequestLogPersist: getEnvBool("REQUEST_LOG_PERSIST", true),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
	}

	switch cfg.StorageBackend {
	case "s3":
		if cfg.S3AccessKey == "" || cfg.S3SecretKey == "" {
			panic("AWS credentials must be provided")
		}
	case "minio":
		if cfg.MinioAccessKey == "" || cfg.MinioSecretKey == "" {
			panic("MinIO credentials must be provided")
		}
	default:
		panic("Unsupported storage backend: " + cfg.StorageBackend)
	}

	if cfg.DBDriver != "postgres" && cfg.DBDriver != "sqlite" {
		panic("Unsupported database driver: " + cfg.DBDriver)
	}

	return cfg
}

// BucketAllowed reports whether links may be issued for objects in bucket.
// An empty allow-list permits every bucket.
func (c *Config) BucketAllowed(bucket string) bool {
	if len(c.AllowedBuckets) == 0 {
		return true
	}
	for _, b := range c.AllowedBuckets {
		if b == bucket {
			return true
		}
	}
	return false
}

func mustGetEnv(key string) string {
	value := os.Getenv(key)
	if value == "" {
		panic("Missing required environment variable: " + key)
	}
	return value
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// getEnvCIDRs parses a comma-separated list of CIDRs. A bare address is
// taken as a single-host network.
func getEnvCIDRs(key string) []*net.IPNet {
	var nets []*net.IPNet
	for _, entry := range getEnvList(key) {
		if !strings.Contains(entry, "/") {
			ip := net.ParseIP(entry)
			if ip == nil {
				panic("Invalid address in " + key + ": " + entry)
			}
			bits := 128
			if ip.To4() != nil {
				ip = ip.To4()
				bits = 32
			}
			nets = append(nets, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
			continue
		}
		_, ipNet, err := net.ParseCIDR(entry)
		if err != nil {
			panic("Invalid CIDR in " + key + ": " + entry)
		}
		nets = append(nets, ipNet)
	}
	return nets
}
