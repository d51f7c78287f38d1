// Package config provides configuration management for the cnpool stratum core.
// It handles loading configuration from environment variables with sensible defaults.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// PortConfig describes one stratum listen port and its difficulty policy.
type PortConfig struct {
	Port       int
	MinDiff    uint64
	MaxDiff    uint64
	TargetTime time.Duration // desired seconds between shares
	Variance   float64       // allowed rate deviation before retarget
}

// Config holds the global configuration for cnpool services
type Config struct {
	// Service identification
	ServiceName string
	Version     string
	Environment string

	// Network configuration
	ListenAddr  string
	Ports       []PortConfig
	TLSCertFile string
	TLSKeyFile  string

	// Daemon connection
	DaemonRPCURL     string
	DaemonZMQAddr    string
	DaemonZMQTopic   string
	DaemonWSURL      string
	DaemonRPCTimeout time.Duration

	// Template pipeline
	PoolWalletAddress string
	ReserveSize       uint
	PollInterval      time.Duration
	RefreshInterval   time.Duration

	// Coin parameters
	CoinFamily       string
	AddressPrefixes  []string
	AddressMinLen    int
	AddressMaxLen    int
	PaymentIDHexLen  int
	BlobNonceOffset  int
	MinTemplateBytes int

	// Kafka configuration
	KafkaBrokers []string
	KafkaGroupID string

	// Redis (ban store)
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Influx (telemetry)
	InfluxURL    string
	InfluxToken  string
	InfluxOrg    string
	InfluxBucket string

	// Session policy
	ConnectionTimeout time.Duration
	WriteTimeout      time.Duration
	MaxShareAge       time.Duration
	BroadcastDeadline time.Duration
	MaxMessageSize    int

	// Vardiff
	VardiffWindowSize      int
	VardiffRetargetMinimum time.Duration

	// Banning
	BanningEnabled    bool
	BanCheckThreshold int
	BanInvalidPercent float64
	BanDuration       time.Duration

	// Performance tuning
	MaxConnections int
	HashWorkers    int

	// Logging
	LogLevel  string
	LogFormat string
}

// Load loads configuration from environment variables with sensible defaults
func Load() (*Config, error) {
	ports, err := parsePortTable(getEnv("STRATUM_PORTS", "3333:1000:8000000000:10s:0.3"))
	if err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	cfg := &Config{
		// Service defaults
		ServiceName: getEnv("SERVICE_NAME", "cnpool"),
		Version:     getEnv("VERSION", "dev"),
		Environment: getEnv("ENVIRONMENT", "development"),

		// Network defaults
		ListenAddr:  getEnv("LISTEN_ADDR", "0.0.0.0"),
		Ports:       ports,
		TLSCertFile: getEnv("TLS_CERT_FILE", ""),
		TLSKeyFile:  getEnv("TLS_KEY_FILE", ""),

		// Daemon defaults
		DaemonRPCURL:     getEnv("DAEMON_RPC_URL", "http://localhost:18081"),
		DaemonZMQAddr:    getEnv("DAEMON_ZMQ_ADDR", ""),
		DaemonZMQTopic:   getEnv("DAEMON_ZMQ_TOPIC", "json-minimal-chain_main"),
		DaemonWSURL:      getEnv("DAEMON_WS_URL", ""),
		DaemonRPCTimeout: getEnvDuration("DAEMON_RPC_TIMEOUT", 10*time.Second),

		// Template defaults
		PoolWalletAddress: getEnv("POOL_WALLET_ADDRESS", ""),
		ReserveSize:       uint(getEnvInt("RESERVE_SIZE", 16)),
		PollInterval:      getEnvDuration("POLL_INTERVAL", 1*time.Second),
		RefreshInterval:   getEnvDuration("REFRESH_INTERVAL", 15*time.Second),

		// Coin defaults (Monero mainnet shape)
		CoinFamily:       getEnv("COIN_FAMILY", "cn"),
		AddressPrefixes:  getEnvSlice("ADDRESS_PREFIXES", []string{"4", "8"}),
		AddressMinLen:    getEnvInt("ADDRESS_MIN_LEN", 95),
		AddressMaxLen:    getEnvInt("ADDRESS_MAX_LEN", 106),
		PaymentIDHexLen:  getEnvInt("PAYMENT_ID_HEX_LEN", 16),
		BlobNonceOffset:  getEnvInt("BLOB_NONCE_OFFSET", 39),
		MinTemplateBytes: getEnvInt("MIN_TEMPLATE_BYTES", 43),

		// Kafka defaults
		KafkaBrokers: getEnvSlice("KAFKA_BROKERS", []string{"localhost:9092"}),
		KafkaGroupID: getEnv("KAFKA_GROUP_ID", "cnpool"),

		// Redis defaults
		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		// Influx defaults
		InfluxURL:    getEnv("INFLUX_URL", ""),
		InfluxToken:  getEnv("INFLUX_TOKEN", ""),
		InfluxOrg:    getEnv("INFLUX_ORG", "cnpool"),
		InfluxBucket: getEnv("INFLUX_BUCKET", "mining"),

		// Session defaults
		ConnectionTimeout: getEnvDuration("CONNECTION_TIMEOUT", 10*time.Minute),
		WriteTimeout:      getEnvDuration("WRITE_TIMEOUT", 30*time.Second),
		MaxShareAge:       getEnvDuration("MAX_SHARE_AGE", 6*time.Second),
		BroadcastDeadline: getEnvDuration("BROADCAST_DEADLINE", 2*time.Second),
		MaxMessageSize:    getEnvInt("MAX_MESSAGE_SIZE", 65536),

		// Vardiff defaults
		VardiffWindowSize:      getEnvInt("VARDIFF_WINDOW_SIZE", 50),
		VardiffRetargetMinimum: getEnvDuration("VARDIFF_RETARGET_MINIMUM", 30*time.Second),

		// Banning defaults
		BanningEnabled:    getEnvBool("BANNING_ENABLED", true),
		BanCheckThreshold: getEnvInt("BAN_CHECK_THRESHOLD", 30),
		BanInvalidPercent: getEnvFloat("BAN_INVALID_PERCENT", 50.0),
		BanDuration:       getEnvDuration("BAN_DURATION", 10*time.Minute),

		// Performance defaults
		MaxConnections: getEnvInt("MAX_CONNECTIONS", 10000),
		HashWorkers:    getEnvInt("HASH_WORKERS", 0), // 0 = runtime.NumCPU

		// Logging defaults
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// PortFor returns the policy for a listen port, falling back to the first
// configured port when the port is unknown.
func (c *Config) PortFor(port int) PortConfig {
	for _, p := range c.Ports {
		if p.Port == port {
			return p
		}
	}
	return c.Ports[0]
}

// parsePortTable parses "port:minDiff:maxDiff:targetTime:variance" entries
// separated by commas.
func parsePortTable(raw string) ([]PortConfig, error) {
	var ports []PortConfig
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		parts := strings.Split(entry, ":")
		if len(parts) != 5 {
			return nil, fmt.Errorf("port entry %q must have 5 fields", entry)
		}

		port, err := strconv.Atoi(parts[0])
		if err != nil {
			return nil, fmt.Errorf("port entry %q: bad port: %w", entry, err)
		}
		minDiff, err := strconv.ParseUint(parts[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("port entry %q: bad min diff: %w", entry, err)
		}
		maxDiff, err := strconv.ParseUint(parts[2], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("port entry %q: bad max diff: %w", entry, err)
		}
		targetTime, err := time.ParseDuration(parts[3])
		if err != nil {
			return nil, fmt.Errorf("port entry %q: bad target time: %w", entry, err)
		}
		variance, err := strconv.ParseFloat(parts[4], 64)
		if err != nil {
			return nil, fmt.Errorf("port entry %q: bad variance: %w", entry, err)
		}

		ports = append(ports, PortConfig{
			Port:       port,
			MinDiff:    minDiff,
			MaxDiff:    maxDiff,
			TargetTime: targetTime,
			Variance:   variance,
		})
	}

	if len(ports) == 0 {
		return nil, fmt.Errorf("no stratum ports configured")
	}

	return ports, nil
}

// validate performs basic validation of configuration values
func (c *Config) validate() error {
	if c.ServiceName == "" {
		return fmt.Errorf("SERVICE_NAME cannot be empty")
	}

	for _, p := range c.Ports {
		if p.Port <= 0 || p.Port > 65535 {
			return fmt.Errorf("stratum port must be between 1 and 65535")
		}
		if p.MinDiff == 0 {
			return fmt.Errorf("port %d: min difficulty must be positive", p.Port)
		}
		if p.MaxDiff <= p.MinDiff {
			return fmt.Errorf("port %d: max difficulty must be greater than min difficulty", p.Port)
		}
		if p.TargetTime <= 0 {
			return fmt.Errorf("port %d: target time must be positive", p.Port)
		}
		if p.Variance <= 0 || p.Variance >= 1 {
			return fmt.Errorf("port %d: variance must be in (0, 1)", p.Port)
		}
	}

	if c.ReserveSize < 8 {
		return fmt.Errorf("RESERVE_SIZE must be at least 8 to fit both nonce slots")
	}

	if c.PollInterval <= 0 {
		return fmt.Errorf("POLL_INTERVAL must be positive")
	}

	if c.MaxShareAge <= 0 {
		return fmt.Errorf("MAX_SHARE_AGE must be positive")
	}

	if c.BlobNonceOffset <= 0 {
		return fmt.Errorf("BLOB_NONCE_OFFSET must be positive")
	}

	if c.BanInvalidPercent < 0 || c.BanInvalidPercent > 100 {
		return fmt.Errorf("BAN_INVALID_PERCENT must be between 0 and 100")
	}

	return nil
}

// Helper functions for environment variable parsing

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return defaultValue
}
