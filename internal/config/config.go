// Package config provides configuration management for the registry mirror.
// It loads configuration from environment variables and .env files.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/registry-mirror/internal/types"
)

// Config holds all application configuration
type Config struct {
	Chains   ChainsConfig
	Sync     SyncConfig
	Resolver ResolverConfig
	Store    StoreConfig
	Daemon   DaemonConfig
	Logging  LoggingConfig
}

// ChainsConfig holds chain configuration
type ChainsConfig struct {
	Enabled []types.ChainID
	Chains  map[types.ChainID]ChainConfig
}

// ChainConfig holds configuration for a specific chain
type ChainConfig struct {
	// RPCEndpoints is the ordered list of RPC URLs; the first is the primary.
	RPCEndpoints []string
	// RegistryContract is the identity registry contract address.
	RegistryContract string
	// ScanChunkSize is the log query window size, tuned per chain's
	// eth_getLogs limits (denser chains need smaller windows).
	ScanChunkSize uint64
	// ScanFloorBlock is the earliest block worth scanning (contract deploy).
	ScanFloorBlock uint64
	// RequestsPerSecond throttles RPC calls against provider rate limits.
	RequestsPerSecond float64
	// CallTimeout bounds each individual RPC call.
	CallTimeout time.Duration
}

// SyncConfig holds sync run configuration
type SyncConfig struct {
	FetchConcurrency int           // Agents fetched per batch (default: 10)
	Deadline         time.Duration // Wall-clock budget for a run (default: 8m)
	ForceRefresh     bool          // Bypass checkpoints and existing-id skip
	CheckpointEvery  int           // Scan windows between checkpoint saves (default: 100)
}

// ResolverConfig holds metadata resolution configuration
type ResolverConfig struct {
	HTTPTimeout    time.Duration // Timeout for plain http(s) metadata fetches
	GatewayTimeout time.Duration // Per-gateway timeout for the IPFS race
	IPFSGateways   []string
}

// StoreConfig holds persistence configuration
type StoreConfig struct {
	DataDir string
}

// DaemonConfig holds daemon mode configuration
type DaemonConfig struct {
	PollInterval time.Duration
	StatusHost   string
	StatusPort   string
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string
}

// Default chunk sizes, tuned empirically against provider log-query limits.
const (
	defaultEthereumChunk = 5000
	defaultBaseChunk     = 2000
)

// LoadConfig loads configuration from .env file and environment variables
func LoadConfig() (*Config, error) {
	// Load .env file (optional in production)
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	config := &Config{
		Sync: SyncConfig{
			FetchConcurrency: getEnvAsInt("SYNC_FETCH_CONCURRENCY", 10),
			Deadline:         getEnvAsDuration("SYNC_DEADLINE", 8*time.Minute),
			ForceRefresh:     getEnvAsBool("SYNC_FORCE_REFRESH", false),
			CheckpointEvery:  getEnvAsInt("SYNC_CHECKPOINT_EVERY", 100),
		},
		Resolver: ResolverConfig{
			HTTPTimeout:    getEnvAsDuration("RESOLVER_HTTP_TIMEOUT", 10*time.Second),
			GatewayTimeout: getEnvAsDuration("RESOLVER_GATEWAY_TIMEOUT", 15*time.Second),
			IPFSGateways: getEnvAsList("RESOLVER_IPFS_GATEWAYS",
				"https://ipfs.io/ipfs/,https://cloudflare-ipfs.com/ipfs/,https://gateway.pinata.cloud/ipfs/"),
		},
		Store: StoreConfig{
			DataDir: getEnv("DATA_DIR", "data/agents"),
		},
		Daemon: DaemonConfig{
			PollInterval: getEnvAsDuration("DAEMON_POLL_INTERVAL", 10*time.Minute),
			StatusHost:   getEnv("STATUS_HOST", "0.0.0.0"),
			StatusPort:   getEnv("STATUS_PORT", "8080"),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	config.Chains = loadChainConfigs()

	if err := validate(config); err != nil {
		return nil, err
	}

	return config, nil
}

// loadChainConfigs loads chain-specific configurations
func loadChainConfigs() ChainsConfig {
	enabledNames := getEnvAsList("ENABLED_CHAINS", "ethereum,base")

	var enabled []types.ChainID
	chains := make(map[types.ChainID]ChainConfig)
	for _, name := range enabledNames {
		chain := types.ChainID(name)
		if !chain.Valid() {
			continue
		}

		prefix := strings.ToUpper(name)
		defaultChunk := uint64(defaultEthereumChunk)
		if chain == types.ChainBase {
			defaultChunk = defaultBaseChunk
		}

		enabled = append(enabled, chain)
		chains[chain] = ChainConfig{
			RPCEndpoints:      getEnvAsList(prefix+"_RPC_ENDPOINTS", ""),
			RegistryContract:  getEnv(prefix+"_REGISTRY_CONTRACT", ""),
			ScanChunkSize:     getEnvAsUint64(prefix+"_SCAN_CHUNK", defaultChunk),
			ScanFloorBlock:    getEnvAsUint64(prefix+"_SCAN_FLOOR", 0),
			RequestsPerSecond: getEnvAsFloat(prefix+"_RPS", 10),
			CallTimeout:       getEnvAsDuration(prefix+"_CALL_TIMEOUT", 30*time.Second),
		}
	}

	return ChainsConfig{
		Enabled: enabled,
		Chains:  chains,
	}
}

// validate checks invariants that would otherwise surface mid-run.
func validate(cfg *Config) error {
	if cfg.Sync.FetchConcurrency <= 0 {
		return fmt.Errorf("SYNC_FETCH_CONCURRENCY must be positive, got %d", cfg.Sync.FetchConcurrency)
	}
	if cfg.Sync.CheckpointEvery <= 0 {
		return fmt.Errorf("SYNC_CHECKPOINT_EVERY must be positive, got %d", cfg.Sync.CheckpointEvery)
	}
	for chain, cc := range cfg.Chains.Chains {
		if cc.ScanChunkSize == 0 {
			return fmt.Errorf("chain %s: scan chunk size must be positive", chain)
		}
	}
	return nil
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as an integer with a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsUint64 gets an environment variable as a uint64 with a default value
func getEnvAsUint64(key string, defaultValue uint64) uint64 {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseUint(valueStr, 10, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsFloat gets an environment variable as a float64 with a default value
func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsBool gets an environment variable as a boolean with a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration gets an environment variable as a duration with a default value
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsList gets a comma-separated environment variable as a trimmed,
// empty-filtered list.
func getEnvAsList(key, defaultValue string) []string {
	parts := strings.Split(getEnv(key, defaultValue), ",")
	var values []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			values = append(values, p)
		}
	}
	return values
}
