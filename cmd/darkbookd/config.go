// config.go - Configuration management for the exchange daemon
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Config represents the daemon configuration
type Config struct {
	// HTTP intake
	ListenAddress string `json:"listen_address"`

	// Registry settings
	Admin        string `json:"admin"`
	Permissioned bool   `json:"permissioned"`
	TreeDepth    int    `json:"tree_depth"`

	// Matching
	BatchIntervalMS int `json:"batch_interval_ms"`
	MaxBatch        int `json:"max_batch"`

	// Settlement
	MatcherIdentity       string `json:"matcher_identity"`
	SettleTimeoutSeconds  int    `json:"settle_timeout_seconds"`
	SettlementQueueSize   int    `json:"settlement_queue_size"`

	// Proofs. DevMode accepts consistency-checked settlements without
	// Groth16 verification; production mode loads keys from KeyDir.
	DevMode bool   `json:"dev_mode"`
	KeyDir  string `json:"key_dir"`

	// Storage
	DataDir string `json:"data_dir"`

	// Event stream
	KafkaBrokers []string `json:"kafka_brokers"`
	KafkaTopic   string   `json:"kafka_topic"`

	// Relay mesh
	RelayNodeID  string            `json:"relay_node_id"`
	RelayAddress string            `json:"relay_address"`
	RelayPeers   map[string]string `json:"relay_peers"`

	// Logging
	LogLevel string `json:"log_level"`
	LogFile  string `json:"log_file"`

	// Rate limiting per trader
	RateLimitTokens   int `json:"rate_limit_tokens"`
	RateLimitRefillMS int `json:"rate_limit_refill_ms"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		ListenAddress:        "localhost:8480",
		Admin:                "admin",
		Permissioned:         false,
		TreeDepth:            20,
		BatchIntervalMS:      10,
		MaxBatch:             32,
		MatcherIdentity:      "operator",
		SettleTimeoutSeconds: 5,
		SettlementQueueSize:  1024,
		DevMode:              true,
		KeyDir:               "keys",
		DataDir:              "data",
		KafkaTopic:           "darkbook.events",
		LogLevel:             "info",
		LogFile:              "darkbook.log",
		RateLimitTokens:      20,
		RateLimitRefillMS:    100,
	}
}

// LoadConfig loads configuration from file or creates default
func LoadConfig(configPath string) (*Config, error) {
	if _, err := os.Stat(configPath); err == nil {
		file, err := os.Open(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open config file: %w", err)
		}
		defer file.Close()

		var config Config
		if err := json.NewDecoder(file).Decode(&config); err != nil {
			return nil, fmt.Errorf("failed to decode config file: %w", err)
		}
		return &config, nil
	}

	// Create default config and save it
	config := DefaultConfig()
	if err := SaveConfig(config, configPath); err != nil {
		return nil, fmt.Errorf("failed to save default config: %w", err)
	}
	return config, nil
}

// SaveConfig saves configuration to file
func SaveConfig(config *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	file, err := os.Create(configPath)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(config); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.ListenAddress == "" {
		return fmt.Errorf("listen_address must be set")
	}
	if c.Admin == "" {
		return fmt.Errorf("admin must be set")
	}
	if c.TreeDepth < 1 || c.TreeDepth > 32 {
		return fmt.Errorf("tree_depth must be in 1..32")
	}
	if c.BatchIntervalMS <= 0 {
		return fmt.Errorf("batch_interval_ms must be positive")
	}
	if c.MaxBatch <= 0 {
		return fmt.Errorf("max_batch must be positive")
	}
	if c.SettleTimeoutSeconds <= 0 {
		return fmt.Errorf("settle_timeout_seconds must be positive")
	}
	if !c.DevMode && c.KeyDir == "" {
		return fmt.Errorf("key_dir must be set outside dev mode")
	}
	if c.RateLimitTokens <= 0 {
		return fmt.Errorf("rate_limit_tokens must be positive")
	}
	if c.RateLimitRefillMS <= 0 {
		return fmt.Errorf("rate_limit_refill_ms must be positive")
	}
	return nil
}
