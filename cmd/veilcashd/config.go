// config.go - Configuration management for the transfer daemon
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"veilcash/internal/currency"
)

// Config represents the daemon configuration
type Config struct {
	// Node identity and network
	NodeID     string            `json:"node_id"`
	ListenAddr string            `json:"listen_addr"` // client API
	GossipAddr string            `json:"gossip_addr"` // peer messages
	Peers      map[string]string `json:"peers"`       // node ID -> gossip address

	// Chain clock
	BlockIntervalSeconds int `json:"block_interval_seconds"`

	// File paths
	LedgerPath string `json:"ledger_path"`

	// Protocol parameters shared by the whole network
	Protocol currency.Config `json:"protocol"`

	// Logging
	LogLevel string `json:"log_level"`
	LogFile  string `json:"log_file"`

	// Rate limiting for the client API
	RateLimitTokens int `json:"rate_limit_tokens"`
	RateLimitRefill int `json:"rate_limit_refill"`

	// Security
	EnableAudit  bool   `json:"enable_audit"`
	AuditLogPath string `json:"audit_log_path"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		NodeID:               "node1",
		ListenAddr:           "localhost:8480",
		GossipAddr:           "localhost:8481",
		Peers:                map[string]string{},
		BlockIntervalSeconds: 5,
		LedgerPath:           "ledger.json",
		Protocol:             currency.DefaultConfig(),
		LogLevel:             "info",
		LogFile:              "veilcashd.log",
		RateLimitTokens:      20,
		RateLimitRefill:      5,
		EnableAudit:          true,
		AuditLogPath:         "audit.log",
	}
}

// LoadConfig loads configuration from file or creates default
func LoadConfig(configPath string) (*Config, error) {
	// Try to load from file
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
	// Ensure directory exists
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
	if c.NodeID == "" {
		return fmt.Errorf("node_id must be set")
	}
	if c.ListenAddr == "" {
		return fmt.Errorf("listen_addr must be set")
	}
	if c.GossipAddr == "" {
		return fmt.Errorf("gossip_addr must be set")
	}
	if c.BlockIntervalSeconds <= 0 {
		return fmt.Errorf("block_interval_seconds must be positive")
	}
	if c.RateLimitTokens <= 0 {
		return fmt.Errorf("rate_limit_tokens must be positive")
	}
	if c.RateLimitRefill <= 0 {
		return fmt.Errorf("rate_limit_refill must be positive")
	}
	if err := c.Protocol.Validate(); err != nil {
		return fmt.Errorf("protocol config: %w", err)
	}
	return nil
}
