// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/viper"
)

// Config holds the agent configuration.
type Config struct {
	ClientID      string        `mapstructure:"client_id"`
	ChainID       string        `mapstructure:"chain_id"`
	Ledger        LedgerConfig  `mapstructure:"ledger"`
	Blob          BlobConfig    `mapstructure:"blob"`
	Storage       StorageConfig `mapstructure:"storage"`
	Sync          SyncConfig    `mapstructure:"sync"`
	Spool         SpoolConfig   `mapstructure:"spool"`
	WebServer     WebConfig     `mapstructure:"web_server"`
	Notifications bool          `mapstructure:"notifications"`
}

// LedgerConfig holds attestation service connection settings.
type LedgerConfig struct {
	Address string `mapstructure:"address"`
	APIKey  string `mapstructure:"api_key"`
	Account string `mapstructure:"account"`
}

// BlobConfig holds blob store connection settings.
type BlobConfig struct {
	Address string `mapstructure:"address"`
	APIKey  string `mapstructure:"api_key"`
}

// StorageConfig selects and configures the durable job store.
type StorageConfig struct {
	Backend string `mapstructure:"backend"` // "sqlite" or "redis"
	Dir     string `mapstructure:"dir"`     // sqlite database directory
}

// SyncConfig tunes the retry policy and the sync triggers.
type SyncConfig struct {
	ProbeInterval  time.Duration `mapstructure:"probe_interval"`
	SyncInterval   time.Duration `mapstructure:"sync_interval"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	BaseDelay      time.Duration `mapstructure:"base_delay"`
	ExhaustedDelay time.Duration `mapstructure:"exhausted_delay"`
	MaxDelay       time.Duration `mapstructure:"max_delay"`
	Retention      time.Duration `mapstructure:"retention"`
}

// SpoolConfig configures the file-based producer.
type SpoolConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Dir     string `mapstructure:"dir"`
}

// WebConfig holds local status server settings.
type WebConfig struct {
	Port int `mapstructure:"port"`
}

// LoadConfig loads configuration from file and environment.
func LoadConfig(configPath string) (*Config, error) {
	viper.SetConfigType("yaml")
	viper.SetConfigName("config")

	// Set default values
	viper.SetDefault("chain_id", "verdant-main")
	viper.SetDefault("ledger.address", "http://localhost:8084")
	viper.SetDefault("blob.address", "http://localhost:8085")
	viper.SetDefault("storage.backend", "sqlite")
	viper.SetDefault("sync.probe_interval", "10s")
	viper.SetDefault("sync.sync_interval", "1m")
	viper.SetDefault("sync.max_attempts", 8)
	viper.SetDefault("sync.base_delay", "5s")
	viper.SetDefault("sync.exhausted_delay", "1m")
	viper.SetDefault("sync.max_delay", "15m")
	viper.SetDefault("sync.retention", "720h")
	viper.SetDefault("spool.enabled", true)
	viper.SetDefault("web_server.port", 9095)
	viper.SetDefault("notifications", true)

	if configPath != "" {
		viper.SetConfigFile(configPath)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		configDir := filepath.Join(home, ".ecosync")
		configFile := filepath.Join(configDir, "config.yaml")

		if err := os.MkdirAll(configDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create config directory: %w", err)
		}

		if _, err := os.Stat(configFile); os.IsNotExist(err) {
			if err := generateDefaultConfig(configFile); err != nil {
				return nil, fmt.Errorf("failed to generate default config: %w", err)
			}
		}

		viper.SetConfigFile(configFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			log.Printf("No config file found, using defaults")
		} else {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	// Allow environment variables (ECOSYNC_LEDGER_API_KEY etc.)
	viper.SetEnvPrefix("ECOSYNC")
	viper.AutomaticEnv()

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if config.Storage.Dir == "" {
		config.Storage.Dir = filepath.Dir(viper.ConfigFileUsed())
		if config.Storage.Dir == "." || config.Storage.Dir == "" {
			config.Storage.Dir = "./.ecosync"
		}
	}
	if config.Spool.Dir == "" {
		config.Spool.Dir = filepath.Join(config.Storage.Dir, "spool")
	}

	// Generate client_id if missing
	if config.ClientID == "" {
		config.ClientID = uuid.New().String()
		log.Printf("Generated new client ID: %s", config.ClientID)

		configFile := viper.ConfigFileUsed()
		if configFile != "" {
			viper.Set("client_id", config.ClientID)
			if err := viper.WriteConfig(); err != nil {
				log.Printf("Warning: Failed to save client_id to config file: %v", err)
			}
		}
	} else {
		log.Printf("Using existing client ID: %s", config.ClientID)
	}

	return &config, nil
}

// ApplyCLIFlags applies command-line flag overrides to the loaded config.
func ApplyCLIFlags(config *Config, ledgerAddr, blobAddr, chainID string, webPort int) {
	if ledgerAddr != "" {
		config.Ledger.Address = ledgerAddr
	}
	if blobAddr != "" {
		config.Blob.Address = blobAddr
	}
	if chainID != "" {
		config.ChainID = chainID
	}
	if webPort != 0 {
		config.WebServer.Port = webPort
	}
}

// generateDefaultConfig creates a default configuration file.
func generateDefaultConfig(configFile string) error {
	defaultConfig := `# EcoSync agent configuration
# client_id will be auto-generated on first run

chain_id: "verdant-main"  # Target execution context; queued jobs are bound to it

ledger:
  address: "http://localhost:8084"  # Attestation service
  api_key: ""                       # Account API key (empty = signer not ready)
  account: ""                       # Account identifier

blob:
  address: "http://localhost:8085"  # Content-addressed blob store
  api_key: ""

storage:
  backend: "sqlite"  # "sqlite" or "redis"

sync:
  probe_interval: 10s  # connectivity probe cadence
  sync_interval: 1m    # periodic flush cadence while online
  max_attempts: 8      # attempt ceiling before a transient failure escalates
  base_delay: 5s
  exhausted_delay: 1m
  max_delay: 15m
  retention: 720h      # terminal jobs older than this are pruned

spool:
  enabled: true  # watch <storage dir>/spool for job files

web_server:
  port: 9095  # local status API

notifications: true  # desktop notifications for outages and failures
`

	if err := os.MkdirAll(filepath.Dir(configFile), 0755); err != nil {
		return err
	}
	return os.WriteFile(configFile, []byte(defaultConfig), 0644)
}
