// Package config provides a reusable loader for the node's configuration
// files and environment variables.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"aleph-node/pkg/utils"
)

// Config is the unified configuration for a node process. Field groups
// mirror the option groups the core recognizes.
type Config struct {
	Aleph struct {
		QueueTopic string `mapstructure:"queue_topic" json:"queue_topic"`
		Host       string `mapstructure:"host" json:"host"`
		Port       int    `mapstructure:"port" json:"port"`
	} `mapstructure:"aleph" json:"aleph"`

	MongoDB struct {
		URI      string `mapstructure:"uri" json:"uri"`
		Database string `mapstructure:"database" json:"database"`
	} `mapstructure:"mongodb" json:"mongodb"`

	IPFS struct {
		Enabled bool          `mapstructure:"enabled" json:"enabled"`
		Host    string        `mapstructure:"host" json:"host"`
		Port    int           `mapstructure:"port" json:"port"`
		Gateway string        `mapstructure:"gateway" json:"gateway"`
		Timeout time.Duration `mapstructure:"timeout" json:"timeout"`
	} `mapstructure:"ipfs" json:"ipfs"`

	P2P struct {
		Clients        []string `mapstructure:"clients" json:"clients"`
		ListenAddr     string   `mapstructure:"listen_addr" json:"listen_addr"`
		BootstrapPeers []string `mapstructure:"bootstrap_peers" json:"bootstrap_peers"`
		DiscoveryTag   string   `mapstructure:"discovery_tag" json:"discovery_tag"`
	} `mapstructure:"p2p" json:"p2p"`

	Nuls struct {
		ChainID     int    `mapstructure:"chain_id" json:"chain_id"`
		PackingNode bool   `mapstructure:"packing_node" json:"packing_node"`
		PrivateKey  string `mapstructure:"private_key" json:"private_key"`
	} `mapstructure:"nuls" json:"nuls"`

	Logging struct {
		Level string `mapstructure:"level" json:"level"`
	} `mapstructure:"logging" json:"logging"`
}

// AppConfig holds the configuration loaded via Load or LoadFromEnv.
var AppConfig Config

// Load reads the default configuration file and merges an optional
// environment-specific override (e.g. "bootstrap", "sandbox"). The
// resulting configuration is stored in AppConfig and returned.
func Load(env string) (*Config, error) {
	viper.SetConfigName("default")
	viper.AddConfigPath("config")
	viper.AddConfigPath(".")
	viper.SetConfigType("yaml")

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, utils.Wrap(err, "load config")
		}
	}

	if env != "" {
		viper.SetConfigName(env)
		if err := viper.MergeInConfig(); err != nil {
			return nil, utils.Wrap(err, fmt.Sprintf("merge %s config", env))
		}
	}

	viper.SetEnvPrefix("ALEPH")
	viper.AutomaticEnv()

	if err := viper.Unmarshal(&AppConfig); err != nil {
		return nil, utils.Wrap(err, "unmarshal config")
	}
	return &AppConfig, nil
}

// LoadFromEnv loads configuration using the ALEPH_ENV environment variable.
func LoadFromEnv() (*Config, error) {
	return Load(utils.EnvOrDefault("ALEPH_ENV", ""))
}

func setDefaults() {
	viper.SetDefault("aleph.queue_topic", "ALEPH-QUEUE")
	viper.SetDefault("aleph.host", "127.0.0.1")
	viper.SetDefault("aleph.port", 8080)

	viper.SetDefault("mongodb.uri", "mongodb://127.0.0.1:27017")
	viper.SetDefault("mongodb.database", "aleph")

	viper.SetDefault("ipfs.enabled", false)
	viper.SetDefault("ipfs.host", "127.0.0.1")
	viper.SetDefault("ipfs.port", 5001)
	viper.SetDefault("ipfs.gateway", "http://127.0.0.1:5001")
	viper.SetDefault("ipfs.timeout", 2*time.Second)

	viper.SetDefault("p2p.clients", []string{"protocol", "http"})
	viper.SetDefault("p2p.listen_addr", "/ip4/0.0.0.0/tcp/4025")
	viper.SetDefault("p2p.discovery_tag", "aleph-node")

	viper.SetDefault("nuls.chain_id", 8964)
	viper.SetDefault("nuls.packing_node", false)

	viper.SetDefault("logging.level", "info")
}
