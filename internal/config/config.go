// Package config provides configuration loading and validation for the proxy.
//
// Configuration is loaded with the following priority (highest to lowest):
//  1. Command-line flags (not handled here, see cmd/proxy/main.go)
//  2. The legacy bare environment variables from the external interfaces
//     table (HTTP_PORT, CACHE_CAPACITY, CACHE_TTL_SECONDS,
//     MAX_CACHE_BODY_SIZE, KAFKA_BROKERS, LOG_LEVEL)
//  3. PROXY_* prefixed environment variables (PROXY_SERVER_PORT, ...)
//  4. YAML config file (if specified with --config)
//  5. Hardcoded defaults
//
// All configuration is validated during Load() to ensure correctness early.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// initConfig sets up the config loader with defaults, env binding, and config file.
func initConfig(configPath string) (*viper.Viper, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("PROXY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	return v, nil
}

// setDefaults configures all default values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 1488)
	v.SetDefault("server.idle_timeout", "90s")
	v.SetDefault("server.read_header_timeout", "10s")

	v.SetDefault("cache.capacity", 10000)
	v.SetDefault("cache.ttl_seconds", 3600)
	v.SetDefault("cache.max_body_size", 10485760)

	v.SetDefault("hierarchy.enabled", false)
	v.SetDefault("hierarchy.icp_timeout", "100ms")
	v.SetDefault("hierarchy.parent_timeout", "5s")
	v.SetDefault("hierarchy.max_sibling_queries", 10)
	v.SetDefault("hierarchy.selection_policy", "weighted")
	v.SetDefault("hierarchy.icp_bind_addr", "0.0.0.0:3130")

	v.SetDefault("tls.certs_dir", "certs")
	v.SetDefault("tls.mitm_enabled", false)
	v.SetDefault("tls.validate_cert", true)

	v.SetDefault("events.kafka_brokers", []string{})
	v.SetDefault("events.topic", "cache-events")
	v.SetDefault("events.queue_size", 4096)

	v.SetDefault("logging.level", "INFO")
	v.SetDefault("logging.structured", false)
	v.SetDefault("logging.structured_format", "json")
	v.SetDefault("logging.include_pid", false)
	v.SetDefault("logging.extra_fields", map[string]string{})

	v.SetDefault("api.enabled", false)
	v.SetDefault("api.host", "127.0.0.1")
	v.SetDefault("api.port", 8080)
	v.SetDefault("api.api_key", "")

	v.SetDefault("storage.path", "proxy.db")

	v.SetDefault("cluster.mode", "standalone")
	v.SetDefault("cluster.sync_interval", "30s")
	v.SetDefault("cluster.sync_timeout", "10s")
}

// legacyEnvOverrides applies the bare (non-prefixed) environment variable
// names enumerated in the external interfaces table. These take precedence
// over both the config file and the PROXY_*-prefixed env vars, since they
// are the canonical, minimum-recognized surface.
func legacyEnvOverrides(v *viper.Viper) {
	setIfPresent := func(key, env string) {
		if val, ok := lookupTrimmed(env); ok {
			v.Set(key, val)
		}
	}
	setIfPresent("server.port", "HTTP_PORT")
	setIfPresent("cache.capacity", "CACHE_CAPACITY")
	setIfPresent("cache.ttl_seconds", "CACHE_TTL_SECONDS")
	setIfPresent("cache.max_body_size", "MAX_CACHE_BODY_SIZE")
	setIfPresent("logging.level", "LOG_LEVEL")

	if brokers, ok := lookupTrimmed("KAFKA_BROKERS"); ok {
		v.Set("events.kafka_brokers", splitAndTrim(brokers, ","))
	}
}

// loadFromSource loads configuration from file and environment.
func loadFromSource(configPath string) (*Config, error) {
	v, err := initConfig(configPath)
	if err != nil {
		return nil, err
	}
	legacyEnvOverrides(v)

	cfg := &Config{}

	loadServerConfig(v, cfg)
	loadCacheConfig(v, cfg)
	loadHierarchyConfig(v, cfg)
	loadPeersConfig(v, cfg)
	loadTLSConfig(v, cfg)
	loadEventsConfig(v, cfg)
	loadLoggingConfig(v, cfg)
	loadAPIConfig(v, cfg)
	loadStorageConfig(v, cfg)
	loadClusterConfig(v, cfg)

	if err := normalizeConfig(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func loadServerConfig(v *viper.Viper, cfg *Config) {
	cfg.Server.Host = v.GetString("server.host")
	cfg.Server.Port = v.GetInt("server.port")
	cfg.Server.IdleTimeout = v.GetString("server.idle_timeout")
	cfg.Server.ReadHeaderTimeout = v.GetString("server.read_header_timeout")
}

func loadCacheConfig(v *viper.Viper, cfg *Config) {
	cfg.Cache.Capacity = v.GetInt("cache.capacity")
	cfg.Cache.TTLSeconds = v.GetInt64("cache.ttl_seconds")
	cfg.Cache.MaxBodySize = v.GetInt64("cache.max_body_size")
}

func loadHierarchyConfig(v *viper.Viper, cfg *Config) {
	cfg.Hierarchy.Enabled = v.GetBool("hierarchy.enabled")
	cfg.Hierarchy.ICPTimeout = v.GetString("hierarchy.icp_timeout")
	cfg.Hierarchy.ParentTimeout = v.GetString("hierarchy.parent_timeout")
	cfg.Hierarchy.MaxSiblingQueries = v.GetInt("hierarchy.max_sibling_queries")
	cfg.Hierarchy.SelectionPolicy = v.GetString("hierarchy.selection_policy")
	cfg.Hierarchy.ICPBindAddr = v.GetString("hierarchy.icp_bind_addr")
}

func loadPeersConfig(v *viper.Viper, cfg *Config) {
	var peers []PeerConfig
	if err := v.UnmarshalKey("peers", &peers); err == nil {
		cfg.Peers = peers
	}
}

func loadTLSConfig(v *viper.Viper, cfg *Config) {
	cfg.TLS.CertsDir = v.GetString("tls.certs_dir")
	cfg.TLS.MITMEnabled = v.GetBool("tls.mitm_enabled")
	cfg.TLS.ValidateCert = v.GetBool("tls.validate_cert")
}

func loadEventsConfig(v *viper.Viper, cfg *Config) {
	cfg.Events.KafkaBrokers = getStringSliceOrSplit(v, "events.kafka_brokers")
	cfg.Events.Topic = v.GetString("events.topic")
	cfg.Events.QueueSize = v.GetInt("events.queue_size")
}

func loadLoggingConfig(v *viper.Viper, cfg *Config) {
	cfg.Logging.Level = strings.ToUpper(v.GetString("logging.level"))
	cfg.Logging.Structured = v.GetBool("logging.structured")
	cfg.Logging.StructuredFormat = v.GetString("logging.structured_format")
	cfg.Logging.IncludePID = v.GetBool("logging.include_pid")
	cfg.Logging.ExtraFields = v.GetStringMapString("logging.extra_fields")
}

func loadAPIConfig(v *viper.Viper, cfg *Config) {
	cfg.API.Enabled = v.GetBool("api.enabled")
	cfg.API.Host = v.GetString("api.host")
	cfg.API.Port = v.GetInt("api.port")
	cfg.API.APIKey = v.GetString("api.api_key")
}

func loadStorageConfig(v *viper.Viper, cfg *Config) {
	cfg.Storage.Path = v.GetString("storage.path")
}

func loadClusterConfig(v *viper.Viper, cfg *Config) {
	cfg.Cluster.Mode = ClusterMode(strings.ToLower(v.GetString("cluster.mode")))
	cfg.Cluster.NodeID = v.GetString("cluster.node_id")
	cfg.Cluster.PrimaryURL = v.GetString("cluster.primary_url")
	cfg.Cluster.SyncInterval = v.GetString("cluster.sync_interval")
	cfg.Cluster.SyncTimeout = v.GetString("cluster.sync_timeout")
	cfg.Cluster.SharedSecret = v.GetString("cluster.shared_secret")
}

// getStringSliceOrSplit handles both slice and comma-separated string values.
func getStringSliceOrSplit(v *viper.Viper, key string) []string {
	if slice := v.GetStringSlice(key); len(slice) > 0 {
		return splitAndTrim(strings.Join(slice, ","), ",")
	}
	if s := v.GetString(key); s != "" {
		return splitAndTrim(s, ",")
	}
	return nil
}

func splitAndTrim(s, sep string) []string {
	parts := strings.Split(s, sep)
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}

func lookupTrimmed(env string) (string, bool) {
	v, ok := os.LookupEnv(env)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	if v == "" {
		return "", false
	}
	return v, true
}

// normalizeConfig validates and normalizes the configuration.
func normalizeConfig(cfg *Config) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return errors.New("server.port must be 1..65535")
	}

	if cfg.Cache.Capacity <= 0 {
		cfg.Cache.Capacity = 10000
	}
	if cfg.Cache.TTLSeconds <= 0 {
		cfg.Cache.TTLSeconds = 3600
	}
	if cfg.Cache.MaxBodySize <= 0 {
		cfg.Cache.MaxBodySize = 10485760
	}

	if cfg.Hierarchy.MaxSiblingQueries <= 0 {
		cfg.Hierarchy.MaxSiblingQueries = 10
	}
	if cfg.Hierarchy.SelectionPolicy == "" {
		cfg.Hierarchy.SelectionPolicy = "weighted"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "INFO"
	}
	if cfg.Logging.StructuredFormat == "" {
		cfg.Logging.StructuredFormat = "json"
	}
	if cfg.Logging.ExtraFields == nil {
		cfg.Logging.ExtraFields = map[string]string{}
	}

	if cfg.Events.Topic == "" {
		cfg.Events.Topic = "cache-events"
	}
	if cfg.Events.QueueSize <= 0 {
		cfg.Events.QueueSize = 4096
	}

	if cfg.API.Host == "" {
		cfg.API.Host = "127.0.0.1"
	}
	if cfg.API.Enabled {
		if cfg.API.Port <= 0 || cfg.API.Port > 65535 {
			return errors.New("api.port must be 1..65535")
		}
	}

	switch cfg.Cluster.Mode {
	case ClusterModeStandalone, ClusterModePrimary, ClusterModeSecondary:
	case "":
		cfg.Cluster.Mode = ClusterModeStandalone
	default:
		return fmt.Errorf("cluster.mode: unknown mode %q", cfg.Cluster.Mode)
	}
	if cfg.Cluster.Mode == ClusterModeSecondary && cfg.Cluster.PrimaryURL == "" {
		return errors.New("cluster.primary_url is required when cluster.mode is secondary")
	}

	return nil
}

// Load loads configuration from a YAML file with environment variable overrides.
// This is the main entry point for loading configuration.
func Load(path string) (*Config, error) {
	return loadFromSource(path)
}
