// Package config provides configuration loading for the proxy using Viper.
// Configuration is loaded from an optional YAML file with automatic
// environment variable binding.
//
// Environment variables use the PROXY_ prefix and underscore-separated keys
// (e.g. PROXY_SERVER_PORT -> server.port), plus the legacy bare names listed
// in the external interfaces table (HTTP_PORT, CACHE_CAPACITY, ...), which
// take precedence over the prefixed form when both are set.
package config

import (
	"os"
	"strings"
)

// ServerConfig contains proxy listener settings.
type ServerConfig struct {
	Host              string `yaml:"host"                mapstructure:"host"`
	Port              int    `yaml:"port"                mapstructure:"port"`
	IdleTimeout       string `yaml:"idle_timeout"        mapstructure:"idle_timeout"`
	ReadHeaderTimeout string `yaml:"read_header_timeout" mapstructure:"read_header_timeout"`
}

// CacheConfig controls the response cache.
type CacheConfig struct {
	Capacity    int   `yaml:"capacity"      mapstructure:"capacity"`
	TTLSeconds  int64 `yaml:"ttl_seconds"   mapstructure:"ttl_seconds"`
	MaxBodySize int64 `yaml:"max_body_size" mapstructure:"max_body_size"`
}

// HierarchyConfig controls sibling/parent resolution.
type HierarchyConfig struct {
	Enabled           bool   `yaml:"enabled"             mapstructure:"enabled"`
	ICPTimeout        string `yaml:"icp_timeout"         mapstructure:"icp_timeout"`
	ParentTimeout     string `yaml:"parent_timeout"      mapstructure:"parent_timeout"`
	MaxSiblingQueries int    `yaml:"max_sibling_queries" mapstructure:"max_sibling_queries"`
	SelectionPolicy   string `yaml:"selection_policy"    mapstructure:"selection_policy"`
	ICPBindAddr       string `yaml:"icp_bind_addr"       mapstructure:"icp_bind_addr"`
}

// PeerConfig describes one configured parent or sibling peer.
type PeerConfig struct {
	Kind    string  `yaml:"kind"     mapstructure:"kind"     json:"kind"` // "parent" | "sibling"
	Host    string  `yaml:"host"     mapstructure:"host"     json:"host"`
	Port    int     `yaml:"port"     mapstructure:"port"     json:"port"`
	Weight  float64 `yaml:"weight"   mapstructure:"weight"   json:"weight"`
	ICPPort int     `yaml:"icp_port" mapstructure:"icp_port" json:"icp_port,omitempty"`
}

// TLSConfig controls CONNECT handling and MITM interception.
type TLSConfig struct {
	CertsDir     string `yaml:"certs_dir"     mapstructure:"certs_dir"`
	MITMEnabled  bool   `yaml:"mitm_enabled"  mapstructure:"mitm_enabled"`
	ValidateCert bool   `yaml:"validate_cert" mapstructure:"validate_cert"`
}

// EventsConfig controls the observation-record emitter.
type EventsConfig struct {
	KafkaBrokers []string `yaml:"kafka_brokers" mapstructure:"kafka_brokers"`
	Topic        string   `yaml:"topic"         mapstructure:"topic"`
	QueueSize    int      `yaml:"queue_size"    mapstructure:"queue_size"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level            string            `yaml:"level"             mapstructure:"level"             json:"level"`
	Structured       bool              `yaml:"structured"        mapstructure:"structured"        json:"structured"`
	StructuredFormat string            `yaml:"structured_format" mapstructure:"structured_format" json:"structured_format"`
	IncludePID       bool              `yaml:"include_pid"       mapstructure:"include_pid"       json:"include_pid"`
	ExtraFields      map[string]string `yaml:"extra_fields"      mapstructure:"extra_fields"      json:"extra_fields,omitempty"`
}

// APIConfig contains management API settings.
//
// Note: APIKey is intentionally treated as a secret and should not be returned by API endpoints.
type APIConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Host    string `yaml:"host"    mapstructure:"host"`
	Port    int    `yaml:"port"    mapstructure:"port"`
	APIKey  string `yaml:"api_key" mapstructure:"api_key"`
}

// StorageConfig controls the sqlite-backed peer/config store.
type StorageConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// ClusterMode selects the node's role in optional primary/secondary
// configuration sync.
type ClusterMode string

const (
	ClusterModeStandalone ClusterMode = "standalone"
	ClusterModePrimary    ClusterMode = "primary"
	ClusterModeSecondary  ClusterMode = "secondary"
)

// ClusterConfig controls optional primary/secondary peer-config sync.
type ClusterConfig struct {
	Mode         ClusterMode `yaml:"mode"          mapstructure:"mode"`
	NodeID       string      `yaml:"node_id"       mapstructure:"node_id"`
	PrimaryURL   string      `yaml:"primary_url"   mapstructure:"primary_url"`
	SyncInterval string      `yaml:"sync_interval" mapstructure:"sync_interval"`
	SyncTimeout  string      `yaml:"sync_timeout"  mapstructure:"sync_timeout"`
	SharedSecret string      `yaml:"shared_secret" mapstructure:"shared_secret"`
}

// Config is the root configuration structure.
type Config struct {
	Server    ServerConfig    `yaml:"server"    mapstructure:"server"`
	Cache     CacheConfig     `yaml:"cache"     mapstructure:"cache"`
	Hierarchy HierarchyConfig `yaml:"hierarchy" mapstructure:"hierarchy"`
	Peers     []PeerConfig    `yaml:"peers"     mapstructure:"peers"`
	TLS       TLSConfig       `yaml:"tls"       mapstructure:"tls"`
	Events    EventsConfig    `yaml:"events"    mapstructure:"events"`
	Logging   LoggingConfig   `yaml:"logging"   mapstructure:"logging"`
	API       APIConfig       `yaml:"api"       mapstructure:"api"`
	Storage   StorageConfig   `yaml:"storage"   mapstructure:"storage"`
	Cluster   ClusterConfig   `yaml:"cluster"   mapstructure:"cluster"`
}

// ResolveConfigPath determines the config file path from flag or environment.
func ResolveConfigPath(flagValue string) string {
	if strings.TrimSpace(flagValue) != "" {
		return flagValue
	}
	if v := strings.TrimSpace(os.Getenv("PROXY_CONFIG")); v != "" {
		return v
	}
	return ""
}
