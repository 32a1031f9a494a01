package models

// ConfigResponse is the effective running configuration, with secrets
// (API keys, shared cluster secrets) redacted.
type ConfigResponse struct {
	Server    ServerConfigResponse    `json:"server"`
	Cache     CacheConfigResponse     `json:"cache"`
	Hierarchy HierarchyConfigResponse `json:"hierarchy"`
	TLS       TLSConfigResponse       `json:"tls"`
	Events    EventsConfigResponse    `json:"events"`
	API       APIConfigResponse       `json:"api"`
	Cluster   ClusterConfigResponse   `json:"cluster"`
}

type ServerConfigResponse struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

type CacheConfigResponse struct {
	Capacity    int   `json:"capacity"`
	TTLSeconds  int64 `json:"ttl_seconds"`
	MaxBodySize int64 `json:"max_body_size"`
}

type HierarchyConfigResponse struct {
	Enabled           bool   `json:"enabled"`
	SelectionPolicy   string `json:"selection_policy"`
	MaxSiblingQueries int    `json:"max_sibling_queries"`
}

type TLSConfigResponse struct {
	MITMEnabled bool `json:"mitm_enabled"`
}

type EventsConfigResponse struct {
	Topic     string `json:"topic"`
	QueueSize int    `json:"queue_size"`
	Enabled   bool   `json:"enabled"`
}

type APIConfigResponse struct {
	Enabled bool   `json:"enabled"`
	Host    string `json:"host"`
	Port    int    `json:"port"`
}

// ClusterConfigResponse mirrors config.ClusterConfig with SharedSecret
// redacted to a presence indicator.
type ClusterConfigResponse struct {
	Mode         string `json:"mode"`
	NodeID       string `json:"node_id"`
	PrimaryURL   string `json:"primary_url,omitempty"`
	SyncInterval string `json:"sync_interval,omitempty"`
	SyncTimeout  string `json:"sync_timeout,omitempty"`
	SharedSecret string `json:"shared_secret,omitempty"`
}
