package models

// PeerResponse describes one configured cache peer and its current health.
type PeerResponse struct {
	ID        string  `json:"id"`
	Kind      string  `json:"kind"`
	Address   string  `json:"address"`
	Weight    float64 `json:"weight"`
	Healthy   bool    `json:"healthy"`
	RTTMs     int64   `json:"rtt_ms"`
	Requests  uint64  `json:"requests"`
	Hits      uint64  `json:"hits"`
	Misses    uint64  `json:"misses"`
	Errors    uint64  `json:"errors"`
	HitRate   float64 `json:"hit_rate"`
	ErrorRate float64 `json:"error_rate"`
	Score     float64 `json:"score"`
}

// PeersResponse lists all configured peers.
type PeersResponse struct {
	Peers []PeerResponse `json:"peers"`
}
