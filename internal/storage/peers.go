package storage

import (
	"context"
	"fmt"

	"github.com/jroosing/bsdm-proxy/internal/peers"
)

// PeerRecord is a persisted peer definition.
type PeerRecord struct {
	ID      string
	Kind    peers.Kind
	Host    string
	Port    int
	ICPPort int
	Weight  float64
	Enabled bool
}

// UpsertPeer inserts or updates a peer definition.
func (db *DB) UpsertPeer(ctx context.Context, rec PeerRecord) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	query := `
		INSERT INTO peers (id, kind, host, port, icp_port, weight, enabled, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET
			kind = excluded.kind,
			host = excluded.host,
			port = excluded.port,
			icp_port = excluded.icp_port,
			weight = excluded.weight,
			enabled = excluded.enabled,
			updated_at = CURRENT_TIMESTAMP
	`
	_, err := db.conn.ExecContext(ctx, query, rec.ID, string(rec.Kind), rec.Host, rec.Port, rec.ICPPort, rec.Weight, rec.Enabled)
	if err != nil {
		return fmt.Errorf("failed to upsert peer %s: %w", rec.ID, err)
	}
	return nil
}

// ListPeers returns all enabled peer definitions.
func (db *DB) ListPeers(ctx context.Context) ([]PeerRecord, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, kind, host, port, icp_port, weight, enabled
		FROM peers
		WHERE enabled = 1
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query peers: %w", err)
	}
	defer rows.Close()

	var out []PeerRecord
	for rows.Next() {
		var rec PeerRecord
		var kind string
		if err := rows.Scan(&rec.ID, &kind, &rec.Host, &rec.Port, &rec.ICPPort, &rec.Weight, &rec.Enabled); err != nil {
			return nil, fmt.Errorf("failed to scan peer: %w", err)
		}
		rec.Kind = peers.Kind(kind)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating peers: %w", err)
	}
	return out, nil
}

// DeletePeer removes a peer definition.
func (db *DB) DeletePeer(ctx context.Context, id string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	result, err := db.conn.ExecContext(ctx, "DELETE FROM peers WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete peer %s: %w", id, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("peer not found: %s", id)
	}
	return nil
}

// ToConfig converts a stored peer record into the in-memory peer config used
// to build the registry at startup.
func (rec PeerRecord) ToConfig() peers.Config {
	return peers.Config{
		Host:    rec.Host,
		Port:    rec.Port,
		Kind:    rec.Kind,
		Weight:  rec.Weight,
		ICPPort: rec.ICPPort,
	}
}
