package storage

import (
	"context"
	"fmt"
)

// GetSelectionPolicy returns the persisted parent-selection strategy name.
func (db *DB) GetSelectionPolicy(ctx context.Context) (string, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	var strategy string
	err := db.conn.QueryRowContext(ctx, "SELECT strategy FROM selection_policy WHERE id = 1").Scan(&strategy)
	if err != nil {
		return "", fmt.Errorf("failed to get selection policy: %w", err)
	}
	return strategy, nil
}

// SetSelectionPolicy persists the parent-selection strategy name.
func (db *DB) SetSelectionPolicy(ctx context.Context, strategy string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	_, err := db.conn.ExecContext(ctx, "UPDATE selection_policy SET strategy = ?, updated_at = CURRENT_TIMESTAMP WHERE id = 1", strategy)
	if err != nil {
		return fmt.Errorf("failed to set selection policy: %w", err)
	}
	return nil
}

// GetACLMode returns the persisted ACL policy mode.
func (db *DB) GetACLMode(ctx context.Context) (string, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	var mode string
	err := db.conn.QueryRowContext(ctx, "SELECT mode FROM acl_policy WHERE id = 1").Scan(&mode)
	if err != nil {
		return "", fmt.Errorf("failed to get ACL mode: %w", err)
	}
	return mode, nil
}

// SetACLMode persists the ACL policy mode.
func (db *DB) SetACLMode(ctx context.Context, mode string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	_, err := db.conn.ExecContext(ctx, "UPDATE acl_policy SET mode = ?, updated_at = CURRENT_TIMESTAMP WHERE id = 1", mode)
	if err != nil {
		return fmt.Errorf("failed to set ACL mode: %w", err)
	}
	return nil
}
