package postgres

import (
	"context"
	"fmt"
	"time"
)

// HealthStatus represents the health of the Postgres connection
type HealthStatus struct {
	Connected bool      `json:"connected"`
	Database  string    `json:"database"`
	Releases  int64     `json:"releases,omitempty"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// HealthCheck pings the database and counts recorded releases.
func (c *PostgresClient) HealthCheck(ctx context.Context) (*HealthStatus, error) {
	status := HealthStatus{
		Database:  c.config.PostgresDB,
		Timestamp: time.Now(),
	}

	if c.db == nil {
		status.Error = "not connected"
		return &status, nil
	}

	if err := c.db.PingContext(ctx); err != nil {
		status.Error = fmt.Sprintf("ping failed: %v", err)
		return &status, nil
	}
	status.Connected = true

	// The history table may not exist yet on a fresh database.
	var n int64
	if err := c.db.QueryRowContext(ctx, "SELECT count(*) FROM release_history").Scan(&n); err != nil {
		status.Error = fmt.Sprintf("failed to count releases: %v", err)
		return &status, nil
	}
	status.Releases = n

	return &status, nil
}
