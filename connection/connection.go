// Package connection defines a studio's link to an external accounting
// provider. Tokens themselves are held by the OAuth collaborator; a
// Connection only records whether they exist and when they expire.
package connection

import (
	"time"

	"github.com/xraph/barre/id"
	"github.com/xraph/barre/mapping"
	"github.com/xraph/barre/types"
)

type Status string

const (
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
	StatusError        Status = "error"
)

// TokenState is the opaque token metadata handed over by the OAuth
// collaborator after an exchange or refresh.
type TokenState struct {
	HasAccessToken        bool       `json:"has_access_token"`
	HasRefreshToken       bool       `json:"has_refresh_token"`
	AccessTokenExpiresAt  *time.Time `json:"access_token_expires_at,omitempty"`
	RefreshTokenExpiresAt *time.Time `json:"refresh_token_expires_at,omitempty"`
	ExternalTenantID      string     `json:"external_tenant_id,omitempty"`
}

// Connection is one row per (studio, provider). At most one connection per
// studio is active at a time; rows are deactivated, never deleted.
type Connection struct {
	types.Entity
	ID             id.ConnectionID `json:"id"`
	StudioKey      string          `json:"studio_key"`
	Provider       string          `json:"provider"`
	Status         Status          `json:"status"`
	IsActive       bool            `json:"is_active"`
	Tokens         TokenState      `json:"tokens"`
	Mapping        mapping.Mapping `json:"mapping"`
	ConnectedAt    *time.Time      `json:"connected_at,omitempty"`
	DisconnectedAt *time.Time      `json:"disconnected_at,omitempty"`
	LastSyncedAt   *time.Time      `json:"last_synced_at,omitempty"`
	LastError      string          `json:"last_error,omitempty"`
}

// Usable reports whether the connection can receive sync traffic.
func (c *Connection) Usable() bool {
	return c.Status == StatusConnected
}

// SyncOutcome is recorded on the connection after each sync run.
type SyncOutcome struct {
	At        time.Time
	LastError string
}
