package barre

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/xraph/barre/connection"
	"github.com/xraph/barre/id"
	"github.com/xraph/barre/mapping"
	"github.com/xraph/barre/types"
)

// Connect runs the OAuth collaborator for provider and records the
// resulting token state. A new connection starts inactive; reconnecting an
// existing one keeps its id, mapping and active flag.
func (e *Engine) Connect(ctx context.Context, studioKey, providerName string) (*connection.Connection, error) {
	studioKey, providerName, err := connectionKey(studioKey, providerName)
	if err != nil {
		return nil, err
	}
	if _, err := e.provider(providerName); err != nil {
		return nil, err
	}
	if e.authorizer == nil {
		return nil, &ProviderError{Provider: providerName, Op: "authorize", Err: errors.New("no authorizer configured")}
	}

	tokens, err := e.authorizer.Authorize(ctx, studioKey, providerName)
	if err != nil {
		e.logger.Warn("accounting authorization failed",
			"studio_key", studioKey,
			"provider", providerName,
			"error", err,
		)
		return nil, &ProviderError{Provider: providerName, Op: "authorize", Transient: IsRetryable(err), Err: err}
	}
	if tokens == nil {
		tokens = &connection.TokenState{}
	}

	now := e.now()
	existing, err := e.store.GetConnection(ctx, studioKey, providerName)
	switch {
	case errors.Is(err, ErrConnectionNotFound):
		c := &connection.Connection{
			Entity:      types.NewEntityAt(now),
			ID:          id.NewConnectionID(),
			StudioKey:   studioKey,
			Provider:    providerName,
			Status:      connection.StatusConnected,
			Tokens:      *tokens,
			ConnectedAt: &now,
		}
		if err := e.store.CreateConnection(ctx, c); err != nil {
			if !errors.Is(err, ErrAlreadyExists) {
				return nil, fmt.Errorf("barre: connect: %w", err)
			}
			// Lost a race with a concurrent Connect; fall through to update.
			if existing, err = e.store.GetConnection(ctx, studioKey, providerName); err != nil {
				return nil, fmt.Errorf("barre: connect: %w", err)
			}
			break
		}
		e.logger.Info("accounting connection created",
			"studio_key", studioKey,
			"provider", providerName,
			"connection_id", c.ID.String(),
		)
		return c, nil
	case err != nil:
		return nil, fmt.Errorf("barre: connect: %w", err)
	}

	if err := e.store.ReconnectConnection(ctx, existing.ID, *tokens, now); err != nil {
		return nil, fmt.Errorf("barre: connect: %w", err)
	}
	c, err := e.store.GetConnectionByID(ctx, existing.ID)
	if err != nil {
		return nil, err
	}
	e.logger.Info("accounting connection reconnected",
		"studio_key", studioKey,
		"provider", providerName,
		"connection_id", c.ID.String(),
	)
	return c, nil
}

// Activate makes provider the studio's only active connection.
func (e *Engine) Activate(ctx context.Context, studioKey, providerName string) (*connection.Connection, error) {
	studioKey, providerName, err := connectionKey(studioKey, providerName)
	if err != nil {
		return nil, err
	}
	if err := e.store.ActivateConnection(ctx, studioKey, providerName, e.now()); err != nil {
		if errors.Is(err, ErrConnectionClosed) {
			return nil, ValidationError{Field: "provider", Message: providerName + " is not connected"}
		}
		return nil, fmt.Errorf("barre: activate %s: %w", providerName, err)
	}
	c, err := e.store.GetConnection(ctx, studioKey, providerName)
	if err != nil {
		return nil, err
	}

	e.logger.Info("accounting connection activated",
		"studio_key", studioKey,
		"provider", providerName,
	)
	e.plugins.EmitConnectionActivated(ctx, c)
	return c, nil
}

// Disconnect marks the connection disconnected and inactive. The row and
// its sync records are kept.
func (e *Engine) Disconnect(ctx context.Context, studioKey, providerName string) (*connection.Connection, error) {
	return e.deactivate(ctx, studioKey, providerName, connection.StatusDisconnected, "")
}

// RecordTokenRevoked handles a revocation event from the OAuth
// collaborator. The connection moves to error and stops receiving syncs
// until it is connected again.
func (e *Engine) RecordTokenRevoked(ctx context.Context, studioKey, providerName, reason string) (*connection.Connection, error) {
	if reason == "" {
		reason = "token revoked"
	}
	return e.deactivate(ctx, studioKey, providerName, connection.StatusError, reason)
}

func (e *Engine) deactivate(ctx context.Context, studioKey, providerName string, status connection.Status, lastError string) (*connection.Connection, error) {
	studioKey, providerName, err := connectionKey(studioKey, providerName)
	if err != nil {
		return nil, err
	}
	c, err := e.store.GetConnection(ctx, studioKey, providerName)
	if err != nil {
		return nil, err
	}
	if err := e.store.DeactivateConnection(ctx, c.ID, status, lastError, e.now()); err != nil {
		return nil, fmt.Errorf("barre: deactivate %s: %w", providerName, err)
	}
	c, err = e.store.GetConnectionByID(ctx, c.ID)
	if err != nil {
		return nil, err
	}

	e.logger.Info("accounting connection deactivated",
		"studio_key", studioKey,
		"provider", providerName,
		"status", string(status),
	)
	e.plugins.EmitConnectionDisconnected(ctx, c)
	return c, nil
}

// RecordTokenState stores refreshed token metadata from the OAuth
// collaborator. Only presence flags and expiry are kept.
func (e *Engine) RecordTokenState(ctx context.Context, studioKey, providerName string, tokens connection.TokenState) (*connection.Connection, error) {
	studioKey, providerName, err := connectionKey(studioKey, providerName)
	if err != nil {
		return nil, err
	}
	c, err := e.store.GetConnection(ctx, studioKey, providerName)
	if err != nil {
		return nil, err
	}
	if err := e.store.SetConnectionTokens(ctx, c.ID, tokens, e.now()); err != nil {
		return nil, fmt.Errorf("barre: record token state: %w", err)
	}
	return e.store.GetConnectionByID(ctx, c.ID)
}

// SetMappings replaces the account mapping used when syncing to provider.
func (e *Engine) SetMappings(ctx context.Context, studioKey, providerName string, m mapping.Mapping) (*connection.Connection, error) {
	studioKey, providerName, err := connectionKey(studioKey, providerName)
	if err != nil {
		return nil, err
	}
	if err := validateMapping(m); err != nil {
		return nil, err
	}
	c, err := e.store.GetConnection(ctx, studioKey, providerName)
	if err != nil {
		return nil, err
	}
	if err := e.store.SetConnectionMapping(ctx, c.ID, m, e.now()); err != nil {
		return nil, fmt.Errorf("barre: set mappings: %w", err)
	}
	return e.store.GetConnectionByID(ctx, c.ID)
}

// ListConnections returns every connection the studio has had, including
// disconnected ones.
func (e *Engine) ListConnections(ctx context.Context, studioKey string) ([]*connection.Connection, error) {
	return e.store.ListConnections(ctx, studioKey)
}

// ActiveConnection returns the studio's active connection, or
// ErrNoActiveConnection.
func (e *Engine) ActiveConnection(ctx context.Context, studioKey string) (*connection.Connection, error) {
	return e.store.GetActiveConnection(ctx, studioKey)
}

func connectionKey(studioKey, providerName string) (string, string, error) {
	studioKey = strings.TrimSpace(studioKey)
	providerName = strings.ToLower(strings.TrimSpace(providerName))
	if studioKey == "" {
		return "", "", ValidationError{Field: "studio_key", Message: "is required"}
	}
	if providerName == "" {
		return "", "", ValidationError{Field: "provider", Message: "is required"}
	}
	return studioKey, providerName, nil
}
