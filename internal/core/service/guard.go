package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/yndnr/kvmirror/internal/core/domain"
)

// SessionKey is the internal partition key holding the last validated session.
const SessionKey = "session"

// SessionGuard invalidates mirrored data when the session changes.
type SessionGuard struct {
	store             Store
	dataPartition     string
	internalPartition string
	logger            *slog.Logger

	// OnInvalidate is called after the data partition was cleared.
	OnInvalidate func()

	// mu makes the read-compare-write sequence atomic across connections.
	mu sync.Mutex
}

// NewSessionGuard creates a new SessionGuard.
func NewSessionGuard(store Store, dataPartition, internalPartition string, logger *slog.Logger) *SessionGuard {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionGuard{
		store:             store,
		dataPartition:     dataPartition,
		internalPartition: internalPartition,
		logger:            logger,
	}
}

// Current returns the last validated session, or the unset session when
// none was ever recorded.
func (g *SessionGuard) Current(ctx context.Context) (domain.Session, error) {
	raw, err := g.store.Get(ctx, g.internalPartition, SessionKey)
	if err != nil {
		return domain.UnsetSession(), err
	}
	if raw == nil {
		return domain.UnsetSession(), nil
	}

	var current domain.Session
	if err := json.Unmarshal(raw, &current); err != nil {
		return domain.UnsetSession(), domain.ErrStoreRead.WithDetails("corrupt session record").WithCause(err)
	}
	return current, nil
}

// Validate compares requested with the recorded session.
//
// An unset request and an unchanged session are no-ops. Otherwise the data
// partition is cleared when a token was recorded, and requested is stored.
// The clear is committed before the new session is written.
func (g *SessionGuard) Validate(ctx context.Context, requested domain.Session) error {
	if requested.IsUnset() {
		return nil
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	current, err := g.Current(ctx)
	if err != nil {
		return err
	}
	if requested.Equal(current) {
		return nil
	}

	if _, hadToken := current.Token(); hadToken {
		if err := g.store.Clear(ctx, g.dataPartition); err != nil {
			return err
		}
		if g.OnInvalidate != nil {
			g.OnInvalidate()
		}
		g.logger.InfoContext(ctx, "mirrored data invalidated",
			"previous_session", current.String(),
			"session", requested.String())
	}

	raw, err := json.Marshal(requested)
	if err != nil {
		return domain.ErrInvalidArgument.WithCause(err)
	}
	return g.store.Set(ctx, g.internalPartition, SessionKey, raw)
}
