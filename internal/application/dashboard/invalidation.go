package dashboard

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	scopeapp "github.com/erp/console/internal/application/scope"
	sessionapp "github.com/erp/console/internal/application/session"
	"github.com/erp/console/internal/domain/session"
)

// ContextInvalidator is the slice of the cache API the subscriber drives.
// Each generic cache instance satisfies it.
type ContextInvalidator interface {
	InvalidateAll(ctx context.Context)
	InvalidateOtherContexts(ctx context.Context, tenantID uuid.UUID, projectSegment string)
}

// InvalidationSubscriber wires session and scope transitions to cache
// invalidation: logout or expiry clears everything; a tenant or project
// switch removes entries bound to the superseded context. This is the only
// place cache invalidation is triggered from auth/scope state.
type InvalidationSubscriber struct {
	caches []ContextInvalidator
	logger *zap.Logger
}

// NewInvalidationSubscriber creates a subscriber over the given caches
func NewInvalidationSubscriber(logger *zap.Logger, caches ...ContextInvalidator) *InvalidationSubscriber {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InvalidationSubscriber{caches: caches, logger: logger}
}

// Register attaches the subscriber to the session and scope managers
func (s *InvalidationSubscriber) Register(sessions *sessionapp.Manager, scopes *scopeapp.Manager) {
	sessions.OnStatusChange(s.onSessionChange)
	scopes.OnChange(s.onScopeChange)
}

func (s *InvalidationSubscriber) onSessionChange(snapshot session.Session) {
	if snapshot.Status != session.StatusUnauthenticated && snapshot.Status != session.StatusExpired {
		return
	}

	ctx := context.Background()
	for _, c := range s.caches {
		c.InvalidateAll(ctx)
	}
	s.logger.Debug("Cleared caches after session end",
		zap.String("status", string(snapshot.Status)))
}

func (s *InvalidationSubscriber) onScopeChange(change scopeapp.Change) {
	if !change.Active {
		return
	}

	ctx := context.Background()
	for _, c := range s.caches {
		c.InvalidateOtherContexts(ctx, change.TenantID, change.Selection.Segment())
	}
	s.logger.Debug("Invalidated caches outside active scope",
		zap.String("tenant_id", change.TenantID.String()),
		zap.String("project", change.Selection.Segment()))
}
