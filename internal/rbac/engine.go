package rbac

import (
	"context"
	"errors"
	"slices"
	"strings"
)

// DecisionObserver receives every allow/deny decision, e.g. for metrics.
type DecisionObserver interface {
	ObserveDecision(permission string, allowed bool)
}

// Engine answers "may subject S perform permission P?" against a Source.
// It keeps no state of its own between calls.
type Engine struct {
	source   Source
	observer DecisionObserver
}

// NewEngine constructs an Engine over source. observer may be nil.
func NewEngine(source Source, observer DecisionObserver) *Engine {
	return &Engine{source: source, observer: observer}
}

// IsAllowed reports whether subject holds permission through any assigned
// role or a direct grant. Unregistered permissions yield ErrUnknownPermission.
func (e *Engine) IsAllowed(ctx context.Context, subject, permission string) (bool, error) {
	permission = strings.TrimSpace(permission)
	if _, err := e.source.GetPermission(ctx, permission); err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, unknownPermission(permission)
		}
		return false, err
	}
	granted, err := e.source.EffectivePermissions(ctx, subject)
	if err != nil {
		return false, err
	}
	allowed := slices.Contains(granted, permission)
	if e.observer != nil {
		e.observer.ObserveDecision(permission, allowed)
	}
	return allowed, nil
}

// RequirePermission returns nil when subject holds permission and a
// *ForbiddenError otherwise.
func (e *Engine) RequirePermission(ctx context.Context, subject, permission string) error {
	allowed, err := e.IsAllowed(ctx, subject, permission)
	if err != nil {
		return err
	}
	if !allowed {
		return &ForbiddenError{Subject: subject, Permission: strings.TrimSpace(permission)}
	}
	return nil
}

// EffectivePermissions returns the sorted union of role and direct permissions.
func (e *Engine) EffectivePermissions(ctx context.Context, subject string) ([]string, error) {
	return e.source.EffectivePermissions(ctx, subject)
}

// RequireAny succeeds when subject holds at least one of permissions.
func RequireAny(ctx context.Context, authz Authorizer, subject string, permissions ...string) error {
	if len(permissions) == 0 {
		return nil
	}
	var denied error
	for _, p := range permissions {
		err := authz.RequirePermission(ctx, subject, p)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrForbidden) {
			return err
		}
		if denied == nil {
			denied = err
		}
	}
	return denied
}

// RequireAll succeeds when subject holds every one of permissions.
func RequireAll(ctx context.Context, authz Authorizer, subject string, permissions ...string) error {
	for _, p := range permissions {
		if err := authz.RequirePermission(ctx, subject, p); err != nil {
			return err
		}
	}
	return nil
}

var _ Authorizer = (*Engine)(nil)
