// Package policy talks to the remote policy decision point (PDP).
//
// Two implementations share the Client interface. HTTPClient performs real
// decision and role-sync calls. Restricted is used where that machinery is not
// available: it denies every check and ignores role syncs. Callers are written
// once against Client and never branch on which one they hold.
package policy

import (
	"context"
	"fmt"

	apperrors "authz-gateway/pkg/errors"
)

// DefaultTenant is used whenever a request leaves the tenant empty.
const DefaultTenant = "default"

const (
	ModeFull       = "full"
	ModeRestricted = "restricted"
)

// Request asks whether Subject may perform Action on Resource.
type Request struct {
	Subject  string
	Action   string
	Resource string
	Context  map[string]any
	Tenant   string
}

func (r Request) tenant() string {
	if r.Tenant == "" {
		return DefaultTenant
	}
	return r.Tenant
}

// Client is safe for concurrent use by many requests.
type Client interface {
	// Check returns the PDP's answer. It never fails: any transport error,
	// timeout or non-success response resolves to false.
	Check(ctx context.Context, req Request) bool
	// EnsureRole idempotently registers subject with role in tenant. Failures are
	// logged and swallowed.
	EnsureRole(ctx context.Context, subject, role, tenant string)
}

// New selects the implementation for the configured mode.
func New(mode string, cfg Config, opts ...Option) (Client, error) {
	switch mode {
	case ModeRestricted:
		return NewRestricted(), nil
	case ModeFull:
		return NewHTTPClient(cfg, opts...)
	default:
		return nil, apperrors.Configuration(fmt.Sprintf("unknown policy mode %q", mode))
	}
}
