// Package guard re-checks authorization in front of privileged server-side
// operations.
//
// Unlike the gatekeeper it never redirects. A denial comes back to the caller as a
// structured value, and the wrapped work runs only after the decision is final.
package guard

import (
	"context"
	"fmt"

	"authz-gateway/internal/audit"
	"authz-gateway/internal/identity"
	"authz-gateway/internal/policy"
	apperrors "authz-gateway/pkg/errors"
	"authz-gateway/pkg/logger"
	"authz-gateway/pkg/metrics"

	"github.com/rs/zerolog"
)

const (
	MsgUnauthorized     = "Unauthorized."
	MsgNotAuthenticated = "Not authenticated."
)

// Resolver returns the identity of the current caller. A nil identity or an
// error both mean nobody is signed in.
type Resolver func(ctx context.Context) (*identity.Identity, error)

// FromContext resolves the identity the gatekeeper attached to ctx.
func FromContext(ctx context.Context) (*identity.Identity, error) {
	id := identity.FromContext(ctx)
	if id == nil {
		return nil, apperrors.NotAuthenticated("no identity in request context")
	}
	return id, nil
}

// Permission is the (action, resource, context) triple an operation needs.
type Permission struct {
	Action   string
	Resource string
	Context  map[string]any
	Tenant   string
}

// Denial is the structured refusal handed back instead of running the work.
// Cause wraps apperrors.ErrNotAuthenticated or apperrors.ErrUnauthorized.
type Denial struct {
	Error string `json:"error"`
	Cause error  `json:"-"`
}

// Result carries exactly one of a denial or the work's own outcome.
type Result[T any] struct {
	Value  T
	Err    error
	Denial *Denial
}

// Denied reports whether the work was refused.
func (r Result[T]) Denied() bool {
	return r.Denial != nil
}

type Option func(*Guard)

func WithAudit(r audit.Recorder) Option {
	return func(g *Guard) {
		g.audit = r
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(g *Guard) {
		g.log = logger.Component(l, "guard")
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(g *Guard) {
		g.metrics = m
	}
}

type Guard struct {
	policy   policy.Client
	resolver Resolver
	audit    audit.Recorder
	log      zerolog.Logger
	metrics  *metrics.Metrics
}

func New(client policy.Client, resolver Resolver, opts ...Option) (*Guard, error) {
	if client == nil {
		return nil, apperrors.Configuration("guard: policy client is required")
	}
	if resolver == nil {
		resolver = FromContext
	}

	g := &Guard{
		policy:   client,
		resolver: resolver,
		audit:    audit.Nop{},
		log:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(g)
	}

	return g, nil
}

// Authorize resolves the caller and asks the policy client. It returns the
// identity on success and a Denial otherwise; it never panics.
func (g *Guard) Authorize(ctx context.Context, p Permission) (id *identity.Identity, denial *Denial) {
	defer func() {
		if r := recover(); r != nil {
			g.log.Error().
				Str("action", p.Action).
				Str("resource", p.Resource).
				Str("panic", fmt.Sprint(r)).
				Msg("guard recovered from panic")
			id = nil
			denial = &Denial{Error: MsgUnauthorized, Cause: apperrors.Unauthorized(MsgUnauthorized)}
		}
	}()

	id, err := g.resolver(ctx)
	if err != nil || id == nil || id.ID == "" {
		g.metrics.RecordDecision(metrics.DecisionNotAuthenticated)
		return nil, &Denial{Error: MsgNotAuthenticated, Cause: apperrors.NotAuthenticated(MsgNotAuthenticated)}
	}

	g.policy.EnsureRole(ctx, id.ID, id.Role, p.Tenant)
	if !g.policy.Check(ctx, policy.Request{
		Subject:  id.ID,
		Action:   p.Action,
		Resource: p.Resource,
		Context:  p.Context,
		Tenant:   p.Tenant,
	}) {
		g.metrics.RecordDecision(metrics.DecisionActionDenied)
		g.log.Info().
			Str("subject", id.ID).
			Str("action", p.Action).
			Str("resource", p.Resource).
			Msg("action denied")
		g.audit.Record(ctx, &audit.Event{
			EventType: audit.EventActionGuard,
			ActorID:   id.ID,
			Action:    p.Action,
			Resource:  p.Resource,
			Status:    audit.StatusDenied,
			Metadata:  p.Context,
		})
		return id, &Denial{Error: MsgUnauthorized, Cause: apperrors.Unauthorized(MsgUnauthorized)}
	}

	g.metrics.RecordDecision(metrics.DecisionActionAllowed)
	return id, nil
}

// Run authorizes p and then calls work exactly once with the caller's identity.
// Work's value and error pass through unchanged. A panic inside work is not
// recovered.
func Run[T any](ctx context.Context, g *Guard, p Permission, work func(ctx context.Context, caller *identity.Identity) (T, error)) Result[T] {
	caller, denial := g.Authorize(ctx, p)
	if denial != nil {
		return Result[T]{Denial: denial}
	}

	value, err := work(ctx, caller)
	return Result[T]{Value: value, Err: err}
}
