// Package gatekeeper decides, for every inbound request, whether it may reach its
// handler.
//
// Per request the gatekeeper reads the session credential, verifies it, resolves
// the caller's role, consults the policy decision point for protected paths and
// refreshes the credential on successful GETs. Every failure resolves to one of
// pass-through, redirect or cookie-clear; nothing escapes to the handler.
package gatekeeper

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"authz-gateway/internal/identity"
	"authz-gateway/internal/policy"
	"authz-gateway/internal/roles"
	"authz-gateway/internal/session"
	apperrors "authz-gateway/pkg/errors"
	"authz-gateway/pkg/logger"
	"authz-gateway/pkg/metrics"

	"github.com/rs/zerolog"
)

// Verdict is the terminal state of one request.
type Verdict int

const (
	PassThrough Verdict = iota
	RedirectSignIn
	RedirectForbidden
)

func (v Verdict) String() string {
	switch v {
	case PassThrough:
		return "pass_through"
	case RedirectSignIn:
		return "redirect_sign_in"
	case RedirectForbidden:
		return "redirect_forbidden"
	default:
		return fmt.Sprintf("verdict(%d)", int(v))
	}
}

// SessionStore is the request-scoped cookie capability.
type SessionStore interface {
	Read() (token string, ok bool)
	Write(token string, expires time.Time)
	Clear()
}

type Request struct {
	Method string
	Path   string
}

// Outcome is what the transport adapter acts on. Identity is set whenever a
// credential verified, including on forbidden outcomes.
type Outcome struct {
	Verdict   Verdict
	Location  string
	Reason    Reason
	Identity  *identity.Identity
	Refreshed bool
}

type Config struct {
	ProtectedPrefix string
	SignInPath      string
	ForbiddenPath   string
}

type Option func(*Gatekeeper)

// WithIdentityStore enables role lookup for credentials minted without a role.
func WithIdentityStore(s identity.Store) Option {
	return func(g *Gatekeeper) {
		g.users = s
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(g *Gatekeeper) {
		g.log = logger.Component(l, "gatekeeper")
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(g *Gatekeeper) {
		g.metrics = m
	}
}

// Gatekeeper holds only immutable collaborators and is safe for concurrent use.
type Gatekeeper struct {
	codec   *session.Codec
	policy  policy.Client
	users   identity.Store
	cfg     Config
	log     zerolog.Logger
	metrics *metrics.Metrics
}

func New(codec *session.Codec, client policy.Client, cfg Config, opts ...Option) (*Gatekeeper, error) {
	if codec == nil {
		return nil, apperrors.Configuration("gatekeeper: session codec is required")
	}
	if client == nil {
		return nil, apperrors.Configuration("gatekeeper: policy client is required")
	}
	for name, p := range map[string]string{
		"protected prefix": cfg.ProtectedPrefix,
		"sign-in path":     cfg.SignInPath,
		"forbidden path":   cfg.ForbiddenPath,
	} {
		if !strings.HasPrefix(p, "/") {
			return nil, apperrors.Configuration(fmt.Sprintf("gatekeeper: %s must start with '/'", name))
		}
	}
	cfg.ProtectedPrefix = strings.TrimRight(cfg.ProtectedPrefix, "/")

	g := &Gatekeeper{
		codec:  codec,
		policy: client,
		cfg:    cfg,
		log:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(g)
	}

	return g, nil
}

// IsProtected matches the prefix on path segment boundaries, so "/dashboard" and
// "/dashboard/x" are protected while "/dashboards" is not. The two redirect
// destinations are never protected.
func (g *Gatekeeper) IsProtected(path string) bool {
	if path == g.cfg.SignInPath || path == g.cfg.ForbiddenPath {
		return false
	}
	prefix := g.cfg.ProtectedPrefix
	if prefix == "" {
		return true
	}
	return path == prefix || strings.HasPrefix(path, prefix+"/")
}

// Process runs the per-request state machine against store.
func (g *Gatekeeper) Process(ctx context.Context, req Request, store SessionStore) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			g.log.Error().
				Str("path", req.Path).
				Str("panic", fmt.Sprint(r)).
				Msg(msgPanicRecovered)
			store.Clear()
			out = g.signIn(ReasonInternal)
		}
	}()

	protected := g.IsProtected(req.Path)

	token, ok := store.Read()
	if !ok || token == "" {
		if protected {
			return g.signIn(ReasonNoSession)
		}
		return Outcome{Verdict: PassThrough, Reason: ReasonPublic}
	}

	claims, err := g.codec.Verify(token)
	if err != nil {
		reason := ReasonInvalidToken
		if errors.Is(err, apperrors.ErrExpiredToken) {
			reason = ReasonExpiredToken
		}
		g.log.Info().
			Str("path", req.Path).
			Str("reason", string(reason)).
			Str("error", logger.SanitizeLogMessage(err.Error())).
			Msg(msgSessionRejected)
		store.Clear()
		if protected {
			return g.signIn(reason)
		}
		// Public paths continue anonymously so sign-in and the API can answer
		// on their own terms.
		return Outcome{Verdict: PassThrough, Reason: reason}
	}

	id := &identity.Identity{ID: claims.SubjectID(), Role: claims.Role}
	if id.Role == "" {
		g.resolveRole(ctx, id)
	}

	out = Outcome{Verdict: PassThrough, Reason: ReasonPublic, Identity: id}

	if protected {
		g.policy.EnsureRole(ctx, id.ID, id.Role, policy.DefaultTenant)
		permitted := g.policy.Check(ctx, policy.Request{
			Subject:  id.ID,
			Action:   actionView,
			Resource: resourceDashboard,
		})

		switch {
		case permitted:
			out.Reason = ReasonPermitted
			g.metrics.RecordDecision(metrics.DecisionAllowed)
		case roles.IsRecognized(id.Role):
			out.Reason = ReasonWhitelisted
			g.metrics.RecordDecision(metrics.DecisionAllowedFallback)
		default:
			g.metrics.RecordDecision(metrics.DecisionForbidden)
			g.log.Info().
				Str("path", req.Path).
				Str("subject", id.ID).
				Str("role", id.Role).
				Msg(msgAccessForbidden)
			return Outcome{
				Verdict:  RedirectForbidden,
				Location: g.cfg.ForbiddenPath,
				Reason:   ReasonForbidden,
				Identity: id,
			}
		}
	}

	if req.Method == http.MethodGet {
		out.Refreshed = g.refresh(claims, id.Role, store)
	}

	return out
}

func (g *Gatekeeper) signIn(reason Reason) Outcome {
	g.metrics.RecordDecision(metrics.DecisionSignInRedirect)
	return Outcome{Verdict: RedirectSignIn, Location: g.cfg.SignInPath, Reason: reason}
}

// resolveRole fills id from the identity store. A failed lookup leaves the role
// empty, which the whitelist never matches.
func (g *Gatekeeper) resolveRole(ctx context.Context, id *identity.Identity) {
	if g.users == nil {
		return
	}

	user, err := g.users.GetByID(ctx, id.ID)
	if err != nil {
		g.log.Warn().
			Str("subject", id.ID).
			Str("error", logger.SanitizeLogMessage(err.Error())).
			Msg(msgRoleLookupFailed)
		return
	}

	id.Role = roles.Normalize(user.Role)
	id.Email = user.Email
	id.Name = user.Name
}

func (g *Gatekeeper) refresh(claims *session.Claims, role string, store SessionStore) bool {
	token, refreshed, err := g.codec.Refresh(claims, role)
	if err != nil {
		g.log.Debug().
			Str("subject", claims.SubjectID()).
			Str("error", err.Error()).
			Msg(msgRefreshFailed)
		return false
	}

	store.Write(token, refreshed.Expiry())
	g.metrics.RecordDecision(metrics.DecisionRefreshed)
	return true
}
