package guard

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"authz-gateway/internal/audit"
	"authz-gateway/internal/identity"
	"authz-gateway/internal/policy"
	apperrors "authz-gateway/pkg/errors"
	"authz-gateway/pkg/metrics"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePolicy struct {
	mu      sync.Mutex
	allow   bool
	panicOn bool
	calls   []string
	last    policy.Request
}

func (p *fakePolicy) Check(_ context.Context, req policy.Request) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.panicOn {
		panic("decision point exploded")
	}
	p.calls = append(p.calls, "check")
	p.last = req
	return p.allow
}

func (p *fakePolicy) EnsureRole(context.Context, string, string, string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, "ensure")
}

type fakeRecorder struct {
	events []*audit.Event
}

func (r *fakeRecorder) Record(_ context.Context, e *audit.Event) {
	r.events = append(r.events, e)
}

func signedIn(id, role string) context.Context {
	return identity.WithContext(context.Background(), &identity.Identity{ID: id, Role: role})
}

var statsPermission = Permission{Action: "read", Resource: "admin_stats"}

func TestRunWithoutIdentityFailsBeforeWork(t *testing.T) {
	fp := &fakePolicy{allow: true}
	g, err := New(fp, nil)
	require.NoError(t, err)

	executed := 0
	res := Run(context.Background(), g, statsPermission, func(context.Context, *identity.Identity) (string, error) {
		executed++
		return "stats", nil
	})

	assert.Zero(t, executed)
	require.True(t, res.Denied())
	assert.Equal(t, MsgNotAuthenticated, res.Denial.Error)
	assert.ErrorIs(t, res.Denial.Cause, apperrors.ErrNotAuthenticated)
	assert.Empty(t, fp.calls)
}

func TestRunResolverErrorIsNotAuthenticated(t *testing.T) {
	g, err := New(&fakePolicy{allow: true}, func(context.Context) (*identity.Identity, error) {
		return nil, errors.New("session store offline")
	})
	require.NoError(t, err)

	res := Run(context.Background(), g, statsPermission, func(context.Context, *identity.Identity) (int, error) {
		t.Fatal("work must not run")
		return 0, nil
	})

	require.True(t, res.Denied())
	assert.ErrorIs(t, res.Denial.Cause, apperrors.ErrNotAuthenticated)
}

func TestRunDeniedNeverExecutesWork(t *testing.T) {
	fp := &fakePolicy{allow: false}
	rec := &fakeRecorder{}
	m := metrics.New()
	g, err := New(fp, nil, WithAudit(rec), WithMetrics(m))
	require.NoError(t, err)

	executed := 0
	res := Run(signedIn("42", "administrator"), g, statsPermission, func(context.Context, *identity.Identity) (string, error) {
		executed++
		return "stats", nil
	})

	assert.Zero(t, executed)
	require.True(t, res.Denied())
	assert.Equal(t, "Unauthorized.", res.Denial.Error)
	assert.ErrorIs(t, res.Denial.Cause, apperrors.ErrUnauthorized)
	assert.Empty(t, res.Value)
	assert.NoError(t, res.Err)

	require.Len(t, rec.events, 1)
	assert.Equal(t, "42", rec.events[0].ActorID)
	assert.Equal(t, audit.StatusDenied, rec.events[0].Status)
	assert.Equal(t, int64(1), m.Snapshot().Decisions[metrics.DecisionActionDenied])
}

func TestWhitelistedRoleDoesNotBypassGuard(t *testing.T) {
	g, err := New(policy.NewRestricted(), nil)
	require.NoError(t, err)

	executed := 0
	res := Run(signedIn("1", "administrator"), g, statsPermission, func(context.Context, *identity.Identity) (bool, error) {
		executed++
		return true, nil
	})

	assert.True(t, res.Denied())
	assert.Zero(t, executed)
}

func TestRunPermittedExecutesOnceAndPassesThrough(t *testing.T) {
	fp := &fakePolicy{allow: true}
	g, err := New(fp, nil)
	require.NoError(t, err)

	workErr := errors.New("row locked")
	executed := 0
	p := Permission{Action: "assign", Resource: "roles", Context: map[string]any{"target": "7"}, Tenant: "acme"}
	res := Run(signedIn("42", "administrator"), g, p, func(_ context.Context, caller *identity.Identity) (string, error) {
		executed++
		assert.Equal(t, "42", caller.ID)
		return "partial", workErr
	})

	assert.Equal(t, 1, executed)
	assert.False(t, res.Denied())
	assert.Equal(t, "partial", res.Value)
	assert.Same(t, workErr, res.Err)

	assert.Equal(t, []string{"ensure", "check"}, fp.calls)
	assert.Equal(t, policy.Request{
		Subject:  "42",
		Action:   "assign",
		Resource: "roles",
		Context:  map[string]any{"target": "7"},
		Tenant:   "acme",
	}, fp.last)
}

func TestAuthorizeRecoversFromPanic(t *testing.T) {
	g, err := New(&fakePolicy{panicOn: true}, nil)
	require.NoError(t, err)

	executed := 0
	var res Result[int]
	assert.NotPanics(t, func() {
		res = Run(signedIn("42", "issuer"), g, statsPermission, func(context.Context, *identity.Identity) (int, error) {
			executed++
			return 1, nil
		})
	})

	assert.True(t, res.Denied())
	assert.Zero(t, executed)
}

func TestDenialJSONShape(t *testing.T) {
	body, err := json.Marshal(&Denial{Error: MsgUnauthorized, Cause: apperrors.Unauthorized(MsgUnauthorized)})
	require.NoError(t, err)
	assert.JSONEq(t, `{"error":"Unauthorized."}`, string(body))
}

func TestNewRequiresPolicyClient(t *testing.T) {
	_, err := New(nil, nil)
	assert.ErrorIs(t, err, apperrors.ErrConfiguration)
}
