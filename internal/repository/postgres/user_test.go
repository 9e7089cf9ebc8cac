package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"authz-gateway/internal/identity"
	apperrors "authz-gateway/pkg/errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ identity.Store = (*UserRepository)(nil)

type fakeRow struct {
	values []any
	err    error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	for i, d := range dest {
		switch p := d.(type) {
		case *string:
			*p = r.values[i].(string)
		case *time.Time:
			*p = r.values[i].(time.Time)
		}
	}
	return nil
}

type fakeQuerier struct {
	row      fakeRow
	tag      pgconn.CommandTag
	execErr  error
	lastSQL  string
	lastArgs []any
}

func (q *fakeQuerier) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	q.lastSQL, q.lastArgs = sql, args
	return q.row
}

func (q *fakeQuerier) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	q.lastSQL, q.lastArgs = sql, args
	return q.tag, q.execErr
}

func userRow(id, email, role string) fakeRow {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return fakeRow{values: []any{id, email, "Ada", role, "$2a$10$hash", now, now}}
}

func TestGetByIDScansUser(t *testing.T) {
	q := &fakeQuerier{row: userRow("42", "ada@example.com", " Recruiter ")}
	repo := &UserRepository{q: q}

	u, err := repo.GetByID(context.Background(), "42")
	require.NoError(t, err)
	assert.Equal(t, "42", u.ID)
	assert.Equal(t, "recruiter", u.Role)
	assert.Equal(t, []any{"42"}, q.lastArgs)
	assert.Equal(t, &identity.Identity{ID: "42", Role: "recruiter", Email: "ada@example.com", Name: "Ada"}, u.Identity())
}

func TestGetByIDNotFound(t *testing.T) {
	repo := &UserRepository{q: &fakeQuerier{row: fakeRow{err: pgx.ErrNoRows}}}

	_, err := repo.GetByID(context.Background(), "missing")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestGetByIDRejectsEmptyID(t *testing.T) {
	q := &fakeQuerier{}
	repo := &UserRepository{q: q}

	_, err := repo.GetByID(context.Background(), " ")
	assert.ErrorIs(t, err, apperrors.ErrBadRequest)
	assert.Empty(t, q.lastSQL)
}

func TestGetByIDWrapsDriverErrors(t *testing.T) {
	cause := errors.New("conn reset")
	repo := &UserRepository{q: &fakeQuerier{row: fakeRow{err: cause}}}

	_, err := repo.GetByID(context.Background(), "42")
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, apperrors.ErrNotFound)
}

func TestGetByEmailNormalizesInput(t *testing.T) {
	q := &fakeQuerier{row: userRow("42", "ada@example.com", "issuer")}
	repo := &UserRepository{q: q}

	_, err := repo.GetByEmail(context.Background(), "  Ada@Example.com ")
	require.NoError(t, err)
	assert.Equal(t, []any{"ada@example.com"}, q.lastArgs)
}

func TestCreateMapsUniqueViolation(t *testing.T) {
	repo := &UserRepository{q: &fakeQuerier{row: fakeRow{err: &pgconn.PgError{Code: "23505"}}}}

	_, err := repo.Create(context.Background(), CreateUserInput{Email: "ada@example.com", Role: "issuer"})
	assert.ErrorIs(t, err, apperrors.ErrConflict)
}

func TestUpdateRole(t *testing.T) {
	q := &fakeQuerier{tag: pgconn.NewCommandTag("UPDATE 1")}
	repo := &UserRepository{q: q}

	require.NoError(t, repo.UpdateRole(context.Background(), "42", " Administrator"))
	assert.Equal(t, []any{"42", "administrator"}, q.lastArgs)

	q.tag = pgconn.NewCommandTag("UPDATE 0")
	assert.ErrorIs(t, repo.UpdateRole(context.Background(), "nobody", "issuer"), apperrors.ErrNotFound)
}
