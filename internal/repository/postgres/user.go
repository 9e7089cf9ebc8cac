package postgres

import (
	"context"
	"strings"

	"authz-gateway/internal/identity"
	"authz-gateway/internal/roles"
	apperrors "authz-gateway/pkg/errors"

	"github.com/google/uuid"
)

const userColumns = `id, email, name, role, password_hash, created_at, updated_at`

// UserRepository is the postgres-backed identity.Store.
type UserRepository struct {
	q querier
}

func NewUserRepository(db *DB) *UserRepository {
	return &UserRepository{q: db.Pool}
}

type CreateUserInput struct {
	Email        string
	Name         string
	Role         string
	PasswordHash string
}

func (r *UserRepository) Create(ctx context.Context, input CreateUserInput) (*identity.User, error) {
	query := `
		INSERT INTO users (id, email, name, role, password_hash)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING ` + userColumns

	u, err := scanUser(r.q.QueryRow(ctx, query,
		uuid.NewString(),
		strings.ToLower(strings.TrimSpace(input.Email)),
		input.Name,
		roles.Normalize(input.Role),
		input.PasswordHash,
	))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, apperrors.Conflict(errEmailExists)
		}
		return nil, errFailedCreateUser(err)
	}

	return u, nil
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (*identity.User, error) {
	if strings.TrimSpace(id) == "" {
		return nil, apperrors.BadRequest(errSubjectRequired)
	}

	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`

	u, err := scanUser(r.q.QueryRow(ctx, query, id))
	if err != nil {
		if isNoRows(err) {
			return nil, apperrors.NotFound(errUserNotFound)
		}
		return nil, errFailedGetUser(err)
	}

	return u, nil
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*identity.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1`

	u, err := scanUser(r.q.QueryRow(ctx, query, strings.ToLower(strings.TrimSpace(email))))
	if err != nil {
		if isNoRows(err) {
			return nil, apperrors.NotFound(errUserNotFound)
		}
		return nil, errFailedGetUser(err)
	}

	return u, nil
}

func (r *UserRepository) UpdateRole(ctx context.Context, id, role string) error {
	query := `UPDATE users SET role = $2, updated_at = NOW() WHERE id = $1`

	result, err := r.q.Exec(ctx, query, id, roles.Normalize(role))
	if err != nil {
		return errFailedUpdateUserRole(err)
	}

	if result.RowsAffected() == 0 {
		return apperrors.NotFound(errUserNotFound)
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*identity.User, error) {
	u := &identity.User{}
	if err := row.Scan(
		&u.ID,
		&u.Email,
		&u.Name,
		&u.Role,
		&u.PasswordHash,
		&u.CreatedAt,
		&u.UpdatedAt,
	); err != nil {
		return nil, err
	}
	u.Role = roles.Normalize(u.Role)
	return u, nil
}
