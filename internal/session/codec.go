// Package session signs and verifies the short-lived session credential carried in
// the session cookie.
package session

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"authz-gateway/internal/roles"
	apperrors "authz-gateway/pkg/errors"

	"github.com/golang-jwt/jwt/v5"
)

// TokenTTL is the fixed lifetime of every minted credential.
const TokenTTL = 24 * time.Hour

const (
	msgSecretRequired         = "session signing secret must be set"
	msgSubjectRequired        = "session claims require a subject"
	msgRoleRequired           = "session claims require a role"
	msgTokenExpired           = "session token has expired"
	msgTokenInvalid           = "session token is invalid"
	msgUnexpectedSigningAlg   = "unexpected signing method: %v"
	msgTokenMissingSubject    = "session token has no subject"
	msgTokenMissingExpiration = "session token has no expiry"
)

// Claims is the only shape of credential the gateway mints or accepts.
type Claims struct {
	Role string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// SubjectID returns the subject the credential was issued to.
func (c *Claims) SubjectID() string {
	return c.Subject
}

// Expiry returns the expires-at instant, or the zero time if absent.
func (c *Claims) Expiry() time.Time {
	if c.ExpiresAt == nil {
		return time.Time{}
	}
	return c.ExpiresAt.Time
}

// Codec holds the signing secret. It is immutable after construction and safe for
// concurrent use.
type Codec struct {
	secret []byte
	now    func() time.Time
}

type Option func(*Codec)

// WithClock overrides the time source used for issuance and expiry checks.
func WithClock(now func() time.Time) Option {
	return func(c *Codec) {
		c.now = now
	}
}

// NewCodec fails with apperrors.ErrConfiguration when the secret is empty.
func NewCodec(secret string, opts ...Option) (*Codec, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, apperrors.Configuration(msgSecretRequired)
	}

	c := &Codec{
		secret: []byte(secret),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// Sign stamps issued-at and expires-at (issued-at + TokenTTL) onto a copy of the
// claims and returns the compact HS256 token together with the stamped claims.
func (c *Codec) Sign(subjectID, role string) (string, *Claims, error) {
	// NumericDate has second precision; truncate so the signed and returned
	// claims agree exactly.
	issuedAt := c.now().Truncate(time.Second)
	return c.sign(subjectID, role, issuedAt, issuedAt.Add(TokenTTL))
}

// Refresh re-signs existing claims with a fresh expiry. A role resolved after
// verification can be supplied to fill a credential that was minted without one.
// The new expiry is always strictly later than the old one, even when both fall
// in the same second.
func (c *Codec) Refresh(claims *Claims, resolvedRole string) (string, *Claims, error) {
	role := claims.Role
	if roles.Normalize(role) == "" {
		role = resolvedRole
	}

	issuedAt := c.now().Truncate(time.Second)
	expiresAt := issuedAt.Add(TokenTTL)
	if prev := claims.Expiry(); !prev.IsZero() && !expiresAt.After(prev) {
		expiresAt = prev.Add(time.Second)
	}

	return c.sign(claims.Subject, role, issuedAt, expiresAt)
}

func (c *Codec) sign(subjectID, role string, issuedAt, expiresAt time.Time) (string, *Claims, error) {
	subjectID = strings.TrimSpace(subjectID)
	if subjectID == "" {
		return "", nil, apperrors.BadRequest(msgSubjectRequired)
	}

	role = roles.Normalize(role)
	if role == "" {
		return "", nil, apperrors.BadRequest(msgRoleRequired)
	}

	claims := &Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subjectID,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", nil, apperrors.InternalServer("sign session token", err)
	}

	return token, claims, nil
}

// Verify checks algorithm, signature and expiry. It fails with
// apperrors.ErrExpiredToken once now is past expires-at and with
// apperrors.ErrInvalidToken for every other defect.
func (c *Codec) Verify(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf(msgUnexpectedSigningAlg, token.Header["alg"])
		}
		return c.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, apperrors.ExpiredToken(msgTokenExpired)
		}
		if errors.Is(err, jwt.ErrTokenRequiredClaimMissing) {
			return nil, apperrors.InvalidToken(msgTokenMissingExpiration, err)
		}
		return nil, apperrors.InvalidToken(msgTokenInvalid, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, apperrors.InvalidToken(msgTokenInvalid, nil)
	}

	if strings.TrimSpace(claims.Subject) == "" {
		return nil, apperrors.InvalidToken(msgTokenMissingSubject, nil)
	}

	claims.Role = roles.Normalize(claims.Role)

	return claims, nil
}
