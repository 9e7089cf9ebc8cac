package validator

import (
	"fmt"
	"regexp"

	apperrors "authz-gateway/pkg/errors"
)

const (
	minEmailLength    = 3
	maxEmailLength    = 255
	minPasswordLength = 8
	// bcrypt ignores everything past 72 bytes
	maxPasswordLength  = 72
	maxSubjectIDLength = 128
	asciiControlStart  = 32
	asciiDelete        = 127

	errEmailEmpty           = "email cannot be empty"
	errEmailLengthFmt       = "email must be between %d and %d characters"
	errEmailInvalid         = "invalid email format"
	errPasswordMinLengthFmt = "password must be at least %d characters"
	errPasswordMaxLengthFmt = "password must not exceed %d bytes"
	errSubjectIDEmpty       = "subject id cannot be empty"
	errSubjectIDLengthFmt   = "subject id must not exceed %d characters"
	errSubjectIDInvalid     = "subject id cannot contain whitespace or control characters"
)

var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

func Email(email string) error {
	if email == "" {
		return apperrors.BadRequest(errEmailEmpty)
	}

	if len(email) < minEmailLength || len(email) > maxEmailLength {
		return apperrors.BadRequest(fmt.Sprintf(errEmailLengthFmt, minEmailLength, maxEmailLength))
	}

	if !emailRegex.MatchString(email) {
		return apperrors.BadRequest(errEmailInvalid)
	}

	return nil
}

func Password(password string) error {
	if len(password) < minPasswordLength {
		return apperrors.BadRequest(fmt.Sprintf(errPasswordMinLengthFmt, minPasswordLength))
	}

	if len(password) > maxPasswordLength {
		return apperrors.BadRequest(fmt.Sprintf(errPasswordMaxLengthFmt, maxPasswordLength))
	}

	return nil
}

// SubjectID accepts the opaque ids the identity store hands out. They travel in
// URLs and PDP requests, so spaces and control characters are refused.
func SubjectID(id string) error {
	if id == "" {
		return apperrors.BadRequest(errSubjectIDEmpty)
	}

	if len(id) > maxSubjectIDLength {
		return apperrors.BadRequest(fmt.Sprintf(errSubjectIDLengthFmt, maxSubjectIDLength))
	}

	for _, r := range id {
		if r <= asciiControlStart || r == asciiDelete {
			return apperrors.BadRequest(errSubjectIDInvalid)
		}
	}

	return nil
}
