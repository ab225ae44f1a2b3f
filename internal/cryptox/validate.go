package cryptox

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/dmitrijs2005/fermentstation/internal/common"
)

const (
	MinPasswordLength = 8
	maxEmailLength    = 254
	maxLocalPart      = 64
)

var emailRe = regexp.MustCompile(`^[a-zA-Z0-9](?:[a-zA-Z0-9._%+\-]*[a-zA-Z0-9])?@[a-zA-Z0-9](?:[a-zA-Z0-9.\-]*[a-zA-Z0-9])?\.[a-zA-Z]{2,}$`)

// ValidateEmail normalizes the address and checks it against RFC 5321 length
// limits and a conservative format. It returns the normalized form.
func ValidateEmail(email string) (string, error) {
	e := common.NormalizeEmail(email)
	if e == "" {
		return "", common.NewValidationError("email", "email is required")
	}
	if len(e) > maxEmailLength {
		return "", common.NewValidationError("email", "email is too long")
	}
	local, _, found := strings.Cut(e, "@")
	if !found {
		return "", common.NewValidationError("email", "invalid email format")
	}
	if len(local) > maxLocalPart {
		return "", common.NewValidationError("email", "local part is too long")
	}
	if strings.Contains(e, "..") {
		return "", common.NewValidationError("email", "invalid email format")
	}
	if !emailRe.MatchString(e) {
		return "", common.NewValidationError("email", "invalid email format")
	}
	return e, nil
}

// ValidatePassword enforces the minimum length and rejects digit-only passwords.
func ValidatePassword(password string) error {
	if len([]rune(password)) < MinPasswordLength {
		return common.NewValidationError("password", "password must be at least 8 characters")
	}
	allDigits := true
	for _, r := range password {
		if !unicode.IsDigit(r) {
			allDigits = false
			break
		}
	}
	if allDigits {
		return common.NewValidationError("password", "password must not contain only digits")
	}
	return nil
}
