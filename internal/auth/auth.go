// Package auth decides which callers count as setup controllers.
//
// It does not pair or encrypt; the transport below the control channel owns that.
package auth

import (
	"crypto/subtle"
	"errors"
	"strings"
)

var ErrUnknownController = errors.New("auth: unknown controller")

// Validator admits or rejects a controller id.
type Validator interface {
	Validate(controllerID string) error
}

// AllowAll admits any non-empty controller id.
type AllowAll struct{}

func (AllowAll) Validate(controllerID string) error {
	if strings.TrimSpace(controllerID) == "" {
		return ErrUnknownController
	}
	return nil
}

// Allowlist admits only the listed controller ids.
type Allowlist struct {
	IDs []string
}

func (a Allowlist) Validate(controllerID string) error {
	id := strings.TrimSpace(controllerID)
	if id == "" {
		return ErrUnknownController
	}
	for _, allowed := range a.IDs {
		if subtle.ConstantTimeCompare([]byte(strings.TrimSpace(allowed)), []byte(id)) == 1 {
			return nil
		}
	}
	return ErrUnknownController
}

// FuncValidator adapts a function into a Validator.
type FuncValidator func(controllerID string) error

func (f FuncValidator) Validate(controllerID string) error {
	return f(controllerID)
}

// ForIDs returns AllowAll for an empty list and an Allowlist otherwise.
func ForIDs(ids []string) Validator {
	if len(ids) == 0 {
		return AllowAll{}
	}
	return Allowlist{IDs: ids}
}
