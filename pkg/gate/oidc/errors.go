package oidc

import (
	"errors"
	"fmt"
)

// ErrConfiguration is returned when a required setting (application base
// URL, client id, provider endpoints) is missing at first use.
var ErrConfiguration = errors.New("oidc: incomplete configuration")

// AuthenticationError reports that the login cannot complete: the callback
// state did not match, or the provider rejected the code or refresh token.
// The user can recover by starting a new login.
type AuthenticationError struct {
	// Code is the provider's error code ("invalid_grant") or a local code
	// such as "state_mismatch".
	Code        string
	Description string
	Err         error
}

func (e *AuthenticationError) Error() string {
	msg := "oidc: authentication failed: " + e.Code
	if e.Description != "" {
		msg += ": " + e.Description
	}
	if e.Err != nil && e.Description == "" {
		msg += fmt.Sprintf(" (%v)", e.Err)
	}
	return msg
}

func (e *AuthenticationError) Unwrap() error {
	return e.Err
}

// IsAuthenticationError reports whether err is or wraps an *AuthenticationError.
func IsAuthenticationError(err error) bool {
	var ae *AuthenticationError
	return errors.As(err, &ae)
}
