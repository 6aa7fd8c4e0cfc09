package identity

import (
	"errors"
	"fmt"
)

var (
	// ErrMisconfigured: backend sin URL/API key. Irrecuperable.
	ErrMisconfigured = errors.New("identity: provider misconfigured")
	// ErrNoAuthRedirect: la URL no trae tokens, code ni error de OAuth.
	ErrNoAuthRedirect = errors.New("identity: no auth redirect in url")
	// ErrNoSession: la operación requiere sesión.
	ErrNoSession = errors.New("identity: no active session")
)

// AuthError es un rechazo del backend (credenciales, code vencido, factor inválido).
type AuthError struct {
	Status  int
	Code    string
	Message string
}

func (e *AuthError) Error() string {
	switch {
	case e.Code != "" && e.Message != "":
		return fmt.Sprintf("identity: %s: %s", e.Code, e.Message)
	case e.Message != "":
		return "identity: " + e.Message
	case e.Code != "":
		return "identity: " + e.Code
	default:
		return fmt.Sprintf("identity: auth error (status %d)", e.Status)
	}
}

// AsAuthError extrae el *AuthError de la cadena.
func AsAuthError(err error) (*AuthError, bool) {
	var ae *AuthError
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}

// IsAuthError reporta si err es un rechazo del backend.
func IsAuthError(err error) bool {
	_, ok := AsAuthError(err)
	return ok
}
