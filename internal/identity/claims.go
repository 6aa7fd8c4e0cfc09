package identity

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// AMREntry es un método de autenticación usado en la sesión.
type AMREntry struct {
	Method    string `json:"method"`
	Timestamp int64  `json:"timestamp"`
}

// AccessClaims son los claims del access token que usa el core.
type AccessClaims struct {
	Email        string       `json:"email"`
	AAL          AAL          `json:"aal"`
	AMR          []AMREntry   `json:"amr"`
	SessionID    string       `json:"session_id"`
	UserMetadata UserMetadata `json:"user_metadata"`
	jwt.RegisteredClaims
}

// ParseAccessClaims decodifica el payload sin verificar la firma.
// Solo para decisiones locales (aal, metadata); nunca como prueba de identidad.
func ParseAccessClaims(token string) (*AccessClaims, error) {
	var c AccessClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &c); err != nil {
		return nil, fmt.Errorf("identity: parse access token: %w", err)
	}
	if c.AAL == "" {
		c.AAL = AAL1
	}
	return &c, nil
}

// Methods lista los métodos AMR.
func (c *AccessClaims) Methods() []string {
	out := make([]string, 0, len(c.AMR))
	for _, m := range c.AMR {
		out = append(out, m.Method)
	}
	return out
}
