// Package identity define el contrato con el backend de autenticación remoto
// y las piezas puras alrededor (redirect OAuth, claims del access token).
//
// La implementación HTTP vive en identity/gotrue.
package identity

import (
	"context"
	"strings"
	"time"
)

// UserMetadata son los datos libres que entrega el provider (full_name, avatar_url, ...).
type UserMetadata map[string]any

func (m UserMetadata) str(keys ...string) string {
	for _, k := range keys {
		if v, ok := m[k].(string); ok {
			if v = strings.TrimSpace(v); v != "" {
				return v
			}
		}
	}
	return ""
}

// FullName retorna el nombre que declara el provider, si hay.
func (m UserMetadata) FullName() string { return m.str("full_name", "name", "nome") }

// AvatarURL retorna la URL de avatar del provider, si hay.
func (m UserMetadata) AvatarURL() string { return m.str("avatar_url", "picture") }

// Identity es el principal autenticado.
type Identity struct {
	ID       string       `json:"id"`
	Email    string       `json:"email"`
	Metadata UserMetadata `json:"user_metadata,omitempty"`
	Factors  []Factor     `json:"factors,omitempty"`
}

// Session es la credencial opaca emitida por el provider.
type Session struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	TokenType    string    `json:"token_type"`
	ExpiresAt    time.Time `json:"expires_at"`
	User         Identity  `json:"user"`
}

// Expired reporta si el access token vence antes de now+margin.
func (s *Session) Expired(now time.Time, margin time.Duration) bool {
	if s == nil || s.ExpiresAt.IsZero() {
		return false
	}
	return !now.Add(margin).Before(s.ExpiresAt)
}

// AuthTokens es lo que trae un redirect OAuth.
// Flujo implícito: AccessToken/RefreshToken. Flujo PKCE: Code.
type AuthTokens struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	ExpiresIn    int
	ExpiresAt    int64
	ProviderType string
	Code         string
}

// IsCode indica un redirect PKCE que requiere intercambio.
func (t *AuthTokens) IsCode() bool { return t != nil && t.Code != "" && t.AccessToken == "" }

// Event del stream de cambios de sesión.
type Event string

const (
	EventInitialSession       Event = "INITIAL_SESSION"
	EventSignedIn             Event = "SIGNED_IN"
	EventSignedOut            Event = "SIGNED_OUT"
	EventTokenRefreshed       Event = "TOKEN_REFRESHED"
	EventUserUpdated          Event = "USER_UPDATED"
	EventPasswordRecovery     Event = "PASSWORD_RECOVERY"
	EventMFAChallengeVerified Event = "MFA_CHALLENGE_VERIFIED"
)

// SessionChange es un evento con la sesión resultante (nil en SIGNED_OUT).
type SessionChange struct {
	Event   Event
	Session *Session
}

// Factor MFA.
type Factor struct {
	ID           string `json:"id"`
	FriendlyName string `json:"friendly_name,omitempty"`
	FactorType   string `json:"factor_type"`
	Status       string `json:"status"`
}

// Verified reporta si el factor completó el enrolamiento.
func (f Factor) Verified() bool { return f.Status == "verified" }

// HasVerifiedFactor reporta si alguno está verificado.
func HasVerifiedFactor(fs []Factor) bool {
	for _, f := range fs {
		if f.Verified() {
			return true
		}
	}
	return false
}

// Enrollment es el resultado de enrolar un factor TOTP.
type Enrollment struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	TOTP struct {
		QRCode string `json:"qr_code"`
		Secret string `json:"secret"`
		URI    string `json:"uri"`
	} `json:"totp"`
}

// Challenge emitido para un factor.
type Challenge struct {
	ID        string `json:"id"`
	ExpiresAt int64  `json:"expires_at"`
}

// AAL es el nivel de aseguramiento de la sesión.
type AAL string

const (
	AAL1 AAL = "aal1"
	AAL2 AAL = "aal2"
)

// Assurance: nivel actual y el alcanzable con los factores verificados.
type Assurance struct {
	Current AAL
	Next    AAL
	Methods []string
}

// Provider es el binding con el backend de identidad. Los errores de
// credenciales se retornan como *AuthError.
type Provider interface {
	GetSession(ctx context.Context) (*Session, error)
	SetSession(ctx context.Context, tokens AuthTokens) (*Session, error)
	ExchangeCode(ctx context.Context, code string) (*Session, error)
	OnSessionChange(fn func(SessionChange)) (unsubscribe func())

	SignInWithPassword(ctx context.Context, email, password string) (*Session, error)
	// SignUp retorna sesión nil cuando el backend exige confirmar el email.
	SignUp(ctx context.Context, email, password string, metadata UserMetadata) (*Session, error)
	SignOut(ctx context.Context) error
	ResetPassword(ctx context.Context, email, redirectTo string) error
	// SignInWithOAuth retorna la URL a la que hay que redirigir al usuario.
	SignInWithOAuth(ctx context.Context, provider, redirectTo string) (string, error)

	MFA() MFA
}

// MFA agrupa las operaciones de segundo factor.
type MFA interface {
	Enroll(ctx context.Context, friendlyName string) (*Enrollment, error)
	Challenge(ctx context.Context, factorID string) (*Challenge, error)
	Verify(ctx context.Context, factorID, challengeID, code string) (*Session, error)
	ListFactors(ctx context.Context) ([]Factor, error)
	Unenroll(ctx context.Context, factorID string) error
	GetAssuranceLevel(ctx context.Context) (*Assurance, error)
}
