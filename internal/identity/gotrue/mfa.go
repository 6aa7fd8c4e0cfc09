package gotrue

import (
	"context"
	"net/http"
	"net/url"

	"github.com/dropDatabas3/churchgate/internal/identity"
)

type mfa struct{ c *Client }

func (m mfa) session(ctx context.Context) (*identity.Session, error) {
	s, err := m.c.GetSession(ctx)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, identity.ErrNoSession
	}
	return s, nil
}

func (m mfa) Enroll(ctx context.Context, friendlyName string) (*identity.Enrollment, error) {
	s, err := m.session(ctx)
	if err != nil {
		return nil, err
	}
	body := map[string]string{"factor_type": "totp"}
	if friendlyName != "" {
		body["friendly_name"] = friendlyName
	}
	var out identity.Enrollment
	if err := m.c.do(ctx, http.MethodPost, "/factors", nil, body, s.AccessToken, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (m mfa) Challenge(ctx context.Context, factorID string) (*identity.Challenge, error) {
	s, err := m.session(ctx)
	if err != nil {
		return nil, err
	}
	var out identity.Challenge
	path := "/factors/" + url.PathEscape(factorID) + "/challenge"
	if err := m.c.do(ctx, http.MethodPost, path, nil, nil, s.AccessToken, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Verify sube la sesión a aal2 y emite MFA_CHALLENGE_VERIFIED.
func (m mfa) Verify(ctx context.Context, factorID, challengeID, code string) (*identity.Session, error) {
	s, err := m.session(ctx)
	if err != nil {
		return nil, err
	}
	var tr tokenResponse
	path := "/factors/" + url.PathEscape(factorID) + "/verify"
	body := map[string]string{"challenge_id": challengeID, "code": code}
	if err := m.c.do(ctx, http.MethodPost, path, nil, body, s.AccessToken, &tr); err != nil {
		return nil, err
	}
	return m.c.signedIn(identity.EventMFAChallengeVerified, tr, s)
}

func (m mfa) ListFactors(ctx context.Context) ([]identity.Factor, error) {
	s, err := m.session(ctx)
	if err != nil {
		return nil, err
	}
	var user identity.Identity
	if err := m.c.do(ctx, http.MethodGet, "/user", nil, nil, s.AccessToken, &user); err != nil {
		return nil, err
	}
	return user.Factors, nil
}

func (m mfa) Unenroll(ctx context.Context, factorID string) error {
	s, err := m.session(ctx)
	if err != nil {
		return err
	}
	return m.c.do(ctx, http.MethodDelete, "/factors/"+url.PathEscape(factorID), nil, nil, s.AccessToken, nil)
}

// GetAssuranceLevel: Current sale del claim aal; Next es aal2 si hay un factor verificado.
func (m mfa) GetAssuranceLevel(ctx context.Context) (*identity.Assurance, error) {
	s, err := m.session(ctx)
	if err != nil {
		return nil, err
	}
	claims, err := identity.ParseAccessClaims(s.AccessToken)
	if err != nil {
		return nil, err
	}
	next := identity.AAL1
	if identity.HasVerifiedFactor(s.User.Factors) {
		next = identity.AAL2
	}
	return &identity.Assurance{Current: claims.AAL, Next: next, Methods: claims.Methods()}, nil
}
