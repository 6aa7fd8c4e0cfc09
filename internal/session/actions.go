package session

import (
	"context"
	"errors"

	"github.com/dropDatabas3/churchgate/internal/domain/repository"
	"github.com/dropDatabas3/churchgate/internal/domain/types"
	"github.com/dropDatabas3/churchgate/internal/gate"
	"github.com/dropDatabas3/churchgate/internal/identity"
	"github.com/dropDatabas3/churchgate/internal/observability/logger"
)

// SignIn con email y password. Los errores de credenciales vuelven como
// *identity.AuthError.
func (m *Manager) SignIn(ctx context.Context, email, password string) (*identity.Session, error) {
	sess, err := m.provider.SignInWithPassword(ctx, email, password)
	if err != nil {
		m.log.Info("sign-in rejected", logger.Email(email), logger.Err(err))
		return nil, err
	}
	m.adopt(sess, "sign_in")
	return sess, nil
}

// SignUp registra la identidad. Sesión nil: el backend pide confirmar el email.
func (m *Manager) SignUp(ctx context.Context, email, password string, metadata identity.UserMetadata) (*identity.Session, error) {
	sess, err := m.provider.SignUp(ctx, email, password, metadata)
	if err != nil {
		return nil, err
	}
	if sess != nil {
		m.adopt(sess, "sign_up")
	}
	return sess, nil
}

// SignOut pasa a ANONYMOUS antes de hablar con el provider y purga todo el
// namespace del cache.
func (m *Manager) SignOut(ctx context.Context) error {
	uid := m.Snapshot().UserID()
	m.toAnonymous()

	err := m.provider.SignOut(ctx)
	if err != nil {
		m.log.Warn("provider sign-out failed", logger.UserID(uid), logger.Err(err))
	}
	var cerr error
	if m.cache != nil {
		m.fence()
		cerr = m.cache.InvalidateAll(ctx, "")
	}
	m.log.Info("signed out", logger.UserID(uid))
	return errors.Join(err, cerr)
}

func (m *Manager) ResetPassword(ctx context.Context, email, redirectTo string) error {
	return m.provider.ResetPassword(ctx, email, redirectTo)
}

// SignInWithOAuth retorna la URL del provider externo.
func (m *Manager) SignInWithOAuth(ctx context.Context, provider, redirectTo string) (string, error) {
	return m.provider.SignInWithOAuth(ctx, provider, redirectTo)
}

// MFA expone enroll/challenge/list/unenroll del provider.
func (m *Manager) MFA() identity.MFA { return m.provider.MFA() }

// VerifyMFA valida el código y, con rememberDevice, guarda el registro de
// dispositivo recordado.
func (m *Manager) VerifyMFA(ctx context.Context, factorID, challengeID, code string, rememberDevice bool) error {
	uid := m.Snapshot().UserID()
	if uid == "" {
		return ErrNoIdentity
	}
	sess, err := m.provider.MFA().Verify(ctx, factorID, challengeID, code)
	if err != nil {
		return err
	}
	if rememberDevice && m.remember != nil {
		if err := m.remember.Remember(uid, m.rememberTTL); err != nil {
			m.log.Warn("mfa remember failed", logger.UserID(uid), logger.Err(err))
		}
	}
	m.adopt(sess, "mfa_verify")
	if _, err := m.MFAState(ctx); err != nil {
		m.log.Warn("assurance level unavailable after verify", logger.UserID(uid), logger.Err(err))
	}
	return nil
}

// MFAState recalcula las entradas MFA del gate y las publica.
func (m *Manager) MFAState(ctx context.Context) (gate.MFA, error) {
	m.mu.Lock()
	ep, gen, uid := m.epoch, m.gen, m.snap.UserID()
	m.mu.Unlock()
	if uid == "" {
		return gate.MFA{}, ErrNoIdentity
	}
	mfa, err := m.computeMFA(ctx, uid)
	m.apply(ep, gen, func(s *Snapshot) {
		s.MFA = mfa
		s.MFALoading = false
	})
	return mfa, err
}

// RefreshProfile va a la red y republica el perfil.
func (m *Manager) RefreshProfile(ctx context.Context) (*repository.Profile, error) {
	m.mu.Lock()
	ep, gen := m.epoch, m.gen
	var user identity.Identity
	if m.snap.User != nil {
		user = *m.snap.User
	}
	m.mu.Unlock()
	if user.ID == "" {
		return nil, ErrNoIdentity
	}
	res, err := m.profiles.Refresh(m.profileContext(ctx, ep, gen), user)
	if err != nil {
		return nil, err
	}
	m.apply(ep, gen, func(s *Snapshot) {
		s.Profile = res.Profile.Clone()
		s.ProfileLoading = false
	})
	return res.Profile, nil
}

// HasPermission: sin roles alcanza con tener perfil; super_admin pasa siempre.
func (m *Manager) HasPermission(roles ...types.Role) bool {
	p := m.Snapshot().Profile
	if p == nil {
		return false
	}
	if p.Role == types.RoleSuperAdmin || len(roles) == 0 {
		return true
	}
	for _, r := range roles {
		if r == p.Role {
			return true
		}
	}
	return false
}

// HomeRoute es el destino post-login según el rol.
func (m *Manager) HomeRoute() string {
	s := m.Snapshot()
	if !s.Authenticated() {
		return m.policy.SignInPath
	}
	if s.Profile == nil {
		return ""
	}
	return m.policy.HomeFor(s.Profile.Role)
}

// GateState arma la vista que consume gate.Decide. El registro recordado se
// relee en cada llamada porque puede vencer a mitad de sesión.
func (m *Manager) GateState(_ context.Context) gate.State {
	s := m.Snapshot()
	st := gate.State{
		Loading:         s.Loading,
		ProfileLoading:  s.ProfileLoading,
		Authenticated:   s.Authenticated(),
		PendingRedirect: s.PendingRedirect,
		HasProfile:      s.Profile != nil,
		MFA:             s.MFA,
	}
	if s.Profile != nil {
		st.Role = s.Profile.Role
		if s.MFALoading && m.policy.RequiresMFA(st.Role) {
			st.Loading = true
		}
	}
	if m.remember != nil && s.User != nil {
		st.MFA.Remembered = m.remember.IsRemembered(s.User.ID)
	}
	return st
}

func (m *Manager) adopt(sess *identity.Session, path string) {
	if sess == nil {
		return
	}
	m.mu.Lock()
	ep := m.epoch
	m.mu.Unlock()
	m.authenticate(ep, 0, sess, m.authTimeout, path)
}
