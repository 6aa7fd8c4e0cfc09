// Package session es la máquina de estados de sesión: combina el redirect
// OAuth, la sesión persistida del provider y el stream de eventos de auth en
// un único Snapshot observable {user, profile, session, loading}.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dropDatabas3/churchgate/internal/domain/repository"
	"github.com/dropDatabas3/churchgate/internal/gate"
	"github.com/dropDatabas3/churchgate/internal/identity"
	"github.com/dropDatabas3/churchgate/internal/metrics"
	"github.com/dropDatabas3/churchgate/internal/observability/logger"
	"github.com/dropDatabas3/churchgate/internal/profile"
	"go.uber.org/zap"
)

const (
	DefaultHydrateTimeout   = 8 * time.Second
	DefaultAuthEventTimeout = 5 * time.Second
)

var ErrNoIdentity = errors.New("session: no authenticated identity")

// Profiles es la parte de profile.Service que usa el manager.
type Profiles interface {
	FetchOrCreate(ctx context.Context, id identity.Identity, publish func(*repository.Profile)) (profile.Resolution, error)
	Refresh(ctx context.Context, id identity.Identity) (profile.Resolution, error)
	SelfHeal(ctx context.Context, id identity.Identity, p *repository.Profile) (*repository.Profile, bool, error)
}

// Purger borra entradas del cache; prefix "" cubre todo el namespace.
type Purger interface {
	InvalidateAll(ctx context.Context, prefix string) error
}

// Realtime es la suscripción al feed de cambios del perfil.
type Realtime interface {
	Start(ctx context.Context, identityID string, onChange func(repository.Change)) error
	Stop()
}

// Remembrance es el registro local de MFA recordado por dispositivo.
type Remembrance interface {
	Remember(userID string, ttl time.Duration) error
	IsRemembered(userID string) bool
}

type Options struct {
	Cache    Purger
	Realtime Realtime
	Remember Remembrance
	Counter  *Counter
	Policy   gate.Policy

	// URLReplacer recibe la URL sin los parámetros del redirect OAuth.
	URLReplacer func(string)

	HydrateTimeout   time.Duration
	AuthEventTimeout time.Duration
	RememberTTL      time.Duration

	Logger *zap.Logger
}

type Manager struct {
	provider identity.Provider
	profiles Profiles
	cache    Purger
	rt       Realtime
	remember Remembrance
	counter  *Counter
	policy   gate.Policy

	replaceURL     func(string)
	hydrateTimeout time.Duration
	authTimeout    time.Duration
	rememberTTL    time.Duration
	log            *zap.Logger

	mu      sync.Mutex
	snap    Snapshot
	running bool
	// epoch cambia en cada Start/Stop; gen en cada cambio de identidad.
	epoch     uint64
	gen       uint64
	ctx       context.Context
	cancel    context.CancelFunc
	unsubAuth func()
	timer     *time.Timer
	// genCtx vive lo que vive la identidad actual; se cancela al cambiarla.
	genCtx    context.Context
	genCancel context.CancelFunc

	// cacheMu ordena las escrituras de perfil en cache contra la purga del sign-out.
	cacheMu sync.RWMutex

	subMu      sync.Mutex
	subs       map[int]*subscriber
	nextSub    int
	delivering bool
}

type subscriber struct {
	fn   func(Snapshot)
	last uint64
}

func New(provider identity.Provider, profiles Profiles, opts Options) *Manager {
	if opts.HydrateTimeout <= 0 {
		opts.HydrateTimeout = DefaultHydrateTimeout
	}
	if opts.AuthEventTimeout <= 0 {
		opts.AuthEventTimeout = DefaultAuthEventTimeout
	}
	if opts.Policy.SignInPath == "" {
		opts.Policy = gate.DefaultPolicy()
	}
	if opts.Counter == nil {
		opts.Counter = NewCounter()
	}
	return &Manager{
		provider:       provider,
		profiles:       profiles,
		cache:          opts.Cache,
		rt:             opts.Realtime,
		remember:       opts.Remember,
		counter:        opts.Counter,
		policy:         opts.Policy,
		replaceURL:     opts.URLReplacer,
		hydrateTimeout: opts.HydrateTimeout,
		authTimeout:    opts.AuthEventTimeout,
		rememberTTL:    opts.RememberTTL,
		log:            logger.OrNamed(opts.Logger, "session"),
		snap:           Snapshot{State: StateInit, Loading: true, Version: 1},
		ctx:            context.Background(),
		subs:           map[int]*subscriber{},
	}
}

// Counter retorna el contador observable inyectado.
func (m *Manager) Counter() *Counter { return m.counter }

// Snapshot retorna una copia del estado actual.
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snap.clone()
}

// Subscribe entrega el snapshot actual y luego cada publicación, en orden de
// versión. fn puede llamar a cualquier método del manager; no debe bloquear
// esperando una publicación posterior.
func (m *Manager) Subscribe(fn func(Snapshot)) (unsubscribe func()) {
	m.subMu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = &subscriber{fn: fn}
	m.subMu.Unlock()
	m.notify()
	return func() {
		m.subMu.Lock()
		delete(m.subs, id)
		m.subMu.Unlock()
	}
}

// WaitReady bloquea hasta que Loading sea false o ctx termine.
func (m *Manager) WaitReady(ctx context.Context) (Snapshot, error) {
	ready := make(chan Snapshot, 1)
	unsub := m.Subscribe(func(s Snapshot) {
		if s.Loading {
			return
		}
		select {
		case ready <- s:
		default:
		}
	})
	defer unsub()
	select {
	case s := <-ready:
		return s, nil
	case <-ctx.Done():
		return m.Snapshot(), ctx.Err()
	}
}

// Start monta el manager: escucha eventos de auth y lanza la hidratación
// a partir de currentURL. Llamar Start con el manager montado no hace nada.
func (m *Manager) Start(ctx context.Context, currentURL string) {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.epoch++
	m.gen++
	ep, gen := m.epoch, m.gen
	m.ctx, m.cancel = context.WithCancel(ctx)
	runCtx := m.ctx
	m.snap = Snapshot{State: StateHydrating, Loading: true, Version: m.snap.Version + 1}
	m.mu.Unlock()
	m.notify()

	unsub := m.provider.OnSessionChange(func(ch identity.SessionChange) { m.onAuthEvent(ep, ch) })
	m.mu.Lock()
	if !m.aliveLocked(ep) {
		m.mu.Unlock()
		unsub()
		return
	}
	m.unsubAuth = unsub
	m.mu.Unlock()

	deadline := time.Now().Add(m.hydrateTimeout)
	m.arm(ep, gen, m.hydrateTimeout, "hydrate")
	go m.hydrate(runCtx, ep, gen, currentURL, deadline)
}

// Stop desmonta: toda continuación pendiente pasa a ser no-op.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	m.epoch++
	m.gen++
	cancel, unsub, timer, genCancel := m.cancel, m.unsubAuth, m.timer, m.genCancel
	m.unsubAuth, m.timer = nil, nil
	m.genCtx, m.genCancel = nil, nil
	m.mu.Unlock()

	if genCancel != nil {
		genCancel()
	}

	if timer != nil {
		timer.Stop()
	}
	if unsub != nil {
		unsub()
	}
	if cancel != nil {
		cancel()
	}
	if m.rt != nil {
		m.rt.Stop()
	}
}

func (m *Manager) hydrate(ctx context.Context, ep, gen uint64, rawURL string, deadline time.Time) {
	var sess *identity.Session

	tokens, perr := identity.ParseAuthRedirect(rawURL)
	switch {
	case perr == nil:
		m.apply(ep, gen, func(s *Snapshot) { s.PendingRedirect = true })
		var err error
		if tokens.IsCode() {
			sess, err = m.provider.ExchangeCode(ctx, tokens.Code)
		} else {
			sess, err = m.provider.SetSession(ctx, *tokens)
		}
		if err != nil {
			m.log.Warn("oauth redirect exchange failed", logger.Err(err))
			sess = nil
		}
		m.stripURL(rawURL)
	case identity.IsAuthError(perr):
		m.log.Warn("oauth redirect carried an error", logger.Err(perr))
		m.stripURL(rawURL)
	}

	if sess == nil {
		s, err := m.provider.GetSession(ctx)
		switch {
		case errors.Is(err, identity.ErrMisconfigured):
			m.log.Error("identity provider misconfigured", logger.Err(err))
		case err != nil && !errors.Is(err, context.Canceled):
			m.log.Warn("session probe failed", logger.Err(err))
		}
		if err == nil {
			sess = s
		}
	}

	if sess == nil {
		m.apply(ep, gen, func(s *Snapshot) {
			*s = Snapshot{State: StateAnonymous, Version: s.Version}
		})
		return
	}
	m.authenticate(ep, gen, sess, time.Until(deadline), "hydrate")
}

func (m *Manager) stripURL(rawURL string) {
	if m.replaceURL != nil {
		m.replaceURL(identity.StripAuthRedirect(rawURL))
	}
}

// authenticate publica la sesión. Con la misma identidad solo actualiza la
// sesión; con otra, abre una nueva generación y resuelve perfil y MFA.
// expect != 0 exige que la generación no haya cambiado.
func (m *Manager) authenticate(ep, expect uint64, sess *identity.Session, budget time.Duration, path string) {
	if sess == nil {
		return
	}
	user := sess.User
	sc := *sess

	m.mu.Lock()
	if !m.aliveLocked(ep) || (expect != 0 && m.gen != expect) {
		m.mu.Unlock()
		return
	}
	same := m.snap.Authenticated() && m.snap.User.ID == user.ID
	m.snap.State = StateAuthenticated
	m.snap.User = &user
	m.snap.Session = &sc
	m.snap.Loading = false
	m.snap.PendingRedirect = false
	m.snap.Version++
	if same {
		m.mu.Unlock()
		m.notify()
		return
	}
	m.gen++
	gen := m.gen
	m.snap.Profile = nil
	m.snap.ProfileLoading = true
	m.snap.MFALoading = true
	m.snap.MFA = gate.MFA{}
	prevCancel := m.genCancel
	m.genCtx, m.genCancel = context.WithCancel(m.ctx)
	ctx := m.genCtx
	m.mu.Unlock()
	if prevCancel != nil {
		prevCancel()
	}
	m.notify()

	m.log.Info("authenticated", logger.UserID(user.ID), logger.Email(user.Email), logger.Op(path))
	m.arm(ep, gen, budget, path)
	pctx := m.profileContext(ctx, ep, gen)
	go m.loadMFA(ctx, ep, gen, user.ID)
	go m.loadProfile(pctx, ep, gen, user)
	m.watchProfile(pctx, ep, gen, user)
}

// profileContext adjunta el guard de cache de la generación.
func (m *Manager) profileContext(ctx context.Context, ep, gen uint64) context.Context {
	return profile.WithWriteGuard(ctx, cacheGuard{m: m, ep: ep, gen: gen})
}

// cacheGuard deja escribir en cache solo a la generación vigente.
type cacheGuard struct {
	m       *Manager
	ep, gen uint64
}

func (g cacheGuard) Do(fn func()) bool {
	g.m.cacheMu.RLock()
	defer g.m.cacheMu.RUnlock()
	if !g.m.current(g.ep, g.gen) {
		return false
	}
	fn()
	return true
}

// fence espera a que terminen las escrituras guardadas en curso. Después de
// un cambio de generación, ninguna escritura vieja puede aterrizar tras fence.
func (m *Manager) fence() {
	m.cacheMu.Lock()
	m.cacheMu.Unlock()
}

func (m *Manager) loadProfile(ctx context.Context, ep, gen uint64, user identity.Identity) {
	res, err := m.profiles.FetchOrCreate(ctx, user, func(p *repository.Profile) {
		m.apply(ep, gen, func(s *Snapshot) {
			s.Profile = p
			s.ProfileLoading = false
		})
	})
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			m.log.Warn("profile unavailable", logger.UserID(user.ID), logger.Err(err))
		}
		m.apply(ep, gen, func(s *Snapshot) { s.ProfileLoading = false })
		return
	}
	if res.Stale != nil {
		m.log.Warn("serving cached profile", logger.UserID(user.ID), logger.Err(res.Stale))
	}
	if !m.apply(ep, gen, func(s *Snapshot) {
		s.Profile = res.Profile.Clone()
		s.ProfileLoading = false
	}) {
		return
	}
	if res.Source == profile.SourceFallback {
		return
	}

	healed, changed, err := m.profiles.SelfHeal(ctx, user, res.Profile)
	if err != nil {
		m.log.Warn("profile self-heal failed", logger.UserID(user.ID), logger.Err(err))
		return
	}
	if changed {
		m.apply(ep, gen, func(s *Snapshot) { s.Profile = healed.Clone() })
	}
}

func (m *Manager) loadMFA(ctx context.Context, ep, gen uint64, userID string) {
	mfa, err := m.computeMFA(ctx, userID)
	if err != nil && !errors.Is(err, context.Canceled) {
		m.log.Warn("assurance level unavailable", logger.UserID(userID), logger.Err(err))
	}
	m.apply(ep, gen, func(s *Snapshot) {
		s.MFA = mfa
		s.MFALoading = false
	})
}

// computeMFA arma las entradas MFA del gate. Si el nivel no se puede leer,
// el factor verificado sale de ListFactors; sin ninguno de los dos se asume
// que existe, así el gate manda al challenge y no a enrolar.
func (m *Manager) computeMFA(ctx context.Context, userID string) (gate.MFA, error) {
	var out gate.MFA
	if m.remember != nil {
		out.Remembered = m.remember.IsRemembered(userID)
	}
	a, err := m.provider.MFA().GetAssuranceLevel(ctx)
	if err == nil {
		out.AAL = a.Current
		out.HasVerifiedFactor = a.Next == identity.AAL2
		return out, nil
	}
	factors, ferr := m.provider.MFA().ListFactors(ctx)
	if ferr != nil {
		out.HasVerifiedFactor = true
		return out, errors.Join(err, ferr)
	}
	out.HasVerifiedFactor = identity.HasVerifiedFactor(factors)
	return out, err
}

// watchProfile suscribe el feed de cambios; cada push vuelve a la red.
func (m *Manager) watchProfile(ctx context.Context, ep, gen uint64, user identity.Identity) {
	if m.rt == nil {
		return
	}
	err := m.rt.Start(ctx, user.ID, func(repository.Change) {
		go m.onProfileChange(ctx, ep, gen, user)
	})
	if err != nil {
		m.log.Warn("realtime subscribe failed", logger.UserID(user.ID), logger.Err(err))
	}
}

func (m *Manager) onProfileChange(ctx context.Context, ep, gen uint64, user identity.Identity) {
	if !m.current(ep, gen) {
		return
	}
	res, err := m.profiles.Refresh(ctx, user)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			m.log.Warn("profile refresh after change failed", logger.UserID(user.ID), logger.Err(err))
		}
		return
	}
	if m.apply(ep, gen, func(s *Snapshot) { s.Profile = res.Profile.Clone() }) {
		m.log.Debug("profile republished", logger.UserID(user.ID), logger.Role(string(res.Profile.Role)))
	}
}

func (m *Manager) onAuthEvent(ep uint64, ch identity.SessionChange) {
	m.mu.Lock()
	alive := m.aliveLocked(ep)
	st := m.snap.State
	uid := m.snap.UserID()
	m.mu.Unlock()
	if !alive {
		return
	}
	m.log.Debug("auth event", logger.Event(string(ch.Event)), logger.State(string(st)))

	if ch.Event == identity.EventSignedOut || ch.Session == nil {
		if m.toAnonymous() && uid != "" {
			m.purge(uid)
		}
		return
	}
	// la hidratación adopta la sesión que produzca el redirect
	if st == StateHydrating {
		return
	}
	m.authenticate(ep, 0, ch.Session, m.authTimeout, "auth_event")
	if ch.Event == identity.EventMFAChallengeVerified {
		m.mu.Lock()
		ctx, gen := m.genCtx, m.gen
		m.mu.Unlock()
		if ctx != nil {
			go m.loadMFA(ctx, ep, gen, ch.Session.User.ID)
		}
	}
}

// toAnonymous pasa a ANONYMOUS de forma síncrona. false si ya lo era.
func (m *Manager) toAnonymous() bool {
	m.mu.Lock()
	if m.snap.State == StateAnonymous && !m.snap.Loading {
		m.mu.Unlock()
		return false
	}
	m.gen++
	m.snap = Snapshot{State: StateAnonymous, Version: m.snap.Version + 1}
	timer, cancel := m.timer, m.genCancel
	m.timer = nil
	m.genCtx, m.genCancel = nil, nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if timer != nil {
		timer.Stop()
	}
	m.counter.Reset()
	if m.rt != nil {
		m.rt.Stop()
	}
	m.notify()
	return true
}

func (m *Manager) purge(userID string) {
	if m.cache == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), m.authTimeout)
		defer cancel()
		m.fence()
		if err := m.cache.InvalidateAll(ctx, ""); err != nil {
			m.log.Warn("cache purge failed", logger.UserID(userID), logger.Err(err))
		}
	}()
}

// arm programa el timeout de liveness de la generación gen. Reemplaza al anterior.
func (m *Manager) arm(ep, gen uint64, d time.Duration, path string) {
	if d < 0 {
		d = 0
	}
	t := time.AfterFunc(d, func() { m.expire(ep, gen, path) })
	m.mu.Lock()
	if !m.aliveLocked(ep) || m.gen != gen {
		m.mu.Unlock()
		t.Stop()
		return
	}
	prev := m.timer
	m.timer = t
	m.mu.Unlock()
	if prev != nil {
		prev.Stop()
	}
}

// expire fuerza loading=false si la generación sigue pendiente.
func (m *Manager) expire(ep, gen uint64, path string) {
	m.mu.Lock()
	if !m.aliveLocked(ep) || m.gen != gen {
		m.mu.Unlock()
		return
	}
	s := &m.snap
	if !s.Loading && !s.ProfileLoading && !s.MFALoading {
		m.mu.Unlock()
		return
	}
	if s.MFALoading {
		// nivel desconocido: challenge antes que enrolar
		s.MFA.HasVerifiedFactor = true
	}
	s.Loading, s.ProfileLoading, s.MFALoading = false, false, false
	if s.State == StateHydrating {
		s.State = StateAnonymous
		s.PendingRedirect = false
	}
	s.Version++
	st := s.State
	m.mu.Unlock()

	metrics.LivenessTimeouts.WithLabelValues(path).Inc()
	m.log.Warn("liveness timeout: forcing loading=false", logger.Op(path), logger.State(string(st)))
	m.notify()
}

// apply muta el snapshot solo si el montaje y la generación siguen vigentes.
func (m *Manager) apply(ep, gen uint64, fn func(*Snapshot)) bool {
	m.mu.Lock()
	if !m.aliveLocked(ep) || m.gen != gen {
		m.mu.Unlock()
		return false
	}
	fn(&m.snap)
	m.snap.Version++
	m.mu.Unlock()
	m.notify()
	return true
}

func (m *Manager) current(ep, gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.aliveLocked(ep) && m.gen == gen
}

func (m *Manager) aliveLocked(ep uint64) bool { return m.running && m.epoch == ep }

// notify entrega el snapshot vigente a los suscriptores atrasados. Un solo
// goroutine entrega a la vez y los callbacks corren sin subMu; una publicación
// hecha desde un callback la entrega la vuelta siguiente del mismo loop.
func (m *Manager) notify() {
	m.subMu.Lock()
	if m.delivering {
		m.subMu.Unlock()
		return
	}
	m.delivering = true
	for {
		snap := m.Snapshot()
		var due []*subscriber
		for _, sub := range m.subs {
			if sub.last < snap.Version {
				sub.last = snap.Version
				due = append(due, sub)
			}
		}
		if len(due) == 0 {
			break
		}
		m.subMu.Unlock()
		for _, sub := range due {
			sub.fn(snap.clone())
		}
		m.subMu.Lock()
	}
	m.delivering = false
	m.subMu.Unlock()
}
