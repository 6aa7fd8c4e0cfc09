package session

import (
	"sync"

	"github.com/dropDatabas3/churchgate/internal/domain/repository"
	"github.com/dropDatabas3/churchgate/internal/gate"
	"github.com/dropDatabas3/churchgate/internal/identity"
)

// State de la máquina de sesión.
type State string

const (
	StateInit          State = "INIT"
	StateHydrating     State = "HYDRATING"
	StateAuthenticated State = "AUTHENTICATED"
	StateAnonymous     State = "ANONYMOUS"
)

// Snapshot es una copia inmutable del estado publicado.
type Snapshot struct {
	State   State
	User    *identity.Identity
	Profile *repository.Profile
	Session *identity.Session

	Loading         bool
	ProfileLoading  bool
	PendingRedirect bool
	MFALoading      bool
	MFA             gate.MFA

	// Version crece con cada publicación.
	Version uint64
}

// Authenticated reporta si hay identidad activa.
func (s Snapshot) Authenticated() bool { return s.State == StateAuthenticated && s.User != nil }

// UserID de la identidad activa o "".
func (s Snapshot) UserID() string {
	if s.User == nil {
		return ""
	}
	return s.User.ID
}

func (s Snapshot) clone() Snapshot {
	out := s
	if s.User != nil {
		u := *s.User
		out.User = &u
	}
	if s.Session != nil {
		v := *s.Session
		out.Session = &v
	}
	out.Profile = s.Profile.Clone()
	return out
}

// Counter es un contador observable (no leídos de notificaciones, etc.).
// Se inyecta en el Manager, que lo resetea en el sign-out.
type Counter struct {
	mu   sync.Mutex
	n    int
	next int
	subs map[int]func(int)
}

func NewCounter() *Counter { return &Counter{subs: map[int]func(int){}} }

func (c *Counter) Value() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

// Set fija el valor; negativos se llevan a 0.
func (c *Counter) Set(n int) { c.update(func(int) int { return n }) }

func (c *Counter) Add(delta int) { c.update(func(n int) int { return n + delta }) }

func (c *Counter) Reset() { c.Set(0) }

func (c *Counter) update(f func(int) int) {
	c.mu.Lock()
	n := f(c.n)
	if n < 0 {
		n = 0
	}
	if n == c.n {
		c.mu.Unlock()
		return
	}
	c.n = n
	fns := c.listeners()
	c.mu.Unlock()
	for _, fn := range fns {
		fn(n)
	}
}

// Subscribe registra fn; se invoca en cada cambio de valor.
func (c *Counter) Subscribe(fn func(int)) (unsubscribe func()) {
	c.mu.Lock()
	if c.subs == nil {
		c.subs = map[int]func(int){}
	}
	id := c.next
	c.next++
	c.subs[id] = fn
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
	}
}

func (c *Counter) listeners() []func(int) {
	out := make([]func(int), 0, len(c.subs))
	for _, fn := range c.subs {
		out = append(out, fn)
	}
	return out
}
