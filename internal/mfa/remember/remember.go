// Package remember guarda la exención local de MFA por dispositivo.
// Un registro por usuario bajo "mfa_remember:<uid>" con {"expires","timestamp","ttl"} en ms.
package remember

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// KeyPrefix de los registros en el área persistida.
const KeyPrefix = "mfa_remember:"

// DefaultTTL de la exención.
const DefaultTTL = 30 * 24 * time.Hour

var ErrInvalidUser = errors.New("remember: invalid user id")

// Backend es el área persistida (localstore.Store).
type Backend interface {
	Get(key string) ([]byte, bool)
	Set(key string, value []byte) error
	Delete(key string) error
}

type record struct {
	Expires   int64 `json:"expires"`
	Timestamp int64 `json:"timestamp"`
	TTL       int64 `json:"ttl"`
}

// Store de registros de remembrance. No se borra en sign-out.
type Store struct {
	b   Backend
	ttl time.Duration
	now func() time.Time
}

// New crea el store; ttl <= 0 usa DefaultTTL y now nil usa time.Now.
func New(b Backend, ttl time.Duration, now func() time.Time) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if now == nil {
		now = time.Now
	}
	return &Store{b: b, ttl: ttl, now: now}
}

func key(userID string) (string, error) {
	userID = strings.TrimSpace(userID)
	if _, err := uuid.Parse(userID); err != nil {
		return "", ErrInvalidUser
	}
	return KeyPrefix + strings.ToLower(userID), nil
}

// Remember registra el dispositivo por ttl (<= 0 usa el TTL del store).
func (s *Store) Remember(userID string, ttl time.Duration) error {
	k, err := key(userID)
	if err != nil {
		return err
	}
	if ttl <= 0 {
		ttl = s.ttl
	}
	now := s.now()
	b, err := json.Marshal(record{
		Expires:   now.Add(ttl).UnixMilli(),
		Timestamp: now.UnixMilli(),
		TTL:       ttl.Milliseconds(),
	})
	if err != nil {
		return err
	}
	return s.b.Set(k, b)
}

// IsRemembered es true solo con un registro vigente. Un registro vencido o
// ilegible se borra y se reporta ausente.
func (s *Store) IsRemembered(userID string) bool {
	_, ok := s.Expires(userID)
	return ok
}

// Expires retorna el vencimiento del registro vigente.
func (s *Store) Expires(userID string) (time.Time, bool) {
	k, err := key(userID)
	if err != nil {
		return time.Time{}, false
	}
	raw, ok := s.b.Get(k)
	if !ok {
		return time.Time{}, false
	}
	var r record
	if err := json.Unmarshal(raw, &r); err != nil || r.Expires <= s.now().UnixMilli() {
		_ = s.b.Delete(k)
		return time.Time{}, false
	}
	return time.UnixMilli(r.Expires), true
}

// Forget borra el registro.
func (s *Store) Forget(userID string) error {
	k, err := key(userID)
	if err != nil {
		return err
	}
	return s.b.Delete(k)
}
