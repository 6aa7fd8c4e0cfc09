// Package profile resuelve el perfil de negocio de la identidad autenticada:
// publicación optimista desde cache, fetch autoritativo, alta idempotente,
// normalización de rol/status y self-heal desde la metadata del provider.
package profile

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/dropDatabas3/churchgate/internal/domain/repository"
	"github.com/dropDatabas3/churchgate/internal/domain/types"
	"github.com/dropDatabas3/churchgate/internal/identity"
	"github.com/dropDatabas3/churchgate/internal/metrics"
	"github.com/dropDatabas3/churchgate/internal/observability/logger"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// DefaultTTL de la entrada de perfil en cache.
const DefaultTTL = time.Hour

const maxCreateAttempts = 3

// Cache es la parte de cache.Facade que usa el servicio.
type Cache interface {
	Read(key string, dst any) bool
	ReadFull(ctx context.Context, key string, dst any) (bool, error)
	Write(key string, data any, ttl time.Duration) error
	Invalidate(ctx context.Context, key string) error
}

// Source indica de dónde salió el perfil resuelto.
type Source string

const (
	SourceNetwork  Source = "network"
	SourceCreated  Source = "created"
	SourceFallback Source = "fallback"
)

// Resolution es el resultado de FetchOrCreate/Refresh.
type Resolution struct {
	Profile *repository.Profile
	Source  Source
	// Stale es el error del fetch cuando Profile sale del cache.
	Stale error
}

// WriteGuard ordena la escritura en cache contra la invalidación del dueño
// de la resolución: Do corre fn solo si la resolución sigue vigente.
type WriteGuard interface {
	Do(fn func()) bool
}

type guardKey struct{}

// WithWriteGuard adjunta g a ctx. FetchOrCreate, Refresh y SelfHeal escriben
// en cache a través de g.
func WithWriteGuard(ctx context.Context, g WriteGuard) context.Context {
	return context.WithValue(ctx, guardKey{}, g)
}

func guardFrom(ctx context.Context) WriteGuard {
	g, _ := ctx.Value(guardKey{}).(WriteGuard)
	return g
}

type Options struct {
	TTL    time.Duration
	Logger *zap.Logger
}

type Service struct {
	store repository.ProfileStore
	cache Cache
	ttl   time.Duration
	log   *zap.Logger
	sf    singleflight.Group
}

func NewService(store repository.ProfileStore, cache Cache, opts Options) *Service {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	return &Service{
		store: store,
		cache: cache,
		ttl:   opts.TTL,
		log:   logger.OrNamed(opts.Logger, "profile"),
	}
}

// CacheKey es la clave del perfil dentro del namespace del cache.
func CacheKey(userID string) string { return "profile:" + userID }

// Cached retorna la copia stripped del cache, sin red.
func (s *Service) Cached(userID string) *repository.Profile {
	var p repository.Profile
	if !s.cache.Read(CacheKey(userID), &p) || p.ID != userID {
		return nil
	}
	return &p
}

// FetchOrCreate publica la copia cacheada (si hay) antes de ir a la red, luego
// resuelve el perfil autoritativo creando el registro si no existe.
// Si la red falla y había algo cacheado, retorna eso con Source=fallback.
// Sin cache ni red retorna error.
func (s *Service) FetchOrCreate(ctx context.Context, id identity.Identity, publish func(*repository.Profile)) (Resolution, error) {
	if strings.TrimSpace(id.ID) == "" {
		return Resolution{}, repository.ErrInvalidInput
	}
	cached := s.Cached(id.ID)
	if cached != nil && publish != nil {
		publish(cached.Clone())
	}

	res, err := s.resolveShared(ctx, id)
	if err == nil {
		return res, nil
	}
	if errors.Is(err, context.Canceled) {
		return Resolution{}, err
	}

	if cached == nil {
		cached = s.cachedFull(ctx, id.ID)
	}
	if cached != nil {
		metrics.ProfileFetches.WithLabelValues(string(SourceFallback)).Inc()
		return Resolution{Profile: cached, Source: SourceFallback, Stale: err}, nil
	}
	metrics.ProfileFetches.WithLabelValues("absent").Inc()
	return Resolution{}, err
}

// Refresh va directo a la red, sin publicación optimista ni fallback.
func (s *Service) Refresh(ctx context.Context, id identity.Identity) (Resolution, error) {
	if strings.TrimSpace(id.ID) == "" {
		return Resolution{}, repository.ErrInvalidInput
	}
	return s.resolveShared(ctx, id)
}

// Evict borra el perfil del cache.
func (s *Service) Evict(ctx context.Context, userID string) error {
	return s.cache.Invalidate(ctx, CacheKey(userID))
}

func (s *Service) cachedFull(ctx context.Context, userID string) *repository.Profile {
	var p repository.Profile
	ok, err := s.cache.ReadFull(ctx, CacheKey(userID), &p)
	if err != nil || !ok || p.ID != userID {
		return nil
	}
	return &p
}

// resolveShared colapsa resoluciones concurrentes del mismo usuario.
// Si el vuelo compartido se canceló por el contexto de otro caller y el
// propio sigue vivo, se reintenta.
func (s *Service) resolveShared(ctx context.Context, id identity.Identity) (Resolution, error) {
	var (
		v   any
		err error
	)
	for attempt := 0; attempt < maxCreateAttempts; attempt++ {
		v, err, _ = s.sf.Do(id.ID, func() (any, error) {
			return s.resolve(ctx, id)
		})
		if err == nil || !errors.Is(err, context.Canceled) || ctx.Err() != nil {
			break
		}
	}
	if err != nil {
		return Resolution{}, err
	}
	res := v.(Resolution)
	res.Profile = res.Profile.Clone()
	return res, nil
}

func (s *Service) resolve(ctx context.Context, id identity.Identity) (Resolution, error) {
	log := s.log.With(logger.UserID(id.ID))
	for attempt := 1; attempt <= maxCreateAttempts; attempt++ {
		p, err := s.store.Get(ctx, id.ID)
		if err == nil {
			p = s.normalize(ctx, p)
			s.remember(ctx, p)
			metrics.ProfileFetches.WithLabelValues(string(SourceNetwork)).Inc()
			return Resolution{Profile: p, Source: SourceNetwork}, nil
		}
		if !repository.IsNotFound(err) {
			return Resolution{}, fmt.Errorf("profile: fetch: %w", err)
		}

		created, err := s.store.Insert(ctx, seed(id))
		if err == nil {
			log.Info("profile created", logger.Role(string(created.Role)))
			s.remember(ctx, created)
			metrics.ProfileFetches.WithLabelValues(string(SourceCreated)).Inc()
			return Resolution{Profile: created, Source: SourceCreated}, nil
		}
		if !repository.IsConflict(err) {
			return Resolution{}, fmt.Errorf("profile: create: %w", err)
		}
		log.Debug("profile created concurrently, refetching", zap.Int("attempt", attempt))
	}
	return Resolution{}, fmt.Errorf("profile: create: %w", repository.ErrConflict)
}

// normalize reescribe role/status legacy al token canónico. Si la escritura
// falla se usa igual el valor normalizado localmente.
func (s *Service) normalize(ctx context.Context, p *repository.Profile) *repository.Profile {
	role, roleChanged := types.NormalizeRole(string(p.Role))
	status, statusChanged := types.NormalizeStatus(string(p.Status))
	if !roleChanged && !statusChanged {
		return p
	}
	var patch repository.ProfilePatch
	if roleChanged {
		patch.Role = &role
	}
	if statusChanged {
		patch.Status = &status
	}
	s.log.Info("normalizing profile",
		logger.UserID(p.ID),
		zap.String("role_from", string(p.Role)), zap.String("role_to", string(role)),
		zap.String("status_from", string(p.Status)), zap.String("status_to", string(status)))

	updated, err := s.store.Update(ctx, p.ID, patch)
	if err != nil {
		s.log.Warn("normalization write-back failed", logger.UserID(p.ID), logger.Err(err))
		p.Role, p.Status = role, status
		return p
	}
	return updated
}

// remember escribe p en cache salvo que ctx esté cancelado o el guard lo rechace.
func (s *Service) remember(ctx context.Context, p *repository.Profile) {
	write := func() {
		if err := s.cache.Write(CacheKey(p.ID), p, s.ttl); err != nil {
			s.log.Warn("profile cache write failed", logger.UserID(p.ID), logger.Err(err))
		}
	}
	if ctx.Err() != nil {
		s.log.Debug("profile cache write skipped, context done", logger.UserID(p.ID))
		return
	}
	if g := guardFrom(ctx); g != nil {
		if !g.Do(write) {
			s.log.Debug("profile cache write skipped, superseded", logger.UserID(p.ID))
		}
		return
	}
	write()
}

func seed(id identity.Identity) repository.CreateProfileInput {
	name := id.Metadata.FullName()
	if !UsableName(name) {
		name = strings.TrimSpace(id.Email)
	}
	in := repository.CreateProfileInput{
		ID:       id.ID,
		Email:    strings.TrimSpace(id.Email),
		FullName: name,
		Role:     types.DefaultRole,
		Status:   types.DefaultStatus,
	}
	if a := id.Metadata.AvatarURL(); a != "" {
		in.AvatarURL = &a
	}
	return in
}

var placeholderNames = map[string]struct{}{
	"u": {}, "-": {}, "user": {}, "usuario": {}, "usuário": {}, "sem nome": {},
	"novo usuário": {}, "novo usuario": {}, "new user": {}, "membro": {},
	"undefined": {}, "null": {}, "none": {},
}

// NeedsName reporta si el nombre almacenado es vacío, un placeholder o un email.
func NeedsName(name string) bool {
	n := strings.ToLower(strings.TrimSpace(name))
	if utf8.RuneCountInString(n) <= 1 {
		return true
	}
	if _, ok := placeholderNames[n]; ok {
		return true
	}
	return looksLikeEmail(n)
}

// UsableName es lo opuesto: un nombre que vale la pena guardar.
func UsableName(name string) bool { return !NeedsName(name) }

func looksLikeEmail(s string) bool {
	local, domain, ok := strings.Cut(s, "@")
	return ok && local != "" && strings.Contains(domain, ".") && !strings.ContainsAny(s, " ")
}
