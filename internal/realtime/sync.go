// Package realtime mantiene la suscripción al feed de cambios del perfil de
// la identidad activa.
package realtime

import (
	"context"
	"fmt"
	"sync"

	"github.com/dropDatabas3/churchgate/internal/domain/repository"
	"github.com/dropDatabas3/churchgate/internal/metrics"
	"github.com/dropDatabas3/churchgate/internal/observability/logger"
	"go.uber.org/zap"
)

// DefaultTable es la tabla de perfiles.
const DefaultTable = "profiles"

type Options struct {
	Table  string
	Logger *zap.Logger
}

// Sync tiene a lo sumo una suscripción viva. Los eventos de una suscripción
// reemplazada o detenida se descartan.
type Sync struct {
	ch    repository.RealtimeChannel
	table string
	log   *zap.Logger

	mu       sync.Mutex
	identity string
	unsub    func()
	epoch    uint64
}

func New(ch repository.RealtimeChannel, opts Options) *Sync {
	if opts.Table == "" {
		opts.Table = DefaultTable
	}
	return &Sync{ch: ch, table: opts.Table, log: logger.OrNamed(opts.Logger, "realtime")}
}

// Start suscribe a los cambios de identityID. Con la misma identidad ya
// suscripta no hace nada; con otra, reemplaza la suscripción.
func (s *Sync) Start(ctx context.Context, identityID string, onChange func(repository.Change)) error {
	if identityID == "" {
		return fmt.Errorf("realtime: %w: empty identity", repository.ErrInvalidInput)
	}

	s.mu.Lock()
	if s.unsub != nil && s.identity == identityID {
		s.mu.Unlock()
		return nil
	}
	prev := s.stopLocked()
	s.epoch++
	epoch := s.epoch
	s.identity = identityID
	s.mu.Unlock()

	if prev != nil {
		prev()
	}

	unsub, err := s.ch.Subscribe(ctx, s.table, repository.FilterByID(identityID), func(c repository.Change) {
		if !s.alive(epoch) {
			return
		}
		metrics.RealtimeEvents.Inc()
		s.log.Debug("profile change", logger.UserID(c.ID), logger.Event(string(c.Op)))
		onChange(c)
	})
	if err != nil {
		s.mu.Lock()
		if s.epoch == epoch {
			s.identity = ""
		}
		s.mu.Unlock()
		return fmt.Errorf("realtime: subscribe: %w", err)
	}

	s.mu.Lock()
	if s.epoch != epoch {
		// Stop o otro Start ganó mientras suscribíamos
		s.mu.Unlock()
		unsub()
		return nil
	}
	s.unsub = unsub
	s.mu.Unlock()
	s.log.Debug("subscribed", logger.UserID(identityID))
	return nil
}

// Stop cancela la suscripción activa (idempotente).
func (s *Sync) Stop() {
	s.mu.Lock()
	prev := s.stopLocked()
	s.epoch++
	s.mu.Unlock()
	if prev != nil {
		prev()
	}
}

// Identity retorna la identidad suscripta o "".
func (s *Sync) Identity() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unsub == nil {
		return ""
	}
	return s.identity
}

func (s *Sync) stopLocked() func() {
	prev := s.unsub
	s.unsub = nil
	s.identity = ""
	return prev
}

func (s *Sync) alive(epoch uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.epoch == epoch
}
