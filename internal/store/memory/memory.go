// Package memory implementa ProfileStore y RealtimeChannel en proceso.
// Se usa en tests y en el modo dev sin Postgres.
package memory

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/dropDatabas3/churchgate/internal/domain/repository"
	"github.com/dropDatabas3/churchgate/internal/domain/types"
)

const profilesTable = "profiles"

// Profiles es un ProfileStore en memoria. Si tiene Broker, publica cada
// cambio como lo haría el trigger de Postgres.
type Profiles struct {
	mu   sync.Mutex
	rows map[string]*repository.Profile
	now  func() time.Time

	broker *Broker

	getErr error
	calls  map[string]int
}

var _ repository.ProfileStore = (*Profiles)(nil)

func NewProfiles(broker *Broker) *Profiles {
	return &Profiles{
		rows:   make(map[string]*repository.Profile),
		now:    time.Now,
		broker: broker,
		calls:  make(map[string]int),
	}
}

// SetGetError hace que Get falle con err (nil restaura).
func (s *Profiles) SetGetError(err error) {
	s.mu.Lock()
	s.getErr = err
	s.mu.Unlock()
}

// Calls retorna cuántas veces se invocó op ("get", "insert", "update").
func (s *Profiles) Calls(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

// Len retorna la cantidad de perfiles guardados.
func (s *Profiles) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}

// Put guarda p tal cual, sin normalizar ni publicar.
func (s *Profiles) Put(p *repository.Profile) {
	s.mu.Lock()
	s.rows[p.ID] = p.Clone()
	s.mu.Unlock()
}

func (s *Profiles) Get(ctx context.Context, id string) (*repository.Profile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls["get"]++
	if s.getErr != nil {
		return nil, s.getErr
	}
	p, ok := s.rows[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return p.Clone(), nil
}

func (s *Profiles) Insert(ctx context.Context, in repository.CreateProfileInput) (*repository.Profile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.ID) == "" {
		return nil, repository.ErrInvalidInput
	}
	s.mu.Lock()
	s.calls["insert"]++
	if _, ok := s.rows[in.ID]; ok {
		s.mu.Unlock()
		return nil, repository.ErrConflict
	}
	now := s.now()
	p := &repository.Profile{
		ID:        in.ID,
		ChurchID:  in.ChurchID,
		FullName:  in.FullName,
		Email:     in.Email,
		AvatarURL: in.AvatarURL,
		Role:      in.Role,
		Status:    in.Status,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if p.Role == "" {
		p.Role = types.DefaultRole
	}
	if p.Status == "" {
		p.Status = types.DefaultStatus
	}
	s.rows[p.ID] = p
	out := p.Clone()
	s.mu.Unlock()

	s.publish(repository.ChangeInsert, out)
	return out, nil
}

func (s *Profiles) Update(ctx context.Context, id string, patch repository.ProfilePatch) (*repository.Profile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.calls["update"]++
	p, ok := s.rows[id]
	if !ok {
		s.mu.Unlock()
		return nil, repository.ErrNotFound
	}
	if patch.FullName != nil {
		p.FullName = *patch.FullName
	}
	if patch.AvatarURL != nil {
		v := *patch.AvatarURL
		p.AvatarURL = &v
	}
	if patch.Role != nil {
		p.Role = *patch.Role
	}
	if patch.Status != nil {
		p.Status = *patch.Status
	}
	p.UpdatedAt = s.now()
	out := p.Clone()
	s.mu.Unlock()

	s.publish(repository.ChangeUpdate, out)
	return out, nil
}

func (s *Profiles) publish(op repository.ChangeOp, p *repository.Profile) {
	if s.broker == nil {
		return
	}
	rec, _ := json.Marshal(p)
	s.broker.Publish(repository.Change{Table: profilesTable, Op: op, ID: p.ID, Record: rec})
}
