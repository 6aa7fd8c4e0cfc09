package memory

import (
	"context"
	"sync"

	"github.com/dropDatabas3/churchgate/internal/domain/repository"
)

// Broker es un RealtimeChannel en proceso. Publish entrega de forma
// síncrona a los suscriptores que matchean.
type Broker struct {
	mu     sync.Mutex
	subs   map[int]brokerSub
	nextID int
}

type brokerSub struct {
	table, filter string
	fn            func(repository.Change)
}

var _ repository.RealtimeChannel = (*Broker)(nil)

func NewBroker() *Broker {
	return &Broker{subs: make(map[int]brokerSub)}
}

func (b *Broker) Subscribe(ctx context.Context, table, filter string, onEvent func(repository.Change)) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = brokerSub{table: table, filter: filter, fn: onEvent}
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
		})
	}, nil
}

// Publish retorna cuántos suscriptores recibieron el cambio.
func (b *Broker) Publish(ch repository.Change) int {
	b.mu.Lock()
	var fns []func(repository.Change)
	for _, s := range b.subs {
		if ch.Matches(s.table, s.filter) {
			fns = append(fns, s.fn)
		}
	}
	b.mu.Unlock()
	for _, fn := range fns {
		fn(ch)
	}
	return len(fns)
}

// Subscribers retorna la cantidad de suscripciones activas.
func (b *Broker) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
