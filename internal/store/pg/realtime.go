package pg

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/dropDatabas3/churchgate/internal/domain/repository"
	"github.com/dropDatabas3/churchgate/internal/observability/logger"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// DefaultChannel es el canal NOTIFY que emite el trigger de 0002_profiles_notify.
const DefaultChannel = "row_changes"

type subscriber struct {
	table  string
	filter string
	fn     func(repository.Change)
}

// Realtime implementa repository.RealtimeChannel con LISTEN/NOTIFY sobre una
// conexión dedicada del pool. El listener arranca con el primer Subscribe y
// se reconecta con backoff si la conexión se cae.
type Realtime struct {
	pool    *pgxpool.Pool
	channel string
	log     *zap.Logger

	mu     sync.Mutex
	subs   map[int]subscriber
	nextID int
	cancel context.CancelFunc
	done   chan struct{}
}

var _ repository.RealtimeChannel = (*Realtime)(nil)

func NewRealtime(pool *pgxpool.Pool, channel string, log *zap.Logger) *Realtime {
	if channel == "" {
		channel = DefaultChannel
	}
	return &Realtime{
		pool:    pool,
		channel: channel,
		log:     logger.OrNamed(log, "realtime.pg"),
		subs:    make(map[int]subscriber),
	}
}

func (r *Realtime) Subscribe(ctx context.Context, table, filter string, onEvent func(repository.Change)) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	id := r.nextID
	r.nextID++
	r.subs[id] = subscriber{table: table, filter: filter, fn: onEvent}
	if r.cancel == nil {
		lctx, cancel := context.WithCancel(context.Background())
		r.cancel = cancel
		r.done = make(chan struct{})
		go r.listen(lctx, r.done)
	}
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.subs, id)
			r.mu.Unlock()
		})
	}, nil
}

// Close detiene el listener.
func (r *Realtime) Close() {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.cancel, r.done = nil, nil
	r.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
}

func (r *Realtime) listen(ctx context.Context, done chan struct{}) {
	defer close(done)
	backoff := 250 * time.Millisecond
	for {
		err := r.listenOnce(ctx)
		if ctx.Err() != nil {
			return
		}
		r.log.Warn("listen connection lost, retrying", logger.Err(err), logger.Duration(backoff))
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		if backoff < 10*time.Second {
			backoff *= 2
		}
	}
}

func (r *Realtime) listenOnce(ctx context.Context) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer func() {
		_, _ = conn.Exec(context.Background(), "UNLISTEN *")
		conn.Release()
	}()

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{r.channel}.Sanitize()); err != nil {
		return err
	}
	r.log.Debug("listening", logger.String("channel", r.channel))
	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return err
		}
		var ch repository.Change
		if err := json.Unmarshal([]byte(n.Payload), &ch); err != nil {
			r.log.Warn("bad notification payload", logger.Err(err))
			continue
		}
		r.dispatch(ch)
	}
}

func (r *Realtime) dispatch(ch repository.Change) {
	r.mu.Lock()
	var fns []func(repository.Change)
	for _, s := range r.subs {
		if ch.Matches(s.table, s.filter) {
			fns = append(fns, s.fn)
		}
	}
	r.mu.Unlock()
	for _, fn := range fns {
		fn(ch)
	}
}
