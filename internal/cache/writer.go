package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dropDatabas3/churchgate/internal/metrics"
	"github.com/dropDatabas3/churchgate/internal/observability/logger"
	"go.uber.org/zap"
)

type opKind int

const (
	opSet opKind = iota
	opDelete
	opDeletePrefix
	opBarrier
)

type op struct {
	kind  opKind
	key   string
	value []byte
	ttl   time.Duration
	done  chan error
}

// writer aplica las operaciones sobre el BlobStore en orden FIFO con un
// único worker. Los Set no esperan; Delete y barreras sí.
type writer struct {
	blob    BlobStore
	timeout time.Duration
	log     *zap.Logger

	ch        chan op
	done      chan struct{}
	stopped   chan struct{}
	wg        sync.WaitGroup
	dropped   atomic.Uint64
	closed    atomic.Bool
	closeOnce sync.Once
}

func newWriter(blob BlobStore, size int, timeout time.Duration, log *zap.Logger) *writer {
	if size <= 0 {
		size = 256
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	w := &writer{
		blob:    blob,
		timeout: timeout,
		log:     log,
		ch:      make(chan op, size),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	w.wg.Add(1)
	go w.run()
	return w
}

func (w *writer) run() {
	defer close(w.stopped)
	defer w.wg.Done()

	for {
		select {
		case o := <-w.ch:
			w.apply(o)
		case <-w.done:
			for {
				select {
				case o := <-w.ch:
					w.apply(o)
				default:
					return
				}
			}
		}
	}
}

func (w *writer) apply(o op) {
	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()

	var err error
	switch o.kind {
	case opSet:
		err = w.blob.Set(ctx, o.key, o.value, o.ttl)
		if err != nil {
			metrics.CacheWriteFailures.WithLabelValues("blob").Inc()
			w.log.Warn("blob write failed", logger.Key(o.key), logger.Err(err))
		}
	case opDelete:
		err = w.blob.Delete(ctx, o.key)
	case opDeletePrefix:
		var n int
		n, err = w.blob.DeletePrefix(ctx, o.key)
		w.log.Debug("blob prefix purged", logger.Key(o.key), logger.Count(n))
	case opBarrier:
	}
	if o.done != nil {
		o.done <- err
	}
}

// submit encola sin bloquear; si la cola está llena la operación se descarta.
func (w *writer) submit(o op) {
	if w.closed.Load() {
		return
	}
	select {
	case w.ch <- o:
	case <-w.done:
	default:
		w.dropped.Add(1)
		metrics.CacheWriteFailures.WithLabelValues("blob_queue").Inc()
		w.log.Warn("blob write dropped, queue full", logger.Key(o.key))
	}
}

// await encola y espera a que el worker aplique la operación.
func (w *writer) await(ctx context.Context, o op) error {
	if w.closed.Load() {
		return ErrClosed
	}
	o.done = make(chan error, 1)
	select {
	case w.ch <- o:
	case <-ctx.Done():
		return ctx.Err()
	case <-w.done:
		return ErrClosed
	}
	select {
	case err := <-o.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-w.stopped:
		select {
		case err := <-o.done:
			return err
		default:
			return ErrClosed
		}
	}
}

func (w *writer) close() {
	w.closeOnce.Do(func() {
		w.closed.Store(true)
		close(w.done)
		w.wg.Wait()
	})
}
