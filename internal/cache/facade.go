package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/dropDatabas3/churchgate/internal/metrics"
	"github.com/dropDatabas3/churchgate/internal/observability/logger"
	"go.uber.org/zap"
)

// Options de la Facade. Los campos vacíos toman defaults.
type Options struct {
	Namespace   string
	Stripper    *Stripper
	QueueSize   int
	BlobTimeout time.Duration
	Now         func() time.Time
	Logger      *zap.Logger
}

// Facade es el punto de acceso único a los dos stores.
type Facade struct {
	kv    KeyValueStore
	blob  BlobStore
	ns    string
	strip *Stripper
	now   func() time.Time
	log   *zap.Logger
	w     *writer
}

// NewFacade arranca el worker de escrituras del BlobStore. Cerrar con Close.
func NewFacade(kv KeyValueStore, blob BlobStore, opts Options) *Facade {
	if opts.Stripper == nil {
		opts.Stripper = NewStripper()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	log := logger.OrNamed(opts.Logger, "cache")
	return &Facade{
		kv:    kv,
		blob:  blob,
		ns:    opts.Namespace,
		strip: opts.Stripper,
		now:   opts.Now,
		log:   log,
		w:     newWriter(blob, opts.QueueSize, opts.BlobTimeout, log),
	}
}

// Namespace retorna el prefijo de todas las claves.
func (f *Facade) Namespace() string { return f.ns }

func (f *Facade) key(k string) string {
	if f.ns == "" {
		return k
	}
	return f.ns + ":" + k
}

// Read decodifica la copia stripped en dst sin mirar el TTL.
func (f *Facade) Read(key string, dst any) bool {
	raw, ok := f.kv.Get(f.key(key))
	if !ok {
		metrics.CacheReads.WithLabelValues("kv", "miss").Inc()
		return false
	}
	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil || len(e.Data) == 0 {
		metrics.CacheReads.WithLabelValues("kv", "error").Inc()
		return false
	}
	if err := json.Unmarshal(e.Data, dst); err != nil {
		metrics.CacheReads.WithLabelValues("kv", "error").Inc()
		return false
	}
	metrics.CacheReads.WithLabelValues("kv", "hit").Inc()
	return true
}

// ReadFull lee la copia completa. Una entrada vencida se reporta ausente.
func (f *Facade) ReadFull(ctx context.Context, key string, dst any) (bool, error) {
	raw, ok, err := f.blob.Get(ctx, f.key(key))
	if err != nil {
		metrics.CacheReads.WithLabelValues("blob", "error").Inc()
		return false, fmt.Errorf("cache: blob read: %w", err)
	}
	if !ok {
		metrics.CacheReads.WithLabelValues("blob", "miss").Inc()
		return false, nil
	}
	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		metrics.CacheReads.WithLabelValues("blob", "error").Inc()
		return false, fmt.Errorf("cache: decode entry: %w", err)
	}
	if e.Expired(f.now()) {
		metrics.CacheReads.WithLabelValues("blob", "stale").Inc()
		return false, nil
	}
	if err := json.Unmarshal(e.Data, dst); err != nil {
		return false, fmt.Errorf("cache: decode data: %w", err)
	}
	metrics.CacheReads.WithLabelValues("blob", "hit").Inc()
	return true, nil
}

// Write guarda la copia stripped en el KV y encola la copia completa para el
// BlobStore. El error retornado es solo el del KV; la escritura asíncrona se
// encola igual aunque el KV falle.
func (f *Facade) Write(key string, data any, ttl time.Duration) error {
	full, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("cache: encode: %w", err)
	}
	k := f.key(key)
	now := f.now().UnixMilli()

	fullEntry, err := json.Marshal(Entry{Data: full, Timestamp: now, TTL: ttl.Milliseconds()})
	if err != nil {
		return fmt.Errorf("cache: encode entry: %w", err)
	}
	f.w.submit(op{kind: opSet, key: k, value: fullEntry, ttl: ttl})

	stripped, err := f.strip.Strip(full)
	if err != nil {
		return fmt.Errorf("cache: strip: %w", err)
	}
	kvEntry, err := json.Marshal(Entry{Data: stripped, Timestamp: now, TTL: ttl.Milliseconds()})
	if err != nil {
		return fmt.Errorf("cache: encode entry: %w", err)
	}
	if err := f.kv.Set(k, kvEntry); err != nil {
		metrics.CacheWriteFailures.WithLabelValues("kv").Inc()
		return fmt.Errorf("cache: kv write %s: %w", key, err)
	}
	return nil
}

// Invalidate borra la clave de ambos stores. Espera a que el BlobStore aplique
// el borrado después de cualquier escritura encolada antes.
func (f *Facade) Invalidate(ctx context.Context, key string) error {
	k := f.key(key)
	f.kv.Delete(k)
	return f.w.await(ctx, op{kind: opDelete, key: k})
}

// InvalidateAll borra todas las claves del namespace que empiezan con prefix.
// prefix vacío purga el namespace completo.
func (f *Facade) InvalidateAll(ctx context.Context, prefix string) error {
	p := f.key(prefix)
	n := f.kv.DeletePrefix(p)
	f.log.Debug("kv prefix purged", logger.Key(p), logger.Count(n))
	return f.w.await(ctx, op{kind: opDeletePrefix, key: p})
}

// Flush espera a que todas las escrituras encoladas se apliquen.
func (f *Facade) Flush(ctx context.Context) error {
	return f.w.await(ctx, op{kind: opBarrier})
}

// Dropped cuenta escrituras descartadas por cola llena.
func (f *Facade) Dropped() uint64 { return f.w.dropped.Load() }

// Close drena la cola y cierra el BlobStore.
func (f *Facade) Close() error {
	f.w.close()
	return f.blob.Close()
}

// UserPrefix es el prefijo de claves de un usuario dentro del namespace.
func UserPrefix(userID string) string {
	return "user:" + strings.TrimSpace(userID) + ":"
}
