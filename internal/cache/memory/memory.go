// Package memory implementa los stores in-process del cache sobre go-cache:
//   - KV: síncrono, con cupo en bytes, nunca expira en lectura.
//   - Blob: driver "memory" del BlobStore (dev/tests sin Redis).
package memory

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// ErrQuotaExceeded: la escritura superaría el cupo del store síncrono.
var ErrQuotaExceeded = errors.New("memory: kv quota exceeded")

// DefaultMaxBytes es el cupo práctico del storage síncrono de un navegador.
const DefaultMaxBytes = 5 << 20

// KV es el store síncrono. Cuenta bytes (clave + valor) contra MaxBytes.
type KV struct {
	c        *gocache.Cache
	maxBytes int

	mu    sync.Mutex
	sizes map[string]int
	used  int
}

// NewKV crea el store con el cupo indicado (<=0 usa DefaultMaxBytes).
func NewKV(maxBytes int) *KV {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &KV{
		c:        gocache.New(gocache.NoExpiration, 0),
		maxBytes: maxBytes,
		sizes:    make(map[string]int),
	}
}

func (k *KV) Get(key string) ([]byte, bool) {
	v, ok := k.c.Get(key)
	if !ok {
		return nil, false
	}
	b, _ := v.([]byte)
	return b, true
}

// Set falla con ErrQuotaExceeded sin tocar el valor previo.
func (k *KV) Set(key string, value []byte) error {
	size := len(key) + len(value)

	k.mu.Lock()
	defer k.mu.Unlock()
	next := k.used - k.sizes[key] + size
	if next > k.maxBytes {
		return ErrQuotaExceeded
	}
	k.c.Set(key, append([]byte(nil), value...), gocache.NoExpiration)
	k.sizes[key] = size
	k.used = next
	return nil
}

func (k *KV) Delete(key string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.deleteLocked(key)
}

// DeletePrefix elimina todas las claves con el prefijo y retorna cuántas.
func (k *KV) DeletePrefix(prefix string) int {
	k.mu.Lock()
	defer k.mu.Unlock()
	n := 0
	for key := range k.c.Items() {
		if strings.HasPrefix(key, prefix) {
			k.deleteLocked(key)
			n++
		}
	}
	return n
}

func (k *KV) deleteLocked(key string) {
	k.c.Delete(key)
	k.used -= k.sizes[key]
	delete(k.sizes, key)
}

// Used retorna los bytes ocupados.
func (k *KV) Used() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.used
}

// Persister es el área persistida donde se vuelca el KV entre ejecuciones.
type Persister interface {
	Get(key string) ([]byte, bool)
	Set(key string, value []byte) error
}

// SaveTo vuelca el contenido como un único objeto JSON bajo key.
// Solo se vuelcan valores que son JSON válido.
func (k *KV) SaveTo(p Persister, key string) error {
	snap := make(map[string]json.RawMessage)
	for name, item := range k.c.Items() {
		if b, ok := item.Object.([]byte); ok && json.Valid(b) {
			snap[name] = b
		}
	}
	b, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return p.Set(key, b)
}

// LoadFrom restaura un volcado previo; entradas que no entran en el cupo se descartan.
func (k *KV) LoadFrom(p Persister, key string) (int, error) {
	b, ok := p.Get(key)
	if !ok {
		return 0, nil
	}
	var snap map[string]json.RawMessage
	if err := json.Unmarshal(b, &snap); err != nil {
		return 0, err
	}
	n := 0
	for name, v := range snap {
		if k.Set(name, v) == nil {
			n++
		}
	}
	return n, nil
}

// Blob es el driver en memoria del store asíncrono.
type Blob struct {
	c *gocache.Cache
}

// NewBlob crea el driver; el janitor de go-cache purga expirados cada minuto.
func NewBlob() *Blob {
	return &Blob{c: gocache.New(gocache.NoExpiration, time.Minute)}
}

func (b *Blob) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	v, ok := b.c.Get(key)
	if !ok {
		return nil, false, nil
	}
	raw, _ := v.([]byte)
	return raw, true, nil
}

func (b *Blob) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if ttl <= 0 {
		ttl = gocache.NoExpiration
	}
	b.c.Set(key, append([]byte(nil), value...), ttl)
	return nil
}

func (b *Blob) Delete(ctx context.Context, key string) error {
	b.c.Delete(key)
	return ctx.Err()
}

func (b *Blob) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	n := 0
	for key := range b.c.Items() {
		if strings.HasPrefix(key, prefix) {
			b.c.Delete(key)
			n++
		}
	}
	return n, ctx.Err()
}

func (b *Blob) Close() error {
	b.c.Flush()
	return nil
}
