// Package cache implementa el cache de dos niveles del core de sesión.
//
// Stores:
//   - KV (síncrono, cupo chico): copia "stripped", nunca expira en lectura.
//   - Blob (asíncrono, Redis o memoria): copia completa, TTL estricto.
//
// Facade unifica ambos: Write escribe en los dos, Read va al KV y ReadFull al Blob.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dropDatabas3/churchgate/internal/cache/memory"
	"github.com/dropDatabas3/churchgate/internal/cache/redis"
	"go.uber.org/zap"
)

// KeyValueStore es el store síncrono.
type KeyValueStore interface {
	Get(key string) ([]byte, bool)
	// Set puede fallar por cupo (memory.ErrQuotaExceeded).
	Set(key string, value []byte) error
	Delete(key string)
	DeletePrefix(prefix string) int
}

// BlobStore es el store asíncrono de copias completas.
type BlobStore interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	DeletePrefix(ctx context.Context, prefix string) (int, error)
	Close() error
}

// Entry es la representación persistida: {"data","timestamp","ttl"} con tiempos en ms.
type Entry struct {
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
	TTL       int64           `json:"ttl"`
}

// Expired indica si la entrada venció en now. TTL <= 0 no expira.
func (e Entry) Expired(now time.Time) bool {
	if e.TTL <= 0 {
		return false
	}
	return now.UnixMilli()-e.Timestamp > e.TTL
}

// ErrClosed se retorna al operar sobre una Facade cerrada.
var ErrClosed = errors.New("cache: closed")

// Config para construir la Facade desde configuración.
type Config struct {
	Namespace  string
	BlobDriver string // "memory" | "redis"
	RedisAddr  string
	RedisPass  string
	RedisDB    int
	QueueSize  int
}

// New crea la Facade según la configuración. kv nil usa un KV en memoria
// con el cupo por defecto.
func New(ctx context.Context, cfg Config, kv KeyValueStore, log *zap.Logger) (*Facade, error) {
	if kv == nil {
		kv = memory.NewKV(0)
	}

	var blob BlobStore
	switch cfg.BlobDriver {
	case "redis":
		b, err := redis.New(ctx, redis.Config{Addr: cfg.RedisAddr, Password: cfg.RedisPass, DB: cfg.RedisDB})
		if err != nil {
			return nil, fmt.Errorf("cache: blob store: %w", err)
		}
		blob = b
	case "memory", "":
		blob = memory.NewBlob()
	default:
		return nil, fmt.Errorf("cache: unknown blob driver %q", cfg.BlobDriver)
	}

	return NewFacade(kv, blob, Options{
		Namespace: cfg.Namespace,
		QueueSize: cfg.QueueSize,
		Logger:    log,
	}), nil
}
