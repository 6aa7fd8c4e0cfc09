// Package redis implementa el BlobStore sobre Redis.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	rdb "github.com/redis/go-redis/v9"
)

// Config de conexión.
type Config struct {
	Addr     string
	Password string
	DB       int
}

// Blob guarda entradas completas. El TTL del registro también se aplica
// como expiración de Redis para que las claves viejas no se acumulen.
type Blob struct {
	c *rdb.Client
}

// New crea el cliente y verifica la conexión.
func New(ctx context.Context, cfg Config) (*Blob, error) {
	addr := cfg.Addr
	if addr == "" {
		addr = "localhost:6379"
	}
	c := rdb.NewClient(&rdb.Options{Addr: addr, Password: cfg.Password, DB: cfg.DB})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := c.Ping(pingCtx).Err(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("redis: ping failed: %w", err)
	}
	return &Blob{c: c}, nil
}

// NewFromClient envuelve un cliente existente (tests con miniredis).
func NewFromClient(c *rdb.Client) *Blob { return &Blob{c: c} }

func (b *Blob) Get(ctx context.Context, key string) ([]byte, bool, error) {
	v, err := b.c.Get(ctx, key).Bytes()
	if errors.Is(err, rdb.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

func (b *Blob) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	return b.c.Set(ctx, key, value, ttl).Err()
}

func (b *Blob) Delete(ctx context.Context, key string) error {
	return b.c.Del(ctx, key).Err()
}

// DeletePrefix recorre con SCAN y borra en lotes.
func (b *Blob) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	var (
		cursor uint64
		total  int
	)
	match := escapeGlob(prefix) + "*"
	for {
		keys, next, err := b.c.Scan(ctx, cursor, match, 200).Result()
		if err != nil {
			return total, err
		}
		if len(keys) > 0 {
			n, err := b.c.Del(ctx, keys...).Result()
			if err != nil {
				return total, err
			}
			total += int(n)
		}
		cursor = next
		if cursor == 0 {
			return total, nil
		}
	}
}

func (b *Blob) Close() error { return b.c.Close() }

func escapeGlob(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)
	return r.Replace(s)
}
