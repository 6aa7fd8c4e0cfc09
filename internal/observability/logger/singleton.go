package logger

import (
	"sync"

	"go.uber.org/zap"
)

var (
	mu       sync.RWMutex
	instance *zap.Logger
)

// Init inicializa el singleton. Solo la primera llamada tiene efecto.
func Init(cfg Config) {
	mu.Lock()
	defer mu.Unlock()
	if instance != nil {
		return
	}
	l, err := New(cfg)
	if err != nil {
		l, _ = zap.NewProduction()
	}
	instance = l
}

// Replace reemplaza el singleton (tests y binarios que ya construyeron su logger).
func Replace(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	mu.Lock()
	instance = l
	mu.Unlock()
}

// L retorna el singleton; si Init no fue llamado usa dev/info.
func L() *zap.Logger {
	mu.RLock()
	l := instance
	mu.RUnlock()
	if l != nil {
		return l
	}
	Init(Config{Env: "dev", Level: "info"})
	mu.RLock()
	defer mu.RUnlock()
	return instance
}

// Named retorna un logger con nombre de componente.
func Named(name string) *zap.Logger { return L().Named(name) }

// With retorna un logger con campos adicionales.
func With(fields ...zap.Field) *zap.Logger { return L().With(fields...) }

// S retorna el SugaredLogger del singleton.
func S() *zap.SugaredLogger { return L().Sugar() }

// OrNamed devuelve l si no es nil, si no un logger con nombre del singleton.
func OrNamed(l *zap.Logger, name string) *zap.Logger {
	if l != nil {
		return l
	}
	return Named(name)
}

// Sync flushea buffers pendientes.
func Sync() error {
	mu.RLock()
	defer mu.RUnlock()
	if instance != nil {
		return instance.Sync()
	}
	return nil
}
