// Package localstore es el área persistida clave→valor del dispositivo
// (equivalente al storage del navegador). Un único archivo JSON escrito de
// forma atómica; las lecturas salen del mapa en memoria.
package localstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Store es seguro para uso concurrente.
type Store struct {
	path string

	mu   sync.RWMutex
	data map[string]json.RawMessage
}

// Open carga path si existe. path vacío crea un store solo en memoria.
func Open(path string) (*Store, error) {
	s := &Store{path: path, data: make(map[string]json.RawMessage)}
	if path == "" {
		return s, nil
	}
	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("localstore: read %s: %w", path, err)
	}
	if len(b) == 0 {
		return s, nil
	}
	if err := json.Unmarshal(b, &s.data); err != nil {
		return nil, fmt.Errorf("localstore: decode %s: %w", path, err)
	}
	return s, nil
}

// NewMemory crea un store sin archivo.
func NewMemory() *Store {
	s, _ := Open("")
	return s
}

// Get retorna una copia del valor crudo.
func (s *Store) Get(key string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), v...), true
}

// Set guarda value (JSON válido) y persiste.
func (s *Store) Set(key string, value []byte) error {
	if !json.Valid(value) {
		return fmt.Errorf("localstore: value for %q is not valid JSON", key)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = append(json.RawMessage(nil), value...)
	return s.flushLocked()
}

// Delete elimina key; no es error si no existe.
func (s *Store) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data[key]; !ok {
		return nil
	}
	delete(s.data, key)
	return s.flushLocked()
}

// Keys lista las claves con el prefijo dado, ordenadas.
func (s *Store) Keys(prefix string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for k := range s.data {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

func (s *Store) flushLocked() error {
	if s.path == "" {
		return nil
	}
	b, err := json.Marshal(s.data)
	if err != nil {
		return fmt.Errorf("localstore: encode: %w", err)
	}
	return writeFileAtomic(s.path, b, 0o600)
}

// writeFileAtomic: tmp → Sync → Close → Chmod → Rename. Si el rename falla
// (Windows con destino bloqueado) intenta remove+rename.
func writeFileAtomic(path string, data []byte, perm fs.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("localstore: mkdir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".localstore-*")
	if err != nil {
		return fmt.Errorf("localstore: create temp: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("localstore: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("localstore: fsync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("localstore: close temp: %w", err)
	}
	_ = os.Chmod(tmpPath, perm)

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(path)
		if err2 := os.Rename(tmpPath, path); err2 != nil {
			return fmt.Errorf("localstore: rename: %v (after remove: %v)", err, err2)
		}
	}
	return nil
}
