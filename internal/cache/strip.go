package cache

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"strings"
)

// LargeFields son los campos que no entran al store síncrono.
var LargeFields = []string{
	"avatar_url", "photo_url", "image_url", "foto_url", "imagem_url",
	"cover_url", "banner_url", "logo_url", "thumbnail_url",
	"gallery", "gallery_urls", "galeria", "photos", "images",
}

// Stripper elimina recursivamente los campos grandes de un documento JSON.
type Stripper struct {
	fields map[string]struct{}
}

// NewStripper crea un Stripper; sin argumentos usa LargeFields.
func NewStripper(fields ...string) *Stripper {
	if len(fields) == 0 {
		fields = LargeFields
	}
	s := &Stripper{fields: make(map[string]struct{}, len(fields))}
	for _, f := range fields {
		s.fields[strings.ToLower(f)] = struct{}{}
	}
	return s
}

// Strip retorna una copia de raw sin los campos grandes. Si raw no es un
// objeto o arreglo se retorna sin cambios. Los números se copian tal cual.
func (s *Stripper) Strip(raw []byte) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, errors.New("cache: trailing data after JSON value")
	}
	switch v.(type) {
	case map[string]any, []any:
	default:
		return raw, nil
	}
	return json.Marshal(s.walk(v))
}

func (s *Stripper) walk(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, child := range t {
			if _, drop := s.fields[strings.ToLower(k)]; drop {
				continue
			}
			out[k] = s.walk(child)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, child := range t {
			out[i] = s.walk(child)
		}
		return out
	default:
		return v
	}
}
