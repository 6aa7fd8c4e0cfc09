package logger

import (
	"strings"
	"time"

	"go.uber.org/zap"
)

// ─── Request ───

func RequestID(v string) zap.Field       { return zap.String("request_id", v) }
func Method(v string) zap.Field          { return zap.String("method", v) }
func Path(v string) zap.Field            { return zap.String("path", v) }
func Status(v int) zap.Field             { return zap.Int("status", v) }
func Duration(v time.Duration) zap.Field { return zap.Duration("duration", v) }

// ─── Identidad / sesión ───

func UserID(v string) zap.Field { return zap.String("user_id", v) }

// Email loguea el email enmascarado, nunca en claro.
func Email(v string) zap.Field { return zap.String("email", MaskEmail(v)) }

func Role(v string) zap.Field    { return zap.String("role", v) }
func State(v string) zap.Field   { return zap.String("state", v) }
func Event(v string) zap.Field   { return zap.String("event", v) }
func Route(v string) zap.Field   { return zap.String("route", v) }
func Verdict(v string) zap.Field { return zap.String("verdict", v) }

// ─── Sistema ───

func Component(v string) zap.Field { return zap.String("component", v) }
func Op(v string) zap.Field        { return zap.String("op", v) }
func Layer(v string) zap.Field     { return zap.String("layer", v) }
func Key(v string) zap.Field       { return zap.String("key", v) }
func Count(v int) zap.Field        { return zap.Int("count", v) }
func Err(err error) zap.Field      { return zap.Error(err) }

func String(key, v string) zap.Field    { return zap.String(key, v) }
func Bool(key string, v bool) zap.Field { return zap.Bool(key, v) }

// MaskEmail deja la primera letra del usuario y del dominio: m…@e….com
func MaskEmail(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	i := strings.IndexByte(s, '@')
	if i <= 0 {
		if s == "" {
			return ""
		}
		if len(s) <= 3 {
			return "***"
		}
		return s[:1] + "…" + s[len(s)-1:]
	}
	user, dom := s[:i], s[i+1:]
	if len(user) > 1 {
		user = user[:1] + "…"
	}
	parts := strings.Split(dom, ".")
	if len(parts) > 0 && len(parts[0]) > 1 {
		parts[0] = parts[0][:1] + "…"
	}
	return user + "@" + strings.Join(parts, ".")
}
