package repository

import (
	"context"
	"encoding/json"
	"strings"
)

// ChangeOp es la operación que originó un evento de cambio.
type ChangeOp string

const (
	ChangeInsert ChangeOp = "INSERT"
	ChangeUpdate ChangeOp = "UPDATE"
	ChangeDelete ChangeOp = "DELETE"
)

// Change es un push del servidor sobre una fila.
type Change struct {
	Table  string          `json:"table"`
	Op     ChangeOp        `json:"op"`
	ID     string          `json:"id"`
	Record json.RawMessage `json:"record,omitempty"`
}

// RealtimeChannel entrega cambios de filas filtrados por tabla e id.
// El filtro usa la sintaxis "id=eq.<valor>"; vacío recibe toda la tabla.
type RealtimeChannel interface {
	// Subscribe registra onEvent y retorna la función para cancelar.
	// onEvent puede invocarse desde otra goroutine.
	Subscribe(ctx context.Context, table, filter string, onEvent func(Change)) (unsubscribe func(), err error)
}

// FilterByID arma el filtro estándar por id.
func FilterByID(id string) string { return "id=eq." + id }

// Matches evalúa un filtro "id=eq.<valor>" contra el cambio.
// Solo se soporta igualdad sobre id; cualquier otro filtro no matchea.
func (c Change) Matches(table, filter string) bool {
	if table != "" && c.Table != table {
		return false
	}
	if filter == "" {
		return true
	}
	col, rest, ok := strings.Cut(filter, "=")
	if !ok || col != "id" {
		return false
	}
	op, val, ok := strings.Cut(rest, ".")
	if !ok || op != "eq" {
		return false
	}
	return c.ID == val
}
