package repository

import "errors"

var (
	// ErrNotFound indica que el registro no existe.
	ErrNotFound = errors.New("not found")

	// ErrConflict indica violación de unicidad (otro caller ya insertó).
	ErrConflict = errors.New("conflict")

	// ErrInvalidInput indica que los datos de entrada son inválidos.
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnavailable indica un fallo transitorio de red/almacenamiento.
	// Se recupera localmente (cache o próximo refresh), nunca es fatal.
	ErrUnavailable = errors.New("backend unavailable")

	// ErrNoDatabase indica que no hay base de datos configurada.
	ErrNoDatabase = errors.New("no database configured")
)

func IsNotFound(err error) bool    { return errors.Is(err, ErrNotFound) }
func IsConflict(err error) bool    { return errors.Is(err, ErrConflict) }
func IsUnavailable(err error) bool { return errors.Is(err, ErrUnavailable) }
