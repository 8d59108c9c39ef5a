package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrDuplicate indicates a uniqueness conflict.
	ErrDuplicate = errors.New("duplicate entry")
	// ErrInvalidCredentials indicates login failure.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrSessionExpired indicates the presented token is no longer valid.
	ErrSessionExpired = errors.New("session expired")
	// ErrPermissionDenied indicates the actor lacks a required permission.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrValidation indicates a field-level validation failure.
	ErrValidation = errors.New("validation failed")
	// ErrInactiveUser indicates the account is disabled.
	ErrInactiveUser = errors.New("inactive user")
)

// UserSafeMessage maps internal errors to messages safe to show users.
func UserSafeMessage(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return "El recurso solicitado no existe"
	case errors.Is(err, ErrDuplicate):
		return "Ya existe un registro con esos datos"
	case errors.Is(err, ErrInvalidCredentials):
		return "Credenciales inválidas"
	case errors.Is(err, ErrSessionExpired):
		return "La sesión ha expirado"
	case errors.Is(err, ErrPermissionDenied):
		return "No tienes permisos para realizar esta acción"
	case errors.Is(err, ErrInactiveUser):
		return "Usuario inactivo"
	case errors.Is(err, ErrValidation):
		return "Datos inválidos"
	default:
		return "Error interno del servidor"
	}
}
