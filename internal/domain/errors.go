package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Errores de dominio (sin dependencias externas).
var (
	ErrNotFound     = errors.New("recurso no encontrado")
	ErrInvalidInput = errors.New("entrada inválida")
	ErrUnauthorized = errors.New("no autorizado")
	ErrForbidden    = errors.New("acceso denegado")
	ErrConflict     = errors.New("conflicto con el estado actual")

	// ErrValidation documento o solicitud mal formada; nunca se reintenta.
	ErrValidation = errors.New("documento inválido")
)

// Secuencias NCF: violaciones de reglas de negocio, se reportan al operador para reaprovisionar.
var (
	ErrSequenceExhausted    = errors.New("secuencia NCF agotada")
	ErrSequenceExpired      = errors.New("secuencia NCF vencida")
	ErrSequenceOverlap      = errors.New("rango NCF solapado con una secuencia activa")
	ErrSequenceFormat       = errors.New("formato de secuencia NCF inválido")
	ErrSequenceNotFound     = errors.New("no hay secuencia NCF activa para el tipo de documento")
	ErrSequenceNotValidated = errors.New("los límites de la secuencia no fueron validados por la autoridad")
)

// Certificado de firma: fatales para la operación, no se reintentan automáticamente.
var (
	ErrCertificateExpired       = errors.New("certificado vencido")
	ErrCertificateWrongPassword = errors.New("contraseña del certificado incorrecta")
	ErrCertificateMalformed     = errors.New("certificado mal formado")
	ErrCertificateInactive      = errors.New("certificado inactivo")
	ErrCertificateNotFound      = errors.New("no hay certificado activo para el emisor")
)

// Autoridad tributaria.
var (
	// ErrAuthorityRejected terminal: el contenido es inválido según la autoridad.
	ErrAuthorityRejected = errors.New("rechazado por la autoridad tributaria")
	// ErrAuthorityUnavailable reintentable: 5xx o servicio caído.
	ErrAuthorityUnavailable = errors.New("servicio de la autoridad no disponible")
	ErrTimeout              = errors.New("tiempo de espera agotado")
	ErrNetwork              = errors.New("error de red")
	ErrTokenExpired         = errors.New("token de la autoridad vencido")
	ErrParse                = errors.New("respuesta de la autoridad no interpretable")
)

// AuthorityError detalla un fallo de la autoridad. Err es uno de los sentinelas de arriba.
type AuthorityError struct {
	Op         string
	StatusCode int
	Messages   []string
	Err        error
}

func (e *AuthorityError) Error() string {
	var sb strings.Builder
	sb.WriteString(e.Op)
	sb.WriteString(": ")
	sb.WriteString(e.Err.Error())
	if e.StatusCode != 0 {
		fmt.Fprintf(&sb, " (HTTP %d)", e.StatusCode)
	}
	if len(e.Messages) > 0 {
		sb.WriteString(": ")
		sb.WriteString(strings.Join(e.Messages, "; "))
	}
	return sb.String()
}

func (e *AuthorityError) Unwrap() error { return e.Err }

// IsRetryable indica si el error debe desviarse a contingencia en lugar de reportarse como fallo.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrAuthorityUnavailable) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrNetwork)
}

// RejectionMessage devuelve el mensaje de rechazo de la autoridad tal cual, o el texto del error.
func RejectionMessage(err error) string {
	var aerr *AuthorityError
	if errors.As(err, &aerr) && len(aerr.Messages) > 0 {
		return strings.Join(aerr.Messages, "; ")
	}
	if err == nil {
		return ""
	}
	return err.Error()
}

// IsTokenRejected el token venció o la autoridad lo rechazó (401): hay que renovar la sesión.
func IsTokenRejected(err error) bool {
	if errors.Is(err, ErrTokenExpired) {
		return true
	}
	var aerr *AuthorityError
	return errors.As(err, &aerr) && aerr.StatusCode == 401
}
