package entity

import (
	"time"

	"github.com/jhoicas/ecf-core/pkg/ecf"
)

// SubmissionState estado local de un envío en cola de contingencia.
type SubmissionState string

const (
	SubmissionPending SubmissionState = "pending"
	SubmissionStuck   SubmissionState = "stuck" // Superó los reintentos o fue rechazado; requiere operador
)

// PendingSubmission documento firmado a la espera de ser enviado a la autoridad.
type PendingSubmission struct {
	ID                string
	ContingencyNumber string
	IssuerID          string
	IssuerTaxID       string
	DocumentID        string // e-NCF
	SignedXML         []byte
	EnqueuedAt        time.Time
	Attempts          int
	LastAttemptAt     *time.Time
	LastError         string
	State             SubmissionState
}

// Filename nombre del archivo para el reenvío.
func (p *PendingSubmission) Filename() string {
	return ecf.Filename(p.IssuerTaxID, p.DocumentID)
}

// EventKind causa de una activación de contingencia.
type EventKind string

const (
	EventNetworkFailure       EventKind = "network_failure"
	EventAuthorityUnavailable EventKind = "authority_unavailable"
	EventCertificateError     EventKind = "certificate_error"
	EventSystemError          EventKind = "system_error"
)

// ValidEventKind indica si el tipo de evento es conocido.
func ValidEventKind(k EventKind) bool {
	switch k {
	case EventNetworkFailure, EventAuthorityUnavailable, EventCertificateError, EventSystemError:
		return true
	}
	return false
}

// ContingencyEvent registro de auditoría de una entrada en modo contingencia. Solo se agregan;
// la única modificación permitida es marcarlo resuelto.
type ContingencyEvent struct {
	ID          string
	IssuerID    string
	Timestamp   time.Time
	Kind        EventKind
	Description string
	Resolved    bool
	ResolvedAt  *time.Time
}
