package dto

import (
	"time"

	"github.com/shopspring/decimal"
)

// IssueDocumentRequest body para POST /api/documents.
// Fechas en formato YYYY-MM-DD. El emisor sale del token.
type IssueDocumentRequest struct {
	Type             string                `json:"type"` // "31" o "E31"
	IssueDate        string                `json:"issue_date"`
	IssuerTaxID      string                `json:"issuer_tax_id"`
	IssuerName       string                `json:"issuer_name"`
	IssuerAddress    string                `json:"issuer_address,omitempty"`
	BuyerTaxID       string                `json:"buyer_tax_id,omitempty"`
	BuyerName        string                `json:"buyer_name,omitempty"`
	ModifiedENCF     string                `json:"modified_encf,omitempty"`
	ModifiedDate     string                `json:"modified_date,omitempty"`
	ModificationCode string                `json:"modification_code,omitempty"`
	Lines            []DocumentLineRequest `json:"lines"`
	TaxableTotal     decimal.Decimal       `json:"taxable_total"`
	ExemptTotal      decimal.Decimal       `json:"exempt_total"`
	ITBISTotal       decimal.Decimal       `json:"itbis_total"`
	GrandTotal       decimal.Decimal       `json:"grand_total"`
}

// DocumentLineRequest línea de detalle.
type DocumentLineRequest struct {
	Description string          `json:"description"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	ITBISRate   decimal.Decimal `json:"itbis_rate"` // 0.18, 0.16 o 0
	Amount      decimal.Decimal `json:"amount"`
}

// IssuanceResponse resultado de la emisión. SignedXML va en base64.
type IssuanceResponse struct {
	ENCF         string    `json:"encf"`
	TrackID      string    `json:"track_id"`
	SecurityCode string    `json:"security_code"`
	Status       string    `json:"status"`
	Message      string    `json:"message,omitempty"`
	TimbreURL    string    `json:"timbre_url"`
	SignedAt     time.Time `json:"signed_at"`
	SignedXML    []byte    `json:"signed_xml"`
}

// DocumentStatusResponse estado de un comprobante emitido.
type DocumentStatusResponse struct {
	ENCF         string          `json:"encf"`
	DocumentType string          `json:"document_type"`
	TrackID      string          `json:"track_id"`
	Status       string          `json:"status"`
	Message      string          `json:"message,omitempty"`
	SecurityCode string          `json:"security_code"`
	Total        decimal.Decimal `json:"total"`
	IssuedAt     time.Time       `json:"issued_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// VerifyResponse resultado de POST /api/documents/verify (cuerpo: XML firmado).
type VerifyResponse struct {
	Valid        bool   `json:"valid"`
	SecurityCode string `json:"security_code,omitempty"`
}

// SequenceRequest rango otorgado por la autoridad. Los números van como texto de 8 dígitos.
type SequenceRequest struct {
	DocumentType string `json:"document_type"`
	Prefix       string `json:"prefix"`
	RangeStart   string `json:"range_start"`
	RangeEnd     string `json:"range_end"`
	ExpiresOn    string `json:"expires_on"` // YYYY-MM-DD
}

// ReplaceSequencesRequest body para PUT /api/sequences.
type ReplaceSequencesRequest struct {
	Sequences []SequenceRequest `json:"sequences"`
}

// SequenceResponse secuencia en respuestas.
type SequenceResponse struct {
	ID             string `json:"id"`
	DocumentType   string `json:"document_type"`
	Prefix         string `json:"prefix"`
	RangeStart     string `json:"range_start"`
	RangeEnd       string `json:"range_end"`
	Next           string `json:"next,omitempty"` // Próximo e-NCF; vacío si está agotada
	ExpiresOn      string `json:"expires_on"`
	State          string `json:"state"`
	StartValidated bool   `json:"start_validated"`
	EndValidated   bool   `json:"end_validated"`
}

// CertificateUploadRequest body para POST /api/certificates. Bundle es el .p12 en base64;
// alternativamente CertPEM + KeyPEM.
type CertificateUploadRequest struct {
	Bundle   []byte `json:"bundle,omitempty"`
	Password string `json:"password,omitempty"`
	CertPEM  string `json:"cert_pem,omitempty"`
	KeyPEM   string `json:"key_pem,omitempty"`
}

// CertificateResponse certificado sin material de llave.
type CertificateResponse struct {
	ID          string    `json:"id"`
	SubjectName string    `json:"subject_name"`
	Serial      string    `json:"serial"`
	NotBefore   time.Time `json:"not_before"`
	NotAfter    time.Time `json:"not_after"`
	LoadedAt    time.Time `json:"loaded_at"`
	Active      bool      `json:"active"`
}

// ContingencyStatusResponse modo de contingencia del emisor.
type ContingencyStatusResponse struct {
	Active      bool       `json:"active"`
	Since       *time.Time `json:"since,omitempty"`
	Kind        string     `json:"kind,omitempty"`
	Description string     `json:"description,omitempty"`
	Pending     int        `json:"pending"`
	Stuck       int        `json:"stuck"`
}

// ActivateContingencyRequest activación manual.
type ActivateContingencyRequest struct {
	Kind        string `json:"kind"`
	Description string `json:"description"`
}

// ContingencyEventResponse evento de la bitácora.
type ContingencyEventResponse struct {
	ID          string     `json:"id"`
	Timestamp   time.Time  `json:"timestamp"`
	Kind        string     `json:"kind"`
	Description string     `json:"description"`
	Resolved    bool       `json:"resolved"`
	ResolvedAt  *time.Time `json:"resolved_at,omitempty"`
}

// PendingSubmissionResponse envío en cola (sin el XML).
type PendingSubmissionResponse struct {
	ID                string     `json:"id"`
	ContingencyNumber string     `json:"contingency_number"`
	ENCF              string     `json:"encf"`
	EnqueuedAt        time.Time  `json:"enqueued_at"`
	Attempts          int        `json:"attempts"`
	LastAttemptAt     *time.Time `json:"last_attempt_at,omitempty"`
	LastError         string     `json:"last_error,omitempty"`
	State             string     `json:"state"`
}

// DrainResponse resultado de un drenado manual.
type DrainResponse struct {
	Resolved int  `json:"resolved"`
	Stuck    int  `json:"stuck"`
	Skipped  bool `json:"skipped"`
}
