package billing

import (
	"context"

	"github.com/jhoicas/ecf-core/internal/domain/entity"
	ecfxml "github.com/jhoicas/ecf-core/internal/infrastructure/ecf"
	"github.com/jhoicas/ecf-core/pkg/ecf"
)

// CertificateSource certificado de firma vigente del emisor.
type CertificateSource interface {
	Active(issuerID string) (*entity.SigningCertificate, error)
}

// NumberAllocator entrega el próximo e-NCF del emisor para el tipo de comprobante.
type NumberAllocator interface {
	AllocateNext(ctx context.Context, issuerID string, docType ecf.DocumentType) (entity.Allocation, error)
}

// DocumentSigner serializa y firma el comprobante.
type DocumentSigner interface {
	Sign(doc *entity.FiscalDocument, cert *entity.SigningCertificate) (*entity.SignedDocument, error)
}

// TokenSource sesiones con la autoridad por emisor.
type TokenSource interface {
	Token(ctx context.Context, issuerID string) (*ecfxml.Token, error)
	Invalidate(issuerID string)
}

// AuthorityGateway operaciones de la autoridad que usa la emisión.
type AuthorityGateway interface {
	Submit(ctx context.Context, signedXML []byte, filename string, token *ecfxml.Token) (*ecfxml.SubmitResult, error)
	QueryStatus(ctx context.Context, trackID string, token *ecfxml.Token) (*ecfxml.StatusResult, error)
}
