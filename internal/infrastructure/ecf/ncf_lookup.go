package ecf

import (
	"context"
	"fmt"

	"github.com/jhoicas/ecf-core/internal/domain"
)

// NCFLookup consulta a la autoridad el uso de un e-NCF en nombre de un emisor.
type NCFLookup struct {
	client   *AuthorityClient
	sessions *Sessions
	taxID    func(issuerID string) (string, error)
}

// NewNCFLookup taxID resuelve el RNC del emisor.
func NewNCFLookup(client *AuthorityClient, sessions *Sessions, taxID func(issuerID string) (string, error)) *NCFLookup {
	return &NCFLookup{client: client, sessions: sessions, taxID: taxID}
}

// StaticTaxIDs resolvedor de RNC a partir de un mapa fijo.
func StaticTaxIDs(m map[string]string) func(string) (string, error) {
	return func(issuerID string) (string, error) {
		if rnc, ok := m[issuerID]; ok {
			return rnc, nil
		}
		return "", fmt.Errorf("RNC del emisor %s: %w", issuerID, domain.ErrNotFound)
	}
}

// NCFUsed true si el número ya fue utilizado o no está autorizado al emisor.
func (l *NCFLookup) NCFUsed(ctx context.Context, issuerID, encf string) (bool, error) {
	rnc, err := l.taxID(issuerID)
	if err != nil {
		return false, err
	}
	session := l.sessions.Session(issuerID)
	token, err := session.Token(ctx)
	if err != nil {
		return false, err
	}
	res, err := l.client.LookupNCF(ctx, rnc, encf, token)
	if err != nil {
		if domain.IsTokenRejected(err) {
			session.Invalidate()
		}
		return false, err
	}
	return res.Used || !res.Authorized, nil
}
