package entity_test

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/ecf-core/internal/domain"
	"github.com/jhoicas/ecf-core/internal/domain/entity"
	"github.com/jhoicas/ecf-core/pkg/ecf"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newSequence() *entity.NcfSequence {
	return &entity.NcfSequence{
		ID: "seq-1", IssuerID: "i1", DocumentType: ecf.TypeCreditoFiscal, Prefix: "E31",
		RangeStart: 1, RangeEnd: 3, Cursor: 1, ExpiresOn: now.AddDate(0, 1, 0),
	}
}

func TestNcfSequence_ActivarRequiereAmbosLimitesValidados(t *testing.T) {
	s := newSequence()
	s.Validation.Start = true
	assert.ErrorIs(t, s.Activate(), domain.ErrSequenceNotValidated)
	assert.False(t, s.IsActive())

	s.Validation.End = true
	require.NoError(t, s.Activate())
	assert.True(t, s.IsActive())
}

func TestNcfSequence_AdvanceHastaAgotar(t *testing.T) {
	s := newSequence()
	s.Validation = entity.AuthorityValidation{Start: true, End: true}
	require.NoError(t, s.Activate())

	for want := uint64(1); want <= 3; want++ {
		a, err := s.Advance(now)
		require.NoError(t, err)
		assert.Equal(t, want, a.Number)
	}
	assert.Equal(t, uint64(0), s.Remaining())

	_, err := s.Advance(now)
	assert.ErrorIs(t, err, domain.ErrSequenceExhausted)
	assert.Equal(t, entity.SequenceExhausted, s.State)
	assert.Equal(t, uint64(4), s.Cursor, "el cursor nunca retrocede ni pasa de range_end+1")
}

func TestNcfSequence_AdvanceVencida(t *testing.T) {
	s := newSequence()
	s.State = entity.SequenceActive
	s.ExpiresOn = now.AddDate(0, 0, -1)
	_, err := s.Advance(now)
	assert.ErrorIs(t, err, domain.ErrSequenceExpired)
	assert.Equal(t, entity.SequenceExpired, s.State)
	assert.Equal(t, uint64(1), s.Cursor)
}

func TestNcfSequence_VenceAlFinalDelDia(t *testing.T) {
	s := newSequence()
	s.ExpiresOn = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	assert.False(t, s.Expired(now))
	assert.True(t, s.Expired(now.Add(13*time.Hour)))
}

func TestNcfSequence_ValidateFormat(t *testing.T) {
	s := newSequence()
	require.NoError(t, s.ValidateFormat())

	bad := newSequence()
	bad.RangeEnd = 0
	assert.ErrorIs(t, bad.ValidateFormat(), domain.ErrSequenceFormat)

	bad = newSequence()
	bad.Prefix = "E-31"
	assert.ErrorIs(t, bad.ValidateFormat(), domain.ErrSequenceFormat)

	bad = newSequence()
	bad.RangeEnd = ecf.MaxSequenceNumber + 1
	assert.ErrorIs(t, bad.ValidateFormat(), domain.ErrSequenceFormat)
}

func TestNcfSequence_Overlaps(t *testing.T) {
	a := newSequence()
	b := newSequence()
	b.RangeStart, b.RangeEnd = 3, 9
	assert.True(t, a.Overlaps(b))

	b.RangeStart = 4
	assert.False(t, a.Overlaps(b))

	b.RangeStart = 1
	b.DocumentType = ecf.TypeConsumo
	assert.False(t, a.Overlaps(b), "tipos distintos no se solapan")
}

func TestAllocation_ENCF(t *testing.T) {
	a := entity.Allocation{Prefix: "E31", Number: 42}
	assert.Equal(t, "E3100000042", a.ENCF())
}

func selfSigned(t *testing.T, notBefore, notAfter time.Time) (*x509.Certificate, *rsa.PrivateKey) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 1024)
	require.NoError(t, err)
	tpl := &x509.Certificate{
		SerialNumber: big.NewInt(0xABCDEF),
		Subject:      pkix.Name{CommonName: "Emisor de prueba"},
		NotBefore:    notBefore,
		NotAfter:     notAfter,
	}
	der, err := x509.CreateCertificate(rand.Reader, tpl, tpl, &key.PublicKey, key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	return cert, key
}

func TestSigningCertificate_Check(t *testing.T) {
	cert, key := selfSigned(t, now.AddDate(-1, 0, 0), now.AddDate(1, 0, 0))
	sc := entity.NewSigningCertificate("c1", "i1", cert, key, now)
	require.NoError(t, sc.Check(now))
	assert.Equal(t, "abcdef", sc.SerialNumber)

	assert.ErrorIs(t, sc.Check(now.AddDate(2, 0, 0)), domain.ErrCertificateExpired)

	sc.Active = false
	assert.ErrorIs(t, sc.Check(now), domain.ErrCertificateInactive)
}

func TestSigningCertificate_StringNoExponeLlave(t *testing.T) {
	cert, key := selfSigned(t, now.AddDate(-1, 0, 0), now.AddDate(1, 0, 0))
	sc := entity.NewSigningCertificate("c1", "i1", cert, key, now)
	s := sc.String()
	assert.Contains(t, s, "c1")
	assert.NotContains(t, s, key.D.String())
}
