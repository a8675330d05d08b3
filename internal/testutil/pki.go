package testutil

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	pkcs12 "software.sslmate.com/src/go-pkcs12"

	"github.com/jhoicas/ecf-core/internal/domain/entity"
)

var (
	keyOnce sync.Once
	rsaKey  *rsa.PrivateKey
)

// Key llave RSA-2048 compartida por todos los tests del proceso.
func Key() *rsa.PrivateKey {
	keyOnce.Do(func() {
		k, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			panic(err)
		}
		rsaKey = k
	})
	return rsaKey
}

// CertOptions vigencia y serial del certificado autofirmado.
type CertOptions struct {
	Serial    int64
	NotBefore time.Time
	NotAfter  time.Time
}

// Certificate certificado autofirmado con la llave compartida.
func Certificate(t testing.TB, opts CertOptions) *x509.Certificate {
	t.Helper()
	if opts.Serial == 0 {
		opts.Serial = 0x1234ABCD
	}
	if opts.NotBefore.IsZero() {
		opts.NotBefore = time.Now().Add(-24 * time.Hour)
	}
	if opts.NotAfter.IsZero() {
		opts.NotAfter = time.Now().AddDate(1, 0, 0)
	}
	tpl := &x509.Certificate{
		SerialNumber: big.NewInt(opts.Serial),
		Subject: pkix.Name{
			CommonName:   "Comercial Ejemplo SRL",
			Organization: []string{"Comercial Ejemplo SRL"},
			Country:      []string{"DO"},
		},
		NotBefore:   opts.NotBefore,
		NotAfter:    opts.NotAfter,
		KeyUsage:    x509.KeyUsageDigitalSignature | x509.KeyUsageContentCommitment,
		ExtKeyUsage: []x509.ExtKeyUsage{x509.ExtKeyUsageEmailProtection},
	}
	der, err := x509.CreateCertificate(rand.Reader, tpl, tpl, &Key().PublicKey, Key())
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	return cert
}

// SigningCertificate certificado vigente listo para firmar.
func SigningCertificate(t testing.TB) *entity.SigningCertificate {
	t.Helper()
	return entity.NewSigningCertificate("cert-1", IssuerID, Certificate(t, CertOptions{}), Key(), time.Now())
}

// LegacyP12 bundle PKCS#12 con 3DES/SHA-1 (decodificable por golang.org/x/crypto/pkcs12).
func LegacyP12(t testing.TB, cert *x509.Certificate, password string) []byte {
	t.Helper()
	pfx, err := pkcs12.LegacyDES.Encode(Key(), cert, nil, password)
	require.NoError(t, err)
	return pfx
}

// ModernP12 bundle PKCS#12 con AES-256/PBKDF2/SHA-256.
func ModernP12(t testing.TB, cert *x509.Certificate, password string) []byte {
	t.Helper()
	pfx, err := pkcs12.Modern.Encode(Key(), cert, nil, password)
	require.NoError(t, err)
	return pfx
}

// PEM certificado y llave en PEM.
func PEM(t testing.TB, cert *x509.Certificate) (certPEM, keyPEM []byte) {
	t.Helper()
	certPEM = pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: cert.Raw})
	keyPEM = pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(Key())})
	return certPEM, keyPEM
}
