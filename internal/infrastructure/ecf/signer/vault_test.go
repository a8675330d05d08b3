package signer_test

import (
	"encoding/base64"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/ecf-core/internal/domain"
	"github.com/jhoicas/ecf-core/internal/infrastructure/ecf/signer"
	"github.com/jhoicas/ecf-core/internal/testutil"
)

func b64(b []byte) string { return base64.StdEncoding.EncodeToString(b) }

func TestVault_LoadBundleLegacy(t *testing.T) {
	v := signer.NewVault(nil)
	bundle := testutil.LegacyP12(t, testutil.Certificate(t, testutil.CertOptions{Serial: 7}), "secreto")

	sc, err := v.Load(testutil.IssuerID, bundle, "secreto")
	require.NoError(t, err)
	assert.Equal(t, "7", sc.SerialNumber)
	assert.True(t, sc.Active)
	assert.NotNil(t, sc.PrivateKey())
	assert.NotContains(t, sc.String(), "PRIVATE")

	active, err := v.Active(testutil.IssuerID)
	require.NoError(t, err)
	assert.Equal(t, sc.ID, active.ID)
}

func TestVault_LoadBundleModerno(t *testing.T) {
	v := signer.NewVault(nil)
	bundle := testutil.ModernP12(t, testutil.Certificate(t, testutil.CertOptions{}), "secreto")

	_, err := v.Load(testutil.IssuerID, bundle, "secreto")
	require.NoError(t, err)
}

func TestVault_ContrasenaIncorrecta(t *testing.T) {
	cert := testutil.Certificate(t, testutil.CertOptions{})
	v := signer.NewVault(nil)

	_, err := v.Load(testutil.IssuerID, testutil.LegacyP12(t, cert, "secreto"), "otra")
	assert.True(t, errors.Is(err, domain.ErrCertificateWrongPassword), "legacy: %v", err)

	_, err = v.Load(testutil.IssuerID, testutil.ModernP12(t, cert, "secreto"), "otra")
	assert.True(t, errors.Is(err, domain.ErrCertificateWrongPassword), "moderno: %v", err)

	_, err = v.Active(testutil.IssuerID)
	assert.True(t, errors.Is(err, domain.ErrCertificateNotFound))
}

func TestVault_BundleMalFormado(t *testing.T) {
	_, err := signer.NewVault(nil).Load(testutil.IssuerID, []byte("no es un p12"), "x")
	assert.True(t, errors.Is(err, domain.ErrCertificateMalformed))

	_, err = signer.NewVault(nil).Load(testutil.IssuerID, nil, "x")
	assert.True(t, errors.Is(err, domain.ErrCertificateMalformed))
}

func TestVault_CertificadoVencido(t *testing.T) {
	cert := testutil.Certificate(t, testutil.CertOptions{
		NotBefore: time.Now().AddDate(-2, 0, 0),
		NotAfter:  time.Now().AddDate(0, 0, -1),
	})
	_, err := signer.NewVault(nil).Load(testutil.IssuerID, testutil.LegacyP12(t, cert, "pw"), "pw")
	assert.True(t, errors.Is(err, domain.ErrCertificateExpired))
}

func TestVault_ActivoEsElMasReciente(t *testing.T) {
	v := signer.NewVault(nil)
	first, err := v.Load(testutil.IssuerID, testutil.LegacyP12(t, testutil.Certificate(t, testutil.CertOptions{Serial: 1}), "pw"), "pw")
	require.NoError(t, err)
	second, err := v.Load(testutil.IssuerID, testutil.LegacyP12(t, testutil.Certificate(t, testutil.CertOptions{Serial: 2}), "pw"), "pw")
	require.NoError(t, err)

	active, err := v.Active(testutil.IssuerID)
	require.NoError(t, err)
	assert.Equal(t, second.ID, active.ID)

	require.NoError(t, v.Deactivate(testutil.IssuerID, second.ID))
	active, err = v.Active(testutil.IssuerID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, active.ID)
	assert.Len(t, v.List(testutil.IssuerID), 2)

	assert.True(t, errors.Is(v.Deactivate(testutil.IssuerID, "nope"), domain.ErrNotFound))

	_, err = v.Active("otro-emisor")
	assert.True(t, errors.Is(err, domain.ErrCertificateNotFound))
}

func TestVault_LoadPEMYArchivo(t *testing.T) {
	certPEM, keyPEM := testutil.PEM(t, testutil.Certificate(t, testutil.CertOptions{}))
	v := signer.NewVault(nil)

	_, err := v.LoadPEM(testutil.IssuerID, certPEM, keyPEM)
	require.NoError(t, err)

	dir := t.TempDir()
	certPath := filepath.Join(dir, "cert.pem")
	keyPath := filepath.Join(dir, "key.pem")
	require.NoError(t, os.WriteFile(certPath, certPEM, 0o600))
	require.NoError(t, os.WriteFile(keyPath, keyPEM, 0o600))
	_, err = v.LoadFile(testutil.IssuerID, certPath, keyPath, "")
	require.NoError(t, err)

	p12Path := filepath.Join(dir, "firma.p12")
	require.NoError(t, os.WriteFile(p12Path, testutil.LegacyP12(t, testutil.Certificate(t, testutil.CertOptions{}), "pw"), 0o600))
	_, err = v.LoadFile(testutil.IssuerID, p12Path, "", "pw")
	require.NoError(t, err)

	assert.Len(t, v.List(testutil.IssuerID), 3)

	_, err = v.LoadPEM(testutil.IssuerID, certPEM, []byte("basura"))
	assert.True(t, errors.Is(err, domain.ErrCertificateMalformed))
}
