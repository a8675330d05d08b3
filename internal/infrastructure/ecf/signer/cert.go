// Carga de certificado desde .p12 (PKCS#12) o par PEM.

package signer

import (
	"crypto/rsa"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/pkcs12"
	sslpkcs12 "software.sslmate.com/src/go-pkcs12"

	"github.com/jhoicas/ecf-core/internal/domain"
)

// DecodePKCS12 extrae certificado hoja y llave RSA de un bundle PKCS#12.
// golang.org/x/crypto/pkcs12 cubre los bundles 3DES/SHA-1 que emiten las autoridades
// certificadoras locales; los bundles AES/PBKDF2 y los que traen cadena pasan a go-pkcs12.
func DecodePKCS12(bundle []byte, password string) (*x509.Certificate, *rsa.PrivateKey, error) {
	if len(bundle) == 0 {
		return nil, nil, fmt.Errorf("%w: bundle vacío", domain.ErrCertificateMalformed)
	}
	key, cert, err := pkcs12.Decode(bundle, password)
	if errors.Is(err, pkcs12.ErrIncorrectPassword) {
		return nil, nil, domain.ErrCertificateWrongPassword
	}
	if err != nil {
		// La cadena se descarta: solo se firma con el certificado hoja.
		key, cert, _, err = sslpkcs12.DecodeChain(bundle, password)
		if errors.Is(err, sslpkcs12.ErrIncorrectPassword) {
			return nil, nil, domain.ErrCertificateWrongPassword
		}
		if err != nil {
			return nil, nil, fmt.Errorf("%w: decodificar p12: %v", domain.ErrCertificateMalformed, err)
		}
	}
	return rsaPair(cert, key)
}

// DecodePEM carga certificado y llave desde PEM (pueden venir en el mismo bloque de bytes).
func DecodePEM(certPEM, keyPEM []byte) (*x509.Certificate, *rsa.PrivateKey, error) {
	if len(keyPEM) == 0 {
		keyPEM = certPEM
	}
	pair, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: cargar PEM: %v", domain.ErrCertificateMalformed, err)
	}
	cert, err := x509.ParseCertificate(pair.Certificate[0])
	if err != nil {
		return nil, nil, fmt.Errorf("%w: parsear certificado: %v", domain.ErrCertificateMalformed, err)
	}
	return rsaPair(cert, pair.PrivateKey)
}

func rsaPair(cert *x509.Certificate, key interface{}) (*x509.Certificate, *rsa.PrivateKey, error) {
	if cert == nil {
		return nil, nil, fmt.Errorf("%w: bundle sin certificado", domain.ErrCertificateMalformed)
	}
	priv, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, nil, fmt.Errorf("%w: se requiere llave privada RSA", domain.ErrCertificateMalformed)
	}
	pub, ok := cert.PublicKey.(*rsa.PublicKey)
	if !ok || pub.N.Cmp(priv.N) != 0 {
		return nil, nil, fmt.Errorf("%w: la llave no corresponde al certificado", domain.ErrCertificateMalformed)
	}
	return cert, priv, nil
}

// CertDigestAndIssuerSerial devuelve el digest SHA-256 del certificado (Base64), el emisor y el
// serial en decimal para xades:IssuerSerial.
func CertDigestAndIssuerSerial(cert *x509.Certificate) (digestB64 string, issuerName string, serial string) {
	h := sha256.Sum256(cert.Raw)
	digestB64 = base64.StdEncoding.EncodeToString(h[:])
	issuerName = cert.Issuer.String()
	serial = cert.SerialNumber.String()
	return digestB64, issuerName, serial
}
