// Servicio de firma XMLDSig enveloped con propiedades XAdES para el e-CF.
// Inyecta <ds:Signature> como último hijo del elemento raíz.

package signer

import (
	"bytes"
	"crypto"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/beevik/etree"
	"github.com/google/uuid"

	"github.com/jhoicas/ecf-core/internal/domain"
	domainecf "github.com/jhoicas/ecf-core/internal/domain/ecf"
	"github.com/jhoicas/ecf-core/internal/domain/entity"
	ecfxml "github.com/jhoicas/ecf-core/internal/infrastructure/ecf"
	"github.com/jhoicas/ecf-core/pkg/logger"
)

// SigningStage etapa alcanzada por una operación de firma.
type SigningStage string

const (
	StageUnsigned      SigningStage = "unsigned"
	StageCanonicalized SigningStage = "canonicalized"
	StageHashed        SigningStage = "hashed"
	StageSigned        SigningStage = "signed"
	StageEmbedded      SigningStage = "embedded"
)

// SigningError fallo de firma con la última etapa completada.
type SigningError struct {
	Stage SigningStage
	Err   error
}

func (e *SigningError) Error() string {
	return fmt.Sprintf("firma (etapa %s): %v", e.Stage, e.Err)
}

func (e *SigningError) Unwrap() error { return e.Err }

func stageErr(stage SigningStage, err error) error {
	return &SigningError{Stage: stage, Err: err}
}

// DigitalSignatureService firma comprobantes y verifica firmas. No guarda estado entre
// llamadas, es seguro para uso concurrente.
type DigitalSignatureService struct {
	builder *ecfxml.XMLBuilderService
	now     func() time.Time
	log     *logger.Logger
}

// NewDigitalSignatureService crea el servicio.
func NewDigitalSignatureService(log *logger.Logger) *DigitalSignatureService {
	if log == nil {
		log = logger.Nop()
	}
	return &DigitalSignatureService{
		builder: ecfxml.NewXMLBuilderService(),
		now:     time.Now,
		log:     log.Component("signer"),
	}
}

// WithClock reemplaza el reloj (tests).
func (s *DigitalSignatureService) WithClock(now func() time.Time) *DigitalSignatureService {
	s.now = now
	return s
}

// Sign serializa el comprobante, lo firma y calcula el código de seguridad. El certificado se
// revisa antes de cualquier operación criptográfica.
func (s *DigitalSignatureService) Sign(doc *entity.FiscalDocument, cert *entity.SigningCertificate) (*entity.SignedDocument, error) {
	signedAt := s.now().Truncate(time.Second)
	if err := cert.Check(signedAt); err != nil {
		return nil, stageErr(StageUnsigned, err)
	}
	if doc == nil {
		return nil, stageErr(StageUnsigned, fmt.Errorf("%w: documento nulo", domain.ErrValidation))
	}
	raw, err := s.builder.Build(doc, signedAt)
	if err != nil {
		return nil, stageErr(StageUnsigned, fmt.Errorf("%w: %v", domain.ErrValidation, err))
	}
	signed, sigValue, err := s.sign(raw, cert, signedAt)
	if err != nil {
		return nil, err
	}
	code, err := domainecf.SecurityCode(sigValue)
	if err != nil {
		return nil, stageErr(StageEmbedded, err)
	}

	s.log.Debug().
		Str("issuer_id", doc.IssuerID).
		Str("encf", doc.ENCF).
		Str("certificate_id", cert.ID).
		Str("security_code", code).
		Msg("comprobante firmado")

	return &entity.SignedDocument{
		Document:       doc.Clone(),
		SignedXML:      signed,
		SignatureValue: sigValue,
		SecurityCode:   code,
		SignedAt:       signedAt,
		CertificateID:  cert.ID,
	}, nil
}

// SignXML firma un XML arbitrario (p. ej. la semilla de autenticación).
func (s *DigitalSignatureService) SignXML(data []byte, cert *entity.SigningCertificate) ([]byte, error) {
	now := s.now().Truncate(time.Second)
	if err := cert.Check(now); err != nil {
		return nil, stageErr(StageUnsigned, err)
	}
	signed, _, err := s.sign(data, cert, now)
	return signed, err
}

func (s *DigitalSignatureService) sign(data []byte, cert *entity.SigningCertificate, signingTime time.Time) ([]byte, string, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, "", stageErr(StageUnsigned, fmt.Errorf("%w: XML vacío", domain.ErrValidation))
	}
	x509Cert := cert.Certificate
	priv := cert.PrivateKey()

	// 1) Documento canónico y su digest (Reference URI="" enveloped)
	canonicalDoc, err := ecfxml.Canonicalize(data)
	if err != nil {
		return nil, "", stageErr(StageUnsigned, err)
	}
	docDigestB64 := digestB64(canonicalDoc)

	// 2) SignedProperties (certificado que firma)
	sigID := "Signature-" + uuid.NewString()
	propsID := sigID + "-SignedProperties"
	propsXML := buildSignedProperties(propsID, x509Cert, signingTime)
	canonicalProps, err := ecfxml.Canonicalize([]byte(propsXML))
	if err != nil {
		return nil, "", stageErr(StageCanonicalized, err)
	}
	propsDigestB64 := digestB64(canonicalProps)

	// 3) SignedInfo canónico
	signedInfoXML := buildSignedInfo(docDigestB64, propsID, propsDigestB64)
	canonicalSignedInfo, err := ecfxml.Canonicalize([]byte(signedInfoXML))
	if err != nil {
		return nil, "", stageErr(StageCanonicalized, err)
	}
	signHash := sha256.Sum256(canonicalSignedInfo)

	// 4) RSA-SHA256
	signatureValue, err := rsa.SignPKCS1v15(nil, priv, crypto.SHA256, signHash[:])
	if err != nil {
		return nil, "", stageErr(StageHashed, fmt.Errorf("firmar SignedInfo: %w", err))
	}
	sigValueB64 := base64.StdEncoding.EncodeToString(signatureValue)

	// 5) Inyección
	signatureXML := buildSignature(sigID, signedInfoXML, sigValueB64, x509Cert, propsXML)
	out, err := injectSignature(data, signatureXML)
	if err != nil {
		return nil, "", stageErr(StageSigned, err)
	}
	return out, sigValueB64, nil
}

func digestB64(data []byte) string {
	h := sha256.Sum256(data)
	return base64.StdEncoding.EncodeToString(h[:])
}

func buildSignedProperties(id string, cert *x509.Certificate, signingTime time.Time) string {
	certDigest, issuerName, serial := CertDigestAndIssuerSerial(cert)
	var sb strings.Builder
	sb.WriteString(`<xades:SignedProperties xmlns:ds="` + NamespaceDS + `" xmlns:xades="` + NamespaceXAdES + `" Id="` + id + `">`)
	sb.WriteString(`<xades:SignedSignatureProperties>`)
	sb.WriteString(`<xades:SigningTime>` + signingTime.Format(SigningTimeLayout) + `</xades:SigningTime>`)
	sb.WriteString(`<xades:SigningCertificate><xades:Cert><xades:CertDigest>`)
	sb.WriteString(`<ds:DigestMethod Algorithm="` + AlgSHA256 + `"/>`)
	sb.WriteString(`<ds:DigestValue>` + certDigest + `</ds:DigestValue></xades:CertDigest>`)
	sb.WriteString(`<xades:IssuerSerial><ds:X509IssuerName>` + escapeXML(issuerName) + `</ds:X509IssuerName>`)
	sb.WriteString(`<ds:X509SerialNumber>` + serial + `</ds:X509SerialNumber></xades:IssuerSerial>`)
	sb.WriteString(`</xades:Cert></xades:SigningCertificate>`)
	sb.WriteString(`</xades:SignedSignatureProperties></xades:SignedProperties>`)
	return sb.String()
}

func buildSignedInfo(docDigestB64, propsID, propsDigestB64 string) string {
	var sb strings.Builder
	sb.WriteString(`<ds:SignedInfo xmlns:ds="` + NamespaceDS + `">`)
	sb.WriteString(`<ds:CanonicalizationMethod Algorithm="` + AlgC14N + `"/>`)
	sb.WriteString(`<ds:SignatureMethod Algorithm="` + AlgRSASHA256 + `"/>`)
	sb.WriteString(`<ds:Reference URI="">`)
	sb.WriteString(`<ds:Transforms><ds:Transform Algorithm="` + TransformEnveloped + `"/></ds:Transforms>`)
	sb.WriteString(`<ds:DigestMethod Algorithm="` + AlgSHA256 + `"/>`)
	sb.WriteString(`<ds:DigestValue>` + docDigestB64 + `</ds:DigestValue>`)
	sb.WriteString(`</ds:Reference>`)
	sb.WriteString(`<ds:Reference URI="#` + propsID + `" Type="` + TypeSignedProps + `">`)
	sb.WriteString(`<ds:DigestMethod Algorithm="` + AlgSHA256 + `"/>`)
	sb.WriteString(`<ds:DigestValue>` + propsDigestB64 + `</ds:DigestValue>`)
	sb.WriteString(`</ds:Reference>`)
	sb.WriteString(`</ds:SignedInfo>`)
	return sb.String()
}

func buildSignature(sigID, signedInfoXML, sigValueB64 string, cert *x509.Certificate, propsXML string) string {
	var sb strings.Builder
	sb.WriteString(`<ds:Signature xmlns:ds="` + NamespaceDS + `" Id="` + sigID + `">`)
	sb.WriteString(signedInfoXML)
	sb.WriteString(`<ds:SignatureValue>` + sigValueB64 + `</ds:SignatureValue>`)
	sb.WriteString(`<ds:KeyInfo><ds:X509Data><ds:X509Certificate>` + base64.StdEncoding.EncodeToString(cert.Raw) + `</ds:X509Certificate></ds:X509Data></ds:KeyInfo>`)
	sb.WriteString(`<ds:Object><xades:QualifyingProperties xmlns:xades="` + NamespaceXAdES + `" Target="#` + sigID + `">`)
	sb.WriteString(propsXML)
	sb.WriteString(`</xades:QualifyingProperties></ds:Object>`)
	sb.WriteString(`</ds:Signature>`)
	return sb.String()
}

func escapeXML(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	s = strings.ReplaceAll(s, "\"", "&quot;")
	return s
}

func injectSignature(data []byte, signatureXML string) ([]byte, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		return nil, fmt.Errorf("%w: parsear XML: %v", domain.ErrParse, err)
	}
	root := doc.Root()
	if root == nil {
		return nil, fmt.Errorf("%w: documento sin raíz", domain.ErrParse)
	}
	if root.SelectElement("ds:Signature") != nil {
		return nil, errors.New("el documento ya está firmado")
	}
	sigDoc := etree.NewDocument()
	if err := sigDoc.ReadFromString(signatureXML); err != nil {
		return nil, fmt.Errorf("parsear Signature: %w", err)
	}
	root.AddChild(sigDoc.Root())
	return doc.WriteToBytes()
}

// Verify comprueba la firma embebida: ambos digests, la firma RSA sobre SignedInfo y que el
// certificado incluido sea el que declaran las propiedades firmadas. Nunca devuelve error.
func (s *DigitalSignatureService) Verify(signedXML []byte) bool {
	if err := verify(signedXML); err != nil {
		s.log.Debug().Err(err).Msg("firma inválida")
		return false
	}
	return true
}

func verify(signedXML []byte) error {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(signedXML); err != nil {
		return err
	}
	root := doc.Root()
	if root == nil {
		return errors.New("documento sin raíz")
	}
	sig := root.SelectElement("ds:Signature")
	if sig == nil {
		return errors.New("sin ds:Signature")
	}
	signedInfo := sig.SelectElement("ds:SignedInfo")
	sigValueEl := sig.SelectElement("ds:SignatureValue")
	certEl := sig.FindElement("./ds:KeyInfo/ds:X509Data/ds:X509Certificate")
	props := sig.FindElement("./ds:Object/xades:QualifyingProperties/xades:SignedProperties")
	if signedInfo == nil || sigValueEl == nil || certEl == nil || props == nil {
		return errors.New("estructura de firma incompleta")
	}
	if m := signedInfo.SelectElement("ds:SignatureMethod"); m == nil || m.SelectAttrValue("Algorithm", "") != AlgRSASHA256 {
		return errors.New("SignatureMethod no soportado")
	}

	cert, err := x509.ParseCertificate(decodeB64(certEl.Text()))
	if err != nil {
		return fmt.Errorf("X509Certificate: %w", err)
	}
	pub, ok := cert.PublicKey.(*rsa.PublicKey)
	if !ok {
		return errors.New("llave pública no RSA")
	}

	// Propiedades firmadas: digest y serial del certificado embebido.
	certDigest, _, serial := CertDigestAndIssuerSerial(cert)
	if v := props.FindElement(".//xades:CertDigest/ds:DigestValue"); v == nil || strings.TrimSpace(v.Text()) != certDigest {
		return errors.New("CertDigest no corresponde al certificado")
	}
	if v := props.FindElement(".//xades:IssuerSerial/ds:X509SerialNumber"); v == nil || strings.TrimSpace(v.Text()) != serial {
		return errors.New("X509SerialNumber no corresponde al certificado")
	}

	// Referencias: documento (enveloped) y SignedProperties.
	propsID := props.SelectAttrValue("Id", "")
	var docRef, propsRef bool
	for _, ref := range signedInfo.SelectElements("ds:Reference") {
		if dm := ref.SelectElement("ds:DigestMethod"); dm == nil || dm.SelectAttrValue("Algorithm", "") != AlgSHA256 {
			return errors.New("DigestMethod no soportado")
		}
		dv := ref.SelectElement("ds:DigestValue")
		if dv == nil {
			return errors.New("Reference sin DigestValue")
		}
		var target *etree.Element
		switch uri := ref.SelectAttrValue("URI", ""); {
		case uri == "":
			docRef = true
			target = root.Copy()
			target.RemoveChild(target.SelectElement("ds:Signature"))
		case propsID != "" && uri == "#"+propsID:
			propsRef = true
			target = props
		default:
			return fmt.Errorf("Reference %q desconocida", uri)
		}
		canonical, err := ecfxml.CanonicalizeElement(target)
		if err != nil {
			return err
		}
		if digestB64(canonical) != strings.TrimSpace(dv.Text()) {
			return fmt.Errorf("digest de Reference %q no coincide", ref.SelectAttrValue("URI", ""))
		}
	}
	if !docRef || !propsRef {
		return errors.New("faltan referencias")
	}

	canonicalSignedInfo, err := ecfxml.CanonicalizeElement(signedInfo)
	if err != nil {
		return err
	}
	h := sha256.Sum256(canonicalSignedInfo)
	return rsa.VerifyPKCS1v15(pub, crypto.SHA256, h[:], decodeB64(sigValueEl.Text()))
}

// SecurityCode extrae el SignatureValue del XML firmado y deriva el código de seguridad.
func (s *DigitalSignatureService) SecurityCode(signedXML []byte) (string, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(signedXML); err != nil {
		return "", fmt.Errorf("%w: parsear XML: %v", domain.ErrParse, err)
	}
	el := doc.FindElement("//ds:Signature/ds:SignatureValue")
	if el == nil {
		return "", fmt.Errorf("%w: el XML no contiene ds:SignatureValue", domain.ErrParse)
	}
	return domainecf.SecurityCode(el.Text())
}

func decodeB64(s string) []byte {
	s = strings.Join(strings.Fields(s), "")
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil
	}
	return b
}
