// import_sequences registra los rangos de e-NCF autorizados al emisor a partir del XML de
// autorización descargado de la autoridad (suele venir en ISO-8859-1).
//
// Uso: go run ./cmd/import_sequences ruta/autorizacion.xml [--replace]
//
// Sin --replace cada rango se registra por separado; con --replace el archivo sustituye todas las
// secuencias del emisor en una transacción. Ambos límites de cada rango se consultan a la
// autoridad, por lo que se necesita el certificado del emisor (CERT_PATH) e ISSUER_TAX_ID.
package main

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"

	"github.com/jhoicas/ecf-core/internal/application/sequence"
	"github.com/jhoicas/ecf-core/internal/domain/entity"
	ecfxml "github.com/jhoicas/ecf-core/internal/infrastructure/ecf"
	"github.com/jhoicas/ecf-core/internal/infrastructure/ecf/signer"
	"github.com/jhoicas/ecf-core/internal/infrastructure/postgres"
	"github.com/jhoicas/ecf-core/pkg/config"
	"github.com/jhoicas/ecf-core/pkg/ecf"
	"github.com/jhoicas/ecf-core/pkg/logger"
)

type autorizacion struct {
	RNC        string      `xml:"RNCEmisor"`
	Secuencias []secuencia `xml:"Secuencias>Secuencia"`
}

type secuencia struct {
	Tipo    string `xml:"tipo,attr"`
	Prefijo string `xml:"prefijo,attr"`
	Desde   string `xml:"desde,attr"`
	Hasta   string `xml:"hasta,attr"`
	Vence   string `xml:"vence,attr"` // YYYY-MM-DD
}

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "uso: import_sequences <autorizacion.xml> [--replace]")
		os.Exit(2)
	}
	replace := len(os.Args) > 2 && os.Args[2] == "--replace"

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Cargar configuración: %v\n", err)
		os.Exit(1)
	}
	if cfg.Issuer.ID == "" || cfg.Cert.Path == "" {
		fmt.Fprintln(os.Stderr, "ISSUER_ID y CERT_PATH son obligatorios")
		os.Exit(1)
	}
	log := logger.New(logger.Config{Env: cfg.App.Env, Level: cfg.Log.Level}).Component("import_sequences")

	f, err := os.Open(os.Args[1])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Abrir XML: %v\n", err)
		os.Exit(1)
	}
	defer f.Close()

	doc, err := parseAuthorization(f)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Decodificar XML: %v\n", err)
		os.Exit(1)
	}
	if cfg.Issuer.TaxID != "" && doc.RNC != "" && ecf.OnlyDigits(doc.RNC) != ecf.OnlyDigits(cfg.Issuer.TaxID) {
		fmt.Fprintf(os.Stderr, "El archivo es del RNC %s, no de %s\n", doc.RNC, cfg.Issuer.TaxID)
		os.Exit(1)
	}
	seqs, err := toSequences(cfg.Issuer.ID, doc)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	pool, err := postgres.NewPool(ctx, cfg.DB)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Conexión a PostgreSQL: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	env, err := ecf.ParseEnvironment(cfg.Authority.Environment)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	vault := signer.NewVault(log)
	if _, err := vault.LoadFile(cfg.Issuer.ID, cfg.Cert.Path, cfg.Cert.KeyPath, cfg.Cert.Password); err != nil {
		fmt.Fprintf(os.Stderr, "Cargar certificado: %v\n", err)
		os.Exit(1)
	}
	client := ecfxml.NewAuthorityClient(ecfxml.AuthorityClientConfig{
		Environment: env,
		BaseURL:     cfg.Authority.BaseURL,
		Timeout:     cfg.Authority.Timeout,
	}, log)
	sessions := ecfxml.NewSessions(client, vault, signer.NewDigitalSignatureService(log), cfg.Authority.TokenSkew, log)
	lookup := ecfxml.NewNCFLookup(client, sessions, ecfxml.StaticTaxIDs(map[string]string{cfg.Issuer.ID: cfg.Issuer.TaxID}))

	store := sequence.NewStore(postgres.NewSequenceRepository(pool), postgres.NewTxRunner(pool), log)

	if replace {
		if err := store.ReplaceAll(ctx, cfg.Issuer.ID, seqs, lookup); err != nil {
			fmt.Fprintf(os.Stderr, "Reemplazar secuencias: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Reemplazadas las secuencias del emisor: %d rangos\n", len(seqs))
		return
	}

	failed := 0
	for _, s := range seqs {
		if err := store.Register(ctx, s, lookup); err != nil {
			failed++
			fmt.Fprintf(os.Stderr, "  %s-%s: %v\n", s.BoundNCF(false), s.BoundNCF(true), err)
			continue
		}
		fmt.Printf("  %s-%s registrada\n", s.BoundNCF(false), s.BoundNCF(true))
	}
	fmt.Printf("Registradas %d de %d secuencias\n", len(seqs)-failed, len(seqs))
	if failed > 0 {
		os.Exit(1)
	}
}

// parseAuthorization decodifica el XML de autorización; acepta UTF-8 e ISO-8859-1.
func parseAuthorization(r io.Reader) (*autorizacion, error) {
	var a autorizacion
	dec := xml.NewDecoder(r)
	dec.CharsetReader = func(charset string, input io.Reader) (io.Reader, error) {
		switch strings.ToUpper(charset) {
		case "ISO-8859-1", "ISO8859-1", "LATIN1":
			return transform.NewReader(input, charmap.ISO8859_1.NewDecoder()), nil
		case "WINDOWS-1252", "CP1252":
			return transform.NewReader(input, charmap.Windows1252.NewDecoder()), nil
		}
		return input, nil
	}
	if err := dec.Decode(&a); err != nil {
		return nil, err
	}
	return &a, nil
}

func toSequences(issuerID string, a *autorizacion) ([]*entity.NcfSequence, error) {
	out := make([]*entity.NcfSequence, 0, len(a.Secuencias))
	for i, s := range a.Secuencias {
		docType, err := ecf.ParseDocumentType(s.Tipo)
		if err != nil {
			return nil, fmt.Errorf("secuencia %d: %w", i+1, err)
		}
		from, err := ecf.ParseSequenceNumber(s.Desde)
		if err != nil {
			return nil, fmt.Errorf("secuencia %d: desde: %w", i+1, err)
		}
		to, err := ecf.ParseSequenceNumber(s.Hasta)
		if err != nil {
			return nil, fmt.Errorf("secuencia %d: hasta: %w", i+1, err)
		}
		expires, err := time.Parse("2006-01-02", s.Vence)
		if err != nil {
			return nil, fmt.Errorf("secuencia %d: vence: %w", i+1, err)
		}
		prefix := s.Prefijo
		if prefix == "" {
			prefix = "E" + string(docType)
		}
		out = append(out, &entity.NcfSequence{
			IssuerID:     issuerID,
			DocumentType: docType,
			Prefix:       prefix,
			RangeStart:   from,
			RangeEnd:     to,
			ExpiresOn:    expires,
		})
	}
	return out, nil
}
