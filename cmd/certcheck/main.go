// certcheck diagnostica el certificado de firma configurado: lo decodifica, muestra su vigencia
// y firma un XML de prueba que luego verifica.
//
// Uso: go run ./cmd/certcheck [ruta.p12 [contraseña]]
// Sin argumentos usa CERT_PATH, CERT_KEY_PATH y CERT_PASSWORD.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/jhoicas/ecf-core/internal/infrastructure/ecf/signer"
	"github.com/jhoicas/ecf-core/pkg/config"
)

const probeXML = `<?xml version="1.0" encoding="utf-8"?><SemillaModel><valor>certcheck</valor></SemillaModel>`

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Cargar configuración: %v\n", err)
		os.Exit(1)
	}
	certPath, keyPath, certPass := cfg.Cert.Path, cfg.Cert.KeyPath, cfg.Cert.Password
	if len(os.Args) > 1 {
		certPath, keyPath = os.Args[1], ""
	}
	if len(os.Args) > 2 {
		certPass = os.Args[2]
	}
	if certPath == "" {
		fmt.Fprintln(os.Stderr, "uso: certcheck [ruta.p12 [contraseña]] (o CERT_PATH)")
		os.Exit(2)
	}

	fmt.Println("DIAGNÓSTICO DE CERTIFICADO DE FIRMA")
	fmt.Println("-----------------------------------")
	fmt.Printf("Archivo: %s\n", certPath)

	vault := signer.NewVault(nil)
	cert, err := vault.LoadFile("certcheck", certPath, keyPath, certPass)
	if err != nil {
		fmt.Printf("\nERROR: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Sujeto:   %s\n", cert.SubjectName)
	fmt.Printf("Emisor:   %s\n", cert.Certificate.Issuer.String())
	fmt.Printf("Serial:   %s\n", cert.SerialNumber)
	fmt.Printf("Vigencia: %s a %s\n", cert.NotBefore.Format(time.DateOnly), cert.NotAfter.Format(time.DateOnly))
	if err := cert.Check(time.Now()); err != nil {
		fmt.Printf("\nERROR: %v\n", err)
		os.Exit(1)
	}
	if left := time.Until(cert.NotAfter); left < 30*24*time.Hour {
		fmt.Printf("AVISO: vence en %d días\n", int(left.Hours()/24))
	}

	svc := signer.NewDigitalSignatureService(nil)
	signed, err := svc.SignXML([]byte(probeXML), cert)
	if err != nil {
		fmt.Printf("\nERROR al firmar: %v\n", err)
		os.Exit(1)
	}
	if !svc.Verify(signed) {
		fmt.Println("\nERROR: la firma de prueba no verifica")
		os.Exit(1)
	}
	fmt.Println("\nOK: el certificado carga, firma y verifica.")
}
