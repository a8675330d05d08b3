// Package ecf contiene reglas de dominio del comprobante fiscal electrónico: validación de
// documentos antes de consumir un número de secuencia y derivación del código de seguridad.
package ecf

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// SecurityCodeLength caracteres del código de seguridad impreso junto al timbre.
const SecurityCodeLength = 6

// SecurityCode deriva el código de seguridad a partir del SignatureValue (Base64 tal como
// aparece en el XML firmado): primeros 6 caracteres hexadecimales, en mayúscula, de
// SHA-256(signatureValue). Función pura.
func SecurityCode(signatureValue string) (string, error) {
	v := strings.TrimSpace(signatureValue)
	if v == "" {
		return "", fmt.Errorf("ecf: SignatureValue vacío")
	}
	sum := sha256.Sum256([]byte(v))
	return strings.ToUpper(hex.EncodeToString(sum[:])[:SecurityCodeLength]), nil
}
