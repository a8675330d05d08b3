package ecf

import (
	"fmt"
	"unicode"
)

// pesos del dígito verificador del RNC (9 dígitos, módulo 11).
var rncWeights = [8]int{7, 9, 8, 6, 5, 4, 3, 2}

// ValidateRNC valida un RNC de 9 dígitos (con o sin guiones).
func ValidateRNC(rnc string) error {
	digits := extractDigits(rnc)
	if len(digits) != 9 {
		return fmt.Errorf("ecf: el RNC debe tener 9 dígitos, se encontraron %d", len(digits))
	}
	expected := rncCheckDigit(digits[:8])
	if digits[8] != expected {
		return fmt.Errorf("ecf: dígito verificador del RNC inválido: esperado %c, recibido %c", expected, digits[8])
	}
	return nil
}

// ComputeRNCCheckDigit calcula el dígito verificador para los 8 primeros dígitos del RNC.
func ComputeRNCCheckDigit(base string) (byte, error) {
	digits := extractDigits(base)
	if len(digits) < 8 {
		return 0, fmt.Errorf("ecf: se requieren 8 dígitos para calcular el verificador, se encontraron %d", len(digits))
	}
	return rncCheckDigit(digits[:8]), nil
}

func rncCheckDigit(base []byte) byte {
	var sum int
	for i, d := range base {
		sum += int(d-'0') * rncWeights[i]
	}
	switch r := sum % 11; r {
	case 0:
		return '2'
	case 1:
		return '1'
	default:
		return byte('0' + 11 - r)
	}
}

// ValidateCedula valida una cédula de 11 dígitos (algoritmo de Luhn sobre los 10 primeros).
func ValidateCedula(cedula string) error {
	digits := extractDigits(cedula)
	if len(digits) != 11 {
		return fmt.Errorf("ecf: la cédula debe tener 11 dígitos, se encontraron %d", len(digits))
	}
	var sum int
	for i, d := range digits[:10] {
		n := int(d - '0')
		if i%2 == 1 {
			n *= 2
			if n > 9 {
				n -= 9
			}
		}
		sum += n
	}
	expected := byte('0' + (10-sum%10)%10)
	if digits[10] != expected {
		return fmt.Errorf("ecf: dígito verificador de la cédula inválido: esperado %c, recibido %c", expected, digits[10])
	}
	return nil
}

// ValidateTaxID acepta RNC (9 dígitos) o cédula (11 dígitos).
func ValidateTaxID(taxID string) error {
	switch n := len(extractDigits(taxID)); n {
	case 9:
		return ValidateRNC(taxID)
	case 11:
		return ValidateCedula(taxID)
	default:
		return fmt.Errorf("ecf: identificación fiscal debe tener 9 u 11 dígitos, se encontraron %d", n)
	}
}

// OnlyDigits deja solo dígitos 0-9.
func OnlyDigits(s string) string {
	return string(extractDigits(s))
}

func extractDigits(s string) []byte {
	var out []byte
	for _, r := range s {
		if unicode.IsDigit(r) && r < 128 {
			out = append(out, byte(r))
		}
	}
	return out
}
