// Package jwt emite y valida los bearer tokens de la API: el sujeto es el usuario, y los claims
// propios fijan el emisor fiscal que atiende y su rol.
package jwt

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Leeway tolerancia de reloj al validar exp/iat.
const Leeway = 30 * time.Second

var (
	ErrEmptySecret   = errors.New("jwt: secret vacío")
	ErrMissingIssuer = errors.New("jwt: el token no indica el emisor")
)

// Claims claims estándar más el emisor fiscal y el rol. El RBAC decide con Role sin consultar la DB.
type Claims struct {
	jwt.RegisteredClaims
	IssuerID string `json:"issuer_id"`
	Role     string `json:"role"` // "admin" | "operador" | "facturador"
}

// UserID sujeto del token.
func (c *Claims) UserID() string { return c.Subject }

// Generate firma un token HS256 para userID sobre issuerID con el rol dado.
// issuer es el claim "iss" (nombre del servicio).
func Generate(secret, userID, issuerID, role, issuer string, expMinutes int) (string, error) {
	if secret == "" {
		return "", ErrEmptySecret
	}
	if issuerID == "" {
		return "", ErrMissingIssuer
	}
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Duration(expMinutes) * time.Minute)),
		},
		IssuerID: issuerID,
		Role:     role,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// Parse valida firma, vencimiento y que el token traiga emisor. Un rol vacío no es error aquí:
// lo rechaza el middleware de roles.
func Parse(secret, tokenString string) (*Claims, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims,
		func(*jwt.Token) (interface{}, error) { return []byte(secret), nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(Leeway),
	)
	if err != nil {
		return nil, fmt.Errorf("jwt: %w", err)
	}
	if claims.IssuerID == "" {
		return nil, ErrMissingIssuer
	}
	return claims, nil
}
