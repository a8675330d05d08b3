package contingency

import (
	"fmt"
	"time"
)

// BackoffKind estrategia de espera entre reintentos.
type BackoffKind string

const (
	BackoffFixed       BackoffKind = "fixed"
	BackoffExponential BackoffKind = "exponential"
)

// DefaultMaxAttempts reintentos antes de marcar un envío como atascado.
const DefaultMaxAttempts = 3

// Policy política de reintentos del drenado.
type Policy struct {
	MaxAttempts int
	Backoff     BackoffKind
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultPolicy 3 intentos, exponencial desde 2s con tope de 1 minuto.
func DefaultPolicy() Policy {
	return Policy{MaxAttempts: DefaultMaxAttempts, Backoff: BackoffExponential, BaseDelay: 2 * time.Second, MaxDelay: time.Minute}
}

// Validate revisa la política.
func (p Policy) Validate() error {
	if p.MaxAttempts <= 0 {
		return fmt.Errorf("contingencia: MaxAttempts debe ser mayor que cero")
	}
	if p.Backoff != BackoffFixed && p.Backoff != BackoffExponential {
		return fmt.Errorf("contingencia: backoff %q inválido", p.Backoff)
	}
	if p.BaseDelay < 0 || p.MaxDelay < 0 {
		return fmt.Errorf("contingencia: esperas negativas")
	}
	return nil
}

// Delay espera antes del intento número attempt (1 = primer reintento).
func (p Policy) Delay(attempt int) time.Duration {
	if attempt <= 0 || p.BaseDelay <= 0 {
		return 0
	}
	d := p.BaseDelay
	if p.Backoff == BackoffExponential {
		for i := 1; i < attempt; i++ {
			d *= 2
			if p.MaxDelay > 0 && d >= p.MaxDelay {
				return p.MaxDelay
			}
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}
