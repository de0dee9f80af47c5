package punishment

import (
	"math"
	"time"
)

// EscalationPolicy maps the subject's previous ban duration to the next one.
// prior is never zero; the engine substitutes the default ban when the subject
// was never banned.
type EscalationPolicy func(prior time.Duration) time.Duration

// MultiplicativeEscalation multiplies the previous ban by factor and caps the
// result at ceiling. A non-positive ceiling disables the cap.
func MultiplicativeEscalation(factor float64, ceiling time.Duration) EscalationPolicy {
	if factor < 1 {
		factor = 1
	}
	return func(prior time.Duration) time.Duration {
		next := float64(prior) * factor
		if ceiling > 0 && next >= float64(ceiling) {
			return ceiling
		}
		if next >= float64(math.MaxInt64) {
			return time.Duration(math.MaxInt64)
		}
		return time.Duration(next).Round(time.Second)
	}
}
