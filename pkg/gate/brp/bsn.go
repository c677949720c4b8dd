// Package brp looks up persons in the population registry (BRP) by BSN.
package brp

import "fmt"

// BSN is a validated burgerservicenummer.
type BSN string

// String returns the nine digits.
func (b BSN) String() string {
	return string(b)
}

// Reasons reported by InvalidBSNError.
const (
	ReasonLength   = "length"
	ReasonDigits   = "digits"
	ReasonChecksum = "checksum"
)

// InvalidBSNError is returned by ParseBSN. Reason is one of the Reason
// constants and doubles as a translation key suffix.
type InvalidBSNError struct {
	Value  string
	Reason string
}

func (e *InvalidBSNError) Error() string {
	return fmt.Sprintf("brp: invalid BSN (%s)", e.Reason)
}

// ParseBSN validates s: exactly nine digits that pass the eleven check
// (9·d1 + 8·d2 + … + 2·d8 − 1·d9 divisible by 11).
func ParseBSN(s string) (BSN, error) {
	if len(s) != 9 {
		return "", &InvalidBSNError{Value: s, Reason: ReasonLength}
	}

	sum := 0
	for i := 0; i < 9; i++ {
		c := s[i]
		if c < '0' || c > '9' {
			return "", &InvalidBSNError{Value: s, Reason: ReasonDigits}
		}
		weight := 9 - i
		if i == 8 {
			weight = -1
		}
		sum += weight * int(c-'0')
	}

	if sum%11 != 0 {
		return "", &InvalidBSNError{Value: s, Reason: ReasonChecksum}
	}
	return BSN(s), nil
}

// Sanitize keeps only the digits of user input such as "999 99 3653".
func Sanitize(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] >= '0' && s[i] <= '9' {
			out = append(out, s[i])
		}
	}
	return string(out)
}
