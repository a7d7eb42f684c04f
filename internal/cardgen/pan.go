// Package cardgen holds PAN and CVV helpers used when building card payment
// parameters.
package cardgen

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidPAN wraps every PAN validation failure.
var ErrInvalidPAN = errors.New("invalid pan")

// ValidatePAN accepts 13..19 digits with a valid Luhn check digit.
func ValidatePAN(pan string) error {
	switch n := len(pan); {
	case n == 0:
		return fmt.Errorf("%w: empty", ErrInvalidPAN)
	case !IsDigits(pan):
		return fmt.Errorf("%w: digits only", ErrInvalidPAN)
	case n < 13 || n > 19:
		return fmt.Errorf("%w: length %d outside 13..19", ErrInvalidPAN, n)
	}
	if LuhnCheckDigit(pan[:len(pan)-1]) != pan[len(pan)-1:] {
		return fmt.Errorf("%w: luhn check digit", ErrInvalidPAN)
	}
	return nil
}

// LuhnCheckDigit returns the digit that makes body+digit pass Luhn.
func LuhnCheckDigit(body string) string {
	var sum int
	for i := range body {
		d := int(body[len(body)-1-i] - '0')
		// the rightmost body digit is doubled once the check digit is appended
		if i%2 == 0 {
			if d *= 2; d > 9 {
				d -= 9
			}
		}
		sum += d
	}
	return fmt.Sprint((10 - sum%10) % 10)
}

// ValidateCVV accepts 3 or 4 digit security codes.
func ValidateCVV(cvv string) error {
	if n := len(cvv); (n != 3 && n != 4) || !IsDigits(cvv) {
		return errors.New("cvv must be 3 or 4 digits")
	}
	return nil
}

func IsDigits(s string) bool {
	return s != "" && strings.IndexFunc(s, func(r rune) bool { return r < '0' || r > '9' }) < 0
}

// MaskPAN keeps the BIN and last four digits, e.g. 424242******4242.
func MaskPAN(pan string) string {
	p := NormalizePAN(pan)
	switch n := len(p); {
	case n <= 4:
		return strings.Repeat("*", n)
	case n < 10:
		return strings.Repeat("*", n-4) + p[n-4:]
	default:
		return p[:6] + strings.Repeat("*", n-10) + p[n-4:]
	}
}

// NormalizePAN drops whitespace and dashes.
func NormalizePAN(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '-' || r == ' ' || r == '\t' || r == '\n' || r == '\r' {
			return -1
		}
		return r
	}, s)
}
