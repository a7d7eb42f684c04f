// Package expiry validates card expiry dates in YYMM form.
package expiry

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// yymmLayout is YYMM as a time layout.
const yymmLayout = "0601"

var defaultLoc = time.UTC

var (
	// ErrExpired is returned by CheckNotExpired for cards past their last valid month.
	ErrExpired = errors.New("card expired")
	// ErrInvalidExpiry wraps every format error.
	ErrInvalidExpiry = errors.New("invalid expiry")
)

// SetDefaultExpiryLocation sets the location expiry months are evaluated in. nil keeps the current one.
func SetDefaultExpiryLocation(loc *time.Location) {
	if loc != nil {
		defaultLoc = loc
	}
}

// FromMonthYear converts a shopper-entered month ("7", "07") and year ("30", "2030") into YYMM.
func FromMonthYear(month, year string) (string, error) {
	month = strings.TrimSpace(month)
	year = strings.TrimSpace(year)
	if month == "" || year == "" {
		return "", fmt.Errorf("%w: month and year are required", ErrInvalidExpiry)
	}

	mm, err := strconv.Atoi(month)
	if err != nil || len(month) > 2 || mm < 1 || mm > 12 {
		return "", fmt.Errorf("%w: month %q", ErrInvalidExpiry, month)
	}

	if len(year) == 4 {
		if !strings.HasPrefix(year, "20") {
			return "", fmt.Errorf("%w: year %q outside 20YY", ErrInvalidExpiry, year)
		}
		year = year[2:]
	}
	if len(year) != 2 {
		return "", fmt.Errorf("%w: year must be YY or YYYY", ErrInvalidExpiry)
	}

	yymm := fmt.Sprintf("%s%02d", year, mm)
	if err := ValidateYYMM(yymm); err != nil {
		return "", err
	}
	return yymm, nil
}

// ValidateYYMM checks the YYMM format with a month in 01..12.
func ValidateYYMM(yymm string) error {
	_, err := parse(yymm, time.UTC)
	return err
}

// ParseYYMMEndOfMonth returns the last instant of the YYMM month in loc, defaultLoc when nil.
func ParseYYMMEndOfMonth(yymm string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = defaultLoc
	}
	first, err := parse(yymm, loc)
	if err != nil {
		return time.Time{}, err
	}
	return first.AddDate(0, 1, 0).Add(-time.Nanosecond), nil
}

// IsExpired reports whether at is strictly after the end of the YYMM month.
func IsExpired(yymm string, at time.Time, loc *time.Location) (bool, error) {
	end, err := ParseYYMMEndOfMonth(yymm, loc)
	if err != nil {
		return false, err
	}
	return at.After(end), nil
}

// CheckNotExpired returns ErrExpired when the card is no longer valid at at.
func CheckNotExpired(yymm string, at time.Time) error {
	expired, err := IsExpired(yymm, at, nil)
	if err != nil {
		return err
	}
	if expired {
		return fmt.Errorf("%w: %s", ErrExpired, yymm)
	}
	return nil
}

func parse(yymm string, loc *time.Location) (time.Time, error) {
	if len(yymm) != 4 {
		return time.Time{}, fmt.Errorf("%w: %q is not YYMM", ErrInvalidExpiry, yymm)
	}
	t, err := time.ParseInLocation(yymmLayout, yymm, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q is not YYMM", ErrInvalidExpiry, yymm)
	}
	return t, nil
}
