package expiry

import (
	"errors"
	"testing"
	"time"
)

func TestParseYYMMEndOfMonth(t *testing.T) {
	cases := []struct {
		yymm string
		want time.Time
	}{
		{"3002", time.Date(2030, time.February, 28, 23, 59, 59, 999999999, time.UTC)},
		{"2802", time.Date(2028, time.February, 29, 23, 59, 59, 999999999, time.UTC)},
		{"4012", time.Date(2040, time.December, 31, 23, 59, 59, 999999999, time.UTC)},
	}
	for _, c := range cases {
		got, err := ParseYYMMEndOfMonth(c.yymm, time.UTC)
		if err != nil {
			t.Fatalf("%s: %v", c.yymm, err)
		}
		if !got.Equal(c.want) {
			t.Fatalf("%s: got %v want %v", c.yymm, got, c.want)
		}
	}
}

func TestParseYYMMEndOfMonth_Location(t *testing.T) {
	loc := time.FixedZone("UTC+10", 10*60*60)
	end, err := ParseYYMMEndOfMonth("3006", loc)
	if err != nil {
		t.Fatal(err)
	}
	// June ends at 13:59:59 UTC in UTC+10
	at := time.Date(2030, time.June, 30, 20, 0, 0, 0, time.UTC)
	if !at.After(end) {
		t.Fatalf("expected %v after %v", at, end)
	}
}

func TestValidateYYMM(t *testing.T) {
	cases := []struct {
		in string
		ok bool
	}{
		{"3002", true}, {"9912", true}, {"0001", true},
		{"123", false}, {"12a4", false}, {"3013", false}, {"0000", false}, {"30021", false},
	}
	for _, c := range cases {
		err := ValidateYYMM(c.in)
		if (err == nil) != c.ok {
			t.Fatalf("ValidateYYMM(%s) ok=%v got err=%v", c.in, c.ok, err)
		}
		if err != nil && !errors.Is(err, ErrInvalidExpiry) {
			t.Fatalf("ValidateYYMM(%s) err %v is not ErrInvalidExpiry", c.in, err)
		}
	}
}

func TestIsExpired(t *testing.T) {
	end, _ := ParseYYMMEndOfMonth("3002", time.UTC)
	if expired, err := IsExpired("3002", end, time.UTC); err != nil || expired {
		t.Fatalf("expected valid at end of month, got expired=%v err=%v", expired, err)
	}
	if expired, err := IsExpired("3002", end.Add(time.Nanosecond), time.UTC); err != nil || !expired {
		t.Fatalf("expected expired after %v, got expired=%v err=%v", end, expired, err)
	}
}

func TestCheckNotExpired(t *testing.T) {
	at := time.Date(2030, time.March, 1, 0, 0, 0, 0, time.UTC)
	if err := CheckNotExpired("3003", at); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if err := CheckNotExpired("3002", at); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
	if err := CheckNotExpired("30", at); !errors.Is(err, ErrInvalidExpiry) {
		t.Fatalf("expected format error, got %v", err)
	}
}

func TestFromMonthYear(t *testing.T) {
	cases := []struct {
		month, year, want string
		ok                bool
	}{
		{"07", "2030", "3007", true},
		{"7", "30", "3007", true},
		{" 12 ", "2099", "9912", true},
		{"13", "2030", "", false},
		{"00", "30", "", false},
		{"007", "30", "", false},
		{"07", "1999", "", false},
		{"07", "203", "", false},
		{"", "2030", "", false},
	}
	for _, c := range cases {
		got, err := FromMonthYear(c.month, c.year)
		if (err == nil) != c.ok || got != c.want {
			t.Fatalf("FromMonthYear(%q,%q) got %q err=%v want %q ok=%v", c.month, c.year, got, err, c.want, c.ok)
		}
	}
}
