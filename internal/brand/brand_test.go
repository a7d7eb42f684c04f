package brand

import (
	"errors"
	"testing"
)

func TestIsApplePayBrand(t *testing.T) {
	for _, b := range []string{ApplePay, ApplePayTokenized} {
		if !IsApplePayBrand(b) {
			t.Fatalf("IsApplePayBrand(%s) = false", b)
		}
	}
	for _, b := range []string{"", "applepay", "APPLEPAY ", Visa, KlarnaPaymentsOne, CashAppPay, "GOOGLEPAY"} {
		if IsApplePayBrand(b) {
			t.Fatalf("IsApplePayBrand(%q) = true", b)
		}
	}
}

func TestFindApplePayBrand(t *testing.T) {
	if b, ok := FindApplePayBrand(nil); ok || b != "" {
		t.Fatalf("empty input got %q ok=%v", b, ok)
	}
	if b, ok := FindApplePayBrand([]string{}); ok || b != "" {
		t.Fatalf("empty input got %q ok=%v", b, ok)
	}

	others := []string{Visa, Master, KlarnaInvoice, CashAppPay}
	for k := 0; k <= len(others); k++ {
		brands := make([]string, 0, len(others)+1)
		brands = append(brands, others[:k]...)
		brands = append(brands, ApplePayTokenized)
		brands = append(brands, others[k:]...)
		b, ok := FindApplePayBrand(brands)
		if !ok || b != ApplePayTokenized {
			t.Fatalf("position %d: got %q ok=%v", k, b, ok)
		}
	}

	b, ok := FindApplePayBrand([]string{Visa, ApplePayTokenized, ApplePay})
	if !ok || b != ApplePayTokenized {
		t.Fatalf("first match must win, got %q", b)
	}
}

func TestKlarnaSupportedCountries_IsCopy(t *testing.T) {
	a := KlarnaSupportedCountries()
	if len(a) == 0 {
		t.Fatalf("no countries")
	}
	for i := 1; i < len(a); i++ {
		if a[i-1] >= a[i] {
			t.Fatalf("countries not sorted: %v", a)
		}
	}
	a[0] = "XX"
	if KlarnaSupportedCountries()[0] == "XX" {
		t.Fatalf("caller mutation leaked into the static set")
	}
}

func TestKlarnaCountryForLocale(t *testing.T) {
	cases := []struct{ in, want string }{
		{"de-AT", "AT"},
		{"de_AT", "AT"},
		{"sv_SE.UTF-8", "SE"},
		{"en_GB@euro", "GB"},
		{"en-US", "US"},
		{"fr-CA", "CA"},
		{"nb-NO", "NO"},
		{"sv", "SE"},
		{"ja-JP", DefaultKlarnaCountry},
		{"not a locale!!", DefaultKlarnaCountry},
	}
	for _, c := range cases {
		if got := KlarnaCountryForLocale(c.in); got != c.want {
			t.Fatalf("KlarnaCountryForLocale(%q) = %s want %s", c.in, got, c.want)
		}
	}
}

func TestKlarnaCountryForLocale_TotalAndIdempotent(t *testing.T) {
	for _, country := range KlarnaSupportedCountries() {
		locale := "en-" + country
		first := KlarnaCountryForLocale(locale)
		if !IsKlarnaCountry(first) {
			t.Fatalf("%s mapped outside Klarna markets: %s", locale, first)
		}
		if first != country {
			t.Fatalf("%s mapped to %s", locale, first)
		}
		for i := 0; i < 3; i++ {
			if again := KlarnaCountryForLocale(locale); again != first {
				t.Fatalf("%s not idempotent: %s then %s", locale, first, again)
			}
		}
	}
}

func TestPredicates(t *testing.T) {
	if !IsKlarnaInlineBrand(KlarnaPaymentsPayLater) || IsKlarnaInlineBrand(KlarnaInvoice) {
		t.Fatalf("IsKlarnaInlineBrand mismatch")
	}
	if !IsCashAppPay(CashAppPay) || IsCashAppPay("CASH_APP_PAY") {
		t.Fatalf("IsCashAppPay mismatch")
	}
	if !IsWebOnlyBrand(VisaTest) || IsWebOnlyBrand(Visa) {
		t.Fatalf("IsWebOnlyBrand mismatch")
	}
}

func TestResolve(t *testing.T) {
	cases := map[string]Kind{
		Visa:                  KindCard,
		MasterTest:            KindCard,
		ApplePay:              KindApplePay,
		KlarnaInvoice:         KindKlarna,
		KlarnaPaymentsSliceIt: KindKlarnaInline,
		CashAppPay:            KindCashAppPay,
		ClearPay:              KindClearPay,
		AfterpayPacific:       KindClearPay,
	}
	for b, want := range cases {
		got, err := Resolve(b)
		if err != nil || got != want {
			t.Fatalf("Resolve(%s) = %s, %v want %s", b, got, err, want)
		}
	}
	if _, err := Resolve("BITCOIN"); !errors.Is(err, ErrUnknownBrand) {
		t.Fatalf("expected ErrUnknownBrand, got %v", err)
	}
}
