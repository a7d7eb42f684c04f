// Package brand classifies payment brand codes and maps shopper locales to the
// countries supported by brand-specific flows. Everything here is pure and safe
// for concurrent use.
package brand

import (
	"fmt"
	"strings"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
	"golang.org/x/text/language"
)

// Kind is the brand family a payment brand belongs to. PaymentParams are
// tagged with one Kind.
type Kind string

const (
	KindCard         Kind = "card"
	KindApplePay     Kind = "applepay"
	KindKlarna       Kind = "klarna"
	KindKlarnaInline Kind = "klarna_inline"
	KindCashAppPay   Kind = "cashapppay"
	KindClearPay     Kind = "clearpay"
)

const (
	ApplePay          = "APPLEPAY"
	ApplePayTokenized = "APPLEPAYTKN"

	KlarnaInvoice          = "KLARNA_INVOICE"
	KlarnaInstallments     = "KLARNA_INSTALLMENTS"
	KlarnaPaymentsPayLater = "KLARNA_PAYMENTS_PAYLATER"
	KlarnaPaymentsSliceIt  = "KLARNA_PAYMENTS_SLICEIT"
	KlarnaPaymentsPayNow   = "KLARNA_PAYMENTS_PAYNOW"
	KlarnaPaymentsOne      = "KLARNA_PAYMENTS_ONE"

	CashAppPay = "CASHAPPPAY"

	ClearPay        = "CLEARPAY"
	AfterpayPacific = "AFTERPAY_PACIFIC"

	Visa       = "VISA"
	Master     = "MASTER"
	Amex       = "AMEX"
	Maestro    = "MAESTRO"
	Discover   = "DISCOVER"
	Diners     = "DINERS"
	JCB        = "JCB"
	Mada       = "MADA"
	UnionPay   = "UNIONPAY"
	VisaTest   = "VISA_TEST"
	MasterTest = "MASTER_TEST"
	AmexTest   = "AMEX_TEST"
)

// DefaultKlarnaCountry is returned by KlarnaCountryForLocale when the locale
// cannot be parsed or its region is not a Klarna market.
const DefaultKlarnaCountry = "DE"

// ErrUnknownBrand is returned by Resolve for brand codes outside every family.
var ErrUnknownBrand = fmt.Errorf("unknown payment brand")

var (
	applePayBrands = []string{ApplePay, ApplePayTokenized}

	klarnaBrands = map[string]struct{}{
		KlarnaInvoice:      {},
		KlarnaInstallments: {},
	}

	klarnaInlineBrands = map[string]struct{}{
		KlarnaPaymentsPayLater: {},
		KlarnaPaymentsSliceIt:  {},
		KlarnaPaymentsPayNow:   {},
		KlarnaPaymentsOne:      {},
	}

	clearPayBrands = map[string]struct{}{
		ClearPay:        {},
		AfterpayPacific: {},
	}

	cardBrands = map[string]struct{}{
		Visa: {}, Master: {}, Amex: {}, Maestro: {}, Discover: {},
		Diners: {}, JCB: {}, Mada: {}, UnionPay: {},
		VisaTest: {}, MasterTest: {}, AmexTest: {},
	}

	// card-network test brands that the native SDK does not certify
	webOnlyBrands = map[string]struct{}{
		VisaTest:   {},
		MasterTest: {},
		AmexTest:   {},
	}

	klarnaCountries = map[string]struct{}{
		"AT": {}, "AU": {}, "BE": {}, "CA": {}, "CH": {}, "CZ": {},
		"DE": {}, "DK": {}, "ES": {}, "FI": {}, "FR": {}, "GB": {},
		"GR": {}, "IE": {}, "IT": {}, "NL": {}, "NO": {}, "NZ": {},
		"PL": {}, "PT": {}, "SE": {}, "US": {},
	}
)

// IsApplePayBrand reports whether brand is one of the Apple Pay brand codes.
// Matching is exact.
func IsApplePayBrand(brand string) bool {
	return slices.Contains(applePayBrands, brand)
}

// FindApplePayBrand returns the first Apple Pay brand in brands, preserving
// caller order.
func FindApplePayBrand(brands []string) (string, bool) {
	for _, b := range brands {
		if IsApplePayBrand(b) {
			return b, true
		}
	}
	return "", false
}

// KlarnaSupportedCountries returns the sorted ISO 3166 alpha-2 codes of Klarna
// markets. The returned slice is a fresh copy.
func KlarnaSupportedCountries() []string {
	countries := maps.Keys(klarnaCountries)
	slices.Sort(countries)
	return countries
}

// IsKlarnaCountry reports whether country is a Klarna market.
func IsKlarnaCountry(country string) bool {
	_, ok := klarnaCountries[strings.ToUpper(country)]
	return ok
}

// KlarnaCountryForLocale maps a shopper locale to a Klarna market. Both BCP 47
// ("de-AT") and POSIX ("sv_SE.UTF-8") forms are accepted. When the locale has
// no explicit region the most likely one is used ("sv" -> SE). Unparsable
// locales and regions outside Klarna markets map to DefaultKlarnaCountry.
func KlarnaCountryForLocale(locale string) string {
	tag, err := language.Parse(normalizeLocale(locale))
	if err != nil {
		return DefaultKlarnaCountry
	}
	region, conf := tag.Region()
	if conf == language.No {
		return DefaultKlarnaCountry
	}
	country := region.String()
	if !IsKlarnaCountry(country) {
		return DefaultKlarnaCountry
	}
	return country
}

// normalizeLocale turns POSIX locale names into BCP 47: "en_GB.UTF-8@euro" -> "en-GB".
func normalizeLocale(locale string) string {
	s := strings.TrimSpace(locale)
	if i := strings.IndexAny(s, ".@"); i >= 0 {
		s = s[:i]
	}
	return strings.ReplaceAll(s, "_", "-")
}

func IsKlarnaInlineBrand(brand string) bool {
	_, ok := klarnaInlineBrands[brand]
	return ok
}

func IsKlarnaBrand(brand string) bool {
	_, ok := klarnaBrands[brand]
	return ok || IsKlarnaInlineBrand(brand)
}

func IsCashAppPay(brand string) bool {
	return brand == CashAppPay
}

func IsClearPay(brand string) bool {
	_, ok := clearPayBrands[brand]
	return ok
}

func IsCardBrand(brand string) bool {
	_, ok := cardBrands[brand]
	return ok
}

// IsWebOnlyBrand reports whether 3DS for brand must run as a web challenge.
func IsWebOnlyBrand(brand string) bool {
	_, ok := webOnlyBrands[brand]
	return ok
}

// Resolve maps a brand code to its family.
func Resolve(brand string) (Kind, error) {
	switch {
	case IsApplePayBrand(brand):
		return KindApplePay, nil
	case IsKlarnaInlineBrand(brand):
		return KindKlarnaInline, nil
	case IsKlarnaBrand(brand):
		return KindKlarna, nil
	case IsCashAppPay(brand):
		return KindCashAppPay, nil
	case IsClearPay(brand):
		return KindClearPay, nil
	case IsCardBrand(brand):
		return KindCard, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownBrand, brand)
}
