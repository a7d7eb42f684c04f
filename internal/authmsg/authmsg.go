// Package authmsg builds ISO 8583 authorization requests that carry the
// result of a 3-D Secure authentication to the acquirer. It only encodes and
// decodes; sending the message is up to the caller.
package authmsg

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/alovak/threeds-flow/internal/cardgen"
	"github.com/moov-io/iso8583"
	"github.com/moov-io/iso8583/encoding"
	"github.com/moov-io/iso8583/field"
	"github.com/moov-io/iso8583/padding"
	"github.com/moov-io/iso8583/prefix"
	"golang.org/x/text/currency"
)

const (
	MTIAuthorizationRequest = "0100"

	processingCodePurchase = "000000"
	posEntryECommerce      = "810"
	transmissionLayout     = "0102150405"
)

var (
	ErrUnsupportedCurrency = errors.New("unsupported currency")
	ErrInvalidRequest      = errors.New("invalid authorization request")
)

// ISO 4217 numeric codes for the currencies of supported markets.
var numericCurrency = map[string]string{
	"AUD": "036", "CAD": "124", "CHF": "756", "CZK": "203", "DKK": "208",
	"EUR": "978", "GBP": "826", "NOK": "578", "NZD": "554", "PLN": "985",
	"SEK": "752", "USD": "840",
}

var spec = &iso8583.MessageSpec{
	Name: "3DS authorization request",
	Fields: map[int]field.Field{
		0: field.NewString(&field.Spec{
			Length:      4,
			Description: "Message Type Indicator",
			Enc:         encoding.ASCII,
			Pref:        prefix.ASCII.Fixed,
		}),
		1: field.NewBitmap(&field.Spec{
			Length:      8,
			Description: "Bitmap",
			Enc:         encoding.BytesToASCIIHex,
			Pref:        prefix.Hex.Fixed,
		}),
		2: field.NewString(&field.Spec{
			Length:      19,
			Description: "Primary Account Number",
			Enc:         encoding.ASCII,
			Pref:        prefix.ASCII.LL,
		}),
		3: field.NewString(&field.Spec{
			Length:      6,
			Description: "Processing Code",
			Enc:         encoding.ASCII,
			Pref:        prefix.ASCII.Fixed,
		}),
		4: field.NewNumeric(&field.Spec{
			Length:      12,
			Description: "Transaction Amount",
			Enc:         encoding.ASCII,
			Pref:        prefix.ASCII.Fixed,
			Pad:         padding.Left('0'),
		}),
		7: field.NewString(&field.Spec{
			Length:      10,
			Description: "Transmission Date & Time",
			Enc:         encoding.ASCII,
			Pref:        prefix.ASCII.Fixed,
		}),
		11: field.NewNumeric(&field.Spec{
			Length:      6,
			Description: "Systems Trace Audit Number (STAN)",
			Enc:         encoding.ASCII,
			Pref:        prefix.ASCII.Fixed,
			Pad:         padding.Left('0'),
		}),
		14: field.NewString(&field.Spec{
			Length:      4,
			Description: "Expiration Date",
			Enc:         encoding.ASCII,
			Pref:        prefix.ASCII.Fixed,
		}),
		22: field.NewString(&field.Spec{
			Length:      3,
			Description: "Point of Service Entry Mode",
			Enc:         encoding.ASCII,
			Pref:        prefix.ASCII.Fixed,
		}),
		41: field.NewString(&field.Spec{
			Length:      8,
			Description: "Card Acceptor Terminal Identification",
			Enc:         encoding.ASCII,
			Pref:        prefix.ASCII.Fixed,
		}),
		42: field.NewString(&field.Spec{
			Length:      15,
			Description: "Card Acceptor Identification Code",
			Enc:         encoding.ASCII,
			Pref:        prefix.ASCII.Fixed,
		}),
		48: field.NewString(&field.Spec{
			Length:      999,
			Description: "Additional Data - 3DS Authentication",
			Enc:         encoding.ASCII,
			Pref:        prefix.ASCII.LLL,
		}),
		49: field.NewString(&field.Spec{
			Length:      3,
			Description: "Currency Code, Transaction",
			Enc:         encoding.ASCII,
			Pref:        prefix.ASCII.Fixed,
		}),
	},
}

// ThreeDS is the authentication data placed in field 48.
type ThreeDS struct {
	TransStatus         string
	ECI                 string
	AuthenticationValue string
	DSTransactionID     string
	ProtocolVersion     string
}

type Request struct {
	PAN           string
	ExpiryYYMM    string
	Amount        int64
	Currency      string
	STAN          int
	TransmittedAt time.Time
	TerminalID    string
	MerchantID    string
	ThreeDS       ThreeDS
}

// Pack encodes req as a 0100 message.
func Pack(req Request) ([]byte, error) {
	if err := cardgen.ValidatePAN(req.PAN); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if req.Amount <= 0 || req.STAN <= 0 || req.STAN > 999999 {
		return nil, fmt.Errorf("%w: amount and stan must be positive", ErrInvalidRequest)
	}
	cur, err := currencyCode(req.Currency)
	if err != nil {
		return nil, err
	}

	msg := iso8583.NewMessage(spec)
	msg.MTI(MTIAuthorizationRequest)

	values := map[int]string{
		2:  req.PAN,
		3:  processingCodePurchase,
		4:  strconv.FormatInt(req.Amount, 10),
		7:  req.TransmittedAt.UTC().Format(transmissionLayout),
		11: strconv.Itoa(req.STAN),
		14: req.ExpiryYYMM,
		22: posEntryECommerce,
		41: fixed(req.TerminalID, 8),
		42: fixed(req.MerchantID, 15),
		48: encodeThreeDS(req.ThreeDS),
		49: cur,
	}
	for id, v := range values {
		if v == "" {
			continue
		}
		if err := msg.Field(id, v); err != nil {
			return nil, fmt.Errorf("setting field %d: %w", id, err)
		}
	}

	packed, err := msg.Pack()
	if err != nil {
		return nil, fmt.Errorf("packing authorization request: %w", err)
	}
	return packed, nil
}

// Unpack decodes a message produced by Pack.
func Unpack(b []byte) (*Request, error) {
	msg := iso8583.NewMessage(spec)
	if err := msg.Unpack(b); err != nil {
		return nil, fmt.Errorf("unpacking authorization request: %w", err)
	}
	mti, err := msg.GetMTI()
	if err != nil {
		return nil, fmt.Errorf("reading mti: %w", err)
	}
	if mti != MTIAuthorizationRequest {
		return nil, fmt.Errorf("%w: mti %s", ErrInvalidRequest, mti)
	}

	get := func(id int) string {
		v, _ := msg.GetString(id)
		return v
	}

	req := &Request{
		PAN:        get(2),
		ExpiryYYMM: get(14),
		TerminalID: strings.TrimSpace(get(41)),
		MerchantID: strings.TrimSpace(get(42)),
	}
	if req.Amount, err = strconv.ParseInt(get(4), 10, 64); err != nil {
		return nil, fmt.Errorf("%w: amount: %v", ErrInvalidRequest, err)
	}
	if req.STAN, err = strconv.Atoi(get(11)); err != nil {
		return nil, fmt.Errorf("%w: stan: %v", ErrInvalidRequest, err)
	}
	if ts := get(7); ts != "" {
		t, err := time.Parse(transmissionLayout, ts)
		if err != nil {
			return nil, fmt.Errorf("%w: transmission time: %v", ErrInvalidRequest, err)
		}
		req.TransmittedAt = t
	}
	req.Currency = alphaCurrency(get(49))
	if req.ThreeDS, err = decodeThreeDS(get(48)); err != nil {
		return nil, err
	}
	return req, nil
}

func currencyCode(alpha string) (string, error) {
	unit, err := currency.ParseISO(alpha)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedCurrency, alpha)
	}
	code, ok := numericCurrency[unit.String()]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedCurrency, unit)
	}
	return code, nil
}

func alphaCurrency(numeric string) string {
	for alpha, n := range numericCurrency {
		if n == numeric {
			return alpha
		}
	}
	return ""
}

func fixed(s string, n int) string {
	if s == "" {
		return ""
	}
	if len(s) > n {
		return s[:n]
	}
	return s + strings.Repeat(" ", n-len(s))
}
