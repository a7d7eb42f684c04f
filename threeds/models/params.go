package models

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/alovak/threeds-flow/internal/brand"
	"github.com/alovak/threeds-flow/internal/cardgen"
	"github.com/alovak/threeds-flow/internal/expiry"
)

var checkoutIDPattern = regexp.MustCompile(`^[A-Za-z0-9._-]{1,64}$`)

// Device channels sent with the 3DS authentication request.
const (
	DeviceChannelApp     = "APP"
	DeviceChannelBrowser = "BRW"
)

// CardInput is shopper-entered card data.
type CardInput struct {
	Holder      string `json:"holder"`
	Number      string `json:"number"`
	ExpiryMonth string `json:"expiry_month"`
	ExpiryYear  string `json:"expiry_year"`
	CVV         string `json:"cvv"`
}

// CardFields are the validated card fields of card PaymentParams.
type CardFields struct {
	Holder     string
	Number     string
	ExpiryYYMM string
	CVV        string
}

type KlarnaFields struct {
	Locale  string
	Country string
}

type ApplePayFields struct {
	TokenData []byte
}

// ThreeDSFields are attached by the manager before submission.
type ThreeDSFields struct {
	AppFlow          bool
	DeviceChannel    string
	SessionToken     string
	SessionExpiresAt time.Time
}

// PaymentParams describes one transaction request. Values are immutable: the
// With* methods return modified copies. One brand family (Kind) is set per
// value and only that family's extension fields are present.
type PaymentParams struct {
	checkoutID       string
	brand            string
	kind             brand.Kind
	shopperResultURL string

	card     *CardFields
	klarna   *KlarnaFields
	applePay *ApplePayFields

	threeDS ThreeDSFields
}

// Option customizes PaymentParams during construction.
type Option func(*PaymentParams) error

// WithShopperResultURL sets the URL the shopper returns to after a web flow.
// App schemes such as "com.example.shop.payments://result" are accepted.
func WithShopperResultURL(raw string) Option {
	return func(p *PaymentParams) error {
		u, err := url.Parse(strings.TrimSpace(raw))
		if err != nil || u.Scheme == "" || u.Host == "" {
			return constructionErr("shopperResultURL", ErrInvalidShopperResultURL)
		}
		p.shopperResultURL = u.String()
		return nil
	}
}

// WithBrandOverride replaces the factory's default brand. The override must
// belong to the same brand family.
func WithBrandOverride(code string) Option {
	return func(p *PaymentParams) error {
		kind, err := brand.Resolve(code)
		if err != nil {
			return constructionErr("brand", err)
		}
		if kind != p.kind {
			return constructionErr("brand", fmt.Errorf("%w: %s is %s, want %s", ErrBrandMismatch, code, kind, p.kind))
		}
		p.brand = code
		return nil
	}
}

// NewPaymentParams builds brand-agnostic params. The brand must resolve to a
// known family.
func NewPaymentParams(checkoutID, brandCode string, opts ...Option) (*PaymentParams, error) {
	kind, err := brand.Resolve(brandCode)
	if err != nil {
		return nil, constructionErr("brand", err)
	}
	return build(checkoutID, brandCode, kind, opts)
}

// NewClearPayParams builds params for a ClearPay payment.
func NewClearPayParams(checkoutID string, opts ...Option) (*PaymentParams, error) {
	return build(checkoutID, brand.ClearPay, brand.KindClearPay, opts)
}

func NewCashAppPayParams(checkoutID string, opts ...Option) (*PaymentParams, error) {
	return build(checkoutID, brand.CashAppPay, brand.KindCashAppPay, opts)
}

// NewKlarnaParams builds params for a Klarna brand; the purchase country is
// derived from the shopper locale.
func NewKlarnaParams(checkoutID, brandCode, locale string, opts ...Option) (*PaymentParams, error) {
	kind := brand.KindKlarna
	if brand.IsKlarnaInlineBrand(brandCode) {
		kind = brand.KindKlarnaInline
	} else if !brand.IsKlarnaBrand(brandCode) {
		return nil, constructionErr("brand", fmt.Errorf("%w: %s is not a Klarna brand", ErrBrandMismatch, brandCode))
	}
	p, err := build(checkoutID, brandCode, kind, opts)
	if err != nil {
		return nil, err
	}
	p.klarna = &KlarnaFields{
		Locale:  locale,
		Country: brand.KlarnaCountryForLocale(locale),
	}
	return p, nil
}

func NewApplePayParams(checkoutID string, tokenData []byte, opts ...Option) (*PaymentParams, error) {
	if len(tokenData) == 0 {
		return nil, constructionErr("tokenData", ErrInvalidToken)
	}
	p, err := build(checkoutID, brand.ApplePay, brand.KindApplePay, opts)
	if err != nil {
		return nil, err
	}
	p.applePay = &ApplePayFields{TokenData: append([]byte(nil), tokenData...)}
	return p, nil
}

// NewCardParams validates card data (Luhn, expiry at construction time, CVV)
// and builds params for a card brand.
func NewCardParams(checkoutID, brandCode string, card CardInput, opts ...Option) (*PaymentParams, error) {
	if !brand.IsCardBrand(brandCode) {
		kind, err := brand.Resolve(brandCode)
		if err != nil {
			return nil, constructionErr("brand", err)
		}
		return nil, constructionErr("brand", fmt.Errorf("%w: %s is %s", ErrBrandMismatch, brandCode, kind))
	}
	p, err := build(checkoutID, brandCode, brand.KindCard, opts)
	if err != nil {
		return nil, err
	}

	number := cardgen.NormalizePAN(card.Number)
	if err := cardgen.ValidatePAN(number); err != nil {
		return nil, constructionErr("card.number", fmt.Errorf("%w: %v", ErrInvalidCard, err))
	}
	yymm, err := expiry.FromMonthYear(card.ExpiryMonth, card.ExpiryYear)
	if err != nil {
		return nil, constructionErr("card.expiry", fmt.Errorf("%w: %v", ErrInvalidCard, err))
	}
	if err := expiry.CheckNotExpired(yymm, time.Now()); err != nil {
		return nil, constructionErr("card.expiry", fmt.Errorf("%w: %w", ErrInvalidCard, err))
	}
	if err := cardgen.ValidateCVV(card.CVV); err != nil {
		return nil, constructionErr("card.cvv", fmt.Errorf("%w: %v", ErrInvalidCard, err))
	}
	p.card = &CardFields{
		Holder:     strings.TrimSpace(card.Holder),
		Number:     number,
		ExpiryYYMM: yymm,
		CVV:        card.CVV,
	}
	return p, nil
}

func build(checkoutID, brandCode string, kind brand.Kind, opts []Option) (*PaymentParams, error) {
	if !checkoutIDPattern.MatchString(checkoutID) {
		return nil, constructionErr("checkoutID", ErrInvalidCheckoutID)
	}
	p := &PaymentParams{
		checkoutID: checkoutID,
		brand:      brandCode,
		kind:       kind,
	}
	for _, opt := range opts {
		if err := opt(p); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func (p *PaymentParams) CheckoutID() string       { return p.checkoutID }
func (p *PaymentParams) Brand() string            { return p.brand }
func (p *PaymentParams) Kind() brand.Kind         { return p.kind }
func (p *PaymentParams) ShopperResultURL() string { return p.shopperResultURL }
func (p *PaymentParams) ThreeDS() ThreeDSFields   { return p.threeDS }

// Card returns a copy of the card fields.
func (p *PaymentParams) Card() (CardFields, bool) {
	if p.card == nil {
		return CardFields{}, false
	}
	return *p.card, true
}

func (p *PaymentParams) Klarna() (KlarnaFields, bool) {
	if p.klarna == nil {
		return KlarnaFields{}, false
	}
	return *p.klarna, true
}

func (p *PaymentParams) ApplePay() (ApplePayFields, bool) {
	if p.applePay == nil {
		return ApplePayFields{}, false
	}
	return ApplePayFields{TokenData: append([]byte(nil), p.applePay.TokenData...)}, true
}

// WithThreeDS returns a copy of p carrying f.
func (p *PaymentParams) WithThreeDS(f ThreeDSFields) *PaymentParams {
	c := p.clone()
	c.threeDS = f
	return c
}

// WithShopperResultURL returns a copy of p with the shopper result URL set.
func (p *PaymentParams) WithShopperResultURL(raw string) (*PaymentParams, error) {
	c := p.clone()
	if err := WithShopperResultURL(raw)(c); err != nil {
		return nil, err
	}
	return c, nil
}

// WithoutCVV returns a copy of p with the card security code dropped. The
// code is needed only to submit the checkout.
func (p *PaymentParams) WithoutCVV() *PaymentParams {
	c := p.clone()
	if c.card != nil {
		c.card.CVV = ""
	}
	return c
}

func (p *PaymentParams) clone() *PaymentParams {
	c := *p
	if p.card != nil {
		card := *p.card
		c.card = &card
	}
	if p.klarna != nil {
		k := *p.klarna
		c.klarna = &k
	}
	if p.applePay != nil {
		c.applePay = &ApplePayFields{TokenData: append([]byte(nil), p.applePay.TokenData...)}
	}
	return &c
}

// String masks card data so params can be logged.
func (p *PaymentParams) String() string {
	s := fmt.Sprintf("checkout=%s brand=%s", p.checkoutID, p.brand)
	if p.card != nil {
		s += " card=" + cardgen.MaskPAN(p.card.Number)
	}
	return s
}
