package models

import (
	"errors"
	"fmt"

	"github.com/alovak/threeds-flow/internal/brand"
)

// Construction errors. They are returned wrapped in *ConstructionError and
// matched with errors.Is.
var (
	ErrInvalidCheckoutID       = errors.New("invalid checkout id")
	ErrUnknownBrand            = brand.ErrUnknownBrand
	ErrBrandMismatch           = errors.New("brand does not belong to this payment method")
	ErrInvalidShopperResultURL = errors.New("invalid shopper result url")
	ErrInvalidCard             = errors.New("invalid card data")
	ErrInvalidToken            = errors.New("invalid payment token")
)

// ConstructionError reports invalid input while building PaymentParams. It is
// always local and never worth retrying.
type ConstructionError struct {
	Field string
	Err   error
}

func (e *ConstructionError) Error() string {
	return fmt.Sprintf("payment params: %s: %v", e.Field, e.Err)
}

func (e *ConstructionError) Unwrap() error {
	return e.Err
}

func constructionErr(field string, err error) error {
	return &ConstructionError{Field: field, Err: err}
}

// ChallengeErrorKind classifies terminal challenge failures.
type ChallengeErrorKind string

const (
	ChallengeNavigationAborted ChallengeErrorKind = "navigation_aborted"
	ChallengeTimeout           ChallengeErrorKind = "timeout"
	ChallengeIssuerRejected    ChallengeErrorKind = "issuer_rejected"
	ChallengeUserCancelled     ChallengeErrorKind = "user_cancelled"
	ChallengeCanceled          ChallengeErrorKind = "canceled"
	ChallengeProtocol          ChallengeErrorKind = "protocol"
)

// ChallengeError is the terminal error of a challenge. Two ChallengeErrors
// match under errors.Is when their kinds are equal, so the Err* values below
// can be used as targets.
type ChallengeError struct {
	Kind        ChallengeErrorKind
	Description string
	Cause       error
}

var (
	ErrNavigationAborted = &ChallengeError{Kind: ChallengeNavigationAborted}
	ErrChallengeTimeout  = &ChallengeError{Kind: ChallengeTimeout}
	ErrIssuerRejected    = &ChallengeError{Kind: ChallengeIssuerRejected}
	ErrUserCancelled     = &ChallengeError{Kind: ChallengeUserCancelled}
	ErrCanceled          = &ChallengeError{Kind: ChallengeCanceled}
	ErrProtocol          = &ChallengeError{Kind: ChallengeProtocol}
)

func NewChallengeError(kind ChallengeErrorKind, description string, cause error) *ChallengeError {
	return &ChallengeError{Kind: kind, Description: description, Cause: cause}
}

func (e *ChallengeError) Error() string {
	msg := "3ds challenge " + string(e.Kind)
	if e.Description != "" {
		msg += ": " + e.Description
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *ChallengeError) Unwrap() error {
	return e.Cause
}

func (e *ChallengeError) Is(target error) bool {
	t, ok := target.(*ChallengeError)
	return ok && t.Kind == e.Kind
}
