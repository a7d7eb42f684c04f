package threeds

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound               = fmt.Errorf("not found")
	ErrConflict               = fmt.Errorf("conflict")
	ErrFallbackExhausted      = errors.New("web fallback already used for this transaction")
	ErrTransactionBusy        = errors.New("transaction is being processed")
	ErrCompletionAlreadyFired = errors.New("completion already fired")
	ErrNoSessionSource        = errors.New("no session source configured")
)

// FlowError reports a native SDK integration failure. It requests the web
// fallback and reaches the caller only when the fallback is not possible.
type FlowError struct {
	Stage       string
	RedirectURL string
	Err         error
}

func (e *FlowError) Error() string {
	return fmt.Sprintf("native 3ds flow failed at %s: %v", e.Stage, e.Err)
}

func (e *FlowError) Unwrap() error {
	return e.Err
}

// WarningsQueryError is delivered when security warnings cannot be read.
type WarningsQueryError struct {
	Err error
}

func (e *WarningsQueryError) Error() string {
	return "querying security warnings: " + e.Err.Error()
}

func (e *WarningsQueryError) Unwrap() error {
	return e.Err
}
