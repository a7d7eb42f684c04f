package models

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

type FlowKind string

const (
	FlowNative FlowKind = "native"
	FlowWeb    FlowKind = "web"
)

type FlowState string

const (
	StateIdle                 FlowState = "IDLE"
	StateCollectingDeviceData FlowState = "COLLECTING_DEVICE_DATA"
	StateAwaitingChallenge    FlowState = "AWAITING_CHALLENGE"
	StateCompleted            FlowState = "COMPLETED"
	StateFallbackRequested    FlowState = "FALLBACK_REQUESTED"
)

var (
	ErrInvalidTransition  = errors.New("invalid flow state transition")
	ErrResultAlreadySet   = errors.New("challenge result already set")
	ErrOrchestratorActive = errors.New("transaction already has an active orchestrator")
)

// Any state may move to FallbackRequested except Completed. Completed is
// terminal.
var transitions = map[FlowState][]FlowState{
	StateIdle:                 {StateCollectingDeviceData, StateAwaitingChallenge, StateFallbackRequested, StateCompleted},
	StateCollectingDeviceData: {StateAwaitingChallenge, StateFallbackRequested, StateCompleted},
	StateAwaitingChallenge:    {StateFallbackRequested, StateCompleted},
	StateFallbackRequested:    {StateAwaitingChallenge, StateCompleted},
}

// AuthenticationInfo is returned by the provider when the checkout is
// submitted and is required to start a native challenge.
type AuthenticationInfo struct {
	DirectoryServerID   string `json:"directory_server_id"`
	ProtocolVersion     string `json:"protocol_version"`
	ServerTransactionID string `json:"server_transaction_id"`
}

func (a AuthenticationInfo) Empty() bool {
	return a.DirectoryServerID == "" || a.ServerTransactionID == ""
}

// Transaction is one in-flight payment attempt. Identification and provider
// data are set by the caller before a flow starts; flow state is owned by the
// orchestrators and guarded by the transaction's own mutex.
type Transaction struct {
	ID          string
	CreatedAt   time.Time
	Amount      int64
	Currency    string
	ThreeDS     AuthenticationInfo
	RedirectURL string

	mu           sync.Mutex
	params       *PaymentParams
	state        FlowState
	flow         FlowKind
	active       bool
	nativeFailed bool
	result       *ChallengeResult
	warnings     []Warning
	updatedAt    time.Time
}

func NewTransaction(params *PaymentParams) *Transaction {
	now := time.Now().UTC()
	return &Transaction{
		ID:        uuid.New().String(),
		CreatedAt: now,
		params:    params,
		state:     StateIdle,
		updatedAt: now,
	}
}

func (t *Transaction) Params() *PaymentParams {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.params
}

// SetParams replaces the params, e.g. after 3DS fields were attached.
func (t *Transaction) SetParams(p *PaymentParams) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.params = p
}

// ApplyCheckout copies the provider's checkout data onto the transaction.
// It is called before any flow starts.
func (t *Transaction) ApplyCheckout(amount int64, currency string, info AuthenticationInfo, redirectURL string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Amount = amount
	t.Currency = currency
	t.ThreeDS = info
	t.RedirectURL = redirectURL
}

// SetRedirectURL records the web challenge URL, e.g. from an issuer redirect
// decision during the native flow.
func (t *Transaction) SetRedirectURL(u string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.RedirectURL = u
}

func (t *Transaction) ChallengeURL() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.RedirectURL
}

func (t *Transaction) State() FlowState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Transaction) Flow() FlowKind {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.flow
}

// Begin claims the transaction for an orchestrator of the given flow.
func (t *Transaction) Begin(flow FlowKind) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.active {
		return ErrOrchestratorActive
	}
	if t.state == StateCompleted {
		return fmt.Errorf("beginning %s flow: %w", flow, ErrResultAlreadySet)
	}
	t.active = true
	t.flow = flow
	return nil
}

func (t *Transaction) End() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.active = false
}

func (t *Transaction) Transition(to FlowState) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.transitionLocked(to)
}

func (t *Transaction) transitionLocked(to FlowState) error {
	for _, s := range transitions[t.state] {
		if s == to {
			t.state = to
			t.updatedAt = time.Now().UTC()
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.state, to)
}

// SetResult stores the terminal result and moves the transaction to
// Completed. A result is never overwritten.
func (t *Transaction) SetResult(r *ChallengeResult) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.result != nil {
		return ErrResultAlreadySet
	}
	if err := t.transitionLocked(StateCompleted); err != nil {
		return err
	}
	t.result = r
	return nil
}

func (t *Transaction) Result() *ChallengeResult {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.result
}

// Err is the error of the terminal result, if any.
func (t *Transaction) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.result == nil {
		return nil
	}
	return t.result.Err
}

// MarkNativeFailed records a native flow failure. It reports false when the
// failure was already recorded.
func (t *Transaction) MarkNativeFailed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.nativeFailed {
		return false
	}
	t.nativeFailed = true
	t.updatedAt = time.Now().UTC()
	return true
}

func (t *Transaction) NativeFailed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.nativeFailed
}

func (t *Transaction) AddWarnings(ws ...Warning) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.warnings = append(t.warnings, ws...)
}

func (t *Transaction) Warnings() []Warning {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Warning(nil), t.warnings...)
}

// Snapshot is a point-in-time copy of a transaction used for journaling and
// the HTTP API.
type Snapshot struct {
	ID           string     `json:"id"`
	CheckoutID   string     `json:"checkout_id"`
	Brand        string     `json:"brand"`
	Flow         FlowKind   `json:"flow,omitempty"`
	State        FlowState  `json:"state"`
	NativeFailed bool       `json:"native_failed"`
	RedirectURL  string     `json:"redirect_url,omitempty"`
	Amount       int64      `json:"amount"`
	Currency     string     `json:"currency"`
	Outcome      string     `json:"outcome,omitempty"`
	Error        string     `json:"error,omitempty"`
	TransStatus  string     `json:"trans_status,omitempty"`
	ECI          string     `json:"eci,omitempty"`
	Warnings     []Warning  `json:"warnings,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

const (
	OutcomeSucceeded = "succeeded"
	OutcomeFailed    = "failed"
)

func (t *Transaction) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := Snapshot{
		ID:           t.ID,
		Flow:         t.flow,
		State:        t.state,
		NativeFailed: t.nativeFailed,
		RedirectURL:  t.RedirectURL,
		Amount:       t.Amount,
		Currency:     t.Currency,
		Warnings:     append([]Warning(nil), t.warnings...),
		CreatedAt:    t.CreatedAt,
		UpdatedAt:    t.updatedAt,
	}
	if t.params != nil {
		s.CheckoutID = t.params.CheckoutID()
		s.Brand = t.params.Brand()
	}
	if r := t.result; r != nil {
		completed := r.CompletedAt
		s.CompletedAt = &completed
		if r.Succeeded() {
			s.Outcome = OutcomeSucceeded
			s.TransStatus = r.Authentication.TransStatus
			s.ECI = r.Authentication.ECI
		} else {
			s.Outcome = OutcomeFailed
			if r.Err != nil {
				s.Error = r.Err.Error()
			}
		}
	}
	return s
}
