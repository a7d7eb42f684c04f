package models

import (
	"fmt"
	"time"
)

// EMV 3DS transStatus values.
const (
	TransStatusAuthenticated = "Y"
	TransStatusAttempted     = "A"
	TransStatusNotAuth       = "N"
	TransStatusRejected      = "R"
	TransStatusUnavailable   = "U"
	TransStatusChallenge     = "C"
)

// Authentication is the outcome of a successful challenge. It is opaque to
// the orchestrators and forwarded to authorization.
type Authentication struct {
	TransStatus         string `json:"trans_status"`
	ECI                 string `json:"eci,omitempty"`
	AuthenticationValue string `json:"authentication_value,omitempty"`
	DSTransactionID     string `json:"ds_transaction_id,omitempty"`
	ProtocolVersion     string `json:"protocol_version,omitempty"`
	ResourcePath        string `json:"resource_path,omitempty"`
}

// ChallengeResult is the terminal value of a transaction: Authentication on
// success, Err otherwise.
type ChallengeResult struct {
	Flow           FlowKind
	Authentication *Authentication
	Err            error
	CompletedAt    time.Time
}

func Succeeded(flow FlowKind, auth *Authentication) *ChallengeResult {
	return &ChallengeResult{Flow: flow, Authentication: auth, CompletedAt: time.Now().UTC()}
}

func Failed(flow FlowKind, err error) *ChallengeResult {
	return &ChallengeResult{Flow: flow, Err: err, CompletedAt: time.Now().UTC()}
}

// Outcome classifies a final authentication. Only Y and A authenticate. N, R
// and U are issuer rejections; any other status, empty or C included, is a
// protocol failure. reason overrides the default description.
func Outcome(flow FlowKind, auth *Authentication, reason string, cause error) *ChallengeResult {
	if auth == nil {
		return Failed(flow, NewChallengeError(ChallengeProtocol, "missing authentication data", cause))
	}
	if reason == "" {
		reason = "transStatus " + auth.TransStatus
	}
	switch auth.TransStatus {
	case TransStatusAuthenticated, TransStatusAttempted:
		return Succeeded(flow, auth)
	case TransStatusNotAuth, TransStatusRejected, TransStatusUnavailable:
		return Failed(flow, NewChallengeError(ChallengeIssuerRejected, reason, cause))
	case "":
		return Failed(flow, NewChallengeError(ChallengeProtocol, "no transStatus", cause))
	}
	return Failed(flow, NewChallengeError(ChallengeProtocol, fmt.Sprintf("unexpected transStatus %q", auth.TransStatus), cause))
}

func (r *ChallengeResult) Succeeded() bool {
	return r != nil && r.Err == nil && r.Authentication != nil
}

type Severity string

const (
	SeverityLow    Severity = "LOW"
	SeverityMedium Severity = "MEDIUM"
	SeverityHigh   Severity = "HIGH"
)

// Warning is an advisory security signal reported by the native SDK (SW01
// rooted device, SW02 tampered SDK, SW03 emulator, SW04 debugger, SW05
// unsupported OS). Warnings never decide the outcome.
type Warning struct {
	ID       string   `json:"id"`
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
}
