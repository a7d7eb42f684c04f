package threeds

import (
	"context"
	"errors"

	"github.com/alovak/threeds-flow/threeds/models"
)

// SDK errors. Implementations wrap them so the native orchestrator can map
// failures to fallback or terminal challenge errors.
var (
	// ErrSDKIntegration is an unrecoverable integration failure, e.g. an
	// issuer protocol version the SDK does not support. It triggers the web
	// fallback.
	ErrSDKIntegration = errors.New("3ds sdk integration error")

	ErrSDKChallengeCancelled = errors.New("challenge cancelled by cardholder")
	ErrSDKChallengeTimedOut  = errors.New("challenge timed out")
)

// AuthRequestParameters is the device data assembled by the SDK for the
// authentication request.
type AuthRequestParameters struct {
	SDKTransactionID   string
	SDKAppID           string
	SDKReferenceNumber string
	DeviceData         string
	EphemeralPublicKey string
	MessageVersion     string
}

// ChallengeParameters are handed to the SDK to present the challenge UI.
type ChallengeParameters struct {
	ServerTransactionID string
	ACSTransactionID    string
	ACSReferenceNumber  string
	ACSSignedContent    string
}

// ChallengeOutcome is what the SDK reports once the challenge UI closed.
type ChallengeOutcome struct {
	SDKTransactionID string
	TransStatus      string
}

// SDK is the native 3DS engine.
type SDK interface {
	CreateTransaction(ctx context.Context, directoryServerID, protocolVersion string) (SDKTransaction, error)
	Warnings(ctx context.Context) ([]models.Warning, error)
}

type SDKTransaction interface {
	AuthenticationRequestParameters(ctx context.Context) (AuthRequestParameters, error)
	DoChallenge(ctx context.Context, params ChallengeParameters) (ChallengeOutcome, error)
	Close() error
}

type Decision string

const (
	DecisionFrictionless Decision = "frictionless"
	DecisionChallenge    Decision = "challenge"
	DecisionRejected     Decision = "rejected"
	DecisionRedirect     Decision = "redirect"
)

// AuthenticationResponse is the issuer decision on the device data.
type AuthenticationResponse struct {
	Decision       Decision
	Authentication *models.Authentication
	Challenge      ChallengeParameters
	RedirectURL    string
	Reason         string
}

// Authenticator is the issuer side of a challenge, reached through the
// provider. PaymentStatus reports the outcome the provider recorded for the
// checkout and is the only source of a web challenge result.
type Authenticator interface {
	Authenticate(ctx context.Context, p *Provider, tx *models.Transaction, req AuthRequestParameters) (*AuthenticationResponse, error)
	ChallengeResult(ctx context.Context, p *Provider, tx *models.Transaction, outcome ChallengeOutcome) (*models.Authentication, error)
	PaymentStatus(ctx context.Context, p *Provider, tx *models.Transaction, resourcePath string) (*models.Authentication, error)
}
