// Package sdksim provides a deterministic native 3DS SDK and a provider
// simulator for local runs and tests.
package sdksim

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"sync"

	"github.com/alovak/threeds-flow/threeds"
	"github.com/alovak/threeds-flow/threeds/models"
	"github.com/google/uuid"
	"golang.org/x/exp/slices"
)

// Protocol versions the simulated SDK implements.
var SupportedVersions = []string{"2.1.0", "2.2.0"}

const sdkAppID = "threeds-flow-sim"

// ChallengeFunc decides how the cardholder answers a challenge.
type ChallengeFunc func(ctx context.Context, params threeds.ChallengeParameters) (string, error)

// ApproveChallenge answers every challenge with transStatus Y.
func ApproveChallenge(context.Context, threeds.ChallengeParameters) (string, error) {
	return models.TransStatusAuthenticated, nil
}

// SDK is a threeds.SDK that never talks to a device.
type SDK struct {
	mu        sync.Mutex
	warnings  []models.Warning
	challenge ChallengeFunc
}

func NewSDK(challenge ChallengeFunc, warnings ...models.Warning) *SDK {
	if challenge == nil {
		challenge = ApproveChallenge
	}
	return &SDK{challenge: challenge, warnings: warnings}
}

func (s *SDK) SetWarnings(ws ...models.Warning) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.warnings = ws
}

func (s *SDK) Warnings(ctx context.Context) ([]models.Warning, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Warning(nil), s.warnings...), nil
}

func (s *SDK) CreateTransaction(ctx context.Context, directoryServerID, protocolVersion string) (threeds.SDKTransaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !slices.Contains(SupportedVersions, protocolVersion) {
		return nil, fmt.Errorf("%w: protocol version %q", threeds.ErrSDKIntegration, protocolVersion)
	}
	if directoryServerID == "" {
		return nil, fmt.Errorf("%w: missing directory server id", threeds.ErrSDKIntegration)
	}
	return &transaction{
		id:                uuid.New().String(),
		directoryServerID: directoryServerID,
		version:           protocolVersion,
		challenge:         s.challenge,
	}, nil
}

type transaction struct {
	id                string
	directoryServerID string
	version           string
	challenge         ChallengeFunc

	mu     sync.Mutex
	closed bool
}

func (t *transaction) AuthenticationRequestParameters(ctx context.Context) (threeds.AuthRequestParameters, error) {
	if err := t.usable(ctx); err != nil {
		return threeds.AuthRequestParameters{}, err
	}
	sum := sha256.Sum256([]byte(t.id + t.directoryServerID))
	return threeds.AuthRequestParameters{
		SDKTransactionID:   t.id,
		SDKAppID:           sdkAppID,
		SDKReferenceNumber: "3DS_LOA_SDK_SIM_" + t.directoryServerID,
		DeviceData:         base64.RawURLEncoding.EncodeToString(sum[:]),
		EphemeralPublicKey: `{"kty":"EC","crv":"P-256"}`,
		MessageVersion:     t.version,
	}, nil
}

func (t *transaction) DoChallenge(ctx context.Context, params threeds.ChallengeParameters) (threeds.ChallengeOutcome, error) {
	if err := t.usable(ctx); err != nil {
		return threeds.ChallengeOutcome{}, err
	}
	status, err := t.challenge(ctx, params)
	if err != nil {
		return threeds.ChallengeOutcome{}, err
	}
	return threeds.ChallengeOutcome{SDKTransactionID: t.id, TransStatus: status}, nil
}

func (t *transaction) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

func (t *transaction) usable(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return fmt.Errorf("%w: transaction closed", threeds.ErrSDKIntegration)
	}
	return nil
}
