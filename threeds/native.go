package threeds

import (
	"context"
	"errors"
	"fmt"

	"github.com/alovak/threeds-flow/threeds/models"
	"golang.org/x/exp/slog"
)

// NativeOrchestrator drives the in-app challenge through the SDK:
//
//	Idle -> CollectingDeviceData -> AwaitingChallenge -> Completed
//	                \________________________\________-> FallbackRequested
//
// Run returns a terminal result, or a *FlowError when the flow must fall back
// to the web. Storing the result on the transaction is left to the caller.
type NativeOrchestrator struct {
	sdk    SDK
	auth   Authenticator
	logger *slog.Logger
}

func NewNativeOrchestrator(sdk SDK, auth Authenticator, logger *slog.Logger) *NativeOrchestrator {
	return &NativeOrchestrator{sdk: sdk, auth: auth, logger: logger}
}

func (o *NativeOrchestrator) Run(ctx context.Context, tx *models.Transaction, p *Provider) (*models.ChallengeResult, error) {
	if err := tx.Begin(models.FlowNative); err != nil {
		return nil, err
	}
	defer tx.End()

	logger := o.logger.With(slog.String("tx", tx.ID), slog.String("flow", string(models.FlowNative)))

	if err := tx.Transition(models.StateCollectingDeviceData); err != nil {
		return nil, err
	}
	sdkTx, err := o.sdk.CreateTransaction(ctx, tx.ThreeDS.DirectoryServerID, tx.ThreeDS.ProtocolVersion)
	if err != nil {
		return o.fail(ctx, tx, "create transaction", err)
	}
	defer func() {
		if err := sdkTx.Close(); err != nil {
			logger.Warn("closing sdk transaction", "err", err)
		}
	}()

	areq, err := sdkTx.AuthenticationRequestParameters(ctx)
	if err != nil {
		return o.fail(ctx, tx, "device data", err)
	}

	// warnings are advisory and never change the outcome
	if ws, err := o.sdk.Warnings(ctx); err != nil {
		logger.Warn("reading security warnings", "err", err)
	} else if len(ws) > 0 {
		tx.AddWarnings(ws...)
		logger.Info("security warnings", slog.Int("count", len(ws)))
	}

	if err := tx.Transition(models.StateAwaitingChallenge); err != nil {
		return nil, err
	}
	resp, err := o.auth.Authenticate(ctx, p, tx, areq)
	if err != nil {
		return o.fail(ctx, tx, "authenticate", err)
	}
	logger.Info("issuer decision", slog.String("decision", string(resp.Decision)))

	switch resp.Decision {
	case DecisionFrictionless:
		return models.Outcome(models.FlowNative, resp.Authentication, resp.Reason, nil), nil
	case DecisionRejected:
		return models.Failed(models.FlowNative, models.NewChallengeError(models.ChallengeIssuerRejected, resp.Reason, nil)), nil
	case DecisionRedirect:
		if resp.RedirectURL != "" {
			tx.SetRedirectURL(resp.RedirectURL)
		}
		return o.fallback(tx, &FlowError{Stage: "authenticate", RedirectURL: resp.RedirectURL, Err: fmt.Errorf("%w: issuer requires web redirect", ErrSDKIntegration)})
	case DecisionChallenge:
	default:
		return models.Failed(models.FlowNative, models.NewChallengeError(models.ChallengeProtocol, fmt.Sprintf("unknown issuer decision %q", resp.Decision), nil)), nil
	}

	outcome, err := sdkTx.DoChallenge(ctx, resp.Challenge)
	if err != nil {
		return o.fail(ctx, tx, "challenge", err)
	}
	auth, err := o.auth.ChallengeResult(ctx, p, tx, outcome)
	if err != nil {
		return o.fail(ctx, tx, "challenge result", err)
	}
	return models.Outcome(models.FlowNative, auth, "", nil), nil
}

// fail classifies err into a fallback request or a terminal result.
func (o *NativeOrchestrator) fail(ctx context.Context, tx *models.Transaction, stage string, err error) (*models.ChallengeResult, error) {
	if errors.Is(err, ErrSDKIntegration) {
		return o.fallback(tx, &FlowError{Stage: stage, Err: err})
	}
	return models.Failed(models.FlowNative, nativeChallengeError(ctx, stage, err)), nil
}

func (o *NativeOrchestrator) fallback(tx *models.Transaction, ferr *FlowError) (*models.ChallengeResult, error) {
	if err := tx.Transition(models.StateFallbackRequested); err != nil {
		return nil, fmt.Errorf("%w (%v)", err, ferr)
	}
	o.logger.Info("native flow requested fallback", slog.String("tx", tx.ID), slog.String("stage", ferr.Stage), "err", ferr.Err)
	return nil, ferr
}

func nativeChallengeError(ctx context.Context, stage string, err error) *models.ChallengeError {
	switch {
	case errors.Is(err, ErrSDKChallengeTimedOut),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(ctx.Err(), context.DeadlineExceeded):
		return models.NewChallengeError(models.ChallengeTimeout, stage, err)
	case errors.Is(err, context.Canceled), errors.Is(ctx.Err(), context.Canceled):
		return models.NewChallengeError(models.ChallengeCanceled, stage, err)
	case errors.Is(err, ErrSDKChallengeCancelled):
		return models.NewChallengeError(models.ChallengeUserCancelled, stage, err)
	}
	return models.NewChallengeError(models.ChallengeProtocol, stage, err)
}
