package models_test

import (
	"errors"
	"testing"

	"github.com/alovak/threeds-flow/internal/brand"
	"github.com/alovak/threeds-flow/threeds/models"
	"github.com/stretchr/testify/require"
)

func newTx(t *testing.T) *models.Transaction {
	t.Helper()
	p, err := models.NewPaymentParams("CO-1", brand.Visa)
	require.NoError(t, err)
	return models.NewTransaction(p)
}

func TestTransaction_Transitions(t *testing.T) {
	tx := newTx(t)
	require.NotEmpty(t, tx.ID)
	require.Equal(t, models.StateIdle, tx.State())

	require.NoError(t, tx.Transition(models.StateCollectingDeviceData))
	require.NoError(t, tx.Transition(models.StateAwaitingChallenge))
	require.ErrorIs(t, tx.Transition(models.StateCollectingDeviceData), models.ErrInvalidTransition)
	require.NoError(t, tx.Transition(models.StateFallbackRequested))
	require.NoError(t, tx.Transition(models.StateAwaitingChallenge))

	require.NoError(t, tx.SetResult(models.Succeeded(models.FlowWeb, &models.Authentication{TransStatus: "Y"})))
	require.Equal(t, models.StateCompleted, tx.State())
	require.ErrorIs(t, tx.Transition(models.StateFallbackRequested), models.ErrInvalidTransition)
}

func TestTransaction_ResultNeverOverwritten(t *testing.T) {
	tx := newTx(t)
	first := models.Failed(models.FlowNative, models.ErrIssuerRejected)
	require.NoError(t, tx.SetResult(first))

	err := tx.SetResult(models.Succeeded(models.FlowWeb, &models.Authentication{TransStatus: "Y"}))
	require.ErrorIs(t, err, models.ErrResultAlreadySet)
	require.Same(t, first, tx.Result())
	require.ErrorIs(t, tx.Err(), models.ErrIssuerRejected)
}

func TestTransaction_SingleOrchestrator(t *testing.T) {
	tx := newTx(t)
	require.NoError(t, tx.Begin(models.FlowNative))
	require.ErrorIs(t, tx.Begin(models.FlowWeb), models.ErrOrchestratorActive)
	tx.End()
	require.NoError(t, tx.Begin(models.FlowWeb))
	require.Equal(t, models.FlowWeb, tx.Flow())
}

func TestTransaction_MarkNativeFailedOnce(t *testing.T) {
	tx := newTx(t)
	require.True(t, tx.MarkNativeFailed())
	require.False(t, tx.MarkNativeFailed())
	require.True(t, tx.NativeFailed())
}

func TestTransaction_Snapshot(t *testing.T) {
	tx := newTx(t)
	tx.Amount = 1250
	tx.Currency = "EUR"
	tx.AddWarnings(models.Warning{ID: "SW02", Severity: models.SeverityHigh})
	require.NoError(t, tx.Transition(models.StateAwaitingChallenge))
	require.NoError(t, tx.SetResult(models.Failed(models.FlowWeb, models.NewChallengeError(models.ChallengeTimeout, "no redirect", nil))))

	s := tx.Snapshot()
	require.Equal(t, "CO-1", s.CheckoutID)
	require.Equal(t, models.OutcomeFailed, s.Outcome)
	require.Contains(t, s.Error, "timeout")
	require.Len(t, s.Warnings, 1)
	require.NotNil(t, s.CompletedAt)
}

func TestChallengeError_Is(t *testing.T) {
	cause := errors.New("surface closed")
	err := models.NewChallengeError(models.ChallengeNavigationAborted, "host cancelled", cause)

	require.ErrorIs(t, err, models.ErrNavigationAborted)
	require.NotErrorIs(t, err, models.ErrChallengeTimeout)
	require.ErrorIs(t, err, cause)
	require.Contains(t, err.Error(), "host cancelled")
}
