package threeds_test

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/alovak/threeds-flow/threeds"
	"github.com/alovak/threeds-flow/threeds/models"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"
)

func newWeb(auth threeds.Authenticator) *threeds.WebOrchestrator {
	return threeds.NewWebOrchestrator(auth, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func proceedWeb(t *testing.T, ctx context.Context, auth *fakeAuth, tx *models.Transaction, challengeURL string, host threeds.NavigationHost, prior error) *models.ChallengeResult {
	t.Helper()
	res, err := newWeb(auth).ProceedChallenge(ctx, tx, newProvider(t, true), challengeURL, host, prior)
	require.NoError(t, err)
	return res
}

func TestWebOrchestrator_ShopperResultRedirect(t *testing.T) {
	host := &fakeHost{events: []threeds.NavigationEvent{
		redirect("https://acs.example.com/challenge/step2"),
		redirect(resultURL + "?resourcePath=%2Fv1%2Fcheckouts%2FCO-1%2Fpayment"),
	}}
	auth := &fakeAuth{}
	tx := newCardTx(t)

	res := proceedWeb(t, context.Background(), auth, tx, tx.ChallengeURL(), host, nil)
	require.True(t, res.Succeeded())
	require.Equal(t, models.FlowWeb, res.Flow)
	require.Equal(t, "/v1/checkouts/CO-1/payment", res.Authentication.ResourcePath)
	require.Equal(t, "05", res.Authentication.ECI)
	require.Equal(t, []string{"/v1/checkouts/CO-1/payment"}, auth.statusLookups())
	require.Equal(t, []string{"https://acs.example.com/challenge/CO-1"}, host.openedURLs())
	require.True(t, host.allClosed())
}

func TestWebOrchestrator_NetworkCompletionRedirect(t *testing.T) {
	host := &fakeHost{events: []threeds.NavigationEvent{
		redirect("https://gateway.example.com/threeDSecure/mpgs/completion"),
	}}
	auth := &fakeAuth{status: &models.Authentication{TransStatus: models.TransStatusAttempted, ECI: "06"}}
	tx := newCardTx(t)

	res := proceedWeb(t, context.Background(), auth, tx, tx.ChallengeURL(), host, nil)
	require.True(t, res.Succeeded())
	require.Equal(t, models.TransStatusAttempted, res.Authentication.TransStatus)
	require.Len(t, auth.statusLookups(), 1)
}

func TestWebOrchestrator_RedirectQueryIsNotTrusted(t *testing.T) {
	// the shopper's browser controls the query; the provider declined
	host := &fakeHost{events: []threeds.NavigationEvent{
		redirect(resultURL + "?transStatus=Y&eci=05&dsTransId=forged"),
	}}
	auth := &fakeAuth{status: &models.Authentication{TransStatus: models.TransStatusRejected}}
	tx := newCardTx(t)

	res := proceedWeb(t, context.Background(), auth, tx, tx.ChallengeURL(), host, nil)
	require.False(t, res.Succeeded())
	require.ErrorIs(t, res.Err, models.ErrIssuerRejected)
}

func TestWebOrchestrator_ProviderStatus(t *testing.T) {
	tests := []struct {
		status string
		want   error
	}{
		{status: "Y"},
		{status: "A"},
		{status: "N", want: models.ErrIssuerRejected},
		{status: "R", want: models.ErrIssuerRejected},
		{status: "U", want: models.ErrIssuerRejected},
		{status: "C", want: models.ErrProtocol},
		{status: "D", want: models.ErrProtocol},
		{status: "I", want: models.ErrProtocol},
		{status: "", want: models.ErrProtocol},
	}
	for _, tt := range tests {
		t.Run("status "+tt.status, func(t *testing.T) {
			host := &fakeHost{events: []threeds.NavigationEvent{redirect(resultURL + "?transStatus=Y")}}
			auth := &fakeAuth{status: &models.Authentication{TransStatus: tt.status}}
			tx := newCardTx(t)

			res := proceedWeb(t, context.Background(), auth, tx, tx.ChallengeURL(), host, nil)
			if tt.want == nil {
				require.True(t, res.Succeeded())
				return
			}
			require.False(t, res.Succeeded())
			require.ErrorIs(t, res.Err, tt.want)
		})
	}
}

func TestWebOrchestrator_Failures(t *testing.T) {
	tests := []struct {
		name string
		auth *fakeAuth
		host *fakeHost
		want error
	}{
		{"shopper cancels on the result page", &fakeAuth{}, &fakeHost{events: []threeds.NavigationEvent{redirect(resultURL + "?error=cancelled")}}, models.ErrUserCancelled},
		{"result carries an error", &fakeAuth{}, &fakeHost{events: []threeds.NavigationEvent{redirect(resultURL + "?error=declined")}}, models.ErrProtocol},
		{"status lookup fails", &fakeAuth{statusErr: errors.New("provider down")}, &fakeHost{events: []threeds.NavigationEvent{redirect(resultURL)}}, models.ErrProtocol},
		{"status lookup times out", &fakeAuth{statusErr: context.DeadlineExceeded}, &fakeHost{events: []threeds.NavigationEvent{redirect(resultURL)}}, models.ErrChallengeTimeout},
		{"surface cancelled", &fakeAuth{}, &fakeHost{events: []threeds.NavigationEvent{{Kind: threeds.NavigationCancelled}}}, models.ErrNavigationAborted},
		{"page failed to load", &fakeAuth{}, &fakeHost{events: []threeds.NavigationEvent{{Kind: threeds.NavigationFailed, Err: errors.New("dns")}}}, models.ErrNavigationAborted},
		{"surface went away", &fakeAuth{}, &fakeHost{closeCh: true}, models.ErrNavigationAborted},
		{"surface cannot open", &fakeAuth{}, &fakeHost{openErr: errors.New("no window")}, models.ErrNavigationAborted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tx := newCardTx(t)
			res := proceedWeb(t, context.Background(), tt.auth, tx, tx.ChallengeURL(), tt.host, nil)
			require.False(t, res.Succeeded())
			require.ErrorIs(t, res.Err, tt.want)
			require.True(t, tt.host.allClosed())
		})
	}
}

func TestWebOrchestrator_CancelledRedirectSkipsStatusLookup(t *testing.T) {
	auth := &fakeAuth{}
	host := &fakeHost{events: []threeds.NavigationEvent{redirect(resultURL + "?error=cancelled")}}
	tx := newCardTx(t)

	res := proceedWeb(t, context.Background(), auth, tx, tx.ChallengeURL(), host, nil)
	require.ErrorIs(t, res.Err, models.ErrUserCancelled)
	require.Empty(t, auth.statusLookups())
}

func TestWebOrchestrator_NoChallengeURL(t *testing.T) {
	res := proceedWeb(t, context.Background(), &fakeAuth{}, newCardTx(t), "", &fakeHost{}, nil)
	require.ErrorIs(t, res.Err, models.ErrProtocol)
}

func TestWebOrchestrator_ActiveOrchestrator(t *testing.T) {
	tx := newCardTx(t)
	require.NoError(t, tx.Begin(models.FlowNative))
	defer tx.End()
	host := &fakeHost{}

	res, err := newWeb(&fakeAuth{}).ProceedChallenge(context.Background(), tx, newProvider(t, true), tx.ChallengeURL(), host, nil)
	require.ErrorIs(t, err, models.ErrOrchestratorActive)
	require.Nil(t, res)
	require.Equal(t, models.FlowNative, tx.Flow())
	require.Empty(t, host.openedURLs())
}

func TestWebOrchestrator_ContextEnds(t *testing.T) {
	t.Run("deadline is a timeout", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		tx := newCardTx(t)
		res := proceedWeb(t, ctx, &fakeAuth{}, tx, tx.ChallengeURL(), &fakeHost{}, nil)
		require.ErrorIs(t, res.Err, models.ErrChallengeTimeout)
	})

	t.Run("cancel aborts navigation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		time.AfterFunc(20*time.Millisecond, cancel)
		tx := newCardTx(t)
		host := &fakeHost{}
		res := proceedWeb(t, ctx, &fakeAuth{}, tx, tx.ChallengeURL(), host, nil)
		require.ErrorIs(t, res.Err, models.ErrNavigationAborted)
		require.True(t, host.allClosed())
	})
}

func TestWebOrchestrator_PriorErrorIsCause(t *testing.T) {
	prior := &threeds.FlowError{Stage: "create transaction", Err: threeds.ErrSDKIntegration}
	host := &fakeHost{events: []threeds.NavigationEvent{{Kind: threeds.NavigationCancelled}}}
	tx := newCardTx(t)

	res := proceedWeb(t, context.Background(), &fakeAuth{}, tx, tx.ChallengeURL(), host, prior)
	require.ErrorIs(t, res.Err, models.ErrNavigationAborted)
	require.ErrorIs(t, res.Err, threeds.ErrSDKIntegration)
}
