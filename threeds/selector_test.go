package threeds_test

import (
	"testing"

	"github.com/alovak/threeds-flow/internal/brand"
	"github.com/alovak/threeds-flow/threeds"
	"github.com/alovak/threeds-flow/threeds/models"
	"github.com/stretchr/testify/require"
)

func TestSelect(t *testing.T) {
	t.Run("native when provider supports it and 3ds data is present", func(t *testing.T) {
		require.Equal(t, models.FlowNative, threeds.Select(newCardTx(t), newProvider(t, true)))
	})

	t.Run("web when provider has no native support", func(t *testing.T) {
		require.Equal(t, models.FlowWeb, threeds.Select(newCardTx(t), newProvider(t, false)))
	})

	t.Run("web when 3ds server data is missing", func(t *testing.T) {
		tx := newCardTx(t)
		tx.ApplyCheckout(1999, "EUR", models.AuthenticationInfo{}, "https://acs.example.com/c")
		require.Equal(t, models.FlowWeb, threeds.Select(tx, newProvider(t, true)))
	})

	t.Run("web for web-only brands", func(t *testing.T) {
		params, err := models.NewPaymentParams("CO-1", brand.VisaTest)
		require.NoError(t, err)
		tx := models.NewTransaction(params)
		tx.ApplyCheckout(1999, "EUR", newCardTx(t).ThreeDS, "")
		require.Equal(t, models.FlowWeb, threeds.Select(tx, newProvider(t, true)))
	})

	t.Run("web for brands the provider lists as web-only", func(t *testing.T) {
		p, err := threeds.NewProvider(threeds.ProviderConfig{NativeThreeDS: true, WebOnlyBrands: []string{brand.Visa, " "}})
		require.NoError(t, err)
		require.Equal(t, models.FlowWeb, threeds.Select(newCardTx(t), p))
	})

	t.Run("web after a native failure", func(t *testing.T) {
		tx := newCardTx(t)
		flow, err := threeds.Fallback(tx)
		require.NoError(t, err)
		require.Equal(t, models.FlowWeb, flow)
		require.Equal(t, models.FlowWeb, threeds.Select(tx, newProvider(t, true)))
	})
}

func TestFallback_OncePerTransaction(t *testing.T) {
	tx := newCardTx(t)

	_, err := threeds.Fallback(tx)
	require.NoError(t, err)

	_, err = threeds.Fallback(tx)
	require.ErrorIs(t, err, threeds.ErrFallbackExhausted)
}

func TestNewProvider(t *testing.T) {
	p, err := threeds.NewProvider(threeds.ProviderConfig{})
	require.NoError(t, err)
	require.Equal(t, threeds.ModeTest, p.Mode())
	require.Equal(t, threeds.DefaultChallengeTimeout, p.ChallengeTimeout())
	require.True(t, p.IsNetworkCompletion("https://pay.example.com/threeDSecure/mpgs/completion?id=1"))
	require.True(t, p.IsNetworkCompletion("https://pay.example.com/threeds/MPGS/completion"))
	require.False(t, p.IsNetworkCompletion("https://pay.example.com/threeds/mpgs/completionx"))

	_, err = threeds.NewProvider(threeds.ProviderConfig{Mode: "STAGING"})
	require.ErrorIs(t, err, threeds.ErrInvalidProvider)

	_, err = threeds.NewProvider(threeds.ProviderConfig{ShopperResultURL: "/relative"})
	require.ErrorIs(t, err, threeds.ErrInvalidProvider)

	_, err = threeds.NewProvider(threeds.ProviderConfig{NetworkCompletionPattern: "("})
	require.ErrorIs(t, err, threeds.ErrInvalidProvider)

	key := []byte("secret")
	p, err = threeds.NewProvider(threeds.ProviderConfig{SessionTokenKey: key})
	require.NoError(t, err)
	key[0] = 'X'
	require.Equal(t, []byte("secret"), p.SessionTokenKey())
}
