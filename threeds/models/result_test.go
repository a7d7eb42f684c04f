package models_test

import (
	"errors"
	"testing"

	"github.com/alovak/threeds-flow/threeds/models"
	"github.com/stretchr/testify/require"
)

func TestOutcome(t *testing.T) {
	tests := []struct {
		status string
		want   *models.ChallengeError
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
		{status: "y", want: models.ErrProtocol},
	}
	for _, tt := range tests {
		t.Run("status "+tt.status, func(t *testing.T) {
			res := models.Outcome(models.FlowWeb, &models.Authentication{TransStatus: tt.status}, "", nil)
			if tt.want == nil {
				require.True(t, res.Succeeded())
				return
			}
			require.False(t, res.Succeeded())
			require.ErrorIs(t, res.Err, tt.want)
		})
	}

	t.Run("missing authentication", func(t *testing.T) {
		cause := errors.New("sdk failure")
		res := models.Outcome(models.FlowNative, nil, "", cause)
		require.ErrorIs(t, res.Err, models.ErrProtocol)
		require.ErrorIs(t, res.Err, cause)
	})
}
