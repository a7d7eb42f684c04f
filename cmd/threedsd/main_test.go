package main

import (
	"bytes"
	"testing"

	"github.com/alovak/threeds-flow/internal/brand"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"
)

func TestBrandCmd(t *testing.T) {
	cmd := NewBrandCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{brand.VisaTest})

	require.NoError(t, cmd.Execute())
	require.Contains(t, out.String(), "kind:     card")
	require.Contains(t, out.String(), "web only: true")

	cmd = NewBrandCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"BITCOIN"})
	require.ErrorIs(t, cmd.Execute(), brand.ErrUnknownBrand)
}

func TestKlarnaCountryCmd(t *testing.T) {
	for locale, want := range map[string]string{
		"sv_SE.UTF-8": "SE",
		"de-AT":       "AT",
		"xx-YY-bad":   brand.DefaultKlarnaCountry,
	} {
		cmd := NewKlarnaCountryCmd()
		var out bytes.Buffer
		cmd.SetOut(&out)
		cmd.SetArgs([]string{locale})
		require.NoError(t, cmd.Execute())
		require.Equal(t, want+"\n", out.String(), locale)
	}
}

func TestParseLevel(t *testing.T) {
	require.Equal(t, slog.LevelDebug, parseLevel("DEBUG"))
	require.Equal(t, slog.LevelWarn, parseLevel("warning"))
	require.Equal(t, slog.LevelInfo, parseLevel(""))
}
