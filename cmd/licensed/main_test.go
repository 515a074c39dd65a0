package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"licensed/pkg/contracts"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("LICENSED_CONFIG", "")

	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "licensed v"+contracts.Version)
}

func TestClassifyCommand(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"slug", []string{"--product-id", "6screen"}, "premium (6 screens)"},
		{"name", []string{"--product-name", "Player 4 Screen"}, "standard (4 screens)"},
		{"default price band", []string{"--price", "1.99", "--currency", "USD"}, "premium (6 screens)"},
		{"key marker", []string{"--key", "ABCD-STD-0001"}, "standard (4 screens)"},
		{"no signals", nil, "basic (2 screens)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := execute(t, append([]string{"classify"}, tt.args...)...)
			require.NoError(t, err)
			assert.Contains(t, out, tt.want)
		})
	}
}

func TestClassifyCommand_ConfiguredBands(t *testing.T) {
	path := writeConfig(t, `
licensing:
  price_bands:
    - tier: 4screen
      min: 1.50
      max: 2.50
      currency: USD
`)
	out, err := execute(t, "--config", path, "classify", "--price", "1.99", "--currency", "USD")
	require.NoError(t, err)
	assert.Contains(t, out, "standard (4 screens)")

	path = writeConfig(t, `
licensing:
  price_bands:
    - tier: platinum
      min: 1
      max: 2
`)
	_, err = execute(t, "--config", path, "classify")
	assert.ErrorContains(t, err, "platinum")
}

func TestMigrateCommand_RequiresDatabaseURL(t *testing.T) {
	_, err := execute(t, "migrate", "up")
	assert.ErrorContains(t, err, "database_url")
}

func TestUnknownCommand(t *testing.T) {
	_, err := execute(t, "frobnicate")
	assert.Error(t, err)
}
