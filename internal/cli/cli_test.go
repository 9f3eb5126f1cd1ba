package cli

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersionSkipsConfig(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"version", "--config", "/nonexistent/config.yaml"})
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
	})

	require.NoError(t, rootCmd.Execute())
	assert.True(t, strings.HasPrefix(out.String(), "lstyield dev"), out.String())
	assert.Nil(t, appHandle)
}

func TestCommandsRegistered(t *testing.T) {
	want := []string{"compute", "run", "show", "export", "backfill", "simulate", "migrate", "version"}
	for _, name := range want {
		cmd, _, err := rootCmd.Find([]string{name})
		require.NoError(t, err, name)
		assert.Equal(t, name, cmd.Name())
	}
}

func TestParseTimeFlag(t *testing.T) {
	got, err := parseTimeFlag("from", "")
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = parseTimeFlag("from", "2024-05-20T00:00:00Z")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 2024, got.Year())

	_, err = parseTimeFlag("to", "yesterday")
	require.ErrorContains(t, err, "--to")
}
