package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestVersionSkipsConfigLoading(t *testing.T) {
	buf := &bytes.Buffer{}
	rootCmd.SetOut(buf)
	rootCmd.SetArgs([]string{"version", "--config", "/does/not/exist.yaml"})
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
	})

	require.NoError(t, rootCmd.Execute())
	require.Contains(t, buf.String(), "version: dev")
	require.Nil(t, appHandle)
}

func TestCommandsRegistered(t *testing.T) {
	names := map[string]bool{}
	for _, cmd := range rootCmd.Commands() {
		names[cmd.Name()] = true
	}
	for _, want := range []string{"run", "daemon", "serve", "version"} {
		require.True(t, names[want], want)
	}
}

func TestUnknownPrecisionFieldFailsBeforeRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("normalize:\n  precision:\n    curent_price: 2\n"), 0o644))

	rootCmd.SetArgs([]string{"run", "--config", path})
	t.Cleanup(func() {
		rootCmd.SetArgs(nil)
		cfgFile = ""
		appHandle = nil
	})

	err := rootCmd.Execute()
	require.ErrorContains(t, err, "curent_price")
	require.Nil(t, appHandle)
}
