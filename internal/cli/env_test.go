package cli_test

import (
	"flag"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/DeafMist/civic-radar/internal/cli"
)

func TestEnvLoaderMissingDefaultIsNotAnError(t *testing.T) {
	t.Setenv("CIVIC_RADAR_ENV_FILE", "")
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	loader := cli.AddEnvFlag(fs, filepath.Join(t.TempDir(), ".env"))
	require.NoError(t, fs.Parse(nil))

	path, err := loader.Load()
	require.NoError(t, err)
	require.Empty(t, path)
}

func TestEnvLoaderLoadsRequestedFile(t *testing.T) {
	t.Setenv("CIVIC_RADAR_ENV_FILE", "")
	t.Setenv("CIVIC_RADAR_TEST_KEY", "")
	require.NoError(t, os.Unsetenv("CIVIC_RADAR_TEST_KEY"))

	dir := t.TempDir()
	file := filepath.Join(dir, "custom.env")
	require.NoError(t, os.WriteFile(file, []byte("CIVIC_RADAR_TEST_KEY=loaded\n"), 0o600))

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	loader := cli.AddEnvFlag(fs, filepath.Join(dir, ".env"))
	require.NoError(t, fs.Parse([]string{"-env", file}))

	path, err := loader.Load()
	require.NoError(t, err)
	require.Equal(t, file, path)
	require.Equal(t, "loaded", os.Getenv("CIVIC_RADAR_TEST_KEY"))
}

func TestEnvLoaderMissingRequestedFileFails(t *testing.T) {
	t.Setenv("CIVIC_RADAR_ENV_FILE", "")
	dir := t.TempDir()

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	loader := cli.AddEnvFlag(fs, filepath.Join(dir, ".env"))
	require.NoError(t, fs.Parse([]string{"-env", filepath.Join(dir, "nope.env")}))

	_, err := loader.Load()
	require.Error(t, err)
}
