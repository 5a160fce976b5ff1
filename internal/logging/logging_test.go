package logging

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestFileName(t *testing.T) {
	day := time.Date(2022, 10, 7, 13, 4, 0, 0, time.UTC)
	require.Equal(t, "2022-10-07.log", FileName(day))
}

func TestNewLoggerWritesDatedFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")

	logger, err := NewLogger(Config{Level: "debug", Dir: dir})
	require.NoError(t, err)
	require.Equal(t, zerolog.DebugLevel, logger.GetLevel())

	logger.Info().Msg("session started")

	data, err := os.ReadFile(filepath.Join(dir, FileName(time.Now())))
	require.NoError(t, err)
	require.Contains(t, string(data), "session started")
}

func TestDailyFileSwitchesAtMidnight(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2022, 10, 7, 23, 59, 0, 0, time.UTC)

	out, err := logOutput(dir, func() time.Time { return now })
	require.NoError(t, err)
	logger := zerolog.New(out)

	logger.Info().Msg("before midnight")
	now = now.Add(2 * time.Minute)
	logger.Info().Msg("after midnight")

	first, err := os.ReadFile(filepath.Join(dir, "2022-10-07.log"))
	require.NoError(t, err)
	require.Contains(t, string(first), "before midnight")
	require.NotContains(t, string(first), "after midnight")

	second, err := os.ReadFile(filepath.Join(dir, "2022-10-08.log"))
	require.NoError(t, err)
	require.Contains(t, string(second), "after midnight")
}

func TestNewLoggerFallsBackToInfo(t *testing.T) {
	logger, err := NewLogger(Config{Level: "chatty"})
	require.NoError(t, err)
	require.Equal(t, zerolog.InfoLevel, logger.GetLevel())
}
