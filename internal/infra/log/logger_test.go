package log

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestInit_WritesFileLines(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, Init(Options{Dir: dir, Level: "debug"}))
	t.Cleanup(func() {
		Logger = zap.NewNop()
		runField = nil
	})

	SetRun("run-1")
	LogInfo("render issued", zap.String("chart", "networksize"), zap.Int("window", 30))
	LogError("render failed", zap.Error(errors.New("boom")))
	LogDebug("debug line")
	Sync()

	data, err := os.ReadFile(filepath.Join(dir, logFileName))
	require.NoError(t, err)
	out := string(data)

	require.Contains(t, out, "INFO render issued")
	require.Contains(t, out, `"chart":"networksize"`)
	require.Contains(t, out, `"window":30`)
	require.Contains(t, out, `"run_id":"run-1"`)
	require.Contains(t, out, "ERROR render failed")
	require.Contains(t, out, `"error":"boom"`)
	require.Contains(t, out, "DEBUG debug line")
	require.Equal(t, 3, strings.Count(out, "\n"))
}

func TestInit_LevelFilters(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, Init(Options{Dir: dir, Level: "warn"}))
	t.Cleanup(func() { Logger = zap.NewNop() })

	LogInfo("dropped")
	LogWarn("kept")
	Sync()

	data, err := os.ReadFile(filepath.Join(dir, logFileName))
	require.NoError(t, err)
	require.NotContains(t, string(data), "dropped")
	require.Contains(t, string(data), "WARN kept")
}

func TestInit_RejectsBadLevel(t *testing.T) {
	err := Init(Options{Dir: t.TempDir(), Level: "loud"})
	require.Error(t, err)
}

func TestHelpersAreSafeBeforeInit(t *testing.T) {
	LogInfo("nothing happens")
	LogSuccess("nothing happens", zap.Int64("duration_ms", 12))
	LogError("nothing happens")
}

func TestNewRunID_Unique(t *testing.T) {
	require.NotEqual(t, NewRunID(), NewRunID())
}
