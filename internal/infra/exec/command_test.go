package exec

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRun_CombinedOutput(t *testing.T) {
	out, err := Run(context.Background(), time.Second, "sh", "-c", "echo out; echo err 1>&2")
	require.NoError(t, err)
	require.Contains(t, string(out), "out")
	require.Contains(t, string(out), "err")
}

func TestRun_MissingBinary(t *testing.T) {
	_, err := Run(context.Background(), time.Second, "definitely-not-a-real-binary-ernie")
	require.Error(t, err)
	require.Contains(t, err.Error(), "not installed")
}

func TestRun_NonZeroExit(t *testing.T) {
	out, err := Run(context.Background(), time.Second, "sh", "-c", "echo bad; exit 3")
	require.Error(t, err)
	require.Contains(t, string(out), "bad")
}

func TestRun_Timeout(t *testing.T) {
	_, err := Run(context.Background(), 50*time.Millisecond, "sh", "-c", "exec sleep 5")
	require.ErrorIs(t, err, ErrTimeout)
}

func TestRunRscript_NeedsExpression(t *testing.T) {
	_, err := RunRscript(context.Background(), "sh", time.Second)
	require.Error(t, err)
}
