package exec

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"
)

// ErrTimeout is returned when the command is killed because its timeout expired
var ErrTimeout = errors.New("command timed out")

// Run executes name with args and returns combined output.
// A zero timeout means the command is only bounded by ctx.
func Run(ctx context.Context, timeout time.Duration, name string, args ...string) ([]byte, error) {
	path, err := exec.LookPath(name)
	if err != nil {
		return nil, fmt.Errorf("%s is not installed or not in PATH: %w", name, err)
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, path, args...)
	// children that inherit stdout must not hold CombinedOutput open after a kill
	cmd.WaitDelay = time.Second
	output, err := cmd.CombinedOutput()

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return output, fmt.Errorf("%w after %v: %s", ErrTimeout, timeout, name)
	}
	if err != nil {
		return output, fmt.Errorf("%s failed: %w", name, err)
	}
	return output, nil
}

// RunRscript evaluates each expression in order in one Rscript process
func RunRscript(ctx context.Context, rscript string, timeout time.Duration, exprs ...string) ([]byte, error) {
	if rscript == "" {
		rscript = "Rscript"
	}
	if len(exprs) == 0 {
		return nil, errors.New("no R expression to evaluate")
	}
	args := make([]string, 0, 2*len(exprs))
	for _, expr := range exprs {
		args = append(args, "-e", expr)
	}
	return Run(ctx, timeout, rscript, args...)
}
