package plotting

import (
	"context"
	"fmt"
	"strings"
	"time"

	"ernie-graphs/internal/infra/exec"
	"ernie-graphs/internal/infra/log"

	"go.uber.org/zap"
)

// RscriptEngine runs every request in a fresh Rscript process. It needs no
// daemon, at the cost of loading R and the plotting sources per chart.
type RscriptEngine struct {
	Path    string
	Sources []string
	Timeout time.Duration

	run func(ctx context.Context, rscript string, timeout time.Duration, exprs ...string) ([]byte, error)
}

func NewRscriptEngine(path string, sources []string, timeout time.Duration) *RscriptEngine {
	return &RscriptEngine{Path: path, Sources: sources, Timeout: timeout, run: exec.RunRscript}
}

func (e *RscriptEngine) Call(ctx context.Context, req Request) error {
	expr, err := req.Expression()
	if err != nil {
		return err
	}
	exprs := make([]string, 0, len(e.Sources)+1)
	for _, src := range e.Sources {
		exprs = append(exprs, "source("+QuoteString(src)+")")
	}
	exprs = append(exprs, expr)

	start := time.Now()
	out, err := e.run(ctx, e.Path, e.Timeout, exprs...)
	if err != nil {
		return fmt.Errorf("rscript %s: %w: %s", req.Function, err, strings.TrimSpace(string(out)))
	}
	log.LogDebug("Rscript eval done", zap.String("expr", expr), zap.Int64("duration_ms", time.Since(start).Milliseconds()))
	return nil
}

func (e *RscriptEngine) Close() error { return nil }
