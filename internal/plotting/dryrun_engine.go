package plotting

import (
	"context"
	"fmt"
	"io"
)

// DryRunEngine writes each expression to W instead of evaluating it
type DryRunEngine struct {
	W io.Writer
}

func (e *DryRunEngine) Call(_ context.Context, req Request) error {
	expr, err := req.Expression()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(e.W, expr)
	return err
}

func (e *DryRunEngine) Close() error { return nil }
