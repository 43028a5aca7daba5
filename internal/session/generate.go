package session

import (
	"context"
	"fmt"
	"time"

	"ernie-graphs/internal/charts"
	"ernie-graphs/internal/infra/config"
	"ernie-graphs/internal/infra/log"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"
)

// GeneratorConfig maps the run configuration onto the chart generator
func GeneratorConfig(cfg *config.Config) charts.Config {
	return charts.Config{
		BaseDir:       cfg.Output.BaseDir,
		Charts:        cfg.Charts.Names,
		Windows:       cfg.Charts.Windows,
		SkipExisting:  cfg.Output.SkipExisting,
		VerifyTimeout: cfg.Output.VerifyTimeout,
	}
}

// Generate is one full run: open the session, render every planned chart in
// order, close the session. A connection failure returns before any render.
// The session is closed exactly once whether or not the renders succeed.
func Generate(ctx context.Context, cfg *config.Config, sessOpts []Option, chartOpts ...charts.Option) (rep charts.Report, err error) {
	start := time.Now()

	sess, err := Open(ctx, cfg, sessOpts...)
	if err != nil {
		log.LogError("Failed to open session", zap.Error(err))
		return rep, err
	}
	defer func() {
		if cerr := sess.Close(); cerr != nil {
			err = multierror.Append(err, cerr).ErrorOrNil()
		}
	}()

	gen, err := charts.NewGenerator(GeneratorConfig(cfg), sess.Engine, chartOpts...)
	if err != nil {
		return rep, err
	}

	// an open store is always queried once before the loop; the years are
	// rendered only with charts.year_ranges
	var years []int
	if sess.Store != nil {
		years, err = sess.Store.Years(ctx)
		if err != nil {
			return rep, fmt.Errorf("discover years: %w", err)
		}
		log.LogInfo("Discovered years", zap.Ints("years", years), zap.Bool("rendered", cfg.Charts.YearRanges))
		if !cfg.Charts.YearRanges {
			years = nil
		}
	}

	rep, err = gen.Run(ctx, years)
	if err != nil {
		return rep, err
	}

	log.LogSuccess("Generate finished",
		zap.Int("issued", len(rep.Issued)),
		zap.Int("skipped", len(rep.Skipped)),
		zap.Int64("duration_ms", time.Since(start).Milliseconds()))
	return rep, nil
}
