package charts

import (
	"context"
	"fmt"
	"time"

	"ernie-graphs/internal/infra/fs"
	"ernie-graphs/internal/infra/log"
	"ernie-graphs/internal/plotting"

	"go.uber.org/zap"
)

type Config struct {
	BaseDir string
	Charts  []string
	Windows []int

	// SkipExisting skips specs whose PNG is already on local disk
	SkipExisting bool
	// VerifyTimeout > 0 waits for each PNG to show up after its render
	VerifyTimeout time.Duration
}

type Generator struct {
	cfg    Config
	engine plotting.Engine
	now    func() time.Time
}

type Option func(*Generator)

// WithClock replaces time.Now, mainly for tests
func WithClock(now func() time.Time) Option {
	return func(g *Generator) { g.now = now }
}

func NewGenerator(cfg Config, engine plotting.Engine, opts ...Option) (*Generator, error) {
	if cfg.BaseDir == "" {
		return nil, fmt.Errorf("charts: base directory is required")
	}
	if len(cfg.Charts) == 0 {
		cfg.Charts = []string{NetworkSize}
	}
	for _, c := range cfg.Charts {
		if !KnownChart(c) {
			return nil, fmt.Errorf("charts: %w: %q", ErrUnknownChart, c)
		}
	}
	for _, w := range cfg.Windows {
		if w <= 0 {
			return nil, fmt.Errorf("charts: lookback window must be positive, got %d", w)
		}
	}
	if engine == nil {
		return nil, fmt.Errorf("charts: engine is required")
	}

	g := &Generator{cfg: cfg, engine: engine, now: time.Now}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Plan lists the renders for today: every chart over every lookback window in
// configured order, then over each of years.
func (g *Generator) Plan(years []int) []Spec {
	today := Today(g.now())
	specs := make([]Spec, 0, len(g.cfg.Charts)*(len(g.cfg.Windows)+len(years)))
	for _, chart := range g.cfg.Charts {
		for _, w := range g.cfg.Windows {
			r := RangeFor(today, w)
			specs = append(specs, Spec{Chart: chart, Range: r, Path: CachePath(g.cfg.BaseDir, chart, r), Window: w})
		}
		for _, y := range years {
			r, ok := YearRange(today, y)
			if !ok {
				continue
			}
			specs = append(specs, Spec{Chart: chart, Range: r, Path: CachePath(g.cfg.BaseDir, chart, r)})
		}
	}
	return specs
}

// Report says what a run did
type Report struct {
	Issued  []Spec
	Skipped []Spec
}

// Run renders the plan in order and stops at the first failure. Renders issued
// before the failure stay issued; the error names the spec that failed.
func (g *Generator) Run(ctx context.Context, years []int) (Report, error) {
	var rep Report
	for _, spec := range g.Plan(years) {
		if err := ctx.Err(); err != nil {
			return rep, err
		}

		if g.cfg.SkipExisting && fs.Exists(spec.Path) {
			log.LogInfo("Chart already rendered, skipping", zap.String("spec", spec.String()), zap.String("path", spec.Path))
			rep.Skipped = append(rep.Skipped, spec)
			continue
		}

		if err := g.Render(ctx, spec); err != nil {
			return rep, err
		}
		rep.Issued = append(rep.Issued, spec)
	}
	return rep, nil
}

// Render issues a single spec
func (g *Generator) Render(ctx context.Context, spec Spec) error {
	req := plotting.Request{
		Function: FunctionName(spec.Chart),
		Args:     []string{FormatDate(spec.Range.Start), FormatDate(spec.Range.End), spec.Path},
	}

	start := time.Now()
	if err := g.engine.Call(ctx, req); err != nil {
		log.LogError("Render failed", zap.String("spec", spec.String()), zap.Error(err))
		return fmt.Errorf("render %s: %w", spec, err)
	}

	if g.cfg.VerifyTimeout > 0 {
		if err := fs.WaitForFile(ctx, spec.Path, g.cfg.VerifyTimeout); err != nil {
			return fmt.Errorf("render %s: %w", spec, err)
		}
	}

	log.LogSuccess("Chart rendered",
		zap.String("spec", spec.String()),
		zap.String("path", spec.Path),
		zap.Int64("duration_ms", time.Since(start).Milliseconds()))
	return nil
}

// RenderRange renders chart over an explicit range
func (g *Generator) RenderRange(ctx context.Context, chart string, r DateRange) (Spec, error) {
	if !KnownChart(chart) {
		return Spec{}, fmt.Errorf("charts: %w: %q", ErrUnknownChart, chart)
	}
	if r.End.Before(r.Start) {
		return Spec{}, fmt.Errorf("charts: range end %s is before start %s", FormatDate(r.End), FormatDate(r.Start))
	}
	spec := Spec{Chart: chart, Range: r, Path: CachePath(g.cfg.BaseDir, chart, r)}
	return spec, g.Render(ctx, spec)
}
