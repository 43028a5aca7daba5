package session

import (
	"bytes"
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"ernie-graphs/internal/charts"
	"ernie-graphs/internal/infra/config"
	"ernie-graphs/internal/plotting"
	"ernie-graphs/internal/tordir"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
)

type countingEngine struct {
	calls    []plotting.Request
	failAt   int
	closed   int
	closeErr error
}

var errEval = errors.New("eval failed")

func (e *countingEngine) Call(_ context.Context, req plotting.Request) error {
	e.calls = append(e.calls, req)
	if e.failAt > 0 && len(e.calls) == e.failAt {
		return errEval
	}
	return nil
}

func (e *countingEngine) Close() error {
	e.closed++
	return e.closeErr
}

func engineOpener(e *countingEngine) Option {
	return WithEngineOpener(func(context.Context, config.EngineConfig) (plotting.Engine, error) {
		return e, nil
	})
}

func testConfig() *config.Config {
	return &config.Config{
		Output: config.OutputConfig{BaseDir: "/tmp/ernie/"},
		Charts: config.ChartsConfig{Names: []string{charts.NetworkSize}, Windows: []int{30, 90, 180}},
		Engine: config.EngineConfig{Backend: config.BackendRserve, Addr: "localhost:6311"},
	}
}

func clock() charts.Option {
	return charts.WithClock(func() time.Time { return time.Date(2024, 6, 30, 9, 0, 0, 0, time.Local) })
}

func TestGenerate_ClosesOnceAfterLoop(t *testing.T) {
	eng := &countingEngine{}
	rep, err := Generate(context.Background(), testConfig(), []Option{engineOpener(eng)}, clock())
	require.NoError(t, err)
	require.Len(t, rep.Issued, 3)
	require.Len(t, eng.calls, 3)
	require.Equal(t, 1, eng.closed)
}

func TestGenerate_ClosesOnceOnFailure(t *testing.T) {
	eng := &countingEngine{failAt: 1}
	rep, err := Generate(context.Background(), testConfig(), []Option{engineOpener(eng)}, clock())
	require.ErrorIs(t, err, errEval)
	require.Empty(t, rep.Issued)
	require.Len(t, eng.calls, 1)
	require.Equal(t, 1, eng.closed)
}

func TestGenerate_CloseErrorIsReported(t *testing.T) {
	eng := &countingEngine{closeErr: errors.New("broken pipe")}
	_, err := Generate(context.Background(), testConfig(), []Option{engineOpener(eng)}, clock())
	require.Error(t, err)
	require.Contains(t, err.Error(), "broken pipe")
}

func TestGenerate_ConnectFailureIssuesNoRenders(t *testing.T) {
	var opened bool
	open := WithEngineOpener(func(context.Context, config.EngineConfig) (plotting.Engine, error) {
		opened = true
		return nil, errors.New("dial tcp 127.0.0.1:6311: connect: connection refused")
	})

	_, err := Generate(context.Background(), testConfig(), []Option{open}, clock())
	require.Error(t, err)
	require.Contains(t, err.Error(), "connection refused")
	require.True(t, opened)
}

func TestGenerate_RealRserveUnreachable(t *testing.T) {
	cfg := testConfig()
	cfg.Engine.Addr = "127.0.0.1:1"
	cfg.Engine.MaxRetries = 3

	_, err := Generate(context.Background(), cfg, nil, clock())
	require.Error(t, err)
	require.Contains(t, err.Error(), "connect to plotting engine")
}

func TestGenerate_DryRun(t *testing.T) {
	var buf bytes.Buffer
	_, err := Generate(context.Background(), testConfig(), []Option{WithDryRun(&buf)}, clock())
	require.NoError(t, err)
	require.Equal(t,
		"plot_networksize_line('2024-05-31','2024-06-30','/tmp/ernie/62ef0f147a6c62ab25266d753690dd68.png')\n"+
			"plot_networksize_line('2024-04-01','2024-06-30','/tmp/ernie/d385ebcccfb5d1325eeedf6f365339e1.png')\n"+
			"plot_networksize_line('2024-01-02','2024-06-30','/tmp/ernie/b3256776839520abeb65e620c17c7e56.png')\n",
		buf.String())
}

func mockStoreOpener(t *testing.T, setup func(sqlmock.Sqlmock)) (Option, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	setup(mock)
	mock.ExpectClose()
	t.Cleanup(func() { require.NoError(t, mock.ExpectationsWereMet()) })
	return WithStoreOpener(func(context.Context, config.DatabaseConfig) (*tordir.Store, error) {
		return tordir.NewStore(db), nil
	}), mock
}

func TestGenerate_YearRanges(t *testing.T) {
	cfg := testConfig()
	cfg.Charts.Windows = []int{30}
	cfg.Charts.YearRanges = true
	cfg.Database.Enabled = true

	storeOpt, _ := mockStoreOpener(t, func(m sqlmock.Sqlmock) {
		m.ExpectQuery(regexp.QuoteMeta(tordir.YearsQuery)).
			WillReturnRows(sqlmock.NewRows([]string{"date_part"}).AddRow("2024").AddRow("2023"))
	})
	eng := &countingEngine{}

	rep, err := Generate(context.Background(), cfg, []Option{engineOpener(eng), storeOpt}, clock())
	require.NoError(t, err)
	require.Len(t, rep.Issued, 3)
	require.Equal(t, []string{"2023-01-01", "2023-12-31"}, eng.calls[1].Args[:2])
	require.Equal(t, []string{"2024-01-01", "2024-06-30"}, eng.calls[2].Args[:2])
	require.Equal(t, 1, eng.closed)
}

func TestGenerate_YearsIgnoredUnlessEnabled(t *testing.T) {
	cfg := testConfig()
	cfg.Database.Enabled = true

	storeOpt, _ := mockStoreOpener(t, func(m sqlmock.Sqlmock) {
		m.ExpectQuery(regexp.QuoteMeta(tordir.YearsQuery)).
			WillReturnRows(sqlmock.NewRows([]string{"date_part"}).AddRow("2023"))
	})
	eng := &countingEngine{}

	rep, err := Generate(context.Background(), cfg, []Option{engineOpener(eng), storeOpt}, clock())
	require.NoError(t, err)
	require.Len(t, rep.Issued, 3)
	for _, c := range eng.calls {
		require.NotEqual(t, "2023-01-01", c.Args[0])
	}
}

func TestGenerate_YearQueryFailureStopsBeforeLoop(t *testing.T) {
	cfg := testConfig()
	cfg.Database.Enabled = true

	storeOpt, _ := mockStoreOpener(t, func(m sqlmock.Sqlmock) {
		m.ExpectQuery(regexp.QuoteMeta(tordir.YearsQuery)).
			WillReturnError(errors.New(`relation "network_size" does not exist`))
	})
	eng := &countingEngine{}

	_, err := Generate(context.Background(), cfg, []Option{engineOpener(eng), storeOpt}, clock())
	require.Error(t, err)
	require.Contains(t, err.Error(), "discover years")
	require.Empty(t, eng.calls)
	require.Equal(t, 1, eng.closed)
}

func TestOpen_DatabaseFailureReleasesEngine(t *testing.T) {
	cfg := testConfig()
	cfg.Database.Enabled = true
	eng := &countingEngine{}
	failStore := WithStoreOpener(func(context.Context, config.DatabaseConfig) (*tordir.Store, error) {
		return nil, errors.New("password authentication failed")
	})

	_, err := Open(context.Background(), cfg, engineOpener(eng), failStore)
	require.Error(t, err)
	require.Equal(t, 1, eng.closed)
}

func TestSession_CloseIsIdempotent(t *testing.T) {
	eng := &countingEngine{closeErr: errors.New("already gone")}
	s, err := Open(context.Background(), testConfig(), engineOpener(eng))
	require.NoError(t, err)
	require.Nil(t, s.Store)

	first := s.Close()
	require.Error(t, first)
	require.Equal(t, first, s.Close())
	require.Equal(t, 1, eng.closed)
}

func TestOpenEngine_Rscript(t *testing.T) {
	e, err := OpenEngine(context.Background(), config.EngineConfig{Backend: config.BackendRscript, RscriptPath: "Rscript"})
	require.NoError(t, err)
	require.IsType(t, &plotting.RscriptEngine{}, e)
	require.NoError(t, e.Close())

	_, err = OpenEngine(context.Background(), config.EngineConfig{Backend: "julia"})
	require.Error(t, err)
}
