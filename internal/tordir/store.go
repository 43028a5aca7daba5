// Package tordir reads from the tordir relay statistics database.
package tordir

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"
	"time"

	"ernie-graphs/internal/infra/log"

	"github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
)

const (
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"

	connMaxLifetime = 5 * time.Minute
	maxOpenConns    = 2
)

// YearsQuery lists every year that has network size data
const YearsQuery = "SELECT EXTRACT(YEAR FROM DATE(date)) FROM network_size GROUP BY EXTRACT(YEAR FROM DATE(date))"

type Config struct {
	Driver   string
	Host     string
	Port     int // 0 = driver default
	User     string
	Password string
	Name     string
}

// DB is the part of *sql.DB the store uses
type DB interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	PingContext(ctx context.Context) error
	Close() error
}

type Store struct {
	db DB
}

func NewStore(db DB) *Store {
	return &Store{db: db}
}

// Open connects and pings the database
func Open(ctx context.Context, cfg Config) (*Store, error) {
	driver, dsn, err := dataSource(cfg)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("sql.Open: %w", err)
	}
	db.SetConnMaxLifetime(connMaxLifetime)
	db.SetMaxOpenConns(maxOpenConns)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to %s database %s on %s: %w", cfg.Driver, cfg.Name, cfg.Host, err)
	}

	log.LogInfo("Connected to tordir database",
		zap.String("driver", cfg.Driver),
		zap.String("host", cfg.Host),
		zap.String("database", cfg.Name))
	return NewStore(db), nil
}

// dataSource returns the database/sql driver name and DSN for cfg
func dataSource(cfg Config) (driver, dsn string, err error) {
	switch cfg.Driver {
	case DriverPostgres, "":
		parts := []string{
			"host=" + pgQuote(cfg.Host),
			"user=" + pgQuote(cfg.User),
			"password=" + pgQuote(cfg.Password),
			"database=" + pgQuote(cfg.Name),
		}
		if cfg.Port > 0 {
			parts = append(parts, "port="+strconv.Itoa(cfg.Port))
		}
		return "pgx", strings.Join(parts, " "), nil

	case DriverMySQL:
		mc := mysql.NewConfig()
		mc.User = cfg.User
		mc.Passwd = cfg.Password
		mc.DBName = cfg.Name
		mc.Net = "tcp"
		port := cfg.Port
		if port == 0 {
			port = 3306
		}
		mc.Addr = net.JoinHostPort(cfg.Host, strconv.Itoa(port))
		return "mysql", mc.FormatDSN(), nil
	}
	return "", "", fmt.Errorf("unsupported database driver %q", cfg.Driver)
}

// pgQuote quotes a keyword/value connection string value
func pgQuote(s string) string {
	if s != "" && !strings.ContainsAny(s, ` '\`) {
		return s
	}
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `'`, `\'`)
	return "'" + s + "'"
}

// Years returns the distinct years in network_size, ascending. Rows that are
// NULL or not a number are logged and skipped.
func (s *Store) Years(ctx context.Context) ([]int, error) {
	rows, err := s.db.QueryContext(ctx, YearsQuery)
	if err != nil {
		return nil, fmt.Errorf("query years: %w", err)
	}
	defer rows.Close()

	var years []int
	for rows.Next() {
		// postgres returns numeric, mysql an integer; both scan as text
		var raw sql.NullString
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan year: %w", err)
		}
		if !raw.Valid {
			log.LogWarn("Skipping NULL year in network_size")
			continue
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(raw.String), 64)
		if err != nil {
			log.LogWarn("Skipping malformed year in network_size", zap.String("value", raw.String))
			continue
		}
		years = append(years, int(f))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read years: %w", err)
	}

	sort.Ints(years)
	return years, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	return s.db.Close()
}
