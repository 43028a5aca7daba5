package config

// Run configuration for ernie-graphs
// Layered the same way for every command:
// 1. defaults
// 2. config.yaml (./ or /etc/ernie-graphs, or --config)
// 3. .env file
// 4. environment (ERNIE_* plus the short aliases below)
// 5. command-line flags

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	BackendRserve  = "rserve"
	BackendRscript = "rscript"

	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
)

type Config struct {
	Output   OutputConfig   `mapstructure:"output"`
	Charts   ChartsConfig   `mapstructure:"charts"`
	Engine   EngineConfig   `mapstructure:"engine"`
	Database DatabaseConfig `mapstructure:"database"`
	Log      LogConfig      `mapstructure:"log"`
}

// OutputConfig - where the engine writes PNGs
type OutputConfig struct {
	BaseDir       string        `mapstructure:"base_dir"`
	SkipExisting  bool          `mapstructure:"skip_existing"`  // skip renders whose PNG is already on disk
	VerifyTimeout time.Duration `mapstructure:"verify_timeout"` // 0 disables waiting for the PNG after a render
}

// ChartsConfig - what gets rendered. Lists are filled by hand so that
// comma separated env values and YAML sequences both work.
type ChartsConfig struct {
	Names      []string `mapstructure:"-"`
	Windows    []int    `mapstructure:"-"`
	YearRanges bool     `mapstructure:"year_ranges"`
}

// EngineConfig - the R plotting engine
type EngineConfig struct {
	Backend     string        `mapstructure:"backend"`
	Addr        string        `mapstructure:"addr"`
	Timeout     time.Duration `mapstructure:"timeout"`
	MaxRetries  int           `mapstructure:"max_retries"`
	RateLimit   float64       `mapstructure:"rate_limit"` // renders per second, 0 = unlimited
	RscriptPath string        `mapstructure:"rscript_path"`
	Sources     []string      `mapstructure:"-"` // R files sourced before each Rscript call
}

// DatabaseConfig - the tordir database used for year discovery
type DatabaseConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Driver   string `mapstructure:"driver"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
}

type LogConfig struct {
	Dir   string `mapstructure:"dir"`
	Level string `mapstructure:"level"`
}

// flagKeys maps command-line flag names to config keys
var flagKeys = map[string]string{
	"base-dir":       "output.base_dir",
	"skip-existing":  "output.skip_existing",
	"verify-timeout": "output.verify_timeout",
	"charts":         "charts.names",
	"windows":        "charts.windows",
	"year-ranges":    "charts.year_ranges",
	"engine":         "engine.backend",
	"rserve-addr":    "engine.addr",
	"engine-timeout": "engine.timeout",
	"max-retries":    "engine.max_retries",
	"rate-limit":     "engine.rate_limit",
	"rscript":        "engine.rscript_path",
	"r-source":       "engine.sources",
	"db":             "database.enabled",
	"db-driver":      "database.driver",
	"db-host":        "database.host",
	"db-port":        "database.port",
	"db-user":        "database.user",
	"db-password":    "database.password",
	"db-name":        "database.name",
	"log-dir":        "log.dir",
	"log-level":      "log.level",
}

// RegisterFlags adds every config flag to fs. Defaults live in setDefaults;
// flag defaults are only shown in --help.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("config", "", "Path to a config file (yaml, toml or json)")

	fs.String("base-dir", "/tmp/ernie/", "Directory the engine writes PNGs into (env: ERNIE_OUTPUT_BASE_DIR)")
	fs.Bool("skip-existing", false, "Skip charts whose PNG already exists (env: ERNIE_OUTPUT_SKIP_EXISTING)")
	fs.Duration("verify-timeout", 0, "Wait up to this long for each PNG to appear, 0 disables (env: ERNIE_OUTPUT_VERIFY_TIMEOUT)")

	fs.StringSlice("charts", []string{"networksize"}, "Charts to render (env: ERNIE_CHARTS_NAMES)")
	fs.IntSlice("windows", []int{30, 90, 180}, "Lookback windows in days (env: ERNIE_CHARTS_WINDOWS)")
	fs.Bool("year-ranges", false, "Also render one chart per year found in the database (env: ERNIE_CHARTS_YEAR_RANGES)")

	fs.String("engine", BackendRserve, "Plotting backend: rserve or rscript (env: ERNIE_ENGINE_BACKEND)")
	fs.String("rserve-addr", "localhost:6311", "Rserve address (env: RSERVE_ADDR)")
	fs.Duration("engine-timeout", 0, "Timeout per render call, 0 waits forever (env: ERNIE_ENGINE_TIMEOUT)")
	fs.Int("max-retries", 0, "Retries for renders that fail at the transport level (env: ERNIE_ENGINE_MAX_RETRIES)")
	fs.Float64("rate-limit", 0, "Maximum renders per second, 0 is unlimited (env: ERNIE_ENGINE_RATE_LIMIT)")
	fs.String("rscript", "Rscript", "Rscript binary for the rscript backend (env: ERNIE_ENGINE_RSCRIPT_PATH)")
	fs.StringSlice("r-source", nil, "R files sourced before each Rscript call (env: ERNIE_ENGINE_SOURCES)")

	fs.Bool("db", false, "Connect to the tordir database (env: ERNIE_DATABASE_ENABLED)")
	fs.String("db-driver", DriverPostgres, "Database driver: postgres or mysql (env: DB_DRIVER)")
	fs.String("db-host", "localhost", "Database host (env: DB_HOST)")
	fs.Int("db-port", 0, "Database port, 0 uses the driver default (env: DB_PORT)")
	fs.String("db-user", "ernie", "Database user (env: DB_USER)")
	fs.String("db-password", "", "Database password (env: DB_PASSWORD)")
	fs.String("db-name", "tordir", "Database name (env: DB_NAME)")

	fs.String("log-dir", "logs", "Log directory (env: ERNIE_LOG_DIR)")
	fs.String("log-level", "info", "Log level (env: ERNIE_LOG_LEVEL)")
}

// Load builds the configuration. flags may be nil.
func Load(flags *pflag.FlagSet) (*Config, error) {
	// .env only fills variables that are not already set
	_ = godotenv.Load(".env")

	v := viper.New()
	setDefaults(v)

	configFile := ""
	if flags != nil {
		if f := flags.Lookup("config"); f != nil {
			configFile = f.Value.String()
		}
	}
	if err := readConfigFile(v, configFile); err != nil {
		return nil, err
	}

	v.SetEnvPrefix("ERNIE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setupEnvAliases(v)

	if flags != nil {
		if err := bindFlags(v, flags); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	var err error
	cfg.Charts.Names = stringList(v.Get("charts.names"))
	if cfg.Charts.Windows, err = intList(v.Get("charts.windows")); err != nil {
		return nil, fmt.Errorf("charts.windows: %w", err)
	}
	cfg.Engine.Sources = stringList(v.Get("engine.sources"))

	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func readConfigFile(v *viper.Viper, path string) error {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		return nil
	}

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/ernie-graphs")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return nil
}

func setupEnvAliases(v *viper.Viper) {
	v.BindEnv("engine.addr", "ERNIE_ENGINE_ADDR", "RSERVE_ADDR")
	v.BindEnv("database.driver", "ERNIE_DATABASE_DRIVER", "DB_DRIVER")
	v.BindEnv("database.host", "ERNIE_DATABASE_HOST", "DB_HOST")
	v.BindEnv("database.port", "ERNIE_DATABASE_PORT", "DB_PORT")
	v.BindEnv("database.user", "ERNIE_DATABASE_USER", "DB_USER")
	v.BindEnv("database.password", "ERNIE_DATABASE_PASSWORD", "DB_PASSWORD")
	v.BindEnv("database.name", "ERNIE_DATABASE_NAME", "DB_NAME")
}

func setDefaults(v *viper.Viper) {
	// Output
	v.SetDefault("output.base_dir", "/tmp/ernie/")
	v.SetDefault("output.skip_existing", false)
	v.SetDefault("output.verify_timeout", "0s")

	// Charts
	v.SetDefault("charts.names", []string{"networksize"})
	v.SetDefault("charts.windows", []int{30, 90, 180})
	v.SetDefault("charts.year_ranges", false)

	// Engine
	v.SetDefault("engine.backend", BackendRserve)
	v.SetDefault("engine.addr", "localhost:6311")
	v.SetDefault("engine.timeout", "0s")
	v.SetDefault("engine.max_retries", 0)
	v.SetDefault("engine.rate_limit", 0.0)
	v.SetDefault("engine.rscript_path", "Rscript")
	v.SetDefault("engine.sources", []string{})

	// Database
	v.SetDefault("database.enabled", false)
	v.SetDefault("database.driver", DriverPostgres)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 0)
	v.SetDefault("database.user", "ernie")
	v.SetDefault("database.password", "")
	v.SetDefault("database.name", "tordir")

	// Log
	v.SetDefault("log.dir", "logs")
	v.SetDefault("log.level", "info")
}

func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	for name, key := range flagKeys {
		f := flags.Lookup(name)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("failed to bind flag --%s: %w", name, err)
		}
	}
	return nil
}

// stringList accepts a YAML sequence, a []string or a comma separated string
func stringList(raw interface{}) []string {
	var parts []string
	switch val := raw.(type) {
	case nil:
		return nil
	case string:
		parts = strings.Split(val, ",")
	case []string:
		parts = val
	case []interface{}:
		for _, item := range val {
			parts = append(parts, fmt.Sprint(item))
		}
	default:
		parts = []string{fmt.Sprint(val)}
	}

	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(strings.Trim(strings.TrimSpace(p), "[]"))
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}

func intList(raw interface{}) ([]int, error) {
	switch val := raw.(type) {
	case []int:
		return val, nil
	case int:
		return []int{val}, nil
	}
	items := stringList(raw)
	result := make([]int, 0, len(items))
	for _, item := range items {
		n, err := strconv.Atoi(item)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q", item)
		}
		result = append(result, n)
	}
	return result, nil
}

func validateConfig(cfg *Config) error {
	if strings.TrimSpace(cfg.Output.BaseDir) == "" {
		return fmt.Errorf("output.base_dir is required")
	}
	if cfg.Output.VerifyTimeout < 0 {
		return fmt.Errorf("output.verify_timeout must not be negative")
	}

	if len(cfg.Charts.Names) == 0 {
		return fmt.Errorf("charts.names must list at least one chart")
	}
	if len(cfg.Charts.Windows) == 0 && !cfg.Charts.YearRanges {
		return fmt.Errorf("charts.windows must list at least one lookback window")
	}
	for _, w := range cfg.Charts.Windows {
		if w <= 0 {
			return fmt.Errorf("charts.windows: lookback window must be positive, got %d", w)
		}
	}
	if cfg.Charts.YearRanges && !cfg.Database.Enabled {
		return fmt.Errorf("charts.year_ranges needs database.enabled")
	}

	switch cfg.Engine.Backend {
	case BackendRserve:
		if cfg.Engine.Addr == "" {
			return fmt.Errorf("engine.addr is required for the rserve backend")
		}
	case BackendRscript:
	default:
		return fmt.Errorf("engine.backend must be %q or %q, got %q", BackendRserve, BackendRscript, cfg.Engine.Backend)
	}
	if cfg.Engine.MaxRetries < 0 {
		return fmt.Errorf("engine.max_retries must not be negative")
	}
	if cfg.Engine.RateLimit < 0 {
		return fmt.Errorf("engine.rate_limit must not be negative")
	}
	if cfg.Engine.Timeout < 0 {
		return fmt.Errorf("engine.timeout must not be negative")
	}

	if cfg.Database.Enabled {
		switch cfg.Database.Driver {
		case DriverPostgres, DriverMySQL:
		default:
			return fmt.Errorf("database.driver must be %q or %q, got %q", DriverPostgres, DriverMySQL, cfg.Database.Driver)
		}
		if cfg.Database.Name == "" {
			return fmt.Errorf("database.name is required")
		}
	}
	return nil
}
