package config

import (
	"flag"
	"fmt"
	"io"
)

// CLIFlags holds optional command-line overrides. A nil pointer means the
// flag was not set on the command line.
type CLIFlags struct {
	ConfigPath *string
	Port       *string
	LogLevel   *string
	DSN        *string
	NatsURL    *string
}

// ParseFlags parses command-line arguments into CLIFlags. Unknown flags are
// an error.
func ParseFlags(args []string) (CLIFlags, error) {
	fs := flag.NewFlagSet("sheetgenai", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configLong  = fs.String("config", "", "path to YAML config file")
		configShort = fs.String("c", "", "path to YAML config file (shorthand)")
		portLong    = fs.String("port", "", "HTTP listen port")
		portShort   = fs.String("p", "", "HTTP listen port (shorthand)")
		logLevel    = fs.String("log-level", "", "log level: debug, info, warn, error")
		dsn         = fs.String("dsn", "", "PostgreSQL DSN for the postgres KV backend")
		natsURL     = fs.String("nats-url", "", "NATS server URL")
	)

	if err := fs.Parse(args); err != nil {
		return CLIFlags{}, fmt.Errorf("parse flags: %w", err)
	}

	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })

	var flags CLIFlags
	if set["config"] {
		flags.ConfigPath = configLong
	}
	if set["c"] {
		flags.ConfigPath = configShort
	}
	if set["port"] {
		flags.Port = portLong
	}
	if set["p"] {
		flags.Port = portShort
	}
	if set["log-level"] {
		flags.LogLevel = logLevel
	}
	if set["dsn"] {
		flags.DSN = dsn
	}
	if set["nats-url"] {
		flags.NatsURL = natsURL
	}
	return flags, nil
}

// LoadWithCLI returns a Config using the hierarchy:
// defaults < YAML < ENV < CLI flags. It also returns the resolved YAML path
// so callers can reload from the same file later.
func LoadWithCLI(flags CLIFlags) (*Config, string, error) {
	path := DefaultConfigFile
	if flags.ConfigPath != nil {
		path = *flags.ConfigPath
	}

	cfg := Defaults()

	if err := loadYAML(&cfg, path); err != nil {
		return nil, "", fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)
	applyCLI(&cfg, flags)

	if err := validate(&cfg); err != nil {
		return nil, "", fmt.Errorf("config validate: %w", err)
	}

	return &cfg, path, nil
}

// applyCLI overlays set CLI flags onto cfg.
func applyCLI(cfg *Config, flags CLIFlags) {
	if flags.Port != nil {
		cfg.Server.Port = *flags.Port
	}
	if flags.LogLevel != nil {
		cfg.Logging.Level = *flags.LogLevel
	}
	if flags.DSN != nil {
		cfg.Postgres.DSN = *flags.DSN
	}
	if flags.NatsURL != nil {
		cfg.NATS.URL = *flags.NatsURL
	}
}
