// Package config reads the geometry server settings from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"

	"github.com/creasty/defaults"
	"github.com/joho/godotenv"
	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"geomvalue/pkg/dialect"
	"geomvalue/pkg/value"
)

// Environment variables read by Load.
const (
	EnvRestPort   = "GEOM_REST_PORT"
	EnvFlightPort = "GEOM_FLIGHT_PORT"
	EnvLogLevel   = "GEOM_LOG_LEVEL"
	EnvWireFormat = "GEOM_WIRE_FORMAT"
	EnvDialect    = "GEOM_DIALECT"
	EnvDSN        = "GEOM_DSN"
	EnvDataDir    = "GEOM_DATA_DIR"
	EnvSpillRows  = "GEOM_SPILL_ROWS"
)

type Config struct {
	RestPort   int    `default:"8080"`
	FlightPort int    `default:"50051"`
	LogLevel   string `default:"info"`
	// WireFormat is the native frame encoding, wkb or ewkb.
	WireFormat string `default:"ewkb"`
	// Dialect and DSN select the database behind the feature endpoint. Both may be empty.
	Dialect string
	DSN     string
	// DataDir is where spilled batches are written. Empty means the system temp directory.
	DataDir   string
	SpillRows int64 `default:"1000000"`
}

// Load reads .env files, when present, then the environment on top of the defaults.
// Without paths it looks for .env in the working directory.
func Load(paths ...string) (Config, error) {
	if err := godotenv.Load(paths...); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return Config{}, pkgerrors.Wrap(err, "failed to read env file")
		}
		logrus.WithError(err).Debug("no env file")
	}

	var cfg Config
	if err := defaults.Set(&cfg); err != nil {
		return Config{}, pkgerrors.Wrap(err, "failed to apply config defaults")
	}

	if err := intVar(EnvRestPort, &cfg.RestPort); err != nil {
		return Config{}, err
	}
	if err := intVar(EnvFlightPort, &cfg.FlightPort); err != nil {
		return Config{}, err
	}
	if v, ok := os.LookupEnv(EnvSpillRows); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return Config{}, pkgerrors.Wrapf(err, "invalid %s", EnvSpillRows)
		}
		cfg.SpillRows = n
	}
	stringVar(EnvLogLevel, &cfg.LogLevel)
	stringVar(EnvWireFormat, &cfg.WireFormat)
	stringVar(EnvDialect, &cfg.Dialect)
	stringVar(EnvDSN, &cfg.DSN)
	stringVar(EnvDataDir, &cfg.DataDir)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks every field that has a closed set of values.
func (c Config) Validate() error {
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	if _, err := value.ParseWireFormat(c.WireFormat); err != nil {
		return err
	}
	if c.Dialect != "" {
		if _, err := dialect.ParseFamily(c.Dialect); err != nil {
			return err
		}
	} else if c.DSN != "" {
		return fmt.Errorf("%s is set without %s", EnvDSN, EnvDialect)
	}
	if c.SpillRows <= 0 {
		return fmt.Errorf("%s must be positive, got %d", EnvSpillRows, c.SpillRows)
	}
	return nil
}

// Level is the parsed log level.
func (c Config) Level() logrus.Level {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return level
}

// Wire is the parsed wire format.
func (c Config) Wire() value.WireFormat {
	f, _ := value.ParseWireFormat(c.WireFormat)
	return f
}

// Family is the parsed database family, FamilyUnknown when no database is configured.
func (c Config) Family() dialect.Family {
	if c.Dialect == "" {
		return dialect.FamilyUnknown
	}
	f, _ := dialect.ParseFamily(c.Dialect)
	return f
}

func intVar(key string, dst *int) error {
	v, ok := os.LookupEnv(key)
	if !ok {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return pkgerrors.Wrapf(err, "invalid %s", key)
	}
	*dst = n
	return nil
}

func stringVar(key string, dst *string) {
	if v, ok := os.LookupEnv(key); ok {
		*dst = v
	}
}
