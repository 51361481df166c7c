package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"geomvalue/pkg/dialect"
	"geomvalue/pkg/value"
)

func clearEnv(t *testing.T) {
	for _, key := range []string{EnvRestPort, EnvFlightPort, EnvLogLevel, EnvWireFormat, EnvDialect, EnvDSN, EnvDataDir, EnvSpillRows} {
		if old, ok := os.LookupEnv(key); ok {
			os.Unsetenv(key)
			t.Cleanup(func() { os.Setenv(key, old) })
		}
	}
}

func TestLoad(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		clearEnv(t)

		cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
		require.NoError(t, err)

		assert.Equal(t, 8080, cfg.RestPort)
		assert.Equal(t, 50051, cfg.FlightPort)
		assert.Equal(t, logrus.InfoLevel, cfg.Level())
		assert.Equal(t, value.WireEWKB, cfg.Wire())
		assert.Equal(t, dialect.FamilyUnknown, cfg.Family())
		assert.Equal(t, int64(1000000), cfg.SpillRows)
	})

	t.Run("environment overrides", func(t *testing.T) {
		clearEnv(t)
		t.Setenv(EnvRestPort, "9090")
		t.Setenv(EnvWireFormat, "wkb")
		t.Setenv(EnvDialect, "postgis")
		t.Setenv(EnvDSN, "postgres://localhost/gis")
		t.Setenv(EnvLogLevel, "debug")

		cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
		require.NoError(t, err)

		assert.Equal(t, 9090, cfg.RestPort)
		assert.Equal(t, value.WireWKB, cfg.Wire())
		assert.Equal(t, dialect.FamilyPostgres, cfg.Family())
		assert.Equal(t, logrus.DebugLevel, cfg.Level())
	})

	t.Run("env file", func(t *testing.T) {
		clearEnv(t)
		path := filepath.Join(t.TempDir(), ".env")
		require.NoError(t, os.WriteFile(path, []byte("GEOM_FLIGHT_PORT=6000\nGEOM_DATA_DIR=/tmp/geom\n"), 0o600))
		t.Cleanup(func() {
			os.Unsetenv(EnvFlightPort)
			os.Unsetenv(EnvDataDir)
		})

		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, 6000, cfg.FlightPort)
		assert.Equal(t, "/tmp/geom", cfg.DataDir)
	})

	t.Run("invalid values", func(t *testing.T) {
		cases := map[string]string{
			EnvRestPort:   "http",
			EnvWireFormat: "twkb",
			EnvLogLevel:   "loud",
			EnvDialect:    "db2",
			EnvSpillRows:  "0",
		}
		for key, v := range cases {
			t.Run(key, func(t *testing.T) {
				clearEnv(t)
				t.Setenv(key, v)

				_, err := Load(filepath.Join(t.TempDir(), "missing.env"))
				assert.Error(t, err)
			})
		}
	})

	t.Run("dsn without dialect", func(t *testing.T) {
		clearEnv(t)
		t.Setenv(EnvDSN, "postgres://localhost/gis")

		_, err := Load(filepath.Join(t.TempDir(), "missing.env"))
		assert.Error(t, err)
	})
}
