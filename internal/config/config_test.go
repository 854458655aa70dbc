package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/googleinterns/cros-hummingbird/pkg/spec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	t.Setenv(EnvDBPath, "")

	c, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), c)
	assert.Equal(t, spec.Grade(""), c.ParsedGrade())
}

func TestLoadFile(t *testing.T) {
	t.Setenv(EnvDBPath, "")
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := "db_path: /var/lib/hb.db\nformat: rigol\nvoltage: 1.8\ngrade: fast\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/hb.db", c.DBPath)
	assert.Equal(t, "rigol", c.Format)
	assert.Equal(t, 1.8, c.Voltage)
	assert.Equal(t, spec.Fast, c.ParsedGrade())
	assert.Equal(t, "reports", c.ReportDir, "unset fields take defaults")
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv(EnvDBPath, "/tmp/override.db")
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("db_path: /var/lib/hb.db\n"), 0o644))

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/override.db", c.DBPath)
}

func TestLoadInvalid(t *testing.T) {
	t.Setenv(EnvDBPath, "")
	tests := []struct {
		name    string
		content string
	}{
		{"malformed", "format: [csv\n"},
		{"unknown format", "format: wav\n"},
		{"unknown grade", "grade: ultra\n"},
		{"negative voltage", "voltage: -3.3\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0o644))
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

func TestSaveRoundTrip(t *testing.T) {
	t.Setenv(EnvDBPath, "")
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	want := Default()
	want.Voltage = 3.3
	want.Grade = "fast-plus"
	require.NoError(t, want.Save(path))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}
