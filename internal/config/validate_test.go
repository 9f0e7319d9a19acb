package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateFileReportsAllViolations(t *testing.T) {
	// Three independent problems; the report must name all three, not stop
	// at the first the way startup resolution does.
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"redis": {"url": "http://wrong", "db": 42},
		"server": {"log_level": "LOUD"}
	}`), 0o644))

	report, err := ValidateFile(path)
	require.NoError(t, err)
	require.False(t, report.OK())
	require.Len(t, report.Violations, 3)

	paths := make([]string, 0, len(report.Violations))
	for _, v := range report.Violations {
		paths = append(paths, v.Path)
	}
	assert.ElementsMatch(t, []string{"redis.url", "redis.db", "server.log_level"}, paths)
}

func TestValidateFileCleanConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"redis": {"db": 1}}`), 0o644))

	report, err := ValidateFile(path)
	require.NoError(t, err)
	assert.True(t, report.OK())
	assert.Equal(t, "configuration is valid", report.String())
}

func TestValidateFileMissingFile(t *testing.T) {
	_, err := ValidateFile(filepath.Join(t.TempDir(), "nope.json"))
	assert.Error(t, err)
}

func TestCheckFragmentMissingRequiredField(t *testing.T) {
	f := defaults()
	// Simulate a fragment that lost a required section key.
	delete(f["server"].(map[string]interface{}), "version")

	violations := checkFragment(f)
	require.Len(t, violations, 1)
	assert.Equal(t, "server.version", violations[0].Path)
	assert.Equal(t, "required field is missing", violations[0].Constraint)
}

func TestWriteSampleConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, WriteSampleConfig(path, false))

	// The emitted sample must itself validate cleanly.
	report, err := ValidateFile(path)
	require.NoError(t, err)
	assert.True(t, report.OK())

	// Refuses to overwrite without force.
	assert.Error(t, WriteSampleConfig(path, false))
	assert.NoError(t, WriteSampleConfig(path, true))
}
