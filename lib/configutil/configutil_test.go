package configutil

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type testConfig struct {
	Name    string   `json:"name" env:"NAME"`
	Port    int      `json:"port" env:"PORT"`
	Timeout Duration `json:"timeout" env:"TIMEOUT"`
	Nested  struct {
		Enabled bool `json:"enabled"`
	} `json:"nested"`
}

func writeFile(t *testing.T, path, contents string) {
	t.Helper()
	err := os.WriteFile(path, []byte(contents), 0644)
	if err != nil {
		t.Fatal(err)
	}
}

func TestReadConfigMergesLocal(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "config.json5"), `{
		// comments are allowed
		name: 'base',
		port: 8000,
		timeout: '2s',
	}`)
	writeFile(t, filepath.Join(dir, "config.local.json5"), `{
		port: 9000,
		nested: { enabled: true },
	}`)

	cfg, err := ReadConfig[testConfig](filepath.Join(dir, "config.json5"))
	require.NoError(t, err)
	require.Equal(t, "base", cfg.Name)
	require.Equal(t, 9000, cfg.Port)
	require.Equal(t, 2*time.Second, cfg.Timeout.Duration)
	require.True(t, cfg.Nested.Enabled)
}

func TestReadConfigMissing(t *testing.T) {
	_, err := ReadConfig[testConfig](filepath.Join(t.TempDir(), "config.json5"))
	require.True(t, os.IsNotExist(err))
}

func TestLoadDefaultsAndEnv(t *testing.T) {
	dir := t.TempDir()
	defaults := testConfig{Name: "default", Port: 1, Timeout: Millis(5000)}

	t.Setenv(EnvPrefix+"PORT", "4242")
	t.Setenv(EnvPrefix+"TIMEOUT", "750")

	cfg, err := Load(filepath.Join(dir, "config.json5"), defaults)
	require.NoError(t, err)
	require.Equal(t, "default", cfg.Name)
	require.Equal(t, 4242, cfg.Port)
	require.Equal(t, 750*time.Millisecond, cfg.Timeout.Duration)
}

func TestDurationForms(t *testing.T) {
	cases := []struct {
		input  string
		expect time.Duration
	}{
		{input: `"1.5s"`, expect: 1500 * time.Millisecond},
		{input: `'250ms'`, expect: 250 * time.Millisecond},
		{input: `5000`, expect: 5 * time.Second},
		{input: `null`, expect: 0},
	}
	for _, test := range cases {
		var d Duration
		err := d.UnmarshalJSON([]byte(test.input))
		require.NoError(t, err, test.input)
		require.Equal(t, test.expect, d.Duration, test.input)
	}

	var bad Duration
	require.Error(t, bad.UnmarshalJSON([]byte(`"soon"`)))
}
