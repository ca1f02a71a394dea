package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/msssg/internal/errors"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadFrom(viper.New())
	require.NoError(t, err)

	assert.Equal(t, "src/links.json", cfg.Build.Manifest)
	assert.Equal(t, "www", cfg.Build.Output)
	assert.Equal(t, ".msssg", cfg.Build.CacheDir)
	assert.Equal(t, 100000, cfg.Build.InlineThreshold)
	assert.Equal(t, []string{"gzip", "deflate", "br", "zstd"}, cfg.Build.Encodings)
	assert.Positive(t, cfg.Build.Workers)

	assert.Equal(t, []string{"image/png", "image/jpeg", "image/webp"}, cfg.Graphics.Formats)
	assert.Equal(t, 100, cfg.Graphics.StepWidth)
	assert.Equal(t, 1200, cfg.Graphics.FallbackWidth)
	assert.Equal(t, 4000, cfg.Graphics.MaxWidth)
	assert.Equal(t, "cwebp", cfg.Graphics.Encoders.CWebP)

	assert.Equal(t, 300*time.Millisecond, cfg.Watch.Debounce)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".msssg.yml")
	content := `
build:
  manifest: site/links.yml
  output: dist
  cache_dir: .cache/msssg
  workers: 3
  encodings: [gzip, br]
  inline_threshold: 2048
graphics:
  formats: [image/png, image/jpeg]
  step_width: 200
  fallback_width: 800
  max_width: 1600
watch:
  debounce: 1s
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	v := viper.New()
	v.SetConfigFile(path)
	require.NoError(t, v.ReadInConfig())

	cfg, err := LoadFrom(v)
	require.NoError(t, err)

	assert.Equal(t, "site/links.yml", cfg.Build.Manifest)
	assert.Equal(t, "dist", cfg.Build.Output)
	assert.Equal(t, ".cache/msssg", cfg.Build.CacheDir)
	assert.Equal(t, 3, cfg.Build.Workers)
	assert.Equal(t, []string{"gzip", "br"}, cfg.Build.Encodings)
	assert.Equal(t, 2048, cfg.Build.InlineThreshold)
	assert.Equal(t, []string{"image/png", "image/jpeg"}, cfg.Graphics.Formats)
	assert.Equal(t, 800, cfg.Graphics.FallbackWidth)
	assert.Equal(t, time.Second, cfg.Watch.Debounce)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown encoding", func(c *Config) { c.Build.Encodings = []string{"lzma"} }},
		{"duplicate encoding", func(c *Config) { c.Build.Encodings = []string{"gzip", "gzip"} }},
		{"empty manifest", func(c *Config) { c.Build.Manifest = "" }},
		{"negative threshold", func(c *Config) { c.Build.InlineThreshold = -1 }},
		{"zero step", func(c *Config) { c.Graphics.StepWidth = 0 }},
		{"max not multiple of step", func(c *Config) { c.Graphics.MaxWidth = 4050 }},
		{"fallback not multiple of step", func(c *Config) { c.Graphics.FallbackWidth = 1250 }},
		{"fallback beyond max", func(c *Config) { c.Graphics.FallbackWidth = 5000 }},
		{"unknown format", func(c *Config) { c.Graphics.Formats = []string{"image/bmp"} }},
		{"negative debounce", func(c *Config) { c.Watch.Debounce = -time.Second }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			err := Validate(cfg)
			require.Error(t, err)
			assert.True(t, errors.IsConfigError(err))
		})
	}

	assert.NoError(t, Validate(Default()))
}
