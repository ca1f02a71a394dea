// Package config provides configuration management for msssg using Viper for
// loading from files, environment variables, and command-line flags.
//
// The configuration system supports a .msssg.yml file, environment variable
// overrides with the MSSSG_ prefix, and validation. It covers the build
// pipeline (manifest, output bundle, caches, worker count, encodings), the
// graphic renderer (formats, width steps, external encoders) and watch mode.
package config

import (
	"runtime"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	LogLevel  string         `yaml:"log_level" mapstructure:"log_level"`
	LogFormat string         `yaml:"log_format" mapstructure:"log_format"`
	Build     BuildConfig    `yaml:"build" mapstructure:"build"`
	Graphics  GraphicsConfig `yaml:"graphics" mapstructure:"graphics"`
	Watch     WatchConfig    `yaml:"watch" mapstructure:"watch"`
}

type BuildConfig struct {
	// Manifest is the path of the site manifest (YAML or JSON).
	Manifest string `yaml:"manifest" mapstructure:"manifest"`
	// Root is the directory asset ids are made relative to.
	Root string `yaml:"root" mapstructure:"root"`
	// Output is the bundle directory; it is wiped at the start of a build.
	Output string `yaml:"output" mapstructure:"output"`
	// CacheDir holds the cross-build history and render caches.
	CacheDir string `yaml:"cache_dir" mapstructure:"cache_dir"`
	// Runtime is copied into the bundle as main.<ext> when set.
	Runtime         string   `yaml:"runtime" mapstructure:"runtime"`
	Workers         int      `yaml:"workers" mapstructure:"workers"`
	Encodings       []string `yaml:"encodings" mapstructure:"encodings"`
	InlineThreshold int      `yaml:"inline_threshold" mapstructure:"inline_threshold"`
	// Report, when set, is the path of an HTML build report.
	Report string `yaml:"report" mapstructure:"report"`
}

type GraphicsConfig struct {
	Formats       []string       `yaml:"formats" mapstructure:"formats"`
	StepWidth     int            `yaml:"step_width" mapstructure:"step_width"`
	FallbackWidth int            `yaml:"fallback_width" mapstructure:"fallback_width"`
	MaxWidth      int            `yaml:"max_width" mapstructure:"max_width"`
	Encoders      EncodersConfig `yaml:"encoders" mapstructure:"encoders"`
}

// EncodersConfig names the external encoder binaries for formats without
// an in-process encoder.
type EncodersConfig struct {
	CWebP   string `yaml:"cwebp" mapstructure:"cwebp"`
	AVIFEnc string `yaml:"avifenc" mapstructure:"avifenc"`
	CJXL    string `yaml:"cjxl" mapstructure:"cjxl"`
}

type WatchConfig struct {
	Paths      []string      `yaml:"paths" mapstructure:"paths"`
	Debounce   time.Duration `yaml:"debounce" mapstructure:"debounce"`
	NotifyAddr string        `yaml:"notify_addr" mapstructure:"notify_addr"`
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")

	v.SetDefault("build.manifest", "src/links.json")
	v.SetDefault("build.root", ".")
	v.SetDefault("build.output", "www")
	v.SetDefault("build.cache_dir", ".msssg")
	v.SetDefault("build.runtime", "")
	v.SetDefault("build.workers", runtime.NumCPU())
	v.SetDefault("build.encodings", []string{"gzip", "deflate", "br", "zstd"})
	v.SetDefault("build.inline_threshold", 100000)
	v.SetDefault("build.report", "")

	v.SetDefault("graphics.formats", []string{"image/png", "image/jpeg", "image/webp"})
	v.SetDefault("graphics.step_width", 100)
	v.SetDefault("graphics.fallback_width", 1200)
	v.SetDefault("graphics.max_width", 4000)
	v.SetDefault("graphics.encoders.cwebp", "cwebp")
	v.SetDefault("graphics.encoders.avifenc", "avifenc")
	v.SetDefault("graphics.encoders.cjxl", "cjxl")

	v.SetDefault("watch.paths", []string{"src"})
	v.SetDefault("watch.debounce", 300*time.Millisecond)
	v.SetDefault("watch.notify_addr", "")
}

// Load reads the configuration from the global viper instance.
func Load() (*Config, error) {
	return LoadFrom(viper.GetViper())
}

// LoadFrom reads, defaults and validates the configuration held by v.
func LoadFrom(v *viper.Viper) (*Config, error) {
	SetDefaults(v)

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	// Workaround for viper slice handling of values set via env or flags.
	if v.IsSet("build.encodings") && len(config.Build.Encodings) == 0 {
		config.Build.Encodings = v.GetStringSlice("build.encodings")
	}
	if v.IsSet("graphics.formats") && len(config.Graphics.Formats) == 0 {
		config.Graphics.Formats = v.GetStringSlice("graphics.formats")
	}

	if config.Build.Workers <= 0 {
		config.Build.Workers = runtime.NumCPU()
	}

	if err := Validate(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// Default returns the default configuration without consulting any file
// or environment.
func Default() *Config {
	cfg, err := LoadFrom(viper.New())
	if err != nil {
		// Defaults always validate.
		panic(err)
	}

	return cfg
}
