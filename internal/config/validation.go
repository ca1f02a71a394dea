package config

import (
	"fmt"
	"strings"

	"github.com/conneroisu/msssg/internal/errors"
)

// KnownEncodings lists the content encodings the store can produce.
var KnownEncodings = map[string]bool{
	"gzip":    true,
	"deflate": true,
	"br":      true,
	"zstd":    true,
}

// KnownFormats lists the graphic media types the renderer can produce.
var KnownFormats = map[string]bool{
	"image/png":  true,
	"image/jpeg": true,
	"image/webp": true,
	"image/avif": true,
	"image/jxl":  true,
}

// Validate checks configuration values for correctness. The first
// violation is returned as a config error naming the offending setting.
func Validate(config *Config) error {
	if err := validateBuildConfig(&config.Build); err != nil {
		return err
	}

	if err := validateGraphicsConfig(&config.Graphics); err != nil {
		return err
	}

	if config.Watch.Debounce < 0 {
		return invalid("watch.debounce", "must not be negative", config.Watch.Debounce)
	}

	return nil
}

func validateBuildConfig(build *BuildConfig) error {
	if strings.TrimSpace(build.Manifest) == "" {
		return invalid("build.manifest", "is required", build.Manifest)
	}
	if strings.TrimSpace(build.Output) == "" {
		return invalid("build.output", "is required", build.Output)
	}
	if strings.TrimSpace(build.CacheDir) == "" {
		return invalid("build.cache_dir", "is required", build.CacheDir)
	}
	if build.InlineThreshold < 0 {
		return invalid("build.inline_threshold", "must not be negative", build.InlineThreshold)
	}

	seen := make(map[string]bool, len(build.Encodings))
	for _, encoding := range build.Encodings {
		if !KnownEncodings[encoding] {
			return invalid("build.encodings", fmt.Sprintf("unknown encoding %q", encoding), build.Encodings)
		}
		if seen[encoding] {
			return invalid("build.encodings", fmt.Sprintf("duplicate encoding %q", encoding), build.Encodings)
		}
		seen[encoding] = true
	}

	return nil
}

func validateGraphicsConfig(graphics *GraphicsConfig) error {
	if graphics.StepWidth <= 0 {
		return invalid("graphics.step_width", "must be positive", graphics.StepWidth)
	}
	if graphics.MaxWidth <= 0 || graphics.MaxWidth%graphics.StepWidth != 0 {
		return invalid("graphics.max_width", "must be a positive multiple of step_width", graphics.MaxWidth)
	}
	if graphics.FallbackWidth <= 0 || graphics.FallbackWidth%graphics.StepWidth != 0 {
		return invalid("graphics.fallback_width", "must be a positive multiple of step_width", graphics.FallbackWidth)
	}
	if graphics.FallbackWidth > graphics.MaxWidth {
		return invalid("graphics.fallback_width", "must not exceed max_width", graphics.FallbackWidth)
	}

	for _, format := range graphics.Formats {
		if !KnownFormats[format] {
			return invalid("graphics.formats", fmt.Sprintf("unknown format %q", format), graphics.Formats)
		}
	}

	return nil
}

func invalid(setting, message string, value interface{}) error {
	return errors.NewConfigError(
		errors.ErrCodeInvalidConfig,
		fmt.Sprintf("invalid configuration for %s: %s", setting, message),
	).WithContext("setting", setting).WithContext("value", value)
}
