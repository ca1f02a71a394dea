package graphic

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/conneroisu/msssg/internal/errors"
)

// Quality is a requested quality tier.
type Quality int

const (
	VeryLow Quality = iota
	Low
	Medium
	High
	VeryHigh
	Lossless
)

var qualityNames = [...]string{
	VeryLow:  "VERY LOW",
	Low:      "LOW",
	Medium:   "MEDIUM",
	High:     "HIGH",
	VeryHigh: "VERY HIGH",
	Lossless: "LOSSLESS",
}

// String returns the manifest spelling of q.
func (q Quality) String() string {
	if q < VeryLow || q > Lossless {
		return fmt.Sprintf("Quality(%d)", int(q))
	}

	return qualityNames[q]
}

// ParseQuality parses a quality tier as written in markup.
func ParseQuality(name string) (Quality, error) {
	normalized := strings.ToUpper(strings.Join(strings.Fields(name), " "))
	for q, n := range qualityNames {
		if n == normalized {
			return Quality(q), nil
		}
	}

	return 0, errors.NewManifestError(errors.ErrCodeUnknownQuality,
		fmt.Sprintf("unknown quality %q", name))
}

// Table maps anchor widths to encoder quality values.
type Table map[int]int

// Interpolate resolves the encoder value for width. Widths outside the
// anchors clamp to the nearest anchor; widths between two anchors are
// linearly interpolated and rounded to the nearest integer.
func Interpolate(table Table, width int) int {
	if len(table) == 0 {
		return 0
	}

	anchors := make([]int, 0, len(table))
	for w := range table {
		anchors = append(anchors, w)
	}
	sort.Ints(anchors)

	// Number of anchors at or below width.
	index := sort.Search(len(anchors), func(i int) bool { return anchors[i] > width })

	switch index {
	case 0:
		return table[anchors[0]]
	case len(anchors):
		return table[anchors[len(anchors)-1]]
	}

	wLo, wHi := anchors[index-1], anchors[index]
	vLo, vHi := float64(table[wLo]), float64(table[wHi])

	return int(math.Round(vLo + (vHi-vLo)*float64(width-wLo)/float64(wHi-wLo)))
}

// SettingKind distinguishes the three ways a tier can be configured.
type SettingKind int

const (
	// SettingFixed uses one encoder value at every width.
	SettingFixed SettingKind = iota
	// SettingLossless selects the codec's true lossless mode.
	SettingLossless
	// SettingTable interpolates a breakpoint table.
	SettingTable
)

// Setting is the configuration of one (format, quality) pair.
type Setting struct {
	Kind  SettingKind
	Value int
	Table Table
}

// Fixed returns a setting with a constant encoder value.
func Fixed(value int) Setting { return Setting{Kind: SettingFixed, Value: value} }

// TrueLossless returns a setting selecting lossless encoding.
func TrueLossless() Setting { return Setting{Kind: SettingLossless} }

// Breakpoints returns a setting interpolated over table.
func Breakpoints(table Table) Setting { return Setting{Kind: SettingTable, Table: table} }

// Param is the resolved encoder parameter for one render.
type Param struct {
	Quality  int
	Lossless bool
}

// Param resolves s at width.
func (s Setting) Param(width int) Param {
	switch s.Kind {
	case SettingLossless:
		return Param{Quality: 100, Lossless: true}
	case SettingTable:
		return Param{Quality: Interpolate(s.Table, width)}
	default:
		return Param{Quality: s.Value}
	}
}

// Qualities maps media type to the tiers it supports.
type Qualities map[string]map[Quality]Setting

// DefaultQualities returns the built-in quality tables.
func DefaultQualities() Qualities {
	return Qualities{
		"image/png": {
			Lossless: TrueLossless(),
		},
		"image/jpeg": {
			Low:    Breakpoints(Table{1000: 62, 2000: 48, 3000: 38, 4000: 32}),
			Medium: Breakpoints(Table{1000: 84, 2000: 79, 3000: 72, 4000: 68}),
			High:   Breakpoints(Table{1000: 96, 2000: 94, 3000: 92, 4000: 90}),
		},
		"image/webp": {
			Low:      Breakpoints(Table{1000: 40, 2000: 35, 3000: 31, 4000: 26}),
			Medium:   Breakpoints(Table{1000: 76, 2000: 76, 3000: 73, 4000: 69}),
			High:     Breakpoints(Table{1000: 92, 2000: 91, 3000: 90, 4000: 90}),
			Lossless: TrueLossless(),
		},
		"image/avif": {
			Lossless: TrueLossless(),
		},
		"image/jxl": {
			Lossless: TrueLossless(),
		},
	}
}

// Resolve returns the tier actually rendered for a request of q in format.
// VERY HIGH falls back to HIGH; the second result is false when format
// supports neither.
func (qs Qualities) Resolve(format string, q Quality) (Quality, bool) {
	tiers := qs[format]
	if _, ok := tiers[q]; ok {
		return q, true
	}
	if q == VeryHigh {
		if _, ok := tiers[High]; ok {
			return High, true
		}
	}

	return 0, false
}

// Lookup returns the setting for format at q, with the VERY HIGH fallback.
func (qs Qualities) Lookup(format string, q Quality) (Setting, Quality, error) {
	effective, ok := qs.Resolve(format, q)
	if !ok {
		return Setting{}, 0, errors.NewRenderError(errors.ErrCodeUnsupportedQuality,
			fmt.Sprintf("%s does not support quality %s", format, q)).
			WithContext("format", format).
			WithContext("quality", q.String())
	}

	return qs[format][effective], effective, nil
}
