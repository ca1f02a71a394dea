package graphic

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/msssg/internal/errors"
)

func TestInterpolate(t *testing.T) {
	table := Table{1000: 62, 2000: 48}

	testCases := []struct {
		width    int
		expected int
	}{
		{1000, 62},
		{2000, 48},
		{1500, 55},
		{500, 62},
		{3000, 48},
		{1250, 59},
	}

	for _, tc := range testCases {
		assert.Equal(t, tc.expected, Interpolate(table, tc.width), "width %d", tc.width)
	}

	assert.Equal(t, 0, Interpolate(Table{}, 100))
}

func TestInterpolateDefaultTables(t *testing.T) {
	jpegHigh := DefaultQualities()["image/jpeg"][High].Table

	assert.Equal(t, 96, Interpolate(jpegHigh, 100))
	assert.Equal(t, 95, Interpolate(jpegHigh, 1500))
	assert.Equal(t, 90, Interpolate(jpegHigh, 4000))
}

func TestInterpolateProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 300
	properties := gopter.NewProperties(parameters)

	genTable := gen.MapOf(gen.IntRange(1, 5000), gen.IntRange(0, 100)).
		SuchThat(func(m map[int]int) bool { return len(m) > 0 })

	properties.Property("result stays within the table's value range", prop.ForAll(
		func(m map[int]int, width int) bool {
			lo, hi := 101, -1
			for _, v := range m {
				lo = min(lo, v)
				hi = max(hi, v)
			}
			got := Interpolate(Table(m), width)

			return got >= lo && got <= hi
		},
		genTable,
		gen.IntRange(0, 6000),
	))

	properties.Property("widths outside the anchors clamp", prop.ForAll(
		func(m map[int]int) bool {
			first, last := 1<<30, -1
			for w := range m {
				first = min(first, w)
				last = max(last, w)
			}
			table := Table(m)

			return Interpolate(table, first-1) == m[first] &&
				Interpolate(table, last+1) == m[last]
		},
		genTable,
	))

	properties.Property("anchors map to their own value", prop.ForAll(
		func(m map[int]int) bool {
			for w, v := range m {
				if Interpolate(Table(m), w) != v {
					return false
				}
			}

			return true
		},
		genTable,
	))

	properties.TestingRun(t)
}

func TestParseQuality(t *testing.T) {
	testCases := []struct {
		input    string
		expected Quality
	}{
		{"VERY LOW", VeryLow},
		{"LOW", Low},
		{"MEDIUM", Medium},
		{"HIGH", High},
		{"VERY HIGH", VeryHigh},
		{"LOSSLESS", Lossless},
		{"very  high", VeryHigh},
	}

	for _, tc := range testCases {
		q, err := ParseQuality(tc.input)
		require.NoError(t, err, tc.input)
		assert.Equal(t, tc.expected, q)
	}

	_, err := ParseQuality("ULTRA")
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeUnknownQuality, errors.Code(err))

	assert.Equal(t, "VERY HIGH", VeryHigh.String())
	assert.Equal(t, "Quality(9)", Quality(9).String())
}

func TestQualitiesLookup(t *testing.T) {
	qs := DefaultQualities()

	setting, effective, err := qs.Lookup("image/jpeg", VeryHigh)
	require.NoError(t, err)
	assert.Equal(t, High, effective)
	assert.Equal(t, SettingTable, setting.Kind)

	setting, effective, err = qs.Lookup("image/webp", Lossless)
	require.NoError(t, err)
	assert.Equal(t, Lossless, effective)
	assert.True(t, setting.Param(1200).Lossless)

	_, _, err = qs.Lookup("image/png", Low)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrUnsupportedQuality)

	_, _, err = qs.Lookup("image/png", VeryHigh)
	assert.ErrorIs(t, err, errors.ErrUnsupportedQuality)

	_, _, err = qs.Lookup("image/jpeg", Lossless)
	assert.ErrorIs(t, err, errors.ErrUnsupportedQuality)
}

func TestSettingParam(t *testing.T) {
	assert.Equal(t, Param{Quality: 70}, Fixed(70).Param(3000))
	assert.Equal(t, Param{Quality: 100, Lossless: true}, TrueLossless().Param(100))
	assert.Equal(t, Param{Quality: 55}, Breakpoints(Table{1000: 62, 2000: 48}).Param(1500))
}
