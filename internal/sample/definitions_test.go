package sample_test

import (
	"testing"

	"codeberg.org/mutker/sensordash/internal/sample"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPercentClamps(t *testing.T) {
	def, ok := sample.Lookup(sample.KeyBattery)
	require.True(t, ok)

	assert.Equal(t, 50.0, def.Percent(50))
	assert.Equal(t, 0.0, def.Percent(-20))
	assert.Equal(t, 100.0, def.Percent(150))

	temp, _ := sample.Lookup(sample.KeyTemperature)
	assert.InDelta(t, 50.0, temp.Percent(25), 1e-9)
}

func TestLookupUnknown(t *testing.T) {
	_, ok := sample.Lookup("humidity")
	assert.False(t, ok)
}

func TestTrend(t *testing.T) {
	assert.Equal(t, 1, sample.Trend(sample.Float(1), sample.Float(1.01)))
	assert.Equal(t, -1, sample.Trend(sample.Float(1), sample.Float(0.99)))
	assert.Equal(t, 0, sample.Trend(sample.Float(1), sample.Float(1.0005)))
	assert.Equal(t, 0, sample.Trend(nil, sample.Float(3)))
}

func TestFormatNumber(t *testing.T) {
	assert.Equal(t, "3.14", sample.FormatNumber(3.14159))
	assert.Equal(t, "24.5", sample.FormatNumber(24.46))
	assert.Equal(t, "1235", sample.FormatNumber(1234.6))
	assert.Equal(t, "123456.0", sample.FormatNumber(123456))
}
