package presets

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetKnownSlug(t *testing.T) {
	p, err := Get("sdcard")
	require.NoError(t, err)
	assert.Equal(t, "sdcard", p.Slug)
	assert.EqualValues(t, 64, p.SectorsPerCluster)
}

func TestGetUnknownSlug(t *testing.T) {
	_, err := Get("does-not-exist")
	assert.Error(t, err)
}

func TestForSizePicksNarrowestMatch(t *testing.T) {
	p, err := Get("usb-small")
	require.NoError(t, err)

	got, err := ForSize(64 * 1024 * 1024)
	require.NoError(t, err)
	assert.Equal(t, p.Slug, got.Slug)
}

func TestForSizeFallsBackToUnboundedPreset(t *testing.T) {
	got, err := ForSize(1 << 40)
	require.NoError(t, err)
	assert.EqualValues(t, 0, got.MaxSizeBytes)
}

func TestNamesIncludesEveryPreset(t *testing.T) {
	names := Names()
	assert.Contains(t, names, "sdcard")
	assert.Contains(t, names, "hdd-large")
	for i := 1; i < len(names); i++ {
		assert.LessOrEqual(t, names[i-1], names[i])
	}
}
