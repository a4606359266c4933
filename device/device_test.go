package device_test

import (
	"testing"

	"github.com/relan/exfat"
	"github.com/relan/exfat/device"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryDeviceReadWriteRoundTrip(t *testing.T) {
	buf := make([]byte, 4096)
	dev, snapshot, err := device.NewMemoryDevice(buf, false)
	require.NoError(t, err)
	defer dev.Close()

	payload := []byte("exfat-device-test")
	require.NoError(t, dev.WriteAt(payload, 512))

	got := make([]byte, len(payload))
	require.NoError(t, dev.ReadAt(got, 512))
	assert.Equal(t, payload, got)

	assert.Equal(t, payload, snapshot()[512:512+len(payload)])
}

func TestMemoryDeviceReadOnlyRejectsWrites(t *testing.T) {
	buf := make([]byte, 512)
	dev, _, err := device.NewMemoryDevice(buf, true)
	require.NoError(t, err)
	defer dev.Close()

	assert.True(t, dev.ReadOnly())
	err = dev.WriteAt([]byte{1, 2, 3}, 0)
	assert.ErrorIs(t, err, exfat.ErrReadOnly)
}

func TestMemoryDeviceOutOfBoundsIsErrIO(t *testing.T) {
	buf := make([]byte, 16)
	dev, _, err := device.NewMemoryDevice(buf, false)
	require.NoError(t, err)
	defer dev.Close()

	err = dev.ReadAt(make([]byte, 8), 12)
	assert.ErrorIs(t, err, exfat.ErrIO)

	err = dev.WriteAt(make([]byte, 8), -1)
	assert.ErrorIs(t, err, exfat.ErrIO)
}

func TestMemoryDeviceSize(t *testing.T) {
	buf := make([]byte, 8192)
	dev, _, err := device.NewMemoryDevice(buf, false)
	require.NoError(t, err)
	defer dev.Close()

	assert.EqualValues(t, 8192, dev.Size())
}

func TestMemoryDeviceTrimRangeUnsupported(t *testing.T) {
	buf := make([]byte, 512)
	dev, _, err := device.NewMemoryDevice(buf, false)
	require.NoError(t, err)
	defer dev.Close()

	err = dev.TrimRange(0, 512)
	assert.ErrorIs(t, err, exfat.ErrUnsupported)
}

func TestMemoryDeviceFlushIsNoop(t *testing.T) {
	buf := make([]byte, 512)
	dev, _, err := device.NewMemoryDevice(buf, false)
	require.NoError(t, err)
	defer dev.Close()

	assert.NoError(t, dev.Flush())
}
