package nameutil_test

import (
	"testing"

	"github.com/relan/exfat/layout"
	"github.com/relan/exfat/nameutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEntrySetChecksumStableAcrossChecksumField(t *testing.T) {
	file := layout.FileEntry{Type: layout.TypeFile, Continuations: 2, Attrib: 0x20}
	raw, err := layout.Pack(&file)
	require.NoError(t, err)

	sum1 := nameutil.StartEntrySetChecksum(raw)

	file.Checksum = 0xABCD
	raw2, err := layout.Pack(&file)
	require.NoError(t, err)
	sum2 := nameutil.StartEntrySetChecksum(raw2)

	assert.Equal(t, sum1, sum2, "checksum field itself must not affect the checksum")
}

func TestEntrySetChecksumChangesWithOtherBytes(t *testing.T) {
	file := layout.FileEntry{Type: layout.TypeFile, Continuations: 2}
	raw, err := layout.Pack(&file)
	require.NoError(t, err)
	sum1 := nameutil.StartEntrySetChecksum(raw)

	file.Attrib = 0x20
	raw2, err := layout.Pack(&file)
	require.NoError(t, err)
	sum2 := nameutil.StartEntrySetChecksum(raw2)

	assert.NotEqual(t, sum1, sum2)
}

func TestAddEntrySetChecksumAccumulates(t *testing.T) {
	file := layout.FileEntry{Type: layout.TypeFile, Continuations: 2}
	fileRaw, err := layout.Pack(&file)
	require.NoError(t, err)

	info := layout.FileInfoEntry{Type: layout.TypeFileInfo, NameLength: 3}
	infoRaw, err := layout.Pack(&info)
	require.NoError(t, err)

	sum := nameutil.StartEntrySetChecksum(fileRaw)
	sum = nameutil.AddEntrySetChecksum(sum, infoRaw)
	assert.NotZero(t, sum)
}

func TestUpcaseTableChecksumDeterministic(t *testing.T) {
	table := make([]byte, 256)
	for i := range table {
		table[i] = byte(i)
	}
	sum1 := nameutil.UpcaseTableChecksum(table)
	sum2 := nameutil.UpcaseTableChecksum(table)
	assert.Equal(t, sum1, sum2)

	table[0] ^= 0xFF
	sum3 := nameutil.UpcaseTableChecksum(table)
	assert.NotEqual(t, sum1, sum3)
}
