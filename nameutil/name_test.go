package nameutil_test

import (
	"testing"

	"github.com/relan/exfat/nameutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	units, err := nameutil.Encode("hello.txt")
	require.NoError(t, err)
	assert.Len(t, units, len("hello.txt"))

	back, err := nameutil.Decode(units)
	require.NoError(t, err)
	assert.Equal(t, "hello.txt", back)
}

func TestEncodeRejectsAboveBMP(t *testing.T) {
	_, err := nameutil.Encode("\U0001F600") // emoji, outside the BMP
	assert.Error(t, err)
}

func TestEncodeRejectsTooLong(t *testing.T) {
	long := make([]byte, nameutil.MaxNameUnits+1)
	for i := range long {
		long[i] = 'a'
	}
	_, err := nameutil.Encode(string(long))
	assert.Error(t, err)
}

func TestValidateNameRejectsControlCharacters(t *testing.T) {
	assert.Error(t, nameutil.ValidateName("bad\x01name"))
}

func TestValidateNameRejectsForbiddenCharacters(t *testing.T) {
	for _, c := range []string{"\"", "*", "/", ":", "<", ">", "?", "\\", "|"} {
		assert.Error(t, nameutil.ValidateName("name"+c), "character %q should be rejected", c)
	}
}

func TestValidateNameAcceptsOrdinaryNames(t *testing.T) {
	assert.NoError(t, nameutil.ValidateName("report.txt"))
	assert.NoError(t, nameutil.ValidateName("My Documents"))
}

func TestValidateNameRejectsEmpty(t *testing.T) {
	assert.Error(t, nameutil.ValidateName(""))
}

func TestDefaultUpcaseTableFoldsASCII(t *testing.T) {
	table := nameutil.DefaultUpcaseTable()
	assert.EqualValues(t, 'A', table.Fold('a'))
	assert.EqualValues(t, 'Z', table.Fold('z'))
	assert.EqualValues(t, 'A', table.Fold('A'))
	assert.EqualValues(t, '0', table.Fold('0'))
}

func TestUpcaseTableEqualIsCaseInsensitive(t *testing.T) {
	table := nameutil.DefaultUpcaseTable()
	a, err := nameutil.Encode("Report.TXT")
	require.NoError(t, err)
	b, err := nameutil.Encode("REPORT.txt")
	require.NoError(t, err)
	assert.True(t, table.Equal(a, b))

	c, err := nameutil.Encode("report.tx")
	require.NoError(t, err)
	assert.False(t, table.Equal(a, c))
}

func TestUpcaseTableHashIsCaseInsensitive(t *testing.T) {
	table := nameutil.DefaultUpcaseTable()
	a, err := nameutil.Encode("Report.TXT")
	require.NoError(t, err)
	b, err := nameutil.Encode("REPORT.txt")
	require.NoError(t, err)
	assert.Equal(t, table.Hash(a), table.Hash(b))

	c, err := nameutil.Encode("other.txt")
	require.NoError(t, err)
	assert.NotEqual(t, table.Hash(a), table.Hash(c))
}
