package format

import (
	"encoding/binary"

	"github.com/relan/exfat/nameutil"
)

// UpcaseTableBytes returns the on-disk raw little-endian bytes of the
// default upcase table nameutil.DefaultUpcaseTable decodes (§4.8's
// "pre-computed static table"), ready to be written to the cluster heap and
// checksummed with nameutil.UpcaseTableChecksum.
func UpcaseTableBytes() []byte {
	table := nameutil.DefaultUpcaseTable()
	raw := make([]byte, len(table.Units)*2)
	for i, u := range table.Units {
		binary.LittleEndian.PutUint16(raw[i*2:], u)
	}
	return raw
}
