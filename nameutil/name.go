// Package nameutil holds the name, timestamp, and checksum primitives
// exFAT directory entries depend on (§4.4, C5): UTF-8/UTF-16LE conversion,
// upcase folding, name hashing, entry-set and VBR checksums, and exFAT's
// local-time timestamp packing. None of it depends on layout or device, so
// it is usable from the format builder, the directory parser, and the
// consistency checker alike.
package nameutil

import (
	"encoding/binary"
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

var (
	utf16LEEncoder = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewEncoder()
	utf16LEDecoder = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewDecoder()
)

// MaxNameUnits is the longest name exFAT can represent (§3.2): 255 UTF-16
// code units.
const MaxNameUnits = 255

// Encode converts a UTF-8 string to exFAT's on-disk UTF-16LE code units.
// Overlong UTF-8 sequences and code points above U+FFFF are rejected:
// exFAT names are limited to the Basic Multilingual Plane, so a
// conforming implementation never needs surrogate pairs (§4.4).
func Encode(s string) ([]uint16, error) {
	if !utf8.ValidString(s) {
		return nil, fmt.Errorf("nameutil: invalid UTF-8 input %q", s)
	}
	for _, r := range s {
		if r > 0xFFFF {
			return nil, fmt.Errorf("nameutil: code point U+%04X is outside the BMP", r)
		}
	}
	raw, _, err := transform.Bytes(utf16LEEncoder, []byte(s))
	if err != nil {
		return nil, fmt.Errorf("nameutil: encoding %q to UTF-16LE: %w", s, err)
	}
	if len(raw)%2 != 0 {
		return nil, fmt.Errorf("nameutil: odd-length UTF-16LE output for %q", s)
	}
	units := make([]uint16, len(raw)/2)
	for i := range units {
		units[i] = binary.LittleEndian.Uint16(raw[i*2:])
	}
	if len(units) > MaxNameUnits {
		return nil, fmt.Errorf("nameutil: name %q is %d units, exceeds the %d-unit limit", s, len(units), MaxNameUnits)
	}
	return units, nil
}

// forbiddenNameChars is the set §4.6 bars from a file or directory name,
// beyond control characters: the DOS-inherited path/wildcard metacharacters
// that would otherwise be ambiguous in a "/"-separated path or a shell glob.
const forbiddenNameChars = "\"*/:<>?\\|"

// ValidateName rejects control characters and the forbidden character set
// (§4.6: `"*/:<>?\|`) a Create/Mkdir/Rename target name may not contain. It
// does not check length or encodability; call Encode for that.
func ValidateName(s string) error {
	if s == "" {
		return fmt.Errorf("nameutil: empty name")
	}
	for _, r := range s {
		if r < 0x20 {
			return fmt.Errorf("nameutil: name %q contains a control character", s)
		}
		if strings.ContainsRune(forbiddenNameChars, r) {
			return fmt.Errorf("nameutil: name %q contains forbidden character %q", s, r)
		}
	}
	return nil
}

// Decode converts exFAT's UTF-16LE code units back to a UTF-8 string.
func Decode(units []uint16) (string, error) {
	raw := make([]byte, len(units)*2)
	for i, u := range units {
		binary.LittleEndian.PutUint16(raw[i*2:], u)
	}
	out, _, err := transform.Bytes(utf16LEDecoder, raw)
	if err != nil {
		return "", fmt.Errorf("nameutil: decoding UTF-16LE units: %w", err)
	}
	return string(out), nil
}

// UpcaseTable is the loaded case-folding table (§3.1, §3.2): code point u
// folds to Units[u] when u is in range, or to itself otherwise.
type UpcaseTable struct {
	Units []uint16
}

// DefaultUpcaseTable is the identity-plus-ASCII-fold table a freshly
// formatted volume is seeded with (the format builder writes the same
// bytes to disk via format.UpcaseTableBytes). It folds a-z to A-Z and
// leaves every other code point as itself, matching the compact table the
// upstream mkfs ships instead of the full Unicode-defined case mapping.
func DefaultUpcaseTable() *UpcaseTable {
	units := make([]uint16, 128)
	for i := range units {
		units[i] = uint16(i)
	}
	for c := 'a'; c <= 'z'; c++ {
		units[c] = uint16(c - 'a' + 'A')
	}
	return &UpcaseTable{Units: units}
}

// Fold folds a single code unit per §4.4: "for a code point u < upcase
// length, return table[u]; else return u".
func (t *UpcaseTable) Fold(u uint16) uint16 {
	if int(u) < len(t.Units) {
		return t.Units[u]
	}
	return u
}

// FoldAll folds every unit of units in place order, returning a new slice.
func (t *UpcaseTable) FoldAll(units []uint16) []uint16 {
	out := make([]uint16, len(units))
	for i, u := range units {
		out[i] = t.Fold(u)
	}
	return out
}

// Equal reports whether a and b are the same name once both are folded
// through t: exFAT name comparison is unit-wise over folded code points,
// never over raw bytes or Go string equality (§4.4).
func (t *UpcaseTable) Equal(a, b []uint16) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if t.Fold(a[i]) != t.Fold(b[i]) {
			return false
		}
	}
	return true
}

// Hash computes the 16-bit name hash stored in a FileInfo entry and
// cross-checked at parse time (§4.4): a rotating sum over the low and then
// high byte of each folded code unit.
func (t *UpcaseTable) Hash(units []uint16) uint16 {
	var hash uint16
	for _, u := range units {
		folded := t.Fold(u)
		hash = RotateSum16(hash, byte(folded))
		hash = RotateSum16(hash, byte(folded>>8))
	}
	return hash
}
