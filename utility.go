package ntfs

import (
	"unicode/utf16"
)

// ilog2 returns the position of the highest set bit. ilog2(0) is 0.
func ilog2(v uint64) int {
	shift := 0
	for v > 1 {
		v >>= 1
		shift++
	}

	return shift
}

// DecodeUtf16leUnits returns a native string from a slice of UTF-16 code
// units. NUL code units are skipped wherever they appear.
func DecodeUtf16leUnits(units []uint16) string {
	filtered := make([]uint16, 0, len(units))
	for _, u := range units {
		if u == 0 {
			continue
		}

		filtered = append(filtered, u)
	}

	return string(utf16.Decode(filtered))
}

// DecodeUtf16leBytes returns a native string from raw UTF-16LE data of the
// given character count.
func DecodeUtf16leBytes(raw []byte, charCount int) string {
	units := make([]uint16, charCount)
	for i := 0; i < charCount; i++ {
		units[i] = uint16(raw[i*2]) | uint16(raw[i*2+1])<<8
	}

	return DecodeUtf16leUnits(units)
}
