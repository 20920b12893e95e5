// This package interprets $FILE_NAME attributes and performs the
// codepage-based filename matching used during lookups.

package ntfs

import (
	"fmt"
	"time"

	"github.com/dsoprea/go-logging"
	"github.com/go-restruct/restruct"
)

// NtfsMaxFileNameLen is the maximum filename length in characters.
const NtfsMaxFileNameLen = 255

const fileNameAttrHeaderSize = 66

// FileAttrFlags decomposes the file_attrs field of a $FILE_NAME attribute.
type FileAttrFlags uint32

const (
	FileAttrReadOnly = FileAttrFlags(0x00000001)
	FileAttrHidden   = FileAttrFlags(0x00000002)
	FileAttrSystem   = FileAttrFlags(0x00000004)
	FileAttrArchive  = FileAttrFlags(0x00000020)

	// FileAttrDupFileNameIndexPresent marks records that carry a filename
	// index (directories).
	FileAttrDupFileNameIndexPresent = FileAttrFlags(0x10000000)
)

// IsReadOnly returns whether the file should be read-only.
func (fa FileAttrFlags) IsReadOnly() bool {
	return fa&FileAttrReadOnly > 0
}

// IsHidden returns whether the file should not appear in standard
// listings by default.
func (fa FileAttrFlags) IsHidden() bool {
	return fa&FileAttrHidden > 0
}

// IsSystem returns the system flag.
func (fa FileAttrFlags) IsSystem() bool {
	return fa&FileAttrSystem > 0
}

// IsArchive returns whether the archive flag has been set.
func (fa FileAttrFlags) IsArchive() bool {
	return fa&FileAttrArchive > 0
}

// HasFileNameIndex returns whether a filename index is present.
func (fa FileAttrFlags) HasFileNameIndex() bool {
	return fa&FileAttrDupFileNameIndexPresent > 0
}

// String returns a descriptive string.
func (fa FileAttrFlags) String() string {
	return fmt.Sprintf("FileAttrFlags<IS-READONLY=[%v] IS-HIDDEN=[%v] IS-SYSTEM=[%v] IS-ARCHIVE=[%v] HAS-INDEX=[%v]>",
		fa.IsReadOnly(), fa.IsHidden(), fa.IsSystem(), fa.IsArchive(), fa.HasFileNameIndex())
}

// DumpBareIndented prints the attribute states preceded by arbitrary
// indentation.
func (fa FileAttrFlags) DumpBareIndented(indent string) {
	fmt.Printf("%sRead Only? [%v]\n", indent, fa.IsReadOnly())
	fmt.Printf("%sHidden? [%v]\n", indent, fa.IsHidden())
	fmt.Printf("%sSystem? [%v]\n", indent, fa.IsSystem())
	fmt.Printf("%sArchive? [%v]\n", indent, fa.IsArchive())
	fmt.Printf("%sFilename Index? [%v]\n", indent, fa.HasFileNameIndex())
}

// NtfsTimestamp is a 64-bit count of 100ns intervals since 1601-01-01 UTC.
// It embeds its parsing semantics.
type NtfsTimestamp uint64

// secondsBetween1601And1970 converts the NT epoch to the Unix epoch.
const secondsBetween1601And1970 = int64(11644473600)

// Time returns the timestamp as a native UTC time.
func (nt NtfsTimestamp) Time() time.Time {
	seconds := int64(nt/10000000) - secondsBetween1601And1970
	nanos := int64(nt%10000000) * 100

	return time.Unix(seconds, nanos).UTC()
}

// Filename namespace values for the FileNameType field.
const (
	FileNameTypePosix       = uint8(0)
	FileNameTypeWin32       = uint8(1)
	FileNameTypeDos         = uint8(2)
	FileNameTypeWin32AndDos = uint8(3)
)

// FileNameAttr is the fixed head of a $FILE_NAME attribute value. The
// UTF-16LE name itself follows the head and is kept separately.
type FileNameAttr struct {
	// ParentDirectory is a packed MFT reference to the containing
	// directory.
	ParentDirectory uint64

	CreationTime       NtfsTimestamp
	LastDataChangeTime NtfsTimestamp
	LastMftChangeTime  NtfsTimestamp
	LastAccessTime     NtfsTimestamp

	AllocatedSize uint64
	DataSize      uint64

	FileAttrs FileAttrFlags

	Reserved uint32

	// FileNameLen counts UTF-16 code units.
	FileNameLen uint8

	// FileNameType is the name's namespace (POSIX, Win32, DOS).
	FileNameType uint8
}

// String returns a descriptive string.
func (fn FileNameAttr) String() string {
	return fmt.Sprintf("FileName<PARENT=(%d) LEN=(%d) TYPE=(%d) ATTRS=(0x%08x)>",
		fn.ParentDirectory&mftReferenceMask, fn.FileNameLen, fn.FileNameType, uint32(fn.FileAttrs))
}

// Dump prints the attribute's info to STDOUT.
func (fn FileNameAttr) Dump() {
	fmt.Printf("File Name Attribute\n")
	fmt.Printf("===================\n")
	fmt.Printf("\n")

	fmt.Printf("ParentDirectory: (%d)\n", fn.ParentDirectory&mftReferenceMask)
	fmt.Printf("CreationTime: [%s]\n", fn.CreationTime.Time())
	fmt.Printf("LastDataChangeTime: [%s]\n", fn.LastDataChangeTime.Time())
	fmt.Printf("DataSize: (%d)\n", fn.DataSize)
	fmt.Printf("FileNameLen: (%d)\n", fn.FileNameLen)
	fmt.Printf("FileNameType: (%d)\n", fn.FileNameType)
	fmt.Printf("\n")

	fmt.Printf("Attributes:\n")

	fn.FileAttrs.DumpBareIndented("  ")

	fmt.Printf("\n")
}

// parseFileNameAttr splits a $FILE_NAME value into its fixed head and the
// UTF-16 code units of the name.
func parseFileNameAttr(value []byte) (fn FileNameAttr, units []uint16, err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			err = log.Wrap(errRaw.(error))
		}
	}()

	if len(value) < fileNameAttrHeaderSize {
		log.Panic(ErrCorruptRecord)
	}

	err = restruct.Unpack(value[:fileNameAttrHeaderSize], defaultEncoding, &fn)
	log.PanicIf(err)

	nameEnd := fileNameAttrHeaderSize + int(fn.FileNameLen)*2
	if nameEnd > len(value) {
		log.Panic(ErrCorruptRecord)
	}

	units = make([]uint16, fn.FileNameLen)
	for i := 0; i < int(fn.FileNameLen); i++ {
		at := fileNameAttrHeaderSize + i*2
		units[i] = uint16(value[at]) | uint16(value[at+1])<<8
	}

	return fn, units, nil
}

// fileNameFromRecord loads the first $FILE_NAME attribute of the record
// with the given number, staging through the MFT locator.
func (nr *NtfsReader) fileNameFromRecord(mftNo uint64, startBlock uint64) (fn FileNameAttr, units []uint16, err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			err = log.Wrap(errRaw.(error))
		}
	}()

	data := make([]byte, nr.sb.BlockSize)
	block := startBlock

	offset, err := nr.mftRecordLookup(mftNo, &block, data)
	log.PanicIf(err)

	record := data[offset : offset+int64(nr.sb.MftRecordSize)]

	mrh, err := parseMftRecordHeader(record)
	log.PanicIf(err)

	attr, err := attrLookup(AttrTypeFileName, record, mrh)
	log.PanicIf(err)

	value, err := attr.residentValue(record)
	log.PanicIf(err)

	fn, units, err = parseFileNameAttr(value)
	log.PanicIf(err)

	return fn, units, nil
}

// matchLongname compares a path component, given as bytes in the system
// codepage, against the stored UTF-16LE name of the record with the given
// number. Each stored code unit must equal the lowercase or uppercase map
// entry for the next input byte, and both sides must be exhausted
// together; trailing stored units past a NUL must be NUL or 0xffff
// padding. A
// failure to locate the record or its name attribute is a non-match, not
// an error.
func (nr *NtfsReader) matchLongname(component string, mftNo uint64) bool {
	fn, units, err := nr.fileNameFromRecord(mftNo, 0)
	if err != nil {
		return false
	}

	cp := nr.sb.Codepage

	i := 0
	consumed := 0

	for _, unit := range units[:fn.FileNameLen] {
		if unit == 0 {
			break
		}

		consumed++

		if i >= len(component) {
			return false
		}

		c := component[i]
		i++

		if unit != cp.Uni[0][c] && unit != cp.Uni[1][c] {
			return false
		}
	}

	if i != len(component) {
		return false
	}

	for _, unit := range units[consumed:] {
		if unit != 0xffff && unit != 0 {
			return false
		}
	}

	return true
}

// cvtLongname converts stored UTF-16LE code units to the system codepage
// by reverse-scanning the case maps, the way directory listings present
// names. A byte equal to the code unit whose lowercase map entry is that
// same unit is preferred; failing that, the first byte whose lowercase or
// uppercase entry matches is used, so case is preserved.
func (nr *NtfsReader) cvtLongname(units []uint16) (name string, err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			err = log.Wrap(errRaw.(error))
		}
	}()

	cp := nr.sb.Codepage

	out := make([]byte, 0, len(units))

	for _, unit := range units {
		if unit == 0 {
			break
		}

		found := false
		for c := 0; c < CodepageEntryCount && found != true; c++ {
			if cp.Uni[0][c] == unit && uint16(c&0xff) == unit {
				out = append(out, byte(c))
				found = true
			}
		}

		for c := 0; c < CodepageEntryCount && found != true; c++ {
			if cp.Uni[0][c] == unit || cp.Uni[1][c] == unit {
				out = append(out, byte(c))
				found = true
			}
		}

		if found != true {
			log.Panicf("code unit (0x%04x) not representable in the active codepage", unit)
		}
	}

	return string(out), nil
}
