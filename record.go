// This package handles multi-sector records (FILE and INDX), the Update
// Sequence Array fixups that protect them, and the attributes inside MFT
// records.

package ntfs

import (
	"fmt"
	"reflect"

	"encoding/binary"

	"github.com/dsoprea/go-logging"
	"github.com/go-restruct/restruct"
)

const (
	mftRecordHeaderSize = 48
	attrHeaderSize      = 16
	attrResidentSize    = 8
	attrNonResidentSize = 48
)

var (
	magicFile = []byte("FILE")
	magicIndx = []byte("INDX")
)

// Attribute type codes.
const (
	AttrTypeStandardInformation = uint32(0x10)
	AttrTypeAttributeList       = uint32(0x20)
	AttrTypeFileName            = uint32(0x30)
	AttrTypeObjectId            = uint32(0x40)
	AttrTypeSecurityDescriptor  = uint32(0x50)
	AttrTypeVolumeName          = uint32(0x60)
	AttrTypeVolumeInformation   = uint32(0x70)
	AttrTypeData                = uint32(0x80)
	AttrTypeIndexRoot           = uint32(0x90)
	AttrTypeIndexAllocation     = uint32(0xa0)
	AttrTypeBitmap              = uint32(0xb0)

	// AttrTypeEnd terminates a record's attribute list. Callers must not
	// request it from the walker.
	AttrTypeEnd = uint32(0xffffffff)
)

// MFT record header flags.
const (
	MftRecordInUse       = uint16(0x0001)
	MftRecordIsDirectory = uint16(0x0002)
)

// mftReferenceMask extracts the record number from a packed MFT reference
// (low 48 bits; the top 16 are the sequence number).
const mftReferenceMask = uint64(0x0000ffffffffffff)

// MftRecordHeader is the fixed head of a FILE record.
type MftRecordHeader struct {
	// Magic is "FILE" for an allocated MFT record.
	Magic [4]byte

	// UsaOfs and UsaCount locate the Update Sequence Array.
	UsaOfs   uint16
	UsaCount uint16

	// Lsn is the $LogFile sequence number. Not interpreted.
	Lsn uint64

	// SeqNo increments each time the record is reused.
	SeqNo uint16

	LinkCount uint16

	// AttrsOffset locates the first attribute within the record.
	AttrsOffset uint16

	Flags uint16

	// BytesInUse and BytesAllocated size the record. BytesAllocated is
	// the advance used when walking packed records.
	BytesInUse     uint32
	BytesAllocated uint32

	BaseMftRecord    uint64
	NextAttrInstance uint16
	Reserved         uint16

	// MftRecordNo is this record's own number.
	MftRecordNo uint32
}

// String returns a description of the record header.
func (mrh MftRecordHeader) String() string {
	return fmt.Sprintf("MftRecord<NO=(%d) SEQ=(%d) FLAGS=(0x%04x) ALLOCATED=(%d)>", mrh.MftRecordNo, mrh.SeqNo, mrh.Flags, mrh.BytesAllocated)
}

// IsInUse indicates whether the record is allocated to a file.
func (mrh MftRecordHeader) IsInUse() bool {
	return mrh.Flags&MftRecordInUse > 0
}

// IsDirectory indicates whether the record carries a filename index.
func (mrh MftRecordHeader) IsDirectory() bool {
	return mrh.Flags&MftRecordIsDirectory > 0
}

func parseMftRecordHeader(record []byte) (mrh MftRecordHeader, err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			err = log.Wrap(errRaw.(error))
		}
	}()

	if len(record) < mftRecordHeaderSize {
		log.Panic(ErrCorruptRecord)
	}

	err = restruct.Unpack(record[:mftRecordHeaderSize], defaultEncoding, &mrh)
	log.PanicIf(err)

	return mrh, nil
}

// applyFixups reconciles the Update Sequence Array of a freshly-read
// multi-sector record (FILE or INDX): every covered sector's final word
// must equal the update sequence number and is replaced with the saved
// original. This must run exactly once per fetch, before the record is
// interpreted.
func applyFixups(buf []byte, sectorSize uint32) (err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			err = log.Wrap(errRaw.(error))
		}
	}()

	if len(buf) < 8 {
		log.Panic(ErrNotARecord)
	}

	magic := buf[:4]
	if string(magic) != string(magicFile) && string(magic) != string(magicIndx) {
		log.Panic(ErrNotARecord)
	}

	usaOfs := int(binary.LittleEndian.Uint16(buf[4:6]))
	usaCount := int(binary.LittleEndian.Uint16(buf[6:8]))

	if usaCount < 2 || usaOfs+usaCount*2 > len(buf) {
		log.Panic(ErrCorruptRecord)
	}

	sectors := usaCount - 1
	if sectors*int(sectorSize) > len(buf) {
		log.Panic(ErrCorruptRecord)
	}

	usn := binary.LittleEndian.Uint16(buf[usaOfs:])

	for i := 0; i < sectors; i++ {
		tail := (i+1)*int(sectorSize) - 2

		if binary.LittleEndian.Uint16(buf[tail:]) != usn {
			log.Panic(ErrUsaMismatch)
		}

		saved := usaOfs + 2 + i*2
		copy(buf[tail:tail+2], buf[saved:saved+2])
	}

	return nil
}

// mftRecordLookup walks the MFT from the block cursor forward until it
// finds the record with the given number, staging each block into `data`
// and fixing up each candidate record exactly once. It returns the byte
// offset of the matched record inside the staging buffer and leaves the
// cursor at the block that holds it.
func (nr *NtfsReader) mftRecordLookup(recordNo uint64, block *uint64, data []byte) (offset int64, err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			err = log.Wrap(errRaw.(error))
		}
	}()

	recordSize := int64(nr.sb.MftRecordSize)
	blockSize := int64(nr.sb.BlockSize)

	if int64(len(data)) < blockSize {
		log.Panicf("staging buffer smaller than a block: (%d) < (%d)", len(data), blockSize)
	}

	refill := func() {
		raw, err := nr.getMftBlock(*block)
		if err != nil {
			log.Panic(ErrNotFound)
		}

		// The cache page is borrowed; copy before any further fetch.
		copy(data[:blockSize], raw)
	}

	refill()
	offset = 0

	for {
		if offset+recordSize > blockSize {
			log.Panic(ErrCorruptRecord)
		}

		record := data[offset : offset+recordSize]

		err := applyFixups(record, nr.sb.SectorSize)
		if err != nil {
			if log.Is(err, ErrNotARecord) == true {
				// A non-allocated record; skip it.
				offset += recordSize
			} else {
				log.Panic(ErrNotFound)
			}
		} else {
			mrh, err := parseMftRecordHeader(record)
			log.PanicIf(err)

			if uint64(mrh.MftRecordNo) == recordNo {
				return offset, nil
			}

			advance := int64(mrh.BytesAllocated)
			if advance == 0 || advance > blockSize || advance%8 != 0 {
				log.Panic(ErrCorruptRecord)
			}

			offset += advance
		}

		if offset >= blockSize {
			*block++
			offset -= blockSize

			refill()
		}
	}
}

// AttrRecord is one attribute of an MFT record: the common header plus
// whichever of the resident and non-resident forms applies, and the
// attribute's offset within the record it was parsed from.
type AttrRecord struct {
	// Type is the attribute's 32-bit type code.
	Type uint32

	// Len advances the walker to the next attribute.
	Len uint32

	// NonResidentFlag discriminates the two value forms.
	NonResidentFlag uint8

	NameLen    uint8
	NameOffset uint16
	Flags      uint16
	Instance   uint16

	Resident struct {
		ValueLen    uint32
		ValueOffset uint16
		Indexed     uint8
		Reserved    uint8
	}

	NonResident struct {
		LowestVcn          uint64
		HighestVcn         uint64
		MappingPairsOffset uint16
		CompressionUnit    uint8
		Reserved           [5]byte
		AllocatedSize      int64
		DataSize           int64
		InitializedSize    int64
	}

	// Offset is where this attribute starts within its MFT record.
	Offset int
}

// IsNonResident indicates whether the value lives outside the record, in
// extents described by the mapping-pairs stream.
func (ar *AttrRecord) IsNonResident() bool {
	return ar.NonResidentFlag != 0
}

// String returns a description of the attribute.
func (ar *AttrRecord) String() string {
	return fmt.Sprintf("Attr<TYPE=(0x%02x) LEN=(%d) NON-RESIDENT=[%v]>", ar.Type, ar.Len, ar.IsNonResident())
}

type attrHeaderRaw struct {
	Type            uint32
	Len             uint32
	NonResidentFlag uint8
	NameLen         uint8
	NameOffset      uint16
	Flags           uint16
	Instance        uint16
}

type attrResidentRaw struct {
	ValueLen    uint32
	ValueOffset uint16
	Indexed     uint8
	Reserved    uint8
}

type attrNonResidentRaw struct {
	LowestVcn          uint64
	HighestVcn         uint64
	MappingPairsOffset uint16
	CompressionUnit    uint8
	Reserved           [5]byte
	AllocatedSize      int64
	DataSize           int64
	InitializedSize    int64
}

func parseAttrRecord(record []byte, offset int) (ar *AttrRecord, err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			err = log.Wrap(errRaw.(error))
		}
	}()

	if offset+attrHeaderSize > len(record) {
		log.Panic(ErrCorruptRecord)
	}

	header := attrHeaderRaw{}

	err = restruct.Unpack(record[offset:offset+attrHeaderSize], defaultEncoding, &header)
	log.PanicIf(err)

	ar = &AttrRecord{
		Type:            header.Type,
		Len:             header.Len,
		NonResidentFlag: header.NonResidentFlag,
		NameLen:         header.NameLen,
		NameOffset:      header.NameOffset,
		Flags:           header.Flags,
		Instance:        header.Instance,

		Offset: offset,
	}

	variantOffset := offset + attrHeaderSize

	if ar.IsNonResident() == true {
		if variantOffset+attrNonResidentSize > len(record) {
			log.Panic(ErrCorruptRecord)
		}

		raw := attrNonResidentRaw{}

		err = restruct.Unpack(record[variantOffset:variantOffset+attrNonResidentSize], defaultEncoding, &raw)
		log.PanicIf(err)

		ar.NonResident.LowestVcn = raw.LowestVcn
		ar.NonResident.HighestVcn = raw.HighestVcn
		ar.NonResident.MappingPairsOffset = raw.MappingPairsOffset
		ar.NonResident.CompressionUnit = raw.CompressionUnit
		ar.NonResident.AllocatedSize = raw.AllocatedSize
		ar.NonResident.DataSize = raw.DataSize
		ar.NonResident.InitializedSize = raw.InitializedSize
	} else {
		if variantOffset+attrResidentSize > len(record) {
			log.Panic(ErrCorruptRecord)
		}

		raw := attrResidentRaw{}

		err = restruct.Unpack(record[variantOffset:variantOffset+attrResidentSize], defaultEncoding, &raw)
		log.PanicIf(err)

		ar.Resident.ValueLen = raw.ValueLen
		ar.Resident.ValueOffset = raw.ValueOffset
		ar.Resident.Indexed = raw.Indexed
	}

	return ar, nil
}

// attrLookup iterates the record's attribute list from AttrsOffset and
// returns the first attribute of the requested type. An absent attribute
// surfaces as ErrNotFound; a zero or overflowing length as
// ErrCorruptRecord.
func attrLookup(attrType uint32, record []byte, mrh MftRecordHeader) (ar *AttrRecord, err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			var ok bool
			if err, ok = errRaw.(error); ok == true {
				err = log.Wrap(err)
			} else {
				err = log.Errorf("Error not an error: [%s] [%v]", reflect.TypeOf(err).Name(), err)
			}
		}
	}()

	if attrType == AttrTypeEnd {
		log.Panic(ErrNotFound)
	}

	bound := int(mrh.BytesAllocated)
	if bound > len(record) {
		bound = len(record)
	}

	offset := int(mrh.AttrsOffset)

	for {
		if offset+8 > bound {
			log.Panic(ErrCorruptRecord)
		}

		currentType := binary.LittleEndian.Uint32(record[offset:])
		if currentType == AttrTypeEnd {
			log.Panic(ErrNotFound)
		}

		length := int(binary.LittleEndian.Uint32(record[offset+4:]))
		if length == 0 || offset+length > bound {
			log.Panic(ErrCorruptRecord)
		}

		if currentType == attrType {
			ar, err := parseAttrRecord(record, offset)
			log.PanicIf(err)

			return ar, nil
		}

		offset += length
	}
}

// residentValue returns the value bytes of a resident attribute within its
// record.
func (ar *AttrRecord) residentValue(record []byte) (value []byte, err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			err = log.Wrap(errRaw.(error))
		}
	}()

	if ar.IsNonResident() == true {
		log.Panic(ErrCorruptRecord)
	}

	start := ar.Offset + int(ar.Resident.ValueOffset)
	end := start + int(ar.Resident.ValueLen)

	if start > end || end > len(record) || end > ar.Offset+int(ar.Len) {
		log.Panic(ErrCorruptRecord)
	}

	return record[start:end], nil
}

// mappingPairs returns the mapping-pairs byte stream of a non-resident
// attribute, bounded by the attribute's length.
func (ar *AttrRecord) mappingPairs(record []byte) (stream []byte, err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			err = log.Wrap(errRaw.(error))
		}
	}()

	if ar.IsNonResident() != true {
		log.Panic(ErrCorruptRecord)
	}

	start := ar.Offset + int(ar.NonResident.MappingPairsOffset)
	end := ar.Offset + int(ar.Len)

	if start > end || end > len(record) {
		log.Panic(ErrCorruptRecord)
	}

	return record[start:end], nil
}
