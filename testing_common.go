package ntfs

import (
	"bytes"

	"encoding/binary"
	"unicode/utf16"
)

// The synthetic test volume: 512-byte sectors, eight sectors per cluster,
// 1 KiB MFT records (clust_per_mft_record of -10), MFT at cluster four.
const (
	testSectorSize   = 512
	testSecPerClust  = 8
	testClusterSize  = testSectorSize * testSecPerClust
	testRecordSize   = 1024
	testMftLclust    = 4
	testMftOffset    = testMftLclust * testClusterSize
	testTotalSectors = 512

	testUsn = uint16(0x0037)

	// Data placement, in clusters.
	testIndxLcn = 0x10
	testDataLcn = 0x14

	// MFT record numbers used by the fixture.
	testRecRoot     = 5
	testRecAutoexec = 40
	testRecConfig   = 41
	testRecSubdir   = 42
	testRecKernel   = 43
)

var (
	testResidentContent = []byte("hello world\n12345")

	testNonResidentSize = 6000
)

func testNonResidentContent() []byte {
	content := make([]byte, testNonResidentSize)
	for i := range content {
		content[i] = byte(i % 251)
	}

	return content
}

func putUint16(b []byte, off int, v uint16) {
	binary.LittleEndian.PutUint16(b[off:], v)
}

func putUint32(b []byte, off int, v uint32) {
	binary.LittleEndian.PutUint32(b[off:], v)
}

func putUint64(b []byte, off int, v uint64) {
	binary.LittleEndian.PutUint64(b[off:], v)
}

func align8(n int) int {
	return (n + 7) &^ 7
}

func buildTestBootSector() []byte {
	b := make([]byte, testSectorSize)

	copy(b[0:], []byte{0xeb, 0x52, 0x90})
	copy(b[3:], []byte("NTFS    "))

	putUint16(b, 0x0b, testSectorSize)
	b[0x0d] = testSecPerClust

	// Reserved sectors and the documented zero regions stay zero.

	b[0x15] = 0xf8
	putUint32(b, 0x24, 0x80008000)

	putUint64(b, 0x28, testTotalSectors)
	putUint64(b, 0x30, testMftLclust)
	putUint64(b, 0x38, testMftLclust+4)

	b[0x40] = 0xf6 // -10: 1 KiB MFT records
	b[0x44] = 0x01 // one cluster per index record

	putUint64(b, 0x48, 0x3c9a8b7c6d5e4f30)

	putUint16(b, 510, 0xaa55)

	return b
}

// applyTestFixups converts an in-memory record to its on-disk form: the
// original tail words are saved into the USA and replaced by the USN.
func applyTestFixups(record []byte, usaOfs int, usn uint16) {
	sectors := len(record) / testSectorSize

	putUint16(record, usaOfs, usn)

	for i := 0; i < sectors; i++ {
		tail := (i+1)*testSectorSize - 2

		saved := binary.LittleEndian.Uint16(record[tail:])
		putUint16(record, usaOfs+2+i*2, saved)
		putUint16(record, tail, usn)
	}
}

// buildTestMftRecord assembles a FILE record from finished attribute
// blobs and applies the on-disk fixups.
func buildTestMftRecord(recordNo uint32, seqNo uint16, isDirectory bool, attrs ...[]byte) []byte {
	record := make([]byte, testRecordSize)

	usaOfs := 48
	usaCount := testRecordSize/testSectorSize + 1
	attrsOffset := align8(usaOfs + usaCount*2)

	copy(record[0:], []byte("FILE"))
	putUint16(record, 4, uint16(usaOfs))
	putUint16(record, 6, uint16(usaCount))
	putUint16(record, 0x10, seqNo)
	putUint16(record, 0x12, 1)
	putUint16(record, 0x14, uint16(attrsOffset))

	flags := MftRecordInUse
	if isDirectory == true {
		flags |= MftRecordIsDirectory
	}

	putUint16(record, 0x16, flags)

	offset := attrsOffset
	for _, attr := range attrs {
		copy(record[offset:], attr)
		offset += len(attr)
	}

	// Attribute list terminator.
	putUint32(record, offset, AttrTypeEnd)
	offset += 8

	putUint32(record, 0x18, uint32(offset))
	putUint32(record, 0x1c, testRecordSize)
	putUint16(record, 0x28, uint16(len(attrs)+1))
	putUint32(record, 0x2c, recordNo)

	applyTestFixups(record, usaOfs, testUsn)

	return record
}

func buildTestResidentAttr(attrType uint32, value []byte) []byte {
	length := align8(24 + len(value))
	attr := make([]byte, length)

	putUint32(attr, 0, attrType)
	putUint32(attr, 4, uint32(length))
	putUint32(attr, 0x10, uint32(len(value)))
	putUint16(attr, 0x14, 24)

	copy(attr[24:], value)

	return attr
}

func buildTestNonResidentAttr(attrType uint32, lowestVcn, highestVcn uint64, allocated, data, initialized int64, runlist []byte) []byte {
	length := align8(64 + len(runlist))
	attr := make([]byte, length)

	putUint32(attr, 0, attrType)
	putUint32(attr, 4, uint32(length))
	attr[8] = 1

	putUint64(attr, 0x10, lowestVcn)
	putUint64(attr, 0x18, highestVcn)
	putUint16(attr, 0x20, 64)
	putUint64(attr, 0x28, uint64(allocated))
	putUint64(attr, 0x30, uint64(data))
	putUint64(attr, 0x38, uint64(initialized))

	copy(attr[64:], runlist)

	return attr
}

func buildTestFileNameValue(parentRef uint64, name string, fileAttrs FileAttrFlags, dataSize uint64) []byte {
	units := utf16.Encode([]rune(name))

	value := make([]byte, fileNameAttrHeaderSize+len(units)*2)

	putUint64(value, 0, parentRef)
	putUint64(value, 40, (dataSize+testClusterSize-1)&^uint64(testClusterSize-1))
	putUint64(value, 48, dataSize)
	putUint32(value, 56, uint32(fileAttrs))

	value[64] = uint8(len(units))
	value[65] = FileNameTypeWin32

	for i, unit := range units {
		putUint16(value, fileNameAttrHeaderSize+i*2, unit)
	}

	return value
}

func buildTestIndexEntry(mftRef uint64, key []byte) []byte {
	length := align8(indexEntryHeaderSize + len(key))
	entry := make([]byte, length)

	putUint64(entry, 0, mftRef)
	putUint16(entry, 8, uint16(length))
	putUint16(entry, 10, uint16(len(key)))

	copy(entry[indexEntryHeaderSize:], key)

	return entry
}

func buildTestEndEntry(subnodeVcn uint64, hasSubnode bool) []byte {
	length := indexEntryHeaderSize
	flags := IndexEntryEnd

	if hasSubnode == true {
		length += 8
		flags |= IndexEntryNode
	}

	entry := make([]byte, length)

	putUint16(entry, 8, uint16(length))
	putUint16(entry, 12, flags)

	if hasSubnode == true {
		putUint64(entry, length-8, subnodeVcn)
	}

	return entry
}

func buildTestIndexRootValue(entries ...[]byte) []byte {
	entriesLen := 0
	for _, entry := range entries {
		entriesLen += len(entry)
	}

	value := make([]byte, indexRootHeadSize+indexHeaderSize+entriesLen)

	putUint32(value, 0, AttrTypeFileName)
	putUint32(value, 4, 1)
	putUint32(value, 8, testClusterSize)
	value[12] = 1

	putUint32(value, 16, indexHeaderSize)
	putUint32(value, 20, uint32(indexHeaderSize+entriesLen))
	putUint32(value, 24, uint32(indexHeaderSize+entriesLen))

	offset := indexRootHeadSize + indexHeaderSize
	for _, entry := range entries {
		copy(value[offset:], entry)
		offset += len(entry)
	}

	return value
}

func buildTestIndexBlock(vcn uint64, entries ...[]byte) []byte {
	block := make([]byte, testClusterSize)

	usaOfs := 40
	usaCount := testClusterSize/testSectorSize + 1
	entriesAbsolute := align8(usaOfs + usaCount*2)
	entriesOffset := entriesAbsolute - indexBlockHeadSize

	copy(block[0:], []byte("INDX"))
	putUint16(block, 4, uint16(usaOfs))
	putUint16(block, 6, uint16(usaCount))
	putUint64(block, 16, vcn)

	entriesLen := 0
	for _, entry := range entries {
		copy(block[entriesAbsolute+entriesLen:], entry)
		entriesLen += len(entry)
	}

	putUint32(block, indexBlockHeadSize, uint32(entriesOffset))
	putUint32(block, indexBlockHeadSize+4, uint32(entriesOffset+entriesLen))
	putUint32(block, indexBlockHeadSize+8, uint32(testClusterSize-indexBlockHeadSize))

	applyTestFixups(block, usaOfs, testUsn+1)

	return block
}

// buildTestVolume assembles the fixture volume:
//
//	/            (record 5)
//	AUTOEXEC.BAT (record 40, resident data)
//	CONFIG.SYS   (record 41, non-resident data at cluster 0x14)
//	SUBDIR       (record 42, index continued in an INDX block at 0x10)
//	SUBDIR/KERNEL.SYS (record 43, resident data)
func buildTestVolume() []byte {
	volume := make([]byte, testTotalSectors*testSectorSize)

	copy(volume[0:], buildTestBootSector())

	writeRecord := func(recordNo int, record []byte) {
		copy(volume[testMftOffset+recordNo*testRecordSize:], record)
	}

	// Filler records so the locator can walk from record zero.
	for i := 0; i <= testRecKernel; i++ {
		writeRecord(i, buildTestMftRecord(uint32(i), 1, false))
	}

	rootKeyAutoexec := buildTestFileNameValue(testRecRoot, "AUTOEXEC.BAT", FileAttrArchive, uint64(len(testResidentContent)))
	rootKeyConfig := buildTestFileNameValue(testRecRoot, "CONFIG.SYS", FileAttrArchive, uint64(testNonResidentSize))
	rootKeySubdir := buildTestFileNameValue(testRecRoot, "SUBDIR", FileAttrDupFileNameIndexPresent, 0)

	rootRecord := buildTestMftRecord(testRecRoot, 5, true,
		buildTestResidentAttr(AttrTypeFileName,
			buildTestFileNameValue(testRecRoot, ".",
				FileAttrHidden|FileAttrSystem|FileAttrDupFileNameIndexPresent, 0)),
		buildTestResidentAttr(AttrTypeIndexRoot,
			buildTestIndexRootValue(
				buildTestIndexEntry(testRecAutoexec, rootKeyAutoexec),
				buildTestIndexEntry(testRecConfig, rootKeyConfig),
				buildTestIndexEntry(testRecSubdir, rootKeySubdir),
				buildTestEndEntry(0, false))))

	writeRecord(testRecRoot, rootRecord)

	writeRecord(testRecAutoexec, buildTestMftRecord(testRecAutoexec, 1, false,
		buildTestResidentAttr(AttrTypeFileName,
			buildTestFileNameValue(testRecRoot, "AUTOEXEC.BAT", FileAttrArchive, uint64(len(testResidentContent)))),
		buildTestResidentAttr(AttrTypeData, testResidentContent)))

	// CONFIG.SYS: two clusters at LCN 0x14.
	configRunlist := []byte{0x11, 0x02, testDataLcn, 0x00}

	writeRecord(testRecConfig, buildTestMftRecord(testRecConfig, 1, false,
		buildTestResidentAttr(AttrTypeFileName,
			buildTestFileNameValue(testRecRoot, "CONFIG.SYS", FileAttrArchive, uint64(testNonResidentSize))),
		buildTestNonResidentAttr(AttrTypeData, 0, 1,
			2*testClusterSize, int64(testNonResidentSize), int64(testNonResidentSize),
			configRunlist)))

	copy(volume[testDataLcn*testClusterSize:], testNonResidentContent())

	// SUBDIR: an empty root list whose terminal entry points at the INDX
	// block.
	subdirRunlist := []byte{0x11, 0x01, testIndxLcn, 0x00}

	writeRecord(testRecSubdir, buildTestMftRecord(testRecSubdir, 1, true,
		buildTestResidentAttr(AttrTypeFileName,
			buildTestFileNameValue(testRecRoot, "SUBDIR", FileAttrDupFileNameIndexPresent, 0)),
		buildTestResidentAttr(AttrTypeIndexRoot,
			buildTestIndexRootValue(
				buildTestEndEntry(0, true))),
		buildTestNonResidentAttr(AttrTypeIndexAllocation, 0, 0,
			testClusterSize, testClusterSize, testClusterSize,
			subdirRunlist)))

	kernelContent := []byte("kernel image bytes")

	indxKeyKernel := buildTestFileNameValue(testRecSubdir, "KERNEL.SYS", FileAttrArchive, uint64(len(kernelContent)))

	copy(volume[testIndxLcn*testClusterSize:],
		buildTestIndexBlock(0,
			buildTestIndexEntry(testRecKernel, indxKeyKernel),
			buildTestEndEntry(0, false)))

	writeRecord(testRecKernel, buildTestMftRecord(testRecKernel, 1, false,
		buildTestResidentAttr(AttrTypeFileName,
			buildTestFileNameValue(testRecSubdir, "KERNEL.SYS", FileAttrArchive, uint64(len(kernelContent)))),
		buildTestResidentAttr(AttrTypeData, kernelContent)))

	return volume
}

// getTestReader returns an initialized reader over a fresh fixture volume.
func getTestReader() *NtfsReader {
	volume := buildTestVolume()

	nr := NewNtfsReader(bytes.NewReader(volume))

	_, err := nr.Init()
	if err != nil {
		panic(err)
	}

	return nr
}
