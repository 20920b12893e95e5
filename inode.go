// This package materialises reader-side inodes from MFT records and
// serves the extent and data read paths.

package ntfs

import (
	"fmt"
	"reflect"

	"github.com/dsoprea/go-logging"
)

// FileRoot is the MFT record number of the root directory.
const FileRoot = uint64(5)

// Inode is the reader-side handle for one resolved file or directory. It
// owns no disk memory; every read goes back through the block cache.
type Inode struct {
	// MftNo and SeqNo identify the MFT record.
	MftNo uint64
	SeqNo uint16

	// Size is the logical byte size: the resident value length, or the
	// initialized size of a non-resident $DATA.
	Size uint64

	// Mode distinguishes directories from regular files.
	Mode DirentType

	// Start and Here are MFT-relative blocks: where record walks for this
	// inode begin, and where the record was actually found.
	Start uint64
	Here  uint64

	// NonResident reflects the unnamed $DATA attribute's form.
	NonResident bool

	// Resident captures where the inline value sits within the record.
	Resident struct {
		ValueOffset uint32
	}

	// Data captures the first allocated extent of a non-resident $DATA.
	Data struct {
		StartVcn     uint64
		NextVcn      uint64
		VcnRunLength uint64
		StartLcn     int64
	}

	// Index captures a directory's index geometry.
	Index struct {
		CollationRule  uint32
		BlockSize      uint32
		BlockSizeShift int
		VcnSize        uint32
		VcnSizeShift   int
	}
}

// String returns a description of the inode.
func (inode *Inode) String() string {
	return fmt.Sprintf("Inode<MFT=(%d) MODE=(%d) SIZE=(%d) NON-RESIDENT=[%v]>", inode.MftNo, inode.Mode, inode.Size, inode.NonResident)
}

// IsDirectory indicates whether the inode is a directory.
func (inode *Inode) IsDirectory() bool {
	return inode.Mode == DirentTypeDirectory
}

// File is an open handle: an inode plus a byte cursor for streaming reads
// and a position for directory enumeration.
type File struct {
	inode *Inode

	// Offset is the streaming byte cursor for files, and the entry
	// ordinal for directories.
	Offset uint64
}

// NewFile returns a handle positioned at the start.
func NewFile(inode *Inode) *File {
	return &File{
		inode: inode,
	}
}

// Inode returns the handle's inode.
func (f *File) Inode() *Inode {
	return f.inode
}

// Extent maps a span of a file onto the device, in sector units.
type Extent struct {
	// Pstart is the physical start sector of the requested logical
	// position.
	Pstart uint64

	// Len counts sectors from Pstart through the last sector of the file's
	// data (its size rounded up to whole sectors).
	Len uint32
}

// getInodeMode classifies a record as directory or regular file from the
// file_attrs of its $FILE_NAME attribute: anything set besides the archive
// bit marks a directory (the filename-index bit included); archive-only,
// or nothing, is a regular file.
func getInodeMode(record []byte, mrh MftRecordHeader) (dt DirentType, err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			err = log.Wrap(errRaw.(error))
		}
	}()

	attr, err := attrLookup(AttrTypeFileName, record, mrh)
	if err != nil {
		return DirentTypeUnknown, nil
	}

	value, err := attr.residentValue(record)
	log.PanicIf(err)

	fn, _, err := parseFileNameAttr(value)
	log.PanicIf(err)

	if fn.FileAttrs&^FileAttrArchive != 0 {
		return DirentTypeDirectory, nil
	}

	return DirentTypeRegular, nil
}

// indexInodeSetup loads the MFT record with the given number and populates
// a fresh inode: index geometry for directories, the $DATA shape for
// regular files.
func (nr *NtfsReader) indexInodeSetup(mftNo uint64) (inode *Inode, err error) {
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

	sb := nr.sb

	data := make([]byte, sb.BlockSize)
	block := uint64(0)

	offset, err := nr.mftRecordLookup(mftNo, &block, data)
	log.PanicIf(err)

	record := data[offset : offset+int64(sb.MftRecordSize)]

	mrh, err := parseMftRecordHeader(record)
	log.PanicIf(err)

	inode = &Inode{
		MftNo: mftNo,
		SeqNo: mrh.SeqNo,
		Start: block,
		Here:  block,
	}

	dt, err := getInodeMode(record, mrh)
	log.PanicIf(err)

	if dt == DirentTypeUnknown {
		log.Panic(ErrNotFound)
	}

	inode.Mode = dt

	if dt == DirentTypeDirectory {
		ir, _, err := indexRootOfRecord(record, mrh)
		log.PanicIf(err)

		inode.Index.CollationRule = ir.CollationRule
		inode.Index.BlockSize = ir.IndexBlockSize
		inode.Index.BlockSizeShift = ilog2(uint64(ir.IndexBlockSize))

		// A VCN within the index is one cluster, unless clusters are
		// larger than an index block; then it is one reader block.
		if sb.ClustSize <= ir.IndexBlockSize {
			inode.Index.VcnSize = sb.ClustSize
			inode.Index.VcnSizeShift = sb.ClustByteShift
		} else {
			inode.Index.VcnSize = sb.BlockSize
			inode.Index.VcnSizeShift = sb.BlockShift
		}

		return inode, nil
	}

	attr, err := attrLookup(AttrTypeData, record, mrh)
	log.PanicIf(err)

	inode.NonResident = attr.IsNonResident()

	if attr.IsNonResident() != true {
		inode.Resident.ValueOffset = uint32(attr.Offset) + uint32(attr.Resident.ValueOffset)
		inode.Size = uint64(attr.Resident.ValueLen)

		return inode, nil
	}

	stream, err := attr.mappingPairs(record)
	log.PanicIf(err)

	rd := NewRunlistDecoder(stream, attr.NonResident.LowestVcn)

	for {
		chunk, err := rd.Next()
		log.PanicIf(err)

		if chunk.Flags&MapUnallocated > 0 {
			continue
		}

		if chunk.Flags&MapEnd > 0 {
			// A non-resident $DATA without a single allocated run.
			log.Panic(ErrCorruptRunlist)
		}

		inode.Data.StartVcn = chunk.CurVcn
		inode.Data.NextVcn = chunk.NextVcn
		inode.Data.VcnRunLength = chunk.RunLength()
		inode.Data.StartLcn = chunk.CurLcn

		break
	}

	inode.Size = uint64(attr.NonResident.InitializedSize)

	return inode, nil
}

// IgetRoot materialises the root directory.
func (nr *NtfsReader) IgetRoot() (inode *Inode, err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			err = log.Wrap(errRaw.(error))
		}
	}()

	inode, err = nr.indexInodeSetup(FileRoot)
	log.PanicIf(err)

	inode.Start = inode.Here

	return inode, nil
}

// Iget resolves one path component inside the parent directory. An absent
// component surfaces as ErrNotFound.
func (nr *NtfsReader) Iget(component string, parent *Inode) (inode *Inode, err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			err = log.Wrap(errRaw.(error))
		}
	}()

	if parent.IsDirectory() != true {
		return nil, ErrNotFound
	}

	inode, err = nr.indexLookup(component, parent)
	if err != nil {
		if log.Is(err, ErrNotFound) == true {
			return nil, ErrNotFound
		}

		log.Panic(err)
	}

	return inode, nil
}

// NextExtent answers where the sector at the given logical file sector
// lives. `eof` is set when the position is past the file's cluster count.
// The baseline reports the single leading run, which is sufficient for
// files contained in one extent.
func (nr *NtfsReader) NextExtent(inode *Inode, lstart uint32) (extent Extent, eof bool, err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			err = log.Wrap(errRaw.(error))
		}
	}()

	sb := nr.sb

	clusterBytes := uint64(1) << uint(sb.ClustByteShift)

	mcluster := uint64(lstart) >> uint(sb.ClustShift)
	tcluster := (inode.Size + clusterBytes - 1) >> uint(sb.ClustByteShift)

	if mcluster >= tcluster {
		return extent, true, nil
	}

	totalSectors := uint32((inode.Size + uint64(sb.SectorSize) - 1) >> uint(sb.SectorShift))

	var pstart uint64
	if inode.NonResident != true {
		// Resident data is read straight out of the record's home block.
		pstart = (sb.MftBlock + inode.Here) << uint(sb.BlockShift-sb.SectorShift)
	} else {
		pstart = uint64(inode.Data.StartLcn) << uint(sb.ClustShift)
	}

	extent.Pstart = pstart + uint64(lstart)
	extent.Len = totalSectors - lstart

	return extent, false, nil
}

// GetFsSec transfers up to `sectors` sectors of the file into buf,
// starting at the handle's offset, and reports whether more data remains.
// Resident data is copied out of the (already fixed-up) MFT record;
// non-resident data is served by the generic extent-driven path.
func (nr *NtfsReader) GetFsSec(f *File, buf []byte, sectors int) (n uint32, haveMore bool, err error) {
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

	sb := nr.sb
	inode := f.inode

	if sectors <= 0 || f.Offset >= inode.Size {
		return 0, false, nil
	}

	capacity := uint64(sectors) << uint(sb.SectorShift)
	if uint64(len(buf)) < capacity {
		log.Panicf("buffer too small for (%d) sectors", sectors)
	}

	if inode.NonResident != true {
		// Re-read the record and copy the resident value out; the fixup
		// engine has already reconciled the staged block.

		data := make([]byte, sb.BlockSize)
		block := inode.Start

		offset, err := nr.mftRecordLookup(inode.MftNo, &block, data)
		log.PanicIf(err)

		record := data[offset : offset+int64(sb.MftRecordSize)]

		mrh, err := parseMftRecordHeader(record)
		log.PanicIf(err)

		attr, err := attrLookup(AttrTypeData, record, mrh)
		log.PanicIf(err)

		value, err := attr.residentValue(record)
		log.PanicIf(err)

		remaining := inode.Size - f.Offset
		count := remaining
		if count > capacity {
			count = capacity
		}

		copy(buf, value[f.Offset:f.Offset+count])

		f.Offset += count

		return uint32(count), f.Offset < inode.Size, nil
	}

	// Generic extent-driven path.

	lstart := uint32(f.Offset >> uint(sb.SectorShift))

	extent, eof, err := nr.NextExtent(inode, lstart)
	log.PanicIf(err)

	if eof == true {
		return 0, false, nil
	}

	readSectors := uint32(sectors)
	if readSectors > extent.Len {
		readSectors = extent.Len
	}

	byteCount := uint64(readSectors) << uint(sb.SectorShift)

	err = nr.dev.ReadSectors(buf[:byteCount], extent.Pstart, int(readSectors))
	if err != nil {
		log.Panic(ErrIo)
	}

	remaining := inode.Size - f.Offset
	if byteCount > remaining {
		byteCount = remaining
	}

	f.Offset += byteCount

	return uint32(byteCount), f.Offset < inode.Size, nil
}

// Readdir fills the dirent with the next entry of the directory, visiting
// entries in on-disk order within each block and blocks in runlist order.
// DOS-only duplicate names are skipped. Exhaustion surfaces as
// ErrNotFound.
func (nr *NtfsReader) Readdir(f *File, dirent *Dirent) (err error) {
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

	if f.inode.IsDirectory() != true {
		return ErrNotFound
	}

	position := uint64(0)
	var found *IndexEntry

	cb := func(ie *IndexEntry) (doContinue bool, err error) {
		if ie.FileName == nil || ie.FileName.FileNameType == FileNameTypeDos {
			return true, nil
		}

		if position == f.Offset {
			found = ie
			return false, nil
		}

		position++

		return true, nil
	}

	err = nr.EnumerateIndexEntries(f.inode, cb)
	log.PanicIf(err)

	if found == nil {
		return ErrNotFound
	}

	name, err := nr.cvtLongname(found.NameUnits)
	log.PanicIf(err)

	if len(name) > NtfsMaxFileNameLen {
		name = name[:NtfsMaxFileNameLen]
	}

	dirent.Ino = found.MftNo()
	dirent.Off = f.Offset
	dirent.Reclen = uint16(direntHeaderSize + len(name) + 1)

	if found.FileName.FileAttrs&^FileAttrArchive != 0 {
		dirent.Type = DirentTypeDirectory
	} else {
		dirent.Type = DirentTypeRegular
	}

	dirent.Name = name

	f.Offset++

	return nil
}
