// This package supports searching and enumerating the filename index of a
// single directory: the resident $INDEX_ROOT entry list and the INDX
// blocks of $INDEX_ALLOCATION reached through the decoded runlist.

package ntfs

import (
	"fmt"
	"reflect"

	"github.com/dsoprea/go-logging"
	"github.com/go-restruct/restruct"
)

const (
	indexRootHeadSize    = 16
	indexHeaderSize      = 16
	indexBlockHeadSize   = 24
	indexEntryHeaderSize = 16
)

// Index entry flags.
const (
	// IndexEntryNode marks an entry trailed by a child-subtree VCN.
	IndexEntryNode = uint16(1)

	// IndexEntryEnd marks the terminal entry of a list; it carries no key.
	IndexEntryEnd = uint16(2)
)

// IndexHeader sizes and locates the entry list that follows it.
type IndexHeader struct {
	// EntriesOffset is relative to the start of this header.
	EntriesOffset uint32

	// IndexLen bounds the entry list, relative to the start of this
	// header.
	IndexLen uint32

	AllocatedSize uint32
	Flags         uint8
	Reserved      [3]byte
}

// IndexRoot is the head of the always-resident $INDEX_ROOT value.
type IndexRoot struct {
	// AttrType is the indexed attribute's type ($FILE_NAME for directory
	// indexes).
	AttrType uint32

	// CollationRule orders the keys on disk. It is recorded but not used
	// for pruning; the traversal is an exhaustive linear scan.
	CollationRule uint32

	// IndexBlockSize is the byte size of one INDX block.
	IndexBlockSize uint32

	ClustPerIndexBlock uint8
	Reserved           [3]byte

	Index IndexHeader
}

// String returns a description of the root.
func (ir IndexRoot) String() string {
	return fmt.Sprintf("IndexRoot<COLLATION=(0x%02x) BLOCK-SIZE=(%d)>", ir.CollationRule, ir.IndexBlockSize)
}

// indexBlockHead is the fixed head of one INDX block, before fixups the
// engine has already applied.
type indexBlockHead struct {
	Magic    [4]byte
	UsaOfs   uint16
	UsaCount uint16
	Lsn      uint64

	// IndexBlockVcn is the block's own VCN within the allocation.
	IndexBlockVcn uint64
}

// IndexEntry is one decoded entry of an entry list. Entries other than the
// terminal one carry a $FILE_NAME key copy.
type IndexEntry struct {
	// IndexedFile is the packed MFT reference of the entry's file.
	IndexedFile uint64

	Len    uint16
	KeyLen uint16
	Flags  uint16

	// FileName is the key head; nil on the terminal entry.
	FileName *FileNameAttr

	// NameUnits are the key's UTF-16 code units.
	NameUnits []uint16

	// SubnodeVcn is the child-subtree VCN; only meaningful when NODE is
	// set.
	SubnodeVcn uint64
}

// MftNo returns the entry's MFT record number, with the sequence bits
// masked off.
func (ie *IndexEntry) MftNo() uint64 {
	return ie.IndexedFile & mftReferenceMask
}

// IsEnd indicates the terminal entry.
func (ie *IndexEntry) IsEnd() bool {
	return ie.Flags&IndexEntryEnd > 0
}

// HasSubnode indicates a child subtree.
func (ie *IndexEntry) HasSubnode() bool {
	return ie.Flags&IndexEntryNode > 0
}

// String returns a description of the entry.
func (ie *IndexEntry) String() string {
	return fmt.Sprintf("IndexEntry<MFT=(%d) LEN=(%d) END=[%v] NODE=[%v]>", ie.MftNo(), ie.Len, ie.IsEnd(), ie.HasSubnode())
}

// IndexEntryVisitorFunc is a visitor callback over non-terminal index
// entries, in on-disk order.
type IndexEntryVisitorFunc func(ie *IndexEntry) (doContinue bool, err error)

// walkIndexEntries iterates the entry list that starts at the given
// INDEX_HEADER position, bounds-checking every step against the declared
// index length, and calls the visitor for each keyed entry. It returns the
// terminal entry, whose NODE flag steers descent, or nil when the visitor
// stops the walk early.
func walkIndexEntries(index []byte, ih IndexHeader, cb IndexEntryVisitorFunc) (terminal *IndexEntry, err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			err = log.Wrap(errRaw.(error))
		}
	}()

	indexLen := int(ih.IndexLen)
	if indexLen > len(index) {
		log.Panic(ErrCorruptIndex)
	}

	offset := int(ih.EntriesOffset)

	for {
		if offset < 0 || offset+indexEntryHeaderSize > indexLen {
			log.Panic(ErrCorruptIndex)
		}

		ie := &IndexEntry{
			IndexedFile: defaultEncoding.Uint64(index[offset:]),
			Len:         defaultEncoding.Uint16(index[offset+8:]),
			KeyLen:      defaultEncoding.Uint16(index[offset+10:]),
			Flags:       defaultEncoding.Uint16(index[offset+12:]),
		}

		entryLen := int(ie.Len)
		if entryLen < indexEntryHeaderSize || offset+entryLen > indexLen {
			log.Panic(ErrCorruptIndex)
		}

		if ie.IsEnd() == true {
			if ie.HasSubnode() == true {
				if entryLen < indexEntryHeaderSize+8 {
					log.Panic(ErrCorruptIndex)
				}

				ie.SubnodeVcn = defaultEncoding.Uint64(index[offset+entryLen-8:])
			}

			return ie, nil
		}

		if int(ie.KeyLen) >= fileNameAttrHeaderSize {
			if offset+indexEntryHeaderSize+int(ie.KeyLen) > indexLen {
				log.Panic(ErrCorruptIndex)
			}

			key := index[offset+indexEntryHeaderSize : offset+indexEntryHeaderSize+int(ie.KeyLen)]

			fn, units, err := parseFileNameAttr(key)
			log.PanicIf(err)

			ie.FileName = &fn
			ie.NameUnits = units
		}

		doContinue, err := cb(ie)
		log.PanicIf(err)

		if doContinue == false {
			return nil, nil
		}

		offset += entryLen
	}
}

// indexRootOfRecord locates $INDEX_ROOT in a staged directory record and
// returns the parsed head along with the raw bytes from the embedded
// INDEX_HEADER onward.
func indexRootOfRecord(record []byte, mrh MftRecordHeader) (ir IndexRoot, index []byte, err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			err = log.Wrap(errRaw.(error))
		}
	}()

	attr, err := attrLookup(AttrTypeIndexRoot, record, mrh)
	log.PanicIf(err)

	value, err := attr.residentValue(record)
	log.PanicIf(err)

	if len(value) < indexRootHeadSize+indexHeaderSize {
		log.Panic(ErrCorruptIndex)
	}

	err = restruct.Unpack(value[:indexRootHeadSize+indexHeaderSize], defaultEncoding, &ir)
	log.PanicIf(err)

	return ir, value[indexRootHeadSize:], nil
}

// EnumerateIndexEntries visits every keyed entry reachable from the
// directory's index, in the observable order: the root's inline list
// first, then each INDX block in runlist order, entries in on-disk order
// within each block. Every fetched INDX block has its fixups applied and
// its magic verified before its entries are interpreted.
func (nr *NtfsReader) EnumerateIndexEntries(dir *Inode, cb IndexEntryVisitorFunc) (err error) {
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
	block := dir.Start

	offset, err := nr.mftRecordLookup(dir.MftNo, &block, data)
	log.PanicIf(err)

	record := data[offset : offset+int64(sb.MftRecordSize)]

	mrh, err := parseMftRecordHeader(record)
	log.PanicIf(err)

	ir, index, err := indexRootOfRecord(record, mrh)
	log.PanicIf(err)

	stop := false

	wrapped := func(ie *IndexEntry) (doContinue bool, err error) {
		doContinue, err = cb(ie)
		if err != nil {
			return false, err
		}

		if doContinue == false {
			stop = true
		}

		return doContinue, nil
	}

	terminal, err := walkIndexEntries(index, ir.Index, wrapped)
	log.PanicIf(err)

	if stop == true || terminal == nil || terminal.HasSubnode() != true {
		return nil
	}

	// Descend: the remaining entries live in INDX blocks reached through
	// the $INDEX_ALLOCATION runlist.

	attr, err := attrLookup(AttrTypeIndexAllocation, record, mrh)
	if err != nil {
		if log.Is(err, ErrNotFound) == true {
			log.Panic(ErrCorruptIndex)
		}

		log.Panic(err)
	}

	if attr.IsNonResident() != true {
		// $INDEX_ALLOCATION is always non-resident.
		log.Panic(ErrCorruptIndex)
	}

	stream, err := attr.mappingPairs(record)
	log.PanicIf(err)

	rd := NewRunlistDecoder(stream, attr.NonResident.LowestVcn)

	blockSize := uint64(sb.BlockSize)
	indexBlockSize := uint64(dir.Index.BlockSize)
	if indexBlockSize == 0 || indexBlockSize > blockSize {
		log.Panic(ErrCorruptIndex)
	}

	staging := make([]byte, sb.BlockSize)

	for {
		chunk, err := rd.Next()
		log.PanicIf(err)

		if chunk.Flags&MapEnd > 0 {
			break
		}

		if chunk.Flags&MapUnallocated > 0 {
			continue
		}

		for vcn := chunk.CurVcn; vcn < chunk.NextVcn; vcn++ {
			lcn := chunk.CurLcn + int64(vcn-chunk.CurVcn)

			byteOffset := uint64(lcn) << uint(sb.ClustByteShift)
			fetchBlock := byteOffset >> uint(sb.BlockShift)
			inBlock := byteOffset & (blockSize - 1)

			if inBlock+indexBlockSize > blockSize {
				log.Panic(ErrCorruptIndex)
			}

			raw, err := nr.getBlock(fetchBlock)
			log.PanicIf(err)

			// Borrowed page; copy before anything else fetches.
			copy(staging[:blockSize], raw)

			iblock := staging[inBlock : inBlock+indexBlockSize]

			err = applyFixups(iblock, sb.SectorSize)
			log.PanicIf(err)

			if string(iblock[:4]) != string(magicIndx) {
				log.Panic(ErrNotARecord)
			}

			ibh := indexBlockHead{}

			err = restruct.Unpack(iblock[:indexBlockHeadSize], defaultEncoding, &ibh)
			log.PanicIf(err)

			ih := IndexHeader{}

			err = restruct.Unpack(iblock[indexBlockHeadSize:indexBlockHeadSize+indexHeaderSize], defaultEncoding, &ih)
			log.PanicIf(err)

			_, err = walkIndexEntries(iblock[indexBlockHeadSize:], ih, wrapped)
			log.PanicIf(err)

			if stop == true {
				return nil
			}
		}
	}

	return nil
}

// indexLookup searches the directory's index for a component name, using
// the codepage matcher against each candidate's own $FILE_NAME, and
// materialises an inode for the first match. The scan is exhaustive over
// every reachable entry; a miss surfaces as ErrNotFound.
func (nr *NtfsReader) indexLookup(component string, dir *Inode) (inode *Inode, err error) {
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

	matched := uint64(0)
	found := false

	cb := func(ie *IndexEntry) (doContinue bool, err error) {
		if nr.matchLongname(component, ie.MftNo()) == true {
			matched = ie.MftNo()
			found = true

			return false, nil
		}

		return true, nil
	}

	err = nr.EnumerateIndexEntries(dir, cb)
	log.PanicIf(err)

	if found != true {
		return nil, ErrNotFound
	}

	inode, err = nr.indexInodeSetup(matched)
	log.PanicIf(err)

	return inode, nil
}
