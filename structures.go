// This package manages the low-level, on-disk storage structures.

package ntfs

import (
	"bytes"
	"fmt"
	"io"
	"reflect"

	"encoding/binary"

	"github.com/dsoprea/go-logging"
	"github.com/go-restruct/restruct"
)

const (
	bootSectorSize = 512

	// bpbPackedSize is the number of leading boot-sector bytes covered by
	// the BootSectorHeader structure.
	bpbPackedSize = 84

	// minBlockShift keeps the reader block large enough to stage a whole
	// MFT record (at least 1 KiB).
	minBlockShift = 10
)

// maxClusterCount is the clamp applied to the derived total cluster count.
const maxClusterCount = uint64(0xFFFFFFFFFFF4)

var (
	defaultEncoding = binary.LittleEndian

	acceptedOemNames = [][]byte{
		[]byte("NTFS    "),
		[]byte("MSWIN4.0"),
		[]byte("MSWIN4.1"),
	}
)

// BootSectorHeader describes the BIOS Parameter Block at the head of the
// volume's first sector.
type BootSectorHeader struct {
	// JumpBoot is the x86 jump to the boot code. Not interpreted.
	JumpBoot [3]byte

	// OemName identifies the formatter. The accepted values are
	// "NTFS    ", "MSWIN4.0", and "MSWIN4.1".
	OemName [8]byte

	// SectorSize is the bytes-per-sector recorded by the formatter. The
	// reader derives its geometry from the device's sector shift instead.
	SectorSize uint16

	// SecPerClust is the sectors-per-cluster count (a power of two).
	SecPerClust uint8

	// ResSectors must be zero on an NTFS volume.
	ResSectors uint16

	// Zero0, Zero1, Zero2, Zero3 are the documented must-be-zero regions
	// that distinguish NTFS from FAT-family boot sectors.
	Zero0 [3]byte
	Zero1 uint16

	// Media is the legacy media descriptor. Not interpreted.
	Media uint8

	Zero2 uint16

	// Unused0 through Unused2 are the legacy CHS geometry and hidden
	// sector fields. Not interpreted.
	Unused0 uint16
	Unused1 uint16
	Unused2 uint32

	Zero3 uint32

	// Unused3 is always 0x80008000 on real volumes. Not interpreted.
	Unused3 uint32

	// TotalSectors is the size of the volume in sectors.
	TotalSectors uint64

	// MftLclust is the logical cluster number of the start of the MFT.
	MftLclust uint64

	// MftMirrLclust is the logical cluster number of the MFT mirror.
	MftMirrLclust uint64

	// ClustPerMftRecord is signed: a negative value means the MFT record
	// size is (1 << -value) bytes; a positive value counts clusters.
	ClustPerMftRecord int8

	Unused4 [3]byte

	// ClustPerIdxRecord follows the same signed convention for index
	// records.
	ClustPerIdxRecord int8

	Unused5 [3]byte

	// VolumeSerialNumber is the formatter-assigned serial.
	VolumeSerialNumber uint64

	// Checksum is unused by NT.
	Checksum uint32
}

// Dump prints all of the BPB parameters.
func (bsh BootSectorHeader) Dump() {
	fmt.Printf("Boot Sector Header\n")
	fmt.Printf("==================\n")
	fmt.Printf("\n")

	fmt.Printf("OemName: [%s]\n", string(bsh.OemName[:]))
	fmt.Printf("SectorSize: (%d)\n", bsh.SectorSize)
	fmt.Printf("SecPerClust: (%d)\n", bsh.SecPerClust)
	fmt.Printf("TotalSectors: (%d)\n", bsh.TotalSectors)
	fmt.Printf("MftLclust: (%d)\n", bsh.MftLclust)
	fmt.Printf("MftMirrLclust: (%d)\n", bsh.MftMirrLclust)
	fmt.Printf("ClustPerMftRecord: (%d)\n", bsh.ClustPerMftRecord)
	fmt.Printf("ClustPerIdxRecord: (%d)\n", bsh.ClustPerIdxRecord)
	fmt.Printf("VolumeSerialNumber: (0x%016x)\n", bsh.VolumeSerialNumber)
	fmt.Printf("\n")
}

// String returns a description of the boot sector.
func (bsh BootSectorHeader) String() string {
	return fmt.Sprintf("BootSector<OEM=[%s] SN=(0x%016x)>", string(bsh.OemName[:]), bsh.VolumeSerialNumber)
}

func (bsh BootSectorHeader) zeroFieldsOk() bool {
	return bsh.ResSectors == 0 &&
		bsh.Zero0[0] == 0 && bsh.Zero0[1] == 0 && bsh.Zero0[2] == 0 &&
		bsh.Zero1 == 0 && bsh.Zero2 == 0 && bsh.Zero3 == 0
}

func (bsh BootSectorHeader) oemNameOk() bool {
	for _, accepted := range acceptedOemNames {
		if bytes.Equal(bsh.OemName[:], accepted) == true {
			return true
		}
	}

	return false
}

// Superblock carries the derived volume geometry. It is created once per
// mount, is read-only afterward, and is shared by all inodes of the mount.
type Superblock struct {
	// SectorShift and SectorSize come from the device.
	SectorShift int
	SectorSize  uint32

	// ClustShift is log2(sectors-per-cluster); ClustByteShift is
	// log2(cluster bytes).
	ClustShift     int
	ClustByteShift int
	ClustMask      uint32
	ClustSize      uint32

	// MftRecordSize and MftRecordShift describe one MFT record.
	MftRecordSize  uint32
	MftRecordShift int

	// BlockShift and BlockSize describe the reader's staging block: the
	// larger of a cluster and an MFT record, and at least 1 KiB.
	BlockShift int
	BlockSize  uint32

	// MftBlock is the first block of the MFT in block units.
	MftBlock uint64

	// Clusters is the total cluster count, clamped.
	Clusters uint64

	// Codepage is the mount-time byte-to-UTF-16 mapping used for filename
	// matching.
	Codepage *Codepage
}

// NtfsReader knows where to find the statically-located structures, how to
// parse them, and how to walk from a path down to file data.
type NtfsReader struct {
	dev      BlockDevice
	cache    *BlockCache
	codepage *Codepage

	bsh BootSectorHeader
	sb  *Superblock
}

// NewNtfsReader returns a reader over a filesystem image or device node,
// assuming 512-byte sectors and the ASCII codepage.
func NewNtfsReader(rs io.ReadSeeker) *NtfsReader {
	dev := NewFileBlockDevice(rs, 9)
	return NewNtfsReaderWithDevice(dev, NewAsciiCodepage())
}

// NewNtfsReaderWithDevice returns a reader over an arbitrary block device
// with the given codepage.
func NewNtfsReaderWithDevice(dev BlockDevice, cp *Codepage) *NtfsReader {
	return &NtfsReader{
		dev:      dev,
		codepage: cp,
	}
}

// Superblock returns the derived geometry. Only valid after Init.
func (nr *NtfsReader) Superblock() *Superblock {
	return nr.sb
}

// ActiveBootSector returns the parsed boot-sector structure.
func (nr *NtfsReader) ActiveBootSector() BootSectorHeader {
	return nr.bsh
}

// Init parses the boot sector, derives the volume geometry, initializes
// the block cache, and returns the chosen block shift. A boot sector that
// fails the sanity checks surfaces as ErrBadVolume.
func (nr *NtfsReader) Init() (blockShift int, err error) {
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

	sectorShift := nr.dev.SectorShift()
	sectorSize := uint32(1) << uint(sectorShift)

	rawSize := sectorSize
	if rawSize < bootSectorSize {
		rawSize = bootSectorSize
	}

	raw := make([]byte, rawSize)

	err = nr.dev.ReadSectors(raw, 0, int(rawSize>>uint(sectorShift)))
	if err != nil {
		log.Panic(ErrIo)
	}

	bsh := BootSectorHeader{}

	err = restruct.Unpack(raw[:bpbPackedSize], defaultEncoding, &bsh)
	log.PanicIf(err)

	if bsh.zeroFieldsOk() != true || bsh.oemNameOk() != true {
		log.Panic(ErrBadVolume)
	}

	if bsh.SecPerClust == 0 || bsh.SecPerClust&(bsh.SecPerClust-1) != 0 {
		log.Panic(ErrBadVolume)
	}

	clustShift := ilog2(uint64(bsh.SecPerClust))
	clustByteShift := clustShift + sectorShift
	clustSize := uint32(bsh.SecPerClust) << uint(sectorShift)

	var mftRecordShift int
	if bsh.ClustPerMftRecord < 0 {
		mftRecordShift = int(-bsh.ClustPerMftRecord)
	} else {
		if bsh.ClustPerMftRecord == 0 {
			log.Panic(ErrBadVolume)
		}

		mftRecordShift = ilog2(uint64(bsh.ClustPerMftRecord) << uint(clustByteShift))
	}

	blockShift = clustByteShift
	if blockShift < mftRecordShift {
		blockShift = mftRecordShift
	}

	if blockShift < minBlockShift {
		blockShift = minBlockShift
	}

	clusters := bsh.TotalSectors >> uint(clustShift)
	if clusters > maxClusterCount {
		clusters = maxClusterCount
	}

	sb := &Superblock{
		SectorShift: sectorShift,
		SectorSize:  sectorSize,

		ClustShift:     clustShift,
		ClustByteShift: clustByteShift,
		ClustMask:      uint32(bsh.SecPerClust) - 1,
		ClustSize:      clustSize,

		MftRecordSize:  uint32(1) << uint(mftRecordShift),
		MftRecordShift: mftRecordShift,

		BlockShift: blockShift,
		BlockSize:  uint32(1) << uint(blockShift),

		MftBlock: bsh.MftLclust << uint(clustShift) << uint(sectorShift) >> uint(blockShift),

		Clusters: clusters,

		Codepage: nr.codepage,
	}

	nr.bsh = bsh
	nr.sb = sb
	nr.cache = NewBlockCache(nr.dev, blockShift)

	return blockShift, nil
}

// getBlock returns a borrowed view of an absolute block.
func (nr *NtfsReader) getBlock(block uint64) (data []byte, err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			err = log.Wrap(errRaw.(error))
		}
	}()

	data, err = nr.cache.GetBlock(block)
	log.PanicIf(err)

	return data, nil
}

// getMftBlock returns a borrowed view of a block relative to the start of
// the MFT.
func (nr *NtfsReader) getMftBlock(block uint64) (data []byte, err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			err = log.Wrap(errRaw.(error))
		}
	}()

	data, err = nr.cache.GetBlock(nr.sb.MftBlock + block)
	log.PanicIf(err)

	return data, nil
}
