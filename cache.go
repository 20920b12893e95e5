// This package manages the device abstraction and the read-through block
// cache that the rest of the reader fetches through.

package ntfs

import (
	"io"
	"reflect"

	"github.com/dsoprea/go-logging"
)

const (
	// cacheSlotCount bounds how many block-sized pages the cache keeps
	// live at once. Views returned by GetBlock are only valid until the
	// next fetch against the same slot.
	cacheSlotCount = 64
)

// BlockDevice is the sector-read primitive consumed from the host.
type BlockDevice interface {
	// SectorShift returns log2 of the device sector size.
	SectorShift() int

	// ReadSectors reads `count` sectors starting at `sector` into `p`.
	ReadSectors(p []byte, sector uint64, count int) error
}

// FileBlockDevice adapts an io.ReadSeeker (a device node or a filesystem
// image) to the BlockDevice interface.
type FileBlockDevice struct {
	rs          io.ReadSeeker
	sectorShift int
}

// NewFileBlockDevice returns a device over the given stream with the given
// sector shift.
func NewFileBlockDevice(rs io.ReadSeeker, sectorShift int) *FileBlockDevice {
	return &FileBlockDevice{
		rs:          rs,
		sectorShift: sectorShift,
	}
}

// SectorShift returns log2 of the sector size.
func (fbd *FileBlockDevice) SectorShift() int {
	return fbd.sectorShift
}

// ReadSectors reads whole sectors from the backing stream.
func (fbd *FileBlockDevice) ReadSectors(p []byte, sector uint64, count int) (err error) {
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

	byteCount := count << uint(fbd.sectorShift)
	if len(p) < byteCount {
		log.Panicf("read buffer too small for (%d) sectors: (%d) < (%d)", count, len(p), byteCount)
	}

	_, err = fbd.rs.Seek(int64(sector)<<uint(fbd.sectorShift), io.SeekStart)
	log.PanicIf(err)

	_, err = io.ReadFull(fbd.rs, p[:byteCount])
	log.PanicIf(err)

	return nil
}

type cacheSlot struct {
	block uint64
	valid bool
	stamp uint64
	data  []byte
}

// BlockCache is a read-through mapping from block index to bytes. Pages are
// borrowed: a view stays valid only until the next fetch, so callers copy
// out anything they need to retain.
type BlockCache struct {
	dev        BlockDevice
	blockShift int
	counter    uint64
	slots      [cacheSlotCount]cacheSlot
}

// NewBlockCache initializes a cache over the device with the given block
// shift.
func NewBlockCache(dev BlockDevice, blockShift int) *BlockCache {
	return &BlockCache{
		dev:        dev,
		blockShift: blockShift,
	}
}

// BlockSize returns the size of one cached block in bytes.
func (bc *BlockCache) BlockSize() uint32 {
	return uint32(1) << uint(bc.blockShift)
}

// GetBlock returns a borrowed view of the given block, reading through to
// the device on a miss. A fetch that the device rejects surfaces as ErrIo.
func (bc *BlockCache) GetBlock(block uint64) (data []byte, err error) {
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

	bc.counter++

	victim := 0
	for i := range bc.slots {
		slot := &bc.slots[i]

		if slot.valid == true && slot.block == block {
			slot.stamp = bc.counter
			return slot.data, nil
		}

		if bc.slots[victim].valid == true &&
			(slot.valid == false || slot.stamp < bc.slots[victim].stamp) {
			victim = i
		}
	}

	slot := &bc.slots[victim]
	if slot.data == nil {
		slot.data = make([]byte, bc.BlockSize())
	}

	slot.valid = false

	sectorShift := bc.dev.SectorShift()
	sectorsPerBlock := 1 << uint(bc.blockShift-sectorShift)

	err = bc.dev.ReadSectors(slot.data, block<<uint(bc.blockShift-sectorShift), sectorsPerBlock)
	if err != nil {
		log.Panic(ErrIo)
	}

	slot.block = block
	slot.valid = true
	slot.stamp = bc.counter

	return slot.data, nil
}
