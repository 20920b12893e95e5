// This package decodes the mapping-pairs stream of non-resident
// attributes into successive VCN-range chunks.

package ntfs

import (
	"fmt"

	"github.com/dsoprea/go-logging"
)

// MappingFlags describes one decoded chunk.
type MappingFlags uint32

const (
	// MapStart marks the first chunk decoded from a stream.
	MapStart MappingFlags = 1 << 0

	// MapEnd marks the terminator: a zero header byte or stream
	// exhaustion.
	MapEnd MappingFlags = 1 << 1

	// MapAllocated marks a run backed by clusters on the volume.
	MapAllocated MappingFlags = 1 << 2

	// MapUnallocated marks a sparse hole.
	MapUnallocated MappingFlags = 1 << 3

	mapMask = MappingFlags(0x0f)
)

// String returns a description of the flag set.
func (mf MappingFlags) String() string {
	return fmt.Sprintf("MappingFlags<START=[%v] END=[%v] ALLOCATED=[%v] UNALLOCATED=[%v]>",
		mf&MapStart > 0, mf&MapEnd > 0, mf&MapAllocated > 0, mf&MapUnallocated > 0)
}

// MappingChunk is the logical view of one run: the half-open VCN range
// [CurVcn, NextVcn) and the accumulated LCN it maps to. Whether a chunk is
// a hole is decided by the on-disk LCN width, not by the accumulated
// value: a run written with a zero-width LCN delta is sparse regardless of
// where the accumulator currently sits.
type MappingChunk struct {
	CurVcn  uint64
	NextVcn uint64
	CurLcn  int64
	Flags   MappingFlags
}

// RunLength returns the chunk's length in clusters.
func (mc MappingChunk) RunLength() uint64 {
	return mc.NextVcn - mc.CurVcn
}

// String returns a description of the chunk.
func (mc MappingChunk) String() string {
	return fmt.Sprintf("MappingChunk<VCN=(%d)-(%d) LCN=(%d) %s>", mc.CurVcn, mc.NextVcn, mc.CurLcn, mc.Flags)
}

// RunlistDecoder consumes a mapping-pairs byte stream. Decoding is a pure
// function of the stream bytes and the seed VCN: two decoders over the
// same input yield identical chunk sequences.
type RunlistDecoder struct {
	stream []byte
	offset int
	chunk  MappingChunk
}

// NewRunlistDecoder seeds a decoder with the attribute's mapping-pairs
// stream and its lowest VCN.
func NewRunlistDecoder(stream []byte, lowestVcn uint64) *RunlistDecoder {
	return &RunlistDecoder{
		stream: stream,
		chunk: MappingChunk{
			CurVcn:  lowestVcn,
			NextVcn: lowestVcn,
		},
	}
}

// leUnsigned reads a little-endian unsigned value of up to eight bytes.
func leUnsigned(b []byte) uint64 {
	res := uint64(0)
	for i := len(b) - 1; i >= 0; i-- {
		res = res<<8 | uint64(b[i])
	}

	return res
}

// leSigned reads a little-endian value of up to eight bytes, sign-extended
// from the top bit of the final byte.
func leSigned(b []byte) int64 {
	res := int64(0)
	if b[len(b)-1]&0x80 != 0 {
		res = -1
	}

	for i := len(b) - 1; i >= 0; i-- {
		res = res<<8 | int64(b[i])
	}

	return res
}

// Next decodes one run. A zero header byte or an exhausted stream yields a
// chunk with MapEnd set; afterward the decoder keeps returning MapEnd.
// Callers loop, skipping MapUnallocated chunks, until MapAllocated or
// MapEnd is seen.
func (rd *RunlistDecoder) Next() (chunk MappingChunk, err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			err = log.Wrap(errRaw.(error))
		}
	}()

	rd.chunk.Flags &^= mapMask

	if rd.offset >= len(rd.stream) || rd.stream[rd.offset] == 0 {
		rd.chunk.Flags |= MapEnd
		return rd.chunk, nil
	}

	if rd.offset == 0 {
		rd.chunk.Flags |= MapStart
	}

	header := rd.stream[rd.offset]
	v := int(header & 0x0f)
	l := int(header >> 4)

	if v < 1 || v > 8 || l > 8 {
		log.Panic(ErrCorruptRunlist)
	}

	if rd.offset+1+v+l > len(rd.stream) {
		log.Panic(ErrCorruptRunlist)
	}

	rd.chunk.CurVcn = rd.chunk.NextVcn
	rd.chunk.NextVcn += leUnsigned(rd.stream[rd.offset+1 : rd.offset+1+v])

	if l == 0 {
		// A zero-width LCN delta encodes a sparse hole; the accumulator
		// is left untouched.
		rd.chunk.Flags |= MapUnallocated
	} else {
		rd.chunk.CurLcn += leSigned(rd.stream[rd.offset+1+v : rd.offset+1+v+l])
		rd.chunk.Flags |= MapAllocated
	}

	rd.offset += 1 + v + l

	return rd.chunk, nil
}
