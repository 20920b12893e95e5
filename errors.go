package ntfs

import (
	"errors"
)

var (
	// ErrBadVolume indicates that the boot-sector did not validate as NTFS.
	ErrBadVolume = errors.New("bad NTFS volume")

	// ErrNotFound indicates that a path component, MFT record, or index
	// entry was absent. This is the one expected failure of a lookup and is
	// never logged as an anomaly.
	ErrNotFound = errors.New("not found")

	// ErrCorruptRecord indicates an attribute length of zero or one that
	// overflows the record, or an inconsistent bytes-allocated field.
	ErrCorruptRecord = errors.New("corrupt MFT record")

	// ErrNotARecord indicates that a buffer handed to the fixup engine did
	// not carry a FILE or INDX magic.
	ErrNotARecord = errors.New("not a multi-sector record")

	// ErrUsaMismatch indicates that a sector tail did not match the update
	// sequence number during fixup.
	ErrUsaMismatch = errors.New("update-sequence mismatch")

	// ErrCorruptRunlist indicates a mapping-pairs header nibble greater
	// than eight or a stream that overruns its attribute.
	ErrCorruptRunlist = errors.New("corrupt runlist")

	// ErrCorruptIndex indicates an index entry whose bounds exceed the
	// containing entry list.
	ErrCorruptIndex = errors.New("corrupt index")

	// ErrIo indicates that a block fetch returned no data.
	ErrIo = errors.New("block read failed")
)
