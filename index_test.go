package ntfs

import (
	"testing"

	"encoding/binary"

	"github.com/dsoprea/go-logging"
)

func TestNtfsReader_EnumerateIndexEntries_RootOrder(t *testing.T) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			err := errRaw.(error)

			log.PrintError(err)
			t.Fatalf("Test failed.")
		}
	}()

	nr := getTestReader()

	root, err := nr.IgetRoot()
	log.PanicIf(err)

	names := make([]string, 0)
	inos := make([]uint64, 0)

	cb := func(ie *IndexEntry) (doContinue bool, err error) {
		names = append(names, DecodeUtf16leUnits(ie.NameUnits))
		inos = append(inos, ie.MftNo())

		return true, nil
	}

	err = nr.EnumerateIndexEntries(root, cb)
	log.PanicIf(err)

	expectedNames := []string{"AUTOEXEC.BAT", "CONFIG.SYS", "SUBDIR"}
	expectedInos := []uint64{testRecAutoexec, testRecConfig, testRecSubdir}

	if len(names) != len(expectedNames) {
		t.Fatalf("Entry count not correct: (%d)", len(names))
	}

	for i, name := range expectedNames {
		if names[i] != name {
			t.Fatalf("Entry (%d) not correct: [%s] != [%s]", i, names[i], name)
		} else if inos[i] != expectedInos[i] {
			t.Fatalf("Entry (%d) MFT number not correct: (%d)", i, inos[i])
		}
	}
}

func TestNtfsReader_EnumerateIndexEntries_VisitsOnce(t *testing.T) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			err := errRaw.(error)

			log.PrintError(err)
			t.Fatalf("Test failed.")
		}
	}()

	nr := getTestReader()

	root, err := nr.IgetRoot()
	log.PanicIf(err)

	seen := make(map[uint64]int)

	cb := func(ie *IndexEntry) (doContinue bool, err error) {
		seen[ie.MftNo()]++
		return true, nil
	}

	err = nr.EnumerateIndexEntries(root, cb)
	log.PanicIf(err)

	for mftNo, count := range seen {
		if count != 1 {
			t.Fatalf("Entry (%d) visited (%d) times.", mftNo, count)
		}
	}
}

func TestNtfsReader_EnumerateIndexEntries_Descent(t *testing.T) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			err := errRaw.(error)

			log.PrintError(err)
			t.Fatalf("Test failed.")
		}
	}()

	nr := getTestReader()

	root, err := nr.IgetRoot()
	log.PanicIf(err)

	subdir, err := nr.Iget("SUBDIR", root)
	log.PanicIf(err)

	names := make([]string, 0)

	cb := func(ie *IndexEntry) (doContinue bool, err error) {
		names = append(names, DecodeUtf16leUnits(ie.NameUnits))
		return true, nil
	}

	err = nr.EnumerateIndexEntries(subdir, cb)
	log.PanicIf(err)

	if len(names) != 1 || names[0] != "KERNEL.SYS" {
		t.Fatalf("Descended entries not correct: %v", names)
	}
}

func TestNtfsReader_IndexLookup_SingleEntryDirectory(t *testing.T) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			err := errRaw.(error)

			log.PrintError(err)
			t.Fatalf("Test failed.")
		}
	}()

	nr := getTestReader()

	root, err := nr.IgetRoot()
	log.PanicIf(err)

	subdir, err := nr.Iget("subdir", root)
	log.PanicIf(err)

	// One real entry plus the sentinel: the entry is returned before the
	// walk stops.
	kernel, err := nr.Iget("kernel.sys", subdir)
	log.PanicIf(err)

	if kernel.MftNo != testRecKernel {
		t.Fatalf("Lookup through the INDX block not correct: (%d)", kernel.MftNo)
	}
}

func TestNtfsReader_IndexLookup_NotFound(t *testing.T) {
	nr := getTestReader()

	root, err := nr.IgetRoot()
	if err != nil {
		t.Fatalf("Could not get root.")
	}

	_, err = nr.Iget("missing.txt", root)
	if err == nil {
		t.Fatalf("Expected a lookup failure.")
	} else if log.Is(err, ErrNotFound) != true {
		t.Fatalf("Expected ErrNotFound: [%s]", err)
	}
}

func TestWalkIndexEntries_CorruptEntryLength(t *testing.T) {
	// A terminal-free list whose first entry declares a zero length.
	index := make([]byte, 64)

	ih := IndexHeader{
		EntriesOffset: 16,
		IndexLen:      48,
	}

	cb := func(ie *IndexEntry) (doContinue bool, err error) {
		return true, nil
	}

	_, err := walkIndexEntries(index, ih, cb)
	if err == nil {
		t.Fatalf("Expected a corruption failure.")
	} else if log.Is(err, ErrCorruptIndex) != true {
		t.Fatalf("Expected ErrCorruptIndex: [%s]", err)
	}
}

func TestWalkIndexEntries_EntryPastIndexLen(t *testing.T) {
	index := make([]byte, 64)

	// One entry whose length runs past the declared index length.
	binary.LittleEndian.PutUint16(index[16+8:], 64)

	ih := IndexHeader{
		EntriesOffset: 16,
		IndexLen:      32,
	}

	cb := func(ie *IndexEntry) (doContinue bool, err error) {
		return true, nil
	}

	_, err := walkIndexEntries(index, ih, cb)
	if err == nil {
		t.Fatalf("Expected a corruption failure.")
	} else if log.Is(err, ErrCorruptIndex) != true {
		t.Fatalf("Expected ErrCorruptIndex: [%s]", err)
	}
}
