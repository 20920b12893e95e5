package ntfs

import (
	"bytes"
	"testing"

	"github.com/dsoprea/go-logging"
)

func TestNtfsReader_Init_Geometry(t *testing.T) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			err := errRaw.(error)

			log.PrintError(err)
			t.Fatalf("Test failed.")
		}
	}()

	volume := buildTestVolume()

	nr := NewNtfsReader(bytes.NewReader(volume))

	blockShift, err := nr.Init()
	log.PanicIf(err)

	// Eight 512-byte sectors per cluster and 1 KiB MFT records: the block
	// shift is max(12, 10).
	if blockShift != 12 {
		t.Fatalf("Block-shift not correct: (%d)", blockShift)
	}

	sb := nr.Superblock()

	if sb.SectorSize != 512 {
		t.Fatalf("Sector-size not correct: (%d)", sb.SectorSize)
	} else if sb.ClustSize != 4096 {
		t.Fatalf("Cluster-size not correct: (%d)", sb.ClustSize)
	} else if sb.ClustShift != 3 {
		t.Fatalf("Cluster-shift not correct: (%d)", sb.ClustShift)
	} else if sb.ClustByteShift != 12 {
		t.Fatalf("Cluster-byte-shift not correct: (%d)", sb.ClustByteShift)
	} else if sb.MftRecordSize != 1024 {
		t.Fatalf("MFT record-size not correct: (%d)", sb.MftRecordSize)
	} else if sb.BlockSize != 4096 {
		t.Fatalf("Block-size not correct: (%d)", sb.BlockSize)
	} else if sb.MftBlock != 4 {
		t.Fatalf("MFT block not correct: (%d)", sb.MftBlock)
	} else if sb.Clusters != testTotalSectors/testSecPerClust {
		t.Fatalf("Cluster count not correct: (%d)", sb.Clusters)
	}

	if sb.Codepage == nil {
		t.Fatalf("Codepage not attached to the superblock.")
	}
}

func TestNtfsReader_Init_PositiveMftRecordClusters(t *testing.T) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			err := errRaw.(error)

			log.PrintError(err)
			t.Fatalf("Test failed.")
		}
	}()

	volume := buildTestVolume()

	// One cluster per MFT record: the record size becomes 4 KiB.
	volume[0x40] = 0x01

	nr := NewNtfsReader(bytes.NewReader(volume))

	blockShift, err := nr.Init()
	log.PanicIf(err)

	if blockShift != 12 {
		t.Fatalf("Block-shift not correct: (%d)", blockShift)
	}

	if nr.Superblock().MftRecordSize != 4096 {
		t.Fatalf("MFT record-size not correct: (%d)", nr.Superblock().MftRecordSize)
	}
}

func TestNtfsReader_Init_BadOemName(t *testing.T) {
	volume := buildTestVolume()

	copy(volume[3:], []byte("EXFAT   "))

	nr := NewNtfsReader(bytes.NewReader(volume))

	_, err := nr.Init()
	if err == nil {
		t.Fatalf("Expected a bad-volume failure.")
	} else if log.Is(err, ErrBadVolume) != true {
		t.Fatalf("Expected ErrBadVolume: [%s]", err)
	}
}

func TestNtfsReader_Init_NonzeroReservedSectors(t *testing.T) {
	volume := buildTestVolume()

	volume[0x0e] = 1

	nr := NewNtfsReader(bytes.NewReader(volume))

	_, err := nr.Init()
	if err == nil {
		t.Fatalf("Expected a bad-volume failure.")
	} else if log.Is(err, ErrBadVolume) != true {
		t.Fatalf("Expected ErrBadVolume: [%s]", err)
	}
}

func TestNtfsReader_Init_AcceptedOemNames(t *testing.T) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			err := errRaw.(error)

			log.PrintError(err)
			t.Fatalf("Test failed.")
		}
	}()

	for _, name := range []string{"NTFS    ", "MSWIN4.0", "MSWIN4.1"} {
		volume := buildTestVolume()

		copy(volume[3:], []byte(name))

		nr := NewNtfsReader(bytes.NewReader(volume))

		_, err := nr.Init()
		log.PanicIf(err)
	}
}

func TestBootSectorHeader_Dump(t *testing.T) {
	nr := getTestReader()

	bsh := nr.ActiveBootSector()
	bsh.Dump()

	if bsh.String() == "" {
		t.Fatalf("String not correct.")
	}
}
