package ntfs

import (
	"reflect"
	"testing"

	"github.com/dsoprea/go-logging"
)

func decodeAllRuns(t *testing.T, stream []byte, lowestVcn uint64) (chunks []MappingChunk) {
	rd := NewRunlistDecoder(stream, lowestVcn)

	chunks = make([]MappingChunk, 0)

	for {
		chunk, err := rd.Next()
		log.PanicIf(err)

		chunks = append(chunks, chunk)

		if chunk.Flags&MapEnd > 0 {
			return chunks
		}
	}
}

func TestRunlistDecoder_SingleRun(t *testing.T) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			err := errRaw.(error)

			log.PrintError(err)
			t.Fatalf("Test failed.")
		}
	}()

	// One run of 0x18 clusters at LCN 0x5634, then the terminator.
	stream := []byte{0x21, 0x18, 0x34, 0x56, 0x00}

	chunks := decodeAllRuns(t, stream, 0)

	if len(chunks) != 2 {
		t.Fatalf("Chunk count not correct: (%d)", len(chunks))
	}

	first := chunks[0]

	if first.CurVcn != 0 || first.NextVcn != 0x18 {
		t.Fatalf("VCN range not correct: (%d)-(%d)", first.CurVcn, first.NextVcn)
	} else if first.CurLcn != 0x5634 {
		t.Fatalf("LCN not correct: (%d)", first.CurLcn)
	} else if first.Flags != MapStart|MapAllocated {
		t.Fatalf("Flags not correct: %s", first.Flags)
	}

	if chunks[1].Flags&MapEnd == 0 {
		t.Fatalf("Terminator not seen.")
	}
}

func TestRunlistDecoder_SparseHole(t *testing.T) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			err := errRaw.(error)

			log.PrintError(err)
			t.Fatalf("Test failed.")
		}
	}()

	// A zero-width LCN delta: VCNs zero through four are a hole.
	stream := []byte{0x01, 0x05, 0x00}

	chunks := decodeAllRuns(t, stream, 0)

	if len(chunks) != 2 {
		t.Fatalf("Chunk count not correct: (%d)", len(chunks))
	}

	first := chunks[0]

	if first.CurVcn != 0 || first.NextVcn != 5 {
		t.Fatalf("VCN range not correct: (%d)-(%d)", first.CurVcn, first.NextVcn)
	} else if first.Flags&MapUnallocated == 0 {
		t.Fatalf("Hole not flagged: %s", first.Flags)
	} else if first.CurLcn != 0 {
		t.Fatalf("LCN accumulator disturbed by a hole: (%d)", first.CurLcn)
	}
}

func TestRunlistDecoder_NegativeDelta(t *testing.T) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			err := errRaw.(error)

			log.PrintError(err)
			t.Fatalf("Test failed.")
		}
	}()

	// 0x10 clusters at 0x1000, then 0x20 clusters 0x10 back from there,
	// then an eight-cluster hole.
	stream := []byte{
		0x21, 0x10, 0x00, 0x10,
		0x11, 0x20, 0xf0,
		0x01, 0x08,
		0x00,
	}

	chunks := decodeAllRuns(t, stream, 0)

	if len(chunks) != 4 {
		t.Fatalf("Chunk count not correct: (%d)", len(chunks))
	}

	if chunks[0].CurLcn != 0x1000 || chunks[0].Flags != MapStart|MapAllocated {
		t.Fatalf("First chunk not correct: %s", chunks[0])
	}

	// The signed delta sign-extends and moves the accumulator backward.
	if chunks[1].CurLcn != 0x0ff0 || chunks[1].Flags != MapAllocated {
		t.Fatalf("Second chunk not correct: %s", chunks[1])
	}

	if chunks[2].Flags&MapUnallocated == 0 {
		t.Fatalf("Hole not flagged: %s", chunks[2])
	} else if chunks[2].CurLcn != 0x0ff0 {
		t.Fatalf("Hole disturbed the accumulator: (%d)", chunks[2].CurLcn)
	}

	// The VCN ranges chain without gaps.
	for i := 0; i < len(chunks)-2; i++ {
		if chunks[i].NextVcn != chunks[i+1].CurVcn {
			t.Fatalf("VCN chain broken at (%d).", i)
		}
	}

	if chunks[0].CurVcn != 0 {
		t.Fatalf("Chain does not start at the lowest VCN.")
	}
}

func TestRunlistDecoder_LowestVcnSeed(t *testing.T) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			err := errRaw.(error)

			log.PrintError(err)
			t.Fatalf("Test failed.")
		}
	}()

	stream := []byte{0x11, 0x04, 0x21, 0x00}

	chunks := decodeAllRuns(t, stream, 0x80)

	if chunks[0].CurVcn != 0x80 || chunks[0].NextVcn != 0x84 {
		t.Fatalf("Seeded VCN range not correct: (%d)-(%d)", chunks[0].CurVcn, chunks[0].NextVcn)
	}
}

func TestRunlistDecoder_EmptyStream(t *testing.T) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			err := errRaw.(error)

			log.PrintError(err)
			t.Fatalf("Test failed.")
		}
	}()

	chunks := decodeAllRuns(t, []byte{}, 0)

	if len(chunks) != 1 || chunks[0].Flags&MapEnd == 0 {
		t.Fatalf("Empty stream did not terminate cleanly.")
	}
}

func TestRunlistDecoder_CorruptNibble(t *testing.T) {
	rd := NewRunlistDecoder([]byte{0x09, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00}, 0)

	_, err := rd.Next()
	if err == nil {
		t.Fatalf("Expected a corruption failure.")
	} else if log.Is(err, ErrCorruptRunlist) != true {
		t.Fatalf("Expected ErrCorruptRunlist: [%s]", err)
	}
}

func TestRunlistDecoder_Overrun(t *testing.T) {
	// The header promises three bytes but only one follows.
	rd := NewRunlistDecoder([]byte{0x21, 0x10}, 0)

	_, err := rd.Next()
	if err == nil {
		t.Fatalf("Expected a corruption failure.")
	} else if log.Is(err, ErrCorruptRunlist) != true {
		t.Fatalf("Expected ErrCorruptRunlist: [%s]", err)
	}
}

func TestRunlistDecoder_Idempotent(t *testing.T) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			err := errRaw.(error)

			log.PrintError(err)
			t.Fatalf("Test failed.")
		}
	}()

	stream := []byte{
		0x21, 0x10, 0x00, 0x10,
		0x11, 0x20, 0xf0,
		0x01, 0x08,
		0x00,
	}

	first := decodeAllRuns(t, stream, 0)
	second := decodeAllRuns(t, stream, 0)

	if reflect.DeepEqual(first, second) != true {
		t.Fatalf("Decoding is not a pure function of the stream.")
	}
}
