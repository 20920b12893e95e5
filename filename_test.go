package ntfs

import (
	"testing"

	"github.com/dsoprea/go-logging"
)

func TestNtfsReader_MatchLongname_CaseInsensitive(t *testing.T) {
	nr := getTestReader()

	for _, component := range []string{"CONFIG.SYS", "config.sys", "Config.Sys"} {
		if nr.matchLongname(component, testRecConfig) != true {
			t.Fatalf("Component not matched: [%s]", component)
		}
	}
}

func TestNtfsReader_MatchLongname_LengthMismatch(t *testing.T) {
	nr := getTestReader()

	if nr.matchLongname("config.sy", testRecConfig) == true {
		t.Fatalf("Short input matched.")
	}

	if nr.matchLongname("config.syss", testRecConfig) == true {
		t.Fatalf("Long input matched.")
	}

	if nr.matchLongname("", testRecConfig) == true {
		t.Fatalf("Empty input matched.")
	}
}

func TestNtfsReader_MatchLongname_WrongName(t *testing.T) {
	nr := getTestReader()

	if nr.matchLongname("autoexec.bat", testRecConfig) == true {
		t.Fatalf("Wrong name matched.")
	}
}

func TestNtfsReader_MatchLongname_MissingRecord(t *testing.T) {
	nr := getTestReader()

	// A failure to locate the candidate is a non-match, not an error.
	if nr.matchLongname("config.sys", 99999) == true {
		t.Fatalf("Nonexistent record matched.")
	}
}

func TestNtfsReader_CvtLongname_PreservesCase(t *testing.T) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			err := errRaw.(error)

			log.PrintError(err)
			t.Fatalf("Test failed.")
		}
	}()

	nr := getTestReader()

	_, units, err := nr.fileNameFromRecord(testRecConfig, 0)
	log.PanicIf(err)

	name, err := nr.cvtLongname(units)
	log.PanicIf(err)

	if name != "CONFIG.SYS" {
		t.Fatalf("Converted name not correct: [%s]", name)
	}
}

func TestCodepage_AsciiMaps(t *testing.T) {
	cp := NewAsciiCodepage()

	if cp.Uni[0]['A'] != 'a' || cp.Uni[1]['A'] != 'A' {
		t.Fatalf("Uppercase input maps not correct.")
	}

	if cp.Uni[0]['a'] != 'a' || cp.Uni[1]['a'] != 'A' {
		t.Fatalf("Lowercase input maps not correct.")
	}

	if cp.Uni[0]['.'] != '.' || cp.Uni[1]['.'] != '.' {
		t.Fatalf("Non-alphabetic maps not correct.")
	}
}

func TestParseFileNameAttr(t *testing.T) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			err := errRaw.(error)

			log.PrintError(err)
			t.Fatalf("Test failed.")
		}
	}()

	value := buildTestFileNameValue(testRecRoot, "CONFIG.SYS", FileAttrArchive, 6000)

	fn, units, err := parseFileNameAttr(value)
	log.PanicIf(err)

	if fn.ParentDirectory&mftReferenceMask != testRecRoot {
		t.Fatalf("Parent not correct: (%d)", fn.ParentDirectory)
	} else if int(fn.FileNameLen) != len("CONFIG.SYS") {
		t.Fatalf("Name length not correct: (%d)", fn.FileNameLen)
	} else if fn.FileAttrs.IsArchive() != true {
		t.Fatalf("Attributes not correct: %s", fn.FileAttrs)
	} else if DecodeUtf16leUnits(units) != "CONFIG.SYS" {
		t.Fatalf("Name units not correct.")
	}
}

func TestFileNameAttr_Truncated(t *testing.T) {
	value := buildTestFileNameValue(testRecRoot, "CONFIG.SYS", FileAttrArchive, 6000)

	_, _, err := parseFileNameAttr(value[:32])
	if err == nil {
		t.Fatalf("Expected a corruption failure.")
	} else if log.Is(err, ErrCorruptRecord) != true {
		t.Fatalf("Expected ErrCorruptRecord: [%s]", err)
	}
}

func TestNtfsTimestamp_Time(t *testing.T) {
	// 1970-01-01T00:00:00Z expressed in 100ns intervals since 1601.
	ts := NtfsTimestamp(11644473600 * 10000000)

	when := ts.Time()

	if when.Unix() != 0 {
		t.Fatalf("Epoch conversion not correct: [%s]", when)
	}
}
