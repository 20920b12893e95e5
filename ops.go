// This package exposes the filesystem operations table consumed by the
// host, plus the generic implementations the table delegates to.

package ntfs

import (
	"strings"

	"github.com/dsoprea/go-logging"
)

// FsName is the filesystem's registered name.
const FsName = "ntfs"

// DirentType classifies a directory entry for the host.
type DirentType uint8

const (
	DirentTypeUnknown   = DirentType(0)
	DirentTypeRegular   = DirentType(1)
	DirentTypeDirectory = DirentType(2)
)

// direntHeaderSize is the fixed portion counted into Reclen, before the
// name and its terminator.
const direntHeaderSize = 19

// Dirent is the directory-entry record handed back from Readdir.
type Dirent struct {
	// Ino is the entry's MFT record number.
	Ino uint64

	// Off is the entry's ordinal within the enumeration.
	Off uint64

	// Reclen is the packed record length: the fixed header plus the name
	// and its NUL.
	Reclen uint16

	Type DirentType

	Name string
}

// FsOps is the operations table: the one polymorphic seam between the
// reader and the host. Inside the core, variants are discriminated by
// on-disk flags instead.
type FsOps struct {
	FsName string

	Init       func(nr *NtfsReader) (blockShift int, err error)
	IgetRoot   func(nr *NtfsReader) (*Inode, error)
	Iget       func(nr *NtfsReader, component string, parent *Inode) (*Inode, error)
	Readdir    func(nr *NtfsReader, f *File, dirent *Dirent) error
	GetFsSec   func(nr *NtfsReader, f *File, buf []byte, sectors int) (n uint32, haveMore bool, err error)
	NextExtent func(nr *NtfsReader, inode *Inode, lstart uint32) (Extent, bool, error)
	CloseFile  func(f *File)
	MangleName func(name string) string
	LoadConfig func(nr *NtfsReader, names []string) (*File, error)
}

// NtfsOps is the table for this filesystem.
var NtfsOps = FsOps{
	FsName: FsName,

	Init:       (*NtfsReader).Init,
	IgetRoot:   (*NtfsReader).IgetRoot,
	Iget:       (*NtfsReader).Iget,
	Readdir:    (*NtfsReader).Readdir,
	GetFsSec:   (*NtfsReader).GetFsSec,
	NextExtent: (*NtfsReader).NextExtent,
	CloseFile:  GenericCloseFile,
	MangleName: GenericMangleName,
	LoadConfig: (*NtfsReader).LoadConfig,
}

// GenericCloseFile releases a handle. The reader holds no per-file disk
// state, so this only detaches the inode and rewinds the offset.
func GenericCloseFile(f *File) {
	if f == nil {
		return
	}

	f.inode = nil
	f.Offset = 0
}

// GenericMangleName canonicalises a path: separators are normalised to
// forward slashes, runs of separators collapse, and "." segments and
// leading and trailing separators are dropped. ".." segments are kept as
// they are.
func GenericMangleName(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")

	parts := strings.Split(name, "/")
	kept := make([]string, 0, len(parts))

	for _, part := range parts {
		if part == "" || part == "." {
			continue
		}

		kept = append(kept, part)
	}

	return strings.Join(kept, "/")
}

// Open resolves a full path from the root and returns a handle positioned
// at the start. An absent component surfaces as ErrNotFound.
func (nr *NtfsReader) Open(path string) (f *File, err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			err = log.Wrap(errRaw.(error))
		}
	}()

	mangled := GenericMangleName(path)

	inode, err := nr.IgetRoot()
	log.PanicIf(err)

	if mangled != "" {
		for _, component := range strings.Split(mangled, "/") {
			inode, err = nr.Iget(component, inode)
			if err != nil {
				if log.Is(err, ErrNotFound) == true {
					return nil, ErrNotFound
				}

				log.Panic(err)
			}
		}
	}

	return NewFile(inode), nil
}

// LoadConfig opens the first of the candidate configuration paths that
// resolves, trying each in order.
func (nr *NtfsReader) LoadConfig(names []string) (f *File, err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			err = log.Wrap(errRaw.(error))
		}
	}()

	for _, name := range names {
		f, err := nr.Open(name)
		if err != nil {
			if log.Is(err, ErrNotFound) == true {
				continue
			}

			log.Panic(err)
		}

		return f, nil
	}

	return nil, ErrNotFound
}
