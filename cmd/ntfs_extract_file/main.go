package main

import (
	"fmt"
	"os"

	"github.com/dsoprea/go-logging"
	"github.com/jessevdk/go-flags"

	"github.com/dsoprea/go-ntfs"
)

type rootParameters struct {
	FilesystemFilepath string `short:"f" long:"filesystem-filepath" description:"File-path of NTFS filesystem" required:"true"`
	ExtractFilepath    string `short:"e" long:"extract-filepath" description:"File-path to extract (use forward slashes)" required:"true"`
	OutputFilepath     string `short:"o" long:"output-filepath" description:"File-path to write to ('-' for STDOUT)" required:"true"`
}

var (
	rootArguments = new(rootParameters)
)

const (
	transferSectors = 8
)

func main() {
	defer func() {
		if state := recover(); state != nil {
			err := log.Wrap(state.(error))
			log.PrintError(err)
			os.Exit(-1)
		}
	}()

	p := flags.NewParser(rootArguments, flags.Default)

	_, err := p.Parse()
	if err != nil {
		os.Exit(1)
	}

	f, err := os.Open(rootArguments.FilesystemFilepath)
	log.PanicIf(err)

	defer f.Close()

	nr := ntfs.NewNtfsReader(f)

	_, err = nr.Init()
	log.PanicIf(err)

	file, err := nr.Open(rootArguments.ExtractFilepath)
	if err != nil {
		if log.Is(err, ntfs.ErrNotFound) == true {
			fmt.Printf("File not found.\n")
			os.Exit(2)
		}

		log.Panic(err)
	}

	var g *os.File

	if rootArguments.OutputFilepath == "-" {
		g = os.Stdout
	} else {
		var err error

		g, err = os.Create(rootArguments.OutputFilepath)
		log.PanicIf(err)

		defer func() {
			g.Close()
		}()
	}

	buf := make([]byte, transferSectors*nr.Superblock().SectorSize)
	written := uint64(0)

	for {
		n, haveMore, err := nr.GetFsSec(file, buf, transferSectors)
		log.PanicIf(err)

		if n > 0 {
			_, err = g.Write(buf[:n])
			log.PanicIf(err)

			written += uint64(n)
		}

		if haveMore != true {
			break
		}
	}

	if rootArguments.OutputFilepath != "-" {
		fmt.Printf("(%d) bytes written.\n", written)
	}
}
