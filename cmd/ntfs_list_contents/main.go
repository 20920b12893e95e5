package main

import (
	"fmt"
	"os"

	"path/filepath"

	"github.com/dsoprea/go-logging"
	"github.com/dustin/go-humanize"
	"github.com/jessevdk/go-flags"

	"github.com/dsoprea/go-ntfs"
)

type rootParameters struct {
	Filepath       string `short:"f" long:"filepath" description:"File-path of NTFS filesystem" required:"true"`
	FilenameFilter string `short:"p" long:"pattern" description:"Filename filter"`
	ShowDetail     bool   `short:"d" long:"detail" description:"Show additional entry detail"`
}

var (
	rootArguments = new(rootParameters)
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

	f, err := os.Open(rootArguments.Filepath)
	log.PanicIf(err)

	defer f.Close()

	nr := ntfs.NewNtfsReader(f)

	_, err = nr.Init()
	log.PanicIf(err)

	tree := ntfs.NewTree(nr)

	err = tree.Load()
	log.PanicIf(err)

	files, nodes, err := tree.List()
	log.PanicIf(err)

	for _, currentFilepath := range files {
		node := nodes[currentFilepath]

		if rootArguments.FilenameFilter != "" {
			isMatched, err := filepath.Match(rootArguments.FilenameFilter, node.Name())
			log.PanicIf(err)

			if isMatched != true {
				continue
			}
		}

		fn := node.FileNameAttr()

		if rootArguments.ShowDetail == true {
			fmt.Printf("## %s\n", currentFilepath)
			fmt.Printf("\n")

			if fn != nil {
				fn.Dump()
			}

			fmt.Printf("MFT record: (%d)\n", node.Inode().MftNo)
			fmt.Printf("\n")
		} else {
			size := int64(node.Inode().Size)

			var mtime string
			if fn != nil {
				mtime = fn.LastDataChangeTime.Time().String()
			}

			fmt.Printf("%15s %30s %s\n", humanize.Comma(size), mtime, currentFilepath)
		}
	}
}
