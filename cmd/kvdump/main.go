// Command kvdump prints the frames of a kvstorage data file, including
// stale records and tombstones that a live Store would hide. It reads the
// file directly and never modifies it.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	kvstorage "github.com/1047296948/QDKVStorage"
)

func main() {
	var (
		tombstonesOnly = flag.Bool("tombstones", false, "Print only tombstone frames")
		showOffsets    = flag.Bool("offsets", true, "Print frame offsets")
	)
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintf(os.Stderr, "usage: %s [flags] <data-file>\n", os.Args[0])
		flag.PrintDefaults()
		os.Exit(2)
	}

	var frames, tombstones int
	err := kvstorage.ScanFile(flag.Arg(0), func(info kvstorage.RecordInfo) bool {
		frames++
		if info.Tombstone {
			tombstones++
		} else if *tombstonesOnly {
			return true
		}

		kind := "value"
		if info.Tombstone {
			kind = "tombstone"
		}
		if *showOffsets {
			fmt.Printf("%10d  %-9s  %q  (%d bytes)\n", info.Offset, kind, info.Key, info.ValueLen)
		} else {
			fmt.Printf("%-9s  %q  (%d bytes)\n", kind, info.Key, info.ValueLen)
		}
		return true
	})
	if err != nil {
		// A torn tail is expected after a crash; report it and keep the
		// frames printed so far meaningful.
		log.Printf("stopped: %v", err)
		os.Exit(1)
	}

	fmt.Printf("\n%d frames (%d tombstones)\n", frames, tombstones)
}
