// strata-inspect: CLI tool for inspecting a strata log file's header and
// block layout without opening a full Engine.
//
// Flag parsing and usage text are grounded on the donor logging library's
// iris-export CLI (cmd/iris-export/main.go): a flag.Usage override printing
// a usage banner before flag.PrintDefaults.
//
// Copyright (c) 2025 AGILira
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/agilira/strata/internal/walog"
)

const (
	version = "1.0.0"
	usage   = `strata-inspect - Inspect a strata log file's header and blocks

USAGE:
    strata-inspect -path <file> [OPTIONS]

EXAMPLES:
    strata-inspect -path data.strata
    strata-inspect -path data.strata -blocks

OPTIONS:
`
)

type options struct {
	path    string
	blocks  bool
	version bool
}

func main() {
	opts := parseFlags()

	if opts.version {
		fmt.Printf("strata-inspect version %s\n", version)
		os.Exit(0)
	}

	if opts.path == "" {
		fmt.Fprint(os.Stderr, usage)
		flag.PrintDefaults()
		os.Exit(2)
	}

	if err := run(opts); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags() *options {
	opts := &options{}

	flag.StringVar(&opts.path, "path", "", "Path to the strata log file to inspect")
	flag.BoolVar(&opts.blocks, "blocks", false, "List every block's metadata")
	flag.BoolVar(&opts.version, "version", false, "Show version information")

	flag.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		flag.PrintDefaults()
	}

	flag.Parse()
	return opts
}

func run(opts *options) error {
	l, err := walog.Open(opts.path, time.Now(), false, 0)
	if err != nil {
		return fmt.Errorf("opening log: %w", err)
	}
	defer l.Close()

	fmt.Printf("path:                %s\n", opts.path)
	fmt.Printf("created_at:          %d\n", l.CreatedAt())
	fmt.Printf("modified_at:         %d\n", l.ModifiedAt())
	fmt.Printf("first_ts:            %d\n", l.FirstTimestamp())
	fmt.Printf("last_ts:             %d\n", l.LastTimestamp())
	fmt.Printf("compression_enabled: %v\n", l.CompressionEnabled())
	fmt.Printf("compression_level:   %d\n", l.CompressionLevel())
	fmt.Printf("total_points:        %d\n", l.TotalPoints())
	fmt.Printf("write_offset:        %d\n", l.WriteOffset())
	fmt.Printf("file_size:           %d\n", l.FileSize())
	fmt.Printf("data_size:           %d\n", l.DataSize())

	if !opts.blocks {
		return nil
	}

	blocks, err := l.Scan()
	if err != nil {
		return fmt.Errorf("scanning blocks: %w", err)
	}
	fmt.Printf("block_count:   %d\n", len(blocks))
	for i, b := range blocks {
		fmt.Printf("  [%d] write_ts=%d points=%d compressed=%v size=%d (raw=%d)\n",
			i, b.WriteTimestamp, b.PointCount, b.IsCompressed, b.CompressedSize, b.UncompressedSize)
	}
	return nil
}
