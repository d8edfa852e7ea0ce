package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/epokhe/osmseg/core"
	"github.com/epokhe/osmseg/pbfio"
	"github.com/epokhe/osmseg/segprod"
)

func usage() {
	fmt.Fprintf(os.Stderr, "usage:\n")
	fmt.Fprintf(os.Stderr, "  capture-segments --osm <pbf> --segments <rseg> [--force]\n")
	os.Exit(1)
}

func main() {
	var (
		osmPath = flag.String("osm", "", "path to the source OSM PBF file")
		segPath = flag.String("segments", "", "path to the segment store to write")
		force   = flag.Bool("force", false, "overwrite an existing segment store")
	)
	flag.Parse()

	if *osmPath == "" || *segPath == "" {
		usage()
	}

	info, err := os.Stat(*osmPath)
	if err != nil {
		log.Fatalf("--osm %q: %v", *osmPath, err)
	}
	if info.IsDir() {
		log.Fatalf("--osm %q is a directory, want a file", *osmPath)
	}

	if !*force {
		if _, err := os.Stat(*segPath); err == nil {
			log.Printf("segment store %q already exists, skipping (use --force to overwrite)", *segPath)
			return
		}
	}

	reader, err := pbfio.Open(*osmPath)
	if err != nil {
		log.Fatalf("open %q: %v", *osmPath, err)
	}
	defer reader.Close() // nolint:errcheck

	err = core.RunCapture(*segPath, func(sink core.SegmentSink) error {
		return segprod.Run(reader, sink)
	})
	if err != nil {
		log.Fatalf("capture-segments: %v", err)
	}
}
