package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/epokhe/osmseg/core"
	"github.com/epokhe/osmseg/pbfio"
)

func usage() {
	fmt.Fprintf(os.Stderr, "usage:\n")
	fmt.Fprintf(os.Stderr, "  build-derived-pbf --segments <rseg> --cache <cache-dir> --out <pbf> "+
		"[--include-barrier-edges] [--force]\n")
	os.Exit(1)
}

func main() {
	var (
		segPath         = flag.String("segments", "", "path to the segment store")
		cacheDir        = flag.String("cache", "", "cache directory written by extract-osm")
		outPath         = flag.String("out", "", "derived PBF output path")
		includeBarriers = flag.Bool("include-barrier-edges", false, "retain barrier-flagged segments")
		force           = flag.Bool("force", false, "overwrite an existing output file")
	)
	flag.Parse()

	if *segPath == "" || *cacheDir == "" || *outPath == "" {
		usage()
	}

	if _, err := os.Stat(*segPath); err != nil {
		log.Fatalf("--segments %q: %v", *segPath, err)
	}
	if info, err := os.Stat(*cacheDir); err != nil {
		log.Fatalf("--cache %q: %v", *cacheDir, err)
	} else if !info.IsDir() {
		log.Fatalf("--cache %q is not a directory", *cacheDir)
	}

	if !*force {
		if _, err := os.Stat(*outPath); err == nil {
			log.Printf("output %q already exists, skipping (use --force to overwrite)", *outPath)
			return
		}
	}

	writer, err := pbfio.CreateXMLWriter(*outPath)
	if err != nil {
		log.Fatalf("create %q: %v", *outPath, err)
	}

	_, err = core.RunAssemble(*segPath, *cacheDir, *includeBarriers, time.Now().Unix(), writer)
	if err != nil {
		_ = writer.Close()
		log.Fatalf("build-derived-pbf: %v", err)
	}

	if err := writer.Close(); err != nil {
		log.Fatalf("close %q: %v", *outPath, err)
	}
}
