package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/epokhe/osmseg/core"
	"github.com/epokhe/osmseg/pbfio"
)

func usage() {
	fmt.Fprintf(os.Stderr, "usage:\n")
	fmt.Fprintf(os.Stderr, "  extract-osm --osm <pbf> --segments <rseg> --out <cache-dir> "+
		"[--optimized] [--build-dictionary] [--force]\n")
	os.Exit(1)
}

func existingCacheFiles(dir string) []string {
	var found []string
	for _, name := range []string{"nodes.bin", "nodes.txt", "way_tags.bin", "way_tags.txt", "relations.txt"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err == nil {
			found = append(found, name)
		}
	}
	return found
}

func main() {
	var (
		osmPath        = flag.String("osm", "", "path to the source OSM PBF file")
		segPath        = flag.String("segments", "", "path to the segment store")
		outDir         = flag.String("out", "", "cache directory to write")
		optimized      = flag.Bool("optimized", false, "use the binary node and way-tag caches")
		buildDict      = flag.Bool("build-dictionary", false, "sample way tags to build a compression dictionary first")
		force          = flag.Bool("force", false, "overwrite existing cache files")
	)
	flag.Parse()

	if *osmPath == "" || *segPath == "" || *outDir == "" {
		usage()
	}

	if info, err := os.Stat(*osmPath); err != nil {
		log.Fatalf("--osm %q: %v", *osmPath, err)
	} else if info.IsDir() {
		log.Fatalf("--osm %q is a directory, want a file", *osmPath)
	}

	if _, err := os.Stat(*segPath); err != nil {
		log.Fatalf("--segments %q: %v", *segPath, err)
	}

	if err := os.MkdirAll(*outDir, 0o755); err != nil {
		log.Fatalf("create cache dir %q: %v", *outDir, err)
	}

	if !*force {
		if existing := existingCacheFiles(*outDir); len(existing) > 0 {
			log.Printf("cache files already present in %q (%v), skipping (use --force to overwrite)", *outDir, existing)
			return
		}
	}

	workDir, err := os.MkdirTemp(*outDir, "extract-work-*")
	if err != nil {
		log.Fatalf("create work dir: %v", err)
	}
	defer os.RemoveAll(workDir) // nolint:errcheck

	reader, err := pbfio.Open(*osmPath)
	if err != nil {
		log.Fatalf("open %q: %v", *osmPath, err)
	}
	defer reader.Close() // nolint:errcheck

	stats, err := core.RunExtract(*segPath, *outDir, reader, core.ExtractOptions{
		Optimized:       *optimized,
		BuildDictionary: *buildDict,
		WorkDir:         workDir,
	})
	if err != nil {
		log.Fatalf("extract-osm: %v", err)
	}

	log.Printf("extract-osm: nodes=%d ways=%d relations=%d", stats.NodesWritten, stats.WaysWritten, stats.RelationsWritten)
}
