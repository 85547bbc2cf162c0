// Copyright (C) 2020 Markus L. Noga
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.


package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"runtime/pprof"
	"strings"
	"time"

	"github.com/mlnoga/imalign/internal/align"
	"github.com/mlnoga/imalign/internal/logw"
	"github.com/mlnoga/imalign/internal/ops"
	"github.com/mlnoga/imalign/internal/raster"
	"github.com/mlnoga/imalign/internal/rest"
)

const version = "0.1.0"

var cpuprofile = flag.String("cpuprofile", "", "write cpu profile to `file`")
var memprofile = flag.String("memprofile", "", "write memory profile to `file`")

var out = flag.String("out", "aligned%d.jpg", "save aligned images with given filename pattern, %d expands to the image number")
var matches = flag.String("matches", "", "save match overlays with given filename pattern, e.g. `matches%d.jpg`")
var keypoints = flag.String("keypoints", "", "save keypoints of each aligned image as CSV with given filename pattern, e.g. `keypoints%d.csv`")
var log = flag.String("log", "%auto", "save log output to `file`. `%auto` replaces suffix of output file with .log")
var config = flag.String("config", "", "read alignment settings from JSON `file`. Flags override its values")
var printJob = flag.Bool("printJob", false, "print the job as JSON before running it, for use with the REST API")

var maxFeatures = flag.Int("maxFeatures", 500, "maximum number of keypoints per image")
var levels = flag.Int("levels", 8, "number of pyramid levels for keypoint detection")
var fast = flag.Int("fast", 20, "intensity threshold of the FAST corner test")
var goodMatch = flag.Float64("goodMatch", 0.15, "share of matches with lowest distance used for estimation, in (0,1]")
var reproj = flag.Float64("reproj", 3, "maximum reprojection error in pixels for RANSAC inliers")
var iters = flag.Int("iters", 2000, "maximum number of RANSAC iterations")
var refine = flag.Bool("refine", true, "refine the homography over all inliers")
var seed = flag.Uint("seed", 0, "seed for RANSAC sampling, 0=random")
var fill = flag.Uint("fill", 0, "value for pixels outside the moving image, 0..255")
var minCoverage = flag.Float64("minCoverage", 0, "skip images where fewer than this share of keypoints land on reference keypoints")
var threads = flag.Int("threads", 0, "maximum number of goroutines for matching, 0=one per CPU")

var addr = flag.String("addr", ":8080", "listen address of the REST server")
var chroot = flag.String("chroot", "", "change filesystem root of the REST server to `dir`")
var setuid = flag.Int("setuid", -1, "change user id of the REST server, -1=keep")

func main() {
	start := time.Now()
	flag.Usage = func() {
		fmt.Fprintf(os.Stdout, `Imalign Copyright (c) 2020 Markus L. Noga
This program comes with ABSOLUTELY NO WARRANTY.
This is free software, and you are welcome to redistribute it under certain conditions.
Refer to https://www.gnu.org/licenses/gpl-3.0.en.html for details.

Usage: %s [-flag value] (align|serve|legal|version) (ref.jpg img0.jpg ... imgn.jpg)

Commands:
  align   Align all images onto the first one
  serve   Serve the REST API
  legal   Show license and attribution information
  version Show version information

Flags:
`, os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	args := flag.Args()
	if len(args) < 1 {
		flag.Usage()
		return
	}

	// Initialize logging to file in addition to stdout, if selected
	if *log == "%auto" {
		if *out != "" && args[0] == "align" {
			*log = strings.ReplaceAll(strings.TrimSuffix(*out, filepath.Ext(*out)), "%d", "") + ".log"
		} else {
			*log = ""
		}
	}
	if *log != "" {
		if err := logw.LogAlsoToFile(*log); err != nil {
			logw.LogFatalf("Unable to open logfile '%s'\n", *log)
		}
	}

	// Enable CPU profiling if flagged
	if *cpuprofile != "" {
		f, err := os.Create(*cpuprofile)
		if err != nil {
			logw.LogFatal("Could not create CPU profile: ", err)
		}
		defer f.Close()
		if err := pprof.StartCPUProfile(f); err != nil {
			logw.LogFatal("Could not start CPU profile: ", err)
		}
		defer pprof.StopCPUProfile()
	}

	var err error
	switch args[0] {
	case "align":
		err = cmdAlign(args[1:])

	case "serve":
		if err = rest.MakeSandbox(*chroot, *setuid, logw.Writer); err == nil {
			err = rest.Serve(*addr)
		}

	case "legal":
		cmdLegal()

	case "version":
		logw.LogPrintf("Version %s\n", version)

	case "help", "?":
		flag.Usage()

	default:
		logw.LogPrintf("Unknown command '%s'\n\n", args[0])
		flag.Usage()
		return
	}

	logw.LogPrintf("\nDone after %v\n", time.Since(start))

	// Store memory profile if flagged
	if *memprofile != "" {
		f, err := os.Create(*memprofile)
		if err != nil {
			logw.LogFatal("Could not create memory profile: ", err)
		}
		defer f.Close()
		runtime.GC() // get up-to-date statistics
		if err := pprof.Lookup("allocs").WriteTo(f, 0); err != nil {
			logw.LogFatal("Could not write allocation profile: ", err)
		}
	}

	if err != nil {
		logw.LogFatalf("Error: %s\n", err.Error())
	}
	logw.LogClose()
}

// Builds the alignment settings from the optional config file and the flags set on the command line
func loadConfig() (cfg align.Config, err error) {
	cfg = align.DefaultConfig()
	if *config != "" {
		f, err := os.Open(*config)
		if err != nil {
			return cfg, err
		}
		defer f.Close()
		if cfg, err = align.LoadConfig(f); err != nil {
			return cfg, err
		}
	}

	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "maxFeatures":
			cfg.Feature.MaxFeatures = *maxFeatures
		case "levels":
			cfg.Feature.Levels = *levels
		case "fast":
			cfg.Feature.FastThreshold = *fast
		case "goodMatch":
			cfg.GoodMatchFraction = *goodMatch
		case "reproj":
			cfg.Homography.Threshold = *reproj
		case "iters":
			cfg.Homography.MaxIters = *iters
		case "refine":
			cfg.Homography.Refine = *refine
		case "seed":
			cfg.Seed = uint32(*seed)
		case "fill":
			cfg.FillValue = uint8(*fill)
		case "threads":
			cfg.MaxThreads = *threads
		}
	})
	if *fill > 255 {
		return cfg, fmt.Errorf("fill value %d must be in 0..255", *fill)
	}
	return cfg, cfg.Validate()
}

// Aligns the images given after the reference onto the reference
func cmdAlign(args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("align needs a reference and at least one image to align, got %d files", len(args))
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	opAlign := ops.NewOpAlign(cfg, *matches)
	opAlign.Keypoints = *keypoints
	opAlign.MinCoverage = *minCoverage
	seq := ops.NewOpSequence(
		ops.NewOpLoadMany(args[1:]),
		ops.NewOpLoadRef(args[0]),
		ops.NewOpForEach(opAlign),
		ops.NewOpSave(*out),
	)
	if *printJob {
		m, err := json.MarshalIndent(seq, "", "  ")
		if err != nil {
			return err
		}
		logw.LogPrintf("Job:\n%s\n", string(m))
	}

	c := ops.NewContext(logw.Writer)
	threads := c.MaxThreads
	if w, h, err := raster.ReadDimensions(args[0]); err == nil {
		threads = c.MaxConcurrentAlignments(w * h)
	}
	logw.LogPrintf("Aligning with %d concurrent images, %d MiB of %d MiB memory\n", threads, c.AlignMemoryMB, c.MemoryMB)

	imgs, err := ops.Run(seq, c, threads)
	if err != nil {
		return err
	}
	logw.LogPrintf("Aligned %d images.\n", len(imgs))
	return nil
}
