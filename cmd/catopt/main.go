package main

import (
	"flag"
	"log"
	"os"
	"runtime/pprof"

	"golang.org/x/tools/go/packages"
	"golang.org/x/tools/go/ssa"
	"golang.org/x/tools/go/ssa/ssautil"

	"github.com/catopt/catopt/catdiag"
	"github.com/catopt/catopt/catpass"
	"github.com/catopt/catopt/pkgutil"
)

var (
	cpuprofile = flag.String("cpuprofile", "", "write cpu profile to `file`")
	dir        = flag.String("dir", "", "alternative directory to run the go build tool in")
	configPath = flag.String("config", "", "path to a catpass config file")
)

func main() {
	flag.Parse()

	if flag.NArg() == 0 {
		log.Fatal("Specify a package query on the command line")
	}

	cfg := catpass.DefaultConfig()
	if *configPath != "" {
		loaded, err := catpass.LoadConfig(*configPath)
		if err != nil {
			log.Fatalf("Loading config failed: %v", err)
		}
		cfg = loaded
	}

	if *cpuprofile != "" {
		f, err := os.Create(*cpuprofile)
		if err != nil {
			log.Fatal("could not create CPU profile: ", err)
		}
		defer func() {
			if err := f.Close(); err != nil {
				log.Fatal("Failed to close", f)
			}
		}()
		if err := pprof.StartCPUProfile(f); err != nil {
			log.Fatal("could not start CPU profile: ", err)
		}
		defer pprof.StopCPUProfile()
	}

	pkgs, err := pkgutil.LoadPackagesWithConfig(&packages.Config{
		Mode:  pkgutil.LoadMode,
		Tests: true,
		Dir:   *dir,
	}, flag.Args()...)
	if err != nil {
		log.Fatalf("Loading packages failed: %v", err)
	}
	log.Printf("Loaded %d packages", len(pkgs))

	prog, spkgs := ssautil.AllPackages(pkgs, ssa.SanityCheckFunctions)
	prog.Build()
	log.Println("Built packages")

	mains := ssautil.MainPackages(prog.AllPackages())
	diag := catdiag.Stderr{}
	oracle := catpass.BuildOracle(cfg, mains, diag)

	for _, spkg := range spkgs {
		for _, member := range spkg.Members {
			fn, ok := member.(*ssa.Function)
			if !ok || fn.Blocks == nil {
				continue
			}
			result := catpass.RunToFixpoint(cfg, fn, oracle, diag)
			log.Println(result.String())
		}
	}
}
