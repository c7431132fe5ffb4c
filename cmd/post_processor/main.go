// Command post_processor rewrites source path prefixes in the coverage
// maps and DWARF debug information of Mach-O files, in place.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/apex/log"
	"github.com/apex/log/handlers/cli"
	"github.com/xyproto/env/v2"

	"github.com/appsworld/go-macho-patch/internal/patch"
	"github.com/appsworld/go-macho-patch/pkg/prefix"
	"github.com/appsworld/go-macho-patch/types"
)

const usage = `Usage: %s <mode_options> <object_file>... <old_path> <new_path>
Rewrites every path that starts with old_path in the given object files so
it starts with new_path instead.

Mode options (at least one is required):
	-v, --verbose:
	  Print load commands, symbols and compile units while patching.
	-c, --covmap:
	  Patch paths in LLVM coverage maps.
	-d, --dwarf:
	  Patch paths in DWARF debug information.
	-m, --prefix-map <file>:
	  Use a sed-style new-line separated ,needle,new_needle, file. Every
	  positional argument is then an object file.
	-j, --jobs <n>:
	  Patch up to n files at once.
`

type config struct {
	verbose   bool
	covmap    bool
	dwarf     bool
	prefixMap string
	jobs      int
	files     []string
	rules     prefix.Rules
}

func usageError(format string, args ...interface{}) error {
	return types.Errorf(types.UsageError, format, args...)
}

// parseArgs reads flags and positionals in any order.
func parseArgs(name string, args []string, stderr io.Writer) (*config, error) {
	cfg := &config{}
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() { fmt.Fprintf(stderr, usage, name) }
	for _, n := range []string{"v", "verbose"} {
		fs.BoolVar(&cfg.verbose, n, env.Bool("POST_PROCESSOR_VERBOSE"), "print verbose information")
	}
	for _, n := range []string{"c", "covmap"} {
		fs.BoolVar(&cfg.covmap, n, false, "patch paths in LLVM coverage maps")
	}
	for _, n := range []string{"d", "dwarf"} {
		fs.BoolVar(&cfg.dwarf, n, false, "patch paths in DWARF debug information")
	}
	for _, n := range []string{"m", "prefix-map"} {
		fs.StringVar(&cfg.prefixMap, n, env.Str("POST_PROCESSOR_PREFIX_MAP"), "sed-style prefix map file")
	}
	for _, n := range []string{"j", "jobs"} {
		fs.IntVar(&cfg.jobs, n, env.Int("POST_PROCESSOR_JOBS", 1), "files patched at once")
	}

	var positional []string
	for {
		if err := fs.Parse(args); err != nil {
			return nil, types.Wrap(types.UsageError, err, "invalid arguments")
		}
		args = fs.Args()
		if len(args) == 0 {
			break
		}
		positional = append(positional, args[0])
		args = args[1:]
	}

	if !cfg.verbose && !cfg.covmap && !cfg.dwarf {
		fs.Usage()
		return nil, usageError("one of -v, -c or -d is required")
	}
	if cfg.jobs < 1 {
		return nil, usageError("invalid job count %d", cfg.jobs)
	}

	if cfg.prefixMap != "" {
		rules, err := prefix.ParseMapFile(cfg.prefixMap)
		if err != nil {
			return nil, types.Wrap(types.UsageError, err, "invalid prefix map")
		}
		cfg.rules = rules
		cfg.files = positional
	} else {
		if len(positional) < 3 {
			fs.Usage()
			return nil, usageError("expected <object_file>... <old_path> <new_path>")
		}
		n := len(positional)
		cfg.rules = prefix.Rules{{Old: positional[n-2], New: positional[n-1]}}
		cfg.files = positional[:n-2]
	}
	if len(cfg.files) == 0 {
		fs.Usage()
		return nil, usageError("no object files given")
	}
	return cfg, nil
}

func run(args []string, stdout, stderr io.Writer) int {
	log.SetHandler(cli.New(stderr))
	log.SetLevel(log.InfoLevel)

	cfg, err := parseArgs(args[0], args[1:], stderr)
	if err != nil {
		fmt.Fprintf(stderr, "ERROR: %v\n", err)
		return int(types.CodeOf(err))
	}
	if cfg.verbose {
		log.SetLevel(log.DebugLevel)
	}

	opts := []patch.Option{patch.WithJobs(cfg.jobs)}
	if cfg.covmap {
		opts = append(opts, patch.WithCovmap())
	}
	if cfg.dwarf {
		opts = append(opts, patch.WithDWARF())
	}
	if cfg.verbose {
		opts = append(opts, patch.WithVerbose(stdout))
	}
	p, err := patch.New(cfg.rules, opts...)
	if err != nil {
		fmt.Fprintf(stderr, "ERROR: %v\n", err)
		return int(types.CodeOf(err))
	}
	if err := p.Run(context.Background(), cfg.files); err != nil {
		fmt.Fprintf(stderr, "ERROR: %v\n", err)
		return int(types.CodeOf(err))
	}
	return int(types.OK)
}

func main() {
	os.Exit(run(os.Args, os.Stdout, os.Stderr))
}
