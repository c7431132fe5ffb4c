// Package patch drives the coverage map and DWARF patchers over a list of
// Mach-O files.
package patch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/apex/log"
	"golang.org/x/sync/errgroup"

	macho "github.com/appsworld/go-macho-patch"
	"github.com/appsworld/go-macho-patch/pkg/covmap"
	"github.com/appsworld/go-macho-patch/pkg/dwarfpatch"
	"github.com/appsworld/go-macho-patch/pkg/prefix"
	"github.com/appsworld/go-macho-patch/types"
)

// An Option configures a Patcher.
type Option func(*Patcher)

// WithCovmap enables rewriting of __llvm_covmap filenames.
func WithCovmap() Option {
	return func(p *Patcher) { p.covmap = true }
}

// WithDWARF enables rewriting of DWARF strings and line tables.
func WithDWARF() Option {
	return func(p *Patcher) { p.dwarf = true }
}

// WithVerbose dumps every image to w before and after patching.
func WithVerbose(w io.Writer) Option {
	return func(p *Patcher) { p.verbose = w }
}

// WithJobs sets how many files are patched at once.
func WithJobs(n int) Option {
	return func(p *Patcher) {
		if n > 0 {
			p.jobs = n
		}
	}
}

// A Patcher rewrites path prefixes in Mach-O files on disk.
type Patcher struct {
	rules   prefix.Rules
	covmap  bool
	dwarf   bool
	verbose io.Writer
	jobs    int

	mu sync.Mutex // serializes verbose output
}

// New returns a Patcher applying rules. Invalid rules are a usage error.
func New(rules prefix.Rules, opts ...Option) (*Patcher, error) {
	if err := rules.Validate(); err != nil {
		return nil, types.Wrap(types.UsageError, err, "invalid prefix rules")
	}
	p := &Patcher{rules: rules, jobs: 1}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Run patches every file in paths. No file is started after one fails,
// and the first failure is returned.
func (p *Patcher) Run(ctx context.Context, paths []string) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.jobs)
	for _, path := range paths {
		if gctx.Err() != nil {
			break
		}
		path := path
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			return p.File(path)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if p.verbose != nil {
		fmt.Fprintln(p.verbose, "Patching completed successfully.")
	}
	return nil
}

// File patches every image of the file at path and writes it back. The
// file is left untouched when any image fails.
func (p *Patcher) File(path string) error {
	c, err := macho.Open(path)
	if err != nil {
		return err
	}
	defer c.Close()

	var out bytes.Buffer
	defer p.flush(&out)

	ctx := log.WithField("file", path)
	for i, f := range c.Files() {
		if p.verbose != nil {
			fmt.Fprintf(&out, "%s (%s, %s)\n", path, f.CPU, f.Type)
			f.DumpLoads(&out)
			f.DumpSymbols(&out)
		}
		status, err := p.image(f)
		if err != nil {
			if c.IsFat() {
				return types.Wrapf(types.CodeOf(err), err, "%s: slice %d (%s)", path, i, f.CPU)
			}
			return types.Wrapf(types.CodeOf(err), err, "%s", path)
		}
		ctx.WithField("cpu", f.CPU).Debugf("image %s", status)
	}

	if err := c.Commit(); err != nil {
		return err
	}

	if p.verbose != nil && p.dwarf {
		for _, f := range c.Files() {
			if err := f.DumpCompileUnits(&out); err != nil {
				ctx.WithError(err).Warn("failed to read compile units")
			}
		}
	}
	return nil
}

func (p *Patcher) image(f *macho.File) (types.PatchStatus, error) {
	status := types.NotModified
	if p.covmap {
		s, err := covmap.NewPatcher(p.rules).Patch(f)
		if err != nil {
			return status, err
		}
		status = status.Merge(s)
	}
	if p.dwarf {
		s, err := dwarfpatch.NewPatcher(p.rules).Patch(f)
		if err != nil {
			return status, err
		}
		status = status.Merge(s)
	}
	return status, nil
}

func (p *Patcher) flush(b *bytes.Buffer) {
	if p.verbose == nil || b.Len() == 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	b.WriteTo(p.verbose)
}
