// Package dispatcher fans input files out to runners and marks finished files.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/lechuhuuha/memcload/internal/metrics"
	loggerpkg "github.com/lechuhuuha/memcload/logger"
)

const defaultProcessedPrefix = "."

// ErrNoPattern is returned when no glob pattern is configured.
var ErrNoPattern = errors.New("input pattern is required")

// Config tunes file fan-out.
type Config struct {
	Pattern string
	// Processes bounds concurrent file runs. Zero means runtime.NumCPU().
	Processes       int
	ProcessedPrefix string
}

// Result is the outcome for one input file.
type Result struct {
	File    string
	Renamed string
	Err     error
}

// Dispatcher enumerates files and runs them with bounded concurrency.
type Dispatcher struct {
	runner    Runner
	logger    loggerpkg.Logger
	pattern   string
	processes int
	prefix    string
	rename    func(oldpath, newpath string) error
}

func New(runner Runner, logr loggerpkg.Logger, cfg Config) *Dispatcher {
	if logr == nil {
		logr = loggerpkg.NewNop()
	}
	processes := cfg.Processes
	if processes <= 0 {
		processes = runtime.NumCPU()
	}
	prefix := cfg.ProcessedPrefix
	if prefix == "" {
		prefix = defaultProcessedPrefix
	}
	return &Dispatcher{
		runner:    runner,
		logger:    logr,
		pattern:   cfg.Pattern,
		processes: processes,
		prefix:    prefix,
		rename:    os.Rename,
	}
}

// Files lists unprocessed matches of the pattern in lexicographic order.
func (d *Dispatcher) Files() ([]string, error) {
	if strings.TrimSpace(d.pattern) == "" {
		return nil, ErrNoPattern
	}
	matches, err := filepath.Glob(d.pattern)
	if err != nil {
		return nil, fmt.Errorf("glob %q: %w", d.pattern, err)
	}
	files := matches[:0]
	for _, m := range matches {
		// Processed files may still match the pattern.
		if strings.HasPrefix(filepath.Base(m), d.prefix) {
			continue
		}
		files = append(files, m)
	}
	sort.Strings(files)
	return files, nil
}

// Run processes every file and renames the ones that drained successfully.
// Per-file failures are reported in the results, not returned.
func (d *Dispatcher) Run(ctx context.Context) ([]Result, error) {
	files, err := d.Files()
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		d.logger.Info("no files matched", loggerpkg.F("pattern", d.pattern))
		return nil, nil
	}
	d.logger.Info("dispatching files", loggerpkg.F("files", len(files)), loggerpkg.F("processes", d.processes))

	results := make([]Result, len(files))
	var g errgroup.Group
	g.SetLimit(d.processes)
	for i, path := range files {
		i, path := i, path
		g.Go(func() error {
			results[i] = d.runOne(ctx, path)
			return nil
		})
	}
	_ = g.Wait()
	return results, ctx.Err()
}

func (d *Dispatcher) runOne(ctx context.Context, path string) Result {
	res := Result{File: path}
	if err := ctx.Err(); err != nil {
		res.Err = err
		return res
	}
	if err := d.runner.Run(ctx, path); err != nil {
		d.logger.Error("file left unprocessed", loggerpkg.F("file", path), loggerpkg.Err(err))
		res.Err = err
		return res
	}
	target, err := d.markProcessed(path)
	if err != nil {
		d.logger.Error("cannot mark file processed", loggerpkg.F("file", path), loggerpkg.Err(err))
		res.Err = err
		return res
	}
	metrics.IncFiles("renamed")
	d.logger.Info("file processed", loggerpkg.F("file", path), loggerpkg.F("renamed", target))
	res.Renamed = target
	return res
}

// markProcessed prefixes the base name of path in place.
func (d *Dispatcher) markProcessed(path string) (string, error) {
	dir, base := filepath.Split(path)
	target := filepath.Join(dir, d.prefix+base)
	if err := d.rename(path, target); err != nil {
		return "", fmt.Errorf("rename %s: %w", path, err)
	}
	return target, nil
}
