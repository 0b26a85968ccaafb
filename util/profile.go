package util

import (
	"context"
	"fmt"
	"net/http"
	"net/http/pprof"
	"os"
	"path/filepath"
	runtimePprof "runtime/pprof"
	"strings"
	"time"

	loggerpkg "github.com/lechuhuuha/memcload/logger"
)

// RegisterPprof mounts the pprof handlers on mux.
func RegisterPprof(mux *http.ServeMux) {
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
}

// CaptureProfiles reports whether the run should be wrapped with CPU and heap profiling.
// Children inherit the environment, so each ingested file gets its own profile set.
func CaptureProfiles() bool {
	return GetBoolEnv(ProfileCapture, false)
}

// snapshotProfiles are written once the profiled action returns.
var snapshotProfiles = []string{"heap", "goroutine"}

// ProfileTarget identifies one profiled invocation: the dispatcher itself, or
// a child ingesting File.
type ProfileTarget struct {
	RunID string
	File  string
}

// Label is "dispatch" for the parent and the input base name without its
// .tsv.gz suffix for a child.
func (t ProfileTarget) Label() string {
	if t.File == "" {
		return "dispatch"
	}
	base := filepath.Base(t.File)
	base = strings.TrimSuffix(base, ".gz")
	base = strings.TrimSuffix(base, ".tsv")
	if base == "" || base == "." {
		return "file"
	}
	return base
}

// Path returns dir/<run id>/<label>.<kind>.prof, so one run's parent and
// children land next to each other.
func (t ProfileTarget) Path(dir, kind string) string {
	run := t.RunID
	if run == "" {
		run = "unknown-run"
	}
	return filepath.Join(dir, run, t.Label()+"."+kind+".prof")
}

func (t ProfileTarget) labels() runtimePprof.LabelSet {
	if t.File == "" {
		return runtimePprof.Labels("run_id", t.RunID, "role", "dispatch")
	}
	return runtimePprof.Labels("run_id", t.RunID, "role", "ingest", "file", filepath.Base(t.File))
}

// WithProfiling runs action under pprof labels for target and records a CPU
// profile for its duration, then heap and goroutine snapshots. The action's
// error is returned unchanged; profiling failures are only logged.
func WithProfiling(ctx context.Context, dir string, target ProfileTarget, logr loggerpkg.Logger, action func(ctx context.Context) error) error {
	if logr == nil {
		logr = loggerpkg.NewNop()
	}
	logr = logr.With(loggerpkg.F("profile", target.Label()))
	if err := os.MkdirAll(filepath.Dir(target.Path(dir, "cpu")), 0o755); err != nil {
		return fmt.Errorf("create profiling dir: %w", err)
	}

	stopCPU, err := startCPUProfile(target.Path(dir, "cpu"))
	if err != nil {
		logr.Warn("cpu profiling disabled", loggerpkg.Err(err))
		stopCPU = func() {}
	}

	start := time.Now()
	runtimePprof.Do(ctx, target.labels(), func(ctx context.Context) {
		err = action(ctx)
	})
	stopCPU()
	logr.Info("profiling completed", loggerpkg.F("file", target.File), loggerpkg.F("duration", time.Since(start).String()))

	for _, kind := range snapshotProfiles {
		writeSnapshot(kind, target.Path(dir, kind), logr)
	}
	return err
}

func startCPUProfile(path string) (func(), error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	if err := runtimePprof.StartCPUProfile(f); err != nil {
		f.Close()
		return nil, err
	}
	return func() {
		runtimePprof.StopCPUProfile()
		f.Close()
	}, nil
}

func writeSnapshot(kind, path string, logr loggerpkg.Logger) {
	prof := runtimePprof.Lookup(kind)
	if prof == nil {
		logr.Warn("unknown profile", loggerpkg.F("kind", kind))
		return
	}
	f, err := os.Create(path)
	if err != nil {
		logr.Error("cannot create profile", loggerpkg.F("kind", kind), loggerpkg.F("path", path), loggerpkg.Err(err))
		return
	}
	defer f.Close()
	if err := prof.WriteTo(f, 0); err != nil {
		logr.Error("failed to write profile", loggerpkg.F("kind", kind), loggerpkg.F("path", path), loggerpkg.Err(err))
	}
}
