package bootstrap

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/pgzip"

	"github.com/lechuhuuha/memcload/config"
	"github.com/lechuhuuha/memcload/internal/dispatcher"
	"github.com/lechuhuuha/memcload/internal/service"
	loggerpkg "github.com/lechuhuuha/memcload/logger"
	"github.com/lechuhuuha/memcload/util"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, env := range flagEnv {
		t.Setenv(env, "")
	}
	t.Setenv(util.EnvMetricsAddr, "")
	t.Setenv(util.EnvPushGateway, "")
	t.Setenv(util.EnvDeadLetterBrokers, "")
	t.Setenv(util.EnvRunID, "")
	t.Setenv(util.ProfileCapture, "")
}

func TestParseFlags(t *testing.T) {
	cases := []struct {
		name  string
		args  []string
		env   map[string]string
		check func(t *testing.T, cli CLIConfig)
	}{
		{
			name: "defaults are not overrides",
			check: func(t *testing.T, cli CLIConfig) {
				if cli.Pattern != util.DefaultPattern || cli.Workers != 4 || cli.Mode != "batch" {
					t.Fatalf("unexpected defaults: %+v", cli)
				}
				if cli.Destinations["idfa"] != util.DefaultIdfaAddr {
					t.Fatalf("unexpected idfa default %q", cli.Destinations["idfa"])
				}
				if cli.set("pattern") || cli.set("idfa") {
					t.Fatal("defaults must not count as explicit")
				}
			},
		},
		{
			name: "explicit flags",
			args: []string{"-pattern", " /in/*.gz ", "-dry", "-workers", "8", "-gaid", "10.0.0.2:11211", "-t"},
			check: func(t *testing.T, cli CLIConfig) {
				if cli.Pattern != "/in/*.gz" || !cli.DryRun || cli.Workers != 8 || !cli.SelfTest {
					t.Fatalf("unexpected values: %+v", cli)
				}
				if !cli.set("pattern") || !cli.set("gaid") || cli.set("idfa") {
					t.Fatalf("unexpected explicit set: %v", cli.explicit)
				}
			},
		},
		{
			name: "environment counts as explicit",
			env:  map[string]string{util.EnvWriteMode: "single"},
			check: func(t *testing.T, cli CLIConfig) {
				if cli.Mode != "single" || !cli.set("mode") {
					t.Fatalf("expected env mode override, got %+v", cli)
				}
			},
		},
		{
			name: "ingest file",
			args: []string{"-ingest-file", "a.tsv.gz"},
			check: func(t *testing.T, cli CLIConfig) {
				if cli.IngestFile != "a.tsv.gz" {
					t.Fatalf("unexpected ingest file %q", cli.IngestFile)
				}
			},
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			cli, err := ParseFlags(tc.args)
			if err != nil {
				t.Fatalf("ParseFlags returned error: %v", err)
			}
			tc.check(t, cli)
		})
	}
}

func TestParseFlagsRejectsUnknown(t *testing.T) {
	clearEnv(t)
	if _, err := ParseFlags([]string{"-nope"}); err == nil {
		t.Fatal("expected unknown flag error")
	}
}

func TestResolveConfig(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := "pattern: /file/*.gz\npipeline:\n  workers: 2\ndestinations:\n  idfa: 1.1.1.1:1\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cases := []struct {
		name    string
		args    []string
		wantErr string
		check   func(t *testing.T, cfg *config.Config)
	}{
		{
			name: "file values without overrides",
			args: []string{"-config", path},
			check: func(t *testing.T, cfg *config.Config) {
				if cfg.Pattern != "/file/*.gz" || cfg.Pipeline.Workers != 2 {
					t.Fatalf("unexpected config: %+v", cfg)
				}
				if cfg.DestinationMap().Len() != 1 {
					t.Fatalf("expected only the file destinations, got %v", cfg.DestinationMap().Types())
				}
			},
		},
		{
			name: "flags override file",
			args: []string{"-config", path, "-pattern", "/flag/*.gz", "-workers", "6", "-dvid", "2.2.2.2:2"},
			check: func(t *testing.T, cfg *config.Config) {
				if cfg.Pattern != "/flag/*.gz" || cfg.Pipeline.Workers != 6 {
					t.Fatalf("unexpected config: %+v", cfg)
				}
				if addr, ok := cfg.DestinationMap().Lookup("dvid"); !ok || addr != "2.2.2.2:2" {
					t.Fatalf("expected dvid override, got %q", addr)
				}
			},
		},
		{
			name:    "invalid mode",
			args:    []string{"-mode", "sometimes"},
			wantErr: "invalid configuration",
		},
		{
			name:    "missing file",
			args:    []string{"-config", filepath.Join(t.TempDir(), "missing.yaml")},
			wantErr: "load config file",
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			cli, err := ParseFlags(tc.args)
			if err != nil {
				t.Fatalf("ParseFlags returned error: %v", err)
			}
			cfg, err := ResolveConfig(cli)
			if tc.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
					t.Fatalf("expected error containing %q, got %v", tc.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ResolveConfig returned error: %v", err)
			}
			tc.check(t, cfg)
		})
	}
}

func TestLoadEnvFile(t *testing.T) {
	const key = "MEMCLOAD_TEST_DOTENV_VALUE"
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte(key+"=loaded\n"), 0o644); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Setenv(util.EnvDotenvFile, path)
	t.Cleanup(func() { _ = os.Unsetenv(key) })

	if err := LoadEnvFile(); err != nil {
		t.Fatalf("LoadEnvFile returned error: %v", err)
	}
	if got := os.Getenv(key); got != "loaded" {
		t.Fatalf("expected value from env file, got %q", got)
	}

	t.Setenv(util.EnvDotenvFile, filepath.Join(t.TempDir(), "missing.env"))
	if err := LoadEnvFile(); err != nil {
		t.Fatalf("missing env file must be ignored, got %v", err)
	}
}

func TestChildArgs(t *testing.T) {
	cases := []struct {
		name string
		args []string
		want []string
	}{
		{name: "keeps other flags", args: []string{"-config", "c.yaml", "-dry"}, want: []string{"-config", "c.yaml", "-dry"}},
		{name: "drops separate value", args: []string{"-ingest-file", "x.gz", "-dry"}, want: []string{"-dry"}},
		{name: "drops inline value", args: []string{"--ingest-file=x.gz", "-dry"}, want: []string{"-dry"}},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			got := childArgs(tc.args)
			if strings.Join(got, " ") != strings.Join(tc.want, " ") {
				t.Fatalf("expected %v, got %v", tc.want, got)
			}
		})
	}
}

func TestSelfTest(t *testing.T) {
	rec := loggerpkg.NewRecorder()
	if err := SelfTest(rec); err != nil {
		t.Fatalf("SelfTest returned error: %v", err)
	}
	if got := rec.Count("info", "self-test record ok"); got != 2 {
		t.Fatalf("expected 2 verified records, got %d", got)
	}
}

func writeInput(t *testing.T, path string, lines ...string) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create input: %v", err)
	}
	gz := pgzip.NewWriter(f)
	if _, err := gz.Write([]byte(strings.Join(lines, "\n") + "\n")); err != nil {
		t.Fatalf("write input: %v", err)
	}
	if err := gz.Close(); err != nil {
		t.Fatalf("close gzip: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close input: %v", err)
	}
}

func TestAppDryRunDispatch(t *testing.T) {
	clearEnv(t)
	t.Setenv(util.EnvRunID, "run-fixed")
	dir := t.TempDir()
	inDir := filepath.Join(dir, "in")
	if err := os.MkdirAll(inDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	writeInput(t, filepath.Join(inDir, "20170929000000.tsv.gz"),
		"idfa\t1rfw452y52g2gq4g\t55.55\t42.42\t1423,43,567,3,7,23",
		"gaid\t7rfw452y52g2gq4g\t55.55\t42.42\t7423,424",
		"bogus line",
	)

	cfg := config.Default()
	cfg.Pattern = filepath.Join(inDir, "*.tsv.gz")
	cfg.DryRun = true
	cfg.Dispatcher.Isolation = config.IsolationGoroutine
	cfg.DeadLetter.Dir = filepath.Join(dir, "dead")
	cfg.Report.Backend = config.ReportFile
	cfg.Report.Dir = filepath.Join(dir, "reports")

	rec := loggerpkg.NewRecorder()
	app, err := NewApp(CLIConfig{}, cfg, rec)
	if err != nil {
		t.Fatalf("NewApp returned error: %v", err)
	}
	if err := app.Run(context.Background()); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if _, err := os.Stat(filepath.Join(inDir, ".20170929000000.tsv.gz")); err != nil {
		t.Fatalf("expected input to be renamed: %v", err)
	}
	reports, _ := filepath.Glob(filepath.Join(dir, "reports", "*", "20170929000000.tsv.gz.run-fixed.json"))
	if len(reports) != 1 {
		t.Fatalf("expected one report, got %v", reports)
	}
	dead, _ := filepath.Glob(filepath.Join(dir, "dead", "*", "*.deadletter.json"))
	if len(dead) != 1 {
		t.Fatalf("expected one dead letter file, got %v", dead)
	}
	if rec.Count("debug", "dry run set_multi") == 0 {
		t.Fatal("expected dry run writes to be logged")
	}
}

type failingRunner struct{}

func (failingRunner) Run(context.Context, string) error { return service.ErrFatalRead }

func TestAppDispatchLeavesFailedFiles(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "a.tsv.gz")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatalf("write input: %v", err)
	}
	cfg := config.Default()
	cfg.Pattern = filepath.Join(dir, "*.tsv.gz")
	cfg.DryRun = true

	app, err := NewApp(CLIConfig{}, cfg, nil)
	if err != nil {
		t.Fatalf("NewApp returned error: %v", err)
	}
	app.newRunner = func(context.Context) (dispatcher.Runner, func(), error) {
		return failingRunner{}, func() {}, nil
	}
	if err := app.Run(context.Background()); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("failed file must keep its name: %v", err)
	}
}

func TestAppIngestFileFatalRead(t *testing.T) {
	clearEnv(t)
	cfg := config.Default()
	cfg.DryRun = true
	missing := filepath.Join(t.TempDir(), "missing.tsv.gz")

	app, err := NewApp(CLIConfig{IngestFile: missing}, cfg, nil)
	if err != nil {
		t.Fatalf("NewApp returned error: %v", err)
	}
	err = app.Run(context.Background())
	if !errors.Is(err, service.ErrFatalRead) {
		t.Fatalf("expected ErrFatalRead, got %v", err)
	}
	if dispatcher.ExitCode(err) != dispatcher.ExitFatalRead {
		t.Fatalf("expected exit code %d", dispatcher.ExitFatalRead)
	}
}

func TestAppDefaultRunner(t *testing.T) {
	clearEnv(t)
	cases := []struct {
		name      string
		isolation string
		check     func(t *testing.T, r dispatcher.Runner)
	}{
		{
			name:      "goroutine",
			isolation: config.IsolationGoroutine,
			check: func(t *testing.T, r dispatcher.Runner) {
				if _, ok := r.(dispatcher.LocalRunner); !ok {
					t.Fatalf("expected LocalRunner, got %T", r)
				}
			},
		},
		{
			name:      "process",
			isolation: config.IsolationProcess,
			check: func(t *testing.T, r dispatcher.Runner) {
				er, ok := r.(*dispatcher.ExecRunner)
				if !ok {
					t.Fatalf("expected ExecRunner, got %T", r)
				}
				found := false
				for _, e := range er.Env {
					if strings.HasPrefix(e, util.EnvRunID+"=") {
						found = true
					}
				}
				if !found {
					t.Fatal("expected run id to be passed to children")
				}
			},
		},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default()
			cfg.Dispatcher.Isolation = tc.isolation
			cfg.DryRun = true
			app, err := NewApp(CLIConfig{}, cfg, nil)
			if err != nil {
				t.Fatalf("NewApp returned error: %v", err)
			}
			r, closeFn, err := app.defaultRunner(context.Background())
			if err != nil {
				t.Fatalf("defaultRunner returned error: %v", err)
			}
			defer closeFn()
			tc.check(t, r)
		})
	}
}

func TestAppDefaultRunnerBuildsOutputsOnlyInProcess(t *testing.T) {
	clearEnv(t)
	cases := []struct {
		name      string
		isolation string
		wantErr   bool
	}{
		{name: "children wire their own outputs", isolation: config.IsolationProcess},
		{name: "in-process runner validates outputs", isolation: config.IsolationGoroutine, wantErr: true},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default()
			cfg.DryRun = true
			cfg.Dispatcher.Isolation = tc.isolation
			// no bucket: building the MinIO store fails before any network call
			cfg.Report.Backend = config.ReportMinIO
			cfg.Report.MinIO.Endpoint = "127.0.0.1:1"
			cfg.Report.MinIO.Bucket = ""

			app, err := NewApp(CLIConfig{}, cfg, nil)
			if err != nil {
				t.Fatalf("NewApp returned error: %v", err)
			}
			_, closeFn, err := app.defaultRunner(context.Background())
			if tc.wantErr {
				if err == nil {
					t.Fatal("expected report store error")
				}
				return
			}
			if err != nil {
				t.Fatalf("defaultRunner returned error: %v", err)
			}
			closeFn()
		})
	}
}

func TestAppProfilesEachIngestedFile(t *testing.T) {
	clearEnv(t)
	profiles := t.TempDir()
	t.Setenv(util.ProfileCapture, "1")
	t.Setenv(util.ProfileDir, profiles)
	t.Setenv(util.EnvRunID, "run-fixed")

	cfg := config.Default()
	cfg.DryRun = true
	missing := filepath.Join(t.TempDir(), "20170929000000.tsv.gz")
	app, err := NewApp(CLIConfig{IngestFile: missing}, cfg, nil)
	if err != nil {
		t.Fatalf("NewApp returned error: %v", err)
	}
	if err := app.Run(context.Background()); !errors.Is(err, service.ErrFatalRead) {
		t.Fatalf("expected ErrFatalRead, got %v", err)
	}
	for _, kind := range []string{"cpu", "heap", "goroutine"} {
		path := filepath.Join(profiles, "run-fixed", "20170929000000."+kind+".prof")
		if _, err := os.Stat(path); err != nil {
			t.Fatalf("expected %s profile for the ingested file: %v", kind, err)
		}
	}
}
