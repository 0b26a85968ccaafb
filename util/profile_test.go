package util

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime/pprof"
	"testing"
	"time"
)

func TestCaptureProfiles(t *testing.T) {
	cases := []struct {
		name       string
		captureVal string
		want       bool
	}{
		{name: "enabled", captureVal: "1", want: true},
		{name: "invalid value", captureVal: "not-bool", want: false},
		{name: "unset", captureVal: "", want: false},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv(ProfileCapture, tc.captureVal)
			if got := CaptureProfiles(); got != tc.want {
				t.Fatalf("unexpected CaptureProfiles: got=%v want=%v", got, tc.want)
			}
		})
	}
}

func TestRegisterPprof(t *testing.T) {
	mux := http.NewServeMux()
	RegisterPprof(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL + "/debug/pprof/cmdline")
	if err != nil {
		t.Fatalf("GET cmdline: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}
}

func TestProfileTargetPath(t *testing.T) {
	cases := []struct {
		name   string
		target ProfileTarget
		want   string
	}{
		{
			name:   "dispatcher",
			target: ProfileTarget{RunID: "run-1"},
			want:   filepath.Join("p", "run-1", "dispatch.cpu.prof"),
		},
		{
			name:   "child ingesting a file",
			target: ProfileTarget{RunID: "run-1", File: "/data/20170929000000.tsv.gz"},
			want:   filepath.Join("p", "run-1", "20170929000000.cpu.prof"),
		},
		{
			name:   "missing run id",
			target: ProfileTarget{File: "a.gz"},
			want:   filepath.Join("p", "unknown-run", "a.cpu.prof"),
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.target.Path("p", "cpu"); got != tc.want {
				t.Fatalf("unexpected path: got=%s want=%s", got, tc.want)
			}
		})
	}
}

func TestWithProfiling(t *testing.T) {
	cases := []struct {
		name       string
		target     ProfileTarget
		action     func(ctx context.Context) error
		wantErrMsg string
	}{
		{
			name:   "propagates ingest error and writes the file's profiles",
			target: ProfileTarget{RunID: "run-1", File: "/in/a.tsv.gz"},
			action: func(ctx context.Context) error {
				if v, ok := pprof.Label(ctx, "file"); !ok || v != "a.tsv.gz" {
					return fmt.Errorf("missing file label: %q", v)
				}
				time.Sleep(20 * time.Millisecond)
				return errors.New("fatal read error")
			},
			wantErrMsg: "fatal read error",
		},
		{
			name:   "dispatcher run is labelled by role",
			target: ProfileTarget{RunID: "run-1"},
			action: func(ctx context.Context) error {
				if v, _ := pprof.Label(ctx, "role"); v != "dispatch" {
					return fmt.Errorf("unexpected role label: %q", v)
				}
				time.Sleep(10 * time.Millisecond)
				return nil
			},
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			dir := t.TempDir()
			err := WithProfiling(context.Background(), dir, tc.target, nil, tc.action)
			if tc.wantErrMsg != "" {
				if err == nil || err.Error() != tc.wantErrMsg {
					t.Fatalf("expected action error %q, got %v", tc.wantErrMsg, err)
				}
			} else if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			for _, kind := range []string{"cpu", "heap", "goroutine"} {
				if _, statErr := os.Stat(tc.target.Path(dir, kind)); statErr != nil {
					t.Fatalf("expected %s profile to exist: %v", kind, statErr)
				}
			}
		})
	}
}

func TestStartCPUProfile(t *testing.T) {
	cases := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{
			name:    "invalid path returns error",
			path:    filepath.Join(t.TempDir(), "missing", "cpu.prof"),
			wantErr: true,
		},
		{
			name:    "valid path returns stopper",
			path:    filepath.Join(t.TempDir(), "cpu.prof"),
			wantErr: false,
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			stop, err := startCPUProfile(tc.path)
			if tc.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			stop()
		})
	}
}
