package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"

	"github.com/lechuhuuha/memcload/internal/domain"
	"github.com/lechuhuuha/memcload/internal/service"
)

// Exit codes used by a child ingesting a single file.
const (
	ExitOK        = 0
	ExitFailure   = 1
	ExitFatalRead = 3
)

// IngestFileFlag is the flag a child process receives with the file to ingest.
const IngestFileFlag = "-ingest-file"

// Runner ingests one file. A nil error means the file was fully drained.
type Runner interface {
	Run(ctx context.Context, path string) error
}

// FileProcessor is satisfied by *service.Pipeline.
type FileProcessor interface {
	Process(ctx context.Context, path string) (domain.Report, error)
}

// LocalRunner runs the pipeline in the calling process.
type LocalRunner struct {
	Pipeline FileProcessor
}

func (r LocalRunner) Run(ctx context.Context, path string) error {
	_, err := r.Pipeline.Process(ctx, path)
	return err
}

// ExecRunner re-executes a binary with IngestFileFlag so each file is handled
// by its own OS process.
type ExecRunner struct {
	Binary string
	// Args are placed before IngestFileFlag.
	Args   []string
	Env    []string
	Stdout io.Writer
	Stderr io.Writer
}

// NewExecRunner targets the running executable.
func NewExecRunner(args []string) (*ExecRunner, error) {
	bin, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("resolve executable: %w", err)
	}
	return &ExecRunner{Binary: bin, Args: args, Stdout: os.Stdout, Stderr: os.Stderr}, nil
}

func (r *ExecRunner) Run(ctx context.Context, path string) error {
	args := append(append([]string{}, r.Args...), IngestFileFlag, path)
	cmd := exec.CommandContext(ctx, r.Binary, args...)
	if r.Env != nil {
		cmd.Env = r.Env
	}
	cmd.Stdout = r.Stdout
	cmd.Stderr = r.Stderr

	err := cmd.Run()
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if exitErr.ExitCode() == ExitFatalRead {
			return fmt.Errorf("%w: child exit status %d", service.ErrFatalRead, ExitFatalRead)
		}
		return fmt.Errorf("child for %s exited with status %d", path, exitErr.ExitCode())
	}
	return fmt.Errorf("start child for %s: %w", path, err)
}

// ExitCode maps a file run error to the child process exit status.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, service.ErrFatalRead):
		return ExitFatalRead
	default:
		return ExitFailure
	}
}
