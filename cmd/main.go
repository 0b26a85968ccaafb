package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/lechuhuuha/memcload/cmd/bootstrap"
	"github.com/lechuhuuha/memcload/internal/dispatcher"
	loggerpkg "github.com/lechuhuuha/memcload/logger"
)

func main() {
	if err := bootstrap.LoadEnvFile(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	cli, err := bootstrap.ParseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(2)
	}
	cfg, err := bootstrap.ResolveConfig(cli)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	logg, cleanup, err := bootstrap.InitLogger(cfg.LogFile, cfg.DryRun)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}

	bootstrap.InitObservability()

	application, err := bootstrap.NewApp(cli, cfg, logg)
	if err != nil {
		logg.Error("failed to build app", loggerpkg.Err(err))
		cleanup()
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err = application.Run(ctx)
	stop()

	code := 0
	switch {
	case cli.IngestFile != "":
		code = dispatcher.ExitCode(err)
	case err != nil:
		code = 1
	}
	if err != nil {
		logg.Error("unexpected error", loggerpkg.Err(err))
	}
	cleanup()
	os.Exit(code)
}
