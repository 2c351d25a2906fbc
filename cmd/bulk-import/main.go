package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/lychee-technology/bulkingest"
	"go.uber.org/zap"
)

// Exit codes
const (
	exitOK          = 0
	exitFatal       = 1
	exitOpErrors    = 2
	exitInterrupted = 130
)

// exitError carries the process exit code for an error returned from a command.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func withCode(code int, err error) error {
	return &exitError{code: code, err: err}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:])
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string) int {
	cmd := newRootCmd()
	cmd.SetArgs(args)

	err := cmd.ExecuteContext(ctx)
	_ = zap.L().Sync()
	if err == nil {
		return exitOK
	}

	var exitErr *exitError
	if errors.As(err, &exitErr) {
		if exitErr.code == exitOpErrors {
			return exitOpErrors
		}
		err = exitErr.err
		if exitErr.code != exitFatal {
			fmt.Fprintf(os.Stderr, "bulk-import: %v\n", err)
			return exitErr.code
		}
	}

	fmt.Fprintf(os.Stderr, "bulk-import: %s\n", describeFatal(err))
	return exitFatal
}

// describeFatal gives fatal errors a category prefix so the cause is
// distinguishable from per-operation failures in the report.
func describeFatal(err error) string {
	switch {
	case bulkingest.IsConfigError(err):
		return "configuration error: " + err.Error()
	case errors.Is(err, context.Canceled):
		return "interrupted: " + err.Error()
	}
	if ingestErr, ok := bulkingest.AsIngestError(err); ok {
		switch ingestErr.Type {
		case bulkingest.ErrorTypeBatchSource:
			return "cannot read batch: " + err.Error()
		case bulkingest.ErrorTypeBatchFormat:
			return "invalid batch: " + err.Error()
		}
	}
	return err.Error()
}
