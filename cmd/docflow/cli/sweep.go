package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/docflow/docflow/internal/workflow"
)

// Sweeper runs the timeout sweeper in process.
type Sweeper interface {
	Sweep(ctx context.Context, now time.Time) (workflow.SweepResult, error)
}


// SweepOptions configures the sweep command.
type SweepOptions struct {
	// Inline runs the sweep in this process rather than queueing it.
	Inline     bool
	JSONOutput bool
	Sweeper    Sweeper
	Enqueue    func(ctx context.Context) (string, error)
	Now        func() time.Time
	Stdout     io.Writer
	Stderr     io.Writer
}

// SweepCommand executes one sweep and prints the outcome. It returns the process exit code.
func SweepCommand(ctx context.Context, opts SweepOptions) int {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}

	if !opts.Inline {
		if opts.Enqueue == nil {
			_, _ = fmt.Fprintln(opts.Stderr, "sweep: queue not configured")
			return 1
		}
		id, err := opts.Enqueue(ctx)
		if err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "sweep: enqueue: %v\n", err)
			return 1
		}
		_, _ = fmt.Fprintf(opts.Stdout, "sweep queued as task %s\n", id)
		return 0
	}

	if opts.Sweeper == nil {
		_, _ = fmt.Fprintln(opts.Stderr, "sweep: workflow service not configured")
		return 1
	}
	res, err := opts.Sweeper.Sweep(ctx, opts.Now())
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "sweep: %v\n", err)
		return 1
	}
	if opts.JSONOutput {
		if err := json.NewEncoder(opts.Stdout).Encode(res); err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "sweep: encode json: %v\n", err)
			return 1
		}
	} else {
		_, _ = fmt.Fprintf(opts.Stdout, "scanned=%d expired=%d failed=%d\n", res.Scanned, res.Expired, res.Failed)
	}
	if res.Failed > 0 {
		return 10
	}
	return 0
}
