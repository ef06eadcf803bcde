// Package cliruntime drives container runtimes through their command line tools.
package cliruntime

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os/exec"
	"strings"
	"time"

	"github.com/bnema/zerowrap"

	"github.com/bnema/flotilla/internal/domain"
)

// Runner executes one command and returns its standard output.
// A non-zero exit is reported as *domain.AgentOperationError carrying stderr.
type Runner interface {
	Run(ctx context.Context, stdin io.Reader, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands on the local host.
type ExecRunner struct {
	timeout time.Duration
}

// NewExecRunner creates a runner. A zero timeout means no limit beyond ctx.
func NewExecRunner(timeout time.Duration) *ExecRunner {
	return &ExecRunner{timeout: timeout}
}

func (r *ExecRunner) Run(ctx context.Context, stdin io.Reader, name string, args ...string) ([]byte, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdin = stdin
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	log := zerowrap.FromCtx(ctx)
	log.Debug().
		Str(zerowrap.FieldLayer, "adapter").
		Str(zerowrap.FieldAdapter, "cliruntime").
		Str("command", name+" "+redact(args)).
		Msg("running runtime command")

	err := cmd.Run()
	if err == nil {
		return stdout.Bytes(), nil
	}

	opErr := &domain.AgentOperationError{
		Operation: name + " " + firstArg(args),
		Output:    strings.TrimSpace(stderr.String()),
		ExitCode:  -1,
		Err:       err,
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		opErr.ExitCode = exitErr.ExitCode()
	}
	if opErr.Output == "" {
		opErr.Output = strings.TrimSpace(stdout.String())
	}
	return nil, opErr
}

func firstArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}

// redact hides secret flag and environment values. Registry passwords are
// otherwise passed on stdin.
func redact(args []string) string {
	out := make([]string, len(args))
	for i, a := range args {
		if name, _, ok := strings.Cut(a, "="); ok && (name == "--docker-password" || strings.Contains(strings.ToUpper(name), "PASSWORD")) {
			a = name + "=***"
		}
		out[i] = a
	}
	return strings.Join(out, " ")
}
