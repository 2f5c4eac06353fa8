package tools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// Transformer rewrites a JPEG losslessly from src into dst
type Transformer interface {
	Transform(ctx context.Context, src, dst string) error
}

// Identifier reports the real encoded format of a file, e.g. "JPEG" or "PNG"
type Identifier interface {
	Identify(ctx context.Context, path string) (string, error)
}

var ErrToolNotFound = errors.New("external tool not found")

// ToolError describes a tool that ran and exited unsuccessfully
type ToolError struct {
	Tool     string
	Args     []string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *ToolError) Error() string {
	msg := fmt.Sprintf("%s exited with code %d", e.Tool, e.ExitCode)
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}

func (e *ToolError) Unwrap() error {
	return e.Err
}

// Resolve finds name on PATH (or checks it directly when it contains a slash).
func Resolve(name string) (string, error) {
	path, err := exec.LookPath(name)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	return path, nil
}

// run executes the tool and returns its stdout. A non-zero exit becomes a *ToolError.
func run(ctx context.Context, tool string, args ...string) ([]byte, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, tool, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err == nil {
		return stdout.Bytes(), nil
	}
	if errors.Is(err, exec.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, tool)
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil, &ToolError{
			Tool:     tool,
			Args:     args,
			ExitCode: exitErr.ExitCode(),
			Stderr:   strings.TrimSpace(stderr.String()),
			Err:      err,
		}
	}
	return nil, fmt.Errorf("run %s: %w", tool, err)
}
