package gpio

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// ExecRunner runs commands through os/exec.
type ExecRunner struct{}

// NewExecRunner returns the real command runner.
func NewExecRunner() *ExecRunner {
	return &ExecRunner{}
}

// Run executes the command, bounded by the shorter of ctx and timeout.
func (ExecRunner) Run(ctx context.Context, timeout time.Duration, name string, args ...string) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, name, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		detail := strings.TrimSpace(string(out))
		if detail != "" {
			return fmt.Errorf("%s: %w: %s", name, err, detail)
		}
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}
