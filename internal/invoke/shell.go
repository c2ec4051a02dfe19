package invoke

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
	"time"
)

// ErrCommandNotAllowed is returned for commands outside the allowlist.
var ErrCommandNotAllowed = errors.New("command not allowed")

// Shell runs a fixed command with arguments. There is no shell expansion:
// the command is executed directly.
type Shell struct {
	Command string
	Args    []string
	Dir     string
	Env     map[string]string

	// WaitDelay bounds how long Invoke waits for output pipes after the
	// context kills the process.
	WaitDelay time.Duration
}

// NewShell checks command against allowed and returns the invoker.
func NewShell(command string, args []string, dir string, env map[string]string, allowed []string) (*Shell, error) {
	if command == "" {
		return nil, fmt.Errorf("shell: command is required")
	}
	if !contains(allowed, command) {
		return nil, fmt.Errorf("%w: %s", ErrCommandNotAllowed, command)
	}
	return &Shell{
		Command:   command,
		Args:      append([]string(nil), args...),
		Dir:       dir,
		Env:       env,
		WaitDelay: time.Second,
	}, nil
}

// Invoke runs the command under ctx. A non-zero exit is an error carrying the
// tail of stderr.
func (s *Shell) Invoke(ctx context.Context) (string, error) {
	cmd := exec.CommandContext(ctx, s.Command, s.Args...)
	cmd.Dir = s.Dir
	cmd.WaitDelay = s.WaitDelay
	if len(s.Env) > 0 {
		cmd.Env = append(os.Environ(), envList(s.Env)...)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	output := tail(stdout.String(), MaxOutput)

	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return output, ctxErr
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			msg := strings.TrimSpace(tail(stderr.String(), 512))
			if msg == "" {
				return output, fmt.Errorf("%s: exit code %d", s.Command, exitErr.ExitCode())
			}
			return output, fmt.Errorf("%s: exit code %d: %s", s.Command, exitErr.ExitCode(), msg)
		}
		return output, fmt.Errorf("%s: %w", s.Command, err)
	}

	return output, nil
}

func envList(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
