// Package localexec runs terminal commands on the local machine on behalf of
// the chat command, which plays the external actor for the terminal tool.
package localexec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"
)

// Result holds the outcome of one command.
type Result struct {
	Stdout   string        `json:"stdout"`
	Stderr   string        `json:"stderr"`
	ExitCode int           `json:"exit_code"`
	TimedOut bool          `json:"timed_out"`
	Duration time.Duration `json:"duration"`
}

// Output returns combined stdout and stderr.
func (r Result) Output() string {
	if r.Stderr == "" {
		return r.Stdout
	}
	if r.Stdout == "" {
		return r.Stderr
	}
	return r.Stdout + "\n" + r.Stderr
}

// Success reports a zero exit without timeout.
func (r Result) Success() bool { return r.ExitCode == 0 && !r.TimedOut }

// sensitiveEnvPatterns are case-insensitive suffixes of variables withheld
// from child processes.
var sensitiveEnvPatterns = []string{
	"_API_KEY",
	"_SECRET",
	"_TOKEN",
	"_PASSWORD",
	"_CREDENTIAL",
}

// safeEnvVars always pass through.
var safeEnvVars = map[string]bool{
	"PATH": true, "HOME": true, "USER": true, "SHELL": true,
	"LANG": true, "TERM": true, "TMPDIR": true,
	"GOPATH": true, "GOROOT": true, "CARGO_HOME": true,
	"XDG_CONFIG_HOME": true, "XDG_DATA_HOME": true, "XDG_CACHE_HOME": true,
}

func isSensitiveEnvVar(name string) bool {
	upper := strings.ToUpper(name)
	for _, pattern := range sensitiveEnvPatterns {
		if strings.HasSuffix(upper, pattern) {
			return true
		}
	}
	return false
}

func filterEnvironment(environ []string) []string {
	var filtered []string
	for _, env := range environ {
		name, _, ok := strings.Cut(env, "=")
		if !ok {
			continue
		}
		if safeEnvVars[name] || !isSensitiveEnvVar(name) {
			filtered = append(filtered, env)
		}
	}
	return filtered
}

// Runner executes commands through bash in their own process group.
type Runner struct {
	workingDir string
	shell      string
	logger     *slog.Logger
}

// NewRunner creates a runner rooted at workingDir, or the current directory
// when empty.
func NewRunner(workingDir string, logger *slog.Logger) *Runner {
	if workingDir == "" {
		workingDir, _ = os.Getwd()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{workingDir: workingDir, shell: "/bin/bash", logger: logger}
}

// WorkingDirectory returns the default directory for commands.
func (r *Runner) WorkingDirectory() string { return r.workingDir }

func (r *Runner) resolve(dir string) string {
	if dir == "" {
		return r.workingDir
	}
	if filepath.IsAbs(dir) {
		return dir
	}
	return filepath.Join(r.workingDir, dir)
}

// Run executes command. A non-zero exit or timeout is reported in the
// Result; the error is reserved for commands that could not start.
func (r *Runner) Run(ctx context.Context, command, workingDir string, timeout time.Duration) (*Result, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, r.shell, "-c", command)
	cmd.Dir = r.resolve(workingDir)
	cmd.Env = filterEnvironment(os.Environ())
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	res := &Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		res.TimedOut = true
		res.ExitCode = -1
	case ctx.Err() != nil:
		return nil, fmt.Errorf("run %q: %w", command, ctx.Err())
	case errors.As(err, &exitErr):
		res.ExitCode = exitErr.ExitCode()
	default:
		return nil, fmt.Errorf("run %q: %w", command, err)
	}
	r.logger.Debug("command finished", "command", command, "exit_code", res.ExitCode,
		"timed_out", res.TimedOut, "duration", res.Duration)
	return res, nil
}
