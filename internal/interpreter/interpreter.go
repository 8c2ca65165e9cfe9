// Package interpreter runs model-authored Python snippets in a
// resource-bounded subprocess.
package interpreter

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/llmosd/llmosd/internal/config"
)

const (
	defaultPythonBin = "python3"
	defaultTimeout   = 3 * time.Minute
	defaultMemoryMB  = 512
)

// Runner executes a code snippet and returns its combined output.
type Runner interface {
	Execute(ctx context.Context, code string) (string, error)
}

// LocalRunner shells out to the configured interpreter in isolated
// mode, feeding the snippet over stdin and capping address space with
// ulimit.
type LocalRunner struct {
	pythonBin string
	timeout   time.Duration
	memoryMB  int
}

func NewLocalRunner(cfg config.InterpreterConfig) *LocalRunner {
	r := &LocalRunner{
		pythonBin: cfg.PythonBin,
		timeout:   defaultTimeout,
		memoryMB:  cfg.MemoryMB,
	}
	if r.pythonBin == "" {
		r.pythonBin = defaultPythonBin
	}
	if cfg.TimeoutSec > 0 {
		r.timeout = time.Duration(cfg.TimeoutSec) * time.Second
	}
	if r.memoryMB <= 0 {
		r.memoryMB = defaultMemoryMB
	}
	return r
}

// Execute runs code and returns stdout, with stderr appended under a
// STDERR: marker when present. A non-zero exit or timeout is an error
// carrying whatever output was produced.
func (r *LocalRunner) Execute(ctx context.Context, code string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	// $0 is the interpreter; -I isolates it from site-packages and env,
	// and the snippet arrives on stdin.
	wrapper := fmt.Sprintf(`ulimit -v %d 2>/dev/null; exec "$0" -I -`, r.memoryMB*1024)
	cmd := exec.CommandContext(ctx, "sh", "-c", wrapper, r.pythonBin)
	cmd.Stdin = strings.NewReader(code)
	// Snippets can spawn children that hold the output pipes open.
	cmd.WaitDelay = 2 * time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	result := stdout.String()
	if stderr.Len() > 0 {
		if result != "" {
			result += "\n"
		}
		result += "STDERR:\n" + stderr.String()
	}

	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return "", fmt.Errorf("code execution timed out after %s", r.timeout)
		}
		if result == "" {
			result = err.Error()
		}
		return "", fmt.Errorf("%s", strings.TrimSpace(result))
	}

	if result == "" {
		result = "(code completed with no output)"
	}
	return strings.TrimSpace(result), nil
}
