package interpreter

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/llmosd/llmosd/internal/config"
)

// fakeInterpreter writes a shell script that ignores the -I - flags and
// echoes its stdin, standing in for a real Python binary.
func fakeInterpreter(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires sh")
	}
	path := filepath.Join(t.TempDir(), "fakepy")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0755); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestExecutePipesCodeAndCapturesOutput(t *testing.T) {
	bin := fakeInterpreter(t, "cat -\n")
	r := NewLocalRunner(config.InterpreterConfig{PythonBin: bin})

	out, err := r.Execute(context.Background(), "print('hi')")
	if err != nil {
		t.Fatal(err)
	}
	if out != "print('hi')" {
		t.Errorf("out = %q", out)
	}
}

func TestExecuteCollectsStderr(t *testing.T) {
	bin := fakeInterpreter(t, "cat - >/dev/null\necho result\necho oops >&2\n")
	r := NewLocalRunner(config.InterpreterConfig{PythonBin: bin})

	out, err := r.Execute(context.Background(), "x")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "result") || !strings.Contains(out, "STDERR:\noops") {
		t.Errorf("out = %q", out)
	}
}

func TestExecuteNonZeroExitIsError(t *testing.T) {
	bin := fakeInterpreter(t, "cat - >/dev/null\necho broken >&2\nexit 1\n")
	r := NewLocalRunner(config.InterpreterConfig{PythonBin: bin})

	_, err := r.Execute(context.Background(), "x")
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "broken") {
		t.Errorf("err = %v", err)
	}
}

func TestExecuteTimesOut(t *testing.T) {
	bin := fakeInterpreter(t, "cat - >/dev/null\nsleep 10\n")
	r := NewLocalRunner(config.InterpreterConfig{PythonBin: bin, TimeoutSec: 1})

	_, err := r.Execute(context.Background(), "x")
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if !strings.Contains(err.Error(), "timed out") {
		t.Errorf("err = %v", err)
	}
}

func TestDefaults(t *testing.T) {
	r := NewLocalRunner(config.InterpreterConfig{})
	if r.pythonBin != "python3" || r.memoryMB != 512 || r.timeout.Minutes() != 3 {
		t.Errorf("defaults = %q/%d/%s", r.pythonBin, r.memoryMB, r.timeout)
	}
}
