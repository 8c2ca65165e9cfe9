package functions

import (
	"context"
	"errors"

	"github.com/google/jsonschema-go/jsonschema"
)

var errInterpreterUnavailable = errors.New("code execution is not configured (no python interpreter found)")

// interpreterSet is the out-of-context code execution set.
func interpreterSet() []*Definition {
	return []*Definition{
		{
			Name:        "execute_python_code",
			Description: "Sends a Python code snippet to the code execution environment and returns the output. The code execution environment can automatically import any library or package by importing. Your Python environment only allows for 512MB of RAM and 1GB of swap. Your Python code snippet has 3 minutes to run.",
			Parameters: objectParams(map[string]*jsonschema.Schema{
				"code": stringParam("The code snippet to execute. Must be a valid python code. Must use print() to output the result."),
			}, "code"),
			Handler: executePythonCode,
		},
	}
}

func executePythonCode(ctx context.Context, env Env, args Args) (string, error) {
	if env.Interpreter() == nil {
		return "", errInterpreterUnavailable
	}
	return env.Interpreter().Execute(ctx, args.String("code"))
}
