// Package functions declares the tool sets the model can call, renders
// their JSON schemas into the prompt, and validates call arguments.
package functions

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/llmosd/llmosd/internal/filestore"
	"github.com/llmosd/llmosd/internal/interpreter"
	"github.com/llmosd/llmosd/internal/memory"
	"github.com/llmosd/llmosd/internal/web"
	"github.com/llmosd/llmosd/pkg/protocol"
)

// RetrievalPageSize is the page size of every paged tool result.
const RetrievalPageSize = 5

// Env is the slice of agent state handlers operate on.
type Env interface {
	WorkingContext() *memory.WorkingContext
	Recall() *memory.RecallStorage
	Archival() *memory.ArchivalStorage
	Files() *filestore.Store
	Web() *web.Client
	Interpreter() interpreter.Runner

	// ActiveHumanID is the id of the human the agent last conversed
	// with. Every user-scoped tool operates on this id.
	ActiveHumanID() int

	// Emit pushes a message onto the step's server message stack.
	Emit(protocol.ServerMessage)
}

// Args is a decoded function_call arguments object.
type Args map[string]any

// String returns the named argument as a string.
func (a Args) String(key string) string {
	s, _ := a[key].(string)
	return s
}

// Int returns the named argument as an int, or def when absent.
func (a Args) Int(key string, def int) int {
	f, ok := a[key].(float64)
	if !ok {
		return def
	}
	return int(f)
}

// StringSlice returns the named argument as a string slice.
func (a Args) StringSlice(key string) []string {
	items, ok := a[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		s, _ := it.(string)
		out = append(out, s)
	}
	return out
}

// Handler executes one function call. An empty result with a nil error
// is reported to the model as None.
type Handler func(ctx context.Context, env Env, args Args) (string, error)

// CallError is a validation failure whose text is shown to the model
// verbatim in the tool response.
type CallError struct{ Msg string }

func (e *CallError) Error() string { return e.Msg }

func callErrorf(format string, a ...any) error {
	return &CallError{Msg: fmt.Sprintf(format, a...)}
}

// Definition is one callable function with its declared schema.
type Definition struct {
	Name        string
	Description string
	Parameters  *jsonschema.Schema
	Handler     Handler
}

var errPageArg = errors.New("'page' argument must be an integer")

// pageArg reads the page argument the way the tools tolerate it:
// missing, null or the literal "none" all mean the first page.
func pageArg(a Args) (int, error) {
	v, ok := a["page"]
	if !ok || v == nil {
		return 0, nil
	}
	switch t := v.(type) {
	case float64:
		if t != math.Trunc(t) {
			return 0, errPageArg
		}
		return int(t), nil
	case string:
		s := strings.ToLower(strings.TrimSpace(t))
		if s == "none" {
			return 0, nil
		}
		n, err := strconv.Atoi(s)
		if err != nil {
			return 0, errPageArg
		}
		return n, nil
	default:
		return 0, errPageArg
	}
}

// formatResults renders one page of results the way every search tool
// reports it.
func formatResults(formatted []string, total, page int) string {
	if len(formatted) == 0 {
		return "No results found."
	}
	numPages := int(math.Ceil(float64(total)/float64(RetrievalPageSize))) - 1
	return fmt.Sprintf("Showing %d of %d results (page %d/%d): %s",
		len(formatted), total, page, numPages, marshalNoEscape(formatted))
}

// marshalNoEscape keeps unicode and HTML characters readable in
// model-facing JSON.
func marshalNoEscape(v any) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return fmt.Sprintf("%v", v)
	}
	return strings.TrimSuffix(buf.String(), "\n")
}

func stringParam(desc string) *jsonschema.Schema {
	return &jsonschema.Schema{Type: "string", Description: desc}
}

func intParam(desc string) *jsonschema.Schema {
	return &jsonschema.Schema{Type: "integer", Description: desc}
}

func stringArrayParam(desc string) *jsonschema.Schema {
	return &jsonschema.Schema{
		Type:        "array",
		Description: desc,
		Items:       &jsonschema.Schema{Type: "string"},
	}
}

func objectParams(props map[string]*jsonschema.Schema, required ...string) *jsonschema.Schema {
	return &jsonschema.Schema{Type: "object", Properties: props, Required: required}
}
