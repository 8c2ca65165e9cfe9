package functions

import (
	"math"
	"sort"

	"github.com/google/jsonschema-go/jsonschema"
)

// HeartbeatParam is injected into every rendered schema. It is consumed
// by the agent to decide whether to loop and is never passed to a
// handler.
const HeartbeatParam = "request_heartbeat"

const heartbeatParamDesc = "Request an immediate heartbeat after function execution. Set to 'true' if you want to send a follow-up message or run a follow-up function."

// renderedSchema is the JSON form of a function the model sees.
type renderedSchema struct {
	Name        string             `json:"name"`
	Description string             `json:"description"`
	Parameters  *jsonschema.Schema `json:"parameters"`
}

// RenderSchema serializes a definition with the heartbeat parameter
// added to its argument list.
func RenderSchema(def *Definition) string {
	props := make(map[string]*jsonschema.Schema, len(def.Parameters.Properties)+1)
	for name, prop := range def.Parameters.Properties {
		props[name] = prop
	}
	props[HeartbeatParam] = &jsonschema.Schema{Type: "boolean", Description: heartbeatParamDesc}

	required := make([]string, 0, len(def.Parameters.Required)+1)
	required = append(required, def.Parameters.Required...)
	required = append(required, HeartbeatParam)

	return marshalNoEscape(renderedSchema{
		Name:        def.Name,
		Description: def.Description,
		Parameters:  &jsonschema.Schema{Type: "object", Properties: props, Required: required},
	})
}

// ValidateArgs checks a call's arguments object against the declared
// parameters: unknown names, then missing required ones, then the
// argument count, then per-parameter types. The heartbeat parameter is
// exempt from all checks.
func ValidateArgs(def *Definition, args Args) error {
	props := def.Parameters.Properties

	for _, name := range sortedKeys(args) {
		if name == HeartbeatParam {
			continue
		}
		if _, ok := props[name]; !ok {
			return callErrorf("'%s' is not a valid argument of function '%s'", name, def.Name)
		}
	}

	for _, req := range def.Parameters.Required {
		if _, ok := args[req]; !ok {
			return callErrorf("Required argument '%s' of function '%s' is missing", req, def.Name)
		}
	}

	supplied := len(args)
	if _, ok := args[HeartbeatParam]; ok {
		supplied--
	}
	if supplied > len(props) {
		return callErrorf("Function '%s' takes at most %d arguments (%d given)", def.Name, len(props), supplied)
	}

	for _, name := range sortedPropKeys(props) {
		v, ok := args[name]
		if !ok {
			continue
		}
		if err := checkType(def.Name, name, props[name], v); err != nil {
			return err
		}
	}
	return nil
}

func checkType(fn, arg string, prop *jsonschema.Schema, v any) error {
	typeErr := func() error {
		return callErrorf("Argument '%s' of function '%s' must be of type '%s'", arg, fn, prop.Type)
	}
	switch prop.Type {
	case "string":
		if _, ok := v.(string); !ok {
			return typeErr()
		}
	case "boolean":
		if _, ok := v.(bool); !ok {
			return typeErr()
		}
	case "number":
		if _, ok := v.(float64); !ok {
			return typeErr()
		}
	case "integer":
		f, ok := v.(float64)
		if !ok || f != math.Trunc(f) {
			return typeErr()
		}
	case "array":
		items, ok := v.([]any)
		if !ok {
			return typeErr()
		}
		if prop.Items != nil {
			for _, el := range items {
				if err := checkType(fn, arg, prop.Items, el); err != nil {
					return callErrorf("Elements of argument '%s' of function '%s' must be of type '%s'", arg, fn, prop.Items.Type)
				}
			}
		}
	case "object":
		if _, ok := v.(map[string]any); !ok {
			return typeErr()
		}
	}
	return nil
}

func sortedKeys(args Args) []string {
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedPropKeys(props map[string]*jsonschema.Schema) []string {
	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
