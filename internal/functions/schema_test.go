package functions

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/jsonschema-go/jsonschema"
)

func findDef(t *testing.T, name string) *Definition {
	t.Helper()
	reg, err := NewRegistry([]string{"base"})
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	def, ok := reg.Lookup(name)
	if !ok {
		t.Fatalf("function %s not registered", name)
	}
	return def
}

func TestRenderSchemaInjectsHeartbeat(t *testing.T) {
	def := findDef(t, "send_message")
	rendered := RenderSchema(def)

	var decoded struct {
		Name        string `json:"name"`
		Description string `json:"description"`
		Parameters  struct {
			Type       string `json:"type"`
			Properties map[string]struct {
				Type        string `json:"type"`
				Description string `json:"description"`
			} `json:"properties"`
			Required []string `json:"required"`
		} `json:"parameters"`
	}
	if err := json.Unmarshal([]byte(rendered), &decoded); err != nil {
		t.Fatalf("rendered schema is not valid JSON: %v", err)
	}
	if decoded.Name != "send_message" {
		t.Errorf("name = %q", decoded.Name)
	}
	if !strings.HasPrefix(decoded.Description, "Sends a message to the human user.") {
		t.Errorf("description = %q", decoded.Description)
	}
	if decoded.Parameters.Type != "object" {
		t.Errorf("parameters type = %q", decoded.Parameters.Type)
	}
	hb, ok := decoded.Parameters.Properties[HeartbeatParam]
	if !ok {
		t.Fatal("request_heartbeat not injected")
	}
	if hb.Type != "boolean" || hb.Description != heartbeatParamDesc {
		t.Errorf("heartbeat property = %+v", hb)
	}
	var hasMessage, hasHeartbeatReq bool
	for _, req := range decoded.Parameters.Required {
		switch req {
		case "message":
			hasMessage = true
		case HeartbeatParam:
			hasHeartbeatReq = true
		}
	}
	if !hasMessage || !hasHeartbeatReq {
		t.Errorf("required = %v", decoded.Parameters.Required)
	}

	// The declared schema must not be mutated by rendering.
	if _, ok := def.Parameters.Properties[HeartbeatParam]; ok {
		t.Error("render leaked the heartbeat parameter into the declaration")
	}
}

func TestAllSchemasRenderAsJSON(t *testing.T) {
	reg, err := NewRegistry([]string{"base"})
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	schemas := reg.InContextSchemas()
	for _, def := range reg.OutOfContext() {
		schemas = append(schemas, RenderSchema(def))
	}
	if len(schemas) != 23 {
		t.Fatalf("rendered %d schemas, want 23", len(schemas))
	}
	for _, s := range schemas {
		if !json.Valid([]byte(s)) {
			t.Errorf("invalid schema JSON: %s", s)
		}
		if strings.Contains(s, "\n") {
			t.Errorf("schema spans multiple lines: %s", s)
		}
	}
}

func TestValidateArgs(t *testing.T) {
	search := findDef(t, "conversation_search")
	makeFile := findDef(t, "file_memory_make_file")

	cases := []struct {
		name    string
		def     *Definition
		args    Args
		wantErr string
	}{
		{
			name: "valid",
			def:  search,
			args: Args{"query": "trains", "page": float64(0)},
		},
		{
			name: "heartbeat exempt",
			def:  search,
			args: Args{"query": "trains", HeartbeatParam: true},
		},
		{
			name: "optional page omitted",
			def:  search,
			args: Args{"query": "trains"},
		},
		{
			name:    "unknown argument",
			def:     search,
			args:    Args{"query": "trains", "foo": "bar"},
			wantErr: "'foo' is not a valid argument of function 'conversation_search'",
		},
		{
			name:    "missing required",
			def:     search,
			args:    Args{"page": float64(0)},
			wantErr: "Required argument 'query' of function 'conversation_search' is missing",
		},
		{
			name:    "wrong string type",
			def:     search,
			args:    Args{"query": float64(3)},
			wantErr: "Argument 'query' of function 'conversation_search' must be of type 'string'",
		},
		{
			name:    "fractional integer",
			def:     search,
			args:    Args{"query": "trains", "page": 1.5},
			wantErr: "Argument 'page' of function 'conversation_search' must be of type 'integer'",
		},
		{
			name:    "string for integer",
			def:     search,
			args:    Args{"query": "trains", "page": "none"},
			wantErr: "Argument 'page' of function 'conversation_search' must be of type 'integer'",
		},
		{
			name: "array accepted",
			def:  makeFile,
			args: Args{"file_rel_path_parts": []any{"notes", "x.txt"}},
		},
		{
			name:    "array element type",
			def:     makeFile,
			args:    Args{"file_rel_path_parts": []any{"notes", float64(2)}},
			wantErr: "Elements of argument 'file_rel_path_parts' of function 'file_memory_make_file' must be of type 'string'",
		},
		{
			name:    "scalar for array",
			def:     makeFile,
			args:    Args{"file_rel_path_parts": "notes/x.txt"},
			wantErr: "Argument 'file_rel_path_parts' of function 'file_memory_make_file' must be of type 'array'",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateArgs(tc.def, tc.args)
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("ValidateArgs() = %v, want nil", err)
				}
				return
			}
			if err == nil || err.Error() != tc.wantErr {
				t.Fatalf("ValidateArgs() = %v, want %q", err, tc.wantErr)
			}
		})
	}
}

func TestCheckTypeNumberAndObject(t *testing.T) {
	def := &Definition{
		Name: "probe",
		Parameters: objectParams(map[string]*jsonschema.Schema{
			"ratio": {Type: "number", Description: "x"},
			"blob":  {Type: "object", Description: "x"},
		}),
	}
	if err := ValidateArgs(def, Args{"ratio": 0.25, "blob": map[string]any{"a": 1}}); err != nil {
		t.Errorf("valid number/object rejected: %v", err)
	}
	if err := ValidateArgs(def, Args{"ratio": "fast"}); err == nil {
		t.Error("string accepted for number")
	}
	if err := ValidateArgs(def, Args{"blob": []any{}}); err == nil {
		t.Error("array accepted for object")
	}
}
