package agent

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/llmosd/llmosd/internal/memory"
)

func call(name string, args map[string]any) map[string]any {
	return map[string]any{"name": name, "arguments": args}
}

func TestDispatchValidationOrder(t *testing.T) {
	a, _ := newTestAgent(t)

	tests := []struct {
		name  string
		call  any
		first bool
		want  string
	}{
		{
			"call not an object",
			"send_message",
			false,
			"'function_call' must be a JSON object with 'name' and 'arguments'",
		},
		{
			"null call",
			nil,
			false,
			"'function_call' must be a JSON object with 'name' and 'arguments'",
		},
		{
			"missing name",
			map[string]any{"arguments": map[string]any{}},
			false,
			"'function_call' object must contain a 'name' string",
		},
		{
			"memory edit blocked on first message",
			call("core_memory_append", map[string]any{"section_name": "persona", "content": "x"}),
			true,
			"Function 'core_memory_append' cannot be used on the first message (only 'send_message' and 'conversation_search' are allowed)",
		},
		{
			"missing arguments",
			map[string]any{"name": "send_message"},
			false,
			"'function_call' object must contain an 'arguments' object",
		},
		{
			"unknown argument",
			call("send_message", map[string]any{"message": "hi", "color": "red"}),
			false,
			"'color' is not a valid argument of function 'send_message'",
		},
		{
			"missing required argument",
			call("send_message", map[string]any{}),
			false,
			"Required argument 'message' of function 'send_message' is missing",
		},
		{
			"wrong argument type",
			call("send_message", map[string]any{"message": 3.0}),
			false,
			"Argument 'message' of function 'send_message' must be of type 'string'",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			res := a.dispatch(context.Background(), tc.call, tc.first)
			a.DrainStack()
			if !res.functionFailed || !res.heartbeat {
				t.Errorf("failed = %v, heartbeat = %v, want both true", res.functionFailed, res.heartbeat)
			}
			if res.record.Kind != memory.KindTool {
				t.Errorf("record kind = %q", res.record.Kind)
			}
			want := "Status: Failed. Result: " + tc.want
			if res.record.Message.Content != want {
				t.Errorf("result = %q\nwant     %q", res.record.Message.Content, want)
			}
		})
	}
}

func TestDispatchSendMessage(t *testing.T) {
	a, _ := newTestAgent(t)

	res := a.dispatch(context.Background(), call("send_message", map[string]any{
		"message":           "Good morning!",
		"request_heartbeat": false,
	}), false)

	if res.functionFailed || res.heartbeat {
		t.Errorf("failed = %v, heartbeat = %v, want both false", res.functionFailed, res.heartbeat)
	}
	if !res.sentMessage {
		t.Error("send_message should mark the message as sent")
	}
	if res.record.Message.Content != "Status: OK. Result: None" {
		t.Errorf("result = %q", res.record.Message.Content)
	}

	msgs := a.DrainStack()
	types := make([]string, len(msgs))
	for i, m := range msgs {
		types[i] = m.Type
	}
	want := []string{"function_call_message", "assistant_message", "function_res_message"}
	if strings.Join(types, ",") != strings.Join(want, ",") {
		t.Fatalf("stack = %v, want %v", types, want)
	}
	if msgs[1].Arguments["msg"] != "Good morning!" {
		t.Errorf("assistant message = %v", msgs[1].Arguments["msg"])
	}
	if msgs[2].Arguments["has_error"] != false {
		t.Errorf("has_error = %v", msgs[2].Arguments["has_error"])
	}
}

func TestDispatchFirstMessageAllowsSearch(t *testing.T) {
	a, _ := newTestAgent(t)

	res := a.dispatch(context.Background(), call("conversation_search", map[string]any{"query": "hello"}), true)
	a.DrainStack()

	if res.functionFailed {
		t.Fatalf("conversation_search rejected on first message: %q", res.record.Message.Content)
	}
	if res.sentMessage {
		t.Error("conversation_search should not count as answering the user")
	}
	if res.record.Message.Content != "Status: OK. Result: No results found." {
		t.Errorf("result = %q", res.record.Message.Content)
	}
}

func TestDispatchHeartbeatParam(t *testing.T) {
	tests := []struct {
		name string
		hb   any
		want bool
	}{
		{"bool true", true, true},
		{"bool false", false, false},
		{"string true", "True", true},
		{"string false", "false", false},
		{"absent", nil, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			a, _ := newTestAgent(t)
			args := map[string]any{"query": "tea"}
			if tc.hb != nil {
				args["request_heartbeat"] = tc.hb
			}

			res := a.dispatch(context.Background(), call("conversation_search", args), false)
			if res.functionFailed {
				t.Fatalf("dispatch failed: %q", res.record.Message.Content)
			}
			if res.heartbeat != tc.want {
				t.Errorf("heartbeat = %v, want %v", res.heartbeat, tc.want)
			}

			// The parameter is consumed by the loop, never shown to the
			// client or the handler.
			for _, m := range a.DrainStack() {
				if m.Type != "function_call_message" {
					continue
				}
				data, err := json.Marshal(m.Arguments)
				if err != nil {
					t.Fatalf("marshal arguments: %v", err)
				}
				if strings.Contains(string(data), "request_heartbeat") {
					t.Errorf("heartbeat leaked into the call echo: %s", data)
				}
			}
		})
	}
}

func TestDispatchUnknownFunctionSuggests(t *testing.T) {
	a, _ := newTestAgent(t)

	res := a.dispatch(context.Background(), call("google_search_web", map[string]any{"query": "weather"}), false)
	a.DrainStack()

	if !res.functionFailed {
		t.Fatal("unknown function should fail")
	}
	content := res.record.Message.Content
	if !strings.Contains(content, "Function 'google_search_web' does not exist") {
		t.Errorf("result = %q", content)
	}
	if !strings.Contains(content, "The most similar functions available to you are: ") {
		t.Errorf("result = %q, want schema suggestions appended", content)
	}
	if !strings.Contains(content, `"name":"google_search"`) {
		t.Errorf("result = %q, want google_search among the suggestions", content)
	}
}

func TestDispatchMemoryWriteGate(t *testing.T) {
	a, _ := newTestAgent(t)
	a.misc.MemoryWriteFunctionForced = true
	a.misc.ConsciousMemoryWriteAlrForced = true
	a.misc.MessagesSinceLastConsciousMemoryWrite = 9

	res := a.dispatch(context.Background(), call("send_message", map[string]any{"message": "hi"}), false)
	a.DrainStack()
	want := "Status: Failed. Result: You must use a memory editing function ('core_memory_append', 'core_memory_replace' or 'archival_memory_insert') before doing anything else"
	if res.record.Message.Content != want {
		t.Errorf("result = %q\nwant     %q", res.record.Message.Content, want)
	}

	res = a.dispatch(context.Background(), call("core_memory_append", map[string]any{
		"section_name": "persona",
		"content":      "Enjoys gardening.",
	}), false)
	a.DrainStack()
	if res.functionFailed {
		t.Fatalf("memory edit rejected while gated: %q", res.record.Message.Content)
	}
	if res.record.Message.Content != "Status: OK. Result: None" {
		t.Errorf("result = %q", res.record.Message.Content)
	}

	if a.misc.MemoryWriteFunctionForced || a.misc.ConsciousMemoryWriteAlrForced {
		t.Error("a successful memory edit should clear both forced flags")
	}
	if a.misc.MessagesSinceLastConsciousMemoryWrite != -1 {
		t.Errorf("write counter = %d, want -1 ahead of the step increment", a.misc.MessagesSinceLastConsciousMemoryWrite)
	}
	if !strings.Contains(a.WorkingContext().Persona, "Enjoys gardening.") {
		t.Error("core_memory_append did not reach the working context")
	}
}

func TestDispatchHandlerError(t *testing.T) {
	a, _ := newTestAgent(t)

	res := a.dispatch(context.Background(), call("core_memory_replace", map[string]any{
		"section_name": "persona",
		"old_content":  "",
		"new_content":  "x",
	}), false)
	a.DrainStack()

	if !res.functionFailed || !res.heartbeat {
		t.Error("handler errors should fail the call and request a heartbeat")
	}
	want := "Status: Failed. Result: Edit failed: Old content cannot be an empty string (must specify old_content to replace)"
	if res.record.Message.Content != want {
		t.Errorf("result = %q\nwant     %q", res.record.Message.Content, want)
	}
}
