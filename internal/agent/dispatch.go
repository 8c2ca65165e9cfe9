package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/llmosd/llmosd/internal/functions"
	"github.com/llmosd/llmosd/internal/memory"
	"github.com/llmosd/llmosd/pkg/protocol"
)

// memoryEditingFunctions satisfy the forced conscious memory write
// cycle; a successful call to any of them clears the gate.
var memoryEditingFunctions = map[string]bool{
	"core_memory_append":     true,
	"core_memory_replace":    true,
	"archival_memory_insert": true,
}

// firstMessageFunctions are the only calls allowed while the first
// message has not been answered with send_message yet.
var firstMessageFunctions = map[string]bool{
	"send_message":        true,
	"conversation_search": true,
}

// dispatchResult is the outcome of one function call attempt.
type dispatchResult struct {
	record         memory.Record
	heartbeat      bool
	functionFailed bool
	sentMessage    bool
}

// failCall emits and records a failed tool response. Failures always
// request a heartbeat so the model can repair the call.
func (a *Agent) failCall(msg string) dispatchResult {
	content := "Status: Failed. Result: " + msg
	a.Emit(protocol.FunctionResMessage(content, true))
	return dispatchResult{
		record:         memory.NewRecord(memory.KindTool, a.ActiveHumanID(), content),
		heartbeat:      true,
		functionFailed: true,
	}
}

// dispatch validates and runs the reply's function_call value. Every
// path produces exactly one tool record for the FIFO.
func (a *Agent) dispatch(ctx context.Context, call any, isFirstMessage bool) dispatchResult {
	callObj, ok := call.(map[string]any)
	if !ok {
		return a.failCall("'function_call' must be a JSON object with 'name' and 'arguments'")
	}
	name, ok := callObj["name"].(string)
	if !ok {
		return a.failCall("'function_call' object must contain a 'name' string")
	}
	if isFirstMessage && !firstMessageFunctions[name] {
		return a.failCall(fmt.Sprintf("Function '%s' cannot be used on the first message (only 'send_message' and 'conversation_search' are allowed)", name))
	}
	if a.misc.MemoryWriteFunctionForced && !memoryEditingFunctions[name] {
		return a.failCall("You must use a memory editing function ('core_memory_append', 'core_memory_replace' or 'archival_memory_insert') before doing anything else")
	}
	rawArgs, ok := callObj["arguments"].(map[string]any)
	if !ok {
		return a.failCall("'function_call' object must contain an 'arguments' object")
	}

	// The heartbeat parameter belongs to the loop, not the function.
	args := functions.Args(rawArgs)
	heartbeat := false
	switch hb := args[functions.HeartbeatParam].(type) {
	case bool:
		heartbeat = hb
	case string:
		heartbeat = strings.EqualFold(hb, "true")
	}
	delete(args, functions.HeartbeatParam)

	a.Emit(protocol.FunctionCallMessage(name, args))

	def, ok := a.registry.Lookup(name)
	if !ok {
		return a.failCall(a.unknownFunctionMsg(ctx, name))
	}
	if err := functions.ValidateArgs(def, args); err != nil {
		return a.failCall(err.Error())
	}

	result, err := def.Handler(ctx, a, args)
	if err != nil {
		return a.failCall(err.Error())
	}

	if memoryEditingFunctions[name] {
		// The step loop increments the counter right after dispatch,
		// landing it back on zero.
		a.misc.MessagesSinceLastConsciousMemoryWrite = -1
		a.misc.ConsciousMemoryWriteAlrForced = false
		a.misc.MemoryWriteFunctionForced = false
	}

	if result == "" {
		result = "None"
	}
	content := "Status: OK. Result: " + result
	a.Emit(protocol.FunctionResMessage(content, false))
	return dispatchResult{
		record:      memory.NewRecord(memory.KindTool, a.ActiveHumanID(), content),
		heartbeat:   heartbeat,
		sentMessage: name == "send_message",
	}
}

// unknownFunctionMsg enriches the error with the nearest matching
// schemas from the out-of-context index, so the model can discover what
// it was reaching for.
func (a *Agent) unknownFunctionMsg(ctx context.Context, name string) string {
	msg := fmt.Sprintf("Function '%s' does not exist", name)
	query := strings.ReplaceAll(name, "_", " ")
	schemas, _, err := a.index.Search(ctx, query, 3, 0)
	if err != nil || len(schemas) == 0 {
		return msg
	}
	return fmt.Sprintf("%s. The most similar functions available to you are: %s", msg, strings.Join(schemas, ", "))
}
