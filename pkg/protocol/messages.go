package protocol

// Server message types pushed to clients during a step. The type names
// double as client-side render method names, so they stay snake_case on
// the wire.
const (
	TypeWarningMessage      = "warning_message"
	TypeDebugMessage        = "debug_message"
	TypeInnerEmotion        = "inner_emotion"
	TypeInternalMonologue   = "internal_monologue"
	TypeAssistantMessage    = "assistant_message"
	TypeMemoryMessage       = "memory_message"
	TypeSystemMessage       = "system_message"
	TypeUserMessage         = "user_message"
	TypeFunctionCallMessage = "function_call_message"
	TypeFunctionResMessage  = "function_res_message"
)

// ServerMessage is one entry of a step's message stack. Arguments are
// keyword arguments for the client render method named by Type.
type ServerMessage struct {
	Type      string         `json:"type"`
	Arguments map[string]any `json:"arguments"`
}

func WarningMessage(msg string) ServerMessage {
	return ServerMessage{Type: TypeWarningMessage, Arguments: map[string]any{"msg": msg}}
}

func DebugMessage(msg string) ServerMessage {
	return ServerMessage{Type: TypeDebugMessage, Arguments: map[string]any{"msg": msg}}
}

func InnerEmotion(emotion string, intensity float64) ServerMessage {
	return ServerMessage{Type: TypeInnerEmotion, Arguments: map[string]any{"emotion": emotion, "intensity": intensity}}
}

func InternalMonologue(msg string) ServerMessage {
	return ServerMessage{Type: TypeInternalMonologue, Arguments: map[string]any{"msg": msg}}
}

func AssistantMessage(msg string) ServerMessage {
	return ServerMessage{Type: TypeAssistantMessage, Arguments: map[string]any{"msg": msg}}
}

func MemoryMessage(msg string) ServerMessage {
	return ServerMessage{Type: TypeMemoryMessage, Arguments: map[string]any{"msg": msg}}
}

func SystemMessage(msg string) ServerMessage {
	return ServerMessage{Type: TypeSystemMessage, Arguments: map[string]any{"msg": msg}}
}

func UserMessage(msg string) ServerMessage {
	return ServerMessage{Type: TypeUserMessage, Arguments: map[string]any{"msg": msg}}
}

func FunctionCallMessage(funcName string, funcArgs map[string]any) ServerMessage {
	return ServerMessage{Type: TypeFunctionCallMessage, Arguments: map[string]any{"func_name": funcName, "func_args": funcArgs}}
}

func FunctionResMessage(msg string, hasError bool) ServerMessage {
	return ServerMessage{Type: TypeFunctionResMessage, Arguments: map[string]any{"msg": msg, "has_error": hasError}}
}
