package protocol

// Request and response bodies for the HTTP API. The CLI client and the
// server both build against these, so field names are part of the wire
// contract.

type ConversationIDsResponse struct {
	ConvIDs []string `json:"conv_ids"`
}

type PersonaNamesResponse struct {
	PersonaNames []string `json:"persona_names"`
}

type CreateAgentRequest struct {
	AgentPersonaName string `json:"agent_persona_name"`
	HumanPersonaName string `json:"human_persona_name"`
}

type CreateAgentResponse struct {
	ConvName string `json:"conv_name"`
}

type DeleteAgentRequest struct {
	ConvName string `json:"conv_name"`
}

type DeleteAgentResponse struct {
	Success bool `json:"success"`
}

type HumanIDsRequest struct {
	ConvName string `json:"conv_name"`
}

type HumanIDsResponse struct {
	HumanIDs []int `json:"human_ids"`
}

type AddHumanRequest struct {
	ConvName         string `json:"conv_name"`
	HumanPersonaName string `json:"human_persona_name"`
}

type AddHumanResponse struct {
	NewHumanID int `json:"new_human_id"`
}

type SendMessageRequest struct {
	ConvName string `json:"conv_name"`
	UserID   int    `json:"user_id"`
	Message  string `json:"message"`
}

// CtxInfo reports context window occupancy after a step.
type CtxInfo struct {
	CurrentCtxTokenCount int `json:"current_ctx_token_count"`
	CtxWindow            int `json:"ctx_window"`
}

// StepChunk is one line of the newline-delimited JSON stream produced
// by /messages/send and /messages/send/first-message. Duration is in
// seconds.
type StepChunk struct {
	ServerMessageStack []ServerMessage `json:"server_message_stack"`
	CtxInfo            CtxInfo         `json:"ctx_info"`
	Duration           float64         `json:"duration"`
}

// StreamTail terminates the stream. TotalDuration is in seconds.
type StreamTail struct {
	TotalDuration float64 `json:"total_duration"`
}

// NoHeartbeatResponse is the single object returned by
// /messages/send/no-heartbeat, which records the message without
// running the step loop.
type NoHeartbeatResponse struct {
	ServerMessageStack []ServerMessage `json:"server_message_stack"`
	CtxInfo            CtxInfo         `json:"ctx_info"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
