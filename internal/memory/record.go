// Package memory implements the tiered memory of a conversation: the
// editable working context, the persisted FIFO queue, the append-only
// recall log, and the embedding-indexed archival store.
package memory

// Message kinds. System, tool and user records collapse to the "user"
// role at render time; assistant records pass through unchanged.
const (
	KindUser      = "user"
	KindSystem    = "system"
	KindTool      = "tool"
	KindAssistant = "assistant"
)

// RecordMessage is the role/content pair presented to the model.
type RecordMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Record is one entry of the FIFO queue and the recall log.
type Record struct {
	Kind      string        `json:"type"`
	UserID    int           `json:"user_id"`
	Message   RecordMessage `json:"message"`
	Timestamp string        `json:"timestamp,omitempty"` // YYYY-MM-DD, set on insertion
}

// NewRecord builds an unstamped record. The role follows the kind:
// assistant records keep the assistant role, everything else is user.
func NewRecord(kind string, userID int, content string) Record {
	role := "user"
	if kind == KindAssistant {
		role = "assistant"
	}
	return Record{
		Kind:    kind,
		UserID:  userID,
		Message: RecordMessage{Role: role, Content: content},
	}
}
