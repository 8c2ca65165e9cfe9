package memory

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/llmosd/llmosd/internal/host"
	"github.com/llmosd/llmosd/internal/tokens"
)

const fifoQueueFile = "fifo_queue.json"

// Memory composes the conversation's memory tiers and owns the FIFO
// queue that becomes the model prompt.
type Memory struct {
	dir       string
	codec     *tokens.Codec
	ctxWindow int

	SystemInstructions string
	FunctionSchemas    []string

	WorkingContext *WorkingContext
	Recall         *RecallStorage
	Archival       *ArchivalStorage

	fifo              []Record
	totalNoMessages   int
	noMessagesInQueue int
}

type fifoState struct {
	FifoQueue         []Record `json:"fifo_queue"`
	TotalNoMessages   int      `json:"total_no_messages"`
	NoMessagesInQueue int      `json:"no_messages_in_queue"`
}

// NewMemory loads the FIFO queue from dir if present, else starts
// empty. ctxWindow 0 falls back to the codec's window.
func NewMemory(dir string, codec *tokens.Codec, ctxWindow int, systemInstructions string, functionSchemas []string, wc *WorkingContext, recall *RecallStorage, archival *ArchivalStorage) (*Memory, error) {
	if ctxWindow <= 0 {
		ctxWindow = codec.CtxWindow
	}
	m := &Memory{
		dir:                dir,
		codec:              codec,
		ctxWindow:          ctxWindow,
		SystemInstructions: systemInstructions,
		FunctionSchemas:    functionSchemas,
		WorkingContext:     wc,
		Recall:             recall,
		Archival:           archival,
	}

	data, err := os.ReadFile(filepath.Join(dir, fifoQueueFile))
	switch {
	case err == nil:
		var state fifoState
		if err := json.Unmarshal(data, &state); err != nil {
			return nil, fmt.Errorf("parse fifo queue: %w", err)
		}
		m.fifo = state.FifoQueue
		m.totalNoMessages = state.TotalNoMessages
		m.noMessagesInQueue = state.NoMessagesInQueue
	case os.IsNotExist(err):
		m.fifo = []Record{}
		if err := m.persistFIFO(); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("read fifo queue: %w", err)
	}
	return m, nil
}

func (m *Memory) persistFIFO() error {
	state := fifoState{
		FifoQueue:         m.fifo,
		TotalNoMessages:   m.totalNoMessages,
		NoMessagesInQueue: m.noMessagesInQueue,
	}
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal fifo queue: %w", err)
	}
	if err := os.WriteFile(filepath.Join(m.dir, fifoQueueFile), data, 0644); err != nil {
		return fmt.Errorf("write fifo queue: %w", err)
	}
	return nil
}

// Append stamps the record, pushes it onto the FIFO, mirrors it into
// the recall log and persists both.
func (m *Memory) Append(rec Record) error {
	if rec.Timestamp == "" {
		rec.Timestamp = time.Now().Format("2006-01-02")
	}
	m.fifo = append(m.fifo, rec)
	m.totalNoMessages++
	m.noMessagesInQueue++
	if err := m.Recall.Insert(rec); err != nil {
		return err
	}
	return m.persistFIFO()
}

// Len returns the number of records currently in the FIFO.
func (m *Memory) Len() int { return len(m.fifo) }

func (m *Memory) TotalNoMessages() int   { return m.totalNoMessages }
func (m *Memory) NoMessagesInQueue() int { return m.noMessagesInQueue }

// Records returns a copy of the FIFO contents.
func (m *Memory) Records() []Record {
	out := make([]Record, len(m.fifo))
	copy(out, m.fifo)
	return out
}

// Oldest returns the head of the FIFO.
func (m *Memory) Oldest() (Record, bool) {
	if len(m.fifo) == 0 {
		return Record{}, false
	}
	return m.fifo[0], true
}

// PopOldest removes and returns the head of the FIFO. The recall log is
// untouched; summarization hides messages from the prompt, not from
// history.
func (m *Memory) PopOldest() (Record, bool, error) {
	if len(m.fifo) == 0 {
		return Record{}, false, nil
	}
	rec := m.fifo[0]
	m.fifo = m.fifo[1:]
	m.noMessagesInQueue--
	return rec, true, m.persistFIFO()
}

// PushOldest prepends a record to the FIFO.
func (m *Memory) PushOldest(rec Record) error {
	m.fifo = append([]Record{rec}, m.fifo...)
	m.noMessagesInQueue++
	return m.persistFIFO()
}

// CtxWindow returns the context window budget in tokens.
func (m *Memory) CtxWindow() int { return m.ctxWindow }

// RenderSentinel renders a non-assistant record the way the model sees
// it inside a user turn.
func (m *Memory) RenderSentinel(rec Record) string {
	switch rec.Kind {
	case KindSystem:
		return fmt.Sprintf("❮SYSTEM MESSAGE❯ %s", rec.Message.Content)
	case KindTool:
		return fmt.Sprintf("❮TOOL MESSAGE for conversation with user with id '%d'❯ %s", rec.UserID, rec.Message.Content)
	default:
		return fmt.Sprintf("❮USER MESSAGE for conversation with user with id '%d'❯ %s", rec.UserID, rec.Message.Content)
	}
}

// MainContextSystemMessage assembles the leading system message:
// instructions, in-context function schemas, external-context counts
// and the working-context render.
func (m *Memory) MainContextSystemMessage() string {
	var b strings.Builder
	b.WriteString("# SYSTEM INSTRUCTIONS\n")
	b.WriteString(m.SystemInstructions)
	b.WriteString("\n# FUNCTION JSON SCHEMAS\n")
	b.WriteString(strings.Join(m.FunctionSchemas, "\n"))
	b.WriteString("\n# EXTERNAL CONTEXT INFORMATION\n")
	fmt.Fprintf(&b, "%d previous messages between you and the user are stored in recall storage (use functions to access them)\n", m.Recall.Len())
	fmt.Fprintf(&b, "%d total memories you created are stored in archival storage (use functions to access them)\n", m.Archival.Len())
	b.WriteString("# CORE MEMORY (limited in size, additional information stored in archival/recall storage)\n")
	b.WriteString(m.WorkingContext.Render())
	return b.String()
}

// Fold translates records into host messages: assistant records pass
// through, runs of non-assistant records collapse into single
// sentinel-prefixed user turns.
func (m *Memory) Fold(recs []Record) []host.Message {
	var msgs []host.Message

	var buf []string
	flush := func() {
		if len(buf) > 0 {
			msgs = append(msgs, host.Message{Role: "user", Content: strings.Join(buf, "\n\n")})
			buf = nil
		}
	}
	for _, rec := range recs {
		if rec.Kind == KindAssistant {
			flush()
			msgs = append(msgs, host.Message{Role: rec.Message.Role, Content: rec.Message.Content})
			continue
		}
		buf = append(buf, m.RenderSentinel(rec))
	}
	flush()
	return msgs
}

// MainCtxMessageSeq translates the FIFO into the host message sequence:
// a leading system message followed by the folded queue.
func (m *Memory) MainCtxMessageSeq() []host.Message {
	return append([]host.Message{{Role: "system", Content: m.MainContextSystemMessage()}}, m.Fold(m.fifo)...)
}

// MainCtxTokenCount is the chat-template token count of the assembled
// prompt.
func (m *Memory) MainCtxTokenCount() int {
	return m.codec.CountMessages(m.MainCtxMessageSeq())
}
