package agent

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/llmosd/llmosd/internal/host"
	"github.com/llmosd/llmosd/internal/memory"
	"github.com/llmosd/llmosd/pkg/protocol"
)

const (
	truncationTokenFrac     = 0.5
	lastNMessagesToPreserve = 3
	summaryWordLimit        = 100
)

const summarizeSystemPromptTemplate = `
Your job is to summarize a history of previous messages in a conversation between an AI persona and a human.
The conversation you are given is a from a fixed context window and may not be complete.
Messages sent by the AI are marked with the 'assistant' role.
The AI 'assistant' can also make calls to functions starting with '❮TOOL CALL for conversation with user with id '{INSERT USER ID HERE}'❯', whose outputs can be seen in messages with the 'user' role starting with '❮TOOL MESSAGE for conversation with user with id '{INSERT USER ID HERE}'❯'.
Things the AI says starting with '❮ASSISTANT MONOLOGUE for conversation with user with id '{INSERT USER ID HERE}'❯' are considered inner monologue and are not seen by the user.
Things the AI says starting with '❮ERRONEOUS ASSISTANT MESSAGE for conversation with user with id '{INSERT USER ID HERE}'❯' are non-well-formed JSON objects the AI says. If the AI says well-formed json objects, the 'thoughts' field's value will be translated to an assistant monologue and the 'function_call' field's value will be translated to a tool message.
The only AI messages seen by the user are from when the AI uses 'send_message'.
Messages the user sends are in the 'user' role starting with '❮USER MESSAGE for conversation with user with id '{INSERT USER ID HERE}'}❯'.
The 'user' role is also used for important system events and messages, such as login events, heartbeat events (heartbeats run the AI's program without user action, allowing the AI to act without prompting from the user sending them a message), memory pressure warnings, and error messages. Such events start with '❮SYSTEM MESSAGE for conversation with user with id '{INSERT USER ID HERE}'❯'.
Summarize what happened in the conversation from the perspective of the AI (use the first person).
Keep your summary less than <<SUMMARY_WORD_LIMIT>> words, do NOT exceed this word limit.
Only output the summary, do NOT include anything else in your output.
`

func summarizeSystemPrompt() string {
	return strings.ReplaceAll(summarizeSystemPromptTemplate, "<<SUMMARY_WORD_LIMIT>>", strconv.Itoa(summaryWordLimit))
}

// summarize folds the oldest FIFO records into one model-written
// summary record at the head of the queue. The recall log keeps the
// originals, so nothing is lost, only hidden from the prompt.
func (a *Agent) summarize(ctx context.Context) error {
	w := a.memory.CtxWindow()
	truncateAt := int(truncationTokenFrac * float64(w))
	warnAt := int(warningTokenFrac * float64(w))

	var popped []memory.Record
	for a.memory.MainCtxTokenCount() > truncateAt && a.memory.Len() > lastNMessagesToPreserve {
		rec, ok, err := a.memory.PopOldest()
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		popped = append(popped, rec)
	}

	// Keep the cut at a natural turn boundary: return records to the
	// queue until a user message leads it again.
	for len(popped) > 0 && a.memory.MainCtxTokenCount() < warnAt {
		if head, ok := a.memory.Oldest(); ok && head.Kind == memory.KindUser {
			break
		}
		rec := popped[len(popped)-1]
		popped = popped[:len(popped)-1]
		if err := a.memory.PushOldest(rec); err != nil {
			return err
		}
	}
	if len(popped) == 0 {
		return nil
	}

	msgs := append([]host.Message{{Role: "system", Content: summarizeSystemPrompt()}}, a.memory.Fold(popped)...)
	summary, err := a.host.Chat(ctx, a.model, msgs, host.Options{NumCtx: w}, nil)
	if err != nil {
		return fmt.Errorf("summarize: %w", err)
	}

	hidden := a.memory.TotalNoMessages() - a.memory.NoMessagesInQueue()
	note := fmt.Sprintf("Note: prior messages (%d of %d total messages) have been hidden from view due to conversation memory constraints.\nThe following is a summary of the previous %d messages:\n%s",
		hidden, a.memory.TotalNoMessages(), hidden, summary)
	if err := a.memory.PushOldest(memory.NewRecord(memory.KindSystem, a.ActiveHumanID(), note)); err != nil {
		return err
	}
	a.Emit(protocol.MemoryMessage(note))
	return nil
}
