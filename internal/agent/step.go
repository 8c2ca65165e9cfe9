package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/llmosd/llmosd/internal/config"
	"github.com/llmosd/llmosd/internal/host"
	"github.com/llmosd/llmosd/internal/memory"
	"github.com/llmosd/llmosd/pkg/protocol"
)

const (
	warningTokenFrac = 0.95
	flushTokenFrac   = 0.98

	// forcedWriteMessageCount is how many messages may pass without a
	// memory edit before one is forced.
	forcedWriteMessageCount = 7
)

// StepResult is what one iteration of the step loop hands the runtime.
// Messages is the drained server message stack, including anything
// emitted between steps (the echo of an incoming message, for one).
type StepResult struct {
	Messages       []protocol.ServerMessage
	Heartbeat      bool
	FunctionFailed bool
	SentMessage    bool
}

// Step runs one brain burst: prompt the model, parse its reply,
// dispatch the function call and police the memory budget. The runtime
// keeps calling it while Heartbeat is set.
func (a *Agent) Step(ctx context.Context, userID int, isFirstMessage bool) (*StepResult, error) {
	if err := a.memory.WorkingContext.SubmitUsedHumanID(userID); err != nil {
		return nil, err
	}

	w := a.memory.CtxWindow()
	warnAt := int(warningTokenFrac * float64(w))
	flushAt := int(flushTokenFrac * float64(w))

	if a.memory.MainCtxTokenCount() > flushAt {
		if err := a.summarize(ctx); err != nil {
			return nil, err
		}
		a.misc.MemoryPressureWarningAlrGiven = false
		if err := a.misc.persist(a.dir); err != nil {
			return nil, err
		}
	}

	raw, err := a.chat(ctx)
	if err != nil {
		return nil, err
	}
	if a.debug {
		a.Emit(protocol.DebugMessage(raw))
	}
	newRecords := []memory.Record{memory.NewRecord(memory.KindAssistant, userID, raw)}

	var heartbeat, functionFailed, sentMessage bool

	resp, err := parseResponse(raw)
	if err != nil {
		slog.Debug("model reply rejected", "conversation", a.name, "reason", err)
		a.Emit(protocol.SystemMessage(err.Error()))
		newRecords = append(newRecords, memory.NewRecord(memory.KindSystem, userID, err.Error()))
		heartbeat = true
	} else {
		for _, em := range resp.Emotions {
			a.Emit(protocol.InnerEmotion(em.Label, em.Intensity))
		}
		for _, th := range resp.Thoughts {
			a.Emit(protocol.InternalMonologue(th))
		}
		res := a.dispatch(ctx, resp.FunctionCall, isFirstMessage)
		newRecords = append(newRecords, res.record)
		heartbeat = res.heartbeat
		functionFailed = res.functionFailed
		sentMessage = res.sentMessage
	}

	a.misc.MessagesSinceLastConsciousMemoryWrite++

	if !isFirstMessage {
		switch {
		case !a.misc.MemoryPressureWarningAlrGiven && a.memory.MainCtxTokenCount() > warnAt:
			a.Emit(protocol.MemoryMessage(memoryPressureWarning))
			newRecords = append(newRecords, memory.NewRecord(memory.KindSystem, userID, memoryPressureWarning))
			a.misc.MemoryPressureWarningAlrGiven = true
			a.misc.MemoryWriteFunctionForced = true
			heartbeat = true
		case a.memory.MainCtxTokenCount() > flushAt:
			if err := a.summarize(ctx); err != nil {
				return nil, err
			}
			a.misc.MemoryPressureWarningAlrGiven = false
		}
		if a.misc.MessagesSinceLastConsciousMemoryWrite >= forcedWriteMessageCount && !a.misc.ConsciousMemoryWriteAlrForced {
			a.Emit(protocol.MemoryMessage(forcedMemoryWriteNotice))
			newRecords = append(newRecords, memory.NewRecord(memory.KindSystem, userID, forcedMemoryWriteNotice))
			a.misc.ConsciousMemoryWriteAlrForced = true
			a.misc.MemoryWriteFunctionForced = true
			heartbeat = true
		}
	}

	// The first message is not answered until send_message goes
	// through; keep the model in the loop until then.
	if isFirstMessage && !sentMessage {
		heartbeat = true
	}

	for _, rec := range newRecords {
		if err := a.memory.Append(rec); err != nil {
			return nil, err
		}
	}
	if err := a.misc.persist(a.dir); err != nil {
		return nil, err
	}

	return &StepResult{
		Messages:       a.DrainStack(),
		Heartbeat:      heartbeat,
		FunctionFailed: functionFailed,
		SentMessage:    sentMessage,
	}, nil
}

// chat runs one completion over the assembled prompt, in the response
// format the config asks for.
func (a *Agent) chat(ctx context.Context) (string, error) {
	var format json.RawMessage
	switch a.formatMode {
	case config.FormatModeJSON:
		format = host.FormatJSON
	case config.FormatModeStructured:
		format = responseFormat
	}
	content, err := a.host.Chat(ctx, a.model, a.memory.MainCtxMessageSeq(), host.Options{NumCtx: a.memory.CtxWindow()}, format)
	if err != nil {
		return "", fmt.Errorf("chat: %w", err)
	}
	return content, nil
}
