package runtime

import (
	"context"
	"math"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/llmosd/llmosd/internal/bus"
	"github.com/llmosd/llmosd/internal/telemetry"
	"github.com/llmosd/llmosd/pkg/protocol"
)

// StepFunc receives one finished step, typically to stream it to the
// client. Returning an error aborts the heartbeat chain; everything
// persisted so far stays persisted.
type StepFunc func(protocol.StepChunk) error

// Send appends a user message and runs the step loop until the agent
// stops requesting heartbeats. It returns the total wall-clock
// duration in seconds.
func (r *Runtime) Send(ctx context.Context, convName string, userID int, message string, fn StepFunc) (float64, error) {
	return r.send(ctx, convName, userID, message, false, false, fn)
}

// SendFirst is Send for a conversation opener. The message is recorded
// as a system event and the restricted first-message function set
// stays in force until the agent actually messages the user.
func (r *Runtime) SendFirst(ctx context.Context, convName string, userID int, message string, fn StepFunc) (float64, error) {
	return r.send(ctx, convName, userID, message, true, true, fn)
}

// SendNoHeartbeat records the message as a system event without
// stepping, for notifications the agent should see next time it wakes
// up, like a user leaving.
func (r *Runtime) SendNoHeartbeat(ctx context.Context, convName string, userID int, message string) (*protocol.NoHeartbeatResponse, error) {
	c, err := r.conversation(ctx, convName)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.agent.RecordSystemMessage(userID, message); err != nil {
		return nil, err
	}
	return &protocol.NoHeartbeatResponse{
		ServerMessageStack: c.agent.DrainStack(),
		CtxInfo:            c.agent.CtxInfo(),
	}, nil
}

func (r *Runtime) send(ctx context.Context, convName string, userID int, message string, systemKind, first bool, fn StepFunc) (float64, error) {
	c, err := r.conversation(ctx, convName)
	if err != nil {
		return 0, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	start := time.Now()
	if systemKind {
		err = c.agent.RecordSystemMessage(userID, message)
	} else {
		err = c.agent.RecordUserMessage(userID, message)
	}
	if err != nil {
		return 0, err
	}

	for {
		if err := r.stepGate.Acquire(ctx, 1); err != nil {
			return 0, err
		}
		stepStart := time.Now()
		stepCtx, span := telemetry.StartSpan(ctx, "agent.step",
			attribute.String("conv_name", convName),
			attribute.Int("used_human_id", userID),
			attribute.Bool("first_message", first),
		)
		res, stepErr := c.agent.Step(stepCtx, userID, first)
		if res != nil {
			span.SetAttributes(
				attribute.Bool("heartbeat", res.Heartbeat),
				attribute.Bool("function_failed", res.FunctionFailed),
			)
		}
		telemetry.End(span, stepErr)
		r.stepGate.Release(1)
		if stepErr != nil {
			return 0, stepErr
		}
		if res.SentMessage {
			first = false
		}

		chunk := protocol.StepChunk{
			ServerMessageStack: res.Messages,
			CtxInfo:            c.agent.CtxInfo(),
			Duration:           roundSeconds(time.Since(stepStart)),
		}
		r.bus.Broadcast(bus.Event{Name: bus.EventStepCompleted, Payload: bus.StepEvent{
			ConvName:       convName,
			UserID:         userID,
			Duration:       chunk.Duration,
			Heartbeat:      res.Heartbeat,
			FunctionFailed: res.FunctionFailed,
			Messages:       res.Messages,
		}})
		if fn != nil {
			if err := fn(chunk); err != nil {
				return 0, err
			}
		}
		if !res.Heartbeat {
			break
		}
	}
	return roundSeconds(time.Since(start)), nil
}

// roundSeconds reports d in seconds rounded to two decimals, the
// resolution clients display.
func roundSeconds(d time.Duration) float64 {
	return math.Round(d.Seconds()*100) / 100
}
