// Package agent implements the conversation step loop: prompting the
// model over the assembled memory, parsing its structured reply,
// dispatching function calls and keeping the context window budget
// honest through warnings, forced memory writes and summarization.
package agent

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/llmosd/llmosd/internal/filestore"
	"github.com/llmosd/llmosd/internal/functions"
	"github.com/llmosd/llmosd/internal/host"
	"github.com/llmosd/llmosd/internal/interpreter"
	"github.com/llmosd/llmosd/internal/memory"
	"github.com/llmosd/llmosd/internal/tokens"
	"github.com/llmosd/llmosd/internal/web"
	"github.com/llmosd/llmosd/pkg/protocol"
)

// Config wires an Agent to its conversation directory and services.
type Config struct {
	Name string // conversation name
	Dir  string // conversation directory

	Host           *host.Client
	Model          string
	EmbeddingModel string
	FormatMode     string // config.FormatModeNone, ...JSON or ...Structured
	CtxWindow      int    // 0 = model family default

	InContextSets []string

	// SystemInstructions overrides the built-in operating manual.
	SystemInstructions string

	Web         *web.Client
	Interpreter interpreter.Runner

	// Debug echoes every raw model reply to the client stack.
	Debug bool
}

// Agent is one conversation's stateful step loop. It is not safe for
// concurrent use; the runtime serializes access.
type Agent struct {
	name       string
	dir        string
	host       *host.Client
	model      string
	formatMode string
	debug      bool

	memory   *memory.Memory
	registry *functions.Registry
	index    *functions.SchemaIndex
	files    *filestore.Store
	web      *web.Client
	interp   interpreter.Runner

	misc  miscInfo
	stack []protocol.ServerMessage
}

// Open builds an Agent from the conversation directory's persisted
// state. The directory and its working context must already exist (the
// runtime creates them); everything else starts empty on first use.
func Open(ctx context.Context, cfg Config) (*Agent, error) {
	codec, err := tokens.ForModel(cfg.Model)
	if err != nil {
		return nil, err
	}
	embedCodec, err := tokens.ForEmbedding(cfg.EmbeddingModel)
	if err != nil {
		return nil, err
	}

	wc, err := memory.NewWorkingContext(codec, cfg.Dir, "", "")
	if err != nil {
		return nil, fmt.Errorf("open working context: %w", err)
	}
	recall, err := memory.OpenRecall(cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("open recall storage: %w", err)
	}
	embedder := memory.HostEmbedder{Client: cfg.Host, Model: cfg.EmbeddingModel}
	archival, err := memory.OpenArchival(cfg.Dir, embedder, embedCodec)
	if err != nil {
		return nil, fmt.Errorf("open archival storage: %w", err)
	}

	registry, err := functions.NewRegistry(cfg.InContextSets)
	if err != nil {
		return nil, err
	}
	index, err := functions.NewSchemaIndex(ctx, embedder, embedCodec, registry.OutOfContext())
	if err != nil {
		return nil, fmt.Errorf("index function schemas: %w", err)
	}

	instructions := cfg.SystemInstructions
	if instructions == "" {
		instructions = defaultSystemInstructions
	}
	mem, err := memory.NewMemory(cfg.Dir, codec, cfg.CtxWindow, instructions, registry.InContextSchemas(), wc, recall, archival)
	if err != nil {
		return nil, err
	}

	files, err := filestore.Open(filepath.Join(cfg.Dir, "files"), codec)
	if err != nil {
		return nil, fmt.Errorf("open file store: %w", err)
	}

	misc, err := loadMiscInfo(cfg.Dir)
	if err != nil {
		return nil, err
	}

	return &Agent{
		name:       cfg.Name,
		dir:        cfg.Dir,
		host:       cfg.Host,
		model:      cfg.Model,
		formatMode: cfg.FormatMode,
		debug:      cfg.Debug,
		memory:     mem,
		registry:   registry,
		index:      index,
		files:      files,
		web:        cfg.Web,
		interp:     cfg.Interpreter,
		misc:       misc,
	}, nil
}

// Name returns the conversation name.
func (a *Agent) Name() string { return a.name }

// Close releases the archival store's database handle.
func (a *Agent) Close() error { return a.memory.Archival.Close() }

// CtxInfo reports the prompt's current token occupancy.
func (a *Agent) CtxInfo() protocol.CtxInfo {
	return protocol.CtxInfo{
		CurrentCtxTokenCount: a.memory.MainCtxTokenCount(),
		CtxWindow:            a.memory.CtxWindow(),
	}
}

// RecordUserMessage appends an incoming user message ahead of a step.
func (a *Agent) RecordUserMessage(userID int, text string) error {
	a.Emit(protocol.UserMessage(text))
	return a.memory.Append(memory.NewRecord(memory.KindUser, userID, text))
}

// RecordSystemMessage appends a system event, such as a user entering
// or leaving the conversation.
func (a *Agent) RecordSystemMessage(userID int, text string) error {
	a.Emit(protocol.SystemMessage(text))
	return a.memory.Append(memory.NewRecord(memory.KindSystem, userID, text))
}

// DrainStack returns the buffered server messages and clears the stack.
func (a *Agent) DrainStack() []protocol.ServerMessage {
	stack := a.stack
	a.stack = nil
	return stack
}

// HumanIDs lists the ids known to the working context.
func (a *Agent) HumanIDs() []int { return a.memory.WorkingContext.HumanIDs() }

// AddHuman registers a new human persona and returns its id.
func (a *Agent) AddHuman(personaText string) (int, error) {
	id := a.memory.WorkingContext.NextHumanID()
	if err := a.memory.WorkingContext.AddHuman(id, personaText); err != nil {
		return 0, err
	}
	return id, nil
}

// The Env surface handlers run against.

func (a *Agent) WorkingContext() *memory.WorkingContext { return a.memory.WorkingContext }
func (a *Agent) Recall() *memory.RecallStorage          { return a.memory.Recall }
func (a *Agent) Archival() *memory.ArchivalStorage      { return a.memory.Archival }
func (a *Agent) Files() *filestore.Store                { return a.files }
func (a *Agent) Web() *web.Client                       { return a.web }
func (a *Agent) Interpreter() interpreter.Runner        { return a.interp }

func (a *Agent) ActiveHumanID() int { return a.memory.WorkingContext.ActiveHumanID() }

func (a *Agent) Emit(msg protocol.ServerMessage) { a.stack = append(a.stack, msg) }
