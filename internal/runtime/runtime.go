// Package runtime owns the live conversation set. It caches open
// agents by conversation name, serializes step execution behind a
// global semaphore and evicts idle conversations on a cron schedule.
package runtime

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/adhocore/gronx"
	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/llmosd/llmosd/internal/agent"
	"github.com/llmosd/llmosd/internal/bus"
	"github.com/llmosd/llmosd/internal/config"
	"github.com/llmosd/llmosd/internal/host"
	"github.com/llmosd/llmosd/internal/interpreter"
	"github.com/llmosd/llmosd/internal/memory"
	"github.com/llmosd/llmosd/internal/personas"
	"github.com/llmosd/llmosd/internal/tokens"
	"github.com/llmosd/llmosd/internal/web"
)

// ErrUnknownConversation reports a conversation name with no directory
// under the storage root.
var ErrUnknownConversation = errors.New("unknown conversation")

const defaultJanitorSchedule = "*/5 * * * *"

// Runtime owns every open conversation. Step execution funnels through
// a weighted semaphore so at most runtime.max_concurrent_steps model
// round trips run process-wide.
type Runtime struct {
	cfg      *config.Config
	host     *host.Client
	web      *web.Client
	interp   interpreter.Runner
	personas *personas.Library
	bus      *bus.Bus

	storageDir string
	stepGate   *semaphore.Weighted

	mu    sync.Mutex
	convs map[string]*conversation
}

// conversation pairs a cached agent with its access bookkeeping. The
// mutex keeps one request's whole heartbeat chain atomic; the agent
// itself is not safe for concurrent use.
type conversation struct {
	mu       sync.Mutex
	agent    *agent.Agent
	lastUsed time.Time
}

// New validates the janitor schedule, makes the storage root and
// returns an empty runtime. Agents load lazily on first use.
func New(cfg *config.Config, hostClient *host.Client, lib *personas.Library, eventBus *bus.Bus) (*Runtime, error) {
	gron := gronx.New()
	if sched := cfg.Runtime.JanitorSchedule; sched != "" && !gron.IsValid(sched) {
		return nil, fmt.Errorf("runtime: invalid janitor schedule %q", sched)
	}

	steps := int64(cfg.Runtime.MaxConcurrentSteps)
	if steps <= 0 {
		steps = 1
	}

	storageDir := cfg.StoragePath()
	if err := os.MkdirAll(storageDir, 0755); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}

	return &Runtime{
		cfg:        cfg,
		host:       hostClient,
		web:        web.New(cfg.Web),
		interp:     interpreter.NewLocalRunner(cfg.Interpreter),
		personas:   lib,
		bus:        eventBus,
		storageDir: storageDir,
		stepGate:   semaphore.NewWeighted(steps),
		convs:      make(map[string]*conversation),
	}, nil
}

// Personas returns the persona library conversations are created from.
func (r *Runtime) Personas() *personas.Library { return r.personas }

// ListConversations lists every conversation directory under the
// storage root, cached or not.
func (r *Runtime) ListConversations() ([]string, error) {
	entries, err := os.ReadDir(r.storageDir)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

// Create makes a conversation from the named personas, seeds its
// working context and opens the agent. The name embeds both persona
// names plus a random suffix, regenerated until it is unique.
func (r *Runtime) Create(ctx context.Context, agentPersona, humanPersona string) (string, error) {
	personaText, err := r.personas.AgentText(agentPersona)
	if err != nil {
		return "", err
	}
	humanText, err := r.personas.HumanText(humanPersona)
	if err != nil {
		return "", err
	}

	var name, dir string
	for {
		name = fmt.Sprintf("%s--%s@%s-%s", agentPersona, humanPersona, uuidHex(), uuidHex())
		dir = filepath.Join(r.storageDir, name)
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			break
		}
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create conversation dir: %w", err)
	}

	codec, err := tokens.ForModel(r.cfg.Inference.ModelName)
	if err != nil {
		return "", err
	}
	if _, err := memory.NewWorkingContext(codec, dir, personaText, humanText); err != nil {
		return "", fmt.Errorf("seed working context: %w", err)
	}

	a, err := r.open(ctx, name)
	if err != nil {
		return "", err
	}
	r.mu.Lock()
	r.convs[name] = &conversation{agent: a, lastUsed: time.Now()}
	r.mu.Unlock()

	slog.Info("conversation created", "conv", name)
	r.bus.Broadcast(bus.Event{Name: bus.EventConversationCreated, Payload: bus.ConversationEvent{ConvName: name}})
	return name, nil
}

// Delete closes the conversation if cached and removes its directory.
func (r *Runtime) Delete(convName string) error {
	dir, err := r.convDir(convName)
	if err != nil {
		return err
	}
	if _, err := os.Stat(dir); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrUnknownConversation, convName)
		}
		return err
	}

	r.mu.Lock()
	c := r.convs[convName]
	delete(r.convs, convName)
	r.mu.Unlock()

	if c != nil {
		c.mu.Lock()
		if err := c.agent.Close(); err != nil {
			slog.Warn("close deleted conversation", "conv", convName, "error", err)
		}
		c.mu.Unlock()
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("remove conversation dir: %w", err)
	}

	slog.Info("conversation deleted", "conv", convName)
	r.bus.Broadcast(bus.Event{Name: bus.EventConversationDeleted, Payload: bus.ConversationEvent{ConvName: convName}})
	return nil
}

// Humans lists the human ids known to the conversation.
func (r *Runtime) Humans(ctx context.Context, convName string) ([]int, error) {
	c, err := r.conversation(ctx, convName)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.agent.HumanIDs(), nil
}

// AddHuman registers a new human persona with the conversation and
// returns the allocated human id.
func (r *Runtime) AddHuman(ctx context.Context, convName, humanPersona string) (int, error) {
	text, err := r.personas.HumanText(humanPersona)
	if err != nil {
		return 0, err
	}
	c, err := r.conversation(ctx, convName)
	if err != nil {
		return 0, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.agent.AddHuman(text)
}

// Close closes every cached agent. State is already on disk, so this
// only releases handles.
func (r *Runtime) Close() error {
	r.mu.Lock()
	convs := r.convs
	r.convs = make(map[string]*conversation)
	r.mu.Unlock()

	var firstErr error
	for name, c := range convs {
		c.mu.Lock()
		if err := c.agent.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close %s: %w", name, err)
		}
		c.mu.Unlock()
	}
	return firstErr
}

// conversation returns the cached conversation, opening the agent from
// disk on a miss. Holding the registry lock across the open keeps the
// load single-flight.
func (r *Runtime) conversation(ctx context.Context, name string) (*conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.convs[name]; ok {
		c.lastUsed = time.Now()
		return c, nil
	}
	a, err := r.open(ctx, name)
	if err != nil {
		return nil, err
	}
	c := &conversation{agent: a, lastUsed: time.Now()}
	r.convs[name] = c
	return c, nil
}

func (r *Runtime) open(ctx context.Context, name string) (*agent.Agent, error) {
	dir, err := r.convDir(name)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(dir); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownConversation, name)
		}
		return nil, err
	}
	return agent.Open(ctx, agent.Config{
		Name:           name,
		Dir:            dir,
		Host:           r.host,
		Model:          r.cfg.Inference.ModelName,
		EmbeddingModel: r.cfg.Inference.EmbeddingModelName,
		FormatMode:     r.cfg.Inference.FormatMode,
		CtxWindow:      r.cfg.Inference.CtxWindow,
		InContextSets:  []string(r.cfg.Functions.InContextSets),
		Web:            r.web,
		Interpreter:    r.interp,
		Debug:          r.cfg.Server.DebugMessages,
	})
}

// convDir resolves a client-supplied conversation name to its storage
// directory, rejecting anything that is not a plain directory name.
func (r *Runtime) convDir(name string) (string, error) {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return "", fmt.Errorf("%w: %s", ErrUnknownConversation, name)
	}
	return filepath.Join(r.storageDir, name), nil
}

func uuidHex() string {
	id := uuid.New()
	return hex.EncodeToString(id[:])
}
