package memory

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/llmosd/llmosd/internal/tokens"
)

// Token ceilings for working-context blocks.
const (
	WorkingCtxPersonaMaxTokens = 750
	WorkingCtxHumanMaxTokens   = 500
)

// Edit failure kinds, matchable with errors.Is. The full message shown
// to the model lives in EditError.Msg.
var (
	ErrOversizeBlock   = errors.New("edit exceeds token limit")
	ErrUnknownHumanID  = errors.New("unknown human id")
	ErrUnknownSection  = errors.New("unknown memory section")
	ErrEmptyOldContent = errors.New("old content empty")
	ErrNotFound        = errors.New("old content not found")
)

// EditError carries the model-facing message for a failed working
// context edit.
type EditError struct {
	Kind error
	Msg  string
}

func (e *EditError) Error() string { return e.Msg }
func (e *EditError) Unwrap() error { return e.Kind }

func oversizeErr(section string, limit, requested int) error {
	return &EditError{
		Kind: ErrOversizeBlock,
		Msg: fmt.Sprintf(
			"Edit failed: Exceeds %d token limit (requested %d). Consider summarizing existing core memories in '%s' and/or moving lower priority content to archival memory to free up space in core memory, then trying again.",
			limit, requested, section,
		),
	}
}

const workingContextFile = "working_context.json"

// WorkingContext holds the small always-in-context memory blocks: the
// agent persona and one block per human participant. Only the two most
// recently used human blocks are rendered into the prompt.
type WorkingContext struct {
	path  string
	codec *tokens.Codec

	Persona         string
	Humans          map[int]string
	LastTwoHumanIDs []int
}

type workingContextState struct {
	LastTwoHumanIDs []int          `json:"last_2_human_ids"`
	Persona         string         `json:"persona"`
	Humans          map[int]string `json:"humans"`
}

// NewWorkingContext loads the working context from dir if present.
// Otherwise it starts from the given personas, with the first human
// assigned id 1, and persists immediately.
func NewWorkingContext(codec *tokens.Codec, dir, persona, human string) (*WorkingContext, error) {
	wc := &WorkingContext{
		path:  filepath.Join(dir, workingContextFile),
		codec: codec,
	}

	data, err := os.ReadFile(wc.path)
	switch {
	case err == nil:
		var state workingContextState
		if err := json.Unmarshal(data, &state); err != nil {
			return nil, fmt.Errorf("parse working context: %w", err)
		}
		wc.Persona = state.Persona
		wc.Humans = state.Humans
		wc.LastTwoHumanIDs = state.LastTwoHumanIDs
		if wc.Humans == nil {
			wc.Humans = map[int]string{}
		}
	case os.IsNotExist(err):
		wc.Persona = persona
		wc.Humans = map[int]string{1: human}
		wc.LastTwoHumanIDs = []int{1}
	default:
		return nil, fmt.Errorf("read working context: %w", err)
	}

	if err := wc.persist(); err != nil {
		return nil, err
	}
	return wc, nil
}

func (wc *WorkingContext) persist() error {
	state := workingContextState{
		LastTwoHumanIDs: wc.LastTwoHumanIDs,
		Persona:         wc.Persona,
		Humans:          wc.Humans,
	}
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal working context: %w", err)
	}
	if err := os.WriteFile(wc.path, data, 0644); err != nil {
		return fmt.Errorf("write working context: %w", err)
	}
	return nil
}

// EditPersona replaces the persona block. Returns the new token count.
func (wc *WorkingContext) EditPersona(newPersona string) (int, error) {
	n := wc.codec.CountText(newPersona)
	if n > WorkingCtxPersonaMaxTokens {
		return 0, oversizeErr("persona", WorkingCtxPersonaMaxTokens, n)
	}
	wc.Persona = newPersona
	if err := wc.persist(); err != nil {
		return 0, err
	}
	return n, nil
}

// EditHuman replaces one human block. Returns the new token count.
func (wc *WorkingContext) EditHuman(id int, newHuman string) (int, error) {
	if _, ok := wc.Humans[id]; !ok {
		return 0, &EditError{
			Kind: ErrUnknownHumanID,
			Msg:  fmt.Sprintf("Edit failed: No human with id '%d' exists in core memory", id),
		}
	}
	n := wc.codec.CountText(newHuman)
	if n > WorkingCtxHumanMaxTokens {
		return 0, oversizeErr("human", WorkingCtxHumanMaxTokens, n)
	}
	wc.Humans[id] = newHuman
	if err := wc.persist(); err != nil {
		return 0, err
	}
	return n, nil
}

// resolveSection maps a section name to the persona block (-1) or a
// human id.
func (wc *WorkingContext) resolveSection(section string) (int, error) {
	if section == "persona" {
		return -1, nil
	}
	if id, err := strconv.Atoi(section); err == nil {
		if _, ok := wc.Humans[id]; ok {
			return id, nil
		}
	}
	return 0, &EditError{
		Kind: ErrUnknownSection,
		Msg:  fmt.Sprintf("Edit failed: No memory section named %s (must be either 'persona' or a known human id)", section),
	}
}

// Edit replaces the whole named section.
func (wc *WorkingContext) Edit(section, content string) (int, error) {
	id, err := wc.resolveSection(section)
	if err != nil {
		return 0, err
	}
	if id < 0 {
		return wc.EditPersona(content)
	}
	return wc.EditHuman(id, content)
}

// EditAppend appends content to the named section, separated by a
// newline.
func (wc *WorkingContext) EditAppend(section, content string) (int, error) {
	id, err := wc.resolveSection(section)
	if err != nil {
		return 0, err
	}
	if id < 0 {
		return wc.EditPersona(wc.Persona + "\n" + content)
	}
	return wc.EditHuman(id, wc.Humans[id]+"\n"+content)
}

// EditReplace substitutes oldContent with newContent in the named
// section. oldContent must be non-empty and present.
func (wc *WorkingContext) EditReplace(section, oldContent, newContent string) (int, error) {
	if oldContent == "" {
		return 0, &EditError{
			Kind: ErrEmptyOldContent,
			Msg:  "Edit failed: Old content cannot be an empty string (must specify old_content to replace)",
		}
	}
	id, err := wc.resolveSection(section)
	if err != nil {
		return 0, err
	}
	if id < 0 {
		if !strings.Contains(wc.Persona, oldContent) {
			return 0, &EditError{
				Kind: ErrNotFound,
				Msg:  "Edit failed: Old content not found in 'persona' (make sure to use exact string)",
			}
		}
		return wc.EditPersona(strings.ReplaceAll(wc.Persona, oldContent, newContent))
	}
	if !strings.Contains(wc.Humans[id], oldContent) {
		return 0, &EditError{
			Kind: ErrNotFound,
			Msg:  "Edit failed: Old content not found in 'human' (make sure to use exact string)",
		}
	}
	return wc.EditHuman(id, strings.ReplaceAll(wc.Humans[id], oldContent, newContent))
}

// AddHuman inserts a new human block. Ids are never reused.
func (wc *WorkingContext) AddHuman(id int, text string) error {
	if _, ok := wc.Humans[id]; ok {
		return fmt.Errorf("human persona with id %d already exists", id)
	}
	wc.Humans[id] = text
	return wc.persist()
}

// NextHumanID returns the smallest id above every existing one.
func (wc *WorkingContext) NextHumanID() int {
	next := 1
	for id := range wc.Humans {
		if id >= next {
			next = id + 1
		}
	}
	return next
}

// HumanIDs returns all known human ids in ascending order.
func (wc *WorkingContext) HumanIDs() []int {
	ids := make([]int, 0, len(wc.Humans))
	for id := range wc.Humans {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// ActiveHumanID returns the most recently used human id.
func (wc *WorkingContext) ActiveHumanID() int {
	if len(wc.LastTwoHumanIDs) == 0 {
		return 1
	}
	return wc.LastTwoHumanIDs[len(wc.LastTwoHumanIDs)-1]
}

// SubmitUsedHumanID marks id as most recently used, keeping at most the
// two newest ids. Called at the start of every step so the rendered
// prompt shows the relevant human block.
func (wc *WorkingContext) SubmitUsedHumanID(id int) error {
	if _, ok := wc.Humans[id]; !ok {
		return fmt.Errorf("no human persona with id %d", id)
	}
	ids := make([]int, 0, 2)
	for _, v := range wc.LastTwoHumanIDs {
		if v != id {
			ids = append(ids, v)
		}
	}
	ids = append(ids, id)
	if len(ids) > 2 {
		ids = ids[len(ids)-2:]
	}
	wc.LastTwoHumanIDs = ids
	return wc.persist()
}

// Render produces the core-memory block for the system message: the
// persona plus the human blocks currently in the MRU list.
func (wc *WorkingContext) Render() string {
	var b strings.Builder
	b.WriteString("<persona>\n")
	b.WriteString(wc.Persona)
	b.WriteString("\n</persona>")
	for _, id := range wc.LastTwoHumanIDs {
		text, ok := wc.Humans[id]
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "\n<human id=\"%d\">\n%s\n</human>", id, text)
	}
	return b.String()
}
