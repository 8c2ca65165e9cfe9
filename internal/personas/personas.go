// Package personas manages the persona text files conversations are
// created from: agents/ holds agent personas, humans/ holds what the
// agent initially knows about a human. Files are plain text, addressed
// by their name without the .txt extension.
package personas

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// ErrUnknown marks lookups of persona names that have no file.
var ErrUnknown = errors.New("unknown persona")

const (
	agentsDir = "agents"
	humansDir = "humans"
)

// Library is a persona directory with agents/ and humans/ beneath it.
type Library struct {
	root    string
	watcher *fsnotify.Watcher
}

// Open ensures the directory layout exists and, when seed is set,
// writes the built-in personas for any that are missing. Existing
// files are never overwritten.
func Open(root string, seed bool) (*Library, error) {
	for _, sub := range []string{agentsDir, humansDir} {
		if err := os.MkdirAll(filepath.Join(root, sub), 0755); err != nil {
			return nil, fmt.Errorf("create persona dir: %w", err)
		}
	}
	l := &Library{root: root}
	if seed {
		if err := l.seedDefaults(); err != nil {
			return nil, err
		}
	}
	return l, nil
}

func (l *Library) seedDefaults() error {
	for sub, defaults := range map[string]map[string]string{
		agentsDir: defaultAgentPersonas,
		humansDir: defaultHumanPersonas,
	} {
		for name, text := range defaults {
			path := filepath.Join(l.root, sub, name+".txt")
			if _, err := os.Stat(path); err == nil {
				continue
			} else if !os.IsNotExist(err) {
				return fmt.Errorf("stat persona: %w", err)
			}
			if err := os.WriteFile(path, []byte(text), 0644); err != nil {
				return fmt.Errorf("seed persona: %w", err)
			}
		}
	}
	return nil
}

// Agents lists the agent persona names.
func (l *Library) Agents() ([]string, error) { return l.list(agentsDir) }

// Humans lists the human persona names.
func (l *Library) Humans() ([]string, error) { return l.list(humansDir) }

func (l *Library) list(sub string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(l.root, sub))
	if err != nil {
		return nil, fmt.Errorf("list personas: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, ".txt") {
			continue
		}
		names = append(names, strings.TrimSuffix(name, ".txt"))
	}
	return names, nil
}

// AgentText returns the text of one agent persona.
func (l *Library) AgentText(name string) (string, error) { return l.read(agentsDir, name) }

// HumanText returns the text of one human persona.
func (l *Library) HumanText(name string) (string, error) { return l.read(humansDir, name) }

func (l *Library) read(sub, name string) (string, error) {
	// Names come straight off the wire; keep them inside the library.
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return "", fmt.Errorf("%w: %q", ErrUnknown, name)
	}
	data, err := os.ReadFile(filepath.Join(l.root, sub, name+".txt"))
	if os.IsNotExist(err) {
		return "", fmt.Errorf("%w: %q", ErrUnknown, name)
	}
	if err != nil {
		return "", fmt.Errorf("read persona: %w", err)
	}
	return string(data), nil
}

// Watch logs persona file changes until Close. Conversations keep the
// persona text they were created with; the log line is there so edits
// during development are visible.
func (l *Library) Watch() error {
	if l.watcher != nil {
		return nil
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch personas: %w", err)
	}
	for _, sub := range []string{agentsDir, humansDir} {
		if err := w.Add(filepath.Join(l.root, sub)); err != nil {
			w.Close()
			return fmt.Errorf("watch personas: %w", err)
		}
	}
	l.watcher = w
	go func() {
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				slog.Info("persona file changed", "op", ev.Op.String(), "path", ev.Name)
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				slog.Warn("persona watcher error", "error", err)
			}
		}
	}()
	return nil
}

// Close stops the watcher, if one is running.
func (l *Library) Close() error {
	if l.watcher == nil {
		return nil
	}
	w := l.watcher
	l.watcher = nil
	return w.Close()
}
