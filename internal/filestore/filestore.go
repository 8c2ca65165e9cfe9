// Package filestore keeps a per-user, git-versioned file tree inside a
// conversation's directory. Every mutating operation becomes a commit,
// so edits can be reverted, reset and diffed through the usual git
// plumbing.
package filestore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/llmosd/llmosd/internal/memory"
	"github.com/llmosd/llmosd/internal/tokens"
)

const (
	summariesFile = "file_summaries.json"

	// Tokens per page returned by ReadFile.
	readPageMaxTokens = 300

	// Runes of leading content kept as a file's summary.
	summaryMaxRunes = 120
)

// Names never shown in listings and never accepted as path parts.
var blacklisted = map[string]bool{
	".git":        true,
	summariesFile: true,
}

// FileEntry pairs a file's relative path parts with its summary.
type FileEntry struct {
	PathParts []string
	Summary   string
}

// Store manages the git-tracked file trees under root, one subtree per
// user id.
type Store struct {
	root  string
	codec *tokens.Codec

	mu sync.Mutex
}

// Open prepares a store rooted at dir (normally the conversation's
// files/ directory).
func Open(dir string, codec *tokens.Codec) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create file store root: %w", err)
	}
	return &Store{root: dir, codec: codec}, nil
}

// userDir ensures the per-user tree exists and is a git repository.
func (s *Store) userDir(ctx context.Context, userID int) (string, error) {
	dir := filepath.Join(s.root, strconv.Itoa(userID))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create user dir: %w", err)
	}
	if _, err := os.Stat(filepath.Join(dir, ".git")); os.IsNotExist(err) {
		if _, err := s.git(ctx, dir, "init", "-q"); err != nil {
			return "", err
		}
		if _, err := s.git(ctx, dir, "commit", "-q", "--allow-empty", "-m", "init"); err != nil {
			return "", err
		}
	}
	return dir, nil
}

func (s *Store) git(ctx context.Context, dir string, args ...string) (string, error) {
	base := []string{"-C", dir, "-c", "user.name=llmosd", "-c", "user.email=llmosd@localhost"}
	cmd := exec.CommandContext(ctx, "git", append(base, args...)...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return "", fmt.Errorf("git %s: %s", args[0], msg)
	}
	return strings.TrimSpace(stdout.String()), nil
}

func (s *Store) commit(ctx context.Context, dir, message string) error {
	if _, err := s.git(ctx, dir, "add", "-A"); err != nil {
		return err
	}
	_, err := s.git(ctx, dir, "commit", "-q", "--allow-empty", "-m", message)
	return err
}

// resolve validates parts and returns the absolute and relative paths.
func (s *Store) resolve(dir string, parts []string) (string, string, error) {
	if len(parts) == 0 {
		return "", "", fmt.Errorf("path parts must not be empty")
	}
	for _, p := range parts {
		if p == "" || p == "." || p == ".." || strings.ContainsAny(p, `/\`) {
			return "", "", fmt.Errorf("invalid path part '%s'", p)
		}
		if blacklisted[p] {
			return "", "", fmt.Errorf("path part '%s' is not allowed", p)
		}
	}
	rel := filepath.Join(parts...)
	return filepath.Join(dir, rel), rel, nil
}

// MakeFile creates an empty file at the given path parts.
func (s *Store) MakeFile(ctx context.Context, userID int, parts []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir, err := s.userDir(ctx, userID)
	if err != nil {
		return err
	}
	abs, rel, err := s.resolve(dir, parts)
	if err != nil {
		return err
	}
	if _, err := os.Stat(abs); err == nil {
		return fmt.Errorf("file '%s' already exists", rel)
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0755); err != nil {
		return fmt.Errorf("create parent folders: %w", err)
	}
	if err := os.WriteFile(abs, nil, 0644); err != nil {
		return fmt.Errorf("create file: %w", err)
	}
	if err := s.setSummary(dir, rel, ""); err != nil {
		return err
	}
	return s.commit(ctx, dir, "make file "+rel)
}

// MakeFolder creates a folder (and any missing parents).
func (s *Store) MakeFolder(ctx context.Context, userID int, parts []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir, err := s.userDir(ctx, userID)
	if err != nil {
		return err
	}
	abs, rel, err := s.resolve(dir, parts)
	if err != nil {
		return err
	}
	if _, err := os.Stat(abs); err == nil {
		return fmt.Errorf("folder '%s' already exists", rel)
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return fmt.Errorf("create folder: %w", err)
	}
	return s.commit(ctx, dir, "make folder "+rel)
}

// RemoveFile deletes a file.
func (s *Store) RemoveFile(ctx context.Context, userID int, parts []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir, err := s.userDir(ctx, userID)
	if err != nil {
		return err
	}
	abs, rel, err := s.resolve(dir, parts)
	if err != nil {
		return err
	}
	info, err := os.Stat(abs)
	if os.IsNotExist(err) {
		return fmt.Errorf("file '%s' does not exist", rel)
	}
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("'%s' is a folder, not a file", rel)
	}
	if err := os.Remove(abs); err != nil {
		return fmt.Errorf("remove file: %w", err)
	}
	if err := s.deleteSummary(dir, rel); err != nil {
		return err
	}
	return s.commit(ctx, dir, "remove file "+rel)
}

// RemoveFolder deletes a folder and everything under it.
func (s *Store) RemoveFolder(ctx context.Context, userID int, parts []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir, err := s.userDir(ctx, userID)
	if err != nil {
		return err
	}
	abs, rel, err := s.resolve(dir, parts)
	if err != nil {
		return err
	}
	info, err := os.Stat(abs)
	if os.IsNotExist(err) {
		return fmt.Errorf("folder '%s' does not exist", rel)
	}
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("'%s' is a file, not a folder", rel)
	}
	if err := os.RemoveAll(abs); err != nil {
		return fmt.Errorf("remove folder: %w", err)
	}
	if err := s.deleteSummaryPrefix(dir, rel); err != nil {
		return err
	}
	return s.commit(ctx, dir, "remove folder "+rel)
}

// AppendToFile appends text to the end of an existing file.
func (s *Store) AppendToFile(ctx context.Context, userID int, parts []string, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir, err := s.userDir(ctx, userID)
	if err != nil {
		return err
	}
	abs, rel, err := s.resolve(dir, parts)
	if err != nil {
		return err
	}
	content, err := os.ReadFile(abs)
	if os.IsNotExist(err) {
		return fmt.Errorf("file '%s' does not exist", rel)
	}
	if err != nil {
		return err
	}
	updated := append(content, []byte(text)...)
	if err := os.WriteFile(abs, updated, 0644); err != nil {
		return fmt.Errorf("write file: %w", err)
	}
	if err := s.setSummary(dir, rel, summarize(string(updated))); err != nil {
		return err
	}
	return s.commit(ctx, dir, "append to "+rel)
}

// ReplaceFirstInFile substitutes the first occurrence of oldText.
func (s *Store) ReplaceFirstInFile(ctx context.Context, userID int, parts []string, oldText, newText string) error {
	return s.replaceInFile(ctx, userID, parts, oldText, newText, 1)
}

// ReplaceAllInFile substitutes every occurrence of oldText.
func (s *Store) ReplaceAllInFile(ctx context.Context, userID int, parts []string, oldText, newText string) error {
	return s.replaceInFile(ctx, userID, parts, oldText, newText, -1)
}

func (s *Store) replaceInFile(ctx context.Context, userID int, parts []string, oldText, newText string, n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if oldText == "" {
		return fmt.Errorf("old text cannot be an empty string")
	}
	dir, err := s.userDir(ctx, userID)
	if err != nil {
		return err
	}
	abs, rel, err := s.resolve(dir, parts)
	if err != nil {
		return err
	}
	content, err := os.ReadFile(abs)
	if os.IsNotExist(err) {
		return fmt.Errorf("file '%s' does not exist", rel)
	}
	if err != nil {
		return err
	}
	if !strings.Contains(string(content), oldText) {
		return fmt.Errorf("old text not found in file '%s' (make sure to use exact string)", rel)
	}
	updated := strings.Replace(string(content), oldText, newText, n)
	if err := os.WriteFile(abs, []byte(updated), 0644); err != nil {
		return fmt.Errorf("write file: %w", err)
	}
	if err := s.setSummary(dir, rel, summarize(updated)); err != nil {
		return err
	}
	return s.commit(ctx, dir, "edit "+rel)
}

// BrowseFiles returns the requested page of (path parts, summary)
// pairs plus the total file count. Blacklisted entries are skipped.
func (s *Store) BrowseFiles(ctx context.Context, userID, count, offset int) ([]FileEntry, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir, err := s.userDir(ctx, userID)
	if err != nil {
		return nil, 0, err
	}
	summaries, err := s.loadSummaries(dir)
	if err != nil {
		return nil, 0, err
	}

	var entries []FileEntry
	err = filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if blacklisted[d.Name()] {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		entries = append(entries, FileEntry{
			PathParts: strings.Split(key, "/"),
			Summary:   summaries[key],
		})
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	sort.Slice(entries, func(i, j int) bool {
		return strings.Join(entries[i].PathParts, "/") < strings.Join(entries[j].PathParts, "/")
	})
	page, total := pageEntries(entries, count, offset)
	return page, total, nil
}

// ReadFile splits the file into token-bounded pages and returns the
// requested slice plus the total page count.
func (s *Store) ReadFile(ctx context.Context, userID int, parts []string, count, offset int) ([]string, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir, err := s.userDir(ctx, userID)
	if err != nil {
		return nil, 0, err
	}
	abs, rel, err := s.resolve(dir, parts)
	if err != nil {
		return nil, 0, err
	}
	content, err := os.ReadFile(abs)
	if os.IsNotExist(err) {
		return nil, 0, fmt.Errorf("file '%s' does not exist", rel)
	}
	if err != nil {
		return nil, 0, err
	}

	pages := memory.SplitText(s.codec, string(content), readPageMaxTokens)
	if offset < 0 {
		offset = 0
	}
	if offset > len(pages) {
		offset = len(pages)
	}
	if count <= 0 {
		count = len(pages)
	}
	end := offset + count
	if end > len(pages) {
		end = len(pages)
	}
	return pages[offset:end], len(pages), nil
}

// RevertCommits undoes the last n commits by creating reverse commits.
func (s *Store) RevertCommits(ctx context.Context, userID, n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n < 1 {
		n = 1
	}
	dir, err := s.userDir(ctx, userID)
	if err != nil {
		return err
	}
	_, err = s.git(ctx, dir, "revert", "--no-edit", fmt.Sprintf("HEAD~%d..HEAD", n))
	return err
}

// ResetCommits discards the last n commits entirely.
func (s *Store) ResetCommits(ctx context.Context, userID, n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n < 1 {
		n = 1
	}
	dir, err := s.userDir(ctx, userID)
	if err != nil {
		return err
	}
	_, err = s.git(ctx, dir, "reset", "-q", "--hard", fmt.Sprintf("HEAD~%d", n))
	return err
}

// Diff returns the diff between HEAD~n and HEAD.
func (s *Store) Diff(ctx context.Context, userID, n int) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n < 1 {
		n = 1
	}
	dir, err := s.userDir(ctx, userID)
	if err != nil {
		return "", err
	}
	return s.git(ctx, dir, "diff", fmt.Sprintf("HEAD~%d", n), "HEAD")
}

// CommitHistory returns the requested page of "hash subject" lines
// plus the total commit count.
func (s *Store) CommitHistory(ctx context.Context, userID, count, offset int) ([]string, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir, err := s.userDir(ctx, userID)
	if err != nil {
		return nil, 0, err
	}
	out, err := s.git(ctx, dir, "log", "--pretty=format:%h %s")
	if err != nil {
		return nil, 0, err
	}
	var lines []string
	if out != "" {
		lines = strings.Split(out, "\n")
	}
	if offset < 0 {
		offset = 0
	}
	if offset > len(lines) {
		offset = len(lines)
	}
	if count <= 0 {
		count = len(lines)
	}
	end := offset + count
	if end > len(lines) {
		end = len(lines)
	}
	return lines[offset:end], len(lines), nil
}

func pageEntries(entries []FileEntry, count, offset int) ([]FileEntry, int) {
	if offset < 0 {
		offset = 0
	}
	if offset > len(entries) {
		offset = len(entries)
	}
	if count <= 0 {
		count = len(entries)
	}
	end := offset + count
	if end > len(entries) {
		end = len(entries)
	}
	return entries[offset:end], len(entries)
}

// summarize keeps the head of content as a browsable one-liner.
func summarize(content string) string {
	line := content
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	runes := []rune(strings.TrimSpace(line))
	if len(runes) > summaryMaxRunes {
		return string(runes[:summaryMaxRunes]) + "..."
	}
	return string(runes)
}

func (s *Store) summariesPath(dir string) string {
	return filepath.Join(dir, summariesFile)
}

func (s *Store) loadSummaries(dir string) (map[string]string, error) {
	data, err := os.ReadFile(s.summariesPath(dir))
	if os.IsNotExist(err) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read file summaries: %w", err)
	}
	summaries := map[string]string{}
	if err := json.Unmarshal(data, &summaries); err != nil {
		return nil, fmt.Errorf("parse file summaries: %w", err)
	}
	return summaries, nil
}

func (s *Store) saveSummaries(dir string, summaries map[string]string) error {
	data, err := json.Marshal(summaries)
	if err != nil {
		return err
	}
	if err := os.WriteFile(s.summariesPath(dir), data, 0644); err != nil {
		return fmt.Errorf("write file summaries: %w", err)
	}
	return nil
}

func (s *Store) setSummary(dir, rel, summary string) error {
	summaries, err := s.loadSummaries(dir)
	if err != nil {
		return err
	}
	summaries[filepath.ToSlash(rel)] = summary
	return s.saveSummaries(dir, summaries)
}

func (s *Store) deleteSummary(dir, rel string) error {
	summaries, err := s.loadSummaries(dir)
	if err != nil {
		return err
	}
	delete(summaries, filepath.ToSlash(rel))
	return s.saveSummaries(dir, summaries)
}

func (s *Store) deleteSummaryPrefix(dir, rel string) error {
	summaries, err := s.loadSummaries(dir)
	if err != nil {
		return err
	}
	prefix := filepath.ToSlash(rel) + "/"
	for key := range summaries {
		if strings.HasPrefix(key, prefix) {
			delete(summaries, key)
		}
	}
	return s.saveSummaries(dir, summaries)
}
