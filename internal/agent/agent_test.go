package agent

import (
	"context"
	"encoding/json"
	"hash/fnv"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"unicode"

	"github.com/llmosd/llmosd/internal/config"
	"github.com/llmosd/llmosd/internal/host"
)

const testCtxWindow = 8192

// scriptedHost plays back canned chat completions in order and answers
// embedding requests with deterministic bag-of-words vectors, so agent
// behaviour is reproducible without a model host.
type scriptedHost struct {
	t *testing.T

	mu      sync.Mutex
	replies []string
	chats   [][]host.Message
}

func (s *scriptedHost) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/api/chat":
		var req struct {
			Messages []host.Message `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.t.Errorf("decode chat request: %v", err)
		}
		s.mu.Lock()
		s.chats = append(s.chats, req.Messages)
		var reply string
		if len(s.replies) > 0 {
			reply = s.replies[0]
			s.replies = s.replies[1:]
		} else {
			s.t.Error("chat request arrived with no scripted reply left")
		}
		s.mu.Unlock()
		json.NewEncoder(w).Encode(map[string]any{
			"message": map[string]any{"role": "assistant", "content": reply},
			"done":    true,
		})
	case "/api/embed":
		var req struct {
			Input []string `json:"input"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.t.Errorf("decode embed request: %v", err)
		}
		out := make([][]float32, len(req.Input))
		for i, text := range req.Input {
			out[i] = wordVec(text)
		}
		json.NewEncoder(w).Encode(map[string]any{"embeddings": out})
	default:
		s.t.Errorf("unexpected host path %q", r.URL.Path)
		http.NotFound(w, r)
	}
}

func (s *scriptedHost) push(replies ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replies = append(s.replies, replies...)
}

// chat returns the message sequence of the i-th chat request.
func (s *scriptedHost) chat(i int) []host.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chats[i]
}

func (s *scriptedHost) chatCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.chats)
}

func wordVec(text string) []float32 {
	vec := make([]float32, 64)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool { return !unicode.IsLetter(r) })
	for _, w := range words {
		h := fnv.New32a()
		h.Write([]byte(w))
		vec[h.Sum32()%64]++
	}
	return vec
}

func newTestAgent(t *testing.T, replies ...string) (*Agent, *scriptedHost) {
	t.Helper()
	sh := &scriptedHost{t: t, replies: replies}
	srv := httptest.NewServer(sh)
	t.Cleanup(srv.Close)

	a, err := Open(context.Background(), Config{
		Name:           "ari--sam@6f1c2b9e",
		Dir:            t.TempDir(),
		Host:           host.New(srv.URL),
		Model:          "llama3.1:8b",
		EmbeddingModel: "nomic-embed-text",
		FormatMode:     config.FormatModeJSON,
		CtxWindow:      testCtxWindow,
		InContextSets:  []string{"base"},
	})
	if err != nil {
		t.Fatalf("open agent: %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a, sh
}

// reply builds a well-formed model reply around one function call.
func reply(name string, args map[string]any) string {
	data, err := json.Marshal(map[string]any{
		"emotions":      []any{[]any{"calm", 5}},
		"thoughts":      []string{"Deciding what to do next."},
		"function_call": map[string]any{"name": name, "arguments": args},
	})
	if err != nil {
		panic(err)
	}
	return string(data)
}

func sendReply(message string) string {
	return reply("send_message", map[string]any{"message": message, "request_heartbeat": false})
}

func TestOpenStartsWithCleanPressureState(t *testing.T) {
	a, _ := newTestAgent(t)

	if a.misc != (miscInfo{}) {
		t.Errorf("misc info = %+v, want zero value", a.misc)
	}
	info := a.CtxInfo()
	if info.CtxWindow != testCtxWindow {
		t.Errorf("ctx window = %d, want %d", info.CtxWindow, testCtxWindow)
	}
	if info.CurrentCtxTokenCount <= 0 {
		t.Error("empty conversation should still count the system message")
	}
}

func TestRecordUserMessageEchoes(t *testing.T) {
	a, _ := newTestAgent(t)

	if err := a.RecordUserMessage(1, "Good morning!"); err != nil {
		t.Fatalf("record user message: %v", err)
	}
	msgs := a.DrainStack()
	if len(msgs) != 1 || msgs[0].Type != "user_message" {
		t.Fatalf("stack = %+v, want one user_message", msgs)
	}
	if msgs[0].Arguments["msg"] != "Good morning!" {
		t.Errorf("echoed msg = %v", msgs[0].Arguments["msg"])
	}
	if a.memory.NoMessagesInQueue() != 1 {
		t.Errorf("queue length = %d, want 1", a.memory.NoMessagesInQueue())
	}
	if got := a.DrainStack(); len(got) != 0 {
		t.Errorf("drain did not clear the stack: %+v", got)
	}
}
