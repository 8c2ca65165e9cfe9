package httpapi

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/llmosd/llmosd/internal/bus"
	"github.com/llmosd/llmosd/internal/config"
	"github.com/llmosd/llmosd/internal/host"
	"github.com/llmosd/llmosd/internal/personas"
	"github.com/llmosd/llmosd/internal/runtime"
	"github.com/llmosd/llmosd/pkg/protocol"
)

// scriptedHost plays back canned chat completions in order and answers
// embedding requests with constant vectors.
type scriptedHost struct {
	t *testing.T

	mu      sync.Mutex
	replies []string
	chats   int
}

func (s *scriptedHost) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/api/chat":
		s.mu.Lock()
		s.chats++
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
		for i := range req.Input {
			out[i] = []float32{1, float32(len(req.Input[i])), 0, 1}
		}
		json.NewEncoder(w).Encode(map[string]any{"embeddings": out})
	default:
		s.t.Errorf("unexpected host path %q", r.URL.Path)
		http.NotFound(w, r)
	}
}

func (s *scriptedHost) chatCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chats
}

func newTestAPI(t *testing.T, replies ...string) (*Server, *httptest.Server, *scriptedHost) {
	t.Helper()
	sh := &scriptedHost{t: t, replies: replies}
	hostSrv := httptest.NewServer(sh)
	t.Cleanup(hostSrv.Close)

	lib, err := personas.Open(t.TempDir(), true)
	if err != nil {
		t.Fatalf("open persona library: %v", err)
	}

	cfg := config.Default()
	cfg.Storage.Dir = t.TempDir()
	cfg.Personas.Dir = t.TempDir()
	cfg.Inference.CtxWindow = 8192

	b := bus.New()
	rt, err := runtime.New(cfg, host.New(hostSrv.URL), lib, b)
	if err != nil {
		t.Fatalf("new runtime: %v", err)
	}
	t.Cleanup(func() { rt.Close() })

	api := New(cfg, rt, b)
	srv := httptest.NewServer(api.BuildMux())
	t.Cleanup(srv.Close)
	return api, srv, sh
}

func doJSON(t *testing.T, method, url string, body, out any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode request: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode response: %v", err)
		}
	}
	return resp
}

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

func TestHealthz(t *testing.T) {
	_, srv, _ := newTestAPI(t)

	var body map[string]string
	resp := doJSON(t, http.MethodGet, srv.URL+"/healthz", nil, &body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if body["status"] != "ok" {
		t.Errorf("body = %v", body)
	}
}

func TestPersonaEndpoints(t *testing.T) {
	_, srv, _ := newTestAPI(t)

	var agents protocol.PersonaNamesResponse
	doJSON(t, http.MethodGet, srv.URL+"/personas/agents", nil, &agents)
	if len(agents.PersonaNames) != 2 || agents.PersonaNames[0] != "ari" || agents.PersonaNames[1] != "sage" {
		t.Errorf("agent personas = %v", agents.PersonaNames)
	}

	var humans protocol.PersonaNamesResponse
	doJSON(t, http.MethodGet, srv.URL+"/personas/humans", nil, &humans)
	if len(humans.PersonaNames) != 1 || humans.PersonaNames[0] != "first_time_user" {
		t.Errorf("human personas = %v", humans.PersonaNames)
	}
}

func TestConversationLifecycle(t *testing.T) {
	_, srv, _ := newTestAPI(t)

	var created protocol.CreateAgentResponse
	resp := doJSON(t, http.MethodPost, srv.URL+"/agent",
		protocol.CreateAgentRequest{AgentPersonaName: "ari", HumanPersonaName: "first_time_user"}, &created)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("create status = %d", resp.StatusCode)
	}
	if !strings.HasPrefix(created.ConvName, "ari--first_time_user@") {
		t.Fatalf("conv name = %q", created.ConvName)
	}

	var ids protocol.ConversationIDsResponse
	doJSON(t, http.MethodGet, srv.URL+"/conversation-ids", nil, &ids)
	if len(ids.ConvIDs) != 1 || ids.ConvIDs[0] != created.ConvName {
		t.Errorf("conversation ids = %v", ids.ConvIDs)
	}

	var humans protocol.HumanIDsResponse
	doJSON(t, http.MethodGet, srv.URL+"/agent/humans?conv_name="+created.ConvName, nil, &humans)
	if len(humans.HumanIDs) != 1 || humans.HumanIDs[0] != 1 {
		t.Errorf("human ids = %v", humans.HumanIDs)
	}

	var added protocol.AddHumanResponse
	doJSON(t, http.MethodPost, srv.URL+"/agent/humans",
		protocol.AddHumanRequest{ConvName: created.ConvName, HumanPersonaName: "first_time_user"}, &added)
	if added.NewHumanID != 2 {
		t.Errorf("new human id = %d, want 2", added.NewHumanID)
	}

	var deleted protocol.DeleteAgentResponse
	resp = doJSON(t, http.MethodDelete, srv.URL+"/agent",
		protocol.DeleteAgentRequest{ConvName: created.ConvName}, &deleted)
	if resp.StatusCode != http.StatusOK || !deleted.Success {
		t.Fatalf("delete status = %d, body = %+v", resp.StatusCode, deleted)
	}

	doJSON(t, http.MethodGet, srv.URL+"/conversation-ids", nil, &ids)
	if len(ids.ConvIDs) != 0 {
		t.Errorf("conversation ids after delete = %v", ids.ConvIDs)
	}
}

func TestCreateAgentUnknownPersona(t *testing.T) {
	_, srv, _ := newTestAPI(t)

	var errResp protocol.ErrorResponse
	resp := doJSON(t, http.MethodPost, srv.URL+"/agent",
		protocol.CreateAgentRequest{AgentPersonaName: "nobody", HumanPersonaName: "first_time_user"}, &errResp)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
	if errResp.Error == "" {
		t.Error("error body is empty")
	}
}

func TestSendStreamsNDJSON(t *testing.T) {
	_, srv, sh := newTestAPI(t,
		reply("archival_memory_insert", map[string]any{"content": "Sam likes tea.", "request_heartbeat": true}),
		sendReply("Noted!"),
	)

	var created protocol.CreateAgentResponse
	doJSON(t, http.MethodPost, srv.URL+"/agent",
		protocol.CreateAgentRequest{AgentPersonaName: "ari", HumanPersonaName: "first_time_user"}, &created)

	body, err := json.Marshal(protocol.SendMessageRequest{ConvName: created.ConvName, UserID: 1, Message: "I like tea."})
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.Post(srv.URL+"/messages/send", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/x-ndjson" {
		t.Errorf("content type = %q", ct)
	}

	var lines []map[string]json.RawMessage
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		var line map[string]json.RawMessage
		if err := json.Unmarshal(scanner.Bytes(), &line); err != nil {
			t.Fatalf("parse stream line %q: %v", scanner.Text(), err)
		}
		lines = append(lines, line)
	}
	if err := scanner.Err(); err != nil {
		t.Fatalf("read stream: %v", err)
	}

	if len(lines) != 3 {
		t.Fatalf("stream has %d lines, want 2 steps + tail", len(lines))
	}
	for i := 0; i < 2; i++ {
		if _, ok := lines[i]["server_message_stack"]; !ok {
			t.Errorf("line %d is not a step chunk: %v", i, lines[i])
		}
		if _, ok := lines[i]["ctx_info"]; !ok {
			t.Errorf("line %d has no ctx_info", i)
		}
	}
	if _, ok := lines[2]["total_duration"]; !ok {
		t.Errorf("tail line = %v", lines[2])
	}
	if sh.chatCalls() != 2 {
		t.Errorf("chat calls = %d, want 2", sh.chatCalls())
	}
}

func TestSendUnknownConversation(t *testing.T) {
	_, srv, _ := newTestAPI(t)

	var errResp protocol.ErrorResponse
	resp := doJSON(t, http.MethodPost, srv.URL+"/messages/send",
		protocol.SendMessageRequest{ConvName: "ari--first_time_user@0-0", UserID: 1, Message: "hi"}, &errResp)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestSendNoHeartbeat(t *testing.T) {
	_, srv, sh := newTestAPI(t)

	var created protocol.CreateAgentResponse
	doJSON(t, http.MethodPost, srv.URL+"/agent",
		protocol.CreateAgentRequest{AgentPersonaName: "ari", HumanPersonaName: "first_time_user"}, &created)

	var resp protocol.NoHeartbeatResponse
	httpResp := doJSON(t, http.MethodPost, srv.URL+"/messages/send/no-heartbeat",
		protocol.SendMessageRequest{ConvName: created.ConvName, UserID: 1, Message: "User with id '1' exited the conversation"}, &resp)
	if httpResp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", httpResp.StatusCode)
	}
	if len(resp.ServerMessageStack) != 1 || resp.ServerMessageStack[0].Type != "system_message" {
		t.Errorf("stack = %+v", resp.ServerMessageStack)
	}
	if sh.chatCalls() != 0 {
		t.Errorf("no-heartbeat send ran %d steps", sh.chatCalls())
	}
}

func TestRateLimitExceeded(t *testing.T) {
	sh := &scriptedHost{t: t}
	hostSrv := httptest.NewServer(sh)
	t.Cleanup(hostSrv.Close)

	lib, err := personas.Open(t.TempDir(), true)
	if err != nil {
		t.Fatalf("open persona library: %v", err)
	}
	cfg := config.Default()
	cfg.Storage.Dir = t.TempDir()
	cfg.Personas.Dir = t.TempDir()
	cfg.Server.RateLimitRPS = 1

	b := bus.New()
	rt, err := runtime.New(cfg, host.New(hostSrv.URL), lib, b)
	if err != nil {
		t.Fatalf("new runtime: %v", err)
	}
	t.Cleanup(func() { rt.Close() })
	srv := httptest.NewServer(New(cfg, rt, b).BuildMux())
	t.Cleanup(srv.Close)

	statuses := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		resp, err := http.Get(srv.URL + "/conversation-ids")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		resp.Body.Close()
		statuses = append(statuses, resp.StatusCode)
	}
	if statuses[0] != http.StatusOK {
		t.Errorf("first request status = %d", statuses[0])
	}
	if statuses[1] != http.StatusTooManyRequests && statuses[2] != http.StatusTooManyRequests {
		t.Errorf("burst was never limited: %v", statuses)
	}
}

func TestWebSocketReceivesEvents(t *testing.T) {
	api, srv, _ := newTestAPI(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, srv.URL+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.CloseNow()

	// The subscriber registers asynchronously, so keep broadcasting
	// until a frame arrives.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		ticker := time.NewTicker(50 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				api.bus.Broadcast(bus.Event{
					Name:    bus.EventStepCompleted,
					Payload: bus.StepEvent{ConvName: "ari--sam@0-0", UserID: 1},
				})
			}
		}
	}()

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	var ev struct {
		Name    string          `json:"name"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(data, &ev); err != nil {
		t.Fatalf("parse frame %q: %v", data, err)
	}
	if ev.Name != bus.EventStepCompleted {
		t.Errorf("event name = %q, want %q", ev.Name, bus.EventStepCompleted)
	}
	var step bus.StepEvent
	if err := json.Unmarshal(ev.Payload, &step); err != nil {
		t.Fatalf("parse payload: %v", err)
	}
	if step.ConvName != "ari--sam@0-0" {
		t.Errorf("payload = %+v", step)
	}
}
