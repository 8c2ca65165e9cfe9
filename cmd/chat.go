package cmd

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"

	"github.com/mattn/go-runewidth"
	"github.com/spf13/cobra"

	"github.com/llmosd/llmosd/internal/config"
	"github.com/llmosd/llmosd/pkg/protocol"
)

func chatCmd() *cobra.Command {
	var serverURL string
	var userID int
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with an agent on a running server",
		Long: "chat connects to a running llmosd server, resumes an existing conversation or " +
			"creates one from persona picks, and renders the step stream in the terminal.",
		Run: func(cmd *cobra.Command, args []string) {
			runChat(serverURL, userID)
		},
	}
	cmd.Flags().StringVar(&serverURL, "server", "", "server base URL (default: from config)")
	cmd.Flags().IntVar(&userID, "user", 1, "human id to chat as")
	return cmd
}

func runChat(serverFlag string, userID int) {
	client := &apiClient{base: resolveServerURL(serverFlag), http: &http.Client{}}
	sc := bufio.NewScanner(os.Stdin)

	convName, resumed, err := chooseConversation(client, sc)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if convName == "" {
		return
	}

	// Ctrl+C lands here so the exit notification below still goes out.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	fmt.Fprintf(os.Stderr, "\nConversation: %s (user %d)\n", convName, userID)
	fmt.Fprintf(os.Stderr, "/help for commands, /exit to exit\n\n")

	var info protocol.CtxInfo

	suffix := ""
	if resumed {
		suffix = " and your previous conversation"
	}
	enter := fmt.Sprintf("User with id '%d' entered the conversation. You should greet the user and start the conversation based on your persona's specifications%s.", userID, suffix)
	if err := client.stream("/messages/send/first-message", protocol.SendMessageRequest{ConvName: convName, UserID: userID, Message: enter}, &info); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

loop:
	for {
		select {
		case <-ctx.Done():
			fmt.Fprintln(os.Stderr, "\nReceived interrupt. Exiting...")
			break loop
		default:
		}

		fmt.Fprintf(os.Stderr, "%s > ", occupancy(info))
		if !sc.Scan() {
			break
		}
		input := strings.TrimSpace(sc.Text())
		if input == "" {
			continue
		}
		switch input {
		case "/help":
			fmt.Fprintln(os.Stderr, "/exit -> exit conversation")
			continue
		case "/exit":
			break loop
		}

		req := protocol.SendMessageRequest{ConvName: convName, UserID: userID, Message: input}
		if err := client.stream("/messages/send", req, &info); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n\n", err)
		}
	}

	// Tell the agent the user left. No heartbeat, so no model round trip.
	exit := fmt.Sprintf("User with id '%d' exited the conversation", userID)
	var out protocol.NoHeartbeatResponse
	if err := client.postJSON("/messages/send/no-heartbeat", protocol.SendMessageRequest{ConvName: convName, UserID: userID, Message: exit}, &out); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return
	}
	for _, m := range out.ServerMessageStack {
		renderMessage(m)
	}
	fmt.Printf("Context info: %s\n", occupancy(out.CtxInfo))
}

// chooseConversation offers existing conversations first, then falls
// back to creating one from persona picks. An empty name with nil error
// means stdin closed mid-selection.
func chooseConversation(client *apiClient, sc *bufio.Scanner) (name string, resumed bool, err error) {
	var convs protocol.ConversationIDsResponse
	if err := client.getJSON("/conversation-ids", &convs); err != nil {
		return "", false, err
	}

	if len(convs.ConvIDs) > 0 {
		fmt.Fprint(os.Stderr, "Use existing conversation? (y/n) ")
		if !sc.Scan() {
			return "", false, nil
		}
		if strings.EqualFold(strings.TrimSpace(sc.Text()), "y") {
			picked, ok := pickOption(sc, "Choose a conversation", convs.ConvIDs)
			if !ok {
				return "", false, nil
			}
			return picked, true, nil
		}
	}

	var agents, humans protocol.PersonaNamesResponse
	if err := client.getJSON("/personas/agents", &agents); err != nil {
		return "", false, err
	}
	if err := client.getJSON("/personas/humans", &humans); err != nil {
		return "", false, err
	}
	if len(agents.PersonaNames) == 0 || len(humans.PersonaNames) == 0 {
		return "", false, errors.New("server has no personas to choose from")
	}

	agentPersona, ok := pickOption(sc, "Choose an agent persona", agents.PersonaNames)
	if !ok {
		return "", false, nil
	}
	humanPersona, ok := pickOption(sc, "Choose a human persona", humans.PersonaNames)
	if !ok {
		return "", false, nil
	}

	var created protocol.CreateAgentResponse
	req := protocol.CreateAgentRequest{AgentPersonaName: agentPersona, HumanPersonaName: humanPersona}
	if err := client.postJSON("/agent", req, &created); err != nil {
		return "", false, err
	}
	return created.ConvName, false, nil
}

// pickOption prints a numbered menu and reads a selection. Returns
// false when stdin closes.
func pickOption(sc *bufio.Scanner, prompt string, options []string) (string, bool) {
	fmt.Fprintln(os.Stderr, prompt)
	for i, option := range options {
		fmt.Fprintf(os.Stderr, "%d -> %s\n", i+1, option)
	}
	for {
		fmt.Fprint(os.Stderr, "> ")
		if !sc.Scan() {
			return "", false
		}
		n, err := strconv.Atoi(strings.TrimSpace(sc.Text()))
		if err != nil {
			fmt.Fprintln(os.Stderr, "Input is not an integer! Please try again!")
			continue
		}
		if n < 1 || n > len(options) {
			fmt.Fprintln(os.Stderr, "Input is not in the given numbers! Please try again!")
			continue
		}
		return options[n-1], true
	}
}

// renderMessage prints one step message with the emoji prefix keyed to
// its type.
func renderMessage(m protocol.ServerMessage) {
	msg, _ := m.Arguments["msg"].(string)
	switch m.Type {
	case protocol.TypeWarningMessage:
		fmt.Printf("⚠️ %s\n", msg)
	case protocol.TypeDebugMessage:
		fmt.Printf("🐞 %s\n", clip(msg))
	case protocol.TypeInnerEmotion:
		emotion, _ := m.Arguments["emotion"].(string)
		intensity, _ := m.Arguments["intensity"].(float64)
		fmt.Printf("🩶 %s (%.1f)\n", emotion, intensity)
	case protocol.TypeInternalMonologue:
		fmt.Printf("💭 %s\n", msg)
	case protocol.TypeAssistantMessage:
		fmt.Printf("🤖 %s\n", msg)
	case protocol.TypeMemoryMessage:
		fmt.Printf("🧠 %s\n", msg)
	case protocol.TypeSystemMessage:
		fmt.Printf("🖥️ %s\n", msg)
	case protocol.TypeUserMessage:
		fmt.Printf("🧑 %s\n", msg)
	case protocol.TypeFunctionCallMessage:
		name, _ := m.Arguments["func_name"].(string)
		if verbose {
			fmt.Printf("⚡ Called function '%s' with arguments %v\n", name, m.Arguments["func_args"])
		} else {
			fmt.Printf("⚡ Called function '%s'\n", name)
		}
	case protocol.TypeFunctionResMessage:
		hasError, _ := m.Arguments["has_error"].(bool)
		if hasError {
			fmt.Printf("🔴 %s\n", clip(msg))
		} else {
			fmt.Printf("🟢 %s\n", clip(msg))
		}
	default:
		fmt.Printf("%s %v\n", m.Type, m.Arguments)
	}
}

// clip flattens and truncates long tool output for terminal display.
func clip(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	return runewidth.Truncate(s, 200, "…")
}

func occupancy(info protocol.CtxInfo) string {
	pct := 0.0
	if info.CtxWindow > 0 {
		pct = float64(info.CurrentCtxTokenCount) / float64(info.CtxWindow) * 100
	}
	return fmt.Sprintf("%d/%d tokens (%.2f%%)", info.CurrentCtxTokenCount, info.CtxWindow, pct)
}

// resolveServerURL returns the base URL for client commands: the
// --server flag when given, otherwise the configured listen address.
func resolveServerURL(flag string) string {
	if flag != "" {
		return strings.TrimRight(flag, "/")
	}
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return "http://127.0.0.1:5000"
	}
	h := cfg.Server.Host
	if h == "" || h == "0.0.0.0" {
		h = "127.0.0.1"
	}
	return fmt.Sprintf("http://%s:%d", h, cfg.Server.Port)
}

// apiClient is a minimal client for the conversation API.
type apiClient struct {
	base string
	http *http.Client
}

func (c *apiClient) getJSON(path string, out any) error {
	resp, err := c.http.Get(c.base + path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return responseError(resp)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *apiClient) postJSON(path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}
	resp, err := c.http.Post(c.base+path, "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return responseError(resp)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// stream posts req and renders the NDJSON step stream as it arrives.
// The last ctx_info seen is written back through info.
func (c *apiClient) stream(path string, req protocol.SendMessageRequest, info *protocol.CtxInfo) error {
	body, err := json.Marshal(req)
	if err != nil {
		return err
	}
	resp, err := c.http.Post(c.base+path, "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return responseError(resp)
	}

	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 0, 64*1024), 4<<20) // function results can be large
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var chunk struct {
			ServerMessageStack []protocol.ServerMessage `json:"server_message_stack"`
			CtxInfo            protocol.CtxInfo         `json:"ctx_info"`
			Duration           float64                  `json:"duration"`
			TotalDuration      *float64                 `json:"total_duration"`
			Error              string                   `json:"error"`
		}
		if err := json.Unmarshal(line, &chunk); err != nil {
			return fmt.Errorf("parse stream line: %w", err)
		}
		switch {
		case chunk.Error != "":
			return errors.New(chunk.Error)
		case chunk.TotalDuration != nil:
			fmt.Printf("Time taken for agent response: %gs\n\n", *chunk.TotalDuration)
		default:
			for _, m := range chunk.ServerMessageStack {
				renderMessage(m)
			}
			*info = chunk.CtxInfo
			fmt.Printf("Context info: %s\n", occupancy(chunk.CtxInfo))
			fmt.Printf("Time taken for agent step: %gs\n\n", chunk.Duration)
		}
	}
	return sc.Err()
}

func responseError(resp *http.Response) error {
	var apiErr protocol.ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Error != "" {
		return errors.New(apiErr.Error)
	}
	return fmt.Errorf("server returned %s", resp.Status)
}
