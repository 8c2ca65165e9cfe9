package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
)

func eventsCmd() *cobra.Command {
	var serverURL string
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Stream server events to stdout",
		Long: "events subscribes to a running server's websocket tap and prints every " +
			"broadcast event: conversation lifecycle and per-step results.",
		Run: func(cmd *cobra.Command, args []string) {
			runEvents(serverURL)
		},
	}
	cmd.Flags().StringVar(&serverURL, "server", "", "server base URL (default: from config)")
	return cmd
}

func runEvents(serverFlag string) {
	base := resolveServerURL(serverFlag)
	wsURL := strings.Replace(base, "http", "ws", 1) + "/ws"

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "WebSocket connect failed: %v\n", err)
		os.Exit(1)
	}
	defer conn.Close()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var ev struct {
				Name    string          `json:"name"`
				Payload json.RawMessage `json:"payload"`
			}
			if err := conn.ReadJSON(&ev); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure) {
					fmt.Fprintf(os.Stderr, "read: %v\n", err)
				}
				return
			}
			ts := time.Now().Format("15:04:05")
			if len(ev.Payload) > 0 {
				fmt.Printf("%s %-22s %s\n", ts, ev.Name, ev.Payload)
			} else {
				fmt.Printf("%s %s\n", ts, ev.Name)
			}
		}
	}()

	fmt.Fprintf(os.Stderr, "Connected to %s\n", wsURL)

	select {
	case <-done:
	case <-interrupt:
		// Clean close handshake, then give the reader a moment to drain.
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		select {
		case <-done:
		case <-time.After(time.Second):
		}
	}
}
