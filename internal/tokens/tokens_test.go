package tokens

import (
	"strings"
	"testing"

	"github.com/llmosd/llmosd/internal/host"
)

func TestForModel(t *testing.T) {
	tests := []struct {
		model     string
		family    string
		ctxWindow int
	}{
		{"llama3.1:8b", "llama3", 8192},
		{"llama3:latest", "llama3", 8192},
		{"mistral:7b-instruct", "mistral", 8192},
		{"openchat:7b", "openchat", 8192},
		{"phi3:3.8b", "phi3", 4096},
	}
	for _, tt := range tests {
		c, err := ForModel(tt.model)
		if err != nil {
			t.Errorf("ForModel(%q): %v", tt.model, err)
			continue
		}
		if c.Family != tt.family || c.CtxWindow != tt.ctxWindow {
			t.Errorf("ForModel(%q) = (%s, %d), want (%s, %d)",
				tt.model, c.Family, c.CtxWindow, tt.family, tt.ctxWindow)
		}
	}
}

func TestForModelUnsupported(t *testing.T) {
	_, err := ForModel("gpt-4o")
	if err == nil {
		t.Fatal("expected error")
	}
	if got := err.Error(); got != "gpt-4o is not a supported model." {
		t.Errorf("error = %q", got)
	}
}

func TestForEmbedding(t *testing.T) {
	c, err := ForEmbedding("nomic-embed-text:latest")
	if err != nil {
		t.Fatalf("ForEmbedding: %v", err)
	}
	if c.CtxWindow != 8192 {
		t.Errorf("CtxWindow = %d", c.CtxWindow)
	}
	if _, err := ForEmbedding("all-minilm"); err == nil {
		t.Error("expected error for unsupported embedding model")
	}
}

func TestCountText(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"", 0},
		{"abcdef", 2},
		{strings.Repeat("x", 300), 100},
	}
	for _, tt := range tests {
		if got := CountText(tt.in); got != tt.want {
			t.Errorf("CountText(%q len %d) = %d, want %d", tt.in[:min(len(tt.in), 10)], len(tt.in), got, tt.want)
		}
	}
}

func TestCountMessagesIncludesTemplateOverhead(t *testing.T) {
	c, _ := ForModel("llama3")
	msgs := []host.Message{{Role: "user", Content: "hello"}}
	if got, content := c.CountMessages(msgs), CountText("hello"); got <= content {
		t.Errorf("CountMessages = %d, want > bare content count %d", got, content)
	}
}

func TestMistralFoldsLeadingSystem(t *testing.T) {
	c, _ := ForModel("mistral")
	withSystem := []host.Message{
		{Role: "system", Content: "sys prompt"},
		{Role: "user", Content: "hi"},
		{Role: "assistant", Content: "hello"},
	}
	merged := []host.Message{
		{Role: "user", Content: "sys prompt\n\nhi"},
		{Role: "assistant", Content: "hello"},
	}
	if a, b := c.CountMessages(withSystem), c.CountMessages(merged); a != b {
		t.Errorf("folded count = %d, merged count = %d", a, b)
	}
}

func TestMistralSystemOnlyPrompt(t *testing.T) {
	c, _ := ForModel("mistral")
	msgs := []host.Message{{Role: "system", Content: "only system"}}
	if got := c.CountMessages(msgs); got <= 0 {
		t.Errorf("CountMessages = %d, want > 0", got)
	}
}
