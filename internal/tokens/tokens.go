// Package tokens maps model identifiers to token counters and context
// window sizes. Counting renders the model's own chat template so that
// budgets line up with what the host sees, including family quirks like
// mistral folding a leading system message into the next user turn.
package tokens

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/llmosd/llmosd/internal/host"
)

// Codec counts tokens for one model family.
type Codec struct {
	Family    string
	CtxWindow int
	render    func(msgs []host.Message) string
}

// CountText returns a rough token estimate for a string.
func CountText(s string) int {
	return utf8.RuneCountInString(s) / 3
}

func (c *Codec) CountText(s string) int {
	return CountText(s)
}

// CountMessages estimates the prompt size of a message sequence after
// applying the family chat template.
func (c *Codec) CountMessages(msgs []host.Message) int {
	return CountText(c.render(msgs))
}

type family struct {
	prefix    string
	ctxWindow int
	render    func(msgs []host.Message) string
}

var chatFamilies = []family{
	{"llama3", 8192, renderLlama3},
	{"mistral", 8192, renderMistral},
	{"openchat", 8192, renderOpenchat},
	{"phi3", 4096, renderPhi3},
}

var embedFamilies = []family{
	{"nomic-embed-text", 8192, renderPlain},
}

// ForModel resolves a chat model identifier (e.g. "llama3.1:8b") to its
// codec by longest matching family prefix.
func ForModel(model string) (*Codec, error) {
	return resolve(model, chatFamilies)
}

// ForEmbedding resolves an embedding model identifier to its codec.
func ForEmbedding(model string) (*Codec, error) {
	return resolve(model, embedFamilies)
}

func resolve(model string, families []family) (*Codec, error) {
	var best *family
	for i := range families {
		f := &families[i]
		if strings.HasPrefix(model, f.prefix) {
			if best == nil || len(f.prefix) > len(best.prefix) {
				best = f
			}
		}
	}
	if best == nil {
		return nil, fmt.Errorf("%s is not a supported model.", model)
	}
	return &Codec{Family: best.prefix, CtxWindow: best.ctxWindow, render: best.render}, nil
}

func renderLlama3(msgs []host.Message) string {
	var b strings.Builder
	b.WriteString("<|begin_of_text|>")
	for _, m := range msgs {
		b.WriteString("<|start_header_id|>")
		b.WriteString(m.Role)
		b.WriteString("<|end_header_id|>\n\n")
		b.WriteString(m.Content)
		b.WriteString("<|eot_id|>")
	}
	b.WriteString("<|start_header_id|>assistant<|end_header_id|>\n\n")
	return b.String()
}

// renderMistral folds a leading system message into the next user
// message; the mistral template has no system role.
func renderMistral(msgs []host.Message) string {
	folded := make([]host.Message, 0, len(msgs))
	var pendingSystem string
	for _, m := range msgs {
		if m.Role == "system" && len(folded) == 0 && pendingSystem == "" {
			pendingSystem = m.Content
			continue
		}
		if pendingSystem != "" && m.Role == "user" {
			m = host.Message{Role: "user", Content: pendingSystem + "\n\n" + m.Content}
			pendingSystem = ""
		}
		folded = append(folded, m)
	}
	if pendingSystem != "" {
		folded = append(folded, host.Message{Role: "user", Content: pendingSystem})
	}

	var b strings.Builder
	b.WriteString("<s>")
	for _, m := range folded {
		if m.Role == "assistant" {
			b.WriteString(" ")
			b.WriteString(m.Content)
			b.WriteString("</s>")
		} else {
			b.WriteString("[INST] ")
			b.WriteString(m.Content)
			b.WriteString(" [/INST]")
		}
	}
	return b.String()
}

func renderOpenchat(msgs []host.Message) string {
	var b strings.Builder
	for _, m := range msgs {
		switch m.Role {
		case "assistant":
			b.WriteString("GPT4 Correct Assistant: ")
		case "system":
		default:
			b.WriteString("GPT4 Correct User: ")
		}
		b.WriteString(m.Content)
		b.WriteString("<|end_of_turn|>")
	}
	b.WriteString("GPT4 Correct Assistant:")
	return b.String()
}

func renderPhi3(msgs []host.Message) string {
	var b strings.Builder
	for _, m := range msgs {
		b.WriteString("<|")
		b.WriteString(m.Role)
		b.WriteString("|>\n")
		b.WriteString(m.Content)
		b.WriteString("<|end|>\n")
	}
	b.WriteString("<|assistant|>\n")
	return b.String()
}

func renderPlain(msgs []host.Message) string {
	var b strings.Builder
	for _, m := range msgs {
		b.WriteString(m.Content)
		b.WriteString("\n")
	}
	return b.String()
}
