package memory

import (
	"strings"

	"github.com/llmosd/llmosd/internal/tokens"
)

// SplitText breaks text into chunks of at most maxTokens, preferring
// paragraph and sentence boundaries before hard rune cuts. Order is
// preserved and no content is dropped.
func SplitText(codec *tokens.Codec, text string, maxTokens int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if codec.CountText(text) <= maxTokens {
		return []string{text}
	}

	var chunks []string
	var current strings.Builder

	flush := func() {
		if current.Len() > 0 {
			chunks = append(chunks, current.String())
			current.Reset()
		}
	}

	for _, part := range splitOversize(codec, text, maxTokens) {
		joined := part
		if current.Len() > 0 {
			joined = current.String() + "\n\n" + part
		}
		if codec.CountText(joined) <= maxTokens {
			current.Reset()
			current.WriteString(joined)
			continue
		}
		flush()
		current.WriteString(part)
	}
	flush()
	return chunks
}

// splitOversize yields pieces that each fit maxTokens, descending from
// paragraphs to sentences to hard cuts.
func splitOversize(codec *tokens.Codec, text string, maxTokens int) []string {
	var out []string
	for _, para := range strings.Split(text, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		if codec.CountText(para) <= maxTokens {
			out = append(out, para)
			continue
		}
		for _, sent := range splitSentences(para) {
			if codec.CountText(sent) <= maxTokens {
				out = append(out, sent)
				continue
			}
			out = append(out, hardCut(sent, maxTokens)...)
		}
	}
	return out
}

func splitSentences(text string) []string {
	var out []string
	start := 0
	runes := []rune(text)
	for i, r := range runes {
		if r == '.' || r == '!' || r == '?' {
			if i+1 == len(runes) || runes[i+1] == ' ' || runes[i+1] == '\n' {
				out = append(out, strings.TrimSpace(string(runes[start:i+1])))
				start = i + 1
			}
		}
	}
	if start < len(runes) {
		if tail := strings.TrimSpace(string(runes[start:])); tail != "" {
			out = append(out, tail)
		}
	}
	return out
}

// hardCut slices by rune count. The token estimator counts runes/3, so
// maxTokens*3 runes is the largest safe piece.
func hardCut(text string, maxTokens int) []string {
	maxRunes := maxTokens * 3
	if maxRunes < 1 {
		maxRunes = 1
	}
	runes := []rune(text)
	var out []string
	for len(runes) > maxRunes {
		out = append(out, string(runes[:maxRunes]))
		runes = runes[maxRunes:]
	}
	if len(runes) > 0 {
		out = append(out, string(runes))
	}
	return out
}
