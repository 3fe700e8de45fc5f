// Package summarizer produces voice-safe three-sentence recaps of a
// turn's accumulated output. The shape is fixed: the first sentence
// begins with "I did", the second contains "I learned", and the third
// begins with "Next" and ends with a question mark. LLM output that
// misses the shape is rewritten deterministically; a failed LLM call
// falls back to a recap built from the raw text itself.
package summarizer

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/kestrelhq/kestrel/internal/llm"
)

const systemPrompt = `You summarize a coding assistant's work for text-to-speech playback.
Respond with exactly three short sentences:
1. Start with "I did" and state what was accomplished, keeping any exact phrases the user asked for.
2. Contain "I learned" and state one thing discovered along the way.
3. Start with "Next" and ask a single follow-up question ending with a question mark.
No markdown, no code, no lists.`

// callTimeout bounds the recap LLM call so end-of-turn latency stays
// speech-friendly.
const callTimeout = 30 * time.Second

var reFence = regexp.MustCompile("(?s)```.*?```")

// Summarizer wraps an LLM provider with shape enforcement.
type Summarizer struct {
	client llm.Provider
	model  string
}

// New builds a summarizer. model empty uses the provider default.
func New(client llm.Provider, model string) *Summarizer {
	return &Summarizer{client: client, model: model}
}

// Summarize produces the recap for one turn's raw text. The result
// always satisfies the three-sentence contract, whether it came from
// the LLM or the deterministic fallback.
func (s *Summarizer) Summarize(ctx context.Context, text string) string {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	resp, err := s.client.Chat(ctx, llm.ChatRequest{
		Model: s.model,
		Messages: []llm.Message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: text},
		},
	})
	if err != nil {
		slog.Warn("summarizer LLM call failed, using fallback", "error", err)
		return Fallback(text)
	}
	out := strings.TrimSpace(resp.Content)
	if out == "" {
		return Fallback(text)
	}
	return Normalize(out)
}

// Normalize rewrites text into the three-sentence recap shape. Input
// sentences are reused wherever possible so phrases the user asked for
// survive the rewrite.
func Normalize(text string) string {
	sentences := splitSentences(text)

	var didIdx, learnedIdx, nextIdx = -1, -1, -1
	for i, sent := range sentences {
		switch {
		case didIdx < 0 && strings.HasPrefix(sent, "I did"):
			didIdx = i
		case learnedIdx < 0 && strings.Contains(sent, "I learned"):
			learnedIdx = i
		case nextIdx < 0 && strings.HasPrefix(sent, "Next"):
			nextIdx = i
		}
	}

	did := pick(sentences, didIdx, 0)
	if !strings.HasPrefix(did, "I did") {
		if did == "" {
			did = "I did complete the requested work."
		} else {
			did = "I did the following: " + strings.TrimSuffix(did, ".") + "."
		}
	}

	learned := pick(sentences, learnedIdx, 1)
	if !strings.Contains(learned, "I learned") {
		if learned == "" || learned == did {
			learned = "I learned nothing unexpected along the way."
		} else {
			learned = "I learned that " + lowerFirst(strings.TrimSuffix(learned, ".")) + "."
		}
	}

	next := pick(sentences, nextIdx, -1)
	if !strings.HasPrefix(next, "Next") {
		next = "Next, shall I continue?"
	}
	next = strings.TrimRight(next, ".!")
	if !strings.HasSuffix(next, "?") {
		next += "?"
	}

	return did + " " + learned + " " + next
}

// Fallback builds a recap without an LLM, from the code-block count and
// the first twelve non-code words of the input.
func Fallback(text string) string {
	codeBlocks := len(reFence.FindAllString(text, -1))
	prose := strings.TrimSpace(reFence.ReplaceAllString(text, " "))

	words := strings.Fields(prose)
	if len(words) > 12 {
		words = words[:12]
	}
	gist := strings.Join(words, " ")

	var did string
	if gist == "" {
		did = "I did complete the requested work."
	} else {
		did = "I did work on: " + strings.TrimSuffix(gist, ".") + "."
	}

	var learned string
	switch codeBlocks {
	case 0:
		learned = "I learned the change needed no code samples."
	case 1:
		learned = "I learned the change came down to one code block."
	default:
		learned = fmt.Sprintf("I learned the change spanned %d code blocks.", codeBlocks)
	}

	return did + " " + learned + " Next, should I continue?"
}

// splitSentences breaks text on sentence-ending punctuation, keeping
// the punctuation attached.
func splitSentences(text string) []string {
	text = strings.Join(strings.Fields(text), " ")
	var out []string
	start := 0
	for i := 0; i < len(text); i++ {
		switch text[i] {
		case '.', '!', '?':
			sent := strings.TrimSpace(text[start : i+1])
			if sent != "" {
				out = append(out, sent)
			}
			start = i + 1
		}
	}
	if rest := strings.TrimSpace(text[start:]); rest != "" {
		out = append(out, rest+".")
	}
	return out
}

// pick returns sentences[idx] when idx is valid, else the sentence at
// fallback position (-1 means last), else "".
func pick(sentences []string, idx, fallback int) string {
	if idx >= 0 && idx < len(sentences) {
		return sentences[idx]
	}
	if len(sentences) == 0 {
		return ""
	}
	if fallback < 0 {
		return sentences[len(sentences)-1]
	}
	if fallback < len(sentences) {
		return sentences[fallback]
	}
	return ""
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}
