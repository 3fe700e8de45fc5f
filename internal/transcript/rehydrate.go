package transcript

import (
	"strings"

	"github.com/kestrelhq/kestrel/internal/llm"
	"github.com/kestrelhq/kestrel/pkg/protocol"
)

// maxRehydratedTurns bounds the conversation history seeded from an
// existing transcript.
const maxRehydratedTurns = 6

// Seed is the minimal context reconstructed from an existing transcript
// when a session is recreated on the same working directory.
type Seed struct {
	LastUser    string        // most recent user message
	LastPlan    string        // most recent controller "Proposed plan" message
	History     []llm.Message // up to six trailing user/assistant turns, forward order
	WelcomeSent bool          // true when the transcript already has events
}

// Rehydrate scans the transcript at path once and extracts the context
// seed. A missing file yields a zero Seed.
func Rehydrate(path string) (Seed, error) {
	events, err := ReadFile(path)
	if err != nil {
		return Seed{}, err
	}
	return seedFromEvents(events), nil
}

func seedFromEvents(events []Event) Seed {
	seed := Seed{WelcomeSent: len(events) > 0}

	var turns []llm.Message
	for _, ev := range events {
		content := ev.Content()
		switch {
		case ev.Type == protocol.EventUser || ev.Type == protocol.EventUserIntent:
			seed.LastUser = content
			turns = append(turns, llm.Message{Role: "user", Content: content})
		case ev.Type == protocol.EventAssistant:
			turns = append(turns, llm.Message{Role: "assistant", Content: content})
		case ev.Role == protocol.RoleController && strings.Contains(content, "Proposed plan"):
			seed.LastPlan = content
		case ev.Type == protocol.EventPlan && ev.Source == protocol.SourceManager:
			seed.LastPlan = content
		}
	}

	if len(turns) > maxRehydratedTurns {
		turns = turns[len(turns)-maxRehydratedTurns:]
	}
	seed.History = turns
	return seed
}
