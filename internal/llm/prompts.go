// Package llm integrates the reasoning services used by chatmem: chat
// replies and memory-extraction decisions. It holds the provider clients
// (Ollama, OpenAI, Anthropic, and a deterministic stub), the fixed
// extraction prompt, and a tolerant decision parser.
package llm

import (
	"fmt"
	"strings"

	"github.com/scrypster/chatmem/pkg/types"
)

// NoExistingMemories is sent in place of the memory list when the store is empty.
const NoExistingMemories = "no existing memories"

// ExtractionSystemPrompt instructs the reasoning service to compare a user
// message with the known memories and answer with a JSON decision.
const ExtractionSystemPrompt = `You are a memory management system that extracts and organizes information about a user.

Your task is to analyze a user's message and determine if it contains any new information worth remembering.

Compare the new information with the existing memories and decide whether to:
1. Create new memory entries for completely new information
2. Update existing memories with related new information
3. Do nothing if no new information is present

Respond with ONLY a JSON object in the following format:
{
  "action": "create" | "update" | "none",
  "memories": [
    {
      "action": "create" | "update",
      "id": "existing-memory-id-if-updating",
      "content": "the memory content"
    }
  ]
}

Only extract meaningful personal information that would be useful to remember about the user.
Be selective and only create or update memories when there is significant information.
When updating, use the exact id of the existing memory.`

// FormatExistingMemories renders the memory snapshot sent with an
// extraction request.
func FormatExistingMemories(memories []types.Memory) string {
	if len(memories) == 0 {
		return NoExistingMemories
	}

	lines := make([]string, len(memories))
	for i, m := range memories {
		lines[i] = fmt.Sprintf("- %q, id: %s", m.Content, m.ID)
	}
	return strings.Join(lines, "\n")
}

// ExtractionUserPrompt builds the user prompt for one extraction request.
func ExtractionUserPrompt(message string, memories []types.Memory) string {
	return fmt.Sprintf(`User message: %q

Existing memories:
%s

Analyze the user message and determine what actions to take regarding memories.`, message, FormatExistingMemories(memories))
}
