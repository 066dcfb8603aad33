package engine

import (
	"context"
	"log"
	"strings"
	"unicode/utf8"

	"github.com/scrypster/chatmem/pkg/types"
)

// ContextHeader opens the rendered memory context.
const ContextHeader = "### What I Know About You\n"

// RenderContext renders memories as a prompt block: the header followed by
// one "- <content>" line per memory, in the given order. Lines are added
// until the next one would push the block past maxChars runes; maxChars <= 0
// means unbounded. Returns "" when there is nothing to render.
//
// Rendering never fails a chat turn: a panic is recovered and yields "".
func RenderContext(memories []types.Memory, maxChars int) (out string) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("WARNING: Memory context rendering failed: %v", r)
			out = ""
		}
	}()

	if len(memories) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString(ContextHeader)
	size := utf8.RuneCountInString(ContextHeader)

	lines := 0
	for _, m := range memories {
		line := "- " + m.Content + "\n"
		n := utf8.RuneCountInString(line)
		if maxChars > 0 && size+n > maxChars {
			break
		}
		b.WriteString(line)
		size += n
		lines++
	}

	if lines == 0 {
		return ""
	}
	return b.String()
}

// RenderContext renders the memories of scope with the configured limit.
// Read failures degrade to "".
func (e *Engine) RenderContext(ctx context.Context, scope string) string {
	ws, ok := e.workspaces.lookup(scope)
	if !ok {
		return ""
	}
	memories, err := ws.memories.List(ctx)
	if err != nil {
		log.Printf("WARNING: Failed to read memories for context of scope %s: %v", scope, err)
		return ""
	}
	return RenderContext(memories, e.config.ContextMaxChars)
}

// buildSystemPrompt joins the base system prompt and the memory context
// with a blank line.
func (e *Engine) buildSystemPrompt(ctx context.Context, scope string) string {
	prompt := e.SystemPrompt()
	memoryContext := e.RenderContext(ctx, scope)
	if memoryContext == "" {
		return prompt
	}
	return prompt + "\n\n" + memoryContext
}
