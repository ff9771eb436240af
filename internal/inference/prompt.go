package inference

import "strings"

// ChatMessage is one turn of a chat request.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// BuildChatPrompt serializes messages into the model prompt. Every message
// becomes "[ROLE]\n<content>\n" with unknown roles treated as USER, and the
// trailing "[ASSISTANT]\n" marker invites the completion.
func BuildChatPrompt(messages []ChatMessage) string {
	var b strings.Builder
	for _, m := range messages {
		switch m.Role {
		case "system":
			b.WriteString("[SYSTEM]\n")
		case "assistant":
			b.WriteString("[ASSISTANT]\n")
		default:
			b.WriteString("[USER]\n")
		}
		b.WriteString(m.Content)
		b.WriteString("\n")
	}
	b.WriteString("[ASSISTANT]\n")
	return b.String()
}
