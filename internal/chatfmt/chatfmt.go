// Package chatfmt renders a chat message list into the Llama-3
// instruct prompt format the tokenizer encodes (§6 Chat template).
package chatfmt

import "strings"

// Message is one chat turn. Role is "system", "user", or "assistant".
type Message struct {
	Role    string
	Content string
}

// Render builds the full prompt for messages, ending with the
// assistant turn's opening header so the model continues directly
// into its reply (§6: "<|start_header_id|>{role}<|end_header_id|>
// \n\n{content}<|eot_id|>", repeated per message, followed by the
// assistant header with no closing tag").
func Render(messages []Message) string {
	var sb strings.Builder
	sb.WriteString("<|begin_of_text|>")
	for _, m := range messages {
		sb.WriteString("<|start_header_id|>")
		sb.WriteString(m.Role)
		sb.WriteString("<|end_header_id|>\n\n")
		sb.WriteString(strings.TrimSpace(m.Content))
		sb.WriteString("<|eot_id|>")
	}
	sb.WriteString("<|start_header_id|>assistant<|end_header_id|>\n\n")
	return sb.String()
}
