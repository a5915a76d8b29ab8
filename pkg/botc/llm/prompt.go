package llm

import "botc/pkg/botc/message"

// Payload renders a message history into a chat-completion payload with the
// given system instruction prepended. Each history entry carries its
// rendered prompt content, the sanitized author name, and a role of
// "assistant" for the bot's own messages or "user" otherwise.
func Payload(system string, history []*message.Message) []Message {
	payload := make([]Message, 0, len(history)+1)
	payload = append(payload, Message{Role: "system", Content: system})
	for _, m := range history {
		payload = append(payload, Message{
			Role:    m.PromptRole(),
			Content: m.PromptContent(),
			Name:    m.PromptName(),
		})
	}
	return payload
}
