// Package message defines the chat message model used across the
// orchestrator. A Message wraps the immutable identity fields delivered by
// the platform plus the enrichment fields (image descriptions, voice
// transcription) that the enrichment coordinator populates before the
// message is rendered into a prompt.
package message

import (
	"strings"
	"sync"
	"time"
)

// ImageContentTypes are the attachment content types accepted for image
// description, matching the Vision API's supported formats.
var ImageContentTypes = []string{
	"image/gif",
	"image/jpeg",
	"image/png",
	"image/webp",
}

// ImageAttachment is an image attached to a message.
type ImageAttachment struct {
	URL         string
	ContentType string
	Width       int
	Height      int
}

// VoiceAttachment is a voice clip attached to a message. Discord allows at
// most one per message.
type VoiceAttachment struct {
	URL         string
	ContentType string
	Duration    time.Duration
}

// Message is a chat message plus its enrichment state. Identity fields are
// set at construction and never change; enrichment fields are written by
// the enrichment coordinator and read during prompt assembly.
type Message struct {
	ID          string
	ChannelID   string
	GuildID     string // empty for direct messages
	AuthorID    string
	AuthorName  string
	DisplayName string
	Content     string
	Timestamp   time.Time

	// FromSelf is true when the bot itself authored the message.
	FromSelf bool
	// FromBot is true when any bot authored the message.
	FromBot bool
	// DirectMessage is true for DM-channel messages.
	DirectMessage bool
	// MentionsBot is true when the message @-mentions the bot.
	MentionsBot bool

	Images []ImageAttachment
	Voice  *VoiceAttachment

	// ReplyContext is the rendered context of the message this one replies
	// to, or empty when it is not a reply.
	ReplyContext string

	mu                sync.Mutex
	imageDescriptions []string
	transcription     string
}

// HasImages reports whether the message carries image attachments.
func (m *Message) HasImages() bool { return len(m.Images) > 0 }

// HasVoice reports whether the message carries a voice clip.
func (m *Message) HasVoice() bool { return m.Voice != nil }

// AddImageDescription appends a description to the message. Descriptions
// are append-only; enrichment runs at most once per message instance.
func (m *Message) AddImageDescription(description string) {
	m.mu.Lock()
	m.imageDescriptions = append(m.imageDescriptions, description)
	m.mu.Unlock()
}

// ImageDescriptions returns the descriptions appended so far.
func (m *Message) ImageDescriptions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.imageDescriptions...)
}

// SetTranscription records the voice clip transcription.
func (m *Message) SetTranscription(text string) {
	m.mu.Lock()
	m.transcription = text
	m.mu.Unlock()
}

// Transcription returns the voice transcription, or empty if none was set.
func (m *Message) Transcription() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transcription
}

// PromptRole returns the chat-completion role for this message.
func (m *Message) PromptRole() string {
	if m.FromSelf {
		return "assistant"
	}
	return "user"
}

// PromptName returns the author name sanitized to the character set the
// completion API accepts for the name field.
func (m *Message) PromptName() string {
	var b strings.Builder
	for _, r := range m.AuthorName {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		}
	}
	name := b.String()
	if name == "" {
		return "user"
	}
	if len(name) > 64 {
		name = name[:64]
	}
	return name
}

// PromptContent renders the message for the completion prompt: the raw
// content (or the transcription when a voice message has no text) followed
// by a metadata block with the sender's preferred name, timestamp, image
// descriptions, transcription, and reply context.
func (m *Message) PromptContent() string {
	m.mu.Lock()
	descriptions := append([]string(nil), m.imageDescriptions...)
	transcription := m.transcription
	m.mu.Unlock()

	content := m.Content
	if content == "" && transcription != "" {
		content = transcription
	}

	lines := []string{
		content,
		"<Message Metadata>",
		"Preferred name: " + m.preferredName(),
		"Message timestamp: " + m.Timestamp.Local().Format("1/2/2006, 3:04:05 PM"),
	}
	if len(descriptions) > 0 {
		lines = append(lines, "Image descriptions:\n"+strings.Join(descriptions, "\n---\n"))
	}
	if transcription != "" {
		lines = append(lines, "Voice message transcription:\n"+transcription)
	}
	if m.ReplyContext != "" {
		lines = append(lines, m.ReplyContext)
	}
	lines = append(lines, "</Message Metadata>")

	return strings.Join(lines, "\n")
}

func (m *Message) preferredName() string {
	if m.DisplayName != "" {
		return m.DisplayName
	}
	return m.AuthorName
}

// FormatReplyContext renders the reply-context block attached to messages
// that reply to another message.
func FormatReplyContext(author, timestamp, content string) string {
	return strings.Join([]string{
		"---",
		"Focus your response on this message that was replied to:",
		"- Message author: " + author,
		"- Message timestamp: " + timestamp,
		"- Message content: " + content,
		"---",
	}, "\n")
}

// DeletedReplyContext is used when the replied-to message no longer exists.
const DeletedReplyContext = "---\nThe message that was replied to was deleted.\n---"
