// Package platform defines the chat-platform boundary consumed by the
// orchestrator. Implementations (see the discord subpackage) wrap the
// platform connection and expose history fetch, send, and typing signals;
// all decision logic lives above this boundary.
package platform

import (
	"context"
	"fmt"

	"botc/pkg/botc/message"
)

// File is a generated attachment to send alongside a message.
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

// Outgoing is a response ready for dispatch to a channel.
type Outgoing struct {
	Content string
	Files   []File
}

// Platform is the chat-platform collaborator interface.
type Platform interface {
	// ChannelHistory returns the recent messages of a channel within the
	// configured lookback window, oldest first.
	ChannelHistory(ctx context.Context, channelID string) ([]*message.Message, error)

	// GuildHistory returns the recent messages a user authored across all
	// text channels of a guild.
	GuildHistory(ctx context.Context, guildID, authorID string) ([]*message.Message, error)

	// AllGuildsHistory returns recent messages across every guild the bot
	// belongs to. Used to warm enrichment caches.
	AllGuildsHistory(ctx context.Context) ([]*message.Message, error)

	// Send delivers a message (and any attachments) to a channel.
	Send(ctx context.Context, channelID string, out *Outgoing) error

	// Typing signals the platform's typing indicator once. The indicator
	// times out on its own; callers re-signal to keep it alive.
	Typing(ctx context.Context, channelID string) error
}

// Errors.
var (
	ErrNotConnected   = fmt.Errorf("platform is not connected")
	ErrNotTextChannel = fmt.Errorf("channel is not a text channel")
)
