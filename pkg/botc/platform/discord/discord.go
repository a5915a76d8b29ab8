// Package discord implements the chat-platform boundary on Discord using
// discordgo: gateway connection, message events, channel and guild history
// fetch, typing signals, and sends with attachments.
package discord

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"botc/pkg/botc/message"
	"botc/pkg/botc/platform"
)

// Config holds Discord connection settings.
type Config struct {
	// Token is the Discord bot token.
	Token string

	// HistoryWindow is the lookback window for history fetches.
	HistoryWindow time.Duration

	// HistoryLimit caps how many messages a single history fetch returns.
	HistoryLimit int
}

// Discord wraps a discordgo session.
type Discord struct {
	cfg     Config
	logger  *slog.Logger
	session *discordgo.Session

	// messages delivers incoming messages to the orchestrator.
	messages chan *message.Message
}

// New creates a Discord platform instance.
func New(cfg Config, logger *slog.Logger) *Discord {
	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = 24 * time.Hour
	}
	if cfg.HistoryLimit <= 0 || cfg.HistoryLimit > 100 {
		cfg.HistoryLimit = 50
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Discord{
		cfg:      cfg,
		logger:   logger.With("component", "discord"),
		messages: make(chan *message.Message, 256),
	}
}

// Connect opens the gateway connection and starts delivering message
// events on Receive.
func (d *Discord) Connect(ctx context.Context) error {
	if d.cfg.Token == "" {
		return fmt.Errorf("discord: bot token is required")
	}

	session, err := discordgo.New("Bot " + d.cfg.Token)
	if err != nil {
		return fmt.Errorf("discord: creating session: %w", err)
	}

	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMembers |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent

	session.AddHandler(d.onMessageCreate)

	if err := session.Open(); err != nil {
		return fmt.Errorf("discord: opening gateway: %w", err)
	}
	d.session = session

	user := session.State.User
	d.logger.Info("connected", "bot", user.Username, "id", user.ID, "guilds", len(session.State.Guilds))
	return nil
}

// Close shuts the gateway connection down.
func (d *Discord) Close() error {
	if d.session == nil {
		return nil
	}
	err := d.session.Close()
	d.logger.Info("disconnected")
	return err
}

// Receive returns the incoming message channel.
func (d *Discord) Receive() <-chan *message.Message {
	return d.messages
}

// ---------- platform.Platform ----------

// ChannelHistory fetches recent channel messages within the lookback
// window, oldest first.
func (d *Discord) ChannelHistory(ctx context.Context, channelID string) ([]*message.Message, error) {
	return d.channelHistory(ctx, channelID, "")
}

// GuildHistory fetches the messages a user authored across all text
// channels of a guild. Channels the bot cannot read are skipped.
func (d *Discord) GuildHistory(ctx context.Context, guildID, authorID string) ([]*message.Message, error) {
	if d.session == nil {
		return nil, platform.ErrNotConnected
	}

	channels, err := d.session.GuildChannels(guildID)
	if err != nil {
		return nil, fmt.Errorf("discord: fetching guild channels: %w", err)
	}

	var (
		mu  sync.Mutex
		all []*message.Message
		wg  sync.WaitGroup
	)
	for _, ch := range channels {
		if ch.Type != discordgo.ChannelTypeGuildText {
			continue
		}
		wg.Add(1)
		go func(channelID string) {
			defer wg.Done()
			history, err := d.channelHistory(ctx, channelID, authorID)
			if err != nil {
				d.logger.Warn("guild history channel skipped", "channel", channelID, "error", err)
				return
			}
			mu.Lock()
			all = append(all, history...)
			mu.Unlock()
		}(ch.ID)
	}
	wg.Wait()
	return all, nil
}

// AllGuildsHistory fetches recent messages across every guild the bot
// belongs to.
func (d *Discord) AllGuildsHistory(ctx context.Context) ([]*message.Message, error) {
	if d.session == nil {
		return nil, platform.ErrNotConnected
	}

	var all []*message.Message
	for _, guild := range d.session.State.Guilds {
		history, err := d.GuildHistory(ctx, guild.ID, "")
		if err != nil {
			d.logger.Warn("guild skipped during prefetch", "guild", guild.ID, "error", err)
			continue
		}
		all = append(all, history...)
	}
	return all, nil
}

// Send delivers a message with optional file attachments, splitting content
// over Discord's 2000 character limit.
func (d *Discord) Send(ctx context.Context, channelID string, out *platform.Outgoing) error {
	if d.session == nil {
		return platform.ErrNotConnected
	}

	files := make([]*discordgo.File, 0, len(out.Files))
	for _, f := range out.Files {
		files = append(files, &discordgo.File{
			Name:        f.Name,
			ContentType: f.ContentType,
			Reader:      bytes.NewReader(f.Data),
		})
	}

	chunks := splitMessage(out.Content, 2000)
	for i, chunk := range chunks {
		send := &discordgo.MessageSend{Content: chunk}
		// Attachments ride on the final chunk.
		if i == len(chunks)-1 {
			send.Files = files
		}
		if _, err := d.session.ChannelMessageSendComplex(channelID, send, discordgo.WithContext(ctx)); err != nil {
			return fmt.Errorf("discord: sending message: %w", err)
		}
	}
	return nil
}

// Typing signals the typing indicator once; Discord expires it after ten
// seconds.
func (d *Discord) Typing(ctx context.Context, channelID string) error {
	if d.session == nil {
		return platform.ErrNotConnected
	}
	return d.session.ChannelTyping(channelID, discordgo.WithContext(ctx))
}

// ---------- Event Handlers ----------

func (d *Discord) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	ch, err := d.channel(m.ChannelID)
	if err != nil {
		d.logger.Warn("dropping message for unknown channel", "channel", m.ChannelID, "error", err)
		return
	}

	msg := d.toMessage(m.Message, ch)

	select {
	case d.messages <- msg:
	default:
		d.logger.Warn("message buffer full, dropping message", "msg_id", msg.ID)
	}
}

// ---------- Conversion ----------

// channel resolves channel metadata, preferring the state cache.
func (d *Discord) channel(channelID string) (*discordgo.Channel, error) {
	if ch, err := d.session.State.Channel(channelID); err == nil {
		return ch, nil
	}
	return d.session.Channel(channelID)
}

// toMessage converts a discordgo message into the orchestrator's model.
func (d *Discord) toMessage(m *discordgo.Message, ch *discordgo.Channel) *message.Message {
	botID := d.session.State.User.ID
	isDM := ch.Type == discordgo.ChannelTypeDM || ch.Type == discordgo.ChannelTypeGroupDM

	mentionsBot := false
	for _, u := range m.Mentions {
		if u.ID == botID {
			mentionsBot = true
			break
		}
	}

	msg := &message.Message{
		ID:            m.ID,
		ChannelID:     m.ChannelID,
		GuildID:       ch.GuildID,
		AuthorID:      m.Author.ID,
		AuthorName:    m.Author.Username,
		DisplayName:   displayName(m),
		Content:       m.Content,
		Timestamp:     m.Timestamp,
		FromSelf:      m.Author.ID == botID,
		FromBot:       m.Author.Bot,
		DirectMessage: isDM,
		MentionsBot:   mentionsBot,
		ReplyContext:  d.replyContext(m),
	}

	for _, att := range m.Attachments {
		if isVoiceAttachment(att) {
			if msg.Voice == nil {
				msg.Voice = &message.VoiceAttachment{
					URL:         att.URL,
					ContentType: att.ContentType,
					Duration:    time.Duration(att.DurationSecs * float64(time.Second)),
				}
			}
			continue
		}
		if isImageAttachment(att) {
			msg.Images = append(msg.Images, message.ImageAttachment{
				URL:         att.URL,
				ContentType: att.ContentType,
				Width:       att.Width,
				Height:      att.Height,
			})
		}
	}

	return msg
}

// replyContext renders the reply-reference block for messages that reply
// to another message.
func (d *Discord) replyContext(m *discordgo.Message) string {
	if m.MessageReference == nil {
		return ""
	}

	ref := m.ReferencedMessage
	if ref == nil {
		var err error
		ref, err = d.session.ChannelMessage(m.MessageReference.ChannelID, m.MessageReference.MessageID)
		if err != nil {
			d.logger.Debug("reply referent unavailable", "msg_id", m.ID, "error", err)
			return message.DeletedReplyContext
		}
	}

	author := ref.Author.GlobalName
	if author == "" {
		author = ref.Author.Username
	}
	return message.FormatReplyContext(
		author,
		ref.Timestamp.Local().Format("1/2/2006, 3:04:05 PM"),
		ref.Content,
	)
}

// channelHistory fetches a channel's recent messages, optionally filtered
// to one author, oldest first.
func (d *Discord) channelHistory(ctx context.Context, channelID, authorID string) ([]*message.Message, error) {
	if d.session == nil {
		return nil, platform.ErrNotConnected
	}

	ch, err := d.channel(channelID)
	if err != nil {
		return nil, fmt.Errorf("discord: fetching channel: %w", err)
	}
	switch ch.Type {
	case discordgo.ChannelTypeGuildText, discordgo.ChannelTypeDM, discordgo.ChannelTypeGroupDM:
	default:
		return nil, platform.ErrNotTextChannel
	}

	raw, err := d.session.ChannelMessages(channelID, d.cfg.HistoryLimit, "", "", "", discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("discord: fetching channel history: %w", err)
	}

	cutoff := time.Now().Add(-d.cfg.HistoryWindow)
	var history []*message.Message
	// ChannelMessages returns newest first; walk backwards for oldest first.
	for i := len(raw) - 1; i >= 0; i-- {
		m := raw[i]
		if !includeInHistory(m, cutoff, authorID) {
			continue
		}
		history = append(history, d.toMessage(m, ch))
	}
	return history, nil
}

// includeInHistory reports whether a fetched message belongs in a history
// result: inside the lookback window and, when an author filter is set,
// authored by that user. Attachment-only messages are kept so enrichment
// sees them.
func includeInHistory(m *discordgo.Message, cutoff time.Time, authorID string) bool {
	if m.Timestamp.Before(cutoff) {
		return false
	}
	return authorID == "" || m.Author.ID == authorID
}

// ---------- Helpers ----------

func displayName(m *discordgo.Message) string {
	if m.Member != nil && m.Member.Nick != "" {
		return m.Member.Nick
	}
	if m.Author.GlobalName != "" {
		return m.Author.GlobalName
	}
	return m.Author.Username
}

func isImageAttachment(att *discordgo.MessageAttachment) bool {
	for _, ct := range message.ImageContentTypes {
		if att.ContentType == ct {
			return true
		}
	}
	return false
}

// isVoiceAttachment recognizes Discord voice messages: OGG audio carrying
// a waveform preview.
func isVoiceAttachment(att *discordgo.MessageAttachment) bool {
	return strings.HasPrefix(att.ContentType, "audio/ogg") && att.Waveform != ""
}

// splitMessage splits content into chunks under Discord's length limit,
// preferring newline boundaries.
func splitMessage(text string, maxLen int) []string {
	if len(text) <= maxLen {
		return []string{text}
	}
	var chunks []string
	for len(text) > maxLen {
		cutAt := maxLen
		if idx := strings.LastIndex(text[:maxLen], "\n"); idx > maxLen/2 {
			cutAt = idx + 1
		}
		chunks = append(chunks, text[:cutAt])
		text = text[cutAt:]
	}
	return append(chunks, text)
}

var _ platform.Platform = (*Discord)(nil)
