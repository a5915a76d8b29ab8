// Package config defines the botc configuration surface and its loading
// from YAML, environment variables, .env files, and the OS keyring.
package config

import (
	"time"

	"botc/pkg/botc/cache"
)

// Config holds all botc configuration.
type Config struct {
	// Discord configures the chat platform connection.
	Discord DiscordConfig `yaml:"discord"`

	// OpenAI configures the language-model provider.
	OpenAI OpenAIConfig `yaml:"openai"`

	// ElevenLabs configures speech synthesis for voice replies.
	ElevenLabs ElevenLabsConfig `yaml:"elevenlabs"`

	// Brave configures the grounded-answer provider.
	Brave BraveConfig `yaml:"brave"`

	// Features toggles optional behavior.
	Features FeatureGates `yaml:"features"`

	// Logging configures log output.
	Logging LoggingConfig `yaml:"logging"`

	// Prefetch configures periodic enrichment cache warming.
	Prefetch PrefetchConfig `yaml:"prefetch"`
}

// DiscordConfig holds platform settings.
type DiscordConfig struct {
	// Token is the Discord bot token.
	Token string `yaml:"token"`

	// ChannelHistoryHours is the lookback window for channel history.
	ChannelHistoryHours int `yaml:"channel_history_hours"`

	// ChannelHistoryMessages caps how many messages a history fetch returns.
	ChannelHistoryMessages int `yaml:"channel_history_messages"`

	// TypingIntervalSeconds is the typing keep-alive period. Discord's own
	// indicator times out after 10 seconds.
	TypingIntervalSeconds int `yaml:"typing_interval_seconds"`

	// MaxSendRetries bounds send attempts per dispatch.
	MaxSendRetries int `yaml:"max_send_retries"`

	// SendRetryDelayMs is the linear backoff unit between send attempts.
	SendRetryDelayMs int `yaml:"send_retry_delay_ms"`
}

// OpenAIConfig holds provider settings.
type OpenAIConfig struct {
	APIKey             string `yaml:"api_key"`
	BaseURL            string `yaml:"base_url"`
	Model              string `yaml:"model"`
	VisionModel        string `yaml:"vision_model"`
	TranscriptionModel string `yaml:"transcription_model"`
	ImageModel         string `yaml:"image_model"`
	TimeoutMs          int    `yaml:"timeout_ms"`

	SystemPrompt         string `yaml:"system_prompt"`
	ReplyDecisionPrompt  string `yaml:"reply_decision_prompt"`
	DescribeImagePrompt  string `yaml:"describe_image_prompt"`
	GroundDecisionPrompt string `yaml:"ground_decision_prompt"`
	ImageDecisionPrompt  string `yaml:"image_decision_prompt"`

	Caching CachingConfig `yaml:"caching"`
}

// CachingConfig holds per-cache TTLs and the shared observability toggles.
type CachingConfig struct {
	DescribeImageTTLHours int `yaml:"describe_image_ttl_hours"`
	PersonaTTLHours       int `yaml:"persona_ttl_hours"`
	TranscriptTTLHours    int `yaml:"transcript_ttl_hours"`

	Logging cache.Logging `yaml:"logging"`
}

// ElevenLabsConfig holds speech synthesis settings.
type ElevenLabsConfig struct {
	APIKey  string `yaml:"api_key"`
	VoiceID string `yaml:"voice_id"`
	ModelID string `yaml:"model_id"`
}

// BraveConfig holds grounding settings.
type BraveConfig struct {
	APIKey string `yaml:"api_key"`
}

// FeatureGates toggles optional behavior.
type FeatureGates struct {
	// AutoRespond enables the model-based reply decision for messages that
	// do not address the bot directly.
	AutoRespond bool `yaml:"auto_respond"`

	// VoiceResponse enables synthesized voice replies to voice messages.
	VoiceResponse bool `yaml:"voice_response"`

	// Grounding enables Brave grounded-answer augmentation.
	Grounding bool `yaml:"grounding"`

	// DebugLogging lowers the log level to debug.
	DebugLogging bool `yaml:"debug_logging"`
}

// LoggingConfig configures log output.
type LoggingConfig struct {
	// Format is "json" or "text".
	Format string `yaml:"format"`
}

// PrefetchConfig configures the periodic multimedia prefetch job.
type PrefetchConfig struct {
	// Enabled turns the startup + periodic cache warming on.
	Enabled bool `yaml:"enabled"`

	// Schedule is a cron expression for the periodic run.
	Schedule string `yaml:"schedule"`
}

// DefaultConfig returns the configuration defaults.
func DefaultConfig() *Config {
	return &Config{
		Discord: DiscordConfig{
			ChannelHistoryHours:    24,
			ChannelHistoryMessages: 50,
			TypingIntervalSeconds:  9,
			MaxSendRetries:         3,
			SendRetryDelayMs:       1000,
		},
		OpenAI: OpenAIConfig{
			Model:              "gpt-4o-mini",
			VisionModel:        "gpt-4o-mini",
			TranscriptionModel: "whisper-1",
			ImageModel:         "gpt-image-1",
			TimeoutMs:          15000,
			SystemPrompt: "You are `botc`: a simple, helpful, and friendly chatbot. You adhere to the " +
				"three laws of robotics. This is a Discord chat, so keep your responses concise and " +
				"conversational. Mimic the conversation style of those that you are interacting with. " +
				"Avoid using long, heavily formatted responses. Do not repeat back any metadata " +
				"enclosed in angle brackets.",
			ReplyDecisionPrompt: "This prompt is meant to only produce a \"yes\" or \"no\" response in back-end " +
				"code. DO NOT CONVERSE.\n\n" +
				"This is a multi-user chat conversation. Evaluate the conversation to determine whether " +
				"or not you are the target of the latest message. `conversationTarget` should equal the " +
				"user or person that the latest message is addressing, not the name of the sender. " +
				"Your name is \"botc\". You should not reply every time a user sends a message.\n\n" +
				"You should reply if:\n" +
				"  1. You (\"botc\") are the conversation target,\n" +
				"  2. You are engaged as a participant in a conversation already, or \n" +
				"  3. If you have a unique perspective to add to the conversation.\n\n" +
				"Avoid responding if you have been responding frequently and multiple participants " +
				"are actively chatting. Avoid stringing conversations on for too long with a lot of " +
				"follow-up questions. If you have nothing to add, you should not reply.\n\n" +
				"Are you going to respond to this message?\n" +
				"Respond in JSON format: `{ \"respondToUser\": \"[yes|no]\", \"reason\": \"[justification]\", " +
				"\"conversationTarget\": \"[conversationTarget]\", \"botcIsAddressed\": \"true|false\" }`.\n" +
				"AGAIN, DO NOT CONVERSE. DO NOT USE MARKDOWN FORMATTING.",
			DescribeImagePrompt: "Describe this image in reasonable detail. Do not use line breaks. If the " +
				"image is unclear, do your best. You are not being asked to identify individuals.",
			GroundDecisionPrompt: "This prompt is meant to only produce structured output in back-end code. " +
				"DO NOT CONVERSE.\n\n" +
				"Examine this conversation and decide whether answering the latest message well requires " +
				"up-to-date information from the internet (news, weather, sports scores, prices, recent " +
				"events). Conversations that are social or about stable knowledge do not need grounding.\n\n" +
				"Respond in JSON format: `{ \"willGround\": true|false, \"reason\": \"[justification]\" }`.\n" +
				"DO NOT USE MARKDOWN FORMATTING.",
			ImageDecisionPrompt: "This prompt is meant to only produce a \"yes\" or \"no\" response in back-end " +
				"code. DO NOT CONVERSE.\n\n" +
				"Examine the latest message in this conversation and decide whether the sender is asking " +
				"you to generate, draw, create, or edit an image. Messages that merely discuss or " +
				"describe images do not count.\n\n" +
				"Is the sender asking for an image? Respond with only \"yes\" or \"no\".",
			Caching: CachingConfig{
				DescribeImageTTLHours: 24,
				PersonaTTLHours:       24,
				TranscriptTTLHours:    24,
			},
		},
		ElevenLabs: ElevenLabsConfig{
			ModelID: "eleven_multilingual_v2",
		},
		Features: FeatureGates{
			AutoRespond: true,
		},
		Logging: LoggingConfig{
			Format: "text",
		},
		Prefetch: PrefetchConfig{
			Enabled:  true,
			Schedule: "@every 6h",
		},
	}
}

// Timeout returns the provider request timeout as a duration.
func (c OpenAIConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMs) * time.Millisecond
}
