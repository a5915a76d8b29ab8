package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"botc/pkg/botc/bot"
	"botc/pkg/botc/cache"
	"botc/pkg/botc/config"
	"botc/pkg/botc/decision"
	"botc/pkg/botc/dispatch"
	"botc/pkg/botc/enrich"
	"botc/pkg/botc/grounding"
	"botc/pkg/botc/llm"
	"botc/pkg/botc/persona"
	"botc/pkg/botc/platform/discord"
	"botc/pkg/botc/speech"
)

// newServeCmd creates the `botc serve` command that runs the bot.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Connect to Discord and start responding",
		Long: `Start botc: connect to Discord, listen for messages, and respond
according to the configured feature gates.

Examples:
  botc serve
  botc serve --config ./botc.yaml --verbose`,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return err
	}

	verbose, _ := cmd.Root().PersistentFlags().GetBool("verbose")
	logLevel := slog.LevelInfo
	if verbose || cfg.Features.DebugLogging {
		logLevel = slog.LevelDebug
	}

	var handler slog.Handler
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	}
	logger := slog.New(handler)

	if err := config.Validate(cfg); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ── Platform ──
	dc := discord.New(discord.Config{
		Token:         cfg.Discord.Token,
		HistoryWindow: time.Duration(cfg.Discord.ChannelHistoryHours) * time.Hour,
		HistoryLimit:  cfg.Discord.ChannelHistoryMessages,
	}, logger)
	if err := dc.Connect(ctx); err != nil {
		return fmt.Errorf("connecting to Discord: %w", err)
	}
	defer dc.Close()

	// ── Provider ──
	provider := llm.New(llm.Config{
		BaseURL:             cfg.OpenAI.BaseURL,
		APIKey:              cfg.OpenAI.APIKey,
		Model:               cfg.OpenAI.Model,
		VisionModel:         cfg.OpenAI.VisionModel,
		TranscriptionModel:  cfg.OpenAI.TranscriptionModel,
		ImageModel:          cfg.OpenAI.ImageModel,
		DescribeImagePrompt: cfg.OpenAI.DescribeImagePrompt,
		Timeout:             cfg.OpenAI.Timeout(),
	}, logger)

	// ── Caches ──
	caching := cfg.OpenAI.Caching
	descriptions := cache.New("image_descriptions", time.Duration(caching.DescribeImageTTLHours)*time.Hour, caching.Logging, logger)
	transcriptions := cache.New("voice_transcriptions", time.Duration(caching.TranscriptTTLHours)*time.Hour, caching.Logging, logger)
	personas := cache.New("personas", time.Duration(caching.PersonaTTLHours)*time.Hour, caching.Logging, logger)
	defer descriptions.Stop()
	defer transcriptions.Stop()
	defer personas.Stop()

	// ── Pipeline ──
	enricher := enrich.New(descriptions, transcriptions, provider, provider, logger)
	synthesizer := persona.New(personas, enricher, provider, logger)
	decider := decision.New(provider, cfg.OpenAI.ReplyDecisionPrompt, cfg.Features.AutoRespond, logger)
	dispatcher := dispatch.New(dc, dispatch.Config{
		TypingInterval: time.Duration(cfg.Discord.TypingIntervalSeconds) * time.Second,
		MaxAttempts:    cfg.Discord.MaxSendRetries,
		RetryDelay:     time.Duration(cfg.Discord.SendRetryDelayMs) * time.Millisecond,
	}, logger)

	deps := bot.Deps{
		Platform:  dc,
		Incoming:  dc.Receive(),
		Enricher:  enricher,
		Decider:   decider,
		Personas:  synthesizer,
		Deliverer: dispatcher,
		Completer: provider,
		Images:    provider,
	}
	if cfg.Features.VoiceResponse {
		deps.Speaker = speech.New(speech.Config{
			APIKey:  cfg.ElevenLabs.APIKey,
			VoiceID: cfg.ElevenLabs.VoiceID,
			ModelID: cfg.ElevenLabs.ModelID,
		}, logger)
	}
	if cfg.Features.Grounding {
		deps.Grounder = grounding.New(grounding.Config{APIKey: cfg.Brave.APIKey}, logger)
	}

	b := bot.New(cfg, deps, logger)

	// ── Run until signaled ──
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan
		logger.Info("shutdown signal received, stopping...")
		cancel()
	}()

	if err := b.Run(ctx); err != nil && ctx.Err() == nil {
		return fmt.Errorf("running bot: %w", err)
	}
	logger.Info("shutdown complete")
	return nil
}

// resolveConfig loads config from the --config path, an auto-discovered
// botc.yaml, or defaults plus environment.
func resolveConfig(cmd *cobra.Command) (*config.Config, error) {
	configPath, _ := cmd.Root().PersistentFlags().GetString("config")
	if configPath != "" {
		cfg, err := config.LoadFromFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("loading config: %w", err)
		}
		return cfg, nil
	}

	for _, candidate := range []string{"botc.yaml", "botc.yml"} {
		if _, err := os.Stat(candidate); err == nil {
			cfg, err := config.LoadFromFile(candidate)
			if err != nil {
				return nil, fmt.Errorf("loading config from %s: %w", candidate, err)
			}
			return cfg, nil
		}
	}

	return config.Load(), nil
}
