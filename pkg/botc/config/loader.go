package config

import (
	"fmt"
	"os"
	"regexp"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// envVarPattern matches ${VAR} and ${VAR:-default} references in config
// values.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-([^}]*))?\}`)

// Load returns the configuration without a config file: defaults overlaid
// with environment variables (a .env file is honored if present).
func Load() *Config {
	loadEnvFiles()
	cfg := DefaultConfig()
	resolveSecrets(cfg)
	return cfg
}

// LoadFromFile reads a YAML configuration file over the defaults. ${VAR}
// references are expanded before parsing, and secrets are resolved from the
// OS keyring and environment afterwards.
func LoadFromFile(path string) (*Config, error) {
	loadEnvFiles()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}
	resolveSecrets(cfg)
	return cfg, nil
}

// Parse parses YAML bytes over the defaults.
func Parse(data []byte) (*Config, error) {
	expanded := expandEnvVars(string(data))
	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}
	return cfg, nil
}

// loadEnvFiles loads .env from the working directory, silently ignoring a
// missing file.
func loadEnvFiles() {
	_ = godotenv.Load()
}

// expandEnvVars replaces ${VAR} and ${VAR:-default} references with their
// environment values.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if val, ok := os.LookupEnv(groups[1]); ok {
			return val
		}
		return groups[2]
	})
}

// resolveSecrets fills empty secret fields from the OS keyring, then from
// the conventional environment variables.
func resolveSecrets(cfg *Config) {
	resolve := func(target *string, keyringKey, envVar string) {
		if *target != "" {
			return
		}
		if val := GetKeyring(keyringKey); val != "" {
			*target = val
			return
		}
		*target = os.Getenv(envVar)
	}

	resolve(&cfg.Discord.Token, KeyDiscordToken, "DISCORD_BOT_TOKEN")
	resolve(&cfg.OpenAI.APIKey, KeyOpenAIAPIKey, "OPENAI_API_KEY")
	resolve(&cfg.ElevenLabs.APIKey, KeyElevenLabsAPIKey, "ELEVENLABS_API_KEY")
	resolve(&cfg.Brave.APIKey, KeyBraveAPIKey, "BRAVE_API_KEY")
}

// Validate checks that the configuration can run the bot at all.
func Validate(cfg *Config) error {
	if cfg.Discord.Token == "" {
		return fmt.Errorf("discord token is required (set DISCORD_BOT_TOKEN or run 'botc config set-key %s')", KeyDiscordToken)
	}
	if cfg.OpenAI.APIKey == "" {
		return fmt.Errorf("OpenAI API key is required (set OPENAI_API_KEY or run 'botc config set-key %s')", KeyOpenAIAPIKey)
	}
	if cfg.Features.VoiceResponse && cfg.ElevenLabs.APIKey == "" {
		return fmt.Errorf("voice responses are enabled but no ElevenLabs API key is configured")
	}
	if cfg.Features.Grounding && cfg.Brave.APIKey == "" {
		return fmt.Errorf("grounding is enabled but no Brave API key is configured")
	}
	return nil
}
