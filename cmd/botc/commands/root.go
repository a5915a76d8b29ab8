// Package commands implements the botc CLI commands using cobra.
package commands

import (
	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command with all subcommands registered.
func NewRootCmd(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "botc",
		Short: "botc - a conversational Discord bot",
		Long: `botc is a conversational Discord bot backed by an OpenAI-compatible
language model. It decides when to join a conversation, describes images,
transcribes voice messages, and can reply with generated images and
synthesized speech.

Examples:
  botc serve
  botc serve --config ./botc.yaml
  botc config set-key discord_token`,
		Version: version,
	}

	rootCmd.AddCommand(
		newServeCmd(),
		newConfigCmd(),
	)

	rootCmd.PersistentFlags().StringP("config", "c", "", "path to the configuration file")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable debug logging")

	return rootCmd
}
