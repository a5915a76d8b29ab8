package commands

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"botc/pkg/botc/config"
)

// newConfigCmd creates the `botc config` command for managing secrets.
func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration and secrets",
		Long: `Manage botc secrets in the OS keyring. Secrets stored there are
picked up automatically at startup and never need to live in the config
file or environment.

Known keys: ` + strings.Join(config.KnownKeys, ", ") + `

Examples:
  botc config set-key discord_token
  botc config get-key openai_api_key
  botc config delete-key brave_api_key`,
	}

	cmd.AddCommand(
		newConfigSetKeyCmd(),
		newConfigGetKeyCmd(),
		newConfigDeleteKeyCmd(),
	)

	return cmd
}

func newConfigSetKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set-key <name>",
		Short: "Store a secret in the OS keyring",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			name := args[0]
			if !knownKey(name) {
				return fmt.Errorf("unknown key %q (known: %s)", name, strings.Join(config.KnownKeys, ", "))
			}

			fmt.Printf("Enter value for %s: ", name)
			value, err := term.ReadPassword(int(os.Stdin.Fd()))
			fmt.Println()
			if err != nil {
				return fmt.Errorf("reading secret: %w", err)
			}
			if len(value) == 0 {
				return fmt.Errorf("empty value, nothing stored")
			}

			if err := config.StoreKeyring(name, string(value)); err != nil {
				return fmt.Errorf("storing %s: %w", name, err)
			}
			fmt.Printf("Stored %s in the OS keyring.\n", name)
			return nil
		},
	}
}

func newConfigGetKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get-key <name>",
		Short: "Check whether a secret is stored",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			name := args[0]
			if !knownKey(name) {
				return fmt.Errorf("unknown key %q (known: %s)", name, strings.Join(config.KnownKeys, ", "))
			}

			if val := config.GetKeyring(name); val != "" {
				fmt.Printf("%s is set (%d characters).\n", name, len(val))
			} else {
				fmt.Printf("%s is not set.\n", name)
			}
			return nil
		},
	}
}

func newConfigDeleteKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete-key <name>",
		Short: "Remove a secret from the OS keyring",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			name := args[0]
			if !knownKey(name) {
				return fmt.Errorf("unknown key %q (known: %s)", name, strings.Join(config.KnownKeys, ", "))
			}

			if err := config.DeleteKeyring(name); err != nil {
				return fmt.Errorf("deleting %s: %w", name, err)
			}
			fmt.Printf("Deleted %s from the OS keyring.\n", name)
			return nil
		},
	}
}

func knownKey(name string) bool {
	for _, k := range config.KnownKeys {
		if k == name {
			return true
		}
	}
	return false
}
