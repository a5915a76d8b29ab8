// Secret storage in the OS keyring (Linux: Secret Service, macOS: Keychain,
// Windows: Credential Manager). Secrets resolve keyring → environment →
// config file, so tokens never need to live on disk in plaintext.
package config

import "github.com/zalando/go-keyring"

// keyringService is the service name used in the OS keyring.
const keyringService = "botc"

// Keyring key names for the secrets botc uses.
const (
	KeyDiscordToken     = "discord_token"
	KeyOpenAIAPIKey     = "openai_api_key"
	KeyElevenLabsAPIKey = "elevenlabs_api_key"
	KeyBraveAPIKey      = "brave_api_key"
)

// KnownKeys lists the keyring key names accepted by the config commands.
var KnownKeys = []string{KeyDiscordToken, KeyOpenAIAPIKey, KeyElevenLabsAPIKey, KeyBraveAPIKey}

// StoreKeyring saves a secret to the OS keyring.
func StoreKeyring(key, value string) error {
	return keyring.Set(keyringService, key, value)
}

// GetKeyring retrieves a secret from the OS keyring. Returns empty string
// if not found or the keyring is unavailable.
func GetKeyring(key string) string {
	val, err := keyring.Get(keyringService, key)
	if err != nil {
		return ""
	}
	return val
}

// DeleteKeyring removes a secret from the OS keyring.
func DeleteKeyring(key string) error {
	return keyring.Delete(keyringService, key)
}
