package config

import (
	"fmt"
	"os"

	"github.com/nextlevelbuilder/qqrelay/internal/crypto"
)

// SecretKeyEnv names the env var holding the key for sealed ("aes-gcm:") config values.
const SecretKeyEnv = "QQRELAY_SECRET_KEY"

func (c *Config) secretFields() map[string]*string {
	return map[string]*string{
		"bot.client_secret":        &c.Bot.ClientSecret,
		"server.token":             &c.Server.Token,
		"host.onebot.access_token": &c.Host.OneBot.AccessToken,
		"store.postgres_dsn":       &c.Store.PostgresDSN,
		"store.redis_password":     &c.Store.RedisPassword,
	}
}

// openSecrets replaces sealed values with their plaintext.
func (c *Config) openSecrets() error {
	var box *crypto.Box
	for name, p := range c.secretFields() {
		if !crypto.IsSealed(*p) {
			continue
		}
		if box == nil {
			key := os.Getenv(SecretKeyEnv)
			if key == "" {
				return fmt.Errorf("%s is sealed but %s is not set", name, SecretKeyEnv)
			}
			b, err := crypto.NewBox(key)
			if err != nil {
				return fmt.Errorf("%s: %w", SecretKeyEnv, err)
			}
			box = b
		}
		plain, err := box.Open(*p)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		*p = plain
	}
	return nil
}

// SealSecrets returns a copy of c with every secret sealed under key, for saving.
func (c *Config) SealSecrets(key string) (*Config, error) {
	box, err := crypto.NewBox(key)
	if err != nil {
		return nil, err
	}
	out := *c
	for name, p := range out.secretFields() {
		sealed, err := box.Seal(*p)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		*p = sealed
	}
	return &out, nil
}
