package app

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/nostrmail/nostrmail/pkg/keys"
	"github.com/nostrmail/nostrmail/pkg/mail"
	"github.com/nostrmail/nostrmail/pkg/relay"
)

// Config is the on-disk configuration, one JSON file per profile under
// the user config dir (config.json, or config-<name>.json for named
// profiles).
type Config struct {
	PrivateKey string                  `json:"privatekey"`
	Relays     map[string]*relay.Perms `json:"relays"`
	SMTP       *mail.SMTPConfig        `json:"smtp,omitempty"`
	// EmailAddress is our address on the mail side of the bridge.
	EmailAddress string `json:"email_address,omitempty"`
	// DataDir overrides where the durable store lives. Empty means a
	// "store" directory next to the config file.
	DataDir string `json:"data_dir,omitempty"`

	path string
}

// DefaultRelays seed a fresh config so first run works without editing.
var DefaultRelays = []string{
	"wss://relay.damus.io",
	"wss://nos.lol",
	"wss://relay.nostr.band",
}

func configDir() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "nostrmail"), nil
}

func configPath(profile string) (string, error) {
	dir, err := configDir()
	if err != nil {
		return "", err
	}
	name := "config.json"
	if profile != "" {
		name = fmt.Sprintf("config-%s.json", profile)
	}
	return filepath.Join(dir, name), nil
}

// LoadConfig reads the config for the named profile, creating a fresh
// one with a new keypair and the default relay set when none exists.
func LoadConfig(profile string) (*Config, error) {
	p, err := configPath(profile)
	if err != nil {
		return nil, err
	}
	b, err := os.ReadFile(p)
	if os.IsNotExist(err) {
		cfg := freshConfig()
		cfg.path = p
		if err = cfg.Save(); err != nil {
			return nil, err
		}
		return cfg, nil
	}
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err = json.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", p, err)
	}
	cfg.path = p
	if len(cfg.Relays) == 0 {
		cfg.Relays = defaultRelayMap()
	}
	return &cfg, nil
}

func freshConfig() *Config {
	return &Config{
		PrivateKey: keys.Generate(),
		Relays:     defaultRelayMap(),
	}
}

func defaultRelayMap() map[string]*relay.Perms {
	m := map[string]*relay.Perms{}
	for _, u := range DefaultRelays {
		m[u] = &relay.Perms{Read: true, Write: true, Enabled: true}
	}
	return m
}

// Save writes the config back, 0600 because it holds the private key.
func (cfg *Config) Save() error {
	if cfg.path == "" {
		return fmt.Errorf("config has no path")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.path), 0700); err != nil {
		return err
	}
	b, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(cfg.path, b, 0600)
}

// StoreDir returns where the durable store lives for this config.
func (cfg *Config) StoreDir() string {
	if cfg.DataDir != "" {
		return cfg.DataDir
	}
	return filepath.Join(filepath.Dir(cfg.path), "store")
}

// NewRelayClient builds the relay client from the configured set.
func (cfg *Config) NewRelayClient() *relay.Client {
	c := relay.New()
	c.SetRelays(cfg.Relays)
	return c
}
