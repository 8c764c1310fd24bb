package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/adrg/xdg"
	"github.com/pelletier/go-toml/v2"
)

const appConfigDir = "mailbox"

// Google holds the OAuth client used for Gmail API and Calendar
// access. ClientID and ClientSecret come from a Google Cloud project;
// they are only required for the oauth login method.
type Google struct {
	ClientID     string `toml:"client_id"`
	ClientSecret string `toml:"client_secret"`
	CallbackPort int    `toml:"callback_port"`
}

// MailServer describes one provider's IMAP and SMTP endpoints.
type MailServer struct {
	IMAPHost string `toml:"imap_host"`
	IMAPPort int    `toml:"imap_port"`
	SMTPHost string `toml:"smtp_host"`
	SMTPPort int    `toml:"smtp_port"`
	// SMTPImplicitTLS selects TLS-on-connect instead of STARTTLS.
	SMTPImplicitTLS bool `toml:"smtp_implicit_tls"`
}

// IMAPAddr returns the host:port dial address for IMAP.
func (s MailServer) IMAPAddr() string {
	return fmt.Sprintf("%s:%d", s.IMAPHost, s.IMAPPort)
}

// SMTPAddr returns the host:port dial address for SMTP.
func (s MailServer) SMTPAddr() string {
	return fmt.Sprintf("%s:%d", s.SMTPHost, s.SMTPPort)
}

// Security holds encryption settings. EncryptionKey, when set,
// overrides the OS keyring; it is the base64 form printed at first
// run.
type Security struct {
	EncryptionKey string `toml:"encryption_key"`
}

// Sync holds cache freshness and volume settings.
type Sync struct {
	EmailMaxAgeMinutes    int `toml:"email_max_age_minutes"`
	CalendarMaxAgeMinutes int `toml:"calendar_max_age_minutes"`
	EmailLimit            int `toml:"email_limit"`
	CalendarDaysAhead     int `toml:"calendar_days_ahead"`
	EventRetentionDays    int `toml:"event_retention_days"`
}

// Database holds local cache storage settings.
type Database struct {
	Path string `toml:"path"`
}

// Config is the full application configuration.
type Config struct {
	Database Database   `toml:"database"`
	Google   Google     `toml:"google"`
	Gmail    MailServer `toml:"gmail"`
	Zoho     MailServer `toml:"zoho"`
	Security Security   `toml:"security"`
	Sync     Sync       `toml:"sync"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Google: Google{
			CallbackPort: 8080,
		},
		Gmail: MailServer{
			IMAPHost: "imap.gmail.com",
			IMAPPort: 993,
			SMTPHost: "smtp.gmail.com",
			SMTPPort: 587,
		},
		Zoho: MailServer{
			IMAPHost:        "imap.zoho.com",
			IMAPPort:        993,
			SMTPHost:        "smtp.zoho.com",
			SMTPPort:        465,
			SMTPImplicitTLS: true,
		},
		Sync: Sync{
			EmailMaxAgeMinutes:    5,
			CalendarMaxAgeMinutes: 15,
			EmailLimit:            50,
			CalendarDaysAhead:     30,
			EventRetentionDays:    90,
		},
	}
}

// Path returns the path to the config file.
func Path() (string, error) {
	return xdg.ConfigFile(filepath.Join(appConfigDir, "config.toml"))
}

// DatabasePath resolves the cache database location, honoring an
// explicit override from the config file.
func (c *Config) DatabasePath() (string, error) {
	if c.Database.Path != "" {
		return c.Database.Path, nil
	}
	return xdg.DataFile(filepath.Join(appConfigDir, "mailbox.db"))
}

// Load reads the config file from disk, filling in defaults for any
// missing values. A missing file yields the default config.
func Load() (*Config, error) {
	path, err := Path()
	if err != nil {
		return nil, err
	}

	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the config to disk.
func Save(cfg *Config) error {
	path, err := Path()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// 0600: the file may hold the encryption key and OAuth client secret.
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyDefaults fills zero values left by a partial config file.
func (c *Config) applyDefaults() {
	def := Default()
	if c.Google.CallbackPort == 0 {
		c.Google.CallbackPort = def.Google.CallbackPort
	}
	fillServer(&c.Gmail, def.Gmail)
	fillServer(&c.Zoho, def.Zoho)
	if c.Sync.EmailMaxAgeMinutes == 0 {
		c.Sync.EmailMaxAgeMinutes = def.Sync.EmailMaxAgeMinutes
	}
	if c.Sync.CalendarMaxAgeMinutes == 0 {
		c.Sync.CalendarMaxAgeMinutes = def.Sync.CalendarMaxAgeMinutes
	}
	if c.Sync.EmailLimit == 0 {
		c.Sync.EmailLimit = def.Sync.EmailLimit
	}
	if c.Sync.CalendarDaysAhead == 0 {
		c.Sync.CalendarDaysAhead = def.Sync.CalendarDaysAhead
	}
	if c.Sync.EventRetentionDays == 0 {
		c.Sync.EventRetentionDays = def.Sync.EventRetentionDays
	}
}

func fillServer(s *MailServer, def MailServer) {
	if s.IMAPHost == "" {
		s.IMAPHost = def.IMAPHost
	}
	if s.IMAPPort == 0 {
		s.IMAPPort = def.IMAPPort
	}
	if s.SMTPHost == "" {
		s.SMTPHost = def.SMTPHost
	}
	if s.SMTPPort == 0 {
		s.SMTPPort = def.SMTPPort
		s.SMTPImplicitTLS = def.SMTPImplicitTLS
	}
}

// Validate rejects configs that cannot possibly work.
func (c *Config) Validate() error {
	if err := validatePort("google.callback_port", c.Google.CallbackPort); err != nil {
		return err
	}
	for name, s := range map[string]MailServer{"gmail": c.Gmail, "zoho": c.Zoho} {
		if s.IMAPHost == "" {
			return fmt.Errorf("config: %s.imap_host must not be empty", name)
		}
		if s.SMTPHost == "" {
			return fmt.Errorf("config: %s.smtp_host must not be empty", name)
		}
		if err := validatePort(name+".imap_port", s.IMAPPort); err != nil {
			return err
		}
		if err := validatePort(name+".smtp_port", s.SMTPPort); err != nil {
			return err
		}
	}
	if c.Sync.EmailLimit < 0 || c.Sync.CalendarDaysAhead < 0 || c.Sync.EventRetentionDays < 0 {
		return fmt.Errorf("config: sync limits must not be negative")
	}
	return nil
}

// OAuthConfigured reports whether a Google OAuth client is present.
func (c *Config) OAuthConfigured() bool {
	return c.Google.ClientID != "" && c.Google.ClientSecret != ""
}

func validatePort(name string, port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("config: %s %d out of range", name, port)
	}
	return nil
}
