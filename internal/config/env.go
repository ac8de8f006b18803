package config

import (
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix is prepended to every mail environment variable.
const EnvPrefix = "QUOTEDESK"

// MailEnv holds mail endpoints and credentials. They never live in config.json.
// Fetching and sending use separate accounts.
type MailEnv struct {
	IMAPHost string `envconfig:"IMAP_HOST"`
	IMAPPort int    `envconfig:"IMAP_PORT" default:"993"`
	SMTPHost string `envconfig:"SMTP_HOST"`
	SMTPPort int    `envconfig:"SMTP_PORT" default:"465"`

	SMTPDialTimeout    time.Duration `envconfig:"SMTP_DIAL_TIMEOUT" default:"30s"`
	SMTPCommandTimeout time.Duration `envconfig:"SMTP_COMMAND_TIMEOUT" default:"1m"`

	FetchUser string `envconfig:"FETCH_USER"`
	FetchPass string `envconfig:"FETCH_PASS"`
	SendUser  string `envconfig:"SEND_USER"`
	SendPass  string `envconfig:"SEND_PASS"`

	// RedisURL enables the cross-process run lock when set
	RedisURL string `envconfig:"REDIS_URL"`
}

// LoadMailEnv reads QUOTEDESK_* variables, first loading .env files if present.
// Variables already set in the environment win over file values, and earlier files
// win over later ones.
func LoadMailEnv(files ...string) (*MailEnv, error) {
	if len(files) == 0 {
		_ = godotenv.Load()
	}
	for _, f := range files {
		_ = godotenv.Load(f)
	}

	var env MailEnv
	if err := envconfig.Process(EnvPrefix, &env); err != nil {
		return nil, err
	}
	return &env, nil
}

// CanFetch reports whether IMAP fetching is configured.
func (e *MailEnv) CanFetch() bool {
	return e.IMAPHost != "" && e.FetchUser != ""
}

// CanSend reports whether SMTP sending is configured.
func (e *MailEnv) CanSend() bool {
	return e.SMTPHost != "" && e.SendUser != ""
}
