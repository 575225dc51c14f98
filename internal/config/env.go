package config

import (
	"errors"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"Poly_Maker/internal/logger"
)

// LoadEnv loads environment variables from the given .env files (default
// ".env"). Variables already set in the process environment win. A missing
// file is not an error.
func LoadEnv(paths ...string) bool {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	log := logger.For("config")
	err := godotenv.Load(paths...)
	switch {
	case err == nil:
		log.Info(".env loaded", "files", strings.Join(paths, ","))
		return true
	case errors.Is(err, fs.ErrNotExist):
		log.Debug(".env not found", "files", strings.Join(paths, ","))
	default:
		log.Warn(".env failed to load", "err", err)
	}
	return false
}

func envFirst(keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(os.Getenv(k)); v != "" {
			return v
		}
	}
	return ""
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// overrideWithEnv lets the environment take precedence over the file for
// secrets and a few deployment switches.
func overrideWithEnv(c *Config) {
	if c.Exchange.APISecret != "" || c.Exchange.Passphrase != "" {
		logger.For("config").Warn("API secrets found in config file; prefer POLY_API_SECRET / POLY_PASSPHRASE")
	}

	if v := envFirst("POLY_API_KEY"); v != "" {
		c.Exchange.APIKey = v
	}
	if v := envFirst("POLY_API_SECRET"); v != "" {
		c.Exchange.APISecret = v
	}
	if v := envFirst("POLY_PASSPHRASE"); v != "" {
		c.Exchange.Passphrase = v
	}
	if v := envFirst("POLY_ADDRESS", "BROWSER_ADDRESS"); v != "" {
		c.Exchange.Address = v
	}
	if v := envFirst("POLY_SIGNER_URL"); v != "" {
		c.Exchange.SignerURL = v
	}
	if v := envFirst("TELEGRAM_BOT_TOKEN"); v != "" {
		c.Notify.TelegramToken = v
	}
	if v := envFirst("TELEGRAM_CHAT_ID"); v != "" {
		c.Notify.TelegramChatID = v
	}
	if v := envFirst("POLY_MARKETS"); v != "" {
		c.Markets = splitList(v)
	}
	if v := envFirst("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = splitList(v)
	}
	if v := envFirst("DRY_RUN"); v != "" {
		c.Exchange.DryRun = strings.EqualFold(v, "true") || v == "1"
	}
	if v := envFirst("LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}
