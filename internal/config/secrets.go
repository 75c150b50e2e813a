package config

import "maps"

// RedactedConfig returns a copy of cfg with sensitive fields replaced by
// "***". Slices and maps are copied so the result can be logged or mutated
// without touching cfg.
func RedactedConfig(cfg *Config) Config {
	out := *cfg

	redact(&out.Wallet.PrivateKey)
	redact(&out.Wallet.KeyPassword)

	redact(&out.Signer.RelayAPIKey)
	redact(&out.Signer.RelayAPISecret)

	redact(&out.Postgres.DSN)
	redact(&out.Postgres.Password)
	redact(&out.Redis.Password)
	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)

	redact(&out.Server.APIKey)
	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)

	if cfg.Venues != nil {
		out.Venues = make([]VenueConfig, len(cfg.Venues))
		for i, v := range cfg.Venues {
			redact(&v.APIKey)
			v.Instruments = append([]string(nil), v.Instruments...)
			v.Symbols = maps.Clone(v.Symbols)
			v.Quotes = maps.Clone(v.Quotes)
			out.Venues[i] = v
		}
	}

	out.Market.Instruments = append([]string(nil), cfg.Market.Instruments...)
	out.Notify.Events = append([]string(nil), cfg.Notify.Events...)
	out.Server.CORSOrigins = append([]string(nil), cfg.Server.CORSOrigins...)

	return out
}

const redacted = "***"

// redact replaces a non-empty string with the redacted placeholder.
func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}
