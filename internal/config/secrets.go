package config

// RedactedConfig returns a copy of cfg with secrets replaced by "***", for
// logging the active configuration.
func RedactedConfig(cfg *Config) Config {
	out := *cfg

	out.Participants = make([]ParticipantConfig, len(cfg.Participants))
	for i, p := range cfg.Participants {
		redact(&p.PrivateKey)
		redact(&p.KeyPassword)
		p.Accept.FixtureIDs = append([]uint64(nil), p.Accept.FixtureIDs...)
		out.Participants[i] = p
	}

	redact(&out.Supabase.DSN)
	redact(&out.Supabase.Password)
	redact(&out.Redis.Password)
	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)
	redact(&out.Server.APIKey)
	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)

	// Copy slices so callers cannot mutate the original through the copy.
	out.Notify.Events = append([]string(nil), cfg.Notify.Events...)
	out.Server.CORSOrigins = append([]string(nil), cfg.Server.CORSOrigins...)
	out.Stream.ScoresFixtures = append([]uint64(nil), cfg.Stream.ScoresFixtures...)

	return out
}

const redacted = "***"

// redact replaces a non-empty string with the redacted placeholder.
func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}
