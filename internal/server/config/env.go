package config

// Environment variables read by parseEnv. Secrets are never taken from files
// or flags.
const (
	EnvDatabaseDSN   = "DATABASE_DSN"
	EnvEncryptionKey = "ENCRYPTION_KEY"
	EnvSessionSecret = "SESSION_SECRET"
)

func parseEnv(config *Config, lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvDatabaseDSN); ok && v != "" {
		config.DatabaseDSN = v
	}
	if v, ok := lookup(EnvEncryptionKey); ok {
		config.EncryptionKey = v
	}
	if v, ok := lookup(EnvSessionSecret); ok {
		config.SessionSecret = v
	}
}
