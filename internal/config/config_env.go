package config

import (
	"os"
	"strings"
)

func mergeEnvVars(cfg *Config) {
	if v := os.Getenv("HOST"); v != "" {
		cfg.Host = v
	}
	if v := os.Getenv("PORT"); v != "" {
		if port, err := parsePort(v); err == nil {
			cfg.Port = port
		}
	}
	if v := os.Getenv("NEXUS_KEY"); v != "" {
		cfg.NexusKey = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("PROXY"); v != "" {
		cfg.Proxy = v
	}
	if v := os.Getenv("ENABLE_MULTIPLEXING"); v != "" {
		cfg.EnableMultiplexing = parseBool(v)
	}
	if v := os.Getenv("REFRESH_CONCURRENCY"); v != "" {
		if n, err := parseInt(v); err == nil {
			cfg.RefreshConcurrency = n
		}
	}
	if v := os.Getenv("MODEL_LIST"); v != "" {
		cfg.ModelList = splitList(v)
	}
	if v := os.Getenv("CRED_PATH"); v != "" {
		cfg.CredPath = v
	}
	if v := os.Getenv("LOAD_CRED"); v != "" {
		cfg.LoadCred = parseBool(v)
	}
	if v := os.Getenv("WATCH_CRED"); v != "" {
		cfg.WatchCred = parseBool(v)
	}
	if v := os.Getenv("LOGLEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}
	if v := os.Getenv("LOG_FILE"); v != "" {
		cfg.LogFile = v
	}
	if v := os.Getenv("OAUTH_CLIENT_ID"); v != "" {
		cfg.OAuthClientID = v
	}
	if v := os.Getenv("OAUTH_CLIENT_SECRET"); v != "" {
		cfg.OAuthClientSecret = v
	}
	if v := os.Getenv("OAUTH_REDIRECT_URL"); v != "" {
		cfg.OAuthRedirectURL = v
	}
	if v := os.Getenv("CODE_ASSIST_ENDPOINT"); v != "" {
		cfg.CodeAssistEndpoint = v
	}
	if v := os.Getenv("MANAGEMENT_KEY"); v != "" {
		cfg.ManagementKey = v
	}
	if v := os.Getenv("METRICS_ENABLED"); v != "" {
		cfg.MetricsEnabled = parseBool(v)
	}
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
