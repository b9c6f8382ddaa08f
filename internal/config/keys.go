package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

type keyType int

const (
	kString keyType = iota
	kInt
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "PAGELIFT_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.mcp_port", typ: kInt, env: "PAGELIFT_SERVER_MCP_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.MCPPort = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.MCPPort },
	},
	{
		key: "auth.tokens", typ: kString, env: "PAGELIFT_AUTH_TOKENS",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Auth.Tokens = parseTokenList(v.(string)) },
		extract: func(cfg Config) any { return fmt.Sprintf("%d configured", len(cfg.Auth.Tokens)) },
	},
	{
		key: "llm.base_url", typ: kString, env: "PAGELIFT_LLM_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.LLM.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.BaseURL },
	},
	{
		key: "llm.model", typ: kString, env: "PAGELIFT_LLM_MODEL",
		apply:   func(cfg *Config, v any) { cfg.LLM.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.Model },
	},
	{
		key: "llm.api_key", typ: kString, env: "PAGELIFT_LLM_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.LLM.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.APIKey },
	},
	{
		key: "storage.data_dir", typ: kString, env: "PAGELIFT_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "fetch.timeout", typ: kString, env: "PAGELIFT_FETCH_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Fetch.Timeout = v.(string) },
		extract: func(cfg Config) any { return cfg.Fetch.Timeout },
	},
	{
		key: "fetch.user_agent", typ: kString, env: "PAGELIFT_FETCH_USER_AGENT",
		apply:   func(cfg *Config, v any) { cfg.Fetch.UserAgent = v.(string) },
		extract: func(cfg Config) any { return cfg.Fetch.UserAgent },
	},
	{
		key: "audit.workers", typ: kInt, env: "PAGELIFT_AUDIT_WORKERS",
		apply:   func(cfg *Config, v any) { cfg.Audit.Workers = v.(int) },
		extract: func(cfg Config) any { return cfg.Audit.Workers },
	},
	{
		key: "audit.poll_interval", typ: kString, env: "PAGELIFT_AUDIT_POLL_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Audit.PollInterval = v.(string) },
		extract: func(cfg Config) any { return cfg.Audit.PollInterval },
	},
	{
		key: "audit.max_attempts", typ: kInt, env: "PAGELIFT_AUDIT_MAX_ATTEMPTS",
		apply:   func(cfg *Config, v any) { cfg.Audit.MaxAttempts = v.(int) },
		extract: func(cfg Config) any { return cfg.Audit.MaxAttempts },
	},
	{
		key: "cache.ttl", typ: kString, env: "PAGELIFT_CACHE_TTL",
		apply:   func(cfg *Config, v any) { cfg.Cache.TTL = v.(string) },
		extract: func(cfg Config) any { return cfg.Cache.TTL },
	},
	{
		key: "cache.max_entries", typ: kInt, env: "PAGELIFT_CACHE_MAX_ENTRIES",
		apply:   func(cfg *Config, v any) { cfg.Cache.MaxEntries = v.(int) },
		extract: func(cfg Config) any { return cfg.Cache.MaxEntries },
	},
	{
		key: "log.level", typ: kString, env: "PAGELIFT_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}

// parseTokenList parses "user:token,user:token" pairs from an env override.
// Malformed pairs are skipped with a warning.
func parseTokenList(raw string) []TokenEntry {
	var entries []TokenEntry
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		user, token, ok := strings.Cut(pair, ":")
		if !ok || user == "" || token == "" {
			fmt.Fprintf(os.Stderr, "[WARN] ignoring malformed token entry %q (want user:token)\n", pair)
			continue
		}
		entries = append(entries, TokenEntry{User: user, Token: token})
	}
	return entries
}
