package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// ApplyEnv overrides fields from environment variables. Variables that are
// unset or blank leave the current value untouched.
//
// Recognized variables:
//
//	GEMINI_API_KEY, LLM_API_KEY    provider credential (first non-empty wins)
//	LLM_PROVIDER, LLM_MODEL        provider and model
//	LLM_ENDPOINT                   provider base URL
//	LLM_TIMEOUT_SECONDS            completion timeout
//	PORT                           listen port
//	SESSION_TIMEOUT_MINUTES        session idle timeout
//	SESSION_DRIVER, REDIS_ADDR     session store selection
//	CATALOG_PATH                   product catalog file
//	CORS_ALLOWED_ORIGINS           comma separated origin list
//	LOG_LEVEL                      debug, info, warn, error
//	REPLY_MODE                     json or text
func (c *Config) ApplyEnv(lookup LookupFunc) error {
	get := func(key string) (string, bool) {
		v, ok := lookup(key)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}

	for _, key := range []string{"GEMINI_API_KEY", "LLM_API_KEY"} {
		if v, ok := get(key); ok {
			c.LLM.APIKey = v
			break
		}
	}
	if v, ok := get("LLM_PROVIDER"); ok {
		c.LLM.Provider = strings.ToLower(v)
	}
	if v, ok := get("LLM_MODEL"); ok {
		c.LLM.Model = v
	}
	if v, ok := get("LLM_ENDPOINT"); ok {
		c.LLM.Endpoint = v
	}
	if v, ok := get("LLM_TIMEOUT_SECONDS"); ok {
		n, err := parsePositiveInt("LLM_TIMEOUT_SECONDS", v)
		if err != nil {
			return err
		}
		c.LLM.Timeout = time.Duration(n) * time.Second
	}
	if v, ok := get("PORT"); ok {
		n, err := parsePositiveInt("PORT", v)
		if err != nil {
			return err
		}
		c.Server.Port = n
	}
	if v, ok := get("SESSION_TIMEOUT_MINUTES"); ok {
		n, err := parsePositiveInt("SESSION_TIMEOUT_MINUTES", v)
		if err != nil {
			return err
		}
		c.Session.Timeout = time.Duration(n) * time.Minute
	}
	if v, ok := get("SESSION_DRIVER"); ok {
		c.Session.Driver = strings.ToLower(v)
	}
	if v, ok := get("REDIS_ADDR"); ok {
		c.Session.Redis.Address = v
	}
	if v, ok := get("CATALOG_PATH"); ok {
		c.Catalog.Path = v
	}
	if v, ok := get("CORS_ALLOWED_ORIGINS"); ok {
		c.Server.CORSAllowedOrigins = splitList(v)
	}
	if v, ok := get("LOG_LEVEL"); ok {
		c.Logging.Level = strings.ToLower(v)
	}
	if v, ok := get("REPLY_MODE"); ok {
		c.Reply.Mode = strings.ToLower(v)
	}

	return nil
}

func parsePositiveInt(key, v string) (int, error) {
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %d", key, n)
	}
	return n, nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
