package circuitbreaker

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Settings is the env-tunable subset of Config.
type Settings struct {
	MaxRequests      uint32
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold uint32
	SuccessThreshold uint32
}

// SettingsFromEnv reads CB_<KIND>_* variables, e.g. CB_REDIS_TIMEOUT=15s.
func SettingsFromEnv(kind string, def Settings) Settings {
	prefix := "CB_" + strings.ToUpper(kind) + "_"
	return Settings{
		MaxRequests:      envUint32(prefix+"MAX_REQUESTS", def.MaxRequests),
		Interval:         envDuration(prefix+"INTERVAL", def.Interval),
		Timeout:          envDuration(prefix+"TIMEOUT", def.Timeout),
		FailureThreshold: envUint32(prefix+"FAILURE_THRESHOLD", def.FailureThreshold),
		SuccessThreshold: envUint32(prefix+"SUCCESS_THRESHOLD", def.SuccessThreshold),
	}
}

// RedisSettings covers the checkpoint store connection.
func RedisSettings() Settings {
	return SettingsFromEnv("redis", Settings{
		MaxRequests:      5,
		Interval:         30 * time.Second,
		Timeout:          15 * time.Second,
		FailureThreshold: 3,
		SuccessThreshold: 2,
	})
}

// HTTPSettings covers outbound HTTP: retrieval backends and web search.
func HTTPSettings() Settings {
	return SettingsFromEnv("http", Settings{
		MaxRequests:      5,
		Interval:         30 * time.Second,
		Timeout:          15 * time.Second,
		FailureThreshold: 3,
		SuccessThreshold: 2,
	})
}

// LLMSettings is looser than HTTPSettings since generation calls are slow and rare.
func LLMSettings() Settings {
	return SettingsFromEnv("llm", Settings{
		MaxRequests:      2,
		Interval:         60 * time.Second,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 1,
	})
}

func (s Settings) ToConfig() Config {
	return Config{
		MaxRequests:      s.MaxRequests,
		Interval:         s.Interval,
		Timeout:          s.Timeout,
		FailureThreshold: s.FailureThreshold,
		SuccessThreshold: s.SuccessThreshold,
	}
}

func envUint32(key string, def uint32) uint32 {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseUint(val, 10, 32); err == nil {
			return uint32(parsed)
		}
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if parsed, err := time.ParseDuration(val); err == nil {
			return parsed
		}
	}
	return def
}
