package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "legalqa.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestDefaultsWhenFileMissing(t *testing.T) {
	l, err := NewLoader(filepath.Join(t.TempDir(), "absent.yaml"), true)
	require.NoError(t, err)

	cfg := l.Config()
	assert.Equal(t, "memory", cfg.Checkpoint.Backend)
	assert.Equal(t, 2, cfg.Workflow.MaxGenerations)
	assert.Equal(t, 0.8, cfg.Workflow.QueryRelevance)
	assert.Equal(t, 0.7, cfg.Workflow.StripThreshold)
	assert.Equal(t, 5, cfg.Retrieval.TopK)
	assert.Equal(t, "labor_law", cfg.Retrieval.Collections["labor"])
	assert.Equal(t, 30*time.Minute, cfg.Review.Timeout)
}

func TestMissingExplicitFileFails(t *testing.T) {
	_, err := NewLoader(filepath.Join(t.TempDir(), "absent.yaml"), false)
	assert.Error(t, err)
}

func TestFileAndEnvOverrides(t *testing.T) {
	p := writeFile(t, `
checkpoint:
  backend: redis
  ttl: 2h
workflow:
  max_parallel_agents: 2
`)
	t.Setenv("REDIS_ADDR", "cache:6380")
	t.Setenv("LEGALQA_LLM_PROVIDER", "anthropic")

	l, err := NewLoader(p, false)
	require.NoError(t, err)
	cfg := l.Config()
	assert.Equal(t, "redis", cfg.Checkpoint.Backend)
	assert.Equal(t, 2*time.Hour, cfg.Checkpoint.TTL)
	assert.Equal(t, "cache:6380", cfg.Checkpoint.Redis.Addr)
	assert.Equal(t, 2, cfg.Workflow.MaxParallelAgents)
	assert.Equal(t, "anthropic", cfg.LLM.Provider)
}

func TestValidateRejectsUnknownBackend(t *testing.T) {
	p := writeFile(t, "checkpoint:\n  backend: etcd\n")
	_, err := NewLoader(p, false)
	assert.ErrorContains(t, err, "checkpoint backend")
}

func TestValidateBoundsMaxGenerations(t *testing.T) {
	for _, n := range []string{"0", "3"} {
		p := writeFile(t, "workflow:\n  max_generations: "+n+"\n")
		_, err := NewLoader(p, false)
		assert.ErrorContains(t, err, "max_generations", n)
	}
	p := writeFile(t, "workflow:\n  max_generations: 1\n")
	l, err := NewLoader(p, false)
	require.NoError(t, err)
	assert.Equal(t, 1, l.Config().Workflow.MaxGenerations)
}

func TestReloadKeepsLastGoodConfig(t *testing.T) {
	p := writeFile(t, "workflow:\n  max_parallel_agents: 3\n")
	l, err := NewLoader(p, false)
	require.NoError(t, err)

	var seen []*Config
	l.OnChange(func(c *Config) { seen = append(seen, c) })

	require.NoError(t, os.WriteFile(p, []byte("workflow:\n  max_parallel_agents: 0\n"), 0o644))
	require.NoError(t, l.v.ReadInConfig())
	l.reload(zaptest.NewLogger(t), p, "WRITE")
	assert.Equal(t, 3, l.Config().Workflow.MaxParallelAgents)
	assert.Empty(t, seen)

	require.NoError(t, os.WriteFile(p, []byte("workflow:\n  max_parallel_agents: 1\n"), 0o644))
	require.NoError(t, l.v.ReadInConfig())
	l.reload(zaptest.NewLogger(t), p, "WRITE")
	assert.Equal(t, 1, l.Config().Workflow.MaxParallelAgents)
	assert.Len(t, seen, 1)
}
