package temporal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestZapAdapterFields(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	l := NewZapAdapter(zap.New(core))

	l.Info("signal received", "WorkflowID", "wf-1", "decision", "approved", "dangling")
	l.Warn("odd value", "fn", func() {}, "nil", nil)

	entries := logs.All()
	if assert.Len(t, entries, 2) {
		ctx := entries[0].ContextMap()
		assert.Equal(t, "wf-1", ctx["WorkflowID"])
		assert.Equal(t, "approved", ctx["decision"])
		assert.NotContains(t, ctx, "dangling")

		ctx = entries[1].ContextMap()
		assert.Equal(t, "<func()>", ctx["fn"])
		assert.Equal(t, "<nil>", ctx["nil"])
	}
}

func TestZapAdapterWith(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	l := NewZapAdapter(zap.New(core)).(*ZapAdapter)
	l.With("thread", "t-1").Info("hello")
	assert.Equal(t, "t-1", logs.All()[0].ContextMap()["thread"])
}
