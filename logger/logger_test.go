package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestInit_RejectsUnknownLevel(t *testing.T) {
	err := Init("loud", "json")
	assert.Error(t, err)
}

func TestInit_AcceptsLevels(t *testing.T) {
	defer Set(nil)
	for _, lvl := range []string{"debug", "info", "WARN", " error "} {
		require.NoError(t, Init(lvl, "console"), lvl)
	}
}

func TestSet_RoutesGlobalHelpers(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	Set(zap.New(core))
	defer Set(nil)

	Info("order added", zap.String("order_id", "abc"))
	Warn("live mirror missing")

	require.Equal(t, 2, logs.Len())
	entries := logs.All()
	assert.Equal(t, "order added", entries[0].Message)
	assert.Equal(t, "abc", entries[0].ContextMap()["order_id"])
	assert.Equal(t, zap.WarnLevel, entries[1].Level)
}
