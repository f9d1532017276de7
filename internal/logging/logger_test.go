package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNewValidatesConfig(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *Config
		wantErr bool
	}{
		{name: "nil config uses defaults", cfg: nil, wantErr: false},
		{name: "valid debug console", cfg: &Config{Level: "debug", Format: "console"}, wantErr: false},
		{name: "unknown level", cfg: &Config{Level: "loud"}, wantErr: true},
		{name: "unknown format", cfg: &Config{Format: "xml"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := New(tt.cfg)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, logger)
		})
	}
}

func TestLevelFiltering(t *testing.T) {
	logger, err := New(&Config{Level: "warn"})
	require.NoError(t, err)

	assert.False(t, logger.Enabled(zapcore.InfoLevel))
	assert.True(t, logger.Enabled(zapcore.WarnLevel))
	assert.True(t, logger.Enabled(zapcore.ErrorLevel))
}

func TestContextFields(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, ContextFields(ctx))

	ctx = WithCycle(ctx, "ATO-0001")
	ctx = WithPhase(ctx, "PHASE3_WEAPONEERING")
	ctx = WithAgent(ctx, "ew_planner")

	fields := ContextFields(ctx)
	require.Len(t, fields, 3)

	assert.Equal(t, "ATO-0001", CycleFromContext(ctx))
	assert.Equal(t, "PHASE3_WEAPONEERING", PhaseFromContext(ctx))
	assert.Equal(t, "ew_planner", AgentFromContext(ctx))
}

func TestNopLoggerIsSafe(t *testing.T) {
	logger := Nop()
	logger.Info(context.Background(), "discarded")
	logger.Error(context.Background(), "also discarded")
	assert.NoError(t, logger.Sync())
}

func TestChildLoggers(t *testing.T) {
	logger := Nop()
	named := logger.Named("broker")
	require.NotNil(t, named)
	require.NotSame(t, logger, named)

	with := logger.With()
	require.NotNil(t, with.Underlying())
}
