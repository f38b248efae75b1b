package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNew(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		opts      Options
		debugOn   bool
		wantError bool
	}{
		{name: "development", opts: Options{Development: true}, debugOn: true},
		{name: "production", opts: Options{}, debugOn: false},
		{name: "production at debug", opts: Options{Level: "debug"}, debugOn: true},
		{name: "development at warn", opts: Options{Development: true, Level: "warn"}, debugOn: false},
		{name: "bad level", opts: Options{Level: "chatty"}, wantError: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			logger, err := New(tt.opts)
			if tt.wantError {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			defer logger.Sync() //nolint:errcheck // best-effort flush
			assert.Equal(t, tt.debugOn, logger.Core().Enabled(zap.DebugLevel))
		})
	}
}
