package audit

import (
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogger(t *testing.T) {
	out, hook := test.NewNullLogger()
	a := NewLogger(out)

	t.Run("operation", func(t *testing.T) {
		hook.Reset()
		a.LogOperation("c-1", 7, "CHARGE", 1500, map[string]any{"kind": "toll"})

		entry := hook.LastEntry()
		require.NotNil(t, entry)
		assert.Equal(t, "AUDIT", entry.Message)
		assert.Equal(t, "CHARGE", entry.Data["event_type"])
		assert.Equal(t, "15.00", entry.Data["amount"])
		assert.Equal(t, "toll", entry.Data["kind"])
		assert.Equal(t, int64(7), entry.Data["user_id"])
	})

	t.Run("transfer", func(t *testing.T) {
		hook.Reset()
		a.LogTransfer("t-1", 1, 2, 250, "SUCCESS")
		assert.Equal(t, int64(2), hook.LastEntry().Data["to_user_id"])
	})

	t.Run("error", func(t *testing.T) {
		hook.Reset()
		a.LogError("r-1", 3, "REFUND", errors.New("boom"))
		entry := hook.LastEntry()
		assert.Equal(t, "FAILED", entry.Data["status"])
		assert.Equal(t, "boom", entry.Data["error"])
		assert.Equal(t, logrus.InfoLevel, entry.Level)
	})

	t.Run("nil logger is a no-op", func(t *testing.T) {
		var nilLogger *Logger
		assert.NotPanics(t, func() { nilLogger.LogOperation("x", 1, "NOOP", 0, nil) })
	})
}
