package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWithWriter(t *testing.T) {
	t.Run("production logs JSON at info", func(t *testing.T) {
		var buf bytes.Buffer
		log := NewWithWriter(&buf, false)
		log.Debug("hidden")
		log.Info("started", "addr", ":8080")

		var line map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
		assert.Equal(t, "started", line["msg"])
		assert.Equal(t, ":8080", line["addr"])
	})

	t.Run("dev logs text at debug", func(t *testing.T) {
		var buf bytes.Buffer
		NewWithWriter(&buf, true).Debug("visible", "kid", "6b696431")
		assert.Contains(t, buf.String(), "msg=visible")
		assert.Contains(t, buf.String(), "kid=6b696431")
	})
}
