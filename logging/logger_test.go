package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/crytic/invfuzz/logging/colors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestAddAndRemoveWriter ensures writers are tracked per format and that duplicates are ignored.
func TestAddAndRemoveWriter(t *testing.T) {
	logger := NewLogger(zerolog.InfoLevel)

	var colored, plain, structured bytes.Buffer
	logger.AddWriter(&colored, UNSTRUCTURED, true)
	logger.AddWriter(&plain, UNSTRUCTURED, false)
	logger.AddWriter(&structured, STRUCTURED, false)

	assert.Len(t, logger.unstructuredColorWriters, 1)
	assert.Len(t, logger.unstructuredWriters, 1)
	assert.Len(t, logger.structuredWriters, 1)

	// Duplicates are no-ops
	logger.AddWriter(&colored, UNSTRUCTURED, true)
	logger.AddWriter(&plain, UNSTRUCTURED, false)
	logger.AddWriter(&structured, STRUCTURED, false)
	assert.Len(t, logger.unstructuredColorWriters, 1)
	assert.Len(t, logger.unstructuredWriters, 1)
	assert.Len(t, logger.structuredWriters, 1)

	logger.RemoveWriter(&colored, UNSTRUCTURED, true)
	logger.RemoveWriter(&plain, UNSTRUCTURED, false)
	logger.RemoveWriter(&structured, STRUCTURED, false)
	assert.Empty(t, logger.unstructuredColorWriters)
	assert.Empty(t, logger.unstructuredWriters)
	assert.Empty(t, logger.structuredWriters)
}

// TestDisabledColors verifies that the colorized writer does not emit ANSI codes once colors are disabled.
func TestDisabledColors(t *testing.T) {
	colors.DisableColor()
	defer colors.EnableColor()

	logger := NewLogger(zerolog.InfoLevel)
	var buf bytes.Buffer
	logger.AddWriter(&buf, UNSTRUCTURED, true)

	logger.Info(colors.Red, "foo")
	assert.Contains(t, buf.String(), colors.LEFT_ARROW+" foo")
	assert.NotContains(t, buf.String(), "\x1b[")
}

// TestStructuredOutput verifies sub-logger context, errors and structured info reach JSON writers.
func TestStructuredOutput(t *testing.T) {
	logger := NewLogger(zerolog.InfoLevel)
	var buf bytes.Buffer
	logger.AddWriter(&buf, STRUCTURED, false)

	subLogger := logger.NewSubLogger("service", FUZZING_SERVICE)
	subLogger.Info("campaign finished", errors.New("boom"), StructuredLogInfo{"runs": 3})
	subLogger.Debug("filtered out by level")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)

	var event map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &event))
	assert.Equal(t, "campaign finished", event["message"])
	assert.Equal(t, FUZZING_SERVICE, event["service"])
	assert.Equal(t, "boom", event["error"])
	assert.EqualValues(t, 3, event["info"].(map[string]any)["runs"])
}
