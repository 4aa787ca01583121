package log

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func initBuffer(t *testing.T) *bytes.Buffer {
	t.Helper()
	buf := &bytes.Buffer{}
	Init(Config{Level: DebugLevel, JSONOutput: true, Output: buf})
	return buf
}

func lastEntry(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.NotEmpty(t, lines)
	var entry map[string]any
	require.NoError(t, json.Unmarshal(lines[len(lines)-1], &entry))
	return entry
}

func TestWithComponentTagsEntries(t *testing.T) {
	buf := initBuffer(t)

	logger := WithComponent("sweeper")
	logger.Info().Msg("pass complete")

	entry := lastEntry(t, buf)
	assert.Equal(t, "sweeper", entry["component"])
	assert.Equal(t, "pass complete", entry["message"])
}

func TestWithDropletAndClusterCarryIDs(t *testing.T) {
	buf := initBuffer(t)

	logger := WithDroplet(42)
	logger.Warn().Msg("snapshot slow")
	entry := lastEntry(t, buf)
	assert.Equal(t, "42", entry["droplet_id"])

	logger = WithCluster("c-9")
	logger.Error().Msg("provisioning failed")
	entry = lastEntry(t, buf)
	assert.Equal(t, "c-9", entry["cluster_id"])
	assert.Equal(t, "error", entry["level"])
}
