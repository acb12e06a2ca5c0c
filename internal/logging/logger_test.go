package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConsoleHandler_Format(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: LevelDebug, Output: &buf})

	log.Info("rules applied", "count", 6, "family", "ipv4")

	line := buf.String()
	assert.Contains(t, line, "warden[")
	assert.Contains(t, line, "[info]")
	assert.Contains(t, line, "rules applied")
	assert.Contains(t, line, "count=6")
	assert.Contains(t, line, "family=ipv4")
}

func TestConsoleHandler_ComponentInHeader(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: LevelDebug, Output: &buf}).WithComponent("engine")

	log.Warn("parity check failed")

	line := buf.String()
	assert.Contains(t, line, "[warn] engine: parity check failed")
	assert.NotContains(t, line, "component=")
}

func TestConsoleHandler_QuotesSpacedValues(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: LevelDebug, Output: &buf})

	log.Error("apply failed", "error", "chain does not exist")

	assert.Contains(t, buf.String(), `error="chain does not exist"`)
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: LevelWarn, Output: &buf})

	log.Debug("hidden")
	log.Info("also hidden")
	log.Warn("visible")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "visible")

	log.SetLevel(LevelDebug)
	log.Debug("now visible")
	assert.Contains(t, buf.String(), "now visible")
}

func TestJSONOutput(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: LevelInfo, Output: &buf, JSON: true}).WithComponent("verify")

	log.Info("layer complete", "layer", "egress-blocked")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "layer complete", entry["msg"])
	assert.Equal(t, "verify", entry["component"])
	assert.Equal(t, "egress-blocked", entry["layer"])
}

func TestAudit_AlwaysCarriesMarkers(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: LevelInfo, Output: &buf})

	log.Audit("apply", "firewall", map[string]any{"mode": "sovereign"})

	line := buf.String()
	assert.Contains(t, line, "AUDIT")
	assert.Contains(t, line, "audit=true")
	assert.Contains(t, line, "action=apply")
	assert.Contains(t, line, "mode=sovereign")
	assert.True(t, strings.Contains(line, "timestamp="))
}
