package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atlas-desktop/trading-backend/internal/risk"
)

const samplePolicyYAML = `
policies:
  - type: PositionLimit
    market_id: BTC-USD
    max_size: 100.0
  - type: InventoryLimit
    max_value_usd: 50000.0
  - type: KillSwitch
    enabled: false
`

func TestParsePolicyDocument_CompilesEveryRuleKind(t *testing.T) {
	rules, err := ParsePolicyDocument([]byte(samplePolicyYAML))
	require.NoError(t, err)
	require.Len(t, rules, 3)

	assert.Equal(t, risk.RulePositionLimit, rules[0].Kind)
	assert.Equal(t, risk.RuleInventoryLimit, rules[1].Kind)
	assert.Equal(t, risk.RuleKillSwitch, rules[2].Kind)
	assert.False(t, rules[2].Enabled)
}

func TestParsePolicyDocument_RejectsUnknownType(t *testing.T) {
	_, err := ParsePolicyDocument([]byte("policies:\n  - type: Unknown\n"))
	assert.Error(t, err)
}

func TestParsePolicyDocument_RejectsMissingRequiredField(t *testing.T) {
	_, err := ParsePolicyDocument([]byte("policies:\n  - type: PositionLimit\n"))
	assert.Error(t, err, "PositionLimit without max_size must fail to compile")
}

func TestLoadPolicyFile_RoundTripsThroughEmit(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policies.yaml")
	require.NoError(t, os.WriteFile(path, []byte(samplePolicyYAML), 0o644))

	rules, err := LoadPolicyFile(path)
	require.NoError(t, err)
	require.Len(t, rules, 3)

	emitted, err := EmitPolicyDocument(rules)
	require.NoError(t, err)

	reparsed, err := ParsePolicyDocument(emitted)
	require.NoError(t, err)
	require.Len(t, reparsed, 3)
	assert.Equal(t, rules[0].Kind, reparsed[0].Kind)
	assert.True(t, rules[0].MaxSize.Equal(reparsed[0].MaxSize))
}
