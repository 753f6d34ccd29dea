package settings

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAlertThresholds_Validate(t *testing.T) {
	tests := []struct {
		name  string
		in    AlertThresholds
		field string
	}{
		{"defaults", DefaultThresholds(), ""},
		{"equal values", AlertThresholds{Critical: 500, High: 500, Medium: 500}, ""},
		{"critical below high", AlertThresholds{Critical: 100, High: 500, Medium: 200}, "critical"},
		{"high below medium", AlertThresholds{Critical: 1000, High: 400, Medium: 500}, "high"},
		{"zero medium", AlertThresholds{Critical: 1000, High: 750}, "medium"},
		{"negative critical", AlertThresholds{Critical: -1, High: 750, Medium: 500}, "critical"},
		{"NaN high", AlertThresholds{Critical: 100, High: math.NaN(), Medium: 200}, "high"},
		{"NaN critical", AlertThresholds{Critical: math.NaN(), High: 500, Medium: 200}, "critical"},
		{"infinite critical", AlertThresholds{Critical: math.Inf(1), High: 500, Medium: 200}, "critical"},
		{"negative infinite medium", AlertThresholds{Critical: 1000, High: 500, Medium: math.Inf(-1)}, "medium"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.in.Validate()
			if tc.field == "" {
				assert.NoError(t, err)
				return
			}
			var verr *ValidationError
			require.True(t, errors.As(err, &verr), "expected ValidationError, got %v", err)
			assert.Equal(t, tc.field, verr.Field)
		})
	}
}

func TestAdaptiveConfig_Validate(t *testing.T) {
	assert.NoError(t, AdaptiveConfig{MitigationStrategy: StrategyAggressive}.Validate())
	assert.NoError(t, AdaptiveConfig{MitigationStrategy: StrategyConservative}.Validate())

	err := AdaptiveConfig{MitigationStrategy: "reckless"}.Validate()
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "mitigationStrategy", verr.Field)
	assert.Contains(t, verr.Message, "want adaptive, aggressive or conservative")

	err = AdaptiveConfig{MitigationStrategy: "agressive"}.Validate()
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Message, `did you mean "aggressive"?`)
}

func TestParse(t *testing.T) {
	f, err := Parse([]byte(`
thresholds:
  critical: 1200
  high: 800
  medium: 400
adaptive_response:
  enabled: true
  auto_block: true
  rate_limiting: false
  traffic_shaping: true
`))
	require.NoError(t, err)
	require.NotNil(t, f.Thresholds)
	assert.Equal(t, 1200.0, f.Thresholds.Critical)
	require.NotNil(t, f.AdaptiveResponse)
	assert.True(t, f.AdaptiveResponse.AutoBlock)
	assert.True(t, f.AdaptiveResponse.TrafficShaping)
	assert.Equal(t, StrategyAdaptive, f.AdaptiveResponse.MitigationStrategy, "strategy defaults to adaptive")
}

func TestParse_Errors(t *testing.T) {
	_, err := Parse([]byte(`{}`))
	assert.Error(t, err, "empty document")

	_, err = Parse([]byte("thresholds:\n  critical: 100\n  high: 500\n  medium: 200\n"))
	var verr *ValidationError
	assert.ErrorAs(t, err, &verr)

	_, err = Parse([]byte("thresholds: [1, 2"))
	assert.Error(t, err)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	require.NoError(t, os.WriteFile(path, []byte("adaptive_response:\n  mitigation_strategy: conservative\n"), 0o644))

	f, err := LoadFile(path)
	require.NoError(t, err)
	assert.Nil(t, f.Thresholds)
	assert.Equal(t, StrategyConservative, f.AdaptiveResponse.MitigationStrategy)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
