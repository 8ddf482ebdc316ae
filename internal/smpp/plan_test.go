package smpp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cascadetel/smppgw/internal/platform/config"
)

func planConfig(operators map[string]config.Operator) *config.Config {
	return &config.Config{
		SMPP: config.SMPPConfig{
			Defaults: config.SMPPDefaults{
				SystemType:          "OTA",
				EnquireLinkInterval: 30 * time.Second,
				ReconnectDelay:      5 * time.Second,
				SubmitTimeout:       10 * time.Second,
			},
			Operators:       operators,
			HighPriorityPct: 20,
		},
	}
}

func TestBuildDescriptorsExpandsBindCount(t *testing.T) {
	cfg := planConfig(map[string]config.Operator{
		"awcc": {
			Host: "smpp.example.net",
			Port: 2775,
			Sessions: []config.Session{
				{UUID: "awcc-main", SystemID: "gw", Password: "pw", TPS: 50, BindCount: 3},
			},
		},
	})

	descriptors, err := BuildDescriptors(cfg)
	require.NoError(t, err)
	require.Len(t, descriptors, 3)

	keys := map[string]bool{}
	for _, d := range descriptors {
		keys[d.Key] = true
		assert.Equal(t, "awcc", d.Operator)
		assert.Equal(t, 50, d.TPS)
		assert.Equal(t, "OTA", d.SystemType)
		assert.Equal(t, "smpp.example.net:2775", d.Addr())
	}
	assert.Equal(t, map[string]bool{"awcc-main-1": true, "awcc-main-2": true, "awcc-main-3": true}, keys)
}

func TestBuildDescriptorsSingleSessionFallbackKey(t *testing.T) {
	cfg := planConfig(map[string]config.Operator{
		"roshan": {
			Host:     "smpp.example.net",
			Port:     2775,
			Sessions: []config.Session{{SystemID: "gw", Password: "pw", TPS: 10}},
		},
	})

	descriptors, err := BuildDescriptors(cfg)
	require.NoError(t, err)
	require.Len(t, descriptors, 1)
	assert.Equal(t, "roshan:gw", descriptors[0].Key)
}

func TestBuildDescriptorsMultiSessionRequiresUUID(t *testing.T) {
	cfg := planConfig(map[string]config.Operator{
		"awcc": {
			Host: "smpp.example.net",
			Port: 2775,
			Sessions: []config.Session{
				{UUID: "a", SystemID: "gw1", Password: "pw", TPS: 10},
				{SystemID: "gw2", Password: "pw", TPS: 10},
			},
		},
	})

	_, err := BuildDescriptors(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing uuid")
}

func TestBuildDescriptorsRejectsDuplicateKeys(t *testing.T) {
	cfg := planConfig(map[string]config.Operator{
		"awcc": {
			Host: "smpp.example.net",
			Port: 2775,
			Sessions: []config.Session{
				{UUID: "same", SystemID: "gw1", Password: "pw", TPS: 10},
				{UUID: "same", SystemID: "gw2", Password: "pw", TPS: 10},
			},
		},
	})

	_, err := BuildDescriptors(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate session key")
}

func TestBuildDescriptorsMinimumTPS(t *testing.T) {
	cfg := planConfig(map[string]config.Operator{
		"etisalat": {
			Host:     "smpp.example.net",
			Port:     2775,
			Sessions: []config.Session{{SystemID: "gw", Password: "pw"}},
		},
	})

	descriptors, err := BuildDescriptors(cfg)
	require.NoError(t, err)
	require.Len(t, descriptors, 1)
	assert.Equal(t, 1, descriptors[0].TPS)
}
