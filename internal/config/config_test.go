package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadAppliesComponentDefaults(t *testing.T) {
	path := writeTempConfig(t, `
nodes:
  - id: n1
    url: "http://localhost:9650/ext/bc/C/rpc"
    network: "avalanche-fuji"
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":8545", cfg.GatewayPort)
	assert.Equal(t, ":9090", cfg.MetricsPort)
	assert.Equal(t, "avalanche-mainnet", cfg.DefaultNetwork)
	assert.Equal(t, 3, cfg.HealthFailureThreshold)
	assert.Equal(t, 5, cfg.BreakerFailureThreshold)
	assert.Equal(t, 10000, cfg.CacheMaxEntries)
}

func TestLoadRejectsEmptyNodeList(t *testing.T) {
	path := writeTempConfig(t, "gatewayPort: \":8545\"\n")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadMissingFileReturnsError(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	assert.Error(t, err)
}

func TestEnvOverridesPerNodeURL(t *testing.T) {
	path := writeTempConfig(t, `
nodes:
  - id: fuji-a
    url: "http://original"
    network: "avalanche-fuji"
`)
	t.Setenv("NODE_fuji-a_URL", "http://overridden")
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Len(t, cfg.Nodes, 1)
	assert.Equal(t, "http://overridden", cfg.Nodes[0].URL)
}

func TestEnvOverrideDefaultNetwork(t *testing.T) {
	path := writeTempConfig(t, `
nodes:
  - id: n1
    url: "http://localhost"
    network: "avalanche-fuji"
`)
	t.Setenv("DEFAULT_NETWORK", "avalanche-mainnet")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "avalanche-mainnet", cfg.DefaultNetwork)
}

func TestToNodesDefaultsWeightToOne(t *testing.T) {
	path := writeTempConfig(t, `
nodes:
  - id: n1
    url: "http://localhost"
    network: "avalanche-fuji"
    weight: 0
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	nodes := cfg.ToNodes()
	require.Len(t, nodes, 1)
	assert.Equal(t, 1, nodes[0].Weight)
}
