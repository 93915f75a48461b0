package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/codership/wsrep-lib/pkg/config"
	"github.com/codership/wsrep-lib/pkg/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeBootstrap(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bootstrap.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadBootstrapValid(t *testing.T) {
	path := writeBootstrap(t, `
nodeId: node-a
name: node-a
address: 10.0.0.1:4567
workingDir: /var/lib/wsrep
maxProtocolVersion: 4
rollbackMode: async
sstBeforeInit: true
clusterAddress: gcomm://10.0.0.2
providerOptions: "gcache.size=1G; pc.ignore_sb=true"
`)
	b, err := config.LoadBootstrap(path)
	require.NoError(t, err)
	assert.Equal(t, "node-a", b.NodeID)
	assert.Equal(t, 4, b.MaxProtocolVersion)
	assert.True(t, b.SSTBeforeInit)

	mode, err := b.RollbackModeValue()
	require.NoError(t, err)
	assert.Equal(t, server.RollbackAsync, mode)
}

func TestLoadBootstrapMissingRequiredField(t *testing.T) {
	path := writeBootstrap(t, `
name: node-a
address: 10.0.0.1:4567
maxProtocolVersion: 4
`)
	_, err := config.LoadBootstrap(path)
	assert.Error(t, err)
}

func TestLoadBootstrapUnknownRollbackMode(t *testing.T) {
	path := writeBootstrap(t, `
nodeId: node-a
address: 10.0.0.1:4567
maxProtocolVersion: 4
rollbackMode: eventually
`)
	_, err := config.LoadBootstrap(path)
	assert.Error(t, err)
}

func TestParseProviderOptions(t *testing.T) {
	opts, err := config.ParseProviderOptions("gcache.size=1G; pc.ignore_sb = true ;;repl.causal_read_timeout=PT30S")
	require.NoError(t, err)
	assert.Equal(t, "1G", opts["gcache.size"])
	assert.Equal(t, "true", opts["pc.ignore_sb"])
	assert.Equal(t, "PT30S", opts["repl.causal_read_timeout"])
}

func TestParseProviderOptionsMalformedEntry(t *testing.T) {
	_, err := config.ParseProviderOptions("gcache.size=1G; not-a-kv-pair")
	assert.Error(t, err)
}

func TestParseProviderOptionBool(t *testing.T) {
	opts := map[string]string{"pc.bootstrap": "true"}
	v, err := config.ParseProviderOptionBool(opts, "pc.bootstrap", false)
	require.NoError(t, err)
	assert.True(t, v)

	v, err = config.ParseProviderOptionBool(opts, "pc.missing", true)
	require.NoError(t, err)
	assert.True(t, v)
}
