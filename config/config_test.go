package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TeaEngineering/goartnet/artnet"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
interface = "eth0"
port_name = "stagebox"
long_name = "stagebox (rack 2)"
style = 0
net = 2
subnet = 3
passive = true

[[port]]
universe = "2:3:1"
input = true

[[port]]
universe = 16
output = true
`))
	require.NoError(t, err)

	assert.Equal(t, "eth0", cfg.Interface)
	assert.Equal(t, "stagebox", cfg.PortName)
	assert.True(t, cfg.Passive)
	require.NotNil(t, cfg.Style)
	assert.Equal(t, 0, *cfg.Style)

	require.Len(t, cfg.Ports, 2)
	assert.Equal(t, artnet.NewPortAddress(2, 3, 1), cfg.Ports[0].Universe.Addr)
	assert.True(t, cfg.Ports[0].Input)
	assert.False(t, cfg.Ports[0].Output)
	assert.Equal(t, artnet.PortAddress(16), cfg.Ports[1].Universe.Addr)

	cc := cfg.ClientConfig()
	assert.Equal(t, uint8(2), cc.Net)
	assert.Equal(t, uint8(3), cc.SubNet)
	assert.Equal(t, uint8(artnet.StyleNode), cc.Style)
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, ``))
	require.NoError(t, err)

	assert.Nil(t, cfg.Style)
	cc := cfg.ClientConfig()
	assert.Equal(t, uint8(artnet.StyleController), cc.Style)
	assert.False(t, cc.Passive)
}

func TestLoadRejects(t *testing.T) {
	cases := map[string]string{
		"long port_name": `port_name = "123456789012345678"`,
		"bad style":      `style = 7`,
		"bad net":        `net = 128`,
		"bad subnet":     `subnet = 16`,
		"bad universe":   "[[port]]\nuniverse = \"128:0:0\"\ninput = true",
		"inert port":     "[[port]]\nuniverse = \"0:0:1\"",
	}
	for name, body := range cases {
		_, err := Load(writeConfig(t, body))
		assert.Error(t, err, name)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	assert.Error(t, err)
}
