package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, contents string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(contents), 0o644))
	return p
}

func TestLoadJSON(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "node.json", `{
		"network": {"worker_threads": 4, "listen": {"ip": "127.0.0.1", "port": 9001}},
		"zk": {"hosts": "zk1:2181,zk2:2181", "root": "/cluster-a", "session_timeout_ms": 5000},
		"service_hosts": "10.0.0.5",
		"modules": ["echo.Module", "clusterrouter.Module"]
	}`)

	cfg, err := Load(p)
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Network.WorkerThreads)
	assert.Equal(t, "127.0.0.1", cfg.Network.Listen.IP)
	assert.Equal(t, 9001, cfg.Network.Listen.Port)
	assert.Equal(t, "zk1:2181,zk2:2181", cfg.Zk.Hosts)
	assert.Equal(t, "/cluster-a", cfg.Zk.Root)
	assert.Equal(t, 5000, cfg.Zk.SessionTimeoutMs)
	assert.Equal(t, "10.0.0.5", cfg.ServiceHost)
	assert.Equal(t, []string{"echo.Module", "clusterrouter.Module"}, cfg.Modules)
	require.NoError(t, cfg.Validate())
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "node.yaml", `
network:
  worker_threads: 2
  listen:
    ip: 0.0.0.0
    port: 9527
zk:
  hosts: "localhost:2181"
  root: /basenode
service_hosts: "192.168.1.10"
modules:
  - echo.Module
`)

	cfg, err := Load(p)
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Network.WorkerThreads)
	assert.Equal(t, "localhost:2181", cfg.Zk.Hosts)
	// SessionTimeoutMs left unset in the document, inherited from Default().
	assert.Equal(t, 3000, cfg.Zk.SessionTimeoutMs)
}

func TestLoadXML(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "node.xml", `<config>
  <network worker_threads="8">
    <listen ip="127.0.0.1" port="9100"></listen>
  </network>
  <zk hosts="zk:2181" root="/basenode"></zk>
  <service_hosts>10.1.1.1</service_hosts>
</config>`)

	cfg, err := Load(p)
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.Network.WorkerThreads)
	assert.Equal(t, "127.0.0.1", cfg.Network.Listen.IP)
	assert.Equal(t, 9100, cfg.Network.Listen.Port)
	assert.Equal(t, "zk:2181", cfg.Zk.Hosts)
	assert.Equal(t, "10.1.1.1", cfg.ServiceHost)
}

func TestLoadResolvesRef(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "zk.json", `{"hosts": "zk1:2181", "root": "/basenode", "session_timeout_ms": 4000}`)
	p := writeFile(t, dir, "node.json", `{
		"network": {"worker_threads": 1, "listen": {"ip": "0.0.0.0", "port": 9527}},
		"zk": {"$ref": "zk.json"},
		"service_hosts": "10.0.0.1"
	}`)

	cfg, err := Load(p)
	require.NoError(t, err)
	assert.Equal(t, "zk1:2181", cfg.Zk.Hosts)
	assert.Equal(t, 4000, cfg.Zk.SessionTimeoutMs)
}

func TestLoadDetectsRefCycle(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.json", `{"$ref": "b.json"}`)
	p := writeFile(t, dir, "b.json", `{"$ref": "a.json"}`)

	_, err := Load(p)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cyclic")
}

func TestLoadMissingFileErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
}

func TestValidateRejectsBadPort(t *testing.T) {
	cfg := Default()
	cfg.Zk.Hosts = "zk:2181"
	cfg.ServiceHost = "10.0.0.1"
	cfg.Network.Listen.Port = 0
	require.Error(t, cfg.Validate())
}

func TestValidateRejectsEmptyZkHosts(t *testing.T) {
	cfg := Default()
	cfg.ServiceHost = "10.0.0.1"
	cfg.Network.Listen.Port = 9527
	require.Error(t, cfg.Validate())
}
