package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadYAMLValidTopology(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "topo.yaml", `
frontends:
  - name: web
    listen: ":8080"
    default_backend: app
backends:
  - name: app
    policy: round_robin
    servers:
      - name: s1
        addr: "10.0.0.1:80"
        weight: 1
`)
	topo, err := LoadYAML(path)
	require.NoError(t, err)
	require.Len(t, topo.Frontends, 1)
	require.Equal(t, ":8080", topo.Frontends[0].Listen)

	b, ok := topo.BackendByName("app")
	require.True(t, ok)
	require.Len(t, b.Servers, 1)
}

func TestLoadYAMLRejectsUnknownDefaultBackend(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "topo.yaml", `
frontends:
  - name: web
    listen: ":8080"
    default_backend: ghost
backends:
  - name: app
    servers:
      - name: s1
        addr: "10.0.0.1:80"
`)
	_, err := LoadYAML(path)
	require.Error(t, err)
}

func TestLoadYAMLRejectsEmptyBackend(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "topo.yaml", `
backends:
  - name: app
    servers: []
`)
	_, err := LoadYAML(path)
	require.Error(t, err)
}

func TestLoadJSONOverride(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "topo.json", `{
		"backends": [{"name": "app", "servers": [{"name": "s1", "addr": "10.0.0.1:80"}]}]
	}`)
	topo, err := LoadJSON(path)
	require.NoError(t, err)
	_, ok := topo.BackendByName("app")
	require.True(t, ok)
}

func TestLoadYAMLMissingFile(t *testing.T) {
	_, err := LoadYAML("/nonexistent/path.yaml")
	require.Error(t, err)
}
