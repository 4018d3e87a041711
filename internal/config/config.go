// Package config parses the topology a relayd instance serves: its
// frontends (listeners), backends (pools of servers behind a
// load-balancing policy), and the servers themselves. YAML is the
// canonical on-disk format; a JSON loader is kept alongside it for
// CLI-flag-equivalent overrides.
package config

import (
	"encoding/json"
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Server is one backend destination.
type Server struct {
	Name    string `yaml:"name" json:"name"`
	Addr    string `yaml:"addr" json:"addr"`
	Weight  int    `yaml:"weight" json:"weight"`
	MaxConn int    `yaml:"max_conn" json:"max_conn"`
}

// Backend groups servers under one load-balancing policy.
type Backend struct {
	Name    string   `yaml:"name" json:"name"`
	Policy  string   `yaml:"policy" json:"policy"` // "round_robin" or "least_conn"
	Servers []Server `yaml:"servers" json:"servers"`
}

// Frontend is one listener and the analysers it runs before forwarding.
type Frontend struct {
	Name           string   `yaml:"name" json:"name"`
	Listen         string   `yaml:"listen" json:"listen"`
	DefaultBackend string   `yaml:"default_backend" json:"default_backend"`
	Analysers      []string `yaml:"analysers" json:"analysers"`
}

// Topology is the full parsed configuration.
type Topology struct {
	Frontends []Frontend `yaml:"frontends" json:"frontends"`
	Backends  []Backend  `yaml:"backends" json:"backends"`
}

// BackendByName looks up a backend, or reports ok=false.
func (t *Topology) BackendByName(name string) (Backend, bool) {
	for _, b := range t.Backends {
		if b.Name == name {
			return b, true
		}
	}
	return Backend{}, false
}

// LoadYAML parses the canonical topology format from path.
func LoadYAML(path string) (*Topology, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "config: reading %s", path)
	}
	var t Topology
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, errors.Wrapf(err, "config: parsing YAML %s", path)
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return &t, nil
}

// LoadJSON parses a JSON override file: open, decode, no extra
// ceremony.
func LoadJSON(path string) (*Topology, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "config: opening %s", path)
	}
	defer file.Close()

	var t Topology
	if err := json.NewDecoder(file).Decode(&t); err != nil {
		return nil, errors.Wrapf(err, "config: decoding JSON %s", path)
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return &t, nil
}

// Validate checks the cross-references a parser alone can't catch: every
// frontend's default backend must name a backend that actually exists,
// and every backend needs at least one server.
func (t *Topology) Validate() error {
	for _, f := range t.Frontends {
		if f.DefaultBackend == "" {
			continue
		}
		if _, ok := t.BackendByName(f.DefaultBackend); !ok {
			return errors.Errorf("config: frontend %q references unknown backend %q", f.Name, f.DefaultBackend)
		}
	}
	for _, b := range t.Backends {
		if len(b.Servers) == 0 {
			return errors.Errorf("config: backend %q has no servers", b.Name)
		}
	}
	return nil
}
