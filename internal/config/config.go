// Package config loads and validates the server's config.yaml: the groups
// bijection, the image name list, and the hosts/network sections, before
// the chunk store or units registry are constructed.
package config

import (
	"fmt"
	"net"
	"os"

	"go.yaml.in/yaml/v2"
)

// DhcpMode selects how unrecognized clients are assigned an address.
type DhcpMode struct {
	// Static assigns addresses from [RangeStart, RangeEnd] to unknown clients.
	Static *struct {
		RangeStart net.IP `yaml:"range_start"`
		RangeEnd   net.IP `yaml:"range_end"`
	} `yaml:"static,omitempty"`
	// Proxy defers to another DHCP server reachable at ServerIP.
	Proxy *struct {
		ServerIP net.IP `yaml:"server_ip"`
	} `yaml:"proxy,omitempty"`
}

// HostsConfig configures the DHCP/PXE listening side of the daemon.
type HostsConfig struct {
	ListenOn       net.IP   `yaml:"listen_on"`
	Dhcp           DhcpMode `yaml:"dhcp"`
	Hostsfile      string   `yaml:"hostsfile,omitempty"`
	BroadcastSpeed uint32   `yaml:"broadcast_speed"`
}

// HTTPConfig configures the operator-facing HTTP/API listener.
type HTTPConfig struct {
	ListenOn string `yaml:"listen_on"`
	Password string `yaml:"password,omitempty"`
}

// NetworkConfig holds the control-protocol listening ports, separate from
// HostsConfig's PXE/DHCP concerns.
type NetworkConfig struct {
	TCPPort      uint16 `yaml:"tcp_port"`
	UDPPort      uint16 `yaml:"udp_port"`
	ChunksPort   uint16 `yaml:"chunks_port"`
	HintPort     uint16 `yaml:"hint_port"`
}

// Config is the daemon's validated startup configuration.
type Config struct {
	Hosts   HostsConfig   `yaml:"hosts"`
	HTTP    HTTPConfig    `yaml:"http"`
	Network NetworkConfig `yaml:"network"`
	Groups  Bijection     `yaml:"groups"`
	Images  []string      `yaml:"images"`
}

// Bijection is a name<->small-integer-id bidirectional mapping, used for
// the group-name<->group-id correspondence (10.<group_id>.<row>.<col>).
type Bijection struct {
	names map[string]uint8
	ids   map[uint8]string
}

// UnmarshalYAML accepts either `- name1\n- name2` (ids assigned by position,
// starting at 0) or an explicit `name1: 0` mapping.
func (b *Bijection) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var asList []string
	if err := unmarshal(&asList); err == nil {
		return b.fromList(asList)
	}
	var asMap map[string]uint8
	if err := unmarshal(&asMap); err != nil {
		return fmt.Errorf("config: groups: %w", err)
	}
	return b.fromMap(asMap)
}

func (b *Bijection) fromList(names []string) error {
	m := make(map[string]uint8, len(names))
	for i, name := range names {
		m[name] = uint8(i)
	}
	return b.fromMap(m)
}

func (b *Bijection) fromMap(m map[string]uint8) error {
	b.names = make(map[string]uint8, len(m))
	b.ids = make(map[uint8]string, len(m))
	for name, id := range m {
		if other, ok := b.ids[id]; ok {
			return fmt.Errorf("config: groups: id %d used by both %q and %q", id, other, name)
		}
		b.names[name] = id
		b.ids[id] = name
	}
	return nil
}

// ID looks up a group's numeric id by name.
func (b Bijection) ID(name string) (uint8, bool) {
	id, ok := b.names[name]
	return id, ok
}

// Name looks up a group's name by numeric id.
func (b Bijection) Name(id uint8) (string, bool) {
	name, ok := b.ids[id]
	return name, ok
}

// Len returns the number of registered groups.
func (b Bijection) Len() int { return len(b.names) }

// Load reads and validates config.yaml at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return &cfg, nil
}

// Validate checks internal consistency: at least one group and one image,
// no duplicate image names, and sane network ports.
func (c *Config) Validate() error {
	if c.Groups.Len() == 0 {
		return fmt.Errorf("config: no groups configured")
	}
	if len(c.Images) == 0 {
		return fmt.Errorf("config: no images configured")
	}
	seen := make(map[string]struct{}, len(c.Images))
	for _, img := range c.Images {
		if _, dup := seen[img]; dup {
			return fmt.Errorf("config: duplicate image name %q", img)
		}
		seen[img] = struct{}{}
	}
	if c.Network.TCPPort == 0 || c.Network.UDPPort == 0 || c.Network.ChunksPort == 0 || c.Network.HintPort == 0 {
		return fmt.Errorf("config: network ports must all be nonzero")
	}
	if c.Hosts.Dhcp.Static == nil && c.Hosts.Dhcp.Proxy == nil {
		return fmt.Errorf("config: hosts.dhcp must set either static or proxy")
	}
	return nil
}

// ValidImage reports whether name is one of the configured images, for use
// as the store's and registry's validation callback.
func (c *Config) ValidImage(name string) bool {
	for _, img := range c.Images {
		if img == name {
			return true
		}
	}
	return false
}

// GroupID adapts Groups.ID to the registry's validation callback shape.
func (c *Config) GroupID(name string) (uint8, bool) {
	return c.Groups.ID(name)
}
