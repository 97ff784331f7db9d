package config

import (
	"os"
	"path/filepath"
	"testing"
)

const sampleYAML = `
hosts:
  listen_on: 10.0.0.1
  dhcp:
    static:
      range_start: 10.0.0.100
      range_end: 10.0.0.200
  broadcast_speed: 1000000000
http:
  listen_on: 127.0.0.1:8080
network:
  tcp_port: 9000
  udp_port: 9001
  chunks_port: 9002
  hint_port: 9003
groups:
  - room1
  - room2
images:
  - base
  - contest
`

func writeTemp(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

func TestLoadValidConfig(t *testing.T) {
	cfg, err := Load(writeTemp(t, sampleYAML))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if id, ok := cfg.GroupID("room2"); !ok || id != 1 {
		t.Fatalf("expected room2 -> id 1, got %d, %v", id, ok)
	}
	if !cfg.ValidImage("base") || cfg.ValidImage("missing") {
		t.Fatal("ValidImage behaved incorrectly")
	}
}

func TestLoadRejectsNoImages(t *testing.T) {
	bad := `
hosts:
  listen_on: 10.0.0.1
  dhcp:
    proxy:
      server_ip: 10.0.0.2
  broadcast_speed: 1
http:
  listen_on: 127.0.0.1:8080
network:
  tcp_port: 1
  udp_port: 2
  chunks_port: 3
  hint_port: 4
groups:
  - room1
images: []
`
	if _, err := Load(writeTemp(t, bad)); err == nil {
		t.Fatal("expected validation error for empty images")
	}
}

func TestLoadRejectsDuplicateGroupIDs(t *testing.T) {
	bad := `
hosts:
  listen_on: 10.0.0.1
  dhcp:
    proxy:
      server_ip: 10.0.0.2
  broadcast_speed: 1
http:
  listen_on: 127.0.0.1:8080
network:
  tcp_port: 1
  udp_port: 2
  chunks_port: 3
  hint_port: 4
groups:
  room1: 0
  room2: 0
images:
  - base
`
	if _, err := Load(writeTemp(t, bad)); err == nil {
		t.Fatal("expected validation error for duplicate group ids")
	}
}

func TestLoadRejectsMissingDhcpMode(t *testing.T) {
	bad := `
hosts:
  listen_on: 10.0.0.1
  dhcp: {}
  broadcast_speed: 1
http:
  listen_on: 127.0.0.1:8080
network:
  tcp_port: 1
  udp_port: 2
  chunks_port: 3
  hint_port: 4
groups:
  - room1
images:
  - base
`
	if _, err := Load(writeTemp(t, bad)); err == nil {
		t.Fatal("expected validation error for missing dhcp mode")
	}
}
