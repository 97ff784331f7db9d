package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/olimpiadi-informatica/pixie-sub000/internal/registry"
)

// jsonUnit is registry.Unit's on-disk shape: net.HardwareAddr/IP don't round
// trip through encoding/json the way this journal needs, so MAC is hex.
type jsonUnit struct {
	MAC               string  `json:"mac"`
	Group             uint8   `json:"group"`
	Row               uint8   `json:"row"`
	Col               uint8   `json:"col"`
	Image             string  `json:"image"`
	CurrAction        *int    `json:"curr_action,omitempty"`
	CurrDone          *uint64 `json:"curr_done,omitempty"`
	CurrTotal         *uint64 `json:"curr_total,omitempty"`
	NextAction        int     `json:"next_action"`
	LastPingTimestamp int64   `json:"last_ping_timestamp"`
	LastPingComment   string  `json:"last_ping_comment,omitempty"`
}

func loadUnitsJournal(path string) ([]registry.Unit, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("units journal: read %s: %w", path, err)
	}
	var raw []jsonUnit
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("units journal: parse %s: %w", path, err)
	}
	units := make([]registry.Unit, 0, len(raw))
	for _, ju := range raw {
		mac, err := parseMAC(ju.MAC)
		if err != nil {
			return nil, fmt.Errorf("units journal: %w", err)
		}
		u := registry.Unit{
			MAC:               mac,
			Group:             ju.Group,
			Row:               ju.Row,
			Col:               ju.Col,
			Image:             ju.Image,
			NextAction:        registry.Action(ju.NextAction),
			LastPingTimestamp: ju.LastPingTimestamp,
			LastPingComment:   []byte(ju.LastPingComment),
		}
		if ju.CurrAction != nil {
			a := registry.Action(*ju.CurrAction)
			u.CurrAction = &a
		}
		if ju.CurrDone != nil && ju.CurrTotal != nil {
			u.CurrProgress = &registry.Progress{Done: *ju.CurrDone, Total: *ju.CurrTotal}
		}
		units = append(units, u)
	}
	return units, nil
}

func saveUnitsJournal(path string, units []registry.Unit) error {
	raw := make([]jsonUnit, len(units))
	for i, u := range units {
		ju := jsonUnit{
			MAC:               u.MAC.String(),
			Group:             u.Group,
			Row:               u.Row,
			Col:               u.Col,
			Image:             u.Image,
			NextAction:        int(u.NextAction),
			LastPingTimestamp: u.LastPingTimestamp,
			LastPingComment:   string(u.LastPingComment),
		}
		if u.CurrAction != nil {
			a := int(*u.CurrAction)
			ju.CurrAction = &a
		}
		if u.CurrProgress != nil {
			ju.CurrDone = &u.CurrProgress.Done
			ju.CurrTotal = &u.CurrProgress.Total
		}
		raw[i] = ju
	}
	data, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return fmt.Errorf("units journal: marshal: %w", err)
	}
	tmp := filepath.Join(filepath.Dir(path), ".units-journal.tmp")
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("units journal: write temp: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("units journal: rename: %w", err)
	}
	return nil
}

func runUnitsJournal(r *registry.Registry, path string, logErr func(error, string)) {
	sub := r.Subscribe()
	for {
		units := sub.BorrowAndUpdate()
		if err := saveUnitsJournal(path, units); err != nil {
			logErr(err, "write units journal")
		}
	}
}
