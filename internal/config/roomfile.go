package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// RoomFile is the optional per-room YAML configuration deployed next to an
// agent. Values set in the file override the environment.
type RoomFile struct {
	RoomID      string `yaml:"room_id"`
	Name        string `yaml:"name"`
	CameraURL   string `yaml:"camera_url"`
	DetectorURL string `yaml:"detector_url"`
	LedgerURL   string `yaml:"ledger_url"`
	OutboxPath  string `yaml:"outbox_path"`
}

// LoadRoomFile parses a room YAML file and folds it into the agent config.
func (c *Config) LoadRoomFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read room file: %w", err)
	}

	var rf RoomFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return fmt.Errorf("parse room file %s: %w", path, err)
	}

	if rf.RoomID != "" {
		c.Agent.RoomID = rf.RoomID
	}
	if rf.DetectorURL != "" {
		c.Agent.DetectorURL = rf.DetectorURL
	}
	if rf.LedgerURL != "" {
		c.Agent.LedgerURL = rf.LedgerURL
	}
	if rf.OutboxPath != "" {
		c.Agent.OutboxPath = rf.OutboxPath
	}
	return nil
}
