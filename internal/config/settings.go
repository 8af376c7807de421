// Package config loads the mod's settings file (XML) and its tuning file
// (YAML).
package config

import (
	"encoding/xml"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Settings are the operator-facing options.
type Settings struct {
	LogPath          string
	StatePath        string
	StateBackend     string // "xml" or "sqlite"
	StateBackups     int
	// BackupInterval is the minimum age of the newest backup before a
	// save takes another.
	BackupInterval   time.Duration
	JournalPath      string // sqlite dispatch journal; empty disables it
	TuningPath       string
	APIPort          int
	AdminKey         string
	DisabledGods     []string
	ReplayLogOnStart bool
}

// DefaultSettings returns the settings used when no file is present.
func DefaultSettings() Settings {
	return Settings{
		LogPath:        "data/offerings.log",
		StatePath:      "data/pantheon.xml",
		StateBackend:   "xml",
		StateBackups:   3,
		BackupInterval: 10 * time.Minute,
		JournalPath:    "data/journal.db",
		APIPort:        8087,
	}
}

type xmlSettings struct {
	XMLName  xml.Name     `xml:"pantheon"`
	Settings []xmlSetting `xml:"settings>setting"`
}

type xmlSetting struct {
	Name  string `xml:"name,attr"`
	Value string `xml:",chardata"`
}

// LoadSettings reads path. A missing file yields DefaultSettings and no error.
// Unknown setting names are logged and ignored.
func LoadSettings(path string) (Settings, error) {
	s := DefaultSettings()
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		slog.Warn("settings file not found, using defaults", "path", path)
		return s, nil
	}
	if err != nil {
		return s, fmt.Errorf("read settings: %w", err)
	}

	var doc xmlSettings
	if err := xml.Unmarshal(raw, &doc); err != nil {
		return s, fmt.Errorf("settings %s: %w", path, err)
	}
	for _, kv := range doc.Settings {
		if err := s.set(kv.Name, strings.TrimSpace(kv.Value)); err != nil {
			return s, fmt.Errorf("settings %s: %w", path, err)
		}
	}
	return s, nil
}

func (s *Settings) set(name, value string) error {
	switch name {
	case "logPath":
		s.LogPath = value
	case "statePath":
		s.StatePath = value
	case "stateBackend":
		if value != "xml" && value != "sqlite" {
			return fmt.Errorf("stateBackend %q: want xml or sqlite", value)
		}
		s.StateBackend = value
	case "stateBackups":
		n, err := strconv.Atoi(value)
		if err != nil || n < 0 {
			return fmt.Errorf("stateBackups %q: want a non-negative integer", value)
		}
		s.StateBackups = n
	case "backupInterval":
		d, err := time.ParseDuration(value)
		if err != nil || d < 0 {
			return fmt.Errorf("backupInterval %q: want a non-negative duration", value)
		}
		s.BackupInterval = d
	case "journalPath":
		s.JournalPath = value
	case "tuningPath":
		s.TuningPath = value
	case "apiPort":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("apiPort %q: %w", value, err)
		}
		s.APIPort = n
	case "adminKey":
		s.AdminKey = value
	case "disabledGods":
		s.DisabledGods = nil
		for _, g := range strings.Split(value, ",") {
			if g = strings.TrimSpace(g); g != "" {
				s.DisabledGods = append(s.DisabledGods, g)
			}
		}
	case "replayLogOnStart":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("replayLogOnStart %q: %w", value, err)
		}
		s.ReplayLogOnStart = b
	default:
		slog.Debug("ignoring setting", "name", name)
	}
	return nil
}
