// Package config provides configuration loading for calgrid.
package config

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/cpuguy83/calgrid/internal/grid"
)

// Source types.
const (
	SourceICS    = "ics"
	SourceCalDAV = "caldav"
	SourceICloud = "icloud"
	SourceMS365  = "ms365"
	SourceApple  = "apple"
)

// UI backends.
const (
	BackendAuto = "auto"
	BackendGTK  = "gtk"
	BackendTerm = "term"
	BackendMenu = "menu"
)

// Config is the root configuration structure.
type Config struct {
	Sync          SyncConfig         `yaml:"sync"`
	Sources       []SourceConfig     `yaml:"sources"`
	Filters       FilterConfig       `yaml:"filters"`
	Grid          GridConfig         `yaml:"grid"`
	Notifications NotificationConfig `yaml:"notifications"`
	UI            UIConfig           `yaml:"ui"`
}

// SyncConfig configures how often sources are fetched.
type SyncConfig struct {
	Interval time.Duration `yaml:"interval"`
	Output   string        `yaml:"output"` // default path for "calgrid export"
}

// SourceConfig configures a calendar source.
type SourceConfig struct {
	Name        string       `yaml:"name"`
	Type        string       `yaml:"type"` // "ics", "caldav", "icloud", "ms365", "apple"
	URL         string       `yaml:"url"`  // ics: http(s) URL, file:// URL or path
	Path        string       `yaml:"path,omitempty"`
	Username    string       `yaml:"username,omitempty"`
	Password    string       `yaml:"password,omitempty"`
	PasswordCmd string       `yaml:"password_cmd,omitempty"`
	Color       string       `yaml:"color,omitempty"`
	Calendars   []string     `yaml:"calendars,omitempty"` // caldav/icloud/apple: which calendars to show
	Filters     FilterConfig `yaml:"filters,omitempty"`   // Per-source filters (include)
}

// FilterConfig configures event filtering.
type FilterConfig struct {
	Mode  string       `yaml:"mode"` // "or" or "and"
	Rules []FilterRule `yaml:"rules"`
}

// FilterRule defines a single filter rule.
// Use exactly one of: Contains, Exact, Prefix, Suffix, or Regex.
type FilterRule struct {
	Field           string `yaml:"field"`              // "title", "organizer", "source", "calendar", "description", "location"
	Contains        string `yaml:"contains,omitempty"` // Substring match
	Exact           string `yaml:"exact,omitempty"`    // Exact string match
	Prefix          string `yaml:"prefix,omitempty"`   // Starts with
	Suffix          string `yaml:"suffix,omitempty"`   // Ends with
	Regex           string `yaml:"regex,omitempty"`    // Regular expression
	CaseInsensitive bool   `yaml:"case_insensitive"`
}

// GridConfig configures the week grid.
type GridConfig struct {
	StartHour       int           `yaml:"start_hour"`
	EndHour         int           `yaml:"end_hour"`
	WeekStart       string        `yaml:"week_start"`
	Lookahead       time.Duration `yaml:"lookahead"`
	RefreshInterval time.Duration `yaml:"refresh_interval"`
	RefreshSchedule string        `yaml:"refresh_schedule"` // cron spec, overrides refresh_interval
	TimeFormat      string        `yaml:"time_format"`

	endHourSet bool
}

// NotificationConfig configures desktop notifications.
type NotificationConfig struct {
	Enabled bool            `yaml:"enabled"`
	Before  []time.Duration `yaml:"before"`
}

// UIConfig configures the display surface.
type UIConfig struct {
	Backend  string   `yaml:"backend"` // "auto", "gtk", "term", "menu"
	Desktop  bool     `yaml:"desktop"` // pin the GTK window to the background layer
	Theme    string   `yaml:"theme"`   // "system", "light", "dark"
	Width    int      `yaml:"width"`
	Height   int      `yaml:"height"`
	Menu     string   `yaml:"menu"` // dmenu program, auto-detected if empty
	MenuArgs []string `yaml:"menu_args"`
}

// DefaultPath returns $XDG_CONFIG_HOME/calgrid/config.yaml.
func DefaultPath() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("get config dir: %w", err)
	}
	return filepath.Join(configDir, "calgrid", "config.yaml"), nil
}

// Load reads configuration from the default location.
func Load() (*Config, error) {
	path, err := DefaultPath()
	if err != nil {
		return nil, err
	}
	return LoadFrom(path)
}

// LoadFrom reads configuration from a specific path.
func LoadFrom(path string) (*Config, error) {
	data, err := os.ReadFile(expandPath(path))
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes, defaults and validates a YAML document.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	cfg.Sync.Output = expandPath(cfg.Sync.Output)
	for i := range cfg.Sources {
		cfg.Sources[i].Path = expandPath(cfg.Sources[i].Path)
		if cfg.Sources[i].Type == SourceICS {
			cfg.Sources[i].URL = expandPath(cfg.Sources[i].URL)
		}
	}

	return &cfg, nil
}

// applyDefaults sets default values for unspecified config options.
func (c *Config) applyDefaults() {
	if c.Sync.Interval == 0 {
		c.Sync.Interval = 5 * time.Minute
	}
	if c.Sync.Output == "" {
		dataDir, _ := os.UserHomeDir()
		c.Sync.Output = filepath.Join(dataDir, ".local", "share", "calgrid", "calendar.ics")
	}
	if c.Filters.Mode == "" {
		c.Filters.Mode = "or"
	}
	for i := range c.Sources {
		if c.Sources[i].Filters.Mode == "" {
			c.Sources[i].Filters.Mode = "or"
		}
	}
	if !c.Grid.endHourSet {
		c.Grid.EndHour = 23
	}
	if c.Grid.WeekStart == "" {
		c.Grid.WeekStart = "sunday"
	}
	if c.Grid.Lookahead == 0 {
		c.Grid.Lookahead = 72 * time.Hour
	}
	if c.Grid.RefreshInterval == 0 {
		c.Grid.RefreshInterval = time.Minute
	}
	if c.Grid.TimeFormat == "" {
		c.Grid.TimeFormat = "3:04 PM"
	}
	if c.Notifications.Before == nil {
		c.Notifications.Before = []time.Duration{15 * time.Minute, 5 * time.Minute}
	}
	if c.UI.Backend == "" {
		c.UI.Backend = BackendAuto
	}
	if c.UI.Theme == "" {
		c.UI.Theme = "system"
	}
	if c.UI.Width == 0 {
		c.UI.Width = 1100
	}
	if c.UI.Height == 0 {
		c.UI.Height = 700
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	g := c.Grid
	if g.StartHour < 0 || g.StartHour > 23 {
		return fmt.Errorf("grid.start_hour %d out of range 0-23", g.StartHour)
	}
	if g.EndHour < g.StartHour || g.EndHour > 23 {
		return fmt.Errorf("grid.end_hour %d out of range %d-23", g.EndHour, g.StartHour)
	}
	if _, err := ParseWeekday(g.WeekStart); err != nil {
		return fmt.Errorf("grid.week_start: %w", err)
	}
	if g.RefreshInterval < time.Second {
		return fmt.Errorf("grid.refresh_interval %s is shorter than 1s", g.RefreshInterval)
	}
	if _, err := g.Schedule(); err != nil {
		return err
	}

	switch c.UI.Backend {
	case BackendAuto, BackendGTK, BackendTerm, BackendMenu:
	default:
		return fmt.Errorf("ui.backend: unknown backend %q", c.UI.Backend)
	}

	names := make(map[string]bool, len(c.Sources))
	for i, s := range c.Sources {
		if s.Name == "" {
			return fmt.Errorf("sources[%d]: missing name", i)
		}
		if names[s.Name] {
			return fmt.Errorf("sources[%d]: duplicate name %q", i, s.Name)
		}
		names[s.Name] = true

		switch s.Type {
		case SourceICS:
			if s.URL == "" && s.Path == "" {
				return fmt.Errorf("source %q: ics requires url or path", s.Name)
			}
		case SourceCalDAV:
			if s.URL == "" {
				return fmt.Errorf("source %q: caldav requires url", s.Name)
			}
		case SourceICloud:
			if s.Username == "" {
				return fmt.Errorf("source %q: icloud requires username", s.Name)
			}
		case SourceMS365, SourceApple:
		default:
			return fmt.Errorf("source %q: unknown type %q", s.Name, s.Type)
		}
	}
	return nil
}

// Schedule returns when the grid refreshes: the cron spec if one is set,
// otherwise every RefreshInterval.
func (g GridConfig) Schedule() (cron.Schedule, error) {
	if g.RefreshSchedule == "" {
		return cron.Every(g.RefreshInterval), nil
	}
	sched, err := cron.ParseStandard(g.RefreshSchedule)
	if err != nil {
		return nil, fmt.Errorf("grid.refresh_schedule: %w", err)
	}
	return sched, nil
}

// Layout returns the grid shape described by the configuration.
func (g GridConfig) Layout() grid.Config {
	return grid.Config{
		StartHour:  g.StartHour,
		EndHour:    g.EndHour,
		WeekStart:  g.Weekday(),
		Horizon:    g.Lookahead,
		TimeFormat: g.TimeFormat,
	}
}

// Weekday returns the configured first day of the week.
func (g GridConfig) Weekday() time.Weekday {
	d, _ := ParseWeekday(g.WeekStart)
	return d
}

// ParseWeekday parses an English weekday name or its three letter
// abbreviation, ignoring case.
func ParseWeekday(s string) (time.Weekday, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for d := time.Sunday; d <= time.Saturday; d++ {
		name := strings.ToLower(d.String())
		if s == name || s == name[:3] {
			return d, nil
		}
	}
	return 0, fmt.Errorf("unknown weekday %q", s)
}

// GetPassword returns the password for a source, executing password_cmd if needed.
func (s *SourceConfig) GetPassword() (string, error) {
	if s.Password != "" {
		return s.Password, nil
	}
	if s.PasswordCmd == "" {
		return "", nil
	}

	cmd := exec.Command("sh", "-c", s.PasswordCmd)
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("execute password_cmd: %w", err)
	}

	return strings.TrimSpace(string(out)), nil
}

// expandPath expands ~ to the user's home directory.
func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}

// parseDuration extends time.ParseDuration with whole day ("d") and week
// ("w") units. An empty string is zero.
func parseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}

	var unit time.Duration
	switch {
	case strings.HasSuffix(s, "d"):
		unit = 24 * time.Hour
	case strings.HasSuffix(s, "w"):
		unit = 7 * 24 * time.Hour
	default:
		d, err := time.ParseDuration(s)
		if err != nil {
			return 0, err
		}
		if d < 0 {
			return 0, errors.New("negative duration")
		}
		return d, nil
	}

	n, err := strconv.Atoi(s[:len(s)-1])
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	if n < 0 {
		return 0, fmt.Errorf("negative duration %q", s)
	}
	return time.Duration(n) * unit, nil
}

// UnmarshalYAML implements custom unmarshaling for duration fields.
func (c *SyncConfig) UnmarshalYAML(node *yaml.Node) error {
	var raw struct {
		Interval string `yaml:"interval"`
		Output   string `yaml:"output"`
	}
	if err := node.Decode(&raw); err != nil {
		return err
	}

	d, err := parseDuration(raw.Interval)
	if err != nil {
		return fmt.Errorf("parse interval: %w", err)
	}
	c.Interval = d
	c.Output = raw.Output
	return nil
}

// UnmarshalYAML implements custom unmarshaling for grid config.
func (c *GridConfig) UnmarshalYAML(node *yaml.Node) error {
	var raw struct {
		StartHour       int    `yaml:"start_hour"`
		EndHour         *int   `yaml:"end_hour"`
		WeekStart       string `yaml:"week_start"`
		Lookahead       string `yaml:"lookahead"`
		RefreshInterval string `yaml:"refresh_interval"`
		RefreshSchedule string `yaml:"refresh_schedule"`
		TimeFormat      string `yaml:"time_format"`
	}
	if err := node.Decode(&raw); err != nil {
		return err
	}

	lookahead, err := parseDuration(raw.Lookahead)
	if err != nil {
		return fmt.Errorf("parse lookahead: %w", err)
	}
	refresh, err := parseDuration(raw.RefreshInterval)
	if err != nil {
		return fmt.Errorf("parse refresh_interval: %w", err)
	}

	c.StartHour = raw.StartHour
	if raw.EndHour != nil {
		c.EndHour = *raw.EndHour
		c.endHourSet = true
	}
	c.WeekStart = raw.WeekStart
	c.Lookahead = lookahead
	c.RefreshInterval = refresh
	c.RefreshSchedule = strings.TrimSpace(raw.RefreshSchedule)
	c.TimeFormat = raw.TimeFormat
	return nil
}

// UnmarshalYAML implements custom unmarshaling for notification config.
func (c *NotificationConfig) UnmarshalYAML(node *yaml.Node) error {
	var raw struct {
		Enabled bool     `yaml:"enabled"`
		Before  []string `yaml:"before"`
	}
	if err := node.Decode(&raw); err != nil {
		return err
	}

	c.Enabled = raw.Enabled
	for _, s := range raw.Before {
		d, err := parseDuration(s)
		if err != nil {
			return fmt.Errorf("parse notification before duration %q: %w", s, err)
		}
		c.Before = append(c.Before, d)
	}
	return nil
}
