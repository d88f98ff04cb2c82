package sync

import (
	"fmt"
	"log/slog"

	"github.com/cpuguy83/calgrid/internal/calendar"
	"github.com/cpuguy83/calgrid/internal/config"
	"github.com/cpuguy83/calgrid/internal/filter"
)

// NewSyncer creates a new Syncer from configuration.
func NewSyncer(cfg *config.Config) (*Syncer, error) {
	sources, err := createSources(cfg.Sources)
	if err != nil {
		return nil, err
	}

	global, err := filter.New(cfg.Filters)
	if err != nil {
		return nil, fmt.Errorf("global filters: %w", err)
	}

	return newSyncer(sources, Options{
		Interval:  cfg.Sync.Interval,
		Horizon:   cfg.Grid.Lookahead,
		WeekStart: cfg.Grid.Weekday(),
		Filter:    global,
	}), nil
}

// Close releases resources held by sources.
func (s *Syncer) Close() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, swf := range s.sources {
		if c, ok := swf.source.(interface{ Close() error }); ok {
			if err := c.Close(); err != nil {
				slog.Debug("close source", "name", swf.source.Name(), "error", err)
			}
		}
	}
	return nil
}

// createSources creates calendar sources with their per-source filters from configuration.
func createSources(cfgs []config.SourceConfig) ([]sourceWithFilter, error) {
	var sources []sourceWithFilter

	for _, cfg := range cfgs {
		var src calendar.Source

		switch cfg.Type {
		case config.SourceICS:
			password, err := cfg.GetPassword()
			if err != nil {
				return nil, fmt.Errorf("source %s: %w", cfg.Name, err)
			}
			location := cfg.URL
			if location == "" {
				location = cfg.Path
			}
			src = calendar.NewICSSource(cfg.Name, location, cfg.Username, password, cfg.Color)

		case config.SourceCalDAV:
			password, err := cfg.GetPassword()
			if err != nil {
				return nil, fmt.Errorf("source %s: %w", cfg.Name, err)
			}
			src = calendar.NewCalDAVSource(cfg.Name, cfg.URL, cfg.Username, password, cfg.Color, cfg.Calendars)

		case config.SourceICloud:
			password, err := cfg.GetPassword()
			if err != nil {
				return nil, fmt.Errorf("source %s: %w", cfg.Name, err)
			}
			src = calendar.NewICloudSource(cfg.Name, cfg.Username, password, cfg.Color, cfg.Calendars)

		case config.SourceMS365:
			src = calendar.NewMS365Source(cfg.Name, cfg.Color)

		case config.SourceApple:
			src = calendar.NewAppleSource(cfg.Name, cfg.Path, cfg.Calendars)

		default:
			slog.Warn("unknown source type", "type", cfg.Type, "name", cfg.Name)
			continue
		}

		f, err := filter.New(cfg.Filters)
		if err != nil {
			return nil, fmt.Errorf("source %s filters: %w", cfg.Name, err)
		}

		sources = append(sources, sourceWithFilter{
			source: src,
			filter: f,
		})
	}

	return sources, nil
}
