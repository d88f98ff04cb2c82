// Package filter provides include filtering for calendar events.
package filter

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/cpuguy83/calgrid/internal/calendar"
	"github.com/cpuguy83/calgrid/internal/config"
)

// fields maps rule field names to event accessors.
var fields = map[string]func(calendar.Event) string{
	"title":       func(e calendar.Event) string { return e.Summary },
	"summary":     func(e calendar.Event) string { return e.Summary },
	"organizer":   func(e calendar.Event) string { return e.Organizer },
	"source":      func(e calendar.Event) string { return e.Source },
	"calendar":    func(e calendar.Event) string { return e.Calendar },
	"description": func(e calendar.Event) string { return e.Description },
	"location":    func(e calendar.Event) string { return e.Location },
}

// Filter applies include rules to events.
type Filter struct {
	all   bool // "and" mode
	rules []rule
}

type rule struct {
	value func(calendar.Event) string
	match func(string) bool
}

// New creates a new filter from configuration.
func New(cfg config.FilterConfig) (*Filter, error) {
	f := &Filter{}
	switch cfg.Mode {
	case "", "or":
	case "and":
		f.all = true
	default:
		return nil, fmt.Errorf("unknown filter mode %q", cfg.Mode)
	}

	for i, r := range cfg.Rules {
		compiled, err := compileRule(r)
		if err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}
		f.rules = append(f.rules, compiled)
	}

	return f, nil
}

func compileRule(r config.FilterRule) (rule, error) {
	value, ok := fields[r.Field]
	if !ok {
		return rule{}, fmt.Errorf("unknown field %q", r.Field)
	}

	fold := func(s string) string { return s }
	if r.CaseInsensitive {
		fold = strings.ToLower
	}

	var match func(string) bool
	switch {
	case r.Regex != "":
		pattern := r.Regex
		if r.CaseInsensitive {
			pattern = "(?i)" + pattern
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return rule{}, fmt.Errorf("invalid regex %q: %w", r.Regex, err)
		}
		match = re.MatchString
	case r.Exact != "":
		want := fold(r.Exact)
		match = func(s string) bool { return fold(s) == want }
	case r.Prefix != "":
		want := fold(r.Prefix)
		match = func(s string) bool { return strings.HasPrefix(fold(s), want) }
	case r.Suffix != "":
		want := fold(r.Suffix)
		match = func(s string) bool { return strings.HasSuffix(fold(s), want) }
	case r.Contains != "":
		want := fold(r.Contains)
		match = func(s string) bool { return strings.Contains(fold(s), want) }
	default:
		return rule{}, errors.New("no match pattern specified (use contains, exact, prefix, suffix, or regex)")
	}

	return rule{value: value, match: match}, nil
}

// Apply filters events, returning only those that match the include rules.
// If no rules are defined, all events are returned.
func (f *Filter) Apply(events []calendar.Event) []calendar.Event {
	if f == nil || len(f.rules) == 0 {
		return events
	}

	var filtered []calendar.Event
	for _, event := range events {
		if f.Match(event) {
			filtered = append(filtered, event)
		}
	}
	return filtered
}

// Match reports whether a single event passes the rules.
func (f *Filter) Match(event calendar.Event) bool {
	if f == nil || len(f.rules) == 0 {
		return true
	}
	for _, r := range f.rules {
		ok := r.match(r.value(event))
		if f.all && !ok {
			return false
		}
		if !f.all && ok {
			return true
		}
	}
	return f.all
}
