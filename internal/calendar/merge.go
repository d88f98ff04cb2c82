package calendar

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	ics "github.com/emersion/go-ical"
)

// Merge combines events from multiple sources into a single slice sorted by
// start time. Events with equal start times keep their input order.
func Merge(eventSets ...[]Event) []Event {
	var all []Event
	for _, events := range eventSets {
		all = append(all, events...)
	}

	sort.SliceStable(all, func(i, j int) bool {
		return all[i].Start.Before(all[j].Start)
	})

	return all
}

// EncodeICS renders events as a single VCALENDAR.
func EncodeICS(events []Event) ([]byte, error) {
	cal := ics.NewCalendar()
	cal.Props.SetText(ics.PropVersion, "2.0")
	cal.Props.SetText(ics.PropProductID, "-//calgrid//calgrid//EN")

	stamp := time.Now()
	for _, event := range events {
		comp := ics.NewComponent(ics.CompEvent)

		comp.Props.SetText(ics.PropUID, event.UID)
		comp.Props.SetText(ics.PropSummary, event.Summary)
		comp.Props.SetDateTime(ics.PropDateTimeStamp, stamp)

		if event.Description != "" {
			comp.Props.SetText(ics.PropDescription, event.Description)
		}
		if event.Location != "" {
			comp.Props.SetText(ics.PropLocation, event.Location)
		}
		if event.URL != "" {
			comp.Props.SetText(ics.PropURL, event.URL)
		}
		if event.Organizer != "" {
			comp.Props.SetText(ics.PropOrganizer, "mailto:"+event.Organizer)
		}

		if event.AllDay {
			comp.Props.SetDate(ics.PropDateTimeStart, event.Start)
			comp.Props.SetDate(ics.PropDateTimeEnd, event.End)
		} else {
			comp.Props.SetDateTime(ics.PropDateTimeStart, event.Start)
			comp.Props.SetDateTime(ics.PropDateTimeEnd, event.End)
		}

		if event.Color != "" {
			comp.Props.SetText(propColor, event.Color)
		}
		comp.Props.SetText(propExportSource, event.Source)
		if event.Calendar != "" {
			comp.Props.SetText(propExportCalendar, event.Calendar)
		}

		cal.Children = append(cal.Children, comp)
	}

	var buf bytes.Buffer
	if err := ics.NewEncoder(&buf).Encode(cal); err != nil {
		return nil, fmt.Errorf("encode ICS: %w", err)
	}
	return buf.Bytes(), nil
}

// WriteICS writes events to an ICS file atomically.
// It writes to a temp file first, then renames to the final path.
func WriteICS(path string, events []Event) error {
	data, err := EncodeICS(events)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename temp file: %w", err)
	}

	return nil
}

// ReadICS reads the events of an ICS file that overlap [start, end),
// sorted by start time.
func ReadICS(path string, start, end time.Time) ([]Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open ICS file: %w", err)
	}
	defer f.Close()

	events, err := decodeICS(f, "", start, end)
	if err != nil {
		return nil, err
	}
	return Merge(events), nil
}
