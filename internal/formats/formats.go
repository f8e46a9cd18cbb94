// Package formats holds the format calendar: rotations, ban list updates and
// regulation marks per game and format. It resolves the format-period keys
// used to bucket edge occurrences by era.
package formats

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"slices"
	"sort"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	EventRotation   = "rotation"
	EventBan        = "ban"
	EventSetRelease = "set_release"

	dateLayout = "2006-01-02"
)

var (
	ErrUnknownGame = errors.New("unknown game")
	ErrNoFormat    = errors.New("empty format")
)

//go:embed calendar.yaml
var defaultCalendar []byte

// Event is one dated change to a format.
type Event struct {
	Date         time.Time
	Type         string
	Game         string
	Format       string
	Description  string
	RotatedSets  []string
	RotatedMarks []string
	LegalMarks   []string
	Banned       []string
	Limited      []string
	SemiLimited  []string
	// Region is "OCG", "TCG" or empty for both.
	Region string
}

// Period is an inclusive interval during which a format was stable.
type Period struct {
	Start time.Time
	End   time.Time
}

func (p Period) Contains(t time.Time) bool {
	return !t.Before(p.Start) && !t.After(p.End)
}

type eventYAML struct {
	Date         string   `yaml:"date"`
	Type         string   `yaml:"type"`
	Description  string   `yaml:"description"`
	RotatedSets  []string `yaml:"rotated_sets"`
	RotatedMarks []string `yaml:"rotated_marks"`
	LegalMarks   []string `yaml:"legal_marks"`
	Banned       []string `yaml:"banned"`
	Limited      []string `yaml:"limited"`
	SemiLimited  []string `yaml:"semi_limited"`
	Region       string   `yaml:"region"`
}

// Calendar is immutable after construction and safe for concurrent use.
type Calendar struct {
	events map[string]map[string][]Event
}

// Default returns the built-in calendar.
func Default() *Calendar {
	c, err := Parse(defaultCalendar)
	if err != nil {
		panic(fmt.Sprintf("formats: built-in calendar: %v", err))
	}
	return c
}

func LoadFile(path string) (*Calendar, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse reads a calendar document keyed by game, then format.
func Parse(data []byte) (*Calendar, error) {
	var raw map[string]map[string][]eventYAML
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse calendar: %w", err)
	}

	c := &Calendar{events: map[string]map[string][]Event{}}
	for game, formats := range raw {
		c.events[game] = map[string][]Event{}
		for format, events := range formats {
			list := make([]Event, 0, len(events))
			for _, e := range events {
				date, err := time.Parse(dateLayout, e.Date)
				if err != nil {
					return nil, fmt.Errorf("%s %s: event date %q: %w", game, format, e.Date, err)
				}
				list = append(list, Event{
					Date:         date,
					Type:         e.Type,
					Game:         game,
					Format:       format,
					Description:  e.Description,
					RotatedSets:  e.RotatedSets,
					RotatedMarks: e.RotatedMarks,
					LegalMarks:   e.LegalMarks,
					Banned:       e.Banned,
					Limited:      e.Limited,
					SemiLimited:  e.SemiLimited,
					Region:       e.Region,
				})
			}
			sort.SliceStable(list, func(i, j int) bool { return list[i].Date.Before(list[j].Date) })
			c.events[game][format] = list
		}
	}
	return c, nil
}

// Events returns the events of a format between from and to, both inclusive,
// in date order. A zero bound is open.
func (c *Calendar) Events(game, format string, from, to time.Time) []Event {
	var out []Event
	for _, e := range c.events[game][format] {
		if !from.IsZero() && e.Date.Before(from) {
			continue
		}
		if !to.IsZero() && e.Date.After(to) {
			continue
		}
		out = append(out, e)
	}
	return out
}

// PeriodKey returns the period a format label falls into at the given time:
//
//   - Pokémon Standard uses the last legal regulation mark of the latest rotation, e.g. "Standard_H"
//   - Yu-Gi-Oh uses the ban list quarter, e.g. "Advanced_2025-Q4"
//   - everything else uses the year, e.g. "Modern_2024"
//
// It never mutates the calendar.
func (c *Calendar) PeriodKey(game, format string, at time.Time) (string, error) {
	if game == "" {
		return "", ErrUnknownGame
	}
	if format == "" {
		return "", ErrNoFormat
	}

	switch {
	case game == "PKM" && format == "Standard":
		events := c.Events(game, format, time.Time{}, at)
		for i := len(events) - 1; i >= 0; i-- {
			e := events[i]
			if e.Type == EventRotation && len(e.LegalMarks) > 0 {
				return fmt.Sprintf("%s_%s", format, e.LegalMarks[len(e.LegalMarks)-1]), nil
			}
		}
		return fmt.Sprintf("%s_%d", format, at.Year()), nil
	case game == "YGO":
		quarter := (int(at.Month())-1)/3 + 1
		return fmt.Sprintf("%s_%d-Q%d", format, at.Year(), quarter), nil
	default:
		return fmt.Sprintf("%s_%d", format, at.Year()), nil
	}
}

// IsCardLegal reports whether no ban on or before at names the card.
// Limited and semi-limited cards stay legal. Set rotation is not checked.
func (c *Calendar) IsCardLegal(card, game, format string, at time.Time) bool {
	for _, e := range c.Events(game, format, time.Time{}, at) {
		if e.Type == EventBan && slices.Contains(e.Banned, card) {
			return false
		}
	}
	return true
}

// LegalPeriods splits the history of a format at each rotation, ending the
// last period at now. A format without events has one period.
func (c *Calendar) LegalPeriods(game, format string, now time.Time) []Period {
	start := time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

	var periods []Period
	for _, e := range c.Events(game, format, time.Time{}, time.Time{}) {
		if e.Type != EventRotation {
			continue
		}
		if start.Before(e.Date) {
			periods = append(periods, Period{Start: start, End: e.Date})
		}
		start = e.Date
	}
	return append(periods, Period{Start: start, End: now})
}

func InPeriods(at time.Time, periods []Period) bool {
	for _, p := range periods {
		if p.Contains(at) {
			return true
		}
	}
	return false
}
