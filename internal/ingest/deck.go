package ingest

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/arclabs561/decksage-sub002/internal/classifier"
	"github.com/arclabs561/decksage-sub002/pkg/cardgraph"
)

const (
	PartitionMain      = "Main"
	PartitionSideboard = "Sideboard"
)

type CardEntry struct {
	Name      string
	Count     int
	Partition string
}

// Deck is one decklist. It decodes from three document shapes:
//
//	{"partitions": [{"name": "Main", "cards": [{"name": "Bolt", "count": 4}]}]}
//	{"cards": [{"name": "Bolt", "count": 4, "partition": "Main"}]}
//	{"Main": [{"name": "Bolt", "count": 4}], "Sideboard": ["Shock"]}
//
// Card entries may be plain names, which count once.
type Deck struct {
	ID        string
	Game      string
	Timestamp time.Time
	Cards     []CardEntry

	// Meta holds deck-level metadata found in the document itself.
	Meta DeckMetadata
}

// keys that never hold a partition in the partition-map shape
var reservedKeys = map[string]bool{
	"id": true, "deck_id": true, "game": true, "name": true, "url": true, "source": true,
	"player": true, "tags": true, "type": true, "metadata": true, "timestamp": true,
	"date": true, "scraped_at": true, "event_date": true, "eventDate": true,
	"format": true, "placement": true, "archetype": true, "round_results": true,
	"roundResults": true, "tournament_type": true, "tournamentType": true,
	"tournament_size": true, "tournamentSize": true, "tournament_id": true,
	"tournamentId": true, "location": true, "region": true, "meta_share": true,
	"metaShare": true, "days_since_rotation": true, "daysSinceRotation": true,
	"days_since_ban_update": true, "daysSinceBanUpdate": true,
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func (d *Deck) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: deck: %v", cardgraph.ErrMalformedRecord, err)
	}

	doc := document{top: raw}
	if t, ok := raw["type"]; ok {
		var typ struct {
			Inner map[string]json.RawMessage `json:"inner"`
		}
		if json.Unmarshal(t, &typ) == nil {
			doc.inner = typ.Inner
		}
	}

	*d = Deck{
		ID:   stringValue(doc.top["deck_id"]),
		Game: classifier.NormalizeGame(stringValue(doc.top["game"])),
	}
	if d.ID == "" {
		d.ID = stringValue(doc.top["id"])
	}

	if ts := stringValue(doc.get("timestamp", "date", "scraped_at", "event_date", "eventDate")); ts != "" {
		d.Timestamp, _ = ParseTimestamp(ts)
	}

	cards, err := decodeCards(raw)
	if err != nil {
		return err
	}
	d.Cards = cards
	d.Meta = doc.metadata()

	return nil
}

// ParseTimestamp accepts RFC 3339, naive ISO date-times and plain dates.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

// document looks keys up at the top level first, then in type.inner.
type document struct {
	top   map[string]json.RawMessage
	inner map[string]json.RawMessage
}

func (d document) get(keys ...string) json.RawMessage {
	for _, m := range []map[string]json.RawMessage{d.top, d.inner} {
		for _, k := range keys {
			if v, ok := m[k]; ok && !isNull(v) {
				return v
			}
		}
	}
	return nil
}

func (d document) metadata() DeckMetadata {
	m := DeckMetadata{
		Format:         stringValue(d.get("format")),
		EventDate:      stringValue(d.get("event_date", "eventDate")),
		Archetype:      stringValue(d.get("archetype")),
		TournamentType: stringValue(d.get("tournament_type", "tournamentType")),
		TournamentID:   stringValue(d.get("tournament_id", "tournamentId")),
		Location:       stringValue(d.get("location")),
		Region:         stringValue(d.get("region")),
	}
	if p, ok := anyValue(d.get("placement")); ok {
		m.Placement, _ = cardgraph.ParsePlacement(p)
	}
	if n, ok := numberValue(d.get("tournament_size", "tournamentSize")); ok {
		m.TournamentSize = int(n)
	}
	if n, ok := numberValue(d.get("days_since_rotation", "daysSinceRotation")); ok {
		v := int(n)
		m.DaysSinceRotation = &v
	}
	if n, ok := numberValue(d.get("days_since_ban_update", "daysSinceBanUpdate")); ok {
		v := int(n)
		m.DaysSinceBanUpdate = &v
	}
	if n, ok := numberValue(d.get("meta_share", "metaShare")); ok {
		m.MetaShare = &n
	}
	if rr := d.get("round_results", "roundResults"); rr != nil {
		m.RoundResults = rr
	}
	return m
}

func decodeCards(raw map[string]json.RawMessage) ([]CardEntry, error) {
	if p, ok := raw["partitions"]; ok && !isNull(p) {
		return decodePartitions(p)
	}
	if c, ok := raw["cards"]; ok && !isNull(c) {
		return decodeCardList(c, PartitionMain)
	}

	// partition-map shape
	names := make([]string, 0, len(raw))
	for k := range raw {
		if !reservedKeys[k] {
			names = append(names, k)
		}
	}
	sort.Strings(names)

	var cards []CardEntry
	for _, name := range names {
		entries, err := decodeCardList(raw[name], name)
		if err != nil {
			continue
		}
		cards = append(cards, entries...)
	}
	return cards, nil
}

func decodePartitions(raw json.RawMessage) ([]CardEntry, error) {
	var list []struct {
		Name  string          `json:"name"`
		Cards json.RawMessage `json:"cards"`
	}
	if err := json.Unmarshal(raw, &list); err == nil {
		var cards []CardEntry
		for _, p := range list {
			name := p.Name
			if name == "" {
				name = PartitionMain
			}
			entries, err := decodeCardList(p.Cards, name)
			if err != nil {
				return nil, err
			}
			cards = append(cards, entries...)
		}
		return cards, nil
	}

	var byName map[string]json.RawMessage
	if err := json.Unmarshal(raw, &byName); err != nil {
		return nil, fmt.Errorf("%w: partitions: %v", cardgraph.ErrMalformedRecord, err)
	}
	names := make([]string, 0, len(byName))
	for k := range byName {
		names = append(names, k)
	}
	sort.Strings(names)

	var cards []CardEntry
	for _, name := range names {
		entries, err := decodeCardList(byName[name], name)
		if err != nil {
			return nil, err
		}
		cards = append(cards, entries...)
	}
	return cards, nil
}

func decodeCardList(raw json.RawMessage, partition string) ([]CardEntry, error) {
	if isNull(raw) {
		return nil, nil
	}

	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("%w: card list: %v", cardgraph.ErrMalformedRecord, err)
	}

	cards := make([]CardEntry, 0, len(items))
	for _, item := range items {
		var name string
		if json.Unmarshal(item, &name) == nil {
			cards = append(cards, CardEntry{Name: name, Count: 1, Partition: partition})
			continue
		}

		var obj struct {
			Name      string          `json:"name"`
			Count     json.RawMessage `json:"count"`
			Partition string          `json:"partition"`
		}
		if err := json.Unmarshal(item, &obj); err != nil {
			return nil, fmt.Errorf("%w: card entry: %v", cardgraph.ErrMalformedRecord, err)
		}
		entry := CardEntry{Name: obj.Name, Count: 1, Partition: partition}
		if obj.Partition != "" {
			entry.Partition = obj.Partition
		}
		if n, ok := numberValue(obj.Count); ok {
			entry.Count = int(n)
		}
		cards = append(cards, entry)
	}
	return cards, nil
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}

func anyValue(raw json.RawMessage) (any, bool) {
	if isNull(raw) {
		return nil, false
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, false
	}
	return v, true
}

// stringValue decodes a string, or the text of a number.
func stringValue(raw json.RawMessage) string {
	v, ok := anyValue(raw)
	if !ok {
		return ""
	}
	switch s := v.(type) {
	case string:
		return strings.TrimSpace(s)
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	default:
		return ""
	}
}

// numberValue decodes a number or a numeric string.
func numberValue(raw json.RawMessage) (float64, bool) {
	v, ok := anyValue(raw)
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	default:
		return 0, false
	}
}
