package cardgraph

import (
	"encoding/json"
	"slices"
	"sort"
	"strconv"
	"strings"
)

type ProvenanceKind string

const (
	KindPack       ProvenanceKind = "pack_co_occurrences"
	KindArchetype  ProvenanceKind = "archetype_co_occurrences"
	KindAttribute  ProvenanceKind = "attribute_relationships"
	KindFormat     ProvenanceKind = "format_legality"
	KindTournament ProvenanceKind = "tournament_performance"
)

// Provenance is one auxiliary-source record attached to an edge. SourceID
// identifies the source instance; an edge holds at most one record per
// (Kind, SourceID).
type Provenance interface {
	Kind() ProvenanceKind
	SourceID() string
}

type PackRecord struct {
	PackID      string `json:"pack_id"`
	PackName    string `json:"pack_name,omitempty"`
	PackCode    string `json:"pack_code,omitempty"`
	PackType    string `json:"pack_type,omitempty"`
	ReleaseDate string `json:"release_date,omitempty"`
}

func (r PackRecord) Kind() ProvenanceKind { return KindPack }
func (r PackRecord) SourceID() string     { return r.PackID }

type ArchetypeRecord struct {
	Archetype string `json:"archetype"`
	Weight    int64  `json:"weight"`
}

func (r ArchetypeRecord) Kind() ProvenanceKind { return KindArchetype }
func (r ArchetypeRecord) SourceID() string     { return r.Archetype }

type AttributeRecord struct {
	Type   string `json:"type"`
	Value  string `json:"value,omitempty"`
	Weight int64  `json:"weight"`
}

func (r AttributeRecord) Kind() ProvenanceKind { return KindAttribute }
func (r AttributeRecord) SourceID() string     { return r.Type + ":" + r.Value }

type FormatRecord struct {
	Format string `json:"format"`
	Weight int64  `json:"weight"`
}

func (r FormatRecord) Kind() ProvenanceKind { return KindFormat }
func (r FormatRecord) SourceID() string     { return r.Format }

type TournamentRecord struct {
	TopPlacements    []int `json:"top_placements"`
	PerformanceBoost int64 `json:"performance_boost"`
	MinPlacement     int   `json:"min_placement"`
}

func (r TournamentRecord) Kind() ProvenanceKind { return KindTournament }

// SourceID is the sorted placement set, so the same placements are counted once.
func (r TournamentRecord) SourceID() string {
	ps := slices.Clone(r.TopPlacements)
	sort.Ints(ps)
	parts := make([]string, len(ps))
	for i, p := range ps {
		parts[i] = strconv.Itoa(p)
	}
	return strings.Join(parts, ",")
}

// EdgeMetadata holds deck-level aggregates and typed provenance lists. Keys it
// does not know are preserved verbatim in Extra.
type EdgeMetadata struct {
	Partitions []string `json:"partitions,omitempty"`
	Formats    []string `json:"formats,omitempty"`
	Archetypes []string `json:"archetypes,omitempty"`
	Placements []int    `json:"placements,omitempty"`
	EventDates []string `json:"event_dates,omitempty"`

	Packs          []PackRecord       `json:"pack_co_occurrences,omitempty"`
	ArchetypeLinks []ArchetypeRecord  `json:"archetype_co_occurrences,omitempty"`
	AttributeLinks []AttributeRecord  `json:"attribute_relationships,omitempty"`
	FormatLegality []FormatRecord     `json:"format_legality,omitempty"`
	Tournament     []TournamentRecord `json:"tournament_performance,omitempty"`

	Extra map[string]json.RawMessage `json:"-"`
}

// AddProvenance appends p unless a record with the same source id is
// already present. It reports whether p was added.
func (m *EdgeMetadata) AddProvenance(p Provenance) bool {
	if m.HasProvenance(p) {
		return false
	}

	switch r := p.(type) {
	case PackRecord:
		m.Packs = append(m.Packs, r)
	case ArchetypeRecord:
		m.ArchetypeLinks = append(m.ArchetypeLinks, r)
	case AttributeRecord:
		m.AttributeLinks = append(m.AttributeLinks, r)
	case FormatRecord:
		m.FormatLegality = append(m.FormatLegality, r)
	case TournamentRecord:
		m.Tournament = append(m.Tournament, r)
	default:
		return false
	}
	return true
}

func (m *EdgeMetadata) HasProvenance(p Provenance) bool {
	id := p.SourceID()
	for _, existing := range m.provenance(p.Kind()) {
		if existing.SourceID() == id {
			return true
		}
	}
	return false
}

func (m *EdgeMetadata) ProvenanceCount(kind ProvenanceKind) int {
	return len(m.provenance(kind))
}

func (m *EdgeMetadata) provenance(kind ProvenanceKind) []Provenance {
	var out []Provenance
	switch kind {
	case KindPack:
		for _, r := range m.Packs {
			out = append(out, r)
		}
	case KindArchetype:
		for _, r := range m.ArchetypeLinks {
			out = append(out, r)
		}
	case KindAttribute:
		for _, r := range m.AttributeLinks {
			out = append(out, r)
		}
	case KindFormat:
		for _, r := range m.FormatLegality {
			out = append(out, r)
		}
	case KindTournament:
		for _, r := range m.Tournament {
			out = append(out, r)
		}
	}
	return out
}

// AddFormat and AddArchetype keep their lists free of duplicates.
func (m *EdgeMetadata) AddFormat(format string) {
	m.Formats = appendUnique(m.Formats, format)
}

func (m *EdgeMetadata) AddArchetype(archetype string) {
	m.Archetypes = appendUnique(m.Archetypes, archetype)
}

func (m *EdgeMetadata) AddPartitions(partitions ...string) {
	for _, p := range partitions {
		m.Partitions = appendUnique(m.Partitions, p)
	}
}

func (m *EdgeMetadata) IsEmpty() bool {
	return len(m.Partitions) == 0 && len(m.Formats) == 0 && len(m.Archetypes) == 0 &&
		len(m.Placements) == 0 && len(m.EventDates) == 0 && len(m.Packs) == 0 &&
		len(m.ArchetypeLinks) == 0 && len(m.AttributeLinks) == 0 &&
		len(m.FormatLegality) == 0 && len(m.Tournament) == 0 && len(m.Extra) == 0
}

func appendUnique(list []string, v string) []string {
	if v == "" || slices.Contains(list, v) {
		return list
	}
	return append(list, v)
}

type edgeMetadataJSON EdgeMetadata

func (m EdgeMetadata) MarshalJSON() ([]byte, error) {
	known, err := json.Marshal(edgeMetadataJSON(m))
	if err != nil {
		return nil, err
	}
	if len(m.Extra) == 0 {
		return known, nil
	}

	merged := map[string]json.RawMessage{}
	if err := json.Unmarshal(known, &merged); err != nil {
		return nil, err
	}
	for k, v := range m.Extra {
		if _, ok := merged[k]; !ok {
			merged[k] = v
		}
	}
	return json.Marshal(merged)
}

// UnmarshalJSON is tolerant: a known key whose value has the wrong shape is
// kept in Extra instead of failing the whole edge.
func (m *EdgeMetadata) UnmarshalJSON(data []byte) error {
	*m = EdgeMetadata{}
	if string(data) == "null" {
		return nil
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	for key, value := range raw {
		var ok bool
		switch key {
		case "partitions":
			ok = decodeField(value, &m.Partitions)
		case "formats":
			ok = decodeField(value, &m.Formats)
		case "archetypes":
			ok = decodeField(value, &m.Archetypes)
		case "placements":
			m.Placements, ok = decodePlacements(value)
		case "event_dates":
			ok = decodeField(value, &m.EventDates)
		case string(KindPack):
			ok = decodeField(value, &m.Packs)
		case string(KindArchetype):
			ok = decodeField(value, &m.ArchetypeLinks)
		case string(KindAttribute):
			ok = decodeField(value, &m.AttributeLinks)
		case string(KindFormat):
			ok = decodeField(value, &m.FormatLegality)
		case string(KindTournament):
			m.Tournament, ok = decodeTournament(value)
		}
		if !ok {
			if m.Extra == nil {
				m.Extra = map[string]json.RawMessage{}
			}
			m.Extra[key] = value
		}
	}
	return nil
}

// decodeField sets dst only when all of raw decodes, so a value that goes to
// Extra never leaves a partial copy behind in the typed field.
func decodeField[T any](raw json.RawMessage, dst *T) bool {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return false
	}
	*dst = v
	return true
}

// decodePlacements accepts integers and numeric strings, skipping anything else.
func decodePlacements(raw json.RawMessage) ([]int, bool) {
	var items []any
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, false
	}
	out := make([]int, 0, len(items))
	for _, item := range items {
		if p, ok := ParsePlacement(item); ok {
			out = append(out, p)
		}
	}
	return out, true
}

// older graphs stored a single tournament_performance object
func decodeTournament(raw json.RawMessage) ([]TournamentRecord, bool) {
	var list []TournamentRecord
	if err := json.Unmarshal(raw, &list); err == nil {
		return list, true
	}
	var single TournamentRecord
	if err := json.Unmarshal(raw, &single); err == nil && len(single.TopPlacements) > 0 {
		return []TournamentRecord{single}, true
	}
	return nil, false
}

// ParsePlacement converts a placement given as a number or numeric string.
func ParsePlacement(v any) (int, bool) {
	switch p := v.(type) {
	case float64:
		if p < 1 {
			return 0, false
		}
		return int(p), true
	case int:
		return p, p >= 1
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil || n < 1 {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}
