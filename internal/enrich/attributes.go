package enrich

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/arclabs561/decksage-sub002/pkg/cardgraph"
)

// Attribute group types.
const (
	AttrColorIdentity = "color_identity"
	AttrType          = "type"
	AttrKeyword       = "keyword"
	AttrSet           = "set"
	AttrRarity        = "rarity"
)

// AttributeTable maps a card name to its attributes. List-valued attributes
// (color_identity, keywords, subtypes) are []string.
type AttributeTable map[string]map[string]any

// listColumns are split on commas when read from CSV.
var listColumns = map[string]bool{"color_identity": true, "keywords": true, "subtypes": true}

var columnAliases = map[string]string{
	"card":      "name",
	"card_name": "name",
	"colors":    "color_identity",
	"type_line": "type",
	"set_code":  "set",
}

// LoadAttributesCSV reads a card attribute table with a name column and any
// of color_identity, type, keywords, subtypes, set and rarity.
func LoadAttributesCSV(path string) (AttributeTable, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	t, err := ReadAttributesCSV(f)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return t, nil
}

func ReadAttributesCSV(r io.Reader) (AttributeTable, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	cols := make([]string, len(header))
	nameCol := -1
	for i, h := range header {
		col := strings.ToLower(strings.TrimSpace(h))
		if alias, ok := columnAliases[col]; ok {
			col = alias
		}
		cols[i] = col
		if col == "name" && nameCol < 0 {
			nameCol = i
		}
	}
	if nameCol < 0 {
		return nil, errors.New("attribute csv needs a name column")
	}

	table := AttributeTable{}
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if nameCol >= len(rec) {
			continue
		}
		name := strings.TrimSpace(rec[nameCol])
		if name == "" {
			continue
		}

		attrs := map[string]any{}
		for i, v := range rec {
			if i == nameCol || i >= len(cols) {
				continue
			}
			v = strings.TrimSpace(v)
			if v == "" {
				continue
			}
			if _, seen := attrs[cols[i]]; seen {
				continue
			}
			if listColumns[cols[i]] {
				attrs[cols[i]] = splitList(v)
			} else {
				attrs[cols[i]] = v
			}
		}
		table[name] = attrs
	}
	return table, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func stringList(v any) []string {
	switch l := v.(type) {
	case []string:
		return l
	case []any:
		out := make([]string, 0, len(l))
		for _, item := range l {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	case string:
		return splitList(l)
	default:
		return nil
	}
}

// groups buckets each card by every attribute value it carries, keyed by
// "type:value".
func (t AttributeTable) groups(include func(string) bool) map[string]cardSet {
	groups := map[string]cardSet{}
	add := func(kind, value, card string) {
		if value == "" {
			return
		}
		key := kind + ":" + value
		if groups[key] == nil {
			groups[key] = cardSet{}
		}
		groups[key].add(card)
	}

	for card, attrs := range t {
		if !include(card) {
			continue
		}

		if colors := stringList(attrs["color_identity"]); len(colors) > 0 {
			sorted := append([]string(nil), colors...)
			sort.Strings(sorted)
			add(AttrColorIdentity, strings.Join(sorted, ""), card)
		}
		if typ, ok := attrs["type"].(string); ok {
			// type lines group by their first word, e.g. "Creature"
			if fields := strings.Fields(typ); len(fields) > 0 {
				add(AttrType, fields[0], card)
			}
		}
		for _, kw := range stringList(attrs["keywords"]) {
			add(AttrKeyword, kw, card)
		}
		if set, ok := attrs["set"].(string); ok {
			add(AttrSet, set, card)
		}
		if rarity, ok := attrs["rarity"].(string); ok {
			add(AttrRarity, rarity, card)
		}
	}
	return groups
}

// AttributeIntegrator links graph cards sharing an attribute value. Every
// group is quadratic in its size, so Options.MaxGroup should stay set.
type AttributeIntegrator struct {
	Table     AttributeTable
	Increment int64
	Options   Options
}

func (ai *AttributeIntegrator) Name() string { return NameAttributes }

func (ai *AttributeIntegrator) Apply(ctx context.Context, g *cardgraph.Graph) (Report, error) {
	rep := Report{Integrator: NameAttributes}

	groups := ai.Table.groups(func(card string) bool {
		n, ok := g.Nodes[card]
		return ok && (ai.Options.Game == "" || n.Game == ai.Options.Game)
	})

	for _, key := range sortedKeys(groups) {
		kind, value, _ := strings.Cut(key, ":")
		src := cardgraph.AttributeRecord{Type: kind, Value: value, Weight: ai.Increment}
		if err := strengthenGroup(ctx, g, &rep, ai.Options, groups[key].sorted(), ai.Increment, src, time.Time{}); err != nil {
			return rep, err
		}
	}
	return rep, nil
}

// ApplyNodeAttributes merges table attributes into the matching nodes and
// returns how many nodes changed.
func ApplyNodeAttributes(g *cardgraph.Graph, table AttributeTable) int {
	n := 0
	for name, attrs := range table {
		node, ok := g.Nodes[name]
		if !ok || len(attrs) == 0 {
			continue
		}
		node.MergeAttributes(attrs)
		n++
	}
	return n
}
