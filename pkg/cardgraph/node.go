package cardgraph

import (
	"encoding/json"
	"time"
)

func NewCardNode(name, game string, at time.Time) *CardNode {
	return &CardNode{
		Name:       name,
		Game:       game,
		FirstSeen:  at,
		LastSeen:   at,
		Attributes: map[string]any{},
	}
}

// Observe records one more deck containing the card.
func (n *CardNode) Observe(at time.Time, game string, attrs map[string]any) {
	n.TotalDecks++
	n.widen(at)

	if n.Game == "" && game != "" {
		n.Game = game
	}

	n.MergeAttributes(attrs)
}

// MergeAttributes merges attrs into the node; existing keys are overwritten,
// keys absent from attrs are kept. Values are stored in their JSON form
// (float64, []any, map[string]any) so a node reads back from either store
// exactly as it was saved.
func (n *CardNode) MergeAttributes(attrs map[string]any) {
	if len(attrs) == 0 {
		return
	}
	if n.Attributes == nil {
		n.Attributes = make(map[string]any, len(attrs))
	}
	for k, v := range attrs {
		n.Attributes[k] = jsonValue(v)
	}
}

func jsonValue(v any) any {
	switch v.(type) {
	case nil, string, bool, float64:
		return v
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return v
	}
	return out
}

func (n *CardNode) widen(at time.Time) {
	if at.IsZero() {
		return
	}
	if n.FirstSeen.IsZero() || at.Before(n.FirstSeen) {
		n.FirstSeen = at
	}
	if n.LastSeen.IsZero() || at.After(n.LastSeen) {
		n.LastSeen = at
	}
}
