package ingest

import (
	"context"
	"encoding/json"
	"sync"
)

// DeckMetadata is the deck-level context aggregated onto every edge a deck touches.
type DeckMetadata struct {
	Format             string          `json:"format,omitempty"`
	Placement          int             `json:"placement,omitempty"`
	EventDate          string          `json:"event_date,omitempty"`
	Archetype          string          `json:"archetype,omitempty"`
	TournamentType     string          `json:"tournament_type,omitempty"`
	TournamentSize     int             `json:"tournament_size,omitempty"`
	TournamentID       string          `json:"tournament_id,omitempty"`
	Location           string          `json:"location,omitempty"`
	Region             string          `json:"region,omitempty"`
	DaysSinceRotation  *int            `json:"days_since_rotation,omitempty"`
	DaysSinceBanUpdate *int            `json:"days_since_ban_update,omitempty"`
	MetaShare          *float64        `json:"meta_share,omitempty"`
	RoundResults       json.RawMessage `json:"round_results,omitempty"`
}

func (m DeckMetadata) IsEmpty() bool {
	return m.Format == "" && m.Placement == 0 && m.EventDate == "" && m.Archetype == "" &&
		m.TournamentType == "" && m.TournamentSize == 0 && m.TournamentID == "" &&
		m.Location == "" && m.Region == "" && m.DaysSinceRotation == nil &&
		m.DaysSinceBanUpdate == nil && m.MetaShare == nil && len(m.RoundResults) == 0
}

// MetadataCache holds deck metadata registered ahead of ingestion, keyed by deck id.
type MetadataCache interface {
	Get(ctx context.Context, deckID string) (DeckMetadata, bool, error)
	Put(ctx context.Context, deckID string, meta DeckMetadata) error
}

type MemoryCache struct {
	mu    sync.RWMutex
	items map[string]DeckMetadata
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{items: map[string]DeckMetadata{}}
}

func (c *MemoryCache) Get(ctx context.Context, deckID string) (DeckMetadata, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.items[deckID]
	return m, ok, nil
}

func (c *MemoryCache) Put(ctx context.Context, deckID string, meta DeckMetadata) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[deckID] = meta
	return nil
}

func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}
