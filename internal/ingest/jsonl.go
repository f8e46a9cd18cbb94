package ingest

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/arclabs561/decksage-sub002/internal/logger"
	"github.com/arclabs561/decksage-sub002/internal/metrics"
)

const maxLineSize = 16 << 20

// ReadJSONL decodes one deck per line. Blank lines are ignored and lines that
// fail to decode are counted in skipped. Decks without an id get a generated one.
func ReadJSONL(ctx context.Context, r io.Reader) (decks []Deck, skipped int, err error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	line := 0
	for sc.Scan() {
		line++
		if line%1000 == 0 {
			if err := ctx.Err(); err != nil {
				return decks, skipped, err
			}
		}

		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}

		var d Deck
		if err := json.Unmarshal([]byte(text), &d); err != nil {
			logger.Debug("skipping malformed deck line", "line", line, "error", err)
			metrics.DeckSkipped("malformed")
			skipped++
			continue
		}
		ensureID(&d)
		decks = append(decks, d)
	}
	if err := sc.Err(); err != nil {
		return decks, skipped, fmt.Errorf("scan line %d: %w", line+1, err)
	}
	return decks, skipped, nil
}

// IngestReader reads decks from r, registers the metadata found in each
// document and adds the decks to the graph.
func (in *Ingester) IngestReader(ctx context.Context, r io.Reader) (Summary, error) {
	decks, skipped, err := ReadJSONL(ctx, r)
	if err != nil {
		return Summary{Skipped: skipped}, err
	}

	for _, d := range decks {
		if d.Meta.IsEmpty() {
			continue
		}
		if err := in.cache.Put(ctx, d.ID, d.Meta); err != nil {
			return Summary{Skipped: skipped}, fmt.Errorf("cache metadata for %s: %w", d.ID, err)
		}
	}

	sum, err := in.Ingest(ctx, decks)
	sum.Skipped += skipped
	return sum, err
}

func (in *Ingester) IngestFile(ctx context.Context, path string) (Summary, error) {
	f, err := os.Open(path)
	if err != nil {
		return Summary{}, err
	}
	defer f.Close()

	sum, err := in.IngestReader(ctx, f)
	if err != nil {
		return sum, fmt.Errorf("ingest %s: %w", path, err)
	}
	logger.Info("ingested deck file", "path", path, "added", sum.Added, "skipped", sum.Skipped,
		"edges_created", sum.EdgesCreated, "edges_updated", sum.EdgesUpdated)
	return sum, nil
}
