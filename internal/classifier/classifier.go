// Package classifier resolves which game a card belongs to.
package classifier

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/arclabs561/decksage-sub002/pkg/cardgraph"
)

var gameCodes = map[string]string{
	"magic":     "MTG",
	"mtg":       "MTG",
	"pokemon":   "PKM",
	"pokémon":   "PKM",
	"pkm":       "PKM",
	"yugioh":    "YGO",
	"yu-gi-oh":  "YGO",
	"ygo":       "YGO",
	"digimon":   "DIG",
	"dig":       "DIG",
	"onepiece":  "OP",
	"one piece": "OP",
	"op":        "OP",
	"riftbound": "RFT",
	"rft":       "RFT",
}

// NormalizeGame maps a game name or code to its canonical code, or "" when
// the game is not recognized.
func NormalizeGame(s string) string {
	return gameCodes[strings.ToLower(strings.TrimSpace(s))]
}

// Table is a classifier backed by a fixed card name to game table.
type Table struct {
	exact  map[string]string
	folded map[string]string
}

var _ cardgraph.Classifier = (*Table)(nil)

// NewTable builds a table; game values may be names or codes and
// unrecognized games are skipped.
func NewTable(cards map[string]string) *Table {
	t := &Table{
		exact:  make(map[string]string, len(cards)),
		folded: make(map[string]string, len(cards)),
	}
	for name, game := range cards {
		t.add(name, game)
	}
	return t
}

func (t *Table) add(name, game string) {
	code := NormalizeGame(game)
	if name == "" || code == "" {
		return
	}
	t.exact[name] = code
	key := fold(name)
	if _, ok := t.folded[key]; !ok {
		t.folded[key] = code
	}
}

func (t *Table) Len() int {
	return len(t.exact)
}

// Game returns the game of a card. With fuzzy set it also matches ignoring
// case and spacing, and matches a split card "A // B" by its front face.
func (t *Table) Game(ctx context.Context, name string, fuzzy bool) (string, error) {
	if game, ok := t.exact[name]; ok {
		return game, nil
	}
	if !fuzzy {
		return "", nil
	}

	if game, ok := t.folded[fold(name)]; ok {
		return game, nil
	}
	if front, _, ok := strings.Cut(name, "//"); ok {
		if game, ok := t.folded[fold(front)]; ok {
			return game, nil
		}
	}
	return "", nil
}

func fold(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}

// LoadFile reads a table from a JSON object {"card": "game"} or a CSV file
// with name and game columns.
func LoadFile(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		var cards map[string]string
		if err := json.NewDecoder(f).Decode(&cards); err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
		return NewTable(cards), nil
	case ".csv":
		return readCSV(f)
	default:
		return nil, fmt.Errorf("unsupported classifier file %s", path)
	}
}

func readCSV(r io.Reader) (*Table, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	nameCol, gameCol := -1, -1
	for i, h := range header {
		switch strings.ToLower(strings.TrimSpace(h)) {
		case "name", "card", "card_name":
			nameCol = i
		case "game":
			gameCol = i
		}
	}
	if nameCol < 0 || gameCol < 0 {
		return nil, errors.New("csv needs name and game columns")
	}

	t := NewTable(nil)
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if nameCol >= len(rec) || gameCol >= len(rec) {
			continue
		}
		t.add(strings.TrimSpace(rec[nameCol]), rec[gameCol])
	}
	return t, nil
}
