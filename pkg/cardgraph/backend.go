package cardgraph

import "context"

// Backend persists a whole Graph. Save replaces everything previously stored;
// Load returns an empty Graph when nothing has been saved yet.
type Backend interface {
	Load(ctx context.Context) (*Graph, error)
	Save(ctx context.Context, g *Graph) error
	Close() error
}
