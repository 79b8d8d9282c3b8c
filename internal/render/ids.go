package render

import (
	"sync"

	"github.com/google/uuid"
)

// IDGenerator issues operation ids for requests that arrive without one.
type IDGenerator interface {
	Generate() string
}

// UUIDv7Generator issues time-ordered UUIDv7 ids, so journal rows sort by
// submission time.
type UUIDv7Generator struct{}

func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// FixedGenerator hands out a predetermined sequence of ids and panics once
// it runs out. Safe for concurrent use.
type FixedGenerator struct {
	mu  sync.Mutex
	ids []string
	idx int
}

func NewFixedGenerator(ids ...string) *FixedGenerator {
	return &FixedGenerator{ids: ids}
}

func (g *FixedGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.idx >= len(g.ids) {
		panic("render: FixedGenerator exhausted")
	}
	id := g.ids[g.idx]
	g.idx++
	return id
}
