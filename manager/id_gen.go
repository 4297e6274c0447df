package manager

import (
	"sync/atomic"
)

// DefaultTransactionIDLimit is the largest id given to raw and ASCII transactions.
const DefaultTransactionIDLimit = 0xFFFF

// idGenerator generates transaction ids in [1, limit], wrapping around after
// limit. Zero is never generated: a zero Transaction.ID asks for a new id.
//
// The generated ids are unique only while fewer than limit transactions are
// in flight.
type idGenerator struct {
	id    atomic.Uint32
	limit uint32
}

func newIDGenerator(limit uint32) *idGenerator {
	if limit == 0 {
		limit = DefaultTransactionIDLimit
	}

	return &idGenerator{limit: limit}
}

// next returns the next id.
func (g *idGenerator) next() int {
	for {
		cur := g.id.Load()
		id := cur + 1
		if id > g.limit {
			id = 1
		}
		if g.id.CompareAndSwap(cur, id) {
			return int(id)
		}
	}
}

// use records a caller supplied id as the last generated one.
func (g *idGenerator) use(id int) {
	g.id.Store(uint32(id))
}

// current returns the last generated or used id.
func (g *idGenerator) current() int {
	return int(g.id.Load())
}

// validID reports if id fits the id space.
func (g *idGenerator) validID(id int) bool {
	return id >= 1 && int64(id) <= int64(g.limit)
}
