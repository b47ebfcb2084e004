package record

import (
	"sync/atomic"
	"time"
)

// Generator hands out record ids: the current unix time in milliseconds times
// 1000 plus a counter that only ever grows. Ids of one generator are unique
// and increase over time.
type Generator struct {
	counter atomic.Int64
	now     func() time.Time
}

func NewGenerator() *Generator {
	return &Generator{now: time.Now}
}

// Next returns a new id.
func (g *Generator) Next() ID {
	return ID(g.now().UnixMilli()*1000 + g.counter.Add(1) - 1)
}
