package transfer

import (
	"slices"
	"sync"
	"sync/atomic"
)

// LoadBalancer tracks the number of in-flight chunks per client id.
// Safe for concurrent use. Counters are created lazily on first Increment
// and never removed.
type LoadBalancer struct {
	loads sync.Map // int -> *atomic.Int64
}

// NewLoadBalancer creates an empty LoadBalancer.
func NewLoadBalancer() *LoadBalancer {
	return &LoadBalancer{}
}

func (b *LoadBalancer) counter(id int) *atomic.Int64 {
	if c, ok := b.loads.Load(id); ok {
		return c.(*atomic.Int64)
	}
	c, _ := b.loads.LoadOrStore(id, new(atomic.Int64))
	return c.(*atomic.Int64)
}

// Increment records one more in-flight chunk on the client.
func (b *LoadBalancer) Increment(id int) {
	b.counter(id).Add(1)
}

// Decrement records a finished chunk on the client. It floors at zero and
// is a no-op for ids that were never incremented.
func (b *LoadBalancer) Decrement(id int) {
	v, ok := b.loads.Load(id)
	if !ok {
		return
	}
	c := v.(*atomic.Int64)
	for {
		cur := c.Load()
		if cur <= 0 {
			return
		}
		if c.CompareAndSwap(cur, cur-1) {
			return
		}
	}
}

// Load returns the current in-flight count for the client.
func (b *LoadBalancer) Load(id int) int64 {
	if v, ok := b.loads.Load(id); ok {
		return v.(*atomic.Int64).Load()
	}
	return 0
}

// Snapshot returns a copy of all known counters.
func (b *LoadBalancer) Snapshot() map[int]int64 {
	out := make(map[int]int64)
	b.loads.Range(func(k, v any) bool {
		out[k.(int)] = v.(*atomic.Int64).Load()
		return true
	})
	return out
}

// SelectClient returns the least-loaded client; ties go to the lowest id.
func (b *LoadBalancer) SelectClient(clients []Handle) (Handle, error) {
	if len(clients) == 0 {
		return Handle{}, ErrNoClients
	}
	best := clients[0]
	bestLoad := b.Load(best.ID)
	for _, h := range clients[1:] {
		load := b.Load(h.ID)
		if load < bestLoad || (load == bestLoad && h.ID < best.ID) {
			best, bestLoad = h, load
		}
	}
	return best, nil
}

// Rank returns a copy of clients ordered by (load, id). The first element
// is what SelectClient would return.
func (b *LoadBalancer) Rank(clients []Handle) []Handle {
	ranked := slices.Clone(clients)
	loads := make(map[int]int64, len(ranked))
	for _, h := range ranked {
		loads[h.ID] = b.Load(h.ID)
	}
	slices.SortStableFunc(ranked, func(a, c Handle) int {
		if loads[a.ID] != loads[c.ID] {
			if loads[a.ID] < loads[c.ID] {
				return -1
			}
			return 1
		}
		return a.ID - c.ID
	})
	return ranked
}
