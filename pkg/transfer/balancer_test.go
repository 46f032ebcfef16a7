package transfer

import (
	"errors"
	"sync"
	"testing"
)

func TestSelectClientLeastLoaded(t *testing.T) {
	b := NewLoadBalancer()
	clients := []Handle{{ID: 3}, {ID: 1}, {ID: 2}}

	b.Increment(1)
	b.Increment(1)
	b.Increment(3)

	h, err := b.SelectClient(clients)
	if err != nil {
		t.Fatalf("SelectClient: %v", err)
	}
	if h.ID != 2 {
		t.Errorf("expected client 2, got %d", h.ID)
	}
}

func TestSelectClientTieLowestID(t *testing.T) {
	b := NewLoadBalancer()
	clients := []Handle{{ID: 7}, {ID: 4}, {ID: 5}}

	h, err := b.SelectClient(clients)
	if err != nil {
		t.Fatalf("SelectClient: %v", err)
	}
	if h.ID != 4 {
		t.Errorf("expected client 4, got %d", h.ID)
	}
}

func TestSelectClientEmpty(t *testing.T) {
	_, err := NewLoadBalancer().SelectClient(nil)
	if !errors.Is(err, ErrNoClients) {
		t.Errorf("expected ErrNoClients, got %v", err)
	}
}

func TestDecrementFloorsAtZero(t *testing.T) {
	b := NewLoadBalancer()

	b.Decrement(9) // unknown id
	if _, ok := b.Snapshot()[9]; ok {
		t.Error("decrement of unknown id created a counter")
	}

	b.Increment(1)
	b.Decrement(1)
	b.Decrement(1)
	if got := b.Load(1); got != 0 {
		t.Errorf("expected load 0, got %d", got)
	}
}

func TestRankOrdersByLoadThenID(t *testing.T) {
	b := NewLoadBalancer()
	clients := []Handle{{ID: 0}, {ID: 1}, {ID: 2}, {ID: 3}}

	b.Increment(0)
	b.Increment(0)
	b.Increment(2)

	ranked := b.Rank(clients)
	want := []int{1, 3, 2, 0}
	for i, h := range ranked {
		if h.ID != want[i] {
			t.Errorf("rank %d: client %d, want %d", i, h.ID, want[i])
		}
	}
	if clients[0].ID != 0 {
		t.Error("Rank modified its input")
	}
}

func TestConcurrentIncrementDecrement(t *testing.T) {
	b := NewLoadBalancer()

	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				b.Increment(id)
				b.Decrement(id)
			}
		}(i % 4)
	}
	wg.Wait()

	assertBaseline(t, b)
}
