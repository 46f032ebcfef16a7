package transfer

import "fmt"

// DefaultUnitSize is the smallest range worth splitting across clients.
const DefaultUnitSize = 1024 * 1024

// DefaultMaxWorkers caps the number of concurrent chunk fetches per session.
const DefaultMaxWorkers = 8

// ChunkDescriptor is one contiguous slice of a requested range bound to a
// client. Start and End are inclusive byte offsets; a zero-length chunk has
// End == Start-1.
type ChunkDescriptor struct {
	Index    int
	Start    int64
	End      int64
	ClientID int
	Client   Client
}

// Size returns the number of bytes covered by the chunk.
func (d ChunkDescriptor) Size() int64 {
	return d.End - d.Start + 1
}

// Plan is an ordered partition of [RangeStart, RangeStart+Total).
type Plan struct {
	RangeStart int64
	Total      int64
	Chunks     []ChunkDescriptor
}

// Planner splits byte ranges into chunks.
type Planner struct {
	// UnitSize is the chunking threshold and alignment. Ranges smaller than
	// one unit are never split.
	UnitSize int64
}

// Plan partitions total bytes starting at rangeStart across clients.
//
// The chunk count is at most min(maxWorkers, len(clients), ceil(total/UnitSize)),
// and 1 whenever total < UnitSize. Chunks are UnitSize-aligned and the last
// one holds the remainder. Chunk i is assigned clients[i mod len(clients)].
func (p Planner) Plan(total, rangeStart int64, maxWorkers int, clients []Handle) (Plan, error) {
	if len(clients) == 0 {
		return Plan{}, ErrNoClients
	}
	if total < 0 || rangeStart < 0 {
		return Plan{}, fmt.Errorf("%w: start %d, length %d", ErrInvalidRange, rangeStart, total)
	}

	plan := Plan{RangeStart: rangeStart, Total: total}

	if total == 0 {
		plan.Chunks = []ChunkDescriptor{{
			Index:    0,
			Start:    rangeStart,
			End:      rangeStart - 1,
			ClientID: clients[0].ID,
			Client:   clients[0].Client,
		}}
		return plan, nil
	}

	unit := p.UnitSize
	if unit <= 0 {
		unit = DefaultUnitSize
	}
	if maxWorkers < 1 {
		maxWorkers = 1
	}

	n := int64(min(maxWorkers, len(clients)))
	n = min(n, ceilDiv(total, unit))
	if total < unit {
		n = 1
	}

	partSize := ceilDiv(ceilDiv(total, n), unit) * unit
	end := rangeStart + total - 1

	for i, start := 0, rangeStart; start <= end; i++ {
		chunkEnd := min(start+partSize-1, end)
		h := clients[i%len(clients)]
		plan.Chunks = append(plan.Chunks, ChunkDescriptor{
			Index:    i,
			Start:    start,
			End:      chunkEnd,
			ClientID: h.ID,
			Client:   h.Client,
		})
		start = chunkEnd + 1
	}

	return plan, nil
}

func ceilDiv(a, b int64) int64 {
	return (a + b - 1) / b
}
