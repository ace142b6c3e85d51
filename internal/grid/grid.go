package grid

import (
	"errors"
	"fmt"
)

var (
	ErrBadGeometry      = errors.New("grid: rows, columns and workers must be positive")
	ErrRowsNotDivisible = errors.New("grid: row count not divisible by worker count")
	ErrRankOutOfRange   = errors.New("grid: rank outside worker group")
)

// Partition is one worker's contiguous band of global rows plus one halo row
// of storage on each side. Local row 0 is the top halo, rows 1..chunk are
// owned, row chunk+1 is the bottom halo. Halo rows are cached copies of the
// neighbor's boundary row, never authoritative.
type Partition struct {
	rows  int // global row count
	cols  int
	rank  int
	size  int
	chunk int // owned rows

	rowStart int // first owned global row
	rowEnd   int // last owned global row

	cells []float32 // (chunk+2) x cols, row-major
}

// NewPartition derives rank's band from the global geometry. The global row
// count must divide evenly across the worker group.
func NewPartition(rows, cols, rank, size int) (*Partition, error) {
	if rows <= 0 || cols <= 0 || size <= 0 {
		return nil, fmt.Errorf("%w: rows=%d cols=%d workers=%d", ErrBadGeometry, rows, cols, size)
	}
	if rank < 0 || rank >= size {
		return nil, fmt.Errorf("%w: rank=%d workers=%d", ErrRankOutOfRange, rank, size)
	}
	if rows%size != 0 {
		return nil, fmt.Errorf("%w: rows=%d workers=%d", ErrRowsNotDivisible, rows, size)
	}
	chunk := rows / size
	return &Partition{
		rows:     rows,
		cols:     cols,
		rank:     rank,
		size:     size,
		chunk:    chunk,
		rowStart: rank * chunk,
		rowEnd:   rank*chunk + chunk - 1,
		cells:    make([]float32, (chunk+2)*cols),
	}, nil
}

func (p *Partition) Rows() int     { return p.rows }
func (p *Partition) Cols() int     { return p.cols }
func (p *Partition) Rank() int     { return p.rank }
func (p *Partition) Chunk() int    { return p.chunk }
func (p *Partition) RowStart() int { return p.rowStart }
func (p *Partition) RowEnd() int   { return p.rowEnd }

// HasTopNeighbor reports whether a worker owns the band above this one.
func (p *Partition) HasTopNeighbor() bool { return p.rank > 0 }

// HasBottomNeighbor reports whether a worker owns the band below this one.
func (p *Partition) HasBottomNeighbor() bool { return p.rank < p.size-1 }

func (p *Partition) checkLocal(local int) {
	if local < 0 || local > p.chunk+1 {
		panic(fmt.Sprintf("grid: local row %d outside 0..%d", local, p.chunk+1))
	}
}

// At reads the cell at a local row index. Column bounds are the caller's
// contract; a local row outside 0..chunk+1 is a programming error.
func (p *Partition) At(local, col int) float32 {
	p.checkLocal(local)
	return p.cells[local*p.cols+col]
}

func (p *Partition) Set(local, col int, v float32) {
	p.checkLocal(local)
	p.cells[local*p.cols+col] = v
}

// Row returns the backing slice for one local row, halos included.
func (p *Partition) Row(local int) []float32 {
	p.checkLocal(local)
	return p.cells[local*p.cols : (local+1)*p.cols]
}

// TopHalo is the cached copy of the upper neighbor's boundary row.
func (p *Partition) TopHalo() []float32 { return p.Row(0) }

// BottomHalo is the cached copy of the lower neighbor's boundary row.
func (p *Partition) BottomHalo() []float32 { return p.Row(p.chunk + 1) }

// TopBoundary is the first owned row, the one sent to the upper neighbor.
func (p *Partition) TopBoundary() []float32 { return p.Row(1) }

// BottomBoundary is the last owned row, the one sent to the lower neighbor.
func (p *Partition) BottomBoundary() []float32 { return p.Row(p.chunk) }

// OwnsGlobalRow reports whether the global row falls inside the owned band.
func (p *Partition) OwnsGlobalRow(global int) bool {
	return global >= p.rowStart && global <= p.rowEnd
}

// LocalRow translates a global row index to a local one. The translation is
// only valid for owned rows; ok is false otherwise.
func (p *Partition) LocalRow(global int) (int, bool) {
	if !p.OwnsGlobalRow(global) {
		return 0, false
	}
	return global - p.rowStart + 1, true
}

// GlobalRow translates an owned local row index back to its global index.
func (p *Partition) GlobalRow(local int) int {
	if local < 1 || local > p.chunk {
		panic(fmt.Sprintf("grid: local row %d is not an owned row", local))
	}
	return p.rowStart + local - 1
}

// Band returns the owned rows as one contiguous slice, halos excluded.
func (p *Partition) Band() []float32 {
	return p.cells[p.cols : (p.chunk+1)*p.cols]
}

// CopyFrom snapshots every cell of src, halos included. Both partitions must
// share a geometry.
func (p *Partition) CopyFrom(src *Partition) {
	if p.chunk != src.chunk || p.cols != src.cols {
		panic("grid: copy between mismatched partitions")
	}
	copy(p.cells, src.cells)
}

// Buffers is the current/next double-buffer pair for the relaxation update.
// Within one sub-step the update reads Cur and writes Next only; ownership of
// the two partitions alternates on Swap, so read and write storage never
// alias.
type Buffers struct {
	Cur  *Partition // authoritative surface
	Next *Partition // destination of the in-flight update
}

// NewBuffers allocates the pair for one rank.
func NewBuffers(rows, cols, rank, size int) (*Buffers, error) {
	cur, err := NewPartition(rows, cols, rank, size)
	if err != nil {
		return nil, err
	}
	next, err := NewPartition(rows, cols, rank, size)
	if err != nil {
		return nil, err
	}
	return &Buffers{Cur: cur, Next: next}, nil
}

// Swap hands ownership of the freshly written buffer over as the current
// surface.
func (b *Buffers) Swap() {
	b.Cur, b.Next = b.Next, b.Cur
}
