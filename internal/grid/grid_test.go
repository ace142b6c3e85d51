package grid

import (
	"errors"
	"testing"
)

func TestPartitionBandsCoverGlobalRows(t *testing.T) {
	cases := []struct {
		rows, size int
	}{
		{rows: 10, size: 1},
		{rows: 10, size: 2},
		{rows: 10, size: 5},
		{rows: 64, size: 8},
	}
	for _, tc := range cases {
		covered := make([]bool, tc.rows)
		prevEnd := -1
		for rank := 0; rank < tc.size; rank++ {
			p, err := NewPartition(tc.rows, 4, rank, tc.size)
			if err != nil {
				t.Fatalf("rows=%d size=%d rank=%d: %v", tc.rows, tc.size, rank, err)
			}
			if p.RowStart() != prevEnd+1 {
				t.Fatalf("rows=%d size=%d rank=%d: band starts at %d, want %d",
					tc.rows, tc.size, rank, p.RowStart(), prevEnd+1)
			}
			for g := p.RowStart(); g <= p.RowEnd(); g++ {
				if covered[g] {
					t.Fatalf("rows=%d size=%d: global row %d owned twice", tc.rows, tc.size, g)
				}
				covered[g] = true
			}
			prevEnd = p.RowEnd()
		}
		if prevEnd != tc.rows-1 {
			t.Fatalf("rows=%d size=%d: last band ends at %d", tc.rows, tc.size, prevEnd)
		}
	}
}

func TestPartitionRejectsUnevenDivision(t *testing.T) {
	if _, err := NewPartition(10, 4, 0, 3); !errors.Is(err, ErrRowsNotDivisible) {
		t.Fatalf("expected ErrRowsNotDivisible, got %v", err)
	}
	if _, err := NewPartition(0, 4, 0, 1); !errors.Is(err, ErrBadGeometry) {
		t.Fatalf("expected ErrBadGeometry, got %v", err)
	}
	if _, err := NewPartition(8, 4, 4, 4); !errors.Is(err, ErrRankOutOfRange) {
		t.Fatalf("expected ErrRankOutOfRange, got %v", err)
	}
}

func TestLocalGlobalTranslation(t *testing.T) {
	p, err := NewPartition(12, 6, 1, 3)
	if err != nil {
		t.Fatalf("new partition: %v", err)
	}
	// Rank 1 of 3 over 12 rows owns global rows 4..7.
	if p.RowStart() != 4 || p.RowEnd() != 7 {
		t.Fatalf("unexpected band: %d..%d", p.RowStart(), p.RowEnd())
	}
	if local, ok := p.LocalRow(4); !ok || local != 1 {
		t.Fatalf("LocalRow(4) = %d,%v", local, ok)
	}
	if local, ok := p.LocalRow(7); !ok || local != p.Chunk() {
		t.Fatalf("LocalRow(7) = %d,%v", local, ok)
	}
	if _, ok := p.LocalRow(3); ok {
		t.Fatalf("LocalRow(3) should not resolve for rank 1")
	}
	if _, ok := p.LocalRow(8); ok {
		t.Fatalf("LocalRow(8) should not resolve for rank 1")
	}
	for local := 1; local <= p.Chunk(); local++ {
		g := p.GlobalRow(local)
		back, ok := p.LocalRow(g)
		if !ok || back != local {
			t.Fatalf("round trip local=%d global=%d back=%d ok=%v", local, g, back, ok)
		}
	}
}

func TestRowViewsShareStorage(t *testing.T) {
	p, err := NewPartition(4, 5, 0, 2)
	if err != nil {
		t.Fatalf("new partition: %v", err)
	}
	p.Set(1, 2, 7.5)
	if p.TopBoundary()[2] != 7.5 {
		t.Fatalf("TopBoundary not aliased to row 1")
	}
	p.BottomHalo()[4] = 3.25
	if p.At(p.Chunk()+1, 4) != 3.25 {
		t.Fatalf("BottomHalo not aliased to row chunk+1")
	}
	band := p.Band()
	if len(band) != p.Chunk()*p.Cols() {
		t.Fatalf("band length %d, want %d", len(band), p.Chunk()*p.Cols())
	}
	if band[2] != 7.5 {
		t.Fatalf("band does not alias owned rows")
	}
}

func TestBuffersSwap(t *testing.T) {
	b, err := NewBuffers(4, 4, 0, 1)
	if err != nil {
		t.Fatalf("new buffers: %v", err)
	}
	cur, next := b.Cur, b.Next
	b.Swap()
	if b.Cur != next || b.Next != cur {
		t.Fatalf("swap did not exchange ownership")
	}
}

func TestOutOfRangeLocalRowPanics(t *testing.T) {
	p, err := NewPartition(4, 4, 0, 1)
	if err != nil {
		t.Fatalf("new partition: %v", err)
	}
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic for local row beyond halo")
		}
	}()
	p.At(p.Chunk()+2, 0)
}
