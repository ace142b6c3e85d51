// Package stencil applies the 5-point averaging relaxation to one worker's
// grid partition.
package stencil

import "github.com/danmuck/emberctl/internal/grid"

// Step computes one relaxation sub-step for the owned band: every interior
// cell of b.Next becomes the mean of its four axis-neighbors read from b.Cur,
// with halo rows standing in for the neighbors' boundary rows. Global border
// rows and columns are fixed and carried over unchanged. The return value is
// the worker's local residual, the maximum absolute change across its updated
// cells. The caller swaps the buffers once every rank finished the sub-step.
func Step(b *grid.Buffers) float32 {
	cur, next := b.Cur, b.Next
	cols := cur.Cols()
	rows := cur.Rows()

	var residual float32
	for local := 1; local <= cur.Chunk(); local++ {
		src := cur.Row(local)
		dst := next.Row(local)
		global := cur.GlobalRow(local)
		if global == 0 || global == rows-1 {
			copy(dst, src)
			continue
		}
		above := cur.Row(local - 1)
		below := cur.Row(local + 1)
		dst[0] = src[0]
		dst[cols-1] = src[cols-1]
		for j := 1; j < cols-1; j++ {
			v := (above[j] + below[j] + src[j-1] + src[j+1]) / 4
			dst[j] = v
			diff := v - src[j]
			if diff < 0 {
				diff = -diff
			}
			if diff > residual {
				residual = diff
			}
		}
	}
	return residual
}
